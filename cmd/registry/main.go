// Command registry runs the OCI Distribution registry server, and provides
// a garbage-collect subcommand for offline mark-and-sweep maintenance.
package main

import (
	_ "expvar"
	"fmt"
	_ "net/http/pprof"
	"os"

	"github.com/ocireg/registry/registry"
	_ "github.com/ocireg/registry/registry/storage/driver/azure"
	_ "github.com/ocireg/registry/registry/storage/driver/filesystem"
	_ "github.com/ocireg/registry/registry/storage/driver/inmemory"
	_ "github.com/ocireg/registry/registry/storage/driver/s3"
)

func main() {
	if err := registry.RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
