package version

import (
	"fmt"
	"io"
	"os"
)

// Package returns the canonical import path the running binary was built
// under.
func Package() string {
	return mainpkg
}

// Version returns the module version the running binary was built from.
func Version() string {
	return version
}

// Revision returns the VCS revision used to build the running binary.
func Revision() string {
	return revision
}

// FprintVersion writes "<cmd> <project> <version>" followed by a newline.
// For example, a binary "registry" built from github.com/ocireg/registry
// at version "v1.0.0" prints "registry github.com/ocireg/registry v1.0.0".
func FprintVersion(w io.Writer) {
	fmt.Fprintln(w, os.Args[0], Package(), Version())
}

// PrintVersion writes the version information to stdout.
func PrintVersion() {
	FprintVersion(os.Stdout)
}
