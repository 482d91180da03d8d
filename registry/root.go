package registry

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ocireg/registry/configuration"
	"github.com/ocireg/registry/internal/dcontext"
	_ "github.com/ocireg/registry/manifest/imageindex"
	_ "github.com/ocireg/registry/manifest/manifestlist"
	_ "github.com/ocireg/registry/manifest/ocischema"
	_ "github.com/ocireg/registry/manifest/schema2"
	"github.com/ocireg/registry/registry/storage"
	"github.com/ocireg/registry/registry/storage/cache"
	_ "github.com/ocireg/registry/registry/storage/cache/memory"
	"github.com/ocireg/registry/registry/storage/cache/provider"
	_ "github.com/ocireg/registry/registry/storage/cache/redis"
	"github.com/ocireg/registry/registry/storage/driver/factory"
	"github.com/ocireg/registry/version"
)

var showVersion bool

func init() {
	RootCmd.AddCommand(ServeCmd)
	RootCmd.AddCommand(GCCmd)
	GCCmd.Flags().BoolVarP(&dryRun, "dry-run", "d", false, "do everything except remove the blobs")
	GCCmd.Flags().DurationVarP(&minAge, "min-age", "a", 0, "skip blobs unreferenced for less than this duration")
	RootCmd.Flags().BoolVarP(&showVersion, "version", "v", false, "show the version and exit")
}

// RootCmd is the main command for the `registry` binary.
var RootCmd = &cobra.Command{
	Use:   "registry",
	Short: "`registry`",
	Long:  "`registry`",
	Run: func(cmd *cobra.Command, args []string) {
		if showVersion {
			version.PrintVersion()
			return
		}
		cmd.Usage()
	},
}

var (
	dryRun bool
	minAge time.Duration
)

// getGCCacheProvider resolves the blob descriptor cache backend for the
// storage.Registry garbage collection runs against, from the same
// storage.cache configuration section the serving path reads. Mark and
// sweep read the storage driver directly and do not consult the cache.
// Returns a nil provider (and nil error) when no cache backend is
// configured.
func getGCCacheProvider(ctx context.Context, config *configuration.Configuration) (cache.BlobDescriptorCacheProvider, error) {
	cc, ok := config.Storage["cache"]
	if !ok {
		return nil, nil
	}

	v, ok := cc["blobdescriptor"]
	if !ok {
		// Backwards compatible: "layerinfo" == "blobdescriptor".
		v = cc["layerinfo"]
	}

	name, ok := v.(string)
	if !ok || name == "" {
		return nil, nil
	}

	params := map[string]interface{}{}
	if name == "redis" {
		if len(config.Redis.Options.Addrs) == 0 {
			return nil, fmt.Errorf("redis cache configured but redis.addrs is empty")
		}
		params["addr"] = config.Redis.Options.Addrs[0]
		if config.Redis.Options.Password != "" {
			params["password"] = config.Redis.Options.Password
		}
		if config.Redis.Options.DB != 0 {
			params["db"] = config.Redis.Options.DB
		}
	}

	return provider.Get(ctx, name, params)
}

// GCCmd is the cobra command that corresponds to the garbage-collect
// subcommand: spec 4.8's mark-and-sweep pass, run as a one-shot batch job
// rather than an HTTP-triggered operation.
var GCCmd = &cobra.Command{
	Use:   "garbage-collect <config>",
	Short: "`garbage-collect` deletes blobs not referenced by any manifest",
	Long:  "`garbage-collect` deletes blobs not referenced by any manifest",
	Run: func(cmd *cobra.Command, args []string) {
		config, err := resolveConfiguration(args)
		if err != nil {
			fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
			cmd.Usage()
			os.Exit(1)
		}

		ctx := dcontext.Background()
		ctx, err = configureLogging(ctx, config)
		if err != nil {
			fmt.Fprintf(os.Stderr, "unable to configure logging with config: %s", err)
			os.Exit(1)
		}

		driver, err := factory.Create(ctx, config.Storage.Type(), config.Storage.Parameters())
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to construct %s driver: %v", config.Storage.Type(), err)
			os.Exit(1)
		}

		cacheProvider, err := getGCCacheProvider(ctx, config)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to get cache provider: %v", err)
			os.Exit(1)
		}
		if cacheProvider == nil {
			cacheProvider, err = provider.Get(ctx, "inmemory", nil)
			if err != nil {
				fmt.Fprintf(os.Stderr, "failed to construct cache provider: %v", err)
				os.Exit(1)
			}
		}

		registry := storage.NewRegistry(driver, cacheProvider, config.Catalog, config.Upload.Timeout)

		age := minAge
		if !cmd.Flags().Changed("min-age") {
			age = config.GC.MinAge
		}

		report, err := registry.GarbageCollect(ctx, storage.GCOptions{
			DryRun: dryRun,
			MinAge: age,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to garbage collect: %v", err)
			os.Exit(1)
		}

		fmt.Printf(
			"garbage collection complete: %d blobs scanned, %d referenced, %d orphaned, %d deleted (%d skipped: too new, %d skipped: active upload), %d bytes reclaimed, took %s\n",
			report.Total, report.Referenced, report.Orphaned, report.Deleted, report.SkippedTooNew, report.SkippedActiveUpload, report.BytesReclaimed, report.Duration,
		)
		for _, e := range report.Errors {
			fmt.Fprintf(os.Stderr, "error during garbage collection: %v\n", e)
		}
		if len(report.Errors) > 0 {
			os.Exit(1)
		}
	},
}
