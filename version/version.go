// Package version holds the module's build-time identity: the import path,
// release version, and VCS revision a binary was built from.
package version

// mainpkg is the canonical import path this module is built under.
var mainpkg = "github.com/ocireg/registry"

// version is the registry's release version. Overwritten at build time via
// -ldflags; this default applies to a `go install`-based build.
var version = "v1.0.0+unknown"

// revision is the VCS revision the binary was built from, filled in at
// build time via -ldflags.
var revision = ""
