// Package buildinfo carries build-time metadata, kept apart from user configuration.
package buildinfo

import "fmt"

// Set with -ldflags "-X github.com/glyphmap/tilesync/internal/buildinfo.version=..."
var (
	version   string
	buildDate string
)

// Context contains build-time metadata that is not user-configurable.
type Context struct {
	// Version holds the Git version tag from build
	Version string

	// BuildDate is the time when the binary was built
	BuildDate string
}

// Current returns the metadata linked into this binary.
func Current() *Context {
	return &Context{Version: version, BuildDate: buildDate}
}

// GetVersion returns the version, or "unknown" for development builds.
func (c *Context) GetVersion() string {
	if c == nil || c.Version == "" {
		return "unknown"
	}
	return c.Version
}

// GetBuildDate returns the build date, or "unknown" when not injected.
func (c *Context) GetBuildDate() string {
	if c == nil || c.BuildDate == "" {
		return "unknown"
	}
	return c.BuildDate
}

// Release is the identifier reported to Sentry.
func (c *Context) Release() string {
	return "tilesync@" + c.GetVersion()
}

func (c *Context) String() string {
	return fmt.Sprintf("tilesync %s (built %s)", c.GetVersion(), c.GetBuildDate())
}
