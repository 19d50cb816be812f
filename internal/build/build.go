// Package build holds build-time metadata injected via ldflags.
package build

var (
	// AppName is the name of the service binary.
	AppName = "worldsyncd"

	// Version is the semantic version of the build, set at link time.
	Version = "0.0.0"
)
