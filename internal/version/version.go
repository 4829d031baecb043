package version

import "runtime/debug"

// Version is the release version, normally injected at build time via
// -ldflags. Without it, the module version embedded by go install is
// used when available.
var Version = "dev"

func init() {
	if Version != "dev" {
		return
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		Version = info.Main.Version
	}
}
