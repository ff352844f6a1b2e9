// Package appinfo reports the running build
package appinfo

import (
	"os"
	"runtime/debug"
)

// version is set with -ldflags "-X forumkarma/internal/appinfo.version=..."
var version string

// Version returns the build version. Order: linker flag, APP_VERSION,
// module version, VCS revision.
func Version() string {
	if version != "" {
		return version
	}
	if v := os.Getenv("APP_VERSION"); v != "" {
		return v
	}

	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "unknown"
	}
	if info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	for _, setting := range info.Settings {
		if setting.Key == "vcs.revision" && setting.Value != "" {
			return shortRevision(setting.Value)
		}
	}
	return "unknown"
}

// GoVersion returns the toolchain the binary was built with
func GoVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok {
		return info.GoVersion
	}
	return "unknown"
}

func shortRevision(rev string) string {
	if len(rev) > 12 {
		return rev[:12]
	}
	return rev
}
