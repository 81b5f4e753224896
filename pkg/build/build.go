// Package build exposes build-time metadata embedded by the Go toolchain.
package build

import (
	"runtime/debug"
	"strconv"
)

// GitRevision retrieves the revision of the current build. If the build
// contains uncommitted changes the revision will be suffixed with "-dirty".
func GitRevision() string {
	var (
		revision string
		dirty    bool
	)

	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "unknown"
	}
	for _, i := range info.Settings {
		switch {
		case i.Key == "vcs.revision":
			revision = i.Value
		case i.Key == "vcs.modified":
			dirty, _ = strconv.ParseBool(i.Value)
		}
	}

	if len(revision) > 7 {
		revision = revision[:7]
	}
	if dirty {
		revision += "-dirty"
	}

	return revision
}
