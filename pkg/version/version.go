// Package version reports what build of benchfill is running.
package version

import (
	"runtime"
	"runtime/debug"
)

// Version and Commit are stamped with -ldflags "-X" at release time.
var (
	Version = "dev"
	Commit  = "<unknown>"
)

// Info describes the running binary.
type Info struct {
	Version   string `json:"version"    yaml:"version"`
	Commit    string `json:"commit"     yaml:"commit"`
	GoVersion string `json:"go_version" yaml:"go_version"`
	Modified  bool   `json:"modified"   yaml:"modified"`
}

// Get returns the stamped version, falling back to VCS data recorded by the
// Go toolchain when the binary was not stamped.
func Get() Info {
	info := Info{Version: Version, Commit: Commit, GoVersion: runtime.Version()}

	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return info
	}

	if info.Version == "dev" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		info.Version = bi.Main.Version
	}

	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if info.Commit == "<unknown>" {
				info.Commit = s.Value
			}
		case "vcs.modified":
			info.Modified = s.Value == "true"
		}
	}

	return info
}

// String renders Info on one line.
func (i Info) String() string {
	s := i.Version + " (" + i.Commit
	if i.Modified {
		s += ", modified"
	}

	return s + ", " + i.GoVersion + ")"
}
