// Package version carries the daemon's build identity.
package version

import (
	"runtime/debug"
	"time"
)

// Set at build time via ldflags:
//
//	go build -ldflags="-X github.com/kverner/dialdeck/internal/version.Version=v1.2.3 \
//	                   -X github.com/kverner/dialdeck/internal/version.Commit=abc123"
//
// Without ldflags, init fills both from the embedded VCS stamp.
var (
	Version = ""
	Commit  = ""
)

func init() {
	var revision, modified, stamp string
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				revision = s.Value
			case "vcs.modified":
				modified = s.Value
			case "vcs.time":
				stamp = s.Value
			}
		}
	}

	if Commit == "" && revision != "" {
		if len(revision) > 7 {
			revision = revision[:7]
		}
		Commit = revision
		if modified == "true" {
			Commit += "-dirty"
		}
	}
	if Commit == "" {
		Commit = "unknown"
	}

	// Module builds carry no tag, so a dev version is dated from the
	// commit, or from the clock when there is no VCS stamp at all.
	if Version == "" {
		if t, err := time.Parse(time.RFC3339, stamp); err == nil {
			Version = "dev-" + t.Format("20060102")
		} else {
			Version = "dev-" + time.Now().Format("20060102-150405")
		}
	}
}
