package health

import (
	"fmt"
	"os"
	"runtime"
	"runtime/debug"
	"time"
)

type BuildInfo struct {
	Revision  string
	Modified  bool
	BuildTime time.Time
	GoVersion string
	Platform  string
}

// ReadBuildInfo prefers BUILD_COMMIT/BUILD_TIME from the environment and
// falls back to the VCS stamps the Go toolchain embeds.
func ReadBuildInfo() BuildInfo {
	info := BuildInfo{
		Revision:  os.Getenv("BUILD_COMMIT"),
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}

	if raw := os.Getenv("BUILD_TIME"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			info.BuildTime = t
		}
	}

	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if info.Revision == "" {
					info.Revision = s.Value
				}
			case "vcs.time":
				if info.BuildTime.IsZero() {
					if t, err := time.Parse(time.RFC3339, s.Value); err == nil {
						info.BuildTime = t
					}
				}
			case "vcs.modified":
				info.Modified = s.Value == "true"
			}
		}
	}

	if info.Revision == "" {
		info.Revision = "unknown"
	}

	return info
}

func (b BuildInfo) String() string {
	rev := b.Revision
	if len(rev) > 7 {
		rev = rev[:7]
	}
	if b.Modified {
		rev += "-dirty"
	}

	built := "unknown"
	if !b.BuildTime.IsZero() {
		built = b.BuildTime.Format("2006-01-02")
	}

	return fmt.Sprintf("%s (%s, %s %s)", rev, built, b.GoVersion, b.Platform)
}
