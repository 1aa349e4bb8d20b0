// Package version reports the gorel build and the SQL dialects it compiles for.
package version

import (
	"runtime"
	"runtime/debug"
	"strings"

	"github.com/satishbabariya/gorel/query/grammar"
)

// Overridden with -ldflags "-X github.com/satishbabariya/gorel/cli/internal/version.Version=...".
var (
	Version = "dev"
	Commit  = ""
	Date    = ""
)

// Build describes the running binary.
type Build struct {
	Version  string
	Commit   string
	Modified bool
	Date     string
	Go       string
	Platform string
	Dialects []grammar.Dialect
}

// Get merges the linker values with the module and VCS data embedded by the go tool.
func Get() Build {
	b := Build{
		Version:  Version,
		Commit:   Commit,
		Date:     Date,
		Go:       runtime.Version(),
		Platform: runtime.GOOS + "/" + runtime.GOARCH,
		Dialects: []grammar.Dialect{grammar.MySQL, grammar.Postgres, grammar.SQLite},
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		b.fill(info)
	}
	return b
}

func (b *Build) fill(info *debug.BuildInfo) {
	if b.Version == "dev" && info.Main.Version != "" && info.Main.Version != "(devel)" {
		b.Version = strings.TrimPrefix(info.Main.Version, "v")
	}
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			if b.Commit == "" {
				b.Commit = s.Value
			}
		case "vcs.time":
			if b.Date == "" {
				b.Date = s.Value
			}
		case "vcs.modified":
			b.Modified = s.Value == "true"
		}
	}
}

// ShortCommit is the first 12 characters of the commit, suffixed with -dirty for
// modified trees.
func (b Build) ShortCommit() string {
	c := b.Commit
	if c == "" {
		return "unknown"
	}
	if len(c) > 12 {
		c = c[:12]
	}
	if b.Modified {
		c += "-dirty"
	}
	return c
}

func (b Build) String() string {
	return "gorel version " + b.Version + " (" + b.ShortCommit() + ", " + b.Platform + ")"
}

// Fields lists the build details for display.
func (b Build) Fields() [][2]string {
	dialects := make([]string, len(b.Dialects))
	for i, d := range b.Dialects {
		dialects[i] = string(d)
	}
	date := b.Date
	if date == "" {
		date = "unknown"
	}
	return [][2]string{
		{"version", b.Version},
		{"commit", b.ShortCommit()},
		{"built", date},
		{"go", b.Go},
		{"platform", b.Platform},
		{"dialects", strings.Join(dialects, ", ")},
	}
}
