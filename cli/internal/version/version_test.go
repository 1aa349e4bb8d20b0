package version

import (
	"runtime/debug"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFillFromBuildInfo(t *testing.T) {
	b := Build{Version: "dev"}
	b.fill(&debug.BuildInfo{
		Main: debug.Module{Version: "v1.4.0"},
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "0123456789abcdef0123"},
			{Key: "vcs.time", Value: "2026-10-01T10:00:00Z"},
			{Key: "vcs.modified", Value: "true"},
		},
	})
	assert.Equal(t, "1.4.0", b.Version)
	assert.Equal(t, "0123456789ab-dirty", b.ShortCommit())
	assert.Equal(t, "2026-10-01T10:00:00Z", b.Date)
}

func TestLinkerValuesWin(t *testing.T) {
	b := Build{Version: "2.0.0", Commit: "abc", Platform: "linux/amd64"}
	b.fill(&debug.BuildInfo{
		Main:     debug.Module{Version: "(devel)"},
		Settings: []debug.BuildSetting{{Key: "vcs.revision", Value: "fff"}},
	})
	assert.Equal(t, "2.0.0", b.Version)
	assert.Equal(t, "abc", b.ShortCommit())
	assert.Equal(t, "gorel version 2.0.0 (abc, linux/amd64)", b.String())
}

func TestGetListsDialects(t *testing.T) {
	fields := Get().Fields()
	assert.Equal(t, [2]string{"dialects", "mysql, pgsql, sqlite"}, fields[len(fields)-1])
}
