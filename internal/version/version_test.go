package version

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildString(t *testing.T) {
	tests := []struct {
		name  string
		build Build
		want  string
	}{
		{
			name:  "stamped",
			build: Build{Version: "1.2.3", Commit: "abc1234567890", Date: "2026-01-15", GoVersion: "go1.25", Platform: "linux/amd64"},
			want:  "voxlink 1.2.3 (commit abc1234, built 2026-01-15, go1.25, linux/amd64)",
		},
		{
			name:  "dirty",
			build: Build{Version: "dev", Commit: "abc1234", Modified: true, GoVersion: "go1.25", Platform: "darwin/arm64"},
			want:  "voxlink dev (commit abc1234+dirty, built unknown, go1.25, darwin/arm64)",
		},
		{
			name:  "bare",
			build: Build{Version: "dev", GoVersion: "go1.25", Platform: "linux/arm64"},
			want:  "voxlink dev (commit unknown, built unknown, go1.25, linux/arm64)",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.build.String())
		})
	}
}

func TestCurrentPrefersLdflags(t *testing.T) {
	v, c, d := Version, Commit, Date
	t.Cleanup(func() { Version, Commit, Date = v, c, d })

	Version, Commit, Date = "1.2.3", "feedface", "2026-01-15"
	b := Current()
	assert.Equal(t, "1.2.3", b.Version)
	assert.Equal(t, "feedface", b.Commit)
	assert.Equal(t, "2026-01-15", b.Date)
	assert.Equal(t, runtime.Version(), b.GoVersion)
	assert.Contains(t, Info(), "voxlink 1.2.3 (commit feedfac")
}

func TestUserAgent(t *testing.T) {
	assert.Equal(t, "voxlink/"+Version+" ("+runtime.GOOS+"/"+runtime.GOARCH+")", UserAgent())
}
