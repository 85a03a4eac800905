package config

import (
	"os"
	"path/filepath"
)

const defaultBaseDir = ".voxlink"

// Paths holds resolved filesystem paths for voxlink data.
type Paths struct {
	Base       string // ~/.voxlink
	Config     string // ~/.voxlink/config.yaml
	Env        string // ~/.voxlink/.env
	Logs       string // ~/.voxlink/logs
	Data       string // ~/.voxlink/data
	Recordings string // ~/.voxlink/recordings
}

// ResolvePaths computes all standard paths from the home directory.
// If VOXLINK_HOME is set, it overrides the default base directory.
func ResolvePaths() (Paths, error) {
	base := os.Getenv("VOXLINK_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return Paths{}, err
		}
		base = filepath.Join(home, defaultBaseDir)
	}

	return Paths{
		Base:       base,
		Config:     filepath.Join(base, "config.yaml"),
		Env:        filepath.Join(base, ".env"),
		Logs:       filepath.Join(base, "logs"),
		Data:       filepath.Join(base, "data"),
		Recordings: filepath.Join(base, "recordings"),
	}, nil
}

// EnsureDirs creates all standard directories if they don't exist.
func (p Paths) EnsureDirs() error {
	dirs := []string{p.Base, p.Logs, p.Data, p.Recordings}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o700); err != nil {
			return err
		}
	}
	return nil
}

// StorePath returns the sqlite database location, honoring store.path.
func (p Paths) StorePath(cfg StoreConfig) string {
	if cfg.Path != "" {
		return cfg.Path
	}
	return filepath.Join(p.Data, "voxlink.db")
}
