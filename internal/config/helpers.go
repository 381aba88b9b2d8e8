package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// EnsureDirectories creates the local data and temp directories. Directories
// on other protocols are created implicitly by their stores.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Storage.DataDir, c.Storage.TempDir} {
		if strings.Contains(dir, "://") {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}

// GetDataPath returns the full path for a table file under data_dir
func (c *Config) GetDataPath(name string) string {
	if strings.Contains(c.Storage.DataDir, "://") {
		return strings.TrimSuffix(c.Storage.DataDir, "/") + "/" + name
	}
	return filepath.Join(c.Storage.DataDir, name)
}

// EffectiveWorkers resolves workers = 0 to GOMAXPROCS.
func (c *QueryConfig) EffectiveWorkers() int {
	if c.Workers > 0 {
		return c.Workers
	}
	return runtime.GOMAXPROCS(0)
}
