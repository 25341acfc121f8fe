// config.go loads handler settings from YAML or TOML files.

package crashlog

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config is the file form of the handler settings.
type Config struct {
	// Notify enables the crash notification. Defaults to true when unset.
	Notify *bool `yaml:"notify" toml:"notify"`

	// AutoOpen asks the notifier to open each crash report.
	AutoOpen bool `yaml:"auto_open" toml:"auto_open"`

	// GracePeriod is the wait before forced termination (default: 3s).
	GracePeriod time.Duration `yaml:"grace_period" toml:"grace_period"`

	// ThrottleWindow is the minimum time between notifications (default: 5s).
	ThrottleWindow time.Duration `yaml:"throttle_window" toml:"throttle_window"`

	// Report roots. An empty ExternalDir disables shared storage; empty
	// CacheDir and FilesDir use the user cache and config directories.
	ExternalDir string `yaml:"external_dir" toml:"external_dir"`
	CacheDir    string `yaml:"cache_dir" toml:"cache_dir"`
	FilesDir    string `yaml:"files_dir" toml:"files_dir"`

	// StorePath is the SQLite database holding the crash marker.
	StorePath string `yaml:"store_path" toml:"store_path"`

	// Scrub enables default scrubbing of report content.
	Scrub bool `yaml:"scrub" toml:"scrub"`
}

// DefaultConfig returns the built-in settings.
func DefaultConfig() Config {
	notify := true
	return Config{
		Notify:         &notify,
		GracePeriod:    DefaultGracePeriod,
		ThrottleWindow: DefaultThrottleWindow,
	}
}

// LoadConfig reads path as YAML (.yaml, .yml) or TOML (.toml) over the
// defaults. Unknown keys are rejected.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return Config{}, fmt.Errorf("config parse failed (%s): %w", path, err)
		}
	case ".toml":
		meta, err := toml.Decode(string(data), &cfg)
		if err != nil {
			return Config{}, fmt.Errorf("config parse failed (%s): %w", path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return Config{}, fmt.Errorf("config parse failed (%s): unknown key %q", path, undecoded[0].String())
		}
	default:
		return Config{}, fmt.Errorf("config load failed (%s): unsupported extension", path)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config invalid (%s): %w", path, err)
	}
	return cfg, nil
}

// Validate checks the durations.
func (c Config) Validate() error {
	if c.GracePeriod < 0 {
		return errors.New("grace_period must not be negative")
	}
	if c.ThrottleWindow < 0 {
		return errors.New("throttle_window must not be negative")
	}
	return nil
}

// FileStore builds the OS file store for the configured roots.
func (c Config) FileStore() *OSFileStore {
	fs := DefaultFileStore()
	fs.ExternalDir = c.ExternalDir
	if c.CacheDir != "" {
		fs.CacheDir = c.CacheDir
	}
	if c.FilesDir != "" {
		fs.FilesDir = c.FilesDir
	}
	return fs
}

// StoreFile returns StorePath, or crashlog.db in the reports directory of
// the files root.
func (c Config) StoreFile() string {
	if c.StorePath != "" {
		return c.StorePath
	}
	return filepath.Join(c.FileStore().FilesRoot(), ReportsDirName, "crashlog.db")
}

// ReportRoots lists the report directories of every configured root that
// exists, in resolution order, without duplicates.
func (c Config) ReportRoots() []string {
	fs := c.FileStore()
	var roots []string
	seen := make(map[string]bool)
	for _, base := range []string{fs.ExternalDir, fs.CacheDir, fs.FilesDir} {
		if base == "" {
			continue
		}
		dir := filepath.Join(base, ReportsDirName)
		if seen[dir] {
			continue
		}
		seen[dir] = true
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			roots = append(roots, dir)
		}
	}
	return roots
}
