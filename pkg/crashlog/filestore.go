// filestore.go declares the durable file store reports are written to and
// provides the operating system implementation.

package crashlog

import (
	"fmt"
	"os"
	"path/filepath"
)

// FileStore is the storage reports are written to.
type FileStore interface {
	// ExternalRoot returns the shared storage root, and false when it is not
	// mounted or not writable.
	ExternalRoot() (string, bool)

	// CacheRoot returns the externally scoped cache area, and false when it
	// is unavailable.
	CacheRoot() (string, bool)

	// FilesRoot returns the application-private files area. Always available.
	FilesRoot() string

	// MkdirAll creates dir and any missing parents.
	MkdirAll(dir string) error

	// WriteFile writes data to path. The write is all-or-nothing: on error
	// no file is left at path.
	WriteFile(path string, data []byte) error
}

// OSFileStore is a FileStore on the local filesystem.
// Empty ExternalDir or CacheDir marks that root as unavailable.
type OSFileStore struct {
	ExternalDir string
	CacheDir    string
	FilesDir    string
}

// DefaultFileStore uses the user cache directory as the cache root and the
// user config directory (or the temp directory) as the files root.
func DefaultFileStore() *OSFileStore {
	fs := &OSFileStore{}
	if dir, err := os.UserCacheDir(); err == nil {
		fs.CacheDir = dir
	}
	if dir, err := os.UserConfigDir(); err == nil {
		fs.FilesDir = dir
	} else {
		fs.FilesDir = os.TempDir()
	}
	return fs
}

// ExternalRoot reports the external directory if it exists and is writable.
func (s *OSFileStore) ExternalRoot() (string, bool) {
	return s.ExternalDir, writableDir(s.ExternalDir)
}

// CacheRoot reports the cache directory if it exists and is writable.
func (s *OSFileStore) CacheRoot() (string, bool) {
	return s.CacheDir, writableDir(s.CacheDir)
}

// FilesRoot returns the files directory.
func (s *OSFileStore) FilesRoot() string {
	return s.FilesDir
}

// MkdirAll creates dir with mode 0755.
func (s *OSFileStore) MkdirAll(dir string) error {
	return os.MkdirAll(dir, 0o755)
}

// WriteFile writes data to a temporary file next to path, syncs it and
// renames it into place.
func (s *OSFileStore) WriteFile(path string, data []byte) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".crashlog-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", path, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err = os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("chmod %s: %w", path, err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}

// writableDir checks dir by creating and removing a file.
func writableDir(dir string) bool {
	if dir == "" {
		return false
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return false
	}
	f, err := os.CreateTemp(dir, ".crashlog-check-*")
	if err != nil {
		return false
	}
	f.Close()
	os.Remove(f.Name())
	return true
}
