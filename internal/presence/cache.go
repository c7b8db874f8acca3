package presence

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// FileCache persists a single Record as JSON.
// Writes go through a temp file and rename so readers never see a partial file;
// a torn read from another writer is still reported as ErrCacheInvalid.
type FileCache struct {
	path string
	now  func() time.Time
}

// NewFileCache creates a cache backed by path.
func NewFileCache(path string) *FileCache {
	return &FileCache{path: path, now: time.Now}
}

// Path returns the backing file path.
func (c *FileCache) Path() string {
	return c.path
}

// Load reads the record. It fails with ErrCacheInvalid if the file is absent,
// unparsable, incomplete or older than MaxCacheAge.
func (c *FileCache) Load() (Record, error) {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrCacheInvalid, err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrCacheInvalid, err)
	}
	if !rec.Fresh(c.now()) {
		return Record{}, fmt.Errorf("%w: last seen %s", ErrCacheInvalid, rec.LastSeen.Format(time.RFC3339))
	}
	return rec, nil
}

// Save writes rec, creating the parent directory if needed.
func (c *FileCache) Save(rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode cache: %w", err)
	}

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".presence-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp cache: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close cache: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("chmod cache: %w", err)
	}
	if err := os.Rename(tmpName, c.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename cache: %w", err)
	}
	return nil
}

// Clear removes the cache file. A missing file is not an error.
func (c *FileCache) Clear() error {
	if err := os.Remove(c.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove cache: %w", err)
	}
	return nil
}

// Age returns the time since the cache file was last written.
func (c *FileCache) Age() (time.Duration, error) {
	info, err := os.Stat(c.path)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrCacheInvalid, err)
	}
	return c.now().Sub(info.ModTime()), nil
}
