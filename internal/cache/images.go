// Package cache keeps rendered icons (base64 encoded images) keyed by source
// URL, size and format, persisted as a single JSON file.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	logx "github.com/Golevka2001/awtrix-scripts/pkg/logx"
)

// FileName is the cache file inside the store directory.
const FileName = "image_cache.json"

// Key builds the cache key for an image rendered at w x h in format.
func Key(url string, w, h int, format string) string {
	return fmt.Sprintf("%s|%dx%d|%s", url, w, h, format)
}

// Images is safe for concurrent use. Reads never block; writes are
// serialized and replace the whole map.
type Images struct {
	path string
	log  logx.Logger

	entries atomic.Pointer[map[string]string]
	mu      sync.Mutex
}

// NewImages returns an empty cache persisted at path. An empty path keeps
// the cache in memory only.
func NewImages(path string, log logx.Logger) *Images {
	if log.IsZero() {
		log = logx.Nop()
	}
	c := &Images{path: path, log: log.With(logx.String("comp", "cache.images"))}
	empty := map[string]string{}
	c.entries.Store(&empty)
	return c
}

// Load replaces the in-memory entries with the file contents. A missing
// file leaves the cache empty; a corrupt one is logged and ignored.
func (c *Images) Load() error {
	if c.path == "" {
		return nil
	}
	b, err := os.ReadFile(c.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read image cache: %w", err)
	}
	m := map[string]string{}
	if err := json.Unmarshal(b, &m); err != nil {
		c.log.Warn("image cache unreadable; starting empty", logx.String("path", c.path), logx.Err(err))
		return nil
	}

	c.mu.Lock()
	c.entries.Store(&m)
	c.mu.Unlock()
	return nil
}

// Get returns the cached value for key.
func (c *Images) Get(key string) (string, bool) {
	m := *c.entries.Load()
	v, ok := m[key]
	return v, ok
}

// Len returns the number of cached entries.
func (c *Images) Len() int { return len(*c.entries.Load()) }

// Put stores value under key and persists the cache. The in-memory entry is
// kept even when the write fails.
func (c *Images) Put(key, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	old := *c.entries.Load()
	next := make(map[string]string, len(old)+1)
	for k, v := range old {
		next[k] = v
	}
	next[key] = value
	c.entries.Store(&next)

	return c.persistLocked(next)
}

func (c *Images) persistLocked(m map[string]string) error {
	if c.path == "" {
		return nil
	}
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".image_cache-*.tmp")
	if err != nil {
		return fmt.Errorf("write image cache: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write image cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("write image cache: %w", err)
	}
	if err := os.Rename(tmpName, c.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("write image cache: %w", err)
	}
	return nil
}
