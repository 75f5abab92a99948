package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio/v2"
	"golang.org/x/sync/singleflight"
)

// Cache is the per-ASIN TTL file cache the pipeline contract describes:
// `<cache_dir>/<source>_book_<ASIN>.json`. Only book entries are cached;
// chapter payloads are never written to or read from the cache.
// Concurrent identical lookups collapse through a singleflight group so a
// cache-miss storm against the same ASIN issues one network request.
type Cache struct {
	Dir string
	TTL time.Duration

	group singleflight.Group
}

// NewCache returns a Cache rooted at dir with the given TTL (spec default
// 30 days, configured via AUDNEXUS_CACHE_DAYS).
func NewCache(dir string, ttl time.Duration) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("metadata cache: create dir: %w", err)
	}
	return &Cache{Dir: dir, TTL: ttl}, nil
}

func (c *Cache) bookPath(source Source, asin string) string {
	return filepath.Join(c.Dir, fmt.Sprintf("%s_book_%s.json", source, asin))
}

func (c *Cache) chaptersPath(source Source, asin string) string {
	return filepath.Join(c.Dir, fmt.Sprintf("%s_chapters_%s.json", source, asin))
}

// GetOrFetchBook serves asin from cache if a fresh entry exists; otherwise
// calls fetch, caches a successful result verbatim, and returns it. Error
// responses are never cached. forceRefresh bypasses the cache read for
// this call only, matching the `force_refresh` flag.
func (c *Cache) GetOrFetchBook(ctx context.Context, source Source, asin string, forceRefresh bool, fetch func(context.Context) (*Book, error)) (*Book, error) {
	path := c.bookPath(source, asin)

	if !forceRefresh {
		if book, ok := c.readFresh(path); ok {
			return book, nil
		}
	}

	key := string(source) + ":book:" + asin
	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		book, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		if writeErr := c.writeJSON(path, book); writeErr != nil {
			return book, fmt.Errorf("metadata cache: write %s: %w", path, writeErr)
		}
		return book, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Book), nil
}

// readFresh loads path if it exists and its mtime is within TTL.
func (c *Cache) readFresh(path string) (*Book, bool) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, false
	}
	if c.TTL > 0 && time.Since(info.ModTime()) > c.TTL {
		return nil, false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	var book Book
	if err := json.Unmarshal(data, &book); err != nil {
		return nil, false
	}
	return &book, true
}

func (c *Cache) writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	t, err := renameio.NewPendingFile(path)
	if err != nil {
		return err
	}
	defer t.Cleanup()
	if _, err := t.Write(data); err != nil {
		return err
	}
	return t.CloseAtomicallyReplace()
}
