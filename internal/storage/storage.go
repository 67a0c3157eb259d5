// Package storage provides the FilesystemAdapter seam ModelRegistry uses
// to stage model version directories before handing them to
// backend.Runtime.Load, plus an LRU cache of directory listings so a busy
// poll loop doesn't repeatedly hit a (possibly remote-backed) filesystem.
// Only a local-disk implementation ships here, per spec.md §1's scope
// boundary on cloud filesystem adapters.
package storage

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// FileInfo is a minimal, adapter-agnostic stat record.
type FileInfo struct {
	Name    string
	Size    int64
	IsDir   bool
	ModTime time.Time
}

// FilesystemAdapter abstracts the directory listing and file reads a
// ModelRegistry performs while staging a model version's files. Cloud
// backends (S3, GCS, Azure Blob) are out of scope; only LocalAdapter is
// provided.
type FilesystemAdapter interface {
	// List returns the entries directly under dir, sorted by Name.
	List(ctx context.Context, dir string) ([]FileInfo, error)
	// ReadFile returns the full contents of path.
	ReadFile(ctx context.Context, path string) ([]byte, error)
	// Exists reports whether path is present.
	Exists(ctx context.Context, path string) (bool, error)
}

// LocalAdapter implements FilesystemAdapter over the local disk.
type LocalAdapter struct{}

// NewLocalAdapter returns a FilesystemAdapter rooted at the local
// filesystem; paths passed to its methods are used as-is.
func NewLocalAdapter() *LocalAdapter {
	return &LocalAdapter{}
}

func (LocalAdapter) List(ctx context.Context, dir string) ([]FileInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("storage: list %s: %w", dir, err)
	}
	out := make([]FileInfo, 0, len(entries))
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			return nil, fmt.Errorf("storage: stat %s: %w", filepath.Join(dir, e.Name()), err)
		}
		out = append(out, fileInfoFrom(e.Name(), info))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (LocalAdapter) ReadFile(ctx context.Context, path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("storage: read %s: %w", path, err)
	}
	return data, nil
}

func (LocalAdapter) Exists(ctx context.Context, path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("storage: stat %s: %w", path, err)
}

func fileInfoFrom(name string, info fs.FileInfo) FileInfo {
	return FileInfo{
		Name:    name,
		Size:    info.Size(),
		IsDir:   info.IsDir(),
		ModTime: info.ModTime(),
	}
}

var _ FilesystemAdapter = LocalAdapter{}

// CachedAdapter wraps a FilesystemAdapter with an LRU cache of directory
// listings, so a ModelRegistry's periodic config-poll / version-discovery
// pass doesn't re-stat every version directory on every tick. Grounded on
// the teacher's TwoTierTemplateCache L1 LRU tier
// (internal/infrastructure/template/cache.go), minus its Redis L2 (out of
// scope: no persistence beyond in-memory state).
type CachedAdapter struct {
	inner FilesystemAdapter
	ttl   time.Duration
	cache *lru.Cache[string, cachedListing]
}

type cachedListing struct {
	entries  []FileInfo
	cachedAt time.Time
}

// NewCachedAdapter wraps inner with an LRU cache of up to size directory
// listings, each valid for ttl.
func NewCachedAdapter(inner FilesystemAdapter, size int, ttl time.Duration) (*CachedAdapter, error) {
	c, err := lru.New[string, cachedListing](size)
	if err != nil {
		return nil, fmt.Errorf("storage: create directory cache: %w", err)
	}
	return &CachedAdapter{inner: inner, ttl: ttl, cache: c}, nil
}

func (c *CachedAdapter) List(ctx context.Context, dir string) ([]FileInfo, error) {
	if cached, ok := c.cache.Get(dir); ok && time.Since(cached.cachedAt) < c.ttl {
		return cached.entries, nil
	}
	entries, err := c.inner.List(ctx, dir)
	if err != nil {
		return nil, err
	}
	c.cache.Add(dir, cachedListing{entries: entries, cachedAt: time.Now()})
	return entries, nil
}

func (c *CachedAdapter) ReadFile(ctx context.Context, path string) ([]byte, error) {
	return c.inner.ReadFile(ctx, path)
}

func (c *CachedAdapter) Exists(ctx context.Context, path string) (bool, error) {
	return c.inner.Exists(ctx, path)
}

// Invalidate drops any cached listing for dir, forcing the next List to
// hit the underlying adapter.
func (c *CachedAdapter) Invalidate(dir string) {
	c.cache.Remove(dir)
}

var _ FilesystemAdapter = (*CachedAdapter)(nil)
