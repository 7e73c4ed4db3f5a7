// Package fetch downloads compiler binaries and caches them on local disk.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/pendergraft/verifier/internal/compilers"
	"github.com/pendergraft/verifier/internal/observability/metrics"
)

// CachedBinary is a verified compiler binary on local disk.
type CachedBinary struct {
	Version  compilers.Version
	Path     string
	Checksum string // hex sha256, empty for binaries loaded from disk
}

// Fetcher downloads compiler binaries from one remote source.
type Fetcher interface {
	// Fetch downloads, verifies and commits the binary for version.
	Fetch(ctx context.Context, version compilers.Version) (*CachedBinary, error)
	// Versions returns the versions the source currently offers.
	Versions() []compilers.Version
}

// Cache serves compiler binaries from memory, downloading missing ones
// through its Fetcher. Concurrent requests for the same version share one
// download.
type Cache struct {
	fetcher      Fetcher
	language     string
	fetchTimeout time.Duration
	logger       *slog.Logger

	mu       sync.RWMutex
	binaries map[string]*CachedBinary
	group    singleflight.Group
}

// NewCache creates a cache backed by fetcher. A zero fetchTimeout disables
// the download deadline.
func NewCache(fetcher Fetcher, language string, fetchTimeout time.Duration, logger *slog.Logger) *Cache {
	return &Cache{
		fetcher:      fetcher,
		language:     language,
		fetchTimeout: fetchTimeout,
		logger:       logger,
		binaries:     make(map[string]*CachedBinary),
	}
}

// LoadFromDir registers binaries already present in dir. Subdirectories whose
// names are not versions, or that lack the binary, are skipped.
func (c *Cache) LoadFromDir(dir, name string) (int, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: reading %s: %v", ErrFile, dir, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	loaded := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		version, err := compilers.ParseVersion(entry.Name())
		if err != nil {
			continue
		}
		path := filepath.Join(dir, entry.Name(), name)
		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		c.binaries[version.String()] = &CachedBinary{Version: version, Path: path}
		loaded++
	}

	c.logger.Info("loaded cached compilers", "language", c.language, "dir", dir, "count", loaded)
	return loaded, nil
}

// GetOrFetch returns the binary for version, downloading it if needed.
func (c *Cache) GetOrFetch(ctx context.Context, version compilers.Version) (*CachedBinary, error) {
	key := version.String()

	c.mu.RLock()
	bin, ok := c.binaries[key]
	c.mu.RUnlock()
	if ok {
		return bin, nil
	}

	ch := c.group.DoChan(key, func() (any, error) {
		// the download outlives a single cancelled caller
		fetchCtx := context.WithoutCancel(ctx)
		if c.fetchTimeout > 0 {
			var cancel context.CancelFunc
			fetchCtx, cancel = context.WithTimeout(fetchCtx, c.fetchTimeout)
			defer cancel()
		}

		start := time.Now()
		bin, err := c.fetcher.Fetch(fetchCtx, version)
		if err != nil {
			metrics.CompilerFetch(c.language, "error")
			c.logger.Warn("compiler fetch failed", "language", c.language, "version", key, "error", err)
			return nil, err
		}
		metrics.CompilerFetch(c.language, "success")
		c.logger.Info("compiler fetched",
			"language", c.language,
			"version", key,
			"path", bin.Path,
			"duration_ms", time.Since(start).Milliseconds(),
		)

		c.mu.Lock()
		c.binaries[key] = bin
		c.mu.Unlock()
		return bin, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*CachedBinary), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Path returns the local path of the binary for version.
func (c *Cache) Path(ctx context.Context, version compilers.Version) (string, error) {
	bin, err := c.GetOrFetch(ctx, version)
	if err != nil {
		return "", err
	}
	return bin.Path, nil
}

// Versions returns every version available remotely or on disk, newest first.
func (c *Cache) Versions() []compilers.Version {
	seen := make(map[string]bool)
	var versions []compilers.Version
	for _, v := range c.fetcher.Versions() {
		seen[v.String()] = true
		versions = append(versions, v)
	}

	c.mu.RLock()
	for key, bin := range c.binaries {
		if !seen[key] {
			versions = append(versions, bin.Version)
		}
	}
	c.mu.RUnlock()

	compilers.SortDescending(versions)
	return versions
}

// Evict removes version from memory and deletes its directory.
func (c *Cache) Evict(version compilers.Version) error {
	key := version.String()

	c.mu.Lock()
	bin, ok := c.binaries[key]
	delete(c.binaries, key)
	c.mu.Unlock()

	if !ok {
		return nil
	}
	if err := os.RemoveAll(filepath.Dir(bin.Path)); err != nil {
		return fmt.Errorf("%w: removing %s: %v", ErrFile, bin.Path, err)
	}
	c.logger.Info("compiler evicted", "language", c.language, "version", key)
	return nil
}
