package store

import (
	"context"
	"maps"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"
)

// Cache memoizes the eigenvalues stored in databases.
// Concurrent loads of the same path share one query.
type Cache struct {
	group  singleflight.Group
	mu     sync.Mutex
	values map[string]map[int][]float64
	hits   atomic.Int64
	misses atomic.Int64
}

func NewCache() *Cache {
	return &Cache{values: make(map[string]map[int][]float64)}
}

func (c *Cache) get(path string) (map[int][]float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[path]
	return v, ok
}

// Eigenvalues returns the eigenvalues stored at path. The slices are shared and must not be modified.
func (c *Cache) Eigenvalues(ctx context.Context, path string) (map[int][]float64, error) {
	if v, ok := c.get(path); ok {
		c.hits.Add(1)
		return maps.Clone(v), nil
	}
	c.misses.Add(1)
	val, err, _ := c.group.Do(path, func() (any, error) {
		if v, ok := c.get(path); ok {
			return v, nil
		}
		db, err := Open(path)
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
		defer db.Close()
		v, err := db.LoadEigenvalues(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
		c.mu.Lock()
		c.values[path] = v
		c.mu.Unlock()
		return v, nil
	})
	if err != nil {
		return nil, errors.Wrap(err, path)
	}
	return maps.Clone(val.(map[int][]float64)), nil
}

// Invalidate drops the cached eigenvalues of path.
func (c *Cache) Invalidate(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.values, path)
}

func (c *Cache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}
