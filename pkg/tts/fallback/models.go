package fallback

import (
	"context"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// ModelCache holds discovered model lists per engine and credential.
// Entries are replaced wholesale on refresh, never edited in place.
type ModelCache struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.RWMutex
	entries map[string]*modelEntry
	group   singleflight.Group
}

type modelEntry struct {
	fetchedAt time.Time
	models    []string
}

// NewModelCache creates a cache whose entries go stale after ttl.
// A zero ttl refreshes on every call.
func NewModelCache(ttl time.Duration) *ModelCache {
	return &ModelCache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]*modelEntry),
	}
}

// CacheKey scopes a model list to the credential that discovered it.
func CacheKey(engine, credential string) string {
	return engine + "|" + credential
}

// Get returns the cached list if it is still fresh.
func (c *ModelCache) Get(key string) ([]string, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || c.now().Sub(e.fetchedAt) >= c.ttl {
		return nil, false
	}
	return slices.Clone(e.models), true
}

// RefreshIfStale returns the fresh list for key, calling fetch when the entry
// is missing or expired. Concurrent refreshes of one key share a single fetch.
// When fetch fails the stale list, if any, is returned with the error.
func (c *ModelCache) RefreshIfStale(ctx context.Context, key string, fetch func(context.Context) ([]string, error)) ([]string, error) {
	if m, ok := c.Get(key); ok {
		return m, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		if m, ok := c.Get(key); ok {
			return m, nil
		}
		models, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		e := &modelEntry{fetchedAt: c.now(), models: slices.Clone(models)}
		c.mu.Lock()
		c.entries[key] = e
		c.mu.Unlock()
		return e.models, nil
	})
	if err != nil {
		return c.stale(key), err
	}
	return slices.Clone(v.([]string)), nil
}

func (c *ModelCache) stale(key string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if e, ok := c.entries[key]; ok {
		return slices.Clone(e.models)
	}
	return nil
}

// MergeModels appends discovered models behind the static preference list.
// The first preferred model always stays first.
func MergeModels(preferred, discovered []string) []string {
	out := make([]string, 0, len(preferred)+len(discovered))
	seen := make(map[string]bool, cap(out))
	for _, list := range [][]string{preferred, discovered} {
		for _, m := range list {
			if m == "" || seen[m] {
				continue
			}
			seen[m] = true
			out = append(out, m)
		}
	}
	return out
}
