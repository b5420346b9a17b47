package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"
	"sync"

	"dubstudio/pkg/tracker"
)

// Cacher defines the backing store interface. store.SQLiteStore satisfies it.
type Cacher interface {
	GetCache(ctx context.Context, key string) ([]byte, bool)
	SetCache(ctx context.Context, key string, val []byte) error
}

// Key builds an "engine:sha256" clip key from the request fields that
// affect the synthesized audio.
func Key(engine string, parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return engine + ":" + hex.EncodeToString(h.Sum(nil))
}

func engineOf(key string) string {
	if i := strings.IndexByte(key, ':'); i > 0 {
		return key[:i]
	}
	return "unknown"
}

// Clips is a two-level clip cache: a small in-memory FIFO in front of a
// persistent Cacher.
type Clips struct {
	backing Cacher
	tracker *tracker.Tracker

	mu    sync.Mutex
	mem   map[string][]byte
	order []string
	max   int
}

// New creates a clip cache. backing and t may be nil.
func New(backing Cacher, t *tracker.Tracker, memEntries int) *Clips {
	if memEntries < 0 {
		memEntries = 0
	}
	return &Clips{
		backing: backing,
		tracker: t,
		mem:     make(map[string][]byte),
		max:     memEntries,
	}
}

// Get returns a cached clip.
func (c *Clips) Get(ctx context.Context, key string) ([]byte, bool) {
	engine := engineOf(key)

	c.mu.Lock()
	data, ok := c.mem[key]
	c.mu.Unlock()

	if !ok && c.backing != nil {
		data, ok = c.backing.GetCache(ctx, key)
		if ok {
			c.remember(key, data)
		}
	}

	if c.tracker != nil {
		if ok {
			c.tracker.TrackCacheHit(engine)
		} else {
			c.tracker.TrackCacheMiss(engine)
		}
	}
	return data, ok
}

// Set stores a clip. Backing store failures are logged and swallowed.
func (c *Clips) Set(ctx context.Context, key string, data []byte) {
	c.remember(key, data)
	if c.backing == nil {
		return
	}
	if err := c.backing.SetCache(ctx, key, data); err != nil {
		slog.Error("Failed to cache clip", "key", key, "error", err)
	}
}

func (c *Clips) remember(key string, data []byte) {
	if c.max == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.mem[key]; ok {
		c.mem[key] = data
		return
	}
	if len(c.order) >= c.max {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.mem, oldest)
	}
	c.order = append(c.order, key)
	c.mem[key] = data
}
