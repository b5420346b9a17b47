package tracker

import (
	"sync"
	"sync/atomic"

	"dubstudio/pkg/metrics"
)

// Tracker tracks usage statistics per engine.
type Tracker struct {
	mu    sync.RWMutex
	stats map[string]*EngineStats
}

// EngineStats holds counters for one engine.
// Fields are accessed atomically.
type EngineStats struct {
	CacheHits   int64 `json:"cacheHits"`
	CacheMisses int64 `json:"cacheMisses"`
	APISuccess  int64 `json:"apiSuccess"`
	APIFailures int64 `json:"apiFailures"`
	Retries     int64 `json:"retries"`
	QuotaHits   int64 `json:"quotaHits"`
	Fallbacks   int64 `json:"fallbacks"`
	Silences    int64 `json:"silences"`
	Recoveries  int64 `json:"recoveries"`
}

// New creates a new Tracker.
func New() *Tracker {
	return &Tracker{
		stats: make(map[string]*EngineStats),
	}
}

// getStats returns the stats object for an engine, creating it if needed.
func (t *Tracker) getStats(engine string) *EngineStats {
	t.mu.RLock()
	s, ok := t.stats[engine]
	t.mu.RUnlock()
	if ok {
		return s
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok = t.stats[engine]; ok {
		return s
	}
	s = &EngineStats{}
	t.stats[engine] = s
	return s
}

// TrackCacheHit counts a clip served from the cache.
func (t *Tracker) TrackCacheHit(engine string) {
	atomic.AddInt64(&t.getStats(engine).CacheHits, 1)
	metrics.RecordCall(engine, "cache_hit", 0)
}

func (t *Tracker) TrackCacheMiss(engine string) {
	atomic.AddInt64(&t.getStats(engine).CacheMisses, 1)
}

// TrackAPISuccess counts a successful engine call taking the given seconds.
func (t *Tracker) TrackAPISuccess(engine string, seconds float64) {
	atomic.AddInt64(&t.getStats(engine).APISuccess, 1)
	metrics.RecordCall(engine, "success", seconds)
}

// TrackAPIFailure counts a failed engine call of the given error kind.
func (t *Tracker) TrackAPIFailure(engine, kind string) {
	atomic.AddInt64(&t.getStats(engine).APIFailures, 1)
	metrics.RecordCall(engine, "failure", 0)
	metrics.RecordError(engine, kind)
	if kind == "quota_or_rate_limited" {
		atomic.AddInt64(&t.getStats(engine).QuotaHits, 1)
	}
}

// TrackRetry counts a window retry.
func (t *Tracker) TrackRetry(engine string) {
	atomic.AddInt64(&t.getStats(engine).Retries, 1)
	metrics.RecordRetry(engine, "window")
}

// TrackFallback counts an advance to the next model.
func (t *Tracker) TrackFallback(engine string) {
	atomic.AddInt64(&t.getStats(engine).Fallbacks, 1)
	metrics.RecordRetry(engine, "model")
}

// TrackSilence counts a segment replaced by silence.
func (t *Tracker) TrackSilence(engine string) {
	atomic.AddInt64(&t.getStats(engine).Silences, 1)
	metrics.SilencedSegments.WithLabelValues(engine).Inc()
}

// TrackRecovery counts a multi-speaker call recovered through per-segment synthesis.
func (t *Tracker) TrackRecovery(engine string) {
	atomic.AddInt64(&t.getStats(engine).Recoveries, 1)
	metrics.RecordRetry(engine, "recovery")
}

// Snapshot returns a copy of the current stats.
func (t *Tracker) Snapshot() map[string]EngineStats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make(map[string]EngineStats, len(t.stats))
	for k, v := range t.stats {
		result[k] = EngineStats{
			CacheHits:   atomic.LoadInt64(&v.CacheHits),
			CacheMisses: atomic.LoadInt64(&v.CacheMisses),
			APISuccess:  atomic.LoadInt64(&v.APISuccess),
			APIFailures: atomic.LoadInt64(&v.APIFailures),
			Retries:     atomic.LoadInt64(&v.Retries),
			QuotaHits:   atomic.LoadInt64(&v.QuotaHits),
			Fallbacks:   atomic.LoadInt64(&v.Fallbacks),
			Silences:    atomic.LoadInt64(&v.Silences),
			Recoveries:  atomic.LoadInt64(&v.Recoveries),
		}
	}
	return result
}
