package tracker

import (
	"sync"
	"testing"
)

func TestTracker(t *testing.T) {
	tr := New()
	engine := "test-engine"

	stats := tr.Snapshot()
	if len(stats) != 0 {
		t.Errorf("Expected empty stats, got %d", len(stats))
	}

	tr.TrackCacheHit(engine)
	tr.TrackCacheMiss(engine)
	tr.TrackAPISuccess(engine, 0.5)
	tr.TrackAPIFailure(engine, "quota_or_rate_limited")
	tr.TrackAPIFailure(engine, "other")
	tr.TrackRetry(engine)
	tr.TrackFallback(engine)
	tr.TrackSilence(engine)
	tr.TrackRecovery(engine)

	stats = tr.Snapshot()
	s, ok := stats[engine]
	if !ok {
		t.Fatalf("Expected stats for engine %s", engine)
	}

	checks := []struct {
		name string
		got  int64
		want int64
	}{
		{"CacheHits", s.CacheHits, 1},
		{"CacheMisses", s.CacheMisses, 1},
		{"APISuccess", s.APISuccess, 1},
		{"APIFailures", s.APIFailures, 2},
		{"QuotaHits", s.QuotaHits, 1},
		{"Retries", s.Retries, 1},
		{"Fallbacks", s.Fallbacks, 1},
		{"Silences", s.Silences, 1},
		{"Recoveries", s.Recoveries, 1},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %d, want %d", c.name, c.got, c.want)
		}
	}
}

func TestTracker_Concurrent(t *testing.T) {
	tr := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.TrackCacheMiss("a")
			tr.TrackCacheMiss("b")
		}()
	}
	wg.Wait()

	stats := tr.Snapshot()
	if stats["a"].CacheMisses != 50 || stats["b"].CacheMisses != 50 {
		t.Errorf("unexpected counts %+v", stats)
	}
}
