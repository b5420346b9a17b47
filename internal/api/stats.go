package api

import (
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"dubstudio/pkg/tracker"
)

type StatsHandler struct {
	tracker *tracker.Tracker
	primary string
	chains  map[string][]string
	started time.Time
}

// NewStatsHandler creates a handler. chains maps each engine to its model
// fallback order, as shown to operators.
func NewStatsHandler(t *tracker.Tracker, primary string, chains map[string][]string) *StatsHandler {
	return &StatsHandler{tracker: t, primary: primary, chains: chains, started: time.Now()}
}

type EngineStatsDTO struct {
	CacheHits   int64 `json:"cache_hits"`
	CacheMisses int64 `json:"cache_misses"`
	APISuccess  int64 `json:"api_success"`
	APIFailures int64 `json:"api_errors"`
	Retries     int64 `json:"retries"`
	QuotaHits   int64 `json:"quota_hits"`
	Fallbacks   int64 `json:"fallbacks"`
	Silences    int64 `json:"silences"`
	Recoveries  int64 `json:"recoveries"`
	HitRate     int64 `json:"hit_rate"`
}

type ProcessStats struct {
	MemoryMB   uint64  `json:"memory_mb"`
	Goroutines int     `json:"goroutines"`
	UptimeSec  float64 `json:"uptime_sec"`
}

type StatsResponse struct {
	Process  ProcessStats              `json:"process"`
	Engines  map[string]EngineStatsDTO `json:"engines"`
	Primary  string                    `json:"primary"`
	Fallback map[string][]string       `json:"fallback"`
}

func (h *StatsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	snapshot := h.tracker.Snapshot()

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	resp := StatsResponse{
		Process: ProcessStats{
			MemoryMB:   bToMb(mem.Sys),
			Goroutines: runtime.NumGoroutine(),
			UptimeSec:  time.Since(h.started).Seconds(),
		},
		Engines:  make(map[string]EngineStatsDTO),
		Primary:  h.primary,
		Fallback: h.chains,
	}

	for engine, stats := range snapshot {
		totalCache := stats.CacheHits + stats.CacheMisses
		hitRate := int64(0)
		if totalCache > 0 {
			hitRate = (stats.CacheHits * 100) / totalCache
		}
		resp.Engines[engine] = EngineStatsDTO{
			CacheHits:   stats.CacheHits,
			CacheMisses: stats.CacheMisses,
			APISuccess:  stats.APISuccess,
			APIFailures: stats.APIFailures,
			Retries:     stats.Retries,
			QuotaHits:   stats.QuotaHits,
			Fallbacks:   stats.Fallbacks,
			Silences:    stats.Silences,
			Recoveries:  stats.Recoveries,
			HitRate:     hitRate,
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func bToMb(b uint64) uint64 {
	return b / 1024 / 1024
}
