package api

import (
	"net/http"
	"sync"

	"dubstudio/pkg/probe"
)

// HealthHandler reports the startup probe results.
type HealthHandler struct {
	mu      sync.RWMutex
	results []probe.Result
}

func NewHealthHandler(results []probe.Result) *HealthHandler {
	return &HealthHandler{results: results}
}

// Update replaces the stored results, e.g. after a re-run.
func (h *HealthHandler) Update(results []probe.Result) {
	h.mu.Lock()
	h.results = results
	h.mu.Unlock()
}

type checkDTO struct {
	Name     string `json:"name"`
	OK       bool   `json:"ok"`
	Critical bool   `json:"critical"`
	Error    string `json:"error,omitempty"`
	Millis   int64  `json:"ms"`
}

type healthResponse struct {
	Status string     `json:"status"`
	Checks []checkDTO `json:"checks"`
}

// ServeHTTP answers 200 unless a critical probe failed. Failed optional
// probes only degrade the status.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	resp := healthResponse{Status: "ok", Checks: make([]checkDTO, 0, len(h.results))}
	status := http.StatusOK
	for _, res := range h.results {
		c := checkDTO{
			Name:     res.Probe.Name,
			OK:       res.Error == nil,
			Critical: res.Probe.Critical,
			Millis:   res.Duration.Milliseconds(),
		}
		if res.Error != nil {
			c.Error = res.Error.Error()
			if res.Probe.Critical {
				resp.Status = "failing"
				status = http.StatusServiceUnavailable
			} else if resp.Status == "ok" {
				resp.Status = "degraded"
			}
		}
		resp.Checks = append(resp.Checks, c)
	}
	writeJSON(w, status, resp)
}
