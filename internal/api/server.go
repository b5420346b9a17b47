package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"dubstudio/pkg/metrics"
	"dubstudio/pkg/version"
)

// Handlers groups the endpoint handlers. Nil handlers leave their routes unregistered.
type Handlers struct {
	Jobs     *JobsHandler
	Script   *ScriptHandler
	Voices   *VoiceHandler
	Settings *SettingsHandler
	Stats    *StatsHandler
	Health   *HealthHandler
}

// NewServer creates and configures the HTTP server.
func NewServer(addr string, h Handlers) *http.Server {
	mux := http.NewServeMux()

	// 1. Health Endpoint
	if h.Health != nil {
		mux.Handle("GET /health", h.Health)
	} else {
		mux.HandleFunc("GET /health", handleHealth)
	}

	// 2. Version, stats, metrics and logs
	mux.HandleFunc("GET /api/version", handleVersion)
	if h.Stats != nil {
		mux.Handle("GET /api/stats", h.Stats)
	}
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /api/log/latest", handleLatestLog)

	// 3. Job Endpoints
	if h.Jobs != nil {
		mux.HandleFunc("POST /api/jobs", h.Jobs.HandleSubmit)
		mux.HandleFunc("GET /api/jobs", h.Jobs.HandleList)
		mux.HandleFunc("GET /api/jobs/{id}", h.Jobs.HandleGet)
		mux.HandleFunc("DELETE /api/jobs/{id}", h.Jobs.HandleCancel)
		mux.HandleFunc("GET /api/jobs/{id}/audio", h.Jobs.HandleAudio)
		mux.HandleFunc("GET /api/jobs/{id}/report", h.Jobs.HandleReport)
	}

	// 4. Script Endpoints
	if h.Script != nil {
		mux.HandleFunc("POST /api/script/parse", h.Script.HandleParse)
		mux.HandleFunc("POST /api/script/format", h.Script.HandleFormat)
	}

	// 5. Voice Endpoints
	if h.Voices != nil {
		mux.HandleFunc("GET /api/voices", h.Voices.HandleList)
		mux.HandleFunc("POST /api/voices/resolve", h.Voices.HandleResolve)
	}

	// 6. Settings Endpoints
	if h.Settings != nil {
		mux.HandleFunc("GET /api/settings", h.Settings.HandleGet)
		mux.HandleFunc("PUT /api/settings", h.Settings.HandlePut)
	}

	return &http.Server{
		Addr:              addr,
		Handler:           logRequests(mux),
		ReadHeaderTimeout: 15 * time.Second,
		// Uploads carry source audio; renders themselves run outside the request.
		ReadTimeout:  2 * time.Minute,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("OK")); err != nil {
		slog.Error("Failed to write health response", "error", err)
	}
}

func handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if _, err := fmt.Fprintf(w, `{"version": "%s"}`, version.Version); err != nil {
		slog.Error("Failed to write version response", "error", err)
	}
}
