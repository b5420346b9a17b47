package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"dubstudio/pkg/model"
	"dubstudio/pkg/store"
)

// maxBodyBytes bounds request bodies; source audio arrives base64 encoded.
const maxBodyBytes = 64 << 20

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
	Code  string `json:"code,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to write response", "error", err)
	}
}

// writeError maps an error onto a status code and a bounded user message.
func writeError(w http.ResponseWriter, err error) {
	resp := errorResponse{Error: model.UserMessage(err)}
	status := http.StatusInternalServerError

	var e *model.Error
	if errors.As(err, &e) {
		resp.Kind = e.Kind.String()
		resp.Code = e.Code
		switch e.Kind {
		case model.KindValidation:
			status = http.StatusBadRequest
		case model.KindQuotaOrRateLimited:
			status = http.StatusTooManyRequests
		case model.KindAuthRejected:
			status = http.StatusBadGateway
		}
	}
	if errors.Is(err, store.ErrNotFound) {
		status = http.StatusNotFound
		resp.Error = "not found"
	}
	writeJSON(w, status, resp)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return model.NewError(model.KindValidation, "bad_request", "request body is not valid JSON", err)
	}
	return nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// logRequests logs every request at debug level.
func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		slog.Debug("HTTP request", "method", r.Method, "path", r.URL.Path, "status", rec.status, "took", time.Since(start).Round(time.Microsecond))
	})
}
