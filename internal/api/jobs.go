package api

import (
	"context"
	"errors"
	"net/http"
	"os"
	"slices"
	"strconv"
	"strings"

	"dubstudio/pkg/config"
	"dubstudio/pkg/model"
	"dubstudio/pkg/orchestrator"
	"dubstudio/pkg/pipeline"
)

// JobManager is the job surface the handlers need. pipeline.Manager implements it.
type JobManager interface {
	Submit(ctx context.Context, req *pipeline.Request) (*model.Job, error)
	Get(ctx context.Context, id string) (*model.Job, error)
	List(ctx context.Context, limit int) ([]*model.Job, error)
	Cancel(ctx context.Context, id string) error
}

// JobsHandler serves the generation job endpoints.
type JobsHandler struct {
	jobs     JobManager
	engines  []string
	defaults config.Provider
}

// NewJobsHandler creates a handler. engines lists the accepted engine names;
// an empty request engine means the active one.
func NewJobsHandler(jobs JobManager, engines []string) *JobsHandler {
	return &JobsHandler{jobs: jobs, engines: engines}
}

// WithDefaults fills empty request fields from the runtime settings.
func (h *JobsHandler) WithDefaults(p config.Provider) *JobsHandler {
	h.defaults = p
	return h
}

func (h *JobsHandler) applyDefaults(ctx context.Context, req *pipeline.Request) {
	if h.defaults == nil {
		return
	}
	if req.Engine == "" {
		if e := h.defaults.ActiveEngine(ctx); slices.Contains(h.engines, e) {
			req.Engine = e
		}
	}
	if req.Language == "" {
		req.Language = h.defaults.DefaultLanguage(ctx)
	}
	if req.Mode == "" {
		req.Mode = orchestrator.Mode(h.defaults.DefaultMode(ctx))
	}
	if req.Speed == 0 {
		req.Speed = h.defaults.DefaultSpeed(ctx)
	}
}

type submitResponse struct {
	ID    string         `json:"id"`
	State model.JobState `json:"state"`
}

// HandleSubmit queues a render.
func (h *JobsHandler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	var req pipeline.Request
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if strings.TrimSpace(req.Script) == "" {
		writeError(w, model.NewError(model.KindValidation, "empty_input", "the script is empty", nil))
		return
	}
	if req.Engine != "" && len(h.engines) > 0 && !slices.Contains(h.engines, req.Engine) {
		writeError(w, model.NewError(model.KindValidation, "unknown_engine", "engine "+strconv.Quote(req.Engine)+" is not available", nil))
		return
	}
	h.applyDefaults(r.Context(), &req)
	switch req.Mode {
	case "", orchestrator.ModeAuto, orchestrator.ModeSegmented, orchestrator.ModeMultiSpeaker:
	default:
		writeError(w, model.NewError(model.KindValidation, "bad_mode", "mode must be auto, segmented or multi-speaker", nil))
		return
	}
	req.TraceID = ""

	job, err := h.jobs.Submit(r.Context(), &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, submitResponse{ID: job.ID, State: job.State})
}

// HandleList returns recent jobs, newest first.
func (h *JobsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, model.NewError(model.KindValidation, "bad_limit", "limit must be a positive number", err))
			return
		}
		limit = min(n, 500)
	}
	jobs, err := h.jobs.List(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if jobs == nil {
		jobs = []*model.Job{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

// HandleGet returns one job.
func (h *JobsHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	job, err := h.jobs.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// HandleCancel cancels a queued or running job.
func (h *JobsHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	err := h.jobs.Cancel(r.Context(), r.PathValue("id"))
	if errors.Is(err, pipeline.ErrNotRunning) {
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// finished loads a job and answers 409 when it has no output yet.
func (h *JobsHandler) finished(w http.ResponseWriter, r *http.Request) (*model.Job, bool) {
	job, err := h.jobs.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	if job.State != model.JobDone {
		writeJSON(w, http.StatusConflict, errorResponse{Error: "job is " + string(job.State)})
		return nil, false
	}
	return job, true
}

// HandleAudio streams the rendered WAV.
func (h *JobsHandler) HandleAudio(w http.ResponseWriter, r *http.Request) {
	job, ok := h.finished(w, r)
	if !ok {
		return
	}
	f, err := os.Open(job.OutputPath)
	if err != nil {
		writeJSON(w, http.StatusGone, errorResponse{Error: "render output is no longer available"})
		return
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Disposition", `attachment; filename="`+job.ID+`.wav"`)
	http.ServeContent(w, r, job.ID+".wav", st.ModTime(), f)
}

// HandleReport returns the alignment report.
func (h *JobsHandler) HandleReport(w http.ResponseWriter, r *http.Request) {
	job, ok := h.finished(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, job.Report)
}
