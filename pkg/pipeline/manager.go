package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"dubstudio/pkg/logging"
	"dubstudio/pkg/metrics"
	"dubstudio/pkg/model"
	"dubstudio/pkg/store"
)

// ErrNotRunning is returned when cancelling a job that already finished.
var ErrNotRunning = errors.New("job is not running")

// Generator renders one request. Service implements it.
type Generator interface {
	Generate(ctx context.Context, req *Request) (*Result, error)
}

// Manager runs generation jobs in the background and persists their records.
type Manager struct {
	gen       Generator
	store     store.JobStore
	outputDir string
	slots     *semaphore.Weighted
	engine    string

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
	base    context.Context
	stop    context.CancelFunc
}

// NewManager creates a manager running at most maxJobs renders at a time.
// defaultEngine is recorded on jobs that do not name one.
func NewManager(gen Generator, st store.JobStore, outputDir string, maxJobs int, defaultEngine string) *Manager {
	base, stop := context.WithCancel(context.Background())
	return &Manager{
		gen:       gen,
		store:     st,
		outputDir: outputDir,
		slots:     semaphore.NewWeighted(int64(max(1, maxJobs))),
		engine:    defaultEngine,
		cancels:   make(map[string]context.CancelFunc),
		base:      base,
		stop:      stop,
	}
}

// Submit records a queued job and starts it in the background.
func (m *Manager) Submit(ctx context.Context, req *Request) (*model.Job, error) {
	if err := os.MkdirAll(m.outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	engine := req.Engine
	if engine == "" {
		engine = m.engine
	}
	now := time.Now().UTC()
	job := &model.Job{
		ID:        uuid.NewString(),
		State:     model.JobQueued,
		Engine:    engine,
		Language:  req.Language,
		Mode:      string(req.Mode),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if req.TraceID == "" {
		req.TraceID = job.ID
	}
	if err := m.store.SaveJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to save job: %w", err)
	}

	jobCtx, cancel := context.WithCancel(m.base)
	m.mu.Lock()
	m.cancels[job.ID] = cancel
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer m.forget(job.ID)
		m.run(jobCtx, *job, req)
	}()

	slog.Info("Job queued", "job", job.ID, "engine", engine)
	return job, nil
}

func (m *Manager) forget(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cancel, ok := m.cancels[id]; ok {
		cancel()
		delete(m.cancels, id)
	}
}

func (m *Manager) run(ctx context.Context, job model.Job, req *Request) {
	start := time.Now()
	if err := m.slots.Acquire(ctx, 1); err != nil {
		m.finish(&job, nil, model.Aborted(err), start)
		return
	}
	defer m.slots.Release(1)

	job.State = model.JobRunning
	m.save(&job)

	res, err := m.gen.Generate(ctx, req)
	if err == nil && ctx.Err() != nil {
		res, err = nil, model.Aborted(ctx.Err())
	}
	if err == nil {
		err = m.writeOutputs(&job, res)
	}
	m.finish(&job, res, err, start)
}

func (m *Manager) writeOutputs(job *model.Job, res *Result) error {
	path := filepath.Join(m.outputDir, job.ID+".wav")
	if err := os.WriteFile(path, res.WAV, 0o644); err != nil {
		return model.NewError(model.KindRenderFailure, "write_failed", "the render could not be saved", err)
	}
	report, err := json.MarshalIndent(res.Report, "", "  ")
	if err == nil {
		err = os.WriteFile(filepath.Join(m.outputDir, job.ID+".json"), report, 0o644)
	}
	if err != nil {
		slog.Warn("Failed to write alignment report", "job", job.ID, "error", err)
	}
	job.OutputPath = path
	return nil
}

func (m *Manager) finish(job *model.Job, res *Result, err error, start time.Time) {
	elapsed := time.Since(start)
	ev := &logging.Event{JobID: job.ID, Type: "job"}

	switch {
	case err == nil:
		job.State = model.JobDone
		job.Segments = len(res.Segments)
		job.Report = res.Report
		job.Diagnostics = res.Diagnostics
		ev.TraceID = res.Diagnostics.TraceID
		ev.Data = res.Diagnostics
		metrics.RecordJob(string(model.JobDone), elapsed.Seconds(), res.Report.LipSyncScore, true)
		slog.Info("Job done", "job", job.ID, "lipSync", res.Report.LipSyncScore, "ok", res.Report.OK, "took", elapsed.Round(time.Millisecond))
	case model.IsAborted(err):
		job.State = model.JobCancelled
		job.Error = model.UserMessage(err)
		metrics.RecordJob(string(model.JobCancelled), elapsed.Seconds(), 0, false)
		slog.Info("Job cancelled", "job", job.ID)
	default:
		job.State = model.JobFailed
		job.Error = model.UserMessage(err)
		job.ErrorKind = model.KindOf(err).String()
		metrics.RecordJob(string(model.JobFailed), elapsed.Seconds(), 0, false)
		slog.Error("Job failed", "job", job.ID, "kind", job.ErrorKind, "error", err)
	}
	ev.Outcome = string(job.State)
	ev.Message = job.Error
	logging.LogEvent(ev)
	m.save(job)
}

// save persists with a fresh context: the job's own context may be cancelled.
func (m *Manager) save(job *model.Job) {
	job.UpdatedAt = time.Now().UTC()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := m.store.SaveJob(ctx, job); err != nil {
		slog.Error("Failed to save job", "job", job.ID, "state", job.State, "error", err)
	}
}

// Get returns a job record.
func (m *Manager) Get(ctx context.Context, id string) (*model.Job, error) {
	return m.store.GetJob(ctx, id)
}

// List returns the most recent jobs.
func (m *Manager) List(ctx context.Context, limit int) ([]*model.Job, error) {
	return m.store.ListJobs(ctx, limit)
}

// Cancel stops a queued or running job. The job record turns cancelled once
// the render has observed the signal.
func (m *Manager) Cancel(ctx context.Context, id string) error {
	m.mu.Lock()
	cancel, ok := m.cancels[id]
	m.mu.Unlock()
	if ok {
		cancel()
		slog.Info("Job cancel requested", "job", id)
		return nil
	}
	if _, err := m.store.GetJob(ctx, id); err != nil {
		return err
	}
	return ErrNotRunning
}

// Wait blocks until every submitted job has finished.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Shutdown cancels all jobs and waits for them.
func (m *Manager) Shutdown() {
	m.stop()
	m.wg.Wait()
}
