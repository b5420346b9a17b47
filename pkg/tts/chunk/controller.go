// Package chunk synthesizes long text as a sequence of sentence-aligned
// windows and joins the results with a short crossfade.
package chunk

import (
	"context"
	"log/slog"
	"time"

	"dubstudio/pkg/audio"
	"dubstudio/pkg/config"
	"dubstudio/pkg/logging"
	"dubstudio/pkg/model"
	"dubstudio/pkg/tracker"
	"dubstudio/pkg/tts/fallback"
)

// Synthesizer renders one window. fallback.Chain implements it.
type Synthesizer interface {
	Name() string
	Synthesize(ctx context.Context, req *model.SynthesisRequest) (*fallback.Result, error)
}

// Output is the merged audio of a long request.
type Output struct {
	Buffer      *audio.Buffer
	Windows     int
	Model       string
	Diagnostics *model.Diagnostics
}

// Controller windows, retries and merges.
type Controller struct {
	synth       Synthesizer
	wordLimit   int
	windowWords int
	crossfade   time.Duration
	attempts    int
	backoff     []time.Duration
	tracker     *tracker.Tracker
	sleep       func(ctx context.Context, d time.Duration) error
}

// New creates a controller with the engine's budgets. t may be nil.
func New(s Synthesizer, cfg config.EngineSettings, t *tracker.Tracker) *Controller {
	attempts := cfg.Retries
	if attempts < 1 {
		attempts = 1
	}
	return &Controller{
		synth:       s,
		wordLimit:   cfg.WordLimit,
		windowWords: cfg.WindowWords,
		crossfade:   cfg.Crossfade.Std(),
		attempts:    attempts,
		backoff:     cfg.BackoffDurations(),
		tracker:     t,
		sleep:       sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Plan returns the window requests for req without synthesizing them.
func (c *Controller) Plan(req *model.SynthesisRequest) (windows []*model.SynthesisRequest, split int, err error) {
	if err := req.Validate(); err != nil {
		return nil, 0, err
	}
	if words := req.Words(); c.wordLimit > 0 && words > c.wordLimit {
		return nil, 0, model.WordLimitExceeded(c.wordLimit, words)
	}

	if req.MultiSpeaker {
		for _, lines := range LineWindows(req.Lines, c.windowWords) {
			w := *req
			w.Lines = lines
			windows = append(windows, &w)
		}
		return windows, 0, nil
	}

	texts, split := Windows(req.Text, c.windowWords)
	for _, text := range texts {
		w := *req
		w.Text = text
		windows = append(windows, &w)
	}
	return windows, split, nil
}

// SynthesizeLong renders req window by window. A configuration-class failure
// aborts the pass at once; other failures are retried with backoff.
func (c *Controller) SynthesizeLong(ctx context.Context, req *model.SynthesisRequest) (*Output, error) {
	windows, split, err := c.Plan(req)
	if err != nil {
		return nil, err
	}

	diag := &model.Diagnostics{SplitChunks: split}
	bufs := make([]*audio.Buffer, len(windows))
	out := &Output{Windows: len(windows), Diagnostics: diag}

	for i, w := range windows {
		if err := ctx.Err(); err != nil {
			return nil, model.Aborted(err)
		}
		logging.Trace(nil, "Synthesizing window", "engine", c.synth.Name(), "window", i+1, "of", len(windows), "words", w.Words())

		res, err := c.window(ctx, i, w, diag)
		if err != nil {
			return nil, err
		}
		bufs[i] = res.Buffer
		if out.Model == "" {
			out.Model = res.Model
		}
		diag.Merge(res.Diagnostics)
	}

	sampleRate := bufs[0].SampleRate
	out.Buffer = audio.ConcatCrossfade(bufs, audio.FramesFor(sampleRate, c.crossfade.Seconds()))
	if len(windows) > 1 {
		slog.Debug("Merged synthesis windows", "engine", c.synth.Name(), "windows", len(windows), "retries", diag.RetryChunks, "seconds", out.Buffer.Seconds())
	}
	return out, nil
}

func (c *Controller) window(ctx context.Context, index int, w *model.SynthesisRequest, diag *model.Diagnostics) (*fallback.Result, error) {
	var lastErr error
	for attempt := 0; attempt < c.attempts; attempt++ {
		if attempt > 0 {
			diag.RetryChunks++
			if c.tracker != nil {
				c.tracker.TrackRetry(c.synth.Name())
			}
			if err := c.sleep(ctx, c.delay(attempt-1)); err != nil {
				return nil, model.Aborted(err)
			}
		}
		if err := ctx.Err(); err != nil {
			return nil, model.Aborted(err)
		}

		res, err := c.synth.Synthesize(ctx, w)
		if err == nil {
			if res.Buffer == nil || res.Buffer.Frames() == 0 {
				lastErr = model.NewError(model.KindOther, "empty_audio", c.synth.Name()+" returned an empty window", nil)
				continue
			}
			return res, nil
		}
		if model.IsAborted(err) {
			return nil, err
		}
		if model.KindOf(err).Fatal() {
			slog.Warn("Window failed with a configuration error, aborting", "engine", c.synth.Name(), "window", index, "error", err)
			return nil, err
		}
		lastErr = err
		slog.Warn("Window synthesis failed", "engine", c.synth.Name(), "window", index, "attempt", attempt+1, "of", c.attempts, "error", err)
	}
	return nil, lastErr
}

func (c *Controller) delay(i int) time.Duration {
	if len(c.backoff) == 0 {
		return 0
	}
	if i >= len(c.backoff) {
		return c.backoff[len(c.backoff)-1]
	}
	return c.backoff[i]
}
