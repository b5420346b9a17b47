// Package fallback runs a synthesis request across an engine's models in
// preference order and decides, per failure kind, whether to retry, advance
// or abort.
package fallback

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"dubstudio/pkg/audio"
	"dubstudio/pkg/cache"
	"dubstudio/pkg/config"
	"dubstudio/pkg/logging"
	"dubstudio/pkg/metrics"
	"dubstudio/pkg/model"
	"dubstudio/pkg/tracker"
	"dubstudio/pkg/tts"
)

const (
	// networkRetries bounds same-model retries of unreachable errors.
	networkRetries = 2
	// otherRetries is the single retry granted to unclassified failures.
	otherRetries = 1
	// maxCandidates bounds how far discovery can lengthen the chain.
	maxCandidates = 4
)

// Options carries the shared collaborators of a chain. All but Audio may be nil.
type Options struct {
	Audio   *audio.Context
	Models  *ModelCache
	Clips   *cache.Clips
	Tracker *tracker.Tracker
}

// Result is one decoded clip.
type Result struct {
	Buffer      *audio.Buffer
	Model       string
	Cached      bool
	Diagnostics *model.Diagnostics
}

// Chain wraps one engine and its ordered model list.
type Chain struct {
	provider tts.Provider
	models   []string
	backoff  []time.Duration
	ac       *audio.Context
	cache    *ModelCache
	clips    *cache.Clips
	tracker  *tracker.Tracker
	sleep    func(ctx context.Context, d time.Duration) error
}

// New builds a chain for p using the engine's static model preference.
func New(p tts.Provider, s config.EngineSettings, opts Options) *Chain {
	ac := opts.Audio
	if ac == nil {
		ac = audio.NewContext(0, 0)
	}
	return &Chain{
		provider: p,
		models:   s.Models,
		backoff:  s.BackoffDurations(),
		ac:       ac,
		cache:    opts.Models,
		clips:    opts.Clips,
		tracker:  opts.Tracker,
		sleep:    sleepCtx,
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

// Name is the engine id.
func (c *Chain) Name() string { return c.provider.Name() }

// Provider returns the wrapped engine.
func (c *Chain) Provider() tts.Provider { return c.provider }

// Audio returns the render context clips are decoded on.
func (c *Chain) Audio() *audio.Context { return c.ac }

// SupportsMultiSpeaker reports whether the engine takes native multi-speaker requests.
func (c *Chain) SupportsMultiSpeaker() bool { return tts.SupportsMultiSpeaker(c.provider) }

// MaxSpeakers is the engine's multi-speaker limit, or 0 when unbounded.
func (c *Chain) MaxSpeakers() int {
	if l, ok := c.provider.(tts.SpeakerLimiter); ok {
		return l.MaxSpeakers()
	}
	return 0
}

// Candidates returns the models to try in order. An engine without models
// yields a single empty entry meaning "engine default".
func (c *Chain) Candidates(ctx context.Context, pinned string) []string {
	if pinned != "" {
		return []string{pinned}
	}
	list := c.models
	if lister, ok := c.provider.(tts.ModelLister); ok && c.cache != nil {
		cred := ""
		if cr, ok := c.provider.(tts.Credentialed); ok {
			cred = cr.CredentialID()
		}
		discovered, err := c.cache.RefreshIfStale(ctx, CacheKey(c.Name(), cred), lister.Models)
		if err != nil && !model.IsAborted(err) {
			slog.Debug("Model discovery failed, using static list", "engine", c.Name(), "error", err)
		}
		list = MergeModels(c.models, discovered)
	}
	if len(list) > maxCandidates {
		list = list[:maxCandidates]
	}
	if len(list) == 0 {
		return []string{""}
	}
	return list
}

// Synthesize renders req, consulting the clip cache first. Failures are
// classified *model.Error values or an Aborted error.
func (c *Chain) Synthesize(ctx context.Context, req *model.SynthesisRequest) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, model.Aborted(err)
	}

	candidates := c.Candidates(ctx, req.Model)
	key := c.clipKey(req, candidates[0])
	if res, ok := c.cached(ctx, key); ok {
		return res, nil
	}

	var lastErr error
	for i, m := range candidates {
		if i > 0 {
			if c.tracker != nil {
				c.tracker.TrackFallback(c.Name())
			}
			slog.Info("Synthesis falling back to next model", "engine", c.Name(), "model", m, "previous", candidates[i-1], "error", lastErr)
		}

		res, err := c.tryModel(ctx, req, m)
		if err == nil {
			// The key names the preferred model; fallback audio is not cached under it.
			if i == 0 {
				c.store(ctx, key, res.Buffer)
			}
			return res, nil
		}
		if model.IsAborted(err) {
			return nil, err
		}
		lastErr = err

		switch kind := model.KindOf(err); {
		case kind.Fatal():
			return nil, err
		case kind == model.KindQuotaOrRateLimited, kind == model.KindModelUnavailable, kind == model.KindNetworkUnreachable:
			continue
		default:
			// Unclassified failures got their retry in tryModel.
			return nil, err
		}
	}
	return nil, lastErr
}

// tryModel calls one model, retrying network failures a bounded number of
// times and unclassified failures once.
func (c *Chain) tryModel(ctx context.Context, req *model.SynthesisRequest, m string) (*Result, error) {
	call := *req
	call.Model = m

	networkLeft, otherLeft := networkRetries, otherRetries
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, model.Aborted(err)
		}

		start := time.Now()
		res, err := c.call(ctx, &call)
		if err == nil {
			if c.tracker != nil {
				c.tracker.TrackAPISuccess(c.Name(), time.Since(start).Seconds())
			}
			return res, nil
		}
		if model.IsAborted(err) {
			return nil, err
		}

		kind := model.KindOf(err)
		if c.tracker != nil {
			c.tracker.TrackAPIFailure(c.Name(), kind.String())
		}

		switch {
		case kind == model.KindNetworkUnreachable && networkLeft > 0:
			networkLeft--
		case kind == model.KindOther && otherLeft > 0:
			otherLeft--
		default:
			return nil, err
		}

		metrics.RecordRetry(c.Name(), "call")
		delay := c.delay(attempt)
		logging.Trace(nil, "Retrying synthesis call", "engine", c.Name(), "model", m, "kind", kind.String(), "delay", delay)
		if err := c.sleep(ctx, delay); err != nil {
			return nil, model.Aborted(err)
		}
	}
}

func (c *Chain) delay(attempt int) time.Duration {
	if len(c.backoff) == 0 {
		return 0
	}
	if attempt >= len(c.backoff) {
		return c.backoff[len(c.backoff)-1]
	}
	return c.backoff[attempt]
}

// call runs the engine once and decodes its payload.
func (c *Chain) call(ctx context.Context, req *model.SynthesisRequest) (*Result, error) {
	a, err := c.provider.Synthesize(ctx, req)
	if err != nil {
		return nil, tts.ClassifyError(c.Name(), err)
	}
	if err := tts.VerifyAudio(c.Name(), a); err != nil {
		return nil, err
	}
	buf, err := c.ac.Decode(a.Payload())
	if err != nil {
		if errors.Is(err, audio.ErrContextClosed) {
			// The context was replaced mid-call; the next attempt uses the new one.
			return nil, model.NewError(model.KindOther, "context_closed", c.Name()+": render context closed", err)
		}
		return nil, model.NewError(model.KindOther, "decode_failed", c.Name()+" returned undecodable audio", err)
	}
	m := a.Model
	if m == "" {
		m = req.Model
	}
	return &Result{Buffer: buf, Model: m, Diagnostics: a.Diagnostics}, nil
}

func (c *Chain) clipKey(req *model.SynthesisRequest, preferred string) string {
	parts := []string{
		preferred,
		req.VoiceID,
		req.Language,
		strconv.FormatFloat(req.Speed, 'f', 3, 64),
		string(req.Emotion),
		req.Style,
		req.ScriptText(),
		strconv.Itoa(c.ac.SampleRate()),
	}
	if req.MultiSpeaker {
		speakers := make([]string, 0, len(req.SpeakerVoices))
		for s, v := range req.SpeakerVoices {
			speakers = append(speakers, s+"="+v)
		}
		sort.Strings(speakers)
		parts = append(parts, strings.Join(speakers, ","))
	}
	return cache.Key(c.Name(), parts...)
}

func (c *Chain) cached(ctx context.Context, key string) (*Result, bool) {
	if c.clips == nil {
		return nil, false
	}
	data, ok := c.clips.Get(ctx, key)
	if !ok {
		return nil, false
	}
	buf, err := c.ac.Decode(audio.Payload{Data: data, Encoding: audio.EncodingWAV})
	if err != nil {
		slog.Warn("Discarding undecodable cached clip", "key", key, "error", err)
		return nil, false
	}
	return &Result{Buffer: buf, Cached: true}, true
}

func (c *Chain) store(ctx context.Context, key string, buf *audio.Buffer) {
	if c.clips == nil {
		return
	}
	data, err := audio.EncodeWAV(buf)
	if err != nil {
		slog.Warn("Failed to encode clip for cache", "error", err)
		return
	}
	c.clips.Set(ctx, key, data)
}
