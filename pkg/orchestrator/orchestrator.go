// Package orchestrator renders a parsed script into audio clips, either one
// synthesis call per segment in concurrent batches or as a single native
// multi-speaker request when the engine supports it.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"dubstudio/pkg/audio"
	"dubstudio/pkg/config"
	"dubstudio/pkg/logging"
	"dubstudio/pkg/model"
	"dubstudio/pkg/sfx"
	"dubstudio/pkg/tracker"
	"dubstudio/pkg/tts"
	"dubstudio/pkg/tts/chunk"
	"dubstudio/pkg/voice"
)

// defaultCueSeconds is the placeholder length of a cue without any timing.
const defaultCueSeconds = 1.5

// Engine is a fallback-wrapped synthesis engine. fallback.Chain implements it.
type Engine interface {
	chunk.Synthesizer
	SupportsMultiSpeaker() bool
	MaxSpeakers() int
}

// Mode selects how dialogue reaches the engine.
type Mode string

const (
	ModeAuto         Mode = "auto"
	ModeSegmented    Mode = "segmented"
	ModeMultiSpeaker Mode = "multi-speaker"
)

// Options wires the orchestrator's collaborators.
type Options struct {
	Settings config.EngineSettings
	// Primary marks the engine whose failures must not degrade to silence.
	Primary bool
	Voices  *voice.Resolver
	SFX     *sfx.Resolver
	Audio   *audio.Context
	Tracker *tracker.Tracker
}

// Request is one script to render.
type Request struct {
	Segments []model.Segment
	Language string
	Speed    float64
	Voices   map[string]string // explicit speaker -> voice id
	TraceID  string
	Mode     Mode
}

// Clip is the audio of one segment, or of the whole script for native
// multi-speaker output.
type Clip struct {
	Segment  model.Segment
	Buffer   *audio.Buffer
	VoiceID  string
	Source   string
	Silenced bool
	Native   bool
}

// Result holds the clips in segment order and their concatenation.
type Result struct {
	Clips       []Clip
	Buffer      *audio.Buffer
	VoiceMap    map[string]string
	Produced    int
	Total       int
	Diagnostics *model.Diagnostics
}

// Orchestrator turns segments into audio on one engine.
type Orchestrator struct {
	engine  Engine
	long    *chunk.Controller
	cfg     config.EngineSettings
	primary bool
	voices  *voice.Resolver
	sfx     *sfx.Resolver
	ac      *audio.Context
	tracker *tracker.Tracker
}

// New creates an orchestrator for engine.
func New(engine Engine, opts Options) *Orchestrator {
	ac := opts.Audio
	if ac == nil {
		ac = audio.NewContext(0, 1)
	}
	res := opts.SFX
	if res == nil {
		res = sfx.NewResolver(nil, ac, 0)
	}
	return &Orchestrator{
		engine:  engine,
		long:    chunk.New(engine, opts.Settings, opts.Tracker),
		cfg:     opts.Settings,
		primary: opts.Primary,
		voices:  opts.Voices,
		sfx:     res,
		ac:      ac,
		tracker: opts.Tracker,
	}
}

// Engine returns the wrapped engine name.
func (o *Orchestrator) Engine() string { return o.engine.Name() }

// Synthesize renders every segment. The output order is the segment order
// regardless of which call finishes first.
func (o *Orchestrator) Synthesize(ctx context.Context, req *Request) (*Result, error) {
	if len(req.Segments) == 0 {
		return nil, model.NewError(model.KindValidation, "empty_input", "script has no segments", nil)
	}
	for i := range req.Segments {
		if err := req.Segments[i].Validate(); err != nil {
			return nil, model.NewError(model.KindValidation, "invalid_segment", err.Error(), nil)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, model.Aborted(err)
	}

	speakers := model.Speakers(req.Segments)
	voiceMap := o.resolveVoices(speakers, req)
	diag := &model.Diagnostics{
		TraceID:       req.TraceID,
		Engine:        o.engine.Name(),
		TotalSegments: len(req.Segments),
	}

	if ok, reason := o.nativeEligible(req, speakers, voiceMap); ok {
		res, err := o.native(ctx, req, speakers, voiceMap, diag)
		if err == nil {
			return res, nil
		}
		if model.IsAborted(err) {
			return nil, err
		}
		slog.Warn("Multi-speaker synthesis failed, retrying per segment", "engine", o.engine.Name(), "trace", req.TraceID, "error", err)
		if o.tracker != nil {
			o.tracker.TrackRecovery(o.engine.Name())
		}
		diag.RecoveryUsed = true
		diag.Note("multi-speaker request failed (" + model.UserMessage(err) + "), rendered per segment")
	} else if req.Mode == ModeMultiSpeaker {
		diag.Note("multi-speaker mode unavailable: " + reason)
	}

	return o.segmented(ctx, req, voiceMap, diag)
}

func (o *Orchestrator) resolveVoices(speakers []string, req *Request) map[string]string {
	if o.voices == nil {
		out := make(map[string]string, len(speakers))
		for _, s := range speakers {
			out[s] = req.Voices[s]
		}
		return out
	}
	return o.voices.ResolveAll(speakers, o.engine.Name(), req.Language, req.Voices)
}

// nativeEligible reports whether the script can go out as one multi-speaker
// request, and why not otherwise.
func (o *Orchestrator) nativeEligible(req *Request, speakers []string, voiceMap map[string]string) (ok bool, reason string) {
	switch {
	case req.Mode == ModeSegmented:
		return false, "segmented mode requested"
	case !o.cfg.MultiSpeaker || !o.engine.SupportsMultiSpeaker():
		return false, o.engine.Name() + " has no native multi-speaker support"
	case len(speakers) < 2:
		return false, "fewer than two speakers"
	}
	if limit := o.engine.MaxSpeakers(); limit > 0 && len(speakers) > limit {
		return false, fmt.Sprintf("%d speakers exceed the engine limit of %d", len(speakers), limit)
	}
	for i := range req.Segments {
		if req.Segments[i].Kind() == model.KindSfx {
			return false, "script contains sound effects"
		}
	}
	for _, s := range speakers {
		if voiceMap[s] == "" {
			return false, "no voice for " + s
		}
	}
	return true, ""
}

func (o *Orchestrator) native(ctx context.Context, req *Request, speakers []string, voiceMap map[string]string, diag *model.Diagnostics) (*Result, error) {
	lines := make([]model.SpeakerLine, 0, len(req.Segments))
	for i := range req.Segments {
		seg := &req.Segments[i]
		lines = append(lines, model.SpeakerLine{Index: seg.Index, Speaker: seg.Speaker(), Text: o.text(seg)})
	}
	voices := make(map[string]string, len(speakers))
	for _, s := range speakers {
		voices[s] = voiceMap[s]
	}

	start := time.Now()
	out, err := o.long.SynthesizeLong(ctx, &model.SynthesisRequest{
		Language:      req.Language,
		Speed:         req.Speed,
		TraceID:       req.TraceID,
		MultiSpeaker:  true,
		Lines:         lines,
		SpeakerVoices: voices,
	})
	if err != nil {
		return nil, err
	}

	diag.Mode = string(ModeMultiSpeaker)
	diag.Merge(out.Diagnostics)
	diag.ProducedSegments = len(req.Segments)
	slog.Info("Rendered script as one multi-speaker request",
		"engine", o.engine.Name(), "speakers", len(speakers), "windows", out.Windows,
		"seconds", out.Buffer.Seconds(), "took", time.Since(start).Round(time.Millisecond))

	return &Result{
		Clips: []Clip{{
			Segment: req.Segments[0],
			Buffer:  out.Buffer,
			Source:  o.engine.Name(),
			Native:  true,
		}},
		Buffer:      out.Buffer,
		VoiceMap:    voiceMap,
		Produced:    len(req.Segments),
		Total:       len(req.Segments),
		Diagnostics: diag,
	}, nil
}

// slot is the result of one segment. Each slot is written by exactly one goroutine.
type slot struct {
	clip Clip
	diag *model.Diagnostics
}

func (o *Orchestrator) segmented(ctx context.Context, req *Request, voiceMap map[string]string, diag *model.Diagnostics) (*Result, error) {
	segs := req.Segments
	batch := max(1, o.cfg.BatchSize)
	slots := make([]slot, len(segs))
	start := time.Now()

	for from := 0; from < len(segs); from += batch {
		if err := ctx.Err(); err != nil {
			return nil, model.Aborted(err)
		}
		to := min(from+batch, len(segs))
		logging.Trace(nil, "Synthesizing batch", "engine", o.engine.Name(), "from", from, "to", to, "of", len(segs))

		g, gctx := errgroup.WithContext(ctx)
		for i := from; i < to; i++ {
			g.Go(func() error {
				return o.render(gctx, req, &segs[i], voiceMap, &slots[i])
			})
		}
		if err := g.Wait(); err != nil {
			if ctx.Err() != nil && !model.IsAborted(err) {
				return nil, model.Aborted(ctx.Err())
			}
			return nil, err
		}
	}

	sort.SliceStable(slots, func(i, j int) bool { return slots[i].clip.Segment.Index < slots[j].clip.Segment.Index })

	res := &Result{VoiceMap: voiceMap, Total: len(segs), Diagnostics: diag}
	bufs := make([]*audio.Buffer, 0, len(slots))
	for i := range slots {
		s := &slots[i]
		diag.Merge(s.diag)
		if s.clip.Silenced {
			diag.SilencedSegments = append(diag.SilencedSegments, s.clip.Segment.Index)
		} else {
			res.Produced++
		}
		res.Clips = append(res.Clips, s.clip)
		bufs = append(bufs, s.clip.Buffer)
	}
	res.Buffer = audio.Concat(o.ac.SampleRate(), bufs...)
	diag.Mode = string(ModeSegmented)
	diag.ProducedSegments = res.Produced

	if len(diag.SilencedSegments) > 0 {
		slog.Warn("Segments replaced by silence", "engine", o.engine.Name(), "trace", req.TraceID, "segments", diag.SilencedSegments)
	}
	slog.Info("Rendered segments", "engine", o.engine.Name(), "produced", res.Produced, "total", res.Total,
		"batch", batch, "took", time.Since(start).Round(time.Millisecond))
	return res, nil
}

// render fills out for one segment. It returns an error only when the job
// must stop: cancellation, a fatal error class, or any failure on the
// primary engine.
func (o *Orchestrator) render(ctx context.Context, req *Request, seg *model.Segment, voiceMap map[string]string, out *slot) error {
	out.clip = Clip{Segment: *seg}
	if err := ctx.Err(); err != nil {
		return model.Aborted(err)
	}

	if seg.Kind() == model.KindSfx {
		buf, src := o.sfx.Render(ctx, seg.Text(), cueSeconds(seg))
		out.clip.Buffer = buf
		out.clip.Source = string(src)
		return nil
	}

	text := o.text(seg)
	if strings.TrimSpace(text) == "" {
		out.clip.Buffer = o.ac.Silence(seg.Estimate)
		out.clip.Source = "empty"
		return nil
	}

	speaker := seg.Speaker()
	out.clip.VoiceID = voiceMap[speaker]
	res, err := o.long.SynthesizeLong(ctx, &model.SynthesisRequest{
		Text:     text,
		VoiceID:  out.clip.VoiceID,
		Language: req.Language,
		Speed:    req.Speed,
		Emotion:  seg.EmotionOf(),
		TraceID:  req.TraceID,
	})
	if err == nil {
		out.clip.Buffer = res.Buffer
		out.clip.Source = o.engine.Name()
		out.diag = res.Diagnostics
		return nil
	}
	if model.IsAborted(err) {
		return err
	}
	if model.KindOf(err).Fatal() {
		slog.Error("Segment failed with a fatal error", "engine", o.engine.Name(), "segment", seg.Index, "speaker", speaker, "error", err)
		return err
	}
	if o.primary {
		slog.Error("Segment failed on the primary engine", "engine", o.engine.Name(), "segment", seg.Index, "speaker", speaker, "error", err)
		return model.NewError(model.KindPartialSegmentFailure, "segment_failed",
			fmt.Sprintf("segment %d (%s) could not be synthesized: %s", seg.Index, speaker, model.UserMessage(err)), err)
	}

	slog.Warn("Segment failed, inserting silence", "engine", o.engine.Name(), "segment", seg.Index, "speaker", speaker, "seconds", seg.Estimate, "error", err)
	if o.tracker != nil {
		o.tracker.TrackSilence(o.engine.Name())
	}
	out.clip.Buffer = o.ac.Silence(seg.Estimate)
	out.clip.Source = "silence"
	out.clip.Silenced = true
	return nil
}

// text is what the engine speaks for seg, with a tone hint when enabled.
func (o *Orchestrator) text(seg *model.Segment) string {
	text := seg.SpokenText()
	if o.cfg.ToneHints && seg.Kind() == model.KindDialogue {
		return tts.WithToneHint(text, seg.EmotionOf(), "")
	}
	return text
}

func cueSeconds(seg *model.Segment) float64 {
	if d := seg.TargetDuration(); d > 0 {
		return d
	}
	if seg.Estimate > 0 {
		return seg.Estimate
	}
	return defaultCueSeconds
}
