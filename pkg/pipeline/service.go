// Package pipeline runs a whole render: parse, synthesize, separate, mix and
// score. Manager wraps it in persisted background jobs.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"dubstudio/pkg/alignment"
	"dubstudio/pkg/audio"
	"dubstudio/pkg/mixer"
	"dubstudio/pkg/model"
	"dubstudio/pkg/orchestrator"
	"dubstudio/pkg/script"
	"dubstudio/pkg/separation"
)

// Request is one render.
type Request struct {
	Script   string            `json:"script"`
	Engine   string            `json:"engine,omitempty"`
	Language string            `json:"language,omitempty"`
	Speed    float64           `json:"speed,omitempty"`
	Voices   map[string]string `json:"voices,omitempty"`
	Mode     orchestrator.Mode `json:"mode,omitempty"`
	// Source is the encoded (wav or mp3) audio to dub over.
	Source []byte `json:"sourceAudio,omitempty"`
	// SourceText is the prose (plain or HTML) the script was adapted from,
	// used to restore speaker attribution on narrator lines.
	SourceText string `json:"sourceText,omitempty"`
	TraceID    string `json:"-"`
}

// Result is a finished render.
type Result struct {
	Audio       *audio.Buffer
	WAV         []byte
	Segments    []model.Segment
	VoiceMap    map[string]string
	Report      *model.AlignmentReport
	Diagnostics *model.Diagnostics
}

// Options wires a Service.
type Options struct {
	Parser    *script.Parser
	Engines   map[string]*orchestrator.Orchestrator
	Active    string
	Separator *separation.Separator
	Mixer     *mixer.Mixer
	Reporter  *alignment.Reporter
	Audio     *audio.Context
	// Mapping is the configured speaker -> voice map; request voices win.
	Mapping map[string]string
}

// Service renders scripts.
type Service struct {
	parser    *script.Parser
	engines   map[string]*orchestrator.Orchestrator
	active    string
	separator *separation.Separator
	mixer     *mixer.Mixer
	reporter  *alignment.Reporter
	ac        *audio.Context
	mapping   map[string]string
}

// NewService creates a service.
func NewService(opts Options) *Service {
	if opts.Parser == nil {
		opts.Parser = script.NewParser(script.DefaultOptions())
	}
	if opts.Reporter == nil {
		opts.Reporter = alignment.NewReporter(alignment.DefaultThresholds)
	}
	return &Service{
		parser:    opts.Parser,
		engines:   opts.Engines,
		active:    opts.Active,
		separator: opts.Separator,
		mixer:     opts.Mixer,
		reporter:  opts.Reporter,
		ac:        opts.Audio,
		mapping:   opts.Mapping,
	}
}

// Engines lists the engines the service can render with.
func (s *Service) Engines() []string {
	out := make([]string, 0, len(s.engines))
	for name := range s.engines {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Parser returns the script parser.
func (s *Service) Parser() *script.Parser { return s.parser }

// Generate renders req. Source separation runs alongside synthesis.
func (s *Service) Generate(ctx context.Context, req *Request) (*Result, error) {
	start := time.Now()
	if req.TraceID == "" {
		req.TraceID = uuid.NewString()
	}
	segs := s.parser.Parse(req.Script)
	if len(segs) == 0 {
		return nil, model.NewError(model.KindValidation, "empty_input", "the script has no lines to render", nil)
	}
	if req.SourceText != "" {
		if n := s.parser.Attribute(segs, req.SourceText); n > 0 {
			slog.Debug("Restored speaker attribution", "trace", req.TraceID, "segments", n)
		}
	}
	name := req.Engine
	if name == "" {
		name = s.active
	}
	orch, ok := s.engines[name]
	if !ok {
		return nil, model.NewError(model.KindValidation, "unknown_engine", fmt.Sprintf("engine %q is not available", name), nil)
	}

	var source *audio.Buffer
	if len(req.Source) > 0 {
		b, err := s.ac.Decode(audio.Payload{Data: req.Source})
		if err != nil {
			return nil, model.NewError(model.KindValidation, "bad_source", "source audio could not be decoded", err)
		}
		source = b
	}

	slog.Info("Render started", "trace", req.TraceID, "engine", name, "segments", len(segs), "source", source != nil)

	var (
		synth *orchestrator.Result
		stems *separation.StemPack
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		r, err := orch.Synthesize(gctx, &orchestrator.Request{
			Segments: segs,
			Language: req.Language,
			Speed:    req.Speed,
			Voices:   s.voices(req.Voices),
			TraceID:  req.TraceID,
			Mode:     req.Mode,
		})
		synth = r
		return err
	})
	if source != nil && s.separator != nil {
		g.Go(func() error {
			p, err := s.separator.Separate(gctx, source)
			stems = p
			return err
		})
	}
	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, model.Aborted(ctx.Err())
		}
		return nil, err
	}

	diag := synth.Diagnostics
	var background *audio.Buffer
	if stems != nil {
		background = stems.Background
		diag.SeparationApproximate = stems.Approximate
	}

	if err := ctx.Err(); err != nil {
		return nil, model.Aborted(err)
	}
	mixed, err := s.mixer.Mix(background, placements(synth, source != nil), diag)
	if err != nil {
		return nil, err
	}

	produced := producedAfterMix(synth, mixed.Skipped)
	report := s.reporter.Score(synth.Total, produced, alignment.Entries(mixed.Placed))
	diag.ProducedSegments = produced

	wav, err := audio.EncodeWAV(mixed.Buffer)
	if err != nil {
		return nil, model.NewError(model.KindRenderFailure, "encode_failed", "the final mix could not be encoded", err)
	}

	slog.Info("Render finished", "trace", req.TraceID, "engine", name, "mode", diag.Mode,
		"produced", produced, "total", synth.Total, "lipSync", report.LipSyncScore, "ok", report.OK,
		"seconds", mixed.Buffer.Seconds(), "took", time.Since(start).Round(time.Millisecond))

	return &Result{
		Audio:       mixed.Buffer,
		WAV:         wav,
		Segments:    segs,
		VoiceMap:    synth.VoiceMap,
		Report:      report,
		Diagnostics: diag,
	}, nil
}

// producedAfterMix discounts the clips the mixer dropped. Silenced clips are
// already outside synth.Produced.
func producedAfterMix(synth *orchestrator.Result, skipped []int) int {
	silenced := make(map[int]bool, len(synth.Diagnostics.SilencedSegments))
	for _, idx := range synth.Diagnostics.SilencedSegments {
		silenced[idx] = true
	}
	produced := synth.Produced
	for _, idx := range skipped {
		if !silenced[idx] {
			produced--
		}
	}
	return max(produced, 0)
}

func (s *Service) voices(req map[string]string) map[string]string {
	if len(s.mapping) == 0 {
		return req
	}
	out := make(map[string]string, len(s.mapping)+len(req))
	for k, v := range s.mapping {
		out[k] = v
	}
	for k, v := range req {
		if strings.TrimSpace(v) != "" {
			out[k] = v
		}
	}
	return out
}

// placements lays the clips on the timeline. A script without any explicit
// timestamp and without source audio is read back to back, so clips follow
// each other at their real lengths rather than the estimates.
func placements(r *orchestrator.Result, hasSource bool) []mixer.Placement {
	sequential := !hasSource
	for _, c := range r.Clips {
		if c.Segment.Timed {
			sequential = false
			break
		}
	}

	out := make([]mixer.Placement, 0, len(r.Clips))
	cursor := 0.0
	for _, c := range r.Clips {
		seg := c.Segment
		if c.Native {
			// One clip for the whole script: no per-line window to fit.
			seg.HasEnd = false
			seg.End = 0
		}
		if sequential {
			seg.Start = cursor
			cursor += c.Buffer.Seconds()
		}
		out = append(out, mixer.Placement{Segment: seg, Buffer: c.Buffer})
	}
	return out
}
