// Package mixer places synthesized clips on the background timeline with
// time-fit, ducking and a dialogue-band EQ cut.
package mixer

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/gopxl/beep/v2"

	"dubstudio/pkg/audio"
	"dubstudio/pkg/config"
	"dubstudio/pkg/model"
)

// Placement is one clip to lay on the timeline at its segment's start.
type Placement struct {
	Segment model.Segment
	Buffer  *audio.Buffer
}

// Placed records where a clip landed and how it was fitted.
type Placed struct {
	Index     int
	Speaker   string
	Kind      model.Kind
	Start     float64
	Target    float64 // 0 when the segment had no end
	Natural   float64
	Generated float64 // after time-fit
	Ratio     float64
}

// Output is the final mix.
type Output struct {
	Buffer  *audio.Buffer
	Placed  []Placed
	Skipped []int
}

// Mixer renders mixes with fixed settings.
type Mixer struct {
	cfg config.MixerConfig
}

// New creates a mixer.
func New(cfg config.MixerConfig) *Mixer {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 48000
	}
	if cfg.MinFitRatio <= 0 {
		cfg.MinFitRatio = 0.7
	}
	if cfg.MaxFitRatio < cfg.MinFitRatio {
		cfg.MaxFitRatio = math.Max(1.42, cfg.MinFitRatio)
	}
	if cfg.SfxGain <= 0 {
		cfg.SfxGain = 1
	}
	return &Mixer{cfg: cfg}
}

// FitRatio is the playback rate that makes natural seconds fill target
// seconds, clamped to the configured range. Windows shorter than the minimum
// fit window are left alone.
func (m *Mixer) FitRatio(natural, target float64) float64 {
	minWindow := m.cfg.MinFitWindow.Std().Seconds()
	if minWindow <= 0 {
		minWindow = 0.06
	}
	if natural <= 0 || target <= minWindow || math.IsInf(target, 0) || math.IsNaN(target) {
		return 1
	}
	return math.Min(m.cfg.MaxFitRatio, math.Max(m.cfg.MinFitRatio, natural/target))
}

// Mix lays clips over background. background may be nil, in which case the
// timeline is as long as the clips need. Clips starting past the end of the
// background are skipped and listed in diag.
func (m *Mixer) Mix(background *audio.Buffer, clips []Placement, diag *model.Diagnostics) (*Output, error) {
	if diag == nil {
		diag = &model.Diagnostics{}
	}
	rate := m.cfg.SampleRate
	bed, err := m.prepareBed(background, rate)
	if err != nil {
		return nil, model.NewError(model.KindRenderFailure, "mix_failed", "background could not be prepared", err)
	}
	channels := bed.Channels()
	limit := bed.Frames()
	bounded := background != nil && limit > 0

	out := &Output{}
	type laid struct {
		buf   *audio.Buffer
		start int
		sfx   bool
	}
	var layers []laid

	for _, p := range clips {
		seg := p.Segment
		if p.Buffer.Frames() == 0 {
			continue
		}
		start := audio.FramesFor(rate, seg.Start)
		if bounded && start >= limit {
			slog.Warn("Segment starts past the end of the track, skipping", "segment", seg.Index, "start", seg.Start, "track", bed.Seconds())
			out.Skipped = append(out.Skipped, seg.Index)
			diag.SkippedSegments = append(diag.SkippedSegments, seg.Index)
			continue
		}

		buf, err := conform(p.Buffer, rate, channels)
		if err != nil {
			return nil, model.NewError(model.KindRenderFailure, "mix_failed", fmt.Sprintf("segment %d could not be resampled", seg.Index), err)
		}
		isSfx := seg.Kind() == model.KindSfx
		placed := Placed{
			Index:   seg.Index,
			Speaker: seg.Speaker(),
			Kind:    seg.Kind(),
			Start:   seg.Start,
			Target:  seg.TargetDuration(),
			Natural: buf.Seconds(),
			Ratio:   1,
		}
		if !isSfx {
			if ratio := m.FitRatio(buf.Seconds(), placed.Target); math.Abs(ratio-1) > 1e-3 {
				if buf, err = audio.Stretch(buf, ratio); err != nil {
					return nil, model.NewError(model.KindRenderFailure, "mix_failed", fmt.Sprintf("segment %d could not be time-fitted", seg.Index), err)
				}
				placed.Ratio = ratio
			}
		}
		placed.Generated = buf.Seconds()
		out.Placed = append(out.Placed, placed)
		layers = append(layers, laid{buf: buf, start: start, sfx: isSfx})
	}

	if len(layers) == 0 {
		diag.EmptyMix = true
		slog.Warn("Mix has no segments, rendering background only", "clips", len(clips), "skipped", len(out.Skipped))
	}

	total := bed.Frames()
	for _, l := range layers {
		total = max(total, l.start+l.buf.Frames())
	}
	if total == 0 {
		total = rate
	}
	bed.PadTo(total)

	// Ducking gain and the EQ blend mask share the same fade shape.
	fade := audio.FramesFor(rate, m.fade())
	gain := filled(total, 1)
	mask := make([]float64, total)
	for _, l := range layers {
		end := l.start + l.buf.Frames()
		envelope(gain, l.start, end, fade, 1, m.cfg.DuckLevel, math.Min)
		if !l.sfx {
			envelope(mask, l.start, end, fade, 0, 1, math.Max)
		}
	}

	if m.cfg.EQGainDB != 0 {
		if bed, err = m.cut(bed, mask); err != nil {
			return nil, model.NewError(model.KindRenderFailure, "mix_failed", "dialogue EQ failed", err)
		}
	}
	bed, err = bed.Process(func(s beep.Streamer) beep.Streamer {
		return &audio.Automation{Streamer: s, Gain: gain}
	})
	if err != nil {
		return nil, model.NewError(model.KindRenderFailure, "mix_failed", "ducking failed", err)
	}
	bed.PadTo(total)
	if bed.Channels() != channels {
		bed = bed.WithChannels(channels)
	}

	for _, l := range layers {
		level := 1.0
		if l.sfx {
			level = m.cfg.SfxGain
		}
		for c := range bed.Data {
			dst := bed.Data[c][l.start:]
			for i, v := range l.buf.Data[c] {
				dst[i] += v * level
			}
		}
	}
	bed.Clamp()

	out.Buffer = bed
	return out, nil
}

func (m *Mixer) fade() float64 {
	if f := m.cfg.Fade.Std().Seconds(); f > 0 {
		return f
	}
	return 0.15
}

// prepareBed returns a private copy of the background at the mix rate, or an
// empty timeline when there is none.
func (m *Mixer) prepareBed(background *audio.Buffer, rate int) (*audio.Buffer, error) {
	channels := m.cfg.Channels
	if background == nil || background.Frames() == 0 {
		return audio.NewBuffer(rate, max(1, channels), 0), nil
	}
	if channels <= 0 {
		channels = background.Channels()
	}
	bed, err := conform(background, rate, channels)
	if err != nil {
		return nil, err
	}
	if bed == background {
		bed = bed.Clone()
	}
	return bed, nil
}

// cut blends in a peaking-filtered copy of bed where mask is set.
func (m *Mixer) cut(bed *audio.Buffer, mask []float64) (*audio.Buffer, error) {
	active := false
	for _, v := range mask {
		if v > 0 {
			active = true
			break
		}
	}
	if !active {
		return bed, nil
	}
	center, q := m.cfg.EQCenterHz, m.cfg.EQQ
	if center <= 0 {
		center = 1800
	}
	if q <= 0 {
		q = 0.9
	}
	filtered, err := bed.Process(func(s beep.Streamer) beep.Streamer {
		return audio.NewPeaking(s, float64(bed.SampleRate), center, q, m.cfg.EQGainDB)
	})
	if err != nil {
		return nil, err
	}
	filtered = filtered.WithChannels(bed.Channels())
	out := bed.Clone()
	for c := range out.Data {
		src := filtered.Data[c]
		for i, w := range mask {
			if w > 0 && i < len(src) {
				out.Data[c][i] = (1-w)*out.Data[c][i] + w*src[i]
			}
		}
	}
	out.Clamp()
	return out, nil
}

func conform(b *audio.Buffer, rate, channels int) (*audio.Buffer, error) {
	out := b
	if out.SampleRate != rate {
		r, err := audio.Resample(out, rate)
		if err != nil {
			return nil, err
		}
		out = r
	}
	if channels > 0 && out.Channels() != channels {
		out = out.WithChannels(channels)
	}
	return out, nil
}

func filled(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

// envelope merges a trapezoid into curve: a linear fade from rest to level
// over the fade frames before start, level on [start, end), and a fade back
// to rest after end.
func envelope(curve []float64, start, end, fade int, rest, level float64, merge func(a, b float64) float64) {
	from := max(0, start-fade)
	to := min(len(curve), end+fade)
	if from >= to {
		return
	}
	shape := make([]float64, to-from)
	audio.LinearRamp(shape, 0, start-from, rest, level)
	for i := max(0, start-from); i < min(len(shape), end-from); i++ {
		shape[i] = level
	}
	audio.LinearRamp(shape, end-from, len(shape), level, rest)
	for i, v := range shape {
		curve[from+i] = merge(curve[from+i], v)
	}
}
