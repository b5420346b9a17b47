// Package separation splits a source mix into a speech stem and a background
// stem, through a remote separation model when one is configured and a local
// band-limited approximation otherwise.
package separation

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"mime"
	"strings"
	"time"

	"github.com/gopxl/beep/v2"
	"golang.org/x/sync/errgroup"

	"dubstudio/pkg/audio"
	"dubstudio/pkg/config"
	"dubstudio/pkg/metrics"
	"dubstudio/pkg/model"
	"dubstudio/pkg/request"
)

// Mode names the path a separation took.
type Mode string

const (
	ModeRemote Mode = "remote"
	ModeLocal  Mode = "local"
)

// Stem names understood by the separation backend.
const (
	StemSpeech     = "speech"
	StemBackground = "background"
)

// StemPack is the result of a separation. All buffers share the source's
// channel count and frame count.
type StemPack struct {
	FullMix    *audio.Buffer
	Speech     *audio.Buffer
	Background *audio.Buffer
	Duration   float64
	Mode       Mode
	// Approximate is set for the local path, which filters and subtracts
	// rather than truly separating sources.
	Approximate bool
}

// Separator produces stem packs.
type Separator struct {
	cfg    config.SeparationConfig
	client *request.Client
	ac     *audio.Context
}

// New creates a separator. client may be nil when no remote URL is configured.
func New(cfg config.SeparationConfig, client *request.Client, ac *audio.Context) *Separator {
	return &Separator{cfg: cfg, client: client, ac: ac}
}

type separateRequest struct {
	Stem   string `json:"stem"`
	Format string `json:"format"`
	Audio  string `json:"audio"`
}

// Separate splits source. A remote failure falls back to the local path; only
// cancellation and unusable input are returned as errors.
func (s *Separator) Separate(ctx context.Context, source *audio.Buffer) (*StemPack, error) {
	if source.Frames() == 0 {
		return nil, model.NewError(model.KindValidation, "empty_source", "source audio is empty", nil)
	}
	if err := ctx.Err(); err != nil {
		return nil, model.Aborted(err)
	}

	start := time.Now()
	var pack *StemPack
	if s.cfg.URL != "" && s.client != nil {
		speech, background, err := s.remote(ctx, source)
		switch {
		case err == nil:
			pack = &StemPack{Speech: speech, Background: background, Mode: ModeRemote}
		case ctx.Err() != nil:
			return nil, model.Aborted(ctx.Err())
		default:
			slog.Warn("Remote separation failed, using local approximation", "error", err)
		}
	}
	if pack == nil {
		var err error
		if pack, err = s.Local(source); err != nil {
			return nil, model.NewError(model.KindRenderFailure, "separation_failed", "local separation failed", err)
		}
	}

	normalize(pack, source)
	metrics.SeparationMode.WithLabelValues(string(pack.Mode)).Inc()
	slog.Info("Separated source audio", "mode", pack.Mode, "seconds", pack.Duration, "took", time.Since(start).Round(time.Millisecond))
	return pack, nil
}

// remote asks the backend for both stems concurrently.
func (s *Separator) remote(ctx context.Context, source *audio.Buffer) (speech, background *audio.Buffer, err error) {
	wav, err := audio.EncodeWAV(source)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode source: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString(wav)

	if t := s.cfg.Timeout.Std(); t > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		b, err := s.stem(gctx, StemSpeech, encoded)
		speech = b
		return err
	})
	g.Go(func() error {
		b, err := s.stem(gctx, StemBackground, encoded)
		background = b
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return speech, background, nil
}

func (s *Separator) stem(ctx context.Context, stem, encoded string) (*audio.Buffer, error) {
	u := strings.TrimRight(s.cfg.URL, "/") + "/separate"
	resp, err := s.client.PostJSON(ctx, u, separateRequest{Stem: stem, Format: "wav", Audio: encoded}, nil)
	if err != nil {
		return nil, fmt.Errorf("%s stem: %w", stem, err)
	}
	if !resp.OK() {
		return nil, fmt.Errorf("%s stem: status %d: %s", stem, resp.Status, model.Truncate(string(resp.Body), 200))
	}
	buf, err := s.ac.Decode(audio.Payload{Data: resp.Body, Encoding: encodingOf(resp.Header.Get("Content-Type"))})
	if err != nil {
		return nil, fmt.Errorf("%s stem: %w", stem, err)
	}
	return buf, nil
}

func encodingOf(contentType string) audio.Encoding {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return audio.EncodingAuto
	}
	switch mt {
	case "audio/wav", "audio/x-wav", "audio/wave":
		return audio.EncodingWAV
	case "audio/mpeg", "audio/mp3":
		return audio.EncodingMP3
	}
	return audio.EncodingAuto
}

// Local derives a speech-emphasized stem with a highpass, lowpass and
// compressor chain over the dialogue band, then subtracts an attenuated copy
// of it from the mix to approximate the background.
func (s *Separator) Local(source *audio.Buffer) (*StemPack, error) {
	rate := float64(source.SampleRate)
	low, high := s.cfg.LowCut, s.cfg.HighCut
	if low <= 0 {
		low = 110
	}
	if high <= low {
		high = 5200
	}
	comp := audio.CompressorSettings(s.cfg.Compressor)
	if comp.Ratio <= 0 {
		comp = audio.DefaultCompressor
	}

	speech, err := source.Process(func(st beep.Streamer) beep.Streamer {
		hp := audio.NewHighPass(st, rate, low, 0.707)
		lp := audio.NewLowPass(hp, rate, high, 0.707)
		return audio.NewCompressor(lp, rate, comp)
	})
	if err != nil {
		return nil, err
	}
	speech = speech.WithChannels(source.Channels())
	speech.PadTo(source.Frames())
	speech.Clamp()

	return &StemPack{
		Speech:      speech,
		Background:  Subtract(source, speech, s.attenuation()),
		Mode:        ModeLocal,
		Approximate: true,
	}, nil
}

func (s *Separator) attenuation() float64 {
	if s.cfg.Attenuation <= 0 {
		return 0.76
	}
	return s.cfg.Attenuation
}

// Subtract returns mix - gain*part sample by sample, clamped to [-1, 1].
// part is read as silence past its end.
func Subtract(mix, part *audio.Buffer, gain float64) *audio.Buffer {
	out := mix.Clone()
	for c := range out.Data {
		src := part.Data[c%len(part.Data)]
		ch := out.Data[c]
		for i := range ch {
			if i < len(src) {
				ch[i] -= gain * src[i]
			}
		}
	}
	out.Clamp()
	return out
}

// normalize brings both stems to the source's rate and channel count and pads
// every buffer to the longest one. Nothing is truncated.
func normalize(p *StemPack, source *audio.Buffer) {
	conform := func(b *audio.Buffer) *audio.Buffer {
		if b == nil {
			return audio.NewBuffer(source.SampleRate, source.Channels(), source.Frames())
		}
		if b.SampleRate != source.SampleRate {
			r, err := audio.Resample(b, source.SampleRate)
			if err != nil {
				slog.Warn("Stem resample failed", "error", err)
				return audio.NewBuffer(source.SampleRate, source.Channels(), source.Frames())
			}
			b = r
		}
		if b.Channels() != source.Channels() {
			b = b.WithChannels(source.Channels())
		}
		return b
	}

	p.FullMix = source.Clone()
	p.Speech = conform(p.Speech)
	p.Background = conform(p.Background)

	frames := max(p.FullMix.Frames(), p.Speech.Frames(), p.Background.Frames())
	for _, b := range []*audio.Buffer{p.FullMix, p.Speech, p.Background} {
		b.PadTo(frames)
	}
	p.Duration = float64(frames) / float64(source.SampleRate)
}
