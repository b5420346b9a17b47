package sfx

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"dubstudio/pkg/audio"
)

// Source names where a rendered cue came from.
type Source string

const (
	SourceLibrary    Source = "library"
	SourceProcedural Source = "procedural"
)

// Resolver renders cues on a shared audio context.
type Resolver struct {
	lib      *Library
	ac       *audio.Context
	minScore float64
}

// NewResolver creates a resolver. lib may be nil.
func NewResolver(lib *Library, ac *audio.Context, minScore float64) *Resolver {
	if lib == nil {
		lib = &Library{}
	}
	if minScore <= 0 {
		minScore = 0.5
	}
	return &Resolver{lib: lib, ac: ac, minScore: minScore}
}

// Render returns audio for the cue. It never fails: a missing, unmatched or
// undecodable asset falls back to procedural generation. seconds is the
// placeholder length; library assets keep their own length.
func (r *Resolver) Render(ctx context.Context, label string, seconds float64) (*audio.Buffer, Source) {
	if ctx.Err() == nil {
		if a, score := r.lib.Match(label); a != nil && score >= r.minScore {
			buf, err := r.load(a)
			if err == nil {
				return buf, SourceLibrary
			}
			slog.Warn("SFX asset unusable, generating placeholder", "cue", label, "asset", a.Name, "error", err)
		}
	}
	return Generate(label, seconds, r.ac.SampleRate()), SourceProcedural
}

func (r *Resolver) load(a *Asset) (*audio.Buffer, error) {
	data, err := os.ReadFile(r.lib.Path(a))
	if err != nil {
		return nil, err
	}
	enc := audio.EncodingAuto
	switch strings.ToLower(filepath.Ext(a.File)) {
	case ".wav":
		enc = audio.EncodingWAV
	case ".mp3":
		enc = audio.EncodingMP3
	}
	buf, err := r.ac.Decode(audio.Payload{Data: data, Encoding: enc})
	if err != nil {
		return nil, err
	}
	if a.Gain > 0 && a.Gain != 1 {
		return audio.ApplyGain(buf, a.Gain)
	}
	return buf, nil
}
