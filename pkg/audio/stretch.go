package audio

import (
	"fmt"

	"github.com/gopxl/beep/v2"
)

// resampleQuality matches beep's recommended default for offline work.
const resampleQuality = 4

// Stretch changes the playback rate by ratio. A ratio above 1 plays faster and
// shortens the buffer to roughly Frames()/ratio.
func Stretch(b *Buffer, ratio float64) (*Buffer, error) {
	if ratio <= 0 {
		return nil, fmt.Errorf("invalid stretch ratio %.3f", ratio)
	}
	if ratio == 1 {
		return b.Clone(), nil
	}
	out, err := b.Process(func(s beep.Streamer) beep.Streamer {
		return beep.ResampleRatio(resampleQuality, ratio, s)
	})
	if err != nil {
		return nil, fmt.Errorf("stretch: %w", err)
	}
	return out, nil
}

// Resample converts the buffer to a new sample rate.
func Resample(b *Buffer, sampleRate int) (*Buffer, error) {
	if b.SampleRate == sampleRate {
		return b, nil
	}
	out, err := FromStreamer(
		beep.Resample(resampleQuality, beep.SampleRate(b.SampleRate), beep.SampleRate(sampleRate), b.Streamer()),
		sampleRate, b.Channels())
	if err != nil {
		return nil, fmt.Errorf("resample %d->%d: %w", b.SampleRate, sampleRate, err)
	}
	return out, nil
}
