// Package audio holds the in-memory PCM buffer, the rendering context that
// decodes and encodes engine output, and the DSP used by the separator and mixer.
package audio

import (
	"errors"
	"fmt"
	"math"

	"github.com/gopxl/beep/v2"
)

// Buffer is owned PCM sample data, one float64 slice per channel in [-1, 1].
type Buffer struct {
	SampleRate int
	Data       [][]float64
}

// ErrEmptyBuffer is returned for buffers with zero frames.
var ErrEmptyBuffer = errors.New("audio buffer has no frames")

// NewBuffer allocates a zeroed buffer.
func NewBuffer(sampleRate, channels, frames int) *Buffer {
	if channels < 1 {
		channels = 1
	}
	if frames < 0 {
		frames = 0
	}
	data := make([][]float64, channels)
	for c := range data {
		data[c] = make([]float64, frames)
	}
	return &Buffer{SampleRate: sampleRate, Data: data}
}

// Silence returns a zeroed buffer of the given length in seconds.
func Silence(sampleRate, channels int, seconds float64) *Buffer {
	return NewBuffer(sampleRate, channels, FramesFor(sampleRate, seconds))
}

// FramesFor converts seconds into a frame count at the given rate.
func FramesFor(sampleRate int, seconds float64) int {
	if seconds <= 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return 0
	}
	return int(math.Round(seconds * float64(sampleRate)))
}

// Frames returns the number of sample frames.
func (b *Buffer) Frames() int {
	if b == nil || len(b.Data) == 0 {
		return 0
	}
	return len(b.Data[0])
}

// Channels returns the channel count.
func (b *Buffer) Channels() int {
	if b == nil {
		return 0
	}
	return len(b.Data)
}

// Seconds returns the duration.
func (b *Buffer) Seconds() float64 {
	if b == nil || b.SampleRate <= 0 {
		return 0
	}
	return float64(b.Frames()) / float64(b.SampleRate)
}

// Validate checks the buffer invariants: a positive rate, at least one frame
// and equal channel lengths.
func (b *Buffer) Validate() error {
	if b == nil {
		return errors.New("nil audio buffer")
	}
	if b.SampleRate <= 0 {
		return fmt.Errorf("invalid sample rate %d", b.SampleRate)
	}
	if len(b.Data) == 0 {
		return errors.New("audio buffer has no channels")
	}
	n := len(b.Data[0])
	for c := range b.Data {
		if len(b.Data[c]) != n {
			return fmt.Errorf("channel %d has %d frames, want %d", c, len(b.Data[c]), n)
		}
	}
	if n == 0 {
		return ErrEmptyBuffer
	}
	return nil
}

// Clone returns a deep copy.
func (b *Buffer) Clone() *Buffer {
	out := &Buffer{SampleRate: b.SampleRate, Data: make([][]float64, len(b.Data))}
	for c := range b.Data {
		out.Data[c] = append([]float64(nil), b.Data[c]...)
	}
	return out
}

// Slice returns a copy of frames [from, to).
func (b *Buffer) Slice(from, to int) *Buffer {
	n := b.Frames()
	from = max(0, min(from, n))
	to = max(from, min(to, n))
	out := &Buffer{SampleRate: b.SampleRate, Data: make([][]float64, len(b.Data))}
	for c := range b.Data {
		out.Data[c] = append([]float64(nil), b.Data[c][from:to]...)
	}
	return out
}

// Clamp limits every sample to [-1, 1] and replaces NaN with 0.
func (b *Buffer) Clamp() {
	for c := range b.Data {
		ch := b.Data[c]
		for i, v := range ch {
			ch[i] = ClampSample(v)
		}
	}
}

// ClampSample limits one sample to [-1, 1].
func ClampSample(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v > 1:
		return 1
	case v < -1:
		return -1
	default:
		return v
	}
}

// Peak returns the largest absolute sample value.
func (b *Buffer) Peak() float64 {
	var p float64
	for _, ch := range b.Data {
		for _, v := range ch {
			if a := math.Abs(v); a > p {
				p = a
			}
		}
	}
	return p
}

// Scale multiplies every sample by gain.
func (b *Buffer) Scale(gain float64) {
	for _, ch := range b.Data {
		for i := range ch {
			ch[i] *= gain
		}
	}
}

// WithChannels returns a copy with the given channel count. Mono is
// duplicated when upmixing; extra channels are averaged when downmixing.
func (b *Buffer) WithChannels(n int) *Buffer {
	if n == b.Channels() {
		return b.Clone()
	}
	frames := b.Frames()
	out := NewBuffer(b.SampleRate, n, frames)
	if n < b.Channels() {
		for i := 0; i < frames; i++ {
			var sum float64
			for c := range b.Data {
				sum += b.Data[c][i]
			}
			v := sum / float64(len(b.Data))
			for c := range out.Data {
				out.Data[c][i] = v
			}
		}
		return out
	}
	for c := range out.Data {
		copy(out.Data[c], b.Data[c%b.Channels()])
	}
	return out
}

// PadTo extends the buffer with silence up to frames. It never truncates.
func (b *Buffer) PadTo(frames int) {
	if frames <= b.Frames() {
		return
	}
	for c := range b.Data {
		grown := make([]float64, frames)
		copy(grown, b.Data[c])
		b.Data[c] = grown
	}
}

// Mono returns the per-frame average of all channels.
func (b *Buffer) Mono() []float64 {
	frames := b.Frames()
	out := make([]float64, frames)
	if len(b.Data) == 0 {
		return out
	}
	for _, ch := range b.Data {
		for i, v := range ch {
			out[i] += v
		}
	}
	inv := 1 / float64(len(b.Data))
	for i := range out {
		out[i] *= inv
	}
	return out
}

// Streamer exposes the buffer as a stereo beep stream. Mono is duplicated.
func (b *Buffer) Streamer() beep.Streamer {
	return &bufferStreamer{buf: b}
}

// Format returns the beep format matching the buffer.
func (b *Buffer) Format() beep.Format {
	return beep.Format{SampleRate: beep.SampleRate(b.SampleRate), NumChannels: b.Channels(), Precision: 2}
}

type bufferStreamer struct {
	buf *Buffer
	pos int
}

func (s *bufferStreamer) Stream(samples [][2]float64) (n int, ok bool) {
	frames := s.buf.Frames()
	if s.pos >= frames {
		return 0, false
	}
	left := s.buf.Data[0]
	right := left
	if len(s.buf.Data) > 1 {
		right = s.buf.Data[1]
	}
	for n < len(samples) && s.pos < frames {
		samples[n][0] = left[s.pos]
		samples[n][1] = right[s.pos]
		n++
		s.pos++
	}
	return n, true
}

func (s *bufferStreamer) Err() error { return nil }

// FromStreamer drains a beep stream into a buffer with the given channel count (1 or 2).
func FromStreamer(s beep.Streamer, sampleRate, channels int) (*Buffer, error) {
	if channels != 1 {
		channels = 2
	}
	out := &Buffer{SampleRate: sampleRate, Data: make([][]float64, channels)}
	chunk := make([][2]float64, 1024)
	for {
		n, ok := s.Stream(chunk)
		for i := 0; i < n; i++ {
			if channels == 1 {
				out.Data[0] = append(out.Data[0], (chunk[i][0]+chunk[i][1])/2)
				continue
			}
			out.Data[0] = append(out.Data[0], chunk[i][0])
			out.Data[1] = append(out.Data[1], chunk[i][1])
		}
		if !ok {
			break
		}
	}
	if err := s.Err(); err != nil {
		return nil, fmt.Errorf("stream failed: %w", err)
	}
	return out, nil
}

// Process runs the buffer through a beep effect chain and collects the result.
func (b *Buffer) Process(chain func(beep.Streamer) beep.Streamer) (*Buffer, error) {
	return FromStreamer(chain(b.Streamer()), b.SampleRate, b.Channels())
}

// Concat joins buffers end to end. Channel counts are normalized to the widest input.
func Concat(sampleRate int, bufs ...*Buffer) *Buffer {
	channels := 1
	total := 0
	for _, b := range bufs {
		if b == nil {
			continue
		}
		channels = max(channels, b.Channels())
		total += b.Frames()
	}
	out := NewBuffer(sampleRate, channels, total)
	pos := 0
	for _, b := range bufs {
		if b == nil {
			continue
		}
		src := b
		if src.Channels() != channels {
			src = b.WithChannels(channels)
		}
		for c := range out.Data {
			copy(out.Data[c][pos:], src.Data[c])
		}
		pos += b.Frames()
	}
	return out
}
