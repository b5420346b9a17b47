package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/wav"
)

// Encoding names a raw audio payload format.
type Encoding string

const (
	EncodingAuto  Encoding = ""
	EncodingWAV   Encoding = "wav"
	EncodingMP3   Encoding = "mp3"
	EncodingPCM16 Encoding = "pcm16"
)

// Payload is encoded audio as returned by a synthesis or separation backend.
type Payload struct {
	Data     []byte
	Encoding Encoding
	// SampleRate and Channels describe headerless PCM payloads.
	SampleRate int
	Channels   int
}

// ErrContextClosed is returned by a Renderer after Close.
var ErrContextClosed = errors.New("audio context closed")

// Renderer is one live rendering context. It is replaced, never reopened.
type Renderer struct {
	rate       int
	channels   int
	generation int
	closed     atomic.Bool
}

// SampleRate is the rate every produced buffer uses.
func (r *Renderer) SampleRate() int { return r.rate }

// Closed reports whether the renderer can no longer be used.
func (r *Renderer) Closed() bool { return r.closed.Load() }

// Context owns the process-wide Renderer: created on first use, reused across
// calls and recreated when the current one reports closed.
type Context struct {
	mu       sync.Mutex
	rate     int
	channels int
	current  *Renderer
	created  int
}

// NewContext creates a context producing buffers at sampleRate with the given channel count.
func NewContext(sampleRate, channels int) *Context {
	if sampleRate <= 0 {
		sampleRate = 48000
	}
	if channels < 1 {
		channels = 2
	}
	return &Context{rate: sampleRate, channels: channels}
}

// Ensure returns the live renderer, creating or recreating it as needed.
func (c *Context) Ensure() *Renderer {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != nil && !c.current.Closed() {
		return c.current
	}
	c.created++
	if c.current != nil {
		slog.Debug("Audio: recreating closed render context", "generation", c.created)
	}
	c.current = &Renderer{rate: c.rate, channels: c.channels, generation: c.created}
	return c.current
}

// Close closes the current renderer; the next Ensure builds a new one.
func (c *Context) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != nil {
		c.current.closed.Store(true)
	}
}

// SampleRate is the context rate.
func (c *Context) SampleRate() int { return c.rate }

// Channels is the default channel count of rendered buffers.
func (c *Context) Channels() int { return c.channels }

// Generations reports how many renderers have been created.
func (c *Context) Generations() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.created
}

// Silence renders a silent buffer on the context.
func (c *Context) Silence(seconds float64) *Buffer {
	r := c.Ensure()
	return Silence(r.rate, 1, seconds)
}

// Decode turns an encoded payload into a buffer at the context rate.
func (c *Context) Decode(p Payload) (*Buffer, error) {
	r := c.Ensure()
	if len(p.Data) == 0 {
		return nil, ErrEmptyBuffer
	}
	enc := p.Encoding
	if enc == EncodingAuto {
		enc = Sniff(p.Data)
	}

	var (
		buf *Buffer
		err error
	)
	switch enc {
	case EncodingWAV:
		buf, err = decodeBeep(p.Data, func(rd io.ReadCloser) (beep.StreamSeekCloser, beep.Format, error) {
			return wav.Decode(rd)
		})
	case EncodingMP3:
		buf, err = decodeBeep(p.Data, mp3.Decode)
	case EncodingPCM16:
		buf, err = DecodePCM16(p.Data, p.SampleRate, p.Channels)
	default:
		return nil, fmt.Errorf("unsupported audio encoding %q", enc)
	}
	if err != nil {
		return nil, err
	}
	if r.Closed() {
		return nil, ErrContextClosed
	}
	if buf.SampleRate != r.rate {
		buf, err = Resample(buf, r.rate)
		if err != nil {
			return nil, err
		}
	}
	if err := buf.Validate(); err != nil {
		return nil, err
	}
	return buf, nil
}

func decodeBeep(data []byte, dec func(io.ReadCloser) (beep.StreamSeekCloser, beep.Format, error)) (*Buffer, error) {
	s, format, err := dec(io.NopCloser(bytes.NewReader(data)))
	if err != nil {
		return nil, fmt.Errorf("decode audio: %w", err)
	}
	defer s.Close()
	channels := format.NumChannels
	if channels > 2 {
		channels = 2
	}
	return FromStreamer(s, int(format.SampleRate), channels)
}

// Sniff guesses the encoding from magic bytes, defaulting to headerless PCM16.
func Sniff(data []byte) Encoding {
	switch {
	case len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE":
		return EncodingWAV
	case len(data) >= 3 && string(data[0:3]) == "ID3":
		return EncodingMP3
	case len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		return EncodingMP3
	default:
		return EncodingPCM16
	}
}

// DecodePCM16 decodes headerless little-endian signed 16-bit PCM.
func DecodePCM16(data []byte, sampleRate, channels int) (*Buffer, error) {
	if sampleRate <= 0 {
		sampleRate = 24000
	}
	if channels < 1 {
		channels = 1
	}
	frameBytes := 2 * channels
	frames := len(data) / frameBytes
	if frames == 0 {
		return nil, ErrEmptyBuffer
	}
	out := NewBuffer(sampleRate, channels, frames)
	for i := 0; i < frames; i++ {
		for c := 0; c < channels; c++ {
			off := i*frameBytes + c*2
			v := int16(binary.LittleEndian.Uint16(data[off:]))
			out.Data[c][i] = float64(v) / 32768
		}
	}
	return out, nil
}

// EncodePCM16 is the inverse of DecodePCM16.
func EncodePCM16(b *Buffer) []byte {
	frames := b.Frames()
	channels := b.Channels()
	out := make([]byte, frames*channels*2)
	for i := 0; i < frames; i++ {
		for c := 0; c < channels; c++ {
			v := math.Round(ClampSample(b.Data[c][i]) * 32767)
			binary.LittleEndian.PutUint16(out[(i*channels+c)*2:], uint16(int16(v)))
		}
	}
	return out
}

// EncodeWAV renders the buffer as a 16-bit WAV file.
func EncodeWAV(b *Buffer) ([]byte, error) {
	if err := b.Validate(); err != nil {
		return nil, fmt.Errorf("encode wav: %w", err)
	}
	ws := &memWriteSeeker{}
	if err := wav.Encode(ws, b.Streamer(), b.Format()); err != nil {
		return nil, fmt.Errorf("encode wav: %w", err)
	}
	return ws.buf, nil
}

// memWriteSeeker is the in-memory io.WriteSeeker wav.Encode needs to patch its header.
type memWriteSeeker struct {
	buf []byte
	pos int
}

func (m *memWriteSeeker) Write(p []byte) (int, error) {
	end := m.pos + len(p)
	if end > len(m.buf) {
		grown := make([]byte, end)
		copy(grown, m.buf)
		m.buf = grown
	}
	copy(m.buf[m.pos:], p)
	m.pos = end
	return len(p), nil
}

func (m *memWriteSeeker) Seek(offset int64, whence int) (int64, error) {
	var base int64
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		base = int64(m.pos)
	case io.SeekEnd:
		base = int64(len(m.buf))
	default:
		return 0, fmt.Errorf("invalid whence %d", whence)
	}
	next := base + offset
	if next < 0 {
		return 0, errors.New("negative seek position")
	}
	m.pos = int(next)
	return next, nil
}
