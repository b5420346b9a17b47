package audio

import (
	"math"

	"github.com/gopxl/beep/v2"
)

// BiquadFilter implements a basic Biquad digital filter.
type BiquadFilter struct {
	streamer   beep.Streamer
	sampleRate float64

	// Coefficients
	a0, a1, a2 float64
	b0, b1, b2 float64

	// State
	x1, x2 [2]float64
	y1, y2 [2]float64
}

// NewLowPass create a new LowPass Biquad filter.
func NewLowPass(streamer beep.Streamer, sampleRate, cutoff, q float64) *BiquadFilter {
	f := &BiquadFilter{streamer: streamer, sampleRate: sampleRate}
	f.updateLowPass(cutoff, q)
	return f
}

// NewHighPass create a new HighPass Biquad filter.
func NewHighPass(streamer beep.Streamer, sampleRate, cutoff, q float64) *BiquadFilter {
	f := &BiquadFilter{streamer: streamer, sampleRate: sampleRate}
	f.updateHighPass(cutoff, q)
	return f
}

// NewPeaking creates a peaking EQ that boosts (gainDB > 0) or cuts (gainDB < 0)
// a band around center.
func NewPeaking(streamer beep.Streamer, sampleRate, center, q, gainDB float64) *BiquadFilter {
	f := &BiquadFilter{streamer: streamer, sampleRate: sampleRate}
	f.updatePeaking(center, q, gainDB)
	return f
}

func (f *BiquadFilter) updateLowPass(cutoff, q float64) {
	omega := 2.0 * math.Pi * f.clampFreq(cutoff) / f.sampleRate
	sn := math.Sin(omega)
	cs := math.Cos(omega)
	alpha := sn / (2.0 * q)

	f.b0 = (1.0 - cs) / 2.0
	f.b1 = 1.0 - cs
	f.b2 = (1.0 - cs) / 2.0
	f.a0 = 1.0 + alpha
	f.a1 = -2.0 * cs
	f.a2 = 1.0 - alpha
}

func (f *BiquadFilter) updateHighPass(cutoff, q float64) {
	omega := 2.0 * math.Pi * f.clampFreq(cutoff) / f.sampleRate
	sn := math.Sin(omega)
	cs := math.Cos(omega)
	alpha := sn / (2.0 * q)

	f.b0 = (1.0 + cs) / 2.0
	f.b1 = -(1.0 + cs)
	f.b2 = (1.0 + cs) / 2.0
	f.a0 = 1.0 + alpha
	f.a1 = -2.0 * cs
	f.a2 = 1.0 - alpha
}

func (f *BiquadFilter) updatePeaking(center, q, gainDB float64) {
	a := math.Pow(10, gainDB/40)
	omega := 2.0 * math.Pi * f.clampFreq(center) / f.sampleRate
	sn := math.Sin(omega)
	cs := math.Cos(omega)
	alpha := sn / (2.0 * q)

	f.b0 = 1.0 + alpha*a
	f.b1 = -2.0 * cs
	f.b2 = 1.0 - alpha*a
	f.a0 = 1.0 + alpha/a
	f.a1 = -2.0 * cs
	f.a2 = 1.0 - alpha/a
}

// clampFreq keeps the corner below Nyquist so low sample rates stay stable.
func (f *BiquadFilter) clampFreq(hz float64) float64 {
	nyquist := f.sampleRate / 2
	if hz >= nyquist {
		return nyquist * 0.95
	}
	if hz < 1 {
		return 1
	}
	return hz
}

func (f *BiquadFilter) Stream(samples [][2]float64) (n int, ok bool) {
	n, ok = f.streamer.Stream(samples)
	for i := 0; i < n; i++ {
		for channel := 0; channel < 2; channel++ {
			x := samples[i][channel]
			y := (f.b0/f.a0)*x + (f.b1/f.a0)*f.x1[channel] + (f.b2/f.a0)*f.x2[channel] -
				(f.a1/f.a0)*f.y1[channel] - (f.a2/f.a0)*f.y2[channel]

			f.x2[channel] = f.x1[channel]
			f.x1[channel] = x
			f.y2[channel] = f.y1[channel]
			f.y1[channel] = y

			samples[i][channel] = y
		}
	}
	return n, ok
}

func (f *BiquadFilter) Err() error {
	return f.streamer.Err()
}

// NewBandPass chains a highpass and a lowpass at Butterworth Q.
func NewBandPass(streamer beep.Streamer, sampleRate, lowCutoff, highCutoff float64) beep.Streamer {
	hp := NewHighPass(streamer, sampleRate, lowCutoff, 0.707)
	lp := NewLowPass(hp, sampleRate, highCutoff, 0.707)
	return lp
}

// CompressorSettings configures a feed-forward peak compressor.
type CompressorSettings struct {
	ThresholdDB float64
	Ratio       float64
	AttackMs    float64
	ReleaseMs   float64
	MakeupDB    float64
}

// DefaultCompressor is tuned for dialogue.
var DefaultCompressor = CompressorSettings{
	ThresholdDB: -24,
	Ratio:       4,
	AttackMs:    5,
	ReleaseMs:   120,
	MakeupDB:    6,
}

// Compressor reduces dynamic range above a threshold, linked across channels.
type Compressor struct {
	streamer beep.Streamer
	s        CompressorSettings

	attack, release float64
	makeup          float64
	env             float64
}

// NewCompressor wraps a streamer with a compressor.
func NewCompressor(streamer beep.Streamer, sampleRate float64, s CompressorSettings) *Compressor {
	if s.Ratio < 1 {
		s.Ratio = 1
	}
	return &Compressor{
		streamer: streamer,
		s:        s,
		attack:   timeCoeff(s.AttackMs, sampleRate),
		release:  timeCoeff(s.ReleaseMs, sampleRate),
		makeup:   dbToGain(s.MakeupDB),
	}
}

func timeCoeff(ms, sampleRate float64) float64 {
	if ms <= 0 {
		return 0
	}
	return math.Exp(-1 / (ms / 1000 * sampleRate))
}

func dbToGain(db float64) float64 {
	return math.Pow(10, db/20)
}

func gainToDB(g float64) float64 {
	if g <= 1e-9 {
		return -180
	}
	return 20 * math.Log10(g)
}

func (c *Compressor) Stream(samples [][2]float64) (n int, ok bool) {
	n, ok = c.streamer.Stream(samples)
	for i := 0; i < n; i++ {
		level := math.Max(math.Abs(samples[i][0]), math.Abs(samples[i][1]))
		if level > c.env {
			c.env = c.attack*c.env + (1-c.attack)*level
		} else {
			c.env = c.release*c.env + (1-c.release)*level
		}
		gain := c.makeup
		if over := gainToDB(c.env) - c.s.ThresholdDB; over > 0 {
			gain *= dbToGain(-over * (1 - 1/c.s.Ratio))
		}
		samples[i][0] *= gain
		samples[i][1] *= gain
	}
	return n, ok
}

func (c *Compressor) Err() error {
	return c.streamer.Err()
}

// Automation applies a per-frame gain curve. Frames past the end of the curve
// use its last value.
type Automation struct {
	Streamer beep.Streamer
	Gain     []float64
	pos      int
}

func (a *Automation) Stream(samples [][2]float64) (n int, ok bool) {
	n, ok = a.Streamer.Stream(samples)
	last := 1.0
	if len(a.Gain) > 0 {
		last = a.Gain[len(a.Gain)-1]
	}
	for i := 0; i < n; i++ {
		g := last
		if a.pos < len(a.Gain) {
			g = a.Gain[a.pos]
		}
		samples[i][0] *= g
		samples[i][1] *= g
		a.pos++
	}
	return n, ok
}

func (a *Automation) Err() error {
	return a.Streamer.Err()
}

// LinearRamp fills gain[from:to) with a straight line between two levels.
func LinearRamp(gain []float64, from, to int, start, end float64) {
	from = max(0, from)
	to = min(len(gain), to)
	span := float64(to - from)
	for i := from; i < to; i++ {
		t := 1.0
		if span > 0 {
			t = float64(i-from) / span
		}
		gain[i] = start + (end-start)*t
	}
}
