package audio

// Smoothstep returns the smoothstep interpolation for t in [0,1].
func Smoothstep(t float64) float64 {
	if t <= 0 {
		return 0
	}
	if t >= 1 {
		return 1
	}
	return t * t * (3 - 2*t)
}

// Crossfade joins a and b, blending the last overlap frames of a with the
// first overlap frames of b. The result has a.Frames()+b.Frames()-overlap
// frames, where overlap is clamped to the shorter input.
func Crossfade(a, b *Buffer, overlap int) *Buffer {
	if a == nil || a.Frames() == 0 {
		return b.Clone()
	}
	if b == nil || b.Frames() == 0 {
		return a.Clone()
	}
	channels := max(a.Channels(), b.Channels())
	if a.Channels() != channels {
		a = a.WithChannels(channels)
	}
	if b.Channels() != channels {
		b = b.WithChannels(channels)
	}
	overlap = max(0, min(overlap, a.Frames(), b.Frames()))

	na := a.Frames()
	out := NewBuffer(a.SampleRate, channels, na+b.Frames()-overlap)
	start := na - overlap
	for c := 0; c < channels; c++ {
		dst := out.Data[c]
		copy(dst, a.Data[c][:start])
		for i := 0; i < overlap; i++ {
			g := Smoothstep(float64(i+1) / float64(overlap+1))
			dst[start+i] = ClampSample(a.Data[c][start+i]*(1-g) + b.Data[c][i]*g)
		}
		copy(dst[na:], b.Data[c][overlap:])
	}
	return out
}

// ConcatCrossfade joins buffers in order with the same overlap at each boundary.
func ConcatCrossfade(bufs []*Buffer, overlap int) *Buffer {
	var out *Buffer
	for _, b := range bufs {
		if b == nil || b.Frames() == 0 {
			continue
		}
		if out == nil {
			out = b.Clone()
			continue
		}
		out = Crossfade(out, b, overlap)
	}
	return out
}
