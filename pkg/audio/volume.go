package audio

import (
	"math"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/effects"
)

// gainToPower maps a linear gain onto beep's base-2 volume exponent.
func gainToPower(gain float64) float64 {
	if gain <= 0.001 {
		return -10
	}
	return math.Log2(gain)
}

// ApplyGain scales the buffer by a linear gain through a beep volume stage.
// Results are clamped to [-1, 1].
func ApplyGain(b *Buffer, gain float64) (*Buffer, error) {
	if gain == 1 {
		return b.Clone(), nil
	}
	out, err := b.Process(func(s beep.Streamer) beep.Streamer {
		return &effects.Volume{
			Streamer: s,
			Base:     2,
			Volume:   gainToPower(gain),
			Silent:   gain <= 0.001,
		}
	})
	if err != nil {
		return nil, err
	}
	out.Clamp()
	return out, nil
}
