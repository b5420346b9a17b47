package sfx

import (
	"hash/fnv"
	"math"
	"math/rand/v2"
	"strings"

	"dubstudio/pkg/audio"
	"dubstudio/pkg/script"
)

// Profile is the set of heuristics a cue label selects.
type Profile struct {
	// PulseRate is the number of short noise bursts per second (footsteps, knocks).
	PulseRate float64
	// LowSine adds a decaying low-frequency sine (explosions, thunder).
	LowSine float64
	// HighTone adds a decaying high tone (alerts, bells).
	HighTone float64
	// Brightness blends white noise over brown noise, 0..1.
	Brightness float64
	// Decay is the amplitude envelope time constant in seconds; 0 means sustained.
	Decay float64
	Level float64
}

var cueProfiles = []struct {
	words []string
	p     Profile
}{
	{[]string{"footstep", "footsteps", "steps", "walking", "running", "knock", "knocking", "knocks"}, Profile{PulseRate: 2.2, Brightness: 0.3, Level: 0.45}},
	{[]string{"explosion", "explodes", "blast", "boom", "thunder", "rumble", "crash", "bang", "gunshot"}, Profile{LowSine: 48, Brightness: 0.2, Decay: 0.9, Level: 0.8}},
	{[]string{"alarm", "alert", "beep", "ding", "bell", "chime", "ring", "ringing", "phone", "siren"}, Profile{HighTone: 1320, Brightness: 0.1, Decay: 0.6, Level: 0.4}},
	{[]string{"rain", "wind", "ocean", "waves", "water", "crowd", "applause", "static"}, Profile{Brightness: 0.7, Level: 0.3}},
	{[]string{"door", "slam", "thud", "punch", "hit", "drop"}, Profile{LowSine: 90, Brightness: 0.5, Decay: 0.25, Level: 0.6}},
}

// ProfileFor picks the heuristics for a cue. Several profiles may combine,
// e.g. "thunder and alarm".
func ProfileFor(label string) Profile {
	words := map[string]bool{}
	for _, w := range script.FoldWords(label) {
		words[w] = true
	}
	var out Profile
	matched := false
	for _, cp := range cueProfiles {
		hit := false
		for _, w := range cp.words {
			if words[w] {
				hit = true
				break
			}
		}
		if !hit {
			continue
		}
		matched = true
		out.PulseRate = math.Max(out.PulseRate, cp.p.PulseRate)
		out.LowSine = math.Max(out.LowSine, cp.p.LowSine)
		out.HighTone = math.Max(out.HighTone, cp.p.HighTone)
		out.Brightness = math.Max(out.Brightness, cp.p.Brightness)
		out.Level = math.Max(out.Level, cp.p.Level)
		if cp.p.Decay > 0 && (out.Decay == 0 || cp.p.Decay > out.Decay) {
			out.Decay = cp.p.Decay
		}
	}
	if !matched {
		out = Profile{Brightness: 0.4, Decay: 0.8, Level: 0.35}
	}
	return out
}

// Generate renders a mono placeholder for the cue. It never fails and is
// deterministic for a given label, length and rate.
func Generate(label string, seconds float64, sampleRate int) *audio.Buffer {
	if seconds <= 0 {
		seconds = 1
	}
	frames := max(1, audio.FramesFor(sampleRate, seconds))
	out := audio.NewBuffer(sampleRate, 1, frames)
	p := ProfileFor(label)

	h := fnv.New64a()
	h.Write([]byte(strings.ToLower(label)))
	seed := h.Sum64()
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	sr := float64(sampleRate)
	attack := 0.01 * sr
	release := math.Min(0.05*sr, float64(frames)/2)
	var brown float64
	data := out.Data[0]

	for i := 0; i < frames; i++ {
		t := float64(i) / sr
		white := rng.Float64()*2 - 1
		brown = (brown + 0.02*white) / 1.02
		v := p.Brightness*white + (1-p.Brightness)*brown*3.5

		env := 1.0
		if p.Decay > 0 {
			env = math.Exp(-t / p.Decay)
		}
		if p.PulseRate > 0 {
			// Each step is a 60ms burst at the start of its period.
			phase := math.Mod(t*p.PulseRate, 1) / p.PulseRate
			if phase > 0.06 {
				env = 0
			} else {
				env *= math.Exp(-phase / 0.02)
			}
		}
		v *= env

		if p.LowSine > 0 {
			v += 0.9 * math.Sin(2*math.Pi*p.LowSine*t) * math.Exp(-t/math.Max(p.Decay, 0.3))
		}
		if p.HighTone > 0 {
			// Two short tones per second for alerts.
			gate := math.Exp(-math.Mod(t, 0.5) / 0.15)
			v += 0.6 * math.Sin(2*math.Pi*p.HighTone*t) * gate
		}

		// Short ramps keep placeholders click-free.
		fi := float64(i)
		if fi < attack {
			v *= fi / attack
		}
		if rem := float64(frames - 1 - i); rem < release {
			v *= rem / release
		}
		data[i] = audio.ClampSample(v * p.Level)
	}
	return out
}
