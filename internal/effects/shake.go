// Package effects holds the time-based screen effects: procedural shake and
// full-screen colour overlays.
package effects

import (
	"image"
	"math"
)

// Shake describes one screen-shake burst.
type Shake struct {
	Start     float64
	Duration  float64
	Amplitude float64 // pixels before decay
	Frequency float64 // Hz
	Decay     float64
	Seed      int
}

// Offset returns the pixel translation at playhead t.
func (s Shake) Offset(t float64) image.Point {
	dx, dy := ShakeOffset(t-s.Start, s.Duration, s.Amplitude, s.Frequency, s.Decay, s.Seed)
	return image.Pt(dx, dy)
}

// ShakeOffset computes a deterministic decaying offset. It returns (0, 0)
// outside [0, duration] and for non-positive duration or amplitude.
func ShakeOffset(elapsed, duration, amplitude, frequency, decay float64, seed int) (int, int) {
	if duration <= 0 || elapsed < 0 || elapsed > duration || amplitude <= 0 {
		return 0, 0
	}
	p := math.Max(0, math.Min(1, elapsed/duration))
	env := math.Exp(-decay * p)

	t := elapsed * math.Max(0.01, frequency)

	// два независимых канала шума
	nx := smoothNoise(t, seed*92821+17)
	ny := smoothNoise(t, seed*31337+53)

	return int(amplitude * env * nx), int(amplitude * env * ny)
}

// smoothNoise blends two sines with seed-derived frequencies; output is in [-1, 1].
func smoothNoise(t float64, seed int) float64 {
	f1 := 2.0 + float64(mod(seed, 7))*0.31
	f2 := 3.0 + float64(mod(seed, 13))*0.23
	s := float64(seed)
	return math.Sin(2*math.Pi*f1*t+s*1.111)*0.66 +
		math.Sin(2*math.Pi*f2*t+s*2.333)*0.34
}

// mod is the floored modulo, so negative seeds stay in [0, n).
func mod(a, n int) int {
	r := a % n
	if r < 0 {
		r += n
	}
	return r
}
