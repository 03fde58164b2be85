package effects

import (
	"fmt"
	"image/color"
	"strconv"
	"strings"
)

// Overlay is a flat full-screen colour whose alpha ramps linearly from From
// to To over [Start, Start+Duration].
type Overlay struct {
	Mode     string
	Color    color.RGBA
	From, To float64
	Start    float64
	Duration float64
}

// OverlayColor picks the fill for a mode: black and white are fixed,
// translucent uses the authored colour. ok is false for other modes.
func OverlayColor(mode string, authored color.RGBA) (c color.RGBA, ok bool) {
	switch strings.ToLower(mode) {
	case "black":
		return color.RGBA{A: 255}, true
	case "white":
		return color.RGBA{R: 255, G: 255, B: 255, A: 255}, true
	case "translucent":
		authored.A = 255
		return authored, true
	}
	return color.RGBA{}, false
}

// Alpha returns the overlay alpha at t and whether the overlay is visible.
func (o Overlay) Alpha(t float64) (float64, bool) {
	if o.Duration <= 0 {
		return 0, false
	}
	p := (t - o.Start) / o.Duration
	if p < 0 || p > 1 {
		return 0, false
	}
	a := (1-p)*clamp01(o.From) + p*clamp01(o.To)
	return clamp01(a), true
}

// ParseHexColor accepts #rgb and #rrggbb (the hash is optional). Malformed
// input yields black and an error.
func ParseHexColor(s string) (color.RGBA, error) {
	h := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(h) == 3 {
		h = string([]byte{h[0], h[0], h[1], h[1], h[2], h[2]})
	}
	if len(h) != 6 {
		return color.RGBA{A: 255}, fmt.Errorf("bad colour %q", s)
	}
	v, err := strconv.ParseUint(h, 16, 32)
	if err != nil {
		return color.RGBA{A: 255}, fmt.Errorf("bad colour %q: %w", s, err)
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 255}, nil
}

func clamp01(v float64) float64 {
	if v < 0 || v != v {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
