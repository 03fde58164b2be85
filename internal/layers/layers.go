// Package layers answers "what is on screen at time t" for a single track:
// active blocks, crossfade windows and interpolated sprite poses.
package layers

import (
	"image"
	"math"

	"github.com/ivlev/vngen/internal/timeline"
)

// Epsilon widens block windows to absorb floating point error.
const Epsilon = 1e-9

// Source is the read side of the timeline model.
type Source interface {
	Keyframes(t timeline.Track) []*timeline.Keyframe
}

// Active returns every keyframe of track tr whose [start, end] window
// contains t, in ascending start order.
func Active(src Source, tr timeline.Track, t float64) []*timeline.Keyframe {
	var out []*timeline.Keyframe
	for _, k := range src.Keyframes(tr) {
		if k.Time-Epsilon > t {
			// sorted by start: nothing later can contain t
			break
		}
		if t <= k.End()+Epsilon {
			out = append(out, k)
		}
	}
	return out
}

// Pick returns the current block (last active) and the previous one
// (second to last), either of which may be nil.
func Pick(active []*timeline.Keyframe) (cur, prev *timeline.Keyframe) {
	switch n := len(active); {
	case n == 0:
		return nil, nil
	case n == 1:
		return active[0], nil
	default:
		return active[n-1], active[n-2]
	}
}

// Window is a closed time interval.
type Window struct {
	Start, End float64
}

// Len is the window length.
func (w Window) Len() float64 { return w.End - w.Start }

// Contains reports whether t lies in the window.
func (w Window) Contains(t float64) bool {
	return t >= w.Start && t <= w.End
}

// Progress maps t onto [0, 1] within the window.
func (w Window) Progress(t float64) float64 {
	if w.Len() <= 0 {
		return 1
	}
	return Clamp01((t - w.Start) / w.Len())
}

// Crossfade returns the overlap window [cur.start, prev.end] of two blocks.
// It reports false when the blocks do not overlap.
func Crossfade(prev, cur *timeline.Keyframe) (Window, bool) {
	if prev == nil || cur == nil {
		return Window{}, false
	}
	w := Window{Start: cur.Time, End: prev.End()}
	if w.Len() <= 0 {
		return Window{}, false
	}
	return w, true
}

// Blend gives the previous and current alphas at time t within w.
// At w.Start it is (1, 0), at w.End (0, 1).
func Blend(w Window, t float64) (prevAlpha, curAlpha float64) {
	p := w.Progress(t)
	return 1 - p, p
}

// SpritePose interpolates a sprite block at time t. Without a target pose
// the start pose is returned unchanged.
func SpritePose(k *timeline.Keyframe, t float64) timeline.Pose {
	sp, ok := k.Data.(*timeline.SpriteData)
	if !ok {
		return timeline.DefaultPose
	}
	if sp.Target == nil {
		return sp.Pose
	}
	p := Clamp01((t - k.Time) / math.Max(1e-6, k.EffectiveDuration()))
	a, b := sp.Pose, *sp.Target
	return timeline.Pose{
		X:       lerp(a.X, b.X, p),
		Y:       lerp(a.Y, b.Y, p),
		W:       lerp(a.W, b.W, p),
		H:       lerp(a.H, b.H, p),
		Opacity: Clamp01(lerp(a.Opacity, b.Opacity, p)),
	}
}

// PoseRect converts a normalized centre/size pose into viewport pixels.
func PoseRect(p timeline.Pose, width, height int) image.Rectangle {
	w := float64(width)
	h := float64(height)
	x0 := int((p.X - p.W/2) * w)
	y0 := int((p.Y - p.H/2) * h)
	return image.Rect(x0, y0, x0+int(w*p.W), y0+int(h*p.H))
}

// lerp performs linear interpolation between a and b
func lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}

// Clamp01 limits v to [0, 1]; NaN becomes 0.
func Clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
