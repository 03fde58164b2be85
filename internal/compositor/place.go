package compositor

import (
	"image"
	"math"
	"strings"
)

// ParseAlign turns an anchor such as "top-left", "bottom" or "center" into
// fractional coordinates: 0 is left/top, 1 is right/bottom.
func ParseAlign(align string) (ax, ay float64) {
	a := strings.TrimSpace(strings.ReplaceAll(strings.ToLower(align), "_", "-"))
	ax, ay = 0.5, 0.5
	if strings.Contains(a, "left") {
		ax = 0
	}
	if strings.Contains(a, "right") {
		ax = 1
	}
	if strings.Contains(a, "top") {
		ay = 0
	}
	if strings.Contains(a, "bottom") {
		ay = 1
	}
	return ax, ay
}

// Place computes where an iw x ih image lands on a dw x dh viewport.
//
//	cover    scale to fill, overflow cropped
//	contain  scale to fit, letterboxed (also used for unknown modes)
//	stretch  non-uniform scale to the viewport
//	native   source size
//
// zoom multiplies the result; align positions the leftover space.
func Place(iw, ih, dw, dh int, fit, align string, zoom float64) image.Rectangle {
	zoom = math.Max(0.01, zoom)
	var nw, nh int
	switch strings.ToLower(fit) {
	case "stretch":
		nw, nh = int(float64(dw)*zoom), int(float64(dh)*zoom)
	case "native":
		nw, nh = int(float64(iw)*zoom), int(float64(ih)*zoom)
	default:
		if iw <= 0 || ih <= 0 {
			return image.Rectangle{}
		}
		sx := float64(dw) / float64(iw)
		sy := float64(dh) / float64(ih)
		scale := math.Min(sx, sy)
		if strings.ToLower(fit) == "cover" {
			scale = math.Max(sx, sy)
		}
		scale *= zoom
		nw, nh = int(float64(iw)*scale), int(float64(ih)*scale)
	}
	nw, nh = max(1, nw), max(1, nh)

	ax, ay := ParseAlign(align)
	x := int(float64(dw-nw) * ax)
	y := int(float64(dh-nh) * ay)
	return image.Rect(x, y, x+nw, y+nh)
}
