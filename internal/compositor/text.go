package compositor

import (
	"image"
	"image/color"
	"log/slog"
	"math"
	"strings"
	"unicode/utf8"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

// DefaultFontSize is the UI text size in points at 72 dpi.
const DefaultFontSize = 22.0

// NewFace returns the Go Regular face at size points, falling back to the
// built-in bitmap face when the font cannot be loaded.
func NewFace(size float64) font.Face {
	if size <= 0 {
		size = DefaultFontSize
	}
	f, err := opentype.Parse(goregular.TTF)
	if err == nil {
		face, ferr := opentype.NewFace(f, &opentype.FaceOptions{Size: size, DPI: 72, Hinting: font.HintingFull})
		if ferr == nil {
			return face
		}
		err = ferr
	}
	slog.Warn("falling back to bitmap font", "error", err)
	return basicfont.Face7x13
}

// RevealCount is the number of characters a typewriter has shown after
// elapsed seconds: floor(elapsed*cps), clamped to [0, total]. A
// non-positive cps uses the default rate.
func RevealCount(total int, cps, elapsed float64) int {
	if cps <= 0 || math.IsNaN(cps) {
		cps = 24
	}
	if elapsed <= 0 {
		return 0
	}
	n := math.Floor(elapsed*cps + 1e-6)
	if n >= float64(total) {
		return total
	}
	return int(n)
}

// Reveal returns the visible prefix of text, counted in runes.
func Reveal(text string, cps, elapsed float64) string {
	n := RevealCount(utf8.RuneCountInString(text), cps, elapsed)
	if n == 0 {
		return ""
	}
	i := 0
	for pos := range text {
		if i == n {
			return text[:pos]
		}
		i++
	}
	return text
}

// Wrap breaks text into lines no wider than maxWidth pixels. Words wider
// than a line are kept whole on their own line.
func Wrap(face font.Face, text string, maxWidth int) []string {
	var (
		lines []string
		cur   string
	)
	for _, w := range strings.Fields(text) {
		test := w
		if cur != "" {
			test = cur + " " + w
		}
		if font.MeasureString(face, test).Ceil() <= maxWidth {
			cur = test
			continue
		}
		if cur != "" {
			lines = append(lines, cur)
		}
		cur = w
	}
	if cur != "" {
		lines = append(lines, cur)
	}
	return lines
}

// lineHeight is ascent+descent in pixels.
func lineHeight(face font.Face) int {
	m := face.Metrics()
	return (m.Ascent + m.Descent).Ceil()
}

// drawText paints s with its top-left corner at (x, y).
func drawText(dst *image.RGBA, face font.Face, s string, x, y int, c color.Color) {
	d := font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.P(x, y+face.Metrics().Ascent.Ceil()),
	}
	d.DrawString(s)
}
