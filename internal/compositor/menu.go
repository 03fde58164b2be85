package compositor

import (
	"image"
	"image/color"
	"strings"

	"golang.org/x/image/font"
)

// Palette is a named colour theme of the menu overlay.
type Palette struct {
	Key        string
	Name       string
	Panel      color.RGBA
	Text       color.RGBA
	Button     color.RGBA
	ButtonText color.RGBA
	Accent     color.RGBA
}

func rgb(r, g, b uint8) color.RGBA { return color.RGBA{R: r, G: g, B: b, A: 255} }

// Palettes lists the built-in menu themes.
var Palettes = map[string]Palette{
	"midnight": {"midnight", "Midnight", rgb(16, 18, 32), rgb(240, 242, 255), rgb(54, 97, 255), rgb(250, 252, 255), rgb(255, 255, 255)},
	"ember":    {"ember", "Ember", rgb(45, 18, 12), rgb(255, 237, 224), rgb(230, 98, 43), rgb(255, 255, 255), rgb(255, 205, 178)},
	"forest":   {"forest", "Forest", rgb(12, 28, 22), rgb(220, 255, 240), rgb(41, 146, 123), rgb(240, 255, 249), rgb(108, 214, 174)},
	"violet":   {"violet", "Violet", rgb(30, 12, 38), rgb(250, 240, 255), rgb(157, 92, 255), rgb(255, 255, 255), rgb(199, 156, 255)},
}

// DefaultPalette is used for empty or unknown palette keys.
const DefaultPalette = "midnight"

// LookupPalette resolves a key case-insensitively.
func LookupPalette(key string) Palette {
	if p, ok := Palettes[strings.ToLower(strings.TrimSpace(key))]; ok {
		return p
	}
	return Palettes[DefaultPalette]
}

// Menu layout constants, in pixels.
const (
	menuPad       = 16
	menuPromptGap = 28
	menuButtonMin = 32
	menuButtonGap = 8
)

// MenuLayout is the geometry of the menu overlay for one frame.
type MenuLayout struct {
	Panel   image.Rectangle
	Prompt  []string
	PromptY int
	Options []image.Rectangle
}

// LayoutMenu places a panel of 60% x 50% of the viewport in the centre,
// the wrapped prompt on top and one row per option below it.
func LayoutMenu(face font.Face, w, h int, prompt string, options int) MenuLayout {
	pw, ph := w*6/10, h/2
	px, py := w/2-pw/2, h/2-ph/2
	l := MenuLayout{Panel: image.Rect(px, py, px+pw, py+ph)}

	lh := lineHeight(face)
	l.PromptY = py + 12
	l.Prompt = Wrap(face, prompt, pw-2*menuPad)
	promptH := len(l.Prompt) * lh

	top := py + promptH + menuPromptGap
	btnH := max(menuButtonMin, lh+10)
	for range options {
		l.Options = append(l.Options, image.Rect(px+menuPad, top, px+pw-menuPad, top+btnH))
		top += btnH + menuButtonGap
	}
	return l
}

// HitTest returns the option index under (x, y) or -1.
func (l MenuLayout) HitTest(x, y int) int {
	pt := image.Pt(x, y)
	for i, r := range l.Options {
		if pt.In(r) {
			return i
		}
	}
	return -1
}
