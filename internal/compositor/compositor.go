// Package compositor renders one frame from layer state pushed by the
// playback loop. It never reads the timeline.
package compositor

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"unicode/utf8"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"

	"github.com/ivlev/vngen/internal/effects"
	"github.com/ivlev/vngen/internal/system"
)

// ImageLoader decodes an asset given its absolute path.
type ImageLoader interface {
	Load(path string) (image.Image, error)
}

// Window is a closed time interval, used for crossfades.
type Window struct {
	Start, End float64
}

func (w Window) contains(t float64) bool {
	return w.End > w.Start && t >= w.Start && t <= w.End
}

func (w Window) progress(t float64) float64 {
	if w.End <= w.Start {
		return 1
	}
	return clamp01((t - w.Start) / (w.End - w.Start))
}

// BackgroundImage is one background with its placement.
type BackgroundImage struct {
	Path  string
	Fit   string
	Align string
	Zoom  float64
}

// BackgroundState is the background layer: the current image and, during a
// crossfade, the previous one.
type BackgroundState struct {
	Cur   *BackgroundImage
	Prev  *BackgroundImage
	XFade Window
}

// SpriteImage is one sprite at its pixel rectangle.
type SpriteImage struct {
	Path    string
	Rect    image.Rectangle
	Opacity float64
}

// SpriteState is the sprite layer.
type SpriteState struct {
	Cur   *SpriteImage
	Prev  *SpriteImage
	XFade Window
}

// DialogState is the dialog box. Start < 0 means no dialog.
type DialogState struct {
	Speaker    string
	Text       string
	CPS        float64
	Start, End float64
}

// Active reports whether the dialog box shows at t.
func (d DialogState) Active(t float64) bool {
	return d.Start >= 0 && d.Start <= t && t <= d.End && (d.Speaker != "" || d.Text != "")
}

// MenuState is the modal menu overlay.
type MenuState struct {
	Prompt            string
	Options           []string
	Palette           string
	PanelOpacity      float64
	Background        string
	BackgroundOpacity float64
	Hover             int
}

// Warning is a non-fatal problem met while rendering a layer.
type Warning struct {
	Layer string
	Path  string
	Err   error
}

func (w Warning) String() string {
	return fmt.Sprintf("%s %s: %v", w.Layer, w.Path, w.Err)
}

// Blend is the alpha pair used for a crossfading layer.
type Blend struct {
	Crossfading bool
	Prev, Cur   float64
}

// Frame is a rendered image plus what went into it.
type Frame struct {
	Time  float64
	Image *image.RGBA

	Warnings []Warning
	Shake    image.Point

	Background Blend
	Sprite     Blend

	OverlayAlpha float64
	Overlay      bool

	Dialog        bool
	DialogText    string
	DialogLines   []string
	DialogSpeaker string

	Menu       bool
	MenuLayout MenuLayout
}

// HitTest returns the menu option under (x, y) in this frame, or -1.
func (f *Frame) HitTest(x, y int) int {
	if !f.Menu {
		return -1
	}
	return f.MenuLayout.HitTest(x, y)
}

var (
	neutralFill  = color.RGBA{28, 32, 40, 255}
	dialogFill   = color.NRGBA{18, 18, 22, 190}
	dialogBorder = color.NRGBA{200, 210, 255, 230}
	speakerColor = color.RGBA{230, 235, 255, 255}
	dialogColor  = color.RGBA{235, 240, 255, 255}
)

// Dialog box geometry.
const (
	dialogHeightRatio = 0.20
	dialogPad         = 24
	dialogMaxLines    = 4
)

// Compositor holds the layer state of the current frame.
type Compositor struct {
	w, h   int
	loader ImageLoader
	face   font.Face
	pool   *system.ImagePool

	bg      BackgroundState
	sprite  SpriteState
	dialog  DialogState
	overlay *effects.Overlay
	shake   *effects.Shake
	menu    *MenuState

	layout MenuLayout
}

// New creates a compositor for a w x h viewport.
func New(w, h int, loader ImageLoader, face font.Face) *Compositor {
	if face == nil {
		face = NewFace(DefaultFontSize)
	}
	return &Compositor{
		w:      w,
		h:      h,
		loader: loader,
		face:   face,
		pool:   system.NewImagePool(),
		dialog: DialogState{Start: -1, End: -1},
	}
}

// Size returns the viewport size.
func (c *Compositor) Size() (int, int) { return c.w, c.h }

func (c *Compositor) SetBackground(s BackgroundState) { c.bg = s }
func (c *Compositor) SetSprite(s SpriteState)         { c.sprite = s }

// SetDialog replaces the dialog box content.
func (c *Compositor) SetDialog(d DialogState) { c.dialog = d }

// ClearDialog hides the dialog box.
func (c *Compositor) ClearDialog() { c.dialog = DialogState{Start: -1, End: -1} }

// Dialog returns the current dialog state.
func (c *Compositor) Dialog() DialogState { return c.dialog }

// SetOverlay sets or, with nil, clears the full-screen overlay.
func (c *Compositor) SetOverlay(o *effects.Overlay) { c.overlay = o }

// SetShake sets or, with nil, clears the screen shake.
func (c *Compositor) SetShake(s *effects.Shake) { c.shake = s }

// SetMenu shows the menu overlay; nil hides it.
func (c *Compositor) SetMenu(m *MenuState) {
	c.menu = m
	if m == nil {
		c.layout = MenuLayout{}
	}
}

// HitTest maps a viewport point to a menu option of the last rendered
// frame, or the layout computed from the current menu when nothing was
// rendered yet. It returns -1 for misses.
func (c *Compositor) HitTest(x, y int) int {
	if c.menu == nil {
		return -1
	}
	if len(c.layout.Options) != len(c.menu.Options) {
		c.layout = LayoutMenu(c.face, c.w, c.h, c.menu.Prompt, len(c.menu.Options))
	}
	return c.layout.HitTest(x, y)
}

// Render draws the frame for playhead t.
func (c *Compositor) Render(t float64) *Frame {
	f := &Frame{Time: t}
	dst := c.pool.Get(image.Rect(0, 0, c.w, c.h))
	f.Image = dst

	if c.shake != nil {
		f.Shake = c.shake.Offset(t)
	}

	c.drawBackground(f, t)
	c.drawSprite(f, t)
	c.drawOverlay(f, t)
	c.drawDialog(f, t)
	c.drawMenu(f)
	return f
}

// Release hands a frame buffer back for reuse. The frame image must not be
// touched afterwards.
func (c *Compositor) Release(f *Frame) {
	if f != nil && f.Image != nil {
		c.pool.Put(f.Image)
		f.Image = nil
	}
}

func (c *Compositor) load(f *Frame, layer, path string) image.Image {
	if path == "" || c.loader == nil {
		return nil
	}
	img, err := c.loader.Load(path)
	if err != nil {
		f.Warnings = append(f.Warnings, Warning{Layer: layer, Path: path, Err: err})
		return nil
	}
	return img
}

func (c *Compositor) drawBackground(f *Frame, t float64) {
	dst := f.Image
	draw.Draw(dst, dst.Rect, image.NewUniform(neutralFill), image.Point{}, draw.Src)
	if c.bg.Cur == nil {
		return
	}
	cur := c.load(f, "background", c.bg.Cur.Path)

	if c.bg.Prev != nil && c.bg.XFade.contains(t) {
		p := c.bg.XFade.progress(t)
		f.Background = Blend{Crossfading: true, Prev: 1 - p, Cur: p}
		if prev := c.load(f, "background", c.bg.Prev.Path); prev != nil {
			c.blit(dst, prev, c.placeBackground(prev, c.bg.Prev, f.Shake), 1-p)
		}
		if cur != nil {
			c.blit(dst, cur, c.placeBackground(cur, c.bg.Cur, f.Shake), p)
		}
		return
	}

	f.Background = Blend{Cur: 1}
	if cur != nil {
		c.blit(dst, cur, c.placeBackground(cur, c.bg.Cur, f.Shake), 1)
	}
}

func (c *Compositor) placeBackground(img image.Image, b *BackgroundImage, shake image.Point) image.Rectangle {
	zoom := b.Zoom
	if zoom == 0 {
		zoom = 1
	}
	fit := b.Fit
	if fit == "" {
		fit = "cover"
	}
	sz := img.Bounds().Size()
	return Place(sz.X, sz.Y, c.w, c.h, fit, b.Align, zoom).Add(shake)
}

func (c *Compositor) drawSprite(f *Frame, t float64) {
	if c.sprite.Cur == nil {
		return
	}
	cur := c.sprite.Cur
	curImg := c.load(f, "sprite", cur.Path)

	if c.sprite.Prev != nil && c.sprite.XFade.contains(t) {
		p := c.sprite.XFade.progress(t)
		f.Sprite = Blend{Crossfading: true, Prev: 1 - p, Cur: p}
		prev := c.sprite.Prev
		if prevImg := c.load(f, "sprite", prev.Path); prevImg != nil {
			c.blit(f.Image, prevImg, prev.Rect.Add(f.Shake), clamp01(prev.Opacity)*(1-p))
		}
		if curImg != nil {
			c.blit(f.Image, curImg, cur.Rect.Add(f.Shake), clamp01(cur.Opacity)*p)
		}
		return
	}

	f.Sprite = Blend{Cur: 1}
	if curImg != nil {
		c.blit(f.Image, curImg, cur.Rect.Add(f.Shake), clamp01(cur.Opacity))
	}
}

func (c *Compositor) drawOverlay(f *Frame, t float64) {
	if c.overlay == nil {
		return
	}
	col, ok := effects.OverlayColor(c.overlay.Mode, c.overlay.Color)
	if !ok {
		return
	}
	a, visible := c.overlay.Alpha(t)
	if !visible {
		return
	}
	f.Overlay, f.OverlayAlpha = true, a
	fill(f.Image, f.Image.Rect, color.NRGBA{col.R, col.G, col.B, alpha8(a)})
}

func (c *Compositor) drawDialog(f *Frame, t float64) {
	d := c.dialog
	if !d.Active(t) {
		return
	}
	dst := f.Image
	boxH := int(float64(c.h) * dialogHeightRatio)
	box := image.Rect(0, c.h-boxH, c.w, c.h)
	fill(dst, box, dialogFill)
	stroke(dst, box, 2, dialogBorder)

	f.Dialog = true
	f.DialogSpeaker = d.Speaker
	f.DialogText = Reveal(d.Text, d.CPS, t-d.Start)

	lh := lineHeight(c.face)
	y := box.Min.Y + 10
	if d.Speaker != "" {
		drawText(dst, c.face, d.Speaker+":", dialogPad, y, speakerColor)
		y += lh + 4
	}
	if f.DialogText == "" {
		return
	}
	lines := Wrap(c.face, f.DialogText, c.w-2*dialogPad)
	if len(lines) > dialogMaxLines {
		lines = lines[:dialogMaxLines]
	}
	f.DialogLines = lines
	for _, ln := range lines {
		drawText(dst, c.face, ln, dialogPad, y, dialogColor)
		y += lh + 4
	}
}

func (c *Compositor) drawMenu(f *Frame) {
	m := c.menu
	if m == nil || len(m.Options) == 0 {
		c.layout = MenuLayout{}
		return
	}
	dst := f.Image
	pal := LookupPalette(m.Palette)

	if bg := c.load(f, "menu", m.Background); bg != nil {
		c.blit(dst, bg, dst.Rect, clamp01(m.BackgroundOpacity))
	}

	l := LayoutMenu(c.face, c.w, c.h, m.Prompt, len(m.Options))
	c.layout = l
	f.Menu, f.MenuLayout = true, l

	panelAlpha := math.Max(0.1, math.Min(1, m.PanelOpacity))
	fill(dst, l.Panel, withAlpha(pal.Panel, alpha8(panelAlpha)))
	stroke(dst, l.Panel, 2, pal.Accent)

	lh := lineHeight(c.face)
	y := l.PromptY
	for _, ln := range l.Prompt {
		drawText(dst, c.face, ln, l.Panel.Min.X+menuPad, y, pal.Text)
		y += lh
	}

	for i, r := range l.Options {
		a := uint8(200)
		if i == m.Hover {
			a = 255
		}
		fill(dst, r, withAlpha(pal.Button, a))
		stroke(dst, r, 1, pal.Accent)
		ty := r.Min.Y + (r.Dy()-lh)/2
		drawText(dst, c.face, m.Options[i], r.Min.X+8, ty, pal.ButtonText)
	}
}

// blit scales src into dr and composites it over dst at the given opacity.
func (c *Compositor) blit(dst *image.RGBA, src image.Image, dr image.Rectangle, alpha float64) {
	clip := dr.Intersect(dst.Rect)
	if alpha <= 0 || clip.Empty() {
		return
	}
	if alpha >= 1 {
		draw.BiLinear.Scale(dst, dr, src, src.Bounds(), draw.Over, nil)
		return
	}
	tmp := c.pool.GetClear(dst.Rect)
	defer c.pool.Put(tmp)
	draw.BiLinear.Scale(tmp, dr, src, src.Bounds(), draw.Src, nil)
	mask := image.NewUniform(color.Alpha{A: alpha8(alpha)})
	draw.DrawMask(dst, clip, tmp, clip.Min, mask, image.Point{}, draw.Over)
}

func fill(dst *image.RGBA, r image.Rectangle, c color.Color) {
	draw.Draw(dst, r, image.NewUniform(c), image.Point{}, draw.Over)
}

func stroke(dst *image.RGBA, r image.Rectangle, width int, c color.Color) {
	fill(dst, image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+width), c)
	fill(dst, image.Rect(r.Min.X, r.Max.Y-width, r.Max.X, r.Max.Y), c)
	fill(dst, image.Rect(r.Min.X, r.Min.Y+width, r.Min.X+width, r.Max.Y-width), c)
	fill(dst, image.Rect(r.Max.X-width, r.Min.Y+width, r.Max.X, r.Max.Y-width), c)
}

func withAlpha(c color.RGBA, a uint8) color.NRGBA {
	return color.NRGBA{R: c.R, G: c.G, B: c.B, A: a}
}

// alpha8 converts [0, 1] to the 8-bit scale, truncating.
func alpha8(a float64) uint8 {
	return uint8(clamp01(a) * 255)
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}

// RevealedRunes is a helper for callers that only need the count.
func RevealedRunes(d DialogState, t float64) int {
	return RevealCount(utf8.RuneCountInString(d.Text), d.CPS, t-d.Start)
}
