package timeline

import (
	"fmt"
	"strings"

	"github.com/ivlev/vngen/internal/logic"
)

// Payload is the track-specific part of a keyframe. Every record keeps the
// document keys it does not understand in Extra and writes them back on save.
type Payload interface {
	decode(r *fieldReader)
	encode() map[string]any
	// assetRefs returns pointers to every asset-bearing field.
	assetRefs() []*string
}

// Fit modes for backgrounds.
const (
	FitCover   = "cover"
	FitContain = "contain"
	FitStretch = "stretch"
	FitNative  = "native"
)

// BackgroundData is the BG payload.
type BackgroundData struct {
	Value string
	Fit   string
	Align string
	Zoom  float64
	// XFade is the authored overlap with the previous block, informational only.
	XFade float64
	Extra map[string]any
}

func (d *BackgroundData) decode(r *fieldReader) {
	d.Value = r.str("", "value")
	d.Fit = strings.ToLower(r.str(FitCover, "fit"))
	d.Align = strings.ToLower(r.str("center", "align"))
	d.Zoom = r.float(1.0, "zoom")
	if d.Zoom <= 0 {
		d.Zoom = 1.0
	}
	d.XFade = r.float(0, "xfade")
	d.Extra = r.extra()
}

func (d *BackgroundData) encode() map[string]any {
	w := newFieldWriter(d.Extra)
	w.set("value", d.Value)
	w.setString("fit", d.Fit)
	w.setString("align", d.Align)
	if d.Zoom != 0 {
		w.set("zoom", d.Zoom)
	}
	if d.XFade > 0 {
		w.set("xfade", d.XFade)
	}
	return w
}

func (d *BackgroundData) assetRefs() []*string { return []*string{&d.Value} }

// Pose is a sprite placement in normalized viewport units: centre, size and opacity.
type Pose struct {
	X, Y    float64
	W, H    float64
	Opacity float64
}

// DefaultPose is used for every sprite field that is not set.
var DefaultPose = Pose{X: 0.5, Y: 0.62, W: 0.26, H: 0.46, Opacity: 1.0}

// SpriteData is the SPRITE payload. Target, when set, is the pose reached at
// the end of the block.
type SpriteData struct {
	Value  string
	Pose   Pose
	Target *Pose
	XFade  float64
	Extra  map[string]any
}

func (d *SpriteData) decode(r *fieldReader) {
	d.Value = r.str("", "value")
	d.Pose = Pose{
		X:       r.float(DefaultPose.X, "x"),
		Y:       r.float(DefaultPose.Y, "y"),
		W:       r.float(DefaultPose.W, "w"),
		H:       r.float(DefaultPose.H, "h"),
		Opacity: clamp01(r.float(DefaultPose.Opacity, "opacity")),
	}

	target := d.Pose
	animated := false
	for _, f := range []struct {
		key string
		dst *float64
	}{
		{"x2", &target.X}, {"y2", &target.Y}, {"w2", &target.W}, {"h2", &target.H}, {"opacity2", &target.Opacity},
	} {
		if v, ok := r.optFloat(f.key); ok {
			*f.dst = v
			animated = true
		}
	}
	if animated {
		target.Opacity = clamp01(target.Opacity)
		d.Target = &target
	}
	d.XFade = r.float(0, "xfade")
	d.Extra = r.extra()
}

func (d *SpriteData) encode() map[string]any {
	w := newFieldWriter(d.Extra)
	w.set("value", d.Value)
	w.set("x", d.Pose.X)
	w.set("y", d.Pose.Y)
	w.set("w", d.Pose.W)
	w.set("h", d.Pose.H)
	w.set("opacity", d.Pose.Opacity)
	if d.Target != nil {
		w.set("x2", d.Target.X)
		w.set("y2", d.Target.Y)
		w.set("w2", d.Target.W)
		w.set("h2", d.Target.H)
		w.set("opacity2", d.Target.Opacity)
	}
	if d.XFade > 0 {
		w.set("xfade", d.XFade)
	}
	return w
}

func (d *SpriteData) assetRefs() []*string { return []*string{&d.Value} }

// DefaultCPS is the typewriter speed used when a dialog has none.
const DefaultCPS = 24.0

// DialogData is the DIALOG payload.
type DialogData struct {
	Speaker string
	Text    string
	CPS     float64
	Extra   map[string]any
}

func (d *DialogData) decode(r *fieldReader) {
	d.Speaker = r.str("", "speaker")
	d.Text = r.str("", "text")
	d.CPS = r.float(DefaultCPS, "cps")
	d.Extra = r.extra()
}

func (d *DialogData) encode() map[string]any {
	w := newFieldWriter(d.Extra)
	w.set("speaker", d.Speaker)
	w.set("text", d.Text)
	w.set("cps", d.CPS)
	return w
}

func (d *DialogData) assetRefs() []*string { return nil }

// AudioData is shared by SFX and MUSIC.
type AudioData struct {
	Value  string
	Volume float64
	Loop   bool
	Extra  map[string]any
}

func (d *AudioData) decode(r *fieldReader) {
	d.Value = r.str("", "value")
	d.Volume = clamp01(r.float(1.0, "vol", "volume"))
	d.Loop = r.bool(false, "loop")
	d.Extra = r.extra()
}

func (d *AudioData) encode() map[string]any {
	w := newFieldWriter(d.Extra)
	w.set("value", d.Value)
	w.set("vol", d.Volume)
	if d.Loop {
		w.set("loop", true)
	}
	return w
}

func (d *AudioData) assetRefs() []*string { return []*string{&d.Value} }

// FX modes.
const (
	FXBlack       = "black"
	FXWhite       = "white"
	FXTranslucent = "translucent"
	FXShake       = "shake"
)

// FXData is the FX payload: either a full-screen overlay ramp or a shake.
type FXData struct {
	Mode      string
	Color     string
	FromAlpha float64
	ToAlpha   float64
	Amplitude float64
	Frequency float64
	Decay     float64
	Seed      int
	Extra     map[string]any
}

func (d *FXData) decode(r *fieldReader) {
	d.Mode = strings.ToLower(strings.TrimSpace(r.str("", "mode")))
	d.Color = r.str("#000000", "color")
	d.FromAlpha = clamp01(r.float(0, "from_alpha", "from"))
	d.ToAlpha = clamp01(r.float(1, "to_alpha", "to"))
	d.Amplitude = r.float(16, "amplitude")
	d.Frequency = r.float(12, "frequency")
	d.Decay = r.float(2.5, "decay")
	d.Seed = r.int(0, "seed")
	d.Extra = r.extra()
}

func (d *FXData) encode() map[string]any {
	w := newFieldWriter(d.Extra)
	w.set("mode", d.Mode)
	if d.Mode == FXShake {
		w.set("amplitude", d.Amplitude)
		w.set("frequency", d.Frequency)
		w.set("decay", d.Decay)
		w.set("seed", d.Seed)
		return w
	}
	w.set("color", d.Color)
	w.set("from_alpha", d.FromAlpha)
	w.set("to_alpha", d.ToAlpha)
	return w
}

func (d *FXData) assetRefs() []*string { return nil }

// IsOverlay reports whether the mode draws a flat full-screen colour.
func (d *FXData) IsOverlay() bool {
	switch d.Mode {
	case FXBlack, FXWhite, FXTranslucent:
		return true
	}
	return false
}

// MenuOption is one selectable row of a menu.
type MenuOption struct {
	Text string
	// Target is a label name or a seconds literal; empty means stay.
	Target     string
	Script     string
	ScriptPath string
	Logic      []logic.Action
	Extra      map[string]any
}

// MenuData is the MENU payload.
type MenuData struct {
	Prompt            string
	Options           []MenuOption
	Palette           string
	PanelOpacity      float64
	Background        string
	BackgroundOpacity float64
	Extra             map[string]any
}

// DefaultPrompt is shown when a menu has no prompt.
const DefaultPrompt = "Choose:"

func (d *MenuData) decode(r *fieldReader) {
	d.Prompt = r.str(DefaultPrompt, "prompt")
	d.Palette = strings.ToLower(r.str("", "palette"))
	d.PanelOpacity = r.float(0.85, "panel_opacity")
	if d.PanelOpacity < 0.1 {
		d.PanelOpacity = 0.1
	} else if d.PanelOpacity > 1 {
		d.PanelOpacity = 1
	}
	d.Background = r.str("", "background")
	d.BackgroundOpacity = clamp01(r.float(0.3, "background_opacity"))

	d.Options = nil
	if raw, ok := r.raw("options"); ok {
		list, isList := raw.([]any)
		if !isList {
			r.fail("options", raw, "list")
		}
		for i, item := range list {
			opt, err := decodeOption(item)
			if err != nil && r.err == nil {
				r.err = fmt.Errorf("options[%d]: %w", i, err)
			}
			d.Options = append(d.Options, opt)
		}
	}
	d.Extra = r.extra()
}

func decodeOption(item any) (MenuOption, error) {
	switch v := item.(type) {
	case map[string]any:
		r := newFieldReader(v)
		opt := MenuOption{
			Text:       strings.TrimSpace(r.str("", "text")),
			Target:     strings.TrimSpace(r.str("", "target", "to")),
			Script:     strings.TrimSpace(r.str("", "script")),
			ScriptPath: strings.TrimSpace(r.str("", "script_path", "script_asset")),
		}
		if raw, ok := r.raw("logic"); ok {
			opt.Logic = decodeLogicList(raw)
		}
		opt.Extra = r.extra()
		return opt, r.err
	default:
		s, err := toString(v)
		return MenuOption{Text: s}, err
	}
}

// decodeLogicList accepts a single {type, target} map or a list of them.
func decodeLogicList(raw any) []logic.Action {
	var items []any
	switch v := raw.(type) {
	case []any:
		items = v
	default:
		items = []any{v}
	}
	var out []logic.Action
	for _, it := range items {
		m, ok := it.(map[string]any)
		if !ok {
			continue
		}
		r := newFieldReader(m)
		if a, ok := logic.FromType(r.str("", "type"), r.str("", "target", "to")); ok {
			out = append(out, a)
		}
	}
	return out
}

func (d *MenuData) encode() map[string]any {
	w := newFieldWriter(d.Extra)
	w.set("prompt", d.Prompt)
	w.setString("palette", d.Palette)
	w.set("panel_opacity", d.PanelOpacity)
	w.setString("background", d.Background)
	if d.Background != "" {
		w.set("background_opacity", d.BackgroundOpacity)
	}
	opts := make([]any, 0, len(d.Options))
	for _, o := range d.Options {
		ow := newFieldWriter(o.Extra)
		ow.set("text", o.Text)
		ow.setString("target", o.Target)
		ow.setString("script", o.Script)
		ow.setString("script_path", o.ScriptPath)
		switch len(o.Logic) {
		case 0:
		case 1:
			ow.set("logic", encodeAction(o.Logic[0]))
		default:
			list := make([]any, 0, len(o.Logic))
			for _, a := range o.Logic {
				list = append(list, encodeAction(a))
			}
			ow.set("logic", list)
		}
		opts = append(opts, map[string]any(ow))
	}
	w.set("options", opts)
	return w
}

func encodeAction(a logic.Action) map[string]any {
	m := map[string]any{"type": string(a.Kind)}
	if a.Target != "" {
		m["target"] = a.Target
	}
	return m
}

func (d *MenuData) assetRefs() []*string {
	refs := []*string{&d.Background}
	for i := range d.Options {
		refs = append(refs, &d.Options[i].ScriptPath)
	}
	return refs
}

// LogicData is the LOGIC payload. Type is "label" for markers or one of the
// command words understood by logic.FromType.
type LogicData struct {
	Type       string
	Name       string
	Target     string
	Script     string
	ScriptPath string
	Extra      map[string]any
}

func (d *LogicData) decode(r *fieldReader) {
	d.Type = strings.ToLower(strings.TrimSpace(r.str("label", "type")))
	d.Name = strings.TrimSpace(r.str("", "name"))
	d.Target = strings.TrimSpace(r.str("", "target", "to"))
	d.Script = strings.TrimSpace(r.str("", "script"))
	d.ScriptPath = strings.TrimSpace(r.str("", "script_path", "script_asset"))
	d.Extra = r.extra()
}

func (d *LogicData) encode() map[string]any {
	w := newFieldWriter(d.Extra)
	w.set("type", d.Type)
	w.setString("name", d.Name)
	w.setString("target", d.Target)
	w.setString("script", d.Script)
	w.setString("script_path", d.ScriptPath)
	return w
}

func (d *LogicData) assetRefs() []*string { return []*string{&d.ScriptPath} }

// IsLabel reports whether the block is a named marker.
func (d *LogicData) IsLabel() bool { return d.Type == "label" }

// Action returns the runtime command of a non-label block.
func (d *LogicData) Action() (logic.Action, bool) {
	if d.IsLabel() {
		return logic.Action{}, false
	}
	return logic.FromType(d.Type, d.Target)
}

// DecodePayload builds a typed payload for track from a generic map, as it
// appears in a document's "data" field.
func DecodePayload(t Track, m map[string]any) (Payload, error) {
	p := NewPayload(t)
	if p == nil {
		return nil, fmt.Errorf("invalid track %v", t)
	}
	r := newFieldReader(m)
	r.used["duration"] = true
	p.decode(r)
	if r.err != nil {
		return nil, r.err
	}
	return p, nil
}

// EncodePayload is the inverse of DecodePayload.
func EncodePayload(p Payload) map[string]any {
	if p == nil {
		return map[string]any{}
	}
	return p.encode()
}
