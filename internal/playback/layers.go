package playback

import (
	"github.com/ivlev/vngen/internal/compositor"
	"github.com/ivlev/vngen/internal/effects"
	"github.com/ivlev/vngen/internal/layers"
	"github.com/ivlev/vngen/internal/timeline"
)

// updateLayers recomputes every compositor input at the playhead and pushes
// it. Poses are re-read from the keyframes each time, so live edits show up
// on the next tick.
func (p *Player) updateLayers() {
	t := p.playhead
	p.bg = p.backgroundAt(t)
	p.sprite = p.spriteAt(t)
	p.overlay, p.shake = p.effectsAt(t)
	p.updateMenu()

	p.comp.SetBackground(p.bg)
	p.comp.SetSprite(p.sprite)
	p.comp.SetOverlay(p.overlay)
	p.comp.SetShake(p.shake)
	p.comp.SetDialog(p.dialog)
	p.pushMenu()
}

func (p *Player) backgroundImage(k *timeline.Keyframe) *compositor.BackgroundImage {
	d, ok := k.Data.(*timeline.BackgroundData)
	if !ok {
		return nil
	}
	return &compositor.BackgroundImage{
		Path:  p.model.Resolve(d.Value),
		Fit:   d.Fit,
		Align: d.Align,
		Zoom:  d.Zoom,
	}
}

func (p *Player) backgroundAt(t float64) compositor.BackgroundState {
	cur, prev := layers.Pick(layers.Active(p.model, timeline.Background, t))
	if cur == nil {
		return compositor.BackgroundState{}
	}
	s := compositor.BackgroundState{Cur: p.backgroundImage(cur)}
	if w, ok := layers.Crossfade(prev, cur); ok {
		s.Prev = p.backgroundImage(prev)
		s.XFade = compositor.Window{Start: w.Start, End: w.End}
	}
	return s
}

func (p *Player) spriteImage(k *timeline.Keyframe, t float64) *compositor.SpriteImage {
	d, ok := k.Data.(*timeline.SpriteData)
	if !ok {
		return nil
	}
	pose := layers.SpritePose(k, t)
	return &compositor.SpriteImage{
		Path:    p.model.Resolve(d.Value),
		Rect:    layers.PoseRect(pose, p.width, p.height),
		Opacity: pose.Opacity,
	}
}

func (p *Player) spriteAt(t float64) compositor.SpriteState {
	cur, prev := layers.Pick(layers.Active(p.model, timeline.Sprite, t))
	if cur == nil {
		return compositor.SpriteState{}
	}
	s := compositor.SpriteState{Cur: p.spriteImage(cur, t)}
	if w, ok := layers.Crossfade(prev, cur); ok {
		s.Prev = p.spriteImage(prev, t)
		s.XFade = compositor.Window{Start: w.Start, End: w.End}
	}
	return s
}

// effectsAt picks the latest active overlay block and the latest active
// shake block independently.
func (p *Player) effectsAt(t float64) (*effects.Overlay, *effects.Shake) {
	var (
		overlay *effects.Overlay
		shake   *effects.Shake
	)
	for _, k := range layers.Active(p.model, timeline.FX, t) {
		d, ok := k.Data.(*timeline.FXData)
		if !ok {
			continue
		}
		switch {
		case d.IsOverlay():
			col, err := effects.ParseHexColor(d.Color)
			if err != nil && d.Mode == timeline.FXTranslucent {
				p.log.Debug("fx colour", "id", k.ID, "error", err)
			}
			overlay = &effects.Overlay{
				Mode:     d.Mode,
				Color:    col,
				From:     d.FromAlpha,
				To:       d.ToAlpha,
				Start:    k.Time,
				Duration: k.EffectiveDuration(),
			}
		case d.Mode == timeline.FXShake:
			shake = &effects.Shake{
				Start:     k.Time,
				Duration:  k.EffectiveDuration(),
				Amplitude: d.Amplitude,
				Frequency: d.Frequency,
				Decay:     d.Decay,
				Seed:      d.Seed,
			}
		}
	}
	return overlay, shake
}

// Snapshot is the layer state at the playhead, as pushed to the compositor.
type Snapshot struct {
	Time  float64
	State State

	Background compositor.BackgroundState
	Sprite     compositor.SpriteState
	Overlay    *effects.Overlay
	Shake      *effects.Shake

	Dialog     compositor.DialogState
	DialogOn   bool
	DialogText string

	Menu *Menu
	// MusicID is the id of the streaming MUSIC block, or -1.
	MusicID int
}

// Snapshot returns the current layer state.
func (p *Player) Snapshot() Snapshot {
	s := Snapshot{
		Time:       p.playhead,
		State:      p.State(),
		Background: p.bg,
		Sprite:     p.sprite,
		Overlay:    p.overlay,
		Shake:      p.shake,
		Dialog:     p.dialog,
		Menu:       p.menu,
		MusicID:    p.musicID,
	}
	if p.dialog.Active(p.playhead) {
		s.DialogOn = true
		s.DialogText = compositor.Reveal(p.dialog.Text, p.dialog.CPS, p.playhead-p.dialog.Start)
	}
	return s
}
