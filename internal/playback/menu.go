package playback

import (
	"fmt"

	"github.com/ivlev/vngen/internal/compositor"
	"github.com/ivlev/vngen/internal/logic"
	"github.com/ivlev/vngen/internal/timeline"
)

// Choice is a menu option with its target resolved to seconds.
type Choice struct {
	Text string
	// To is the absolute jump time. It equals the menu time when the option
	// has no target.
	To     float64
	Option timeline.MenuOption
}

// Menu is the open modal menu.
type Menu struct {
	Keyframe *timeline.Keyframe
	Prompt   string
	Choices  []Choice
	Data     *timeline.MenuData
}

// normalizeMenu resolves option targets against the label index, falling
// back to t.
func normalizeMenu(k *timeline.Keyframe, labels map[string]float64, t float64) *Menu {
	d, ok := k.Data.(*timeline.MenuData)
	if !ok {
		return nil
	}
	m := &Menu{Keyframe: k, Prompt: d.Prompt, Data: d}
	if m.Prompt == "" {
		m.Prompt = timeline.DefaultPrompt
	}
	for _, opt := range d.Options {
		text := opt.Text
		if text == "" {
			text = "(option)"
		}
		to := t
		if opt.Target != "" {
			to = logic.ResolveTarget(opt.Target, labels, t)
		}
		m.Choices = append(m.Choices, Choice{Text: text, To: to, Option: opt})
	}
	return m
}

// Menu returns the open menu, or nil.
func (p *Player) Menu() *Menu { return p.menu }

// Select runs option i of the open menu: its logic actions, then its inline
// script, then its script file. Playback then jumps to the option target, or
// to a jump requested by those scripts when the option has none, and
// resumes. The menu block does not reopen until the playhead leaves it.
func (p *Player) Select(i int) error {
	m := p.menu
	if m == nil {
		return ErrNoMenu
	}
	if i < 0 || i >= len(m.Choices) {
		return fmt.Errorf("%w: %d of %d", ErrOptionOutOfRange, i, len(m.Choices))
	}
	c := m.Choices[i]

	p.hasPending = false
	for _, a := range c.Option.Logic {
		p.exec(a)
	}
	for _, a := range logic.Parse(c.Option.Script) {
		p.exec(a)
	}
	if c.Option.ScriptPath != "" {
		p.runScript(c.Option.ScriptPath, m.Keyframe)
	}

	target := c.To
	if c.Option.Target == "" && p.hasPending {
		target = p.pending
	}

	p.log.Info("menu choice", "id", m.Keyframe.ID, "option", i, "text", c.Text, "to", target)

	p.menu = nil
	p.hover = -1
	p.dismissed = m.Keyframe.ID
	p.playing, p.stopped = true, false
	p.Seek(target)
	return nil
}

// Key handles the quick-select keys 1-9.
func (p *Player) Key(n int) error {
	if p.menu == nil {
		return ErrNoMenu
	}
	if n < 1 || n > 9 {
		return fmt.Errorf("%w: key %d", ErrOptionOutOfRange, n)
	}
	return p.Select(n - 1)
}

// Click selects the option under viewport point (x, y). It returns the
// chosen index, or -1 when the click missed every row and the menu stays.
func (p *Player) Click(x, y int) (int, error) {
	if p.menu == nil {
		return -1, ErrNoMenu
	}
	i := p.comp.HitTest(x, y)
	if i < 0 {
		return -1, nil
	}
	return i, p.Select(i)
}

// Hover highlights the option under (x, y).
func (p *Player) Hover(x, y int) {
	if p.menu == nil {
		p.hover = -1
		return
	}
	p.hover = p.comp.HitTest(x, y)
	p.pushMenu()
}

// updateMenu opens the latest active menu block unless it was just answered.
// A block without options is skipped like an answered one.
func (p *Player) updateMenu() {
	cur := p.lastActive(timeline.Menu)

	if p.dismissed >= 0 && !p.stillActive(p.dismissed) {
		p.dismissed = -1
	}
	if cur == nil || cur.ID == p.dismissed {
		p.menu = nil
		return
	}

	m := normalizeMenu(cur, p.labels, p.playhead)
	if m == nil {
		p.menu = nil
		return
	}
	if len(m.Choices) == 0 {
		// nothing to pick: the block never goes modal
		p.log.Warn("menu without options skipped", "id", cur.ID, "t", p.playhead)
		p.dismissed = cur.ID
		p.menu = nil
		return
	}
	opening := p.menu == nil || p.menu.Keyframe.ID != cur.ID
	p.menu = m
	if opening {
		p.hover = -1
		if p.playing {
			p.playing = false
			p.pauseAudio()
		}
		p.log.Info("menu opened", "id", cur.ID, "t", p.playhead, "options", len(m.Choices))
	}
	p.playing = false
}

// stillActive reports whether menu block id still contains the playhead.
func (p *Player) stillActive(id int) bool {
	k, ok := p.model.Find(timeline.Menu, id)
	if !ok {
		return false
	}
	return k.Time <= p.playhead && p.playhead <= k.End()
}

func (p *Player) pushMenu() {
	if p.menu == nil {
		p.comp.SetMenu(nil)
		return
	}
	d := p.menu.Data
	opts := make([]string, len(p.menu.Choices))
	for i, c := range p.menu.Choices {
		opts[i] = c.Text
	}
	bg := ""
	if d.Background != "" {
		bg = p.model.Resolve(d.Background)
	}
	p.comp.SetMenu(&compositor.MenuState{
		Prompt:            p.menu.Prompt,
		Options:           opts,
		Palette:           d.Palette,
		PanelOpacity:      d.PanelOpacity,
		Background:        bg,
		BackgroundOpacity: d.BackgroundOpacity,
		Hover:             p.hover,
	})
}
