// Package playback owns the playhead. It advances time, fires the enter
// events of blocks the playhead crosses, resolves jumps and menus, and
// pushes the resulting layer state to the compositor every tick.
package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/ivlev/vngen/internal/audio"
	"github.com/ivlev/vngen/internal/compositor"
	"github.com/ivlev/vngen/internal/effects"
	"github.com/ivlev/vngen/internal/logic"
	"github.com/ivlev/vngen/internal/scripting"
	"github.com/ivlev/vngen/internal/timeline"
)

var (
	// ErrNoMenu is returned by menu input while no menu is shown.
	ErrNoMenu = errors.New("no active menu")
	// ErrOptionOutOfRange is returned for a menu option index that does not exist.
	ErrOptionOutOfRange = errors.New("menu option out of range")
)

// DefaultMaxStep caps the time one tick may advance, in seconds.
const DefaultMaxStep = 0.05

// gateEpsilon is how far past a window end the gates wait before closing it.
const gateEpsilon = 1e-6

// State is the externally visible play state.
type State int

const (
	Stopped State = iota
	Playing
	Paused
	MenuModal
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "STOPPED"
	case Playing:
		return "PLAYING"
	case Paused:
		return "PAUSED"
	case MenuModal:
		return "MENU_MODAL"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// ScriptRunner executes an attached script. Errors and panics are logged by
// the player and never stop playback.
type ScriptRunner interface {
	Run(ctx context.Context, path string, sc scripting.Context) error
}

// Options configures a Player.
type Options struct {
	Width, Height int
	MaxStep       float64

	Audio      audio.Backend
	Scripts    ScriptRunner
	Compositor *compositor.Compositor
	Logger     *slog.Logger
}

// Player is the playback state machine. It is not safe for concurrent use:
// Run, the tick methods and the input methods must share one goroutine.
type Player struct {
	model   *timeline.Model
	comp    *compositor.Compositor
	audio   audio.Backend
	scripts ScriptRunner
	log     *slog.Logger
	ctx     context.Context

	width, height int
	maxStep       float64

	playhead float64
	playing  bool
	stopped  bool
	// fireAtHead widens the next enter window so blocks exactly at the
	// playhead fire when playback starts from a stop.
	fireAtHead bool

	labels     map[string]float64
	hasPending bool
	pending    float64

	dialog    compositor.DialogState
	dialogEnd float64

	musicID     int
	musicEnd    float64
	musicPaused bool
	muteSFX     bool
	muteMusic   bool

	loopA, loopB float64
	loopOn       bool

	menu      *Menu
	dismissed int
	hover     int

	bg      compositor.BackgroundState
	sprite  compositor.SpriteState
	overlay *effects.Overlay
	shake   *effects.Shake

	enter     [len(timeline.Tracks)]func(*timeline.Keyframe)
	observers []func(float64)
	inbox     chan func()
}

// New creates a stopped player at t=0 over model m.
func New(m *timeline.Model, opts Options) *Player {
	if opts.Width <= 0 || opts.Height <= 0 {
		opts.Width, opts.Height = 960, 540
	}
	if opts.MaxStep <= 0 {
		opts.MaxStep = DefaultMaxStep
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Audio == nil {
		opts.Audio = &audio.Null{}
	}
	if opts.Compositor == nil {
		opts.Compositor = compositor.New(opts.Width, opts.Height, nil, nil)
	}

	p := &Player{
		model:     m,
		comp:      opts.Compositor,
		audio:     opts.Audio,
		scripts:   opts.Scripts,
		log:       opts.Logger,
		ctx:       context.Background(),
		width:     opts.Width,
		height:    opts.Height,
		maxStep:   opts.MaxStep,
		stopped:   true,
		labels:    map[string]float64{},
		dialog:    compositor.DialogState{Start: -1, End: -1},
		dialogEnd: -1,
		musicID:   -1,
		musicEnd:  -1,
		dismissed: -1,
		hover:     -1,
		inbox:     make(chan func(), 16),
	}

	// visual tracks have no enter event: they are derived every tick
	p.enter[timeline.Dialog] = p.enterDialog
	p.enter[timeline.SFX] = p.enterSFX
	p.enter[timeline.Music] = p.enterMusic
	p.enter[timeline.Logic] = p.enterLogic

	p.labels = m.Labels()
	p.updateLayers()
	return p
}

// Model returns the timeline being played.
func (p *Player) Model() *timeline.Model { return p.model }

// Compositor returns the compositor the player feeds.
func (p *Player) Compositor() *compositor.Compositor { return p.comp }

// Time is the playhead in seconds.
func (p *Player) Time() float64 { return p.playhead }

// Playing reports whether the playhead advances on Tick.
func (p *Player) Playing() bool { return p.playing }

// State derives the play state. An open menu wins over everything else.
func (p *Player) State() State {
	switch {
	case p.menu != nil:
		return MenuModal
	case p.playing:
		return Playing
	case p.stopped:
		return Stopped
	}
	return Paused
}

// OnPlayhead registers fn to be called with the playhead after every tick
// and seek.
func (p *Player) OnPlayhead(fn func(float64)) {
	p.observers = append(p.observers, fn)
}

// SetMutes mutes effects and music independently. Muting music stops it;
// unmuting while playing restarts it at the playhead.
func (p *Player) SetMutes(sfx, music bool) {
	p.muteSFX = sfx
	if music == p.muteMusic {
		return
	}
	if music {
		p.stopMusic()
		p.muteMusic = true
		return
	}
	p.muteMusic = false
	if p.playing {
		p.ensureMusic()
	}
}

// SetLoop sets the A/B preview loop. Playback reaching b jumps back to a.
// Both ends are clamped to the timeline.
func (p *Player) SetLoop(a, b float64, enabled bool) {
	p.loopA, p.loopB, p.loopOn = p.clampLoop(a), p.clampLoop(b), enabled
}

func (p *Player) clampLoop(t float64) float64 {
	if math.IsNaN(t) {
		return 0
	}
	return math.Max(0, math.Min(p.model.Duration(), t))
}

// Play starts or resumes playback. It does nothing while a menu is open.
func (p *Player) Play() {
	if p.menu != nil || p.playing {
		return
	}
	if p.stopped {
		p.fireAtHead = true
	}
	p.playing, p.stopped = true, false
	p.resumeOrRealignAudio()
}

// Pause freezes the playhead and pauses music.
func (p *Player) Pause() {
	if p.menu != nil || !p.playing {
		return
	}
	p.playing = false
	p.pauseAudio()
}

// TogglePlay flips between Play and Pause.
func (p *Player) TogglePlay() {
	if p.playing {
		p.Pause()
	} else {
		p.Play()
	}
}

// Stop halts playback and returns to t=0 with all derived state rebuilt.
func (p *Player) Stop() {
	p.playing = false
	p.menu = nil
	p.dismissed = -1
	p.fireAtHead = false
	p.seek(0)
	p.stopped = true
	p.musicPaused = false
	p.notify()
}

// Seek moves the playhead to t, clamped to the timeline, and rebuilds the
// derived state there. Blocks at t do not fire their enter events.
func (p *Player) Seek(t float64) {
	p.seek(t)
	p.notify()
}

func (p *Player) seek(t float64) {
	p.playhead = p.clampTime(t)
	if p.playhead != 0 {
		p.stopped = false
	}
	p.fireAtHead = false
	p.hasPending = false
	p.labels = p.model.Labels()
	p.resync()
	p.updateLayers()
}

// Jump schedules a relocation to a label or a seconds literal, applied at
// the end of the next tick.
func (p *Player) Jump(target string) {
	p.labels = p.model.Labels()
	p.exec(logic.Action{Kind: logic.Jump, Target: target})
}

// Exec applies one logic action. Jumps are deferred to the end of the tick.
func (p *Player) Exec(a logic.Action) { p.exec(a) }

func (p *Player) exec(a logic.Action) {
	switch {
	case a.Relocates():
		p.pending = logic.ResolveTarget(a.Target, p.labels, p.playhead)
		p.hasPending = true
	case a.Halts():
		p.playing = false
	case a.Starts():
		p.playing = true
		p.stopped = false
	}
}

// Tick advances playback by dt seconds of wall-clock time, clamped to
// [0, MaxStep].
func (p *Player) Tick(dt float64) {
	if dt < 0 || math.IsNaN(dt) {
		dt = 0
	}
	dt = math.Min(dt, p.maxStep)

	p.labels = p.model.Labels()

	jumped := false
	if p.playing {
		prev := p.playhead
		if p.fireAtHead {
			prev -= timeline.TickSec
			p.fireAtHead = false
		}
		p.playhead = math.Min(p.model.Duration(), p.playhead+dt)

		if p.loopOn && p.loopB > p.loopA+1e-6 && p.playhead >= p.loopB {
			p.playhead = p.clampTime(p.loopA)
			// keyframes exactly at A fire again on every pass
			prev = p.playhead - timeline.TickSec
			jumped = true
		}

		for tr, k := range p.model.KeyframesStartingIn(prev, p.playhead) {
			if h := p.enter[tr]; h != nil {
				h(k)
			}
		}
		p.applyGates()
	}

	if p.hasPending {
		p.playhead = p.clampTime(p.pending)
		p.hasPending = false
		if p.playhead != 0 {
			p.stopped = false
		}
		jumped = true
	}
	if jumped {
		p.resync()
	}

	p.updateLayers()
	p.notify()
}

// Advance plays d seconds as a sequence of ticks no longer than MaxStep.
func (p *Player) Advance(d float64) {
	for d > 1e-12 {
		step := math.Min(d, p.maxStep)
		p.Tick(step)
		d -= step
	}
}

// Do queues fn to run on the playback goroutine between ticks. It is the
// only method that may be called from other goroutines while Run is active.
// It blocks once the queue is full and Run is not draining it.
func (p *Player) Do(ctx context.Context, fn func()) error {
	select {
	case p.inbox <- fn:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run ticks at the given interval using wall-clock deltas until ctx is done.
// Functions posted with Do run between ticks.
func (p *Player) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Second / 60
	}
	p.ctx = ctx
	defer func() { p.ctx = context.Background() }()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-p.inbox:
			fn()
		case now := <-ticker.C:
			p.Tick(now.Sub(last).Seconds())
			last = now
		}
	}
}

// Render draws the current frame.
func (p *Player) Render() *compositor.Frame {
	return p.comp.Render(p.playhead)
}

func (p *Player) clampTime(t float64) float64 {
	if math.IsNaN(t) {
		return p.playhead
	}
	return math.Max(0, math.Min(p.model.Duration(), t))
}

func (p *Player) notify() {
	for _, fn := range p.observers {
		fn(p.playhead)
	}
}

// applyGates closes the dialog and music windows the playhead has passed.
// An overlapping block of the same track takes over instead.
func (p *Player) applyGates() {
	if p.dialogEnd >= 0 && p.playhead > p.dialogEnd+gateEpsilon {
		if k := p.lastActive(timeline.Dialog); k != nil {
			p.applyDialog(k)
		} else {
			p.clearDialog()
		}
	}
	if p.musicEnd >= 0 && p.playhead > p.musicEnd+gateEpsilon {
		p.stopMusic()
		if k := p.lastActive(timeline.Music); k != nil {
			p.startMusic(k, p.playhead-k.Time)
		}
	}
}

// resync rebuilds dialog, music and menu state at the playhead as if it had
// landed there directly. Effects are never replayed.
func (p *Player) resync() {
	p.dialogEnd = -1
	p.stopMusic()
	p.menu = nil

	if k := p.lastActive(timeline.Dialog); k != nil {
		p.applyDialog(k)
	} else {
		p.clearDialog()
	}

	if p.playing && !p.muteMusic {
		if k := p.lastActive(timeline.Music); k != nil {
			p.startMusic(k, p.playhead-k.Time)
		}
	}
}
