package playback

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/ivlev/vngen/internal/logic"
	"github.com/ivlev/vngen/internal/scripting"
	"github.com/ivlev/vngen/internal/timeline"
)

type musicCall struct {
	path   string
	offset float64
}

// recorder is an audio backend that remembers every call.
type recorder struct {
	sfx     []string
	music   []musicCall
	pauses  int
	resumes int
	stops   int
	busy    bool
	paused  bool
}

func (r *recorder) PlaySFX(path string, _ float64) error {
	r.sfx = append(r.sfx, path)
	return nil
}

func (r *recorder) PlayMusic(path string, _ float64, _ bool, offset float64) error {
	r.music = append(r.music, musicCall{path, offset})
	r.busy, r.paused = true, false
	return nil
}

func (r *recorder) PauseMusic() error  { r.pauses++; r.paused = true; return nil }
func (r *recorder) ResumeMusic() error { r.resumes++; r.paused = false; return nil }
func (r *recorder) StopMusic() error   { r.stops++; r.busy, r.paused = false, false; return nil }
func (r *recorder) MusicBusy() bool    { return r.busy && !r.paused }
func (r *recorder) Close() error       { return nil }

type fakeRunner struct {
	calls int
	fn    func(path string, sc scripting.Context) error
}

func (f *fakeRunner) Run(_ context.Context, path string, sc scripting.Context) error {
	f.calls++
	return f.fn(path, sc)
}

func newProject(t *testing.T, assets ...string) *timeline.Model {
	t.Helper()
	dir := t.TempDir()
	for _, a := range assets {
		if err := os.WriteFile(filepath.Join(dir, a), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	m := timeline.NewModel()
	m.SetProjectFile(filepath.Join(dir, "story.json"))
	return m
}

func add(t *testing.T, m *timeline.Model, tr timeline.Track, at, dur float64, data timeline.Payload) int {
	t.Helper()
	id, err := m.Add(tr, &timeline.Keyframe{Time: at, Duration: dur, Data: data}, false)
	if err != nil {
		t.Fatalf("Add(%v, %.2f): %v", tr, at, err)
	}
	return id
}

func label(name string) *timeline.LogicData {
	return &timeline.LogicData{Type: "label", Name: name}
}

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestLinearPlayback(t *testing.T) {
	m := newProject(t)
	add(t, m, timeline.Background, 0, 10, &timeline.BackgroundData{Value: "bg1.png"})
	add(t, m, timeline.Dialog, 2, 3, &timeline.DialogData{Text: "Hello", CPS: 10})

	p := New(m, Options{})
	if p.State() != Stopped {
		t.Fatalf("initial state = %v", p.State())
	}
	p.Play()
	for range 25 {
		p.Advance(0.1)
	}

	s := p.Snapshot()
	if !near(s.Time, 2.5) {
		t.Fatalf("playhead = %v, want 2.5", s.Time)
	}
	if s.Background.Cur == nil || s.Background.Cur.Path != m.Resolve("bg1.png") {
		t.Errorf("background = %+v", s.Background.Cur)
	}
	if s.Background.Prev != nil {
		t.Error("unexpected background crossfade")
	}
	if !s.DialogOn || s.DialogText != "Hello" {
		t.Errorf("dialog = %v %q, want visible %q", s.DialogOn, s.DialogText, "Hello")
	}
	if s.State != Playing {
		t.Errorf("state = %v", s.State)
	}
}

func menuTimeline(t *testing.T) *timeline.Model {
	m := newProject(t)
	add(t, m, timeline.Logic, 0, 0, label("Start"))
	add(t, m, timeline.Menu, 5, 0, &timeline.MenuData{
		Prompt: "Where to?",
		Options: []timeline.MenuOption{
			{Text: "A", Target: "10.0"},
			{Text: "B", Target: "Start"},
			{Text: "C", Script: "pause; jump Start"},
		},
	})
	return m
}

func playUntilMenu(t *testing.T, p *Player) {
	t.Helper()
	p.Play()
	for i := 0; i < 400 && p.State() != MenuModal; i++ {
		p.Tick(0.05)
	}
	if p.State() != MenuModal {
		t.Fatalf("menu never opened, playhead %v", p.Time())
	}
}

func TestMenuBranching(t *testing.T) {
	tests := []struct {
		option int
		want   float64
	}{
		{0, 10.0},
		{1, 0.0},
		{2, 0.0},
	}
	for _, tt := range tests {
		p := New(menuTimeline(t), Options{})
		playUntilMenu(t, p)

		if p.Time() < 5-1e-6 || p.Time() > 5+DefaultMaxStep+1e-9 {
			t.Errorf("menu opened at %v", p.Time())
		}
		frozen := p.Time()
		p.Advance(1)
		if p.Time() != frozen {
			t.Errorf("playhead moved under the menu: %v -> %v", frozen, p.Time())
		}
		if got := p.Menu().Choices[1].To; got != 0 {
			t.Errorf("label target resolved to %v", got)
		}

		if err := p.Select(tt.option); err != nil {
			t.Fatalf("Select(%d): %v", tt.option, err)
		}
		if p.Time() != tt.want {
			t.Errorf("option %d: playhead = %v, want exactly %v", tt.option, p.Time(), tt.want)
		}
		if p.State() != Playing {
			t.Errorf("option %d: state = %v, want PLAYING", tt.option, p.State())
		}

		p.Advance(0.5)
		if p.State() != Playing {
			t.Errorf("option %d: answered menu reopened at %v", tt.option, p.Time())
		}
	}
}

func TestMenuReopensAfterLeavingWindow(t *testing.T) {
	p := New(menuTimeline(t), Options{})
	playUntilMenu(t, p)
	if err := p.Select(1); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 400 && p.State() != MenuModal; i++ {
		p.Tick(0.05)
	}
	if p.State() != MenuModal {
		t.Error("menu should open again on the next pass")
	}
}

func TestMenuInput(t *testing.T) {
	p := New(menuTimeline(t), Options{})
	if err := p.Select(0); !errors.Is(err, ErrNoMenu) {
		t.Errorf("Select without menu = %v", err)
	}
	if err := p.Key(1); !errors.Is(err, ErrNoMenu) {
		t.Errorf("Key without menu = %v", err)
	}
	if _, err := p.Click(1, 1); !errors.Is(err, ErrNoMenu) {
		t.Errorf("Click without menu = %v", err)
	}

	playUntilMenu(t, p)
	if err := p.Key(9); !errors.Is(err, ErrOptionOutOfRange) {
		t.Errorf("Key(9) = %v", err)
	}
	if err := p.Select(-1); !errors.Is(err, ErrOptionOutOfRange) {
		t.Errorf("Select(-1) = %v", err)
	}
	if i, err := p.Click(0, 0); i != -1 || err != nil {
		t.Errorf("Click outside = %d, %v", i, err)
	}
	if p.State() != MenuModal {
		t.Fatal("a miss must keep the menu")
	}

	f := p.Render()
	r := f.MenuLayout.Options[1]
	mid := r.Min.Add(r.Size().Div(2))
	p.Compositor().Release(f)

	i, err := p.Click(mid.X, mid.Y)
	if err != nil || i != 1 {
		t.Fatalf("Click = %d, %v", i, err)
	}
	if p.Time() != 0 || p.State() != Playing {
		t.Errorf("after click: t=%v state=%v", p.Time(), p.State())
	}
}

func TestMenuKeySelects(t *testing.T) {
	p := New(menuTimeline(t), Options{})
	playUntilMenu(t, p)
	if err := p.Key(1); err != nil {
		t.Fatal(err)
	}
	if p.Time() != 10 {
		t.Errorf("key 1: playhead = %v", p.Time())
	}
}

func TestMenuWithoutOptionsIsSkipped(t *testing.T) {
	m := newProject(t)
	add(t, m, timeline.Menu, 1, 0, &timeline.MenuData{Prompt: "Nowhere"})
	add(t, m, timeline.Dialog, 2, 1, &timeline.DialogData{Text: "still going", CPS: 100})

	p := New(m, Options{})
	p.Play()
	p.Advance(2.5)

	if p.State() != Playing || !near(p.Time(), 2.5) {
		t.Fatalf("state %v at %.3f, want PLAYING at 2.5", p.State(), p.Time())
	}
	if p.Menu() != nil {
		t.Error("menu without options opened")
	}
	if err := p.Select(0); !errors.Is(err, ErrNoMenu) {
		t.Errorf("Select err = %v, want ErrNoMenu", err)
	}
	if s := p.Snapshot(); !s.DialogOn || s.DialogText != "still going" {
		t.Errorf("dialog after skipped menu: %+v", s.Dialog)
	}
}

func TestLabelJumpRoundTrip(t *testing.T) {
	m := newProject(t)
	add(t, m, timeline.Logic, 5.0, 0, label("Start"))
	add(t, m, timeline.Logic, 1.0, 0, &timeline.LogicData{Type: "jump", Target: "Start"})

	p := New(m, Options{})
	var seen []float64
	p.OnPlayhead(func(t float64) { seen = append(seen, t) })
	p.Play()
	p.Advance(1.2)

	landed := false
	for _, v := range seen {
		if v == 5.0 {
			landed = true
		}
		if v > 1.0+DefaultMaxStep+1e-9 && v < 5.0 {
			t.Errorf("playhead passed through %v instead of jumping", v)
		}
	}
	if !landed {
		t.Errorf("playhead never landed exactly on 5.0: %v", seen)
	}

	q := New(m, Options{})
	q.Jump("Start")
	q.Tick(0)
	if q.Time() != 5.0 {
		t.Errorf("Jump(Start) = %v", q.Time())
	}
	q.Jump("2.25")
	q.Tick(0)
	if q.Time() != 2.25 {
		t.Errorf("Jump(2.25) = %v", q.Time())
	}
	q.Jump("nowhere")
	q.Tick(0)
	if q.Time() != 2.25 {
		t.Errorf("bad target should stay put, got %v", q.Time())
	}
}

func resyncTimeline(t *testing.T) *timeline.Model {
	m := newProject(t)
	add(t, m, timeline.Background, 0, 4, &timeline.BackgroundData{Value: "a.png", Fit: "cover", Zoom: 1})
	add(t, m, timeline.Background, 3, 5, &timeline.BackgroundData{Value: "b.png", Fit: "contain", Align: "left", Zoom: 1})
	target := timeline.Pose{X: 0.7, Y: 0.6, W: 0.2, H: 0.4, Opacity: 0.5}
	add(t, m, timeline.Sprite, 0, 6, &timeline.SpriteData{Value: "ann.png", Pose: timeline.DefaultPose, Target: &target})
	add(t, m, timeline.Dialog, 2, 3, &timeline.DialogData{Speaker: "Ann", Text: "Where are we?", CPS: 12})
	add(t, m, timeline.Dialog, 4.5, 2.5, &timeline.DialogData{Speaker: "Bob", Text: "Home.", CPS: 20})
	add(t, m, timeline.FX, 3, 1, &timeline.FXData{Mode: "black", FromAlpha: 0, ToAlpha: 1})
	return m
}

func sameLayers(t *testing.T, name string, a, b Snapshot) {
	t.Helper()
	if !reflect.DeepEqual(a.Background, b.Background) {
		t.Errorf("%s: background %+v vs %+v", name, a.Background, b.Background)
	}
	if !reflect.DeepEqual(a.Sprite, b.Sprite) {
		t.Errorf("%s: sprite %+v vs %+v", name, a.Sprite, b.Sprite)
	}
	if a.Dialog != b.Dialog || a.DialogText != b.DialogText || a.DialogOn != b.DialogOn {
		t.Errorf("%s: dialog %+v %q vs %+v %q", name, a.Dialog, a.DialogText, b.Dialog, b.DialogText)
	}
	if !reflect.DeepEqual(a.Overlay, b.Overlay) {
		t.Errorf("%s: overlay %+v vs %+v", name, a.Overlay, b.Overlay)
	}
	if (a.Menu == nil) != (b.Menu == nil) {
		t.Errorf("%s: menu %v vs %v", name, a.Menu != nil, b.Menu != nil)
	}
}

func TestIdempotentResync(t *testing.T) {
	for _, until := range []float64{1.0, 3.5, 4.8, 6.2} {
		m := resyncTimeline(t)

		fwd := New(m, Options{})
		fwd.Play()
		fwd.Advance(until)
		at := fwd.Time()
		forward := fwd.Snapshot()

		fwd.Seek(9)
		fwd.Seek(at)
		back := fwd.Snapshot()

		direct := New(m, Options{})
		direct.Seek(at)

		sameLayers(t, "jump away and back", forward, back)
		sameLayers(t, "direct seek", forward, direct.Snapshot())
	}
}

func TestLoopRefiresLoopStart(t *testing.T) {
	m := newProject(t, "hit.wav")
	add(t, m, timeline.SFX, 1.0, 0, &timeline.AudioData{Value: "hit.wav", Volume: 1})
	add(t, m, timeline.Dialog, 1.0, 0.5, &timeline.DialogData{Text: "again", CPS: 100})

	rec := &recorder{}
	p := New(m, Options{Audio: rec})
	p.SetLoop(1, 2, true)
	p.Play()
	p.Advance(4.5)

	if len(rec.sfx) < 3 {
		t.Errorf("sfx at the loop start played %d times, want one per pass", len(rec.sfx))
	}
	if p.Time() < 1 || p.Time() >= 2 {
		t.Errorf("playhead %v escaped the loop", p.Time())
	}
}

func TestLoopPointsClampedToTimeline(t *testing.T) {
	m := newProject(t)
	add(t, m, timeline.Dialog, 0, 1, &timeline.DialogData{Text: "start"})

	p := New(m, Options{})
	p.SetLoop(-3, 2, true)
	p.Play()
	p.Advance(4.5)
	if p.Time() < 0 || p.Time() >= 2 {
		t.Errorf("playhead %v outside [0, 2)", p.Time())
	}

	p.Stop()
	p.SetLoop(-3, m.Duration()+100, true)
	p.Play()
	p.Advance(m.Duration() + 1)
	if p.Time() < 0 || p.Time() > 1.5 {
		t.Errorf("playhead %v, want wrapped to the start", p.Time())
	}
}

func TestSFXNotReplayedOnResync(t *testing.T) {
	m := newProject(t, "hit.wav")
	add(t, m, timeline.SFX, 1.0, 0, &timeline.AudioData{Value: "hit.wav", Volume: 1})

	rec := &recorder{}
	p := New(m, Options{Audio: rec})
	p.Play()
	p.Advance(1.5)
	if len(rec.sfx) != 1 || rec.sfx[0] != m.Resolve("hit.wav") {
		t.Fatalf("sfx = %v", rec.sfx)
	}

	p.Seek(1.0)
	p.Seek(1.01)
	p.Tick(0.01)
	if len(rec.sfx) != 1 {
		t.Errorf("seek replayed sfx: %v", rec.sfx)
	}

	p.Seek(0.5)
	p.Advance(0.7)
	if len(rec.sfx) != 2 {
		t.Errorf("forward playback over the block should fire again, got %d", len(rec.sfx))
	}

	p.SetMutes(true, false)
	p.Seek(0.5)
	p.Advance(0.7)
	if len(rec.sfx) != 2 {
		t.Error("muted sfx played")
	}
}

func TestMusicOffsetOnResync(t *testing.T) {
	m := newProject(t, "theme.ogg")
	id := add(t, m, timeline.Music, 2, 10, &timeline.AudioData{Value: "theme.ogg", Volume: 0.8})
	path := m.Resolve("theme.ogg")

	rec := &recorder{}
	p := New(m, Options{Audio: rec})
	p.Play()
	p.Advance(2.5)
	if len(rec.music) != 1 || rec.music[0] != (musicCall{path, 0}) {
		t.Fatalf("enter: music calls = %+v", rec.music)
	}
	if p.Snapshot().MusicID != id {
		t.Errorf("music id = %d", p.Snapshot().MusicID)
	}

	p.Seek(5)
	last := rec.music[len(rec.music)-1]
	if !near(last.offset, 3) {
		t.Errorf("resync offset = %v, want 3", last.offset)
	}

	p.Pause()
	if rec.pauses != 1 {
		t.Errorf("pauses = %d", rec.pauses)
	}
	p.Play()
	if rec.resumes != 1 {
		t.Errorf("resumes = %d", rec.resumes)
	}

	p.Pause()
	n := len(rec.music)
	p.Seek(6)
	if len(rec.music) != n {
		t.Error("seek while paused started music")
	}

	p.Play()
	p.Advance(7)
	if p.Snapshot().MusicID != -1 || rec.busy {
		t.Errorf("music should stop after its block ends at %v", p.Time())
	}

	p.Stop()
	if p.State() != Stopped || p.Time() != 0 {
		t.Errorf("after stop: %v at %v", p.State(), p.Time())
	}
}

func TestLogicPauseAndScripts(t *testing.T) {
	m := newProject(t, "branch.vns", "crash.vns")
	add(t, m, timeline.Logic, 7, 0, label("Later"))
	add(t, m, timeline.Logic, 1, 0, &timeline.LogicData{Type: "label", Name: "hook", ScriptPath: "branch.vns"})
	add(t, m, timeline.Logic, 8, 0, &timeline.LogicData{Type: "label", Name: "bad", ScriptPath: "crash.vns"})
	add(t, m, timeline.Logic, 9, 0, &timeline.LogicData{Type: "pause"})

	runner := &fakeRunner{fn: func(path string, sc scripting.Context) error {
		switch filepath.Base(path) {
		case "branch.vns":
			if sc.Keyframe == nil || sc.Model == nil {
				return errors.New("missing context")
			}
			sc.Control.Exec(logic.Action{Kind: logic.Jump, Target: "Later"})
			return nil
		default:
			panic("script exploded")
		}
	}}

	p := New(m, Options{Scripts: runner})
	var seen []float64
	p.OnPlayhead(func(t float64) { seen = append(seen, t) })
	p.Play()
	p.Advance(1.2)

	jumped := false
	for _, v := range seen {
		if v == 7 {
			jumped = true
		}
	}
	if !jumped {
		t.Errorf("script jump did not land on the label: %v", seen)
	}

	p.Advance(3)
	if runner.calls != 2 {
		t.Errorf("runner calls = %d", runner.calls)
	}
	if p.State() != Paused {
		t.Errorf("pause block: state = %v at %v", p.State(), p.Time())
	}
	if p.Time() < 9 || p.Time() > 9+DefaultMaxStep+1e-9 {
		t.Errorf("paused at %v", p.Time())
	}
}

func TestEffectsAndLiveSpriteEdit(t *testing.T) {
	m := newProject(t)
	add(t, m, timeline.FX, 0, 2, &timeline.FXData{Mode: "black", FromAlpha: 0, ToAlpha: 1})
	add(t, m, timeline.FX, 1, 2, &timeline.FXData{Mode: "shake", Amplitude: 10, Frequency: 12, Decay: 2})
	id := add(t, m, timeline.Sprite, 0, 10, &timeline.SpriteData{Value: "ann.png", Pose: timeline.DefaultPose})

	p := New(m, Options{Width: 100, Height: 100})
	p.Seek(1.5)
	s := p.Snapshot()
	if s.Overlay == nil || s.Shake == nil {
		t.Fatalf("overlay %v shake %v, want both", s.Overlay, s.Shake)
	}
	if s.Overlay.Start != 0 || s.Shake.Start != 1 {
		t.Errorf("windows: overlay %v shake %v", s.Overlay.Start, s.Shake.Start)
	}

	p.Seek(2.5)
	if s = p.Snapshot(); s.Overlay != nil || s.Shake == nil {
		t.Errorf("at 2.5: overlay %v shake %v", s.Overlay, s.Shake)
	}

	before := s.Sprite.Cur.Rect
	if err := m.SetSpritePose(id, timeline.Pose{X: 0.25, Y: 0.5, W: 0.1, H: 0.2, Opacity: 1}, nil); err != nil {
		t.Fatal(err)
	}
	p.Tick(0)
	after := p.Snapshot().Sprite.Cur.Rect
	if after == before || after.Min.X != 20 || after.Dx() != 10 {
		t.Errorf("sprite rect %v -> %v", before, after)
	}
}

func TestPauseFreezesPlayhead(t *testing.T) {
	p := New(newProject(t), Options{})
	p.Play()
	p.Advance(1)
	p.TogglePlay()
	at := p.Time()
	p.Advance(1)
	if p.Time() != at || p.State() != Paused {
		t.Errorf("paused playhead moved: %v -> %v (%v)", at, p.Time(), p.State())
	}
	p.Tick(10)
	if p.Time() != at {
		t.Error("tick advanced a paused player")
	}
	p.TogglePlay()
	p.Tick(10)
	if !near(p.Time(), at+DefaultMaxStep) {
		t.Errorf("long tick not clamped: %v", p.Time()-at)
	}
}

func TestRunDrainsPostedInput(t *testing.T) {
	m := menuTimeline(t)
	p := New(m, Options{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var states []State
	p.OnPlayhead(func(float64) {
		if p.State() == MenuModal && len(states) == 0 {
			states = append(states, MenuModal)
			// observers run on the playback goroutine; input goes through the queue
			go func() { _ = p.Do(ctx, func() { _ = p.Key(1) }) }()
		}
		if len(states) == 1 && p.State() == Playing && p.Time() >= 10 {
			states = append(states, Playing)
			cancel()
		}
	})
	if err := p.Do(ctx, p.Play); err != nil {
		t.Fatal(err)
	}
	// skip ahead so the test does not wait five real seconds for the menu
	if err := p.Do(ctx, func() { p.Seek(4.9) }); err != nil {
		t.Fatal(err)
	}

	err := p.Run(ctx, time.Millisecond)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run = %v, states %v", err, states)
	}
	if len(states) != 2 {
		t.Errorf("states = %v, want menu then playing past 10s", states)
	}
}
