package timeline

import (
	"errors"
	"math"
	"testing"
)

func addKF(t *testing.T, m *Model, tr Track, at, dur float64, data Payload) int {
	t.Helper()
	id, err := m.Add(tr, &Keyframe{Time: at, Duration: dur, Data: data}, false)
	if err != nil {
		t.Fatalf("Add(%v, %.2f): %v", tr, at, err)
	}
	return id
}

func TestEffectiveDuration(t *testing.T) {
	tests := []struct {
		track Track
		dur   float64
		want  float64
	}{
		{Background, 10, 10},
		{Background, 0, TickSec},
		{Sprite, 0.001, TickSec},
		{Dialog, 3, 3},
		{SFX, -1, TickSec},
		{Menu, 0, 30},
		{Menu, -5, 30},
		{Menu, 0.001, TickSec},
		{Logic, 0, TickSec}, // default 0.01 is below the floor
		{FX, 0.6, 0.6},
	}

	for _, tt := range tests {
		k := &Keyframe{Track: tt.track, Duration: tt.dur}
		if got := k.EffectiveDuration(); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("%v duration %.3f: got %.4f, want %.4f", tt.track, tt.dur, got, tt.want)
		}
	}
}

func TestAddDefaultsAndOrder(t *testing.T) {
	m := NewModel()
	a := addKF(t, m, Background, 5, 0, nil)
	b := addKF(t, m, Background, 1, 0, nil)
	c := addKF(t, m, Dialog, 2, 0, &DialogData{Text: "hi", CPS: 10})

	if a == b || b == c || a == c {
		t.Fatalf("ids not unique: %d %d %d", a, b, c)
	}

	bgs := m.Keyframes(Background)
	if len(bgs) != 2 || bgs[0].ID != b || bgs[1].ID != a {
		t.Fatalf("background order wrong: %+v", bgs)
	}
	if bgs[0].Duration != 0.6 {
		t.Errorf("default BG duration = %v, want 0.6", bgs[0].Duration)
	}
	d, _ := m.Find(Dialog, c)
	if d.Duration != 2.5 {
		t.Errorf("default DIALOG duration = %v, want 2.5", d.Duration)
	}
	if !m.Dirty() {
		t.Error("model should be dirty after Add")
	}
}

func TestAddSnap(t *testing.T) {
	m := NewModel()
	id, err := m.Add(Sprite, &Keyframe{Time: 1.01}, true)
	if err != nil {
		t.Fatal(err)
	}
	k, _ := m.Find(Sprite, id)
	if want := 30 * TickSec; math.Abs(k.Time-want) > 1e-9 {
		t.Errorf("snapped time = %v, want %v", k.Time, want)
	}
}

func TestAddRejectsForeignPayload(t *testing.T) {
	m := NewModel()
	if _, err := m.Add(Dialog, &Keyframe{Data: &BackgroundData{}}, false); err == nil {
		t.Error("expected error for BG payload on DIALOG track")
	}
	if _, err := m.Add(Track(42), &Keyframe{}, false); err == nil {
		t.Error("expected error for invalid track")
	}
}

type fakeProber struct {
	length float64
	err    error
	paths  []string
}

func (p *fakeProber) AudioDuration(path string) (float64, error) {
	p.paths = append(p.paths, path)
	return p.length, p.err
}

func TestMusicDurationProbe(t *testing.T) {
	m := NewModel()
	p := &fakeProber{length: 42.5}
	m.SetProber(p)

	id := addKF(t, m, Music, 0, 0, &AudioData{Value: "audio/theme.ogg", Volume: 1})
	k, _ := m.Find(Music, id)
	if k.Duration != 42.5 {
		t.Errorf("music duration = %v, want probed 42.5", k.Duration)
	}
	if len(p.paths) != 1 {
		t.Fatalf("prober called %d times", len(p.paths))
	}

	p.err = errors.New("no ffprobe")
	id = addKF(t, m, Music, 50, 0, &AudioData{Value: "audio/other.ogg"})
	k, _ = m.Find(Music, id)
	if k.Duration != 5 {
		t.Errorf("fallback music duration = %v, want 5", k.Duration)
	}
}

func TestDurationMonotonicity(t *testing.T) {
	m := NewModel()
	if m.Duration() != MinDuration {
		t.Fatalf("empty duration = %v", m.Duration())
	}

	prev := m.Duration()
	for _, at := range []float64{1, 30, 58, 70, 10} {
		addKF(t, m, Dialog, at, 5, nil)
		if m.Duration() < prev {
			t.Fatalf("duration decreased from %v to %v", prev, m.Duration())
		}
		prev = m.Duration()
	}
	if m.Duration() != 75 {
		t.Errorf("duration = %v, want 75", m.Duration())
	}

	last := m.Keyframes(Dialog)[len(m.Keyframes(Dialog))-1]
	m.Remove(Dialog, last.ID)
	if m.Duration() != 63 {
		t.Errorf("after removing last: %v, want 63", m.Duration())
	}

	for _, k := range append([]*Keyframe(nil), m.Keyframes(Dialog)...) {
		m.Remove(Dialog, k.ID)
	}
	if m.Duration() != MinDuration {
		t.Errorf("empty again: %v, want %v", m.Duration(), MinDuration)
	}
}

func TestFindAndRemoveMissing(t *testing.T) {
	m := NewModel()
	if _, ok := m.Find(Background, 99); ok {
		t.Error("Find reported a missing id")
	}
	if m.Remove(Background, 99) {
		t.Error("Remove reported a missing id")
	}
	if err := m.Move(Background, 99, 1); !errors.Is(err, ErrNotFound) {
		t.Errorf("Move missing = %v, want ErrNotFound", err)
	}
	if err := m.SetSpritePose(99, DefaultPose, nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("SetSpritePose missing = %v, want ErrNotFound", err)
	}
}

func TestIDsNeverReused(t *testing.T) {
	m := NewModel()
	a := addKF(t, m, SFX, 1, 0, nil)
	m.Remove(SFX, a)
	b := addKF(t, m, SFX, 1, 0, nil)
	if a == b {
		t.Errorf("id %d reused", a)
	}
}

func TestKeyframesStartingIn(t *testing.T) {
	m := NewModel()
	addKF(t, m, Background, 0, 10, nil)
	addKF(t, m, Dialog, 2, 3, nil)
	addKF(t, m, SFX, 2, 0, nil)
	addKF(t, m, Logic, 1, 0, nil)
	addKF(t, m, Background, 3, 1, nil)

	type hit struct {
		tr Track
		at float64
	}
	var got []hit
	for tr, k := range m.KeyframesStartingIn(0, 2) {
		got = append(got, hit{tr, k.Time})
	}
	want := []hit{{Logic, 1}, {Dialog, 2}, {SFX, 2}}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("[%d] = %v, want %v", i, got[i], want[i])
		}
	}

	// t0 is exclusive, t1 inclusive
	n := 0
	for range m.KeyframesStartingIn(2, 3) {
		n++
	}
	if n != 1 {
		t.Errorf("(2,3] yielded %d, want 1", n)
	}

	// early stop
	n = 0
	for range m.KeyframesStartingIn(-1, 100) {
		n++
		break
	}
	if n != 1 {
		t.Errorf("break did not stop iteration")
	}
}

func TestLabels(t *testing.T) {
	m := NewModel()
	addKF(t, m, Logic, 5, 0, &LogicData{Type: "label", Name: "Start"})
	addKF(t, m, Logic, 7, 0, &LogicData{Type: "jump", Target: "Start"})
	addKF(t, m, Logic, 9, 0, &LogicData{Type: "label", Name: "End"})
	addKF(t, m, Logic, 12, 0, &LogicData{Type: "label", Name: "End"})

	labels := m.Labels()
	if len(labels) != 2 || labels["Start"] != 5 || labels["End"] != 12 {
		t.Errorf("labels = %v", labels)
	}
}

func TestUpdateResorts(t *testing.T) {
	m := NewModel()
	a := addKF(t, m, Background, 1, 1, nil)
	b := addKF(t, m, Background, 2, 1, nil)

	if err := m.Move(Background, a, 80); err != nil {
		t.Fatal(err)
	}
	bgs := m.Keyframes(Background)
	if bgs[0].ID != b || bgs[1].ID != a {
		t.Errorf("order after move: %d, %d", bgs[0].ID, bgs[1].ID)
	}
	if m.Duration() != 81 {
		t.Errorf("duration = %v, want 81", m.Duration())
	}

	err := m.Update(Background, b, func(k *Keyframe) {
		k.ID = 1000
		k.Track = Dialog
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := m.Find(Background, b); !ok {
		t.Error("Update must not change id or track")
	}
}

func TestDeleteMany(t *testing.T) {
	m := NewModel()
	a := addKF(t, m, Background, 1, 1, nil)
	b := addKF(t, m, Dialog, 2, 1, nil)
	addKF(t, m, Dialog, 3, 1, nil)

	var changed []Track
	m.OnChange(func(tr Track) { changed = append(changed, tr) })

	n := m.DeleteMany([]Ref{{Background, a}, {Dialog, b}, {Dialog, 777}})
	if n != 2 {
		t.Errorf("removed %d, want 2", n)
	}
	if m.Len() != 1 {
		t.Errorf("left %d keyframes, want 1", m.Len())
	}
	if len(changed) != 1 || changed[0] != AllTracks {
		t.Errorf("change notifications = %v", changed)
	}
}

func TestSetSpritePose(t *testing.T) {
	m := NewModel()
	id := addKF(t, m, Sprite, 0, 2, nil)
	target := Pose{X: 0.8, Y: 0.5, W: 0.2, H: 0.4, Opacity: 3}
	if err := m.SetSpritePose(id, Pose{X: 0.1, Y: 0.2, W: 0.3, H: 0.4, Opacity: -1}, &target); err != nil {
		t.Fatal(err)
	}
	k, _ := m.Find(Sprite, id)
	sp := k.Data.(*SpriteData)
	if sp.Pose.Opacity != 0 || sp.Target == nil || sp.Target.Opacity != 1 {
		t.Errorf("opacity not clamped: %+v / %+v", sp.Pose, sp.Target)
	}
	target.X = 0
	if sp.Target.X != 0.8 {
		t.Error("target pose must be copied")
	}
}

func TestNextKeyframeAfter(t *testing.T) {
	m := NewModel()
	addKF(t, m, Background, 0, 1, nil)
	want := addKF(t, m, SFX, 4, 0, nil)
	addKF(t, m, Dialog, 6, 1, nil)

	k, ok := m.NextKeyframeAfter(0)
	if !ok || k.ID != want {
		t.Errorf("next after 0 = %+v", k)
	}
	if _, ok := m.NextKeyframeAfter(6); ok {
		t.Error("nothing should start after 6")
	}
}

func TestApplyCrossfadeHints(t *testing.T) {
	m := NewModel()
	a := addKF(t, m, Background, 0, 4, nil)
	b := addKF(t, m, Background, 3, 4, nil)
	c := addKF(t, m, Background, 10, 1, nil)

	m.ApplyCrossfadeHints(Background)

	xf := func(id int) float64 {
		k, _ := m.Find(Background, id)
		return k.Data.(*BackgroundData).XFade
	}
	if xf(a) != 1 || xf(b) != 1 || xf(c) != 0 {
		t.Errorf("xfade = %v %v %v", xf(a), xf(b), xf(c))
	}
}

func TestSnap(t *testing.T) {
	m := NewModel()
	id := addKF(t, m, Background, 2.02, 1.5, nil)

	tests := []struct {
		in, want float64
		ignore   int
	}{
		{1.04, 1.0, 0},  // grid
		{3.53, 3.52, 0}, // block end beats grid 3.5
		{3.53, 3.5, id}, // own block ignored
		{2.04, 2.02, 0}, // block start
	}
	for _, tt := range tests {
		if got := m.Snap(tt.in, Background, tt.ignore); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("Snap(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
