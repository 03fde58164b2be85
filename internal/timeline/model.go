// Package timeline holds the authoritative store of tracks and keyframes.
package timeline

import (
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"math"
	"slices"
	"sort"
)

var (
	// ErrNotFound is returned for keyframe ids that are not in the model.
	ErrNotFound = errors.New("keyframe not found")
	// ErrDecode wraps every failure to read a project document.
	ErrDecode = errors.New("malformed project document")
)

// AllTracks is passed to change observers when more than one track changed.
const AllTracks Track = -1

// Keyframe is a timed block on one track.
type Keyframe struct {
	ID   int
	Time float64
	// Track is fixed once the keyframe is added.
	Track Track
	// Duration is the authored span; zero or less means "use the track default".
	Duration float64
	Data     Payload
}

// EffectiveDuration applies the track duration policy.
func (k *Keyframe) EffectiveDuration() float64 {
	d := k.Duration
	switch k.Track {
	case Menu, Logic:
		if d <= 0 {
			d = k.Track.DefaultDuration()
		}
	}
	return math.Max(d, TickSec)
}

// End is Time plus the effective duration.
func (k *Keyframe) End() float64 {
	return k.Time + k.EffectiveDuration()
}

// Ref addresses a keyframe by track and id.
type Ref struct {
	Track Track
	ID    int
}

// DurationProber measures audio assets so MUSIC blocks default to their real length.
type DurationProber interface {
	AudioDuration(path string) (float64, error)
}

// Model owns every keyframe. It is not safe for concurrent use; the
// playback loop and editors share one goroutine.
type Model struct {
	tracks   [numTracks][]*Keyframe
	duration float64
	nextID   int
	dirty    bool

	projectFile string
	assetRoot   string

	prober    DurationProber
	observers []func(Track)
	log       *slog.Logger
}

// NewModel returns an empty timeline rooted at the current directory.
func NewModel() *Model {
	return &Model{
		duration:  MinDuration,
		nextID:    1,
		assetRoot: workingDir(),
		log:       slog.Default(),
	}
}

// SetLogger replaces the logger used for non-fatal warnings.
func (m *Model) SetLogger(l *slog.Logger) {
	if l != nil {
		m.log = l
	}
}

// SetProber installs the audio length probe used by Add for MUSIC blocks.
func (m *Model) SetProber(p DurationProber) { m.prober = p }

// OnChange registers an observer called after every mutation with the
// affected track, or AllTracks.
func (m *Model) OnChange(fn func(Track)) {
	m.observers = append(m.observers, fn)
}

// Duration is the total timeline length.
func (m *Model) Duration() float64 { return m.duration }

// Dirty reports unsaved changes.
func (m *Model) Dirty() bool { return m.dirty }

// MarkClean clears the dirty flag.
func (m *Model) MarkClean() { m.dirty = false }

// Keyframes returns the time-ordered blocks of a track. The slice belongs to
// the model and is only valid until the next mutation.
func (m *Model) Keyframes(t Track) []*Keyframe {
	if !t.Valid() {
		return nil
	}
	return m.tracks[t]
}

// Len is the number of keyframes across all tracks.
func (m *Model) Len() int {
	n := 0
	for _, arr := range m.tracks {
		n += len(arr)
	}
	return n
}

// Add inserts k into track t, assigns it a fresh id and returns that id.
// With snap set the start time is rounded to the nearest tick.
func (m *Model) Add(t Track, k *Keyframe, snap bool) (int, error) {
	if !t.Valid() {
		return 0, fmt.Errorf("add: invalid track %v", t)
	}
	if k == nil {
		return 0, errors.New("add: nil keyframe")
	}
	if !finite(k.Time) {
		return 0, fmt.Errorf("add: start time %v is not finite", k.Time)
	}
	if k.Data == nil {
		p, err := DecodePayload(t, nil)
		if err != nil {
			return 0, fmt.Errorf("add: %w", err)
		}
		k.Data = p
	} else if !payloadFits(t, k.Data) {
		return 0, fmt.Errorf("add: payload %T does not belong to track %v", k.Data, t)
	}

	k.Track = t
	k.ID = m.nextID
	m.nextID++

	if snap {
		k.Time = math.Round(k.Time/TickSec) * TickSec
	}
	if k.Time < 0 {
		k.Time = 0
	}
	m.normalizeAssets(k.Data)

	if !finite(k.Duration) || k.Duration <= 0 {
		k.Duration = m.defaultDuration(t, k)
	}

	m.insertSorted(t, k)
	m.duration = math.Max(m.duration, k.End())
	m.touch(t)
	return k.ID, nil
}

func (m *Model) defaultDuration(t Track, k *Keyframe) float64 {
	if t == Music && m.prober != nil {
		if a, ok := k.Data.(*AudioData); ok && a.Value != "" {
			length, err := m.prober.AudioDuration(m.Resolve(a.Value))
			if err != nil {
				m.log.Warn("music length probe failed", "path", a.Value, "error", err)
			} else if length > 0 && finite(length) {
				return length
			}
		}
	}
	return t.DefaultDuration()
}

func payloadFits(t Track, p Payload) bool {
	switch p.(type) {
	case *BackgroundData:
		return t == Background
	case *SpriteData:
		return t == Sprite
	case *DialogData:
		return t == Dialog
	case *AudioData:
		return t == SFX || t == Music
	case *FXData:
		return t == FX
	case *MenuData:
		return t == Menu
	case *LogicData:
		return t == Logic
	}
	return false
}

// insertSorted keeps equal start times in insertion order.
func (m *Model) insertSorted(t Track, k *Keyframe) {
	arr := m.tracks[t]
	i := sort.Search(len(arr), func(i int) bool { return arr[i].Time > k.Time })
	m.tracks[t] = slices.Insert(arr, i, k)
}

func (m *Model) resort(t Track) {
	slices.SortStableFunc(m.tracks[t], func(a, b *Keyframe) int {
		switch {
		case a.Time < b.Time:
			return -1
		case a.Time > b.Time:
			return 1
		}
		return 0
	})
}

// Remove deletes a keyframe and reports whether it existed.
func (m *Model) Remove(t Track, id int) bool {
	if !t.Valid() {
		return false
	}
	i := m.indexOf(t, id)
	if i < 0 {
		return false
	}
	m.tracks[t] = slices.Delete(m.tracks[t], i, i+1)
	m.recomputeDuration()
	m.touch(t)
	return true
}

// DeleteMany removes every referenced keyframe and returns how many were removed.
func (m *Model) DeleteMany(refs []Ref) int {
	removed := 0
	changed := Track(-2)
	for _, r := range refs {
		if !r.Track.Valid() {
			continue
		}
		if i := m.indexOf(r.Track, r.ID); i >= 0 {
			m.tracks[r.Track] = slices.Delete(m.tracks[r.Track], i, i+1)
			removed++
			switch changed {
			case -2:
				changed = r.Track
			case r.Track:
			default:
				changed = AllTracks
			}
		}
	}
	if removed > 0 {
		m.recomputeDuration()
		m.touch(changed)
	}
	return removed
}

// Find looks a keyframe up by track and id.
func (m *Model) Find(t Track, id int) (*Keyframe, bool) {
	if !t.Valid() {
		return nil, false
	}
	if i := m.indexOf(t, id); i >= 0 {
		return m.tracks[t][i], true
	}
	return nil, false
}

// FindByID searches every track.
func (m *Model) FindByID(id int) (*Keyframe, bool) {
	for _, t := range Tracks {
		if k, ok := m.Find(t, id); ok {
			return k, true
		}
	}
	return nil, false
}

func (m *Model) indexOf(t Track, id int) int {
	return slices.IndexFunc(m.tracks[t], func(k *Keyframe) bool { return k.ID == id })
}

// Update lets fn mutate a keyframe in place. Id and track changes and
// non-finite times are reverted; time order, asset paths and total duration
// are restored afterwards.
func (m *Model) Update(t Track, id int, fn func(k *Keyframe)) error {
	k, ok := m.Find(t, id)
	if !ok {
		return fmt.Errorf("update %v/%d: %w", t, id, ErrNotFound)
	}
	data, at, dur := k.Data, k.Time, k.Duration
	fn(k)
	k.ID, k.Track = id, t
	if k.Data == nil || !payloadFits(t, k.Data) {
		k.Data = data
	}
	if !finite(k.Time) {
		k.Time = at
	}
	if !finite(k.Duration) {
		k.Duration = dur
	}
	if k.Time < 0 {
		k.Time = 0
	}
	m.normalizeAssets(k.Data)
	m.resort(t)
	m.recomputeDuration()
	m.touch(t)
	return nil
}

// Move sets a new start time (drag).
func (m *Model) Move(t Track, id int, at float64) error {
	return m.Update(t, id, func(k *Keyframe) { k.Time = at })
}

// SetDuration sets the authored span (resize).
func (m *Model) SetDuration(t Track, id int, d float64) error {
	return m.Update(t, id, func(k *Keyframe) { k.Duration = d })
}

// SetSpritePose is the live-edit entry point for sprite dragging. A nil
// target removes the animation.
func (m *Model) SetSpritePose(id int, pose Pose, target *Pose) error {
	k, ok := m.Find(Sprite, id)
	if !ok {
		return fmt.Errorf("sprite pose %d: %w", id, ErrNotFound)
	}
	sp := k.Data.(*SpriteData)
	pose.Opacity = clamp01(pose.Opacity)
	sp.Pose = pose
	if target != nil {
		tp := *target
		tp.Opacity = clamp01(tp.Opacity)
		sp.Target = &tp
	} else {
		sp.Target = nil
	}
	m.touch(Sprite)
	return nil
}

// KeyframesStartingIn yields the blocks whose start lies in (t0, t1], merged
// across tracks in time order. Ties keep track order.
func (m *Model) KeyframesStartingIn(t0, t1 float64) iter.Seq2[Track, *Keyframe] {
	if t1 < t0 {
		t0, t1 = t1, t0
	}
	return func(yield func(Track, *Keyframe) bool) {
		var heads [numTracks]int
		for _, t := range Tracks {
			arr := m.tracks[t]
			heads[t] = sort.Search(len(arr), func(i int) bool { return arr[i].Time > t0 })
		}
		for {
			best := Track(-1)
			for _, t := range Tracks {
				arr := m.tracks[t]
				if heads[t] >= len(arr) || arr[heads[t]].Time > t1 {
					continue
				}
				if best < 0 || arr[heads[t]].Time < m.tracks[best][heads[best]].Time {
					best = t
				}
			}
			if best < 0 {
				return
			}
			k := m.tracks[best][heads[best]]
			heads[best]++
			if !yield(best, k) {
				return
			}
		}
	}
}

// EffectiveDuration is kept on the model for callers holding a track and a keyframe.
func (m *Model) EffectiveDuration(t Track, k *Keyframe) float64 {
	if k.Track != t {
		kk := *k
		kk.Track = t
		return kk.EffectiveDuration()
	}
	return k.EffectiveDuration()
}

// Labels builds the label index from the LOGIC track. When two labels share
// a name the later one wins.
func (m *Model) Labels() map[string]float64 {
	out := make(map[string]float64)
	for _, k := range m.tracks[Logic] {
		d, ok := k.Data.(*LogicData)
		if !ok || !d.IsLabel() || d.Name == "" {
			continue
		}
		out[d.Name] = k.Time
	}
	return out
}

// NextKeyframeAfter returns the earliest block starting strictly after t.
func (m *Model) NextKeyframeAfter(t float64) (*Keyframe, bool) {
	var best *Keyframe
	for _, arr := range m.tracks {
		i := sort.Search(len(arr), func(i int) bool { return arr[i].Time > t })
		if i < len(arr) && (best == nil || arr[i].Time < best.Time) {
			best = arr[i]
		}
	}
	return best, best != nil
}

// ApplyCrossfadeHints stores each authored overlap of consecutive BG or
// SPRITE blocks in their XFade fields. Other tracks are ignored.
func (m *Model) ApplyCrossfadeHints(t Track) {
	if !t.Visual() {
		return
	}
	arr := m.tracks[t]
	set := func(k *Keyframe, v float64) {
		switch d := k.Data.(type) {
		case *BackgroundData:
			d.XFade = v
		case *SpriteData:
			d.XFade = v
		}
	}
	for _, k := range arr {
		set(k, 0)
	}
	for i := 0; i+1 < len(arr); i++ {
		a, b := arr[i], arr[i+1]
		if overlap := a.End() - b.Time; overlap > 0 {
			set(a, overlap)
			set(b, overlap)
		}
	}
	m.touch(t)
}

// Snap moves t to the nearest 0.1 s grid line or neighbouring block edge on
// track tr when one lies within 50 ms. ignoreID excludes the dragged block.
func (m *Model) Snap(t float64, tr Track, ignoreID int) float64 {
	candidates := []float64{math.Round(t*10) / 10}
	if tr.Valid() {
		for _, k := range m.tracks[tr] {
			if k.ID == ignoreID {
				continue
			}
			candidates = append(candidates, k.Time, k.End())
		}
	}
	best := candidates[0]
	for _, c := range candidates[1:] {
		if math.Abs(c-t) < math.Abs(best-t) {
			best = c
		}
	}
	if math.Abs(best-t) <= 0.05 {
		return best
	}
	return t
}

func (m *Model) recomputeDuration() {
	m.duration = math.Max(m.latestEnd(), MinDuration)
}

func (m *Model) latestEnd() float64 {
	longest := 0.0
	for _, arr := range m.tracks {
		for _, k := range arr {
			longest = math.Max(longest, k.End())
		}
	}
	return longest
}

func (m *Model) touch(t Track) {
	m.dirty = true
	for _, fn := range m.observers {
		fn(t)
	}
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
