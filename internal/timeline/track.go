package timeline

import (
	"fmt"
	"strings"
)

// TickSec is the snapping quantum and the minimum visible footprint of a block.
const TickSec = 1.0 / 30.0

// MinDuration is the floor of the total timeline duration.
const MinDuration = 60.0

// Track identifies a semantic channel of the timeline.
type Track int

const (
	Background Track = iota
	Sprite
	Dialog
	SFX
	Music
	FX
	Menu
	Logic

	numTracks
)

// Tracks lists all tracks in display and firing order.
var Tracks = [...]Track{Background, Sprite, Dialog, SFX, Music, FX, Menu, Logic}

// trackSpec is the per-track policy entry: document name, default duration
// and payload constructor. Enter events live in the playback package and are
// keyed by the same Track value.
type trackSpec struct {
	name            string
	defaultDuration float64
	newPayload      func() Payload
}

var trackSpecs = [numTracks]trackSpec{
	Background: {"BG", 0.6, func() Payload { return &BackgroundData{} }},
	Sprite:     {"SPRITE", 0.4, func() Payload { return &SpriteData{} }},
	Dialog:     {"DIALOG", 2.5, func() Payload { return &DialogData{} }},
	SFX:        {"SFX", 0.2, func() Payload { return &AudioData{} }},
	Music:      {"MUSIC", 5.0, func() Payload { return &AudioData{} }},
	FX:         {"FX", 0.6, func() Payload { return &FXData{} }},
	Menu:       {"MENU", 30.0, func() Payload { return &MenuData{} }},
	Logic:      {"LOGIC", 0.01, func() Payload { return &LogicData{} }},
}

// trackAliases maps alternative document names onto tracks.
var trackAliases = map[string]Track{
	"BACKGROUND": Background,
}

func (t Track) String() string {
	if !t.Valid() {
		return fmt.Sprintf("Track(%d)", int(t))
	}
	return trackSpecs[t].name
}

// Valid reports whether t is one of the known tracks.
func (t Track) Valid() bool {
	return t >= 0 && t < numTracks
}

// DefaultDuration returns the duration filled in when a keyframe has none.
func (t Track) DefaultDuration() float64 {
	if !t.Valid() {
		return 0
	}
	return trackSpecs[t].defaultDuration
}

// Visual reports whether the track takes part in crossfades.
func (t Track) Visual() bool {
	return t == Background || t == Sprite
}

// ParseTrack resolves a document track name. Matching is case-insensitive.
func ParseTrack(name string) (Track, error) {
	n := strings.ToUpper(strings.TrimSpace(name))
	for i := range trackSpecs {
		if trackSpecs[i].name == n {
			return Track(i), nil
		}
	}
	if t, ok := trackAliases[n]; ok {
		return t, nil
	}
	return 0, fmt.Errorf("unknown track %q", name)
}

// NewPayload returns an empty payload record for the track.
func NewPayload(t Track) Payload {
	if !t.Valid() {
		return nil
	}
	return trackSpecs[t].newPayload()
}
