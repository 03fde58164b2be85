// Package logic implements the flat command language used by LOGIC blocks
// and menu options: jump/goto/loop, pause/stop and resume/play.
package logic

import (
	"strconv"
	"strings"
)

// Kind is a normalized command.
type Kind string

const (
	Jump   Kind = "jump"
	Loop   Kind = "loop"
	Pause  Kind = "pause"
	Stop   Kind = "stop"
	Resume Kind = "resume"
	Play   Kind = "play"
)

// Action is one parsed command. Target is a label name or a seconds literal
// and is only meaningful for Jump and Loop.
type Action struct {
	Kind   Kind
	Target string
}

// Relocates reports whether the action moves the playhead.
func (a Action) Relocates() bool {
	return a.Kind == Jump || a.Kind == Loop
}

// Halts reports whether the action clears the playing flag.
func (a Action) Halts() bool {
	return a.Kind == Pause || a.Kind == Stop
}

// Starts reports whether the action sets the playing flag.
func (a Action) Starts() bool {
	return a.Kind == Resume || a.Kind == Play
}

// FromType builds an action from a command word and an optional target.
// goto is folded into jump. Unknown words return false.
func FromType(word, target string) (Action, bool) {
	switch strings.ToLower(strings.TrimSpace(word)) {
	case "jump", "goto":
		return Action{Kind: Jump, Target: strings.TrimSpace(target)}, true
	case "loop":
		return Action{Kind: Loop, Target: strings.TrimSpace(target)}, true
	case "pause":
		return Action{Kind: Pause}, true
	case "stop":
		return Action{Kind: Stop}, true
	case "resume":
		return Action{Kind: Resume}, true
	case "play":
		return Action{Kind: Play}, true
	}
	return Action{}, false
}

// Parse splits a semicolon separated script into actions, in order.
// Commands are case-insensitive; unknown tokens are skipped.
//
//	jump <label|seconds>; goto <label|seconds>; loop <label|seconds>
//	pause; stop; resume; play
func Parse(script string) []Action {
	var out []Action
	for _, raw := range strings.Split(script, ";") {
		parts := strings.Fields(raw)
		if len(parts) == 0 {
			continue
		}
		if a, ok := FromType(parts[0], strings.Join(parts[1:], " ")); ok {
			out = append(out, a)
		}
	}
	return out
}

// ResolveTarget turns a label name or a seconds literal into a time.
// Label lookup wins; a failed numeric parse falls back to def.
func ResolveTarget(target string, labels map[string]float64, def float64) float64 {
	target = strings.TrimSpace(target)
	if t, ok := labels[target]; ok {
		return t
	}
	if v, err := strconv.ParseFloat(target, 64); err == nil {
		return v
	}
	return def
}
