// Package audio is the sound output used by playback: one-shot effects and a
// single streaming music channel.
package audio

import (
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
)

// Backend plays sounds. Every call is best effort; callers log the errors
// and keep going.
type Backend interface {
	PlaySFX(path string, volume float64) error
	PlayMusic(path string, volume float64, loop bool, offset float64) error
	PauseMusic() error
	ResumeMusic() error
	StopMusic() error
	// MusicBusy reports whether a music stream is loaded and not finished.
	MusicBusy() bool
	Close() error
}

// Kinds of backends accepted by Open.
const (
	KindNone   = "none"
	KindFFplay = "ffplay"
)

// Options configures Open.
type Options struct {
	Kind   string
	FFplay string // binary, defaults to "ffplay"
	Logger *slog.Logger
}

// Open creates the backend named by opts.Kind. A missing ffplay binary is
// not fatal: the silent backend is returned with a warning.
func Open(opts Options) (Backend, error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	switch strings.ToLower(strings.TrimSpace(opts.Kind)) {
	case "", KindNone:
		return &Null{}, nil
	case KindFFplay:
		bin := opts.FFplay
		if bin == "" {
			bin = "ffplay"
		}
		if _, err := exec.LookPath(bin); err != nil {
			log.Warn("[!] ffplay не найден, звук отключён", "bin", bin, "error", err)
			return &Null{}, nil
		}
		return NewFFplay(bin, log), nil
	}
	return nil, fmt.Errorf("unknown audio backend %q", opts.Kind)
}

// Null is a silent backend that still tracks the music state, so pause and
// resume behave the same as with a real device.
type Null struct {
	mu     sync.Mutex
	busy   bool
	paused bool
}

func (n *Null) PlaySFX(string, float64) error { return nil }

func (n *Null) PlayMusic(string, float64, bool, float64) error {
	n.mu.Lock()
	n.busy, n.paused = true, false
	n.mu.Unlock()
	return nil
}

func (n *Null) PauseMusic() error {
	n.mu.Lock()
	n.paused = n.busy
	n.mu.Unlock()
	return nil
}

func (n *Null) ResumeMusic() error {
	n.mu.Lock()
	n.paused = false
	n.mu.Unlock()
	return nil
}

func (n *Null) StopMusic() error {
	n.mu.Lock()
	n.busy, n.paused = false, false
	n.mu.Unlock()
	return nil
}

func (n *Null) MusicBusy() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.busy && !n.paused
}

func (n *Null) Close() error { return n.StopMusic() }

// ClampVolume limits v to [0, 1].
func ClampVolume(v float64) float64 {
	if v != v || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
