// Package scripting runs the scripts attached to LOGIC blocks and menu
// options. A script is either a text file in the mini-script language or an
// executable that receives the playback context as JSON on stdin and prints
// mini-script commands to stdout.
package scripting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/ivlev/vngen/internal/compositor"
	"github.com/ivlev/vngen/internal/logic"
	"github.com/ivlev/vngen/internal/timeline"
)

// Controller is the part of the player a script may drive.
type Controller interface {
	Exec(a logic.Action)
}

// Context is handed to every script run.
type Context struct {
	Model      *timeline.Model
	Keyframe   *timeline.Keyframe
	Playhead   float64
	Compositor *compositor.Compositor
	Control    Controller
}

// DefaultTimeout bounds one executable script run.
const DefaultTimeout = 5 * time.Second

// ErrEmptyPath is returned for a blank script reference.
var ErrEmptyPath = errors.New("empty script path")

// Runner executes scripts.
type Runner struct {
	Timeout time.Duration
	Log     *slog.Logger
}

// NewRunner returns a runner with the default timeout.
func NewRunner(log *slog.Logger) *Runner {
	if log == nil {
		log = slog.Default()
	}
	return &Runner{Timeout: DefaultTimeout, Log: log}
}

// Run executes the script at path. Commands are applied through sc.Control
// in order as they are read, so a failure part way leaves the effects of the
// earlier commands in place.
func (r *Runner) Run(ctx context.Context, path string, sc Context) error {
	if strings.TrimSpace(path) == "" {
		return ErrEmptyPath
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("script %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("script %s: is a directory", path)
	}

	if isExecutable(info) && !isScriptText(path) {
		return r.runProcess(ctx, path, sc)
	}

	src, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("script %s: %w", path, err)
	}
	apply(sc.Control, string(src))
	return nil
}

// isScriptText reports extensions that are always read as mini-script.
func isScriptText(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".vns", ".txt", ".script":
		return true
	}
	return false
}

func isExecutable(info os.FileInfo) bool {
	return info.Mode().Perm()&0o111 != 0
}

// apply runs every line of src as mini-script.
func apply(c Controller, src string) {
	if c == nil {
		return
	}
	for _, line := range strings.Split(src, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		for _, a := range logic.Parse(line) {
			c.Exec(a)
		}
	}
}

// payload is what an executable script reads on stdin.
type payload struct {
	Playhead float64            `json:"playhead"`
	Duration float64            `json:"duration"`
	Project  string             `json:"project,omitempty"`
	Labels   map[string]float64 `json:"labels,omitempty"`
	Keyframe *keyframeJSON      `json:"keyframe,omitempty"`
}

type keyframeJSON struct {
	ID       int            `json:"id"`
	Time     float64        `json:"t"`
	Track    string         `json:"track"`
	Duration float64        `json:"duration"`
	Data     map[string]any `json:"data"`
}

func newPayload(sc Context) payload {
	p := payload{Playhead: sc.Playhead}
	if sc.Model != nil {
		p.Duration = sc.Model.Duration()
		p.Project = sc.Model.ProjectFile()
		p.Labels = sc.Model.Labels()
	}
	if k := sc.Keyframe; k != nil {
		kj := &keyframeJSON{ID: k.ID, Time: k.Time, Track: k.Track.String(), Duration: k.Duration}
		if k.Data != nil {
			kj.Data = timeline.EncodePayload(k.Data)
		}
		p.Keyframe = kj
	}
	return p
}

func (r *Runner) runProcess(ctx context.Context, path string, sc Context) error {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	in, err := json.Marshal(newPayload(sc))
	if err != nil {
		return fmt.Errorf("script %s: encode context: %w", path, err)
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, path)
	cmd.Dir = filepath.Dir(path)
	cmd.Stdin = bytes.NewReader(in)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	// команды, напечатанные до сбоя, всё равно применяются
	apply(sc.Control, stdout.String())

	if runErr != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return fmt.Errorf("script %s: %w: %s", path, runErr, msg)
		}
		return fmt.Errorf("script %s: %w", path, runErr)
	}
	if msg := strings.TrimSpace(stderr.String()); msg != "" {
		r.Log.Debug("script stderr", "path", path, "output", msg)
	}
	return nil
}
