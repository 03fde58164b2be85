package playback

import (
	"fmt"
	"os"

	"github.com/ivlev/vngen/internal/compositor"
	"github.com/ivlev/vngen/internal/layers"
	"github.com/ivlev/vngen/internal/logic"
	"github.com/ivlev/vngen/internal/scripting"
	"github.com/ivlev/vngen/internal/timeline"
)

func (p *Player) enterDialog(k *timeline.Keyframe) { p.applyDialog(k) }

func (p *Player) enterSFX(k *timeline.Keyframe) {
	if p.muteSFX {
		return
	}
	d, ok := k.Data.(*timeline.AudioData)
	if !ok || d.Value == "" {
		return
	}
	path := p.model.Resolve(d.Value)
	if !fileExists(path) {
		p.log.Warn("sfx asset missing", "path", path, "id", k.ID)
		return
	}
	if err := p.audio.PlaySFX(path, d.Volume); err != nil {
		p.log.Warn("sfx playback failed", "path", path, "error", err)
	}
}

func (p *Player) enterMusic(k *timeline.Keyframe) { p.startMusic(k, 0) }

// enterLogic runs the block command, then its inline script, then its
// script file.
func (p *Player) enterLogic(k *timeline.Keyframe) {
	d, ok := k.Data.(*timeline.LogicData)
	if !ok {
		return
	}
	if a, ok := d.Action(); ok {
		p.exec(a)
	}
	for _, a := range logic.Parse(d.Script) {
		p.exec(a)
	}
	if d.ScriptPath != "" {
		p.runScript(d.ScriptPath, k)
	}
}

func (p *Player) applyDialog(k *timeline.Keyframe) {
	d, ok := k.Data.(*timeline.DialogData)
	if !ok {
		return
	}
	end := k.End()
	p.dialog = compositor.DialogState{
		Speaker: d.Speaker,
		Text:    d.Text,
		CPS:     d.CPS,
		Start:   k.Time,
		End:     end,
	}
	p.dialogEnd = end
}

func (p *Player) clearDialog() {
	p.dialog = compositor.DialogState{Start: -1, End: -1}
	p.dialogEnd = -1
}

// lastActive returns the latest-starting block of tr that contains the
// playhead.
func (p *Player) lastActive(tr timeline.Track) *timeline.Keyframe {
	cur, _ := layers.Pick(layers.Active(p.model, tr, p.playhead))
	return cur
}

// startMusic streams block k from offset seconds into the file.
func (p *Player) startMusic(k *timeline.Keyframe, offset float64) {
	if p.muteMusic {
		return
	}
	d, ok := k.Data.(*timeline.AudioData)
	if !ok {
		return
	}
	path := p.model.Resolve(d.Value)
	if d.Value == "" || !fileExists(path) {
		p.log.Warn("music asset missing", "path", path, "id", k.ID)
		p.stopMusic()
		return
	}
	if err := p.audio.PlayMusic(path, d.Volume, d.Loop, max(0, offset)); err != nil {
		p.log.Warn("music playback failed", "path", path, "error", err)
		p.stopMusic()
		return
	}
	p.musicID = k.ID
	p.musicEnd = k.End()
	p.musicPaused = false
}

func (p *Player) stopMusic() {
	if err := p.audio.StopMusic(); err != nil {
		p.log.Warn("music stop failed", "error", err)
	}
	p.musicID = -1
	p.musicEnd = -1
	p.musicPaused = false
}

// ensureMusic starts the music block under the playhead, if any.
func (p *Player) ensureMusic() {
	if p.muteMusic {
		return
	}
	if k := p.lastActive(timeline.Music); k != nil {
		p.startMusic(k, p.playhead-k.Time)
	}
}

func (p *Player) pauseAudio() {
	if p.muteMusic || !p.audio.MusicBusy() {
		return
	}
	if err := p.audio.PauseMusic(); err != nil {
		p.log.Warn("music pause failed", "error", err)
		p.musicPaused = false
		return
	}
	p.musicPaused = true
}

func (p *Player) resumeOrRealignAudio() {
	if p.muteMusic {
		return
	}
	if p.musicPaused {
		err := p.audio.ResumeMusic()
		p.musicPaused = false
		if err == nil {
			return
		}
		p.log.Warn("music resume failed", "error", err)
	}
	p.ensureMusic()
}

// runScript executes a script reference against the current state. Any
// failure, including a panic in the runner, is logged and swallowed.
func (p *Player) runScript(ref string, k *timeline.Keyframe) {
	if p.scripts == nil {
		p.log.Debug("script ignored: no runner", "script", ref)
		return
	}
	path := p.model.Resolve(ref)
	if !fileExists(path) {
		p.log.Warn("script missing", "script", ref, "path", path)
		return
	}
	sc := scripting.Context{
		Model:      p.model,
		Keyframe:   k,
		Playhead:   p.playhead,
		Compositor: p.comp,
		Control:    p,
	}
	defer func() {
		if r := recover(); r != nil {
			p.log.Warn("script panicked", "path", path, "error", fmt.Sprint(r))
		}
	}()
	if err := p.scripts.Run(p.ctx, path, sc); err != nil {
		p.log.Warn("script failed", "path", path, "error", err)
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
