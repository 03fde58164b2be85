package audio

import (
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
	"syscall"
)

// FFplay plays sounds through ffplay child processes. Music is paused and
// resumed with SIGSTOP/SIGCONT.
type FFplay struct {
	bin string
	log *slog.Logger

	mu     sync.Mutex
	music  *exec.Cmd
	done   chan struct{}
	paused bool
	sfx    map[*exec.Cmd]struct{}
}

// NewFFplay returns a backend running bin.
func NewFFplay(bin string, log *slog.Logger) *FFplay {
	if log == nil {
		log = slog.Default()
	}
	return &FFplay{bin: bin, log: log, sfx: make(map[*exec.Cmd]struct{})}
}

// buildArgs returns the ffplay command line for one stream.
func buildArgs(path string, volume float64, loop bool, offset float64) []string {
	args := []string{
		"-nodisp",
		"-autoexit",
		"-loglevel", "quiet",
		"-volume", fmt.Sprintf("%d", int(ClampVolume(volume)*100+0.5)),
	}
	if offset > 0 {
		args = append(args, "-ss", fmt.Sprintf("%.3f", offset))
	}
	if loop {
		args = append(args, "-loop", "0")
	}
	return append(args, path)
}

func (f *FFplay) PlaySFX(path string, volume float64) error {
	cmd := exec.Command(f.bin, buildArgs(path, volume, false, 0)...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("sfx start: %w", err)
	}
	f.mu.Lock()
	f.sfx[cmd] = struct{}{}
	f.mu.Unlock()

	go func() {
		_ = cmd.Wait()
		f.mu.Lock()
		delete(f.sfx, cmd)
		f.mu.Unlock()
	}()
	return nil
}

func (f *FFplay) PlayMusic(path string, volume float64, loop bool, offset float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopLocked()

	cmd := exec.Command(f.bin, buildArgs(path, volume, loop, offset)...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("music start: %w", err)
	}
	done := make(chan struct{})
	f.music, f.done, f.paused = cmd, done, false

	go func() {
		if err := cmd.Wait(); err != nil {
			f.log.Debug("ffplay exited", "path", path, "error", err)
		}
		close(done)
	}()
	return nil
}

func (f *FFplay) PauseMusic() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.runningLocked() || f.paused {
		return nil
	}
	if err := f.music.Process.Signal(syscall.SIGSTOP); err != nil {
		return fmt.Errorf("music pause: %w", err)
	}
	f.paused = true
	return nil
}

func (f *FFplay) ResumeMusic() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.runningLocked() || !f.paused {
		return nil
	}
	if err := f.music.Process.Signal(syscall.SIGCONT); err != nil {
		return fmt.Errorf("music resume: %w", err)
	}
	f.paused = false
	return nil
}

func (f *FFplay) StopMusic() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopLocked()
	return nil
}

func (f *FFplay) MusicBusy() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runningLocked() && !f.paused
}

// Close stops music and every effect still playing.
func (f *FFplay) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopLocked()
	for cmd := range f.sfx {
		_ = cmd.Process.Kill()
	}
	return nil
}

func (f *FFplay) runningLocked() bool {
	if f.music == nil {
		return false
	}
	select {
	case <-f.done:
		return false
	default:
		return true
	}
}

func (f *FFplay) stopLocked() {
	if f.runningLocked() {
		if f.paused {
			// снимаем паузу, чтобы процесс корректно завершился
			_ = f.music.Process.Signal(syscall.SIGCONT)
		}
		_ = f.music.Process.Kill()
		<-f.done
	}
	f.music, f.done, f.paused = nil, nil, false
}
