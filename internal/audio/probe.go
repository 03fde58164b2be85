package audio

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Probe measures audio files with ffprobe. It satisfies the timeline's
// duration prober so new MUSIC blocks default to the track length.
type Probe struct {
	Bin     string
	Timeout time.Duration
}

// AudioDuration returns the length of the file at path in seconds.
func (p Probe) AudioDuration(path string) (float64, error) {
	bin := p.Bin
	if bin == "" {
		bin = "ffprobe"
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, bin, "-v", "error", "-show_entries", "format=duration", "-of", "default=noprint_wrappers=1:nokey=1", path)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return 0, fmt.Errorf("ffprobe %s: %w", path, err)
	}
	return parseDuration(out)
}

func parseDuration(out []byte) (float64, error) {
	var duration float64
	if _, err := fmt.Sscanf(strings.TrimSpace(string(out)), "%f", &duration); err != nil {
		return 0, fmt.Errorf("ffprobe output %q: %w", strings.TrimSpace(string(out)), err)
	}
	if duration < 0 {
		return 0, fmt.Errorf("negative duration %v", duration)
	}
	return duration, nil
}
