package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Normalize trims and lower-cases enumerations, fills zero values from
// Default and expands ~ in paths.
func (c *Config) Normalize() error {
	def := Default()

	c.Audio.Backend = strings.ToLower(strings.TrimSpace(c.Audio.Backend))
	if c.Audio.Backend == "" {
		c.Audio.Backend = def.Audio.Backend
	}
	if strings.TrimSpace(c.Audio.FFplay) == "" {
		c.Audio.FFplay = def.Audio.FFplay
	}
	if strings.TrimSpace(c.Audio.FFprobe) == "" {
		c.Audio.FFprobe = def.Audio.FFprobe
	}

	c.Render.Encoder = strings.TrimSpace(c.Render.Encoder)
	if c.Render.Encoder == "" {
		c.Render.Encoder = def.Render.Encoder
	}
	if strings.TrimSpace(c.Render.FFmpeg) == "" {
		c.Render.FFmpeg = def.Render.FFmpeg
	}
	if strings.TrimSpace(c.Render.OutputDir) == "" {
		c.Render.OutputDir = def.Render.OutputDir
	}
	var err error
	if c.Render.OutputDir, err = expandPath(c.Render.OutputDir); err != nil {
		return fmt.Errorf("render.output_dir: %w", err)
	}

	if c.Preview.TickHz <= 0 {
		c.Preview.TickHz = def.Preview.TickHz
	}
	if c.Preview.MaxStepMS <= 0 {
		c.Preview.MaxStepMS = def.Preview.MaxStepMS
	}
	if c.Assets.PDFDPI <= 0 {
		c.Assets.PDFDPI = def.Assets.PDFDPI
	}
	if c.Assets.PreloadWorkers <= 0 {
		c.Assets.PreloadWorkers = def.Assets.PreloadWorkers
	}

	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Level == "" {
		c.Logging.Level = def.Logging.Level
	}
	if c.Logging.Format == "" {
		c.Logging.Format = def.Logging.Format
	}
	return nil
}

// Validate rejects values no component can work with.
func (c *Config) Validate() error {
	var errs []error
	if c.Preview.Width <= 0 || c.Preview.Height <= 0 {
		errs = append(errs, fmt.Errorf("preview: size %dx%d must be positive", c.Preview.Width, c.Preview.Height))
	}
	if c.Preview.TickHz > 1000 {
		errs = append(errs, fmt.Errorf("preview.tick_hz: %d is above 1000", c.Preview.TickHz))
	}
	switch c.Audio.Backend {
	case "none", "ffplay":
	default:
		errs = append(errs, fmt.Errorf("audio.backend: unsupported value %q", c.Audio.Backend))
	}
	if c.Render.FPS <= 0 || c.Render.FPS > 240 {
		errs = append(errs, fmt.Errorf("render.fps: %d outside 1..240", c.Render.FPS))
	}
	if c.Render.Quality < 0 {
		errs = append(errs, fmt.Errorf("render.quality: %d is negative", c.Render.Quality))
	}
	if c.Assets.CacheEntries < 0 {
		errs = append(errs, fmt.Errorf("assets.cache_entries: %d is negative", c.Assets.CacheEntries))
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level))
	}
	switch c.Logging.Format {
	case "auto", "console", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format))
	}
	return errors.Join(errs...)
}

// TickInterval is the wall-clock period of one preview tick.
func (p Preview) TickInterval() time.Duration {
	return time.Second / time.Duration(max(p.TickHz, 1))
}

// MaxStep is the per-tick clamp in seconds.
func (p Preview) MaxStep() float64 {
	return float64(p.MaxStepMS) / 1000
}
