// Package config loads the TOML configuration shared by the CLI commands.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Preview controls the interactive/headless playback loop.
type Preview struct {
	Width     int  `toml:"width"`
	Height    int  `toml:"height"`
	TickHz    int  `toml:"tick_hz"`
	MaxStepMS int  `toml:"max_step_ms"`
	Snap      bool `toml:"snap"`
}

// Audio selects the audio backend.
type Audio struct {
	Backend   string `toml:"backend"`
	MuteSFX   bool   `toml:"mute_sfx"`
	MuteMusic bool   `toml:"mute_music"`
	FFplay    string `toml:"ffplay"`
	FFprobe   string `toml:"ffprobe"`
}

// Render configures offline rendering to video.
type Render struct {
	FPS       int    `toml:"fps"`
	Encoder   string `toml:"encoder"` // "auto" probes ffmpeg for a hardware encoder
	Quality   int    `toml:"quality"` // 0 = encoder default
	FFmpeg    string `toml:"ffmpeg"`
	OutputDir string `toml:"output_dir"`
}

// Assets configures image decoding.
type Assets struct {
	PDFDPI         int `toml:"pdf_dpi"`
	PreloadWorkers int `toml:"preload_workers"`
	CacheEntries   int `toml:"cache_entries"`
}

// Logging configures the slog handler.
type Logging struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Config is the full configuration file.
type Config struct {
	Preview Preview `toml:"preview"`
	Audio   Audio   `toml:"audio"`
	Render  Render  `toml:"render"`
	Assets  Assets  `toml:"assets"`
	Logging Logging `toml:"logging"`
}

// DefaultConfigPath is where Load looks when no path is given.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/vngen/config.toml")
}

// Load parses path over Default, then normalizes and validates the result.
// A missing file is not an error; exists reports whether one was read.
func Load(path string) (cfg *Config, resolved string, exists bool, err error) {
	c := Default()

	if path == "" {
		if path, err = DefaultConfigPath(); err != nil {
			return nil, "", false, err
		}
	} else if path, err = expandPath(path); err != nil {
		return nil, "", false, err
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, "", false, fmt.Errorf("open config: %w", err)
	default:
		exists = true
		if err := toml.Unmarshal(data, &c); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := c.Normalize(); err != nil {
		return nil, "", false, err
	}
	if err := c.Validate(); err != nil {
		return nil, "", false, err
	}
	return &c, path, exists, nil
}

// Marshal renders c as TOML.
func (c *Config) Marshal() ([]byte, error) {
	return toml.Marshal(c)
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	absolute, err := filepath.Abs(filepath.Clean(pathValue))
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", pathValue, err)
	}
	return absolute, nil
}
