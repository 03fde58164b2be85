package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ivlev/vngen/internal/assets"
	"github.com/ivlev/vngen/internal/audio"
	"github.com/ivlev/vngen/internal/compositor"
	"github.com/ivlev/vngen/internal/config"
	"github.com/ivlev/vngen/internal/playback"
	"github.com/ivlev/vngen/internal/scripting"
	"github.com/ivlev/vngen/internal/system"
	"github.com/ivlev/vngen/internal/timeline"
)

// loadProject opens a project document, or the newest one in a directory.
func loadProject(path string, cfg *config.Config, log *slog.Logger) (*timeline.Model, error) {
	file, err := system.FindLatestProject(path)
	if err != nil {
		return nil, err
	}
	m := timeline.NewModel()
	m.SetLogger(log)
	m.SetProber(audio.Probe{Bin: cfg.Audio.FFprobe})
	if err := m.LoadFile(file); err != nil {
		return nil, err
	}
	log.Debug("project loaded", "path", file, "keyframes", m.Len(), "duration", m.Duration())
	return m, nil
}

type sessionOptions struct {
	width, height int
	audio         string
	preload       bool
}

// session wires a player to its compositor, asset cache and audio.
type session struct {
	model  *timeline.Model
	player *playback.Player
	loader *assets.Loader
	audio  audio.Backend
}

func newSession(ctx context.Context, m *timeline.Model, cfg *config.Config, log *slog.Logger, opts sessionOptions) (*session, error) {
	if opts.width <= 0 || opts.height <= 0 {
		opts.width, opts.height = cfg.Preview.Width, cfg.Preview.Height
	}

	loader := assets.NewLoader(assets.Options{
		DPI:        cfg.Assets.PDFDPI,
		MaxEntries: cfg.Assets.CacheEntries,
		Workers:    cfg.Assets.PreloadWorkers,
		Logger:     log,
	})
	if opts.preload {
		paths := assets.ImagePaths(m)
		n, err := loader.Preload(ctx, paths)
		if err != nil {
			return nil, err
		}
		log.Debug("images preloaded", "loaded", n, "total", len(paths))
	}

	backend, err := audio.Open(audio.Options{Kind: opts.audio, FFplay: cfg.Audio.FFplay, Logger: log})
	if err != nil {
		return nil, fmt.Errorf("audio: %w", err)
	}

	p := playback.New(m, playback.Options{
		Width:      opts.width,
		Height:     opts.height,
		MaxStep:    cfg.Preview.MaxStep(),
		Audio:      backend,
		Scripts:    scripting.NewRunner(log),
		Compositor: compositor.New(opts.width, opts.height, loader, nil),
		Logger:     log,
	})
	p.SetMutes(cfg.Audio.MuteSFX, cfg.Audio.MuteMusic)

	return &session{model: m, player: p, loader: loader, audio: backend}, nil
}

func (s *session) Close() error {
	return s.audio.Close()
}
