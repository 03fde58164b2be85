package config

const (
	defaultWidth     = 960
	defaultHeight    = 540
	defaultTickHz    = 60
	defaultMaxStepMS = 50
	defaultFPS       = 30
	defaultOutputDir = "output"
	defaultPDFDPI    = 150
)

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Preview: Preview{
			Width:     defaultWidth,
			Height:    defaultHeight,
			TickHz:    defaultTickHz,
			MaxStepMS: defaultMaxStepMS,
			Snap:      true,
		},
		Audio: Audio{
			Backend: "none",
			FFplay:  "ffplay",
			FFprobe: "ffprobe",
		},
		Render: Render{
			FPS:       defaultFPS,
			Encoder:   "auto",
			FFmpeg:    "ffmpeg",
			OutputDir: defaultOutputDir,
		},
		Assets: Assets{
			PDFDPI:         defaultPDFDPI,
			PreloadWorkers: 4,
			CacheEntries:   256,
		},
		Logging: Logging{
			Level:  "info",
			Format: "auto",
		},
	}
}
