package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ivlev/vngen/internal/audio"
	"github.com/ivlev/vngen/internal/playback"
	"github.com/ivlev/vngen/internal/system"
	"github.com/ivlev/vngen/internal/video"
)

// renderPlan describes one deterministic offline render.
type renderPlan struct {
	FPS      int
	From     float64
	Duration float64
	// Choices answer menus in the order they open; missing answers pick 0.
	Choices []int
	// MenuHold is how long an open menu stays on screen before it is answered.
	MenuHold float64
}

type renderStats struct {
	Frames   int
	Menus    int
	Warnings int
	// Stopped is set when a pause or stop command ended the render early.
	Stopped bool
}

// renderFrames drives p at a fixed step and hands every frame to w.
func renderFrames(ctx context.Context, p *playback.Player, w video.FrameWriter, plan renderPlan, log *slog.Logger) (renderStats, error) {
	var st renderStats
	if plan.FPS <= 0 {
		plan.FPS = 30
	}
	dt := 1 / float64(plan.FPS)
	end := p.Model().Duration()
	if plan.Duration <= 0 {
		plan.Duration = end - plan.From
	}
	total := int(math.Round(plan.Duration * float64(plan.FPS)))
	holdFrames := int(math.Round(plan.MenuHold * float64(plan.FPS)))

	p.Seek(plan.From)
	p.Play()

	warned := map[string]bool{}
	menuFrames := 0
	for st.Frames < total {
		if err := ctx.Err(); err != nil {
			return st, err
		}

		if menu := p.Menu(); menu != nil && menuFrames >= holdFrames {
			choice := 0
			if st.Menus < len(plan.Choices) {
				choice = plan.Choices[st.Menus]
			}
			log.Info("[*] Выбор в меню", "prompt", menu.Prompt, "option", choice, "at", p.Time())
			if err := p.Select(choice); err != nil {
				return st, fmt.Errorf("menu at %.2fs: %w", p.Time(), err)
			}
			st.Menus++
			menuFrames = 0
		}

		f := p.Render()
		for _, wr := range f.Warnings {
			st.Warnings++
			if key := wr.String(); !warned[key] {
				warned[key] = true
				log.Warn("[!] Проблема с ассетом", "layer", wr.Layer, "path", wr.Path, "error", wr.Err)
			}
		}
		err := w.WriteFrame(f.Image)
		p.Compositor().Release(f)
		if err != nil {
			return st, err
		}
		st.Frames++

		if p.Menu() != nil {
			menuFrames++
			continue
		}
		switch p.State() {
		case playback.Paused, playback.Stopped:
			st.Stopped = true
			return st, nil
		}
		if p.Time() >= end-1e-9 {
			return st, nil
		}
		p.Advance(dt)
	}
	return st, nil
}

func newRenderCommand(ctx *commandContext) *cobra.Command {
	var (
		out, framesDir string
		fps            int
		from, duration float64
		choices        []int
		menuHold       float64
		encoder        string
		quality        int
		width, height  int
		stats          bool
	)

	cmd := &cobra.Command{
		Use:   "render <project>",
		Short: "Отрендерить таймлайн в видео (ffmpeg) или в PNG-кадры",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := ctx.ensure()
			if err != nil {
				return err
			}
			system.InitResourceLimits(log)

			m, err := loadProject(args[0], cfg, log)
			if err != nil {
				return err
			}
			if width <= 0 || height <= 0 {
				width, height = cfg.Preview.Width, cfg.Preview.Height
			}
			if fps <= 0 {
				fps = cfg.Render.FPS
			}

			s, err := newSession(cmd.Context(), m, cfg, log, sessionOptions{width: width, height: height, audio: audio.KindNone, preload: true})
			if err != nil {
				return err
			}
			defer s.Close()

			var w video.FrameWriter
			if framesDir != "" {
				if w, err = video.NewPNGSequence(framesDir); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "[*] Кадры пишутся в %s\n", framesDir)
			} else {
				if out == "" {
					base := strings.TrimSuffix(filepath.Base(m.ProjectFile()), filepath.Ext(m.ProjectFile()))
					out = filepath.Join(cfg.Render.OutputDir, base+".mp4")
				}
				if encoder == "" {
					encoder = cfg.Render.Encoder
				}
				if encoder == "auto" {
					encoder = system.GetBestH264Encoder(cfg.Render.FFmpeg)
				}
				if quality <= 0 {
					quality = cfg.Render.Quality
				}
				if quality <= 0 {
					quality = system.DefaultQuality(encoder)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "[*] Энкодер: %s, качество %d -> %s\n", encoder, quality, out)
				if w, err = video.StartFFmpeg(cmd.Context(), video.Options{
					FFmpeg:  cfg.Render.FFmpeg,
					Width:   width,
					Height:  height,
					FPS:     fps,
					Encoder: encoder,
					Quality: quality,
					Output:  out,
				}); err != nil {
					return err
				}
			}

			start := time.Now()
			st, err := renderFrames(cmd.Context(), s.player, w, renderPlan{
				FPS:      fps,
				From:     from,
				Duration: duration,
				Choices:  choices,
				MenuHold: menuHold,
			}, log)
			if cerr := w.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				return err
			}
			if st.Stopped {
				fmt.Fprintf(cmd.OutOrStdout(), "[*] Воспроизведение остановлено командой на %.2fs\n", s.player.Time())
			}
			fmt.Fprintf(cmd.OutOrStdout(), "[+++] Готово: %d кадров, меню: %d\n", st.Frames, st.Menus)

			if stats {
				printReport(cmd.OutOrStdout(), st, time.Since(start), log)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&out, "output", "o", "", "Путь к видео (по умолчанию <render.output_dir>/<проект>.mp4)")
	cmd.Flags().StringVar(&framesDir, "frames", "", "Писать PNG-кадры в папку вместо видео")
	cmd.Flags().IntVar(&fps, "fps", 0, "FPS (по умолчанию из конфигурации)")
	cmd.Flags().Float64Var(&from, "from", 0, "Начальная позиция, сек")
	cmd.Flags().Float64Var(&duration, "duration", 0, "Длительность рендера, сек (0 - до конца таймлайна)")
	cmd.Flags().IntSliceVar(&choices, "choices", nil, "Ответы на меню по порядку (индексы с 0)")
	cmd.Flags().Float64Var(&menuHold, "menu-hold", 1.5, "Сколько секунд показывать меню перед выбором")
	cmd.Flags().StringVar(&encoder, "encoder", "", "Энкодер: auto, libx264, h264_nvenc, h264_videotoolbox")
	cmd.Flags().IntVar(&quality, "quality", 0, "Качество (0 - авто, x264: CRF 1-51, VideoToolbox: битрейт = Q*100кбит/с)")
	cmd.Flags().IntVar(&width, "width", 0, "Ширина кадра")
	cmd.Flags().IntVar(&height, "height", 0, "Высота кадра")
	cmd.Flags().BoolVar(&stats, "stats", false, "Показать отчёт о производительности")
	return cmd
}

func printReport(w io.Writer, st renderStats, total time.Duration, log *slog.Logger) {
	fps := float64(st.Frames) / math.Max(total.Seconds(), 1e-9)
	proc, err := system.SampleProcess()
	if err != nil {
		log.Warn("[!] Не удалось получить статистику процесса", "error", err)
	}
	fmt.Fprintf(w,
		"--- [PERFORMANCE REPORT] ---\n"+
			"Frames: %d\n"+
			"Total Time: %.2fs\n"+
			"Effective FPS: %.2f\n"+
			"Asset warnings: %d\n"+
			"RSS: %.1f MiB\n"+
			"CPU: %.1f%%\n"+
			"Threads: %d\n"+
			"PID: %d\n"+
			"----------------------------\n",
		st.Frames, total.Seconds(), fps, st.Warnings, proc.RSSMiB(), proc.CPUPercent, proc.Threads, os.Getpid(),
	)
}
