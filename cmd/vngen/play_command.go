package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/ivlev/vngen/internal/compositor"
	"github.com/ivlev/vngen/internal/playback"
)

// watcher turns player state into human-readable transition lines.
type watcher struct {
	state  playback.State
	dialog compositor.DialogState
	menuID int
	music  int
}

func newWatcher() *watcher {
	return &watcher{state: playback.Stopped, dialog: compositor.DialogState{Start: -1}, menuID: -1, music: -1}
}

func (w *watcher) observe(s playback.Snapshot) []string {
	var events []string
	if s.State != w.state {
		events = append(events, fmt.Sprintf("%s -> %s", w.state, s.State))
		w.state = s.State
	}
	if s.DialogOn && (s.Dialog.Start != w.dialog.Start || s.Dialog.Text != w.dialog.Text) {
		line := s.Dialog.Text
		if s.Dialog.Speaker != "" {
			line = s.Dialog.Speaker + ": " + line
		}
		events = append(events, "реплика «"+line+"»")
	}
	w.dialog = s.Dialog
	if !s.DialogOn {
		w.dialog.Start = -1
	}

	switch {
	case s.Menu != nil && s.Menu.Keyframe.ID != w.menuID:
		w.menuID = s.Menu.Keyframe.ID
		var b strings.Builder
		b.WriteString("меню: " + s.Menu.Prompt)
		for i, c := range s.Menu.Choices {
			fmt.Fprintf(&b, " [%d] %s", i+1, c.Text)
		}
		events = append(events, b.String())
	case s.Menu == nil:
		w.menuID = -1
	}

	if s.MusicID != w.music {
		if s.MusicID >= 0 {
			events = append(events, fmt.Sprintf("музыка: блок %d", s.MusicID))
		} else {
			events = append(events, "музыка остановлена")
		}
		w.music = s.MusicID
	}
	return events
}

// parseCommand maps one line of terminal input onto a player action.
func parseCommand(line string) (func(p *playback.Player) error, bool) {
	line = strings.TrimSpace(line)
	switch strings.ToLower(line) {
	case "", "p", "pause", "play":
		return func(p *playback.Player) error { p.TogglePlay(); return nil }, true
	case "s", "stop":
		return func(p *playback.Player) error { p.Stop(); return nil }, true
	}
	if n, err := strconv.Atoi(line); err == nil {
		return func(p *playback.Player) error { return p.Key(n) }, true
	}
	if verb, target, ok := strings.Cut(line, " "); ok && strings.EqualFold(verb, "jump") {
		return func(p *playback.Player) error { p.Jump(strings.TrimSpace(target)); return nil }, true
	}
	return nil, false
}

func readCommands(ctx context.Context, r io.Reader, p *playback.Player, log *slog.Logger, quit context.CancelFunc) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		if strings.TrimSpace(line) == "q" {
			quit()
			return
		}
		fn, ok := parseCommand(line)
		if !ok {
			log.Warn("[!] Неизвестная команда", "input", line)
			continue
		}
		if err := p.Do(ctx, func() {
			if err := fn(p); err != nil {
				log.Warn("[!] Команда не выполнена", "input", line, "error", err)
			}
		}); err != nil {
			return
		}
	}
}

func newPlayCommand(ctx *commandContext) *cobra.Command {
	var (
		from, until float64
		choices     []int
		backend     string
	)

	cmd := &cobra.Command{
		Use:   "play <project>",
		Short: "Проиграть таймлайн в реальном времени (со звуком), печатая события",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := ctx.ensure()
			if err != nil {
				return err
			}
			m, err := loadProject(args[0], cfg, log)
			if err != nil {
				return err
			}
			if backend == "" {
				backend = cfg.Audio.Backend
			}
			s, err := newSession(cmd.Context(), m, cfg, log, sessionOptions{audio: backend, preload: true})
			if err != nil {
				return err
			}
			defer s.Close()

			runCtx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			p := s.player
			if until <= 0 {
				until = m.Duration()
			}
			interactive := isatty.IsTerminal(os.Stdin.Fd())
			out := cmd.OutOrStdout()
			w := newWatcher()
			answered := 0
			lastMenu := -1
			p.OnPlayhead(func(t float64) {
				snap := p.Snapshot()
				for _, ev := range w.observe(snap) {
					fmt.Fprintf(out, "[*] %7.2fs %s\n", t, ev)
				}
				if snap.Menu != nil && snap.Menu.Keyframe.ID != lastMenu {
					lastMenu = snap.Menu.Keyframe.ID
					switch {
					case answered < len(choices):
						choice := choices[answered]
						answered++
						go func() { _ = p.Do(runCtx, func() { _ = p.Select(choice) }) }()
					case !interactive:
						go func() { _ = p.Do(runCtx, func() { _ = p.Select(0) }) }()
					}
				}
				if snap.Menu == nil {
					lastMenu = -1
				}
				if t >= until-1e-9 || (!interactive && snap.State == playback.Paused) {
					cancel()
				}
			})

			if interactive {
				fmt.Fprintln(out, "[*] Команды: p - пауза, s - стоп, 1-9 - выбор в меню, jump <метка>, q - выход")
				go readCommands(runCtx, os.Stdin, p, log, cancel)
			}

			p.Seek(from)
			p.Play()
			err = p.Run(runCtx, cfg.Preview.TickInterval())
			if errors.Is(err, context.Canceled) && cmd.Context().Err() == nil {
				err = nil
			}
			fmt.Fprintf(out, "[+++] Остановлено на %.2fs\n", p.Time())
			return err
		},
	}

	cmd.Flags().Float64Var(&from, "from", 0, "Начальная позиция, сек")
	cmd.Flags().Float64Var(&until, "until", 0, "Остановиться на этой позиции, сек (0 - конец таймлайна)")
	cmd.Flags().IntSliceVar(&choices, "choices", nil, "Автоматические ответы на меню по порядку (индексы с 0)")
	cmd.Flags().StringVar(&backend, "audio", "", "Звук: none или ffplay (по умолчанию из конфигурации)")
	return cmd
}
