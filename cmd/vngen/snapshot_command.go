package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ivlev/vngen/internal/audio"
	"github.com/ivlev/vngen/internal/video"
)

func newSnapshotCommand(ctx *commandContext) *cobra.Command {
	var (
		at            float64
		out           string
		width, height int
	)

	cmd := &cobra.Command{
		Use:   "snapshot <project>",
		Short: "Сохранить один кадр в PNG",
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
			s, err := newSession(cmd.Context(), m, cfg, log, sessionOptions{width: width, height: height, audio: audio.KindNone})
			if err != nil {
				return err
			}
			defer s.Close()

			s.player.Seek(at)
			f := s.player.Render()
			defer s.player.Compositor().Release(f)
			for _, w := range f.Warnings {
				fmt.Fprintf(cmd.ErrOrStderr(), "[!] %s\n", w)
			}
			if err := video.SavePNG(out, f.Image); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "[+++] Кадр %.2fs сохранён: %s\n", s.player.Time(), out)
			return nil
		},
	}

	cmd.Flags().Float64Var(&at, "at", 0, "Позиция, сек")
	cmd.Flags().StringVarP(&out, "output", "o", "snapshot.png", "Путь к PNG")
	cmd.Flags().IntVar(&width, "width", 0, "Ширина кадра")
	cmd.Flags().IntVar(&height, "height", 0, "Высота кадра")
	return cmd
}
