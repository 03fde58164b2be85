package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ivlev/vngen/internal/build"
)

func newBuildCommand(ctx *commandContext) *cobra.Command {
	var platform, output string

	cmd := &cobra.Command{
		Use:   "build <project>",
		Short: "Собрать проект и его ассеты в папку для платформы",
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
			res, err := build.Build(cmd.Context(), m, build.Options{
				Platform: platform,
				Output:   output,
				Workers:  cfg.Assets.PreloadWorkers,
				Logger:   log,
			})
			if err != nil {
				return err
			}
			for _, miss := range res.Manifest.Missing {
				fmt.Fprintf(cmd.ErrOrStderr(), "[!] Ассет не найден: %s\n", miss)
			}
			abs, _ := filepath.Abs(res.Dir)
			fmt.Fprintf(cmd.OutOrStdout(), "[+++] Сборка готова: %s (build %s, ассетов: %d)\n", abs, res.Manifest.BuildID, len(res.Manifest.Assets))
			return nil
		},
	}

	cmd.Flags().StringVar(&platform, "platform", "windows", "Платформа: "+strings.Join(build.Platforms, ", "))
	cmd.Flags().StringVarP(&output, "output", "o", "build", "Корневая папка сборок")
	return cmd
}
