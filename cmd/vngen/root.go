package main

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/ivlev/vngen/internal/config"
	"github.com/ivlev/vngen/internal/logging"
)

type commandContext struct {
	configFlag    *string
	logLevelFlag  *string
	logFormatFlag *string

	once   sync.Once
	config *config.Config
	log    *slog.Logger
	err    error
}

func (c *commandContext) ensure() (*config.Config, *slog.Logger, error) {
	c.once.Do(func() {
		cfg, _, _, err := config.Load(strings.TrimSpace(*c.configFlag))
		if err != nil {
			c.err = err
			return
		}
		// флаги важнее файла
		if v := strings.TrimSpace(*c.logLevelFlag); v != "" {
			cfg.Logging.Level = v
		}
		if v := strings.TrimSpace(*c.logFormatFlag); v != "" {
			cfg.Logging.Format = v
		}
		log, err := logging.New(logging.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
		if err != nil {
			c.err = err
			return
		}
		c.config, c.log = cfg, log
	})
	return c.config, c.log, c.err
}

func newRootCommand() *cobra.Command {
	var configFlag, logLevelFlag, logFormatFlag string
	ctx := &commandContext{
		configFlag:    &configFlag,
		logLevelFlag:  &logLevelFlag,
		logFormatFlag: &logFormatFlag,
	}

	rootCmd := &cobra.Command{
		Use:           "vngen",
		Short:         "Проигрывание и рендер таймлайнов визуальных новелл",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_, _, err := ctx.ensure()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Путь к файлу конфигурации (TOML)")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "Уровень логов: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormatFlag, "log-format", "", "Формат логов: auto, console, json")

	rootCmd.AddCommand(newRenderCommand(ctx))
	rootCmd.AddCommand(newSnapshotCommand(ctx))
	rootCmd.AddCommand(newPlayCommand(ctx))
	rootCmd.AddCommand(newInspectCommand(ctx))
	rootCmd.AddCommand(newBuildCommand(ctx))
	return rootCmd
}
