package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Strob0t/SectorDesk/internal/config"
	"github.com/Strob0t/SectorDesk/internal/logger"
)

// app carries state shared by every subcommand once the root pre-run has loaded it.
type app struct {
	configPath string
	cfg        *config.Config
	logCloser  logger.Closer
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "sectordesk",
		Short:         "SectorDesk - multi-agent sector investment desk",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadFrom(a.configPath)
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			a.cfg = cfg

			log, closer := logger.New(cfg.Logging)
			slog.SetDefault(log)
			a.logCloser = closer
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.logCloser != nil {
				a.logCloser.Close()
			}
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", config.DefaultConfigFile, "YAML configuration file")

	root.AddCommand(newServeCmd(a))
	root.AddCommand(newMigrateCmd(a))
	root.AddCommand(newSeedCmd(a))
	root.AddCommand(newTickCmd(a))
	return root
}
