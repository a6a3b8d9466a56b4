package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Strob0t/SectorDesk/internal/service"
)

func newSeedCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Create the default sectors and agents (existing sectors are skipped)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := openRuntime(cmd.Context(), a.cfg, false)
			if err != nil {
				return err
			}
			defer rt.close()

			report, err := service.Seed(cmd.Context(), rt.sectors, rt.agents)
			if err != nil {
				return fmt.Errorf("seed: %w", err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}
}
