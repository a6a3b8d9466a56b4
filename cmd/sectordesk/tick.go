package main

import (
	"encoding/json"

	"github.com/spf13/cobra"
)

// newTickCmd runs one scheduler pass (market, trigger and rounds, manager
// vote) and exits. It lets an external cron drive the desk instead of the
// in-process timers.
func newTickCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "tick",
		Short: "Run a single scheduler pass and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := openRuntime(cmd.Context(), a.cfg, false)
			if err != nil {
				return err
			}
			defer rt.close()

			report := rt.scheduler.RunOnce(cmd.Context())
			return json.NewEncoder(cmd.OutOrStdout()).Encode(report)
		},
	}
}
