package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
)

func newBackfillCmd(opts *rootOptions) *cobra.Command {
	var (
		lookback time.Duration
		asOf     string
	)

	cmd := &cobra.Command{
		Use:   "backfill-assignments",
		Short: "Open assignment periods from ledger owner history",
		RunE: func(cmd *cobra.Command, _ []string) error {
			now, err := parseAsOf(asOf, time.Now())
			if err != nil {
				return err
			}

			return runCommand(cmd.Context(), opts, func(ctx context.Context, a *app) error {
				window := lookback
				if !cmd.Flags().Changed("lookback") {
					window = a.cfg.BackfillLookback
				}
				report, err := a.svc.tracker.Backfill(ctx, now.Add(-window), now)
				if err != nil {
					return err
				}
				return writeJSON(report)
			})
		},
	}
	cmd.Flags().DurationVar(&lookback, "lookback", 365*24*time.Hour, "how far back to read owner activity")
	cmd.Flags().StringVar(&asOf, "as-of", "", "end of the lookback window (default now)")
	return cmd
}
