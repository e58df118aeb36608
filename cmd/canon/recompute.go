package main

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/models"
)

func newRecomputeCmd(opts *rootOptions) *cobra.Command {
	var (
		batchID string
		asOf    string
		retry   bool
	)

	cmd := &cobra.Command{
		Use:   "recompute",
		Short: "Recompute entity metrics and signals as of an import",
		RunE: func(cmd *cobra.Command, _ []string) error {
			at, err := parseAsOf(asOf, time.Now())
			if err != nil {
				return err
			}
			if batchID == "" {
				batchID = "manual-" + uuid.NewString()
			}

			return runCommand(cmd.Context(), opts, func(ctx context.Context, a *app) error {
				if retry {
					res, err := a.svc.job.RetryFailed(ctx)
					if err != nil {
						return err
					}
					if res == nil {
						return writeJSON(map[string]string{"status": "nothing to retry"})
					}
					return writeJSON(res)
				}

				res, err := a.svc.job.Run(ctx, models.ImportCompleted{ImportBatchID: batchID, CompletedAt: at})
				if err != nil {
					return err
				}
				return writeJSON(res)
			})
		},
	}
	cmd.Flags().StringVar(&batchID, "batch", "", "import batch id to record on the run")
	cmd.Flags().StringVar(&asOf, "as-of", "", "as-of date, YYYY-MM-DD or RFC3339 (default now)")
	cmd.Flags().BoolVar(&retry, "retry", false, "rerun the latest run if it failed")
	return cmd
}

func parseAsOf(s string, now time.Time) (time.Time, error) {
	if s == "" {
		return now.UTC(), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --as-of %q: want YYYY-MM-DD or RFC3339", s)
	}
	return t.UTC(), nil
}
