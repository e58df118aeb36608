package main

import (
	"context"

	"github.com/spf13/cobra"
)

func newAuditCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Read-only consistency checks",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "conflicts",
		Short: "List ledger identifiers whose alias disagrees with their entity",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCommand(cmd.Context(), opts, func(ctx context.Context, a *app) error {
				conflicts, err := a.svc.auditor.Conflicts(ctx)
				if err != nil {
					return err
				}
				return writeJSON(map[string]any{"items": conflicts, "count": len(conflicts)})
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "identifiers [raw...]",
		Short: "Audit the given raw identifiers",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCommand(cmd.Context(), opts, func(ctx context.Context, a *app) error {
				findings, err := a.svc.auditor.AuditBatch(ctx, args)
				if err != nil {
					return err
				}
				return writeJSON(findings)
			})
		},
	})
	return cmd
}
