package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/daseme/ctv-bookedbiz-db-sub004/config"
)

type rootOptions struct {
	envFiles []string
	actor    string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "canon",
		Short:         "Entity canonicalization and consistency engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringSliceVar(&opts.envFiles, "env-file", []string{".env"}, "dotenv files to load before the environment")
	cmd.PersistentFlags().StringVar(&opts.actor, "actor", "", "operator recorded on audit rows written by one-shot commands")

	cmd.AddCommand(
		newServeCmd(opts),
		newMigrateCmd(opts),
		newRecomputeCmd(opts),
		newBackfillCmd(opts),
		newAuditCmd(opts),
		newParseCmd(opts),
	)
	return cmd
}

func (o *rootOptions) load() (*config.Config, error) {
	return config.Load(o.envFiles...)
}

func execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
