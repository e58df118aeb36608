package main

import (
	"github.com/spf13/cobra"

	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/database"
)

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	var (
		version uint
		force   int
		status  bool
	)

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("version") {
				cfg.DatabaseMigrationVersion = version
			}
			if cmd.Flags().Changed("force") {
				cfg.DatabaseMigrationForce = force
			}

			logger, flush, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer flush()

			a := newApp(cfg, logger, false)
			if err := a.connectPostgres(cmd.Context()); err != nil {
				return err
			}
			defer func() { _ = a.sqlDB.Close() }()

			if !status {
				return a.migrate()
			}
			v, err := database.NewMigrationService(logger, cfg.Migration()).Status(a.sqlDB.DB, cfg.DatabaseName)
			if err != nil {
				return err
			}
			return writeJSON(map[string]any{
				"version": v.Version,
				"dirty":   v.Dirty,
				"latest":  v.Latest,
				"pending": v.Pending(),
			})
		},
	}
	cmd.Flags().UintVar(&version, "version", 0, "target migration version, 0 for latest")
	cmd.Flags().IntVar(&force, "force", 0, "force the schema version before migrating")
	cmd.Flags().BoolVar(&status, "status", false, "report the schema version and exit without migrating")
	return cmd
}
