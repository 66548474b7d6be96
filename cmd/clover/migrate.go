package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Ramsey-B/clover/db"
	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/errors"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	Long:  "Migrates the database to DB_MIGRATION_VERSION, or to the latest version when it is 0.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.close(ctx)

		instance, ok := a.db.(*database.DatabaseInstance)
		if !ok {
			return errors.Newf(errors.KindInternal, "unsupported database handle %T", a.db)
		}

		migrations := database.NewMigrationService(a.logger, &database.MigrationConfig{
			MigrationFolderPath: a.cfg.DatabaseMigrationFolderPath,
			Version:             uint(a.cfg.DatabaseMigrationVersion),
			Force:               a.cfg.DatabaseMigrationForce,
			AutoRollback:        a.cfg.DatabaseMigrationAutoRollback,
		}).WithEmbedded(db.Migrations, db.MigrationsDir)
		return migrations.MigratePostgres(instance.DB.DB, a.cfg.DatabaseName)
	},
}
