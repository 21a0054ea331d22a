package cmd

import (
	"errors"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/mysql"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/opencourse/ms-go-course-payments/config"
)

var migrationsPath string

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database schema migrations",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	Run: func(_ *cobra.Command, _ []string) {
		m := mustCreateMigrator()
		defer closeMigrator(m)

		if err := m.Up(); err != nil {
			if errors.Is(err, migrate.ErrNoChange) {
				logrus.Info("Database schema is up to date")
				return
			}
			logrus.WithError(err).Fatal("Migration failed")
		}
		logrus.Info("Migrations applied")
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back the most recent migration",
	Run: func(_ *cobra.Command, _ []string) {
		m := mustCreateMigrator()
		defer closeMigrator(m)

		if err := m.Steps(-1); err != nil {
			logrus.WithError(err).Fatal("Rollback failed")
		}
		logrus.Info("Last migration rolled back")
	},
}

var migrateGotoCmd = &cobra.Command{
	Use:   "goto [version]",
	Short: "Migrate to a specific schema version",
	Args:  cobra.ExactArgs(1),
	Run: func(_ *cobra.Command, args []string) {
		version, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			logrus.WithError(err).Fatal("Invalid version number")
		}

		m := mustCreateMigrator()
		defer closeMigrator(m)

		if err := m.Migrate(uint(version)); err != nil {
			if errors.Is(err, migrate.ErrNoChange) {
				logrus.WithField("version", version).Info("Database schema already at version")
				return
			}
			logrus.WithError(err).Fatal("Migration failed")
		}
		logrus.WithField("version", version).Info("Migrated to version")
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateDownCmd)
	migrateCmd.AddCommand(migrateGotoCmd)

	migrateCmd.PersistentFlags().StringVar(&migrationsPath, "path", "database/migrations", "Path to the migration files")
}

func mustCreateMigrator() *migrate.Migrate {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}
	if err := configureLogging(cfg); err != nil {
		logrus.WithError(err).Fatal("Failed to configure logging")
	}

	m, err := migrate.New("file://"+migrationsPath, "mysql://"+cfg.MySQL.DSN)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to initialize migrator")
	}

	return m
}

func closeMigrator(m *migrate.Migrate) {
	if sourceErr, dbErr := m.Close(); sourceErr != nil || dbErr != nil {
		logrus.WithFields(logrus.Fields{"source_err": sourceErr, "db_err": dbErr}).Warn("Failed to close migrator")
	}
}
