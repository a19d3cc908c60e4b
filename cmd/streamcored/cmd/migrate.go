package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/duskcast/streamcore/internal/config"
	"github.com/duskcast/streamcore/internal/database"
	"github.com/duskcast/streamcore/internal/database/migrations"
)

// migrateCmd represents the migrate command and its status/up/down subcommands.
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage database schema migrations",
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show which migrations have been applied",
	RunE: func(cmd *cobra.Command, args []string) error {
		migrator, db, err := openMigrator()
		if err != nil {
			return err
		}
		defer db.Close()

		statuses, err := migrator.Status(cmd.Context())
		if err != nil {
			return fmt.Errorf("getting migration status: %w", err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
		defer w.Flush()
		fmt.Fprintln(w, "VERSION\tDESCRIPTION\tAPPLIED")
		for _, s := range statuses {
			applied := "no"
			if s.Applied {
				applied = s.AppliedAt.Format("2006-01-02T15:04:05Z07:00")
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", s.Version, s.Description, applied)
		}
		return nil
	},
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		migrator, db, err := openMigrator()
		if err != nil {
			return err
		}
		defer db.Close()

		return migrator.Up(cmd.Context())
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back the most recently applied migration",
	RunE: func(cmd *cobra.Command, args []string) error {
		migrator, db, err := openMigrator()
		if err != nil {
			return err
		}
		defer db.Close()

		return migrator.Down(cmd.Context())
	},
}

func init() {
	migrateCmd.AddCommand(migrateStatusCmd, migrateUpCmd, migrateDownCmd)
	rootCmd.AddCommand(migrateCmd)
}

// openMigrator opens the configured database and returns a Migrator with
// all migrations registered, for use by the migrate subcommands outside
// the normal serve startup path.
func openMigrator() (*migrations.Migrator, *database.DB, error) {
	cfg, err := config.Load("")
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}

	db, err := database.New(cfg.Database, slog.Default(), nil)
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}

	migrator := migrations.NewMigrator(db.DB, slog.Default())
	migrator.RegisterAll(migrations.AllMigrations())
	return migrator, db, nil
}
