package handlers

import (
	"bulletin/internal/config"
	"bulletin/internal/logger"
	"bulletin/internal/persistence"
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// NewMigrateCmd creates the migrate command for database migrations
func NewMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage database migrations",
		Long: `Manage database schema migrations.

Subcommands:
  up       Apply all pending migrations
  status   Show migration status

Migrations are embedded per driver (postgres, sqlite3) and tracked in the
schema_migrations table.

Examples:
  bulletin migrate up
  bulletin migrate status`,
	}

	cmd.AddCommand(newMigrateUpCmd())
	cmd.AddCommand(newMigrateStatusCmd())

	return cmd
}

func newMigrateUpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrateUp(contextOrBackground(cmd.Context()), cmd.OutOrStdout())
		},
	}
}

func newMigrateStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrateStatus(contextOrBackground(cmd.Context()), cmd.OutOrStdout())
		},
	}
}

func runMigrateUp(ctx context.Context, w io.Writer) error {
	migrator, closeDB, err := getMigrator()
	if err != nil {
		return err
	}
	defer closeDB()

	logger.Info("Starting database migration")
	if err := migrator.Migrate(ctx); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	fmt.Fprintln(w, "✅ All migrations applied successfully")
	return nil
}

func runMigrateStatus(ctx context.Context, w io.Writer) error {
	migrator, closeDB, err := getMigrator()
	if err != nil {
		return err
	}
	defer closeDB()

	status, err := migrator.Status(ctx)
	if err != nil {
		return fmt.Errorf("failed to get migration status: %w", err)
	}
	printMigrationStatus(w, status)
	return nil
}

func printMigrationStatus(w io.Writer, status []persistence.MigrationStatus) {
	if len(status) == 0 {
		fmt.Fprintln(w, "No migrations found")
		return
	}

	fmt.Fprintln(w, "📊 Migration Status")
	fmt.Fprintln(w, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Fprintf(w, "%-10s %-10s %s\n", "Version", "Status", "Description")
	fmt.Fprintln(w, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")

	appliedCount := 0
	pendingCount := 0

	for _, m := range status {
		statusStr := "pending"
		statusIcon := "⏳"
		if m.Applied {
			statusStr = "applied"
			statusIcon = "✅"
			appliedCount++
		} else {
			pendingCount++
		}

		fmt.Fprintf(w, "%-10d %s %-8s %s\n", m.Version, statusIcon, statusStr, m.Description)
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Applied: %d | Pending: %d | Total: %d\n", appliedCount, pendingCount, len(status))

	if pendingCount > 0 {
		fmt.Fprintln(w, "\nRun 'bulletin migrate up' to apply pending migrations")
	}
}

// getMigrator opens the configured SQL database without auto-migrating.
func getMigrator() (*persistence.MigrationManager, func(), error) {
	cfg := config.Get()
	if cfg.Database.Driver == "memory" {
		return nil, nil, fmt.Errorf("the memory driver has no schema to migrate")
	}

	db, err := persistence.NewSQLDB(cfg.Database.Driver, cfg.Database.ConnectionString, cfg.Database.MaxOpenConns)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return persistence.NewMigrationManager(db), func() { db.Close() }, nil
}
