package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	"github.com/akriventsev/taskflow/framework/collector"
	"github.com/akriventsev/taskflow/framework/migrations"
)

// MigrateCmd управляет схемой архива таблиц состояний в PostgreSQL
func MigrateCmd() *cobra.Command {
	var (
		dsn     string
		timeout time.Duration
	)

	withDB := func(fn func(ctx context.Context, db *sql.DB) error) error {
		if dsn == "" {
			dsn = os.Getenv("TASKFLOW_DATABASE_URL")
		}
		if dsn == "" {
			return fmt.Errorf("--database-url or TASKFLOW_DATABASE_URL is required")
		}
		db, err := sql.Open("pgx", dsn)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer db.Close()

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return fn(ctx, db)
	}

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the state table archive schema",
	}
	cmd.PersistentFlags().StringVar(&dsn, "database-url", "", "PostgreSQL connection string")
	cmd.PersistentFlags().DurationVar(&timeout, "timeout", time.Minute, "operation timeout")

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(func(ctx context.Context, db *sql.DB) error {
				applied, err := migrations.Up(ctx, db, collector.Migrations())
				if err != nil {
					return err
				}
				fmt.Printf("Applied %d migration(s)\n", applied)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "down [steps]",
		Short: "Roll back migrations (default 1)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			steps := 1
			if len(args) == 1 {
				n, err := strconv.Atoi(args[0])
				if err != nil || n <= 0 {
					return fmt.Errorf("invalid steps %q", args[0])
				}
				steps = n
			}
			return withDB(func(ctx context.Context, db *sql.DB) error {
				if err := migrations.Down(ctx, db, collector.Migrations(), steps); err != nil {
					return err
				}
				fmt.Printf("Rolled back %d migration(s)\n", steps)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(func(ctx context.Context, db *sql.DB) error {
				statuses, err := migrations.Status(ctx, db, collector.Migrations())
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintf(w, "VERSION\tNAME\tSTATUS\tAPPLIED AT\n")
				for _, s := range statuses {
					applied := "-"
					if s.AppliedAt != nil {
						applied = s.AppliedAt.Format(time.RFC3339)
					}
					fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", s.Version, s.Name, s.Status, applied)
				}
				return w.Flush()
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show current schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(func(ctx context.Context, db *sql.DB) error {
				v, err := migrations.CurrentVersion(ctx, db, collector.Migrations())
				if err != nil {
					return err
				}
				fmt.Printf("Current version: %d\n", v)
				return nil
			})
		},
	})

	return cmd
}
