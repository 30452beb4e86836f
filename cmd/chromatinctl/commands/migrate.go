package commands

import (
	"fmt"

	"github.com/jakub-figat/chromatin/internal/store"
	"github.com/spf13/cobra"
)

// NewMigrateCommand creates the migrate command. dbURL resolves the database
// URL lazily so --help works without configuration.
func NewMigrateCommand(dbURL func() (string, error)) *cobra.Command {
	var migrationsPath string

	cmd := &cobra.Command{
		Use:     "migrate",
		Args:    cobra.NoArgs,
		Aliases: []string{"m"},
		Short:   "Database migration commands",
	}
	cmd.PersistentFlags().StringVarP(&migrationsPath, "path", "p", "migrations", "migrations directory path")

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			url, err := dbURL()
			if err != nil {
				return err
			}
			if err := store.RunMigrations(url, migrationsPath); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Migrations from %s applied\n", migrationsPath)
			return nil
		},
	}

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back applied migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if steps < 1 {
				return fmt.Errorf("--steps must be at least 1")
			}
			url, err := dbURL()
			if err != nil {
				return err
			}
			if err := store.RollbackMigrations(url, migrationsPath, steps); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Rolled back %d migration(s)\n", steps)
			return nil
		},
	}
	down.Flags().IntVarP(&steps, "steps", "n", 1, "number of migrations to roll back")

	cmd.AddCommand(up, down)
	return cmd
}
