package commands

import (
	"context"
	"fmt"

	"github.com/jakub-figat/chromatin/internal/config"
	"github.com/jakub-figat/chromatin/internal/store"
	"github.com/jakub-figat/chromatin/pkg/models"
	"github.com/spf13/cobra"
)

// UserStore is the part of the store the CLI writes to.
type UserStore interface {
	EnsureUser(ctx context.Context, email string) (*models.User, error)
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
}

// StoreOpener connects to the database and returns the store with a func
// that releases it.
type StoreOpener func(ctx context.Context) (UserStore, func(), error)

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "chromatinctl",
		Short:         "Administer a Chromatin deployment",
		SilenceUsage:  true,
	}

	rootCmd.AddCommand(
		NewMigrateCommand(databaseURL),
		NewUserCommand(openPostgres),
	)

	return rootCmd
}

func databaseURL() (string, error) {
	cfg, err := config.Load()
	if err != nil {
		return "", fmt.Errorf("load config: %w", err)
	}
	return cfg.Database.URL, nil
}

func openPostgres(ctx context.Context) (UserStore, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	return store.NewPostgresStore(pool), pool.Close, nil
}
