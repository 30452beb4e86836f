// Package main is the Chromatin admin CLI: database migrations and API key
// issuance.
package main

import (
	"log/slog"
	"os"

	"github.com/jakub-figat/chromatin/cmd/chromatinctl/commands"
	"github.com/joho/godotenv"
)

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))
	_ = godotenv.Load()

	if err := commands.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
