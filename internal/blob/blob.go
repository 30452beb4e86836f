// Package blob stores opaque payloads (large sequences, predicted
// structures) outside the database.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/jakub-figat/chromatin/internal/config"
)

var ErrNotFound = errors.New("blob not found")

// Storage saves and retrieves payloads by an opaque path. Save prefixes the
// name with a random UUID so repeated saves never collide.
type Storage interface {
	Save(ctx context.Context, data []byte, name string) (string, error)
	Read(ctx context.Context, path string) ([]byte, error)
	Open(ctx context.Context, path string) (io.ReadCloser, error)
	Delete(ctx context.Context, path string) error
	Exists(ctx context.Context, path string) (bool, error)
}

// New builds the backend selected by cfg.Backend.
func New(ctx context.Context, cfg config.StorageConfig) (Storage, error) {
	switch cfg.Backend {
	case config.StorageLocal:
		return NewLocalStorage(cfg.LocalPath)
	case config.StorageS3:
		return NewS3Storage(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unsupported storage backend: %q", cfg.Backend)
	}
}

func uniqueName(name string) string {
	base := filepath.Base(strings.TrimSpace(name))
	if base == "." || base == string(filepath.Separator) || base == "" {
		base = "blob"
	}
	return uuid.NewString() + "_" + base
}
