package storage

import (
	"context"
	"fmt"

	"github.com/nanome-ai/plugin-vault/internal/config"
	"github.com/nanome-ai/plugin-vault/internal/storage/local"
	s3backend "github.com/nanome-ai/plugin-vault/internal/storage/s3"
)

// NewArchiveFromConfig creates the archive backend selected by
// ARCHIVE_BACKEND. It returns nil when archiving is disabled.
func NewArchiveFromConfig(ctx context.Context, cfg *config.Config) (Backend, error) {
	switch cfg.ArchiveBackend {
	case "":
		return nil, nil
	case "local":
		b, err := local.New(local.Config{RootPath: cfg.ArchiveLocalPath, CreateDirs: true})
		if err != nil {
			return nil, err
		}
		return b, nil
	case "s3":
		b, err := s3backend.NewBackend(ctx, s3backend.BackendConfig{
			Endpoint:  cfg.S3Endpoint,
			Bucket:    cfg.S3Bucket,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Region:    cfg.S3Region,
		})
		if err != nil {
			return nil, err
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unknown backend type: %s", cfg.ArchiveBackend)
	}
}
