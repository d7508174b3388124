// Package objectstore fetches raw uploaded files. The pipeline only ever reads from it.
package objectstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"ragpipe/internal/config"
	"ragpipe/internal/util"
)

type Store interface {
	Fetch(ctx context.Context, path string) ([]byte, error)
}

// New builds the store selected by RAGPIPE_OBJECT_STORE.
func New(ctx context.Context, cfg config.Config) (Store, error) {
	switch strings.ToLower(cfg.ObjectStore) {
	case "", "local":
		return NewLocalStore(cfg.ObjectStoreRoot), nil
	case "s3":
		return NewS3Store(ctx, S3Config{
			Bucket:         cfg.S3Bucket,
			Region:         cfg.S3Region,
			Endpoint:       cfg.S3Endpoint,
			ForcePathStyle: cfg.S3PathStyle,
		})
	default:
		return nil, fmt.Errorf("unsupported object store: %s", cfg.ObjectStore)
	}
}

// LocalStore serves files from a directory tree. Paths may not escape the root.
type LocalStore struct {
	root string
}

func NewLocalStore(root string) *LocalStore {
	return &LocalStore{root: root}
}

func (s *LocalStore) Fetch(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	clean := filepath.Clean("/" + path)
	full := filepath.Join(s.root, clean)
	b, err := os.ReadFile(full)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("fetch %s: %w", path, util.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", path, err)
	}
	return b, nil
}
