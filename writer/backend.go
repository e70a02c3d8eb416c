package writer

import (
	"context"
	"errors"
	"fmt"

	appconfig "atmflow/config"
)

// ErrNotExist is returned by a Backend when the named object is absent.
var ErrNotExist = errors.New("object does not exist")

// Backend stores whole objects by name. Implementations must be safe for
// concurrent use; the dashboard reads while the tick goroutine writes.
type Backend interface {
	Read(ctx context.Context, name string) ([]byte, error)
	Write(ctx context.Context, name string, data []byte) error
	Kind() string
}

// NewBackend builds the backend selected by storage.backend.
func NewBackend(ctx context.Context, cfg appconfig.StorageConfig) (Backend, error) {
	switch cfg.Backend {
	case appconfig.BackendFile, "":
		return NewFileBackend(cfg.File.Dir)
	case appconfig.BackendS3:
		return NewS3Backend(ctx, cfg.S3)
	case appconfig.BackendRedis:
		return NewRedisBackend(ctx, cfg.Redis)
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", cfg.Backend)
	}
}
