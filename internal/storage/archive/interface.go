// internal/storage/archive/interface.go
package archive

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
)

// ErrNotExist is returned by Read when nothing is stored at the path.
var ErrNotExist = fs.ErrNotExist

// Storage defines the durable byte store behind history and settings files.
type Storage interface {
	// Write stores data at the given path, replacing any previous content.
	// A failed Write never leaves a partially written object behind.
	Write(ctx context.Context, path string, data []byte) error

	// Read retrieves data from the given path
	Read(ctx context.Context, path string) ([]byte, error)

	// List returns all paths matching the prefix
	List(ctx context.Context, prefix string) ([]string, error)

	// Delete removes the data at the given path
	Delete(ctx context.Context, path string) error

	// Exists checks if data exists at the given path
	Exists(ctx context.Context, path string) (bool, error)
}

// Config selects and configures a storage backend.
type Config struct {
	Type string // "localfs" or "s3"
	Path string // For localfs
	S3   S3Config
}

// New builds the backend named by cfg.Type.
func New(cfg Config) (Storage, error) {
	switch cfg.Type {
	case "", "localfs":
		if cfg.Path == "" {
			return nil, errors.New("localfs storage requires a path")
		}
		return NewLocalFS(cfg.Path)
	case "s3":
		if cfg.S3.Bucket == "" {
			return nil, errors.New("s3 storage requires a bucket")
		}
		return NewS3(cfg.S3)
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}
