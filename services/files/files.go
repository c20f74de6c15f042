// Package files holds the core.FileStore backends: memory (dev and tests), s3 and b2.
package files

import (
	"context"

	"github.com/pkg/errors"

	"github.com/trezcool/shule/core"
)

// New returns the core.FileStore selected by conf.Files.Backend.
func New(ctx context.Context, conf *core.Config) (core.FileStore, error) {
	switch conf.Files.Backend {
	case "", "memory":
		return NewMemoryStore("/files"), nil
	case "s3":
		return NewS3Store(conf.Files.S3)
	case "b2":
		return NewB2Store(ctx, conf.Files.B2)
	default:
		return nil, errors.Errorf("unknown file store backend %q", conf.Files.Backend)
	}
}
