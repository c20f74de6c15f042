package core

import (
	"context"
	"io"
)

// FileStore stores uploaded files (assignment briefs, submitted work).
type FileStore interface {
	// Upload stores r at path and returns the URL clients download it from.
	Upload(ctx context.Context, path string, r io.Reader) (string, error)
	// Delete removes the file at path; deleting a missing file is not an error.
	Delete(ctx context.Context, path string) error
}
