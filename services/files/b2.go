package files

import (
	"context"
	"fmt"
	"io"

	"github.com/kurin/blazer/b2"
	"github.com/pkg/errors"

	"github.com/trezcool/shule/core"
)

// B2Store stores files in a Backblaze B2 bucket.
type B2Store struct {
	client *b2.Client
	bucket *b2.Bucket
}

var _ core.FileStore = (*B2Store)(nil) // interface compliance check

func NewB2Store(ctx context.Context, conf core.B2Config) (*B2Store, error) {
	client, err := b2.NewClient(ctx, conf.AccountID, conf.AppKey)
	if err != nil {
		return nil, errors.Wrap(err, "creating b2 client")
	}
	bucket, err := client.Bucket(ctx, conf.Bucket)
	if err != nil {
		return nil, errors.Wrapf(err, "getting b2 bucket %s", conf.Bucket)
	}
	return &B2Store{client: client, bucket: bucket}, nil
}

func (s *B2Store) Upload(ctx context.Context, path string, r io.Reader) (string, error) {
	w := s.bucket.Object(path).NewWriter(ctx)
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return "", errors.Wrapf(err, "writing b2 object %s", path)
	}
	if err := w.Close(); err != nil {
		return "", errors.Wrapf(err, "closing b2 object %s", path)
	}
	return fmt.Sprintf("%s/file/%s/%s", s.bucket.BaseURL(), s.bucket.Name(), path), nil
}

func (s *B2Store) Delete(ctx context.Context, path string) error {
	err := s.bucket.Object(path).Delete(ctx)
	if err != nil && !b2.IsNotExist(err) {
		return errors.Wrapf(err, "deleting b2 object %s", path)
	}
	return nil
}
