package files

import (
	"context"
	"io"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/pkg/errors"

	"github.com/trezcool/shule/core"
)

// S3Store stores files in an S3 compatible bucket (AWS, MinIO).
type S3Store struct {
	client   s3iface.S3API
	uploader *s3manager.Uploader
	bucket   string
}

var _ core.FileStore = (*S3Store)(nil) // interface compliance check

func NewS3Store(conf core.S3Config) (*S3Store, error) {
	awsConf := &aws.Config{
		Region:           aws.String(conf.Region),
		DisableSSL:       aws.Bool(!conf.UseSSL),
		S3ForcePathStyle: aws.Bool(conf.Endpoint != ""),
	}
	if conf.Endpoint != "" {
		awsConf.Endpoint = aws.String(conf.Endpoint)
	}
	if conf.AccessKey != "" {
		awsConf.Credentials = credentials.NewStaticCredentials(conf.AccessKey, conf.SecretKey, "")
	}

	sess, err := session.NewSession(awsConf)
	if err != nil {
		return nil, errors.Wrap(err, "creating aws session")
	}
	client := s3.New(sess)
	return &S3Store{
		client:   client,
		uploader: s3manager.NewUploaderWithClient(client),
		bucket:   conf.Bucket,
	}, nil
}

// Upload streams r to the bucket; the reader does not need to be seekable.
func (s *S3Store) Upload(ctx context.Context, path string, r io.Reader) (string, error) {
	out, err := s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
		Body:   r,
	})
	if err != nil {
		return "", errors.Wrapf(err, "uploading s3://%s/%s", s.bucket, path)
	}
	return out.Location, nil
}

// Delete is idempotent: S3 reports success for missing keys.
func (s *S3Store) Delete(ctx context.Context, path string) error {
	_, err := s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
	})
	return errors.Wrapf(err, "deleting s3://%s/%s", s.bucket, path)
}
