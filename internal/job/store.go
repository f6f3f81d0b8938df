package job

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/multierr"
)

// BlobStore moves bundles and reports in and out of object storage.
//
//go:generate mockgen -source=store.go -destination=job_mock_test.go -package=job
type BlobStore interface {
	// Download writes the object to dest, creating or truncating it.
	Download(ctx context.Context, bucket, key, dest string) error
	Upload(ctx context.Context, bucket, key string, body []byte, contentType string) error
}

// S3Store is the S3-backed BlobStore.
type S3Store struct {
	client *s3.Client
}

// NewS3Store loads the default AWS credential chain for region. Options are
// applied to the S3 client, e.g. to point it at a compatible endpoint.
func NewS3Store(ctx context.Context, region string, opts ...func(*s3.Options)) (*S3Store, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return &S3Store{client: s3.NewFromConfig(cfg, opts...)}, nil
}

// NewS3StoreFromClient wraps an existing client.
func NewS3StoreFromClient(client *s3.Client) *S3Store {
	return &S3Store{client: client}
}

// Download implements BlobStore.
func (s *S3Store) Download(ctx context.Context, bucket, key, dest string) (err error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("get s3://%s/%s: %w", bucket, key, err)
	}
	defer multierr.AppendInvoke(&err, multierr.Close(out.Body))

	f, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer multierr.AppendInvoke(&err, multierr.Close(f))

	if _, err := io.Copy(f, out.Body); err != nil {
		return fmt.Errorf("read s3://%s/%s: %w", bucket, key, err)
	}
	return nil
}

// Upload implements BlobStore.
func (s *S3Store) Upload(ctx context.Context, bucket, key string, body []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(body))),
	})
	if err != nil {
		return fmt.Errorf("put s3://%s/%s: %w", bucket, key, err)
	}
	return nil
}
