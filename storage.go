package lbltools

import (
	"context"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ObjectFetcher downloads objects from a bucket store into local files.
type ObjectFetcher interface {
	FetchObject(ctx context.Context, bucket, key, destPath string) error
}

// S3Config configures direct access to an S3 compatible object store.
type S3Config struct {
	Endpoint  string `env:"ENDPOINT"`   // host[:port], without scheme. Empty disables direct access.
	AccessKey string `env:"ACCESS_KEY"`
	SecretKey string `env:"SECRET_KEY"`
	Region    string `env:"REGION"`
	UseSSL    bool   `env:"USE_SSL" envDefault:"true"`
}

// S3Fetcher is an ObjectFetcher for S3 compatible stores.
type S3Fetcher struct {
	client *minio.Client
}

// NewS3Fetcher creates an S3Fetcher with static credentials.
func NewS3Fetcher(cfg S3Config) (*S3Fetcher, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}
	return &S3Fetcher{client: client}, nil
}

// FetchObject implements ObjectFetcher.
func (s *S3Fetcher) FetchObject(ctx context.Context, bucket, key, destPath string) error {
	if err := s.client.FGetObject(ctx, bucket, key, destPath, minio.GetObjectOptions{}); err != nil {
		return fmt.Errorf("get s3://%s/%s: %w", bucket, key, err)
	}
	return nil
}
