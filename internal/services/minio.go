package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/AnshRaj112/appshelf-backend/internal/logger"
)

// MinioConfig points at any S3-compatible endpoint.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	// PublicURL prefixes object keys in returned URLs. Defaults to the
	// endpoint with the bucket as first path segment.
	PublicURL string
}

type MinioUploader struct {
	mc        *minio.Client
	bucket    string
	publicURL string
	log       logger.Logger
}

func NewMinioUploader(cfg MinioConfig, log logger.Logger) (*MinioUploader, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("minio endpoint is required")
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("minio access key and secret key are required")
	}

	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	bucket := cfg.Bucket
	if bucket == "" {
		bucket = "appshelf-icons"
	}
	public := strings.TrimRight(cfg.PublicURL, "/")
	if public == "" {
		scheme := "http"
		if cfg.UseSSL {
			scheme = "https"
		}
		public = scheme + "://" + cfg.Endpoint + "/" + bucket
	}

	return &MinioUploader{mc: mc, bucket: bucket, publicURL: public, log: log}, nil
}

// EnsureBucket creates the bucket on first start.
func (m *MinioUploader) EnsureBucket(ctx context.Context) error {
	exists, err := m.mc.BucketExists(ctx, m.bucket)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := m.mc.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("create bucket: %w", err)
		}
		m.log.Info("created icon bucket", logger.String("bucket", m.bucket))
	}
	return nil
}

func (m *MinioUploader) Upload(ctx context.Context, u Upload) (string, error) {
	contentType := u.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err := m.mc.PutObject(ctx, m.bucket, u.Key, u.Body, u.Size, minio.PutObjectOptions{
		ContentType:  contentType,
		CacheControl: "public, max-age=31536000, immutable",
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", u.Key, err)
	}
	return m.publicURL + "/" + u.Key, nil
}
