// Package storage keeps post photos in an S3-compatible bucket.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog/log"
)

// MaxImageBytes caps a single upload.
const MaxImageBytes = 8 << 20

// ErrUnsupportedImage is returned for content types other than JPEG, PNG,
// WebP and GIF.
var ErrUnsupportedImage = errors.New("unsupported image type")

var imageExtensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
	"image/gif":  ".gif",
}

// ImageStore uploads post images to MinIO and builds their public URLs.
type ImageStore struct {
	client         *minio.Client
	bucket         string
	publicEndpoint string
}

// ImageStoreConfig holds MinIO connection settings.
type ImageStoreConfig struct {
	Endpoint       string
	PublicEndpoint string
	AccessKey      string
	SecretKey      string
	Bucket         string
	UseSSL         bool
}

// NewImageStore connects to MinIO and makes sure the bucket exists and is
// publicly readable.
func NewImageStore(ctx context.Context, cfg ImageStoreConfig) (*ImageStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	public := strings.TrimSuffix(strings.TrimSpace(cfg.PublicEndpoint), "/")
	if public == "" {
		scheme := "http"
		if cfg.UseSSL {
			scheme = "https"
		}
		public = scheme + "://" + cfg.Endpoint
	}

	s := &ImageStore{client: client, bucket: cfg.Bucket, publicEndpoint: public}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		log.Warn().Err(err).Str("bucket", cfg.Bucket).Msg("could not check bucket, continuing")
		return s, nil
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket %s: %w", cfg.Bucket, err)
		}
		if err := client.SetBucketPolicy(ctx, cfg.Bucket, publicReadPolicy(cfg.Bucket)); err != nil {
			log.Error().Err(err).Str("bucket", cfg.Bucket).Msg("failed to set bucket policy")
		}
		log.Info().Str("bucket", cfg.Bucket).Msg("bucket created")
	}

	return s, nil
}

// Upload stores an image under a fresh key and returns its public URL.
func (s *ImageStore) Upload(ctx context.Context, r io.Reader, size int64, contentType string) (string, error) {
	ext, ok := imageExtensions[contentType]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedImage, contentType)
	}

	key := ObjectKey(time.Now(), uuid.NewString(), ext)
	_, err := s.client.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("failed to upload image: %w", err)
	}

	url := s.URL(key)
	log.Info().Str("key", key).Str("url", url).Msg("image uploaded")
	return url, nil
}

// URL is the public address of an object key.
func (s *ImageStore) URL(key string) string {
	return fmt.Sprintf("%s/%s/%s", s.publicEndpoint, s.bucket, key)
}

// HealthCheck verifies the bucket is reachable.
func (s *ImageStore) HealthCheck(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("minio health check failed: %w", err)
	}
	if !exists {
		return fmt.Errorf("bucket %q does not exist", s.bucket)
	}
	return nil
}

// ObjectKey lays objects out by upload day.
func ObjectKey(at time.Time, id, ext string) string {
	return filepath.ToSlash(filepath.Join("posts", at.UTC().Format("2006-01-02"), id+ext))
}

func publicReadPolicy(bucket string) string {
	return fmt.Sprintf(`{"Version":"2012-10-17","Statement":[{"Action":["s3:GetObject"],"Effect":"Allow","Principal":{"AWS":["*"]},"Resource":["arn:aws:s3:::%s/*"]}]}`, bucket)
}
