package storage

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog/log"
)

// MinIOStorage is the image blob store backed by MinIO
type MinIOStorage struct {
	client         *minio.Client
	bucketName     string
	publicEndpoint string
	presignTTL     time.Duration
}

// NewMinIOStorage creates a MinIO client and makes sure the bucket exists.
// A freshly created bucket gets a public-read policy so that plain object
// URLs are fetchable. With presignTTL > 0 URLs are presigned instead.
func NewMinIOStorage(endpoint, publicEndpoint, accessKey, secretKey, bucketName string, useSSL bool, presignTTL time.Duration) (*MinIOStorage, error) {
	minioClient, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	if publicEndpoint == "" {
		publicEndpoint = endpoint
	}

	storage := &MinIOStorage{
		client:         minioClient,
		bucketName:     bucketName,
		publicEndpoint: cleanEndpoint(publicEndpoint),
		presignTTL:     presignTTL,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	exists, err := minioClient.BucketExists(ctx, bucketName)
	if err != nil {
		log.Warn().Err(err).Msgf("Failed to check bucket existence for %s (will continue)", bucketName)
	} else if !exists {
		if err := minioClient.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket %s: %w", bucketName, err)
		}
		log.Info().Msgf("Bucket %s created successfully", bucketName)

		if presignTTL == 0 {
			if err := minioClient.SetBucketPolicy(ctx, bucketName, publicReadPolicy(bucketName)); err != nil {
				log.Error().Err(err).Msg("Failed to set bucket policy")
			}
		}
	}

	log.Info().
		Str("endpoint", endpoint).
		Str("public_endpoint", storage.publicEndpoint).
		Str("bucket", bucketName).
		Dur("presign_ttl", presignTTL).
		Msg("MinIO storage initialized")

	return storage, nil
}

func publicReadPolicy(bucketName string) string {
	return fmt.Sprintf(`{"Version": "2012-10-17","Statement": [{"Action": ["s3:GetObject"],"Effect": "Allow","Principal": {"AWS": ["*"]},"Resource": ["arn:aws:s3:::%s/images/*"],"Sid": ""}]}`, bucketName)
}

// cleanEndpoint strips whitespace, stray quotes and a trailing slash
func cleanEndpoint(endpoint string) string {
	endpoint = strings.TrimSpace(endpoint)
	endpoint = strings.Trim(endpoint, `"'=`)
	return strings.TrimSuffix(endpoint, "/")
}

// Put uploads data under key
func (s *MinIOStorage) Put(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := s.client.PutObject(
		ctx,
		s.bucketName,
		key,
		bytes.NewReader(data),
		int64(len(data)),
		minio.PutObjectOptions{
			ContentType: contentType,
		},
	)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "EntityTooLarge" {
			return fmt.Errorf("%s: %w", key, ErrBlobTooLarge)
		}
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}

	log.Debug().
		Str("key", key).
		Int("size", len(data)).
		Msg("Image uploaded")

	return nil
}

// URL resolves a stored key to a fetchable URL. The object must exist.
func (s *MinIOStorage) URL(ctx context.Context, key string) (string, error) {
	if _, err := s.client.StatObject(ctx, s.bucketName, key, minio.StatObjectOptions{}); err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return "", fmt.Errorf("%s: %w", key, ErrBlobNotFound)
		}
		return "", fmt.Errorf("failed to stat %s: %w", key, err)
	}

	if s.presignTTL > 0 {
		u, err := s.client.PresignedGetObject(ctx, s.bucketName, key, s.presignTTL, url.Values{})
		if err != nil {
			return "", fmt.Errorf("failed to presign %s: %w", key, err)
		}
		return u.String(), nil
	}

	return s.PublicURL(key), nil
}

// PublicURL builds the public object URL. Endpoints without a scheme are served over https.
func (s *MinIOStorage) PublicURL(objectKey string) string {
	endpoint := s.publicEndpoint
	if !strings.Contains(endpoint, "://") {
		endpoint = "https://" + endpoint
	}

	escaped := make([]string, 0)
	for _, part := range strings.Split(objectKey, "/") {
		escaped = append(escaped, url.PathEscape(part))
	}
	return fmt.Sprintf("%s/%s/%s", endpoint, s.bucketName, strings.Join(escaped, "/"))
}

// HealthCheck verifies the MinIO connection
func (s *MinIOStorage) HealthCheck(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucketName)
	if err != nil {
		return fmt.Errorf("MinIO health check failed: %w", err)
	}
	if !exists {
		return fmt.Errorf("bucket '%s' does not exist", s.bucketName)
	}
	return nil
}
