package storage

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/hacknation/dozin/internal/config"
	"github.com/hacknation/dozin/internal/models"
)

// ListingStore is the document store contract shared by every backend
type ListingStore interface {
	Create(ctx context.Context, l models.Listing) (string, error)
	List(ctx context.Context) ([]models.Listing, error)
	Subscribe(ctx context.Context, fn SnapshotFunc) (*Subscription, error)
	HealthCheck(ctx context.Context) error
}

// BlobStore is the image store contract shared by every backend
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	URL(ctx context.Context, key string) (string, error)
	HealthCheck(ctx context.Context) error
}

// CloseFunc releases a backend
type CloseFunc func(ctx context.Context) error

func noopClose(context.Context) error { return nil }

// OpenListingStore connects the document store named by cfg.StoreDriver
func OpenListingStore(ctx context.Context, cfg *config.Config) (ListingStore, CloseFunc, error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		log.Info().Str("host", cfg.DBHost).Str("db", cfg.DBName).Msg("Initializing Postgres storage...")
		pg, err := NewPostgresStorage(cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBSSLMode)
		if err != nil {
			return nil, nil, err
		}
		return pg, func(context.Context) error { return pg.Close() }, nil

	case config.DriverMongo:
		log.Info().Str("db", cfg.MongoDatabase).Msg("Initializing MongoDB storage...")
		m, err := NewMongoStorage(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, nil, err
		}
		return m, m.Close, nil

	case config.DriverMemory:
		log.Warn().Msg("Using in-memory listing store, listings are lost on restart")
		return NewMemoryStore(), noopClose, nil
	}
	return nil, nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
}

// OpenBlobStore connects the image store named by cfg.BlobDriver.
// The memory driver serves its blobs under baseURL, so the caller must mount
// the returned store when it implements http.Handler.
func OpenBlobStore(cfg *config.Config, baseURL string) (BlobStore, error) {
	switch cfg.BlobDriver {
	case config.DriverMinIO:
		log.Info().Str("endpoint", cfg.MinIOEndpoint).Str("bucket", cfg.MinIOBucket).Msg("Initializing MinIO storage...")
		return NewMinIOStorage(
			cfg.MinIOEndpoint,
			cfg.MinIOPublicEndpoint,
			cfg.MinIOAccessKey,
			cfg.MinIOSecretKey,
			cfg.MinIOBucket,
			cfg.MinIOUseSSL,
			cfg.MinIOPresignTTL,
		)

	case config.DriverMemory:
		log.Warn().Msg("Using in-memory blob store, images are lost on restart")
		return NewMemoryBlobStore(baseURL), nil
	}
	return nil, fmt.Errorf("unknown blob driver %q", cfg.BlobDriver)
}
