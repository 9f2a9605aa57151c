package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/hacknation/dozin/internal/models"
)

// listingsChannel is the NOTIFY channel fired by the listings trigger
const listingsChannel = "listings_changed"

// PostgresStorage is the Postgres-backed document store
type PostgresStorage struct {
	db      *sql.DB
	connStr string

	// listener settings, overridable in tests
	minReconnect time.Duration
	maxReconnect time.Duration
	pingInterval time.Duration
}

func NewPostgresStorage(host, port, user, password, dbName, sslMode string) (*PostgresStorage, error) {
	connStr := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		host, port, user, password, dbName, sslMode)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open db connection: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	storage := &PostgresStorage{
		db:           db,
		connStr:      connStr,
		minReconnect: 10 * time.Second,
		maxReconnect: time.Minute,
		pingInterval: 90 * time.Second,
	}
	if err := storage.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize db schema: %w", err)
	}

	return storage, nil
}

// Init creates the listings table and the change notification trigger
func (s *PostgresStorage) Init() error {
	query := `
	CREATE TABLE IF NOT EXISTS listings (
		id VARCHAR(36) PRIMARY KEY,
		category VARCHAR(32) NOT NULL,
		city TEXT NOT NULL,
		description TEXT NOT NULL,
		phone TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		found_date DATE NOT NULL,
		images TEXT[] NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_listings_created_at ON listings(created_at DESC);

	CREATE OR REPLACE FUNCTION notify_listings_changed() RETURNS trigger AS $$
	BEGIN
		PERFORM pg_notify('` + listingsChannel + `', NEW.id);
		RETURN NEW;
	END;
	$$ LANGUAGE plpgsql;

	DROP TRIGGER IF EXISTS listings_changed ON listings;
	CREATE TRIGGER listings_changed AFTER INSERT ON listings
		FOR EACH ROW EXECUTE FUNCTION notify_listings_changed();`

	_, err := s.db.Exec(query)
	return err
}

// Create inserts a listing and returns its generated id
func (s *PostgresStorage) Create(ctx context.Context, l models.Listing) (string, error) {
	query := `
	INSERT INTO listings (
		id, category, city, description, phone, name, found_date, images, created_at
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8, $9
	)`

	id := uuid.New().String()
	images := l.Images
	if images == nil {
		images = []string{}
	}

	_, err := s.db.ExecContext(ctx, query,
		id, l.Category, l.City, l.Description, l.Phone, l.Name, l.Date,
		pq.Array(images), time.Now().UTC(),
	)
	if err != nil {
		log.Error().Err(err).Msg("Failed to save listing to postgres")
		return "", fmt.Errorf("failed to insert listing: %w", err)
	}

	return id, nil
}

// List returns all listings, newest first
func (s *PostgresStorage) List(ctx context.Context) ([]models.Listing, error) {
	query := `
	SELECT id, category, city, description, phone, name,
		   to_char(found_date, 'YYYY-MM-DD'), images, created_at
	FROM listings
	ORDER BY created_at DESC, id DESC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	listings := make([]models.Listing, 0)
	for rows.Next() {
		var l models.Listing
		err := rows.Scan(
			&l.ID, &l.Category, &l.City, &l.Description, &l.Phone, &l.Name,
			&l.Date, pq.Array(&l.Images), &l.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		if l.Images == nil {
			l.Images = []string{}
		}
		listings = append(listings, l)
	}

	return listings, rows.Err()
}

// Subscribe delivers the current snapshot, then a fresh snapshot for every
// NOTIFY on the listings channel. After a listener reconnect a snapshot is
// delivered as well, since notifications may have been missed.
func (s *PostgresStorage) Subscribe(ctx context.Context, fn SnapshotFunc) (*Subscription, error) {
	listener := pq.NewListener(s.connStr, s.minReconnect, s.maxReconnect,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				log.Warn().Err(err).Int("event", int(ev)).Msg("Postgres listener event")
			}
		})
	if err := listener.Listen(listingsChannel); err != nil {
		listener.Close()
		return nil, fmt.Errorf("failed to listen on %s: %w", listingsChannel, err)
	}

	sub, subCtx := newSubscription(ctx)

	go func() {
		defer listener.Close()

		refresh := func() error {
			snapshot, err := s.List(subCtx)
			if err != nil {
				return err
			}
			sub.deliver(subCtx, fn, snapshot)
			return nil
		}

		if err := refresh(); err != nil {
			sub.finish(err)
			return
		}

		ticker := time.NewTicker(s.pingInterval)
		defer ticker.Stop()

		for {
			select {
			case <-subCtx.Done():
				sub.finish(subCtx.Err())
				return
			case <-listener.Notify:
				// a nil notification signals a reconnect
				drain(listener.Notify)
				if err := refresh(); err != nil {
					if subCtx.Err() != nil {
						sub.finish(subCtx.Err())
						return
					}
					log.Error().Err(err).Msg("Failed to refresh listings snapshot")
				}
			case <-ticker.C:
				if err := listener.Ping(); err != nil {
					log.Warn().Err(err).Msg("Postgres listener ping failed")
				}
			}
		}
	}()

	return sub, nil
}

// drain discards notifications already queued so a burst yields one snapshot.
func drain(ch <-chan *pq.Notification) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}

// HealthCheck pings the database
func (s *PostgresStorage) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the connection pool
func (s *PostgresStorage) Close() error {
	return s.db.Close()
}
