package storage

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/hacknation/dozin/internal/models"
)

// MemoryStore is an in-process document store for development and tests
type MemoryStore struct {
	mu       sync.Mutex
	listings []models.Listing
	subs     map[*Subscription]chan struct{}
	now      func() time.Time
}

// NewMemoryStore creates an empty in-memory document store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		subs: make(map[*Subscription]chan struct{}),
		now:  time.Now,
	}
}

// Create stores a listing and returns its generated id
func (s *MemoryStore) Create(ctx context.Context, l models.Listing) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	l.ID = uuid.New().String()
	l.Images = append([]string{}, l.Images...)

	s.mu.Lock()
	l.CreatedAt = s.now()
	s.listings = append(s.listings, l)
	for _, wake := range s.subs {
		select {
		case wake <- struct{}{}:
		default:
		}
	}
	s.mu.Unlock()

	log.Debug().Str("listing_id", l.ID).Msg("Listing stored in memory")
	return l.ID, nil
}

// List returns all listings, newest first
func (s *MemoryStore) List(ctx context.Context) ([]models.Listing, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.Listing, 0, len(s.listings))
	for i := len(s.listings) - 1; i >= 0; i-- {
		out = append(out, s.listings[i])
	}
	return out, nil
}

// Subscribe delivers the current snapshot immediately and again after every Create.
// Bursts of creates are coalesced into one snapshot.
func (s *MemoryStore) Subscribe(ctx context.Context, fn SnapshotFunc) (*Subscription, error) {
	sub, subCtx := newSubscription(ctx)
	wake := make(chan struct{}, 1)
	wake <- struct{}{}

	s.mu.Lock()
	s.subs[sub] = wake
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			delete(s.subs, sub)
			s.mu.Unlock()
		}()
		for {
			select {
			case <-subCtx.Done():
				sub.finish(subCtx.Err())
				return
			case <-wake:
				snapshot, err := s.List(subCtx)
				if err != nil {
					sub.finish(err)
					return
				}
				sub.deliver(subCtx, fn, snapshot)
			}
		}
	}()

	return sub, nil
}

// HealthCheck always succeeds.
func (s *MemoryStore) HealthCheck(ctx context.Context) error {
	return nil
}

type memoryBlob struct {
	data        []byte
	contentType string
}

// MemoryBlobStore keeps uploaded images in process and serves them over HTTP
type MemoryBlobStore struct {
	mu      sync.RWMutex
	blobs   map[string]memoryBlob
	baseURL string
}

// NewMemoryBlobStore creates a blob store whose URLs are rooted at baseURL
func NewMemoryBlobStore(baseURL string) *MemoryBlobStore {
	return &MemoryBlobStore{
		blobs:   make(map[string]memoryBlob),
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}
}

// Put stores data under key
func (b *MemoryBlobStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	b.blobs[key] = memoryBlob{data: append([]byte(nil), data...), contentType: contentType}
	b.mu.Unlock()
	return nil
}

// URL returns the fetchable URL of a stored key
func (b *MemoryBlobStore) URL(ctx context.Context, key string) (string, error) {
	b.mu.RLock()
	_, ok := b.blobs[key]
	b.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%s: %w", key, ErrBlobNotFound)
	}
	return fmt.Sprintf("%s/%s", b.baseURL, key), nil
}

// ServeHTTP serves a stored blob. The request path must be the bare key.
func (b *MemoryBlobStore) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(r.URL.Path, "/")

	b.mu.RLock()
	blob, ok := b.blobs[key]
	b.mu.RUnlock()
	if !ok {
		http.NotFound(w, r)
		return
	}

	if blob.contentType != "" {
		w.Header().Set("Content-Type", blob.contentType)
	}
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	_, _ = w.Write(blob.data)
}

// HealthCheck always succeeds.
func (b *MemoryBlobStore) HealthCheck(ctx context.Context) error {
	return nil
}
