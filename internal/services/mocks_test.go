package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/hacknation/dozin/internal/models"
	"github.com/hacknation/dozin/internal/storage"
)

// MockDocumentStore is a testify mock of DocumentStore
type MockDocumentStore struct {
	mock.Mock
}

func (m *MockDocumentStore) Create(ctx context.Context, l models.Listing) (string, error) {
	args := m.Called(ctx, l)
	return args.String(0), args.Error(1)
}

func (m *MockDocumentStore) Subscribe(ctx context.Context, fn storage.SnapshotFunc) (*storage.Subscription, error) {
	args := m.Called(ctx, fn)
	sub, _ := args.Get(0).(*storage.Subscription)
	return sub, args.Error(1)
}

// MockEventPublisher is a testify mock of EventPublisher
type MockEventPublisher struct {
	mock.Mock
}

func (m *MockEventPublisher) PublishListingCreated(ctx context.Context, event models.ListingCreatedEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

// fakeBlobStore records puts and can fail on chosen keys.
// Each Put sleeps for a delay derived from its key so completion order is shuffled.
type fakeBlobStore struct {
	mu       sync.Mutex
	objects  map[string][]byte
	failPut  func(key string) error
	failURL  func(key string) error
	inFlight int32
	maxPar   int32
	delay    func(key string) time.Duration
}

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{objects: make(map[string][]byte)}
}

func (b *fakeBlobStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	n := atomic.AddInt32(&b.inFlight, 1)
	defer atomic.AddInt32(&b.inFlight, -1)
	for {
		cur := atomic.LoadInt32(&b.maxPar)
		if n <= cur || atomic.CompareAndSwapInt32(&b.maxPar, cur, n) {
			break
		}
	}

	if b.delay != nil {
		select {
		case <-time.After(b.delay(key)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if b.failPut != nil {
		if err := b.failPut(key); err != nil {
			return err
		}
	}

	b.mu.Lock()
	b.objects[key] = data
	b.mu.Unlock()
	return nil
}

func (b *fakeBlobStore) URL(ctx context.Context, key string) (string, error) {
	if b.failURL != nil {
		if err := b.failURL(key); err != nil {
			return "", err
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.objects[key]; !ok {
		return "", fmt.Errorf("%s: %w", key, storage.ErrBlobNotFound)
	}
	return "https://blobs.test/" + key, nil
}

func (b *fakeBlobStore) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.objects)
}

var errBoom = errors.New("boom")

func fixedClock() time.Time {
	return time.Unix(1700000000, 0)
}
