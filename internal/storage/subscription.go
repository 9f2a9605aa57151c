package storage

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/hacknation/dozin/internal/models"
)

// SnapshotFunc receives the full current listing set, newest first.
type SnapshotFunc func([]models.Listing)

// Subscription is the handle returned by a store's Subscribe.
// Once Unsubscribe returns no new callback invocation starts.
type Subscription struct {
	once       sync.Once
	cancel     context.CancelFunc
	done       chan struct{}
	err        error
	delivering atomic.Bool
}

// newSubscription derives a cancellable context for one delivery goroutine.
func newSubscription(parent context.Context) (*Subscription, context.Context) {
	ctx, cancel := context.WithCancel(parent)
	return &Subscription{cancel: cancel, done: make(chan struct{})}, ctx
}

// finish marks the delivery goroutine as exited. err is the reason
// delivery stopped, nil when it was cancelled.
func (s *Subscription) finish(err error) {
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	s.err = err
	close(s.done)
}

// deliver hands one snapshot to fn unless ctx is already done.
func (s *Subscription) deliver(ctx context.Context, fn SnapshotFunc, snapshot []models.Listing) {
	if ctx.Err() != nil {
		return
	}
	s.delivering.Store(true)
	defer s.delivering.Store(false)
	fn(snapshot)
}

// Unsubscribe releases the subscription and waits for the delivery goroutine
// to exit. While a callback is running, including when Unsubscribe is called
// from that callback, it returns after cancelling without waiting.
// It is safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.once.Do(s.cancel)
	if s.delivering.Load() {
		return
	}
	<-s.done
}

// Done is closed once delivery has stopped.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Err reports why delivery stopped, nil while delivery is still running or
// when it was cancelled.
func (s *Subscription) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}
