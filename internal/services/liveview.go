package services

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hacknation/dozin/internal/models"
	"github.com/hacknation/dozin/internal/storage"
)

const (
	resubscribeMinDelay = 500 * time.Millisecond
	resubscribeMaxDelay = 30 * time.Second
)

// LiveView mirrors the store's listing set through a subscription.
// It keeps the last snapshot only. When the subscription ends on its own the
// view turns not ready, wakes its watchers and resubscribes with backoff.
type LiveView struct {
	store DocumentStore

	minDelay time.Duration
	maxDelay time.Duration

	mu      sync.Mutex
	sub     *storage.Subscription
	subCtx  context.Context // ctx the current subscription runs under
	quit    chan struct{}   // closed by Deactivate
	byID    map[string]models.Listing
	order   []string
	ready   bool
	readyCh chan struct{}
	changed chan struct{}
}

// NewLiveView creates an inactive view over store.
func NewLiveView(store DocumentStore) *LiveView {
	return &LiveView{
		store:    store,
		minDelay: resubscribeMinDelay,
		maxDelay: resubscribeMaxDelay,
		byID:     make(map[string]models.Listing),
		readyCh:  make(chan struct{}),
		changed:  make(chan struct{}),
	}
}

// Activate subscribes to the store. Calling it on an active view is a no-op.
// Resubscription after a lost subscription runs under ctx, so a view
// activated with a short-lived ctx goes inactive once ctx ends.
func (v *LiveView) Activate(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.liveLocked() {
		return nil
	}
	if v.sub != nil {
		v.dropLocked()
	}
	if v.quit != nil {
		close(v.quit)
	}
	quit := make(chan struct{})
	v.quit = quit

	sub, err := v.store.Subscribe(ctx, v.deliver(quit))
	if err != nil {
		close(quit)
		v.sub, v.quit = nil, nil
		return err
	}
	v.sub, v.subCtx = sub, ctx
	go v.watch(ctx, sub, quit)
	return nil
}

// Deactivate releases the subscription. No snapshot is applied after it returns.
func (v *LiveView) Deactivate() {
	v.mu.Lock()
	sub := v.sub
	v.sub = nil
	if v.quit != nil {
		close(v.quit)
		v.quit = nil
	}
	v.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
}

// Active reports whether the view holds a live subscription.
func (v *LiveView) Active() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.liveLocked()
}

// liveLocked reports whether the current subscription can still deliver.
func (v *LiveView) liveLocked() bool {
	if v.sub == nil || v.subCtx.Err() != nil {
		return false
	}
	select {
	case <-v.sub.Done():
		return false
	default:
		return true
	}
}

// watch waits for sub to end and resubscribes unless the view was
// deactivated or ctx is done.
func (v *LiveView) watch(ctx context.Context, sub *storage.Subscription, quit chan struct{}) {
	select {
	case <-quit:
		return
	case <-sub.Done():
	}

	v.mu.Lock()
	if v.sub != sub {
		v.mu.Unlock()
		return
	}
	v.dropLocked()
	v.mu.Unlock()

	if ctx.Err() != nil {
		log.Debug().Msg("Live view subscription closed")
		return
	}
	log.Error().Err(sub.Err()).Msg("Live view subscription lost, resubscribing")

	delay := v.minDelay
	for {
		select {
		case <-quit:
			return
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		next, err := v.store.Subscribe(ctx, v.deliver(quit))
		if err == nil {
			v.mu.Lock()
			if v.quit != quit {
				v.mu.Unlock()
				next.Unsubscribe()
				return
			}
			v.sub = next
			v.mu.Unlock()
			log.Info().Msg("Live view resubscribed")
			go v.watch(ctx, next, quit)
			return
		}

		log.Warn().Err(err).Dur("retry_in", delay).Msg("Live view resubscribe failed")
		delay *= 2
		if delay > v.maxDelay {
			delay = v.maxDelay
		}
	}
}

// dropLocked forgets an ended subscription. The last snapshot stays readable
// but the view reports not ready until the next snapshot arrives.
func (v *LiveView) dropLocked() {
	v.sub = nil
	if v.ready {
		v.ready = false
		v.readyCh = make(chan struct{})
	}
	close(v.changed)
	v.changed = make(chan struct{})
}

// deliver applies snapshots only while the activation owning quit is current.
func (v *LiveView) deliver(quit chan struct{}) storage.SnapshotFunc {
	return func(snapshot []models.Listing) {
		v.applyFor(quit, snapshot)
	}
}

// applyFor installs snapshot. A nil quit applies it unconditionally.
func (v *LiveView) applyFor(quit chan struct{}, snapshot []models.Listing) {
	byID := make(map[string]models.Listing, len(snapshot))
	order := make([]string, 0, len(snapshot))
	for _, l := range snapshot {
		if _, dup := byID[l.ID]; !dup {
			order = append(order, l.ID)
		}
		byID[l.ID] = l
	}

	v.mu.Lock()
	if quit != nil && v.quit != quit {
		v.mu.Unlock()
		return
	}
	v.byID = byID
	v.order = order
	if !v.ready {
		v.ready = true
		close(v.readyCh)
	}
	close(v.changed)
	v.changed = make(chan struct{})
	v.mu.Unlock()

	log.Debug().Int("listings", len(order)).Msg("Live view updated")
}

// Listings returns the last snapshot in store order.
func (v *LiveView) Listings() []models.Listing {
	v.mu.Lock()
	defer v.mu.Unlock()

	out := make([]models.Listing, 0, len(v.order))
	for _, id := range v.order {
		out = append(out, v.byID[id])
	}
	return out
}

// Get returns the listing with id from the last snapshot.
func (v *LiveView) Get(id string) (models.Listing, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	l, ok := v.byID[id]
	return l, ok
}

// Ready reports whether a snapshot has arrived since the current
// subscription started.
func (v *LiveView) Ready() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.ready
}

// WaitReady blocks until the view is ready or ctx is done.
func (v *LiveView) WaitReady(ctx context.Context) error {
	v.mu.Lock()
	readyCh := v.readyCh
	v.mu.Unlock()

	select {
	case <-readyCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Changed returns a channel that is closed when the next snapshot is applied
// or the subscription is lost.
func (v *LiveView) Changed() <-chan struct{} {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.changed
}
