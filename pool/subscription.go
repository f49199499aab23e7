package pool

import (
	"context"
	"sync"
	"time"

	"github.com/nbd-wtf/go-nostr"
)

// subscriptionCoordinator holds the pool's single default filter set
// and applies it to every relay under the reserved internal
// subscription identity, so the pool's own subscription is never
// confused with one an application opened on the same connection.
type subscriptionCoordinator struct {
	mu      sync.RWMutex
	filters nostr.Filters
}

func newSubscriptionCoordinator() *subscriptionCoordinator {
	return &subscriptionCoordinator{}
}

func (s *subscriptionCoordinator) get() nostr.Filters {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(nostr.Filters, len(s.filters))
	copy(out, s.filters)
	return out
}

func (s *subscriptionCoordinator) set(filters nostr.Filters) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filters = filters
}

// SubscriptionFilters returns the pool's current default filter set.
func (p *Pool) SubscriptionFilters() nostr.Filters {
	return p.subscription.get()
}

// Subscribe replaces the pool's default filter set and pushes it to
// every registered relay under the reserved internal subscription
// identity. The stored filter set is updated before any relay is
// contacted, so a relay added concurrently always observes at least
// this filter set.
func (p *Pool) Subscribe(ctx context.Context, filters nostr.Filters, wait time.Duration) error {
	p.subscription.set(filters)
	handles := p.registry.snapshot()
	for _, h := range handles {
		if err := h.SubscribeWithInternalID(ctx, InternalSubscriptionID, filters, wait); err != nil {
			p.logRelayError("subscribe", h.URL(), err)
		}
	}
	return nil
}

// Unsubscribe removes the pool's default subscription from every
// registered relay.
func (p *Pool) Unsubscribe(ctx context.Context, wait time.Duration) error {
	handles := p.registry.snapshot()
	for _, h := range handles {
		if err := h.UnsubscribeWithInternalID(ctx, InternalSubscriptionID, wait); err != nil {
			p.logRelayError("unsubscribe", h.URL(), err)
		}
	}
	return nil
}

// pushCurrentFilters applies the pool's current default filter set to a
// single relay handle under the reserved internal identity. Called
// before connect so a freshly connected relay resumes with the
// pool-wide subscription rather than an empty one.
func (p *Pool) pushCurrentFilters(ctx context.Context, h RelayHandle, wait time.Duration) {
	filters := p.subscription.get()
	if len(filters) == 0 {
		return
	}
	h.UpdateSubscriptionFilters(InternalSubscriptionID, filters)
}
