package pool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fiatjaf/eventstore"
	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip77"
)

// localItemStore adapts a flat (event ID, timestamp) item set to the
// eventstore.Store interface nip77.NegentropySync negotiates against.
// Negentropy fingerprints only ever need an event's ID and created_at,
// so the synthetic events this yields carry nothing else.
type localItemStore struct {
	items []NegentropyItem
}

func (s *localItemStore) Init() error { return nil }
func (s *localItemStore) Close()      {}

func (s *localItemStore) QueryEvents(ctx context.Context, _ nostr.Filter) (chan *nostr.Event, error) {
	ch := make(chan *nostr.Event, len(s.items))
	go func() {
		defer close(ch)
		for _, item := range s.items {
			select {
			case ch <- &nostr.Event{ID: item.ID, CreatedAt: item.Timestamp}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func (s *localItemStore) SaveEvent(context.Context, *nostr.Event) error { return nil }
func (s *localItemStore) DeleteEvent(context.Context, *nostr.Event) error {
	return fmt.Errorf("delete not supported by local reconciliation item set")
}
func (s *localItemStore) ReplaceEvent(ctx context.Context, e *nostr.Event) error {
	return s.SaveEvent(ctx, e)
}

// reconcileWithRelay delegates NIP-77 set reconciliation entirely to
// the relay driver's negentropy implementation, offering items as the
// local side of the set difference.
func reconcileWithRelay(ctx context.Context, relay *nostr.Relay, filter nostr.Filter, items []NegentropyItem) error {
	store := &eventstore.RelayWrapper{Store: &localItemStore{items: items}}
	return nip77.NegentropySync(ctx, store, relay.URL, filter, nip77.Down)
}

// Reconcile fans a negentropy set-reconciliation request out to every
// registered relay. Pool-level semantics mirror outbound fan-out:
// per-relay errors are logged, not propagated, and the call returns
// once every per-relay reconciliation has joined.
func (p *Pool) Reconcile(ctx context.Context, filter nostr.Filter, items []NegentropyItem, deadline time.Duration) error {
	handles := p.registry.snapshot()
	if len(handles) == 0 {
		return ErrNoRelays
	}
	var wg sync.WaitGroup
	for _, h := range handles {
		h := h
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := h.Reconcile(ctx, filter, items, deadline); err != nil {
				slog.Warn("reconcile failed on relay", "relay", h.URL(), "error", err)
			}
		}()
	}
	wg.Wait()
	return nil
}
