package pool

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nbd-wtf/go-nostr"
)

// GetEventsOf fans a subscription with filters out to every registered
// relay and gathers whatever each one returns before its deadline
// elapses or it signals end-of-stored-events. The result may contain
// cross-relay duplicates; callers needing global uniqueness must
// deduplicate by event ID themselves. Each call is tagged with a fresh
// query ID, carried only in logs, so a single caller's fan-out can be
// told apart from a concurrent one in an operator's log stream.
func (p *Pool) GetEventsOf(ctx context.Context, filters nostr.Filters, deadline time.Duration) []*nostr.Event {
	handles := p.registry.snapshot()
	if len(handles) == 0 {
		return nil
	}
	queryID := uuid.NewString()
	var mu sync.Mutex
	var events []*nostr.Event
	var wg sync.WaitGroup
	for _, h := range handles {
		h := h
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := h.GetEventsOfWithCallback(ctx, filters, deadline, func(e *nostr.Event) {
				mu.Lock()
				events = append(events, e)
				mu.Unlock()
			})
			if err != nil {
				slog.Warn("get_events_of failed on relay", "query_id", queryID, "relay", h.URL(), "error", err)
			}
		}()
	}
	wg.Wait()
	return events
}

// ReqEventsOf issues the same historical request to every relay without
// waiting for the result: matching events flow through the normal
// aggregator and Notification Bus instead.
func (p *Pool) ReqEventsOf(ctx context.Context, filters nostr.Filters, deadline time.Duration) {
	queryID := uuid.NewString()
	slog.Debug("req_events_of dispatched", "query_id", queryID, "relays", p.registry.size())
	for _, h := range p.registry.snapshot() {
		h.ReqEventsOf(ctx, filters, deadline)
	}
}
