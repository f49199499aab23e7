package pool

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nbd-wtf/go-nostr"
)

// envelopeEventIDs returns the IDs of every EVENT envelope among msgs, so
// callers publishing raw envelopes through SendMsg/BatchMsg instead of
// SendEvent/BatchEvent still get their own echo pre-marked as seen.
func envelopeEventIDs(msgs ...nostr.Envelope) []string {
	var ids []string
	for _, msg := range msgs {
		if ee, ok := msg.(*nostr.EventEnvelope); ok {
			ids = append(ids, ee.Event.ID)
		}
	}
	return ids
}

// SendMsg delivers msg to every relay whose role is in roles, waiting up
// to wait for each per-relay send. It returns ErrNoRelays when no
// registered relay has a role in roles, and ErrMsgNotSent unless at
// least one relay accepted it.
func (p *Pool) SendMsg(ctx context.Context, msg nostr.Envelope, roles []RelayRole, wait time.Duration) error {
	handles := p.registry.snapshotByRole(roles)
	if len(handles) == 0 {
		return ErrNoRelays
	}
	if ids := envelopeEventIDs(msg); len(ids) > 0 {
		_ = p.aggregator.trySend(batchEvent{IDs: ids})
	}
	var sentToAtLeastOne atomic.Bool
	var wg sync.WaitGroup
	for _, h := range handles {
		h := h
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := h.SendMsg(ctx, msg, wait); err != nil {
				slog.Warn("send_msg failed on relay", "relay", h.URL(), "error", err)
				return
			}
			sentToAtLeastOne.Store(true)
		}()
	}
	wg.Wait()
	if !sentToAtLeastOne.Load() {
		return ErrMsgNotSent
	}
	return nil
}

// BatchMsg delivers msgs to every relay whose role is in roles.
func (p *Pool) BatchMsg(ctx context.Context, msgs []nostr.Envelope, roles []RelayRole, wait time.Duration) error {
	handles := p.registry.snapshotByRole(roles)
	if len(handles) == 0 {
		return ErrNoRelays
	}
	if ids := envelopeEventIDs(msgs...); len(ids) > 0 {
		_ = p.aggregator.trySend(batchEvent{IDs: ids})
	}
	var sentToAtLeastOne atomic.Bool
	var wg sync.WaitGroup
	for _, h := range handles {
		h := h
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := h.BatchMsg(ctx, msgs, wait); err != nil {
				slog.Warn("batch_msg failed on relay", "relay", h.URL(), "count", len(msgs), "error", err)
				return
			}
			sentToAtLeastOne.Store(true)
		}()
	}
	wg.Wait()
	if !sentToAtLeastOne.Load() {
		return ErrMsgsNotSent
	}
	return nil
}

// SendMsgTo delivers msg to exactly the relay registered at url,
// returning the handle's error wrapped in an ErrKindRelay Error.
func (p *Pool) SendMsgTo(ctx context.Context, url string, msg nostr.Envelope, wait time.Duration) error {
	h, ok := p.registry.get(nostr.NormalizeURL(url))
	if !ok {
		return ErrRelayNotFound
	}
	if ids := envelopeEventIDs(msg); len(ids) > 0 {
		_ = p.aggregator.trySend(batchEvent{IDs: ids})
	}
	if err := h.SendMsg(ctx, msg, wait); err != nil {
		return errFromRelay(err)
	}
	return nil
}

// SendEvent publishes event to every relay whose role is in roles. The
// event's ID is pre-marked as seen in the aggregator before any relay
// is contacted, so a relay that immediately echoes the event back
// produces a Message notification but not a spurious Event one.
func (p *Pool) SendEvent(ctx context.Context, event *nostr.Event, roles []RelayRole, wait time.Duration) error {
	handles := p.registry.snapshotByRole(roles)
	if len(handles) == 0 {
		return ErrNoRelays
	}
	_ = p.aggregator.trySend(batchEvent{IDs: []string{event.ID}})

	var sentToAtLeastOne atomic.Bool
	var wg sync.WaitGroup
	for _, h := range handles {
		h := h
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := h.SendEvent(ctx, event, wait); err != nil {
				slog.Warn("send_event failed on relay", "relay", h.URL(), "event_id", event.ID, "error", err)
				return
			}
			sentToAtLeastOne.Store(true)
		}()
	}
	wg.Wait()
	if !sentToAtLeastOne.Load() {
		return EventNotPublishedError(event.ID)
	}
	return nil
}

// BatchEvent publishes events to every relay whose role is in roles.
func (p *Pool) BatchEvent(ctx context.Context, events []*nostr.Event, roles []RelayRole, wait time.Duration) error {
	handles := p.registry.snapshotByRole(roles)
	if len(handles) == 0 {
		return ErrNoRelays
	}
	ids := make([]string, len(events))
	for i, e := range events {
		ids[i] = e.ID
	}
	_ = p.aggregator.trySend(batchEvent{IDs: ids})

	var sentToAtLeastOne atomic.Bool
	var wg sync.WaitGroup
	for _, h := range handles {
		h := h
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := h.BatchEvent(ctx, events, wait); err != nil {
				slog.Warn("batch_event failed on relay", "relay", h.URL(), "count", len(events), "error", err)
				return
			}
			sentToAtLeastOne.Store(true)
		}()
	}
	wg.Wait()
	if !sentToAtLeastOne.Load() {
		return ErrEventsNotPublished
	}
	return nil
}

// SendEventTo publishes event to exactly the relay registered at url,
// returning the handle's error wrapped in an ErrKindRelay Error.
func (p *Pool) SendEventTo(ctx context.Context, url string, event *nostr.Event, wait time.Duration) error {
	h, ok := p.registry.get(nostr.NormalizeURL(url))
	if !ok {
		return ErrRelayNotFound
	}
	_ = p.aggregator.trySend(batchEvent{IDs: []string{event.ID}})
	if err := h.SendEvent(ctx, event, wait); err != nil {
		return errFromRelay(err)
	}
	return nil
}
