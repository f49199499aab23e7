package pool

import (
	"context"
	"sync"
	"time"

	"github.com/nbd-wtf/go-nostr"
)

// fakeRelayHandle is a stand-in RelayHandle for tests that exercise the
// registry, fan-out and subscription coordinator without dialing a real
// relay.
type fakeRelayHandle struct {
	mu sync.Mutex

	url  string
	role RelayRole

	connectErr   error
	sendMsgErr   error
	sendEventErr error

	connected       bool
	sentMsgs        []nostr.Envelope
	sentEvents      []*nostr.Event
	subscribedIDs   []string
	unsubscribedIDs []string
	lastFilters     nostr.Filters
}

func newFakeRelayHandle(url string, role RelayRole) *fakeRelayHandle {
	return &fakeRelayHandle{url: url, role: role}
}

func (h *fakeRelayHandle) URL() string     { return h.url }
func (h *fakeRelayHandle) Role() RelayRole { return h.role }

func (h *fakeRelayHandle) Connect(ctx context.Context, waitForConnection bool) error {
	if h.connectErr != nil {
		return h.connectErr
	}
	h.mu.Lock()
	h.connected = true
	h.mu.Unlock()
	return nil
}

func (h *fakeRelayHandle) Terminate() error {
	h.mu.Lock()
	h.connected = false
	h.mu.Unlock()
	return nil
}

func (h *fakeRelayHandle) Stop() error { return h.Terminate() }

func (h *fakeRelayHandle) SendMsg(ctx context.Context, msg nostr.Envelope, wait time.Duration) error {
	if h.sendMsgErr != nil {
		return h.sendMsgErr
	}
	h.mu.Lock()
	h.sentMsgs = append(h.sentMsgs, msg)
	h.mu.Unlock()
	return nil
}

func (h *fakeRelayHandle) BatchMsg(ctx context.Context, msgs []nostr.Envelope, wait time.Duration) error {
	for _, m := range msgs {
		if err := h.SendMsg(ctx, m, wait); err != nil {
			return err
		}
	}
	return nil
}

func (h *fakeRelayHandle) SendEvent(ctx context.Context, event *nostr.Event, wait time.Duration) error {
	if h.sendEventErr != nil {
		return h.sendEventErr
	}
	h.mu.Lock()
	h.sentEvents = append(h.sentEvents, event)
	h.mu.Unlock()
	return nil
}

func (h *fakeRelayHandle) BatchEvent(ctx context.Context, events []*nostr.Event, wait time.Duration) error {
	for _, e := range events {
		if err := h.SendEvent(ctx, e, wait); err != nil {
			return err
		}
	}
	return nil
}

func (h *fakeRelayHandle) SubscribeWithInternalID(ctx context.Context, id string, filters nostr.Filters, wait time.Duration) error {
	h.mu.Lock()
	h.subscribedIDs = append(h.subscribedIDs, id)
	h.lastFilters = filters
	h.mu.Unlock()
	return nil
}

func (h *fakeRelayHandle) UnsubscribeWithInternalID(ctx context.Context, id string, wait time.Duration) error {
	h.mu.Lock()
	h.unsubscribedIDs = append(h.unsubscribedIDs, id)
	h.mu.Unlock()
	return nil
}

func (h *fakeRelayHandle) UpdateSubscriptionFilters(id string, filters nostr.Filters) {
	h.mu.Lock()
	h.lastFilters = filters
	h.mu.Unlock()
}

func (h *fakeRelayHandle) GetEventsOfWithCallback(ctx context.Context, filters nostr.Filters, deadline time.Duration, cb func(*nostr.Event)) error {
	h.mu.Lock()
	events := make([]*nostr.Event, len(h.sentEvents))
	copy(events, h.sentEvents)
	h.mu.Unlock()
	for _, e := range events {
		cb(e)
	}
	return nil
}

func (h *fakeRelayHandle) ReqEventsOf(ctx context.Context, filters nostr.Filters, deadline time.Duration) {}

func (h *fakeRelayHandle) Reconcile(ctx context.Context, filter nostr.Filter, items []NegentropyItem, deadline time.Duration) error {
	return nil
}
