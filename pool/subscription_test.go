package pool

import (
	"context"
	"testing"

	"github.com/nbd-wtf/go-nostr"
)

func TestPool_Subscribe_PushesFiltersToEveryRelay(t *testing.T) {
	t.Parallel()
	a := newFakeRelayHandle("wss://a.example.com", RoleReadWrite)
	b := newFakeRelayHandle("wss://b.example.com", RoleReadWrite)
	p := testPoolWithRelays(t, a, b)

	filters := nostr.Filters{{Kinds: []int{nostr.KindTextNote}}}
	if err := p.Subscribe(context.Background(), filters, 0); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	for _, h := range []*fakeRelayHandle{a, b} {
		if len(h.subscribedIDs) != 1 || h.subscribedIDs[0] != InternalSubscriptionID {
			t.Errorf("relay %s subscribedIDs = %v, want [%s]", h.URL(), h.subscribedIDs, InternalSubscriptionID)
		}
	}
	if got := p.SubscriptionFilters(); len(got) != 1 {
		t.Errorf("SubscriptionFilters() len = %d, want 1", len(got))
	}
}

func TestPool_Subscribe_StoredFiltersReachLateRelay(t *testing.T) {
	t.Parallel()
	p := testPoolWithRelays(t)
	filters := nostr.Filters{{Kinds: []int{nostr.KindTextNote}}}
	if err := p.Subscribe(context.Background(), filters, 0); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	added := newFakeRelayHandle("wss://late.example.com", RoleReadWrite)
	p.pushCurrentFilters(context.Background(), added, 0)
	if len(added.lastFilters) != 1 {
		t.Fatalf("a relay added after Subscribe() did not receive the current filter set: %v", added.lastFilters)
	}
}

func TestPool_Unsubscribe_RemovesFromEveryRelay(t *testing.T) {
	t.Parallel()
	a := newFakeRelayHandle("wss://a.example.com", RoleReadWrite)
	p := testPoolWithRelays(t, a)

	if err := p.Unsubscribe(context.Background(), 0); err != nil {
		t.Fatalf("Unsubscribe() error = %v", err)
	}
	if len(a.unsubscribedIDs) != 1 || a.unsubscribedIDs[0] != InternalSubscriptionID {
		t.Fatalf("unsubscribedIDs = %v, want [%s]", a.unsubscribedIDs, InternalSubscriptionID)
	}
}

func TestPool_PushCurrentFilters_NoopWhenEmpty(t *testing.T) {
	t.Parallel()
	p := testPoolWithRelays(t)
	h := newFakeRelayHandle("wss://a.example.com", RoleReadWrite)
	p.pushCurrentFilters(context.Background(), h, 0)
	if h.lastFilters != nil {
		t.Fatalf("lastFilters = %v, want nil when no subscription is set", h.lastFilters)
	}
}
