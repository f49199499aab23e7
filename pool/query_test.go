package pool

import (
	"context"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"
)

func TestPool_GetEventsOf_AggregatesAcrossRelays(t *testing.T) {
	t.Parallel()
	a := newFakeRelayHandle("wss://a.example.com", RoleRead)
	a.sentEvents = []*nostr.Event{{ID: "1"}, {ID: "2"}}
	b := newFakeRelayHandle("wss://b.example.com", RoleRead)
	b.sentEvents = []*nostr.Event{{ID: "3"}}
	p := testPoolWithRelays(t, a, b)

	got := p.GetEventsOf(context.Background(), nostr.Filters{{}}, time.Second)
	if len(got) != 3 {
		t.Fatalf("GetEventsOf() returned %d events, want 3", len(got))
	}
}

func TestPool_GetEventsOf_NoRelays(t *testing.T) {
	t.Parallel()
	p := testPoolWithRelays(t)
	got := p.GetEventsOf(context.Background(), nostr.Filters{{}}, time.Second)
	if got != nil {
		t.Fatalf("GetEventsOf() = %v, want nil", got)
	}
}
