package pool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNew_StartsRunning(t *testing.T) {
	t.Parallel()
	p := New(context.Background(), WithShutdownOnDrop(false))
	assert.NotNil(t, p.registry)
	assert.NotNil(t, p.aggregator)
	assert.NotNil(t, p.subscription)
	assert.True(t, p.IsRunning(), "IsRunning() should be true immediately after New()")
}

func TestPool_AddRelay_IdempotentOnURL(t *testing.T) {
	t.Parallel()
	p := New(context.Background(), WithShutdownOnDrop(false))

	first, inserted, err := p.AddRelay("relay.damus.io", RoleReadWrite, RelayOptions{})
	if err != nil {
		t.Fatalf("AddRelay() error = %v", err)
	}
	if !inserted {
		t.Fatal("AddRelay() reported no insertion for a brand-new URL")
	}

	second, insertedAgain, err := p.AddRelay("wss://relay.damus.io", RoleRead, RelayOptions{})
	if err != nil {
		t.Fatalf("AddRelay() error = %v", err)
	}
	if insertedAgain {
		t.Fatal("AddRelay() reported insertion for an already-registered URL")
	}
	if first.URL() != second.URL() {
		t.Fatalf("second AddRelay() returned a different handle: %q vs %q", first.URL(), second.URL())
	}
}

func TestPool_AddRelay_RejectsBadURL(t *testing.T) {
	t.Parallel()
	p := New(context.Background(), WithShutdownOnDrop(false))
	_, _, err := p.AddRelay("http://relay.damus.io", RoleRead, RelayOptions{})
	if err == nil {
		t.Fatal("AddRelay() accepted an http:// relay url")
	}
}

func TestPool_RemoveRelay_MissingIsNotError(t *testing.T) {
	t.Parallel()
	p := New(context.Background(), WithShutdownOnDrop(false))
	if err := p.RemoveRelay("wss://nowhere.example.com"); err != nil {
		t.Fatalf("RemoveRelay() error = %v, want nil", err)
	}
}

func TestPool_Relay_NotFound(t *testing.T) {
	t.Parallel()
	p := New(context.Background(), WithShutdownOnDrop(false))
	_, err := p.Relay("wss://nowhere.example.com")
	if err != ErrRelayNotFound {
		t.Fatalf("Relay() error = %v, want ErrRelayNotFound", err)
	}
}

func TestPool_RelaysByRole(t *testing.T) {
	t.Parallel()
	p := New(context.Background(), WithShutdownOnDrop(false))
	p.registry.add(newFakeRelayHandle("wss://a.example.com", RoleRead))
	p.registry.add(newFakeRelayHandle("wss://b.example.com", RoleWrite))

	got := p.RelaysByRole([]RelayRole{RoleRead})
	if len(got) != 1 {
		t.Fatalf("RelaysByRole() len = %d, want 1", len(got))
	}
}

func TestPool_Shutdown_PublishesShutdownNotification(t *testing.T) {
	t.Parallel()
	p := New(context.Background(), WithShutdownOnDrop(false))
	notifications := p.Notifications()
	defer p.CloseNotifications(notifications)

	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	// Shutdown's grace period is 3s in the package; accommodate it without
	// inflating every other test's runtime by running this check alone.
	select {
	case n := <-notifications:
		for n.Kind != NotificationShutdown {
			select {
			case n = <-notifications:
			case <-time.After(4 * time.Second):
				t.Fatal("timed out waiting for a Shutdown notification")
			}
		}
	case <-time.After(4 * time.Second):
		t.Fatal("timed out waiting for a Shutdown notification")
	}
}

func TestPool_ClearAlreadySeenEvents(t *testing.T) {
	t.Parallel()
	p := New(context.Background(), WithShutdownOnDrop(false))
	p.aggregator.seen.addBatch([]string{"a", "b"})
	p.ClearAlreadySeenEvents()
	if p.aggregator.seen.len() != 0 {
		t.Fatalf("seen cache len = %d after ClearAlreadySeenEvents(), want 0", p.aggregator.seen.len())
	}
}
