package pool

import (
	"context"
	"log/slog"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/nbd-wtf/go-nostr"
)

// Pool is a client-side connection pool over many Nostr relays: it
// multiplexes outbound sends across a Relay Registry, collects inbound
// relay traffic into a single verified, deduplicated Notification Bus,
// and owns the lifecycle of both.
type Pool struct {
	registry     *registry
	aggregator   *aggregator
	subscription *subscriptionCoordinator
	opts         Options
	dropped      atomic.Bool
}

// New constructs a Pool and immediately starts its aggregator, the
// same moment the reference pool becomes observable: a Pool is never
// returned in a not-yet-running state.
func New(ctx context.Context, options ...PoolOption) *Pool {
	opts := DefaultOptions()
	for _, o := range options {
		o.Apply(&opts)
	}
	p := &Pool{
		registry:     newRegistry(),
		aggregator:   newAggregator(opts.TaskChannelSize, opts.TaskMaxSeenEvents, opts.NotificationChannelSize),
		subscription: newSubscriptionCoordinator(),
		opts:         opts,
	}
	p.aggregator.start(ctx)

	if opts.ShutdownOnDrop {
		runtime.SetFinalizer(p, func(p *Pool) {
			p.drop()
		})
	}
	return p
}

// Start (re)launches the aggregator if it is not already running. It
// is idempotent.
func (p *Pool) Start(ctx context.Context) { p.aggregator.start(ctx) }

// IsRunning reports whether the aggregator is currently consuming the
// inbound channel.
func (p *Pool) IsRunning() bool { return p.aggregator.isRunning() }

// Stop asks every relay to stop, then requests the aggregator to exit
// its consumption loop via a non-blocking send. This is intentional,
// not an oversight: Stop is a cooperative hint the aggregator may
// already be in the middle of honoring, whereas Shutdown below is
// authoritative and its detached send blocks until delivered. A dropped Stop request is
// logged, not retried.
func (p *Pool) Stop(ctx context.Context) error {
	for _, h := range p.registry.snapshot() {
		if err := h.Stop(); err != nil {
			p.logRelayError("stop", h.URL(), err)
		}
	}
	if err := p.aggregator.trySend(stopMsg{}); err != nil {
		slog.Error("impossible to send stop message", "error", err)
	}
	return nil
}

// Disconnect terminates every relay without touching the aggregator.
func (p *Pool) Disconnect() error {
	for _, h := range p.registry.snapshot() {
		if err := h.Terminate(); err != nil {
			p.logRelayError("disconnect", h.URL(), err)
		}
	}
	return nil
}

// Shutdown disconnects every relay, then detaches a task that waits a
// fixed 3 second grace period -- long enough for in-flight inbound
// messages to drain -- before delivering Shutdown to the aggregator.
// Unlike Stop this uses a blocking send: Shutdown is authoritative and
// must be observed.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.dropped.Store(true)
	if err := p.Disconnect(); err != nil {
		return err
	}
	go func() {
		time.Sleep(3 * time.Second)
		if err := p.aggregator.send(context.Background(), shutdownMsg{}); err != nil {
			slog.Error("impossible to send shutdown message", "error", err)
		}
	}()
	return nil
}

// drop is the best-effort shutdown a Pool's finalizer performs when
// garbage collected without an explicit Shutdown call. The dropped
// flag is one-shot to prevent a double shutdown when Shutdown was
// already called.
func (p *Pool) drop() {
	if !p.dropped.CompareAndSwap(false, true) {
		return
	}
	if err := p.Shutdown(context.Background()); err != nil {
		slog.Error("best-effort shutdown on drop failed", "error", err)
	}
}

// ClearAlreadySeenEvents empties the seen-event cache.
func (p *Pool) ClearAlreadySeenEvents() { p.aggregator.clearSeen() }

// Notifications returns a fresh subscriber channel to the Notification Bus.
func (p *Pool) Notifications() chan Notification { return p.aggregator.bus.subscribe() }

// CloseNotifications unsubscribes ch from the Notification Bus. Safe to call more than once.
func (p *Pool) CloseNotifications(ch chan Notification) { p.aggregator.bus.unsubscribe(ch) }

// Connect dials every registered relay in turn. Each dial blocks until
// the relay connects or fails, whether or not waitForConnection is set;
// the flag only bounds each dial by the relay's ConnectTimeout.
func (p *Pool) Connect(ctx context.Context, waitForConnection bool) {
	for _, h := range p.registry.snapshot() {
		p.ConnectRelay(ctx, h, waitForConnection)
	}
}

// ConnectRelay pushes the pool's current filter set to handle under
// the reserved internal subscription identity before connecting, so a
// freshly connected relay resumes with the current subscription
// instead of an empty one.
func (p *Pool) ConnectRelay(ctx context.Context, handle RelayHandle, waitForConnection bool) {
	p.pushCurrentFilters(ctx, handle, 0)
	if err := handle.Connect(ctx, waitForConnection); err != nil {
		p.logRelayError("connect", handle.URL(), err)
		return
	}
	_ = p.aggregator.trySend(relayStatusMsg{URL: handle.URL(), Status: RelayStatusConnected})
}

// DisconnectRelay terminates a single relay handle.
func (p *Pool) DisconnectRelay(handle RelayHandle) error {
	if err := handle.Terminate(); err != nil {
		return errFromRelay(err)
	}
	_ = p.aggregator.trySend(relayStatusMsg{URL: handle.URL(), Status: RelayStatusDisconnected})
	return nil
}

// AddRelay registers url under role with opts. Add is idempotent on
// URL: a second add for an already-registered URL changes nothing and
// reports false.
func (p *Pool) AddRelay(url string, role RelayRole, relayOpts RelayOptions) (RelayHandle, bool, error) {
	parsed, err := ParseRelayURL(url)
	if err != nil {
		return nil, false, err
	}
	handle := NewRelayHandle(parsed.String(), role, relayOpts, p.aggregator)
	inserted := p.registry.add(handle)
	if !inserted {
		existing, _ := p.registry.get(parsed.String())
		return existing, false, nil
	}
	return handle, true, nil
}

// RemoveRelay removes the relay registered at url, disconnecting it
// first. A missing URL is not an error.
func (p *Pool) RemoveRelay(url string) error {
	h, ok := p.registry.remove(nostr.NormalizeURL(url))
	if !ok {
		return nil
	}
	return p.DisconnectRelay(h)
}

// Relay looks up the relay handle registered at url.
func (p *Pool) Relay(url string) (RelayHandle, error) {
	h, ok := p.registry.get(nostr.NormalizeURL(url))
	if !ok {
		return nil, ErrRelayNotFound
	}
	return h, nil
}

// Relays returns a snapshot of every registered relay handle.
func (p *Pool) Relays() []RelayHandle { return p.registry.snapshot() }

// RelaysByRole returns a snapshot of every registered relay handle
// whose role is in roles.
func (p *Pool) RelaysByRole(roles []RelayRole) []RelayHandle { return p.registry.snapshotByRole(roles) }

func (p *Pool) logRelayError(op, url string, err error) {
	slog.Warn("relay operation failed", "op", op, "relay", url, "error", err)
}
