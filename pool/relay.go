package pool

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"golang.org/x/net/proxy"
)

// InstallSOCKS5Proxy routes every subsequent relay dial through a
// SOCKS5 proxy at addr (host:port), the mechanism non-browser clients
// use to reach .onion relays over Tor. Relay connections in this
// package dial through http.DefaultTransport, so this is a process-wide
// setting applied once, typically from the host CLI's startup flags.
func InstallSOCKS5Proxy(addr string) error {
	dialer, err := proxy.SOCKS5("tcp", addr, nil, proxy.Direct)
	if err != nil {
		return fmt.Errorf("configure socks5 proxy %s: %w", addr, err)
	}
	transport, ok := http.DefaultTransport.(*http.Transport)
	if !ok {
		transport = &http.Transport{}
	}
	transport = transport.Clone()
	transport.DialContext = func(ctx context.Context, network, address string) (net.Conn, error) {
		return dialer.Dial(network, address)
	}
	http.DefaultTransport = transport
	return nil
}

// RelayRole classifies a registered relay for fan-out purposes. A relay
// accepts outbound traffic whenever its role is contained in the
// caller-supplied acceptable-role set.
type RelayRole int

const (
	// RoleRead marks a relay the pool only reads events from.
	RoleRead RelayRole = iota
	// RoleWrite marks a relay the pool only publishes events to.
	RoleWrite
	// RoleReadWrite marks a relay used for both.
	RoleReadWrite
)

func (r RelayRole) String() string {
	switch r {
	case RoleRead:
		return "read"
	case RoleWrite:
		return "write"
	case RoleReadWrite:
		return "read-write"
	default:
		return "unknown"
	}
}

// RelayOptions configures the transport underneath a single relay
// connection. SOCKS5 proxying (for .onion relays over Tor) is a
// process-wide setting; see InstallSOCKS5Proxy.
type RelayOptions struct {
	ConnectTimeout time.Duration
}

// RelayStatusKind mirrors the connection lifecycle a relay driver reports.
type RelayStatusKind int

const (
	RelayStatusDisconnected RelayStatusKind = iota
	RelayStatusConnecting
	RelayStatusConnected
	RelayStatusDisconnecting
	RelayStatusTerminated
)

// RelayHandle is the observable contract the pool needs from a
// single-relay driver. In this repository it is implemented by
// nostrRelayHandle, which adapts a *nostr.Relay (the teacher's own
// go-nostr dependency) to this interface; the pool itself never speaks
// WebSocket or NIP-01 JSON framing directly.
type RelayHandle interface {
	URL() string
	Role() RelayRole
	Connect(ctx context.Context, waitForConnection bool) error
	Terminate() error
	Stop() error
	SendMsg(ctx context.Context, msg nostr.Envelope, wait time.Duration) error
	BatchMsg(ctx context.Context, msgs []nostr.Envelope, wait time.Duration) error
	SendEvent(ctx context.Context, event *nostr.Event, wait time.Duration) error
	BatchEvent(ctx context.Context, events []*nostr.Event, wait time.Duration) error
	SubscribeWithInternalID(ctx context.Context, id string, filters nostr.Filters, wait time.Duration) error
	UnsubscribeWithInternalID(ctx context.Context, id string, wait time.Duration) error
	UpdateSubscriptionFilters(id string, filters nostr.Filters)
	GetEventsOfWithCallback(ctx context.Context, filters nostr.Filters, deadline time.Duration, cb func(*nostr.Event)) error
	ReqEventsOf(ctx context.Context, filters nostr.Filters, deadline time.Duration)
	Reconcile(ctx context.Context, filter nostr.Filter, items []NegentropyItem, deadline time.Duration) error
}

// NegentropyItem is one local (event ID, timestamp) pair offered during
// set reconciliation (NIP-77).
type NegentropyItem struct {
	ID        string
	Timestamp nostr.Timestamp
}

// InternalSubscriptionID is the reserved subscription identity the pool
// uses for its own default subscription, distinguishing it from any
// application-initiated subscription sharing the same relay connection.
const InternalSubscriptionID = "_pool"

// messageSink receives raw frames observed on a relay connection so they
// can flow through the Inbound Aggregator's verify pipeline exactly like
// any other relay traffic. *aggregator satisfies this implicitly via its
// send method; a handle never imports the aggregator type itself.
type messageSink interface {
	send(ctx context.Context, msg poolMessage) error
}

// nostrRelayHandle adapts a *nostr.Relay to RelayHandle. It is the only
// place in this package that imports the relay-driver-shaped parts of
// go-nostr; everything above it in the pool speaks only in terms of the
// RelayHandle interface.
type nostrRelayHandle struct {
	mu             sync.RWMutex
	url            string
	role           RelayRole
	opts           RelayOptions
	relay          *nostr.Relay
	subs           map[string]*nostr.Subscription
	pendingFilters nostr.Filters
	sink           messageSink
}

// NewRelayHandle constructs a RelayHandle for url. The relay is not
// connected until Connect is called. Events and notices observed on any
// subscription opened through this handle are forwarded to sink so the
// pool's Inbound Aggregator can verify and surface them.
func NewRelayHandle(url string, role RelayRole, opts RelayOptions, sink messageSink) RelayHandle {
	return &nostrRelayHandle{
		url:  nostr.NormalizeURL(url),
		role: role,
		opts: opts,
		subs: make(map[string]*nostr.Subscription),
		sink: sink,
	}
}

func (h *nostrRelayHandle) URL() string     { return h.url }
func (h *nostrRelayHandle) Role() RelayRole { return h.role }

// currentRelay returns the live *nostr.Relay under a read lock. Callers
// must treat a nil result as "not connected".
func (h *nostrRelayHandle) currentRelay() *nostr.Relay {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.relay
}

func (h *nostrRelayHandle) Connect(ctx context.Context, waitForConnection bool) error {
	timeout := h.opts.ConnectTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	connectCtx := ctx
	var cancel context.CancelFunc
	if waitForConnection {
		connectCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	// A SOCKS5 dialer, when configured, is installed process-wide rather
	// than per relay (see InstallSOCKS5Proxy): go-nostr's relay
	// dialer has no per-connection proxy hook, so an operator reaching
	// .onion relays over Tor sets this once at startup rather than per
	// RelayOptions.
	relay, err := nostr.RelayConnect(connectCtx, h.url)
	if err != nil {
		return fmt.Errorf("connect %s: %w", h.url, err)
	}

	h.mu.Lock()
	h.relay = relay
	filters := h.pendingFilters
	h.mu.Unlock()

	if len(filters) > 0 {
		if err := h.SubscribeWithInternalID(ctx, InternalSubscriptionID, filters, 0); err != nil {
			return fmt.Errorf("resume subscription on %s: %w", h.url, err)
		}
	}
	return nil
}

func (h *nostrRelayHandle) Terminate() error {
	relay := h.currentRelay()
	if relay == nil {
		return nil
	}
	return relay.Close()
}

func (h *nostrRelayHandle) Stop() error {
	relay := h.currentRelay()
	if relay == nil {
		return nil
	}
	return relay.Close()
}

func (h *nostrRelayHandle) SendMsg(ctx context.Context, msg nostr.Envelope, wait time.Duration) error {
	relay := h.currentRelay()
	if relay == nil {
		return fmt.Errorf("relay %s not connected", h.url)
	}
	sendCtx := ctx
	var cancel context.CancelFunc
	if wait > 0 {
		sendCtx, cancel = context.WithTimeout(ctx, wait)
		defer cancel()
	}
	errCh := relay.Write([]byte(msg.String()))
	select {
	case err := <-errCh:
		return err
	case <-sendCtx.Done():
		return sendCtx.Err()
	}
}

func (h *nostrRelayHandle) BatchMsg(ctx context.Context, msgs []nostr.Envelope, wait time.Duration) error {
	for _, msg := range msgs {
		if err := h.SendMsg(ctx, msg, wait); err != nil {
			return err
		}
	}
	return nil
}

func (h *nostrRelayHandle) SendEvent(ctx context.Context, event *nostr.Event, wait time.Duration) error {
	relay := h.currentRelay()
	if relay == nil {
		return fmt.Errorf("relay %s not connected", h.url)
	}
	sendCtx := ctx
	var cancel context.CancelFunc
	if wait > 0 {
		sendCtx, cancel = context.WithTimeout(ctx, wait)
		defer cancel()
	}
	return relay.Publish(sendCtx, *event)
}

func (h *nostrRelayHandle) BatchEvent(ctx context.Context, events []*nostr.Event, wait time.Duration) error {
	for _, ev := range events {
		if err := h.SendEvent(ctx, ev, wait); err != nil {
			return err
		}
	}
	return nil
}

func (h *nostrRelayHandle) SubscribeWithInternalID(ctx context.Context, id string, filters nostr.Filters, wait time.Duration) error {
	relay := h.currentRelay()
	if relay == nil {
		return fmt.Errorf("relay %s not connected", h.url)
	}
	sub, err := relay.Subscribe(ctx, filters)
	if err != nil {
		return fmt.Errorf("subscribe %s on %s: %w", id, h.url, err)
	}
	h.mu.Lock()
	h.subs[id] = sub
	h.mu.Unlock()

	go h.drainSubscription(id, sub)
	return nil
}

// drainSubscription forwards every event and EOSE observed on sub into
// the Inbound Aggregator, re-serialized as the NIP-01 envelope a relay
// would have sent over the wire, and returns when the subscription closes. This is what lets a subscription
// opened through SubscribeWithInternalID actually surface notifications
// from Pool.Notifications: without it, sub.Events is read by nothing and
// nothing downstream of the relay driver ever sees the traffic.
func (h *nostrRelayHandle) drainSubscription(id string, sub *nostr.Subscription) {
	for {
		select {
		case evt, ok := <-sub.Events:
			if !ok {
				return
			}
			raw, err := json.Marshal([]any{"EVENT", id, evt})
			if err != nil {
				continue
			}
			_ = h.sink.send(context.Background(), receivedMsg{RelayURL: h.url, Raw: raw})
		case <-sub.EndOfStoredEvents:
			raw, err := json.Marshal([]any{"EOSE", id})
			if err != nil {
				continue
			}
			_ = h.sink.send(context.Background(), receivedMsg{RelayURL: h.url, Raw: raw})
		case <-sub.Context.Done():
			return
		}
	}
}

func (h *nostrRelayHandle) UnsubscribeWithInternalID(ctx context.Context, id string, wait time.Duration) error {
	h.mu.Lock()
	sub, ok := h.subs[id]
	if ok {
		delete(h.subs, id)
	}
	h.mu.Unlock()
	if !ok {
		return nil
	}
	sub.Unsub()
	return nil
}

func (h *nostrRelayHandle) UpdateSubscriptionFilters(id string, filters nostr.Filters) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if id == InternalSubscriptionID {
		h.pendingFilters = filters
	}
	if sub, ok := h.subs[id]; ok {
		sub.Filters = filters
	}
}

func (h *nostrRelayHandle) GetEventsOfWithCallback(ctx context.Context, filters nostr.Filters, deadline time.Duration, cb func(*nostr.Event)) error {
	relay := h.currentRelay()
	if relay == nil {
		return fmt.Errorf("relay %s not connected", h.url)
	}
	queryCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()
	sub, err := relay.Subscribe(queryCtx, filters)
	if err != nil {
		return fmt.Errorf("get_events_of %s: %w", h.url, err)
	}
	defer sub.Unsub()
	for {
		select {
		case evt, ok := <-sub.Events:
			if !ok {
				return nil
			}
			cb(evt)
		case <-sub.EndOfStoredEvents:
			return nil
		case <-queryCtx.Done():
			return nil
		}
	}
}

// ReqEventsOf issues a one-shot historical query but, unlike
// GetEventsOfWithCallback, does not wait for or collect the result: every
// event and EOSE it observes is forwarded to the Inbound Aggregator the
// same way a live subscription's traffic is, so the caller picks matches
// up off Pool.Notifications instead of a return value.
func (h *nostrRelayHandle) ReqEventsOf(ctx context.Context, filters nostr.Filters, deadline time.Duration) {
	relay := h.currentRelay()
	if relay == nil {
		return
	}
	go func() {
		queryCtx, cancel := context.WithTimeout(ctx, deadline)
		defer cancel()
		sub, err := relay.Subscribe(queryCtx, filters)
		if err != nil {
			return
		}
		defer sub.Unsub()
		for {
			select {
			case evt, ok := <-sub.Events:
				if !ok {
					return
				}
				raw, err := json.Marshal([]any{"EVENT", InternalSubscriptionID, evt})
				if err != nil {
					continue
				}
				_ = h.sink.send(queryCtx, receivedMsg{RelayURL: h.url, Raw: raw})
			case <-sub.EndOfStoredEvents:
				raw, err := json.Marshal([]any{"EOSE", InternalSubscriptionID})
				if err != nil {
					continue
				}
				_ = h.sink.send(queryCtx, receivedMsg{RelayURL: h.url, Raw: raw})
			case <-queryCtx.Done():
				return
			}
		}
	}()
}

func (h *nostrRelayHandle) Reconcile(ctx context.Context, filter nostr.Filter, items []NegentropyItem, deadline time.Duration) error {
	relay := h.currentRelay()
	if relay == nil {
		return fmt.Errorf("relay %s not connected", h.url)
	}
	// Negentropy set reconciliation is delegated entirely to the relay
	// driver (nip77); the pool only shapes the request and forwards
	// per-relay errors to the caller.
	reconcileCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()
	return reconcileWithRelay(reconcileCtx, relay, filter, items)
}
