package pool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/nbd-wtf/go-nostr"
)

// poolMessage is the sealed set of variants carried on the aggregator's
// single inbound channel, mirroring the reference pool task's message
// enum as a small closed interface rather than a tagged union.
type poolMessage interface{ isPoolMessage() }

// receivedMsg wraps one raw relay frame, not yet parsed.
type receivedMsg struct {
	RelayURL string
	Raw      []byte
}

func (receivedMsg) isPoolMessage() {}

// batchEvent pre-marks outbound event IDs as seen so their relay
// echoes do not produce a spurious Event notification.
type batchEvent struct{ IDs []string }

func (batchEvent) isPoolMessage() {}

// relayStatusMsg re-emits a relay's connection status change.
type relayStatusMsg struct {
	URL    string
	Status RelayStatusKind
}

func (relayStatusMsg) isPoolMessage() {}

// stopMsg requests the aggregator loop to exit, leaving the channel open.
type stopMsg struct{}

func (stopMsg) isPoolMessage() {}

// shutdownMsg requests the aggregator loop to exit and the channel to
// be treated as closed for future sends.
type shutdownMsg struct{}

func (shutdownMsg) isPoolMessage() {}

// RelayMessageKind classifies a parsed NIP-01 relay message envelope.
type RelayMessageKind int

const (
	RelayMsgEvent RelayMessageKind = iota
	RelayMsgNotice
	RelayMsgEOSE
	RelayMsgOK
	RelayMsgAuth
	RelayMsgUnknown
)

// RelayMessage is the structured projection of one relay message frame,
// the "structured_message" carried by a Message notification.
type RelayMessage struct {
	Kind           RelayMessageKind
	SubscriptionID string
	Event          *nostr.Event
	Notice         string
	OK             bool
	OKMessage      string
	Challenge      string
}

// parseRelayMessage decodes the outer NIP-01 JSON array envelope and,
// for an EVENT frame, delegates the inner event to the two-phase
// verify-then-assemble pipeline in verify.go.
func parseRelayMessage(raw []byte) (*RelayMessage, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(raw, &parts); err != nil || len(parts) == 0 {
		return nil, newErr(ErrKindMessageHandler, fmt.Errorf("malformed relay message: %w", err))
	}
	var label string
	if err := json.Unmarshal(parts[0], &label); err != nil {
		return nil, newErr(ErrKindMessageHandler, fmt.Errorf("malformed relay message label: %w", err))
	}
	switch label {
	case "EVENT":
		if len(parts) < 3 {
			return nil, newErr(ErrKindMessageHandler, fmt.Errorf("EVENT frame missing fields"))
		}
		var subID string
		_ = json.Unmarshal(parts[1], &subID)
		event, err := verifyAndAssemble(parts[2])
		if err != nil {
			return nil, err
		}
		return &RelayMessage{Kind: RelayMsgEvent, SubscriptionID: subID, Event: event}, nil
	case "NOTICE":
		var notice string
		if len(parts) >= 2 {
			_ = json.Unmarshal(parts[1], &notice)
		}
		return &RelayMessage{Kind: RelayMsgNotice, Notice: notice}, nil
	case "EOSE":
		var subID string
		if len(parts) >= 2 {
			_ = json.Unmarshal(parts[1], &subID)
		}
		return &RelayMessage{Kind: RelayMsgEOSE, SubscriptionID: subID}, nil
	case "OK":
		var id string
		var ok bool
		var msg string
		if len(parts) >= 4 {
			_ = json.Unmarshal(parts[1], &id)
			_ = json.Unmarshal(parts[2], &ok)
			_ = json.Unmarshal(parts[3], &msg)
		}
		return &RelayMessage{Kind: RelayMsgOK, SubscriptionID: id, OK: ok, OKMessage: msg}, nil
	case "AUTH":
		var challenge string
		if len(parts) >= 2 {
			_ = json.Unmarshal(parts[1], &challenge)
		}
		return &RelayMessage{Kind: RelayMsgAuth, Challenge: challenge}, nil
	default:
		return nil, newErr(ErrKindMessageHandler, fmt.Errorf("unhandled relay message variant %q", label))
	}
}

// aggregator is the single task draining the pool's inbound channel,
// verifying events, deduplicating them, and republishing notifications.
type aggregator struct {
	inbound chan poolMessage
	bus     *notificationBus
	seen    *seenCache
	running atomic.Bool
	closed  atomic.Bool
}

func newAggregator(channelSize, maxSeenEvents, notificationBufferSize int) *aggregator {
	return &aggregator{
		inbound: make(chan poolMessage, channelSize),
		bus:     newNotificationBus(notificationBufferSize),
		seen:    newSeenCache(maxSeenEvents),
	}
}

// isRunning reports the aggregator's single-bit running flag.
func (a *aggregator) isRunning() bool { return a.running.Load() }

// send enqueues msg, blocking (subject to ctx) if the channel is full.
// It fails once the aggregator has processed a Shutdown.
func (a *aggregator) send(ctx context.Context, msg poolMessage) error {
	if a.closed.Load() {
		return newErr(ErrKindThread, fmt.Errorf("aggregator channel closed"))
	}
	select {
	case a.inbound <- msg:
		return nil
	case <-ctx.Done():
		return newErr(ErrKindThread, ctx.Err())
	}
}

// trySend enqueues msg without blocking; used by stop, whose own design
// note treats a full channel as a hint to be dropped and logged rather
// than a fatal error.
func (a *aggregator) trySend(msg poolMessage) error {
	if a.closed.Load() {
		return newErr(ErrKindThread, fmt.Errorf("aggregator channel closed"))
	}
	select {
	case a.inbound <- msg:
		return nil
	default:
		return newErr(ErrKindThread, fmt.Errorf("aggregator channel full"))
	}
}

// start launches the consumption loop if not already running. Start is
// idempotent: invoked on an already-running aggregator it logs and
// returns.
func (a *aggregator) start(ctx context.Context) {
	if !a.running.CompareAndSwap(false, true) {
		slog.Info("aggregator already running")
		return
	}
	a.closed.Store(false)
	go a.run(ctx)
}

func (a *aggregator) run(ctx context.Context) {
	for {
		select {
		case msg, ok := <-a.inbound:
			if !ok {
				return
			}
			if a.handle(ctx, msg) {
				return
			}
		case <-ctx.Done():
			a.running.Store(false)
			return
		}
	}
}

// handle processes one message and reports whether the consumption
// loop should exit.
func (a *aggregator) handle(ctx context.Context, msg poolMessage) bool {
	switch m := msg.(type) {
	case receivedMsg:
		a.handleReceived(m)
		return false
	case batchEvent:
		a.seen.addBatch(m.IDs)
		return false
	case relayStatusMsg:
		a.bus.publish(Notification{Kind: NotificationRelayStatus, RelayURL: m.URL, Status: m.Status})
		return false
	case stopMsg:
		a.running.Store(false)
		a.bus.publish(Notification{Kind: NotificationStop})
		return true
	case shutdownMsg:
		a.running.Store(false)
		a.closed.Store(true)
		a.bus.publish(Notification{Kind: NotificationShutdown})
		return true
	default:
		slog.Warn("aggregator received unhandled pool message type")
		return false
	}
}

func (a *aggregator) handleReceived(m receivedMsg) {
	relayMsg, err := parseRelayMessage(m.Raw)
	if err != nil {
		slog.Warn("dropping unparseable relay message", "relay", m.RelayURL, "error", err)
		return
	}
	if relayMsg.Kind == RelayMsgNotice {
		slog.Warn("relay notice", "relay", m.RelayURL, "notice", relayMsg.Notice)
	}
	a.bus.publish(Notification{Kind: NotificationMessage, RelayURL: m.RelayURL, Message: relayMsg})

	if relayMsg.Kind != RelayMsgEvent || relayMsg.Event == nil {
		return
	}
	if !a.seen.add(relayMsg.Event.ID) {
		return
	}
	a.bus.publish(Notification{Kind: NotificationEvent, RelayURL: m.RelayURL, Event: relayMsg.Event})
}

// clearSeen empties the seen-event cache.
func (a *aggregator) clearSeen() { a.seen.clear() }
