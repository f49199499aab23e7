package pool

import (
	"log/slog"
	"sync"

	"github.com/nbd-wtf/go-nostr"
)

// NotificationKind discriminates the variants carried on the Notification Bus.
type NotificationKind int

const (
	NotificationEvent NotificationKind = iota
	NotificationMessage
	NotificationRelayStatus
	NotificationStop
	NotificationShutdown
)

// Notification is the single structured type broadcast to every
// subscriber of the pool's Notification Bus.
type Notification struct {
	Kind     NotificationKind
	RelayURL string
	Event    *nostr.Event
	Message  any
	Status   RelayStatusKind
}

// notificationBus is a lossy, multi-consumer broadcast channel. It is
// grounded on the subscriber broker pattern used elsewhere in the
// corpus for pub/sub fan-out: each subscriber gets its own buffered
// channel, and a send that would block is dropped rather than stalling
// the publisher. This is what lets the aggregator "never block on a
// slow observer" as required.
type notificationBus struct {
	mu          sync.RWMutex
	subscribers map[chan Notification]struct{}
	bufferSize  int
}

func newNotificationBus(bufferSize int) *notificationBus {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	return &notificationBus{
		subscribers: make(map[chan Notification]struct{}),
		bufferSize:  bufferSize,
	}
}

// subscribe returns a fresh channel that will receive every
// notification published after this call.
func (b *notificationBus) subscribe() chan Notification {
	ch := make(chan Notification, b.bufferSize)
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// unsubscribe removes and closes ch. Safe to call more than once.
func (b *notificationBus) unsubscribe(ch chan Notification) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subscribers[ch]; ok {
		delete(b.subscribers, ch)
		close(ch)
	}
}

// publish fans n out to every current subscriber without blocking. A
// subscriber too slow to keep up simply misses the notification; this
// is logged at debug level, not treated as an error.
func (b *notificationBus) publish(n Notification) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subscribers {
		select {
		case ch <- n:
		default:
			slog.Debug("notification bus dropped message for lagging subscriber", "kind", n.Kind)
		}
	}
}

func (b *notificationBus) closeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, ch)
	}
}
