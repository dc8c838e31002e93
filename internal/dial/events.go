package dial

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kverner/dialdeck/internal/protocol"
	"github.com/kverner/dialdeck/internal/registry"
)

// EventType classifies a controller event
type EventType int

const (
	// EventConnected fires once the hub handshake succeeds
	EventConnected EventType = iota
	// EventDisconnected fires when the serial link closes or drops
	EventDisconnected
	// EventDiscovered fires after a full discovery pass; Devices carries
	// the fresh snapshot
	EventDiscovered
	// EventDeviceUpdated fires after a confirmed value, backlight or
	// easing change
	EventDeviceUpdated
	// EventDeviceOffline fires when a command finds a dial unreachable
	EventDeviceOffline
	// EventImageShown fires when a queued display transfer completes
	EventImageShown
	// EventIdentityMismatch fires when the reconciler finds a different
	// UID than cached at a dial's index
	EventIdentityMismatch
)

// String returns a human-readable name for the event type
func (t EventType) String() string {
	switch t {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventDiscovered:
		return "discovered"
	case EventDeviceUpdated:
		return "device_updated"
	case EventDeviceOffline:
		return "device_offline"
	case EventImageShown:
		return "image_shown"
	case EventIdentityMismatch:
		return "identity_mismatch"
	default:
		return "unknown"
	}
}

// Event is one observation delivered to subscribers
type Event struct {
	Type    EventType
	Time    time.Time
	UID     protocol.UID      // set for per-device events
	Device  *registry.Device  // value copy, set for device events
	Devices []registry.Device // set for EventDiscovered
	Err     error             // set for failure events
}

// subscriberBuffer is each subscriber's channel depth; a subscriber that
// stops draining loses events rather than blocking the engine
const subscriberBuffer = 16

type eventBus struct {
	mu   sync.Mutex
	subs map[uuid.UUID]chan Event
}

func newEventBus() *eventBus {
	return &eventBus{subs: make(map[uuid.UUID]chan Event)}
}

func (b *eventBus) subscribe() (<-chan Event, func()) {
	id := uuid.New()
	ch := make(chan Event, subscriberBuffer)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

func (b *eventBus) publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			// Slow subscriber: drop rather than stall the bus
		}
	}
}

func (b *eventBus) closeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
