package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/open-rov/rovbridge/pkg/events"

// Type tags what an Event carries.
type Type string

const (
	TypeLog       Type = "log"
	TypeStatus    Type = "linkStatus"
	TypeTelemetry Type = "telemetry"
	TypePorts     Type = "comPortsList"
	TypeConfig    Type = "config"
)

// Log levels carried by TypeLog events.
const (
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// PortInfo describes one serial port found on the host.
type PortInfo struct {
	Path         string `json:"path"`
	Manufacturer string `json:"manufacturer"`
}

// Event is one status, log or telemetry notification. Events are passed by
// value so a subscriber never observes a partially written event.
type Event struct {
	Type      Type            `json:"type"`
	Link      string          `json:"link,omitempty"`
	State     string          `json:"state,omitempty"`
	Path      string          `json:"path,omitempty"`
	Level     string          `json:"level,omitempty"`
	Message   string          `json:"message,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Ports     []PortInfo      `json:"ports,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Log builds a log event.
func Log(level, message string) Event {
	return Event{Type: TypeLog, Level: level, Message: message, Timestamp: time.Now()}
}

// Publisher is the write side of the bus.
type Publisher interface {
	Publish(ev Event)
}

// Subscription is one subscriber's ordered view of the bus.
type Subscription struct {
	ID string
	C  <-chan Event

	ch   chan Event
	once sync.Once
}

// Bus fans events out to every subscriber. Publish may be called from many
// goroutines; each subscriber sees events from a single publisher in order.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string]*Subscription
	closed bool

	published metric.Int64Counter
	dropped   metric.Int64Counter
}

// NewBus creates an empty bus. Metrics use the global OTel meter (no-op if not configured).
func NewBus() *Bus {
	b := &Bus{subs: make(map[string]*Subscription)}

	m := otel.Meter(instrumentationName)
	b.published, _ = m.Int64Counter("bus.events.published",
		metric.WithDescription("Events published on the bus"))
	b.dropped, _ = m.Int64Counter("bus.events.dropped",
		metric.WithDescription("Events dropped because a subscriber was full"))

	return b
}

// Subscribe registers a subscriber with a buffer of the given size.
func (b *Bus) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)
	s := &Subscription{ID: uuid.NewString(), C: ch, ch: ch}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		s.once.Do(func() { close(ch) })
		return s
	}
	b.subs[s.ID] = s
	return s
}

// Unsubscribe removes the subscriber and closes its channel.
func (b *Bus) Unsubscribe(s *Subscription) {
	if s == nil {
		return
	}
	b.mu.Lock()
	delete(b.subs, s.ID)
	b.mu.Unlock()
	s.once.Do(func() { close(s.ch) })
}

// Publish delivers ev to every subscriber without blocking. A subscriber
// whose buffer is full misses the event, except for link status events,
// which evict the oldest queued event instead so the last known state of a
// link always reaches a lagging subscriber.
func (b *Bus) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	ctx := context.Background()
	attrs := metric.WithAttributes(attribute.String("type", string(ev.Type)))

	// The read lock is held across the sends so Unsubscribe cannot close a
	// channel mid-send; the sends themselves never block.
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	b.published.Add(ctx, 1, attrs)
	for _, s := range b.subs {
		select {
		case s.ch <- ev:
			continue
		default:
		}
		if ev.Type == TypeStatus {
			select {
			case old := <-s.ch:
				b.dropped.Add(ctx, 1, metric.WithAttributes(attribute.String("type", string(old.Type))))
				select {
				case s.ch <- ev:
					continue
				default:
				}
			default:
			}
		}
		b.dropped.Add(ctx, 1, attrs)
	}
}

// Subscribers returns the current subscriber count.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close closes every subscription; later publishes are discarded.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subs
	b.subs = make(map[string]*Subscription)
	b.mu.Unlock()

	for _, s := range subs {
		s.once.Do(func() { close(s.ch) })
	}
}
