package zeromq

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/open-rov/rovbridge/pkg/events"
	customlog "github.com/open-rov/rovbridge/pkg/log"
)

const topicPrefix = "rov"

// ZeroMQMessage is the envelope published on every topic.
type ZeroMQMessage struct {
	Type      string       `json:"type"`
	Timestamp float64      `json:"timestamp"`
	Link      string       `json:"link,omitempty"`
	Data      events.Event `json:"data"`
}

// Subscriber is the read side of the event bus.
type Subscriber interface {
	Subscribe(buffer int) *events.Subscription
	Unsubscribe(s *events.Subscription)
}

// TelemetryPublisher republishes bus events on a PUB socket so recorders and
// dashboards can follow the vehicle without a WebSocket.
type TelemetryPublisher struct {
	bus    Subscriber
	sender Sender
	logger customlog.Logger

	sub  *events.Subscription
	wg   sync.WaitGroup
	once sync.Once
}

// NewTelemetryPublisher wires sender to bus. Call Start to begin publishing.
func NewTelemetryPublisher(bus Subscriber, sender Sender, logger customlog.Logger) *TelemetryPublisher {
	return &TelemetryPublisher{
		bus:    bus,
		sender: sender,
		logger: logger.WithField("component", "zeromq"),
	}
}

// Start subscribes to the bus and publishes until ctx is done or Stop is called.
func (p *TelemetryPublisher) Start(ctx context.Context) {
	p.sub = p.bus.Subscribe(1024)
	p.wg.Add(1)
	go p.run(ctx)
}

func (p *TelemetryPublisher) run(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-p.sub.C:
			if !ok {
				return
			}
			if err := p.publish(ev); err != nil {
				p.logger.Warnf("Failed to publish %s event: %v", ev.Type, err)
			}
		}
	}
}

func (p *TelemetryPublisher) publish(ev events.Event) error {
	msg := ZeroMQMessage{
		Type:      string(ev.Type),
		Timestamp: float64(ev.Timestamp.UnixNano()) / 1e9,
		Link:      ev.Link,
		Data:      ev,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return p.sender.PublishMessage(Topic(ev), data)
}

// Stop unsubscribes, waits for the loop and closes the socket.
func (p *TelemetryPublisher) Stop() {
	p.once.Do(func() {
		if p.sub != nil {
			p.bus.Unsubscribe(p.sub)
		}
		p.wg.Wait()
		p.sender.Close()
	})
}

// Topic is rov.<link>.<type>, with "bridge" for events not tied to a link.
// Subscribers can prefix-match on rov.primary. for one link.
func Topic(ev events.Event) string {
	name := ev.Link
	if name == "" {
		name = "bridge"
	}
	return strings.Join([]string{topicPrefix, name, string(ev.Type)}, ".")
}
