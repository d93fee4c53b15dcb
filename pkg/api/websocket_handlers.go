package api

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"syscall"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"

	"github.com/open-rov/rovbridge/pkg/events"
	"github.com/open-rov/rovbridge/pkg/link"
	customlog "github.com/open-rov/rovbridge/pkg/log"
	"github.com/open-rov/rovbridge/pkg/mixer"
	"github.com/open-rov/rovbridge/pkg/vehicle"
	"github.com/open-rov/rovbridge/services"
)

const (
	writeWait       = 5 * time.Second
	requestTimeout  = 10 * time.Second
	subscribeBuffer = 256
	replyBuffer     = 32
)

// Bridge is what the transport needs from the bridge service.
type Bridge interface {
	GetConfiguration() vehicle.Configuration
	UpdateConfiguration(u vehicle.Update) vehicle.Configuration
	OnPilotFrame(f mixer.PilotFrame)
	QueryLinkStatus(name string) (link.Status, error)
	LinkNames() []string
	FindComPorts(ctx context.Context) ([]events.PortInfo, error)
	Connect(ctx context.Context, path string) error
	Disconnect() error
	ConnectLink(ctx context.Context, name, path string) error
	DisconnectLink(name string) error
	ConnectionStatus() services.ConnectionStatus
	TestThruster(index int, value float64)
	TestGripper(slot, value int)
}

// Subscriber is the read side of the event bus.
type Subscriber interface {
	Subscribe(buffer int) *events.Subscription
	Unsubscribe(s *events.Subscription)
}

// Session handles the requests of one connected control surface. Replies go
// to that surface only; bus events reach every surface.
type Session struct {
	ID     string
	bridge Bridge
	logger customlog.Logger
	reply  func(Message)
}

// NewSession creates a session that answers through reply.
func NewSession(bridge Bridge, logger customlog.Logger, reply func(Message)) *Session {
	id := uuid.NewString()
	return &Session{
		ID:     id,
		bridge: bridge,
		logger: logger.WithField("session", id[:8]),
		reply:  reply,
	}
}

// HandleMessage dispatches one raw socket message.
func (s *Session) HandleMessage(ctx context.Context, raw []byte) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		s.logger.Warnf("Failed to unmarshal socket message: %v. Message: %s", err, string(raw))
		s.replyError("Malformed message.", err)
		return
	}

	switch env.Event {
	case EventControllerData:
		var frame mixer.PilotFrame
		if err := json.Unmarshal(env.Data, &frame); err != nil {
			s.logger.Debugf("Dropping malformed controller frame: %v", err)
			return
		}
		s.bridge.OnPilotFrame(frame)

	case EventFindComPorts:
		ctx, cancel := context.WithTimeout(ctx, requestTimeout)
		defer cancel()
		if _, err := s.bridge.FindComPorts(ctx); err != nil {
			s.replyError("Failed to find COM ports.", err)
		}

	case EventConnect:
		ctx, cancel := context.WithTimeout(ctx, requestTimeout)
		defer cancel()
		if err := s.bridge.Connect(ctx, stringData(env.Data)); err != nil {
			if errors.Is(err, link.ErrEmptyPath) {
				s.replyError("No COM Port was provided.", nil)
			} else {
				s.replyError("Failed to connect to the ROV.", err)
			}
		}

	case EventDisconnect:
		if err := s.bridge.Disconnect(); err != nil {
			s.replyError("Failed to disconnect from the ROV.", err)
		}

	case EventConnectionStatus:
		s.reply(Message{Event: EventConnectionStatus, Data: s.bridge.ConnectionStatus()})

	case EventConfigGet:
		s.reply(Message{Event: EventConfigData, Data: s.bridge.GetConfiguration()})

	case EventConfigUpdate:
		var u vehicle.Update
		if err := json.Unmarshal(env.Data, &u); err != nil {
			s.replyError("Invalid configuration update.", err)
			return
		}
		next := s.bridge.UpdateConfiguration(u)
		s.reply(Message{Event: EventConfigUpdated, Data: ConfigUpdatedPayload{Success: true, NewConfig: next}})

	case EventThrusterTest:
		var req ThrusterTestRequest
		if err := json.Unmarshal(env.Data, &req); err != nil {
			s.replyError("Invalid thruster test request.", err)
			return
		}
		s.bridge.TestThruster(req.ThrusterIndex, req.Value)

	case EventGripperTest:
		var req GripperTestRequest
		if err := json.Unmarshal(env.Data, &req); err != nil {
			s.replyError("Invalid gripper test request.", err)
			return
		}
		s.bridge.TestGripper(req.GripperIndex, req.Value)

	case EventLinkConnect:
		req := linkRequest(env)
		ctx, cancel := context.WithTimeout(ctx, requestTimeout)
		defer cancel()
		if err := s.bridge.ConnectLink(ctx, req.Link, req.Path); err != nil {
			s.replyError("Failed to connect link "+req.Link+".", err)
		}

	case EventLinkDisconnect:
		req := linkRequest(env)
		if err := s.bridge.DisconnectLink(req.Link); err != nil {
			s.replyError("Failed to disconnect link "+req.Link+".", err)
		}

	case EventLinkStatus:
		req := linkRequest(env)
		st, err := s.bridge.QueryLinkStatus(req.Link)
		if err != nil {
			s.replyError("Unknown link "+req.Link+".", err)
			return
		}
		s.reply(Message{Event: EventLinkStatus, Link: req.Link, Data: LinkStatusPayload{
			Link:    req.Link,
			State:   string(st.State),
			Message: st.Message,
			Path:    st.Path,
		}})

	default:
		s.logger.Warnf("Ignoring unknown socket event %q", env.Event)
		s.replyError("Unknown event "+env.Event+".", nil)
	}
}

func (s *Session) replyError(message string, err error) {
	p := ErrorPayload{Message: message}
	if err != nil {
		p.Error = err.Error()
	}
	s.reply(Message{Event: EventError, Data: p})
}

// EventMessages translates one bus event into the socket messages every
// control surface receives.
func EventMessages(ev events.Event) []Message {
	switch ev.Type {
	case events.TypeLog:
		return []Message{{Event: EventLog, Link: ev.Link, Data: LogPayload{
			Timestamp: ev.Timestamp,
			Message:   ev.Message,
			Level:     ev.Level,
			Link:      ev.Link,
		}}}

	case events.TypeStatus:
		msgs := []Message{{Event: EventLinkStatus, Link: ev.Link, Data: LinkStatusPayload{
			Link:    ev.Link,
			State:   ev.State,
			Message: ev.Message,
			Path:    ev.Path,
		}}}
		if ev.Link == link.Primary {
			status := "disconnected"
			if ev.State == string(link.StateConnected) {
				status = "connected"
			}
			msgs = append(msgs, Message{Event: EventConnectionStatus, Data: services.ConnectionStatus{
				Status:  status,
				Message: ev.Message,
			}})
		}
		return msgs

	case events.TypeTelemetry:
		name := EventSensorData
		if ev.Link != "" && ev.Link != link.Primary {
			name = ev.Link + ":sensor-data"
		}
		return []Message{{Event: name, Link: ev.Link, Data: ev.Payload}}

	case events.TypePorts:
		ports := ev.Ports
		if ports == nil {
			ports = []events.PortInfo{}
		}
		return []Message{{Event: EventComPortsList, Data: ports}}

	case events.TypeConfig:
		return []Message{{Event: EventConfigData, Data: ev.Payload}}
	}
	return nil
}

// stringData accepts a bare JSON string or {"path": "..."}.
func stringData(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var req LinkRequest
	if err := json.Unmarshal(raw, &req); err == nil {
		return req.Path
	}
	return ""
}

// linkRequest resolves the target link from the data or the envelope.
func linkRequest(env Envelope) LinkRequest {
	var req LinkRequest
	if err := json.Unmarshal(env.Data, &req); err != nil {
		req.Path = stringData(env.Data)
	}
	if req.Link == "" {
		req.Link = env.Link
	}
	return req
}

// ControlWebSocketHandler serves one control surface: requests are handled
// on the read loop and bus events are forwarded by a single writer goroutine.
func ControlWebSocketHandler(bus Subscriber, bridge Bridge, logger customlog.Logger) func(*websocket.Conn) {
	return func(conn *websocket.Conn) {
		sub := bus.Subscribe(subscribeBuffer)
		replies := make(chan Message, replyBuffer)
		done := make(chan struct{})
		writerDone := make(chan struct{})

		session := NewSession(bridge, logger, func(m Message) {
			select {
			case replies <- m:
			case <-done:
			case <-writerDone:
			}
		})
		log := session.logger
		log.Infof("Control WebSocket connected: %s", conn.RemoteAddr())

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer close(writerDone)
			writeLoop(conn, sub, replies, done, log)
		}()

		ctx, cancel := context.WithCancel(context.Background())
		for {
			mt, msg, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) &&
					!errors.Is(err, syscall.EPIPE) && !errors.Is(err, syscall.ECONNRESET) {
					log.Errorf("Control WS read error: %v", err)
				} else {
					log.Infof("Control WS connection closed: %v", err)
				}
				break
			}
			if mt != websocket.TextMessage {
				log.Debugf("Ignoring non-text Control WS message type: %d", mt)
				continue
			}
			session.HandleMessage(ctx, msg)
		}

		cancel()
		close(done)
		bus.Unsubscribe(sub)
		wg.Wait()
		log.Infof("Control WebSocket disconnected: %s", conn.RemoteAddr())
	}
}

func writeLoop(conn *websocket.Conn, sub *events.Subscription, replies <-chan Message, done <-chan struct{}, log customlog.Logger) {
	write := func(m Message) bool {
		data, err := json.Marshal(m)
		if err != nil {
			log.Errorf("Failed to encode %s message: %v", m.Event, err)
			return true
		}
		if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
			log.Warnf("Control WS SetWriteDeadline error: %v", err)
			return false
		}
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Warnf("Control WS write error: %v", err)
			return false
		}
		return true
	}

	for {
		select {
		case <-done:
			return
		case m := <-replies:
			if !write(m) {
				_ = conn.Close()
				return
			}
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			for _, m := range EventMessages(ev) {
				if !write(m) {
					_ = conn.Close()
					return
				}
			}
		}
	}
}
