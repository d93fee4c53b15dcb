package zeromq

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pebbe/zmq4"

	customlog "github.com/open-rov/rovbridge/pkg/log"
)

// ErrSenderClosed is returned once the PUB socket has been closed.
var ErrSenderClosed = errors.New("zeromq sender is closed")

// Sender publishes topic-framed messages.
type Sender interface {
	PublishMessage(topic string, message []byte) error
	Close()
}

// MessageSender owns a bound PUB socket and its context.
type MessageSender struct {
	ctx     *zmq4.Context
	socket  *zmq4.Socket
	logger  customlog.Logger
	running bool
	mu      sync.Mutex
}

// NewMessageSender creates a PUB socket bound to address.
func NewMessageSender(address string, logger customlog.Logger) (*MessageSender, error) {
	ctx, err := zmq4.NewContext()
	if err != nil {
		return nil, fmt.Errorf("failed to create ZMQ context: %w", err)
	}

	socket, err := ctx.NewSocket(zmq4.PUB)
	if err != nil {
		ctx.Term()
		return nil, fmt.Errorf("failed to create PUB socket: %w", err)
	}

	// Unsent telemetry is worthless after shutdown.
	if err := socket.SetLinger(0); err != nil {
		socket.Close()
		ctx.Term()
		return nil, fmt.Errorf("failed to set linger option: %w", err)
	}

	if err := socket.Bind(address); err != nil {
		socket.Close()
		ctx.Term()
		return nil, fmt.Errorf("failed to bind to %s: %w", address, err)
	}

	logger.Infof("ZeroMQ telemetry publisher bound on %s", address)

	return &MessageSender{
		ctx:     ctx,
		socket:  socket,
		logger:  logger,
		running: true,
	}, nil
}

// PublishMessage sends the topic frame followed by the message frame.
func (s *MessageSender) PublishMessage(topic string, message []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return ErrSenderClosed
	}

	if _, err := s.socket.Send(topic, zmq4.SNDMORE); err != nil {
		return fmt.Errorf("failed to send topic: %w", err)
	}
	if _, err := s.socket.SendBytes(message, 0); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// Close releases the socket and the context.
func (s *MessageSender) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.running = false
	if s.socket != nil {
		s.socket.Close()
		s.socket = nil
	}
	if s.ctx != nil {
		s.ctx.Term()
		s.ctx = nil
	}
}
