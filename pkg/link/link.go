// Package link owns the serial connections to the vehicle: one Link per
// device and a Manager over the fixed set of named links.
package link

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/open-rov/rovbridge/pkg/events"
	customlog "github.com/open-rov/rovbridge/pkg/log"
)

// State is the lifecycle state of one serial link.
type State string

const (
	StateDisconnected State = "Disconnected"
	StateConnecting   State = "Connecting"
	StateConnected    State = "Connected"
	StateError        State = "Error"
)

// Status is a point-in-time snapshot of a link.
type Status struct {
	State   State  `json:"state"`
	Path    string `json:"path,omitempty"`
	Message string `json:"message"`
}

// Common errors
var (
	ErrEmptyPath        = errors.New("no serial port path provided")
	ErrAlreadyConnected = errors.New("link is connected to a different port")
	ErrOpenInProgress   = errors.New("link open already in progress")
	ErrOpenAborted      = errors.New("link open aborted by close")
	ErrShutdown         = errors.New("link is shut down")
)

const (
	defaultWriteQueue  = 8
	defaultEventBuffer = 256
	maxLineSize        = 1024 * 1024
	closeWaitTimeout   = 2 * time.Second
)

// Options configures a Link.
type Options struct {
	Opener      Opener
	WriteQueue  int
	EventBuffer int
	Logger      customlog.Logger
}

// session is one open handle. A new session is created on every successful
// open so nothing from a previous connection can leak into the next.
type session struct {
	path   string
	port   Port
	writes chan []byte
	done   chan struct{}
	wg     sync.WaitGroup
}

// Link owns one physical serial connection. Every status transition,
// telemetry line and log line is emitted on Events() in the order it happened.
type Link struct {
	name       string
	opener     Opener
	logger     customlog.Logger
	writeQueue int
	metrics    *linkMetrics

	mu       sync.Mutex
	status   Status
	session  *session
	attempt  uint64 // id of the in-flight open, 0 when none
	attempts uint64
	shutdown bool
	events   chan events.Event
}

// New creates a disconnected link.
func New(name string, opts Options) *Link {
	if opts.Opener == nil {
		opts.Opener = SystemOpener
	}
	if opts.WriteQueue <= 0 {
		opts.WriteQueue = defaultWriteQueue
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = defaultEventBuffer
	}
	if opts.Logger == nil {
		opts.Logger = customlog.NewNop()
	}

	return &Link{
		name:       name,
		opener:     opts.Opener,
		logger:     opts.Logger.WithField("link", name),
		writeQueue: opts.WriteQueue,
		metrics:    newLinkMetrics(name),
		status:     Status{State: StateDisconnected, Message: "Link is disconnected."},
		events:     make(chan events.Event, opts.EventBuffer),
	}
}

// Name returns the link name.
func (l *Link) Name() string {
	return l.name
}

// Events is closed by Shutdown.
func (l *Link) Events() <-chan events.Event {
	return l.events
}

// Status returns the current state.
func (l *Link) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.status
}

// Open connects to path. Opening the path that is already connected is a
// no-op; opening a different one while connected drops the link into Error.
func (l *Link) Open(ctx context.Context, path string, baudRate int) error {
	if path == "" {
		return ErrEmptyPath
	}

	l.mu.Lock()
	if l.shutdown {
		l.mu.Unlock()
		return ErrShutdown
	}
	switch l.status.State {
	case StateConnected:
		current := l.status.Path
		if current == path {
			l.logLocked(events.LevelInfo, fmt.Sprintf("Already connected to %s.", path))
			l.mu.Unlock()
			return nil
		}
		s := l.detachLocked()
		l.setStateLocked(StateError, current,
			fmt.Sprintf("Refusing to open %s while connected to %s.", path, current))
		l.mu.Unlock()
		l.waitSession(s)
		return fmt.Errorf("%w: %s", ErrAlreadyConnected, current)
	case StateConnecting:
		l.mu.Unlock()
		return ErrOpenInProgress
	}

	l.attempts++
	attempt := l.attempts
	l.attempt = attempt
	l.setStateLocked(StateConnecting, path, fmt.Sprintf("Attempting to connect to %s...", path))
	l.mu.Unlock()

	var (
		port Port
		err  error
	)
	if err = ctx.Err(); err == nil {
		port, err = l.opener(path, baudRate)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.attempt != attempt {
		// Close or Shutdown ran while the port was opening.
		if port != nil {
			_ = port.Close()
		}
		return ErrOpenAborted
	}
	l.attempt = 0

	if err != nil {
		l.setStateLocked(StateError, path, fmt.Sprintf("Failed to open %s: %v", path, err))
		return fmt.Errorf("opening link %s on %s: %w", l.name, path, err)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		_ = port.Close()
		l.setStateLocked(StateDisconnected, "", fmt.Sprintf("Connection attempt to %s cancelled.", path))
		return ctxErr
	}

	s := &session{
		path:   path,
		port:   port,
		writes: make(chan []byte, l.writeQueue),
		done:   make(chan struct{}),
	}
	l.session = s
	l.setStateLocked(StateConnected, path, fmt.Sprintf("Connected successfully on %s.", path))

	s.wg.Add(2)
	go l.readLoop(s)
	go l.writeLoop(s)
	return nil
}

// Close disconnects the link. Closing an already closed link only logs.
// Any write in flight is aborted and no telemetry from the old session is
// emitted after Close returns.
func (l *Link) Close() error {
	l.mu.Lock()
	s := l.closeLocked("Link has been disconnected.")
	l.mu.Unlock()
	l.waitSession(s)
	return nil
}

// Shutdown closes the link for good and closes the Events channel.
func (l *Link) Shutdown() {
	l.mu.Lock()
	if l.shutdown {
		l.mu.Unlock()
		return
	}
	var s *session
	if l.session != nil || l.attempt != 0 {
		s = l.closeLocked("Link shut down.")
	}
	l.shutdown = true
	close(l.events)
	l.mu.Unlock()
	l.waitSession(s)
}

// Write serialises frame as one JSON line and queues it for the port. It is
// best effort: when the link is not connected the frame is silently dropped,
// and when the queue is full the oldest queued frame gives way.
// It reports whether the frame was queued.
func (l *Link) Write(frame any) bool {
	l.mu.Lock()
	s := l.session
	connected := s != nil && l.status.State == StateConnected
	l.mu.Unlock()
	if !connected {
		return false
	}

	data, err := json.Marshal(frame)
	if err != nil {
		l.logger.Warnf("Dropping unserialisable frame: %v", err)
		return false
	}
	data = append(data, '\n')

	select {
	case s.writes <- data:
		return true
	default:
	}
	select {
	case <-s.writes:
		l.metrics.dropped()
	default:
	}
	select {
	case s.writes <- data:
		return true
	default:
		l.metrics.dropped()
		return false
	}
}

func (l *Link) readLoop(s *session) {
	defer s.wg.Done()

	scanner := bufio.NewScanner(s.port)
	scanner.Buffer(make([]byte, 0, 4096), maxLineSize)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		if !l.handleLine(s, line) {
			return
		}
	}
	err := scanner.Err()

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.session != s {
		return
	}
	l.detachLocked()
	if err == nil || errors.Is(err, io.EOF) {
		l.setStateLocked(StateDisconnected, "", fmt.Sprintf("Connection to %s lost.", s.path))
		return
	}
	l.setStateLocked(StateError, s.path, fmt.Sprintf("Serial port error on %s: %v", s.path, err))
}

// handleLine emits one received line. It returns false once the session is stale.
func (l *Link) handleLine(s *session, line string) bool {
	var payload json.RawMessage
	parseErr := json.Unmarshal([]byte(line), &payload)

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.session != s {
		return false
	}
	if parseErr != nil {
		l.metrics.malformed()
		l.logLocked(events.LevelWarn,
			fmt.Sprintf("Error parsing JSON from device: %v. Received malformed data: %s", parseErr, line))
		return true
	}
	l.metrics.telemetry()
	l.emitLocked(events.Event{Type: events.TypeTelemetry, Payload: payload})
	return true
}

func (l *Link) writeLoop(s *session) {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case data := <-s.writes:
			if _, err := s.port.Write(data); err != nil {
				l.mu.Lock()
				if l.session == s {
					l.detachLocked()
					l.setStateLocked(StateError, s.path, fmt.Sprintf("Error writing to %s: %v", s.path, err))
				}
				l.mu.Unlock()
				return
			}
			l.metrics.written()
		}
	}
}

// closeLocked tears down whatever is active and returns the session to wait on.
func (l *Link) closeLocked(message string) *session {
	if l.attempt != 0 {
		l.attempt = 0
		l.setStateLocked(StateDisconnected, "", "Connection attempt cancelled.")
		return nil
	}
	if l.session == nil {
		if l.status.State == StateError {
			l.setStateLocked(StateDisconnected, "", message)
			return nil
		}
		l.logLocked(events.LevelInfo, "Already disconnected.")
		return nil
	}
	s := l.detachLocked()
	l.setStateLocked(StateDisconnected, "", message)
	return s
}

// detachLocked stops the current session and closes its port.
func (l *Link) detachLocked() *session {
	s := l.session
	if s == nil {
		return nil
	}
	l.session = nil
	close(s.done)
	if err := s.port.Close(); err != nil {
		l.logLocked(events.LevelWarn, fmt.Sprintf("Error closing %s: %v", s.path, err))
	}
	return s
}

func (l *Link) waitSession(s *session) {
	if s == nil {
		return
	}
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(closeWaitTimeout):
		l.logger.Warnf("Timed out waiting for %s I/O to stop", s.path)
	}
}

func (l *Link) setStateLocked(state State, path, message string) {
	l.status = Status{State: state, Path: path, Message: message}
	if state == StateError {
		l.logger.Errorf("%s", message)
	} else {
		l.logger.Infof("%s", message)
	}
	l.emitLocked(events.Event{
		Type:    events.TypeStatus,
		State:   string(state),
		Path:    path,
		Message: message,
	})
}

func (l *Link) logLocked(level, message string) {
	switch level {
	case events.LevelError:
		l.logger.Errorf("%s", message)
	case events.LevelWarn:
		l.logger.Warnf("%s", message)
	default:
		l.logger.Infof("%s", message)
	}
	l.emitLocked(events.Log(level, message))
}

func (l *Link) emitLocked(ev events.Event) {
	if l.shutdown {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	l.events <- ev
}
