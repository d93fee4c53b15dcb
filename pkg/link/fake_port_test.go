package link

import (
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/open-rov/rovbridge/pkg/events"
)

// fakePort stands in for a serial device. The device side writes lines with
// send and hangs up with hangup; everything the host writes lands on written.
type fakePort struct {
	pr *io.PipeReader
	pw *io.PipeWriter

	mu       sync.Mutex
	writeErr error
	closed   bool

	written chan []byte
}

func newFakePort() *fakePort {
	pr, pw := io.Pipe()
	return &fakePort{pr: pr, pw: pw, written: make(chan []byte, 64)}
}

func (p *fakePort) Read(b []byte) (int, error) {
	return p.pr.Read(b)
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	err := p.writeErr
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return 0, errors.New("port closed")
	}
	if err != nil {
		return 0, err
	}
	cp := append([]byte(nil), b...)
	p.written <- cp
	return len(b), nil
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return p.pr.Close()
}

func (p *fakePort) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *fakePort) failWrites(err error) {
	p.mu.Lock()
	p.writeErr = err
	p.mu.Unlock()
}

// send pushes raw bytes from the device; it returns once the reader took them.
func (p *fakePort) send(s string) error {
	_, err := p.pw.Write([]byte(s))
	return err
}

func (p *fakePort) hangup() {
	_ = p.pw.Close()
}

// fakeOpener hands out fake ports keyed by path and records every open.
type fakeOpener struct {
	mu     sync.Mutex
	ports  map[string]*fakePort
	opened []string
	err    error
	gate   chan struct{}
}

func newFakeOpener() *fakeOpener {
	return &fakeOpener{ports: map[string]*fakePort{}}
}

func (o *fakeOpener) open(path string, _ int) (Port, error) {
	o.mu.Lock()
	gate := o.gate
	o.mu.Unlock()
	if gate != nil {
		<-gate
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return nil, o.err
	}
	p := newFakePort()
	o.ports[path] = p
	o.opened = append(o.opened, path)
	return p, nil
}

func (o *fakeOpener) port(path string) *fakePort {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.ports[path]
}

func nextEvent(t *testing.T, ch <-chan events.Event) events.Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "event channel closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return events.Event{}
}

func noEvent(t *testing.T, ch <-chan events.Event) {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if ok {
			t.Fatalf("unexpected event: %+v", ev)
		}
	case <-time.After(50 * time.Millisecond):
	}
}

func nextWrite(t *testing.T, p *fakePort) string {
	t.Helper()
	select {
	case b := <-p.written:
		return string(b)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for write")
	}
	return ""
}

func requireStatus(t *testing.T, ev events.Event, state State) {
	t.Helper()
	require.Equal(t, events.TypeStatus, ev.Type, "event: %+v", ev)
	require.Equal(t, string(state), ev.State, "event: %+v", ev)
}
