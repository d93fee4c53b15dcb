package link

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/open-rov/rovbridge/pkg/events"
)

func openLink(t *testing.T) (*Link, *fakeOpener, *fakePort) {
	t.Helper()
	op := newFakeOpener()
	l := New("primary", Options{Opener: op.open})
	t.Cleanup(l.Shutdown)

	require.NoError(t, l.Open(context.Background(), "/dev/ttyUSB0", DefaultBaudRate))
	requireStatus(t, nextEvent(t, l.Events()), StateConnecting)
	ev := nextEvent(t, l.Events())
	requireStatus(t, ev, StateConnected)
	assert.Equal(t, "/dev/ttyUSB0", ev.Path)
	return l, op, op.port("/dev/ttyUSB0")
}

func TestOpenTransitionsThroughConnecting(t *testing.T) {
	l, _, _ := openLink(t)
	st := l.Status()
	assert.Equal(t, StateConnected, st.State)
	assert.Equal(t, "/dev/ttyUSB0", st.Path)
}

func TestOpenRejectsEmptyPath(t *testing.T) {
	l := New("primary", Options{Opener: newFakeOpener().open})
	defer l.Shutdown()

	err := l.Open(context.Background(), "", DefaultBaudRate)
	assert.ErrorIs(t, err, ErrEmptyPath)
	noEvent(t, l.Events())
	assert.Equal(t, StateDisconnected, l.Status().State)
}

func TestOpenFailureEntersError(t *testing.T) {
	op := newFakeOpener()
	op.err = errors.New("permission denied")
	l := New("primary", Options{Opener: op.open})
	defer l.Shutdown()

	err := l.Open(context.Background(), "/dev/ttyUSB0", DefaultBaudRate)
	require.Error(t, err)

	requireStatus(t, nextEvent(t, l.Events()), StateConnecting)
	ev := nextEvent(t, l.Events())
	requireStatus(t, ev, StateError)
	assert.Contains(t, ev.Message, "permission denied")
	assert.Equal(t, StateError, l.Status().State)

	// Close from Error returns to Disconnected with a single event.
	require.NoError(t, l.Close())
	requireStatus(t, nextEvent(t, l.Events()), StateDisconnected)
	noEvent(t, l.Events())
}

func TestTelemetryAndMalformedLines(t *testing.T) {
	l, _, port := openLink(t)

	require.NoError(t, port.send("{\"depth\":1.5}\r\n"))
	ev := nextEvent(t, l.Events())
	require.Equal(t, events.TypeTelemetry, ev.Type)
	assert.JSONEq(t, `{"depth":1.5}`, string(ev.Payload))

	require.NoError(t, port.send("\n   \n"))
	require.NoError(t, port.send("boot: esp32 ready\n"))
	ev = nextEvent(t, l.Events())
	require.Equal(t, events.TypeLog, ev.Type)
	assert.Equal(t, events.LevelWarn, ev.Level)
	assert.Contains(t, ev.Message, "boot: esp32 ready")

	// The port stays open after garbage.
	require.NoError(t, port.send("[1,2,3]\n"))
	ev = nextEvent(t, l.Events())
	require.Equal(t, events.TypeTelemetry, ev.Type)
	assert.Equal(t, "[1,2,3]", string(ev.Payload))
	assert.False(t, port.isClosed())
	assert.Equal(t, StateConnected, l.Status().State)
}

func TestPartialLinesAreJoined(t *testing.T) {
	l, _, port := openLink(t)

	require.NoError(t, port.send(`{"temp":`))
	noEvent(t, l.Events())
	require.NoError(t, port.send("21}\n"))
	ev := nextEvent(t, l.Events())
	require.Equal(t, events.TypeTelemetry, ev.Type)
	assert.JSONEq(t, `{"temp":21}`, string(ev.Payload))
}

func TestWriteFramesOneLinePerCommand(t *testing.T) {
	l, _, port := openLink(t)

	frame := map[string]any{"esc": []float64{0.5, -0.5}, "servo": []int{0, 0, 0, 0}, "lights": []int{1, 1}}
	require.True(t, l.Write(frame))
	assert.Equal(t, "{\"esc\":[0.5,-0.5],\"lights\":[1,1],\"servo\":[0,0,0,0]}\n", nextWrite(t, port))
}

func TestWriteWhenDisconnectedIsSilent(t *testing.T) {
	l := New("primary", Options{Opener: newFakeOpener().open})
	defer l.Shutdown()

	assert.False(t, l.Write(map[string]int{"x": 1}))
	noEvent(t, l.Events())
}

func TestWriteErrorEntersError(t *testing.T) {
	l, _, port := openLink(t)
	port.failWrites(errors.New("device unplugged"))

	l.Write(map[string]int{"x": 1})
	ev := nextEvent(t, l.Events())
	requireStatus(t, ev, StateError)
	assert.Contains(t, ev.Message, "device unplugged")
	assert.True(t, port.isClosed())

	assert.False(t, l.Write(map[string]int{"x": 2}))
}

func TestCloseIsIdempotent(t *testing.T) {
	l, _, port := openLink(t)

	require.NoError(t, l.Close())
	requireStatus(t, nextEvent(t, l.Events()), StateDisconnected)
	assert.True(t, port.isClosed())

	require.NoError(t, l.Close())
	ev := nextEvent(t, l.Events())
	assert.Equal(t, events.TypeLog, ev.Type)
	assert.Equal(t, "Already disconnected.", ev.Message)
	noEvent(t, l.Events())
	assert.Equal(t, StateDisconnected, l.Status().State)
}

func TestNoTelemetryAfterClose(t *testing.T) {
	l, _, port := openLink(t)

	require.NoError(t, l.Close())
	requireStatus(t, nextEvent(t, l.Events()), StateDisconnected)

	assert.Error(t, port.send("{\"late\":true}\n"))
	noEvent(t, l.Events())
}

func TestDeviceHangupDisconnects(t *testing.T) {
	l, _, port := openLink(t)

	port.hangup()
	ev := nextEvent(t, l.Events())
	requireStatus(t, ev, StateDisconnected)
	assert.Contains(t, ev.Message, "lost")
	assert.True(t, port.isClosed())
}

func TestOpenSamePathIsNoop(t *testing.T) {
	l, op, _ := openLink(t)

	require.NoError(t, l.Open(context.Background(), "/dev/ttyUSB0", DefaultBaudRate))
	ev := nextEvent(t, l.Events())
	assert.Equal(t, events.TypeLog, ev.Type)
	assert.Equal(t, "Already connected to /dev/ttyUSB0.", ev.Message)
	noEvent(t, l.Events())
	assert.Len(t, op.opened, 1)
}

func TestOpenDifferentPathFailsFast(t *testing.T) {
	l, op, port := openLink(t)

	err := l.Open(context.Background(), "/dev/ttyUSB1", DefaultBaudRate)
	assert.ErrorIs(t, err, ErrAlreadyConnected)
	requireStatus(t, nextEvent(t, l.Events()), StateError)
	assert.True(t, port.isClosed())
	assert.Len(t, op.opened, 1)
}

func TestOpenWhileConnectingIsRejected(t *testing.T) {
	op := newFakeOpener()
	op.gate = make(chan struct{})
	l := New("primary", Options{Opener: op.open})
	defer l.Shutdown()

	done := make(chan error, 1)
	go func() { done <- l.Open(context.Background(), "/dev/ttyUSB0", DefaultBaudRate) }()
	requireStatus(t, nextEvent(t, l.Events()), StateConnecting)

	assert.ErrorIs(t, l.Open(context.Background(), "/dev/ttyUSB0", DefaultBaudRate), ErrOpenInProgress)

	close(op.gate)
	require.NoError(t, <-done)
	requireStatus(t, nextEvent(t, l.Events()), StateConnected)
}

func TestCloseDuringOpenAbortsIt(t *testing.T) {
	op := newFakeOpener()
	op.gate = make(chan struct{})
	l := New("primary", Options{Opener: op.open})
	defer l.Shutdown()

	done := make(chan error, 1)
	go func() { done <- l.Open(context.Background(), "/dev/ttyUSB0", DefaultBaudRate) }()
	requireStatus(t, nextEvent(t, l.Events()), StateConnecting)

	require.NoError(t, l.Close())
	requireStatus(t, nextEvent(t, l.Events()), StateDisconnected)

	close(op.gate)
	assert.ErrorIs(t, <-done, ErrOpenAborted)
	assert.True(t, op.port("/dev/ttyUSB0").isClosed())
	noEvent(t, l.Events())
	assert.Equal(t, StateDisconnected, l.Status().State)
}

func TestShutdownClosesEvents(t *testing.T) {
	l, _, port := openLink(t)

	l.Shutdown()
	requireStatus(t, nextEvent(t, l.Events()), StateDisconnected)
	_, ok := <-l.Events()
	assert.False(t, ok)
	assert.True(t, port.isClosed())
	assert.ErrorIs(t, l.Open(context.Background(), "/dev/ttyUSB0", DefaultBaudRate), ErrShutdown)
}
