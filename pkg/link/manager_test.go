package link

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/open-rov/rovbridge/pkg/events"
)

func newTestManager(t *testing.T, enumerate Enumerator) (*Manager, *fakeOpener, *events.Subscription) {
	t.Helper()
	bus := events.NewBus()
	sub := bus.Subscribe(256)
	op := newFakeOpener()

	m, err := NewManager(ManagerOptions{
		Links:      []Config{{Name: Primary}, {Name: "depth", BaudRate: 9600}},
		Opener:     op.open,
		Enumerator: enumerate,
		Bus:        bus,
	})
	require.NoError(t, err)
	t.Cleanup(m.Shutdown)
	return m, op, sub
}

func TestManagerRejectsBadConfig(t *testing.T) {
	_, err := NewManager(ManagerOptions{})
	assert.Error(t, err)

	_, err = NewManager(ManagerOptions{
		Bus:   events.NewBus(),
		Links: []Config{{Name: "a"}, {Name: "a"}},
	})
	assert.Error(t, err)
}

func TestManagerDefaultsToPrimary(t *testing.T) {
	m, err := NewManager(ManagerOptions{Bus: events.NewBus(), Opener: newFakeOpener().open})
	require.NoError(t, err)
	defer m.Shutdown()
	assert.Equal(t, []string{Primary}, m.Names())
}

func TestManagerUnknownLink(t *testing.T) {
	m, _, _ := newTestManager(t, nil)

	assert.ErrorIs(t, m.Connect(context.Background(), "sonar", "/dev/ttyUSB0"), ErrUnknownLink)
	assert.ErrorIs(t, m.Disconnect("sonar"), ErrUnknownLink)
	_, err := m.Send("sonar", 1)
	assert.ErrorIs(t, err, ErrUnknownLink)
	_, err = m.Status("sonar")
	assert.ErrorIs(t, err, ErrUnknownLink)
}

func TestManagerTagsEventsWithLinkName(t *testing.T) {
	m, op, sub := newTestManager(t, nil)

	require.NoError(t, m.Connect(context.Background(), "depth", "/dev/ttyACM0"))
	requireStatus(t, nextEvent(t, sub.C), StateConnecting)
	ev := nextEvent(t, sub.C)
	requireStatus(t, ev, StateConnected)
	assert.Equal(t, "depth", ev.Link)

	require.NoError(t, op.port("/dev/ttyACM0").send("{\"depth\":3}\n"))
	ev = nextEvent(t, sub.C)
	assert.Equal(t, events.TypeTelemetry, ev.Type)
	assert.Equal(t, "depth", ev.Link)

	st, err := m.Status(Primary)
	require.NoError(t, err)
	assert.Equal(t, StateDisconnected, st.State)
}

func TestManagerSwitchesPathInOrder(t *testing.T) {
	m, op, sub := newTestManager(t, nil)
	ctx := context.Background()

	require.NoError(t, m.Connect(ctx, Primary, "/dev/ttyUSB0"))
	requireStatus(t, nextEvent(t, sub.C), StateConnecting)
	requireStatus(t, nextEvent(t, sub.C), StateConnected)

	require.NoError(t, m.Connect(ctx, Primary, "/dev/ttyUSB1"))
	requireStatus(t, nextEvent(t, sub.C), StateDisconnected)
	requireStatus(t, nextEvent(t, sub.C), StateConnecting)
	ev := nextEvent(t, sub.C)
	requireStatus(t, ev, StateConnected)
	assert.Equal(t, "/dev/ttyUSB1", ev.Path)

	assert.True(t, op.port("/dev/ttyUSB0").isClosed())
	assert.False(t, op.port("/dev/ttyUSB1").isClosed())
}

func TestManagerRefusesPathHeldByAnotherLink(t *testing.T) {
	m, op, sub := newTestManager(t, nil)
	ctx := context.Background()

	require.NoError(t, m.Connect(ctx, Primary, "/dev/ttyUSB0"))
	requireStatus(t, nextEvent(t, sub.C), StateConnecting)
	requireStatus(t, nextEvent(t, sub.C), StateConnected)

	assert.ErrorIs(t, m.Connect(ctx, "depth", "/dev/ttyUSB0"), ErrPathInUse)
	noEvent(t, sub.C)
	assert.Equal(t, []string{"/dev/ttyUSB0"}, op.opened)
	st, err := m.Status("depth")
	require.NoError(t, err)
	assert.Equal(t, StateDisconnected, st.State)

	// Reconnecting the holder to its own path is still allowed.
	require.NoError(t, m.Connect(ctx, Primary, "/dev/ttyUSB0"))
	assert.Equal(t, events.TypeLog, nextEvent(t, sub.C).Type)

	require.NoError(t, m.Disconnect(Primary))
	requireStatus(t, nextEvent(t, sub.C), StateDisconnected)
	require.NoError(t, m.Connect(ctx, "depth", "/dev/ttyUSB0"))
	requireStatus(t, nextEvent(t, sub.C), StateConnecting)
	requireStatus(t, nextEvent(t, sub.C), StateConnected)
}

func TestManagerRefusesPathBeingOpened(t *testing.T) {
	m, op, sub := newTestManager(t, nil)
	ctx := context.Background()
	op.gate = make(chan struct{})

	done := make(chan error, 1)
	go func() { done <- m.Connect(ctx, Primary, "/dev/ttyUSB0") }()
	requireStatus(t, nextEvent(t, sub.C), StateConnecting)

	assert.ErrorIs(t, m.Connect(ctx, "depth", "/dev/ttyUSB0"), ErrPathInUse)

	close(op.gate)
	require.NoError(t, <-done)
	requireStatus(t, nextEvent(t, sub.C), StateConnected)
	assert.Equal(t, []string{"/dev/ttyUSB0"}, op.opened)
}

func TestManagerSendOnlyWhenConnected(t *testing.T) {
	m, op, sub := newTestManager(t, nil)

	queued, err := m.Send(Primary, map[string]int{"x": 1})
	require.NoError(t, err)
	assert.False(t, queued)

	require.NoError(t, m.Connect(context.Background(), Primary, "/dev/ttyUSB0"))
	nextEvent(t, sub.C)
	nextEvent(t, sub.C)

	queued, err = m.Send(Primary, map[string]int{"x": 1})
	require.NoError(t, err)
	assert.True(t, queued)
	assert.Equal(t, "{\"x\":1}\n", nextWrite(t, op.port("/dev/ttyUSB0")))

	require.NoError(t, m.Disconnect(Primary))
	requireStatus(t, nextEvent(t, sub.C), StateDisconnected)
}

func TestManagerListPorts(t *testing.T) {
	want := []events.PortInfo{{Path: "/dev/ttyUSB0", Manufacturer: "CP2102 USB to UART Bridge Controller"}}
	m, _, _ := newTestManager(t, func() ([]events.PortInfo, error) { return want, nil })

	got, err := m.ListPorts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestManagerListPortsErrors(t *testing.T) {
	m, _, _ := newTestManager(t, func() ([]events.PortInfo, error) { return nil, errors.New("no sysfs") })
	_, err := m.ListPorts(context.Background())
	assert.ErrorContains(t, err, "no sysfs")

	block := make(chan struct{})
	defer close(block)
	slow, _, _ := newTestManager(t, func() ([]events.PortInfo, error) {
		<-block
		return nil, nil
	})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = slow.ListPorts(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestManagerListPortsEmpty(t *testing.T) {
	m, _, _ := newTestManager(t, func() ([]events.PortInfo, error) { return nil, nil })
	got, err := m.ListPorts(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}
