package link

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/open-rov/rovbridge/pkg/events"
	customlog "github.com/open-rov/rovbridge/pkg/log"
)

// Primary is the link that carries thruster commands.
const Primary = "primary"

var (
	// ErrUnknownLink is returned for a link name the manager was not built with.
	ErrUnknownLink = errors.New("unknown link")
	// ErrPathInUse is returned when another link holds the requested device.
	ErrPathInUse = errors.New("serial port is in use by another link")
)

// Config describes one named link.
type Config struct {
	Name       string
	BaudRate   int
	WriteQueue int
}

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	Links      []Config
	Opener     Opener
	Enumerator Enumerator
	Bus        events.Publisher
	Logger     customlog.Logger
}

type managedLink struct {
	link     *Link
	baudRate int
	// ops sequences Connect and Disconnect on this link.
	ops sync.Mutex
}

// Manager owns the fixed set of named links and republishes their events on
// the bus tagged with the link name.
type Manager struct {
	links     map[string]*managedLink
	names     []string
	enumerate Enumerator
	bus       events.Publisher
	logger    customlog.Logger

	// claimsMu guards claims, the paths with a Connect in flight, keyed to
	// the link name making the attempt.
	claimsMu sync.Mutex
	claims   map[string]string

	forwarders sync.WaitGroup
	stopOnce   sync.Once
}

// NewManager builds one Link per configured entry and starts forwarding
// their events. With no entries a single primary link is created.
func NewManager(opts ManagerOptions) (*Manager, error) {
	if opts.Bus == nil {
		return nil, errors.New("link manager needs an event bus")
	}
	if opts.Logger == nil {
		opts.Logger = customlog.NewNop()
	}
	if opts.Enumerator == nil {
		opts.Enumerator = SystemEnumerator
	}
	if len(opts.Links) == 0 {
		opts.Links = []Config{{Name: Primary}}
	}

	m := &Manager{
		links:     make(map[string]*managedLink, len(opts.Links)),
		claims:    make(map[string]string),
		enumerate: opts.Enumerator,
		bus:       opts.Bus,
		logger:    opts.Logger,
	}
	for _, c := range opts.Links {
		if c.Name == "" {
			return nil, errors.New("link name must not be empty")
		}
		if _, dup := m.links[c.Name]; dup {
			return nil, fmt.Errorf("duplicate link name %q", c.Name)
		}
		baud := c.BaudRate
		if baud <= 0 {
			baud = DefaultBaudRate
		}
		l := New(c.Name, Options{
			Opener:     opts.Opener,
			WriteQueue: c.WriteQueue,
			Logger:     opts.Logger,
		})
		m.links[c.Name] = &managedLink{link: l, baudRate: baud}
		m.names = append(m.names, c.Name)

		m.forwarders.Add(1)
		go m.forward(c.Name, l)
	}
	return m, nil
}

func (m *Manager) forward(name string, l *Link) {
	defer m.forwarders.Done()
	for ev := range l.Events() {
		ev.Link = name
		m.bus.Publish(ev)
	}
}

// Names returns the link names in configuration order.
func (m *Manager) Names() []string {
	out := make([]string, len(m.names))
	copy(out, m.names)
	return out
}

// ListPorts enumerates the serial ports on the host.
func (m *Manager) ListPorts(ctx context.Context) ([]events.PortInfo, error) {
	type result struct {
		ports []events.PortInfo
		err   error
	}
	done := make(chan result, 1)
	go func() {
		ports, err := m.enumerate()
		done <- result{ports, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("enumerating serial ports: %w", r.err)
		}
		if r.ports == nil {
			r.ports = []events.PortInfo{}
		}
		return r.ports, nil
	}
}

// Connect opens the named link on path. A link connected to a different
// path is closed first and its Disconnected status is published before the
// new attempt starts. A path held by another link is refused with
// ErrPathInUse.
func (m *Manager) Connect(ctx context.Context, name, path string) error {
	ml, err := m.get(name)
	if err != nil {
		return err
	}
	if path == "" {
		return ErrEmptyPath
	}

	ml.ops.Lock()
	defer ml.ops.Unlock()

	if err := m.claim(name, path); err != nil {
		return err
	}
	defer m.release(path)

	if st := ml.link.Status(); st.State == StateConnected && st.Path != path {
		m.logger.Infof("Switching link %s from %s to %s", name, st.Path, path)
		if err := ml.link.Close(); err != nil {
			return fmt.Errorf("closing link %s: %w", name, err)
		}
	}
	return ml.link.Open(ctx, path, ml.baudRate)
}

// Disconnect closes the named link.
func (m *Manager) Disconnect(name string) error {
	ml, err := m.get(name)
	if err != nil {
		return err
	}
	ml.ops.Lock()
	defer ml.ops.Unlock()
	return ml.link.Close()
}

// Send queues frame on the named link. It reports whether the frame was
// queued; a link that is not connected drops it silently.
func (m *Manager) Send(name string, frame any) (bool, error) {
	ml, err := m.get(name)
	if err != nil {
		return false, err
	}
	return ml.link.Write(frame), nil
}

// Status returns the named link's current status.
func (m *Manager) Status(name string) (Status, error) {
	ml, err := m.get(name)
	if err != nil {
		return Status{}, err
	}
	return ml.link.Status(), nil
}

// Shutdown closes every link and waits for their events to be published.
func (m *Manager) Shutdown() {
	m.stopOnce.Do(func() {
		var wg sync.WaitGroup
		for _, name := range m.names {
			ml := m.links[name]
			wg.Add(1)
			go func() {
				defer wg.Done()
				ml.ops.Lock()
				defer ml.ops.Unlock()
				ml.link.Shutdown()
			}()
		}
		wg.Wait()
		m.forwarders.Wait()
	})
}

// claim reserves path for name until release. It fails when another link is
// connecting, or connected, to the same path.
func (m *Manager) claim(name, path string) error {
	m.claimsMu.Lock()
	defer m.claimsMu.Unlock()

	if holder, ok := m.claims[path]; ok {
		return fmt.Errorf("%w: %s is being opened by link %s", ErrPathInUse, path, holder)
	}
	for _, other := range m.names {
		if other == name {
			continue
		}
		st := m.links[other].link.Status()
		if st.Path != path {
			continue
		}
		if st.State == StateConnected || st.State == StateConnecting {
			return fmt.Errorf("%w: %s is held by link %s", ErrPathInUse, path, other)
		}
	}
	m.claims[path] = name
	return nil
}

func (m *Manager) release(path string) {
	m.claimsMu.Lock()
	delete(m.claims, path)
	m.claimsMu.Unlock()
}

func (m *Manager) get(name string) (*managedLink, error) {
	ml, ok := m.links[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownLink, name)
	}
	return ml, nil
}
