package api

import (
	"context"
	"sync"

	"github.com/open-rov/rovbridge/pkg/events"
	"github.com/open-rov/rovbridge/pkg/link"
	"github.com/open-rov/rovbridge/pkg/mixer"
	"github.com/open-rov/rovbridge/pkg/vehicle"
	"github.com/open-rov/rovbridge/services"
)

type fakeBridge struct {
	mu sync.Mutex

	cfg       vehicle.Configuration
	frames    []mixer.PilotFrame
	connects  []string
	disconns  []string
	thrusters []ThrusterTestRequest
	grippers  []GripperTestRequest
	links     map[string]link.Status
	ports     []events.PortInfo
	portsErr  error
	connErr   error
}

var _ Bridge = (*fakeBridge)(nil)

func newFakeBridge() *fakeBridge {
	return &fakeBridge{
		cfg: vehicle.Default(),
		links: map[string]link.Status{
			link.Primary: {State: link.StateDisconnected, Message: "Link is disconnected."},
			"depth":      {State: link.StateDisconnected, Message: "Link is disconnected."},
		},
	}
}

func (f *fakeBridge) GetConfiguration() vehicle.Configuration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cfg.Clone()
}

func (f *fakeBridge) UpdateConfiguration(u vehicle.Update) vehicle.Configuration {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cfg = f.cfg.Merge(u)
	return f.cfg.Clone()
}

func (f *fakeBridge) OnPilotFrame(frame mixer.PilotFrame) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, frame)
}

func (f *fakeBridge) QueryLinkStatus(name string) (link.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.links[name]
	if !ok {
		return link.Status{}, link.ErrUnknownLink
	}
	return st, nil
}

func (f *fakeBridge) LinkNames() []string {
	return []string{link.Primary, "depth"}
}

func (f *fakeBridge) FindComPorts(context.Context) ([]events.PortInfo, error) {
	return f.ports, f.portsErr
}

func (f *fakeBridge) Connect(ctx context.Context, path string) error {
	return f.ConnectLink(ctx, link.Primary, path)
}

func (f *fakeBridge) Disconnect() error {
	return f.DisconnectLink(link.Primary)
}

func (f *fakeBridge) ConnectLink(_ context.Context, name, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.links[name]; !ok {
		return link.ErrUnknownLink
	}
	if path == "" {
		return link.ErrEmptyPath
	}
	if f.connErr != nil {
		return f.connErr
	}
	f.connects = append(f.connects, name+"@"+path)
	f.links[name] = link.Status{State: link.StateConnected, Path: path, Message: "Connected successfully on " + path + "."}
	return nil
}

func (f *fakeBridge) DisconnectLink(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.links[name]; !ok {
		return link.ErrUnknownLink
	}
	f.disconns = append(f.disconns, name)
	f.links[name] = link.Status{State: link.StateDisconnected, Message: "Link has been disconnected."}
	return nil
}

func (f *fakeBridge) ConnectionStatus() services.ConnectionStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.links[link.Primary].State == link.StateConnected {
		return services.ConnectionStatus{Status: "connected", Message: "ROV is connected."}
	}
	return services.ConnectionStatus{Status: "disconnected", Message: "ROV is disconnected."}
}

func (f *fakeBridge) TestThruster(index int, value float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.thrusters = append(f.thrusters, ThrusterTestRequest{ThrusterIndex: index, Value: value})
}

func (f *fakeBridge) TestGripper(slot, value int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.grippers = append(f.grippers, GripperTestRequest{GripperIndex: slot, Value: value})
}
