package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/open-rov/rovbridge/pkg/events"
	"github.com/open-rov/rovbridge/pkg/link"
	customlog "github.com/open-rov/rovbridge/pkg/log"
	"github.com/open-rov/rovbridge/pkg/mixer"
	"github.com/open-rov/rovbridge/pkg/vehicle"
)

// LinkController is the part of the link manager the bridge drives.
type LinkController interface {
	ListPorts(ctx context.Context) ([]events.PortInfo, error)
	Connect(ctx context.Context, name, path string) error
	Disconnect(name string) error
	Send(name string, frame any) (bool, error)
	Status(name string) (link.Status, error)
	Names() []string
}

// ConnectionStatus is the primary link summary shown by the control surface.
type ConnectionStatus struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// BridgeOptions wires a BridgeService.
type BridgeOptions struct {
	Links  LinkController
	Config VehicleConfigService
	Bus    events.Publisher
	Logger customlog.Logger
	// ESCChannels is the hardware channel count; zero disables the
	// thruster count check on configuration updates.
	ESCChannels int
}

// BridgeService joins the control surface, the vehicle configuration and the
// serial links. Every failure it sees is turned into a log event.
type BridgeService struct {
	links       LinkController
	config      VehicleConfigService
	bus         events.Publisher
	logger      customlog.Logger
	escChannels int
}

// NewBridgeService creates the bridge from its collaborators.
func NewBridgeService(opts BridgeOptions) (*BridgeService, error) {
	if opts.Links == nil {
		return nil, errors.New("bridge service needs a link controller")
	}
	if opts.Config == nil {
		return nil, errors.New("bridge service needs a vehicle config service")
	}
	if opts.Bus == nil {
		return nil, errors.New("bridge service needs an event bus")
	}
	if opts.Logger == nil {
		opts.Logger = customlog.NewNop()
	}
	return &BridgeService{
		links:       opts.Links,
		config:      opts.Config,
		bus:         opts.Bus,
		logger:      opts.Logger,
		escChannels: opts.ESCChannels,
	}, nil
}

// GetConfiguration returns the current vehicle configuration.
func (b *BridgeService) GetConfiguration() vehicle.Configuration {
	return b.config.Current()
}

// UpdateConfiguration merges u, stores it and broadcasts the new configuration.
// Thruster counts that disagree with the hardware are accepted with a warning.
func (b *BridgeService) UpdateConfiguration(u vehicle.Update) vehicle.Configuration {
	next := b.config.Update(u)

	if b.escChannels > 0 && len(next.Thrusters) != b.escChannels {
		b.log(events.LevelWarn, fmt.Sprintf(
			"Configuration has %d thrusters but the vehicle has %d ESC channels; frames will carry %d values.",
			len(next.Thrusters), b.escChannels, len(next.Thrusters)))
	}

	payload, err := json.Marshal(next)
	if err != nil {
		b.logger.Errorf("Failed to encode configuration broadcast: %v", err)
		return next
	}
	b.bus.Publish(events.Event{Type: events.TypeConfig, Payload: payload})
	return next
}

// OnPilotFrame mixes f and sends the result on the primary link. Frames that
// arrive while the primary link is not connected are dropped.
func (b *BridgeService) OnPilotFrame(f mixer.PilotFrame) {
	if !b.primaryConnected() {
		return
	}
	cmd := mixer.Mix(f, b.config.Current())
	b.send(cmd)
}

// QueryLinkStatus returns the current status of the named link.
func (b *BridgeService) QueryLinkStatus(name string) (link.Status, error) {
	return b.links.Status(name)
}

// LinkNames lists the configured links.
func (b *BridgeService) LinkNames() []string {
	return b.links.Names()
}

// FindComPorts enumerates the serial ports and publishes the list.
func (b *BridgeService) FindComPorts(ctx context.Context) ([]events.PortInfo, error) {
	ports, err := b.links.ListPorts(ctx)
	if err != nil {
		b.log(events.LevelError, fmt.Sprintf("Failed to find COM ports: %v", err))
		return nil, err
	}
	b.bus.Publish(events.Event{Type: events.TypePorts, Ports: ports})
	return ports, nil
}

// Connect opens the primary link on path.
func (b *BridgeService) Connect(ctx context.Context, path string) error {
	return b.ConnectLink(ctx, link.Primary, path)
}

// Disconnect closes the primary link.
func (b *BridgeService) Disconnect() error {
	return b.DisconnectLink(link.Primary)
}

// ConnectLink opens the named link on path.
func (b *BridgeService) ConnectLink(ctx context.Context, name, path string) error {
	if path == "" {
		b.logLink(name, events.LevelError, "No COM port path was provided.")
		return link.ErrEmptyPath
	}
	if err := b.links.Connect(ctx, name, path); err != nil {
		b.logLink(name, events.LevelError, fmt.Sprintf("Failed to connect to %s: %v", path, err))
		return err
	}
	return nil
}

// DisconnectLink closes the named link.
func (b *BridgeService) DisconnectLink(name string) error {
	if err := b.links.Disconnect(name); err != nil {
		b.logLink(name, events.LevelError, fmt.Sprintf("Failed to disconnect: %v", err))
		return err
	}
	return nil
}

// ConnectionStatus summarises the primary link.
func (b *BridgeService) ConnectionStatus() ConnectionStatus {
	if b.primaryConnected() {
		return ConnectionStatus{Status: "connected", Message: "ROV is connected."}
	}
	return ConnectionStatus{Status: "disconnected", Message: "ROV is disconnected."}
}

// TestThruster spins one ESC from the configuration page. value is the slider
// position 0..100 with 50 as stop; every other channel is held at stop. An
// index outside the thruster list sends an all-stop frame.
func (b *BridgeService) TestThruster(index int, value float64) {
	if !b.primaryConnected() {
		return
	}
	cfg := b.config.Current()
	cmd := mixer.Neutral(len(cfg.Thrusters))
	if index >= 0 && index < len(cmd.ESC) {
		cmd.ESC[index] = sliderPower(value)
	}
	b.send(cmd)
}

// TestGripper drives both servo channels of gripper slot 1 or 2 to value.
// Any other slot sends neutral servos.
func (b *BridgeService) TestGripper(slot, value int) {
	if !b.primaryConnected() {
		return
	}
	cfg := b.config.Current()
	cmd := mixer.Neutral(len(cfg.Thrusters))
	v := servoValue(value)
	switch slot {
	case 1:
		cmd.Servo[0], cmd.Servo[1] = v, v
	case 2:
		cmd.Servo[2], cmd.Servo[3] = v, v
	}
	b.send(cmd)
}

func (b *BridgeService) primaryConnected() bool {
	st, err := b.links.Status(link.Primary)
	return err == nil && st.State == link.StateConnected
}

func (b *BridgeService) send(cmd mixer.Command) {
	if _, err := b.links.Send(link.Primary, cmd); err != nil {
		b.log(events.LevelError, fmt.Sprintf("Failed to send command: %v", err))
	}
}

func (b *BridgeService) log(level, message string) {
	b.logLink("", level, message)
}

func (b *BridgeService) logLink(name, level, message string) {
	switch level {
	case events.LevelError:
		b.logger.Errorf("%s", message)
	case events.LevelWarn:
		b.logger.Warnf("%s", message)
	default:
		b.logger.Infof("%s", message)
	}
	ev := events.Log(level, message)
	ev.Link = name
	b.bus.Publish(ev)
}

// sliderPower maps 0..100 to -1..1.
func sliderPower(value float64) float64 {
	if math.IsNaN(value) {
		return 0
	}
	p := (value - 50) / 50
	return math.Max(-1, math.Min(1, p))
}

func servoValue(v int) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}
