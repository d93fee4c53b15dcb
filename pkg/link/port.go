package link

import (
	"fmt"
	"io"
	"sort"

	bugst "go.bug.st/serial"
	"go.bug.st/serial/enumerator"

	"github.com/open-rov/rovbridge/pkg/events"
)

// DefaultBaudRate matches the ESP32 firmware.
const DefaultBaudRate = 115200

// Port is an open serial handle. Close must unblock a pending Read.
type Port interface {
	io.ReadWriteCloser
}

// Opener opens a serial device. It may block.
type Opener func(path string, baudRate int) (Port, error)

// Enumerator lists serial devices present on the host. It may block.
type Enumerator func() ([]events.PortInfo, error)

// SystemOpener opens path in 8N1 mode using go.bug.st/serial.
func SystemOpener(path string, baudRate int) (Port, error) {
	if baudRate <= 0 {
		baudRate = DefaultBaudRate
	}
	mode := &bugst.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   bugst.NoParity,
		StopBits: bugst.OneStopBit,
	}
	p, err := bugst.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("opening serial port %s: %w", path, err)
	}
	return p, nil
}

// SystemEnumerator reports every serial device with its USB product string
// (or VID:PID) as the manufacturer. Non-USB ports get an empty manufacturer.
func SystemEnumerator() ([]events.PortInfo, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		// Some platforms lack the detailed enumerator; fall back to names only.
		names, listErr := bugst.GetPortsList()
		if listErr != nil {
			return nil, fmt.Errorf("listing serial ports: %w", err)
		}
		ports := make([]events.PortInfo, 0, len(names))
		for _, name := range names {
			ports = append(ports, events.PortInfo{Path: name})
		}
		return ports, nil
	}

	ports := make([]events.PortInfo, 0, len(details))
	for _, d := range details {
		info := events.PortInfo{Path: d.Name}
		if d.IsUSB {
			info.Manufacturer = d.Product
			if info.Manufacturer == "" {
				info.Manufacturer = fmt.Sprintf("USB %s:%s", d.VID, d.PID)
			}
		}
		ports = append(ports, info)
	}
	sort.Slice(ports, func(i, j int) bool { return ports[i].Path < ports[j].Path })
	return ports, nil
}
