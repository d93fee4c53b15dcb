package api

import (
	"encoding/json"
	"time"

	"github.com/open-rov/rovbridge/pkg/vehicle"
)

// --- Data Structures for WebSocket Messages ---

// Inbound event names.
const (
	EventFindComPorts     = "rov:find-com-ports"
	EventConnect          = "rov:connect"
	EventDisconnect       = "rov:disconnect"
	EventConnectionStatus = "rov:connection-status"
	EventControllerData   = "controller:data"
	EventConfigGet        = "config:get"
	EventConfigUpdate     = "config:update"
	EventThrusterTest     = "config:thruster-test"
	EventGripperTest      = "config:gripper-test"
	EventLinkConnect      = "link:connect"
	EventLinkDisconnect   = "link:disconnect"
	EventLinkStatus       = "link:status"
)

// Outbound event names. EventConnectionStatus and EventLinkStatus are used
// in both directions.
const (
	EventLog           = "rov:log"
	EventSensorData    = "rov:sensor-data"
	EventComPortsList  = "rov:com-ports-list"
	EventConfigData    = "config:data"
	EventConfigUpdated = "config:updated"
	EventError         = "rov:error"
)

// Envelope is one inbound socket message.
type Envelope struct {
	Event string          `json:"event"`
	Link  string          `json:"link,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Message is one outbound socket message.
type Message struct {
	Event string `json:"event"`
	Link  string `json:"link,omitempty"`
	Data  any    `json:"data,omitempty"`
}

// LogPayload carries a rov:log line.
type LogPayload struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
	Level     string    `json:"level"`
	Link      string    `json:"link,omitempty"`
}

// LinkStatusPayload carries a link:status update.
type LinkStatusPayload struct {
	Link    string `json:"link"`
	State   string `json:"state"`
	Message string `json:"message"`
	Path    string `json:"path,omitempty"`
}

// ErrorPayload carries a rov:error reply.
type ErrorPayload struct {
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

// ConfigUpdatedPayload answers config:update.
type ConfigUpdatedPayload struct {
	Success   bool                  `json:"success"`
	NewConfig vehicle.Configuration `json:"newConfig"`
}

// ThrusterTestRequest is the config:thruster-test body; Value is the slider 0..100.
type ThrusterTestRequest struct {
	ThrusterIndex int     `json:"thrusterIndex"`
	Value         float64 `json:"value"`
}

// GripperTestRequest is the config:gripper-test body; GripperIndex is 1 or 2.
type GripperTestRequest struct {
	GripperIndex int `json:"gripperIndex"`
	Value        int `json:"value"`
}

// LinkRequest names a link and, for connect, the port to open.
type LinkRequest struct {
	Link string `json:"link,omitempty"`
	Path string `json:"path,omitempty"`
}
