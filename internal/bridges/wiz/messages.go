package wiz

import (
	"fmt"
	"time"
)

// MQTT payloads exchanged between Gray Logic Core and the WiZ bridge.

// Protocol is the protocol identifier used in topics and messages.
const Protocol = "wiz"

// CommandMessage is sent from Core to the bridge to drive a fixture.
// Topic: graylogic/command/wiz/{ip}
type CommandMessage struct {
	// ID correlates the command with its acknowledgment.
	ID string `json:"id"`

	Timestamp time.Time `json:"timestamp"`

	// DeviceID is the Gray Logic device identifier (optional, echoed in acks).
	DeviceID string `json:"device_id,omitempty"`

	// Command is one of: on, off, toggle, dim, rgb, color, scene, speed,
	// temperature, cold_white, warm_white, set.
	Command string `json:"command"`

	// Parameters contains command-specific values.
	// Examples:
	//   {"level": 50} for dim
	//   {"r": 255, "g": 0, "b": 0} for rgb
	//   {"hex": "#ff8800"} for color
	//   {"scene": "Ocean"} or {"scene_id": 1} for scene
	Parameters map[string]any `json:"parameters,omitempty"`

	// Source indicates where the command originated: api, automation, scene.
	Source string `json:"source,omitempty"`
}

// AckStatus represents the acknowledgment status of a command.
type AckStatus string

const (
	// AckAccepted indicates the fixture confirmed the command
	// (or it was sent fire-and-forget).
	AckAccepted AckStatus = "accepted"

	// AckFailed indicates the command could not be executed.
	AckFailed AckStatus = "failed"

	// AckTimeout indicates the fixture did not answer in time.
	AckTimeout AckStatus = "timeout"
)

// AckMessage is sent from the bridge to Core after a command.
// Topic: graylogic/ack/wiz/{ip}
type AckMessage struct {
	CommandID string    `json:"command_id"`
	Timestamp time.Time `json:"timestamp"`
	DeviceID  string    `json:"device_id,omitempty"`
	Status    AckStatus `json:"status"`
	Protocol  string    `json:"protocol"`
	Address   string    `json:"address"`
	Error     *AckError `json:"error,omitempty"`
}

// AckError contains error details for failed commands.
type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes for command and request failures.
const (
	ErrCodeDeviceUnreachable = "DEVICE_UNREACHABLE"
	ErrCodeInvalidCommand    = "INVALID_COMMAND"
	ErrCodeInvalidParameters = "INVALID_PARAMETERS"
	ErrCodeProtocolError     = "PROTOCOL_ERROR"
	ErrCodeDeviceError       = "DEVICE_ERROR"
	ErrCodeTimeout           = "TIMEOUT"
	ErrCodeNotConfigured     = "NOT_CONFIGURED"
	ErrCodeBridgeError       = "BRIDGE_ERROR"
)

// StateMessage is published when a fixture reports its state.
// Topic: graylogic/state/wiz/{ip}
// QoS: 1, Retained: Yes
type StateMessage struct {
	DeviceID  string    `json:"device_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`

	// State is the fixture state in Core's vocabulary:
	//   {"on": true, "level": 50, "rgb": "#ff0000", "kelvin": 2700, "scene_id": 4, ...}
	State map[string]any `json:"state"`

	Protocol string `json:"protocol"`
	Address  string `json:"address"`

	// MAC is the fixture's hardware address as reported by the fixture.
	MAC string `json:"mac,omitempty"`

	// Source is "notification" for pushed updates and "poll" for read_state.
	Source string `json:"source"`
}

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"

	// HealthOffline is published by the broker via LWT.
	HealthOffline  HealthStatus = "offline"
	HealthStarting HealthStatus = "starting"
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage reports the bridge's operational status.
// Topic: graylogic/health/wiz
// QoS: 1, Retained: Yes
type HealthMessage struct {
	Bridge         string            `json:"bridge"`
	Timestamp      time.Time         `json:"timestamp"`
	Status         HealthStatus      `json:"status"`
	Version        string            `json:"version,omitempty"`
	UptimeSeconds  int64             `json:"uptime_seconds"`
	Connection     *ConnectionStatus `json:"connection,omitempty"`
	Statistics     *BridgeStatistics `json:"statistics,omitempty"`
	DevicesManaged int               `json:"devices_managed"`
	Reason         string            `json:"reason,omitempty"`
}

// ConnectionStatus describes the shared UDP socket.
type ConnectionStatus struct {
	// Status is the socket state name (idle, binding, ready, awaiting_response, closed).
	Status string `json:"status"`

	// Address is the local listen address.
	Address string `json:"address,omitempty"`
}

// BridgeStatistics contains operational counters.
type BridgeStatistics struct {
	DatagramsReceived uint64 `json:"datagrams_received"`
	DatagramsSent     uint64 `json:"datagrams_sent"`
	Commands          uint64 `json:"commands"`
	Notifications     uint64 `json:"notifications"`
	Dropped           uint64 `json:"notifications_dropped"`
	Errors            uint64 `json:"errors"`
}

// RequestMessage is sent from Core for request/response operations.
// Topic: graylogic/request/wiz/{request_id}
type RequestMessage struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`

	// Action is one of: read_state, read_all, discover.
	Action string `json:"action"`

	// Address is the fixture IP for read_state.
	Address string `json:"address,omitempty"`

	Parameters map[string]any `json:"parameters,omitempty"`
}

// ResponseMessage answers a RequestMessage.
// Topic: graylogic/response/wiz/{request_id}
type ResponseMessage struct {
	RequestID string         `json:"request_id"`
	Timestamp time.Time      `json:"timestamp"`
	Success   bool           `json:"success"`
	Data      map[string]any `json:"data,omitempty"`
	Error     *ResponseError `json:"error,omitempty"`
}

// ResponseError contains error details for failed requests.
type ResponseError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// DiscoveryMessage announces the fixtures found by a discovery scan.
// Topic: graylogic/discovery/wiz
type DiscoveryMessage struct {
	Timestamp time.Time          `json:"timestamp"`
	Bridge    string             `json:"bridge"`
	Devices   []DiscoveredDevice `json:"devices"`
}

// DiscoveredDevice is one fixture found during discovery.
type DiscoveredDevice struct {
	Protocol      string   `json:"protocol"`
	Address       string   `json:"address"`
	MAC           string   `json:"mac,omitempty"`
	Type          string   `json:"type"`
	Capabilities  []string `json:"capabilities"`
	SuggestedName string   `json:"suggested_name,omitempty"`
}

// fixtureCapabilities is what every WiZ-style fixture accepts.
var fixtureCapabilities = []string{"on_off", "dim", "color_rgb", "color_temperature", "scene"}

// NewAckMessage creates an acknowledgment for a command.
func NewAckMessage(cmd CommandMessage, status AckStatus, address string) AckMessage {
	return AckMessage{
		CommandID: cmd.ID,
		Timestamp: time.Now().UTC(),
		DeviceID:  cmd.DeviceID,
		Status:    status,
		Protocol:  Protocol,
		Address:   address,
	}
}

// NewAckError creates a failed acknowledgment. TIMEOUT maps to AckTimeout.
func NewAckError(cmd CommandMessage, address, code, message string) AckMessage {
	status := AckFailed
	if code == ErrCodeTimeout {
		status = AckTimeout
	}
	ack := NewAckMessage(cmd, status, address)
	ack.Error = &AckError{Code: code, Message: message}
	return ack
}

// NewStateMessage converts a fixture state into a state message.
func NewStateMessage(deviceID, address, source string, s PilotState) StateMessage {
	return StateMessage{
		DeviceID:  deviceID,
		Timestamp: time.Now().UTC(),
		State:     StateMap(s),
		Protocol:  Protocol,
		Address:   address,
		MAC:       s.MAC,
		Source:    source,
	}
}

// StateMap renders a fixture state in Core's state vocabulary. Only the
// properties the fixture reported are included.
func StateMap(s PilotState) map[string]any {
	state := map[string]any{"on": s.State}
	if s.Dimming > 0 {
		state["level"] = s.Dimming
	}
	if s.SceneID > 0 {
		state["scene_id"] = s.SceneID
		if scene, ok := SceneByID(s.SceneID); ok {
			state["scene"] = scene.Name
		}
	}
	if s.Speed > 0 {
		state["speed"] = s.Speed
	}
	if s.Temp > 0 {
		state["kelvin"] = s.Temp
	}
	if s.R > 0 || s.G > 0 || s.B > 0 {
		state["rgb"] = RGBToHex(s.R, s.G, s.B)
	}
	if s.C > 0 {
		state["cold_white"] = s.C
	}
	if s.W > 0 {
		state["warm_white"] = s.W
	}
	if s.RSSI != 0 {
		state["rssi"] = s.RSSI
	}
	return state
}

// NewLWTMessage creates the Last Will and Testament published by the
// broker if the bridge disconnects unexpectedly.
func NewLWTMessage(bridgeID string) HealthMessage {
	return HealthMessage{
		Bridge:    bridgeID,
		Timestamp: time.Now().UTC(),
		Status:    HealthOffline,
		Reason:    "unexpected_disconnect",
	}
}

// NewDiscoveredDevice describes a fixture found at ip.
func NewDiscoveredDevice(ip, mac string) DiscoveredDevice {
	return DiscoveredDevice{
		Protocol:      Protocol,
		Address:       ip,
		MAC:           mac,
		Type:          "light_color",
		Capabilities:  fixtureCapabilities,
		SuggestedName: "WiZ " + ip,
	}
}

// Topic helpers

// TopicPrefix is the base topic for all Gray Logic messages.
const TopicPrefix = "graylogic"

// CommandTopic returns the command topic for a fixture.
// Example: graylogic/command/wiz/192.168.1.40
func CommandTopic(ip string) string {
	return fmt.Sprintf("%s/command/%s/%s", TopicPrefix, Protocol, ip)
}

// AckTopic returns the acknowledgment topic for a fixture.
func AckTopic(ip string) string {
	return fmt.Sprintf("%s/ack/%s/%s", TopicPrefix, Protocol, ip)
}

// StateTopic returns the retained state topic for a fixture.
func StateTopic(ip string) string {
	return fmt.Sprintf("%s/state/%s/%s", TopicPrefix, Protocol, ip)
}

// HealthTopic returns the bridge health topic.
func HealthTopic() string {
	return fmt.Sprintf("%s/health/%s", TopicPrefix, Protocol)
}

// RequestTopic returns the topic for a request.
// Example: graylogic/request/wiz/req-123
func RequestTopic(requestID string) string {
	return fmt.Sprintf("%s/request/%s/%s", TopicPrefix, Protocol, requestID)
}

// ResponseTopic returns the topic for a response.
func ResponseTopic(requestID string) string {
	return fmt.Sprintf("%s/response/%s/%s", TopicPrefix, Protocol, requestID)
}

// DiscoveryTopic returns the discovery announcement topic.
func DiscoveryTopic() string {
	return fmt.Sprintf("%s/discovery/%s", TopicPrefix, Protocol)
}

// CommandSubscribeTopic returns the subscription pattern for all commands.
func CommandSubscribeTopic() string {
	return fmt.Sprintf("%s/command/%s/+", TopicPrefix, Protocol)
}

// RequestSubscribeTopic returns the subscription pattern for all requests.
func RequestSubscribeTopic() string {
	return fmt.Sprintf("%s/request/%s/+", TopicPrefix, Protocol)
}
