package wiz

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Protocol method names.
const (
	MethodGetPilot     = "getPilot"
	MethodSetPilot     = "setPilot"
	MethodRegistration = "registration"
	MethodSyncPilot    = "syncPilot"
)

// ackEnv is the environment tag the official app sends in notification acks.
const ackEnv = "pro"

// Command is a message sent to a fixture.
type Command interface {
	// Method returns the protocol method name, used to correlate replies.
	Method() string

	// Encode returns the JSON wire form of the command.
	Encode() ([]byte, error)
}

// request is the wire envelope for getPilot and setPilot.
type request struct {
	Method string `json:"method"`
	Params any    `json:"params"`
}

// GetState asks a fixture for its full state snapshot.
type GetState struct{}

// Method implements Command.
func (GetState) Method() string { return MethodGetPilot }

// Encode implements Command.
func (GetState) Encode() ([]byte, error) {
	return json.Marshal(request{Method: MethodGetPilot, Params: struct{}{}})
}

// SetState is a sparse state change. Nil fields are omitted from the wire
// form and left unchanged on the fixture.
//
// Ranges (checked by Validate):
//   - Dimming: 1-100 (percent)
//   - Temp: 1000-10000 (Kelvin)
//   - R, G, B, C, W: 0-255
//   - SceneID: 1-32
//   - Speed: 1-100
type SetState struct {
	State   *bool `json:"state,omitempty"`
	Dimming *int  `json:"dimming,omitempty"`
	Temp    *int  `json:"temp,omitempty"`
	R       *int  `json:"r,omitempty"`
	G       *int  `json:"g,omitempty"`
	B       *int  `json:"b,omitempty"`
	C       *int  `json:"c,omitempty"`
	W       *int  `json:"w,omitempty"`
	SceneID *int  `json:"sceneId,omitempty"`
	Speed   *int  `json:"speed,omitempty"`
}

// Method implements Command.
func (SetState) Method() string { return MethodSetPilot }

// Encode implements Command. It does not validate ranges.
func (s SetState) Encode() ([]byte, error) {
	return json.Marshal(request{Method: MethodSetPilot, Params: s})
}

// Register is the subscription handshake.
type Register struct {
	Register bool
	PhoneIP  string
	PhoneMAC string
}

type registrationParams struct {
	Register bool   `json:"register"`
	PhoneIP  string `json:"phoneIp"`
	PhoneMAC string `json:"phoneMac"`
}

type registration struct {
	Method  string             `json:"method"`
	ID      int                `json:"id"`
	Version int                `json:"version"`
	Params  registrationParams `json:"params"`
}

// Method implements Command.
func (Register) Method() string { return MethodRegistration }

// Encode implements Command.
func (r Register) Encode() ([]byte, error) {
	return json.Marshal(registration{
		Method:  MethodRegistration,
		ID:      1,
		Version: 1,
		Params: registrationParams{
			Register: r.Register,
			PhoneIP:  r.PhoneIP,
			PhoneMAC: r.PhoneMAC,
		},
	})
}

// NotificationAck acknowledges one syncPilot notification. Fixtures stop
// pushing notifications to clients that do not ack.
type NotificationAck struct {
	// ID echoes the notification's correlation id. Empty omits the field.
	ID json.Number

	// MAC is the identifier the client registered with.
	MAC string
}

type ackResult struct {
	MAC string `json:"mac"`
}

type ack struct {
	Method string      `json:"method"`
	ID     json.Number `json:"id,omitempty"`
	Env    string      `json:"env"`
	Result ackResult   `json:"result"`
}

// Method implements Command.
func (NotificationAck) Method() string { return MethodSyncPilot }

// Encode implements Command.
func (a NotificationAck) Encode() ([]byte, error) {
	return json.Marshal(ack{
		Method: MethodSyncPilot,
		ID:     a.ID,
		Env:    ackEnv,
		Result: ackResult{MAC: a.MAC},
	})
}

// Decode parses a datagram into an untyped JSON object. Numbers are kept
// as json.Number so correlation ids round-trip exactly.
func Decode(raw []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var payload map[string]any
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode datagram: %w", err)
	}
	if payload == nil {
		return nil, errors.New("decode datagram: not a JSON object")
	}
	return payload, nil
}

// methodOf returns the payload's method name, or "" when absent.
func methodOf(payload map[string]any) string {
	m, _ := payload["method"].(string)
	return m
}

// deviceErrorFrom extracts the explicit error marker from a reply.
func deviceErrorFrom(payload map[string]any) (*DeviceError, bool) {
	raw, ok := payload["error"]
	if !ok || raw == nil {
		return nil, false
	}

	devErr := &DeviceError{}
	if obj, isObj := raw.(map[string]any); isObj {
		if n, isNum := obj["code"].(json.Number); isNum {
			if code, err := n.Int64(); err == nil {
				devErr.Code = int(code)
			}
		}
		devErr.Message, _ = obj["message"].(string)
	} else {
		devErr.Message = fmt.Sprint(raw)
	}
	return devErr, true
}

// PilotState is a fixture's state snapshot as carried by getPilot replies
// and syncPilot notifications.
type PilotState struct {
	MAC     string `json:"mac"`
	RSSI    int    `json:"rssi"`
	Src     string `json:"src,omitempty"`
	State   bool   `json:"state"`
	SceneID int    `json:"sceneId"`
	Speed   int    `json:"speed,omitempty"`
	Temp    int    `json:"temp,omitempty"`
	Dimming int    `json:"dimming,omitempty"`
	R       int    `json:"r,omitempty"`
	G       int    `json:"g,omitempty"`
	B       int    `json:"b,omitempty"`
	C       int    `json:"c,omitempty"`
	W       int    `json:"w,omitempty"`
	MQTTCd  int    `json:"mqttCd,omitempty"`
	TS      int64  `json:"ts,omitempty"`
}

// StateReport is a getPilot reply.
type StateReport struct {
	Method string     `json:"method"`
	Env    string     `json:"env"`
	Result PilotState `json:"result"`
}

// Notification is an unsolicited syncPilot push.
type Notification struct {
	Method string      `json:"method"`
	Env    string      `json:"env"`
	ID     json.Number `json:"id,omitempty"`
	Params PilotState  `json:"params"`
}

// ParseStateReport decodes a getPilot reply into its typed form.
func ParseStateReport(raw []byte) (StateReport, error) {
	var r StateReport
	if err := json.Unmarshal(raw, &r); err != nil {
		return StateReport{}, fmt.Errorf("parse state report: %w", err)
	}
	return r, nil
}

// ParseNotification decodes a syncPilot notification into its typed form.
func ParseNotification(raw []byte) (Notification, error) {
	var n Notification
	if err := json.Unmarshal(raw, &n); err != nil {
		return Notification{}, fmt.Errorf("parse notification: %w", err)
	}
	return n, nil
}
