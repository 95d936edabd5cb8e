package wiz

import (
	"errors"
	"fmt"
)

// Domain errors for the WiZ bridge package.
var (
	// ErrArgumentOutOfRange is returned when a command value falls outside
	// its documented range. Nothing is sent to the fixture.
	ErrArgumentOutOfRange = errors.New("wiz: argument out of range")

	// ErrSocketBindFailed is returned when the OS refuses to bind a socket.
	ErrSocketBindFailed = errors.New("wiz: socket bind failed")

	// ErrInvalidBulbState is returned when a correlated request is attempted
	// while the shared socket is not Ready.
	ErrInvalidBulbState = errors.New("wiz: connection state does not permit request")

	// ErrResponseParseFailed is returned when a matched reply is not valid JSON.
	ErrResponseParseFailed = errors.New("wiz: response parse failed")

	// ErrResponseValidationFailed is returned when a matched reply does not
	// conform to the expected response shape.
	ErrResponseValidationFailed = errors.New("wiz: response validation failed")

	// ErrRequestSendError is returned when the OS send fails.
	ErrRequestSendError = errors.New("wiz: request send failed")

	// ErrRequestTimedOut is returned when no matching reply arrives in time.
	ErrRequestTimedOut = errors.New("wiz: request timed out")

	// ErrBulbReturnedFailure is returned when the fixture replies with an
	// explicit error marker.
	ErrBulbReturnedFailure = errors.New("wiz: bulb returned failure")

	// ErrSocketClosed is returned for operations on a closed socket.
	ErrSocketClosed = errors.New("wiz: socket closed")

	// ErrInvalidAddress is returned when a fixture address cannot be parsed.
	ErrInvalidAddress = errors.New("wiz: invalid address")

	// ErrFixtureNotFound is returned when the bridge has no fixture at an address.
	ErrFixtureNotFound = errors.New("wiz: fixture not found")

	// ErrUnknownCommand is returned for a bridge command name it does not handle.
	ErrUnknownCommand = errors.New("wiz: unknown command")

	// ErrInvalidParameters is returned when bridge command parameters are
	// missing or have the wrong type.
	ErrInvalidParameters = errors.New("wiz: invalid parameters")
)

// RangeError describes a command value outside its documented range.
type RangeError struct {
	Field string
	Value int
	Min   int
	Max   int
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("wiz: %s %d out of range [%d, %d]", e.Field, e.Value, e.Min, e.Max)
}

func (e *RangeError) Unwrap() error { return ErrArgumentOutOfRange }

// StateError reports a request rejected by the connection state machine.
type StateError struct {
	Op    string
	State ConnectionState
}

func (e *StateError) Error() string {
	return fmt.Sprintf("wiz: %s not permitted in state %s", e.Op, e.State)
}

// Unwrap matches ErrInvalidBulbState, and ErrSocketClosed once closed.
func (e *StateError) Unwrap() []error {
	if e.State == StateClosed {
		return []error{ErrInvalidBulbState, ErrSocketClosed}
	}
	return []error{ErrInvalidBulbState}
}

// RequestError carries the context of a failed correlated request.
//
// Kind is one of the package sentinels (or a context error) and is matched
// by errors.Is. Raw and Payload hold the offending reply when there was one.
type RequestError struct {
	Kind    error
	Method  string
	Addr    string
	Raw     []byte
	Payload map[string]any
	Device  *DeviceError
	Err     error
}

func (e *RequestError) Error() string {
	msg := fmt.Sprintf("%v: %s to %s", e.Kind, e.Method, e.Addr)
	if e.Device != nil {
		msg += ": " + e.Device.Error()
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RequestError) Unwrap() []error {
	errs := []error{e.Kind}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// DeviceError is the error object a fixture returns in place of a result.
type DeviceError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("device error %d: %s", e.Code, e.Message)
}
