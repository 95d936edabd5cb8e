package wiz

import (
	"context"
	"errors"
	"fmt"
	"net"
	"slices"
	"sync"
	"time"
)

// deviceOptions collects DeviceOption values.
type deviceOptions struct {
	commandPort int
	timeout     time.Duration
	identity    *Identity
	identifier  string
	validator   Validator
	logger      Logger
}

// DeviceOption configures a Device.
type DeviceOption func(*deviceOptions)

// WithCommandPort overrides the fixture command port (default 38899).
func WithCommandPort(port int) DeviceOption {
	return func(o *deviceOptions) { o.commandPort = port }
}

// WithTimeout overrides the response timeout for this device (default 2s).
func WithTimeout(d time.Duration) DeviceOption {
	return func(o *deviceOptions) { o.timeout = d }
}

// WithIdentity fixes the IP and identifier sent when subscribing. By
// default a random identifier is generated and the local IPv4 address is
// looked up at subscribe time.
func WithIdentity(id Identity) DeviceOption {
	return func(o *deviceOptions) { o.identity = &id }
}

// WithIdentifier fixes the identifier sent when subscribing while the
// local IPv4 address is still looked up at subscribe time. Devices that
// share an identifier appear to fixtures as one controller.
func WithIdentifier(mac string) DeviceOption {
	return func(o *deviceOptions) { o.identifier = mac }
}

// WithValidator overrides the response shape validator.
func WithValidator(v Validator) DeviceOption {
	return func(o *deviceOptions) { o.validator = v }
}

// WithLogger sets the device logger.
func WithLogger(l Logger) DeviceOption {
	return func(o *deviceOptions) { o.logger = l }
}

// Device is the handle for one physical fixture.
//
// Every Device holds a non-owning reference to the shared Socket. Requests
// bind the socket on first use.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Correlated requests (anything that waits for a reply) are serialised
//     across all devices on the socket; an overlapping request fails with
//     ErrInvalidBulbState.
type Device struct {
	addr    *net.UDPAddr
	sock    *Socket
	corr    *Correlator
	sub     *Subscription
	timeout time.Duration
	mac     string
	logger  Logger

	handlersMu sync.RWMutex
	handlers   []stateHandler
	nextID     uint64
}

type stateHandler struct {
	id uint64
	fn func(Notification)
}

// NewDevice creates a Device for the fixture at ip.
//
// Returns:
//   - *Device: Handle bound to sock (the socket is not bound yet)
//   - error: ErrInvalidAddress if ip is not an IPv4 address
func NewDevice(sock *Socket, ip string, opts ...DeviceOption) (*Device, error) {
	parsed := net.ParseIP(ip).To4()
	if parsed == nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAddress, ip)
	}

	o := deviceOptions{commandPort: DefaultCommandPort, timeout: DefaultResponseTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	if o.validator == nil {
		o.validator = defaultValidator
	}

	d := &Device{
		addr:    &net.UDPAddr{IP: parsed, Port: o.commandPort},
		sock:    sock,
		timeout: o.timeout,
		logger:  o.logger,
	}
	d.corr = NewCorrelator(sock, o.timeout, o.validator)

	var identity func() (Identity, error)
	if o.identity != nil {
		id := *o.identity
		if id.MAC == "" {
			id.MAC = NewIdentifier()
		}
		d.mac = id.MAC
		identity = func() (Identity, error) { return id, nil }
	} else {
		d.mac = o.identifier
		if d.mac == "" {
			d.mac = NewIdentifier()
		}
		identity = defaultIdentity(d.mac)
	}
	d.sub = newSubscription(d.corr, d.addr, o.validator, identity, d.notify, o.logger)

	return d, nil
}

// IP returns the fixture address.
func (d *Device) IP() string { return d.addr.IP.String() }

// Addr returns the fixture command address.
func (d *Device) Addr() *net.UDPAddr {
	return &net.UDPAddr{IP: d.addr.IP, Port: d.addr.Port}
}

// Identifier returns the identifier this device registers with.
func (d *Device) Identifier() string { return d.mac }

// Socket returns the shared socket.
func (d *Device) Socket() *Socket { return d.sock }

// GetState fetches the fixture's full state snapshot.
//
// Returns:
//   - PilotState: The reported state
//   - error: ErrSocketBindFailed, ErrInvalidBulbState, ErrRequestTimedOut,
//     ErrResponseParseFailed, ErrResponseValidationFailed,
//     ErrBulbReturnedFailure or ErrRequestSendError
func (d *Device) GetState(ctx context.Context) (PilotState, error) {
	if err := d.sock.Bind(ctx); err != nil {
		return PilotState{}, err
	}

	dg, err := d.corr.Exchange(ctx, d.addr, GetState{}, StateReportShape, d.timeout)
	if err != nil {
		d.logFailure(MethodGetPilot, err)
		return PilotState{}, err
	}

	report, err := ParseStateReport(dg.Raw)
	if err != nil {
		return PilotState{}, &RequestError{
			Kind:    ErrResponseValidationFailed,
			Method:  MethodGetPilot,
			Addr:    d.IP(),
			Raw:     dg.Raw,
			Payload: dg.Payload,
			Err:     err,
		}
	}
	return report.Result, nil
}

// SetState applies a sparse state change and waits for the fixture's ack.
// Ranges are checked before anything is sent.
func (d *Device) SetState(ctx context.Context, s SetState) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if err := d.sock.Bind(ctx); err != nil {
		return err
	}

	dg, err := d.corr.Exchange(ctx, d.addr, s, AckShape, d.timeout)
	if err != nil {
		d.logFailure(MethodSetPilot, err)
		return err
	}

	result, _ := dg.Payload["result"].(map[string]any)
	if ok, _ := result["success"].(bool); !ok {
		return &RequestError{
			Kind:    ErrBulbReturnedFailure,
			Method:  MethodSetPilot,
			Addr:    d.IP(),
			Raw:     dg.Raw,
			Payload: dg.Payload,
			Err:     errors.New("fixture reported success=false"),
		}
	}
	return nil
}

// SetStateNoWait sends a state change without waiting for a reply. It is
// not gated by an outstanding correlated request.
func (d *Device) SetStateNoWait(ctx context.Context, s SetState) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if err := d.sock.Bind(ctx); err != nil {
		return err
	}
	return d.corr.Fire(d.addr, s)
}

// TurnOn switches the fixture on.
func (d *Device) TurnOn(ctx context.Context) error {
	return d.SetState(ctx, TurnOnCommand())
}

// TurnOff switches the fixture off.
func (d *Device) TurnOff(ctx context.Context) error {
	return d.SetState(ctx, TurnOffCommand())
}

// Toggle reads the current state and sets the opposite. The two requests
// are not atomic with respect to other controllers.
func (d *Device) Toggle(ctx context.Context) (on bool, err error) {
	st, err := d.GetState(ctx)
	if err != nil {
		return false, err
	}
	on = !st.State
	return on, d.SetState(ctx, SetState{State: Bool(on)})
}

// SetBrightness sets brightness in percent (1-100).
func (d *Device) SetBrightness(ctx context.Context, percent int) error {
	return d.apply(ctx, func() (SetState, error) { return BrightnessCommand(percent) })
}

// SetRGB sets an RGB colour, each channel 0-255.
func (d *Device) SetRGB(ctx context.Context, r, g, b int) error {
	return d.apply(ctx, func() (SetState, error) { return RGBCommand(r, g, b) })
}

// SetColor sets an RGB colour from a hex string such as "#ff8800".
func (d *Device) SetColor(ctx context.Context, hex string) error {
	return d.apply(ctx, func() (SetState, error) { return ColorCommand(hex) })
}

// SetScene selects a built-in scene (1-32).
func (d *Device) SetScene(ctx context.Context, id int) error {
	return d.apply(ctx, func() (SetState, error) { return SceneCommand(id) })
}

// SetSceneSpeed sets the animation speed of dynamic scenes (1-100).
func (d *Device) SetSceneSpeed(ctx context.Context, speed int) error {
	return d.apply(ctx, func() (SetState, error) { return SceneSpeedCommand(speed) })
}

// SetTemperature sets white colour temperature in Kelvin (1000-10000).
func (d *Device) SetTemperature(ctx context.Context, kelvin int) error {
	return d.apply(ctx, func() (SetState, error) { return TemperatureCommand(kelvin) })
}

// SetColdWhite sets the cool white channel (0-255).
func (d *Device) SetColdWhite(ctx context.Context, v int) error {
	return d.apply(ctx, func() (SetState, error) { return ColdWhiteCommand(v) })
}

// SetWarmWhite sets the warm white channel (0-255).
func (d *Device) SetWarmWhite(ctx context.Context, v int) error {
	return d.apply(ctx, func() (SetState, error) { return WarmWhiteCommand(v) })
}

func (d *Device) apply(ctx context.Context, build func() (SetState, error)) error {
	s, err := build()
	if err != nil {
		return err
	}
	return d.SetState(ctx, s)
}

// Subscribe registers for state notifications. Every notification is
// acknowledged automatically and delivered to OnStateChange handlers.
func (d *Device) Subscribe(ctx context.Context) error {
	if err := d.sock.Bind(ctx); err != nil {
		return err
	}
	return d.sub.Start(ctx, d.timeout)
}

// Unsubscribe stops acknowledging and forwarding this device's
// notifications. Other devices on the socket are unaffected.
func (d *Device) Unsubscribe() {
	d.sub.Stop()
}

// Subscribed reports whether notifications are being acknowledged.
func (d *Device) Subscribed() bool {
	return d.sub.Active()
}

// OnStateChange registers a handler for notifications and returns a
// function that removes it. Handlers run on the socket read loop and
// must not block or call Close.
func (d *Device) OnStateChange(fn func(Notification)) (remove func()) {
	d.handlersMu.Lock()
	d.nextID++
	id := d.nextID
	d.handlers = append(d.handlers, stateHandler{id: id, fn: fn})
	d.handlersMu.Unlock()

	return func() {
		d.handlersMu.Lock()
		d.handlers = slices.DeleteFunc(d.handlers, func(h stateHandler) bool { return h.id == id })
		d.handlersMu.Unlock()
	}
}

func (d *Device) notify(n Notification) {
	d.handlersMu.RLock()
	handlers := slices.Clone(d.handlers)
	d.handlersMu.RUnlock()

	for _, h := range handlers {
		h.fn(n)
	}
}

// Stats returns request and subscription statistics for this device.
func (d *Device) Stats() (CorrelatorStats, SubscriptionStats) {
	return d.corr.Stats(), d.sub.Stats()
}

// Close closes the shared socket.
//
// This ends communication for every Device built on the same Socket, not
// just this one. Use Unsubscribe to detach a single device.
func (d *Device) Close() error {
	d.sub.Stop()
	return d.sock.Close()
}

func (d *Device) logFailure(method string, err error) {
	if d.logger != nil {
		d.logger.Debug("request failed", "device", d.IP(), "method", method, "error", err)
	}
}
