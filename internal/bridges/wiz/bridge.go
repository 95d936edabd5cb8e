package wiz

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Bridge operation constants.
const (
	// minTopicParts is graylogic/{type}/wiz/{address-or-request-id}.
	minTopicParts = 4

	// readAllTimeout bounds a read_all request across every fixture.
	readAllTimeout = 30 * time.Second

	// notificationQueueLen bounds pushed states waiting to be published.
	notificationQueueLen = 256
)

// Bridge connects WiZ fixtures to Gray Logic Core over MQTT:
//   - commands from Core are translated into fixture requests and acked
//   - fixture notifications are published as retained state
//   - fixtures are discovered periodically and recorded in the inventory
//   - health is published at a fixed interval
//
// All fixtures share one Socket, which admits a single outstanding
// correlated request. The bridge queues its own requests on a command
// lock so concurrent MQTT and API commands wait instead of failing.
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	cfg        Config
	mqtt       MQTTClient
	sock       *Socket
	health     *HealthReporter
	recorder   FixtureRecorderInterface
	telemetry  TelemetryWriter
	discover   DiscoverFunc
	identifier string
	deviceOpts []DeviceOption

	fixtures   map[string]*fixture
	fixturesMu sync.RWMutex

	// cmdLock is a one-slot semaphore held for every correlated request.
	cmdLock chan struct{}

	stateCache   map[string]PilotState
	stateCacheMu sync.Mutex

	// pushed is drained by notificationLoop. The socket read loop only
	// enqueues.
	pushed chan pushedState

	listeners      []stateListener
	nextListenerID uint64
	listenersMu    sync.RWMutex

	commands      atomic.Uint64
	notifications atomic.Uint64
	dropped       atomic.Uint64
	errorsTotal   atomic.Uint64

	done      chan struct{}
	wg        sync.WaitGroup
	stopOnce  sync.Once
	ctx       context.Context
	ctxCancel context.CancelFunc

	logger   Logger
	loggerMu sync.RWMutex
}

// MQTTClient is the interface for MQTT operations.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error
	IsConnected() bool
}

// FixtureRecorderInterface records fixture sightings. *FixtureRecorder
// satisfies it.
type FixtureRecorderInterface interface {
	RecordFixture(address, mac string, rssi int, source string)
}

// TelemetryWriter receives a point for every fixture state report.
type TelemetryWriter interface {
	WriteFixtureState(address, mac string, fields map[string]any)
}

// DiscoverFunc runs one discovery scan. Discover satisfies it.
type DiscoverFunc func(ctx context.Context, sock *Socket, opts DiscoveryOptions) ([]*Device, error)

var _ FixtureRecorderInterface = (*FixtureRecorder)(nil)

// FixtureInfo describes a fixture managed by the bridge.
type FixtureInfo struct {
	Address    string `json:"address"`
	DeviceID   string `json:"device_id,omitempty"`
	Name       string `json:"name,omitempty"`
	MAC        string `json:"mac,omitempty"`
	Source     string `json:"source"`
	Subscribed bool   `json:"subscribed"`
}

type fixture struct {
	device        *Device
	deviceID      string
	name          string
	source        string
	mac           string
	removeHandler func()
}

type pushedState struct {
	address string
	n       Notification
}

type stateListener struct {
	id uint64
	fn func(StateMessage)
}

// BridgeOptions holds the dependencies for a bridge.
type BridgeOptions struct {
	Config     Config
	MQTTClient MQTTClient

	// Socket is the shared fixture socket. The bridge binds it at Start
	// but never closes it.
	Socket *Socket

	// Recorder is optional.
	Recorder FixtureRecorderInterface

	// Telemetry is optional.
	Telemetry TelemetryWriter

	// Discover overrides the discovery scan. Default: Discover.
	Discover DiscoverFunc

	// Validator overrides the response shape validator for every fixture.
	Validator Validator

	Logger Logger
}

// NewBridge creates a bridge. Call Start to begin operation.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.MQTTClient == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}
	if opts.Socket == nil {
		return nil, fmt.Errorf("socket is required")
	}

	cfg := opts.Config
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	identifier := strings.ToLower(cfg.Identifier)
	if identifier == "" {
		identifier = NewIdentifier()
	}

	discover := opts.Discover
	if discover == nil {
		discover = Discover
	}

	ctx, ctxCancel := context.WithCancel(context.Background())

	b := &Bridge{
		cfg:        cfg,
		mqtt:       opts.MQTTClient,
		sock:       opts.Socket,
		recorder:   opts.Recorder,
		telemetry:  opts.Telemetry,
		discover:   discover,
		identifier: identifier,
		fixtures:   make(map[string]*fixture),
		cmdLock:    make(chan struct{}, 1),
		stateCache: make(map[string]PilotState),
		pushed:     make(chan pushedState, notificationQueueLen),
		done:       make(chan struct{}),
		ctx:        ctx,
		ctxCancel:  ctxCancel,
		logger:     opts.Logger,
	}

	b.deviceOpts = []DeviceOption{
		WithCommandPort(cfg.CommandPort),
		WithTimeout(cfg.ResponseTimeout),
		WithIdentifier(identifier),
	}
	if opts.Validator != nil {
		b.deviceOpts = append(b.deviceOpts, WithValidator(opts.Validator))
	}
	if opts.Logger != nil {
		b.deviceOpts = append(b.deviceOpts, WithLogger(opts.Logger))
	}

	b.health = NewHealthReporter(HealthReporterConfig{
		BridgeID:  cfg.BridgeID,
		Version:   cfg.Version,
		Interval:  cfg.HealthInterval,
		Publisher: opts.MQTTClient,
		Socket:    opts.Socket,
		Stats:     b.Stats,
	})
	if opts.Logger != nil {
		b.health.SetLogger(opts.Logger)
	}

	return b, nil
}

// Start binds the shared socket, registers configured fixtures, subscribes
// to MQTT command and request topics, and starts health reporting and
// periodic discovery.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.health.PublishStarting(); err != nil {
		b.logError("failed to publish starting status", err)
	}

	if err := b.sock.Bind(ctx); err != nil {
		return fmt.Errorf("bind fixture socket: %w", err)
	}

	for _, fc := range b.cfg.Fixtures {
		dev, err := b.AddFixture(fc.Address, fc.DeviceID, fc.Name, SourceConfig)
		if err != nil {
			b.logError("failed to add configured fixture", fmt.Errorf("address=%s: %w", fc.Address, err))
			continue
		}
		if b.recorder != nil {
			b.recorder.RecordFixture(dev.IP(), "", 0, SourceConfig)
		}
	}

	commandTopic := CommandSubscribeTopic()
	if err := b.mqtt.Subscribe(commandTopic, 1, b.handleMQTTMessage); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.logInfo("subscribed to commands", "topic", commandTopic)

	requestTopic := RequestSubscribeTopic()
	if err := b.mqtt.Subscribe(requestTopic, 1, b.handleMQTTMessage); err != nil {
		return fmt.Errorf("subscribe to requests: %w", err)
	}
	b.logInfo("subscribed to requests", "topic", requestTopic)

	b.health.Start(ctx)
	if err := b.health.PublishNow(); err != nil {
		b.logError("failed to publish healthy status", err)
	}

	b.wg.Add(2)
	go b.notificationLoop()
	go b.initialSubscribe()

	if b.cfg.Discovery.Enabled {
		b.wg.Add(1)
		go b.discoveryLoop()
	}

	b.logInfo("bridge started",
		"bridge_id", b.cfg.BridgeID,
		"fixtures", b.fixtureCount(),
		"identifier", b.identifier)

	return nil
}

// Stop shuts the bridge down. The shared socket is left open for its owner
// to close. Safe to call multiple times.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)
		b.ctxCancel()

		b.health.Stop()
		b.wg.Wait()

		b.fixturesMu.Lock()
		for _, f := range b.fixtures {
			f.removeHandler()
			f.device.Unsubscribe()
		}
		b.fixturesMu.Unlock()

		b.logInfo("bridge stopped")
	})
}

// AddFixture starts managing the fixture at address. Adding a known
// address returns the existing device.
//
// Parameters:
//   - address: Fixture IPv4 address
//   - deviceID: Optional Gray Logic device ID echoed in state and acks
//   - name: Optional display name
//   - source: SourceConfig, SourceDiscovery or SourceNotification
func (b *Bridge) AddFixture(address, deviceID, name, source string) (*Device, error) {
	dev, err := NewDevice(b.sock, address, b.deviceOpts...)
	if err != nil {
		return nil, err
	}
	ip := dev.IP()

	b.fixturesMu.Lock()
	if existing, ok := b.fixtures[ip]; ok {
		if existing.deviceID == "" {
			existing.deviceID = deviceID
		}
		if existing.name == "" {
			existing.name = name
		}
		b.fixturesMu.Unlock()
		return existing.device, nil
	}
	f := &fixture{device: dev, deviceID: deviceID, name: name, source: source}
	f.removeHandler = dev.OnStateChange(func(n Notification) {
		b.enqueueNotification(ip, n)
	})
	b.fixtures[ip] = f
	count := len(b.fixtures)
	b.fixturesMu.Unlock()

	b.health.SetDeviceCount(count)
	b.logInfo("fixture added", "address", ip, "source", source)

	return dev, nil
}

// Fixtures lists the managed fixtures ordered by address.
func (b *Bridge) Fixtures() []FixtureInfo {
	b.fixturesMu.RLock()
	infos := make([]FixtureInfo, 0, len(b.fixtures))
	for ip, f := range b.fixtures {
		infos = append(infos, FixtureInfo{
			Address:    ip,
			DeviceID:   f.deviceID,
			Name:       f.name,
			MAC:        f.mac,
			Source:     f.source,
			Subscribed: f.device.Subscribed(),
		})
	}
	b.fixturesMu.RUnlock()

	sort.Slice(infos, func(i, j int) bool { return infos[i].Address < infos[j].Address })
	return infos
}

// Fixture returns the managed fixture at address.
func (b *Bridge) Fixture(address string) (FixtureInfo, bool) {
	f, ok := b.lookup(address)
	if !ok {
		return FixtureInfo{}, false
	}
	b.fixturesMu.RLock()
	defer b.fixturesMu.RUnlock()
	return FixtureInfo{
		Address:    f.device.IP(),
		DeviceID:   f.deviceID,
		Name:       f.name,
		MAC:        f.mac,
		Source:     f.source,
		Subscribed: f.device.Subscribed(),
	}, true
}

// Execute runs a bridge command against the fixture at address, waiting
// for the command lock unless the command is sent without waiting.
//
// Returns:
//   - error: ErrFixtureNotFound, ErrUnknownCommand, ErrInvalidParameters,
//     or any Device error
func (b *Bridge) Execute(ctx context.Context, address, command string, params map[string]any) error {
	f, ok := b.lookup(address)
	if !ok {
		return fmt.Errorf("%w: %s", ErrFixtureNotFound, address)
	}

	run, err := translateCommand(command, params)
	if err != nil {
		return err
	}

	b.commands.Add(1)
	if !waitsForReply(command, params) {
		return run(ctx, f.device)
	}
	return b.exclusive(ctx, func() error {
		return run(ctx, f.device)
	})
}

// ReadState queries the fixture at address and publishes the result as
// retained state.
func (b *Bridge) ReadState(ctx context.Context, address string) (PilotState, error) {
	f, ok := b.lookup(address)
	if !ok {
		return PilotState{}, fmt.Errorf("%w: %s", ErrFixtureNotFound, address)
	}

	var state PilotState
	err := b.exclusive(ctx, func() error {
		var err error
		state, err = f.device.GetState(ctx)
		return err
	})
	if err != nil {
		return PilotState{}, err
	}

	b.rememberMAC(f.device.IP(), state.MAC)
	b.publishState(f.device.IP(), state, "poll")
	return state, nil
}

// Subscribe registers for push notifications from the fixture at address.
func (b *Bridge) Subscribe(ctx context.Context, address string) error {
	f, ok := b.lookup(address)
	if !ok {
		return fmt.Errorf("%w: %s", ErrFixtureNotFound, address)
	}
	if f.device.Subscribed() {
		return nil
	}
	return b.exclusive(ctx, func() error {
		return f.device.Subscribe(ctx)
	})
}

// Unsubscribe stops acknowledging notifications from the fixture at address.
func (b *Bridge) Unsubscribe(address string) error {
	f, ok := b.lookup(address)
	if !ok {
		return fmt.Errorf("%w: %s", ErrFixtureNotFound, address)
	}
	f.device.Unsubscribe()
	return nil
}

// DiscoverNow runs one discovery scan, adds new fixtures and publishes a
// discovery message.
func (b *Bridge) DiscoverNow(ctx context.Context) ([]DiscoveredDevice, error) {
	reports := make(map[string]PilotState)
	devices, err := b.discover(ctx, b.sock, DiscoveryOptions{
		Address:       b.cfg.Discovery.Address,
		Port:          b.cfg.CommandPort,
		Window:        b.cfg.Discovery.Window,
		DeviceOptions: b.deviceOpts,
		OnReport: func(ip string, state PilotState) {
			reports[ip] = state
		},
		Logger: b.getLogger(),
	})
	if err != nil && len(devices) == 0 {
		return nil, err
	}

	found := make([]DiscoveredDevice, 0, len(devices))
	for _, dev := range devices {
		ip := dev.IP()
		state, hasReport := reports[ip]

		if _, err := b.AddFixture(ip, "", "", SourceDiscovery); err != nil {
			b.logError("failed to add discovered fixture", err)
			continue
		}
		if b.recorder != nil {
			b.recorder.RecordFixture(ip, state.MAC, state.RSSI, SourceDiscovery)
		}
		if hasReport {
			b.rememberMAC(ip, state.MAC)
			b.publishState(ip, state, "discovery")
		}
		found = append(found, NewDiscoveredDevice(ip, state.MAC))
	}

	msg := DiscoveryMessage{Timestamp: time.Now().UTC(), Bridge: b.cfg.BridgeID, Devices: found}
	if payload, mErr := json.Marshal(msg); mErr == nil {
		if pErr := b.mqtt.Publish(DiscoveryTopic(), payload, 1, false); pErr != nil {
			b.logError("failed to publish discovery", pErr)
		}
	}

	if b.cfg.Discovery.AutoSubscribe {
		for _, d := range found {
			b.autoSubscribe(d.Address)
		}
	}

	return found, err
}

// OnState registers a listener for every published state message and
// returns a function that removes it. Listeners must not block.
func (b *Bridge) OnState(fn func(StateMessage)) (remove func()) {
	b.listenersMu.Lock()
	b.nextListenerID++
	id := b.nextListenerID
	b.listeners = append(b.listeners, stateListener{id: id, fn: fn})
	b.listenersMu.Unlock()

	return func() {
		b.listenersMu.Lock()
		b.listeners = slices.DeleteFunc(b.listeners, func(l stateListener) bool { return l.id == id })
		b.listenersMu.Unlock()
	}
}

// Stats returns bridge statistics for health reporting.
func (b *Bridge) Stats() BridgeStatistics {
	s := b.sock.Stats()
	return BridgeStatistics{
		DatagramsReceived: s.DatagramsRx,
		DatagramsSent:     s.DatagramsTx,
		Commands:          b.commands.Load(),
		Notifications:     b.notifications.Load(),
		Dropped:           b.dropped.Load(),
		Errors:            b.errorsTotal.Load(),
	}
}

// Health returns the current health message without publishing it.
func (b *Bridge) Health() HealthMessage {
	return b.health.Snapshot()
}

// exclusive runs fn while holding the command lock.
func (b *Bridge) exclusive(ctx context.Context, fn func() error) error {
	select {
	case b.cmdLock <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-b.cmdLock }()
	return fn()
}

func (b *Bridge) lookup(address string) (*fixture, bool) {
	b.fixturesMu.RLock()
	defer b.fixturesMu.RUnlock()
	f, ok := b.fixtures[address]
	return f, ok
}

func (b *Bridge) fixtureCount() int {
	b.fixturesMu.RLock()
	defer b.fixturesMu.RUnlock()
	return len(b.fixtures)
}

func (b *Bridge) rememberMAC(address, mac string) {
	if mac == "" {
		return
	}
	b.fixturesMu.Lock()
	if f, ok := b.fixtures[address]; ok {
		f.mac = mac
	}
	b.fixturesMu.Unlock()
}

// initialSubscribe registers for notifications from configured fixtures
// marked subscribe.
func (b *Bridge) initialSubscribe() {
	defer b.wg.Done()

	for _, fc := range b.cfg.Fixtures {
		if !fc.Subscribe {
			continue
		}
		select {
		case <-b.done:
			return
		default:
		}

		ctx, cancel := context.WithTimeout(b.ctx, b.cfg.CommandTimeout)
		err := b.Subscribe(ctx, fc.Address)
		cancel()
		if err != nil {
			b.errorsTotal.Add(1)
			b.logError("subscribe failed", fmt.Errorf("address=%s: %w", fc.Address, err))
		}
	}
}

// autoSubscribe registers with a discovered fixture. Each fixture gets its
// own CommandTimeout so silent fixtures cannot starve later ones.
func (b *Bridge) autoSubscribe(address string) {
	ctx, cancel := context.WithTimeout(b.ctx, b.cfg.CommandTimeout)
	defer cancel()
	if err := b.Subscribe(ctx, address); err != nil {
		b.errorsTotal.Add(1)
		b.logError("auto-subscribe failed", fmt.Errorf("address=%s: %w", address, err))
	}
}

func (b *Bridge) discoveryLoop() {
	defer b.wg.Done()

	ticker := time.NewTicker(b.cfg.Discovery.Interval)
	defer ticker.Stop()

	for {
		ctx, cancel := context.WithTimeout(b.ctx, b.cfg.Discovery.Window+b.cfg.CommandTimeout)
		found, err := b.DiscoverNow(ctx)
		cancel()
		if err != nil && !errors.Is(err, context.Canceled) {
			b.logError("discovery failed", err)
		} else {
			b.logDebug("discovery complete", "found", len(found))
		}

		select {
		case <-b.done:
			return
		case <-ticker.C:
		}
	}
}

// handleMQTTMessage routes incoming MQTT messages by topic type.
func (b *Bridge) handleMQTTMessage(topic string, payload []byte) {
	parts := strings.Split(topic, "/")
	if len(parts) < minTopicParts {
		b.logError("invalid topic format", fmt.Errorf("topic: %s", topic))
		return
	}

	switch parts[1] {
	case "command":
		b.handleCommand(parts[3], payload)
	case "request":
		b.handleRequest(payload)
	default:
		b.logError("unknown message type", fmt.Errorf("type: %s", parts[1]))
	}
}

// handleCommand executes a command for the fixture named in the topic
// and publishes its acknowledgment.
func (b *Bridge) handleCommand(address string, payload []byte) {
	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.logError("failed to parse command", err)
		return
	}

	b.logInfo("received command",
		"command_id", cmd.ID,
		"address", address,
		"command", cmd.Command)

	ctx, cancel := context.WithTimeout(b.ctx, b.cfg.CommandTimeout)
	defer cancel()

	if err := b.Execute(ctx, address, cmd.Command, cmd.Parameters); err != nil {
		b.errorsTotal.Add(1)
		b.publishAckError(cmd, address, ErrorCode(err), err.Error())
		return
	}

	b.publishAck(cmd, address, AckAccepted)
}

// ErrorCode maps an error onto a bridge error code.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrUnknownCommand):
		return ErrCodeInvalidCommand
	case errors.Is(err, ErrInvalidParameters), errors.Is(err, ErrArgumentOutOfRange):
		return ErrCodeInvalidParameters
	case errors.Is(err, ErrFixtureNotFound), errors.Is(err, ErrInvalidAddress):
		return ErrCodeNotConfigured
	case errors.Is(err, ErrSocketClosed):
		return ErrCodeBridgeError
	case errors.Is(err, ErrRequestTimedOut), errors.Is(err, context.DeadlineExceeded):
		return ErrCodeTimeout
	case errors.Is(err, ErrBulbReturnedFailure):
		return ErrCodeDeviceError
	case errors.Is(err, ErrResponseParseFailed), errors.Is(err, ErrResponseValidationFailed):
		return ErrCodeProtocolError
	case errors.Is(err, ErrRequestSendError):
		return ErrCodeDeviceUnreachable
	default:
		return ErrCodeBridgeError
	}
}

// handleRequest answers a request message from Core.
func (b *Bridge) handleRequest(payload []byte) {
	var req RequestMessage
	if err := json.Unmarshal(payload, &req); err != nil {
		b.logError("failed to parse request", err)
		return
	}

	b.logInfo("received request",
		"request_id", req.RequestID,
		"action", req.Action)

	var resp ResponseMessage
	switch req.Action {
	case "read_state":
		resp = b.handleReadState(req)
	case "read_all":
		resp = b.handleReadAll(req)
	case "discover":
		resp = b.handleDiscover(req)
	default:
		resp = errorResponse(req, ErrCodeInvalidCommand, fmt.Sprintf("unknown action: %s", req.Action))
	}

	respPayload, err := json.Marshal(resp)
	if err != nil {
		b.logError("failed to marshal response", err)
		return
	}
	if err := b.mqtt.Publish(ResponseTopic(req.RequestID), respPayload, 1, false); err != nil {
		b.logError("failed to publish response", err)
	}
}

func (b *Bridge) handleReadState(req RequestMessage) ResponseMessage {
	if req.Address == "" {
		return errorResponse(req, ErrCodeInvalidParameters, "address is required")
	}

	ctx, cancel := context.WithTimeout(b.ctx, b.cfg.CommandTimeout)
	defer cancel()

	state, err := b.ReadState(ctx, req.Address)
	if err != nil {
		return errorResponse(req, ErrorCode(err), err.Error())
	}
	return ResponseMessage{
		RequestID: req.RequestID,
		Timestamp: time.Now().UTC(),
		Success:   true,
		Data: map[string]any{
			"address": req.Address,
			"state":   StateMap(state),
		},
	}
}

// handleReadAll queries every fixture in turn. Failures are reported per
// fixture; the request itself only fails if it runs out of time.
func (b *Bridge) handleReadAll(req RequestMessage) ResponseMessage {
	ctx, cancel := context.WithTimeout(b.ctx, readAllTimeout)
	defer cancel()

	states := make(map[string]any)
	failures := make(map[string]any)
	for _, info := range b.Fixtures() {
		state, err := b.ReadState(ctx, info.Address)
		if err != nil {
			if ctx.Err() != nil {
				return errorResponse(req, ErrCodeTimeout, "read_all timed out")
			}
			failures[info.Address] = ErrorCode(err)
			continue
		}
		states[info.Address] = StateMap(state)
	}

	data := map[string]any{"states": states}
	if len(failures) > 0 {
		data["failures"] = failures
	}
	return ResponseMessage{
		RequestID: req.RequestID,
		Timestamp: time.Now().UTC(),
		Success:   true,
		Data:      data,
	}
}

func (b *Bridge) handleDiscover(req RequestMessage) ResponseMessage {
	ctx, cancel := context.WithTimeout(b.ctx, b.cfg.Discovery.Window+b.cfg.CommandTimeout)
	defer cancel()

	found, err := b.DiscoverNow(ctx)
	if err != nil && len(found) == 0 {
		return errorResponse(req, ErrorCode(err), err.Error())
	}
	addresses := make([]string, 0, len(found))
	for _, d := range found {
		addresses = append(addresses, d.Address)
	}
	return ResponseMessage{
		RequestID: req.RequestID,
		Timestamp: time.Now().UTC(),
		Success:   true,
		Data:      map[string]any{"devices": addresses},
	}
}

func errorResponse(req RequestMessage, code, message string) ResponseMessage {
	return ResponseMessage{
		RequestID: req.RequestID,
		Timestamp: time.Now().UTC(),
		Success:   false,
		Error:     &ResponseError{Code: code, Message: message},
	}
}

// enqueueNotification hands a pushed state to notificationLoop. It runs on
// the socket read loop and must not block: a full queue drops the state.
func (b *Bridge) enqueueNotification(address string, n Notification) {
	select {
	case b.pushed <- pushedState{address: address, n: n}:
	default:
		if b.dropped.Add(1)%notificationQueueLen == 1 {
			b.logWarn("notification queue full, dropping state", "address", address, "dropped", b.dropped.Load())
		}
	}
}

func (b *Bridge) notificationLoop() {
	defer b.wg.Done()
	for {
		select {
		case <-b.done:
			return
		case p := <-b.pushed:
			b.handleNotification(p.address, p.n)
		}
	}
}

// handleNotification records, forwards and publishes a pushed state.
func (b *Bridge) handleNotification(address string, n Notification) {
	b.notifications.Add(1)
	s := n.Params

	b.rememberMAC(address, s.MAC)
	if b.recorder != nil {
		b.recorder.RecordFixture(address, s.MAC, s.RSSI, SourceNotification)
	}
	if b.telemetry != nil {
		b.telemetry.WriteFixtureState(address, s.MAC, telemetryFields(s))
	}

	if b.stateUnchanged(address, s) {
		return
	}
	b.publishState(address, s, "notification")
}

// telemetryFields selects the numeric fields written per state report.
func telemetryFields(s PilotState) map[string]any {
	fields := map[string]any{"on": s.State}
	if s.Dimming > 0 {
		fields["dimming"] = s.Dimming
	}
	if s.RSSI != 0 {
		fields["rssi"] = s.RSSI
	}
	if s.Temp > 0 {
		fields["kelvin"] = s.Temp
	}
	if s.SceneID > 0 {
		fields["scene_id"] = s.SceneID
	}
	return fields
}

// stateUnchanged reports whether s matches the last published state,
// ignoring signal strength and timestamps, and caches it otherwise.
func (b *Bridge) stateUnchanged(address string, s PilotState) bool {
	s.RSSI, s.TS, s.MQTTCd, s.Src = 0, 0, 0, ""

	b.stateCacheMu.Lock()
	defer b.stateCacheMu.Unlock()

	if prev, ok := b.stateCache[address]; ok && prev == s {
		return true
	}
	b.stateCache[address] = s
	return false
}

func (b *Bridge) publishState(address string, s PilotState, source string) {
	b.fixturesMu.RLock()
	var deviceID string
	if f, ok := b.fixtures[address]; ok {
		deviceID = f.deviceID
	}
	b.fixturesMu.RUnlock()

	msg := NewStateMessage(deviceID, address, source, s)

	payload, err := json.Marshal(msg)
	if err != nil {
		b.logError("failed to marshal state", err)
		return
	}
	if err := b.mqtt.Publish(StateTopic(address), payload, 1, true); err != nil {
		b.logError("failed to publish state", err)
	}

	b.listenersMu.RLock()
	listeners := slices.Clone(b.listeners)
	b.listenersMu.RUnlock()
	for _, l := range listeners {
		l.fn(msg)
	}
}

func (b *Bridge) publishAck(cmd CommandMessage, address string, status AckStatus) {
	b.publishAckMessage(NewAckMessage(cmd, status, address))
}

func (b *Bridge) publishAckError(cmd CommandMessage, address, code, message string) {
	b.publishAckMessage(NewAckError(cmd, address, code, message))
	b.logError("command failed", fmt.Errorf("code=%s message=%s", code, message))
}

func (b *Bridge) publishAckMessage(ack AckMessage) {
	payload, err := json.Marshal(ack)
	if err != nil {
		b.logError("failed to marshal ack", err)
		return
	}
	if err := b.mqtt.Publish(AckTopic(ack.Address), payload, 1, false); err != nil {
		b.logError("failed to publish ack", err)
	}
}

// SetLogger sets the logger for the bridge and its health reporter.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()
	b.health.SetLogger(logger)
}

func (b *Bridge) getLogger() Logger {
	b.loggerMu.RLock()
	defer b.loggerMu.RUnlock()
	return b.logger
}

func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (b *Bridge) logWarn(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

func (b *Bridge) logError(msg string, err error) {
	if logger := b.getLogger(); logger != nil {
		logger.Error(msg, "error", err)
	}
}

func (b *Bridge) logDebug(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}
