package wiz

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

// Default ports and socket parameters.
const (
	// DefaultCommandPort is the port fixtures accept commands on.
	DefaultCommandPort = 38899

	// DefaultListenPort is the fixed client port fixtures reply and push
	// notifications to.
	DefaultListenPort = 38900

	// defaultReadBufferSize covers the largest getPilot reply with room to spare.
	defaultReadBufferSize = 4096

	// defaultWriteTimeout bounds a single datagram write.
	defaultWriteTimeout = 2 * time.Second

	// readErrorBackoff throttles the read loop after a non-fatal read error.
	readErrorBackoff = 100 * time.Millisecond
)

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// ListenFunc opens a packet socket. It matches net.ListenConfig.ListenPacket
// so tests can substitute an in-memory connection.
type ListenFunc func(ctx context.Context, network, address string) (net.PacketConn, error)

// SocketConfig holds shared socket configuration.
type SocketConfig struct {
	// ListenAddress is the local address to bind. Default: all interfaces.
	ListenAddress string

	// ListenPort is the fixed local port. Default: 38900.
	ListenPort int

	// ReadBufferSize is the maximum datagram size accepted. Default: 4096.
	ReadBufferSize int

	// Listen opens the socket. Default: net.ListenConfig.ListenPacket.
	Listen ListenFunc

	// Metrics records socket activity when set.
	Metrics *Metrics
}

// Datagram is one inbound message as delivered to observers.
type Datagram struct {
	Addr       net.Addr
	Raw        []byte
	Payload    map[string]any
	DecodeErr  error
	ReceivedAt time.Time
}

// IP returns the sender's IP address.
func (d Datagram) IP() net.IP {
	return addrIP(d.Addr)
}

// Method returns the payload's method name, or "" when absent or undecodable.
func (d Datagram) Method() string {
	if d.Payload == nil {
		return ""
	}
	return methodOf(d.Payload)
}

// SocketStats holds operational statistics.
type SocketStats struct {
	State          ConnectionState
	DatagramsTx    uint64
	DatagramsRx    uint64
	DecodeErrors   uint64
	SendErrors     uint64
	ObserverPanics uint64
	Observers      int
	LastActivity   time.Time
}

type observer struct {
	id      uint64
	fn      func(Datagram)
	removed atomic.Bool
}

// Socket owns the single UDP socket shared by every Device in the process,
// together with the connection state machine that gates correlated sends.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Observers are invoked one at a time on the read loop goroutine, in
//     registration order, for every datagram in arrival order.
//   - Observers may call Send and remove themselves, but must not call Close.
//
// Close is a single authoritative teardown. Every Device holding this
// Socket loses communication when any of them closes it.
type Socket struct {
	cfg SocketConfig
	sm  *stateMachine

	bindMu sync.Mutex

	connMu sync.RWMutex
	conn   net.PacketConn

	sendMu sync.Mutex

	obsMu     sync.Mutex
	observers []*observer
	nextObsID uint64

	done *closeOnce
	wg   sync.WaitGroup

	logger   Logger
	loggerMu sync.RWMutex

	datagramsTx    atomic.Uint64
	datagramsRx    atomic.Uint64
	decodeErrors   atomic.Uint64
	sendErrors     atomic.Uint64
	observerPanics atomic.Uint64
	lastActivity   atomic.Int64
}

// NewSocket creates an unbound shared socket in state Idle.
func NewSocket(cfg SocketConfig) *Socket {
	if cfg.ListenPort == 0 {
		cfg.ListenPort = DefaultListenPort
	}
	if cfg.ReadBufferSize == 0 {
		cfg.ReadBufferSize = defaultReadBufferSize
	}
	if cfg.Listen == nil {
		var lc net.ListenConfig
		cfg.Listen = lc.ListenPacket
	}

	s := &Socket{
		cfg:  cfg,
		sm:   newStateMachine(),
		done: newCloseOnce(),
	}
	s.sm.log = s.logDebug
	if cfg.Metrics != nil {
		s.sm.observe(cfg.Metrics.transition)
	}
	return s
}

// Bind binds the shared listen port and starts the read loop.
//
// Bind is idempotent: it returns nil immediately once the socket is Ready
// or AwaitingResponse. A failed bind leaves the state in Binding and may
// be retried.
//
// Returns:
//   - error: ErrSocketBindFailed wrapping the OS error, or ErrSocketClosed
func (s *Socket) Bind(ctx context.Context) error {
	s.bindMu.Lock()
	defer s.bindMu.Unlock()

	switch s.sm.current() {
	case StateReady, StateAwaitingResponse:
		return nil
	case StateClosed:
		return ErrSocketClosed
	case StateIdle:
		if !s.sm.transition(StateIdle, StateBinding) {
			return ErrSocketClosed
		}
	case StateBinding:
		// Previous attempt failed; retry.
	}

	address := net.JoinHostPort(s.cfg.ListenAddress, strconv.Itoa(s.cfg.ListenPort))
	conn, err := s.cfg.Listen(ctx, "udp4", address)
	if err != nil {
		s.logError("bind failed", err, "address", address)
		return fmt.Errorf("%w: %s: %w", ErrSocketBindFailed, address, err)
	}

	s.connMu.Lock()
	defer s.connMu.Unlock()

	if s.isClosed() || !s.sm.transition(StateBinding, StateReady) {
		conn.Close()
		return ErrSocketClosed
	}
	s.conn = conn
	s.lastActivity.Store(time.Now().Unix())

	s.wg.Add(1)
	go s.readLoop(conn)

	s.logInfo("socket bound", "address", conn.LocalAddr().String())
	return nil
}

// Send writes one datagram. It is not gated by AwaitingResponse.
//
// Returns:
//   - error: ErrRequestSendError wrapping the OS error, or wrapping
//     ErrSocketClosed when the socket is closed or was never bound
func (s *Socket) Send(payload []byte, addr net.Addr) error {
	s.connMu.RLock()
	conn := s.conn
	s.connMu.RUnlock()

	if s.isClosed() {
		return fmt.Errorf("%w: %w", ErrRequestSendError, ErrSocketClosed)
	}
	if conn == nil {
		return fmt.Errorf("%w: socket not bound (state %s)", ErrRequestSendError, s.State())
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	if err := conn.SetWriteDeadline(time.Now().Add(defaultWriteTimeout)); err != nil {
		s.sendErrors.Add(1)
		s.cfg.Metrics.inc(sendErrorsMetric)
		return fmt.Errorf("%w: set deadline: %w", ErrRequestSendError, err)
	}
	if _, err := conn.WriteTo(payload, addr); err != nil {
		s.sendErrors.Add(1)
		s.cfg.Metrics.inc(sendErrorsMetric)
		return fmt.Errorf("%w: write to %s: %w", ErrRequestSendError, addr, err)
	}

	s.datagramsTx.Add(1)
	s.cfg.Metrics.inc(datagramsSentMetric)
	s.lastActivity.Store(time.Now().Unix())
	return nil
}

// OnDatagram registers a receive observer and returns a function that
// removes it. The remove function is idempotent and safe to call from
// inside the observer.
func (s *Socket) OnDatagram(fn func(Datagram)) (remove func()) {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()

	if s.isClosed() {
		return func() {}
	}

	s.nextObsID++
	obs := &observer{id: s.nextObsID, fn: fn}
	s.observers = append(s.observers, obs)

	return func() { s.removeObserver(obs) }
}

func (s *Socket) removeObserver(obs *observer) {
	if !obs.removed.CompareAndSwap(false, true) {
		return
	}

	s.obsMu.Lock()
	defer s.obsMu.Unlock()

	for i, o := range s.observers {
		if o == obs {
			s.observers = append(s.observers[:i:i], s.observers[i+1:]...)
			return
		}
	}
}

// OnTransition registers an observer for connection state changes.
// Observers run synchronously and must not call back into the Socket.
func (s *Socket) OnTransition(fn func(Transition)) {
	s.sm.observe(fn)
}

// State returns the current connection state.
func (s *Socket) State() ConnectionState {
	return s.sm.current()
}

// Done is closed when the socket is closed.
func (s *Socket) Done() <-chan struct{} {
	return s.done.Done()
}

// LocalAddr returns the bound address, or nil before Bind succeeds.
func (s *Socket) LocalAddr() net.Addr {
	s.connMu.RLock()
	defer s.connMu.RUnlock()
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// Close moves the socket to Closed from any state, drops every observer
// and releases the OS socket. Safe to call multiple times.
//
// Close affects every Device sharing this Socket. It must not be called
// from inside an observer.
//
// Returns:
//   - error: nil (closing is best-effort)
func (s *Socket) Close() error {
	s.done.Close()

	s.connMu.Lock()
	closed := s.sm.close()
	if s.conn != nil {
		s.conn.Close()
	}
	s.connMu.Unlock()

	s.obsMu.Lock()
	for _, o := range s.observers {
		o.removed.Store(true)
	}
	s.observers = nil
	s.obsMu.Unlock()

	s.wg.Wait()

	if closed {
		s.logInfo("socket closed")
	}
	return nil
}

// readLoop delivers every inbound datagram to the observers.
func (s *Socket) readLoop(conn net.PacketConn) {
	defer s.wg.Done()

	buf := make([]byte, s.cfg.ReadBufferSize)
	for {
		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			if s.isClosed() || errors.Is(err, net.ErrClosed) {
				return
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			s.logError("read failed", err)
			select {
			case <-s.done.Done():
				return
			case <-time.After(readErrorBackoff):
			}
			continue
		}

		dg := Datagram{
			Addr:       addr,
			Raw:        bytes.Clone(buf[:n]),
			ReceivedAt: time.Now(),
		}
		dg.Payload, dg.DecodeErr = Decode(dg.Raw)

		s.datagramsRx.Add(1)
		s.cfg.Metrics.inc(datagramsReceivedMetric)
		s.lastActivity.Store(dg.ReceivedAt.Unix())
		if dg.DecodeErr != nil {
			s.decodeErrors.Add(1)
			s.cfg.Metrics.inc(decodeErrorsMetric)
			s.logDebug("undecodable datagram", "from", addr.String(), "error", dg.DecodeErr)
		}

		s.dispatch(dg)
	}
}

// dispatch calls each observer registered at arrival time, skipping any
// removed by an earlier observer during the same dispatch.
func (s *Socket) dispatch(dg Datagram) {
	s.obsMu.Lock()
	snapshot := make([]*observer, len(s.observers))
	copy(snapshot, s.observers)
	s.obsMu.Unlock()

	for _, obs := range snapshot {
		if obs.removed.Load() {
			continue
		}
		s.invoke(obs, dg)
	}
}

func (s *Socket) invoke(obs *observer, dg Datagram) {
	defer func() {
		if r := recover(); r != nil {
			s.observerPanics.Add(1)
			s.logError("datagram observer panic", fmt.Errorf("%v", r))
		}
	}()
	obs.fn(dg)
}

// isClosed returns true if the socket has been closed.
func (s *Socket) isClosed() bool {
	select {
	case <-s.done.Done():
		return true
	default:
		return false
	}
}

// Stats returns current operational statistics.
func (s *Socket) Stats() SocketStats {
	s.obsMu.Lock()
	observers := len(s.observers)
	s.obsMu.Unlock()

	return SocketStats{
		State:          s.State(),
		DatagramsTx:    s.datagramsTx.Load(),
		DatagramsRx:    s.datagramsRx.Load(),
		DecodeErrors:   s.decodeErrors.Load(),
		SendErrors:     s.sendErrors.Load(),
		ObserverPanics: s.observerPanics.Load(),
		Observers:      observers,
		LastActivity:   time.Unix(s.lastActivity.Load(), 0),
	}
}

// SetLogger sets the logger for this socket.
func (s *Socket) SetLogger(logger Logger) {
	s.loggerMu.Lock()
	s.logger = logger
	s.loggerMu.Unlock()
}

func (s *Socket) getLogger() Logger {
	s.loggerMu.RLock()
	defer s.loggerMu.RUnlock()
	return s.logger
}

// logDebug logs a debug message if logger is set.
func (s *Socket) logDebug(msg string, keysAndValues ...any) {
	if logger := s.getLogger(); logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

// logInfo logs an info message if logger is set.
func (s *Socket) logInfo(msg string, keysAndValues ...any) {
	if logger := s.getLogger(); logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

// logError logs an error message if logger is set.
func (s *Socket) logError(msg string, err error, keysAndValues ...any) {
	if logger := s.getLogger(); logger != nil {
		logger.Error(msg, append([]any{"error", err}, keysAndValues...)...)
	}
}

// addrIP extracts the IP from a net.Addr.
func addrIP(addr net.Addr) net.IP {
	switch a := addr.(type) {
	case *net.UDPAddr:
		return a.IP
	case nil:
		return nil
	default:
		host, _, err := net.SplitHostPort(a.String())
		if err != nil {
			return net.ParseIP(a.String())
		}
		return net.ParseIP(host)
	}
}
