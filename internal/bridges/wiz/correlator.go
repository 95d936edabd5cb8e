package wiz

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultResponseTimeout is how long a correlated request waits for a reply.
const DefaultResponseTimeout = 2000 * time.Millisecond

// CorrelatorStats holds request statistics.
type CorrelatorStats struct {
	Requests  uint64
	Matched   uint64
	TimedOut  uint64
	Failed    uint64
	FireSends uint64
}

// Correlator turns sends on the shared socket into awaitable request/reply
// exchanges that settle exactly once.
//
// At most one correlated request is outstanding per Socket, whichever
// Correlator issued it. The AwaitingResponse state enforces this.
type Correlator struct {
	sock      *Socket
	timeout   time.Duration
	validator Validator

	requests  atomic.Uint64
	matched   atomic.Uint64
	timedOut  atomic.Uint64
	failed    atomic.Uint64
	fireSends atomic.Uint64
}

// NewCorrelator creates a correlator on sock. A zero timeout uses
// DefaultResponseTimeout; a nil validator uses the package SchemaValidator.
func NewCorrelator(sock *Socket, timeout time.Duration, validator Validator) *Correlator {
	if timeout <= 0 {
		timeout = DefaultResponseTimeout
	}
	if validator == nil {
		validator = defaultValidator
	}
	return &Correlator{sock: sock, timeout: timeout, validator: validator}
}

type opResult struct {
	dg  Datagram
	err error
}

// pendingOperation is the single in-flight correlated request.
type pendingOperation struct {
	method   string
	addr     *net.UDPAddr
	deadline time.Time

	once   sync.Once
	result chan opResult
	sm     *stateMachine
}

// settle completes the operation once: it returns the state to Ready and
// publishes the result. Later calls are no-ops, so datagrams that reach the
// observer before Request deregisters it have no effect.
func (op *pendingOperation) settle(dg Datagram, err error) {
	op.once.Do(func() {
		op.sm.transition(StateAwaitingResponse, StateReady)
		op.result <- opResult{dg: dg, err: err}
	})
}

// observe is the single-shot datagram observer for the operation.
func (op *pendingOperation) observe(dg Datagram) {
	if !dg.IP().Equal(op.addr.IP) {
		return
	}

	if dg.DecodeErr != nil {
		op.settle(dg, &RequestError{
			Kind:   ErrResponseParseFailed,
			Method: op.method,
			Addr:   op.addr.IP.String(),
			Raw:    dg.Raw,
			Err:    dg.DecodeErr,
		})
		return
	}

	if m := dg.Method(); m != "" && m != op.method {
		return
	}

	if devErr, ok := deviceErrorFrom(dg.Payload); ok {
		op.settle(dg, &RequestError{
			Kind:    ErrBulbReturnedFailure,
			Method:  op.method,
			Addr:    op.addr.IP.String(),
			Raw:     dg.Raw,
			Payload: dg.Payload,
			Device:  devErr,
		})
		return
	}

	op.settle(dg, nil)
}

// Request sends cmd to addr and waits for the matching reply.
//
// A reply matches when it comes from addr's IP and either carries no method
// or the same method as cmd. Other datagrams are ignored.
//
// Parameters:
//   - ctx: Context for cancellation of the wait
//   - addr: Fixture address
//   - cmd: Command to send
//   - timeout: Per-call timeout; zero uses the correlator default
//
// Returns:
//   - Datagram: The matching reply
//   - error: *StateError if the socket is not Ready, otherwise a
//     *RequestError whose Kind is ErrRequestTimedOut, ErrResponseParseFailed,
//     ErrBulbReturnedFailure, ErrRequestSendError, ErrSocketClosed or a
//     context error
func (c *Correlator) Request(ctx context.Context, addr *net.UDPAddr, cmd Command, timeout time.Duration) (Datagram, error) {
	started := time.Now()
	dg, err := c.roundTrip(ctx, addr, cmd, timeout)
	c.sock.cfg.Metrics.request(cmd.Method(), started, err)
	return dg, err
}

// roundTrip sends cmd and waits for the matching reply. Metrics are left
// to the caller so shape validation can be counted in the same result.
func (c *Correlator) roundTrip(ctx context.Context, addr *net.UDPAddr, cmd Command, timeout time.Duration) (Datagram, error) {
	if timeout <= 0 {
		timeout = c.timeout
	}
	method := cmd.Method()

	payload, err := cmd.Encode()
	if err != nil {
		return Datagram{}, &RequestError{Kind: ErrRequestSendError, Method: method, Addr: addr.IP.String(), Err: err}
	}

	sm := c.sock.sm
	if !sm.transition(StateReady, StateAwaitingResponse) {
		return Datagram{}, &StateError{Op: method, State: sm.current()}
	}

	c.requests.Add(1)

	op := &pendingOperation{
		method:   method,
		addr:     addr,
		deadline: time.Now().Add(timeout),
		result:   make(chan opResult, 1),
		sm:       sm,
	}
	// Registered before sending so a fast reply cannot be missed.
	remove := c.sock.OnDatagram(op.observe)
	defer remove()

	if err := c.sock.Send(payload, addr); err != nil {
		op.settle(Datagram{}, &RequestError{Kind: ErrRequestSendError, Method: method, Addr: addr.IP.String(), Err: err})
	}

	timer := time.NewTimer(time.Until(op.deadline))
	defer timer.Stop()

	select {
	case r := <-op.result:
		return c.finish(r)
	case <-timer.C:
		op.settle(Datagram{}, &RequestError{
			Kind:   ErrRequestTimedOut,
			Method: method,
			Addr:   addr.IP.String(),
			Err:    fmt.Errorf("no matching reply within %s", timeout),
		})
	case <-ctx.Done():
		op.settle(Datagram{}, &RequestError{Kind: ctx.Err(), Method: method, Addr: addr.IP.String()})
	case <-c.sock.Done():
		op.settle(Datagram{}, &RequestError{Kind: ErrSocketClosed, Method: method, Addr: addr.IP.String()})
	}

	return c.finish(<-op.result)
}

func (c *Correlator) finish(r opResult) (Datagram, error) {
	switch {
	case r.err == nil:
		c.matched.Add(1)
	case resultLabel(r.err) == "timeout":
		c.timedOut.Add(1)
	default:
		c.failed.Add(1)
	}
	return r.dg, r.err
}

// Exchange runs Request and then checks the reply against shape.
//
// Returns:
//   - error: any Request error, or a *RequestError with Kind
//     ErrResponseValidationFailed if the reply does not conform to shape
func (c *Correlator) Exchange(ctx context.Context, addr *net.UDPAddr, cmd Command, shape Shape, timeout time.Duration) (Datagram, error) {
	started := time.Now()
	dg, err := c.roundTrip(ctx, addr, cmd, timeout)
	if err == nil && !c.validator.Validate(shape, dg.Payload) {
		err = &RequestError{
			Kind:    ErrResponseValidationFailed,
			Method:  cmd.Method(),
			Addr:    addr.IP.String(),
			Raw:     dg.Raw,
			Payload: dg.Payload,
			Err:     fmt.Errorf("reply does not match shape %s", shape.Name),
		}
	}
	c.sock.cfg.Metrics.request(cmd.Method(), started, err)
	return dg, err
}

// Fire sends cmd without waiting for a reply. It ignores the connection
// state beyond requiring a bound socket.
//
// Returns:
//   - error: ErrRequestSendError if encoding or the OS send fails
func (c *Correlator) Fire(addr *net.UDPAddr, cmd Command) error {
	payload, err := cmd.Encode()
	if err != nil {
		return fmt.Errorf("%w: encode %s: %w", ErrRequestSendError, cmd.Method(), err)
	}
	if err := c.sock.Send(payload, addr); err != nil {
		return err
	}
	c.fireSends.Add(1)
	return nil
}

// Stats returns request statistics.
func (c *Correlator) Stats() CorrelatorStats {
	return CorrelatorStats{
		Requests:  c.requests.Load(),
		Matched:   c.matched.Load(),
		TimedOut:  c.timedOut.Load(),
		Failed:    c.failed.Load(),
		FireSends: c.fireSends.Load(),
	}
}
