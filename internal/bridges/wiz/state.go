package wiz

import (
	"slices"
	"sync"
	"time"
)

// ConnectionState is the state of the shared socket.
type ConnectionState int32

// Connection states.
const (
	// StateIdle is the state before any bind has been attempted.
	StateIdle ConnectionState = iota

	// StateBinding holds from the first bind attempt until the OS confirms
	// the bind. A failed bind stays here so Bind can be retried.
	StateBinding

	// StateReady permits sends.
	StateReady

	// StateAwaitingResponse is held while one correlated request is
	// outstanding. It blocks further correlated requests only.
	StateAwaitingResponse

	// StateClosed is terminal.
	StateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBinding:
		return "binding"
	case StateReady:
		return "ready"
	case StateAwaitingResponse:
		return "awaiting_response"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// transitions is the complete transition table. Closed is reachable from
// every state and leaves to none.
var transitions = map[ConnectionState][]ConnectionState{
	StateIdle:             {StateBinding, StateClosed},
	StateBinding:          {StateReady, StateClosed},
	StateReady:            {StateAwaitingResponse, StateClosed},
	StateAwaitingResponse: {StateReady, StateClosed},
	StateClosed:           nil,
}

// CanTransition reports whether the table permits from -> to.
func CanTransition(from, to ConnectionState) bool {
	return slices.Contains(transitions[from], to)
}

// Transition records one state change.
type Transition struct {
	From ConnectionState
	To   ConnectionState
	At   time.Time
}

// stateMachine guards the connection state. Observers run synchronously
// under the state lock, in transition order, and must not call back into
// the machine.
type stateMachine struct {
	mu        sync.Mutex
	state     ConnectionState
	observers []func(Transition)
	log       func(msg string, keysAndValues ...any)
}

func newStateMachine() *stateMachine {
	return &stateMachine{state: StateIdle}
}

func (m *stateMachine) current() ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// transition moves from -> to if the machine is in from and the table
// permits it. It returns false and changes nothing otherwise.
func (m *stateMachine) transition(from, to ConnectionState) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != from || !CanTransition(from, to) {
		return false
	}
	m.apply(to)
	return true
}

// close moves to Closed from any state. It returns false if already closed.
func (m *stateMachine) close() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateClosed {
		return false
	}
	m.apply(StateClosed)
	return true
}

// apply must be called with mu held.
func (m *stateMachine) apply(to ConnectionState) {
	t := Transition{From: m.state, To: to, At: time.Now()}
	m.state = to

	if m.log != nil {
		m.log("connection state changed", "from", t.From.String(), "to", t.To.String())
	}
	for _, fn := range m.observers {
		notifyTransition(fn, t)
	}
}

func notifyTransition(fn func(Transition), t Transition) {
	defer func() {
		_ = recover()
	}()
	fn(t)
}

func (m *stateMachine) observe(fn func(Transition)) {
	m.mu.Lock()
	m.observers = append(m.observers, fn)
	m.mu.Unlock()
}
