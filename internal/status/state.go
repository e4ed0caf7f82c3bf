package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/matheus3301/smsinbox/internal/bus"
)

// State represents the daemon's connectivity to the backend.
type State string

const (
	Booting      State = "BOOTING"
	AuthRequired State = "AUTH_REQUIRED"
	Connecting   State = "CONNECTING"
	Syncing      State = "SYNCING"
	Ready        State = "READY"
	Degraded     State = "DEGRADED"
	Error        State = "ERROR"
)

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	Booting:      {AuthRequired, Connecting, Error},
	AuthRequired: {Connecting, Error},
	Connecting:   {Syncing, AuthRequired, Degraded, Error},
	Syncing:      {Ready, Degraded, AuthRequired, Error},
	Ready:        {Syncing, Degraded, AuthRequired, Error},
	Degraded:     {Syncing, Ready, Connecting, AuthRequired, Error},
	Error:        {Booting},
}

// Machine tracks the daemon state and the single user-visible status line.
type Machine struct {
	mu       sync.RWMutex
	current  State
	notice   string
	noticeAt time.Time
	bus      *bus.Bus
}

// NewMachine creates a new state machine starting in Booting state.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Booting,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
// Transitioning to the current state is accepted and publishes nothing.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == to {
		return nil
	}
	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	m.bus.Emit(bus.KindStatusChanged, StatusChange{From: from, To: to})
	return nil
}

// SetNotice replaces the user-visible status line. Safe on a nil Machine.
func (m *Machine) SetNotice(text string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.notice = text
	m.noticeAt = time.Now()
	m.mu.Unlock()
	m.bus.Emit(bus.KindNotice, text)
}

// Notice returns the current status line and when it was set.
func (m *Machine) Notice() (string, time.Time) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.notice, m.noticeAt
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	From State
	To   State
}
