package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/matheus3301/grouptrack/internal/bus"
)

// State represents a tenant session lifecycle state.
type State string

const (
	Idle          State = "IDLE"
	Initializing  State = "INITIALIZING"
	QRReady       State = "QR_READY"
	Authenticated State = "AUTHENTICATED"
	Ready         State = "READY"
	Error         State = "ERROR"
)

// validTransitions defines allowed state transitions. Any state may fall
// back to Idle: a forced disconnect tears the session down regardless of
// where it is in the pairing flow.
var validTransitions = map[State][]State{
	Idle:          {Initializing},
	Initializing:  {QRReady, Authenticated, Error, Idle},
	QRReady:       {Authenticated, Error, Idle},
	Authenticated: {Ready, Error, Idle},
	Ready:         {Idle, Error},
	Error:         {Initializing, Idle},
}

// Machine tracks and enforces lifecycle transitions for one tenant session.
type Machine struct {
	mu       sync.RWMutex
	current  State
	tenantID string
	bus      *bus.Bus
}

// NewMachine creates a state machine for a tenant, starting in Idle.
func NewMachine(tenantID string, b *bus.Bus) *Machine {
	return &Machine{
		current:  Idle,
		tenantID: tenantID,
		bus:      b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("tenant %s: invalid transition from %s to %s", m.tenantID, m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Kind:      bus.KindSessionStatusChanged,
			Timestamp: time.Now(),
			Payload: StatusChange{
				TenantID: m.tenantID,
				From:     from,
				To:       to,
			},
		})
	}
	return nil
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	TenantID string
	From     State
	To       State
}
