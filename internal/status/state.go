package status

import (
	"fmt"
	"slices"
	"sync"

	"github.com/kaanbt/pazar/internal/bus"
)

// State represents a client session runtime state.
type State string

const (
	Booting      State = "BOOTING"
	AuthRequired State = "AUTH_REQUIRED"
	Syncing      State = "SYNCING"       // first poll of the session in flight
	Online       State = "ONLINE"        // last poll succeeded
	Degraded     State = "DEGRADED"      // polls failing, cadence unchanged
	Stopped      State = "STOPPED"
)

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	Booting:      {AuthRequired, Syncing, Stopped},
	AuthRequired: {Syncing, Stopped},
	Syncing:      {Online, Degraded, AuthRequired, Stopped},
	Online:       {Degraded, AuthRequired, Stopped},
	Degraded:     {Online, AuthRequired, Stopped},
	Stopped:      {},
}

// Machine tracks and enforces session state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a state machine starting in Booting.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{current: Booting, bus: b}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Returns an error when the
// transition is not allowed; the state is left unchanged in that case.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !slices.Contains(validTransitions[m.current], to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Emit(bus.KindStatusChanged, Change{From: from, To: to})
	}
	return nil
}

// Change is the payload for status change events.
type Change struct {
	From State
	To   State
}
