// Package device holds the authoritative lifecycle state of the monitored
// device and the table of transitions it may take.
package device

import (
	"errors"
	"fmt"

	"aerospin-backend/internal/models"
)

// ErrInvalidTransition is matched by every InvalidTransitionError
var ErrInvalidTransition = errors.New("invalid state transition")

// InvalidTransitionError reports an edge missing from the transition table
type InvalidTransitionError struct {
	From models.DeviceState
	To   models.DeviceState
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid state transition from %s to %s", e.From, e.To)
}

// Is lets errors.Is match ErrInvalidTransition
func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

var transitions = map[models.DeviceState][]models.DeviceState{
	models.StateDisconnected: {models.StateReady},
	models.StateReady:        {models.StateWaiting},
	models.StateWaiting:      {models.StateRunning, models.StateReady},
	models.StateRunning:      {models.StateStopped, models.StateRestarting},
	models.StateStopped:      {models.StateReady, models.StateRestarting},
	models.StateRestarting:   {models.StateReady},
}

// CanTransition reports whether from -> to is a listed edge
func CanTransition(from, to models.DeviceState) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// AllowedFrom returns the states reachable from s in one step
func AllowedFrom(s models.DeviceState) []models.DeviceState {
	out := make([]models.DeviceState, len(transitions[s]))
	copy(out, transitions[s])
	return out
}

// Machine tracks the current device state. It performs no locking; the
// owning service serializes access.
type Machine struct {
	state models.DeviceState
}

// NewMachine returns a machine in the disconnected state
func NewMachine() *Machine {
	return &Machine{state: models.StateDisconnected}
}

// State returns the current state
func (m *Machine) State() models.DeviceState {
	return m.state
}

// Transition moves to the target state if the table allows it. On failure
// the state is left unchanged.
func (m *Machine) Transition(to models.DeviceState) (models.DeviceState, error) {
	from := m.state
	if !CanTransition(from, to) {
		return from, &InvalidTransitionError{From: from, To: to}
	}
	m.state = to
	return from, nil
}

// Announce handles a device ready announcement. Only a disconnected,
// stopped or restarting device becomes ready; in any other state the
// announcement is a no-op, so it cannot abandon a handshake or a run.
// It reports whether the state changed.
func (m *Machine) Announce() bool {
	switch m.state {
	case models.StateDisconnected, models.StateStopped, models.StateRestarting:
		m.state = models.StateReady
		return true
	default:
		return false
	}
}

// Force sets the state without consulting the table. It is reserved for
// reset and the permissive telemetry mode.
func (m *Machine) Force(to models.DeviceState) models.DeviceState {
	from := m.state
	m.state = to
	return from
}
