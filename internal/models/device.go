package models

import "strings"

// DeviceState is the lifecycle state of the monitored device
type DeviceState string

const (
	StateDisconnected DeviceState = "disconnected"
	StateReady        DeviceState = "ready"
	StateWaiting      DeviceState = "waiting"
	StateRunning      DeviceState = "running"
	StateStopped      DeviceState = "stopped"
	StateRestarting   DeviceState = "restarting"
)

// AllDeviceStates lists every state in declaration order
var AllDeviceStates = []DeviceState{
	StateDisconnected,
	StateReady,
	StateWaiting,
	StateRunning,
	StateStopped,
	StateRestarting,
}

// Valid reports whether s is one of the known states
func (s DeviceState) Valid() bool {
	for _, known := range AllDeviceStates {
		if s == known {
			return true
		}
	}
	return false
}

func (s DeviceState) String() string { return string(s) }

// ParseDeviceState converts a case-insensitive name into a DeviceState
func ParseDeviceState(name string) (DeviceState, bool) {
	s := DeviceState(strings.ToLower(strings.TrimSpace(name)))
	return s, s.Valid()
}

// AuthMode selects how the dashboard authorizes a session
type AuthMode string

const (
	AuthModeCode    AuthMode = "code"    // numeric code relayed to the device
	AuthModeConfirm AuthMode = "confirm" // operator presses confirm/reject
)

// AuthStatus is reported to the device's check-auth poll
type AuthStatus string

const (
	AuthStatusPending AuthStatus = "auth_pending"
	AuthStatusCode    AuthStatus = "auth_code"
	AuthStatusWaiting AuthStatus = "waiting"
)
