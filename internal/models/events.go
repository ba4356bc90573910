package models

import "time"

// Device event statuses accepted on POST /device-event
const (
	EventAnnounce  = "announce"
	EventCheckAuth = "check-auth"
	EventPushData  = "push-data"
	EventStart     = "start"
	EventStop      = "stop"
)

// legacyStatuses maps the names used by older device firmware
var legacyStatuses = map[string]string{
	"arduino_ready": EventAnnounce,
	"device_ready":  EventAnnounce,
	"check_auth":    EventCheckAuth,
	"data":          EventPushData,
	"push_data":     EventPushData,
	"stopped":       EventStop,
}

// NormalizeStatus resolves legacy aliases to their canonical status
func NormalizeStatus(status string) string {
	if canonical, ok := legacyStatuses[status]; ok {
		return canonical
	}
	return status
}

// DeviceEvent is the body of a device push. Telemetry fields are pointers so
// missing values can be told apart from zero.
type DeviceEvent struct {
	Status      string   `json:"status"`
	Temperature *float64 `json:"temperature,omitempty"`
	Humidity    *float64 `json:"humidity,omitempty"`
	Speed       *int     `json:"speed,omitempty"`
	Remaining   *int     `json:"remaining,omitempty"`
}

// EventReply is returned to the device for every event
type EventReply struct {
	Status     string          `json:"status"`
	State      DeviceState     `json:"state"`
	Code       *int            `json:"code,omitempty"`
	Runtime    *int            `json:"runtime,omitempty"`
	Location   *LocationInfo   `json:"location,omitempty"`
	Reputation *ReputationInfo `json:"reputation,omitempty"`
}

// DashboardEventType classifies committed mutations
type DashboardEventType string

const (
	EventTypeTransition     DashboardEventType = "transition"
	EventTypeTelemetry      DashboardEventType = "telemetry"
	EventTypeSessionStopped DashboardEventType = "session_stopped"
	EventTypeReset          DashboardEventType = "reset"
	EventTypeLocation       DashboardEventType = "location"
)

// DashboardEvent is emitted to observers after a mutation is committed
type DashboardEvent struct {
	Type      DashboardEventType `json:"type"`
	SessionID string             `json:"session_id,omitempty"`
	State     DeviceState        `json:"state"`
	Previous  DeviceState        `json:"previous,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
	Sample    *TelemetrySample   `json:"sample,omitempty"`
	Records   []SessionRecord    `json:"records,omitempty"` // set on session_stopped
}
