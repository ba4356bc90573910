package models

import "time"

// TelemetrySample is one device push
type TelemetrySample struct {
	Temperature float64 `json:"temperature"` // Celsius
	Humidity    float64 `json:"humidity"`    // Percentage 0-100
	Speed       int     `json:"speed"`       // Fan speed 0-100%
	Remaining   int     `json:"remaining"`   // Seconds of runtime left
}

// SessionRecord is a telemetry sample kept for the end-of-session report
type SessionRecord struct {
	Timestamp   time.Time     `json:"timestamp"`
	Temperature float64       `json:"temperature"`
	Humidity    float64       `json:"humidity"`
	Speed       int           `json:"speed"`
	Remaining   int           `json:"remaining"`
	Location    *LocationInfo `json:"location,omitempty"`
}

// History holds the bounded per-metric series shown on the dashboard charts.
// All slices always have the same length.
type History struct {
	Temperature []float64 `json:"temperature"`
	Humidity    []float64 `json:"humidity"`
	Speed       []int     `json:"speed"`
	Remaining   []int     `json:"remaining"`
	Timestamps  []string  `json:"timestamps"`
}

// TelemetrySnapshot is a copy of the telemetry store
type TelemetrySnapshot struct {
	Current      TelemetrySample `json:"current"`
	DataReceived bool            `json:"data_received"`
	History      History         `json:"history"`
}

// AuthView is the dashboard-facing view of the handshake
type AuthView struct {
	Mode      AuthMode  `json:"mode"`
	Pending   bool      `json:"pending"`
	Runtime   int       `json:"runtime"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Snapshot is the payload served to dashboard pollers
type Snapshot struct {
	State           DeviceState     `json:"state"`
	Temperature     float64         `json:"temperature"`
	Humidity        float64         `json:"humidity"`
	Speed           int             `json:"speed"`
	Remaining       int             `json:"remaining"`
	DataReceived    bool            `json:"data_received"`
	History         History         `json:"history"`
	Location        *LocationInfo   `json:"location,omitempty"`
	Reputation      *ReputationInfo `json:"reputation,omitempty"`
	Auth            *AuthView       `json:"auth,omitempty"`
	SessionID       string          `json:"session_id,omitempty"`
	SessionRecords  int             `json:"session_records"`
	ReportAvailable bool            `json:"report_available"`
	GeneratedAt     time.Time       `json:"generated_at"`
}
