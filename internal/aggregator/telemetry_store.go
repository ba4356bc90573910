package aggregator

import (
	"time"

	"aerospin-backend/internal/models"
)

// DefaultMaxHistory is the number of samples kept per metric
const DefaultMaxHistory = 20

// TimestampLayout is how history timestamps are labelled on the charts
const TimestampLayout = "15:04:05"

// TelemetryStore keeps the latest sample and a bounded history per metric.
// It performs no locking; the owning service serializes access.
type TelemetryStore struct {
	current      models.TelemetrySample
	dataReceived bool

	temperature *ring[float64]
	humidity    *ring[float64]
	speed       *ring[int]
	remaining   *ring[int]
	timestamps  *ring[string]

	maxHistory int
}

// NewTelemetryStore creates a store holding at most maxHistory entries per metric
func NewTelemetryStore(maxHistory int) *TelemetryStore {
	if maxHistory <= 0 {
		maxHistory = DefaultMaxHistory
	}
	return &TelemetryStore{
		temperature: newRing[float64](maxHistory),
		humidity:    newRing[float64](maxHistory),
		speed:       newRing[int](maxHistory),
		remaining:   newRing[int](maxHistory),
		timestamps:  newRing[string](maxHistory),
		maxHistory:  maxHistory,
	}
}

// Record appends sample to every history buffer and makes it the current value
func (ts *TelemetryStore) Record(sample models.TelemetrySample, at time.Time) {
	ts.current = sample
	ts.dataReceived = true

	ts.temperature.push(sample.Temperature)
	ts.humidity.push(sample.Humidity)
	ts.speed.push(sample.Speed)
	ts.remaining.push(sample.Remaining)
	ts.timestamps.push(at.Format(TimestampLayout))
}

// Snapshot returns the current values and copies of the history buffers
func (ts *TelemetryStore) Snapshot() models.TelemetrySnapshot {
	return models.TelemetrySnapshot{
		Current:      ts.current,
		DataReceived: ts.dataReceived,
		History: models.History{
			Temperature: ts.temperature.values(),
			Humidity:    ts.humidity.values(),
			Speed:       ts.speed.values(),
			Remaining:   ts.remaining.values(),
			Timestamps:  ts.timestamps.values(),
		},
	}
}

// Len returns the number of samples currently held in history
func (ts *TelemetryStore) Len() int {
	return ts.timestamps.len()
}

// MaxHistory returns the per-metric capacity
func (ts *TelemetryStore) MaxHistory() int {
	return ts.maxHistory
}

// Clear drops all history and zeroes the current values
func (ts *TelemetryStore) Clear() {
	ts.current = models.TelemetrySample{}
	ts.dataReceived = false
	ts.temperature.reset()
	ts.humidity.reset()
	ts.speed.reset()
	ts.remaining.reset()
	ts.timestamps.reset()
}
