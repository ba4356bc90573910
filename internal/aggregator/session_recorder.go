package aggregator

import (
	"time"

	"aerospin-backend/internal/models"
)

// SessionRecorder accumulates every accepted sample of the current session.
// Growth is bounded by session duration rather than a fixed cap.
type SessionRecorder struct {
	records []models.SessionRecord
}

// NewSessionRecorder creates an empty recorder
func NewSessionRecorder() *SessionRecorder {
	return &SessionRecorder{}
}

// Append stores sample with its timestamp and the location known at the time
func (sr *SessionRecorder) Append(sample models.TelemetrySample, location *models.LocationInfo, at time.Time) {
	record := models.SessionRecord{
		Timestamp:   at,
		Temperature: sample.Temperature,
		Humidity:    sample.Humidity,
		Speed:       sample.Speed,
		Remaining:   sample.Remaining,
	}
	if location != nil {
		loc := *location
		record.Location = &loc
	}
	sr.records = append(sr.records, record)
}

// SnapshotForReport returns a copy of the records in arrival order
func (sr *SessionRecorder) SnapshotForReport() []models.SessionRecord {
	out := make([]models.SessionRecord, len(sr.records))
	copy(out, sr.records)
	return out
}

// Len returns the number of records
func (sr *SessionRecorder) Len() int {
	return len(sr.records)
}

// Clear empties the recorder
func (sr *SessionRecorder) Clear() {
	sr.records = nil
}
