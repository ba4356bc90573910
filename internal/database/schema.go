package database

// SQL schemas for all ClickHouse tables

const (
	// SessionRecordsTableSQL creates the session_records table, one row per
	// accepted telemetry push of a completed session
	SessionRecordsTableSQL = `
		CREATE TABLE IF NOT EXISTS session_records (
			session_id String,
			timestamp DateTime64(3),
			temperature Float64,
			humidity Float64,
			speed UInt8,
			remaining UInt32,
			latitude Nullable(Float64),
			longitude Nullable(Float64),
			location_source LowCardinality(String)
		) ENGINE = MergeTree()
		ORDER BY (session_id, timestamp)
		PARTITION BY toYYYYMM(timestamp)
	`

	// StateTransitionsTableSQL creates the state_transitions table
	StateTransitionsTableSQL = `
		CREATE TABLE IF NOT EXISTS state_transitions (
			timestamp DateTime64(3),
			session_id String,
			event_type LowCardinality(String),
			from_state LowCardinality(String),
			to_state LowCardinality(String)
		) ENGINE = MergeTree()
		ORDER BY timestamp
		PARTITION BY toYYYYMM(timestamp)
	`
)

// AllTables returns all table creation SQL statements in order
func AllTables() []string {
	return []string{
		SessionRecordsTableSQL,
		StateTransitionsTableSQL,
	}
}
