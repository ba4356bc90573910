package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"aerospin-backend/internal/models"
)

// ClickHouseDB archives completed sessions. It is write-only: nothing is
// read back into the dashboard.
type ClickHouseDB struct {
	conn   driver.Conn
	logger *slog.Logger
}

// Options holds ClickHouse connection settings
type Options struct {
	Addr     string
	Database string
	Username string
	Password string
}

// NewClickHouseDB creates a new ClickHouse database connection
func NewClickHouseDB(ctx context.Context, opts Options, logger *slog.Logger) (*ClickHouseDB, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{opts.Addr},
		Auth: clickhouse.Auth{
			Database: opts.Database,
			Username: opts.Username,
			Password: opts.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout: 5 * time.Second,
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	db := &ClickHouseDB{conn: conn, logger: logger.With(slog.String("component", "clickhouse"))}
	db.logger.Info("connected", slog.String("addr", opts.Addr), slog.String("database", opts.Database))

	if err := db.InitSchema(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return db, nil
}

// InitSchema creates the necessary tables if they don't exist
func (db *ClickHouseDB) InitSchema(ctx context.Context) error {
	for _, tableSQL := range AllTables() {
		if err := db.conn.Exec(ctx, tableSQL); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	db.logger.Info("schema initialized")
	return nil
}

// SaveSessionRecords writes every record of a completed session in one batch
func (db *ClickHouseDB) SaveSessionRecords(ctx context.Context, sessionID string, records []models.SessionRecord) error {
	if len(records) == 0 {
		return nil
	}

	batch, err := db.conn.PrepareBatch(ctx, "INSERT INTO session_records")
	if err != nil {
		return fmt.Errorf("failed to prepare session batch: %w", err)
	}
	for _, r := range records {
		if err := batch.Append(recordRow(sessionID, r)...); err != nil {
			batch.Abort()
			return fmt.Errorf("failed to append session record: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to insert session records: %w", err)
	}
	return nil
}

// SaveStateTransition records a committed state change
func (db *ClickHouseDB) SaveStateTransition(ctx context.Context, ev models.DashboardEvent) error {
	query := `
		INSERT INTO state_transitions (timestamp, session_id, event_type, from_state, to_state)
		VALUES (?, ?, ?, ?, ?)
	`

	if err := db.conn.Exec(ctx, query, transitionRow(ev)...); err != nil {
		return fmt.Errorf("failed to insert state transition: %w", err)
	}
	return nil
}

// recordRow orders the columns of session_records
func recordRow(sessionID string, r models.SessionRecord) []interface{} {
	var lat, lon *float64
	source := ""
	if r.Location != nil {
		la, lo := r.Location.Latitude, r.Location.Longitude
		lat, lon = &la, &lo
		source = string(r.Location.Source)
	}
	return []interface{}{
		sessionID,
		r.Timestamp,
		r.Temperature,
		r.Humidity,
		uint8(r.Speed),
		uint32(r.Remaining),
		lat,
		lon,
		source,
	}
}

func transitionRow(ev models.DashboardEvent) []interface{} {
	return []interface{}{
		ev.Timestamp,
		ev.SessionID,
		string(ev.Type),
		string(ev.Previous),
		string(ev.State),
	}
}

// Healthy pings the server with a short deadline
func (db *ClickHouseDB) Healthy() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := db.conn.Ping(ctx); err != nil {
		db.logger.Warn("health ping failed", slog.Any("error", err))
		return false
	}
	return true
}

// Close closes the database connection
func (db *ClickHouseDB) Close() error {
	return db.conn.Close()
}
