package invocation

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Stats aggregates the records for one tool name.
type Stats struct {
	Name          string  `json:"name"`
	Count         int     `json:"count"`
	Errors        int     `json:"errors"`
	AvgDurationMs float64 `json:"avg_duration_ms"`
	MaxDurationMs int64   `json:"max_duration_ms"`
}

// Store is an append-only SQLite store for invocation records. All
// methods are safe for concurrent use (SQLite serializes writes).
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewStore opens or creates the invocation database at dbPath.
func NewStore(dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open invocation database: %w", err)
	}

	s := &Store{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate invocation schema: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tool_invocations (
		id            TEXT PRIMARY KEY,
		session_id    TEXT NOT NULL,
		call_id       TEXT,
		name          TEXT NOT NULL,
		input         TEXT NOT NULL,
		output        TEXT,
		status        TEXT NOT NULL CHECK (status IN ('SUCCESS', 'FAILURE')),
		start_time    TEXT NOT NULL,
		end_time      TEXT NOT NULL,
		duration_ms   INTEGER NOT NULL,
		error_message TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_invocations_session ON tool_invocations(session_id, start_time);
	CREATE INDEX IF NOT EXISTS idx_invocations_name ON tool_invocations(name);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Record persists rec. An empty ID gets a UUIDv7.
func (s *Store) Record(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("generate invocation ID: %w", err)
		}
		rec.ID = id.String()
	}
	if rec.StartTime.IsZero() {
		rec.StartTime = time.Now()
	}
	if rec.EndTime.IsZero() {
		rec.EndTime = rec.StartTime
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tool_invocations
			(id, session_id, call_id, name, input, output, status,
			 start_time, end_time, duration_ms, error_message)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.SessionID,
		rec.CallID,
		rec.Name,
		rec.Input,
		rec.Output,
		rec.Status,
		rec.StartTime.UTC().Format(timeLayout),
		rec.EndTime.UTC().Format(timeLayout),
		rec.DurationMs,
		rec.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("insert invocation: %w", err)
	}
	return nil
}

// Log implements Sink. Write failures are logged, not returned.
func (s *Store) Log(ctx context.Context, rec Record) {
	if err := s.Record(ctx, rec); err != nil {
		s.logger.Warn("invocation log write failed", "name", rec.Name, "session_id", rec.SessionID, "error", err)
	}
}

// BySession returns a session's records in start order.
func (s *Store) BySession(ctx context.Context, sessionID string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, COALESCE(call_id, ''), name, input, COALESCE(output, ''), status,
		        start_time, end_time, duration_ms, COALESCE(error_message, '')
		 FROM tool_invocations
		 WHERE session_id = ?
		 ORDER BY start_time, id`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query invocations: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var start, end string
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.CallID, &rec.Name, &rec.Input, &rec.Output,
			&rec.Status, &start, &end, &rec.DurationMs, &rec.ErrorMessage); err != nil {
			return nil, fmt.Errorf("scan invocation: %w", err)
		}
		rec.StartTime, _ = time.Parse(timeLayout, start)
		rec.EndTime, _ = time.Parse(timeLayout, end)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Stats returns per-tool aggregates for records started in [start, end),
// busiest tool first.
func (s *Store) Stats(ctx context.Context, start, end time.Time) ([]Stats, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, COUNT(*),
		        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
		        COALESCE(AVG(duration_ms), 0), COALESCE(MAX(duration_ms), 0)
		 FROM tool_invocations
		 WHERE start_time >= ? AND start_time < ?
		 GROUP BY name
		 ORDER BY COUNT(*) DESC, name`,
		StatusFailure,
		start.UTC().Format(timeLayout),
		end.UTC().Format(timeLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("query invocation stats: %w", err)
	}
	defer rows.Close()

	var out []Stats
	for rows.Next() {
		var st Stats
		if err := rows.Scan(&st.Name, &st.Count, &st.Errors, &st.AvgDurationMs, &st.MaxDurationMs); err != nil {
			return nil, fmt.Errorf("scan invocation stats: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}
