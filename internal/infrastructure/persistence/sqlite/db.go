// Package sqlite stores the graph and sessions in a SQLite database using the
// pure-Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	pkgerrors "github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/pkg/errors"
)

// Config holds SQLite connection settings.
type Config struct {
	// Path is the database file. ":memory:" is not supported because every
	// pooled connection would see its own empty database.
	Path         string
	MaxOpenConns int
	BusyTimeout  time.Duration
}

// DefaultConfig returns settings suitable for a single-node deployment.
func DefaultConfig(path string) Config {
	return Config{
		Path:         path,
		MaxOpenConns: 8,
		BusyTimeout:  5 * time.Second,
	}
}

// DB wraps the connection pool shared by the repositories.
type DB struct {
	sql    *sql.DB
	logger *zap.Logger
}

// Open connects to the database and creates the schema when missing.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*DB, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = 8
	}
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = 5 * time.Second
	}

	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_txlock=immediate",
		cfg.Path, cfg.BusyTimeout.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	wrapped := &DB{sql: db, logger: logger}
	if err := wrapped.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("SQLite database opened", zap.String("path", cfg.Path))
	return wrapped, nil
}

// Close releases the pool.
func (d *DB) Close() error {
	return d.sql.Close()
}

// Ping checks the database is reachable.
func (d *DB) Ping(ctx context.Context) error {
	if err := d.sql.PingContext(ctx); err != nil {
		return pkgerrors.NewUnavailableError("sqlite").WithCause(err)
	}
	return nil
}

const schema = `
CREATE TABLE IF NOT EXISTS nodes (
	id               TEXT PRIMARY KEY,
	category         TEXT NOT NULL,
	node_type        TEXT NOT NULL CHECK (node_type IN ('question', 'conclusion')),
	text             TEXT NOT NULL,
	semantic_id      TEXT UNIQUE,
	display_category TEXT,
	position_x       REAL,
	position_y       REAL,
	is_active        INTEGER NOT NULL DEFAULT 1,
	created_at       TEXT NOT NULL,
	updated_at       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_nodes_category ON nodes(category);

CREATE TABLE IF NOT EXISTS connections (
	id           TEXT PRIMARY KEY,
	from_node_id TEXT NOT NULL REFERENCES nodes(id),
	to_node_id   TEXT NOT NULL REFERENCES nodes(id),
	label        TEXT NOT NULL,
	order_index  INTEGER NOT NULL DEFAULT 0,
	is_active    INTEGER NOT NULL DEFAULT 1,
	created_at   TEXT NOT NULL,
	updated_at   TEXT NOT NULL,
	CHECK (from_node_id <> to_node_id)
);
CREATE INDEX IF NOT EXISTS idx_connections_from ON connections(from_node_id, order_index);
CREATE INDEX IF NOT EXISTS idx_connections_to ON connections(to_node_id);

CREATE TABLE IF NOT EXISTS sessions (
	session_id       TEXT PRIMARY KEY,
	category         TEXT,
	current_node_id  TEXT NOT NULL,
	steps            TEXT NOT NULL,
	started_at       TEXT NOT NULL,
	updated_at       TEXT NOT NULL,
	completed_at     TEXT,
	abandoned        INTEGER NOT NULL DEFAULT 0,
	final_conclusion TEXT,
	tech_identifier  TEXT,
	client_site      TEXT,
	ip_hash          TEXT,
	user_agent       TEXT,
	version          INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_idle ON sessions(completed_at, abandoned, updated_at);
CREATE INDEX IF NOT EXISTS idx_sessions_started ON sessions(started_at);
`

func (d *DB) ensureSchema(ctx context.Context) error {
	if _, err := d.sql.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func formatNullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func floatPtr(nf sql.NullFloat64) *float64 {
	if !nf.Valid {
		return nil
	}
	v := nf.Float64
	return &v
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isForeignKeyViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}
