// Package database is the SQLite store behind every service.
package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"rota/internal/models"

	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// timeLayout is fixed-width so stored instants compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// DB wraps the connection pool.
type DB struct {
	*sql.DB
	path   string
	logger *zerolog.Logger
	now    func() time.Time
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

type scanner interface {
	Scan(dest ...interface{}) error
}

// NewDB opens the database at path and creates the schema.
func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// Writers take the lock at BEGIN so read-then-write transactions never
	// fail an upgrade halfway through.
	dsn := path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_txlock=immediate&_foreign_keys=on"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	instance := &DB{
		DB:     db,
		path:   path,
		logger: logger,
		now:    time.Now,
	}

	if err := instance.createTables(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Info().Str("path", path).Msg("Database initialized")
	return instance, nil
}

func (db *DB) createTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS workers (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			skills TEXT NOT NULL DEFAULT '[]',
			availability TEXT NOT NULL DEFAULT '{}',
			lat REAL,
			lng REAL,
			radius_miles REAL NOT NULL DEFAULT 0,
			telegram_chat_id INTEGER NOT NULL DEFAULT 0,
			completed_shifts INTEGER NOT NULL DEFAULT 0,
			total_hours REAL NOT NULL DEFAULT 0,
			total_earnings REAL NOT NULL DEFAULT 0,
			average_rating REAL NOT NULL DEFAULT 0,
			booking_version INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS shifts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			business_id INTEGER NOT NULL,
			worker_id INTEGER REFERENCES workers(id),
			role TEXT NOT NULL,
			start_at TEXT NOT NULL,
			end_at TEXT NOT NULL,
			timezone TEXT NOT NULL DEFAULT '',
			week_start TEXT NOT NULL,
			required_skills TEXT NOT NULL DEFAULT '[]',
			status TEXT NOT NULL DEFAULT 'draft',
			lat REAL,
			lng REAL,
			hourly_rate REAL NOT NULL DEFAULT 0,
			revision INTEGER NOT NULL DEFAULT 0,
			published_at TEXT,
			published_by INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_shifts_business_week ON shifts(business_id, week_start, status)`,
		`CREATE INDEX IF NOT EXISTS idx_shifts_open ON shifts(status, start_at)`,

		`CREATE TABLE IF NOT EXISTS bookings (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			shift_id INTEGER NOT NULL REFERENCES shifts(id),
			worker_id INTEGER NOT NULL REFERENCES workers(id),
			start_at TEXT NOT NULL,
			end_at TEXT NOT NULL,
			amount REAL NOT NULL DEFAULT 0,
			actual_hours REAL,
			rating INTEGER,
			status TEXT NOT NULL DEFAULT 'booked',
			reminder_sent_at TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		// At most one live booking per shift.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_bookings_shift_active
			ON bookings(shift_id) WHERE status IN ('booked', 'completed')`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_worker ON bookings(worker_id, status, start_at)`,

		`CREATE TABLE IF NOT EXISTS timesheets (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			shift_id INTEGER NOT NULL REFERENCES shifts(id),
			worker_id INTEGER NOT NULL REFERENCES workers(id),
			scheduled_hours REAL NOT NULL,
			actual_hours REAL NOT NULL,
			variance_minutes INTEGER NOT NULL,
			status TEXT NOT NULL,
			auto_approved BOOLEAN NOT NULL DEFAULT 0,
			submitted_at TEXT NOT NULL,
			reviewed_at TEXT,
			reviewed_by INTEGER NOT NULL DEFAULT 0,
			review_note TEXT NOT NULL DEFAULT '',
			UNIQUE (shift_id, worker_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_timesheets_status ON timesheets(status)`,

		`CREATE TABLE IF NOT EXISTS shift_revisions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			shift_id INTEGER NOT NULL REFERENCES shifts(id),
			revision INTEGER NOT NULL,
			old_start TEXT NOT NULL,
			old_end TEXT NOT NULL,
			old_role TEXT NOT NULL,
			new_start TEXT NOT NULL,
			new_end TEXT NOT NULL,
			new_role TEXT NOT NULL,
			edited_by INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			UNIQUE (shift_id, revision)
		)`,

		`CREATE TABLE IF NOT EXISTS rota_publications (
			id TEXT PRIMARY KEY,
			business_id INTEGER NOT NULL,
			week_start TEXT NOT NULL,
			published_by INTEGER NOT NULL,
			published_count INTEGER NOT NULL,
			published_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_publications_week ON rota_publications(business_id, week_start)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return nil
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

func (db *DB) Close() error {
	return db.DB.Close()
}

func (db *DB) timestamp() string {
	return formatTime(db.now())
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func geoArgs(p *models.GeoPoint) (sql.NullFloat64, sql.NullFloat64) {
	if p == nil {
		return sql.NullFloat64{}, sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: p.Lat, Valid: true}, sql.NullFloat64{Float64: p.Lng, Valid: true}
}

func geoPoint(lat, lng sql.NullFloat64) *models.GeoPoint {
	if !lat.Valid || !lng.Valid {
		return nil
	}
	return &models.GeoPoint{Lat: lat.Float64, Lng: lng.Float64}
}

func encodeJSON(v interface{}) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint")
}

func nullID(id *int64) interface{} {
	if id == nil {
		return nil
	}
	return *id
}

func rowsAffected(res sql.Result) (int64, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}
