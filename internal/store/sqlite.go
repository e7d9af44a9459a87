package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/sweeney/smartfan/internal/logic"
)

//go:embed schema.sql
var schemaSQL string

const currentSchemaVersion = 1

// SQLite stores state in a SQLite database. The desired_state table is
// constrained to a single row (id = 1); events is append-only.
type SQLite struct {
	db *sql.DB
}

// Open creates or opens a SQLite database at path and applies the schema.
// ":memory:" gives a private in-memory database.
func Open(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	// SQLite has a single writer; one connection also keeps ":memory:" shared.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &SQLite{db: db}, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// Desired returns the current desired state. A missing row is recreated with
// the OFF default.
func (s *SQLite) Desired(ctx context.Context) (logic.State, error) {
	var desired string
	err := s.db.QueryRowContext(ctx, `SELECT desired FROM desired_state WHERE id = 1`).Scan(&desired)
	if errors.Is(err, sql.ErrNoRows) {
		if _, err := s.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO desired_state (id, desired) VALUES (1, 'off')`); err != nil {
			return logic.StateOff, fmt.Errorf("init desired state: %w", err)
		}
		return logic.StateOff, nil
	}
	if err != nil {
		return logic.StateOff, fmt.Errorf("read desired state: %w", err)
	}
	state, _ := logic.ParseState(desired)
	return state, nil
}

// Submit updates the desired state and appends the event in one transaction.
func (s *SQLite) Submit(ctx context.Context, desired logic.State, detected bool, at time.Time) (Event, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Event{}, fmt.Errorf("submit: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO desired_state (id, desired) VALUES (1, ?)
		ON CONFLICT(id) DO UPDATE SET desired = excluded.desired
	`, string(desired)); err != nil {
		return Event{}, fmt.Errorf("submit: update desired state: %w", err)
	}

	at = at.UTC()
	res, err := tx.ExecContext(ctx, `
		INSERT INTO events (detected, state, ts) VALUES (?, ?, ?)
	`, detected, string(desired), at.Format(time.RFC3339Nano))
	if err != nil {
		return Event{}, fmt.Errorf("submit: append event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Event{}, fmt.Errorf("submit: event id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Event{}, fmt.Errorf("submit: commit: %w", err)
	}

	return Event{ID: id, Detected: detected, State: desired, Time: at}, nil
}

// Recent returns up to limit events ordered by id, newest first.
func (s *SQLite) Recent(ctx context.Context, limit int) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, detected, state, ts FROM events
		ORDER BY id DESC
		LIMIT ?
	`, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("recent events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			ev    Event
			state string
			ts    string
		)
		if err := rows.Scan(&ev.ID, &ev.Detected, &state, &ts); err != nil {
			return nil, fmt.Errorf("recent events: scan: %w", err)
		}
		ev.State, _ = logic.ParseState(state)
		ev.Time, err = time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("recent events: parse ts %q: %w", ts, err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("recent events: %w", err)
	}
	return events, nil
}

// Ping checks the database connection.
func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *SQLite) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
