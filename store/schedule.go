/*
Package store provides persistence for the Concierge schedule: the meetings
and events the agent creates and queries on the user's behalf.

Two implementations exist: a Postgres-backed store used in production
(DATABASE_URL set) and an in-memory store used for development and tests.
Both enforce the same conflict rule — a new event may not overlap an existing
event on the same date.
*/
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sirupsen/logrus"
)

// ErrConflict is returned by Create when the requested slot overlaps an
// existing event on the same date.
var ErrConflict = errors.New("event overlaps an existing event")

// Event is one scheduled meeting. Date carries only the calendar day; Start
// and End are zero-padded "HH:MM" strings in 24-hour time, which keeps them
// both comparable and directly presentable to the decision model.
type Event struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Date        time.Time `json:"-"`
	Start       string    `json:"start_time"`
	End         string    `json:"end_time"`
	CreatedAt   time.Time `json:"-"`
}

// DateString renders the event date in the YYYY-MM-DD form used throughout
// the capability layer.
func (e Event) DateString() string {
	return e.Date.Format("2006-01-02")
}

// Query filters for Store.Query. Nil bounds are open; an empty keyword
// matches everything.
type Query struct {
	Start   *time.Time
	End     *time.Time
	Keyword string
}

// Store is the schedule persistence contract consumed by the schedule
// capabilities. Concurrent writes are serialized by the implementation; a
// single request never issues two concurrent writes.
type Store interface {
	Init(ctx context.Context) error
	Create(ctx context.Context, event Event) (Event, error)
	EventsOn(ctx context.Context, date time.Time) ([]Event, error)
	Get(ctx context.Context, id int64) (Event, bool, error)
	Query(ctx context.Context, q Query) ([]Event, error)
	Delete(ctx context.Context, id int64) (bool, error)
}

// DBPool is the subset of pgxpool.Pool the Postgres store depends on,
// narrowed so pgxmock can stand in during tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PGStore is the Postgres implementation of Store.
type PGStore struct {
	pool   DBPool
	logger *logrus.Logger
}

// NewPGStore verifies database connectivity and returns a ready store.
func NewPGStore(ctx context.Context, pool DBPool, logger *logrus.Logger) (*PGStore, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &PGStore{pool: pool, logger: logger}, nil
}

const sqlCreateTable = `
	CREATE TABLE IF NOT EXISTS events (
		id BIGSERIAL PRIMARY KEY,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		event_date DATE NOT NULL,
		start_time TEXT NOT NULL,
		end_time TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);`

// Init creates the events table if it does not exist.
func (s *PGStore) Init(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, sqlCreateTable); err != nil {
		return fmt.Errorf("failed to initialize schedule schema: %w", err)
	}
	s.logger.Debug("Schedule schema initialized")
	return nil
}

const (
	sqlCountOverlap = `SELECT count(*) FROM events WHERE event_date = $1 AND start_time < $3 AND end_time > $2;`
	sqlInsertEvent  = `INSERT INTO events (title, description, event_date, start_time, end_time) VALUES ($1, $2, $3, $4, $5) RETURNING id, created_at;`
	sqlSelectEvents = `SELECT id, title, description, event_date, start_time, end_time, created_at FROM events`
)

// Create inserts a new event after checking the slot is free. Zero-padded
// HH:MM strings compare correctly lexicographically, so the overlap test is
// a plain string comparison in SQL.
func (s *PGStore) Create(ctx context.Context, event Event) (Event, error) {
	var overlapping int
	err := s.pool.QueryRow(ctx, sqlCountOverlap, event.Date, event.Start, event.End).Scan(&overlapping)
	if err != nil {
		return Event{}, fmt.Errorf("failed to check for conflicting events: %w", err)
	}
	if overlapping > 0 {
		return Event{}, fmt.Errorf("%w: %s %s-%s", ErrConflict, event.DateString(), event.Start, event.End)
	}

	err = s.pool.QueryRow(ctx, sqlInsertEvent,
		event.Title, event.Description, event.Date, event.Start, event.End,
	).Scan(&event.ID, &event.CreatedAt)
	if err != nil {
		return Event{}, fmt.Errorf("failed to insert event: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"eventId": event.ID,
		"title":   event.Title,
		"date":    event.DateString(),
	}).Info("Event created")
	return event, nil
}

// EventsOn returns the events scheduled on the given date, ordered by start
// time.
func (s *PGStore) EventsOn(ctx context.Context, date time.Time) ([]Event, error) {
	rows, err := s.pool.Query(ctx, sqlSelectEvents+` WHERE event_date = $1 ORDER BY start_time ASC;`, date)
	if err != nil {
		return nil, fmt.Errorf("failed to query events by date: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// Get returns the event with the given id, reporting whether it exists.
func (s *PGStore) Get(ctx context.Context, id int64) (Event, bool, error) {
	row := s.pool.QueryRow(ctx, sqlSelectEvents+` WHERE id = $1;`, id)
	event, err := scanEvent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Event{}, false, nil
	}
	if err != nil {
		return Event{}, false, fmt.Errorf("failed to get event %d: %w", id, err)
	}
	return event, true, nil
}

// Query returns events matching the filter, ordered by date then start time.
// Filters compose: bounds narrow the date range, the keyword matches title
// or description case-insensitively.
func (s *PGStore) Query(ctx context.Context, q Query) ([]Event, error) {
	sql := sqlSelectEvents
	var (
		clauses []string
		args    []any
	)
	if q.Start != nil {
		args = append(args, *q.Start)
		clauses = append(clauses, fmt.Sprintf("event_date >= $%d", len(args)))
	}
	if q.End != nil {
		args = append(args, *q.End)
		clauses = append(clauses, fmt.Sprintf("event_date <= $%d", len(args)))
	}
	if q.Keyword != "" {
		args = append(args, q.Keyword)
		n := len(args)
		clauses = append(clauses, fmt.Sprintf("(title ILIKE '%%' || $%d || '%%' OR description ILIKE '%%' || $%d || '%%')", n, n))
	}
	for i, clause := range clauses {
		if i == 0 {
			sql += " WHERE " + clause
		} else {
			sql += " AND " + clause
		}
	}
	sql += ` ORDER BY event_date ASC, start_time ASC;`

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// Delete removes the event with the given id, reporting whether it existed.
func (s *PGStore) Delete(ctx context.Context, id int64) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM events WHERE id = $1;`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete event %d: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

func scanEvents(rows pgx.Rows) ([]Event, error) {
	var events []Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed while iterating event rows: %w", err)
	}
	return events, nil
}

func scanEvent(row pgx.Row) (Event, error) {
	var e Event
	err := row.Scan(&e.ID, &e.Title, &e.Description, &e.Date, &e.Start, &e.End, &e.CreatedAt)
	return e, err
}
