package store

import (
	"context"
	"io"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v2"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newMockStore(t *testing.T) (*PGStore, pgxmock.PgxPoolIface) {
	t.Helper()

	mock, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	mock.ExpectPing()
	s, err := NewPGStore(context.Background(), mock, testLogger())
	require.NoError(t, err)
	return s, mock
}

func day(value string) time.Time {
	date, err := time.Parse("2006-01-02", value)
	if err != nil {
		panic(err)
	}
	return date
}

func TestPGInit(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS events").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Init(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPGCreate(t *testing.T) {
	s, mock := newMockStore(t)
	date := day("2026-09-02")
	created := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta(sqlCountOverlap)).
		WithArgs(date, "09:00", "10:00").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(regexp.QuoteMeta(sqlInsertEvent)).
		WithArgs("Standup", "", date, "09:00", "10:00").
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at"}).AddRow(int64(7), created))

	event, err := s.Create(context.Background(), Event{
		Title: "Standup",
		Date:  date,
		Start: "09:00",
		End:   "10:00",
	})
	require.NoError(t, err)

	assert.Equal(t, int64(7), event.ID)
	assert.Equal(t, created, event.CreatedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPGCreateConflict(t *testing.T) {
	s, mock := newMockStore(t)
	date := day("2026-09-02")

	mock.ExpectQuery(regexp.QuoteMeta(sqlCountOverlap)).
		WithArgs(date, "09:30", "10:30").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(1))

	_, err := s.Create(context.Background(), Event{
		Title: "Overlap",
		Date:  date,
		Start: "09:30",
		End:   "10:30",
	})
	require.ErrorIs(t, err, ErrConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPGEventsOn(t *testing.T) {
	s, mock := newMockStore(t)
	date := day("2026-09-02")

	mock.ExpectQuery("WHERE event_date = \\$1 ORDER BY start_time ASC").
		WithArgs(date).
		WillReturnRows(pgxmock.NewRows([]string{"id", "title", "description", "event_date", "start_time", "end_time", "created_at"}).
			AddRow(int64(1), "Standup", "", date, "09:00", "09:30", time.Now()).
			AddRow(int64(2), "Design review", "weekly", date, "10:00", "11:00", time.Now()))

	events, err := s.EventsOn(context.Background(), date)
	require.NoError(t, err)

	require.Len(t, events, 2)
	assert.Equal(t, "Standup", events[0].Title)
	assert.Equal(t, "Design review", events[1].Title)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPGGetNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("WHERE id = \\$1").
		WithArgs(int64(42)).
		WillReturnError(pgx.ErrNoRows)

	_, found, err := s.Get(context.Background(), 42)
	require.NoError(t, err)
	assert.False(t, found)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPGQueryComposesFilters(t *testing.T) {
	s, mock := newMockStore(t)
	start := day("2026-09-01")
	end := day("2026-09-07")

	expected := sqlSelectEvents +
		` WHERE event_date >= $1 AND event_date <= $2` +
		` AND (title ILIKE '%' || $3 || '%' OR description ILIKE '%' || $3 || '%')` +
		` ORDER BY event_date ASC, start_time ASC;`

	mock.ExpectQuery(regexp.QuoteMeta(expected)).
		WithArgs(start, end, "review").
		WillReturnRows(pgxmock.NewRows([]string{"id", "title", "description", "event_date", "start_time", "end_time", "created_at"}).
			AddRow(int64(3), "Design review", "", day("2026-09-02"), "10:00", "11:00", time.Now()))

	events, err := s.Query(context.Background(), Query{Start: &start, End: &end, Keyword: "review"})
	require.NoError(t, err)

	require.Len(t, events, 1)
	assert.Equal(t, "Design review", events[0].Title)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPGDelete(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("DELETE FROM events WHERE id = \\$1").
		WithArgs(int64(5)).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	deleted, err := s.Delete(context.Background(), 5)
	require.NoError(t, err)
	assert.True(t, deleted)

	mock.ExpectExec("DELETE FROM events WHERE id = \\$1").
		WithArgs(int64(6)).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	deleted, err = s.Delete(context.Background(), 6)
	require.NoError(t, err)
	assert.False(t, deleted)
	require.NoError(t, mock.ExpectationsWereMet())
}
