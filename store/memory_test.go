package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCreateAndConflict(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	first, err := s.Create(ctx, Event{Title: "Standup", Date: day("2026-09-02"), Start: "09:00", End: "10:00"})
	require.NoError(t, err)
	assert.NotZero(t, first.ID)

	_, err = s.Create(ctx, Event{Title: "Overlap", Date: day("2026-09-02"), Start: "09:30", End: "10:30"})
	require.ErrorIs(t, err, ErrConflict)

	// Same slot on another date is fine, as is an adjacent slot.
	_, err = s.Create(ctx, Event{Title: "Elsewhere", Date: day("2026-09-03"), Start: "09:00", End: "10:00"})
	require.NoError(t, err)
	_, err = s.Create(ctx, Event{Title: "Adjacent", Date: day("2026-09-02"), Start: "10:00", End: "11:00"})
	require.NoError(t, err)
}

func TestMemoryEventsOnOrdered(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_, err := s.Create(ctx, Event{Title: "Late", Date: day("2026-09-02"), Start: "15:00", End: "16:00"})
	require.NoError(t, err)
	_, err = s.Create(ctx, Event{Title: "Early", Date: day("2026-09-02"), Start: "08:00", End: "09:00"})
	require.NoError(t, err)

	events, err := s.EventsOn(ctx, day("2026-09-02"))
	require.NoError(t, err)

	require.Len(t, events, 2)
	assert.Equal(t, "Early", events[0].Title)
	assert.Equal(t, "Late", events[1].Title)
}

func TestMemoryQuery(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	fixtures := []Event{
		{Title: "Design review", Date: day("2026-09-02"), Start: "10:00", End: "11:00"},
		{Title: "Standup", Description: "daily sync", Date: day("2026-09-03"), Start: "09:00", End: "09:15"},
		{Title: "Quarterly review", Date: day("2026-09-10"), Start: "14:00", End: "15:00"},
	}
	for _, event := range fixtures {
		_, err := s.Create(ctx, event)
		require.NoError(t, err)
	}

	start, end := day("2026-09-01"), day("2026-09-05")
	events, err := s.Query(ctx, Query{Start: &start, End: &end})
	require.NoError(t, err)
	assert.Len(t, events, 2)

	events, err = s.Query(ctx, Query{Keyword: "REVIEW"})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "Design review", events[0].Title)

	events, err = s.Query(ctx, Query{Keyword: "sync"})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "Standup", events[0].Title)
}

func TestMemoryGetAndDelete(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	created, err := s.Create(ctx, Event{Title: "Standup", Date: day("2026-09-02"), Start: "09:00", End: "09:30"})
	require.NoError(t, err)

	fetched, found, err := s.Get(ctx, created.ID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "Standup", fetched.Title)

	deleted, err := s.Delete(ctx, created.ID)
	require.NoError(t, err)
	assert.True(t, deleted)

	_, found, err = s.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.False(t, found)

	deleted, err = s.Delete(ctx, created.ID)
	require.NoError(t, err)
	assert.False(t, deleted)
}
