package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store used when no DATABASE_URL is configured
// and in tests. It applies the same conflict and ordering rules as the
// Postgres store.
type MemoryStore struct {
	mutex  sync.RWMutex
	events map[int64]Event
	nextID int64
}

// NewMemoryStore returns an empty in-memory schedule store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events: make(map[int64]Event),
		nextID: 1,
	}
}

// Init is a no-op for the in-memory store.
func (s *MemoryStore) Init(ctx context.Context) error {
	return nil
}

// Create stores a new event, rejecting overlaps on the same date.
func (s *MemoryStore) Create(ctx context.Context, event Event) (Event, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for _, existing := range s.events {
		if sameDate(existing.Date, event.Date) && existing.Start < event.End && existing.End > event.Start {
			return Event{}, fmt.Errorf("%w: %s %s-%s", ErrConflict, event.DateString(), event.Start, event.End)
		}
	}

	event.ID = s.nextID
	s.nextID++
	event.CreatedAt = time.Now().UTC()
	s.events[event.ID] = event
	return event, nil
}

// EventsOn returns events on the given date ordered by start time.
func (s *MemoryStore) EventsOn(ctx context.Context, date time.Time) ([]Event, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var events []Event
	for _, event := range s.events {
		if sameDate(event.Date, date) {
			events = append(events, event)
		}
	}
	sortEvents(events)
	return events, nil
}

// Get returns the event with the given id.
func (s *MemoryStore) Get(ctx context.Context, id int64) (Event, bool, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	event, ok := s.events[id]
	return event, ok, nil
}

// Query filters events by date range and keyword, ordered by date then start
// time.
func (s *MemoryStore) Query(ctx context.Context, q Query) ([]Event, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	keyword := strings.ToLower(q.Keyword)
	var events []Event
	for _, event := range s.events {
		if q.Start != nil && event.Date.Before(truncateDate(*q.Start)) {
			continue
		}
		if q.End != nil && event.Date.After(truncateDate(*q.End)) {
			continue
		}
		if keyword != "" &&
			!strings.Contains(strings.ToLower(event.Title), keyword) &&
			!strings.Contains(strings.ToLower(event.Description), keyword) {
			continue
		}
		events = append(events, event)
	}
	sortEvents(events)
	return events, nil
}

// Delete removes the event with the given id.
func (s *MemoryStore) Delete(ctx context.Context, id int64) (bool, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, ok := s.events[id]; !ok {
		return false, nil
	}
	delete(s.events, id)
	return true, nil
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func truncateDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func sortEvents(events []Event) {
	sort.Slice(events, func(i, j int) bool {
		if !sameDate(events[i].Date, events[j].Date) {
			return events[i].Date.Before(events[j].Date)
		}
		return events[i].Start < events[j].Start
	})
}
