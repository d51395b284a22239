/*
Schedule capabilities: create, check, fetch, query, and delete meetings in
the schedule store. Dates arrive as YYYY-MM-DD strings and times as 24-hour
HH:MM strings, the formats the system prompt teaches the decision model to
produce after its date arithmetic.
*/
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"concierge/store"
)

var eventsLogger = logrus.WithField("capability", "events")

// EventRecord is the JSON shape schedule capabilities return to the model.
type EventRecord struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Date        string `json:"date"`
	StartTime   string `json:"start_time"`
	EndTime     string `json:"end_time"`
}

// EventCheckResult is the JSON result of check_event_exists; the
// weather-conditioned scheduling policy also decodes it.
type EventCheckResult struct {
	Exists bool          `json:"exists"`
	Count  int           `json:"count"`
	Events []EventRecord `json:"events,omitempty"`
}

func toRecord(e store.Event) EventRecord {
	return EventRecord{
		ID:          e.ID,
		Title:       e.Title,
		Description: e.Description,
		Date:        e.DateString(),
		StartTime:   e.Start,
		EndTime:     e.End,
	}
}

func parseDate(value string) (time.Time, error) {
	date, err := time.Parse("2006-01-02", value)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: invalid date %q, expected YYYY-MM-DD", ErrConflictOrInvalid, value)
	}
	return date, nil
}

func parseClock(value string) (string, error) {
	parsed, err := time.Parse("15:04", value)
	if err != nil {
		return "", fmt.Errorf("%w: invalid time %q, expected HH:MM in 24-hour format", ErrConflictOrInvalid, value)
	}
	return parsed.Format("15:04"), nil
}

func marshalResult(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode result: %w", err)
	}
	return string(data), nil
}

// CreateEventTool writes a new meeting to the schedule store.
type CreateEventTool struct {
	schedule store.Store
}

func NewCreateEventTool(schedule store.Store) *CreateEventTool {
	return &CreateEventTool{schedule: schedule}
}

func (t *CreateEventTool) Descriptor() CapabilityDescriptor {
	return CapabilityDescriptor{
		Name:    "create_event",
		Purpose: "Create a new meeting or event in the schedule. Fails if the slot conflicts with an existing event.",
		Args: []ArgSpec{
			{Name: "title", Type: ArgTypeString, Required: true, Description: "Event title"},
			{Name: "date", Type: ArgTypeString, Required: true, Description: "Date in YYYY-MM-DD format"},
			{Name: "start_time", Type: ArgTypeString, Required: true, Description: "Start time in HH:MM 24-hour format"},
			{Name: "end_time", Type: ArgTypeString, Required: true, Description: "End time in HH:MM 24-hour format"},
			{Name: "description", Type: ArgTypeString, Description: "Optional event description"},
		},
	}
}

func (t *CreateEventTool) Execute(ctx context.Context, args Args) (string, error) {
	date, err := parseDate(args.String("date"))
	if err != nil {
		return "", err
	}
	start, err := parseClock(args.String("start_time"))
	if err != nil {
		return "", err
	}
	end, err := parseClock(args.String("end_time"))
	if err != nil {
		return "", err
	}
	if end <= start {
		return "", fmt.Errorf("%w: end time %s is not after start time %s", ErrConflictOrInvalid, end, start)
	}

	event, err := t.schedule.Create(ctx, store.Event{
		Title:       args.String("title"),
		Description: args.String("description"),
		Date:        date,
		Start:       start,
		End:         end,
	})
	if errors.Is(err, store.ErrConflict) {
		return "", fmt.Errorf("%w: %v", ErrConflictOrInvalid, err)
	}
	if err != nil {
		return "", fmt.Errorf("failed to create event: %w", err)
	}

	eventsLogger.WithFields(logrus.Fields{
		"eventId": event.ID,
		"title":   event.Title,
		"date":    event.DateString(),
	}).Info("Event created via capability")

	return marshalResult(map[string]any{"status": "created", "event": toRecord(event)})
}

// CheckEventTool reports whether any events exist on a date.
type CheckEventTool struct {
	schedule store.Store
}

func NewCheckEventTool(schedule store.Store) *CheckEventTool {
	return &CheckEventTool{schedule: schedule}
}

func (t *CheckEventTool) Descriptor() CapabilityDescriptor {
	return CapabilityDescriptor{
		Name:    "check_event_exists",
		Purpose: "Check if any events exist on a given date.",
		Args: []ArgSpec{
			{Name: "date", Type: ArgTypeString, Required: true, Description: "Date in YYYY-MM-DD format"},
		},
	}
}

func (t *CheckEventTool) Execute(ctx context.Context, args Args) (string, error) {
	date, err := parseDate(args.String("date"))
	if err != nil {
		return "", err
	}

	events, err := t.schedule.EventsOn(ctx, date)
	if err != nil {
		return "", fmt.Errorf("failed to check events: %w", err)
	}

	result := EventCheckResult{Exists: len(events) > 0, Count: len(events)}
	for _, e := range events {
		result.Events = append(result.Events, toRecord(e))
	}
	return marshalResult(result)
}

// GetEventTool fetches a single event by id.
type GetEventTool struct {
	schedule store.Store
}

func NewGetEventTool(schedule store.Store) *GetEventTool {
	return &GetEventTool{schedule: schedule}
}

func (t *GetEventTool) Descriptor() CapabilityDescriptor {
	return CapabilityDescriptor{
		Name:    "get_event",
		Purpose: "Get a specific event by its id.",
		Args: []ArgSpec{
			{Name: "event_id", Type: ArgTypeInt, Required: true, Description: "The id of the event"},
		},
	}
}

func (t *GetEventTool) Execute(ctx context.Context, args Args) (string, error) {
	id := args.Int("event_id")
	event, found, err := t.schedule.Get(ctx, id)
	if err != nil {
		return "", fmt.Errorf("failed to get event: %w", err)
	}
	if !found {
		return fmt.Sprintf("No event found with id %d.", id), nil
	}
	return marshalResult(map[string]any{"event": toRecord(event)})
}

// QueryEventsTool answers structured schedule queries the model derives from
// natural-language requests: optional date range, optional keyword.
type QueryEventsTool struct {
	schedule store.Store
}

func NewQueryEventsTool(schedule store.Store) *QueryEventsTool {
	return &QueryEventsTool{schedule: schedule}
}

func (t *QueryEventsTool) Descriptor() CapabilityDescriptor {
	return CapabilityDescriptor{
		Name:    "query_events",
		Purpose: "Query scheduled events, filtered by an optional date range and/or a keyword matched against titles and descriptions.",
		Args: []ArgSpec{
			{Name: "start_date", Type: ArgTypeString, Description: "Optional range start in YYYY-MM-DD format"},
			{Name: "end_date", Type: ArgTypeString, Description: "Optional range end in YYYY-MM-DD format"},
			{Name: "keyword", Type: ArgTypeString, Description: "Optional keyword to search in titles and descriptions"},
		},
	}
}

func (t *QueryEventsTool) Execute(ctx context.Context, args Args) (string, error) {
	var q store.Query
	if v := args.String("start_date"); v != "" {
		date, err := parseDate(v)
		if err != nil {
			return "", err
		}
		q.Start = &date
	}
	if v := args.String("end_date"); v != "" {
		date, err := parseDate(v)
		if err != nil {
			return "", err
		}
		q.End = &date
	}
	q.Keyword = args.String("keyword")

	events, err := t.schedule.Query(ctx, q)
	if err != nil {
		return "", fmt.Errorf("failed to query events: %w", err)
	}

	records := make([]EventRecord, 0, len(events))
	for _, e := range events {
		records = append(records, toRecord(e))
	}
	return marshalResult(map[string]any{"count": len(records), "events": records})
}

// DeleteEventTool removes an event by id.
type DeleteEventTool struct {
	schedule store.Store
}

func NewDeleteEventTool(schedule store.Store) *DeleteEventTool {
	return &DeleteEventTool{schedule: schedule}
}

func (t *DeleteEventTool) Descriptor() CapabilityDescriptor {
	return CapabilityDescriptor{
		Name:    "delete_event",
		Purpose: "Delete a scheduled event by its id.",
		Args: []ArgSpec{
			{Name: "event_id", Type: ArgTypeInt, Required: true, Description: "The id of the event to delete"},
		},
	}
}

func (t *DeleteEventTool) Execute(ctx context.Context, args Args) (string, error) {
	id := args.Int("event_id")
	deleted, err := t.schedule.Delete(ctx, id)
	if err != nil {
		return "", fmt.Errorf("failed to delete event: %w", err)
	}
	if !deleted {
		return fmt.Sprintf("No event found with id %d.", id), nil
	}

	eventsLogger.WithField("eventId", id).Info("Event deleted via capability")
	return fmt.Sprintf("Event %d deleted successfully.", id), nil
}

var (
	_ Capability = (*CreateEventTool)(nil)
	_ Capability = (*CheckEventTool)(nil)
	_ Capability = (*GetEventTool)(nil)
	_ Capability = (*QueryEventsTool)(nil)
	_ Capability = (*DeleteEventTool)(nil)
)
