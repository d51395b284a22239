package tools

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"
)

var datetimeLogger = logrus.WithField("capability", "datetime")

// DateTimeTool reports the current UTC date and time. The decision model
// calls it before any relative-date reasoning ("tomorrow", "next week") so
// schedule queries and weather lookups use concrete dates.
type DateTimeTool struct {
	// now is replaceable in tests; defaults to time.Now.
	now func() time.Time
}

func NewDateTimeTool() *DateTimeTool {
	return &DateTimeTool{now: time.Now}
}

func (t *DateTimeTool) Descriptor() CapabilityDescriptor {
	return CapabilityDescriptor{
		Name:    "get_current_datetime",
		Purpose: "Get the current date and time in UTC. Call this before calculating relative dates like tomorrow or next week.",
	}
}

func (t *DateTimeTool) Execute(ctx context.Context, args Args) (string, error) {
	now := t.now().UTC()
	payload := map[string]string{
		"current_date":     now.Format("2006-01-02"),
		"current_time":     now.Format("15:04:05"),
		"current_datetime": now.Format(time.RFC3339),
		"day_of_week":      now.Weekday().String(),
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	datetimeLogger.WithField("date", payload["current_date"]).Debug("Datetime capability called")
	return string(data), nil
}

var _ Capability = (*DateTimeTool)(nil)
