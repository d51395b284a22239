/*
Weather-conditioned scheduling. The policy reads the forecast, obtains a
qualitative weather verdict from the model, verifies the slot is free, and
creates the event only on a good verdict. The ordering is an invariant: no
calendar write ever happens before the judgment, and the model's rationale
reaches the user verbatim.
*/
package core

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"

	"concierge/tools"
)

// Verdict is the qualitative weather classification.
type Verdict string

const (
	VerdictGood     Verdict = "good"
	VerdictBad      Verdict = "bad"
	VerdictMarginal Verdict = "marginal"
)

// WeatherJudgment is the model's qualitative call on a weather payload.
type WeatherJudgment struct {
	Verdict   Verdict `json:"verdict"`
	Rationale string  `json:"rationale"`
}

// WeatherJudge produces weather judgments. ModelAdapter implements it.
type WeatherJudge interface {
	JudgeWeather(ctx context.Context, weatherText, date string) (WeatherJudgment, error)
}

// ScheduleRequest carries the arguments of one conditional scheduling
// attempt. Start and End default to a one-hour late-morning slot.
type ScheduleRequest struct {
	City        string
	Date        string
	Title       string
	Description string
	Start       string
	End         string
}

// WeatherSchedulingPolicy implements the forecast-judge-check-create flow.
// Inner capabilities are invoked through the registry so the policy runs
// against exactly the same implementations the model can invoke directly.
type WeatherSchedulingPolicy struct {
	judge    WeatherJudge
	registry *tools.Registry
	logger   *logrus.Logger
}

func NewWeatherSchedulingPolicy(judge WeatherJudge, registry *tools.Registry, logger *logrus.Logger) *WeatherSchedulingPolicy {
	return &WeatherSchedulingPolicy{judge: judge, registry: registry, logger: logger}
}

// ScheduleIfGoodWeather runs the conditional flow and returns a user-facing
// summary. Declining to schedule (bad or marginal weather, occupied slot)
// is a successful outcome, not an error.
func (p *WeatherSchedulingPolicy) ScheduleIfGoodWeather(ctx context.Context, req ScheduleRequest) (string, error) {
	if req.Start == "" {
		req.Start = "10:00"
	}
	if req.End == "" {
		req.End = "11:00"
	}

	forecast, err := p.invoke(ctx, "get_weather_forecast", tools.Args{"city": req.City})
	if err != nil {
		return "", fmt.Errorf("could not retrieve the forecast for %s: %w", req.City, err)
	}

	judgment, err := p.judge.JudgeWeather(ctx, forecast, req.Date)
	if err != nil {
		return "", fmt.Errorf("weather judgment failed: %w", err)
	}

	p.logger.WithFields(logrus.Fields{
		"city":    req.City,
		"date":    req.Date,
		"verdict": judgment.Verdict,
	}).Info("Weather judged for conditional scheduling")

	if judgment.Verdict != VerdictGood {
		return fmt.Sprintf("I did not schedule %q on %s: the weather looks %s. %s", req.Title, req.Date, judgment.Verdict, judgment.Rationale), nil
	}

	checkResult, err := p.invoke(ctx, "check_event_exists", tools.Args{"date": req.Date})
	if err != nil {
		return "", fmt.Errorf("could not check the schedule for %s: %w", req.Date, err)
	}
	var existing tools.EventCheckResult
	if err := json.Unmarshal([]byte(checkResult), &existing); err != nil {
		return "", fmt.Errorf("unexpected schedule check result: %w", err)
	}
	if existing.Exists {
		return fmt.Sprintf("The weather on %s looks good (%s), but that date already has %d event(s) scheduled. Pick another date or time and I can schedule it.", req.Date, judgment.Rationale, existing.Count), nil
	}

	createArgs := tools.Args{
		"title":      req.Title,
		"date":       req.Date,
		"start_time": req.Start,
		"end_time":   req.End,
	}
	if req.Description != "" {
		createArgs["description"] = req.Description
	}
	if _, err := p.invoke(ctx, "create_event", createArgs); err != nil {
		return "", fmt.Errorf("the weather is good but the event could not be created: %w", err)
	}

	return fmt.Sprintf("Scheduled %q on %s from %s to %s. The weather looks good: %s", req.Title, req.Date, req.Start, req.End, judgment.Rationale), nil
}

func (p *WeatherSchedulingPolicy) invoke(ctx context.Context, name string, args tools.Args) (string, error) {
	capability, err := p.registry.Resolve(name)
	if err != nil {
		return "", err
	}
	return capability.Execute(ctx, args)
}

// ScheduleIfGoodWeatherTool exposes the policy as a capability.
type ScheduleIfGoodWeatherTool struct {
	policy *WeatherSchedulingPolicy
}

func NewScheduleIfGoodWeatherTool(policy *WeatherSchedulingPolicy) *ScheduleIfGoodWeatherTool {
	return &ScheduleIfGoodWeatherTool{policy: policy}
}

func (t *ScheduleIfGoodWeatherTool) Descriptor() tools.CapabilityDescriptor {
	return tools.CapabilityDescriptor{
		Name:    "schedule_if_good_weather",
		Purpose: "Schedule a meeting on a date only if the weather forecast for that date is good. Checks the forecast, judges the weather, verifies the slot is free, and creates the event; explains its reasoning either way.",
		Args: []tools.ArgSpec{
			{Name: "city", Type: tools.ArgTypeString, Required: true, Description: "City whose weather gates the meeting"},
			{Name: "date", Type: tools.ArgTypeString, Required: true, Description: "Meeting date in YYYY-MM-DD format"},
			{Name: "title", Type: tools.ArgTypeString, Required: true, Description: "Meeting title"},
			{Name: "start_time", Type: tools.ArgTypeString, Required: false, Description: "Start time in HH:MM format, defaults to 10:00"},
			{Name: "end_time", Type: tools.ArgTypeString, Required: false, Description: "End time in HH:MM format, defaults to one hour after start"},
			{Name: "description", Type: tools.ArgTypeString, Required: false, Description: "Optional meeting description"},
		},
	}
}

func (t *ScheduleIfGoodWeatherTool) Execute(ctx context.Context, args tools.Args) (string, error) {
	return t.policy.ScheduleIfGoodWeather(ctx, ScheduleRequest{
		City:        args.String("city"),
		Date:        args.String("date"),
		Title:       args.String("title"),
		Start:       args.String("start_time"),
		End:         args.String("end_time"),
		Description: args.String("description"),
	})
}

var _ tools.Capability = (*ScheduleIfGoodWeatherTool)(nil)
