package core

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"concierge/tools"
)

func runLoop(t *testing.T, model DecisionModel, registry *tools.Registry, config *Config) (RunResult, error, []StreamEvent) {
	t.Helper()
	collect := NewCollectEmitter()
	orchestrator := NewOrchestrator(model, registry, config, testLogger())
	result, err := orchestrator.Run(context.Background(), nil, "hello", NewOrderedEmitter(collect))
	return result, err, collect.Events()
}

func TestRunFinalAnswer(t *testing.T) {
	model := &scriptedModel{steps: []scriptStep{answer("Hi there!")}}

	result, err, events := runLoop(t, model, testRegistry(), testConfig())
	require.NoError(t, err)

	assert.Equal(t, "Hi there!", result.Answer)
	assert.Equal(t, StateAnswering, result.State)
	assert.Zero(t, result.Invocations)

	require.Equal(t, []EventType{EventAnswerToken, EventDone}, eventTypes(events))
	assert.Equal(t, "Hi there!", events[0].Token)

	require.Len(t, result.Turns, 2)
	assert.Equal(t, RoleUser, result.Turns[0].Role)
	assert.Equal(t, RoleAssistant, result.Turns[1].Role)
}

func TestRunInvokesCapabilityAndFoldsResult(t *testing.T) {
	weather := &fakeCapability{
		name:   "get_current_weather",
		args:   []tools.ArgSpec{{Name: "city", Type: tools.ArgTypeString, Required: true}},
		result: "Current weather in Paris: clear sky, 21.0°C",
	}
	model := &scriptedModel{steps: []scriptStep{
		act("get_current_weather", tools.Args{"city": "Paris"}),
		answer("It is 21°C and clear in Paris."),
	}}

	result, err, events := runLoop(t, model, testRegistry(weather), testConfig())
	require.NoError(t, err)

	assert.Equal(t, 1, weather.calls)
	assert.Equal(t, "Paris", weather.lastArgs.String("city"))
	assert.Equal(t, 1, result.Invocations)

	require.Equal(t, []EventType{EventToolStarted, EventToolFinished, EventAnswerToken, EventDone}, eventTypes(events))
	assert.Equal(t, "get_current_weather", events[0].Tool)
	assert.Equal(t, weather.result, events[1].Result)

	// The observation must be folded into the new turns.
	observed := false
	for _, turn := range result.Turns {
		if turn.Role == RoleTool {
			assert.Contains(t, turn.Content, weather.result)
			observed = true
		}
	}
	assert.True(t, observed)
}

func TestRunSequenceNumbersStrictlyIncrease(t *testing.T) {
	weather := &fakeCapability{
		name:   "get_current_weather",
		args:   []tools.ArgSpec{{Name: "city", Type: tools.ArgTypeString, Required: true}},
		result: "cloudy",
	}
	model := &scriptedModel{steps: []scriptStep{
		act("get_current_weather", tools.Args{"city": "Paris"}),
		act("get_current_weather", tools.Args{"city": "Lyon"}),
		answer("done"),
	}}

	_, err, events := runLoop(t, model, testRegistry(weather), testConfig())
	require.NoError(t, err)

	for i, event := range events {
		assert.Equal(t, i, event.Seq)
	}
	assert.Equal(t, EventDone, events[len(events)-1].Type)
}

func TestRunUnknownCapabilityCorrectsModel(t *testing.T) {
	model := &scriptedModel{steps: []scriptStep{
		act("launch_rocket", tools.Args{}),
		answer("Sorry, I cannot do that."),
	}}

	result, err, events := runLoop(t, model, testRegistry(), testConfig())
	require.NoError(t, err)

	// Nothing executed, so no tool events; the model was corrected and
	// reached an answer on the next iteration.
	assert.Equal(t, []EventType{EventAnswerToken, EventDone}, eventTypes(events))
	assert.Zero(t, result.Invocations)

	corrected := false
	for _, turn := range result.Turns {
		if turn.Role == RoleTool {
			assert.Contains(t, turn.Content, "launch_rocket")
			corrected = true
		}
	}
	assert.True(t, corrected)
}

func TestRunInvalidArgsNeverExecute(t *testing.T) {
	weather := &fakeCapability{
		name: "get_current_weather",
		args: []tools.ArgSpec{{Name: "city", Type: tools.ArgTypeString, Required: true}},
	}
	model := &scriptedModel{steps: []scriptStep{
		act("get_current_weather", tools.Args{"town": "Paris"}),
		answer("I need a city name."),
	}}

	result, err, _ := runLoop(t, model, testRegistry(weather), testConfig())
	require.NoError(t, err)

	assert.Zero(t, weather.calls)
	assert.Zero(t, result.Invocations)
}

func TestRunInvalidDecisionContinues(t *testing.T) {
	model := &scriptedModel{steps: []scriptStep{
		{err: &InvalidDecisionError{Reason: "gibberish"}},
		answer("Recovered."),
	}}

	result, err, _ := runLoop(t, model, testRegistry(), testConfig())
	require.NoError(t, err)

	assert.Equal(t, "Recovered.", result.Answer)
	assert.Equal(t, 2, model.calls)
}

func TestRunCapabilityFailureIsFoldedNotFatal(t *testing.T) {
	search := &fakeCapability{
		name: "google_search",
		args: []tools.ArgSpec{{Name: "query", Type: tools.ArgTypeString, Required: true}},
		err:  tools.ErrProviderUnavailable,
	}
	model := &scriptedModel{steps: []scriptStep{
		act("google_search", tools.Args{"query": "weather"}),
		answer("The search service is down right now."),
	}}

	result, err, events := runLoop(t, model, testRegistry(search), testConfig())
	require.NoError(t, err)

	assert.Equal(t, StateAnswering, result.State)
	require.Equal(t, []EventType{EventToolStarted, EventToolFinished, EventAnswerToken, EventDone}, eventTypes(events))
	assert.Contains(t, events[1].Error, "provider unavailable")
}

func TestRunIterationBoundDegradesAnswer(t *testing.T) {
	clock := &fakeCapability{name: "get_current_datetime", result: "2026-09-01"}
	steps := make([]scriptStep, 0, 10)
	for i := 0; i < 10; i++ {
		steps = append(steps, act("get_current_datetime", tools.Args{}))
	}
	model := &scriptedModel{steps: steps}

	config := testConfig()
	config.MaxIterations = 3

	result, err, events := runLoop(t, model, testRegistry(clock), config)
	require.ErrorIs(t, err, ErrLoopExhausted)

	assert.Equal(t, 3, clock.calls)
	assert.NotEmpty(t, result.Answer)
	assert.Equal(t, StateAnswering, result.State)
	assert.Equal(t, EventDone, events[len(events)-1].Type)

	doneCount := 0
	for _, event := range events {
		if event.Type == EventDone {
			doneCount++
		}
	}
	assert.Equal(t, 1, doneCount)
}

func TestRunCancellation(t *testing.T) {
	model := &scriptedModel{steps: []scriptStep{answer("never reached")}}
	orchestrator := NewOrchestrator(model, testRegistry(), testConfig(), testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	collect := NewCollectEmitter()
	result, err := orchestrator.Run(ctx, nil, "hello", NewOrderedEmitter(collect))
	require.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, StateFailed, result.State)
	assert.Equal(t, []EventType{EventError, EventDone}, eventTypes(collect.Events()))
	assert.Zero(t, model.calls)
}

func TestRunConsecutiveTimeoutsFail(t *testing.T) {
	model := &scriptedModel{steps: []scriptStep{
		{err: context.DeadlineExceeded},
		{err: context.DeadlineExceeded},
		answer("never reached"),
	}}

	result, err, events := runLoop(t, model, testRegistry(), testConfig())
	require.Error(t, err)

	assert.Equal(t, StateFailed, result.State)
	assert.Equal(t, 2, model.calls)
	assert.Equal(t, []EventType{EventError, EventDone}, eventTypes(events))
}

func TestRunSingleTimeoutRetries(t *testing.T) {
	model := &scriptedModel{steps: []scriptStep{
		{err: context.DeadlineExceeded},
		answer("Recovered after a slow call."),
	}}

	result, err, _ := runLoop(t, model, testRegistry(), testConfig())
	require.NoError(t, err)
	assert.Equal(t, "Recovered after a slow call.", result.Answer)
}

func TestRunConsecutiveCapabilityTimeoutsFail(t *testing.T) {
	slow := &fakeCapability{
		name: "google_search",
		args: []tools.ArgSpec{{Name: "query", Type: tools.ArgTypeString, Required: true}},
		err:  context.DeadlineExceeded,
	}
	steps := make([]scriptStep, 0, 5)
	for i := 0; i < 5; i++ {
		steps = append(steps, act("google_search", tools.Args{"query": "weather"}))
	}
	model := &scriptedModel{steps: steps}

	result, err, events := runLoop(t, model, testRegistry(slow), testConfig())
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// The run halts at the consecutive-timeout bound, well short of the
	// iteration bound, even though every decision in between succeeded.
	assert.Equal(t, StateFailed, result.State)
	assert.Equal(t, 2, slow.calls)
	assert.Equal(t, []EventType{
		EventToolStarted, EventToolFinished,
		EventToolStarted, EventToolFinished,
		EventError, EventDone,
	}, eventTypes(events))
}

func TestRunCapabilityTimeoutBelowBoundIsFolded(t *testing.T) {
	flaky := &fakeCapability{
		name:   "google_search",
		args:   []tools.ArgSpec{{Name: "query", Type: tools.ArgTypeString, Required: true}},
		result: "found it",
		errs:   []error{context.DeadlineExceeded, nil, context.DeadlineExceeded},
	}
	model := &scriptedModel{steps: []scriptStep{
		act("google_search", tools.Args{"query": "weather"}),
		act("google_search", tools.Args{"query": "weather"}),
		act("google_search", tools.Args{"query": "weather"}),
		answer("Done."),
	}}

	config := testConfig()
	config.MaxIterations = 6

	// A successful invocation between two timeouts breaks the streak, so
	// the run reaches its answer.
	result, err, _ := runLoop(t, model, testRegistry(flaky), config)
	require.NoError(t, err)

	assert.Equal(t, StateAnswering, result.State)
	assert.Equal(t, "Done.", result.Answer)
	assert.Equal(t, 3, flaky.calls)
}

func TestRunStopDuringInvocationLetsItFinish(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	lookup := &stoppingCapability{cancel: cancel}
	model := &scriptedModel{steps: []scriptStep{
		act("slow_lookup", tools.Args{}),
		answer("never reached"),
	}}
	orchestrator := NewOrchestrator(model, testRegistry(lookup), testConfig(), testLogger())

	collect := NewCollectEmitter()
	result, err := orchestrator.Run(ctx, nil, "hello", NewOrderedEmitter(collect))
	require.ErrorIs(t, err, context.Canceled)

	// The stop request landed mid-invocation: the capability ran to
	// completion without observing it, its result was still reported, and
	// the run failed at the next deciding step.
	assert.False(t, lookup.sawCancel)
	assert.Equal(t, StateFailed, result.State)

	events := collect.Events()
	require.Equal(t, []EventType{EventToolStarted, EventToolFinished, EventError, EventDone}, eventTypes(events))
	assert.Equal(t, "completed", events[1].Result)
}

// stoppingCapability cancels the request context from inside its own
// execution, simulating a stop request arriving mid-invocation.
type stoppingCapability struct {
	cancel    context.CancelFunc
	sawCancel bool
}

func (s *stoppingCapability) Descriptor() tools.CapabilityDescriptor {
	return tools.CapabilityDescriptor{Name: "slow_lookup", Purpose: "test capability"}
}

func (s *stoppingCapability) Execute(ctx context.Context, args tools.Args) (string, error) {
	s.cancel()
	s.sawCancel = ctx.Err() != nil
	return "completed", nil
}

func TestRunModelErrorIsFatal(t *testing.T) {
	model := &scriptedModel{steps: []scriptStep{
		{err: errors.New("connection refused")},
	}}

	result, err, events := runLoop(t, model, testRegistry(), testConfig())
	require.Error(t, err)

	assert.Equal(t, StateFailed, result.State)
	assert.Equal(t, []EventType{EventError, EventDone}, eventTypes(events))
}

func TestRunMultiStepScenario(t *testing.T) {
	forecast := &fakeCapability{
		name:   "get_weather_forecast",
		args:   []tools.ArgSpec{{Name: "city", Type: tools.ArgTypeString, Required: true}},
		result: "2026-09-03 12:00: light rain, 14.0°C",
	}
	clock := &fakeCapability{name: "get_current_datetime", result: `{"current_date":"2026-09-01"}`}

	model := &scriptedModel{steps: []scriptStep{
		act("get_current_datetime", tools.Args{}),
		act("get_weather_forecast", tools.Args{"city": "Paris"}),
		answer("Expect light rain in Paris on Thursday."),
	}}

	config := testConfig()
	result, err, events := runLoop(t, model, testRegistry(forecast, clock), config)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Invocations)
	assert.Equal(t, 1, clock.calls)
	assert.Equal(t, 1, forecast.calls)

	require.Equal(t, []EventType{
		EventToolStarted, EventToolFinished,
		EventToolStarted, EventToolFinished,
		EventAnswerToken, EventDone,
	}, eventTypes(events))
	assert.Equal(t, "get_current_datetime", events[0].Tool)
	assert.Equal(t, "get_weather_forecast", events[2].Tool)
}
