package core

import (
	"context"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"concierge/tools"
)

func testConfig() *Config {
	return &Config{
		MaxIterations:          5,
		DecisionTimeout:        time.Second,
		CapabilityTimeout:      time.Second,
		MaxConsecutiveTimeouts: 2,
		ContextLimit:           20,
		LogTruncateLength:      500,
	}
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// scriptStep is one scripted decision model response.
type scriptStep struct {
	decision AgentDecision
	err      error
}

// scriptedModel replays a fixed sequence of decisions, one per iteration.
type scriptedModel struct {
	steps []scriptStep
	calls int
}

func (m *scriptedModel) Decide(ctx context.Context, history []Turn, capabilities []tools.CapabilityDescriptor) (AgentDecision, error) {
	if m.calls >= len(m.steps) {
		return AgentDecision{}, &InvalidDecisionError{Reason: "script exhausted"}
	}
	step := m.steps[m.calls]
	m.calls++
	return step.decision, step.err
}

func act(capability string, args tools.Args) scriptStep {
	return scriptStep{decision: AgentDecision{Capability: capability, Args: args}}
}

func answer(text string) scriptStep {
	return scriptStep{decision: AgentDecision{Final: true, Answer: text}}
}

// fakeCapability records its invocations and returns a fixed result. When
// errs is set it scripts one outcome per call instead, with a nil entry
// meaning success.
type fakeCapability struct {
	name     string
	args     []tools.ArgSpec
	result   string
	err      error
	errs     []error
	calls    int
	lastArgs tools.Args
}

func (f *fakeCapability) Descriptor() tools.CapabilityDescriptor {
	return tools.CapabilityDescriptor{Name: f.name, Purpose: "test capability", Args: f.args}
}

func (f *fakeCapability) Execute(ctx context.Context, args tools.Args) (string, error) {
	call := f.calls
	f.calls++
	f.lastArgs = args
	if call < len(f.errs) {
		if f.errs[call] != nil {
			return "", f.errs[call]
		}
		return f.result, nil
	}
	if f.err != nil {
		return "", f.err
	}
	return f.result, nil
}

func testRegistry(capabilities ...tools.Capability) *tools.Registry {
	registry := tools.NewRegistry()
	for _, capability := range capabilities {
		if err := registry.Register(capability); err != nil {
			panic(err)
		}
	}
	return registry
}

func eventTypes(events []StreamEvent) []EventType {
	types := make([]EventType, 0, len(events))
	for _, event := range events {
		types = append(types, event.Type)
	}
	return types
}
