/*
The reasoning loop: the deterministic engine that drives a request from
utterance to answer. Each iteration asks the decision model what to do,
executes at most one capability, folds the observation back into context,
and re-enters the decision state. The loop owns all mid-request stream
emissions and all safety bounds; the model proposes, the loop disposes.
*/
package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"concierge/tools"
)

// LoopState names the phases of one request's lifecycle. Terminal states
// are Answering and Failed.
type LoopState string

const (
	StateDeciding  LoopState = "deciding"
	StateInvoking  LoopState = "invoking"
	StateFolding   LoopState = "folding"
	StateAnswering LoopState = "answering"
	StateFailed    LoopState = "failed"
)

// ErrLoopExhausted marks a request that hit the iteration bound. The caller
// still receives a degraded answer; the error is a signal, not a failure.
var ErrLoopExhausted = errors.New("reasoning loop reached its iteration bound")

const exhaustedAnswer = "I wasn't able to fully complete this request within my reasoning limits. Here is what I found so far; please rephrase or break the request into smaller steps if you need more."

// RunResult is the outcome of one reasoning loop run.
type RunResult struct {
	Answer      string
	Turns       []Turn
	State       LoopState
	Invocations int
	Iterations  int
}

// Orchestrator runs the reasoning loop over a decision model and a
// capability registry. It is stateless across requests and safe for
// concurrent use.
type Orchestrator struct {
	model    DecisionModel
	registry *tools.Registry
	config   *Config
	logger   *logrus.Logger
}

func NewOrchestrator(model DecisionModel, registry *tools.Registry, config *Config, logger *logrus.Logger) *Orchestrator {
	return &Orchestrator{
		model:    model,
		registry: registry,
		config:   config,
		logger:   logger,
	}
}

// Run processes one user utterance against the given history. It returns
// the new turns produced during the run (user turn included); the caller
// decides whether and where to persist them. All stream events for the run
// flow through em, ending with exactly one done event.
func (o *Orchestrator) Run(ctx context.Context, history []Turn, utterance string, em Emitter) (RunResult, error) {
	working := make([]Turn, 0, len(history)+8)
	working = append(working, history...)

	newTurns := []Turn{{Role: RoleUser, Content: utterance, Timestamp: time.Now()}}
	working = append(working, newTurns[0])

	descriptors := o.registry.DescribeAll()
	invocations := 0

	// Consecutive-timeout streaks are tracked per call kind: a decision
	// that succeeds does not forgive a capability that times out on every
	// invocation, and vice versa.
	decisionTimeouts := 0
	capabilityTimeouts := 0

	for iteration := 1; iteration <= o.config.MaxIterations; iteration++ {
		// Deciding. Cancellation is honored at the top of every iteration;
		// a capability already in flight is allowed to finish.
		if err := ctx.Err(); err != nil {
			return o.fail(em, newTurns, invocations, iteration, "Request cancelled", err)
		}

		o.logger.WithFields(logrus.Fields{
			"iteration":    iteration,
			"maxIteration": o.config.MaxIterations,
		}).Debug("Requesting decision")

		decisionCtx, cancel := context.WithTimeout(ctx, o.config.DecisionTimeout)
		decision, err := o.model.Decide(decisionCtx, working, descriptors)
		cancel()

		if err != nil {
			var invalid *InvalidDecisionError
			switch {
			case errors.As(err, &invalid):
				// Malformed output costs an iteration and earns a
				// corrective turn; the model gets to try again.
				decisionTimeouts = 0
				correction := fmt.Sprintf("Your previous response could not be interpreted (%s). Respond with either an Action and a JSON Action Input, or a Final Answer, in the required format.", invalid.Reason)
				working, newTurns = appendTurn(working, newTurns, RoleTool, correction)
				o.logger.WithField("reason", invalid.Reason).Warn("Invalid decision, issuing corrective turn")
				continue
			case ctx.Err() != nil:
				return o.fail(em, newTurns, invocations, iteration, "Request cancelled", ctx.Err())
			case errors.Is(err, context.DeadlineExceeded):
				decisionTimeouts++
				if decisionTimeouts >= o.config.MaxConsecutiveTimeouts {
					return o.fail(em, newTurns, invocations, iteration, "The decision model timed out repeatedly", err)
				}
				o.logger.WithField("consecutiveTimeouts", decisionTimeouts).Warn("Decision model timed out, retrying")
				continue
			default:
				// Anything else from the model is catastrophic for this
				// request.
				return o.fail(em, newTurns, invocations, iteration, "The decision model is unavailable", err)
			}
		}
		decisionTimeouts = 0

		if decision.Final {
			// Answering.
			working, newTurns = appendTurn(working, newTurns, RoleAssistant, decision.Answer)
			em.Emit(StreamEvent{Type: EventAnswerToken, Token: decision.Answer, Iteration: iteration})
			em.Emit(StreamEvent{Type: EventDone})
			return RunResult{
				Answer:      decision.Answer,
				Turns:       newTurns,
				State:       StateAnswering,
				Invocations: invocations,
				Iterations:  iteration,
			}, nil
		}

		// Invoking. A reference to an unknown capability or arguments that
		// fail validation are model mistakes, handled exactly like malformed
		// output: fold a correction, never execute.
		capability, err := o.registry.Resolve(decision.Capability)
		if err != nil {
			correction := fmt.Sprintf("There is no capability named %q. Available capabilities: %v.", decision.Capability, o.registry.Names())
			working, newTurns = appendTurn(working, newTurns, RoleTool, correction)
			o.logger.WithField("capability", decision.Capability).Warn("Decision referenced unknown capability")
			continue
		}
		descriptor := capability.Descriptor()
		if err := tools.ValidateArgs(descriptor, decision.Args); err != nil {
			correction := fmt.Sprintf("Invalid arguments for %s: %v. Declared arguments: %s.", descriptor.Name, err, tools.DescribeForPrompt(descriptor))
			working, newTurns = appendTurn(working, newTurns, RoleTool, correction)
			o.logger.WithFields(logrus.Fields{
				"capability": descriptor.Name,
				"error":      err.Error(),
			}).Warn("Decision carried invalid arguments")
			continue
		}

		working, newTurns = appendTurn(working, newTurns, RoleAssistant, renderAction(decision))

		em.Emit(StreamEvent{
			Type:      EventToolStarted,
			Tool:      descriptor.Name,
			Args:      decision.Args,
			Iteration: iteration,
		})

		// The invocation context carries request values but not request
		// cancellation: an in-flight capability runs to completion, and the
		// cancellation takes effect at the top of the next iteration.
		invokeCtx, cancelInvoke := context.WithTimeout(context.WithoutCancel(ctx), o.config.CapabilityTimeout)
		result, execErr := capability.Execute(invokeCtx, decision.Args)
		cancelInvoke()
		invocations++

		// Folding. Capability failures are observations, not request
		// failures; the model decides how to proceed.
		var observation string
		if execErr != nil {
			em.Emit(StreamEvent{
				Type:      EventToolFinished,
				Tool:      descriptor.Name,
				Error:     execErr.Error(),
				Iteration: iteration,
			})
			o.logger.WithFields(logrus.Fields{
				"capability": descriptor.Name,
				"error":      execErr.Error(),
			}).Warn("Capability invocation failed")
			if errors.Is(execErr, context.DeadlineExceeded) {
				capabilityTimeouts++
				if capabilityTimeouts >= o.config.MaxConsecutiveTimeouts {
					return o.fail(em, newTurns, invocations, iteration, "Capability invocations timed out repeatedly", execErr)
				}
			} else {
				capabilityTimeouts = 0
			}
			observation = fmt.Sprintf("Observation from %s: the capability failed: %v", descriptor.Name, execErr)
		} else {
			em.Emit(StreamEvent{
				Type:      EventToolFinished,
				Tool:      descriptor.Name,
				Result:    result,
				Iteration: iteration,
			})
			observation = fmt.Sprintf("Observation from %s: %s", descriptor.Name, result)
			capabilityTimeouts = 0
		}
		working, newTurns = appendTurn(working, newTurns, RoleTool, observation)
	}

	// Iteration bound reached: answer degraded rather than fail, so the
	// user always hears back.
	_, newTurns = appendTurn(working, newTurns, RoleAssistant, exhaustedAnswer)
	em.Emit(StreamEvent{Type: EventAnswerToken, Token: exhaustedAnswer})
	em.Emit(StreamEvent{Type: EventDone})

	o.logger.WithField("maxIterations", o.config.MaxIterations).Warn("Reasoning loop exhausted its iteration bound")

	return RunResult{
		Answer:      exhaustedAnswer,
		Turns:       newTurns,
		State:       StateAnswering,
		Invocations: invocations,
		Iterations:  o.config.MaxIterations,
	}, ErrLoopExhausted
}

// fail terminates the run: an error event, then done, then the Failed state
// back to the caller. Turns accumulated so far are still returned so the
// conversation reflects what happened.
func (o *Orchestrator) fail(em Emitter, newTurns []Turn, invocations, iteration int, message string, err error) (RunResult, error) {
	em.Emit(StreamEvent{Type: EventError, Error: message, Iteration: iteration})
	em.Emit(StreamEvent{Type: EventDone})

	o.logger.WithFields(logrus.Fields{
		"iteration": iteration,
		"error":     err.Error(),
	}).Error(message)

	return RunResult{
		Turns:       newTurns,
		State:       StateFailed,
		Invocations: invocations,
		Iterations:  iteration,
	}, err
}

func appendTurn(working, newTurns []Turn, role, content string) ([]Turn, []Turn) {
	turn := Turn{Role: role, Content: content, Timestamp: time.Now()}
	return append(working, turn), append(newTurns, turn)
}

// renderAction reconstructs the acting decision as text so the model sees
// its own prior steps in context on the next iteration.
func renderAction(decision AgentDecision) string {
	input := "{}"
	if len(decision.Args) > 0 {
		if encoded, err := json.Marshal(decision.Args); err == nil {
			input = string(encoded)
		}
	}
	if decision.Thought != "" {
		return fmt.Sprintf("Thought: %s\nAction: %s\nAction Input: %s", decision.Thought, decision.Capability, input)
	}
	return fmt.Sprintf("Action: %s\nAction Input: %s", decision.Capability, input)
}
