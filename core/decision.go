/*
Decision model adapter: the single non-deterministic component. It wraps the
underlying LLM, renders conversation history and the capability vocabulary
into a ReAct prompt, cleans the raw completion, and parses it into an
AgentDecision. The reasoning loop treats everything coming out of here as
untrusted input; malformed output becomes an InvalidDecisionError, never a
crash.

The adapter also answers the two qualitative judgments the policies delegate
to the model: the weather verdict and the document sufficiency call. Both
are one-shot JSON classifications.
*/
package core

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"

	"concierge/tools"
)

// AgentDecision is the tagged output of one decision model call: either a
// final answer or a request to invoke one named capability.
type AgentDecision struct {
	Final      bool
	Answer     string
	Capability string
	Args       tools.Args
	Thought    string
}

// DecisionModel produces one AgentDecision per reasoning loop iteration.
// Implementations must be safe for concurrent use across requests; test
// doubles return scripted decisions.
type DecisionModel interface {
	Decide(ctx context.Context, history []Turn, capabilities []tools.CapabilityDescriptor) (AgentDecision, error)
}

// InvalidDecisionError reports model output that could not be interpreted as
// a decision. The reasoning loop folds it into history as a corrective turn
// instead of aborting the request.
type InvalidDecisionError struct {
	Reason string
	Raw    string
}

func (e *InvalidDecisionError) Error() string {
	return "invalid decision: " + e.Reason
}

var (
	thinkTagRegex     = regexp.MustCompile(`(?is)<think>.*?</think>`)
	openThinkRegex    = regexp.MustCompile(`(?is)<think>.*`)
	reasoningTagRegex = regexp.MustCompile(`(?is)<reasoning>.*?</reasoning>`)
	multiNewlineRegex = regexp.MustCompile(`\n\s*\n\s*\n+`)
	finalAnswerRegex  = regexp.MustCompile(`(?is)Final Answer:\s*(.*)`)
	actionRegex       = regexp.MustCompile(`(?im)^Action:\s*(\S+)\s*$`)
	thoughtRegex      = regexp.MustCompile(`(?is)Thought:\s*(.*?)(?:\n(?:Action|Final Answer):|$)`)
	codeFenceRegex    = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")
)

// ModelAdapter is the LLM-backed DecisionModel.
type ModelAdapter struct {
	llm    llms.Model
	config *Config
	logger *logrus.Logger

	promptOnce   sync.Once
	systemPrompt string
	promptErr    error
}

func NewModelAdapter(llm llms.Model, config *Config, logger *logrus.Logger) *ModelAdapter {
	return &ModelAdapter{llm: llm, config: config, logger: logger}
}

// Decide renders history into model messages, invokes the LLM, and parses
// the completion into an AgentDecision. The system prompt is rendered from
// the first descriptor set seen; the registry is read-only after startup,
// so the vocabulary never drifts from what can execute.
func (a *ModelAdapter) Decide(ctx context.Context, history []Turn, capabilities []tools.CapabilityDescriptor) (AgentDecision, error) {
	a.promptOnce.Do(func() {
		a.systemPrompt, a.promptErr = BuildSystemPrompt(capabilities)
	})
	if a.promptErr != nil {
		return AgentDecision{}, fmt.Errorf("failed to build system prompt: %w", a.promptErr)
	}

	messages := make([]llms.MessageContent, 0, len(history)+1)
	messages = append(messages, llms.TextParts(schema.ChatMessageTypeSystem, a.systemPrompt))

	start := len(history) - a.config.ContextLimit
	if start < 0 {
		start = 0
	}
	for _, turn := range history[start:] {
		switch turn.Role {
		case RoleAssistant:
			messages = append(messages, llms.TextParts(schema.ChatMessageTypeAI, turn.Content))
		case RoleSystem:
			messages = append(messages, llms.TextParts(schema.ChatMessageTypeSystem, turn.Content))
		default:
			// User turns and tool observations both reach the model as
			// human messages; observations are already prefixed.
			messages = append(messages, llms.TextParts(schema.ChatMessageTypeHuman, turn.Content))
		}
	}

	response, err := a.llm.GenerateContent(ctx, messages)
	if err != nil {
		return AgentDecision{}, fmt.Errorf("decision model call failed: %w", err)
	}
	if response == nil || len(response.Choices) == 0 {
		return AgentDecision{}, &InvalidDecisionError{Reason: "model returned no choices"}
	}

	raw := response.Choices[0].Content
	cleaned := a.cleanResponse(raw)

	a.logger.WithFields(logrus.Fields{
		"responseLength": len(raw),
		"preview":        a.truncateForLog(cleaned),
	}).Debug("Decision model responded")

	return parseDecision(cleaned)
}

// cleanResponse strips reasoning tags some models wrap around their output
// and normalizes whitespace, so the parser only sees the ReAct body.
func (a *ModelAdapter) cleanResponse(response string) string {
	cleaned := thinkTagRegex.ReplaceAllString(response, "")
	cleaned = openThinkRegex.ReplaceAllString(cleaned, "")
	cleaned = reasoningTagRegex.ReplaceAllString(cleaned, "")
	cleaned = multiNewlineRegex.ReplaceAllString(cleaned, "\n\n")
	return strings.TrimSpace(cleaned)
}

func (a *ModelAdapter) truncateForLog(text string) string {
	if len(text) <= a.config.LogTruncateLength {
		return text
	}
	return text[:a.config.LogTruncateLength] + "..."
}

// parseDecision interprets a cleaned completion. An Action that appears
// before any Final Answer wins, matching how models emit a trailing
// hallucinated answer after deciding to act.
func parseDecision(cleaned string) (AgentDecision, error) {
	if cleaned == "" {
		return AgentDecision{}, &InvalidDecisionError{Reason: "empty response"}
	}

	thought := ""
	if m := thoughtRegex.FindStringSubmatch(cleaned); m != nil {
		thought = strings.TrimSpace(m[1])
	}

	actionIdx := actionRegex.FindStringIndex(cleaned)
	finalIdx := finalAnswerRegex.FindStringIndex(cleaned)

	if finalIdx != nil && (actionIdx == nil || finalIdx[0] < actionIdx[0]) {
		answer := strings.TrimSpace(finalAnswerRegex.FindStringSubmatch(cleaned)[1])
		if answer == "" {
			return AgentDecision{}, &InvalidDecisionError{Reason: "empty final answer", Raw: cleaned}
		}
		return AgentDecision{Final: true, Answer: answer, Thought: thought}, nil
	}

	if actionIdx == nil {
		return AgentDecision{}, &InvalidDecisionError{
			Reason: "response contains neither an Action nor a Final Answer",
			Raw:    cleaned,
		}
	}

	name := actionRegex.FindStringSubmatch(cleaned)[1]
	args, err := parseActionInput(cleaned[actionIdx[1]:])
	if err != nil {
		return AgentDecision{}, &InvalidDecisionError{Reason: err.Error(), Raw: cleaned}
	}

	return AgentDecision{Capability: name, Args: args, Thought: thought}, nil
}

// parseActionInput extracts the JSON argument object following the Action
// line. A missing or empty input is treated as an empty argument set, which
// zero-argument capabilities accept.
func parseActionInput(rest string) (tools.Args, error) {
	idx := strings.Index(rest, "Action Input:")
	if idx < 0 {
		return tools.Args{}, nil
	}
	input := rest[idx+len("Action Input:"):]
	if m := codeFenceRegex.FindStringSubmatch(input); m != nil {
		input = m[1]
	}

	open := strings.Index(input, "{")
	close := strings.LastIndex(input, "}")
	if open < 0 || close < open {
		if strings.TrimSpace(firstLine(input)) == "" {
			return tools.Args{}, nil
		}
		return nil, fmt.Errorf("Action Input is not a JSON object")
	}

	var args tools.Args
	if err := json.Unmarshal([]byte(input[open:close+1]), &args); err != nil {
		return nil, fmt.Errorf("Action Input is not valid JSON: %v", err)
	}
	return args, nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

const weatherJudgmentPrompt = `You judge whether weather conditions are suitable for a meeting.

Criteria:
- GOOD: clear or few clouds, little or no rain (precipitation chance below 30%%), moderate temperature, wind below 20 km/h.
- BAD: heavy rain or storms, precipitation chance above 50%%, extreme temperatures (above 35°C or below 0°C), strong wind (above 30 km/h).
- MARGINAL: anything in between or uncertain.

Weather data%s:
%s

Respond with ONLY a JSON object: {"verdict": "good" | "bad" | "marginal", "rationale": "<one or two sentences a user can read>"}`

// JudgeWeather asks the model for a qualitative verdict over a raw weather
// payload. No numeric threshold is applied locally; an unparseable verdict
// degrades to marginal so a failed judgment can never cause a write.
func (a *ModelAdapter) JudgeWeather(ctx context.Context, weatherText, date string) (WeatherJudgment, error) {
	scope := ""
	if date != "" {
		scope = " for " + date
	}
	prompt := fmt.Sprintf(weatherJudgmentPrompt, scope, weatherText)

	completion, err := llms.GenerateFromSinglePrompt(ctx, a.llm, prompt)
	if err != nil {
		return WeatherJudgment{}, fmt.Errorf("weather judgment call failed: %w", err)
	}

	var parsed struct {
		Verdict   string `json:"verdict"`
		Rationale string `json:"rationale"`
	}
	if err := json.Unmarshal([]byte(extractJSONObject(a.cleanResponse(completion))), &parsed); err != nil {
		a.logger.WithField("completion", a.truncateForLog(completion)).Warn("Unparseable weather judgment, degrading to marginal")
		return WeatherJudgment{Verdict: VerdictMarginal, Rationale: "The weather assessment was inconclusive."}, nil
	}

	judgment := WeatherJudgment{Rationale: strings.TrimSpace(parsed.Rationale)}
	switch strings.ToLower(strings.TrimSpace(parsed.Verdict)) {
	case string(VerdictGood):
		judgment.Verdict = VerdictGood
	case string(VerdictBad):
		judgment.Verdict = VerdictBad
	default:
		judgment.Verdict = VerdictMarginal
	}
	if judgment.Rationale == "" {
		judgment.Rationale = "No rationale was provided for the weather verdict."
	}
	return judgment, nil
}

const documentAnswerPrompt = `Answer the question using ONLY the material below. Then judge holistically whether the material actually contains enough information to answer the question; do not rely on keyword overlap.

Question: %s

Material:
%s

Respond with ONLY a JSON object: {"answer": "<your answer, or an empty string if the material does not contain one>", "sufficient": true | false}`

// ExtractAnswer asks the model to answer a question from the given material
// and to judge whether the material was sufficient.
func (a *ModelAdapter) ExtractAnswer(ctx context.Context, question, material string) (string, bool, error) {
	prompt := fmt.Sprintf(documentAnswerPrompt, question, material)

	completion, err := llms.GenerateFromSinglePrompt(ctx, a.llm, prompt)
	if err != nil {
		return "", false, fmt.Errorf("answer extraction call failed: %w", err)
	}

	var parsed struct {
		Answer     string `json:"answer"`
		Sufficient bool   `json:"sufficient"`
	}
	if err := json.Unmarshal([]byte(extractJSONObject(a.cleanResponse(completion))), &parsed); err != nil {
		return "", false, &InvalidDecisionError{Reason: "unparseable extraction result", Raw: completion}
	}
	return strings.TrimSpace(parsed.Answer), parsed.Sufficient, nil
}

// extractJSONObject returns the outermost {...} span of s, or s itself when
// no braces are present.
func extractJSONObject(s string) string {
	open := strings.Index(s, "{")
	close := strings.LastIndex(s, "}")
	if open < 0 || close < open {
		return s
	}
	return s[open : close+1]
}
