/*
Core request/response and streaming types: the contract between the agent
service and its clients. Stream events are the only channel through which
clients observe the reasoning loop's progress.
*/
package core

import "concierge/tools"

// ChatRequest is the primary input for a chat interaction.
type ChatRequest struct {
	Message        string `json:"message"`                  // The user's utterance
	ConversationID string `json:"conversationId,omitempty"` // Optional id for conversation continuity
	Debug          bool   `json:"debug,omitempty"`          // Include debug detail in stream events
}

// ChatResponse is the final response of the non-streaming chat endpoint.
type ChatResponse struct {
	Response       string `json:"response"`
	ConversationID string `json:"conversationId"`
}

// EventType tags a StreamEvent variant.
type EventType string

const (
	// EventSession reports the conversation id in use (first event).
	EventSession EventType = "session"
	// EventExecutionStarted reports the cancellable execution id.
	EventExecutionStarted EventType = "execution_started"
	// EventToolStarted marks entry into a capability invocation.
	EventToolStarted EventType = "tool_started"
	// EventToolFinished marks completion of a capability invocation,
	// carrying either its result or its error. Always follows the matching
	// tool_started; pairs never interleave.
	EventToolFinished EventType = "tool_finished"
	// EventAnswerToken carries final answer text.
	EventAnswerToken EventType = "answer_token"
	// EventError reports a request-terminating failure.
	EventError EventType = "error"
	// EventDone terminates the stream; emitted at most once.
	EventDone EventType = "done"
)

// StreamEvent is one entry of the ordered event sequence a request produces.
// Seq is assigned by the emitter and is strictly increasing per request.
type StreamEvent struct {
	Type      EventType  `json:"type"`
	Seq       int        `json:"seq"`
	Tool      string     `json:"tool,omitempty"`
	Args      tools.Args `json:"args,omitempty"`
	Result    string     `json:"result,omitempty"`
	Error     string     `json:"error,omitempty"`
	Token     string     `json:"token,omitempty"`
	Iteration int        `json:"iteration,omitempty"`
	Content   string     `json:"content,omitempty"`
}

// StopRequest asks the server to cancel a running execution.
type StopRequest struct {
	ExecutionID string `json:"executionId"`
}

// StopResponse reports the outcome of a stop request.
type StopResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Stopped bool   `json:"stopped"`
}
