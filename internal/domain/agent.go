package domain

import "context"

// AgentQuery is one request to the conversational agent backend. AgentID and
// AliasID come from configuration, never from the inbound request.
type AgentQuery struct {
	AgentID   string
	AliasID   string
	SessionID string
	InputText string

	// SessionState is passed through to the backend verbatim when set. The
	// webhook path never sets it; conversational continuity rides on
	// SessionID alone.
	SessionState *SessionState
}

// SessionState carries backend session attributes between turns.
type SessionState struct {
	SessionAttributes       map[string]string
	PromptSessionAttributes map[string]string
}

// AgentEventKind tags one element of a completion stream.
type AgentEventKind string

const (
	// AgentChunk carries a piece of the answer text.
	AgentChunk AgentEventKind = "chunk"
	// AgentTrace is diagnostic only and contributes nothing to the text.
	AgentTrace AgentEventKind = "trace"
	// AgentStreamError reports a transport failure that ended the stream.
	AgentStreamError AgentEventKind = "error"
	// AgentUnknown is an event shape this code does not recognize. Consumers
	// must skip it without aborting aggregation.
	AgentUnknown AgentEventKind = "unknown"
)

// AgentEvent is one element of the heterogeneous completion stream.
type AgentEvent struct {
	Kind  AgentEventKind
	Bytes []byte // chunk payload, UTF-8 text
	Trace string // trace detail
	Err   string // stream error description
	Raw   string // unrecognized event tag, for the warning log
}

// AgentRuntime is the agent backend boundary. Invoke returns the completion
// as an event channel closed by the producer when the stream ends. A nil
// channel with a nil error means the backend reported no completion at all.
type AgentRuntime interface {
	Invoke(ctx context.Context, q AgentQuery) (<-chan AgentEvent, error)
}
