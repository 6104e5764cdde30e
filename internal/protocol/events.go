// ABOUTME: Discriminated server-to-client event union for the agent chat protocol.
// ABOUTME: Decodes inbound frames by their "type" field into concrete event structs.

package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Server event discriminants.
const (
	TypeConnected     = "connected"
	TypeSessionReady  = "session_ready"
	TypeAgentEvent    = "agent_event"
	TypeAgentResponse = "agent_response"
	TypeAgentError    = "agent_error"
	TypeError         = "error"
)

// ErrUnknownEventType is returned for frames whose discriminant is not part of
// the protocol. The transport drops such frames without surfacing them.
var ErrUnknownEventType = errors.New("unknown server event type")

// ServerEvent is implemented by every server-to-client envelope.
type ServerEvent interface {
	isServerEvent()
}

// Connected acknowledges the websocket handshake and carries the
// authenticated user identifier. It has no session impact.
type Connected struct {
	UserID int64 `json:"user_id"`
}

// SessionReady acknowledges session creation for the oldest unconfirmed first
// message. It does not name the requesting persona; CorrelationID is echoed
// only by servers that support correlation, otherwise resolution falls back
// to FIFO order.
type SessionReady struct {
	SessionID     int64                 `json:"session_id"`
	UserMessageID int64                 `json:"user_message_id"`
	Attachments   []AttachmentReference `json:"attachments"`
	CorrelationID string                `json:"correlation_id,omitempty"`
}

// AgentEvent is an intermediate progress event with an opaque payload.
type AgentEvent struct {
	SessionID int64          `json:"session_id"`
	Event     map[string]any `json:"event"`
}

// AgentResponse is the final answer for one user message.
type AgentResponse struct {
	SessionID      int64          `json:"session_id"`
	Answer         string         `json:"answer"`
	Plan           []any          `json:"plan"`
	ToolResults    []any          `json:"tool_results"`
	Events         []any          `json:"events"`
	LLMStats       map[string]any `json:"llm_stats"`
	LLMBackend     map[string]any `json:"llm_backend"`
	AgentMessageID int64          `json:"agent_message_id"`
}

// AgentError reports a failure scoped to one session.
type AgentError struct {
	SessionID int64  `json:"session_id"`
	Message   string `json:"message"`
}

// ServerError is a failure with no session attribution. It is routed to the
// currently focused conversation, if any.
type ServerError struct {
	Message string `json:"message"`
}

func (*Connected) isServerEvent()     {}
func (*SessionReady) isServerEvent()  {}
func (*AgentEvent) isServerEvent()    {}
func (*AgentResponse) isServerEvent() {}
func (*AgentError) isServerEvent()    {}
func (*ServerError) isServerEvent()   {}

// DecodeServerEvent parses an inbound frame into its concrete event type.
func DecodeServerEvent(data []byte) (ServerEvent, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("parsing server frame: %w", err)
	}

	var (
		ev  ServerEvent
		err error
	)
	switch probe.Type {
	case TypeConnected:
		e := &Connected{}
		err = json.Unmarshal(data, e)
		ev = e
	case TypeSessionReady:
		e := &SessionReady{}
		err = json.Unmarshal(data, e)
		ev = e
	case TypeAgentEvent:
		e := &AgentEvent{}
		err = json.Unmarshal(data, e)
		ev = e
	case TypeAgentResponse:
		e := &AgentResponse{}
		err = json.Unmarshal(data, e)
		ev = e
	case TypeAgentError:
		e := &AgentError{}
		err = json.Unmarshal(data, e)
		ev = e
	case TypeError:
		e := &ServerError{}
		err = json.Unmarshal(data, e)
		ev = e
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, probe.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing %s event: %w", probe.Type, err)
	}
	return ev, nil
}

// EncodeServerEvent serializes an event with its type discriminant stamped in.
// Used by the dev harness; the client only decodes.
func EncodeServerEvent(ev ServerEvent) ([]byte, error) {
	var typ string
	switch ev.(type) {
	case *Connected:
		typ = TypeConnected
	case *SessionReady:
		typ = TypeSessionReady
	case *AgentEvent:
		typ = TypeAgentEvent
	case *AgentResponse:
		typ = TypeAgentResponse
	case *AgentError:
		typ = TypeAgentError
	case *ServerError:
		typ = TypeError
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownEventType, ev)
	}

	body, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	var fields map[string]any
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	fields["type"] = typ
	return json.Marshal(fields)
}
