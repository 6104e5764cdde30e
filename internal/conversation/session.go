// ABOUTME: Per-persona conversation state: messages, event ring, plan, and status.
// ABOUTME: State lives for the process lifetime and is reset only by restart.

package conversation

import (
	"time"

	"github.com/valua-s/alfa-future/internal/protocol"
)

// defaultEventCap bounds the recent-events view per session.
const defaultEventCap = 100

// Role attributes a message to its author.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// SessionStatus tracks where a persona's conversation is in its request cycle.
type SessionStatus string

const (
	SessionIdle      SessionStatus = "idle"
	SessionPending   SessionStatus = "pending"
	SessionStreaming SessionStatus = "streaming"
	SessionError     SessionStatus = "error"
)

// Message is one conversation entry. Appended, never mutated after creation,
// except that the most recent user message is backfilled with the confirmed
// session id and attachment list once session_ready arrives.
type Message struct {
	ID          string
	Role        Role
	Text        string
	At          time.Time
	Attachments []protocol.AttachmentReference
	SessionID   *int64
}

// EventRecord is one entry of the bounded recent-events view.
type EventRecord struct {
	ID        string
	SessionID int64
	At        time.Time
	Payload   map[string]any
}

// session is the mutable per-persona state owned by the Registry.
type session struct {
	sessionID    *int64
	messages     []Message
	events       *EventRing
	status       SessionStatus
	plan         []any
	toolResults  []any
	llmStats     map[string]any
	backendStats map[string]any
	lastError    string
}

func newSession() *session {
	return &session{
		events: NewEventRing(defaultEventCap),
		status: SessionIdle,
	}
}

// SessionSnapshot is a read-side copy of one persona's conversation, handed
// to the presentation layer.
type SessionSnapshot struct {
	SessionID    *int64
	Messages     []Message
	Events       []EventRecord
	Status       SessionStatus
	Plan         []any
	ToolResults  []any
	LLMStats     map[string]any
	BackendStats map[string]any
	LastError    string
}

func (s *session) snapshot() SessionSnapshot {
	snap := SessionSnapshot{
		Status:       s.status,
		Events:       s.events.Snapshot(),
		LastError:    s.lastError,
		LLMStats:     s.llmStats,
		BackendStats: s.backendStats,
	}
	if s.sessionID != nil {
		id := *s.sessionID
		snap.SessionID = &id
	}
	snap.Messages = make([]Message, len(s.messages))
	copy(snap.Messages, s.messages)
	snap.Plan = append([]any(nil), s.plan...)
	snap.ToolResults = append([]any(nil), s.toolResults...)
	return snap
}
