// ABOUTME: Session registry and event router for the multiplexed agent stream.
// ABOUTME: Resolves anonymous session_ready acks to personas via correlation ids with FIFO fallback.

package conversation

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/valua-s/alfa-future/internal/protocol"
)

// Stats count silently discarded events. Drops never surface to the user but
// must be observable for operability.
type Stats struct {
	UnroutableEvents    uint64
	DroppedSessionReady uint64
}

// pendingEntry is one persona awaiting a session_ready ack for its first
// message. The correlation id disambiguates when the server echoes it.
type pendingEntry struct {
	persona     Persona
	correlation string
}

// Registry owns one conversation per persona and turns the single inbound
// event stream into per-persona state transitions.
//
// Session-to-persona resolution: session_ready carries a session id but not
// the requesting persona. Resolution prefers a correlation-id echo, then an
// existing binding, then pops the head of the pending FIFO queue. The FIFO
// fallback is sound only while the server acks first messages in the order
// they were sent.
type Registry struct {
	mu sync.Mutex

	sessions     map[Persona]*session
	sessionAgent map[int64]Persona // write-once: a session id never rebinds
	pending      []pendingEntry
	focused      Persona // routes session-less error events; empty when none
	userID       *int64

	stats  Stats
	logger *slog.Logger

	newID func() string
	now   func() time.Time
}

// NewRegistry creates a registry with an empty conversation per persona.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		sessions:     make(map[Persona]*session, len(Personas())),
		sessionAgent: make(map[int64]Persona),
		logger:       logger.With("component", "conversation"),
		newID:        func() string { return uuid.New().String() },
		now:          time.Now,
	}
	for _, p := range Personas() {
		r.sessions[p] = newSession()
	}
	return r
}

// AppendUserMessage records an outgoing user message for the persona: the
// message is appended carrying the staged attachments and the known session
// id, status moves to pending, and the last error is cleared. When no session
// exists yet the persona joins the pending FIFO queue and a correlation id is
// generated for the envelope.
func (r *Registry) AppendUserMessage(p Persona, text string, attachments []protocol.AttachmentReference) (sessionID *int64, correlationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.sessions[p]
	msg := Message{
		ID:          r.newID(),
		Role:        RoleUser,
		Text:        text,
		At:          r.now(),
		Attachments: attachments,
		SessionID:   s.sessionID,
	}
	s.messages = append(s.messages, msg)
	s.status = SessionPending
	s.lastError = ""

	if s.sessionID != nil {
		id := *s.sessionID
		return &id, ""
	}

	correlationID = r.newID()
	r.pending = append(r.pending, pendingEntry{persona: p, correlation: correlationID})
	return nil, correlationID
}

// HandleEvent applies one inbound server event to the owning conversation.
// Events referencing an unknown session are counted and dropped.
func (r *Registry) HandleEvent(ev protocol.ServerEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch e := ev.(type) {
	case *protocol.Connected:
		id := e.UserID
		r.userID = &id

	case *protocol.SessionReady:
		r.handleSessionReadyLocked(e)

	case *protocol.AgentEvent:
		p, ok := r.sessionAgent[e.SessionID]
		if !ok {
			r.dropLocked("agent_event", e.SessionID)
			return
		}
		s := r.sessions[p]
		s.events.Append(EventRecord{
			ID:        r.newID(),
			SessionID: e.SessionID,
			At:        r.now(),
			Payload:   e.Event,
		})
		s.status = SessionStreaming

	case *protocol.AgentResponse:
		p, ok := r.sessionAgent[e.SessionID]
		if !ok {
			r.dropLocked("agent_response", e.SessionID)
			return
		}
		s := r.sessions[p]
		id := e.SessionID
		s.messages = append(s.messages, Message{
			ID:        r.newID(),
			Role:      RoleAgent,
			Text:      e.Answer,
			At:        r.now(),
			SessionID: &id,
		})
		s.plan = e.Plan
		s.toolResults = e.ToolResults
		s.llmStats = e.LLMStats
		s.backendStats = e.LLMBackend
		s.status = SessionIdle

	case *protocol.AgentError:
		p, ok := r.sessionAgent[e.SessionID]
		if !ok {
			r.dropLocked("agent_error", e.SessionID)
			return
		}
		s := r.sessions[p]
		s.status = SessionError
		s.lastError = e.Message

	case *protocol.ServerError:
		if r.focused == "" {
			r.stats.UnroutableEvents++
			r.logger.Warn("server error with no focused conversation, dropping",
				"message", e.Message)
			return
		}
		s := r.sessions[r.focused]
		s.status = SessionError
		s.lastError = e.Message
	}
}

func (r *Registry) handleSessionReadyLocked(e *protocol.SessionReady) {
	p, ok := r.resolveLocked(e)
	if !ok {
		r.stats.DroppedSessionReady++
		r.logger.Warn("session_ready with no pending persona, dropping",
			"session_id", e.SessionID)
		return
	}

	if _, bound := r.sessionAgent[e.SessionID]; !bound {
		r.sessionAgent[e.SessionID] = p
	}

	s := r.sessions[p]
	id := e.SessionID
	s.sessionID = &id

	// Backfill the most recent user message with the confirmed session id
	// and the server-confirmed attachment list.
	if n := len(s.messages); n > 0 && s.messages[n-1].Role == RoleUser {
		s.messages[n-1].SessionID = &id
		s.messages[n-1].Attachments = e.Attachments
	}
	s.status = SessionStreaming
}

// resolveLocked maps a session_ready ack to its persona: correlation echo
// first, then an existing binding, then the FIFO head.
func (r *Registry) resolveLocked(e *protocol.SessionReady) (Persona, bool) {
	if e.CorrelationID != "" {
		for i, entry := range r.pending {
			if entry.correlation == e.CorrelationID {
				r.pending = append(r.pending[:i], r.pending[i+1:]...)
				return entry.persona, true
			}
		}
	}
	if p, ok := r.sessionAgent[e.SessionID]; ok {
		return p, true
	}
	if len(r.pending) == 0 {
		return "", false
	}
	head := r.pending[0]
	r.pending = r.pending[1:]
	return head.persona, true
}

func (r *Registry) dropLocked(eventType string, sessionID int64) {
	r.stats.UnroutableEvents++
	r.logger.Warn("event for unknown session, dropping",
		"event_type", eventType,
		"session_id", sessionID)
}

// SetFocus marks the persona whose conversation the UI is showing. Session-
// less error events are routed there. An empty persona clears the focus; an
// unknown persona is ignored so focus never names a session that does not
// exist.
func (r *Registry) SetFocus(p Persona) {
	if p != "" && !p.Valid() {
		r.logger.Warn("ignoring focus on unknown persona", "persona", string(p))
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.focused = p
}

// Focus returns the currently focused persona, if any.
func (r *Registry) Focus() (Persona, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.focused, r.focused != ""
}

// Session returns a read-side copy of one persona's conversation.
func (r *Registry) Session(p Persona) SessionSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[p].snapshot()
}

// UserID returns the authenticated user id once the connected event arrived.
func (r *Registry) UserID() (int64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.userID == nil {
		return 0, false
	}
	return *r.userID, true
}

// PendingCount reports how many first messages still await a session ack.
func (r *Registry) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Stats returns a snapshot of the drop counters.
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}
