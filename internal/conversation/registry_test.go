// ABOUTME: Tests for session-to-persona resolution and event routing.
// ABOUTME: Covers FIFO fallback, correlation echo, backfill, and drop counters.

package conversation

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/valua-s/alfa-future/internal/protocol"
)

func TestRegistry_AppendUserMessage_FirstMessageJoinsQueue(t *testing.T) {
	r := NewRegistry(nil)

	sessionID, corr := r.AppendUserMessage(Financier, "Проверь баланс", nil)

	assert.Nil(t, sessionID)
	assert.NotEmpty(t, corr)
	assert.Equal(t, 1, r.PendingCount())

	snap := r.Session(Financier)
	assert.Equal(t, SessionPending, snap.Status)
	require.Len(t, snap.Messages, 1)
	assert.Equal(t, RoleUser, snap.Messages[0].Role)
	assert.Nil(t, snap.Messages[0].SessionID)
}

func TestRegistry_AppendUserMessage_EstablishedSessionSkipsQueue(t *testing.T) {
	r := NewRegistry(nil)
	bindSession(t, r, Financier, 42)

	sessionID, corr := r.AppendUserMessage(Financier, "ещё раз", nil)

	require.NotNil(t, sessionID)
	assert.Equal(t, int64(42), *sessionID)
	assert.Empty(t, corr)
	assert.Equal(t, 0, r.PendingCount())
}

func TestRegistry_FIFOResolution_BindsInSendOrder(t *testing.T) {
	r := NewRegistry(nil)

	r.AppendUserMessage(Financier, "первый", nil)
	r.AppendUserMessage(Lawyer, "второй", nil)

	// Numeric order of session ids is deliberately inverted: only arrival
	// order of the acks matters.
	r.HandleEvent(&protocol.SessionReady{SessionID: 99})
	r.HandleEvent(&protocol.SessionReady{SessionID: 7})

	fin := r.Session(Financier)
	law := r.Session(Lawyer)
	require.NotNil(t, fin.SessionID)
	require.NotNil(t, law.SessionID)
	assert.Equal(t, int64(99), *fin.SessionID)
	assert.Equal(t, int64(7), *law.SessionID)
	assert.Equal(t, 0, r.PendingCount())
}

func TestRegistry_CorrelationEchoBeatsFIFOOrder(t *testing.T) {
	r := NewRegistry(nil)

	_, corrFin := r.AppendUserMessage(Financier, "первый", nil)
	_, corrLaw := r.AppendUserMessage(Lawyer, "второй", nil)

	// Server acks out of request order but echoes correlation ids.
	r.HandleEvent(&protocol.SessionReady{SessionID: 7, CorrelationID: corrLaw})
	r.HandleEvent(&protocol.SessionReady{SessionID: 99, CorrelationID: corrFin})

	law := r.Session(Lawyer)
	fin := r.Session(Financier)
	require.NotNil(t, law.SessionID)
	require.NotNil(t, fin.SessionID)
	assert.Equal(t, int64(7), *law.SessionID)
	assert.Equal(t, int64(99), *fin.SessionID)
}

func TestRegistry_SessionReady_BackfillsLastUserMessage(t *testing.T) {
	r := NewRegistry(nil)
	atts := []protocol.AttachmentReference{{ID: "a1", Filename: "balance.xlsx"}}

	r.AppendUserMessage(Financier, "Проверь баланс", nil)
	r.HandleEvent(&protocol.SessionReady{SessionID: 42, Attachments: atts})

	snap := r.Session(Financier)
	assert.Equal(t, SessionStreaming, snap.Status)
	require.Len(t, snap.Messages, 1)
	require.NotNil(t, snap.Messages[0].SessionID)
	assert.Equal(t, int64(42), *snap.Messages[0].SessionID)
	assert.Equal(t, atts, snap.Messages[0].Attachments)
}

func TestRegistry_SessionReady_EmptyQueueDropped(t *testing.T) {
	r := NewRegistry(nil)

	r.HandleEvent(&protocol.SessionReady{SessionID: 42})

	for _, p := range Personas() {
		assert.Nil(t, r.Session(p).SessionID)
	}
	assert.Equal(t, uint64(1), r.Stats().DroppedSessionReady)
}

func TestRegistry_SessionBindingIsWriteOnce(t *testing.T) {
	r := NewRegistry(nil)

	r.AppendUserMessage(Financier, "первый", nil)
	r.HandleEvent(&protocol.SessionReady{SessionID: 42})

	// A second ack for the same session id must not rebind it, even with
	// another persona waiting in the queue.
	r.AppendUserMessage(Lawyer, "второй", nil)
	r.HandleEvent(&protocol.SessionReady{SessionID: 42})
	r.HandleEvent(&protocol.AgentResponse{SessionID: 42, Answer: "готово"})

	fin := r.Session(Financier)
	law := r.Session(Lawyer)
	require.Len(t, fin.Messages, 2)
	assert.Equal(t, "готово", fin.Messages[1].Text)
	for _, msg := range law.Messages {
		assert.NotEqual(t, RoleAgent, msg.Role)
	}
}

func TestRegistry_AgentEvent_RingKeepsLast100(t *testing.T) {
	r := NewRegistry(nil)
	bindSession(t, r, Financier, 42)

	for i := 0; i < 150; i++ {
		r.HandleEvent(&protocol.AgentEvent{
			SessionID: 42,
			Event:     map[string]any{"step": fmt.Sprintf("s%d", i)},
		})
	}

	snap := r.Session(Financier)
	require.Len(t, snap.Events, 100)
	assert.Equal(t, "s50", snap.Events[0].Payload["step"])
	assert.Equal(t, "s149", snap.Events[99].Payload["step"])
	assert.Equal(t, SessionStreaming, snap.Status)
}

func TestRegistry_AgentEvent_UnknownSessionDropped(t *testing.T) {
	r := NewRegistry(nil)

	r.HandleEvent(&protocol.AgentEvent{SessionID: 1, Event: map[string]any{}})
	r.HandleEvent(&protocol.AgentResponse{SessionID: 2, Answer: "x"})
	r.HandleEvent(&protocol.AgentError{SessionID: 3, Message: "y"})

	assert.Equal(t, uint64(3), r.Stats().UnroutableEvents)
	for _, p := range Personas() {
		assert.Equal(t, SessionIdle, r.Session(p).Status)
	}
}

func TestRegistry_AgentResponse_AppendsAnswerAndGoesIdle(t *testing.T) {
	r := NewRegistry(nil)
	bindSession(t, r, Financier, 42)

	r.HandleEvent(&protocol.AgentResponse{
		SessionID:   42,
		Answer:      "Баланс 5000 ₽",
		Plan:        []any{map[string]any{"step": float64(1)}},
		ToolResults: []any{"ok"},
		LLMStats:    map[string]any{"tokens": float64(12)},
		LLMBackend:  map[string]any{"name": "main"},
	})

	snap := r.Session(Financier)
	assert.Equal(t, SessionIdle, snap.Status)
	require.Len(t, snap.Messages, 2)
	last := snap.Messages[1]
	assert.Equal(t, RoleAgent, last.Role)
	assert.Equal(t, "Баланс 5000 ₽", last.Text)
	require.NotNil(t, last.SessionID)
	assert.Equal(t, int64(42), *last.SessionID)
	assert.Len(t, snap.Plan, 1)
	assert.Equal(t, []any{"ok"}, snap.ToolResults)
	assert.Equal(t, float64(12), snap.LLMStats["tokens"])
}

func TestRegistry_AgentError_SetsErrorWithoutTearingDown(t *testing.T) {
	r := NewRegistry(nil)
	bindSession(t, r, Lawyer, 8)

	r.HandleEvent(&protocol.AgentError{SessionID: 8, Message: "инструмент недоступен"})

	snap := r.Session(Lawyer)
	assert.Equal(t, SessionError, snap.Status)
	assert.Equal(t, "инструмент недоступен", snap.LastError)
	require.NotNil(t, snap.SessionID, "session survives an agent error")

	// A later send clears the error.
	r.AppendUserMessage(Lawyer, "повтори", nil)
	snap = r.Session(Lawyer)
	assert.Equal(t, SessionPending, snap.Status)
	assert.Empty(t, snap.LastError)
}

func TestRegistry_ServerError_RoutesToFocusedPersona(t *testing.T) {
	r := NewRegistry(nil)

	// Without focus the event has nowhere to go; the drop is counted.
	r.HandleEvent(&protocol.ServerError{Message: "внутренняя ошибка"})
	for _, p := range Personas() {
		assert.Empty(t, r.Session(p).LastError)
	}
	assert.Equal(t, uint64(1), r.Stats().UnroutableEvents)

	r.SetFocus(Marketer)
	r.HandleEvent(&protocol.ServerError{Message: "внутренняя ошибка"})

	snap := r.Session(Marketer)
	assert.Equal(t, SessionError, snap.Status)
	assert.Equal(t, "внутренняя ошибка", snap.LastError)
}

func TestRegistry_SetFocus_IgnoresUnknownPersona(t *testing.T) {
	r := NewRegistry(nil)
	r.SetFocus(Marketer)

	r.SetFocus(Persona("ghost"))

	// The bogus focus must neither stick nor crash error routing.
	require.NotPanics(t, func() {
		r.HandleEvent(&protocol.ServerError{Message: "внутренняя ошибка"})
	})
	focused, ok := r.Focus()
	require.True(t, ok)
	assert.Equal(t, Marketer, focused)
	assert.Equal(t, "внутренняя ошибка", r.Session(Marketer).LastError)
}

func TestRegistry_SetFocus_EmptyClearsFocus(t *testing.T) {
	r := NewRegistry(nil)
	r.SetFocus(Marketer)

	r.SetFocus("")

	_, ok := r.Focus()
	assert.False(t, ok)
}

func TestRegistry_ConnectedRecordsUserID(t *testing.T) {
	r := NewRegistry(nil)

	_, ok := r.UserID()
	assert.False(t, ok)

	r.HandleEvent(&protocol.Connected{UserID: 314})

	id, ok := r.UserID()
	require.True(t, ok)
	assert.Equal(t, int64(314), id)
}

// bindSession walks a persona through first message and ack so later events
// can be routed by session id.
func bindSession(t *testing.T, r *Registry, p Persona, sessionID int64) {
	t.Helper()
	r.AppendUserMessage(p, "старт", nil)
	r.HandleEvent(&protocol.SessionReady{SessionID: sessionID})
	require.NotNil(t, r.Session(p).SessionID)
}
