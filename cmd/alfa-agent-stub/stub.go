// ABOUTME: Scripted agent backend: accepts websocket sessions and echoes answers.
// ABOUTME: Emits session_ready with correlation echo, progress events, then a response.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/valua-s/alfa-future/internal/auth"
	"github.com/valua-s/alfa-future/internal/config"
	"github.com/valua-s/alfa-future/internal/protocol"
)

// stub is the scripted backend shared by all connections.
type stub struct {
	verifier *auth.JWTVerifier
	logger   *slog.Logger

	mu            sync.Mutex
	nextSessionID int64
	nextMessageID int64
}

func newStub(cfg *config.Config, logger *slog.Logger) *stub {
	return &stub{
		verifier:      auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret)),
		logger:        logger.With("component", "stub"),
		nextSessionID: 1,
		nextMessageID: 1,
	}
}

func (s *stub) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/api/agent/ws", s.handleWS)
	r.Post("/api/agent/upload", s.handleUpload)
	return r
}

func (s *stub) handleWS(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	userID, err := s.verifier.Verify(token)
	if err != nil {
		s.logger.Warn("rejecting websocket", "error", err, "ip", r.RemoteAddr)
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Error("failed to accept websocket", "error", err)
		return
	}
	defer ws.Close(websocket.StatusNormalClosure, "session ended")

	s.logger.Info("websocket connected", "user_id", userID, "ip", r.RemoteAddr)

	ctx := r.Context()
	if err := s.writeEvent(ctx, ws, &protocol.Connected{UserID: userID}); err != nil {
		return
	}

	// One session per persona, assigned on its first message.
	sessions := make(map[string]int64)

	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				s.logger.Debug("websocket closed by client", "user_id", userID)
			} else {
				s.logger.Warn("websocket read error", "error", err, "user_id", userID)
			}
			return
		}

		msg, err := protocol.DecodeUserMessage(data)
		if err != nil || msg.Type != protocol.TypeUserMessage {
			if werr := s.writeEvent(ctx, ws, &protocol.ServerError{Message: "unsupported message"}); werr != nil {
				return
			}
			continue
		}

		if err := s.answer(ctx, ws, sessions, msg); err != nil {
			s.logger.Warn("answer failed", "error", err, "user_id", userID)
			return
		}
	}
}

// answer runs the fixed script for one user message: session_ready for a
// first message, a couple of progress events, then an echo response.
func (s *stub) answer(ctx context.Context, ws *websocket.Conn, sessions map[string]int64, msg protocol.UserMessage) error {
	sessionID, known := sessions[msg.Agent]
	if msg.SessionID != nil {
		sessionID = *msg.SessionID
		known = true
	}
	if !known {
		sessionID = s.allocateSession()
		sessions[msg.Agent] = sessionID
	}

	if msg.SessionID == nil {
		ready := &protocol.SessionReady{
			SessionID:     sessionID,
			UserMessageID: s.allocateMessage(),
			Attachments:   msg.Files,
			CorrelationID: msg.CorrelationID,
		}
		if err := s.writeEvent(ctx, ws, ready); err != nil {
			return err
		}
	}

	steps := []string{"analyze_request", "call_tools"}
	for i, step := range steps {
		ev := &protocol.AgentEvent{
			SessionID: sessionID,
			Event: map[string]any{
				"step":   i + 1,
				"action": step,
				"agent":  msg.Agent,
			},
		}
		if err := s.writeEvent(ctx, ws, ev); err != nil {
			return err
		}
		time.Sleep(150 * time.Millisecond)
	}

	resp := &protocol.AgentResponse{
		SessionID: sessionID,
		Answer:    fmt.Sprintf("[%s] Принято: %s", msg.Agent, msg.Text),
		Plan: []any{
			map[string]any{"step": 1, "action": "Разобрать запрос", "tool": "router"},
			map[string]any{"step": 2, "action": "Подготовить ответ", "tool": "echo"},
		},
		ToolResults:    []any{},
		Events:         []any{},
		LLMStats:       map[string]any{"latency_ms": 300, "tokens": len(msg.Text)},
		LLMBackend:     map[string]any{"name": "stub"},
		AgentMessageID: s.allocateMessage(),
	}
	return s.writeEvent(ctx, ws, resp)
}

func (s *stub) writeEvent(ctx context.Context, ws *websocket.Conn, ev protocol.ServerEvent) error {
	data, err := protocol.EncodeServerEvent(ev)
	if err != nil {
		return err
	}
	return ws.Write(ctx, websocket.MessageText, data)
}

func (s *stub) allocateSession() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSessionID
	s.nextSessionID++
	return id
}

func (s *stub) allocateMessage() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextMessageID
	s.nextMessageID++
	return id
}

// handleUpload accepts multipart files and returns attachment references.
// Nothing is written to disk; references point at a virtual uploads/ prefix.
func (s *stub) handleUpload(w http.ResponseWriter, r *http.Request) {
	header := r.Header.Get("Authentication")
	token, ok := cutBearer(header)
	if !ok {
		http.Error(w, "missing bearer token", http.StatusUnauthorized)
		return
	}
	if _, err := s.verifier.Verify(token); err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, "bad multipart body", http.StatusBadRequest)
		return
	}

	refs := make([]protocol.AttachmentReference, 0)
	for _, fh := range r.MultipartForm.File["files"] {
		id := uuid.New().String()
		refs = append(refs, protocol.AttachmentReference{
			ID:        id,
			Path:      "uploads/" + id,
			Filename:  fh.Filename,
			MimeType:  fh.Header.Get("Content-Type"),
			SizeBytes: fh.Size,
		})
	}

	s.logger.Info("upload accepted", "files", len(refs))

	w.Header().Set("Content-Type", "application/json")
	if err := writeJSON(w, map[string]any{"files": refs}); err != nil {
		s.logger.Warn("writing upload response", "error", err)
	}
}

func cutBearer(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
		return "", false
	}
	return header[len(prefix):], true
}
