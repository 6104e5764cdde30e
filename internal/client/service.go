// ABOUTME: Public façade composing transport, session registry, and attachment staging.
// ABOUTME: Exposes connect, send, upload, and remove-attachment to the presentation layer.

package client

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/valua-s/alfa-future/internal/attachment"
	"github.com/valua-s/alfa-future/internal/conversation"
	"github.com/valua-s/alfa-future/internal/protocol"
	"github.com/valua-s/alfa-future/internal/transport"
)

// SendPolicy names the guard applied to empty message text. The core store
// rejected empty trimmed text unconditionally while the chat form allowed a
// send with staged attachments only; the two disagree, so the choice is an
// explicit policy pending product clarification.
type SendPolicy int

const (
	// RequireText drops a send whose trimmed text is empty, regardless of
	// staged attachments. This is the default.
	RequireText SendPolicy = iota
	// AllowAttachmentOnly permits an empty-text send when at least one
	// attachment is staged.
	AllowAttachmentOnly
)

// Transport is the connection surface the façade depends on.
type Transport interface {
	Connect(token string)
	Disconnect()
	Send(msg protocol.UserMessage) error
	OnStatus(fn func(transport.Status)) func()
	OnMessage(fn func(protocol.ServerEvent)) func()
	Status() transport.Status
}

// Uploader is the attachment side channel the façade depends on.
type Uploader interface {
	Upload(ctx context.Context, token string, files []attachment.File) ([]protocol.AttachmentReference, error)
}

// Options tune the façade.
type Options struct {
	Policy SendPolicy
	Logger *slog.Logger
}

// Service wires the transport, the session registry, and attachment staging
// into the four operations the presentation layer calls. All instances are
// independent; nothing is process-global.
type Service struct {
	mu    sync.Mutex
	token string

	transport Transport
	registry  *conversation.Registry
	staging   *attachment.Staging
	uploader  Uploader
	policy    SendPolicy
	logger    *slog.Logger
	unsub     func()
}

// New composes a Service. The registry is subscribed to the transport's
// message stream before any caller can, so state mutations always precede
// downstream notifications.
func New(t Transport, registry *conversation.Registry, staging *attachment.Staging, uploader Uploader, opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	s := &Service{
		transport: t,
		registry:  registry,
		staging:   staging,
		uploader:  uploader,
		policy:    opts.Policy,
		logger:    opts.Logger.With("component", "client"),
	}
	s.unsub = t.OnMessage(registry.HandleEvent)
	return s
}

// Connect stores the bearer token and opens the realtime connection.
func (s *Service) Connect(token string) {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
	s.transport.Connect(token)
}

// Disconnect closes the connection and stops automatic reconnection.
func (s *Service) Disconnect() {
	s.transport.Disconnect()
}

// Close unsubscribes from the transport and disconnects.
func (s *Service) Close() {
	if s.unsub != nil {
		s.unsub()
	}
	s.transport.Disconnect()
}

// SendMessage trims the text and, unless the active SendPolicy rejects it,
// appends a user message carrying the persona's staged attachments, clears
// the staging, and hands the envelope to the transport. The envelope is
// queued automatically while disconnected.
func (s *Service) SendMessage(p conversation.Persona, text string) error {
	if !p.Valid() {
		return nil
	}
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		if s.policy == RequireText || len(s.staging.List(p)) == 0 {
			return nil
		}
	}

	attachments := s.staging.Take(p)
	sessionID, correlationID := s.registry.AppendUserMessage(p, trimmed, attachments)

	envelope := protocol.NewUserMessage(string(p), trimmed, sessionID, attachments)
	envelope.CorrelationID = correlationID
	return s.transport.Send(envelope)
}

// UploadFiles posts the files to the upload endpoint and merges the returned
// references into the persona's staging. Without a token or files the call is
// a no-op. A failed upload leaves the staging unchanged.
func (s *Service) UploadFiles(ctx context.Context, p conversation.Persona, files []attachment.File) error {
	if !p.Valid() || len(files) == 0 {
		return nil
	}
	s.mu.Lock()
	token := s.token
	s.mu.Unlock()
	if token == "" {
		return nil
	}

	refs, err := s.uploader.Upload(ctx, token, files)
	if err != nil {
		return err
	}
	s.staging.Add(p, refs...)
	return nil
}

// RemoveAttachment drops one staged reference for the persona.
func (s *Service) RemoveAttachment(p conversation.Persona, id string) {
	s.staging.Remove(p, id)
}

// PendingAttachments returns the persona's staged references.
func (s *Service) PendingAttachments(p conversation.Persona) []protocol.AttachmentReference {
	return s.staging.List(p)
}

// Session returns a read-side copy of one persona's conversation.
func (s *Service) Session(p conversation.Persona) conversation.SessionSnapshot {
	return s.registry.Session(p)
}

// SetFocus marks the conversation the UI is showing; session-less server
// errors are routed there.
func (s *Service) SetFocus(p conversation.Persona) {
	s.registry.SetFocus(p)
}

// Focus returns the currently focused persona, if any.
func (s *Service) Focus() (conversation.Persona, bool) {
	return s.registry.Focus()
}

// UserID returns the authenticated user id once known.
func (s *Service) UserID() (int64, bool) {
	return s.registry.UserID()
}

// ConnectionStatus reports the transport's current status.
func (s *Service) ConnectionStatus() transport.Status {
	return s.transport.Status()
}

// OnStatusChange subscribes to connection status transitions.
func (s *Service) OnStatusChange(fn func(transport.Status)) func() {
	return s.transport.OnStatus(fn)
}

// OnServerEvent subscribes to inbound events after the registry has applied
// them, so handlers observe the updated conversation state.
func (s *Service) OnServerEvent(fn func(protocol.ServerEvent)) func() {
	return s.transport.OnMessage(fn)
}
