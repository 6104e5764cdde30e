// ABOUTME: Tests for the façade: end-to-end scenarios over a fake transport.
// ABOUTME: Covers the financier round trip, attachment lifecycle, and send policies.

package client

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/valua-s/alfa-future/internal/attachment"
	"github.com/valua-s/alfa-future/internal/conversation"
	"github.com/valua-s/alfa-future/internal/protocol"
	"github.com/valua-s/alfa-future/internal/transport"
)

// fakeTransport records outbound envelopes and lets tests push server events
// through the subscribed handlers, mimicking the synchronous delivery of the
// real client.
type fakeTransport struct {
	status    transport.Status
	sent      []protocol.UserMessage
	sendErr   error
	statusFns []func(transport.Status)
	msgFns    []func(protocol.ServerEvent)
	token     string
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{status: transport.StatusIdle}
}

func (f *fakeTransport) Connect(token string) {
	f.token = token
	f.setStatus(transport.StatusOpen)
}

func (f *fakeTransport) Disconnect() { f.setStatus(transport.StatusClosed) }

func (f *fakeTransport) Send(msg protocol.UserMessage) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeTransport) OnStatus(fn func(transport.Status)) func() {
	f.statusFns = append(f.statusFns, fn)
	return func() {}
}

func (f *fakeTransport) OnMessage(fn func(protocol.ServerEvent)) func() {
	f.msgFns = append(f.msgFns, fn)
	return func() {}
}

func (f *fakeTransport) Status() transport.Status { return f.status }

func (f *fakeTransport) setStatus(s transport.Status) {
	f.status = s
	for _, fn := range f.statusFns {
		fn(s)
	}
}

func (f *fakeTransport) deliver(ev protocol.ServerEvent) {
	for _, fn := range f.msgFns {
		fn(ev)
	}
}

// fakeUploader returns scripted references or an error.
type fakeUploader struct {
	refs []protocol.AttachmentReference
	err  error
}

func (f *fakeUploader) Upload(_ context.Context, _ string, _ []attachment.File) ([]protocol.AttachmentReference, error) {
	return f.refs, f.err
}

func newService(t *testing.T, ft *fakeTransport, up Uploader, opts Options) *Service {
	t.Helper()
	if up == nil {
		up = &fakeUploader{}
	}
	return New(ft, conversation.NewRegistry(nil), attachment.NewStaging(), up, opts)
}

func TestService_FinancierEndToEnd(t *testing.T) {
	ft := newFakeTransport()
	svc := newService(t, ft, nil, Options{})
	svc.Connect("tok")

	require.NoError(t, svc.SendMessage(conversation.Financier, "Проверь баланс"))

	snap := svc.Session(conversation.Financier)
	assert.Equal(t, conversation.SessionPending, snap.Status)
	require.Len(t, snap.Messages, 1)
	assert.Equal(t, "Проверь баланс", snap.Messages[0].Text)
	assert.Empty(t, snap.Messages[0].Attachments)

	require.Len(t, ft.sent, 1)
	assert.Equal(t, "financier", ft.sent[0].Agent)
	assert.Nil(t, ft.sent[0].SessionID)
	assert.NotEmpty(t, ft.sent[0].CorrelationID, "first message carries a correlation id")

	ft.deliver(&protocol.SessionReady{SessionID: 42, Attachments: []protocol.AttachmentReference{}})

	snap = svc.Session(conversation.Financier)
	assert.Equal(t, conversation.SessionStreaming, snap.Status)
	require.NotNil(t, snap.Messages[0].SessionID)
	assert.Equal(t, int64(42), *snap.Messages[0].SessionID)

	ft.deliver(&protocol.AgentResponse{SessionID: 42, Answer: "Баланс 5000 ₽"})

	snap = svc.Session(conversation.Financier)
	assert.Equal(t, conversation.SessionIdle, snap.Status)
	require.Len(t, snap.Messages, 2)
	assert.Equal(t, conversation.RoleAgent, snap.Messages[1].Role)
	assert.Equal(t, "Баланс 5000 ₽", snap.Messages[1].Text)
}

func TestService_SecondMessageCarriesSessionID(t *testing.T) {
	ft := newFakeTransport()
	svc := newService(t, ft, nil, Options{})
	svc.Connect("tok")

	require.NoError(t, svc.SendMessage(conversation.Financier, "Проверь баланс"))
	ft.deliver(&protocol.SessionReady{SessionID: 42})
	ft.deliver(&protocol.AgentResponse{SessionID: 42, Answer: "готово"})

	require.NoError(t, svc.SendMessage(conversation.Financier, "и прогноз"))

	require.Len(t, ft.sent, 2)
	second := ft.sent[1]
	require.NotNil(t, second.SessionID)
	assert.Equal(t, int64(42), *second.SessionID)
	assert.Empty(t, second.CorrelationID, "established session needs no correlation id")
}

func TestService_AttachmentLifecycle(t *testing.T) {
	ft := newFakeTransport()
	up := &fakeUploader{refs: []protocol.AttachmentReference{
		{ID: "f1", Filename: "dogovor.docx"},
		{ID: "f2", Filename: "act.pdf"},
	}}
	svc := newService(t, ft, up, Options{})
	svc.Connect("tok")

	err := svc.UploadFiles(context.Background(), conversation.Lawyer, []attachment.File{
		{Name: "dogovor.docx", Reader: strings.NewReader("a")},
		{Name: "act.pdf", Reader: strings.NewReader("b")},
	})
	require.NoError(t, err)
	assert.Len(t, svc.PendingAttachments(conversation.Lawyer), 2)

	require.NoError(t, svc.SendMessage(conversation.Lawyer, "проверь договор"))

	require.Len(t, ft.sent, 1)
	require.Len(t, ft.sent[0].Files, 2)
	assert.Equal(t, "f1", ft.sent[0].Files[0].ID)
	assert.Equal(t, "f2", ft.sent[0].Files[1].ID)
	assert.Empty(t, svc.PendingAttachments(conversation.Lawyer), "staging cleared after send")
}

func TestService_RemoveAttachment(t *testing.T) {
	ft := newFakeTransport()
	up := &fakeUploader{refs: []protocol.AttachmentReference{{ID: "f1"}, {ID: "f2"}}}
	svc := newService(t, ft, up, Options{})
	svc.Connect("tok")

	require.NoError(t, svc.UploadFiles(context.Background(), conversation.Lawyer, []attachment.File{
		{Name: "x", Reader: strings.NewReader("x")},
	}))
	svc.RemoveAttachment(conversation.Lawyer, "f1")

	pending := svc.PendingAttachments(conversation.Lawyer)
	require.Len(t, pending, 1)
	assert.Equal(t, "f2", pending[0].ID)
}

func TestService_UploadFailureLeavesStagingUnchanged(t *testing.T) {
	ft := newFakeTransport()
	up := &fakeUploader{err: attachment.ErrUploadFailed}
	svc := newService(t, ft, up, Options{})
	svc.Connect("tok")

	err := svc.UploadFiles(context.Background(), conversation.Lawyer, []attachment.File{
		{Name: "x", Reader: strings.NewReader("x")},
	})
	assert.ErrorIs(t, err, attachment.ErrUploadFailed)
	assert.Empty(t, svc.PendingAttachments(conversation.Lawyer))
}

func TestService_UploadWithoutTokenIsNoOp(t *testing.T) {
	ft := newFakeTransport()
	up := &fakeUploader{err: errors.New("should not be called")}
	svc := newService(t, ft, up, Options{})

	err := svc.UploadFiles(context.Background(), conversation.Lawyer, []attachment.File{
		{Name: "x", Reader: strings.NewReader("x")},
	})
	assert.NoError(t, err)
}

func TestService_EmptyTextPolicies(t *testing.T) {
	t.Run("require text drops attachment-only send", func(t *testing.T) {
		ft := newFakeTransport()
		up := &fakeUploader{refs: []protocol.AttachmentReference{{ID: "f1"}}}
		svc := newService(t, ft, up, Options{Policy: RequireText})
		svc.Connect("tok")

		require.NoError(t, svc.UploadFiles(context.Background(), conversation.Lawyer, []attachment.File{
			{Name: "x", Reader: strings.NewReader("x")},
		}))
		require.NoError(t, svc.SendMessage(conversation.Lawyer, "   "))

		assert.Empty(t, ft.sent)
		assert.Len(t, svc.PendingAttachments(conversation.Lawyer), 1, "staging untouched by a dropped send")
	})

	t.Run("attachment-only policy sends with staged files", func(t *testing.T) {
		ft := newFakeTransport()
		up := &fakeUploader{refs: []protocol.AttachmentReference{{ID: "f1"}}}
		svc := newService(t, ft, up, Options{Policy: AllowAttachmentOnly})
		svc.Connect("tok")

		require.NoError(t, svc.UploadFiles(context.Background(), conversation.Lawyer, []attachment.File{
			{Name: "x", Reader: strings.NewReader("x")},
		}))
		require.NoError(t, svc.SendMessage(conversation.Lawyer, "   "))

		require.Len(t, ft.sent, 1)
		assert.Empty(t, ft.sent[0].Text)
		require.Len(t, ft.sent[0].Files, 1)
	})

	t.Run("attachment-only policy still drops truly empty send", func(t *testing.T) {
		ft := newFakeTransport()
		svc := newService(t, ft, nil, Options{Policy: AllowAttachmentOnly})
		svc.Connect("tok")

		require.NoError(t, svc.SendMessage(conversation.Lawyer, "   "))
		assert.Empty(t, ft.sent)
	})
}

func TestService_FocusRoutesServerErrors(t *testing.T) {
	ft := newFakeTransport()
	svc := newService(t, ft, nil, Options{})
	svc.Connect("tok")
	svc.SetFocus(conversation.Marketer)

	ft.deliver(&protocol.ServerError{Message: "внутренняя ошибка"})

	snap := svc.Session(conversation.Marketer)
	assert.Equal(t, conversation.SessionError, snap.Status)
	assert.Equal(t, "внутренняя ошибка", snap.LastError)
}

func TestService_ConnectedEventExposesUserID(t *testing.T) {
	ft := newFakeTransport()
	svc := newService(t, ft, nil, Options{})
	svc.Connect("tok")

	ft.deliver(&protocol.Connected{UserID: 12})

	id, ok := svc.UserID()
	require.True(t, ok)
	assert.Equal(t, int64(12), id)
}

func TestService_SendErrorPropagates(t *testing.T) {
	ft := newFakeTransport()
	ft.sendErr = transport.ErrQueueFull
	svc := newService(t, ft, nil, Options{})
	svc.Connect("tok")

	err := svc.SendMessage(conversation.Financier, "привет")
	assert.ErrorIs(t, err, transport.ErrQueueFull)
}

func TestService_InvalidPersonaIsNoOp(t *testing.T) {
	ft := newFakeTransport()
	svc := newService(t, ft, nil, Options{})
	svc.Connect("tok")

	require.NoError(t, svc.SendMessage(conversation.Persona("ghost"), "привет"))
	assert.Empty(t, ft.sent)
}
