// Package client is the façade the presentation layer talks to.
//
// # Composition
//
// New wires a transport, a conversation.Registry, an attachment.Staging,
// and an Uploader together. The registry subscribes to the transport first,
// so by the time any OnServerEvent handler fires the conversation state has
// already been updated. All collaborators are injected; nothing in the
// package is process-global.
//
// # Operations
//
//   - Connect / Disconnect / Close
//   - SendMessage: trims, applies the SendPolicy, attaches staged files,
//     and hands the envelope to the transport (queued while disconnected)
//   - UploadFiles / RemoveAttachment / PendingAttachments
//   - Session / SetFocus / UserID / ConnectionStatus
//
// # Send Policy
//
// SendPolicy decides what happens to an empty-text send: RequireText drops
// it unconditionally, AllowAttachmentOnly lets it through when files are
// staged. The default is RequireText.
package client
