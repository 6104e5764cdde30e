// ABOUTME: Wire types for the agent chat websocket protocol.
// ABOUTME: Defines the outbound user_message envelope and attachment references.

package protocol

import "encoding/json"

// TypeUserMessage is the discriminant of the single client-to-server envelope.
const TypeUserMessage = "user_message"

// AttachmentReference identifies a file that was uploaded through the HTTP
// side channel. References are immutable once returned by the upload endpoint.
type AttachmentReference struct {
	ID        string `json:"id"`
	Path      string `json:"path"`
	Filename  string `json:"filename"`
	MimeType  string `json:"mime_type"`
	SizeBytes int64  `json:"size_bytes"`
}

// UserMessage is the client-to-server envelope. Files is always present in the
// encoded form, even when empty. CorrelationID is set only on first messages
// for a persona whose session is not yet established; a server that echoes it
// back in session_ready removes the ordering assumption of the FIFO fallback.
type UserMessage struct {
	Type          string                `json:"type"`
	Agent         string                `json:"agent"`
	Text          string                `json:"text"`
	SessionID     *int64                `json:"session_id,omitempty"`
	CorrelationID string                `json:"correlation_id,omitempty"`
	Files         []AttachmentReference `json:"files"`
}

// NewUserMessage builds a user_message envelope. A nil files slice is
// normalized to an empty one so the wire form always carries "files".
func NewUserMessage(agent, text string, sessionID *int64, files []AttachmentReference) UserMessage {
	if files == nil {
		files = []AttachmentReference{}
	}
	return UserMessage{
		Type:      TypeUserMessage,
		Agent:     agent,
		Text:      text,
		SessionID: sessionID,
		Files:     files,
	}
}

// Encode serializes the envelope for transmission.
func (m UserMessage) Encode() ([]byte, error) {
	if m.Files == nil {
		m.Files = []AttachmentReference{}
	}
	return json.Marshal(m)
}

// DecodeUserMessage parses a client envelope. Used by the dev harness.
func DecodeUserMessage(data []byte) (UserMessage, error) {
	var m UserMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return UserMessage{}, err
	}
	return m, nil
}
