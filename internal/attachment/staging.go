// ABOUTME: Per-persona staging area for uploaded-but-unsent file references.
// ABOUTME: Independent of transport state; cleared atomically when a message goes out.

package attachment

import (
	"sync"

	"github.com/valua-s/alfa-future/internal/conversation"
	"github.com/valua-s/alfa-future/internal/protocol"
)

// Staging holds attachment references between upload and send, per persona.
type Staging struct {
	mu      sync.Mutex
	pending map[conversation.Persona][]protocol.AttachmentReference
}

// NewStaging creates an empty staging area.
func NewStaging() *Staging {
	return &Staging{
		pending: make(map[conversation.Persona][]protocol.AttachmentReference),
	}
}

// Add appends uploaded references to the persona's pending list.
func (s *Staging) Add(p conversation.Persona, refs ...protocol.AttachmentReference) {
	if len(refs) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[p] = append(s.pending[p], refs...)
}

// Remove filters the given id out of the persona's pending list. No effect
// if the id is absent.
func (s *Staging) Remove(p conversation.Persona, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	refs := s.pending[p]
	for i, ref := range refs {
		if ref.ID == id {
			s.pending[p] = append(refs[:i], refs[i+1:]...)
			return
		}
	}
}

// List returns a copy of the persona's pending references.
func (s *Staging) List(p conversation.Persona) []protocol.AttachmentReference {
	s.mu.Lock()
	defer s.mu.Unlock()
	refs := s.pending[p]
	out := make([]protocol.AttachmentReference, len(refs))
	copy(out, refs)
	return out
}

// Take captures the persona's pending references and atomically clears them.
// Called when the references are folded into an outgoing message.
func (s *Staging) Take(p conversation.Persona) []protocol.AttachmentReference {
	s.mu.Lock()
	defer s.mu.Unlock()
	refs := s.pending[p]
	if len(refs) == 0 {
		return []protocol.AttachmentReference{}
	}
	delete(s.pending, p)
	return refs
}
