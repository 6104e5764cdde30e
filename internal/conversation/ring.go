// ABOUTME: Fixed-capacity ring of agent event records.
// ABOUTME: Appends evict the oldest record once the ring is full.

package conversation

// EventRing is a fixed-capacity, append-only sequence of event records that
// discards the oldest entry once full. Not safe for concurrent use; the
// registry serializes access.
type EventRing struct {
	records []EventRecord
	head    int // next write position
	full    bool
}

// NewEventRing creates a ring holding at most capacity records.
func NewEventRing(capacity int) *EventRing {
	if capacity <= 0 {
		capacity = defaultEventCap
	}
	return &EventRing{records: make([]EventRecord, capacity)}
}

// Append adds a record, evicting the oldest if the ring is at capacity.
func (r *EventRing) Append(rec EventRecord) {
	r.records[r.head] = rec
	r.head = (r.head + 1) % len(r.records)
	if r.head == 0 {
		r.full = true
	}
}

// Len reports the number of retained records.
func (r *EventRing) Len() int {
	if r.full {
		return len(r.records)
	}
	return r.head
}

// Snapshot returns the retained records in original arrival order.
func (r *EventRing) Snapshot() []EventRecord {
	if !r.full {
		out := make([]EventRecord, r.head)
		copy(out, r.records[:r.head])
		return out
	}
	out := make([]EventRecord, 0, len(r.records))
	out = append(out, r.records[r.head:]...)
	out = append(out, r.records[:r.head]...)
	return out
}
