// Package conversation owns the per-persona session state and routes the
// single inbound event stream to the right conversation.
//
// # Personas
//
// Four fixed personas (financier, lawyer, marketer, accountant) each hold
// exactly one conversation with the backend. The backend assigns a numeric
// session id per conversation; the persona never travels on inbound events,
// only the session id does.
//
// # Session Resolution
//
// A session_ready ack carries a session id but not the persona that asked
// for it. The Registry resolves it in three steps:
//
//  1. Correlation echo: first messages carry a correlation_id; if the ack
//     echoes it, the matching pending entry wins regardless of order.
//  2. Existing binding: a session id that is already bound stays bound —
//     the binding is write-once.
//  3. FIFO fallback: otherwise the oldest pending persona is popped, which
//     is correct only while the server acks in request order.
//
// # Event Routing
//
// HandleEvent applies one server event under the registry lock:
//
//   - connected: records the user id
//   - session_ready: binds the session and backfills the last user message
//   - agent_event: appended to the persona's bounded event ring (cap 100)
//   - agent_response: appends the answer, stores plan/stats, status → idle
//   - agent_error: status → error with the message
//   - error (sessionless): routed to the focused persona, if any
//
// Events that cannot be routed are dropped, counted in Stats, and logged;
// they are never surfaced to the user.
//
// # Snapshots
//
// Session returns a deep-copied SessionSnapshot so the presentation layer
// can read without holding the lock.
package conversation
