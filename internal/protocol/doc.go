// Package protocol defines the wire types of the agent chat websocket
// protocol.
//
// # Client → Server
//
// One envelope, user_message, built with NewUserMessage. The files list is
// always present in the encoded form; session_id is omitted until the
// session is established, and correlation_id rides only on first messages.
//
// # Server → Client
//
// A discriminated union on the "type" field: connected, session_ready,
// agent_event, agent_response, agent_error, and error. DecodeServerEvent
// probes the discriminant and unmarshals into the concrete struct; unknown
// discriminants return ErrUnknownEventType.
//
// EncodeServerEvent stamps the discriminant back in and exists for the dev
// harness; the client only decodes.
package protocol
