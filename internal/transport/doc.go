// Package transport maintains the single realtime websocket connection to
// the agent backend.
//
// # Connection Lifecycle
//
// A Client owns at most one live connection:
//
//	c := transport.New(transport.Options{Host: "app.alfa-future.ru", Secure: true})
//	c.Connect(token)
//	defer c.Disconnect()
//
// Status transitions are published to OnStatus subscribers:
//
//	idle → connecting → open             (successful dial)
//	open → error → closed → connecting   (transport failure, auto-reconnect)
//	open → closed                        (clean close or Disconnect)
//
// Connect while open is a no-op; Disconnect suppresses reconnection until
// the next Connect.
//
// # Reconnection
//
// After a failure the client retries with exponential backoff: the delay
// doubles from BaseDelay per attempt and is capped at MaxDelay (defaults
// 1s and 15s). Retries continue indefinitely while a token is set. A
// successful open resets the backoff.
//
// # Outbound Queue
//
// Send transmits immediately while open and queues in FIFO order otherwise.
// The queue is bounded (default 512); Send past the cap returns ErrQueueFull.
// Queued envelopes flush in order on the next open.
//
// # Subscriber Streams
//
// OnStatus and OnMessage register handlers that run synchronously in
// subscription order: OnStatus on the goroutine driving the transition,
// OnMessage on the read goroutine. Both return an unsubscribe function.
//
// Inbound frames that fail to decode are dropped and counted in Stats;
// they never affect connection state.
package transport
