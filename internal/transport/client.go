// ABOUTME: Realtime websocket client with automatic reconnection and outbound queuing.
// ABOUTME: Owns the connection state machine and publishes status and message streams.

package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/valua-s/alfa-future/internal/protocol"
)

// Status is the process-wide connection state, mutated only by the Client.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusConnecting Status = "connecting"
	StatusOpen       Status = "open"
	StatusClosed     Status = "closed"
	StatusError      Status = "error"
)

const (
	defaultBaseDelay  = time.Second
	defaultMaxDelay   = 15 * time.Second
	defaultQueueLimit = 512
)

// ErrQueueFull is returned by Send when the client is not connected and the
// outbound queue has reached its limit. The message is not queued.
var ErrQueueFull = errors.New("outbound queue full")

// Conn abstracts the underlying websocket connection so tests can inject a
// scripted peer.
type Conn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// DialFunc opens a connection to the given endpoint URL.
type DialFunc func(ctx context.Context, endpoint string) (Conn, error)

// Dial is the production DialFunc backed by coder/websocket.
func Dial(ctx context.Context, endpoint string) (Conn, error) {
	c, resp, err := websocket.Dial(ctx, endpoint, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", endpoint, err)
	}
	return &wsConn{conn: c}, nil
}

type wsConn struct {
	conn *websocket.Conn
}

func (w *wsConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := w.conn.Read(ctx)
	return data, err
}

func (w *wsConn) Write(ctx context.Context, data []byte) error {
	return w.conn.Write(ctx, websocket.MessageText, data)
}

func (w *wsConn) Close(code websocket.StatusCode, reason string) error {
	return w.conn.Close(code, reason)
}

// Stats are monotonic diagnostic counters. Silent drops stay silent for the
// user but must be observable for operability.
type Stats struct {
	MalformedFrames     uint64
	DroppedSends        uint64
	ReconnectsScheduled uint64
}

// Options configures a Client. Host is required; everything else has defaults.
type Options struct {
	// Host is the server authority, e.g. "app.alfa-future.ru" or "localhost:8787".
	Host string
	// Secure selects wss over ws, mirroring the hosting page's scheme.
	Secure bool
	// Dial overrides the production dialer. Defaults to Dial.
	Dial DialFunc
	// BaseDelay and MaxDelay tune the reconnect backoff.
	BaseDelay time.Duration
	MaxDelay  time.Duration
	// QueueLimit caps the outbound queue while disconnected.
	QueueLimit int
	Logger     *slog.Logger
}

type statusSub struct {
	id int
	fn func(Status)
}

type messageSub struct {
	id int
	fn func(protocol.ServerEvent)
}

// Client maintains at most one live connection to the agent endpoint.
//
// State machine: idle → connecting → open; open → closed on close;
// closed → connecting on auto-reconnect unless the close was user initiated;
// open|connecting → error → closed → connecting on transport error unless a
// manual disconnect is pending. Reconnect delay doubles from BaseDelay per
// scheduled attempt, capped at MaxDelay, and retries indefinitely while a
// token is set. Disconnect is the only way to stop retrying.
type Client struct {
	mu sync.Mutex

	host   string
	secure bool
	dial   DialFunc
	logger *slog.Logger

	baseDelay  time.Duration
	maxDelay   time.Duration
	queueLimit int

	// timer is swapped out by tests to observe scheduled delays.
	timer func(d time.Duration, fn func()) *time.Timer

	status      Status
	token       string
	conn        Conn
	gen         uint64 // connection generation; bumps invalidate stale callbacks
	attempts    int
	reconnect   *time.Timer
	manualClose bool
	outbound    []protocol.UserMessage

	statusSubs  []statusSub
	messageSubs []messageSub
	nextSubID   int

	stats Stats
}

// New creates a disconnected Client. Call Connect to open the connection.
func New(opts Options) *Client {
	if opts.Dial == nil {
		opts.Dial = Dial
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = defaultBaseDelay
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = defaultMaxDelay
	}
	if opts.QueueLimit <= 0 {
		opts.QueueLimit = defaultQueueLimit
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Client{
		host:       opts.Host,
		secure:     opts.Secure,
		dial:       opts.Dial,
		logger:     opts.Logger.With("component", "transport"),
		baseDelay:  opts.BaseDelay,
		maxDelay:   opts.MaxDelay,
		queueLimit: opts.QueueLimit,
		timer:      time.AfterFunc,
		status:     StatusIdle,
	}
}

// Connect stores the token and opens the connection. It is a no-op while the
// connection is already open; the socket and status are left untouched.
func (c *Client) Connect(token string) {
	c.mu.Lock()
	c.token = token
	if c.status == StatusOpen {
		c.mu.Unlock()
		return
	}
	c.manualClose = false
	c.cancelReconnectLocked()
	c.gen++
	gen := c.gen
	subs := c.setStatusLocked(StatusConnecting)
	c.mu.Unlock()

	emitStatus(subs, StatusConnecting)
	go c.dialAndServe(gen, token)
}

// Disconnect tears down the connection and suppresses all automatic
// reconnection until Connect is called again.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.manualClose = true
	c.cancelReconnectLocked()
	c.gen++
	conn := c.conn
	c.conn = nil
	subs := c.setStatusLocked(StatusClosed)
	c.mu.Unlock()

	if conn != nil {
		if err := conn.Close(websocket.StatusNormalClosure, "client disconnect"); err != nil {
			c.logger.Debug("closing connection", "error", err)
		}
	}
	emitStatus(subs, StatusClosed)
}

// Send transmits the envelope immediately if the connection is open, and
// queues it in FIFO order otherwise. Queued envelopes are flushed on the next
// successful open. Returns ErrQueueFull past the queue limit.
func (c *Client) Send(msg protocol.UserMessage) error {
	c.mu.Lock()
	if c.status == StatusOpen && c.conn != nil {
		conn := c.conn
		c.mu.Unlock()
		data, err := msg.Encode()
		if err != nil {
			return fmt.Errorf("encoding envelope: %w", err)
		}
		if err := conn.Write(context.Background(), data); err != nil {
			c.logger.Warn("write failed", "error", err)
			return fmt.Errorf("writing envelope: %w", err)
		}
		return nil
	}
	if len(c.outbound) >= c.queueLimit {
		c.stats.DroppedSends++
		c.mu.Unlock()
		c.logger.Warn("outbound queue full, rejecting send", "limit", c.queueLimit)
		return ErrQueueFull
	}
	c.outbound = append(c.outbound, msg)
	c.mu.Unlock()
	return nil
}

// OnStatus subscribes to connection status transitions. Handlers run
// synchronously in subscription order. The returned function unsubscribes.
func (c *Client) OnStatus(fn func(Status)) func() {
	c.mu.Lock()
	id := c.nextSubID
	c.nextSubID++
	c.statusSubs = append(c.statusSubs, statusSub{id: id, fn: fn})
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, s := range c.statusSubs {
			if s.id == id {
				c.statusSubs = append(c.statusSubs[:i], c.statusSubs[i+1:]...)
				return
			}
		}
	}
}

// OnMessage subscribes to decoded inbound server events. Handlers run
// synchronously in subscription order on the read goroutine.
func (c *Client) OnMessage(fn func(protocol.ServerEvent)) func() {
	c.mu.Lock()
	id := c.nextSubID
	c.nextSubID++
	c.messageSubs = append(c.messageSubs, messageSub{id: id, fn: fn})
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, s := range c.messageSubs {
			if s.id == id {
				c.messageSubs = append(c.messageSubs[:i], c.messageSubs[i+1:]...)
				return
			}
		}
	}
}

// Status returns the current connection status.
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Stats returns a snapshot of the diagnostic counters.
func (c *Client) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// QueueLen reports how many envelopes are waiting for the next open.
func (c *Client) QueueLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.outbound)
}

func (c *Client) endpoint(token string) string {
	scheme := "ws"
	if c.secure {
		scheme = "wss"
	}
	return fmt.Sprintf("%s://%s/api/agent/ws?token=%s", scheme, c.host, url.QueryEscape(token))
}

func (c *Client) dialAndServe(gen uint64, token string) {
	conn, err := c.dial(context.Background(), c.endpoint(token))

	c.mu.Lock()
	if gen != c.gen || c.manualClose {
		c.mu.Unlock()
		if conn != nil {
			_ = conn.Close(websocket.StatusNormalClosure, "superseded")
		}
		return
	}

	if err != nil {
		c.logger.Warn("dial failed", "error", err, "attempts", c.attempts)
		subs := c.statusSubsLocked()
		c.status = StatusError
		c.scheduleReconnectLocked()
		// The error transition settles into closed, matching a transport
		// error followed by the close of the failed socket.
		c.status = StatusClosed
		c.mu.Unlock()
		emitStatus(subs, StatusError)
		emitStatus(subs, StatusClosed)
		return
	}

	c.conn = conn
	c.attempts = 0
	flush := c.outbound
	c.outbound = nil
	subs := c.setStatusLocked(StatusOpen)
	c.mu.Unlock()

	c.logger.Info("connection open", "host", c.host, "queued", len(flush))
	emitStatus(subs, StatusOpen)

	// Flush the queue in FIFO order. Send re-queues if the connection
	// dropped again in the meantime.
	for _, msg := range flush {
		if err := c.Send(msg); err != nil {
			c.logger.Warn("flush failed", "error", err)
		}
	}

	c.readLoop(gen, conn)
}

func (c *Client) readLoop(gen uint64, conn Conn) {
	for {
		data, err := conn.Read(context.Background())
		if err != nil {
			c.handleClosed(gen, err)
			return
		}

		ev, derr := protocol.DecodeServerEvent(data)
		if derr != nil {
			// Malformed frames are dropped without a status change.
			c.mu.Lock()
			c.stats.MalformedFrames++
			c.mu.Unlock()
			c.logger.Debug("dropping malformed frame", "error", derr)
			continue
		}

		c.mu.Lock()
		if gen != c.gen {
			c.mu.Unlock()
			return
		}
		subs := make([]messageSub, len(c.messageSubs))
		copy(subs, c.messageSubs)
		c.mu.Unlock()

		for _, s := range subs {
			s.fn(ev)
		}
	}
}

func (c *Client) handleClosed(gen uint64, err error) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.conn = nil

	clean := websocket.CloseStatus(err) == websocket.StatusNormalClosure
	manual := c.manualClose
	subs := c.statusSubsLocked()

	if !clean && !manual {
		c.status = StatusError
	}
	if !manual {
		c.scheduleReconnectLocked()
	}
	c.status = StatusClosed
	c.mu.Unlock()

	if clean || manual {
		c.logger.Info("connection closed")
		emitStatus(subs, StatusClosed)
		return
	}
	c.logger.Warn("connection lost", "error", err)
	emitStatus(subs, StatusError)
	emitStatus(subs, StatusClosed)
}

// scheduleReconnectLocked arms the backoff timer. Caller holds mu.
func (c *Client) scheduleReconnectLocked() {
	if c.token == "" || c.manualClose {
		return
	}
	c.cancelReconnectLocked()

	delay := c.baseDelay << c.attempts
	if delay > c.maxDelay || delay <= 0 {
		delay = c.maxDelay
	}
	c.attempts++
	c.stats.ReconnectsScheduled++

	c.logger.Debug("scheduling reconnect", "delay", delay, "attempt", c.attempts)
	c.reconnect = c.timer(delay, func() {
		c.mu.Lock()
		token := c.token
		manual := c.manualClose
		c.mu.Unlock()
		if token != "" && !manual {
			c.Connect(token)
		}
	})
}

func (c *Client) cancelReconnectLocked() {
	if c.reconnect != nil {
		c.reconnect.Stop()
		c.reconnect = nil
	}
}

func (c *Client) setStatusLocked(s Status) []statusSub {
	c.status = s
	return c.statusSubsLocked()
}

func (c *Client) statusSubsLocked() []statusSub {
	subs := make([]statusSub, len(c.statusSubs))
	copy(subs, c.statusSubs)
	return subs
}

func emitStatus(subs []statusSub, s Status) {
	for _, sub := range subs {
		sub.fn(s)
	}
}
