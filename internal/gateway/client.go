package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/victorivanov/readreceipts/internal/models"
)

// Handler receives dispatch events from a Client.
type Handler interface {
	HandleWebSocketEvent(msg models.WebSocketMessage)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(msg models.WebSocketMessage)

func (f HandlerFunc) HandleWebSocketEvent(msg models.WebSocketMessage) { f(msg) }

var errReconnectRequested = errors.New("server requested reconnect")

// Client is the receiving side of the gateway. It identifies with a bearer
// token, keeps the heartbeat going, hands every DISPATCH to its Handler and
// reconnects with exponential backoff, resuming the previous session when it
// has one.
type Client struct {
	url     string
	token   string
	handler Handler
	logger  *slog.Logger
	dialer  *websocket.Dialer

	minBackoff time.Duration
	maxBackoff time.Duration

	mu        sync.Mutex
	sessionID string
	lastSeq   int64
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithClientLogger sets the logger used by the client.
func WithClientLogger(l *slog.Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithReconnectBackoff sets the bounds of the reconnect delay.
func WithReconnectBackoff(min, max time.Duration) ClientOption {
	return func(c *Client) {
		if min > 0 {
			c.minBackoff = min
		}
		if max >= c.minBackoff {
			c.maxBackoff = max
		}
	}
}

// NewClient creates a gateway client for the given ws:// or wss:// URL.
func NewClient(url, token string, handler Handler, opts ...ClientOption) *Client {
	c := &Client{
		url:        url,
		token:      token,
		handler:    handler,
		logger:     slog.Default(),
		dialer:     websocket.DefaultDialer,
		minBackoff: time.Second,
		maxBackoff: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SessionID returns the session of the last READY, or "" before the first one.
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Run connects and keeps the client connected until ctx is cancelled.
func (c *Client) Run(ctx context.Context) error {
	backoff := c.minBackoff
	for {
		received, err := c.runOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if received {
			backoff = c.minBackoff
		}
		c.logger.Warn("gateway connection lost", "error", err, "retry_in", backoff)

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		backoff *= 2
		if backoff > c.maxBackoff {
			backoff = c.maxBackoff
		}
	}
}

// runOnce serves a single connection. It reports whether any dispatch was
// received so Run can reset its backoff.
func (c *Client) runOnce(ctx context.Context) (bool, error) {
	ws, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return false, fmt.Errorf("dialing gateway: %w", err)
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = ws.Close()
		case <-done:
			_ = ws.Close()
		}
	}()

	var writeMu sync.Mutex
	send := func(p GatewayPayload) error {
		data, err := json.Marshal(p)
		if err != nil {
			return err
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
		return ws.WriteMessage(websocket.TextMessage, data)
	}

	hello, err := readGatewayPayload(ws)
	if err != nil {
		return false, fmt.Errorf("reading hello: %w", err)
	}
	if hello.Op != OpHello {
		return false, fmt.Errorf("expected HELLO, got op %d", hello.Op)
	}
	var helloData HelloData
	if err := json.Unmarshal(hello.Data, &helloData); err != nil || helloData.HeartbeatInterval <= 0 {
		return false, fmt.Errorf("invalid hello payload: %s", hello.Data)
	}

	if err := send(c.handshake()); err != nil {
		return false, fmt.Errorf("sending handshake: %w", err)
	}

	go c.heartbeat(time.Duration(helloData.HeartbeatInterval)*time.Millisecond, send, done)

	received := false
	for {
		p, err := readGatewayPayload(ws)
		if err != nil {
			return received, err
		}

		switch p.Op {
		case OpDispatch:
			received = true
			c.dispatch(p)
		case OpHeartbeat:
			if err := send(GatewayPayload{Op: OpHeartbeat}); err != nil {
				return received, err
			}
		case OpReconnect:
			// The session is no longer valid; start over with IDENTIFY.
			c.mu.Lock()
			c.sessionID = ""
			c.lastSeq = 0
			c.mu.Unlock()
			return received, errReconnectRequested
		}
	}
}

func (c *Client) handshake() GatewayPayload {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sessionID != "" {
		return GatewayPayload{Op: OpResume, Data: mustMarshal(ResumeData{
			Token:     c.token,
			SessionID: c.sessionID,
			Sequence:  c.lastSeq,
		})}
	}
	return GatewayPayload{Op: OpIdentify, Data: mustMarshal(IdentifyData{Token: c.token})}
}

func (c *Client) heartbeat(interval time.Duration, send func(GatewayPayload) error, done <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := send(GatewayPayload{Op: OpHeartbeat}); err != nil {
				return
			}
		}
	}
}

func (c *Client) dispatch(p GatewayPayload) {
	if p.Event == nil {
		return
	}
	msg := models.WebSocketMessage{Event: *p.Event, Data: p.Data}
	if p.Sequence != nil {
		msg.Seq = *p.Sequence
	}

	c.mu.Lock()
	if msg.Seq > c.lastSeq {
		c.lastSeq = msg.Seq
	}
	if msg.Event == EventReady {
		var ready ReadyData
		if err := json.Unmarshal(p.Data, &ready); err == nil {
			c.sessionID = ready.SessionID
		}
	}
	c.mu.Unlock()

	c.logger.Debug("gateway dispatch", "event", msg.Event, "seq", msg.Seq)
	c.handler.HandleWebSocketEvent(msg)
}

func readGatewayPayload(ws *websocket.Conn) (GatewayPayload, error) {
	var p GatewayPayload
	_, raw, err := ws.ReadMessage()
	if err != nil {
		return p, err
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("decoding gateway payload: %w", err)
	}
	return p, nil
}
