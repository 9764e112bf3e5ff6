package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"

	"github.com/dmaksimv/roomcast-server/internal/proto"
)

// ErrNotConnected is returned by Send while the connection is down.
// Messages composed while disconnected are rejected, not buffered.
var ErrNotConnected = errors.New("not connected")

// DefaultRetryDelay is the fixed wait between reconnect attempts.
const DefaultRetryDelay = 3 * time.Second

// Client maintains a session with one room. Run dials the server,
// delivers every received envelope to OnEvent, and on connection loss
// waits RetryDelay and redials until the context is cancelled. Each
// successful redial performs the full join flow and receives a fresh
// history snapshot.
type Client struct {
	// OnEvent receives every raw server envelope. May be nil.
	OnEvent func(raw []byte)
	// OnDisconnect is called when a live connection drops. May be nil.
	OnDisconnect func(err error)
	// RetryDelay overrides DefaultRetryDelay when positive.
	RetryDelay time.Duration

	url string
	log zerolog.Logger

	mu   sync.Mutex
	conn *websocket.Conn
}

// New builds a client for one room. baseURL is the ws:// or wss:// server
// root, e.g. "ws://localhost:8080".
func New(baseURL, room, username string, logger *zerolog.Logger) *Client {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("room", room).Logger()
	}
	return &Client{
		url: fmt.Sprintf("%s/ws/%s?username=%s", baseURL, url.PathEscape(room), url.QueryEscape(username)),
		log: l,
	}
}

// Run drives the connect/read/reconnect loop until ctx is cancelled.
func (c *Client) Run(ctx context.Context) error {
	for {
		err := c.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		c.log.Warn().Err(err).Dur("retry_in", c.retryDelay()).Msg("connection lost, scheduling reconnect")
		if c.OnDisconnect != nil {
			c.OnDisconnect(err)
		}

		select {
		case <-time.After(c.retryDelay()):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Send posts one chat message over the live connection.
func (c *Client) Send(ctx context.Context, content string) error {
	return c.write(ctx, proto.Inbound{Type: proto.TypeMessage, Content: content})
}

// RequestHistory asks the server to re-send the history snapshot.
func (c *Client) RequestHistory(ctx context.Context) error {
	return c.write(ctx, proto.Inbound{Type: proto.TypeHistory})
}

// Connected reports whether a live connection currently exists.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

func (c *Client) session(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	c.setConn(conn)
	defer func() {
		c.setConn(nil)
		conn.Close(websocket.StatusNormalClosure, "bye")
	}()

	c.log.Info().Msg("connected")

	for {
		_, raw, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		if c.OnEvent != nil {
			c.OnEvent(raw)
		}
	}
}

func (c *Client) write(ctx context.Context, in proto.Inbound) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	frame, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	return conn.Write(ctx, websocket.MessageText, frame)
}

func (c *Client) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
}

func (c *Client) retryDelay() time.Duration {
	if c.RetryDelay > 0 {
		return c.RetryDelay
	}
	return DefaultRetryDelay
}
