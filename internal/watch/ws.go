package watch

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/stashwatch/stashwatch/internal/status"
)

const (
	reconnectBaseDelay = 1 * time.Second
	reconnectMaxDelay  = 30 * time.Second
	writeTimeout       = 10 * time.Second
	pongTimeout        = 60 * time.Second
	pingInterval       = 30 * time.Second
)

var errNoConnection = errors.New("no connection")

// WSClient follows a status server's websocket. It reconnects with
// exponential backoff between 1s and 30s.
type WSClient struct {
	url   string
	token string

	// Overridable in tests.
	baseDelay time.Duration
	maxDelay  time.Duration

	mu      sync.Mutex
	writeMu sync.Mutex // serialises pings
	conn    *websocket.Conn
	seq     uint64
	delay   time.Duration
	pingCtx context.CancelFunc
}

// NewWSClient creates a client for the websocket at url, e.g.
// ws://127.0.0.1:8090/ws. token is sent as a bearer token when set.
func NewWSClient(url, token string) *WSClient {
	return &WSClient{
		url:       url,
		token:     token,
		baseDelay: reconnectBaseDelay,
		maxDelay:  reconnectMaxDelay,
	}
}

// Connect dials until it succeeds or ctx is done. After a drop the first
// attempt waits the current backoff.
func (c *WSClient) Connect(ctx context.Context) tea.Cmd {
	return func() tea.Msg {
		var header http.Header
		if c.token != "" {
			header = http.Header{"Authorization": {"Bearer " + c.token}}
		}

		c.mu.Lock()
		delay := c.delay
		c.mu.Unlock()

		for {
			if delay > 0 {
				t := time.NewTimer(delay)
				select {
				case <-ctx.Done():
					t.Stop()
					return nil
				case <-t.C:
				}
			}
			if ctx.Err() != nil {
				return nil
			}

			conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, header)
			if err != nil {
				delay = c.backoff(delay)
				log.Debug().Err(err).Dur("retry_in", delay).Msg("status ws dial failed")
				continue
			}

			c.mu.Lock()
			if c.pingCtx != nil {
				c.pingCtx()
			}
			pingCtx, pingCancel := context.WithCancel(ctx)
			c.conn = conn
			c.seq = 0
			c.delay = 0
			c.pingCtx = pingCancel
			c.mu.Unlock()

			go c.pingLoop(pingCtx, conn)
			return ConnectedMsg{Source: c.url}
		}
	}
}

func (c *WSClient) backoff(d time.Duration) time.Duration {
	if d <= 0 {
		return c.baseDelay
	}
	return min(d*2, c.maxDelay)
}

// Read returns the next snapshot or alerts message. Unknown message types are
// skipped.
func (c *WSClient) Read(ctx context.Context) tea.Cmd {
	return func() tea.Msg {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return DisconnectedMsg{Err: errNoConnection}
		}

		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(pongTimeout))
			return nil
		})
		conn.SetReadDeadline(time.Now().Add(pongTimeout))

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				c.drop(conn)
				if ctx.Err() != nil {
					return nil
				}
				return DisconnectedMsg{Err: err}
			}

			var env status.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				continue
			}
			c.mu.Lock()
			c.seq = env.Seq
			c.mu.Unlock()

			if msg := dispatch(env); msg != nil {
				return msg
			}
		}
	}
}

// drop forgets conn and arms the reconnect backoff.
func (c *WSClient) drop(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
		if c.pingCtx != nil {
			c.pingCtx()
			c.pingCtx = nil
		}
		c.delay = c.backoff(c.delay)
	}
	c.mu.Unlock()
	conn.Close()
}

// Close shuts the current connection.
func (c *WSClient) Close() {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		c.drop(conn)
	}
}

// Seq returns the last seen sequence number.
func (c *WSClient) Seq() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

func (c *WSClient) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func dispatch(env status.Envelope) tea.Msg {
	switch env.Type {
	case status.MsgSnapshot:
		var p status.SnapshotPayload
		if json.Unmarshal(env.Payload, &p) == nil {
			return SnapshotMsg{Payload: p}
		}
	case status.MsgAlerts:
		var p status.AlertsPayload
		if json.Unmarshal(env.Payload, &p) == nil {
			return AlertsMsg{Payload: p}
		}
	}
	return nil
}
