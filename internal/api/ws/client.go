// Package ws provides the websocket link to the room coordinator.
package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/19room/internal/api/protocol"
	"github.com/osa030/19room/internal/app/notification"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
	sendBufferSize = 64
)

// Errors
var (
	ErrNotConnected   = errors.New("websocket is not connected")
	ErrConnectionLost = errors.New("websocket connection lost")
)

// Client is a coordinator channel over a single websocket connection.
// Requests are paired with their acknowledgement by frame ID; every other
// inbound frame is published to subscribers. Subscriptions survive redials.
type Client struct {
	url    string
	dialer *websocket.Dialer

	mu      sync.Mutex
	conn    *connection
	pending map[string]chan protocol.Frame

	frames      *notification.Bus[protocol.Frame]
	disconnects *notification.Bus[error]
}

// connection is one dialled websocket with its pumps.
type connection struct {
	ws        *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	// intentional is set when Close (or a redial) shuts the connection.
	intentional bool
}

// NewClient creates a client for the given websocket URL.
func NewClient(url string) *Client {
	return &Client{
		url:         url,
		dialer:      websocket.DefaultDialer,
		pending:     make(map[string]chan protocol.Frame),
		frames:      notification.NewBus[protocol.Frame](),
		disconnects: notification.NewBus[error](),
	}
}

// Dial opens a connection, replacing any previous one.
func (c *Client) Dial(ctx context.Context) error {
	ws, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return errors.Wrapf(err, "failed to dial %s", c.url)
	}
	conn := &connection{
		ws:   ws,
		send: make(chan []byte, sendBufferSize),
		done: make(chan struct{}),
	}

	c.mu.Lock()
	prev := c.conn
	c.conn = conn
	c.mu.Unlock()
	if prev != nil {
		c.shutdown(prev, true)
	}

	go c.readPump(conn)
	go c.writePump(conn)

	zlog.Debug().Msgf("ws: connected url=%s", c.url)
	return nil
}

// Request sends event and waits for the frame answering it.
func (c *Client) Request(ctx context.Context, event string, payload any) (any, error) {
	id := uuid.NewString()
	reply := make(chan protocol.Frame, 1)

	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}
	c.pending[id] = reply
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.write(ctx, conn, protocol.Frame{Event: event, ID: id, Data: payload}); err != nil {
		return nil, err
	}

	select {
	case f := <-reply:
		return f.Data, nil
	case <-conn.done:
		return nil, errors.Wrapf(ErrConnectionLost, "awaiting %s", event)
	case <-ctx.Done():
		return nil, errors.Wrapf(ctx.Err(), "awaiting %s", event)
	}
}

// Emit sends a fire-and-forget event.
func (c *Client) Emit(ctx context.Context, event string, payload any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	return c.write(ctx, conn, protocol.Frame{Event: event, Data: payload})
}

// Subscribe registers fn for inbound broadcasts.
func (c *Client) Subscribe(fn func(protocol.Frame)) func() {
	return c.frames.Subscribe(fn)
}

// OnDisconnect registers fn for unexpected connection loss.
func (c *Client) OnDisconnect(fn func(error)) func() {
	return c.disconnects.Subscribe(fn)
}

// Close closes the current connection without notifying OnDisconnect.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	c.shutdown(conn, true)
	return nil
}

func (c *Client) write(ctx context.Context, conn *connection, f protocol.Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return errors.Wrapf(err, "failed to encode %s", f.Event)
	}
	select {
	case conn.send <- data:
		return nil
	case <-conn.done:
		return errors.Wrapf(ErrConnectionLost, "sending %s", f.Event)
	case <-ctx.Done():
		return errors.Wrapf(ctx.Err(), "sending %s", f.Event)
	}
}

// shutdown closes conn once. Unintentional shutdowns notify OnDisconnect.
func (c *Client) shutdown(conn *connection, intentional bool) {
	conn.closeOnce.Do(func() {
		c.mu.Lock()
		conn.intentional = intentional
		c.mu.Unlock()
		close(conn.done)
		if intentional {
			deadline := time.Now().Add(writeWait)
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = conn.ws.WriteControl(websocket.CloseMessage, msg, deadline)
		}
		conn.ws.Close()
	})
}

func (c *Client) readPump(conn *connection) {
	var cause error
	defer func() {
		c.mu.Lock()
		current := c.conn == conn
		if current {
			c.conn = nil
		}
		c.mu.Unlock()
		c.shutdown(conn, false)

		c.mu.Lock()
		intentional := conn.intentional
		c.mu.Unlock()
		if current && !intentional {
			zlog.Warn().Msgf("ws: connection lost: %v", cause)
			c.disconnects.Publish(errors.Wrap(ErrConnectionLost, errString(cause)))
		}
	}()

	conn.ws.SetReadLimit(maxMessageSize)
	_ = conn.ws.SetReadDeadline(time.Now().Add(pongWait))
	conn.ws.SetPongHandler(func(string) error {
		return conn.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := conn.ws.ReadMessage()
		if err != nil {
			cause = err
			return
		}

		var f protocol.Frame
		if err := json.Unmarshal(message, &f); err != nil {
			zlog.Warn().Msgf("ws: invalid frame: %v", err)
			continue
		}
		c.dispatch(f)
	}
}

// dispatch routes an answer to its waiting request, or publishes it.
func (c *Client) dispatch(f protocol.Frame) {
	if f.ID != "" {
		c.mu.Lock()
		reply, ok := c.pending[f.ID]
		if ok {
			delete(c.pending, f.ID)
		}
		c.mu.Unlock()
		if ok {
			reply <- f
			return
		}
		if f.Ack {
			zlog.Debug().Msgf("ws: late ack event=%s id=%s", f.Event, f.ID)
			return
		}
	}
	c.frames.Publish(f)
}

func (c *Client) writePump(conn *connection) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-conn.done:
			return
		case message := <-conn.send:
			_ = conn.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				zlog.Debug().Msgf("ws: write failed: %v", err)
				c.shutdown(conn, false)
				return
			}
		case <-ticker.C:
			_ = conn.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.shutdown(conn, false)
				return
			}
		}
	}
}

func errString(err error) string {
	if err == nil {
		return "closed"
	}
	return err.Error()
}
