package session

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/osa030/19room/internal/api/protocol"
	"github.com/osa030/19room/internal/app/notification"
)

var errDropped = errors.New("connection dropped")

// fakeChannel is an in-memory coordinator link.
type fakeChannel struct {
	mu       sync.Mutex
	dials    int
	dialErr  error
	closed   bool
	emitted  []protocol.Frame
	requests []string

	// ack answers connect-room; onConnect runs before it is returned.
	ack       map[string]any
	onConnect func()
	// syncFn answers request-sync.
	syncFn func() (any, error)

	frames      *notification.Bus[protocol.Frame]
	disconnects *notification.Bus[error]
}

func newFakeChannel(ack map[string]any) *fakeChannel {
	return &fakeChannel{
		ack:         ack,
		frames:      notification.NewBus[protocol.Frame](),
		disconnects: notification.NewBus[error](),
		syncFn: func() (any, error) {
			return nil, errors.New("no sync handler")
		},
	}
}

func (c *fakeChannel) Dial(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dials++
	if c.dialErr != nil {
		return c.dialErr
	}
	c.closed = false
	return nil
}

func (c *fakeChannel) Request(ctx context.Context, event string, payload any) (any, error) {
	c.mu.Lock()
	c.requests = append(c.requests, event)
	ack, onConnect, syncFn := c.ack, c.onConnect, c.syncFn
	c.mu.Unlock()

	switch event {
	case protocol.EventConnectRoom:
		if onConnect != nil {
			onConnect()
		}
		return ack, nil
	case protocol.EventRequestSync:
		return syncFn()
	default:
		return nil, errors.Newf("unexpected request %s", event)
	}
}

func (c *fakeChannel) Emit(ctx context.Context, event string, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.emitted = append(c.emitted, protocol.Frame{Event: event, Data: payload})
	return nil
}

func (c *fakeChannel) Subscribe(fn func(protocol.Frame)) func() {
	return c.frames.Subscribe(fn)
}

func (c *fakeChannel) OnDisconnect(fn func(error)) func() {
	return c.disconnects.Subscribe(fn)
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// Broadcast delivers an inbound frame.
func (c *fakeChannel) Broadcast(event string, data any) {
	c.frames.Publish(protocol.Frame{Event: event, Data: data})
}

// BroadcastSeq delivers a numbered inbound frame.
func (c *fakeChannel) BroadcastSeq(event string, seq uint64, data any) {
	c.frames.Publish(protocol.Frame{Event: event, Seq: seq, Data: data})
}

// Drop simulates an unexpected connection loss.
func (c *fakeChannel) Drop() {
	c.disconnects.Publish(errDropped)
}

func (c *fakeChannel) Dials() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dials
}

func (c *fakeChannel) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeChannel) Requests(event string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, r := range c.requests {
		if r == event {
			n++
		}
	}
	return n
}

// Emitted returns the payloads sent for event.
func (c *fakeChannel) Emitted(event string) []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []any
	for _, f := range c.emitted {
		if f.Event == event {
			out = append(out, f.Data)
		}
	}
	return out
}

func (c *fakeChannel) SetSync(fn func() (any, error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.syncFn = fn
}

func (c *fakeChannel) SetDialErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dialErr = err
}

func (c *fakeChannel) SetAck(ack map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ack = ack
}
