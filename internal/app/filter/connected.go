package filter

import "context"

// ConnectedFilter drops broadcasts that arrive before the handshake completes
// or after the client left the room.
type ConnectedFilter struct{}

func (f *ConnectedFilter) Name() string {
	return "connected_filter"
}

func (f *ConnectedFilter) Description() string {
	return "Drops broadcasts received outside an acknowledged connection"
}

func (f *ConnectedFilter) ReturnCodes() []string {
	return []string{"not_connected"}
}

func (f *ConnectedFilter) AppliesTo(event string) bool {
	return true
}

func (f *ConnectedFilter) Check(ctx context.Context, b Broadcast, v View) Result {
	if !v.Connected() {
		return Reject("not_connected")
	}
	return Accept()
}

func init() {
	Register("connected_filter", func() Filter {
		return &ConnectedFilter{}
	})
}
