package session

import (
	"context"

	"github.com/osa030/19room/internal/api/protocol"
	"github.com/osa030/19room/internal/domain/member"
	"github.com/osa030/19room/internal/domain/track"
)

// Channel is the real-time link to the room coordinator.
// Implementations must be safe for concurrent use.
type Channel interface {
	// Dial opens (or reopens) the connection.
	Dial(ctx context.Context) error
	// Request sends an event and waits for its acknowledgement payload.
	Request(ctx context.Context, event string, payload any) (any, error)
	// Emit sends a fire-and-forget event.
	Emit(ctx context.Context, event string, payload any) error
	// Subscribe registers fn for every inbound broadcast frame and returns
	// a disposer. Subscriptions survive redials.
	Subscribe(fn func(protocol.Frame)) func()
	// OnDisconnect registers fn for unexpected connection loss.
	OnDisconnect(fn func(error)) func()
	// Close closes the connection. Close does not trigger OnDisconnect.
	Close() error
}

// RoomDirectory answers room queries over the coordinator's request endpoint.
// It is used when the handshake acknowledgement omits the collections.
type RoomDirectory interface {
	Title(ctx context.Context, code string) (string, error)
	Members(ctx context.Context, code string) ([]member.Member, error)
	Playlist(ctx context.Context, code string) ([]track.Track, error)
}
