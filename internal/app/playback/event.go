package playback

import "github.com/osa030/19room/internal/domain/track"

// EventType represents an observable reconciliation event type.
type EventType int

const (
	EventStateChanged    EventType = iota // Replica play/pause, position or repeat mode changed
	EventTrackChanged                     // A different track was loaded
	EventMembersChanged                   // Membership (and possibly leadership) changed
	EventPlaylistChanged                  // Playlist replaced
	EventDriftCorrected                   // A corrective seek was issued
	EventStartupExpired                   // Startup watchdog gave up
	EventPlaybackEnded                    // Last track ended with repeat none
	EventDisconnected                     // Channel lost; reconnecting
	EventReconnected                      // Handshake re-run after reconnect
	EventSessionEnded                     // Rejected or gave up reconnecting; no recovery without Connect
)

// String returns the string representation of the event type.
func (e EventType) String() string {
	switch e {
	case EventStateChanged:
		return "state_changed"
	case EventTrackChanged:
		return "track_changed"
	case EventMembersChanged:
		return "members_changed"
	case EventPlaylistChanged:
		return "playlist_changed"
	case EventDriftCorrected:
		return "drift_corrected"
	case EventStartupExpired:
		return "startup_expired"
	case EventPlaybackEnded:
		return "playback_ended"
	case EventDisconnected:
		return "disconnected"
	case EventReconnected:
		return "reconnected"
	case EventSessionEnded:
		return "session_ended"
	default:
		return "unknown"
	}
}

// Event represents a reconciliation event.
type Event struct {
	Type     EventType
	Track    *track.Track // Current track (nil when the playlist is empty)
	State    State        // Replica state after the event
	IsLeader bool         // Whether the local member leads after the event
}
