// Package protocol defines the named events exchanged with the room coordinator.
package protocol

// Outbound intents (client -> coordinator).
const (
	EventConnectRoom        = "connect-room"
	EventTogglePlayPause    = "toggle-play-pause"
	EventSeekTo             = "seek-to"
	EventChangeRepeatMode   = "change-repeat-mode"
	EventPlayVideoAt        = "play-video-at"
	EventUpdateCurrentIndex = "update-current-index"
	EventUpdateCurrentTime  = "update-current-time"
	EventRequestSync        = "request-sync"
	EventLeaveRoom          = "leave-room"
)

// Inbound broadcasts (coordinator -> client).
const (
	EventUpdateMembers     = "update-members"
	EventUpdatePlaylist    = "update-playlist"
	EventPlayPauseToggled  = "play-pause-toggled"
	EventSeekedTo          = "seeked-to"
	EventRepeatModeChanged = "repeat-mode-changed"
	EventSyncInfo          = "sync-info"
	// EventPlayVideoAt and EventUpdateCurrentIndex are also broadcast back.
)

// Frame is the JSON envelope carried over the real-time channel.
//
// ID pairs a request with its acknowledgement: the coordinator answers a
// request by sending a frame with the same ID and Ack set (or, for
// request-sync, a sync-info frame carrying the same ID). Seq is an optional
// per-connection broadcast sequence number; zero means unnumbered.
type Frame struct {
	Event string `json:"event"`
	ID    string `json:"id,omitempty"`
	Ack   bool   `json:"ack,omitempty"`
	Seq   uint64 `json:"seq,omitempty"`
	Data  any    `json:"data,omitempty"`
}
