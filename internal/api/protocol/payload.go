package protocol

import (
	"github.com/cockroachdb/errors"
	"github.com/mitchellh/mapstructure"

	"github.com/osa030/19room/internal/domain/member"
	"github.com/osa030/19room/internal/domain/track"
)

// ErrMalformedPayload is returned when a frame payload cannot be decoded.
var ErrMalformedPayload = errors.New("malformed payload")

// ConnectRoom is the handshake request.
type ConnectRoom struct {
	RoomCode string `json:"roomCode"`
	UserName string `json:"userName"`
}

// RoomState is the playback state carried by the handshake ack and sync-info.
type RoomState struct {
	IsPlaying    bool    `json:"isPlaying"`
	RepeatMode   string  `json:"repeatMode"`
	CurrentTime  float64 `json:"currentTime"`
	CurrentIndex int     `json:"currentIndex"`
}

// ConnectAck is the handshake acknowledgement.
// Members and Playlist are optional; coordinators that omit them are queried
// over the request endpoint instead.
type ConnectAck struct {
	Success  bool       `json:"success"`
	Message  string     `json:"message,omitempty"`
	MemberID string     `json:"memberId,omitempty"`
	State    *RoomState `json:"state,omitempty"`
	Members  []any      `json:"members,omitempty"`
	Playlist []any      `json:"playlist,omitempty"`
}

// RoomCode is the payload of intents that only name the room.
type RoomCode struct {
	RoomCode string `json:"roomCode"`
}

// SeekTo is the seek-to intent.
type SeekTo struct {
	RoomCode string  `json:"roomCode"`
	Time     float64 `json:"time"`
}

// ChangeRepeatMode is the change-repeat-mode intent.
type ChangeRepeatMode struct {
	RoomCode string `json:"roomCode"`
	Mode     string `json:"mode"`
}

// PlayVideoAt is both the play-video-at intent and its broadcast.
type PlayVideoAt struct {
	RoomCode string  `json:"roomCode,omitempty"`
	Index    int     `json:"index"`
	Time     float64 `json:"time"`
}

// UpdateCurrentIndex is both the leader's index convergence intent and its broadcast.
type UpdateCurrentIndex struct {
	RoomCode string  `json:"roomCode,omitempty"`
	Index    int     `json:"index"`
	Time     float64 `json:"time"`
}

// UpdateCurrentTime is the leader's clock publication.
type UpdateCurrentTime struct {
	RoomCode string  `json:"roomCode"`
	Time     float64 `json:"time"`
}

// PlayPauseToggled is the play-pause-toggled broadcast.
type PlayPauseToggled struct {
	IsPlaying bool `json:"isPlaying"`
}

// SeekedTo is the seeked-to broadcast.
type SeekedTo struct {
	Time float64 `json:"time"`
}

// RepeatModeChanged is the repeat-mode-changed broadcast.
type RepeatModeChanged struct {
	Mode string `json:"mode"`
}

// TrackPayload is a playlist entry on the wire. Both the field names used by
// the original web client (videoId, thumbnail, duration) and the descriptive
// ones are accepted.
type TrackPayload struct {
	ID           string `json:"id,omitempty"`
	VideoID      string `json:"videoId,omitempty"`
	Title        string `json:"title"`
	Channel      string `json:"channel"`
	Thumbnail    string `json:"thumbnail,omitempty"`
	ThumbnailURL string `json:"thumbnailUrl,omitempty"`
	Duration     string `json:"duration,omitempty"`
	DurationISO  string `json:"durationIso,omitempty"`
	AddedBy      string `json:"addedBy,omitempty"`
}

// MemberPayload is a member entry on the wire when sent as an object.
type MemberPayload struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Decode decodes a loosely typed payload (as produced by encoding/json into
// an interface value) into out, which must be a pointer.
func Decode(data any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return errors.Wrap(err, "failed to create decoder")
	}
	if err := dec.Decode(data); err != nil {
		return errors.Mark(errors.Wrap(err, "failed to decode payload"), ErrMalformedPayload)
	}
	return nil
}

// DecodeTracks decodes an update-playlist payload.
func DecodeTracks(data any) ([]track.Track, error) {
	var raw []TrackPayload
	if err := Decode(data, &raw); err != nil {
		return nil, err
	}
	tracks := make([]track.Track, 0, len(raw))
	for i, p := range raw {
		t := p.Track()
		if t.ID == "" {
			return nil, errors.Mark(errors.Newf("track %d has no id", i), ErrMalformedPayload)
		}
		tracks = append(tracks, t)
	}
	return tracks, nil
}

// Track converts the wire entry to a domain track.
func (p TrackPayload) Track() track.Track {
	return track.Track{
		ID:           firstNonEmpty(p.ID, p.VideoID),
		Title:        p.Title,
		Channel:      p.Channel,
		ThumbnailURL: firstNonEmpty(p.ThumbnailURL, p.Thumbnail),
		DurationISO:  firstNonEmpty(p.DurationISO, p.Duration),
		AddedBy:      p.AddedBy,
	}
}

// DecodeMembers decodes an update-members payload. Entries may be plain
// names or {id, name} objects.
func DecodeMembers(data any) ([]member.Member, error) {
	var raw []any
	if err := Decode(data, &raw); err != nil {
		return nil, err
	}
	members := make([]member.Member, 0, len(raw))
	for i, entry := range raw {
		switch v := entry.(type) {
		case string:
			members = append(members, member.New("", v))
		default:
			var p MemberPayload
			if err := Decode(v, &p); err != nil {
				return nil, err
			}
			if p.ID == "" && p.Name == "" {
				return nil, errors.Mark(errors.Newf("member %d is empty", i), ErrMalformedPayload)
			}
			members = append(members, member.New(p.ID, p.Name))
		}
	}
	return members, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
