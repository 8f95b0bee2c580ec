// Package playlist provides the Playlist domain entity.
package playlist

import "github.com/osa030/19room/internal/domain/track"

// Playlist is the ordered list of tracks shared by a room.
// Insertion order defines track index addressing.
type Playlist struct {
	Tracks []track.Track
}

// New creates a playlist from the given tracks. The slice is copied.
func New(tracks []track.Track) *Playlist {
	cp := make([]track.Track, len(tracks))
	copy(cp, tracks)
	return &Playlist{Tracks: cp}
}

// Len returns the number of tracks.
func (p *Playlist) Len() int {
	if p == nil {
		return 0
	}
	return len(p.Tracks)
}

// IsEmpty returns true if the playlist has no tracks.
func (p *Playlist) IsEmpty() bool {
	return p.Len() == 0
}

// InBounds reports whether index addresses a track.
func (p *Playlist) InBounds(index int) bool {
	return index >= 0 && index < p.Len()
}

// At returns the track at index.
func (p *Playlist) At(index int) (track.Track, bool) {
	if !p.InBounds(index) {
		return track.Track{}, false
	}
	return p.Tracks[index], true
}

// LastIndex returns the index of the last track, or -1 for an empty playlist.
func (p *Playlist) LastIndex() int {
	return p.Len() - 1
}

// IsLast reports whether index is the last track.
func (p *Playlist) IsLast(index int) bool {
	return !p.IsEmpty() && index == p.LastIndex()
}

// TrackIDs returns all track IDs in the playlist.
func (p *Playlist) TrackIDs() []string {
	ids := make([]string, p.Len())
	for i, t := range p.Tracks {
		ids[i] = t.ID
	}
	return ids
}

// TotalDuration returns the total duration of all tracks in seconds.
func (p *Playlist) TotalDuration() int64 {
	var total int64
	if p == nil {
		return 0
	}
	for _, t := range p.Tracks {
		total += int64(t.Duration().Seconds())
	}
	return total
}
