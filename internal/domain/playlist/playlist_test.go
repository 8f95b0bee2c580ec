package playlist

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/osa030/19room/internal/domain/track"
)

func threeTracks() []track.Track {
	return []track.Track{
		{ID: "a", Title: "First", DurationISO: "PT3M"},
		{ID: "b", Title: "Second", DurationISO: "PT2M30S"},
		{ID: "c", Title: "Third", DurationISO: "PT1M"},
	}
}

func TestPlaylist_Addressing(t *testing.T) {
	p := New(threeTracks())

	tests := []struct {
		name     string
		index    int
		inBounds bool
		isLast   bool
		wantID   string
	}{
		{name: "first", index: 0, inBounds: true, wantID: "a"},
		{name: "middle", index: 1, inBounds: true, wantID: "b"},
		{name: "last", index: 2, inBounds: true, isLast: true, wantID: "c"},
		{name: "past end", index: 3, inBounds: false},
		{name: "negative", index: -1, inBounds: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.inBounds, p.InBounds(tt.index))
			assert.Equal(t, tt.isLast, p.IsLast(tt.index))

			trk, ok := p.At(tt.index)
			assert.Equal(t, tt.inBounds, ok)
			assert.Equal(t, tt.wantID, trk.ID)
		})
	}
}

func TestPlaylist_Empty(t *testing.T) {
	var nilList *Playlist
	assert.Equal(t, 0, nilList.Len())
	assert.True(t, nilList.IsEmpty())

	p := New(nil)
	assert.True(t, p.IsEmpty())
	assert.Equal(t, -1, p.LastIndex())
	assert.False(t, p.IsLast(-1))
	assert.False(t, p.InBounds(0))
}

func TestPlaylist_NewCopiesInput(t *testing.T) {
	tracks := threeTracks()
	p := New(tracks)
	tracks[0].ID = "changed"

	assert.Equal(t, []string{"a", "b", "c"}, p.TrackIDs())
}

func TestPlaylist_TotalDuration(t *testing.T) {
	p := New(threeTracks())
	assert.Equal(t, int64(390), p.TotalDuration())
}
