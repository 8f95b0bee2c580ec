package filter

import (
	"context"

	"github.com/osa030/19room/internal/api/protocol"
)

// IndexBoundsFilter drops broadcasts that address a track outside the playlist.
// Such a broadcast means the replica and the coordinator disagree about the
// playlist; applying it would leave the replica pointing at nothing.
type IndexBoundsFilter struct{}

func (f *IndexBoundsFilter) Name() string {
	return "index_bounds_filter"
}

func (f *IndexBoundsFilter) Description() string {
	return "Drops broadcasts whose track index is out of bounds for the playlist"
}

func (f *IndexBoundsFilter) ReturnCodes() []string {
	return []string{"index_out_of_bounds"}
}

func (f *IndexBoundsFilter) AppliesTo(event string) bool {
	switch event {
	case protocol.EventPlayVideoAt, protocol.EventUpdateCurrentIndex, protocol.EventSyncInfo:
		return true
	default:
		return false
	}
}

func (f *IndexBoundsFilter) Check(ctx context.Context, b Broadcast, v View) Result {
	if b.Index == nil {
		return Accept()
	}
	if *b.Index < 0 || *b.Index >= v.PlaylistLen() {
		return Reject("index_out_of_bounds")
	}
	return Accept()
}

func init() {
	Register("index_bounds_filter", func() Filter {
		return &IndexBoundsFilter{}
	})
}
