// Package playback provides the replica playback state and the state machines
// that keep a local player aligned with it.
package playback

import "github.com/cockroachdb/errors"

// ErrUnknownRepeatMode is returned when parsing an unrecognised repeat mode.
var ErrUnknownRepeatMode = errors.New("unknown repeat mode")

// RepeatMode controls what happens when a track ends.
type RepeatMode string

const (
	RepeatNone RepeatMode = "none" // Stop after the last track
	RepeatOne  RepeatMode = "one"  // Restart the current track
	RepeatAll  RepeatMode = "all"  // Wrap to the first track after the last
)

// ParseRepeatMode parses the wire representation of a repeat mode.
// An empty string is treated as RepeatNone.
func ParseRepeatMode(s string) (RepeatMode, error) {
	switch RepeatMode(s) {
	case RepeatNone, "":
		return RepeatNone, nil
	case RepeatOne:
		return RepeatOne, nil
	case RepeatAll:
		return RepeatAll, nil
	default:
		return RepeatNone, errors.Wrapf(ErrUnknownRepeatMode, "%q", s)
	}
}

// Next returns the mode that follows m in the none -> one -> all cycle.
func (m RepeatMode) Next() RepeatMode {
	switch m {
	case RepeatNone:
		return RepeatOne
	case RepeatOne:
		return RepeatAll
	default:
		return RepeatNone
	}
}

// String returns the string representation of the repeat mode.
func (m RepeatMode) String() string {
	if m == "" {
		return string(RepeatNone)
	}
	return string(m)
}

// State is the playback clock of a room.
// The coordinator owns it; clients hold a replica that only changes when a
// broadcast or snapshot is applied.
type State struct {
	TrackIndex int
	Position   float64 // seconds
	IsPlaying  bool
	RepeatMode RepeatMode
}

// Lifecycle is the phase reported by a player control surface.
type Lifecycle int

const (
	LifecycleUnstarted Lifecycle = iota // Loaded but not started
	LifecyclePlaying                    // Playing
	LifecyclePaused                     // Paused
	LifecycleEnded                      // Reached the end of the track
	LifecycleError                      // Player fault
)

// String returns the string representation of the lifecycle state.
func (l Lifecycle) String() string {
	switch l {
	case LifecycleUnstarted:
		return "unstarted"
	case LifecyclePlaying:
		return "playing"
	case LifecyclePaused:
		return "paused"
	case LifecycleEnded:
		return "ended"
	case LifecycleError:
		return "error"
	default:
		return "unknown"
	}
}
