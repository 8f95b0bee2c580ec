package playback

import "time"

// DefaultMinTrackDuration is the shortest duration an ended track may report
// for the end to count as a real completion.
const DefaultMinTrackDuration = time.Second

// TransitionState is the phase of the end-of-track state machine.
type TransitionState int

const (
	AwaitingEnd   TransitionState = iota // Track is playing or idle
	Transitioning                        // A restart or advance has been decided but not applied
)

// String returns the string representation of the transition state.
func (s TransitionState) String() string {
	switch s {
	case AwaitingEnd:
		return "awaiting_end"
	case Transitioning:
		return "transitioning"
	default:
		return "unknown"
	}
}

// TransitionKind is the decided outcome of a track end.
type TransitionKind int

const (
	TransitionIgnore  TransitionKind = iota // Spurious end; nothing to do
	TransitionRestart                       // Seek to 0 on the same track
	TransitionAdvance                       // Move to NextIndex
	TransitionStop                          // Playback ends
)

// String returns the string representation of the transition kind.
func (k TransitionKind) String() string {
	switch k {
	case TransitionIgnore:
		return "ignore"
	case TransitionRestart:
		return "restart"
	case TransitionAdvance:
		return "advance"
	case TransitionStop:
		return "stop"
	default:
		return "unknown"
	}
}

// Transition is the decision for one end-of-track (or fault) event.
type Transition struct {
	Kind      TransitionKind
	NextIndex int
	// Propose is set when the local member must publish the index change
	// upstream so every replica converges.
	Propose bool
}

// TrackEnd describes the situation in which the player reported an end.
type TrackEnd struct {
	Duration float64 // seconds, as reported by the player
	Index    int
	Length   int // playlist length
	Mode     RepeatMode
	IsLeader bool
}

// Transitioner decides what follows the end of a track.
type Transitioner struct {
	minDuration float64
	state       TransitionState
}

// NewTransitioner creates a transitioner. A non-positive minDuration uses DefaultMinTrackDuration.
func NewTransitioner(minDuration time.Duration) *Transitioner {
	if minDuration <= 0 {
		minDuration = DefaultMinTrackDuration
	}
	return &Transitioner{minDuration: minDuration.Seconds()}
}

// State returns the current state.
func (t *Transitioner) State() TransitionState {
	return t.state
}

// OnEnded decides the transition for an ended event.
func (t *Transitioner) OnEnded(end TrackEnd) Transition {
	if t.state == Transitioning {
		return Transition{Kind: TransitionIgnore}
	}
	if end.Duration < t.minDuration || end.Length == 0 {
		return Transition{Kind: TransitionIgnore}
	}

	var tr Transition
	switch end.Mode {
	case RepeatOne:
		tr = Transition{Kind: TransitionRestart, NextIndex: end.Index}
	case RepeatAll:
		tr = advance(end, true)
	default:
		tr = advance(end, false)
	}

	if tr.Kind == TransitionAdvance || tr.Kind == TransitionRestart {
		t.state = Transitioning
	}
	return tr
}

// OnFault decides the skip that follows a player error. Repeat one does not
// restart a faulted track; only repeat all wraps around.
func (t *Transitioner) OnFault(end TrackEnd) Transition {
	if t.state == Transitioning || end.Length == 0 {
		return Transition{Kind: TransitionIgnore}
	}
	tr := advance(end, end.Mode == RepeatAll)
	if tr.Kind == TransitionAdvance {
		t.state = Transitioning
	}
	return tr
}

// Settle returns to AwaitingEnd once the decided command has been applied
// or superseded by a track change. A newly loaded track always settles.
func (t *Transitioner) Settle() {
	t.state = AwaitingEnd
}

func advance(end TrackEnd, wrap bool) Transition {
	last := end.Length - 1
	if end.Index >= last {
		if !wrap {
			return Transition{Kind: TransitionStop, NextIndex: end.Index}
		}
		return Transition{Kind: TransitionAdvance, NextIndex: 0, Propose: end.IsLeader}
	}
	return Transition{Kind: TransitionAdvance, NextIndex: end.Index + 1, Propose: end.IsLeader}
}
