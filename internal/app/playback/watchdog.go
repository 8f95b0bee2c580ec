package playback

import "time"

// Startup recovery defaults.
const (
	DefaultWatchdogPoll   = 200 * time.Millisecond
	DefaultWatchdogBudget = 5 * time.Second
)

// WatchdogState is the phase of the startup recovery watchdog.
type WatchdogState int

const (
	WatchdogIdle      WatchdogState = iota // Not watching
	WatchdogWatching                       // Retrying play while the player is unstarted
	WatchdogRecovered                      // Player left the unstarted state
	WatchdogExpired                        // Budget exhausted, retries abandoned
)

// String returns the string representation of the watchdog state.
func (s WatchdogState) String() string {
	switch s {
	case WatchdogIdle:
		return "idle"
	case WatchdogWatching:
		return "watching"
	case WatchdogRecovered:
		return "recovered"
	case WatchdogExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// WatchdogAction is what the caller must do after a poll.
type WatchdogAction int

const (
	WatchdogNoop      WatchdogAction = iota // Nothing to do
	WatchdogRetryPlay                       // Re-issue Play()
	WatchdogRecover                         // Clear the first-load flag and request a snapshot
	WatchdogGiveUp                          // Stop polling
)

// String returns the string representation of the action.
func (a WatchdogAction) String() string {
	switch a {
	case WatchdogNoop:
		return "noop"
	case WatchdogRetryPlay:
		return "retry_play"
	case WatchdogRecover:
		return "recover"
	case WatchdogGiveUp:
		return "give_up"
	default:
		return "unknown"
	}
}

// Watchdog detects a player stuck in the unstarted state after a load and
// retries playback within a bounded window. One watchdog serves one load;
// Reset must be called whenever a new track is loaded.
type Watchdog struct {
	poll      time.Duration
	budget    time.Duration
	state     WatchdogState
	startedAt time.Time
	retries   int
}

// NewWatchdog creates a watchdog. Non-positive values use the defaults.
func NewWatchdog(poll, budget time.Duration) *Watchdog {
	if poll <= 0 {
		poll = DefaultWatchdogPoll
	}
	if budget <= 0 {
		budget = DefaultWatchdogBudget
	}
	return &Watchdog{poll: poll, budget: budget}
}

// PollInterval returns the poll interval.
func (w *Watchdog) PollInterval() time.Duration {
	return w.poll
}

// State returns the current state.
func (w *Watchdog) State() WatchdogState {
	return w.state
}

// Retries returns the number of Play() retries requested since Arm.
func (w *Watchdog) Retries() int {
	return w.retries
}

// Arm starts watching. It returns false if the watchdog already ran for the
// current load (watching, recovered or expired).
func (w *Watchdog) Arm(now time.Time) bool {
	if w.state != WatchdogIdle {
		return false
	}
	w.state = WatchdogWatching
	w.startedAt = now
	w.retries = 0
	return true
}

// Tick polls the player lifecycle and returns the action to take.
func (w *Watchdog) Tick(now time.Time, lc Lifecycle) WatchdogAction {
	if w.state != WatchdogWatching {
		return WatchdogNoop
	}
	if lc != LifecycleUnstarted {
		w.state = WatchdogRecovered
		return WatchdogRecover
	}
	if now.Sub(w.startedAt) >= w.budget {
		w.state = WatchdogExpired
		return WatchdogGiveUp
	}
	w.retries++
	return WatchdogRetryPlay
}

// Reset returns the watchdog to idle for a new load.
func (w *Watchdog) Reset() {
	w.state = WatchdogIdle
	w.startedAt = time.Time{}
	w.retries = 0
}

// IsActive reports whether the watchdog is watching.
func (w *Watchdog) IsActive() bool {
	return w.state == WatchdogWatching
}
