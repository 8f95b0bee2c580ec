package playback

import "github.com/osa030/19room/internal/domain/track"

// Adapter is the local player control surface.
// Implementations need not be safe for concurrent commands; callers issue
// commands from a single goroutine.
type Adapter interface {
	Load(t track.Track) error
	Play() error
	Pause() error
	Seek(seconds float64) error
	Position() (float64, error)
	Duration() (float64, error)
	Lifecycle() Lifecycle

	// OnLifecycle registers fn for lifecycle transitions and returns a
	// function that removes the registration.
	OnLifecycle(fn func(Lifecycle)) (unsubscribe func())

	Close() error
}

// VolumeControl is implemented by adapters whose output level can be set.
// Levels are percentages in [0, 100].
type VolumeControl interface {
	SetVolume(level int) error
	SetMuted(muted bool) error
}
