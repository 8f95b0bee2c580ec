// Package playbacktest provides a recording player adapter for tests.
package playbacktest

import (
	"fmt"
	"sync"

	"github.com/osa030/19room/internal/app/notification"
	"github.com/osa030/19room/internal/app/playback"
	"github.com/osa030/19room/internal/domain/track"
)

// Adapter records every command it receives. Position, duration and
// lifecycle are set by the test.
type Adapter struct {
	mu        sync.Mutex
	commands  []string
	position  float64
	duration  float64
	lifecycle playback.Lifecycle
	loaded    string
	events    *notification.Bus[playback.Lifecycle]

	// LoadErr is returned by Load when set.
	LoadErr error
	// StickUnstarted keeps the lifecycle at unstarted when Play is called.
	StickUnstarted bool
}

// New creates a recording adapter with a 180s track duration.
func New() *Adapter {
	return &Adapter{
		duration: 180,
		events:   notification.NewBus[playback.Lifecycle](),
	}
}

func (a *Adapter) record(format string, args ...any) {
	a.commands = append(a.commands, fmt.Sprintf(format, args...))
}

// Load implements playback.Adapter.
func (a *Adapter) Load(t track.Track) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.LoadErr != nil {
		return a.LoadErr
	}
	a.record("load(%s)", t.ID)
	a.loaded = t.ID
	a.position = 0
	a.lifecycle = playback.LifecycleUnstarted
	return nil
}

// Play implements playback.Adapter.
func (a *Adapter) Play() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.record("play()")
	if !a.StickUnstarted {
		a.lifecycle = playback.LifecyclePlaying
	}
	return nil
}

// Pause implements playback.Adapter.
func (a *Adapter) Pause() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.record("pause()")
	if a.lifecycle != playback.LifecycleUnstarted {
		a.lifecycle = playback.LifecyclePaused
	}
	return nil
}

// Seek implements playback.Adapter.
func (a *Adapter) Seek(seconds float64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.record("seek(%g)", seconds)
	a.position = seconds
	return nil
}

// Position implements playback.Adapter.
func (a *Adapter) Position() (float64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.position, nil
}

// Duration implements playback.Adapter.
func (a *Adapter) Duration() (float64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.duration, nil
}

// Lifecycle implements playback.Adapter.
func (a *Adapter) Lifecycle() playback.Lifecycle {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lifecycle
}

// OnLifecycle implements playback.Adapter.
func (a *Adapter) OnLifecycle(fn func(playback.Lifecycle)) func() {
	return a.events.Subscribe(fn)
}

// SetVolume implements playback.VolumeControl.
func (a *Adapter) SetVolume(level int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.record("volume(%d)", level)
	return nil
}

// SetMuted implements playback.VolumeControl.
func (a *Adapter) SetMuted(muted bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.record("mute(%t)", muted)
	return nil
}

// Close implements playback.Adapter.
func (a *Adapter) Close() error {
	a.events.Close()
	return nil
}

// Emit sets the lifecycle and notifies subscribers.
func (a *Adapter) Emit(lc playback.Lifecycle) {
	a.mu.Lock()
	a.lifecycle = lc
	a.mu.Unlock()
	a.events.Publish(lc)
}

// SetPosition sets the reported position.
func (a *Adapter) SetPosition(seconds float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.position = seconds
}

// SetDuration sets the reported duration.
func (a *Adapter) SetDuration(seconds float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.duration = seconds
}

// SetLifecycle sets the lifecycle without notifying subscribers.
func (a *Adapter) SetLifecycle(lc playback.Lifecycle) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lifecycle = lc
}

// Commands returns a copy of the recorded commands, or nil if none.
func (a *Adapter) Commands() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.commands) == 0 {
		return nil
	}
	out := make([]string, len(a.commands))
	copy(out, a.commands)
	return out
}

// Count returns how many recorded commands equal cmd.
func (a *Adapter) Count(cmd string) int {
	n := 0
	for _, c := range a.Commands() {
		if c == cmd {
			n++
		}
	}
	return n
}

// Reset clears the recorded commands.
func (a *Adapter) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.commands = nil
}
