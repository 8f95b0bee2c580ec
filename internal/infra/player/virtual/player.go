// Package virtual provides a clock-driven player that renders no media.
// It advances position with wall (or mock) time and reports lifecycle
// transitions like a real embedded player would.
package virtual

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/19room/internal/app/notification"
	"github.com/osa030/19room/internal/app/playback"
	"github.com/osa030/19room/internal/domain/track"
)

var (
	// ErrNoTrack is returned by commands issued before a track is loaded.
	ErrNoTrack = errors.New("no track loaded")
	// ErrClosed is returned by commands issued after Close.
	ErrClosed = errors.New("player closed")
)

// Option configures a Player.
type Option func(*Player)

// WithClock sets the time source.
func WithClock(c clock.Clock) Option {
	return func(p *Player) { p.clock = c }
}

// WithDefaultDuration sets the length used for tracks whose duration is
// unknown. Zero means such tracks never end.
func WithDefaultDuration(d time.Duration) Option {
	return func(p *Player) { p.defaultDuration = d.Seconds() }
}

// Player implements playback.Adapter.
type Player struct {
	mu              sync.Mutex
	clock           clock.Clock
	defaultDuration float64

	loaded    track.Track
	hasTrack  bool
	duration  float64
	base      float64   // position when the clock was last anchored
	anchor    time.Time // start of the current playing stretch
	lifecycle playback.Lifecycle
	endTimer  *clock.Timer
	gen       uint64
	closed    bool
	volume    int
	muted     bool

	events *notification.Bus[playback.Lifecycle]
}

// New creates a virtual player.
func New(opts ...Option) *Player {
	p := &Player{
		clock:  clock.New(),
		volume: 100,
		events: notification.NewBus[playback.Lifecycle](),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Load implements playback.Adapter.
func (p *Player) Load(t track.Track) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	p.stopTimer()
	p.loaded = t
	p.hasTrack = true
	p.duration = t.Duration().Seconds()
	if p.duration <= 0 {
		p.duration = p.defaultDuration
	}
	p.base = 0
	p.lifecycle = playback.LifecycleUnstarted
	duration := p.duration
	p.mu.Unlock()

	zlog.Debug().Msgf("virtual: loaded track_id=%s duration=%.1f", t.ID, duration)
	p.events.Publish(playback.LifecycleUnstarted)
	return nil
}

// Play implements playback.Adapter.
func (p *Player) Play() error {
	p.mu.Lock()
	if err := p.ready(); err != nil {
		p.mu.Unlock()
		return err
	}
	if p.lifecycle == playback.LifecyclePlaying {
		p.mu.Unlock()
		return nil
	}
	if p.lifecycle == playback.LifecycleEnded {
		p.base = 0
	}
	p.anchor = p.clock.Now()
	p.lifecycle = playback.LifecyclePlaying
	p.scheduleEnd()
	p.mu.Unlock()

	p.events.Publish(playback.LifecyclePlaying)
	return nil
}

// Pause implements playback.Adapter.
func (p *Player) Pause() error {
	p.mu.Lock()
	if err := p.ready(); err != nil {
		p.mu.Unlock()
		return err
	}
	if p.lifecycle != playback.LifecyclePlaying {
		p.mu.Unlock()
		return nil
	}
	p.base = p.position()
	p.stopTimer()
	p.lifecycle = playback.LifecyclePaused
	p.mu.Unlock()

	p.events.Publish(playback.LifecyclePaused)
	return nil
}

// Seek implements playback.Adapter. The target is clamped to the track.
func (p *Player) Seek(seconds float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ready(); err != nil {
		return err
	}
	p.base = p.clamp(seconds)
	switch p.lifecycle {
	case playback.LifecyclePlaying:
		p.anchor = p.clock.Now()
		p.scheduleEnd()
	case playback.LifecycleEnded:
		p.lifecycle = playback.LifecyclePaused
	}
	return nil
}

// Position implements playback.Adapter.
func (p *Player) Position() (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ready(); err != nil {
		return 0, err
	}
	return p.position(), nil
}

// Duration implements playback.Adapter.
func (p *Player) Duration() (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ready(); err != nil {
		return 0, err
	}
	return p.duration, nil
}

// Lifecycle implements playback.Adapter.
func (p *Player) Lifecycle() playback.Lifecycle {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lifecycle
}

// OnLifecycle implements playback.Adapter.
func (p *Player) OnLifecycle(fn func(playback.Lifecycle)) func() {
	return p.events.Subscribe(fn)
}

// Loaded returns the loaded track, if any.
func (p *Player) Loaded() (track.Track, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loaded, p.hasTrack
}

// SetVolume implements playback.VolumeControl.
func (p *Player) SetVolume(level int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	if level < 0 || level > 100 {
		return errors.Newf("volume %d out of range", level)
	}
	p.volume = level
	return nil
}

// SetMuted implements playback.VolumeControl.
func (p *Player) SetMuted(muted bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	p.muted = muted
	return nil
}

// Output returns the volume level and mute state.
func (p *Player) Output() (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.volume, p.muted
}

// Close implements playback.Adapter.
func (p *Player) Close() error {
	p.mu.Lock()
	p.closed = true
	p.stopTimer()
	p.mu.Unlock()
	p.events.Close()
	return nil
}

func (p *Player) ready() error {
	if p.closed {
		return ErrClosed
	}
	if !p.hasTrack {
		return ErrNoTrack
	}
	return nil
}

func (p *Player) position() float64 {
	if p.lifecycle != playback.LifecyclePlaying {
		return p.base
	}
	return p.clamp(p.base + p.clock.Since(p.anchor).Seconds())
}

func (p *Player) clamp(seconds float64) float64 {
	if seconds < 0 {
		return 0
	}
	if p.duration > 0 && seconds > p.duration {
		return p.duration
	}
	return seconds
}

// scheduleEnd arms the end-of-track timer for the current playing stretch.
func (p *Player) scheduleEnd() {
	p.stopTimer()
	if p.duration <= 0 {
		return
	}
	remaining := time.Duration((p.duration - p.base) * float64(time.Second))
	gen := p.gen
	p.endTimer = p.clock.AfterFunc(remaining, func() { p.onEnd(gen) })
}

func (p *Player) stopTimer() {
	p.gen++
	if p.endTimer != nil {
		p.endTimer.Stop()
		p.endTimer = nil
	}
}

func (p *Player) onEnd(gen uint64) {
	p.mu.Lock()
	if p.closed || gen != p.gen || p.lifecycle != playback.LifecyclePlaying {
		p.mu.Unlock()
		return
	}
	p.base = p.duration
	p.lifecycle = playback.LifecycleEnded
	p.endTimer = nil
	id := p.loaded.ID
	p.mu.Unlock()

	zlog.Debug().Msgf("virtual: ended track_id=%s", id)
	p.events.Publish(playback.LifecycleEnded)
}
