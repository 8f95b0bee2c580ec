// Package mpv drives an external mpv process over its JSON IPC socket.
//
// mpv must be started with --input-ipc-server pointing at the configured
// socket, with --idle=yes so it survives a file that fails to open, and
// with --keep-open=yes so that eof-reached is observable.
package mpv

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/19room/internal/app/notification"
	"github.com/osa030/19room/internal/app/playback"
	"github.com/osa030/19room/internal/domain/track"
)

// ErrNoTrack is returned by commands issued before a track is loaded.
var ErrNoTrack = errors.New("no track loaded")

// Config represents mpv player configuration.
type Config struct {
	Socket       string        // IPC socket path
	URLTemplate  string        // fmt template turning a track ID into a URL
	PollInterval time.Duration // property poll interval
}

// Option configures a Player.
type Option func(*Player)

// WithClock sets the time source of the property poller.
func WithClock(c clock.Clock) Option {
	return func(p *Player) { p.clock = c }
}

// Player implements playback.Adapter against a running mpv.
type Player struct {
	socketPath  string
	urlTemplate string
	clock       clock.Clock

	ipcMu sync.Mutex // serializes IPC round trips

	mu        sync.Mutex
	loaded    string
	lifecycle playback.Lifecycle
	started   bool // time-pos has been seen for the loaded file
	faulted   bool

	events *notification.Bus[playback.Lifecycle]
	ticker *clock.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// New creates an mpv player and starts its property poller.
func New(cfg Config, opts ...Option) (*Player, error) {
	if cfg.Socket == "" {
		return nil, errors.New("mpv socket path is required")
	}
	if !strings.Contains(cfg.URLTemplate, "%s") {
		return nil, errors.Newf("url template %q has no %%s verb", cfg.URLTemplate)
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 250 * time.Millisecond
	}

	p := &Player{
		socketPath:  cfg.Socket,
		urlTemplate: cfg.URLTemplate,
		clock:       clock.New(),
		events:      notification.NewBus[playback.Lifecycle](),
		stop:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}

	p.ticker = p.clock.Ticker(cfg.PollInterval)
	p.wg.Add(1)
	go p.pollLoop()
	return p, nil
}

// Load implements playback.Adapter. The file is loaded paused so that the
// caller decides when it starts.
func (p *Player) Load(t track.Track) error {
	url := fmt.Sprintf(p.urlTemplate, t.ID)
	if _, err := p.sendCommand("loadfile", url, "replace"); err != nil {
		return errors.Wrapf(err, "failed to load %s", t.ID)
	}
	if _, err := p.sendCommand("set_property", "pause", true); err != nil {
		return errors.Wrap(err, "failed to pause after load")
	}

	p.mu.Lock()
	p.loaded = t.ID
	p.started = false
	p.faulted = false
	p.lifecycle = playback.LifecycleUnstarted
	p.mu.Unlock()

	zlog.Debug().Msgf("mpv: loadfile %s", url)
	p.events.Publish(playback.LifecycleUnstarted)
	return nil
}

// Play implements playback.Adapter. The lifecycle changes once the poller
// observes mpv playing.
func (p *Player) Play() error {
	if err := p.requireTrack(); err != nil {
		return err
	}
	_, err := p.sendCommand("set_property", "pause", false)
	return err
}

// Pause implements playback.Adapter.
func (p *Player) Pause() error {
	if err := p.requireTrack(); err != nil {
		return err
	}
	_, err := p.sendCommand("set_property", "pause", true)
	return err
}

// Seek implements playback.Adapter.
func (p *Player) Seek(seconds float64) error {
	if err := p.requireTrack(); err != nil {
		return err
	}
	if seconds < 0 {
		seconds = 0
	}
	_, err := p.sendCommand("seek", seconds, "absolute")
	return err
}

// SetVolume implements playback.VolumeControl. mpv keeps the level
// across loadfile, so no track is required.
func (p *Player) SetVolume(level int) error {
	_, err := p.sendCommand("set_property", "volume", level)
	return errors.Wrap(err, "failed to set volume")
}

// SetMuted implements playback.VolumeControl.
func (p *Player) SetMuted(muted bool) error {
	_, err := p.sendCommand("set_property", "mute", muted)
	return errors.Wrap(err, "failed to set mute")
}

// Position implements playback.Adapter.
func (p *Player) Position() (float64, error) {
	if err := p.requireTrack(); err != nil {
		return 0, err
	}
	v, err := p.floatProperty("time-pos")
	if errors.Is(err, ErrPropertyUnavailable) {
		return 0, nil
	}
	return v, err
}

// Duration implements playback.Adapter.
func (p *Player) Duration() (float64, error) {
	if err := p.requireTrack(); err != nil {
		return 0, err
	}
	v, err := p.floatProperty("duration")
	if errors.Is(err, ErrPropertyUnavailable) {
		return 0, nil
	}
	return v, err
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

// Close stops the poller. The mpv process is left running.
func (p *Player) Close() error {
	p.once.Do(func() {
		close(p.stop)
		p.ticker.Stop()
		p.wg.Wait()
		p.events.Close()
	})
	return nil
}

func (p *Player) requireTrack() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.loaded == "" {
		return ErrNoTrack
	}
	return nil
}

func (p *Player) floatProperty(name string) (float64, error) {
	v, err := p.sendCommand("get_property", name)
	if err != nil {
		return 0, err
	}
	f, ok := v.(float64)
	if !ok {
		return 0, errors.Newf("property %s: unexpected value %v", name, v)
	}
	return f, nil
}

func (p *Player) boolProperty(name string) (bool, error) {
	v, err := p.sendCommand("get_property", name)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, errors.Newf("property %s: unexpected value %v", name, v)
	}
	return b, nil
}

func (p *Player) pollLoop() {
	defer p.wg.Done()
	for {
		select {
		case <-p.stop:
			return
		case <-p.ticker.C:
			p.poll()
		}
	}
}

// poll derives the lifecycle from mpv's properties and publishes changes.
func (p *Player) poll() {
	if p.requireTrack() != nil {
		return
	}

	next, err := p.observe()
	if err != nil {
		p.mu.Lock()
		already := p.faulted
		p.faulted = true
		p.mu.Unlock()
		if !already {
			zlog.Warn().Msgf("mpv: poll failed: %v", err)
		}
		next = playback.LifecycleError
	}

	p.mu.Lock()
	if next == p.lifecycle {
		p.mu.Unlock()
		return
	}
	p.lifecycle = next
	p.mu.Unlock()
	p.events.Publish(next)
}

func (p *Player) observe() (playback.Lifecycle, error) {
	eof, err := p.boolProperty("eof-reached")
	if err != nil && !errors.Is(err, ErrPropertyUnavailable) {
		return 0, err
	}
	if eof {
		return playback.LifecycleEnded, nil
	}

	_, err = p.floatProperty("time-pos")
	switch {
	case errors.Is(err, ErrPropertyUnavailable):
		p.mu.Lock()
		started, current := p.started, p.lifecycle
		p.mu.Unlock()
		if started {
			// A started file that lost its position was closed by mpv.
			return playback.LifecycleEnded, nil
		}
		// mpv drops back to idle when the loaded file cannot be opened.
		idle, err := p.boolProperty("idle-active")
		if err != nil && !errors.Is(err, ErrPropertyUnavailable) {
			return 0, err
		}
		if idle {
			return playback.LifecycleError, nil
		}
		return current, nil
	case err != nil:
		return 0, err
	}

	paused, err := p.boolProperty("pause")
	if err != nil {
		return 0, err
	}

	p.mu.Lock()
	wasStarted := p.started
	if !paused {
		p.started = true
	}
	p.faulted = false
	p.mu.Unlock()

	switch {
	case !paused:
		return playback.LifecyclePlaying, nil
	case wasStarted:
		return playback.LifecyclePaused, nil
	default:
		return playback.LifecycleUnstarted, nil
	}
}
