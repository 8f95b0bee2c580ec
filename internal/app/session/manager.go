// Package session provides the room session manager that reconciles the
// local player with the coordinator's authoritative playback state.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/19room/internal/api/protocol"
	"github.com/osa030/19room/internal/app/filter"
	"github.com/osa030/19room/internal/app/notification"
	"github.com/osa030/19room/internal/app/playback"
	"github.com/osa030/19room/internal/app/session/registry"
	"github.com/osa030/19room/internal/app/session/state"
	"github.com/osa030/19room/internal/domain/member"
	"github.com/osa030/19room/internal/domain/playlist"
	"github.com/osa030/19room/internal/domain/track"
	"github.com/osa030/19room/internal/infra/config"
)

// Errors
var (
	ErrClosed             = errors.New("session is closed")
	ErrNotConnected       = errors.New("session is not connected")
	ErrAlreadyConnected   = errors.New("session is already connected")
	ErrConnectionRejected = errors.New("connection rejected")
	ErrIndexOutOfRange    = errors.New("track index out of range")
	ErrNoNextTrack        = errors.New("no next track")
	ErrNoPreviousTrack    = errors.New("no previous track")
)

const (
	defaultRequestTimeout = 5 * time.Second
	inboxSize             = 256
	// previousRestartAfter is how far into a track "previous" restarts it
	// instead of going back.
	previousRestartAfter = 5.0
)

// Option configures a Manager.
type Option func(*Manager)

// WithClock sets the clock driving the watchdog, publisher and reconnect timers.
func WithClock(c clock.Clock) Option {
	return func(m *Manager) {
		m.clock = c
	}
}

// WithDirectory sets the room directory used to fill in handshake gaps.
func WithDirectory(d RoomDirectory) Option {
	return func(m *Manager) {
		m.directory = d
	}
}

// Manager is the reconciliation core of one room session.
//
// All replica state is owned by a single loop goroutine. Channel frames,
// player lifecycle events, timer ticks and user actions are serialized
// through its inbox, so no handler runs concurrently with another and the
// player adapter never receives concurrent commands.
type Manager struct {
	// Configuration
	config    *config.Config
	roomCode  string
	userName  string
	timeout   time.Duration
	clock     clock.Clock
	channel   Channel
	directory RoomDirectory

	// Components
	player      *playback.Controller
	drift       playback.DriftCorrector
	watchdog    *playback.Watchdog
	transitions *playback.Transitioner
	publisher   *playback.ClockPublisher
	filterChain *filter.Chain
	events      *notification.Bus[playback.Event]

	// Loop-owned state
	snapshot *state.Snapshot
	roster   *registry.Roster
	playlist *playlist.Playlist
	replica  playback.State
	title    string
	held     []protocol.Frame

	watchdogTicker *clock.Ticker
	publishTicker  *clock.Ticker

	disposers []func()

	// Channels
	inbox     chan func()
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// NewManager creates a session manager and starts its loop.
func NewManager(cfg *config.Config, channel Channel, adapter playback.Adapter, opts ...Option) *Manager {
	ctx, cancel := context.WithCancel(context.Background())

	timeout := cfg.RequestTimeout()
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	m := &Manager{
		config:   cfg,
		roomCode: cfg.Room.Code,
		userName: cfg.Room.UserName,
		timeout:  timeout,
		clock:    clock.New(),
		channel:  channel,

		player:      playback.NewController(adapter),
		drift:       playback.NewDriftCorrector(cfg.DriftThreshold()),
		watchdog:    playback.NewWatchdog(cfg.WatchdogPoll(), cfg.WatchdogBudget()),
		transitions: playback.NewTransitioner(cfg.MinTrackDuration()),
		publisher:   playback.NewClockPublisher(cfg.PublishInterval()),
		filterChain: filter.NewChain(),
		events:      notification.NewBus[playback.Event](),

		snapshot: state.New(),
		roster:   registry.NewRoster(""),
		playlist: playlist.New(nil),
		replica:  playback.State{RepeatMode: playback.RepeatNone},

		inbox:  make(chan func(), inboxSize),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}

	m.setupFilters()

	m.disposers = append(m.disposers,
		channel.Subscribe(func(f protocol.Frame) {
			m.post(func() { m.handleFrame(f) })
		}),
		channel.OnDisconnect(func(err error) {
			m.post(func() { m.onDisconnect(err) })
		}),
	)
	if adapter != nil {
		m.disposers = append(m.disposers, adapter.OnLifecycle(func(lc playback.Lifecycle) {
			m.post(func() { m.onLifecycle(lc) })
		}))
	}

	go m.loop()
	return m
}

// setupFilters initializes the broadcast guard chain.
func (m *Manager) setupFilters() {
	cfg := m.config

	// ConnectedFilter
	m.filterChain.Add(&filter.ConnectedFilter{})

	// RoomCodeFilter
	if cfg.IsFilterEnabled("room_code_filter") {
		m.filterChain.Add(&filter.RoomCodeFilter{})
	}

	// SequenceFilter
	if cfg.IsFilterEnabled("sequence_filter") {
		m.filterChain.Add(&filter.SequenceFilter{})
	}

	// IndexBoundsFilter
	m.filterChain.Add(&filter.IndexBoundsFilter{})

	for _, f := range m.filterChain.Filters() {
		zlog.Debug().Msgf("filter enabled: name=%s", f.Name())
	}
}

// loop runs every handler of the session.
func (m *Manager) loop() {
	defer close(m.done)
	defer func() {
		if r := recover(); r != nil {
			zlog.Error().Msgf("session loop panicked: %v", r)
		}
		m.stopTimers()
	}()

	for {
		select {
		case <-m.ctx.Done():
			return
		case fn := <-m.inbox:
			// Ticks already due are handled before queued work.
			m.pollTimers()
			fn()
		case now := <-tickC(m.watchdogTicker):
			m.onWatchdogTick(now)
		case <-tickC(m.publishTicker):
			m.onPublishTick()
		}
	}
}

func (m *Manager) pollTimers() {
	select {
	case now := <-tickC(m.watchdogTicker):
		m.onWatchdogTick(now)
	default:
	}
	select {
	case <-tickC(m.publishTicker):
		m.onPublishTick()
	default:
	}
}

func tickC(t *clock.Ticker) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}

// post queues fn on the loop. It returns false once the loop has stopped.
func (m *Manager) post(fn func()) bool {
	select {
	case <-m.done:
		return false
	default:
	}
	select {
	case m.inbox <- fn:
		return true
	case <-m.done:
		return false
	}
}

// call runs fn on the loop and waits for it to finish.
func (m *Manager) call(fn func()) error {
	finished := make(chan struct{})
	if !m.post(func() {
		fn()
		close(finished)
	}) {
		return ErrClosed
	}
	select {
	case <-finished:
		return nil
	case <-m.done:
		return ErrClosed
	}
}

// Subscribe registers fn for reconciliation events and returns a disposer.
// fn runs on the session loop and must not call back into the Manager
// synchronously.
func (m *Manager) Subscribe(fn func(playback.Event)) func() {
	return m.events.Subscribe(fn)
}

func (m *Manager) publish(t playback.EventType) {
	ev := playback.Event{
		Type:     t,
		State:    m.replica,
		IsLeader: m.roster.IsLeader(),
	}
	if cur, ok := m.playlist.At(m.replica.TrackIndex); ok {
		ev.Track = &cur
	}
	m.events.Publish(ev)
}

// Done returns a channel closed when the session loop stops.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// Close stops the loop and releases the player and the channel without
// notifying the coordinator. Use Leave for an orderly exit.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		m.cancel()
		<-m.done
		for _, dispose := range m.disposers {
			dispose()
		}
		m.disposers = nil
		if err := m.channel.Close(); err != nil {
			zlog.Debug().Msgf("session: close channel: %v", err)
		}
		if a := m.player.Adapter(); a != nil {
			if err := a.Close(); err != nil {
				zlog.Debug().Msgf("session: close player: %v", err)
			}
		}
		m.events.Close()
	})
}

// RoomCode implements filter.View.
func (m *Manager) RoomCode() string {
	return m.roomCode
}

// PlaylistLen implements filter.View.
func (m *Manager) PlaylistLen() int {
	return m.playlist.Len()
}

// LastSequenceNo implements filter.View.
func (m *Manager) LastSequenceNo() uint64 {
	return m.snapshot.LastSequenceNo()
}

// Connected implements filter.View.
func (m *Manager) Connected() bool {
	return m.snapshot.Phase() == state.PhaseConnected
}

// Status represents the current session status.
type Status struct {
	Phase         state.Phase
	RoomCode      string
	Title         string
	PlaybackState playback.State
	CurrentTrack  *track.Track
	Position      float64 // local player position
	Volume        playback.Volume
	Playlist      []track.Track
	Members       []member.Member
	Leader        member.Member
	IsLeader      bool
	Epoch         uint64
	Watchdog      playback.WatchdogState
	Transition    playback.TransitionState
	Dropped       map[string]uint64 // broadcasts rejected per filter
}

// GetStatus returns the current session status.
func (m *Manager) GetStatus() *Status {
	var st *Status
	if err := m.call(func() {
		st = &Status{
			Phase:         m.snapshot.Phase(),
			RoomCode:      m.roomCode,
			Title:         m.title,
			PlaybackState: m.replica,
			Playlist:      append([]track.Track(nil), m.playlist.Tracks...),
			Members:       m.roster.All(),
			IsLeader:      m.roster.IsLeader(),
			Epoch:         m.snapshot.Epoch(),
			Watchdog:      m.watchdog.State(),
			Transition:    m.transitions.State(),
			Dropped:       m.filterChain.Drops(),
			Volume:        m.player.Volume(),
		}
		st.Leader, _ = m.roster.Leader()
		if cur, ok := m.playlist.At(m.replica.TrackIndex); ok {
			st.CurrentTrack = &cur
		}
		if m.player.LoadedID() != "" {
			if pos, err := m.player.Position(); err == nil {
				st.Position = pos
			}
		}
	}); err != nil {
		return &Status{Phase: state.PhaseLeft, RoomCode: m.roomCode}
	}
	return st
}
