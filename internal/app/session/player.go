package session

import (
	"context"
	"time"

	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/19room/internal/api/protocol"
	"github.com/osa030/19room/internal/app/playback"
	"github.com/osa030/19room/internal/app/session/state"
	"github.com/osa030/19room/internal/domain/track"
)

// load loads a different track and starts a new load epoch. Any watchdog
// of the previous load is cancelled.
func (m *Manager) load(t track.Track) bool {
	m.stopWatchdog()
	m.watchdog.Reset()
	if err := m.player.Load(t); err != nil {
		zlog.Error().Msgf("session: load failed: track_id=%s error=%v", t.ID, err)
		return false
	}
	epoch := m.snapshot.BeginLoad()
	// A fault or end on the new track is judged on its own.
	m.transitions.Settle()
	zlog.Info().Msgf("session: loaded track_id=%s title=%q epoch=%d", t.ID, t.Title, epoch)
	m.publish(playback.EventTrackChanged)
	return true
}

// loadAt moves the player to index at the given time. A track that is
// already loaded is only seeked, keeping its buffer.
func (m *Manager) loadAt(index int, at float64) bool {
	t, ok := m.playlist.At(index)
	if !ok {
		zlog.Warn().Msgf("session: inconsistency: index=%d out of bounds (tracks=%d)", index, m.playlist.Len())
		return false
	}
	m.replica.TrackIndex = index
	m.replica.Position = at
	m.snapshot.ObservePosition(at)

	if m.player.IsLoaded(t.ID) {
		m.seek(at)
		m.reconcilePlayState()
		return true
	}
	if !m.load(t) {
		return false
	}
	m.seek(at)
	m.apply(m.replica.IsPlaying)
	m.checkStartup()
	return true
}

func (m *Manager) seek(at float64) {
	if m.player.LoadedID() == "" {
		return
	}
	if err := m.player.Seek(at); err != nil {
		zlog.Warn().Msgf("session: seek failed: time=%.2f error=%v", at, err)
	}
}

func (m *Manager) apply(isPlaying bool) {
	if m.player.LoadedID() == "" {
		return
	}
	if err := m.player.Apply(isPlaying); err != nil {
		zlog.Warn().Msgf("session: apply play state failed: playing=%t error=%v", isPlaying, err)
	}
}

// reconcilePlayState issues play or pause only if the player disagrees
// with the replica.
func (m *Manager) reconcilePlayState() {
	playing := m.player.Lifecycle() == playback.LifecyclePlaying
	if playing != m.replica.IsPlaying {
		m.apply(m.replica.IsPlaying)
	}
}

// checkStartup arms the startup watchdog when a freshly loaded track that
// should be playing has not started.
func (m *Manager) checkStartup() {
	if !m.snapshot.FirstLoadPending() || !m.replica.IsPlaying {
		return
	}
	if m.player.Lifecycle() != playback.LifecycleUnstarted {
		return
	}
	m.startWatchdog()
}

func (m *Manager) startWatchdog() {
	if !m.watchdog.Arm(m.clock.Now()) {
		return
	}
	zlog.Debug().Msgf("session: startup watchdog armed: track_id=%s", m.player.LoadedID())
	m.watchdogTicker = m.clock.Ticker(m.watchdog.PollInterval())
}

func (m *Manager) stopWatchdog() {
	if m.watchdogTicker != nil {
		m.watchdogTicker.Stop()
		m.watchdogTicker = nil
	}
}

func (m *Manager) onWatchdogTick(now time.Time) {
	switch m.watchdog.Tick(now, m.player.Lifecycle()) {
	case playback.WatchdogRetryPlay:
		if err := m.player.Play(); err != nil {
			zlog.Debug().Msgf("session: watchdog retry failed: %v", err)
		}
	case playback.WatchdogRecover:
		m.stopWatchdog()
		zlog.Info().Msgf("session: player started after %d retries", m.watchdog.Retries())
		m.snapshot.ClearFirstLoad()
		m.requestSnapshot()
	case playback.WatchdogGiveUp:
		m.stopWatchdog()
		zlog.Warn().Msgf("session: player did not start: track_id=%s retries=%d", m.player.LoadedID(), m.watchdog.Retries())
		m.publish(playback.EventStartupExpired)
	default:
		m.stopWatchdog()
	}
}

// onLifecycle handles a lifecycle event reported by the player.
func (m *Manager) onLifecycle(lc playback.Lifecycle) {
	if m.snapshot.Phase() != state.PhaseConnected || m.player.LoadedID() == "" {
		return
	}
	zlog.Debug().Msgf("session: player lifecycle=%s", lc)

	if (lc == playback.LifecycleEnded || lc == playback.LifecycleError) && m.player.Lifecycle() != lc {
		// Reported before a load or restart this loop has already applied.
		zlog.Debug().Msgf("session: dropped stale lifecycle=%s current=%s", lc, m.player.Lifecycle())
		return
	}

	switch lc {
	case playback.LifecycleUnstarted:
		m.checkStartup()
	case playback.LifecyclePlaying:
		m.transitions.Settle()
		// While watching, the next poll recovers and resyncs.
		if m.snapshot.FirstLoadPending() && !m.watchdog.IsActive() {
			m.snapshot.ClearFirstLoad()
			m.requestSnapshot()
		}
	case playback.LifecycleEnded:
		m.onEnded()
	case playback.LifecycleError:
		m.onFault()
	}
}

func (m *Manager) trackEnd() playback.TrackEnd {
	duration, err := m.player.Duration()
	if err != nil {
		duration = 0
	}
	return playback.TrackEnd{
		Duration: duration,
		Index:    m.replica.TrackIndex,
		Length:   m.playlist.Len(),
		Mode:     m.replica.RepeatMode,
		IsLeader: m.roster.IsLeader(),
	}
}

func (m *Manager) onEnded() {
	end := m.trackEnd()
	tr := m.transitions.OnEnded(end)
	zlog.Debug().Msgf("session: track ended: index=%d duration=%.1f repeat=%s decision=%s",
		end.Index, end.Duration, end.Mode, tr.Kind)
	m.runTransition(tr)
}

func (m *Manager) onFault() {
	end := m.trackEnd()
	tr := m.transitions.OnFault(end)
	zlog.Warn().Msgf("session: player fault: track_id=%s index=%d decision=%s", m.player.LoadedID(), end.Index, tr.Kind)
	m.runTransition(tr)
}

func (m *Manager) runTransition(tr playback.Transition) {
	switch tr.Kind {
	case playback.TransitionRestart:
		m.seek(0)
		if m.replica.IsPlaying {
			if err := m.player.Play(); err != nil {
				zlog.Warn().Msgf("session: restart play failed: %v", err)
			}
		}

	case playback.TransitionAdvance:
		if tr.Propose {
			m.emit(protocol.EventUpdateCurrentIndex, protocol.UpdateCurrentIndex{
				RoomCode: m.roomCode,
				Index:    tr.NextIndex,
				Time:     0,
			})
		}
		m.loadAt(tr.NextIndex, 0)
		m.publish(playback.EventStateChanged)

	case playback.TransitionStop:
		m.replica.IsPlaying = false
		m.syncPublisher()
		zlog.Info().Msgf("session: playback ended: room=%s", m.roomCode)
		m.publish(playback.EventPlaybackEnded)
	}
}

// syncPublisher runs the clock publisher exactly while connected and playing.
func (m *Manager) syncPublisher() {
	want := m.snapshot.Phase() == state.PhaseConnected && m.replica.IsPlaying
	switch {
	case want && m.publishTicker == nil:
		m.publishTicker = m.clock.Ticker(m.publisher.Interval())
	case !want && m.publishTicker != nil:
		m.publishTicker.Stop()
		m.publishTicker = nil
	}
}

func (m *Manager) onPublishTick() {
	if m.player.LoadedID() == "" {
		return
	}
	pos, err := m.player.Position()
	if err != nil {
		zlog.Debug().Msgf("session: sample position: %v", err)
		return
	}
	at, ok := m.publisher.Tick(m.roster.IsLeader(), pos)
	if !ok {
		return
	}
	m.emit(protocol.EventUpdateCurrentTime, protocol.UpdateCurrentTime{
		RoomCode: m.roomCode,
		Time:     at,
	})
}

// stopTimers cancels every loop-owned timer.
func (m *Manager) stopTimers() {
	m.stopWatchdog()
	if m.publishTicker != nil {
		m.publishTicker.Stop()
		m.publishTicker = nil
	}
}

// emit sends a fire-and-forget intent from the loop.
func (m *Manager) emit(event string, payload any) {
	ctx, cancel := context.WithTimeout(m.ctx, m.timeout)
	defer cancel()
	if err := m.channel.Emit(ctx, event, payload); err != nil {
		zlog.Warn().Msgf("session: emit %s failed: %v", event, err)
	}
}
