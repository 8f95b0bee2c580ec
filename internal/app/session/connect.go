package session

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/19room/internal/api/protocol"
	"github.com/osa030/19room/internal/app/playback"
	"github.com/osa030/19room/internal/app/session/state"
	"github.com/osa030/19room/internal/domain/member"
	"github.com/osa030/19room/internal/domain/playlist"
	"github.com/osa030/19room/internal/domain/track"
)

// handshake is a decoded connect-room acknowledgement, completed with
// directory lookups where the acknowledgement left gaps.
type handshake struct {
	memberID string
	state    protocol.RoomState
	title    string
	members  []member.Member
	tracks   []track.Track
	// haveMembers and haveTracks distinguish "empty" from "not sent".
	haveMembers bool
	haveTracks  bool
}

// Connect dials the coordinator, joins the room and applies the handshake.
// A rejected handshake tears the channel down and returns
// ErrConnectionRejected; the session cannot be reused afterwards.
func (m *Manager) Connect(ctx context.Context) error {
	var phase state.Phase
	if err := m.call(func() {
		phase = m.snapshot.Phase()
		if phase == state.PhaseDisconnected {
			m.snapshot.SetPhase(state.PhaseConnecting)
		}
	}); err != nil {
		return err
	}
	switch phase {
	case state.PhaseDisconnected:
	case state.PhaseLeft:
		return ErrClosed
	default:
		return ErrAlreadyConnected
	}

	if err := m.channel.Dial(ctx); err != nil {
		m.setPhase(state.PhaseDisconnected)
		return errors.Wrap(err, "failed to dial coordinator")
	}

	return m.join(ctx, false)
}

// join runs the connect-room handshake over an open channel.
func (m *Manager) join(ctx context.Context, reconnect bool) error {
	hs, err := m.requestHandshake(ctx)
	if err != nil {
		if errors.Is(err, ErrConnectionRejected) {
			m.call(func() { m.abandon(state.PhaseLeft) })
			if cerr := m.channel.Close(); cerr != nil {
				zlog.Debug().Msgf("session: close channel after rejection: %v", cerr)
			}
			zlog.Error().Msgf("session: connection rejected: room=%s error=%v", m.roomCode, err)
			return err
		}
		if !reconnect {
			m.setPhase(state.PhaseDisconnected)
		}
		return err
	}

	return m.call(func() { m.applyHandshake(hs, reconnect) })
}

func (m *Manager) requestHandshake(ctx context.Context) (*handshake, error) {
	reqCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	zlog.Info().Msgf("session: joining room=%s user=%s", m.roomCode, m.userName)
	resp, err := m.channel.Request(reqCtx, protocol.EventConnectRoom, protocol.ConnectRoom{
		RoomCode: m.roomCode,
		UserName: m.userName,
	})
	if err != nil {
		return nil, errors.Wrap(err, "connect-room request failed")
	}

	var ack protocol.ConnectAck
	if err := protocol.Decode(resp, &ack); err != nil {
		return nil, errors.Wrap(err, "failed to decode connect-room ack")
	}
	if !ack.Success {
		msg := ack.Message
		if msg == "" {
			msg = "no reason given"
		}
		return nil, errors.WithHint(errors.Wrap(ErrConnectionRejected, msg), "check the room code")
	}

	hs := &handshake{memberID: ack.MemberID}
	if ack.State != nil {
		hs.state = *ack.State
	}
	if ack.Members != nil {
		if hs.members, err = protocol.DecodeMembers(ack.Members); err != nil {
			return nil, errors.Wrap(err, "failed to decode handshake members")
		}
		hs.haveMembers = true
	}
	if ack.Playlist != nil {
		if hs.tracks, err = protocol.DecodeTracks(ack.Playlist); err != nil {
			return nil, errors.Wrap(err, "failed to decode handshake playlist")
		}
		hs.haveTracks = true
	}

	m.lookupDirectory(ctx, hs)
	return hs, nil
}

// lookupDirectory fills what the acknowledgement omitted. Failures are
// logged only; the coordinator's broadcasts will catch the replica up.
func (m *Manager) lookupDirectory(ctx context.Context, hs *handshake) {
	if m.directory == nil {
		return
	}
	reqCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	if title, err := m.directory.Title(reqCtx, m.roomCode); err != nil {
		zlog.Warn().Msgf("session: room title lookup failed: %v", err)
	} else {
		hs.title = title
	}
	if !hs.haveMembers {
		if members, err := m.directory.Members(reqCtx, m.roomCode); err != nil {
			zlog.Warn().Msgf("session: member lookup failed: %v", err)
		} else {
			hs.members, hs.haveMembers = members, true
		}
	}
	if !hs.haveTracks {
		if tracks, err := m.directory.Playlist(reqCtx, m.roomCode); err != nil {
			zlog.Warn().Msgf("session: playlist lookup failed: %v", err)
		} else {
			hs.tracks, hs.haveTracks = tracks, true
		}
	}
}

// applyHandshake replaces the replica wholesale and brings the player to it.
func (m *Manager) applyHandshake(hs *handshake, reconnect bool) {
	if m.snapshot.Phase() == state.PhaseLeft {
		return
	}

	m.stopTimers()
	m.watchdog.Reset()
	m.transitions.Settle()
	epoch := m.snapshot.BeginConnection()
	m.snapshot.SetPhase(state.PhaseConnected)

	selfID := hs.memberID
	if selfID == "" {
		// Coordinators that list members by name identify us by name.
		selfID = m.userName
	}
	m.roster.SetSelfID(selfID)
	if hs.haveMembers {
		m.roster.Replace(hs.members)
	}
	if hs.haveTracks {
		m.playlist = playlist.New(hs.tracks)
	}
	if hs.title != "" {
		m.title = hs.title
	}

	mode, err := playback.ParseRepeatMode(hs.state.RepeatMode)
	if err != nil {
		zlog.Warn().Msgf("session: handshake repeat mode %q: %v", hs.state.RepeatMode, err)
		mode = playback.RepeatNone
	}
	m.replica = playback.State{
		TrackIndex: hs.state.CurrentIndex,
		Position:   hs.state.CurrentTime,
		IsPlaying:  hs.state.IsPlaying,
		RepeatMode: mode,
	}
	m.snapshot.ObservePosition(hs.state.CurrentTime)

	zlog.Info().Msgf("session: joined room=%s epoch=%d index=%d time=%.1f playing=%t repeat=%s members=%d tracks=%d leader=%t",
		m.roomCode, epoch, m.replica.TrackIndex, m.replica.Position, m.replica.IsPlaying, m.replica.RepeatMode,
		m.roster.Count(), m.playlist.Len(), m.roster.IsLeader())

	if t, ok := m.playlist.At(m.replica.TrackIndex); ok {
		if !m.player.IsLoaded(t.ID) {
			m.load(t)
		}
		m.seek(m.replica.Position)
		m.apply(m.replica.IsPlaying)
		m.checkStartup()
	} else if !m.playlist.IsEmpty() {
		zlog.Warn().Msgf("session: inconsistency: handshake index=%d out of bounds (tracks=%d)",
			m.replica.TrackIndex, m.playlist.Len())
	}

	m.syncPublisher()

	if reconnect {
		m.publish(playback.EventReconnected)
	} else {
		m.publish(playback.EventStateChanged)
	}

	m.replayHeld()
}

// onDisconnect handles unexpected loss of the channel.
func (m *Manager) onDisconnect(cause error) {
	if m.snapshot.Phase() != state.PhaseConnected {
		return
	}
	zlog.Warn().Msgf("session: channel lost: room=%s error=%v", m.roomCode, cause)

	m.stopTimers()
	m.watchdog.Reset()
	m.transitions.Settle()
	// Discards in-flight snapshot requests of the lost connection.
	m.snapshot.BeginConnection()
	m.snapshot.SetPhase(state.PhaseReconnecting)
	m.held = nil
	m.publish(playback.EventDisconnected)

	go m.reconnect()
}

// reconnect redials with exponential backoff and re-runs the handshake.
func (m *Manager) reconnect() {
	attempts := m.config.Coordinator.Reconnect.MaxAttempts
	delay := m.config.ReconnectBaseDelay()
	if delay <= 0 {
		delay = time.Second
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		select {
		case <-m.ctx.Done():
			return
		case <-m.clock.After(delay):
		}

		if !m.stillReconnecting() {
			return
		}

		zlog.Info().Msgf("session: reconnecting: room=%s attempt=%d/%d", m.roomCode, attempt, attempts)
		err := m.channel.Dial(m.ctx)
		if err == nil {
			err = m.join(m.ctx, true)
			if err == nil {
				return
			}
			if errors.Is(err, ErrConnectionRejected) || errors.Is(err, ErrClosed) {
				return
			}
		}
		zlog.Warn().Msgf("session: reconnect attempt %d failed: %v", attempt, err)
		delay *= 2
	}

	zlog.Error().Msgf("session: giving up reconnecting: room=%s", m.roomCode)
	m.call(func() {
		if m.snapshot.Phase() == state.PhaseReconnecting {
			m.abandon(state.PhaseDisconnected)
		}
	})
}

// abandon parks the session in a phase it will not leave on its own and
// tells subscribers so.
func (m *Manager) abandon(p state.Phase) {
	m.stopTimers()
	m.watchdog.Reset()
	m.transitions.Settle()
	m.snapshot.SetPhase(p)
	m.held = nil
	m.publish(playback.EventSessionEnded)
}

func (m *Manager) stillReconnecting() bool {
	var ok bool
	if err := m.call(func() { ok = m.snapshot.Phase() == state.PhaseReconnecting }); err != nil {
		return false
	}
	return ok
}

// Leave leaves the room and closes the session.
func (m *Manager) Leave(ctx context.Context) error {
	var wasConnected bool
	if err := m.call(func() {
		wasConnected = m.snapshot.Phase() == state.PhaseConnected
		m.stopTimers()
		m.watchdog.Reset()
		m.transitions.Settle()
		m.snapshot.Discard()
		m.held = nil
	}); err != nil {
		return err
	}

	var err error
	if wasConnected {
		emitCtx, cancel := context.WithTimeout(ctx, m.timeout)
		err = m.channel.Emit(emitCtx, protocol.EventLeaveRoom, protocol.RoomCode{RoomCode: m.roomCode})
		cancel()
		if err != nil {
			err = errors.Wrap(err, "failed to send leave-room")
		}
	}

	zlog.Info().Msgf("session: left room=%s", m.roomCode)
	m.Close()
	return err
}

func (m *Manager) setPhase(p state.Phase) {
	m.call(func() { m.snapshot.SetPhase(p) })
}
