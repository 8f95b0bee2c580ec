package session

import (
	"context"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/19room/internal/api/protocol"
	"github.com/osa030/19room/internal/app/playback"
	"github.com/osa030/19room/internal/app/session/state"
)

// Propose sends an intent to the coordinator. The replica is not touched;
// it changes only when the coordinator broadcasts the result.
func (m *Manager) Propose(ctx context.Context, event string, payload any) error {
	var connected bool
	if err := m.call(func() { connected = m.snapshot.Phase() == state.PhaseConnected }); err != nil {
		return err
	}
	if !connected {
		return ErrNotConnected
	}
	zlog.Debug().Msgf("session: propose %s", event)
	if err := m.channel.Emit(ctx, event, payload); err != nil {
		return errors.Wrapf(err, "failed to propose %s", event)
	}
	return nil
}

// TogglePlayPause proposes flipping play/pause.
func (m *Manager) TogglePlayPause(ctx context.Context) error {
	return m.Propose(ctx, protocol.EventTogglePlayPause, protocol.RoomCode{RoomCode: m.roomCode})
}

// SeekTo proposes seeking the current track.
func (m *Manager) SeekTo(ctx context.Context, seconds float64) error {
	if seconds < 0 {
		seconds = 0
	}
	return m.Propose(ctx, protocol.EventSeekTo, protocol.SeekTo{RoomCode: m.roomCode, Time: seconds})
}

// CycleRepeatMode proposes the repeat mode following the current one
// (none, one, all, none...).
func (m *Manager) CycleRepeatMode(ctx context.Context) error {
	var mode string
	if err := m.call(func() { mode = m.replica.RepeatMode.Next().String() }); err != nil {
		return err
	}
	return m.Propose(ctx, protocol.EventChangeRepeatMode, protocol.ChangeRepeatMode{RoomCode: m.roomCode, Mode: mode})
}

// PlayAt proposes playing the track at index from the start.
func (m *Manager) PlayAt(ctx context.Context, index int) error {
	var inBounds bool
	if err := m.call(func() { inBounds = m.playlist.InBounds(index) }); err != nil {
		return err
	}
	if !inBounds {
		return errors.Wrapf(ErrIndexOutOfRange, "index %d", index)
	}
	return m.Propose(ctx, protocol.EventPlayVideoAt, protocol.PlayVideoAt{RoomCode: m.roomCode, Index: index, Time: 0})
}

// Next proposes the following track. The last track wraps to the first
// only under repeat all.
func (m *Manager) Next(ctx context.Context) error {
	var next int
	var ok bool
	if err := m.call(func() {
		idx := m.replica.TrackIndex
		switch {
		case m.playlist.IsEmpty():
		case !m.playlist.IsLast(idx):
			next, ok = idx+1, true
		case m.replica.RepeatMode == playback.RepeatAll:
			next, ok = 0, true
		}
	}); err != nil {
		return err
	}
	if !ok {
		return ErrNoNextTrack
	}
	return m.PlayAt(ctx, next)
}

// Previous restarts the current track when it has played for more than a
// few seconds, and otherwise proposes the preceding track.
func (m *Manager) Previous(ctx context.Context) error {
	var (
		restart bool
		prev    int
		ok      bool
	)
	if err := m.call(func() {
		if m.player.LoadedID() != "" {
			if pos, err := m.player.Position(); err == nil && pos > previousRestartAfter {
				restart = true
				return
			}
		}
		if m.replica.TrackIndex > 0 && m.playlist.InBounds(m.replica.TrackIndex-1) {
			prev, ok = m.replica.TrackIndex-1, true
		}
	}); err != nil {
		return err
	}
	if restart {
		return m.SeekTo(ctx, 0)
	}
	if !ok {
		return ErrNoPreviousTrack
	}
	return m.PlayAt(ctx, prev)
}
