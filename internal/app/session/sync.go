package session

import (
	"context"

	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/19room/internal/api/protocol"
	"github.com/osa030/19room/internal/app/playback"
	"github.com/osa030/19room/internal/app/session/state"
)

// RequestSnapshot asks the coordinator for a full state snapshot. The
// response is applied later on the session loop; responses that arrive
// after a reconnect or a track change are discarded.
func (m *Manager) RequestSnapshot() error {
	var connected bool
	if err := m.call(func() {
		connected = m.snapshot.Phase() == state.PhaseConnected
		if connected {
			m.requestSnapshot()
		}
	}); err != nil {
		return err
	}
	if !connected {
		return ErrNotConnected
	}
	return nil
}

func (m *Manager) requestSnapshot() {
	if m.snapshot.Phase() != state.PhaseConnected {
		return
	}
	id := uuid.NewString()
	m.snapshot.BeginSync(id, m.clock.Now())
	epoch := m.snapshot.Epoch()
	zlog.Debug().Msgf("session: request-sync id=%s epoch=%d", id, epoch)

	go func() {
		ctx, cancel := context.WithTimeout(m.ctx, m.timeout)
		defer cancel()
		resp, err := m.channel.Request(ctx, protocol.EventRequestSync, protocol.RoomCode{RoomCode: m.roomCode})
		m.post(func() { m.onSnapshotResponse(id, epoch, resp, err) })
	}()
}

// onSnapshotResponse applies the acknowledged answer to a request-sync.
func (m *Manager) onSnapshotResponse(id string, epoch uint64, resp any, err error) {
	if err != nil {
		if pending, ok := m.snapshot.PendingSync(); ok && pending == id {
			zlog.Warn().Msgf("session: request-sync failed: %v", err)
		}
		return
	}
	var st protocol.RoomState
	if err := protocol.Decode(resp, &st); err != nil {
		zlog.Warn().Msgf("session: decode sync-info: %v", err)
		return
	}
	if !m.snapshot.CompleteSync(id, epoch, st.CurrentTime) {
		zlog.Debug().Msgf("session: dropped stale sync-info id=%s epoch=%d current_epoch=%d", id, epoch, m.snapshot.Epoch())
		return
	}
	m.applySnapshot(st)
}

// onUncorrelatedSnapshot handles a sync-info broadcast. Coordinators that
// do not echo correlation IDs answer the outstanding request this way.
func (m *Manager) onUncorrelatedSnapshot(id string, st protocol.RoomState) {
	pending, ok := m.snapshot.PendingSync()
	if !ok || (id != "" && id != pending) {
		zlog.Debug().Msgf("session: dropped unsolicited sync-info id=%s", id)
		return
	}
	if !m.snapshot.CompleteSync(pending, m.snapshot.Epoch(), st.CurrentTime) {
		zlog.Debug().Msgf("session: dropped stale sync-info id=%s", id)
		return
	}
	m.applySnapshot(st)
}

// applySnapshot aligns the replica and the player with a snapshot.
func (m *Manager) applySnapshot(st protocol.RoomState) {
	if !m.playlist.IsEmpty() && !m.playlist.InBounds(st.CurrentIndex) {
		zlog.Warn().Msgf("session: inconsistency: sync-info index=%d out of bounds (tracks=%d); snapshot dropped",
			st.CurrentIndex, m.playlist.Len())
		return
	}

	if mode, err := playback.ParseRepeatMode(st.RepeatMode); err == nil {
		m.replica.RepeatMode = mode
	} else {
		zlog.Warn().Msgf("session: sync-info repeat mode %q: %v", st.RepeatMode, err)
	}

	if st.CurrentIndex != m.replica.TrackIndex {
		m.replica.IsPlaying = st.IsPlaying
		m.transitions.Settle()
		m.loadAt(st.CurrentIndex, st.CurrentTime)
		m.syncPublisher()
		m.publish(playback.EventStateChanged)
		return
	}

	m.replica.Position = st.CurrentTime
	if m.player.LoadedID() != "" {
		local, err := m.player.Position()
		if err != nil {
			zlog.Debug().Msgf("session: sample position for drift: %v", err)
		} else if target, ok := m.drift.Correction(local, st.CurrentTime); ok {
			zlog.Info().Msgf("session: drift corrected: local=%.2f authoritative=%.2f drift=%.2f",
				local, target, m.drift.Drift(local, target))
			m.seek(target)
			m.publish(playback.EventDriftCorrected)
		}
	}

	if st.IsPlaying != m.replica.IsPlaying {
		m.replica.IsPlaying = st.IsPlaying
		m.apply(st.IsPlaying)
		m.syncPublisher()
		m.publish(playback.EventStateChanged)
	}
}
