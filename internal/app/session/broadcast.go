package session

import (
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/19room/internal/api/protocol"
	"github.com/osa030/19room/internal/app/filter"
	"github.com/osa030/19room/internal/app/playback"
	"github.com/osa030/19room/internal/app/session/state"
	"github.com/osa030/19room/internal/domain/playlist"
)

// maxHeldFrames bounds the broadcasts held while a handshake is in flight.
const maxHeldFrames = 512

// routing is the part of a payload the guard chain needs.
type routing struct {
	RoomCode     string `json:"roomCode"`
	Index        *int   `json:"index"`
	CurrentIndex *int   `json:"currentIndex"`
}

// HandleBroadcast applies one inbound broadcast frame. It is safe to call
// from any goroutine; the frame is applied on the session loop.
func (m *Manager) HandleBroadcast(f protocol.Frame) error {
	return m.call(func() { m.handleFrame(f) })
}

func (m *Manager) handleFrame(f protocol.Frame) {
	switch m.snapshot.Phase() {
	case state.PhaseConnecting, state.PhaseReconnecting:
		// Broadcasts that overtake the handshake ack are applied after it.
		if len(m.held) < maxHeldFrames {
			m.held = append(m.held, f)
		} else {
			zlog.Warn().Msgf("session: dropping broadcast event=%s: too many held frames", f.Event)
		}
		return
	}

	b := filter.Broadcast{Event: f.Event, Seq: f.Seq}
	var r routing
	if err := protocol.Decode(f.Data, &r); err == nil {
		b.RoomCode = r.RoomCode
		b.Index = r.Index
		if b.Index == nil {
			b.Index = r.CurrentIndex
		}
	}

	if res := m.filterChain.Execute(m.ctx, b, m); !res.Accepted {
		if res.Code == "index_out_of_bounds" {
			zlog.Warn().Msgf("session: inconsistency: dropped event=%s index=%d tracks=%d",
				f.Event, derefIndex(b.Index), m.playlist.Len())
		} else {
			zlog.Debug().Msgf("session: dropped event=%s filter=%s code=%s", f.Event, res.Filter, res.Code)
		}
		return
	}
	m.snapshot.AcceptSequence(f.Seq)

	if err := m.applyBroadcast(f); err != nil {
		zlog.Warn().Msgf("session: failed to apply event=%s: %v", f.Event, err)
	}
}

func (m *Manager) replayHeld() {
	held := m.held
	m.held = nil
	for _, f := range held {
		m.handleFrame(f)
	}
}

func (m *Manager) applyBroadcast(f protocol.Frame) error {
	zlog.Debug().Msgf("session: broadcast event=%s seq=%d", f.Event, f.Seq)

	switch f.Event {
	case protocol.EventUpdateMembers:
		members, err := protocol.DecodeMembers(f.Data)
		if err != nil {
			return err
		}
		if m.roster.Replace(members) {
			lead, _ := m.roster.Leader()
			zlog.Info().Msgf("session: leader changed: leader=%s self=%t", lead.Name, m.roster.IsLeader())
		}
		m.publish(playback.EventMembersChanged)

	case protocol.EventUpdatePlaylist:
		tracks, err := protocol.DecodeTracks(f.Data)
		if err != nil {
			return err
		}
		m.playlist = playlist.New(tracks)
		m.publish(playback.EventPlaylistChanged)
		if m.player.LoadedID() == "" && m.playlist.InBounds(m.replica.TrackIndex) {
			m.loadAt(m.replica.TrackIndex, m.replica.Position)
		} else if !m.playlist.IsEmpty() && !m.playlist.InBounds(m.replica.TrackIndex) {
			zlog.Warn().Msgf("session: inconsistency: index=%d out of bounds after playlist update (tracks=%d)",
				m.replica.TrackIndex, m.playlist.Len())
		}

	case protocol.EventPlayPauseToggled:
		var p protocol.PlayPauseToggled
		if err := protocol.Decode(f.Data, &p); err != nil {
			return err
		}
		m.replica.IsPlaying = p.IsPlaying
		if m.player.LoadedID() == "" {
			m.loadAt(m.replica.TrackIndex, m.replica.Position)
		} else {
			m.apply(p.IsPlaying)
			m.checkStartup()
		}
		m.syncPublisher()
		m.publish(playback.EventStateChanged)

	case protocol.EventSeekedTo:
		var p protocol.SeekedTo
		if err := protocol.Decode(f.Data, &p); err != nil {
			return err
		}
		m.replica.Position = p.Time
		m.snapshot.ObservePosition(p.Time)
		m.seek(p.Time)
		m.publish(playback.EventStateChanged)

	case protocol.EventRepeatModeChanged:
		var p protocol.RepeatModeChanged
		if err := protocol.Decode(f.Data, &p); err != nil {
			return err
		}
		mode, err := playback.ParseRepeatMode(p.Mode)
		if err != nil {
			return err
		}
		m.replica.RepeatMode = mode
		m.publish(playback.EventStateChanged)

	case protocol.EventPlayVideoAt:
		var p protocol.PlayVideoAt
		if err := protocol.Decode(f.Data, &p); err != nil {
			return err
		}
		m.replica.IsPlaying = true
		m.transitions.Settle()
		m.loadAt(p.Index, p.Time)
		m.syncPublisher()
		m.publish(playback.EventStateChanged)

	case protocol.EventUpdateCurrentIndex:
		var p protocol.UpdateCurrentIndex
		if err := protocol.Decode(f.Data, &p); err != nil {
			return err
		}
		t, ok := m.playlist.At(p.Index)
		if !ok {
			return errors.Newf("index %d out of bounds", p.Index)
		}
		if m.player.IsLoaded(t.ID) {
			// Echo of a transition this replica already applied.
			m.replica.TrackIndex = p.Index
			return nil
		}
		m.transitions.Settle()
		m.loadAt(p.Index, p.Time)
		m.syncPublisher()
		m.publish(playback.EventStateChanged)

	case protocol.EventSyncInfo:
		var p protocol.RoomState
		if err := protocol.Decode(f.Data, &p); err != nil {
			return err
		}
		m.onUncorrelatedSnapshot(f.ID, p)

	default:
		zlog.Debug().Msgf("session: ignoring unknown event=%s", f.Event)
	}
	return nil
}

func derefIndex(i *int) int {
	if i == nil {
		return -1
	}
	return *i
}
