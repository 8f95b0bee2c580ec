package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/19room/internal/api/protocol"
	"github.com/osa030/19room/internal/app/playback"
	"github.com/osa030/19room/internal/app/playback/playbacktest"
	"github.com/osa030/19room/internal/app/session/state"
	"github.com/osa030/19room/internal/infra/config"
)

func testConfig() *config.Config {
	return &config.Config{
		Coordinator: config.CoordinatorConfig{
			APIURL:           "http://coordinator.test",
			WSURL:            "ws://coordinator.test/ws",
			RequestTimeoutMs: 1000,
			Reconnect:        config.ReconnectConfig{MaxAttempts: 3, BaseDelayMs: 10},
		},
		Room: config.RoomConfig{Code: "ABCD", UserName: "alice"},
		Sync: config.SyncConfig{
			DriftThresholdMs:   1000,
			WatchdogPollMs:     200,
			WatchdogBudgetMs:   5000,
			PublishIntervalMs:  200,
			MinTrackDurationMs: 1000,
		},
	}
}

func threeTracks() []any {
	return []any{
		map[string]any{"videoId": "t0", "title": "Zero", "channel": "c", "duration": "PT3M"},
		map[string]any{"videoId": "t1", "title": "One", "channel": "c", "duration": "PT3M"},
		map[string]any{"videoId": "t2", "title": "Two", "channel": "c", "duration": "PT3M"},
	}
}

func ackWith(isPlaying bool, index int, at float64, mode string, members ...any) map[string]any {
	if members == nil {
		members = []any{"alice", "bob"}
	}
	return map[string]any{
		"success": true,
		"state": map[string]any{
			"isPlaying":    isPlaying,
			"currentIndex": index,
			"currentTime":  at,
			"repeatMode":   mode,
		},
		"members":  members,
		"playlist": threeTracks(),
	}
}

type harness struct {
	m       *Manager
	channel *fakeChannel
	player  *playbacktest.Adapter
	clock   *clock.Mock

	mu     sync.Mutex
	events []playback.EventType
}

func newHarness(t *testing.T, ack map[string]any) *harness {
	t.Helper()
	h := &harness{
		channel: newFakeChannel(ack),
		player:  playbacktest.New(),
		clock:   clock.NewMock(),
	}
	h.m = NewManager(testConfig(), h.channel, h.player, WithClock(h.clock))
	h.m.Subscribe(func(ev playback.Event) {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.events = append(h.events, ev.Type)
	})
	t.Cleanup(h.m.Close)
	return h
}

func (h *harness) connect(t *testing.T) {
	t.Helper()
	require.NoError(t, h.m.Connect(context.Background()))
}

// flush waits until everything queued on the loop so far has run.
func (h *harness) flush(t *testing.T) {
	t.Helper()
	require.NoError(t, h.m.call(func() {}))
}

// advance moves the mock clock in steps of d, draining the loop after each.
func (h *harness) advance(t *testing.T, d time.Duration, steps int) {
	t.Helper()
	for i := 0; i < steps; i++ {
		h.clock.Add(d)
		h.flush(t)
	}
}

func (h *harness) count(ev playback.EventType) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, e := range h.events {
		if e == ev {
			n++
		}
	}
	return n
}

func (h *harness) synced(t *testing.T) bool {
	var ok bool
	require.NoError(t, h.m.call(func() { ok = h.m.snapshot.HasSyncedSinceLoad() }))
	return ok
}

func TestManager_Connect_Handshake(t *testing.T) {
	h := newHarness(t, ackWith(true, 1, 15.0, "one"))
	h.connect(t)

	assert.Equal(t, []string{"load(t1)", "seek(15)", "play()"}, h.player.Commands())

	st := h.m.GetStatus()
	assert.Equal(t, state.PhaseConnected, st.Phase)
	assert.Equal(t, 1, st.PlaybackState.TrackIndex)
	assert.Equal(t, playback.RepeatOne, st.PlaybackState.RepeatMode)
	assert.True(t, st.PlaybackState.IsPlaying)
	require.NotNil(t, st.CurrentTrack)
	assert.Equal(t, "t1", st.CurrentTrack.ID)
	assert.Len(t, st.Members, 2)
	assert.True(t, st.IsLeader)
	assert.Equal(t, 1, h.count(playback.EventTrackChanged))
}

func TestManager_Connect_SameTrackIsNotReloaded(t *testing.T) {
	h := newHarness(t, ackWith(true, 1, 15.0, "none"))
	h.connect(t)
	h.player.Reset()

	// A second handshake on the same track only seeks.
	h.channel.SetAck(ackWith(true, 1, 20.0, "none"))
	require.NoError(t, h.m.join(context.Background(), true))

	assert.Equal(t, []string{"seek(20)", "play()"}, h.player.Commands())
}

func TestManager_Connect_Rejected(t *testing.T) {
	h := newHarness(t, map[string]any{"success": false, "message": "Room not found"})

	err := h.m.Connect(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConnectionRejected)
	assert.Contains(t, err.Error(), "Room not found")

	assert.True(t, h.channel.IsClosed())
	assert.Empty(t, h.player.Commands())
	assert.Equal(t, state.PhaseLeft, h.m.GetStatus().Phase)

	assert.Equal(t, 1, h.count(playback.EventSessionEnded))

	// No retry.
	assert.ErrorIs(t, h.m.Connect(context.Background()), ErrClosed)
	assert.Equal(t, 1, h.channel.Dials())
}

func TestManager_Connect_Twice(t *testing.T) {
	h := newHarness(t, ackWith(false, 0, 0, "none"))
	h.connect(t)
	assert.ErrorIs(t, h.m.Connect(context.Background()), ErrAlreadyConnected)
}

func TestManager_Connect_HoldsEarlyBroadcasts(t *testing.T) {
	ack := ackWith(false, 0, 0, "none")
	delete(ack, "members")
	h := newHarness(t, ack)
	h.channel.onConnect = func() {
		// Arrives before the ack is applied.
		h.channel.Broadcast(protocol.EventUpdateMembers, []any{"bob", "alice"})
	}
	h.connect(t)
	h.flush(t)

	st := h.m.GetStatus()
	require.Len(t, st.Members, 2)
	assert.Equal(t, "bob", st.Leader.Name)
	assert.False(t, st.IsLeader)
}

func TestManager_Broadcasts(t *testing.T) {
	tests := []struct {
		name     string
		event    string
		data     any
		want     []string
		check    func(t *testing.T, st *Status)
		wantLoad bool
	}{
		{
			name:  "pause",
			event: protocol.EventPlayPauseToggled,
			data:  map[string]any{"isPlaying": false},
			want:  []string{"pause()"},
			check: func(t *testing.T, st *Status) { assert.False(t, st.PlaybackState.IsPlaying) },
		},
		{
			name:  "seek",
			event: protocol.EventSeekedTo,
			data:  map[string]any{"time": 30.5},
			want:  []string{"seek(30.5)"},
			check: func(t *testing.T, st *Status) { assert.Equal(t, 30.5, st.PlaybackState.Position) },
		},
		{
			name:  "repeat mode touches replica only",
			event: protocol.EventRepeatModeChanged,
			data:  map[string]any{"mode": "all"},
			want:  nil,
			check: func(t *testing.T, st *Status) { assert.Equal(t, playback.RepeatAll, st.PlaybackState.RepeatMode) },
		},
		{
			name:  "play same track only seeks",
			event: protocol.EventPlayVideoAt,
			data:  map[string]any{"roomCode": "ABCD", "index": 0, "time": 12.0},
			want:  []string{"seek(12)"},
		},
		{
			name:  "play other track loads then seeks",
			event: protocol.EventPlayVideoAt,
			data:  map[string]any{"roomCode": "ABCD", "index": 2, "time": 12.0},
			want:  []string{"load(t2)", "seek(12)", "play()"},
			check: func(t *testing.T, st *Status) { assert.Equal(t, 2, st.PlaybackState.TrackIndex) },
		},
		{
			name:  "out of bounds index is dropped",
			event: protocol.EventPlayVideoAt,
			data:  map[string]any{"roomCode": "ABCD", "index": 3, "time": 0.0},
			want:  nil,
			check: func(t *testing.T, st *Status) { assert.Equal(t, 0, st.PlaybackState.TrackIndex) },
		},
		{
			name:  "other room is dropped",
			event: protocol.EventPlayVideoAt,
			data:  map[string]any{"roomCode": "ZZZZ", "index": 1, "time": 0.0},
			want:  nil,
		},
		{
			name:  "index echo on loaded track is a no-op",
			event: protocol.EventUpdateCurrentIndex,
			data:  map[string]any{"roomCode": "ABCD", "index": 0},
			want:  nil,
		},
		{
			name:  "index change loads",
			event: protocol.EventUpdateCurrentIndex,
			data:  map[string]any{"roomCode": "ABCD", "index": 1},
			want:  []string{"load(t1)", "seek(0)", "play()"},
		},
		{
			name:  "members replace roster",
			event: protocol.EventUpdateMembers,
			data:  []any{map[string]any{"id": "bob", "name": "Bob"}, map[string]any{"id": "alice", "name": "Alice"}},
			want:  nil,
			check: func(t *testing.T, st *Status) {
				assert.Equal(t, "bob", st.Leader.ID)
				assert.False(t, st.IsLeader)
			},
		},
		{
			name:  "playlist replaced",
			event: protocol.EventUpdatePlaylist,
			data:  append(threeTracks(), map[string]any{"videoId": "t3", "title": "Three"}),
			want:  nil,
			check: func(t *testing.T, st *Status) { assert.Len(t, st.Playlist, 4) },
		},
		{
			name:  "malformed payload is ignored",
			event: protocol.EventSeekedTo,
			data:  "nonsense",
			want:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, ackWith(true, 0, 0, "none"))
			h.connect(t)
			h.player.Reset()

			h.channel.Broadcast(tt.event, tt.data)
			h.flush(t)

			assert.Equal(t, tt.want, h.player.Commands())
			if tt.check != nil {
				tt.check(t, h.m.GetStatus())
			}
		})
	}
}

func TestManager_Broadcasts_Sequence(t *testing.T) {
	h := newHarness(t, ackWith(true, 0, 0, "none"))
	h.connect(t)
	h.player.Reset()

	h.channel.BroadcastSeq(protocol.EventSeekedTo, 5, map[string]any{"time": 10.0})
	h.channel.BroadcastSeq(protocol.EventSeekedTo, 4, map[string]any{"time": 20.0})
	h.channel.BroadcastSeq(protocol.EventSeekedTo, 5, map[string]any{"time": 30.0})
	h.channel.BroadcastSeq(protocol.EventSeekedTo, 6, map[string]any{"time": 40.0})
	h.flush(t)

	assert.Equal(t, []string{"seek(10)", "seek(40)"}, h.player.Commands())
	assert.Equal(t, uint64(2), h.m.GetStatus().Dropped["sequence_filter"])
}

func TestManager_Broadcasts_BeforeConnect(t *testing.T) {
	h := newHarness(t, ackWith(true, 0, 0, "none"))
	h.channel.Broadcast(protocol.EventSeekedTo, map[string]any{"time": 10.0})
	h.flush(t)
	assert.Empty(t, h.player.Commands())
}

func TestManager_Drift(t *testing.T) {
	tests := []struct {
		name          string
		local         float64
		authoritative float64
		want          []string
	}{
		{name: "large drift seeks once", local: 40.0, authoritative: 42.3, want: []string{"seek(42.3)"}},
		{name: "drift behind seeks once", local: 50.0, authoritative: 42.3, want: []string{"seek(42.3)"}},
		{name: "sub-second jitter", local: 40.0, authoritative: 40.6, want: nil},
		{name: "exactly at threshold", local: 40.1, authoritative: 41.1, want: nil},
		{name: "no drift", local: 40.0, authoritative: 40.0, want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, ackWith(true, 0, 40.0, "none"))
			h.connect(t)
			h.player.Reset()
			h.player.SetPosition(tt.local)
			h.channel.SetSync(func() (any, error) {
				return map[string]any{
					"isPlaying":    true,
					"currentIndex": 0,
					"currentTime":  tt.authoritative,
					"repeatMode":   "none",
				}, nil
			})

			require.NoError(t, h.m.RequestSnapshot())
			require.Eventually(t, func() bool { return h.synced(t) }, time.Second, 5*time.Millisecond)

			assert.Equal(t, tt.want, h.player.Commands())
			wantCorrections := 0
			if tt.want != nil {
				wantCorrections = 1
			}
			assert.Equal(t, wantCorrections, h.count(playback.EventDriftCorrected))
		})
	}
}

func TestManager_Snapshot_AlignsIndexAndPlayState(t *testing.T) {
	h := newHarness(t, ackWith(true, 0, 10.0, "none"))
	h.connect(t)
	h.player.Reset()
	h.channel.SetSync(func() (any, error) {
		return map[string]any{"isPlaying": false, "currentIndex": 2, "currentTime": 5.0, "repeatMode": "all"}, nil
	})

	require.NoError(t, h.m.RequestSnapshot())
	require.Eventually(t, func() bool {
		return h.m.GetStatus().PlaybackState.TrackIndex == 2
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, []string{"load(t2)", "seek(5)", "pause()"}, h.player.Commands())
	st := h.m.GetStatus()
	assert.False(t, st.PlaybackState.IsPlaying)
	assert.Equal(t, playback.RepeatAll, st.PlaybackState.RepeatMode)
}

func TestManager_Snapshot_OutOfBoundsIsDroppedWhole(t *testing.T) {
	h := newHarness(t, ackWith(true, 0, 10.0, "none"))
	h.connect(t)
	h.player.Reset()
	h.channel.SetSync(func() (any, error) {
		return map[string]any{"isPlaying": false, "currentIndex": 7, "currentTime": 5.0, "repeatMode": "all"}, nil
	})

	require.NoError(t, h.m.RequestSnapshot())
	require.Eventually(t, func() bool {
		var pending bool
		err := h.m.call(func() { _, pending = h.m.snapshot.PendingSync() })
		return err == nil && !pending
	}, time.Second, 5*time.Millisecond)

	st := h.m.GetStatus()
	assert.Equal(t, playback.RepeatNone, st.PlaybackState.RepeatMode)
	assert.Equal(t, 0, st.PlaybackState.TrackIndex)
	assert.True(t, st.PlaybackState.IsPlaying)
	assert.Empty(t, h.player.Commands())
}

func TestManager_Snapshot_StaleAfterReconnect(t *testing.T) {
	h := newHarness(t, ackWith(true, 0, 40.0, "none"))
	h.connect(t)

	release := make(chan struct{})
	defer close(release)
	h.channel.SetSync(func() (any, error) {
		<-release
		return nil, context.Canceled
	})
	require.NoError(t, h.m.RequestSnapshot())

	var (
		staleID    string
		staleEpoch uint64
	)
	require.NoError(t, h.m.call(func() {
		staleID, _ = h.m.snapshot.PendingSync()
		staleEpoch = h.m.snapshot.Epoch()
	}))
	require.NotEmpty(t, staleID)

	// Connection lost and re-established.
	require.NoError(t, h.m.call(func() { h.m.onDisconnect(errDropped) }))
	require.NoError(t, h.m.join(context.Background(), true))
	h.player.Reset()
	h.player.SetPosition(40.0)

	stale := map[string]any{"isPlaying": true, "currentIndex": 0, "currentTime": 90.0, "repeatMode": "none"}
	require.NoError(t, h.m.call(func() { h.m.onSnapshotResponse(staleID, staleEpoch, stale, nil) }))
	assert.Empty(t, h.player.Commands())
	assert.False(t, h.synced(t))

	// An uncorrelated sync-info with nothing pending is dropped too.
	h.channel.Broadcast(protocol.EventSyncInfo, stale)
	h.flush(t)
	assert.Empty(t, h.player.Commands())
}

func TestManager_Snapshot_Uncorrelated(t *testing.T) {
	h := newHarness(t, ackWith(true, 0, 40.0, "none"))
	h.connect(t)

	block := make(chan struct{})
	defer close(block)
	h.channel.SetSync(func() (any, error) {
		<-block
		return nil, context.DeadlineExceeded
	})
	require.NoError(t, h.m.RequestSnapshot())
	h.player.Reset()
	h.player.SetPosition(40.0)

	// The coordinator answers with a plain broadcast.
	h.channel.Broadcast(protocol.EventSyncInfo, map[string]any{
		"isPlaying": true, "currentIndex": 0, "currentTime": 45.0, "repeatMode": "none",
	})
	h.flush(t)

	assert.Equal(t, []string{"seek(45)"}, h.player.Commands())
	assert.True(t, h.synced(t))
}

func TestManager_Transitions(t *testing.T) {
	tests := []struct {
		name        string
		index       int
		mode        string
		members     []any
		duration    float64
		lifecycle   playback.Lifecycle
		want        []string
		wantIndex   int
		wantPlaying bool
		wantPropose []int
		wantEnded   int
	}{
		{
			name: "repeat all wraps at last index", index: 2, mode: "all", duration: 180,
			lifecycle: playback.LifecycleEnded,
			want:      []string{"load(t0)", "seek(0)", "play()"}, wantIndex: 0, wantPlaying: true,
			wantPropose: []int{0},
		},
		{
			name: "repeat all advances", index: 0, mode: "all", duration: 180,
			lifecycle: playback.LifecycleEnded,
			want:      []string{"load(t1)", "seek(0)", "play()"}, wantIndex: 1, wantPlaying: true,
			wantPropose: []int{1},
		},
		{
			name: "non-leader advances without proposing", index: 0, mode: "none", duration: 180,
			members:   []any{"bob", "alice"},
			lifecycle: playback.LifecycleEnded,
			want:      []string{"load(t1)", "seek(0)", "play()"}, wantIndex: 1, wantPlaying: true,
		},
		{
			name: "repeat one restarts locally", index: 1, mode: "one", duration: 180,
			lifecycle: playback.LifecycleEnded,
			want:      []string{"seek(0)", "play()"}, wantIndex: 1, wantPlaying: true,
		},
		{
			name: "repeat none stops at last index", index: 2, mode: "none", duration: 180,
			lifecycle: playback.LifecycleEnded,
			want:      nil, wantIndex: 2, wantPlaying: false, wantEnded: 1,
		},
		{
			name: "spurious end is ignored", index: 0, mode: "none", duration: 0.5,
			lifecycle: playback.LifecycleEnded,
			want:      nil, wantIndex: 0, wantPlaying: true,
		},
		{
			name: "fault skips even under repeat one", index: 0, mode: "one", duration: 180,
			lifecycle: playback.LifecycleError,
			want:      []string{"load(t1)", "seek(0)", "play()"}, wantIndex: 1, wantPlaying: true,
			wantPropose: []int{1},
		},
		{
			name: "fault on last track without repeat stops", index: 2, mode: "none", duration: 180,
			lifecycle: playback.LifecycleError,
			want:      nil, wantIndex: 2, wantPlaying: false, wantEnded: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, ackWith(true, tt.index, 100.0, tt.mode, tt.members...))
			h.connect(t)
			h.player.Reset()
			h.player.SetDuration(tt.duration)

			h.player.Emit(tt.lifecycle)
			h.flush(t)

			assert.Equal(t, tt.want, h.player.Commands())
			st := h.m.GetStatus()
			assert.Equal(t, tt.wantIndex, st.PlaybackState.TrackIndex)
			assert.Equal(t, tt.wantPlaying, st.PlaybackState.IsPlaying)
			assert.Equal(t, tt.wantEnded, h.count(playback.EventPlaybackEnded))

			var proposed []int
			for _, p := range h.channel.Emitted(protocol.EventUpdateCurrentIndex) {
				proposed = append(proposed, p.(protocol.UpdateCurrentIndex).Index)
			}
			assert.Equal(t, tt.wantPropose, proposed)
		})
	}
}

func TestManager_Transitions_DuplicateEndIgnored(t *testing.T) {
	h := newHarness(t, ackWith(true, 1, 100.0, "one"))
	h.connect(t)
	h.player.Reset()

	h.player.Emit(playback.LifecycleEnded)
	h.player.Emit(playback.LifecycleEnded)
	h.flush(t)
	assert.Equal(t, 1, h.player.Count("seek(0)"))

	// Once the restart is playing, the next end restarts again.
	h.player.Emit(playback.LifecyclePlaying)
	h.player.Emit(playback.LifecycleEnded)
	h.flush(t)
	assert.Equal(t, 2, h.player.Count("seek(0)"))
}

func TestManager_Transitions_FaultAfterAdvance(t *testing.T) {
	h := newHarness(t, ackWith(true, 0, 100.0, "none"))
	h.connect(t)
	h.player.Reset()
	// The next track faults before it ever plays.
	h.player.StickUnstarted = true

	h.player.Emit(playback.LifecycleEnded)
	h.flush(t)
	assert.Equal(t, 1, h.m.GetStatus().PlaybackState.TrackIndex)

	h.player.Emit(playback.LifecycleError)
	h.flush(t)

	st := h.m.GetStatus()
	assert.Equal(t, 2, st.PlaybackState.TrackIndex)
	assert.Equal(t, 1, h.player.Count("load(t1)"))
	assert.Equal(t, 1, h.player.Count("load(t2)"))
	assert.Equal(t, []any{
		protocol.UpdateCurrentIndex{RoomCode: "ABCD", Index: 1},
		protocol.UpdateCurrentIndex{RoomCode: "ABCD", Index: 2},
	}, h.channel.Emitted(protocol.EventUpdateCurrentIndex))
}

func TestManager_Transitions_DuplicateEndAcrossAdvance(t *testing.T) {
	h := newHarness(t, ackWith(true, 0, 100.0, "none"))
	h.connect(t)
	h.player.Reset()

	h.player.Emit(playback.LifecycleEnded)
	h.flush(t)
	// A second end of the first track delivered after the advance.
	require.True(t, h.m.post(func() { h.m.onLifecycle(playback.LifecycleEnded) }))
	h.flush(t)

	assert.Equal(t, 1, h.m.GetStatus().PlaybackState.TrackIndex)
	assert.Equal(t, 1, h.player.Count("load(t1)"))
	assert.Zero(t, h.player.Count("load(t2)"))
}

func TestManager_LeaderPublishesClock(t *testing.T) {
	tests := []struct {
		name    string
		members []any
		want    int
	}{
		{name: "leader publishes", members: []any{"alice", "bob", "carol"}, want: 5},
		{name: "second rank is silent", members: []any{"bob", "alice", "carol"}, want: 0},
		{name: "last rank is silent", members: []any{"bob", "carol", "alice"}, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, ackWith(true, 0, 10.0, "none", tt.members...))
			h.connect(t)

			h.advance(t, 200*time.Millisecond, 5)

			published := h.channel.Emitted(protocol.EventUpdateCurrentTime)
			assert.Len(t, published, tt.want)
			for _, p := range published {
				u := p.(protocol.UpdateCurrentTime)
				assert.Equal(t, "ABCD", u.RoomCode)
				assert.Equal(t, 10.0, u.Time)
			}
		})
	}
}

func TestManager_LeaderPublishesClock_LeadershipMoves(t *testing.T) {
	h := newHarness(t, ackWith(true, 0, 10.0, "none", "bob", "alice"))
	h.connect(t)

	h.advance(t, 200*time.Millisecond, 2)
	assert.Empty(t, h.channel.Emitted(protocol.EventUpdateCurrentTime))

	// bob leaves; alice now leads.
	h.channel.Broadcast(protocol.EventUpdateMembers, []any{"alice"})
	h.flush(t)
	h.advance(t, 200*time.Millisecond, 2)
	assert.Len(t, h.channel.Emitted(protocol.EventUpdateCurrentTime), 2)
}

func TestManager_LeaderPublishesClock_OnlyWhilePlaying(t *testing.T) {
	h := newHarness(t, ackWith(false, 0, 10.0, "none"))
	h.connect(t)

	h.advance(t, 200*time.Millisecond, 3)
	assert.Empty(t, h.channel.Emitted(protocol.EventUpdateCurrentTime))

	h.channel.Broadcast(protocol.EventPlayPauseToggled, map[string]any{"isPlaying": true})
	h.flush(t)
	h.advance(t, 200*time.Millisecond, 3)
	assert.Len(t, h.channel.Emitted(protocol.EventUpdateCurrentTime), 3)

	h.channel.Broadcast(protocol.EventPlayPauseToggled, map[string]any{"isPlaying": false})
	h.flush(t)
	h.advance(t, 200*time.Millisecond, 3)
	assert.Len(t, h.channel.Emitted(protocol.EventUpdateCurrentTime), 3)
}

func TestManager_Watchdog_Expires(t *testing.T) {
	h := newHarness(t, ackWith(true, 0, 0, "none"))
	h.player.StickUnstarted = true
	h.connect(t)
	require.Equal(t, []string{"load(t0)", "seek(0)", "play()"}, h.player.Commands())
	h.player.Reset()

	// Six seconds of a player stuck in unstarted.
	h.advance(t, 200*time.Millisecond, 30)

	assert.Equal(t, 24, h.player.Count("play()"))
	assert.Equal(t, playback.WatchdogExpired, h.m.GetStatus().Watchdog)
	assert.Equal(t, 1, h.count(playback.EventStartupExpired))
	assert.Zero(t, h.channel.Requests(protocol.EventRequestSync))
}

func TestManager_Watchdog_Recovers(t *testing.T) {
	h := newHarness(t, ackWith(true, 0, 0, "none"))
	h.player.StickUnstarted = true
	h.connect(t)
	h.player.Reset()

	h.advance(t, 200*time.Millisecond, 3)
	assert.Equal(t, 3, h.player.Count("play()"))

	h.player.SetLifecycle(playback.LifecyclePlaying)
	h.advance(t, 200*time.Millisecond, 3)

	assert.Equal(t, 3, h.player.Count("play()"))
	st := h.m.GetStatus()
	assert.Equal(t, playback.WatchdogRecovered, st.Watchdog)
	require.Eventually(t, func() bool {
		return h.channel.Requests(protocol.EventRequestSync) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestManager_Watchdog_CancelledByLoad(t *testing.T) {
	h := newHarness(t, ackWith(true, 0, 0, "none"))
	h.player.StickUnstarted = true
	h.connect(t)
	h.advance(t, 200*time.Millisecond, 10)

	// A new track restarts the budget.
	h.channel.Broadcast(protocol.EventPlayVideoAt, map[string]any{"roomCode": "ABCD", "index": 1, "time": 0.0})
	h.flush(t)
	h.player.Reset()
	h.advance(t, 200*time.Millisecond, 20)

	assert.Equal(t, 20, h.player.Count("play()"))
	assert.Equal(t, playback.WatchdogWatching, h.m.GetStatus().Watchdog)
}

func TestManager_FirstPlaySyncs(t *testing.T) {
	h := newHarness(t, ackWith(true, 0, 0, "none"))
	h.connect(t)

	h.player.Emit(playback.LifecyclePlaying)
	h.flush(t)
	require.Eventually(t, func() bool {
		return h.channel.Requests(protocol.EventRequestSync) == 1
	}, time.Second, 5*time.Millisecond)

	// Later play events do not resync.
	h.player.Emit(playback.LifecyclePaused)
	h.player.Emit(playback.LifecyclePlaying)
	h.flush(t)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, h.channel.Requests(protocol.EventRequestSync))
}

func TestManager_Reconnect(t *testing.T) {
	h := newHarness(t, ackWith(true, 1, 15.0, "none"))
	h.connect(t)
	epoch := h.m.GetStatus().Epoch

	h.channel.SetAck(ackWith(true, 2, 3.0, "all"))
	h.channel.Drop()
	h.flush(t)
	assert.Equal(t, state.PhaseReconnecting, h.m.GetStatus().Phase)
	assert.Equal(t, 1, h.count(playback.EventDisconnected))

	require.Eventually(t, func() bool {
		h.clock.Add(10 * time.Millisecond)
		return h.m.GetStatus().Phase == state.PhaseConnected
	}, time.Second, 5*time.Millisecond)

	st := h.m.GetStatus()
	assert.Equal(t, 2, h.channel.Dials())
	assert.Greater(t, st.Epoch, epoch)
	assert.Equal(t, 2, st.PlaybackState.TrackIndex)
	assert.Equal(t, playback.RepeatAll, st.PlaybackState.RepeatMode)
	assert.Equal(t, 1, h.count(playback.EventReconnected))
	assert.Equal(t, 1, h.player.Count("load(t2)"))
}

func TestManager_Reconnect_Ends(t *testing.T) {
	tests := []struct {
		name    string
		arrange func(h *harness)
		phase   state.Phase
		dials   int
	}{
		{
			name: "rejected",
			arrange: func(h *harness) {
				h.channel.SetAck(map[string]any{"success": false, "message": "Room not found"})
			},
			phase: state.PhaseLeft,
			dials: 2,
		},
		{
			name: "gives up",
			arrange: func(h *harness) {
				h.channel.SetDialErr(errors.New("connection refused"))
			},
			phase: state.PhaseDisconnected,
			dials: 4,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, ackWith(true, 1, 15.0, "none"))
			h.connect(t)

			tt.arrange(h)
			h.channel.Drop()
			h.flush(t)

			require.Eventually(t, func() bool {
				h.clock.Add(10 * time.Millisecond)
				return h.count(playback.EventSessionEnded) == 1
			}, 2*time.Second, 5*time.Millisecond)

			st := h.m.GetStatus()
			assert.Equal(t, tt.phase, st.Phase)
			assert.Equal(t, tt.dials, h.channel.Dials())
			assert.Equal(t, 0, h.count(playback.EventReconnected))
		})
	}
}

func TestManager_VolumeIsLocal(t *testing.T) {
	h := newHarness(t, ackWith(true, 1, 15.0, "none"))

	// Works before joining.
	v, err := h.m.SetVolume(60)
	require.NoError(t, err)
	assert.Equal(t, playback.Volume{Level: 60}, v)

	h.connect(t)
	h.player.Reset()

	v, err = h.m.ToggleMute()
	require.NoError(t, err)
	assert.True(t, v.Muted)
	v, err = h.m.ToggleMute()
	require.NoError(t, err)
	assert.Equal(t, playback.Volume{Level: 60}, v)

	assert.Equal(t, []string{"mute(true)", "mute(false)", "volume(60)"}, h.player.Commands())
	assert.Equal(t, playback.Volume{Level: 60}, h.m.GetStatus().Volume)
	h.channel.mu.Lock()
	assert.Empty(t, h.channel.emitted)
	h.channel.mu.Unlock()

	h.m.Close()
	_, err = h.m.SetVolume(10)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestManager_Intents(t *testing.T) {
	h := newHarness(t, ackWith(true, 2, 3.0, "none"))
	h.connect(t)
	h.player.Reset()
	ctx := context.Background()

	require.NoError(t, h.m.TogglePlayPause(ctx))
	require.NoError(t, h.m.SeekTo(ctx, 42))
	require.NoError(t, h.m.CycleRepeatMode(ctx))
	require.NoError(t, h.m.PlayAt(ctx, 1))
	assert.ErrorIs(t, h.m.PlayAt(ctx, 7), ErrIndexOutOfRange)
	assert.ErrorIs(t, h.m.Next(ctx), ErrNoNextTrack)

	assert.Equal(t, []any{protocol.RoomCode{RoomCode: "ABCD"}}, h.channel.Emitted(protocol.EventTogglePlayPause))
	assert.Equal(t, []any{protocol.SeekTo{RoomCode: "ABCD", Time: 42}}, h.channel.Emitted(protocol.EventSeekTo))
	assert.Equal(t, []any{protocol.ChangeRepeatMode{RoomCode: "ABCD", Mode: "one"}}, h.channel.Emitted(protocol.EventChangeRepeatMode))
	assert.Equal(t, []any{protocol.PlayVideoAt{RoomCode: "ABCD", Index: 1}}, h.channel.Emitted(protocol.EventPlayVideoAt))

	// Proposals never touch the replica or the player.
	assert.Empty(t, h.player.Commands())
	st := h.m.GetStatus()
	assert.True(t, st.PlaybackState.IsPlaying)
	assert.Equal(t, 2, st.PlaybackState.TrackIndex)
	assert.Equal(t, playback.RepeatNone, st.PlaybackState.RepeatMode)
}

func TestManager_NextPrevious(t *testing.T) {
	tests := []struct {
		name     string
		index    int
		mode     string
		position float64
		action   func(m *Manager) error
		wantErr  error
		event    string
		want     any
	}{
		{
			name: "next advances", index: 0, mode: "none",
			action: func(m *Manager) error { return m.Next(context.Background()) },
			event:  protocol.EventPlayVideoAt, want: protocol.PlayVideoAt{RoomCode: "ABCD", Index: 1},
		},
		{
			name: "next wraps under repeat all", index: 2, mode: "all",
			action: func(m *Manager) error { return m.Next(context.Background()) },
			event:  protocol.EventPlayVideoAt, want: protocol.PlayVideoAt{RoomCode: "ABCD", Index: 0},
		},
		{
			name: "next stops at last without repeat all", index: 2, mode: "one",
			action:  func(m *Manager) error { return m.Next(context.Background()) },
			wantErr: ErrNoNextTrack,
		},
		{
			name: "previous restarts after five seconds", index: 1, mode: "none", position: 6,
			action: func(m *Manager) error { return m.Previous(context.Background()) },
			event:  protocol.EventSeekTo, want: protocol.SeekTo{RoomCode: "ABCD", Time: 0},
		},
		{
			name: "previous goes back early in a track", index: 1, mode: "none", position: 2,
			action: func(m *Manager) error { return m.Previous(context.Background()) },
			event:  protocol.EventPlayVideoAt, want: protocol.PlayVideoAt{RoomCode: "ABCD", Index: 0},
		},
		{
			name: "previous on first track", index: 0, mode: "all", position: 2,
			action:  func(m *Manager) error { return m.Previous(context.Background()) },
			wantErr: ErrNoPreviousTrack,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, ackWith(true, tt.index, 0, tt.mode))
			h.connect(t)
			h.player.SetPosition(tt.position)

			err := tt.action(h.m)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, []any{tt.want}, h.channel.Emitted(tt.event))
		})
	}
}

func TestManager_ProposeBeforeConnect(t *testing.T) {
	h := newHarness(t, ackWith(true, 0, 0, "none"))
	assert.ErrorIs(t, h.m.TogglePlayPause(context.Background()), ErrNotConnected)
	assert.ErrorIs(t, h.m.RequestSnapshot(), ErrNotConnected)
}

func TestManager_Leave(t *testing.T) {
	h := newHarness(t, ackWith(true, 0, 0, "none"))
	h.connect(t)

	require.NoError(t, h.m.Leave(context.Background()))

	assert.Equal(t, []any{protocol.RoomCode{RoomCode: "ABCD"}}, h.channel.Emitted(protocol.EventLeaveRoom))
	assert.True(t, h.channel.IsClosed())
	select {
	case <-h.m.Done():
	default:
		t.Fatal("loop still running after leave")
	}
	assert.ErrorIs(t, h.m.TogglePlayPause(context.Background()), ErrClosed)
	assert.Equal(t, state.PhaseLeft, h.m.GetStatus().Phase)

	// Timers are gone: no more clock publications.
	h.clock.Add(time.Second)
	assert.Empty(t, h.channel.Emitted(protocol.EventUpdateCurrentTime))
}
