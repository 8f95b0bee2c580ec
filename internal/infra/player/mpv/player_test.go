package mpv

import (
	"bufio"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/19room/internal/app/playback"
	"github.com/osa030/19room/internal/domain/track"
)

// fakeMPV answers IPC commands from an in-memory property table.
type fakeMPV struct {
	mu       sync.Mutex
	props    map[string]any
	commands [][]any
	listener net.Listener
}

func startFakeMPV(t *testing.T) (*fakeMPV, string) {
	t.Helper()
	// Unix socket paths have a short length limit.
	dir, err := os.MkdirTemp("", "mpv")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	path := filepath.Join(dir, "s.sock")

	ln, err := net.Listen("unix", path)
	require.NoError(t, err)
	f := &fakeMPV{props: map[string]any{"pause": true}, listener: ln}
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go f.serve(conn)
		}
	}()
	return f, path
}

func (f *fakeMPV) serve(conn net.Conn) {
	defer conn.Close()
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		var cmd ipcCommand
		if err := json.Unmarshal(scanner.Bytes(), &cmd); err != nil {
			return
		}
		// Unrelated event lines precede replies.
		_, _ = conn.Write([]byte(`{"event":"property-change"}` + "\n"))
		resp := f.handle(cmd)
		out, _ := json.Marshal(resp)
		_, _ = conn.Write(append(out, '\n'))
	}
}

func (f *fakeMPV) handle(cmd ipcCommand) ipcResponse {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, cmd.Command)
	resp := ipcResponse{RequestID: cmd.RequestID, Error: errSuccess}
	switch cmd.Command[0] {
	case "get_property":
		v, ok := f.props[cmd.Command[1].(string)]
		if !ok {
			resp.Error = errNoProp
		}
		resp.Data = v
	case "set_property":
		f.props[cmd.Command[1].(string)] = cmd.Command[2]
	case "loadfile":
		delete(f.props, "time-pos")
		delete(f.props, "duration")
		f.props["eof-reached"] = false
		f.props["idle-active"] = false
	case "seek":
		f.props["time-pos"] = cmd.Command[1]
	default:
		resp.Error = "invalid parameter"
	}
	return resp
}

func (f *fakeMPV) set(name string, v any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if v == nil {
		delete(f.props, name)
		return
	}
	f.props[name] = v
}

func (f *fakeMPV) last() []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.commands[len(f.commands)-1]
}

func newPlayer(t *testing.T) (*Player, *fakeMPV, *clock.Mock) {
	t.Helper()
	f, path := startFakeMPV(t)
	mock := clock.NewMock()
	p, err := New(Config{
		Socket:       path,
		URLTemplate:  "https://www.youtube.com/watch?v=%s",
		PollInterval: 250 * time.Millisecond,
	}, WithClock(mock))
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p, f, mock
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{URLTemplate: "%s"})
	assert.Error(t, err)
	_, err = New(Config{Socket: "/tmp/x.sock", URLTemplate: "https://example.com"})
	assert.Error(t, err)
}

func TestPlayer_NoTrack(t *testing.T) {
	p, _, _ := newPlayer(t)
	assert.ErrorIs(t, p.Play(), ErrNoTrack)
	_, err := p.Position()
	assert.ErrorIs(t, err, ErrNoTrack)
}

func TestPlayer_LoadAndCommands(t *testing.T) {
	p, f, _ := newPlayer(t)

	var got []playback.Lifecycle
	var mu sync.Mutex
	p.OnLifecycle(func(lc playback.Lifecycle) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, lc)
	})

	require.NoError(t, p.Load(track.Track{ID: "abc"}))
	assert.Equal(t, []any{"set_property", "pause", true}, f.last())
	assert.Equal(t, playback.LifecycleUnstarted, p.Lifecycle())

	pos, err := p.Position()
	require.NoError(t, err)
	assert.Equal(t, 0.0, pos)

	require.NoError(t, p.Seek(12.5))
	assert.Equal(t, []any{"seek", 12.5, "absolute"}, f.last())
	pos, err = p.Position()
	require.NoError(t, err)
	assert.Equal(t, 12.5, pos)

	require.NoError(t, p.Play())
	assert.Equal(t, []any{"set_property", "pause", false}, f.last())

	f.set("duration", 212.0)
	d, err := p.Duration()
	require.NoError(t, err)
	assert.Equal(t, 212.0, d)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []playback.Lifecycle{playback.LifecycleUnstarted}, got)
}

func TestPlayer_Volume(t *testing.T) {
	p, f, _ := newPlayer(t)

	require.NoError(t, p.SetVolume(35))
	assert.Equal(t, []any{"set_property", "volume", 35.0}, f.last())
	require.NoError(t, p.SetMuted(true))
	assert.Equal(t, []any{"set_property", "mute", true}, f.last())

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Equal(t, 35.0, f.props["volume"])
	assert.Equal(t, true, f.props["mute"])
}

func TestPlayer_PollLifecycle(t *testing.T) {
	p, f, mock := newPlayer(t)
	require.NoError(t, p.Load(track.Track{ID: "abc"}))

	waitFor := func(want playback.Lifecycle) {
		t.Helper()
		require.Eventually(t, func() bool {
			mock.Add(250 * time.Millisecond)
			return p.Lifecycle() == want
		}, 2*time.Second, 10*time.Millisecond)
	}

	// Paused before the first start is still unstarted.
	f.set("time-pos", 0.0)
	mock.Add(250 * time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, playback.LifecycleUnstarted, p.Lifecycle())

	require.NoError(t, p.Play())
	waitFor(playback.LifecyclePlaying)

	require.NoError(t, p.Pause())
	waitFor(playback.LifecyclePaused)

	f.set("eof-reached", true)
	waitFor(playback.LifecycleEnded)
}

func TestPlayer_PollUnopenableFile(t *testing.T) {
	p, f, mock := newPlayer(t)

	var mu sync.Mutex
	var got []playback.Lifecycle
	p.OnLifecycle(func(lc playback.Lifecycle) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, lc)
	})
	require.NoError(t, p.Load(track.Track{ID: "gone"}))

	// Still loading: no position and not idle.
	mock.Add(250 * time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, playback.LifecycleUnstarted, p.Lifecycle())

	// mpv gave up on the file and went idle.
	f.set("idle-active", true)
	require.Eventually(t, func() bool {
		mock.Add(250 * time.Millisecond)
		return p.Lifecycle() == playback.LifecycleError
	}, 2*time.Second, 10*time.Millisecond)

	// Reported once, not on every poll.
	mock.Add(250 * time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []playback.Lifecycle{playback.LifecycleUnstarted, playback.LifecycleError}, got)
}

func TestPlayer_PollFault(t *testing.T) {
	p, f, mock := newPlayer(t)
	require.NoError(t, p.Load(track.Track{ID: "abc"}))

	require.NoError(t, f.listener.Close())
	require.Eventually(t, func() bool {
		mock.Add(250 * time.Millisecond)
		return p.Lifecycle() == playback.LifecycleError
	}, 5*time.Second, 50*time.Millisecond)
}

func TestPlayer_CommandError(t *testing.T) {
	p, _, _ := newPlayer(t)
	_, err := p.sendCommand("bogus")
	require.Error(t, err)
	var mpvErr *commandError
	assert.ErrorAs(t, err, &mpvErr)
}
