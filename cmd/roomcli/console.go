package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/osa030/19room/internal/app/playback"
	"github.com/osa030/19room/internal/app/session"
	"github.com/osa030/19room/internal/domain/track"
)

type commandKind int

const (
	cmdToggle commandKind = iota
	cmdNext
	cmdPrevious
	cmdSeek
	cmdGoto
	cmdRepeat
	cmdSync
	cmdVolume
	cmdMute
	cmdStatus
	cmdHelp
	cmdQuit
)

type command struct {
	kind    commandKind
	seconds float64
	index   int
	level   int
}

const helpText = `commands:
  p            toggle play/pause
  n            next track
  b            previous track (restarts after 5s)
  s <m:ss|s>   seek
  g <index>    play track at index
  r            cycle repeat mode
  sync         request a state snapshot
  v <0-100>    set local volume
  m            mute/unmute locally
  st           print status
  q            leave the room`

// parseCommand parses one console line.
func parseCommand(line string) (command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return command{kind: cmdStatus}, nil
	}
	switch strings.ToLower(fields[0]) {
	case "p", "play", "pause":
		return command{kind: cmdToggle}, nil
	case "n", "next":
		return command{kind: cmdNext}, nil
	case "b", "prev", "previous":
		return command{kind: cmdPrevious}, nil
	case "r", "repeat":
		return command{kind: cmdRepeat}, nil
	case "sync":
		return command{kind: cmdSync}, nil
	case "st", "status":
		return command{kind: cmdStatus}, nil
	case "h", "help", "?":
		return command{kind: cmdHelp}, nil
	case "q", "quit", "leave":
		return command{kind: cmdQuit}, nil
	case "s", "seek":
		if len(fields) != 2 {
			return command{}, errors.New("usage: s <m:ss|seconds>")
		}
		secs, err := parseClock(fields[1])
		if err != nil {
			return command{}, err
		}
		return command{kind: cmdSeek, seconds: secs}, nil
	case "m", "mute":
		return command{kind: cmdMute}, nil
	case "v", "vol", "volume":
		if len(fields) != 2 {
			return command{}, errors.New("usage: v <0-100>")
		}
		level, err := strconv.Atoi(fields[1])
		if err != nil || level < 0 || level > 100 {
			return command{}, errors.Newf("invalid volume %q", fields[1])
		}
		return command{kind: cmdVolume, level: level}, nil
	case "g", "goto":
		if len(fields) != 2 {
			return command{}, errors.New("usage: g <index>")
		}
		idx, err := strconv.Atoi(fields[1])
		if err != nil || idx < 0 {
			return command{}, errors.Newf("invalid index %q", fields[1])
		}
		return command{kind: cmdGoto, index: idx}, nil
	default:
		return command{}, errors.Newf("unknown command %q (h for help)", fields[0])
	}
}

// parseClock accepts "m:ss" or plain seconds.
func parseClock(s string) (float64, error) {
	mins, secs, found := strings.Cut(s, ":")
	if !found {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil || v < 0 {
			return 0, errors.Newf("invalid time %q", s)
		}
		return v, nil
	}
	m, err := strconv.Atoi(mins)
	if err != nil || m < 0 {
		return 0, errors.Newf("invalid time %q", s)
	}
	sec, err := strconv.ParseFloat(secs, 64)
	if err != nil || sec < 0 || sec >= 60 {
		return 0, errors.Newf("invalid time %q", s)
	}
	return float64(m)*60 + sec, nil
}

// controller is the part of the session manager the console drives.
type controller interface {
	TogglePlayPause(ctx context.Context) error
	Next(ctx context.Context) error
	Previous(ctx context.Context) error
	SeekTo(ctx context.Context, seconds float64) error
	PlayAt(ctx context.Context, index int) error
	CycleRepeatMode(ctx context.Context) error
	RequestSnapshot() error
	SetVolume(level int) (playback.Volume, error)
	ToggleMute() (playback.Volume, error)
	GetStatus() *session.Status
}

func execute(ctx context.Context, c controller, cmd command, out io.Writer) error {
	switch cmd.kind {
	case cmdToggle:
		return c.TogglePlayPause(ctx)
	case cmdNext:
		return c.Next(ctx)
	case cmdPrevious:
		return c.Previous(ctx)
	case cmdSeek:
		return c.SeekTo(ctx, cmd.seconds)
	case cmdGoto:
		return c.PlayAt(ctx, cmd.index)
	case cmdRepeat:
		return c.CycleRepeatMode(ctx)
	case cmdSync:
		return c.RequestSnapshot()
	case cmdVolume:
		v, err := c.SetVolume(cmd.level)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "🔊 %s\n", volumeLabel(v))
	case cmdMute:
		v, err := c.ToggleMute()
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "🔊 %s\n", volumeLabel(v))
	case cmdStatus:
		printStatus(out, c.GetStatus())
	case cmdHelp:
		fmt.Fprintln(out, helpText)
	}
	return nil
}

func playIcon(isPlaying bool) string {
	if isPlaying {
		return "▶️ "
	}
	return "⏸ "
}

func volumeLabel(v playback.Volume) string {
	if v.Muted {
		return fmt.Sprintf("muted (%d%%)", v.Level)
	}
	return fmt.Sprintf("%d%%", v.Level)
}

func trackLabel(t *track.Track) string {
	if t == nil {
		return "(no track)"
	}
	return fmt.Sprintf("%s [%s]", t.Title, t.FormatDuration())
}

// printStatus prints a status block.
func printStatus(out io.Writer, st *session.Status) {
	fmt.Fprintf(out, "Room %s", st.RoomCode)
	if st.Title != "" {
		fmt.Fprintf(out, " (%s)", st.Title)
	}
	fmt.Fprintf(out, " - %s\n", st.Phase)
	fmt.Fprintf(out, "  %s %d/%d %s  %s  repeat=%s\n",
		playIcon(st.PlaybackState.IsPlaying),
		st.PlaybackState.TrackIndex+1, len(st.Playlist),
		trackLabel(st.CurrentTrack),
		track.FormatClock(st.Position),
		st.PlaybackState.RepeatMode)

	names := make([]string, 0, len(st.Members))
	for _, m := range st.Members {
		names = append(names, m.Name)
	}
	leader := st.Leader.Name
	if st.IsLeader {
		leader += " (you)"
	}
	fmt.Fprintf(out, "  members: %s  leader: %s\n", strings.Join(names, ", "), leader)
	fmt.Fprintf(out, "  volume: %s\n", volumeLabel(st.Volume))

	if len(st.Dropped) > 0 {
		keys := make([]string, 0, len(st.Dropped))
		for k := range st.Dropped {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s=%d", k, st.Dropped[k]))
		}
		fmt.Fprintf(out, "  dropped: %s\n", strings.Join(parts, " "))
	}
}

// printEvent prints one line per reconciliation event.
func printEvent(out io.Writer, e playback.Event) {
	switch e.Type {
	case playback.EventTrackChanged:
		fmt.Fprintf(out, "🎵 %s\n", trackLabel(e.Track))
	case playback.EventStateChanged:
		fmt.Fprintf(out, "%s %s @ %s repeat=%s\n",
			playIcon(e.State.IsPlaying), trackLabel(e.Track),
			track.FormatClock(e.State.Position), e.State.RepeatMode)
	case playback.EventMembersChanged:
		if e.IsLeader {
			fmt.Fprintln(out, "👑 you are the leader")
		} else {
			fmt.Fprintln(out, "👥 members changed")
		}
	case playback.EventPlaylistChanged:
		fmt.Fprintln(out, "📃 playlist updated")
	case playback.EventDriftCorrected:
		fmt.Fprintf(out, "⏩ resynced to %s\n", track.FormatClock(e.State.Position))
	case playback.EventStartupExpired:
		fmt.Fprintln(out, "⚠️  player did not start; press p to retry")
	case playback.EventPlaybackEnded:
		fmt.Fprintln(out, "⏹  playlist finished")
	case playback.EventDisconnected:
		fmt.Fprintln(out, "🔌 disconnected, reconnecting...")
	case playback.EventReconnected:
		fmt.Fprintln(out, "🔌 reconnected")
	case playback.EventSessionEnded:
		fmt.Fprintln(out, "🚪 session ended")
	}
}
