package playback

import (
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/19room/internal/domain/track"
)

// Errors
var (
	ErrNoAdapter = errors.New("no player adapter")
	ErrNoTrack   = errors.New("no track loaded")
	ErrNoVolume  = errors.New("player has no volume control")
)

// Volume is the local listening level. It is never shared with the room.
type Volume struct {
	Level int // percent
	Muted bool
}

// Controller owns the player adapter for the lifetime of a session and
// remembers which track is loaded so redundant reloads can be skipped.
// It is not safe for concurrent use; the session loop is its only caller.
type Controller struct {
	adapter  Adapter
	loadedID string
	volume   Volume
}

// NewController creates a controller around the given adapter.
func NewController(adapter Adapter) *Controller {
	return &Controller{adapter: adapter, volume: Volume{Level: 100}}
}

// Adapter returns the underlying adapter.
func (c *Controller) Adapter() Adapter {
	return c.adapter
}

// LoadedID returns the ID of the loaded track, or "" if none.
func (c *Controller) LoadedID() string {
	return c.loadedID
}

// IsLoaded reports whether the track with the given ID is loaded.
func (c *Controller) IsLoaded(id string) bool {
	return c.loadedID != "" && c.loadedID == id
}

// Load loads t into the adapter.
func (c *Controller) Load(t track.Track) error {
	if c.adapter == nil {
		return ErrNoAdapter
	}
	zlog.Debug().Msgf("playback: load track_id=%s title=%q", t.ID, t.Title)
	if err := c.adapter.Load(t); err != nil {
		c.loadedID = ""
		return errors.Wrapf(err, "load %s", t.ID)
	}
	c.loadedID = t.ID
	return nil
}

// Play starts or resumes playback.
func (c *Controller) Play() error {
	if c.adapter == nil {
		return ErrNoAdapter
	}
	if c.loadedID == "" {
		return ErrNoTrack
	}
	return errors.Wrap(c.adapter.Play(), "play")
}

// Pause pauses playback.
func (c *Controller) Pause() error {
	if c.adapter == nil {
		return ErrNoAdapter
	}
	if c.loadedID == "" {
		return ErrNoTrack
	}
	return errors.Wrap(c.adapter.Pause(), "pause")
}

// Seek moves the playhead. Negative targets are clamped to 0.
func (c *Controller) Seek(seconds float64) error {
	if c.adapter == nil {
		return ErrNoAdapter
	}
	if c.loadedID == "" {
		return ErrNoTrack
	}
	if seconds < 0 {
		seconds = 0
	}
	zlog.Debug().Msgf("playback: seek to=%.2f track_id=%s", seconds, c.loadedID)
	return errors.Wrap(c.adapter.Seek(seconds), "seek")
}

// Apply drives the adapter to play or pause according to isPlaying.
func (c *Controller) Apply(isPlaying bool) error {
	if isPlaying {
		return c.Play()
	}
	return c.Pause()
}

// Position returns the adapter position in seconds.
func (c *Controller) Position() (float64, error) {
	if c.adapter == nil {
		return 0, ErrNoAdapter
	}
	return c.adapter.Position()
}

// Duration returns the duration of the loaded track in seconds.
func (c *Controller) Duration() (float64, error) {
	if c.adapter == nil {
		return 0, ErrNoAdapter
	}
	return c.adapter.Duration()
}

// Lifecycle returns the adapter lifecycle state.
func (c *Controller) Lifecycle() Lifecycle {
	if c.adapter == nil {
		return LifecycleUnstarted
	}
	return c.adapter.Lifecycle()
}

// Forget clears the loaded track so the next Load is never skipped.
func (c *Controller) Forget() {
	c.loadedID = ""
}

// Volume returns the local volume preference.
func (c *Controller) Volume() Volume {
	return c.volume
}

func (c *Controller) volumeControl() (VolumeControl, error) {
	if c.adapter == nil {
		return nil, ErrNoAdapter
	}
	vc, ok := c.adapter.(VolumeControl)
	if !ok {
		return nil, ErrNoVolume
	}
	return vc, nil
}

// SetVolume sets the output level, clamped to [0, 100]. The mute state is
// left as it is.
func (c *Controller) SetVolume(level int) (Volume, error) {
	vc, err := c.volumeControl()
	if err != nil {
		return c.volume, err
	}
	level = max(0, min(100, level))
	if err := vc.SetVolume(level); err != nil {
		return c.volume, errors.Wrap(err, "set volume")
	}
	c.volume.Level = level
	zlog.Debug().Msgf("playback: volume level=%d muted=%t", level, c.volume.Muted)
	return c.volume, nil
}

// ToggleMute flips the mute state. Unmuting restores the remembered level.
func (c *Controller) ToggleMute() (Volume, error) {
	vc, err := c.volumeControl()
	if err != nil {
		return c.volume, err
	}
	muted := !c.volume.Muted
	if err := vc.SetMuted(muted); err != nil {
		return c.volume, errors.Wrap(err, "set mute")
	}
	c.volume.Muted = muted
	if !muted {
		if err := vc.SetVolume(c.volume.Level); err != nil {
			return c.volume, errors.Wrap(err, "restore volume")
		}
	}
	zlog.Debug().Msgf("playback: volume level=%d muted=%t", c.volume.Level, muted)
	return c.volume, nil
}
