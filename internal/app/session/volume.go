package session

import "github.com/osa030/19room/internal/app/playback"

// Volume and mute only change the local player. Nothing is proposed and
// the replica is untouched, so they work in every phase until Close.

// SetVolume sets the local output level in percent, clamped to [0, 100].
func (m *Manager) SetVolume(level int) (playback.Volume, error) {
	var v playback.Volume
	var err error
	if cerr := m.call(func() { v, err = m.player.SetVolume(level) }); cerr != nil {
		return v, cerr
	}
	return v, err
}

// ToggleMute mutes or unmutes the local player.
func (m *Manager) ToggleMute() (playback.Volume, error) {
	var v playback.Volume
	var err error
	if cerr := m.call(func() { v, err = m.player.ToggleMute() }); cerr != nil {
		return v, cerr
	}
	return v, err
}
