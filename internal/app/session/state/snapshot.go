package state

import "time"

// Snapshot is the client-local bookkeeping that complements the replica.
// It is created on handshake, reset on every track change and reconnect, and
// discarded on leave. Snapshot is owned by the session loop.
type Snapshot struct {
	phase Phase

	// epoch increases on every handshake and every track change.
	// Responses tagged with an older epoch are stale.
	epoch uint64

	hasSyncedSinceLoad   bool
	firstLoadPending     bool
	lastAuthoritativePos float64
	lastSyncRequestAt    time.Time
	pendingSyncID        string
	pendingSyncEpoch     uint64

	lastSequenceNo uint64
}

// New creates a disconnected snapshot.
func New() *Snapshot {
	return &Snapshot{phase: PhaseDisconnected}
}

// Phase returns the connection phase.
func (s *Snapshot) Phase() Phase {
	return s.phase
}

// SetPhase sets the connection phase.
func (s *Snapshot) SetPhase(p Phase) {
	s.phase = p
}

// Epoch returns the current epoch.
func (s *Snapshot) Epoch() uint64 {
	return s.epoch
}

// BeginConnection resets all per-connection bookkeeping and starts a new epoch.
// The broadcast sequence also restarts because a new connection may be served
// by a restarted coordinator.
func (s *Snapshot) BeginConnection() uint64 {
	s.resetLoad()
	s.lastSequenceNo = 0
	s.epoch++
	return s.epoch
}

// BeginLoad resets per-track bookkeeping for a newly loaded track and starts a new epoch.
func (s *Snapshot) BeginLoad() uint64 {
	s.resetLoad()
	s.firstLoadPending = true
	s.epoch++
	return s.epoch
}

func (s *Snapshot) resetLoad() {
	s.hasSyncedSinceLoad = false
	s.firstLoadPending = false
	s.lastAuthoritativePos = 0
	s.lastSyncRequestAt = time.Time{}
	s.pendingSyncID = ""
	s.pendingSyncEpoch = 0
}

// Discard clears everything on leave.
func (s *Snapshot) Discard() {
	s.resetLoad()
	s.lastSequenceNo = 0
	s.epoch++
	s.phase = PhaseLeft
}

// FirstLoadPending reports whether the loaded track has not started yet.
func (s *Snapshot) FirstLoadPending() bool {
	return s.firstLoadPending
}

// ClearFirstLoad marks the loaded track as started.
func (s *Snapshot) ClearFirstLoad() {
	s.firstLoadPending = false
}

// HasSyncedSinceLoad reports whether a snapshot response was applied for the loaded track.
func (s *Snapshot) HasSyncedSinceLoad() bool {
	return s.hasSyncedSinceLoad
}

// LastAuthoritativePosition returns the last position received from the coordinator.
func (s *Snapshot) LastAuthoritativePosition() float64 {
	return s.lastAuthoritativePos
}

// ObservePosition records an authoritative position from a broadcast or handshake.
func (s *Snapshot) ObservePosition(pos float64) {
	s.lastAuthoritativePos = pos
}

// LastSyncRequestAt returns when the last snapshot was requested.
func (s *Snapshot) LastSyncRequestAt() time.Time {
	return s.lastSyncRequestAt
}

// BeginSync records an outgoing snapshot request. Only the latest request is
// honoured; an earlier one still in flight becomes stale.
func (s *Snapshot) BeginSync(id string, now time.Time) {
	s.pendingSyncID = id
	s.pendingSyncEpoch = s.epoch
	s.lastSyncRequestAt = now
}

// PendingSync returns the correlation ID of the outstanding snapshot request.
func (s *Snapshot) PendingSync() (string, bool) {
	return s.pendingSyncID, s.pendingSyncID != ""
}

// CompleteSync accepts a snapshot response if it answers the outstanding
// request of the current epoch. Accepted responses update the authoritative position.
func (s *Snapshot) CompleteSync(id string, epoch uint64, pos float64) bool {
	if s.pendingSyncID == "" || id != s.pendingSyncID || epoch != s.epoch || s.pendingSyncEpoch != s.epoch {
		return false
	}
	s.pendingSyncID = ""
	s.hasSyncedSinceLoad = true
	s.lastAuthoritativePos = pos
	return true
}

// AcceptSequence reports whether a broadcast with sequence number seq is new.
// Zero means the coordinator does not number broadcasts and is always accepted.
func (s *Snapshot) AcceptSequence(seq uint64) bool {
	if seq == 0 {
		return true
	}
	if seq <= s.lastSequenceNo {
		return false
	}
	s.lastSequenceNo = seq
	return true
}

// LastSequenceNo returns the highest accepted broadcast sequence number.
func (s *Snapshot) LastSequenceNo() uint64 {
	return s.lastSequenceNo
}
