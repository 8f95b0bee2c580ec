// Package registry provides the ordered member roster of a room.
package registry

import (
	"github.com/osa030/19room/internal/domain/member"
)

// Roster holds the ordered member list as last published by the coordinator.
// Leadership is derived: the member at the lowest rank (index 0) leads.
// Roster is owned by the session loop and is not safe for concurrent use.
type Roster struct {
	selfID  string
	members []member.Member
	leader  *member.Member
}

// NewRoster creates an empty roster for the local member identified by selfID.
func NewRoster(selfID string) *Roster {
	return &Roster{selfID: selfID}
}

// SelfID returns the local member identity.
func (r *Roster) SelfID() string {
	return r.selfID
}

// SetSelfID replaces the local identity, e.g. when the channel assigns an ID at connect.
func (r *Roster) SetSelfID(id string) {
	r.selfID = id
}

// Replace swaps in a new ordered member list and recomputes leadership.
// Duplicate IDs keep their lowest rank. It returns true if the leader changed.
func (r *Roster) Replace(members []member.Member) bool {
	seen := make(map[string]bool, len(members))
	ordered := make([]member.Member, 0, len(members))
	for _, m := range members {
		if m.ID == "" || seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		ordered = append(ordered, m)
	}

	prev := r.LeaderID()
	r.members = ordered
	r.leader = nil
	if len(ordered) > 0 {
		l := ordered[0]
		r.leader = &l
	}
	return prev != r.LeaderID()
}

// Leader returns the leading member.
func (r *Roster) Leader() (member.Member, bool) {
	if r.leader == nil {
		return member.Member{}, false
	}
	return *r.leader, true
}

// LeaderID returns the leader's ID, or "" for an empty roster.
func (r *Roster) LeaderID() string {
	if r.leader == nil {
		return ""
	}
	return r.leader.ID
}

// IsLeader reports whether the local member leads.
func (r *Roster) IsLeader() bool {
	return r.leader != nil && r.leader.Is(r.selfID)
}

// Rank returns the rank of the member with the given ID, or -1.
func (r *Roster) Rank(id string) int {
	for i, m := range r.members {
		if m.Is(id) {
			return i
		}
	}
	return -1
}

// All returns a copy of the ordered members.
func (r *Roster) All() []member.Member {
	out := make([]member.Member, len(r.members))
	copy(out, r.members)
	return out
}

// Count returns the number of members.
func (r *Roster) Count() int {
	return len(r.members)
}
