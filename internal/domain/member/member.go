// Package member provides the room Member domain entity.
package member

// Member is a participant of a room.
// Rank is implicit: it is the position in the ordered member list.
type Member struct {
	ID   string // Channel-assigned identifier (falls back to the name)
	Name string // Display name
}

// New creates a member. An empty id falls back to the name, which is how
// coordinators that only publish names identify members.
func New(id, name string) Member {
	if id == "" {
		id = name
	}
	return Member{ID: id, Name: name}
}

// Is reports whether the member matches the given identity by ID.
func (m Member) Is(id string) bool {
	return id != "" && m.ID == id
}
