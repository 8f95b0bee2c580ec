package filter

import "context"

// RoomCodeFilter drops broadcasts addressed to a different room.
// Payloads without a room code pass.
type RoomCodeFilter struct{}

func (f *RoomCodeFilter) Name() string {
	return "room_code_filter"
}

func (f *RoomCodeFilter) Description() string {
	return "Drops broadcasts whose payload names another room"
}

func (f *RoomCodeFilter) ReturnCodes() []string {
	return []string{"room_mismatch"}
}

func (f *RoomCodeFilter) AppliesTo(event string) bool {
	return true
}

func (f *RoomCodeFilter) Check(ctx context.Context, b Broadcast, v View) Result {
	if b.RoomCode != "" && b.RoomCode != v.RoomCode() {
		return Reject("room_mismatch")
	}
	return Accept()
}

func init() {
	Register("room_code_filter", func() Filter {
		return &RoomCodeFilter{}
	})
}
