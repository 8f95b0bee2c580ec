// Package state provides the local reconciliation snapshot of a session.
package state

// Phase represents the connection lifecycle phase of the local client.
type Phase int

const (
	PhaseDisconnected Phase = iota // Not connected to a room
	PhaseConnecting                // Handshake in flight
	PhaseConnected                 // Handshake acknowledged; applying broadcasts
	PhaseReconnecting              // Channel lost; waiting to redial
	PhaseLeft                      // Left the room or rejected; terminal
)

// String returns the string representation of the phase.
func (p Phase) String() string {
	switch p {
	case PhaseDisconnected:
		return "disconnected"
	case PhaseConnecting:
		return "connecting"
	case PhaseConnected:
		return "connected"
	case PhaseReconnecting:
		return "reconnecting"
	case PhaseLeft:
		return "left"
	default:
		return "unknown"
	}
}
