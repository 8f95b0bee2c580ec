// Package filter provides the guard chain applied to inbound broadcasts
// before they reach the replica.
package filter

import "context"

// Broadcast is the routing-relevant view of an inbound broadcast.
type Broadcast struct {
	Event    string
	RoomCode string // Room code carried by the payload, if any
	Index    *int   // Track index carried by the payload, if any
	Seq      uint64 // Broadcast sequence number, 0 if unnumbered
}

// View is the read-only replica view a filter checks against.
type View interface {
	RoomCode() string
	PlaylistLen() int
	LastSequenceNo() uint64
	Connected() bool
}

// Result represents the result of a filter check.
type Result struct {
	Accepted bool
	Code     string // e.g., "index_out_of_bounds", "stale_sequence"
	Filter   string // Name of the rejecting filter, set by Chain
}

// Accept returns an accepted result.
func Accept() Result {
	return Result{Accepted: true}
}

// Reject returns a rejected result with the given code.
func Reject(code string) Result {
	return Result{Accepted: false, Code: code}
}

// Filter is the interface for broadcast guards.
type Filter interface {
	// Name returns the filter name (used in config).
	Name() string
	// Description returns a human-readable description.
	Description() string
	// ReturnCodes returns the codes this filter can return.
	ReturnCodes() []string
	// AppliesTo returns true if this filter should run for the given event.
	AppliesTo(event string) bool
	// Check performs the filter check.
	Check(ctx context.Context, b Broadcast, v View) Result
}

// registry holds registered filter factories.
var registry = make(map[string]func() Filter)

// Register registers a filter factory.
func Register(name string, factory func() Filter) {
	registry[name] = factory
}

// GetRegistered returns all registered filter factories.
func GetRegistered() map[string]func() Filter {
	return registry
}
