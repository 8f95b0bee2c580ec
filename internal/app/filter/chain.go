package filter

import "context"

// Chain executes filters in sequence and keeps per-filter drop counts.
type Chain struct {
	filters []Filter
	drops   map[string]uint64
}

// NewChain creates a new filter chain.
func NewChain() *Chain {
	return &Chain{
		filters: make([]Filter, 0),
		drops:   make(map[string]uint64),
	}
}

// Add adds a filter to the chain.
func (c *Chain) Add(f Filter) {
	c.filters = append(c.filters, f)
}

// Execute runs the filters that apply to the event in order. The first
// rejection wins and is attributed to its filter.
// Not safe for concurrent use; the session loop is the only caller.
func (c *Chain) Execute(ctx context.Context, b Broadcast, v View) Result {
	for _, f := range c.filters {
		if !f.AppliesTo(b.Event) {
			continue
		}

		result := f.Check(ctx, b, v)
		if !result.Accepted {
			result.Filter = f.Name()
			c.drops[f.Name()]++
			return result
		}
	}
	return Accept()
}

// Drops returns how many broadcasts each filter has rejected.
func (c *Chain) Drops() map[string]uint64 {
	out := make(map[string]uint64, len(c.drops))
	for k, v := range c.drops {
		out[k] = v
	}
	return out
}

// Filters returns all filters in the chain.
func (c *Chain) Filters() []Filter {
	return c.filters
}
