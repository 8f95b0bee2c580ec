package filter

import "context"

// SequenceFilter drops numbered broadcasts that are not newer than the last
// applied one. Unnumbered broadcasts pass.
type SequenceFilter struct{}

func (f *SequenceFilter) Name() string {
	return "sequence_filter"
}

func (f *SequenceFilter) Description() string {
	return "Drops duplicate or out-of-order numbered broadcasts"
}

func (f *SequenceFilter) ReturnCodes() []string {
	return []string{"stale_sequence"}
}

func (f *SequenceFilter) AppliesTo(event string) bool {
	return true
}

func (f *SequenceFilter) Check(ctx context.Context, b Broadcast, v View) Result {
	if b.Seq != 0 && b.Seq <= v.LastSequenceNo() {
		return Reject("stale_sequence")
	}
	return Accept()
}

func init() {
	Register("sequence_filter", func() Filter {
		return &SequenceFilter{}
	})
}
