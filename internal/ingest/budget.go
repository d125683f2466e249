package ingest

import "time"

// Budget bounds one invocation: a page (subrequest) ceiling and a wall-clock
// deadline. It must be consulted after every page, not only at entry, since
// the hosting environment may enforce a hard ceiling of its own.
type Budget struct {
	maxPages int
	deadline time.Time
	pages    int
	now      func() time.Time
}

func NewBudget(maxPages int, maxDuration time.Duration) *Budget {
	now := time.Now
	return &Budget{
		maxPages: maxPages,
		deadline: now().Add(maxDuration),
		now:      now,
	}
}

// ConsumePage records one completed fetch-normalize-store iteration.
func (b *Budget) ConsumePage() {
	b.pages++
}

func (b *Budget) Exhausted() bool {
	return b.pages >= b.maxPages || b.now().After(b.deadline)
}
