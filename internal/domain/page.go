package domain

import (
	"encoding/json"
	"time"
)

// TotalUnknown marks a PageResult whose upstream does not report a total
// entry count; exhaustion is then detected by a short or empty page.
const TotalUnknown = -1

// Window is the [From, To) modification-time range scoping an upstream query.
type Window struct {
	From time.Time
	To   time.Time
}

// PageRequest asks a source for one page of raw items.
type PageRequest struct {
	Offset   int
	PageSize int
	Window   Window
}

// PageResult is one page of raw upstream items plus pagination metadata.
// It lives only within a single controller iteration.
type PageResult struct {
	Items         []json.RawMessage
	TotalCount    int
	PageSize      int
	ReturnedCount int
}
