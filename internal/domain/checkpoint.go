package domain

import "time"

// Checkpoint is the durable per-source ingestion progress record.
//
// NextOffset is only meaningful relative to the window it was persisted
// for; WindowEnd pins that window. While a cycle is in progress the window
// is [LastFetchTime, WindowEnd) and NextOffset is the page offset to resume
// from. Once a cycle completes, LastFetchTime takes the value of WindowEnd,
// NextOffset resets to 0 and WindowEnd is cleared.
type Checkpoint struct {
	ID              int64      `db:"id"`
	SourceID        string     `db:"source_id"`
	LastFetchTime   *time.Time `db:"last_fetch_time"`
	WindowEnd       *time.Time `db:"window_end"`
	NextOffset      int        `db:"next_offset"`
	ItemsFetched    int64      `db:"items_fetched"`
	LastSuccessTime *time.Time `db:"last_success_time"`
}

// CycleSummary holds the outcome of one ingestion cycle.
type CycleSummary struct {
	SourceID         string
	TotalEntries     int
	ProcessedEntries int
	InvalidEntries   int
	FailedEntries    int
	NewOffset        int
	HasMore          bool
	Duration         time.Duration
}
