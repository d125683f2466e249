package domain

import "time"

// IntelRecord is the canonical shape every feed item is normalized into.
// NaturalID is the stable upstream identifier (e.g. a CVE id) and the
// upsert key across both sinks.
type IntelRecord struct {
	ID               int64      `db:"id"`
	SourceID         string     `db:"source_id"` // identifies the feed (e.g. "nvd", "misp", "rss")
	NaturalID        string     `db:"natural_id"`
	Description      string     `db:"description"`
	SourceIdentifier *string    `db:"source_identifier"`
	PublishedAt      *time.Time `db:"published_at"`
	ModifiedAt       *time.Time `db:"modified_at"`
	SeverityScore    *float64   `db:"severity_score"`
	SeverityLabel    *string    `db:"severity_label"`
	Vector           *string    `db:"vector"`
	WeaknessClass    *string    `db:"weakness_class"`
	ReferenceURLs    []string   `db:"reference_urls"`
	IngestedAt       time.Time  `db:"ingested_at"`
}

// RecordFailure reports one record that could not be upserted.
type RecordFailure struct {
	NaturalID string
	Err       string
}

// BatchResult summarizes an upsert batch. Failures never abort the batch;
// every record is attempted.
type BatchResult struct {
	SuccessCount int
	FailureCount int
	Failures     []RecordFailure
}
