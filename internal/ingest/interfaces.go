package ingest

//go:generate mockgen -source=interfaces.go -destination=mocks/mocks.go -package=mocks

import (
	"context"
	"encoding/json"
	"time"

	"intel_fetcher/internal/domain"
)

// Source is one upstream feed: a bounded page fetcher plus the normalizer
// for that feed's raw item shape.
type Source interface {
	ID() string
	Name() string
	// PageSize is the number of items requested per page.
	PageSize() int
	// Lookback bounds the first window for a source that has never been
	// fetched.
	Lookback() time.Duration
	// FetchPage performs exactly one upstream round trip. It does not retry;
	// failures are reported as *domain.TransientError, *domain.UpstreamError
	// or *domain.DecodeError for the controller to classify.
	FetchPage(ctx context.Context, req domain.PageRequest) (*domain.PageResult, error)
	// Normalize maps one raw item into the canonical record. It never
	// panics; items it cannot map yield *domain.InvalidRecordError.
	Normalize(item json.RawMessage) (*domain.IntelRecord, error)
}

type CheckpointStore interface {
	// Get returns (nil, nil) when no checkpoint exists for the source yet.
	Get(ctx context.Context, sourceID string) (*domain.Checkpoint, error)
	// Put creates or updates the checkpoint in a single statement.
	Put(ctx context.Context, cp *domain.Checkpoint) error
}

type RecordStore interface {
	// UpsertBatch attempts every record and isolates per-record failures.
	// A non-nil error means the sink was unreachable for the whole batch.
	UpsertBatch(ctx context.Context, records []domain.IntelRecord) (*domain.BatchResult, error)
}

// MirrorStore is the secondary, best-effort document sink.
type MirrorStore interface {
	UpsertBatch(ctx context.Context, records []domain.IntelRecord) error
}

// EventSink accepts observability events without blocking.
type EventSink interface {
	Submit(event domain.Event)
}
