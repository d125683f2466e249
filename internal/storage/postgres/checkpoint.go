package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"intel_fetcher/internal/domain"
)

type CheckpointStore struct {
	db *sqlx.DB
}

func NewCheckpointStore(db *sqlx.DB) *CheckpointStore {
	return &CheckpointStore{db: db}
}

// Get returns (nil, nil) when the source has no checkpoint yet. Any other
// read failure is surfaced: the caller must not mistake it for a fresh
// source and restart the window.
func (s *CheckpointStore) Get(ctx context.Context, sourceID string) (*domain.Checkpoint, error) {
	var cp domain.Checkpoint
	query := `
		SELECT id, source_id, last_fetch_time, window_end, next_offset, items_fetched, last_success_time
		FROM checkpoints
		WHERE source_id = $1`

	err := s.db.GetContext(ctx, &cp, query, sourceID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cp, nil
}

// Put creates or updates the checkpoint in one statement, so concurrent
// invocations never race a read-modify-write.
func (s *CheckpointStore) Put(ctx context.Context, cp *domain.Checkpoint) error {
	query := `
		INSERT INTO checkpoints (source_id, last_fetch_time, window_end, next_offset, items_fetched, last_success_time)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (source_id) DO UPDATE SET
			last_fetch_time = EXCLUDED.last_fetch_time,
			window_end = EXCLUDED.window_end,
			next_offset = EXCLUDED.next_offset,
			items_fetched = EXCLUDED.items_fetched,
			last_success_time = EXCLUDED.last_success_time`

	_, err := s.db.ExecContext(ctx, query,
		cp.SourceID,
		cp.LastFetchTime,
		cp.WindowEnd,
		cp.NextOffset,
		cp.ItemsFetched,
		cp.LastSuccessTime,
	)
	return err
}
