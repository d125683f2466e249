package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"intel_fetcher/internal/config"
	"intel_fetcher/internal/domain"
	"intel_fetcher/internal/metrics"
)

// ErrCycleInFlight is returned when a cycle for the same source is already
// running. At most one in-flight cycle per source is a required invariant:
// two concurrent cycles would read the same checkpoint and advance it
// inconsistently.
var ErrCycleInFlight = errors.New("ingest cycle already in flight for source")

// terminal cycle states, recorded in metrics and events
const (
	stateDone          = "done"
	stateBudgetStopped = "budget_stopped"
	stateFailed        = "failed"
)

// Runner walks one source's paginated upstream across invocations. Each Run
// call is a single cycle bounded by the configured budget; the checkpoint it
// leaves behind is always a consistent resume point, so a cycle interrupted
// at any page can be picked up by the next invocation without gaps or
// silent drops.
type Runner struct {
	source      Source
	checkpoints CheckpointStore
	records     RecordStore
	mirror      MirrorStore
	events      EventSink
	logger      *slog.Logger
	cfg         config.SyncConfig

	mu  sync.Mutex
	now func() time.Time
}

func NewRunner(
	source Source,
	checkpoints CheckpointStore,
	records RecordStore,
	mirror MirrorStore,
	events EventSink,
	logger *slog.Logger,
	cfg config.SyncConfig,
) *Runner {
	return &Runner{
		source:      source,
		checkpoints: checkpoints,
		records:     records,
		mirror:      mirror,
		events:      events,
		logger:      logger.With("source", source.ID()),
		cfg:         cfg,
		now:         time.Now,
	}
}

func (r *Runner) SourceID() string {
	return r.source.ID()
}

// Run executes one ingestion cycle for the source.
//
// The window end only advances when the cycle reaches its natural end: a
// window is never partially consumed and then abandoned, because stopping
// mid-window (budget or failure) just means the next invocation re-requests
// the same window from the persisted offset.
func (r *Runner) Run(ctx context.Context) (*domain.CycleSummary, error) {
	if !r.mu.TryLock() {
		return nil, ErrCycleInFlight
	}
	defer r.mu.Unlock()

	startTime := r.now()

	cp, err := r.checkpoints.Get(ctx, r.source.ID())
	if err != nil {
		metrics.Cycles.WithLabelValues(r.source.ID(), stateFailed).Inc()
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	if cp == nil {
		cp = &domain.Checkpoint{SourceID: r.source.ID()}
	}

	window, offset := r.resumePoint(cp, startTime)

	r.logger.Info("starting cycle",
		"source_name", r.source.Name(),
		"window_from", window.From,
		"window_to", window.To,
		"offset", offset,
		"max_pages", r.cfg.MaxPagesPerCycle,
	)

	summary := &domain.CycleSummary{SourceID: r.source.ID()}
	budget := NewBudget(r.cfg.MaxPagesPerCycle, r.cfg.MaxCycleDuration)

	for {
		page, err := r.source.FetchPage(ctx, domain.PageRequest{
			Offset:   offset,
			PageSize: r.source.PageSize(),
			Window:   window,
		})
		if err != nil {
			// The checkpoint reflects only fully completed pages, so the
			// next invocation resumes at the same offset. Nothing is lost,
			// at worst this page is re-fetched.
			r.failCycle(offset, err)
			return nil, fmt.Errorf("fetch page at offset %d: %w", offset, err)
		}

		metrics.PagesFetched.WithLabelValues(r.source.ID()).Inc()

		if page.ReturnedCount == 0 {
			break
		}

		valid, invalid := r.normalizePage(page)
		summary.InvalidEntries += invalid

		stored, failed := r.storePage(ctx, valid)
		summary.ProcessedEntries += stored
		summary.FailedEntries += failed

		offset += page.ReturnedCount
		if page.TotalCount >= 0 {
			summary.TotalEntries = page.TotalCount
		} else {
			summary.TotalEntries += page.ReturnedCount
		}

		windowFrom, windowTo := window.From, window.To
		cp.LastFetchTime = &windowFrom
		cp.WindowEnd = &windowTo
		cp.NextOffset = offset
		cp.ItemsFetched += int64(stored)
		if err := r.checkpoints.Put(ctx, cp); err != nil {
			// Continuing to fetch pages whose progress cannot be durably
			// recorded would silently re-do or skip work later.
			metrics.Cycles.WithLabelValues(r.source.ID(), stateFailed).Inc()
			return nil, fmt.Errorf("persist checkpoint: %w", err)
		}

		r.emit("info", "page ingested", map[string]any{
			"offset":  offset,
			"stored":  stored,
			"invalid": invalid,
			"failed":  failed,
			"total":   page.TotalCount,
		})

		exhausted := page.TotalCount >= 0 && offset >= page.TotalCount
		if page.TotalCount == domain.TotalUnknown && page.ReturnedCount < page.PageSize {
			exhausted = true
		}
		if exhausted {
			break
		}

		budget.ConsumePage()
		if budget.Exhausted() {
			summary.NewOffset = offset
			summary.HasMore = true
			summary.Duration = r.now().Sub(startTime)

			metrics.Cycles.WithLabelValues(r.source.ID(), stateBudgetStopped).Inc()
			r.emit("info", "cycle stopped at budget", map[string]any{"offset": offset})
			r.logger.Info("cycle stopped at budget",
				"offset", offset,
				"processed", summary.ProcessedEntries,
			)
			return summary, nil
		}
	}

	completedAt := r.now()
	cp.NextOffset = 0
	cp.LastFetchTime = &window.To
	cp.WindowEnd = nil
	cp.LastSuccessTime = &completedAt
	if err := r.checkpoints.Put(ctx, cp); err != nil {
		metrics.Cycles.WithLabelValues(r.source.ID(), stateFailed).Inc()
		return nil, fmt.Errorf("persist checkpoint: %w", err)
	}

	summary.NewOffset = 0
	summary.HasMore = false
	summary.Duration = completedAt.Sub(startTime)

	metrics.Cycles.WithLabelValues(r.source.ID(), stateDone).Inc()
	r.emit("info", "cycle completed", map[string]any{
		"processed": summary.ProcessedEntries,
		"invalid":   summary.InvalidEntries,
		"failed":    summary.FailedEntries,
	})
	r.logger.Info("cycle completed",
		"processed", summary.ProcessedEntries,
		"invalid", summary.InvalidEntries,
		"failed", summary.FailedEntries,
		"duration", summary.Duration,
	)

	return summary, nil
}

// resumePoint computes the cycle's window and starting offset. A persisted
// offset is honored only when the checkpoint still pins the window it was
// recorded against; otherwise the window is recomputed and the offset
// resets to 0.
func (r *Runner) resumePoint(cp *domain.Checkpoint, now time.Time) (domain.Window, int) {
	if cp.NextOffset > 0 && cp.WindowEnd != nil && cp.LastFetchTime != nil {
		return domain.Window{From: *cp.LastFetchTime, To: *cp.WindowEnd}, cp.NextOffset
	}

	from := now.Add(-r.source.Lookback())
	if cp.LastFetchTime != nil {
		from = *cp.LastFetchTime
	}
	return domain.Window{From: from, To: now}, 0
}

func (r *Runner) normalizePage(page *domain.PageResult) ([]domain.IntelRecord, int) {
	valid := make([]domain.IntelRecord, 0, len(page.Items))
	invalid := 0

	for _, item := range page.Items {
		rec, err := r.source.Normalize(item)
		if err != nil {
			invalid++
			var invErr *domain.InvalidRecordError
			if errors.As(err, &invErr) {
				r.logger.Debug("invalid record", "reason", invErr.Reason)
			} else {
				r.logger.Debug("invalid record", "error", err)
			}
			continue
		}
		valid = append(valid, *rec)
	}

	if invalid > 0 {
		metrics.RecordsInvalid.WithLabelValues(r.source.ID()).Add(float64(invalid))
		r.logger.Warn("rejected invalid records", "count", invalid)
	}

	return valid, invalid
}

// storePage writes one page's valid records to the relational sink and, best
// effort, to the document mirror. Per-record failures never stop the cycle:
// a record that fails to store is re-attempted the next time it appears
// upstream with a newer modification time.
func (r *Runner) storePage(ctx context.Context, records []domain.IntelRecord) (stored, failed int) {
	if len(records) == 0 {
		return 0, 0
	}

	res, err := r.records.UpsertBatch(ctx, records)
	if err != nil {
		r.logger.Error("sink unavailable for batch", "count", len(records), "error", err)
		metrics.RecordFailures.WithLabelValues(r.source.ID()).Add(float64(len(records)))
		return 0, len(records)
	}

	for _, f := range res.Failures {
		r.logger.Warn("record upsert failed", "natural_id", f.NaturalID, "error", f.Err)
		r.emit("warn", "record upsert failed", map[string]any{
			"natural_id": f.NaturalID,
			"error":      f.Err,
		})
	}

	metrics.RecordsUpserted.WithLabelValues(r.source.ID()).Add(float64(res.SuccessCount))
	if res.FailureCount > 0 {
		metrics.RecordFailures.WithLabelValues(r.source.ID()).Add(float64(res.FailureCount))
	}

	if r.mirror != nil {
		if err := r.mirror.UpsertBatch(ctx, records); err != nil {
			r.logger.Warn("mirror upsert failed", "count", len(records), "error", err)
		}
	}

	return res.SuccessCount, res.FailureCount
}

func (r *Runner) failCycle(offset int, err error) {
	metrics.Cycles.WithLabelValues(r.source.ID(), stateFailed).Inc()
	r.emit("error", "cycle failed", map[string]any{
		"offset": offset,
		"error":  err.Error(),
	})
	r.logger.Error("cycle failed", "offset", offset, "error", err)
}

func (r *Runner) emit(level, msg string, fields map[string]any) {
	if r.events == nil {
		return
	}
	r.events.Submit(domain.Event{
		Timestamp: r.now().UTC(),
		Level:     level,
		SourceID:  r.source.ID(),
		Message:   msg,
		Fields:    fields,
	})
}
