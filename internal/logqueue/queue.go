package logqueue

import (
	"context"
	"log/slog"
	"time"

	"intel_fetcher/internal/config"
	"intel_fetcher/internal/domain"
	"intel_fetcher/internal/metrics"
	"intel_fetcher/internal/retry"
)

// Transport ships one batch of events in a single outbound call.
type Transport interface {
	PublishBatch(ctx context.Context, events []domain.Event) error
}

// Queue is an asynchronous, lossy event shipper. Submissions land in a
// bounded buffer consumed by a single sender goroutine that batches,
// retries with backoff, and caps outbound calls per flush window so
// logging can never crowd out the ingestion work. Overflow and exhausted
// retries drop entries; that trade-off is deliberate, events are
// observability data, not ingestion state.
type Queue struct {
	transport Transport
	policy    retry.Policy
	logger    *slog.Logger

	batchSize     int
	flushInterval time.Duration
	maxPublishes  int

	buf  chan domain.Event
	done chan struct{}
}

func New(transport Transport, cfg config.LogQueueConfig, logger *slog.Logger) *Queue {
	return &Queue{
		transport:     transport,
		policy:        retry.New(cfg.Retry.MaxAttempts, cfg.Retry.InitialBackoff, cfg.Retry.MaxBackoff),
		logger:        logger,
		batchSize:     cfg.BatchSize,
		flushInterval: cfg.FlushInterval,
		maxPublishes:  cfg.MaxPublishes,
		buf:           make(chan domain.Event, cfg.BufferSize),
		done:          make(chan struct{}),
	}
}

// Submit never blocks. When the buffer is full the event is dropped and
// counted.
func (q *Queue) Submit(event domain.Event) {
	select {
	case q.buf <- event:
	default:
		metrics.EventsDropped.Inc()
	}
}

// Start runs the sender loop until ctx is canceled, then drains whatever
// is still buffered and returns.
func (q *Queue) Start(ctx context.Context) {
	defer close(q.done)

	batch := make([]domain.Event, 0, q.batchSize)
	published := 0

	ticker := time.NewTicker(q.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			q.drain(batch)
			return
		case event := <-q.buf:
			batch = append(batch, event)
			if len(batch) >= q.batchSize {
				batch = q.flush(ctx, batch, &published)
			}
		case <-ticker.C:
			published = 0
			if len(batch) > 0 {
				batch = q.flush(ctx, batch, &published)
			}
		}
	}
}

// Done is closed once the sender loop has exited.
func (q *Queue) Done() <-chan struct{} {
	return q.done
}

// flush ships the batch and returns an empty slice reusing its backing
// array. Past the per-window publish cap the batch is dropped outright.
func (q *Queue) flush(ctx context.Context, batch []domain.Event, published *int) []domain.Event {
	if *published >= q.maxPublishes {
		metrics.EventsDropped.Add(float64(len(batch)))
		q.logger.Debug("publish cap reached, dropping batch", "events", len(batch))
		return batch[:0]
	}
	*published++

	err := q.policy.Do(ctx, func() error {
		return q.transport.PublishBatch(ctx, batch)
	})
	if err != nil {
		metrics.EventsDropped.Add(float64(len(batch)))
		q.logger.Warn("dropping event batch", "events", len(batch), "error", err)
	}

	return batch[:0]
}

// drain makes a final best-effort pass over the remaining buffer with a
// short deadline, then gives up.
func (q *Queue) drain(batch []domain.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for {
		select {
		case event := <-q.buf:
			batch = append(batch, event)
			if len(batch) >= q.batchSize {
				if err := q.transport.PublishBatch(ctx, batch); err != nil {
					metrics.EventsDropped.Add(float64(len(batch)))
					return
				}
				batch = batch[:0]
			}
		default:
			if len(batch) > 0 {
				if err := q.transport.PublishBatch(ctx, batch); err != nil {
					metrics.EventsDropped.Add(float64(len(batch)))
				}
			}
			return
		}
	}
}
