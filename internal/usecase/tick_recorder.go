package usecase

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"ProxyTrader/internal/domain/models"
	domrepo "ProxyTrader/internal/domain/repository"
	"ProxyTrader/internal/pipeline"
	"ProxyTrader/pkg/logger"
)

// TickRecorder batches live ticks into the tick archive off the engine's
// path. Ticks are dropped, never blocked on, when the buffer is full.
type TickRecorder struct {
	archive domrepo.TickArchive
	metrics domrepo.Metrics
	log     *logger.Logger
	batchSz int
	batchTO time.Duration

	mu      sync.RWMutex // guards closed and running against the close of in
	in      chan models.PriceTick
	closed  bool
	running bool
	dropped atomic.Int64
	done    chan struct{}
}

// NewTickRecorder creates a recorder flushing every batchSz ticks or batchTO.
func NewTickRecorder(
	archive domrepo.TickArchive,
	metrics domrepo.Metrics,
	log *logger.Logger,
	batchSz int,
	batchTO time.Duration,
) *TickRecorder {
	if batchSz <= 0 {
		batchSz = 500
	}
	if batchTO <= 0 {
		batchTO = 5 * time.Second
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &TickRecorder{
		archive: archive,
		metrics: metrics,
		log:     log.Component("tick_recorder"),
		batchSz: batchSz,
		batchTO: batchTO,
		in:      make(chan models.PriceTick, batchSz*4),
		done:    make(chan struct{}),
	}
}

// Record queues t for archiving.
func (r *TickRecorder) Record(t models.PriceTick) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.in <- t:
	default:
		r.dropped.Add(1)
		if r.metrics != nil {
			r.metrics.RecordError("archive_dropped")
		}
	}
}

// Wrap records every tick before passing it on to h.
func (r *TickRecorder) Wrap(h pipeline.Handler) pipeline.Handler {
	return func(ctx context.Context, t models.PriceTick) error {
		r.Record(t)
		return h(ctx, t)
	}
}

// Start runs the flush loop until Stop.
func (r *TickRecorder) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running || r.closed {
		return
	}
	r.running = true
	go r.run(context.WithoutCancel(ctx))
}

func (r *TickRecorder) run(ctx context.Context) {
	defer close(r.done)
	ticker := time.NewTicker(r.batchTO)
	defer ticker.Stop()

	batch := make([]models.PriceTick, 0, r.batchSz)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := r.ProcessBatch(ctx, batch); err != nil {
			r.log.Warn("archive batch failed", logger.Int("ticks", len(batch)), logger.Error(err))
		}
		batch = batch[:0]
	}
	for {
		select {
		case t, ok := <-r.in:
			if !ok {
				flush()
				return
			}
			batch = append(batch, t)
			if len(batch) >= r.batchSz {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// ProcessBatch writes ticks to the archive synchronously.
func (r *TickRecorder) ProcessBatch(ctx context.Context, ticks []models.PriceTick) error {
	if len(ticks) == 0 {
		return nil
	}
	start := time.Now()
	if err := r.archive.StoreBatch(ctx, ticks); err != nil {
		if r.metrics != nil {
			r.metrics.RecordError("archive_batch")
		}
		return fmt.Errorf("store batch: %w", err)
	}
	if r.metrics != nil {
		r.metrics.RecordLatency("archive_batch", time.Since(start).Seconds())
	}
	return nil
}

// Dropped returns how many ticks were discarded on a full buffer.
func (r *TickRecorder) Dropped() int64 { return r.dropped.Load() }

// Stop flushes what is buffered and waits for the loop, bounded by ctx.
func (r *TickRecorder) Stop(ctx context.Context) error {
	r.mu.Lock()
	running := r.running
	if !r.closed {
		r.closed = true
		close(r.in)
	}
	r.mu.Unlock()
	if !running {
		return nil
	}
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
