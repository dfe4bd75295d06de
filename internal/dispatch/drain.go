package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"paybroker/internal/domain"
	"paybroker/internal/queue"
)

const drainBatchTimeout = 8 * time.Second

// WorkerConfig tunes one replica's drain loop.
type WorkerConfig struct {
	BatchSize    int
	IdleDelay    time.Duration
	ReclaimAge   time.Duration
	ReclaimEvery time.Duration
}

// Worker is the background drain loop: it pulls fresh and due-for-retry
// items from the queue, drives delivery for the whole batch concurrently,
// commits successes to the ledger and reroutes failures.
type Worker struct {
	engine *Engine
	queue  Queue
	config WorkerConfig

	lastReclaim time.Time
}

func NewWorker(engine *Engine, q Queue, config WorkerConfig) *Worker {
	return &Worker{engine: engine, queue: q, config: config}
}

func (w *Worker) Start(ctx context.Context) {
	go w.run(ctx)
}

func (w *Worker) run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		drained := w.Tick(ctx)
		w.maybeReclaim(ctx)

		if drained > 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(w.config.IdleDelay):
		}
	}
}

// Tick drains one batch and returns how many items it took.
func (w *Worker) Tick(ctx context.Context) int {
	var fresh, due []queue.TakenItem
	g, takeCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		fresh = w.queue.TakeBatch(takeCtx, w.config.BatchSize)
		return nil
	})
	g.Go(func() error {
		due = w.queue.TakeDue(takeCtx)
		return nil
	})
	_ = g.Wait()

	// main-queue items first, then due retries
	batch := append(fresh, due...)
	if len(batch) == 0 {
		return 0
	}

	successes, failures, discards := w.deliverBatch(ctx, batch)
	w.commit(ctx, successes)

	if err := w.queue.Reschedule(ctx, failures); err != nil {
		slog.Warn("reschedule failed", "count", len(failures), "err", err)
	}
	if err := w.queue.Discard(ctx, discards); err != nil {
		slog.Warn("discard failed", "count", len(discards), "err", err)
	}
	return len(batch)
}

type delivered struct {
	item      queue.TakenItem
	processor domain.Processor
	at        time.Time
}

func (w *Worker) deliverBatch(ctx context.Context, batch []queue.TakenItem) (successes []delivered, failures, discards []queue.TakenItem) {
	batchCtx, cancel := context.WithTimeout(ctx, drainBatchTimeout)
	defer cancel()

	var mu sync.Mutex
	var g errgroup.Group
	for _, taken := range batch {
		g.Go(func() error {
			processor, err := w.engine.deliver(batchCtx, taken.Item)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes = append(successes, delivered{item: taken, processor: processor, at: time.Now().UTC()})
			case errors.Is(err, domain.ErrInvalidRequest):
				discards = append(discards, taken)
			default:
				failures = append(failures, taken)
			}
			return nil
		})
	}
	_ = g.Wait()
	return successes, failures, discards
}

// commit lands one batch of accepted deliveries in the ledger, then clears
// queue bookkeeping and moves the summary counters for newly inserted rows.
// If the ledger batch fails the items go back through reschedule; they are
// never marked processed without a durable row.
func (w *Worker) commit(ctx context.Context, successes []delivered) {
	if len(successes) == 0 {
		return
	}

	transactions := make([]domain.Transaction, len(successes))
	for i, s := range successes {
		transactions[i] = domain.Transaction{
			CorrelationId: s.item.Item.CorrelationId,
			Amount:        s.item.Item.Amount,
			Processor:     s.processor,
			ProcessedAt:   s.at,
		}
	}

	inserted, err := w.engine.ledger.SaveTransactions(ctx, transactions)
	if err != nil {
		slog.Error("ledger batch failed, rescheduling delivered items", "count", len(successes), "err", err)
		items := make([]queue.TakenItem, len(successes))
		for i, s := range successes {
			items[i] = s.item
		}
		if rerr := w.engine.queue.Reschedule(ctx, items); rerr != nil {
			slog.Error("reschedule after ledger failure also failed", "err", rerr)
		}
		return
	}

	items := make([]queue.TakenItem, len(successes))
	for i, s := range successes {
		items[i] = s.item
	}
	if err := w.queue.FinalizeSuccess(ctx, items); err != nil {
		// markers are best-effort, the ledger already holds the truth
		slog.Warn("finalize failed", "count", len(items), "err", err)
	}

	for i, s := range successes {
		if inserted[i] {
			w.engine.counters.Increment(ctx, s.processor, s.item.Item.Amount)
		}
	}
}

func (w *Worker) maybeReclaim(ctx context.Context) {
	if w.config.ReclaimEvery <= 0 || time.Since(w.lastReclaim) < w.config.ReclaimEvery {
		return
	}
	w.lastReclaim = time.Now()

	moved, err := w.queue.ReclaimOrphans(ctx, w.config.ReclaimAge)
	if err != nil {
		slog.Warn("orphan reclaim failed", "err", err)
		return
	}
	if moved > 0 {
		slog.Info("reclaimed orphaned in-flight items", "count", moved)
	}

	main, retry, processing := w.queue.Depths(ctx)
	slog.Debug("queue depths", "main", main, "retry", retry, "processing", processing)
}
