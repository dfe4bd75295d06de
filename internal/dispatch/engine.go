package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"paybroker/internal/domain"
	"paybroker/internal/queue"
)

const intakeAttemptTimeout = 500 * time.Millisecond

type (
	// ProcessorClient delivers one payment to one processor.
	ProcessorClient interface {
		Send(ctx context.Context, processor domain.Processor, payment domain.PaymentRequest) error
	}

	// Ledger is the durable transaction store.
	Ledger interface {
		SaveTransaction(ctx context.Context, t domain.Transaction) (bool, error)
		SaveTransactions(ctx context.Context, transactions []domain.Transaction) ([]bool, error)
		TransactionExists(ctx context.Context, correlationId string) (bool, error)
	}

	// Queue is the durable work queue in the coordination store.
	Queue interface {
		Enqueue(ctx context.Context, p domain.PaymentRequest) (bool, error)
		TakeBatch(ctx context.Context, limit int) []queue.TakenItem
		TakeDue(ctx context.Context) []queue.TakenItem
		FinalizeSuccess(ctx context.Context, items []queue.TakenItem) error
		Reschedule(ctx context.Context, items []queue.TakenItem) error
		Discard(ctx context.Context, items []queue.TakenItem) error
		ReclaimOrphans(ctx context.Context, age time.Duration) (int, error)
		IsProcessed(ctx context.Context, correlationId string) (bool, error)
		MarkProcessed(ctx context.Context, correlationId string)
		Depths(ctx context.Context) (main, retry, processing int64)
	}

	// Health exposes the local processor-health snapshot.
	Health interface {
		Snapshot() domain.HealthSnapshot
	}

	// Counters is the summary fast-path mirror.
	Counters interface {
		Increment(ctx context.Context, processor domain.Processor, amount float64)
	}
)

type Outcome int

const (
	OutcomeAccepted Outcome = iota
	OutcomeQueued
	OutcomeDuplicate
)

// Engine is the dispatch core: the synchronous intake path and the delivery
// attempt shared with the drain loop.
type Engine struct {
	client   ProcessorClient
	ledger   Ledger
	queue    Queue
	health   Health
	counters Counters
}

func NewEngine(client ProcessorClient, ledger Ledger, q Queue, health Health, counters Counters) *Engine {
	return &Engine{
		client:   client,
		ledger:   ledger,
		queue:    q,
		health:   health,
		counters: counters,
	}
}

// Intake handles one inbound payment: duplicate check, immediate delivery
// attempt against healthy processors, durable enqueue when delivery fails.
func (e *Engine) Intake(ctx context.Context, req domain.PaymentRequest) (Outcome, error) {
	if err := req.Validate(); err != nil {
		return 0, err
	}

	// both checks fail open: a broken store must not reject payments
	if processed, err := e.queue.IsProcessed(ctx, req.CorrelationId); err == nil && processed {
		return OutcomeDuplicate, nil
	}
	if exists, err := e.ledger.TransactionExists(ctx, req.CorrelationId); err == nil && exists {
		return OutcomeDuplicate, nil
	}

	for _, processor := range tryOrder(e.health.Snapshot()) {
		attemptCtx, cancel := context.WithTimeout(ctx, intakeAttemptTimeout)
		err := e.client.Send(attemptCtx, processor, req)
		cancel()
		if err == nil {
			return e.commitIntake(ctx, req, processor)
		}
		if errors.Is(err, domain.ErrInvalidRequest) {
			return 0, domain.ErrInvalidRequest
		}
	}

	if _, err := e.queue.Enqueue(ctx, req); err != nil {
		slog.Error("enqueue failed", "correlationId", req.CorrelationId, "err", err)
		return 0, domain.ErrQueueUnavailable
	}
	return OutcomeQueued, nil
}

func (e *Engine) commitIntake(ctx context.Context, req domain.PaymentRequest, processor domain.Processor) (Outcome, error) {
	inserted, err := e.ledger.SaveTransaction(ctx, domain.Transaction{
		CorrelationId: req.CorrelationId,
		Amount:        req.Amount,
		Processor:     processor,
		ProcessedAt:   time.Now().UTC(),
	})
	if err != nil {
		// delivered but not recorded: hand it to the queue so the drain
		// loop lands it in the ledger, at-least-once
		slog.Error("ledger write failed after delivery, queueing", "correlationId", req.CorrelationId, "err", err)
		if _, qerr := e.queue.Enqueue(ctx, req); qerr != nil {
			return 0, domain.ErrQueueUnavailable
		}
		return OutcomeQueued, nil
	}

	if inserted {
		e.counters.Increment(ctx, processor, req.Amount)
	}
	e.queue.MarkProcessed(ctx, req.CorrelationId)
	return OutcomeAccepted, nil
}

// deliver runs the two-tier selection policy for one queued item under the
// caller's deadline. Returns the accepting processor.
func (e *Engine) deliver(ctx context.Context, item queue.Item) (domain.Processor, error) {
	payment := domain.PaymentRequest{CorrelationId: item.CorrelationId, Amount: item.Amount}

	order := tryOrder(e.health.Snapshot())
	if len(order) == 0 {
		return "", domain.ErrUnavailableProcessor
	}
	for _, processor := range order {
		err := e.client.Send(ctx, processor, payment)
		if err == nil {
			return processor, nil
		}
		if errors.Is(err, domain.ErrInvalidRequest) {
			return "", domain.ErrInvalidRequest
		}
	}
	return "", domain.ErrUnavailableProcessor
}

// tryOrder derives the candidate list from a health snapshot: default first
// when healthy (cheaper fee), fallback as backup. A processor marked failing
// is not attempted at all.
func tryOrder(snapshot domain.HealthSnapshot) []domain.Processor {
	order := make([]domain.Processor, 0, 2)
	if !snapshot.Default.Failing {
		order = append(order, domain.ProcessorDefault)
	}
	if !snapshot.Fallback.Failing {
		order = append(order, domain.ProcessorFallback)
	}
	return order
}
