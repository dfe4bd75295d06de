package dispatch

import (
	"context"
	"sync"
	"time"

	"paybroker/internal/domain"
	"paybroker/internal/queue"
)

type fakeClient struct {
	mu        sync.Mutex
	responses map[domain.Processor]error
	calls     []domain.Processor
}

func newFakeClient() *fakeClient {
	return &fakeClient{responses: make(map[domain.Processor]error)}
}

func (f *fakeClient) Send(_ context.Context, processor domain.Processor, _ domain.PaymentRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, processor)
	return f.responses[processor]
}

func (f *fakeClient) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeLedger struct {
	mu        sync.Mutex
	existing  map[string]bool
	existsErr error
	saveErr   error
	batchErr  error
	saved     []domain.Transaction
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{existing: make(map[string]bool)}
}

func (f *fakeLedger) SaveTransaction(_ context.Context, t domain.Transaction) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return false, f.saveErr
	}
	if f.existing[t.CorrelationId] {
		return false, nil
	}
	f.existing[t.CorrelationId] = true
	f.saved = append(f.saved, t)
	return true, nil
}

func (f *fakeLedger) SaveTransactions(_ context.Context, transactions []domain.Transaction) ([]bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.batchErr != nil {
		return nil, f.batchErr
	}
	inserted := make([]bool, len(transactions))
	for i, t := range transactions {
		if f.existing[t.CorrelationId] {
			continue
		}
		f.existing[t.CorrelationId] = true
		f.saved = append(f.saved, t)
		inserted[i] = true
	}
	return inserted, nil
}

func (f *fakeLedger) TransactionExists(_ context.Context, correlationId string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.existsErr != nil {
		return false, f.existsErr
	}
	return f.existing[correlationId], nil
}

type fakeQueue struct {
	mu           sync.Mutex
	enqueueErr   error
	enqueued     []domain.PaymentRequest
	processed    map[string]bool
	processedErr error
	batch        []queue.TakenItem
	due          []queue.TakenItem
	finalized    []queue.TakenItem
	rescheduled  []queue.TakenItem
	discarded    []queue.TakenItem
	marked       []string
	reclaimMoved int
	reclaimCalls int
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{processed: make(map[string]bool)}
}

func (f *fakeQueue) Enqueue(_ context.Context, p domain.PaymentRequest) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.enqueueErr != nil {
		return false, f.enqueueErr
	}
	f.enqueued = append(f.enqueued, p)
	return true, nil
}

func (f *fakeQueue) TakeBatch(_ context.Context, _ int) []queue.TakenItem {
	f.mu.Lock()
	defer f.mu.Unlock()
	batch := f.batch
	f.batch = nil
	return batch
}

func (f *fakeQueue) TakeDue(_ context.Context) []queue.TakenItem {
	f.mu.Lock()
	defer f.mu.Unlock()
	due := f.due
	f.due = nil
	return due
}

func (f *fakeQueue) FinalizeSuccess(_ context.Context, items []queue.TakenItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finalized = append(f.finalized, items...)
	return nil
}

func (f *fakeQueue) Reschedule(_ context.Context, items []queue.TakenItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rescheduled = append(f.rescheduled, items...)
	return nil
}

func (f *fakeQueue) Discard(_ context.Context, items []queue.TakenItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.discarded = append(f.discarded, items...)
	return nil
}

func (f *fakeQueue) ReclaimOrphans(_ context.Context, _ time.Duration) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reclaimCalls++
	return f.reclaimMoved, nil
}

func (f *fakeQueue) IsProcessed(_ context.Context, correlationId string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.processedErr != nil {
		return false, f.processedErr
	}
	return f.processed[correlationId], nil
}

func (f *fakeQueue) MarkProcessed(_ context.Context, correlationId string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.marked = append(f.marked, correlationId)
}

func (f *fakeQueue) Depths(_ context.Context) (int64, int64, int64) {
	return 0, 0, 0
}

type fakeHealth struct {
	snapshot domain.HealthSnapshot
}

func bothHealthy() *fakeHealth {
	return &fakeHealth{snapshot: domain.HealthSnapshot{}}
}

func (f *fakeHealth) Snapshot() domain.HealthSnapshot {
	return f.snapshot
}

type counterCall struct {
	processor domain.Processor
	amount    float64
}

type fakeCounters struct {
	mu         sync.Mutex
	increments []counterCall
}

func (f *fakeCounters) Increment(_ context.Context, processor domain.Processor, amount float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.increments = append(f.increments, counterCall{processor: processor, amount: amount})
}
