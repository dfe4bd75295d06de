package dispatch

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paybroker/internal/domain"
)

const testId = "11111111-1111-1111-1111-111111111111"

func validRequest() domain.PaymentRequest {
	return domain.PaymentRequest{CorrelationId: testId, Amount: 10.00}
}

func newTestEngine() (*Engine, *fakeClient, *fakeLedger, *fakeQueue, *fakeHealth, *fakeCounters) {
	client := newFakeClient()
	ledger := newFakeLedger()
	q := newFakeQueue()
	health := bothHealthy()
	counters := &fakeCounters{}
	return NewEngine(client, ledger, q, health, counters), client, ledger, q, health, counters
}

func TestTryOrder(t *testing.T) {
	tests := []struct {
		name     string
		snapshot domain.HealthSnapshot
		want     []domain.Processor
	}{
		{
			name:     "both healthy prefers default",
			snapshot: domain.HealthSnapshot{},
			want:     []domain.Processor{domain.ProcessorDefault, domain.ProcessorFallback},
		},
		{
			name: "default failing",
			snapshot: domain.HealthSnapshot{
				Default: domain.ProcessorHealth{Failing: true},
			},
			want: []domain.Processor{domain.ProcessorFallback},
		},
		{
			name: "fallback failing",
			snapshot: domain.HealthSnapshot{
				Fallback: domain.ProcessorHealth{Failing: true},
			},
			want: []domain.Processor{domain.ProcessorDefault},
		},
		{
			name:     "both failing",
			snapshot: domain.ColdSnapshot(),
			want:     []domain.Processor{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tryOrder(tt.snapshot))
		})
	}
}

func TestIntakeRejectsInvalidPayload(t *testing.T) {
	engine, client, _, q, _, _ := newTestEngine()

	_, err := engine.Intake(context.Background(), domain.PaymentRequest{CorrelationId: "nope", Amount: 1})

	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
	assert.Zero(t, client.callCount())
	assert.Empty(t, q.enqueued)
}

func TestIntakeAcceptsOnDefault(t *testing.T) {
	engine, client, ledger, q, _, counters := newTestEngine()

	outcome, err := engine.Intake(context.Background(), validRequest())

	require.NoError(t, err)
	assert.Equal(t, OutcomeAccepted, outcome)
	assert.Equal(t, []domain.Processor{domain.ProcessorDefault}, client.calls)
	require.Len(t, ledger.saved, 1)
	assert.Equal(t, domain.ProcessorDefault, ledger.saved[0].Processor)
	assert.Equal(t, []counterCall{{processor: domain.ProcessorDefault, amount: 10.00}}, counters.increments)
	assert.Equal(t, []string{testId}, q.marked)
	assert.Empty(t, q.enqueued)
}

func TestIntakeFallsBackWhenDefaultRefuses(t *testing.T) {
	engine, client, ledger, _, _, counters := newTestEngine()
	client.responses[domain.ProcessorDefault] = domain.ErrUnavailableProcessor

	outcome, err := engine.Intake(context.Background(), validRequest())

	require.NoError(t, err)
	assert.Equal(t, OutcomeAccepted, outcome)
	assert.Equal(t, []domain.Processor{domain.ProcessorDefault, domain.ProcessorFallback}, client.calls)
	require.Len(t, ledger.saved, 1)
	assert.Equal(t, domain.ProcessorFallback, ledger.saved[0].Processor)
	assert.Equal(t, domain.ProcessorFallback, counters.increments[0].processor)
}

func TestIntakeSkipsFailingProcessors(t *testing.T) {
	engine, client, _, q, health, _ := newTestEngine()
	health.snapshot = domain.ColdSnapshot()

	outcome, err := engine.Intake(context.Background(), validRequest())

	require.NoError(t, err)
	assert.Equal(t, OutcomeQueued, outcome)
	assert.Zero(t, client.callCount())
	require.Len(t, q.enqueued, 1)
	assert.Equal(t, testId, q.enqueued[0].CorrelationId)
}

func TestIntakeQueuesWhenAllDeliveriesFail(t *testing.T) {
	engine, client, _, q, _, counters := newTestEngine()
	client.responses[domain.ProcessorDefault] = domain.ErrUnavailableProcessor
	client.responses[domain.ProcessorFallback] = domain.ErrUnavailableProcessor

	outcome, err := engine.Intake(context.Background(), validRequest())

	require.NoError(t, err)
	assert.Equal(t, OutcomeQueued, outcome)
	assert.Len(t, q.enqueued, 1)
	assert.Empty(t, counters.increments)
}

func TestIntakeSurfacesEnqueueFailure(t *testing.T) {
	engine, client, _, q, _, _ := newTestEngine()
	client.responses[domain.ProcessorDefault] = domain.ErrUnavailableProcessor
	client.responses[domain.ProcessorFallback] = domain.ErrUnavailableProcessor
	q.enqueueErr = errors.New("store down")

	_, err := engine.Intake(context.Background(), validRequest())

	assert.ErrorIs(t, err, domain.ErrQueueUnavailable)
}

func TestIntakeDuplicateViaProcessedMarker(t *testing.T) {
	engine, client, _, q, _, _ := newTestEngine()
	q.processed[testId] = true

	outcome, err := engine.Intake(context.Background(), validRequest())

	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)
	assert.Zero(t, client.callCount())
}

func TestIntakeDuplicateViaLedgerRow(t *testing.T) {
	engine, client, ledger, _, _, _ := newTestEngine()
	ledger.existing[testId] = true

	outcome, err := engine.Intake(context.Background(), validRequest())

	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)
	assert.Zero(t, client.callCount())
}

// A broken marker store or ledger must not reject payments: duplicate
// detection fails open.
func TestIntakeDuplicateChecksFailOpen(t *testing.T) {
	engine, _, ledger, q, _, _ := newTestEngine()
	q.processedErr = errors.New("redis down")
	ledger.existsErr = errors.New("postgres down")

	outcome, err := engine.Intake(context.Background(), validRequest())

	require.NoError(t, err)
	assert.Equal(t, OutcomeAccepted, outcome)
}

func TestIntakeInvalidFromProcessorIsNotQueued(t *testing.T) {
	engine, client, _, q, _, _ := newTestEngine()
	client.responses[domain.ProcessorDefault] = domain.ErrInvalidRequest

	_, err := engine.Intake(context.Background(), validRequest())

	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
	assert.Empty(t, q.enqueued)
}

func TestIntakeQueuesWhenLedgerWriteFails(t *testing.T) {
	engine, _, ledger, q, _, counters := newTestEngine()
	ledger.saveErr = errors.New("postgres down")

	outcome, err := engine.Intake(context.Background(), validRequest())

	require.NoError(t, err)
	assert.Equal(t, OutcomeQueued, outcome)
	assert.Len(t, q.enqueued, 1)
	assert.Empty(t, counters.increments)
	assert.Empty(t, q.marked)
}

func TestIntakeDoesNotIncrementCountersOnConflict(t *testing.T) {
	engine, _, ledger, q, _, counters := newTestEngine()

	_, err := engine.Intake(context.Background(), validRequest())
	require.NoError(t, err)

	// second arrival slips past the fail-open duplicate checks
	q.processed = map[string]bool{}
	ledger.existsErr = errors.New("postgres flaky")

	outcome, err := engine.Intake(context.Background(), validRequest())
	require.NoError(t, err)

	assert.Equal(t, OutcomeAccepted, outcome)
	assert.Len(t, counters.increments, 1)
	assert.Len(t, ledger.saved, 1)
}
