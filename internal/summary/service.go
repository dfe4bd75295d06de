package summary

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"paybroker/internal/domain"
	"paybroker/internal/queue"
)

const (
	fieldTotalRequests = "total_requests"
	fieldTotalAmount   = "total_amount"

	readTimeout = 50 * time.Millisecond
)

// Aggregator is the slow path: precise GROUP BY aggregates from the ledger.
type Aggregator interface {
	SummaryByProcessor(ctx context.Context, from, to time.Time) (map[domain.Processor]domain.ProcessorSummary, error)
}

// Service serves the payment summary from the counter mirror in redis, and
// can rebuild that mirror from the ledger.
type Service struct {
	rdb        *redis.Client
	aggregator Aggregator
}

func NewService(rdb *redis.Client, aggregator Aggregator) *Service {
	return &Service{rdb: rdb, aggregator: aggregator}
}

func counterKey(processor domain.Processor) string {
	return queue.SummaryKeyPrefix + string(processor)
}

// Increment moves the counters for one newly committed payment.
func (s *Service) Increment(ctx context.Context, processor domain.Processor, amount float64) {
	pipe := s.rdb.Pipeline()
	pipe.HIncrBy(ctx, counterKey(processor), fieldTotalRequests, 1)
	pipe.HIncrByFloat(ctx, counterKey(processor), fieldTotalAmount, amount)
	if _, err := pipe.Exec(ctx); err != nil {
		slog.Warn("summary increment failed", "processor", processor, "err", err)
	}
}

// Summary reads both counter hashes in one deadline-bounded round-trip.
// Date filters are advisory on this path: the counters are range-blind and
// the precise historical answer comes from a rebuild. On any error both
// processors come back zero-filled; summary reads never wait on the ledger.
func (s *Service) Summary(ctx context.Context, _, _ time.Time) domain.SummaryResponse {
	readCtx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()

	pipe := s.rdb.Pipeline()
	defaultCmd := pipe.HGetAll(readCtx, counterKey(domain.ProcessorDefault))
	fallbackCmd := pipe.HGetAll(readCtx, counterKey(domain.ProcessorFallback))
	if _, err := pipe.Exec(readCtx); err != nil {
		slog.Warn("summary read failed, returning zeros", "err", err)
		return domain.SummaryResponse{}
	}

	return domain.SummaryResponse{
		Default:  ParseCounters(defaultCmd.Val()),
		Fallback: ParseCounters(fallbackCmd.Val()),
	}
}

// ParseCounters turns one counter hash into a summary, zero-filling missing
// fields and normalizing the amount to two fractional digits.
func ParseCounters(fields map[string]string) domain.ProcessorSummary {
	var summary domain.ProcessorSummary
	if v, err := strconv.ParseInt(fields[fieldTotalRequests], 10, 64); err == nil {
		summary.TotalRequests = v
	}
	if v, err := strconv.ParseFloat(fields[fieldTotalAmount], 64); err == nil {
		summary.TotalAmount = domain.Round2(v)
	}
	return summary
}

// Rebuild clears the counter mirror and repopulates it from the ledger.
// Administrative: used after a purge or to recover from counter drift.
func (s *Service) Rebuild(ctx context.Context) error {
	if err := s.Reset(ctx); err != nil {
		return err
	}

	aggregates, err := s.aggregator.SummaryByProcessor(ctx, time.Time{}, time.Time{})
	if err != nil {
		return err
	}

	pipe := s.rdb.Pipeline()
	for processor, aggregate := range aggregates {
		pipe.HSet(ctx, counterKey(processor),
			fieldTotalRequests, aggregate.TotalRequests,
			fieldTotalAmount, strconv.FormatFloat(aggregate.TotalAmount, 'f', 2, 64),
		)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// Reset drops both counter hashes.
func (s *Service) Reset(ctx context.Context) error {
	return s.rdb.Del(ctx,
		counterKey(domain.ProcessorDefault),
		counterKey(domain.ProcessorFallback),
	).Err()
}
