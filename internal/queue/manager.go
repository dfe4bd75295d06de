package queue

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"paybroker/internal/domain"
)

// Manager owns the three queue collections in redis: the main FIFO, the
// time-ordered retry set and the in-flight processing list, plus the
// per-correlation markers that make enqueue idempotent.
type Manager struct {
	rdb *redis.Client
}

func NewManager(rdb *redis.Client) *Manager {
	return &Manager{rdb: rdb}
}

// Enqueue inserts a fresh payment into the main queue exactly once per
// correlation id: the queue-item marker guards against duplicate arrivals
// from either replica. Returns whether an insert actually happened.
func (m *Manager) Enqueue(ctx context.Context, p domain.PaymentRequest) (bool, error) {
	set, err := m.rdb.SetNX(ctx, queueItemKey(p.CorrelationId), "1", QueueItemTTL).Result()
	if err != nil {
		return false, err
	}
	if !set {
		slog.Debug("duplicate correlationId, skipping enqueue", "correlationId", p.CorrelationId)
		return false, nil
	}

	raw, err := (Item{CorrelationId: p.CorrelationId, Amount: p.Amount}).Encode()
	if err != nil {
		return false, err
	}
	if err := m.rdb.LPush(ctx, MainQueueKey, raw).Err(); err != nil {
		return false, err
	}
	return true, nil
}

// TakeBatch atomically moves up to limit items from the main queue into the
// processing list. A store error yields an empty batch; the caller retries
// on its next tick.
func (m *Manager) TakeBatch(ctx context.Context, limit int) []TakenItem {
	now := time.Now().UnixMilli()
	res, err := takeBatchScript.Run(ctx, m.rdb,
		[]string{MainQueueKey, ProcessingKey, DeadlinesKey},
		limit, now,
	).StringSlice()
	if err != nil && err != redis.Nil {
		slog.Warn("takeBatch failed", "err", err)
		return nil
	}
	return m.parseTaken(ctx, res)
}

// TakeDue atomically drains every retry entry whose schedule has arrived
// into the processing list.
func (m *Manager) TakeDue(ctx context.Context) []TakenItem {
	now := time.Now().UnixMilli()
	res, err := takeDueScript.Run(ctx, m.rdb,
		[]string{RetryQueueKey, ProcessingKey, DeadlinesKey},
		now, now,
	).StringSlice()
	if err != nil && err != redis.Nil {
		slog.Warn("takeDue failed", "err", err)
		return nil
	}
	return m.parseTaken(ctx, res)
}

func (m *Manager) parseTaken(ctx context.Context, raws []string) []TakenItem {
	items := make([]TakenItem, 0, len(raws))
	for _, raw := range raws {
		item, err := DecodeItem(raw)
		if err != nil {
			slog.Error("dropping undecodable queue item", "raw", raw, "err", err)
			m.dropRaw(ctx, raw)
			continue
		}
		items = append(items, TakenItem{Raw: raw, Item: item})
	}
	return items
}

func (m *Manager) dropRaw(ctx context.Context, raw string) {
	pipe := m.rdb.Pipeline()
	pipe.LRem(ctx, ProcessingKey, 1, raw)
	pipe.ZRem(ctx, DeadlinesKey, raw)
	if _, err := pipe.Exec(ctx); err != nil {
		slog.Warn("failed to drop queue item", "err", err)
	}
}

// FinalizeSuccess clears committed items out of the processing list and
// marks their correlation ids processed. Best-effort: the ledger row is
// already the source of truth when this runs.
func (m *Manager) FinalizeSuccess(ctx context.Context, items []TakenItem) error {
	if len(items) == 0 {
		return nil
	}

	pipe := m.rdb.Pipeline()
	for _, it := range items {
		pipe.LRem(ctx, ProcessingKey, 1, it.Raw)
		pipe.ZRem(ctx, DeadlinesKey, it.Raw)
		pipe.Del(ctx, queueItemKey(it.Item.CorrelationId))
		pipe.Set(ctx, processedKey(it.Item.CorrelationId), "1", ProcessedTTL)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Reschedule routes failed items back into the retry queue with one more
// retry on the clock, or dead-letters them once retries are exhausted.
func (m *Manager) Reschedule(ctx context.Context, items []TakenItem) error {
	if len(items) == 0 {
		return nil
	}

	now := time.Now()
	pipe := m.rdb.Pipeline()
	for _, it := range items {
		pipe.LRem(ctx, ProcessingKey, 1, it.Raw)
		pipe.ZRem(ctx, DeadlinesKey, it.Raw)

		next, ok := NextRetry(it.Item, now)
		if !ok {
			slog.Warn("retry exhausted, dead-lettering", "correlationId", it.Item.CorrelationId, "retryCount", it.Item.RetryCount)
			pipe.Del(ctx, queueItemKey(it.Item.CorrelationId))
			pipe.Set(ctx, failedKey(it.Item.CorrelationId), "1", FailedTTL)
			continue
		}

		raw, err := next.Encode()
		if err != nil {
			slog.Error("failed to encode retry item", "correlationId", next.CorrelationId, "err", err)
			continue
		}
		pipe.ZAdd(ctx, RetryQueueKey, redis.Z{Score: float64(next.NextRetryAt), Member: raw})
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Discard drops items a processor rejected as unprocessable: no retry, no
// ledger row, terminal failed-marker.
func (m *Manager) Discard(ctx context.Context, items []TakenItem) error {
	if len(items) == 0 {
		return nil
	}

	pipe := m.rdb.Pipeline()
	for _, it := range items {
		pipe.LRem(ctx, ProcessingKey, 1, it.Raw)
		pipe.ZRem(ctx, DeadlinesKey, it.Raw)
		pipe.Del(ctx, queueItemKey(it.Item.CorrelationId))
		pipe.Set(ctx, failedKey(it.Item.CorrelationId), "1", FailedTTL)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// MarkProcessed sets the post-commit dedup marker. Best-effort: the ledger
// row is already durable when this runs.
func (m *Manager) MarkProcessed(ctx context.Context, correlationId string) {
	if err := m.rdb.Set(ctx, processedKey(correlationId), "1", ProcessedTTL).Err(); err != nil {
		slog.Warn("failed to set processed marker", "correlationId", correlationId, "err", err)
	}
}

// ReclaimOrphans returns in-flight items older than age to the retry queue,
// retry count preserved. Covers replicas that crashed mid-batch.
func (m *Manager) ReclaimOrphans(ctx context.Context, age time.Duration) (int, error) {
	now := time.Now()
	cutoff := now.Add(-age).UnixMilli()
	moved, err := reclaimScript.Run(ctx, m.rdb,
		[]string{DeadlinesKey, ProcessingKey, RetryQueueKey},
		cutoff, now.UnixMilli(),
	).Int()
	if err != nil && err != redis.Nil {
		return 0, err
	}
	return moved, nil
}

// IsProcessed reports whether a processed-marker exists for the id.
func (m *Manager) IsProcessed(ctx context.Context, correlationId string) (bool, error) {
	n, err := m.rdb.Exists(ctx, processedKey(correlationId)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// PurgeAll clears the queue collections and every per-correlation marker.
func (m *Manager) PurgeAll(ctx context.Context) error {
	if err := m.rdb.Del(ctx, MainQueueKey, RetryQueueKey, ProcessingKey, DeadlinesKey).Err(); err != nil {
		return err
	}
	for _, prefix := range []string{QueueItemPrefix, ProcessedPrefix, FailedPrefix} {
		if err := m.deleteByPrefix(ctx, prefix); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) deleteByPrefix(ctx context.Context, prefix string) error {
	var cursor uint64
	for {
		keys, next, err := m.rdb.Scan(ctx, cursor, prefix+"*", 500).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := m.rdb.Del(ctx, keys...).Err(); err != nil {
				return err
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// Depths reports main/retry/processing sizes for telemetry.
func (m *Manager) Depths(ctx context.Context) (main, retry, processing int64) {
	main, _ = m.rdb.LLen(ctx, MainQueueKey).Result()
	retry, _ = m.rdb.ZCard(ctx, RetryQueueKey).Result()
	processing, _ = m.rdb.LLen(ctx, ProcessingKey).Result()
	return main, retry, processing
}
