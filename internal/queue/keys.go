package queue

import "time"

const (
	MainQueueKey     = "payment_queue"
	RetryQueueKey    = "payment_retry_queue"
	ProcessingKey    = "payment_processing"
	DeadlinesKey     = "payment_processing_deadlines"
	QueueItemPrefix  = "queue_item:"
	ProcessedPrefix  = "payment_processed:"
	FailedPrefix     = "payment_failed:"
	HealthStatusKey  = "health_status"
	HealthLockKey    = "health_check_lock"
	SummaryKeyPrefix = "summary:processor:"

	QueueItemTTL  = time.Hour
	ProcessedTTL  = time.Hour
	FailedTTL     = 24 * time.Hour
	HealthTTL     = 15 * time.Second
	HealthLockTTL = 4 * time.Second
)

func queueItemKey(correlationId string) string {
	return QueueItemPrefix + correlationId
}

func processedKey(correlationId string) string {
	return ProcessedPrefix + correlationId
}

func failedKey(correlationId string) string {
	return FailedPrefix + correlationId
}
