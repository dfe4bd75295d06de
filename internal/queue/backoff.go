package queue

import "time"

// MaxRetries bounds delivery attempts per payment: an item failing its 10th
// retry is dead-lettered instead of rescheduled.
const MaxRetries = 10

const maxBackoff = 300 * time.Second

// NextRetry returns the item rescheduled for one more attempt, with the
// retry counter advanced and NextRetryAt pushed out by the backoff for the
// attempts it already burned. The second return is false once retries are
// exhausted and the item must be dead-lettered instead.
func NextRetry(item Item, now time.Time) (Item, bool) {
	if item.RetryCount >= MaxRetries {
		return Item{}, false
	}
	item.NextRetryAt = now.Add(Backoff(item.RetryCount)).UnixMilli()
	item.RetryCount++
	return item, true
}

// Backoff returns the delay applied before retry r+1, doubling from 5s and
// capped at 300s.
func Backoff(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	d := 5 * time.Second
	for i := 0; i < retryCount; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}
