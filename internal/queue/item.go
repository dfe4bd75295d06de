package queue

import (
	"github.com/bytedance/sonic"
)

// Item is the serialized unit of work living in the main queue, the retry
// queue or the processing set.
type Item struct {
	CorrelationId string  `json:"correlationId"`
	Amount        float64 `json:"amount"`
	RetryCount    int     `json:"retryCount"`
	NextRetryAt   int64   `json:"nextRetryAt"`
}

func (i Item) Encode() (string, error) {
	raw, err := sonic.ConfigFastest.Marshal(i)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func DecodeItem(raw string) (Item, error) {
	var item Item
	err := sonic.ConfigFastest.Unmarshal([]byte(raw), &item)
	return item, err
}

// TakenItem pairs a parsed item with the exact raw form it was stored under.
// Finalize and reschedule remove occurrences by raw form, so the raw string
// must travel with the item untouched.
type TakenItem struct {
	Raw  string
	Item Item
}
