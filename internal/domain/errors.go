package domain

import "errors"

var (
	ErrInvalidRequest       = errors.New("invalid request")
	ErrDuplicateRequest     = errors.New("duplicate request")
	ErrUnavailableProcessor = errors.New("unavailable processor")
	ErrQueueUnavailable     = errors.New("queue unavailable")
	ErrRetryExhausted       = errors.New("retry exhausted")
)
