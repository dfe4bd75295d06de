package domain

import (
	"math"
	"time"

	"github.com/google/uuid"
)

type Processor string

const (
	ProcessorDefault  Processor = "default"
	ProcessorFallback Processor = "fallback"
)

type PaymentRequest struct {
	CorrelationId string  `json:"correlationId"`
	Amount        float64 `json:"amount"`
}

func (p PaymentRequest) Validate() error {
	if _, err := uuid.Parse(p.CorrelationId); err != nil {
		return ErrInvalidRequest
	}
	if p.Amount <= 0 {
		return ErrInvalidRequest
	}
	return nil
}

// ProcessorPayment is the wire body sent to a payment processor. RequestedAt
// is stamped per delivery attempt, not at intake.
type ProcessorPayment struct {
	CorrelationId string  `json:"correlationId"`
	Amount        float64 `json:"amount"`
	RequestedAt   string  `json:"requestedAt"`
}

func NewProcessorPayment(correlationId string, amount float64) ProcessorPayment {
	return ProcessorPayment{
		CorrelationId: correlationId,
		Amount:        amount,
		RequestedAt:   time.Now().UTC().Format(time.RFC3339Nano),
	}
}

// Transaction is one immutable ledger row.
type Transaction struct {
	CorrelationId string
	Amount        float64
	Processor     Processor
	ProcessedAt   time.Time
}

type ProcessorSummary struct {
	TotalRequests int64   `json:"totalRequests"`
	TotalAmount   float64 `json:"totalAmount"`
}

type SummaryResponse struct {
	Default  ProcessorSummary `json:"default"`
	Fallback ProcessorSummary `json:"fallback"`
}

// ProcessorHealth is one processor's last known verdict. The zero value
// reads as healthy; a replica without a verdict starts from ColdSnapshot
// instead, so it queues rather than calling processors blindly.
type ProcessorHealth struct {
	Failing         bool      `json:"failing"`
	MinResponseTime int       `json:"minResponseTime"`
	LastCheckedAt   time.Time `json:"lastCheckedAt"`
}

type HealthSnapshot struct {
	Default  ProcessorHealth `json:"default"`
	Fallback ProcessorHealth `json:"fallback"`
}

// ColdSnapshot is the verdict a replica holds before any probe result
// arrives: both processors failing.
func ColdSnapshot() HealthSnapshot {
	return HealthSnapshot{
		Default:  ProcessorHealth{Failing: true},
		Fallback: ProcessorHealth{Failing: true},
	}
}

// Round2 normalizes monetary values to two fractional digits.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
