package dispatch

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/sony/gobreaker"

	"paybroker/internal/domain"
)

// Client delivers payments to the two external processors. Each processor
// sits behind its own circuit breaker so a flapping endpoint stops costing
// network round-trips; the health snapshot remains the primary gate.
type Client struct {
	http            *http.Client
	defaultURL      string
	fallbackURL     string
	defaultBreaker  *gobreaker.CircuitBreaker
	fallbackBreaker *gobreaker.CircuitBreaker
}

func NewClient(httpClient *http.Client, defaultURL, fallbackURL string) *Client {
	settings := func(name string) gobreaker.Settings {
		return gobreaker.Settings{
			Name:    name,
			Timeout: 10 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}
	}
	return &Client{
		http:            httpClient,
		defaultURL:      defaultURL,
		fallbackURL:     fallbackURL,
		defaultBreaker:  gobreaker.NewCircuitBreaker(settings("processor-default")),
		fallbackBreaker: gobreaker.NewCircuitBreaker(settings("processor-fallback")),
	}
}

// Send posts one payment to the named processor. A nil return means the
// processor accepted it. ErrInvalidRequest marks a rejection that must not
// be retried; everything else maps to ErrUnavailableProcessor.
func (c *Client) Send(ctx context.Context, processor domain.Processor, payment domain.PaymentRequest) error {
	breaker := c.defaultBreaker
	url := c.defaultURL
	if processor == domain.ProcessorFallback {
		breaker = c.fallbackBreaker
		url = c.fallbackURL
	}

	res, err := breaker.Execute(func() (interface{}, error) {
		if err := c.post(ctx, url+"/payments", payment); err != nil {
			if errors.Is(err, domain.ErrInvalidRequest) {
				// the processor answered; a 422 must not trip the breaker
				return domain.ErrInvalidRequest, nil
			}
			return nil, err
		}
		return nil, nil
	})
	if err != nil {
		return domain.ErrUnavailableProcessor
	}
	if res != nil {
		return res.(error)
	}
	return nil
}

func (c *Client) post(ctx context.Context, url string, payment domain.PaymentRequest) error {
	body, err := sonic.ConfigFastest.Marshal(domain.NewProcessorPayment(payment.CorrelationId, payment.Amount))
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return domain.ErrUnavailableProcessor
	}
	defer res.Body.Close()

	switch {
	case res.StatusCode >= 200 && res.StatusCode < 300:
		return nil
	case res.StatusCode == http.StatusUnprocessableEntity:
		return domain.ErrInvalidRequest
	default:
		return domain.ErrUnavailableProcessor
	}
}
