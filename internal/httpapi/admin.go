package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

type (
	QueueAdmin interface {
		PurgeAll(ctx context.Context) error
		ReclaimOrphans(ctx context.Context, age time.Duration) (int, error)
	}

	LedgerAdmin interface {
		PurgeTransactions(ctx context.Context) error
	}

	CounterAdmin interface {
		Reset(ctx context.Context) error
	}
)

// AdminService bundles the operator endpoints: full purge and the manual
// orphan reconciliation pass.
type AdminService struct {
	queue       QueueAdmin
	ledger      LedgerAdmin
	counters    CounterAdmin
	client      *http.Client
	defaultURL  string
	fallbackURL string
	token       string
	reclaimAge  time.Duration
}

func NewAdminService(queue QueueAdmin, ledger LedgerAdmin, counters CounterAdmin, client *http.Client, defaultURL, fallbackURL, token string, reclaimAge time.Duration) *AdminService {
	return &AdminService{
		queue:       queue,
		ledger:      ledger,
		counters:    counters,
		client:      client,
		defaultURL:  defaultURL,
		fallbackURL: fallbackURL,
		token:       token,
		reclaimAge:  reclaimAge,
	}
}

// Purge wipes queues, markers, counters and the ledger, then forwards the
// purge to both processors. The processor call is best-effort.
func (a *AdminService) Purge(ctx context.Context) error {
	if err := a.queue.PurgeAll(ctx); err != nil {
		return err
	}
	if err := a.ledger.PurgeTransactions(ctx); err != nil {
		return err
	}
	if err := a.counters.Reset(ctx); err != nil {
		return err
	}

	for _, url := range []string{a.defaultURL, a.fallbackURL} {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url+"/admin/purge-payments", nil)
		if err != nil {
			continue
		}
		req.Header.Set("X-Rinha-Token", a.token)
		res, err := a.client.Do(req)
		if err != nil {
			slog.Warn("processor purge failed", "url", url, "err", err)
			continue
		}
		res.Body.Close()
	}
	return nil
}

func (a *AdminService) Reconcile(ctx context.Context) (int, error) {
	return a.queue.ReclaimOrphans(ctx, a.reclaimAge)
}
