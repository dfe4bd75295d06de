package health

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"paybroker/internal/domain"
	"paybroker/internal/queue"
)

const probeTimeout = 4 * time.Second

// Mirror receives best-effort copies of each probe round for observability.
type Mirror interface {
	UpsertProcessorHealth(ctx context.Context, name domain.Processor, health domain.ProcessorHealth) error
}

// Monitor keeps a locally-readable health snapshot for both processors.
// Across the cluster a single replica probes at a time, elected by a short
// redis lease; everyone else adopts the cached verdict. Snapshot reads never
// touch the network.
type Monitor struct {
	rdb         *redis.Client
	client      *http.Client
	mirror      Mirror
	defaultURL  string
	fallbackURL string
	tick        time.Duration

	mu          sync.RWMutex
	snapshot    domain.HealthSnapshot
	lastVerdict time.Time
}

func NewMonitor(rdb *redis.Client, client *http.Client, mirror Mirror, defaultURL, fallbackURL string, tick time.Duration) *Monitor {
	return &Monitor{
		rdb:         rdb,
		client:      client,
		mirror:      mirror,
		defaultURL:  defaultURL,
		fallbackURL: fallbackURL,
		tick:        tick,
		snapshot:    domain.ColdSnapshot(),
	}
}

// Snapshot returns the current local verdict without I/O.
func (m *Monitor) Snapshot() domain.HealthSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot
}

func (m *Monitor) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(m.tick)
		defer ticker.Stop()

		m.Tick(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Tick(ctx)
			}
		}
	}()
}

// Tick runs one round of the monitor protocol: adopt the shared verdict if
// one is cached, otherwise race for the prober lease and probe.
func (m *Monitor) Tick(ctx context.Context) {
	raw, err := m.rdb.Get(ctx, queue.HealthStatusKey).Result()
	if err == nil {
		var snapshot domain.HealthSnapshot
		if err := sonic.Unmarshal([]byte(raw), &snapshot); err == nil {
			m.adopt(snapshot)
			return
		}
		slog.Warn("discarding unreadable cached health verdict", "err", err)
	} else if err != redis.Nil {
		slog.Warn("health verdict read failed", "err", err)
		m.expireStale()
		return
	}

	granted, err := m.rdb.SetNX(ctx, queue.HealthLockKey, "1", queue.HealthLockTTL).Result()
	if err != nil || !granted {
		m.expireStale()
		return
	}

	snapshot := m.probeAll(ctx)
	m.adopt(snapshot)
	m.publish(ctx, snapshot)
}

func (m *Monitor) adopt(snapshot domain.HealthSnapshot) {
	m.mu.Lock()
	m.snapshot = snapshot
	m.lastVerdict = time.Now()
	m.mu.Unlock()
}

// expireStale reverts to the cold both-failing verdict once the local copy
// outlives the shared-cache TTL without a refresh.
func (m *Monitor) expireStale() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.lastVerdict.IsZero() && time.Since(m.lastVerdict) > queue.HealthTTL {
		m.snapshot = domain.ColdSnapshot()
	}
}

func (m *Monitor) probeAll(ctx context.Context) domain.HealthSnapshot {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	var snapshot domain.HealthSnapshot
	g, probeCtx := errgroup.WithContext(probeCtx)
	g.Go(func() error {
		snapshot.Default = m.probeOne(probeCtx, m.defaultURL)
		return nil
	})
	g.Go(func() error {
		snapshot.Fallback = m.probeOne(probeCtx, m.fallbackURL)
		return nil
	})
	_ = g.Wait()
	return snapshot
}

func (m *Monitor) probeOne(ctx context.Context, baseURL string) domain.ProcessorHealth {
	failing := domain.ProcessorHealth{Failing: true, LastCheckedAt: time.Now().UTC()}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/payments/service-health", nil)
	if err != nil {
		return failing
	}
	req.Header.Set("Connection", "close")

	res, err := m.client.Do(req)
	if err != nil {
		return failing
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return failing
	}

	var body struct {
		Failing         bool `json:"failing"`
		MinResponseTime int  `json:"minResponseTime"`
	}
	if err := sonic.ConfigFastest.NewDecoder(res.Body).Decode(&body); err != nil {
		return failing
	}

	return domain.ProcessorHealth{
		Failing:         body.Failing,
		MinResponseTime: body.MinResponseTime,
		LastCheckedAt:   time.Now().UTC(),
	}
}

func (m *Monitor) publish(ctx context.Context, snapshot domain.HealthSnapshot) {
	raw, err := sonic.Marshal(snapshot)
	if err != nil {
		slog.Error("failed to encode health verdict", "err", err)
		return
	}
	if err := m.rdb.Set(ctx, queue.HealthStatusKey, raw, queue.HealthTTL).Err(); err != nil {
		slog.Warn("failed to publish health verdict", "err", err)
	}

	if m.mirror == nil {
		return
	}
	if err := m.mirror.UpsertProcessorHealth(ctx, domain.ProcessorDefault, snapshot.Default); err != nil {
		slog.Warn("health mirror write failed", "processor", "default", "err", err)
	}
	if err := m.mirror.UpsertProcessorHealth(ctx, domain.ProcessorFallback, snapshot.Fallback); err != nil {
		slog.Warn("health mirror write failed", "processor", "fallback", "err", err)
	}
}
