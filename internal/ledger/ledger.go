package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"paybroker/internal/domain"
)

const (
	insertQuery = `insert into transactions (correlation_id, amount, processor, processed_at)
			  values ($1, $2, $3, $4)
			  on conflict (correlation_id) do nothing`

	summaryQuery = `select processor, count(1), coalesce(sum(amount), 0)
			 from transactions
			 where processed_at between $1 and $2
			 group by processor`
)

type Store struct {
	pool *pgxpool.Pool
}

func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	config.MaxConns = 30
	config.MinConns = 4
	config.MaxConnLifetime = time.Minute * 30
	config.MaxConnIdleTime = time.Minute * 5

	poolCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(poolCtx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connection test failed: %w", err)
	}

	return pool, nil
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// EnsureSchema creates the ledger tables and indexes when absent. Safe to
// run on every startup from both replicas.
func (s *Store) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`create table if not exists transactions (
			correlation_id uuid primary key,
			amount numeric(10,2) not null,
			processor varchar(20) not null,
			processed_at timestamptz not null
		)`,
		`create index if not exists idx_transactions_processed_at on transactions (processed_at)`,
		`create index if not exists idx_transactions_processor on transactions (processor)`,
		`create index if not exists idx_transactions_processor_processed_at on transactions (processor, processed_at)`,
		`create table if not exists processor_health (
			processor_name varchar(20) primary key,
			is_failing boolean not null,
			min_response_time integer not null,
			last_checked_at timestamptz not null
		)`,
	}

	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("schema bootstrap failed: %w", err)
		}
	}
	return nil
}

// SaveTransaction inserts one ledger row. Returns whether the row is new;
// a conflict on correlation_id is not an error.
func (s *Store) SaveTransaction(ctx context.Context, t domain.Transaction) (bool, error) {
	tag, err := s.pool.Exec(ctx, insertQuery,
		t.CorrelationId, t.Amount, string(t.Processor), t.ProcessedAt,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// SaveTransactions batch-inserts with on conflict do nothing. inserted[i]
// reports whether transactions[i] produced a new row, so summary counters
// only move for first writes.
func (s *Store) SaveTransactions(ctx context.Context, transactions []domain.Transaction) ([]bool, error) {
	if len(transactions) == 0 {
		return nil, nil
	}

	batch := &pgx.Batch{}
	for _, t := range transactions {
		batch.Queue(insertQuery, t.CorrelationId, t.Amount, string(t.Processor), t.ProcessedAt)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()

	inserted := make([]bool, len(transactions))
	for i := range transactions {
		tag, err := results.Exec()
		if err != nil {
			return nil, err
		}
		inserted[i] = tag.RowsAffected() == 1
	}
	return inserted, nil
}

func (s *Store) TransactionExists(ctx context.Context, correlationId string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`select exists(select 1 from transactions where correlation_id = $1)`,
		correlationId,
	).Scan(&exists)
	return exists, err
}

// SummaryByProcessor aggregates the ledger over [from, to]. Zero times widen
// the range to everything.
func (s *Store) SummaryByProcessor(ctx context.Context, from, to time.Time) (map[domain.Processor]domain.ProcessorSummary, error) {
	if from.IsZero() {
		from = time.Unix(0, 0).UTC()
	}
	if to.IsZero() {
		to = time.Now().UTC()
	}

	rows, err := s.pool.Query(ctx, summaryQuery, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	summaries := make(map[domain.Processor]domain.ProcessorSummary)
	for rows.Next() {
		var processor string
		var count int64
		var total float64
		if err := rows.Scan(&processor, &count, &total); err != nil {
			return nil, err
		}
		summaries[domain.Processor(processor)] = domain.ProcessorSummary{
			TotalRequests: count,
			TotalAmount:   domain.Round2(total),
		}
	}
	return summaries, rows.Err()
}

func (s *Store) UpsertProcessorHealth(ctx context.Context, name domain.Processor, health domain.ProcessorHealth) error {
	_, err := s.pool.Exec(ctx,
		`insert into processor_health (processor_name, is_failing, min_response_time, last_checked_at)
		 values ($1, $2, $3, $4)
		 on conflict (processor_name) do update
		 set is_failing = excluded.is_failing,
		     min_response_time = excluded.min_response_time,
		     last_checked_at = excluded.last_checked_at`,
		string(name), health.Failing, health.MinResponseTime, health.LastCheckedAt,
	)
	return err
}

func (s *Store) PurgeTransactions(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `truncate table transactions`)
	return err
}
