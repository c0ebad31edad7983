package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/hamed0406/modelstatus/internal/domain"
	"github.com/hamed0406/modelstatus/internal/repo"
)

var _ repo.RunStore = (*Store)(nil)
var _ repo.AlertStore = (*Store)(nil)

// Schema creates the tables the store needs. It is safe to apply repeatedly.
const Schema = `
CREATE TABLE IF NOT EXISTS runs (
  id          TEXT PRIMARY KEY,
  status      TEXT NOT NULL,
  cancelled   BOOLEAN NOT NULL DEFAULT false,
  total       INTEGER NOT NULL,
  checked     INTEGER NOT NULL,
  succeeded   INTEGER NOT NULL,
  error       TEXT NOT NULL DEFAULT '',
  outcomes    JSONB NOT NULL,
  started_at  TIMESTAMPTZ NOT NULL,
  finished_at TIMESTAMPTZ NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs (started_at DESC);

CREATE TABLE IF NOT EXISTS alerts (
  scope        TEXT PRIMARY KEY,
  last_status  TEXT NOT NULL,
  last_sent_at TIMESTAMPTZ NULL
);
`

type Store struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

func New(ctx context.Context, dsn string, log *zap.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	ctxPing, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctxPing); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{pool: pool, log: log}, nil
}

// Migrate applies Schema.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	s.log.Info("schema_applied")
	return nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// ---- RunStore ----

func (s *Store) Append(ctx context.Context, r *domain.BatchRun) error {
	outcomes, err := json.Marshal(r.Outcomes)
	if err != nil {
		return fmt.Errorf("encode outcomes: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO runs
		   (id, status, cancelled, total, checked, succeeded, error, outcomes, started_at, finished_at)
		 VALUES
		   ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (id) DO NOTHING`,
		r.ID, string(r.Status), r.Cancelled, r.Total, r.Checked, r.Succeeded, r.Error,
		outcomes, r.StartedAt, r.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

const selectRuns = `
SELECT id, status, cancelled, total, checked, succeeded, error, outcomes, started_at, finished_at
  FROM runs
 ORDER BY started_at DESC, id DESC
 LIMIT $1`

func (s *Store) Latest(ctx context.Context) (*domain.BatchRun, error) {
	out, err := s.List(ctx, 1)
	if err != nil || len(out) == 0 {
		return nil, err
	}
	return &out[0], nil
}

func (s *Store) List(ctx context.Context, limit int) ([]domain.BatchRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, selectRuns, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []domain.BatchRun
	for rows.Next() {
		var (
			r        domain.BatchRun
			status   string
			outcomes []byte
		)
		if err := rows.Scan(&r.ID, &status, &r.Cancelled, &r.Total, &r.Checked, &r.Succeeded,
			&r.Error, &outcomes, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.Status = domain.AggregateStatus(status)
		if err := json.Unmarshal(outcomes, &r.Outcomes); err != nil {
			return nil, fmt.Errorf("decode outcomes of %s: %w", r.ID, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ---- AlertStore ----

func (s *Store) Get(ctx context.Context, scope string) (*repo.AlertRecord, error) {
	const q = `SELECT last_status, last_sent_at FROM alerts WHERE scope=$1`
	r := repo.AlertRecord{Scope: scope}
	var status string
	err := s.pool.QueryRow(ctx, q, scope).Scan(&status, &r.LastSentAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	r.LastStatus = domain.AggregateStatus(status)
	return &r, nil
}

func (s *Store) Set(ctx context.Context, scope string, status domain.AggregateStatus, sentAt time.Time) error {
	const q = `
		INSERT INTO alerts (scope, last_status, last_sent_at)
		VALUES ($1,$2,$3)
		ON CONFLICT (scope)
		DO UPDATE SET last_status=EXCLUDED.last_status,
		              last_sent_at=COALESCE(EXCLUDED.last_sent_at, alerts.last_sent_at)
	`
	var ts *time.Time
	if !sentAt.IsZero() {
		ts = &sentAt
	}
	_, err := s.pool.Exec(ctx, q, scope, string(status), ts)
	return err
}
