// Package postgres provides a PostgreSQL-backed QuotaStore for llmgate.
//
// Each windowed counter is a row, and Reserve runs inside a transaction as a
// sequence of conditional statements so the read-compare-increment is
// indivisible across instances. SweepExpired garbage-collects elapsed
// windows and is meant to be driven by a periodic external sweep.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/penscribe/llmgate"
)

// Store is a PostgreSQL-backed QuotaStore.
type Store struct {
	pool        *pgxpool.Pool
	tablePrefix string
}

var _ llmgate.QuotaStore = (*Store)(nil)

// Option configures Store.
type Option func(*Store)

// WithTablePrefix sets the table name prefix (default "llmgate_").
func WithTablePrefix(prefix string) Option {
	return func(s *Store) { s.tablePrefix = prefix }
}

// New creates a new PostgreSQL-backed QuotaStore.
func New(pool *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{
		pool:        pool,
		tablePrefix: "llmgate_",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) quotasTable() string { return s.tablePrefix + "quotas" }

// EnsureSchema creates the required table if it doesn't exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	q := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			key TEXT PRIMARY KEY,
			id TEXT NOT NULL,
			count BIGINT NOT NULL,
			reset_at TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);
	`, s.quotasTable())
	_, err := s.pool.Exec(ctx, q)
	if err != nil {
		return fmt.Errorf("llmgate/postgres: ensure schema: %w", err)
	}
	return nil
}

// Reserve applies atomic fixed-window check-and-increment for key.
func (s *Store) Reserve(ctx context.Context, key string, limit int64, now, resetAt time.Time) (llmgate.Decision, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return llmgate.Decision{}, fmt.Errorf("llmgate/postgres: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var count int64
	var curReset time.Time

	// 1. Fresh window: insert wins for exactly one caller.
	if limit >= 1 {
		err = tx.QueryRow(ctx,
			fmt.Sprintf(`INSERT INTO %s (key, id, count, reset_at, created_at, updated_at)
				VALUES ($1, $2, 1, $3, $4, $4)
				ON CONFLICT (key) DO NOTHING
				RETURNING count, reset_at`, s.quotasTable()),
			key, uuid.New().String(), resetAt, now,
		).Scan(&count, &curReset)
		if err == nil {
			if cerr := tx.Commit(ctx); cerr != nil {
				return llmgate.Decision{}, fmt.Errorf("llmgate/postgres: commit: %w", cerr)
			}
			return grant(limit, count, curReset), nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return llmgate.Decision{}, fmt.Errorf("llmgate/postgres: insert: %w", err)
		}

		// 2. Elapsed window: supersede the record in place.
		err = tx.QueryRow(ctx,
			fmt.Sprintf(`UPDATE %s SET id = $2, count = 1, reset_at = $3, created_at = $4, updated_at = $4
				WHERE key = $1 AND reset_at < $4
				RETURNING count, reset_at`, s.quotasTable()),
			key, uuid.New().String(), resetAt, now,
		).Scan(&count, &curReset)
		if err == nil {
			if cerr := tx.Commit(ctx); cerr != nil {
				return llmgate.Decision{}, fmt.Errorf("llmgate/postgres: commit: %w", cerr)
			}
			return grant(limit, count, curReset), nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return llmgate.Decision{}, fmt.Errorf("llmgate/postgres: rollover: %w", err)
		}

		// 3. Live window with headroom: increment.
		err = tx.QueryRow(ctx,
			fmt.Sprintf(`UPDATE %s SET count = count + 1, updated_at = $3
				WHERE key = $1 AND count < $2
				RETURNING count, reset_at`, s.quotasTable()),
			key, limit, now,
		).Scan(&count, &curReset)
		if err == nil {
			if cerr := tx.Commit(ctx); cerr != nil {
				return llmgate.Decision{}, fmt.Errorf("llmgate/postgres: commit: %w", cerr)
			}
			return grant(limit, count, curReset), nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return llmgate.Decision{}, fmt.Errorf("llmgate/postgres: increment: %w", err)
		}
	}

	// 4. At the limit (or limit < 1): deny without mutating.
	err = tx.QueryRow(ctx,
		fmt.Sprintf(`SELECT count, reset_at FROM %s WHERE key = $1`, s.quotasTable()),
		key,
	).Scan(&count, &curReset)
	if errors.Is(err, pgx.ErrNoRows) {
		return llmgate.Decision{ResetAt: resetAt}, nil
	}
	if err != nil {
		return llmgate.Decision{}, fmt.Errorf("llmgate/postgres: read denied: %w", err)
	}
	if cerr := tx.Commit(ctx); cerr != nil {
		return llmgate.Decision{}, fmt.Errorf("llmgate/postgres: commit: %w", cerr)
	}

	return llmgate.Decision{Count: count, ResetAt: curReset}, nil
}

func grant(limit, count int64, resetAt time.Time) llmgate.Decision {
	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	return llmgate.Decision{
		Allowed:   true,
		Remaining: remaining,
		Count:     count,
		ResetAt:   resetAt,
	}
}

// Peek returns the live record for key without mutating it.
func (s *Store) Peek(ctx context.Context, key string) (llmgate.QuotaRecord, bool, error) {
	var rec llmgate.QuotaRecord
	rec.Key = key

	err := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT id, count, reset_at, created_at, updated_at FROM %s WHERE key = $1`,
			s.quotasTable()),
		key,
	).Scan(&rec.ID, &rec.Count, &rec.ResetAt, &rec.CreatedAt, &rec.UpdatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return llmgate.QuotaRecord{}, false, nil
	}
	if err != nil {
		return llmgate.QuotaRecord{}, false, fmt.Errorf("llmgate/postgres: peek: %w", err)
	}
	return rec, true, nil
}

// SweepExpired removes records whose window elapsed before the cutoff and
// returns how many were removed.
func (s *Store) SweepExpired(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	tag, err := s.pool.Exec(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE reset_at < $1`, s.quotasTable()),
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("llmgate/postgres: sweep expired: %w", err)
	}
	return tag.RowsAffected(), nil
}
