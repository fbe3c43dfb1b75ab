package llmgate

import (
	"context"
	"time"
)

// QuotaStore persists windowed usage counters keyed by
// identifier+action+window-bucket. Implementations must make Reserve a single
// atomic read-compare-increment: under N concurrent callers racing on one key
// with limit L, exactly min(N, L) may be granted and the stored count must
// equal the number granted.
type QuotaStore interface {
	// Reserve applies fixed-window check-and-increment for key. now and
	// resetAt are supplied by the caller so that window math lives in one
	// place; a record whose reset time is at or before now is superseded in
	// place with count 1 and the fresh resetAt. A denial never mutates the
	// record.
	Reserve(ctx context.Context, key string, limit int64, now, resetAt time.Time) (Decision, error)

	// Peek returns the live record for key without mutating anything.
	// ok is false when no record exists.
	Peek(ctx context.Context, key string) (rec QuotaRecord, ok bool, err error)
}

// QuotaRecord is one live windowed counter. At most one record exists per
// (identifier, action, window-bucket) key.
type QuotaRecord struct {
	ID        string
	Key       string
	Count     int64
	ResetAt   time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Decision is the transient outcome of a reservation or check.
type Decision struct {
	Allowed   bool
	Remaining int64
	Count     int64
	ResetAt   time.Time
}
