package quota

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/penscribe/llmgate"
)

// MemoryStore is an in-memory QuotaStore. A single mutex makes the
// read-compare-increment indivisible; suitable for tests and single-node
// deployments.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*llmgate.QuotaRecord
}

var _ llmgate.QuotaStore = (*MemoryStore)(nil)

// NewMemoryStore creates a new in-memory quota store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*llmgate.QuotaRecord),
	}
}

// Reserve applies atomic fixed-window check-and-increment for key.
func (s *MemoryStore) Reserve(_ context.Context, key string, limit int64, now, resetAt time.Time) (llmgate.Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]

	// Missing record, or the window has elapsed: the current count is zero.
	if !ok || now.After(rec.ResetAt) {
		if limit < 1 {
			return llmgate.Decision{Remaining: 0, ResetAt: resetAt}, nil
		}
		fresh := &llmgate.QuotaRecord{
			ID:        uuid.New().String(),
			Key:       key,
			Count:     1,
			ResetAt:   resetAt,
			CreatedAt: now,
			UpdatedAt: now,
		}
		s.records[key] = fresh
		return llmgate.Decision{
			Allowed:   true,
			Remaining: limit - 1,
			Count:     1,
			ResetAt:   resetAt,
		}, nil
	}

	if rec.Count < limit {
		rec.Count++
		rec.UpdatedAt = now
		return llmgate.Decision{
			Allowed:   true,
			Remaining: limit - rec.Count,
			Count:     rec.Count,
			ResetAt:   rec.ResetAt,
		}, nil
	}

	// Denial never consumes quota.
	return llmgate.Decision{
		Remaining: 0,
		Count:     rec.Count,
		ResetAt:   rec.ResetAt,
	}, nil
}

// Peek returns the live record for key without mutating it.
func (s *MemoryStore) Peek(_ context.Context, key string) (llmgate.QuotaRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok {
		return llmgate.QuotaRecord{}, false, nil
	}
	return *rec, true, nil
}

// SweepExpired removes records whose window elapsed before now and returns
// how many were removed. Intended for a periodic external sweep.
func (s *MemoryStore) SweepExpired(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, rec := range s.records {
		if now.After(rec.ResetAt) {
			delete(s.records, key)
			removed++
		}
	}
	return removed
}
