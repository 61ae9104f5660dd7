package calls

import (
	"context"
	"sort"
	"sync"
	"time"

	"voiceline/internal/apperr"
)

// MemoryRepo is an in-memory ledger useful for tests.
// It is not intended for production use.
type MemoryRepo struct {
	mu   sync.Mutex
	rows map[string]Record
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{rows: map[string]Record{}}
}

func (r *MemoryRepo) Merge(ctx context.Context, u Update, now time.Time) (Record, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.rows[u.CallID]
	merged := u.Apply(existing, now)
	r.rows[u.CallID] = merged
	return merged, !ok, nil
}

func (r *MemoryRepo) Get(ctx context.Context, callID string) (Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.rows[callID]
	if !ok {
		return Record{}, apperr.ErrNotFound
	}
	return rec, nil
}

func (r *MemoryRepo) List(ctx context.Context, accountID string, f Filter) ([]Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Record
	for _, rec := range r.rows {
		if rec.AccountID != accountID {
			continue
		}
		if !f.Since.IsZero() && rec.CreatedAt.Before(f.Since) {
			continue
		}
		if !f.Until.IsZero() && !rec.CreatedAt.Before(f.Until) {
			continue
		}
		if f.RecordedOnly && rec.Recording == nil {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CallID < out[j].CallID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (r *MemoryRepo) Totals(ctx context.Context, accountID string) (Totals, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var t Totals
	for _, rec := range r.rows {
		if rec.AccountID != accountID {
			continue
		}
		t.Calls++
		t.DurationSeconds += rec.DurationSeconds
	}
	return t, nil
}

func (r *MemoryRepo) DurationSince(ctx context.Context, accountID string, since time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := 0
	for _, rec := range r.rows {
		if rec.AccountID == accountID && !rec.CreatedAt.Before(since) {
			total += rec.DurationSeconds
		}
	}
	return total, nil
}
