package reporting

import (
	"context"
	"errors"
	"sync"
	"time"

	"voiceline/internal/billing"
	"voiceline/internal/calls"

	"github.com/shopspring/decimal"
)

// MemoryRepo is a simple in-memory reporting repository for tests.
// It enforces account isolation on reads.
type MemoryRepo struct {
	mu sync.Mutex

	Calls       []calls.Record
	Settlements []billing.Settlement
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

func inRange(t, from, to time.Time) bool {
	return !t.Before(from) && t.Before(to)
}

func (r *MemoryRepo) CallStats(ctx context.Context, accountID string, from, to time.Time, dir calls.Direction) ([]StatusCount, error) {
	if accountID == "" {
		return nil, errors.New("account_id required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	byStatus := map[calls.Status]*StatusCount{}
	var order []calls.Status
	for _, c := range r.Calls {
		if c.AccountID != accountID || !inRange(c.CreatedAt, from, to) {
			continue
		}
		if dir != "" && c.Direction != dir {
			continue
		}
		b, ok := byStatus[c.Status]
		if !ok {
			b = &StatusCount{Status: c.Status}
			byStatus[c.Status] = b
			order = append(order, c.Status)
		}
		b.Calls++
		b.DurationSeconds += c.DurationSeconds
		if c.Recording != nil {
			b.Recorded++
		}
	}
	out := make([]StatusCount, 0, len(order))
	for _, s := range order {
		out = append(out, *byStatus[s])
	}
	return out, nil
}

func (r *MemoryRepo) SpendStats(ctx context.Context, accountID string, from, to time.Time) (SpendSummary, error) {
	if accountID == "" {
		return SpendSummary{}, errors.New("account_id required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	out := SpendSummary{TotalCharge: decimal.Zero}
	for _, s := range r.Settlements {
		if s.AccountID != accountID || !inRange(s.CreatedAt, from, to) {
			continue
		}
		out.SettledCalls++
		out.BillableMinutes += s.BillableMinutes
		out.FreeMinutesUsed += s.FreeMinutesUsed
		out.ChargedMinutes += s.ChargedMinutes
		out.TotalCharge = out.TotalCharge.Add(s.Charge)
	}
	return out, nil
}
