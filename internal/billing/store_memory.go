package billing

import (
	"context"
	"sync"
	"time"

	"voiceline/internal/apperr"
	"voiceline/internal/pricing"

	"github.com/shopspring/decimal"
)

// MemoryStore is an in-memory Store useful for tests and local development.
// A single mutex stands in for Postgres row locks.
type MemoryStore struct {
	mu          sync.Mutex
	accounts    map[string]Account
	settlements map[string]Settlement
}

func NewMemoryStore(accounts ...Account) *MemoryStore {
	s := &MemoryStore{accounts: map[string]Account{}, settlements: map[string]Settlement{}}
	for _, a := range accounts {
		s.accounts[a.ID] = a
	}
	return s
}

func (s *MemoryStore) GetAccount(ctx context.Context, accountID string) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[accountID]
	if !ok {
		return Account{}, apperr.ErrNotFound
	}
	return a, nil
}

func (s *MemoryStore) ResetFreeMinutes(ctx context.Context, accountID string, allotment int, monthStart, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[accountID]
	if !ok {
		return false, apperr.ErrNotFound
	}
	if !a.FreeMinutesLastReset.Before(monthStart) {
		return false, nil
	}
	a.FreeMinutesRemaining = allotment
	a.FreeMinutesLastReset = now
	a.UpdatedAt = now
	s.accounts[accountID] = a
	return true, nil
}

func (s *MemoryStore) ClaimFreeLine(ctx context.Context, accountID string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[accountID]
	if !ok {
		return false, apperr.ErrNotFound
	}
	if a.HasClaimedFreeLine {
		return false, nil
	}
	a.HasClaimedFreeLine = true
	a.UpdatedAt = now
	s.accounts[accountID] = a
	return true, nil
}

func (s *MemoryStore) UnclaimFreeLine(ctx context.Context, accountID string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[accountID]
	if !ok {
		return apperr.ErrNotFound
	}
	a.HasClaimedFreeLine = false
	a.UpdatedAt = now
	s.accounts[accountID] = a
	return nil
}

func (s *MemoryStore) DebitIfCovered(ctx context.Context, accountID string, amount, required decimal.Decimal, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[accountID]
	if !ok {
		return false, apperr.ErrNotFound
	}
	if a.Balance.LessThan(required) {
		return false, nil
	}
	a.Balance = a.Balance.Sub(amount)
	a.UpdatedAt = now
	s.accounts[accountID] = a
	return true, nil
}

func (s *MemoryStore) Credit(ctx context.Context, accountID string, amount decimal.Decimal, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[accountID]
	if !ok {
		return apperr.ErrNotFound
	}
	a.Balance = a.Balance.Add(amount)
	a.UpdatedAt = now
	s.accounts[accountID] = a
	return nil
}

func (s *MemoryStore) ApplySettlement(ctx context.Context, in Settlement, rate decimal.Decimal, now time.Time) (Settlement, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.settlements[in.CallID]; ok {
		return existing, false, nil
	}
	a, ok := s.accounts[in.AccountID]
	if !ok {
		return Settlement{}, false, apperr.ErrNotFound
	}

	u := pricing.Plan{PerMinuteRate: rate}.Split(in.DurationSeconds, a.FreeMinutesRemaining)
	in.BillableMinutes = u.BillableMinutes
	in.FreeMinutesUsed = u.FreeMinutesUsed
	in.ChargedMinutes = u.ChargedMinutes
	in.Charge = u.Charge

	a.FreeMinutesRemaining = max(a.FreeMinutesRemaining-u.BillableMinutes, 0)
	a.Balance = a.Balance.Sub(u.Charge)
	a.UpdatedAt = now
	s.accounts[in.AccountID] = a
	s.settlements[in.CallID] = in
	return in, true, nil
}

// Settlements returns a copy of recorded settlements, for assertions.
func (s *MemoryStore) Settlements() []Settlement {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Settlement, 0, len(s.settlements))
	for _, st := range s.settlements {
		out = append(out, st)
	}
	return out
}
