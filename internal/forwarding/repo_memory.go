package forwarding

import (
	"context"
	"sync"

	"voiceline/internal/apperr"
)

// MemoryRepo is an in-memory repository useful for tests.
// It is not intended for production use.
type MemoryRepo struct {
	mu    sync.Mutex
	rules map[string]Rule // by line id

	// FindErr, when set, is returned by FindActive.
	FindErr error
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{rules: map[string]Rule{}} }

func (r *MemoryRepo) Create(ctx context.Context, rule Rule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rules[rule.LineID]; ok {
		return apperr.ErrConflict
	}
	r.rules[rule.LineID] = rule
	return nil
}

func (r *MemoryRepo) GetByLine(ctx context.Context, lineID string) (Rule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rule, ok := r.rules[lineID]
	if !ok {
		return Rule{}, apperr.ErrNotFound
	}
	return rule, nil
}

func (r *MemoryRepo) FindActive(ctx context.Context, lineID string) (Rule, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FindErr != nil {
		return Rule{}, false, r.FindErr
	}
	rule, ok := r.rules[lineID]
	if !ok || !rule.Active {
		return Rule{}, false, nil
	}
	return rule, true, nil
}

func (r *MemoryRepo) Update(ctx context.Context, rule Rule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rules[rule.LineID]; !ok {
		return apperr.ErrNotFound
	}
	r.rules[rule.LineID] = rule
	return nil
}

func (r *MemoryRepo) Delete(ctx context.Context, lineID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rules[lineID]; !ok {
		return apperr.ErrNotFound
	}
	delete(r.rules, lineID)
	return nil
}
