package audit

import (
	"context"
	"sync"
)

// MemoryRepo keeps events in process for tests and local runs. Setting Err
// makes every Append fail, which is how an audit store outage is simulated.
type MemoryRepo struct {
	mu     sync.Mutex
	events []Event

	Err error
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

func (r *MemoryRepo) Append(ctx context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.events = append(r.events, e)
	return nil
}

// Events returns every event in append order.
func (r *MemoryRepo) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Find returns one account's events of the given type in append order. An
// empty type matches all of the account's events.
func (r *MemoryRepo) Find(accountID string, typ EventType) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.AccountID != accountID {
			continue
		}
		if typ != "" && e.Type != typ {
			continue
		}
		out = append(out, e)
	}
	return out
}
