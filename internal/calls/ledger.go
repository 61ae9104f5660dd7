package calls

import (
	"context"
	"time"

	"voiceline/internal/apperr"
	"voiceline/pkg/logger"
)

// Repository is the persistence contract for ledger rows.
//
// Merge must be atomic per call id: insert when the id is new, otherwise
// apply only the fields present in the update. created reports which branch
// ran.
type Repository interface {
	Merge(ctx context.Context, u Update, now time.Time) (rec Record, created bool, err error)
	Get(ctx context.Context, callID string) (Record, error)
	List(ctx context.Context, accountID string, f Filter) ([]Record, error)
	Totals(ctx context.Context, accountID string) (Totals, error)
	DurationSince(ctx context.Context, accountID string, since time.Time) (int, error)
}

// Ledger is the single correlation point for every event about a call.
//
// Events arrive in any order and may be redelivered. The first event for a
// call id inserts the row, whatever kind it is, so a recording or status
// callback that outruns the initiating webhook is never dropped.
type Ledger struct {
	repo  Repository
	clock func() time.Time
}

func NewLedger(repo Repository) *Ledger {
	return &Ledger{repo: repo, clock: time.Now}
}

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// Upsert merges u into the row for u.CallID and returns the merged row.
func (l *Ledger) Upsert(ctx context.Context, u Update) (Record, error) {
	if u.CallID == "" {
		return Record{}, apperr.Invalid("call_id", "required")
	}
	if u.Status != nil && !u.Status.Valid() {
		return Record{}, apperr.Invalid("status", "unknown status "+string(*u.Status))
	}

	rec, created, err := l.repo.Merge(ctx, u, l.clock().UTC())
	if err != nil {
		return Record{}, err
	}
	if created && (u.Status == nil || *u.Status != StatusInitiated) {
		logger.From(ctx).Info("ledger row opened by non-initiating event",
			"call_id", u.CallID,
			"status", rec.Status,
			"has_recording", rec.Recording != nil,
		)
	}
	return rec, nil
}

func (l *Ledger) Get(ctx context.Context, callID string) (Record, error) {
	if callID == "" {
		return Record{}, apperr.Invalid("call_id", "required")
	}
	return l.repo.Get(ctx, callID)
}

// List returns an account's calls, newest first.
func (l *Ledger) List(ctx context.Context, accountID string, f Filter) ([]Record, error) {
	if accountID == "" {
		return nil, apperr.Invalid("account_id", "required")
	}
	if f.Limit <= 0 {
		f.Limit = defaultListLimit
	}
	if f.Limit > maxListLimit {
		f.Limit = maxListLimit
	}
	if !f.Since.IsZero() && !f.Until.IsZero() && f.Until.Before(f.Since) {
		return nil, apperr.Invalid("until", "must not be before since")
	}
	return l.repo.List(ctx, accountID, f)
}

func (l *Ledger) Totals(ctx context.Context, accountID string) (Totals, error) {
	if accountID == "" {
		return Totals{}, apperr.Invalid("account_id", "required")
	}
	return l.repo.Totals(ctx, accountID)
}

// RecordedDurationSince sums the duration of the account's calls created at
// or after since.
func (l *Ledger) RecordedDurationSince(ctx context.Context, accountID string, since time.Time) (int, error) {
	if accountID == "" {
		return 0, apperr.Invalid("account_id", "required")
	}
	return l.repo.DurationSince(ctx, accountID, since)
}
