package billing

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Store persists account funding state.
//
// Every mutating method is a single atomic conditional update; none of them
// read a value into Go and write it back.
type Store interface {
	GetAccount(ctx context.Context, accountID string) (Account, error)

	// ResetFreeMinutes sets free minutes to allotment and stamps now, but only
	// when the last reset is before monthStart. It reports whether it fired.
	ResetFreeMinutes(ctx context.Context, accountID string, allotment int, monthStart, now time.Time) (bool, error)

	// ClaimFreeLine flips has_claimed_free_line and reports whether this call
	// was the one that flipped it.
	ClaimFreeLine(ctx context.Context, accountID string, now time.Time) (bool, error)
	UnclaimFreeLine(ctx context.Context, accountID string, now time.Time) error

	// DebitIfCovered subtracts amount only when balance >= required.
	DebitIfCovered(ctx context.Context, accountID string, amount, required decimal.Decimal, now time.Time) (bool, error)
	Credit(ctx context.Context, accountID string, amount decimal.Decimal, now time.Time) error

	// ApplySettlement records s (keyed by call id) and, only if it was new,
	// consumes free minutes then charges the remainder at rate. The returned
	// settlement carries the split actually applied; applied=false returns
	// the settlement recorded earlier.
	ApplySettlement(ctx context.Context, s Settlement, rate decimal.Decimal, now time.Time) (out Settlement, applied bool, err error)
}
