package pricing

import (
	"errors"

	"github.com/shopspring/decimal"
)

// Plan is the usage tariff applied to every account.
//
// Contract:
// - Pure calculation; no persistence and no provider calls.
// - Money is decimal, never float.
// - Usage is billed per started minute.
type Plan struct {
	FreeMinutesPerMonth int
	PerMinuteRate       decimal.Decimal
	MinimumBalance      decimal.Decimal
	LineMonthlyCost     decimal.Decimal
}

var ErrInvalidPlan = errors.New("pricing: invalid plan")

func (p Plan) Validate() error {
	if p.FreeMinutesPerMonth < 0 {
		return ErrInvalidPlan
	}
	if !p.PerMinuteRate.IsPositive() {
		return ErrInvalidPlan
	}
	if p.MinimumBalance.IsNegative() || p.LineMonthlyCost.IsNegative() {
		return ErrInvalidPlan
	}
	return nil
}

// Usage is the split of one call's billable minutes between the free
// allowance and the balance.
type Usage struct {
	BillableMinutes int
	FreeMinutesUsed int
	ChargedMinutes  int
	Charge          decimal.Decimal
}

// BillableMinutes rounds a call duration up to whole started minutes.
func BillableMinutes(durationSeconds int) int {
	if durationSeconds <= 0 {
		return 0
	}
	m := durationSeconds / 60
	if durationSeconds%60 != 0 {
		m++
	}
	return m
}

// Split consumes free minutes first; the remainder is charged at the
// per-minute rate. freeRemaining below zero is treated as zero.
func (p Plan) Split(durationSeconds, freeRemaining int) Usage {
	u := Usage{BillableMinutes: BillableMinutes(durationSeconds)}
	if freeRemaining < 0 {
		freeRemaining = 0
	}
	u.FreeMinutesUsed = min(u.BillableMinutes, freeRemaining)
	u.ChargedMinutes = u.BillableMinutes - u.FreeMinutesUsed
	u.Charge = p.PerMinuteRate.Mul(decimal.NewFromInt(int64(u.ChargedMinutes)))
	return u
}

// AffordableSeconds is floor(balance / per-second rate). Non-positive
// balances afford nothing.
func (p Plan) AffordableSeconds(balance decimal.Decimal) int {
	if !balance.IsPositive() || !p.PerMinuteRate.IsPositive() {
		return 0
	}
	return int(balance.Mul(decimal.NewFromInt(60)).Div(p.PerMinuteRate).Floor().IntPart())
}
