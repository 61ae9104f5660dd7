package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"voiceline/internal/apperr"
	"voiceline/internal/calls"
	"voiceline/internal/pricing"
	"voiceline/pkg/logger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CallLookup resolves the ledger row a terminal status belongs to.
type CallLookup interface {
	Get(ctx context.Context, callID string) (calls.Record, error)
}

// UsageSource reports how many call seconds an account has logged since a
// point in time.
type UsageSource interface {
	RecordedDurationSince(ctx context.Context, accountID string, since time.Time) (int, error)
}

var (
	// ErrNotSettleable means the ledger row does not yet name an account.
	// The initiating event will carry it and trigger settlement again.
	ErrNotSettleable = errors.New("billing: call not settleable yet")
	ErrNotTerminal   = errors.New("billing: status is not terminal")
)

// Meter enforces funding policy and settles usage.
//
// It is the only writer of balance and free-minute counters.
type Meter struct {
	store Store
	plan  pricing.Plan
	calls CallLookup
	usage UsageSource
	clock func() time.Time
}

func NewMeter(store Store, plan pricing.Plan, callLookup CallLookup, usage UsageSource) *Meter {
	return &Meter{store: store, plan: plan, calls: callLookup, usage: usage, clock: time.Now}
}

func (m *Meter) Plan() pricing.Plan { return m.plan }

func monthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// EnsureMonthlyReset refills free minutes once per calendar month (UTC).
func (m *Meter) EnsureMonthlyReset(ctx context.Context, accountID string) (bool, error) {
	if accountID == "" {
		return false, apperr.Invalid("account_id", "required")
	}
	now := m.clock().UTC()
	fired, err := m.store.ResetFreeMinutes(ctx, accountID, m.plan.FreeMinutesPerMonth, monthStart(now), now)
	if err != nil {
		return false, err
	}
	if fired {
		logger.From(ctx).Info("free minutes reset", "account_id", accountID, "allotment", m.plan.FreeMinutesPerMonth)
	}
	return fired, nil
}

// AssertFundable is the pre-call gate. Free minutes allow the call
// unconditionally; otherwise the balance must meet the plan minimum.
func (m *Meter) AssertFundable(ctx context.Context, accountID string) error {
	if _, err := m.EnsureMonthlyReset(ctx, accountID); err != nil {
		return err
	}
	a, err := m.store.GetAccount(ctx, accountID)
	if err != nil {
		return err
	}
	if a.FreeMinutesRemaining > 0 {
		return nil
	}
	if a.Balance.LessThan(m.plan.MinimumBalance) {
		return fmt.Errorf("%w: balance %s below minimum %s", apperr.ErrInsufficientFunds,
			a.Balance.StringFixed(2), m.plan.MinimumBalance.StringFixed(2))
	}
	return nil
}

// PurchaseLine applies the line-purchase gate. The first line is free, once
// per account; later lines need the minimum balance and debit the first
// month of monthlyCost.
func (m *Meter) PurchaseLine(ctx context.Context, accountID string, monthlyCost decimal.Decimal) (LinePurchase, error) {
	if accountID == "" {
		return LinePurchase{}, apperr.Invalid("account_id", "required")
	}
	if monthlyCost.IsNegative() {
		return LinePurchase{}, apperr.Invalid("monthly_cost", "must not be negative")
	}
	now := m.clock().UTC()

	claimed, err := m.store.ClaimFreeLine(ctx, accountID, now)
	if err != nil {
		return LinePurchase{}, err
	}
	if claimed {
		return LinePurchase{AccountID: accountID, Free: true, Charge: decimal.Zero}, nil
	}

	required := decimal.Max(monthlyCost, m.plan.MinimumBalance)
	ok, err := m.store.DebitIfCovered(ctx, accountID, monthlyCost, required, now)
	if err != nil {
		return LinePurchase{}, err
	}
	if !ok {
		return LinePurchase{}, fmt.Errorf("%w: line costs %s", apperr.ErrInsufficientFunds, monthlyCost.StringFixed(2))
	}
	return LinePurchase{AccountID: accountID, Charge: monthlyCost}, nil
}

// RefundLinePurchase compensates a purchase whose carrier provisioning failed.
func (m *Meter) RefundLinePurchase(ctx context.Context, p LinePurchase) error {
	now := m.clock().UTC()
	if p.Free {
		return m.store.UnclaimFreeLine(ctx, p.AccountID, now)
	}
	if !p.Charge.IsPositive() {
		return nil
	}
	return m.store.Credit(ctx, p.AccountID, p.Charge, now)
}

// Settle charges a finished call exactly once. applied=false means the call
// id was settled before and nothing changed.
func (m *Meter) Settle(ctx context.Context, callID string, status calls.Status, durationSeconds int) (Settlement, bool, error) {
	if callID == "" {
		return Settlement{}, false, apperr.Invalid("call_id", "required")
	}
	if !status.IsTerminal() {
		return Settlement{}, false, ErrNotTerminal
	}
	if durationSeconds < 0 {
		durationSeconds = 0
	}

	rec, err := m.calls.Get(ctx, callID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return Settlement{}, false, ErrNotSettleable
		}
		return Settlement{}, false, err
	}
	if rec.AccountID == "" {
		return Settlement{}, false, ErrNotSettleable
	}

	if _, err := m.EnsureMonthlyReset(ctx, rec.AccountID); err != nil {
		return Settlement{}, false, err
	}

	in := Settlement{
		ID:              uuid.NewString(),
		CallID:          callID,
		AccountID:       rec.AccountID,
		Status:          status,
		DurationSeconds: durationSeconds,
		BillableMinutes: pricing.BillableMinutes(durationSeconds),
	}
	out, applied, err := m.store.ApplySettlement(ctx, in, m.plan.PerMinuteRate, m.clock().UTC())
	if err != nil {
		return Settlement{}, false, err
	}

	l := logger.From(ctx)
	if applied {
		l.Info("call settled",
			"call_id", callID,
			"account_id", rec.AccountID,
			"billable_minutes", out.BillableMinutes,
			"free_minutes_used", out.FreeMinutesUsed,
			"charge", out.Charge.String(),
		)
	} else {
		l.Debug("settlement already applied", "call_id", callID)
	}
	return out, applied, nil
}

// TimeRemaining is a read-only projection for display. It never gates.
//
// Free seconds are the smaller of the stored counter and the allotment minus
// ledger usage since the last reset. When none remain, the balance is
// converted at the per-second rate.
func (m *Meter) TimeRemaining(ctx context.Context, accountID string) (Projection, error) {
	if accountID == "" {
		return Projection{}, apperr.Invalid("account_id", "required")
	}
	a, err := m.store.GetAccount(ctx, accountID)
	if err != nil {
		return Projection{}, err
	}

	now := m.clock().UTC()
	free := a.FreeMinutesRemaining
	since := a.FreeMinutesLastReset
	if a.FreeMinutesLastReset.Before(monthStart(now)) {
		// A reset is due; report what the gate would grant.
		free = m.plan.FreeMinutesPerMonth
		since = monthStart(now)
	}
	freeSeconds := max(free, 0) * 60
	if m.usage != nil && freeSeconds > 0 {
		used, err := m.usage.RecordedDurationSince(ctx, accountID, since)
		if err != nil {
			return Projection{}, err
		}
		freeSeconds = min(freeSeconds, max(m.plan.FreeMinutesPerMonth*60-used, 0))
	}

	p := Projection{AccountID: accountID, FreeSecondsRemaining: freeSeconds, Balance: a.Balance}
	if freeSeconds > 0 {
		p.Source = ProjectionSourceFree
		p.SecondsAvailable = freeSeconds
	} else {
		p.Source = ProjectionSourceBalance
		p.SecondsAvailable = m.plan.AffordableSeconds(a.Balance)
	}
	p.MinutesAvailable = p.SecondsAvailable / 60
	return p, nil
}
