package billing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"voiceline/internal/apperr"
	"voiceline/internal/calls"
	"voiceline/internal/pricing"

	"github.com/shopspring/decimal"
)

func testPlan() pricing.Plan {
	return pricing.Plan{
		FreeMinutesPerMonth: 100,
		PerMinuteRate:       decimal.RequireFromString("0.02"),
		MinimumBalance:      decimal.RequireFromString("0.10"),
		LineMonthlyCost:     decimal.RequireFromString("2.00"),
	}
}

type fixture struct {
	meter  *Meter
	store  *MemoryStore
	ledger *calls.Ledger
	now    time.Time
}

func newFixture(t *testing.T, a Account) *fixture {
	t.Helper()
	ledger := calls.NewLedger(calls.NewMemoryRepo())
	store := NewMemoryStore(a)
	f := &fixture{store: store, ledger: ledger, now: time.Date(2026, 4, 15, 10, 0, 0, 0, time.UTC)}
	f.meter = NewMeter(store, testPlan(), ledger, ledger)
	f.meter.clock = func() time.Time { return f.now }
	return f
}

func (f *fixture) call(t *testing.T, callID, accountID string) {
	t.Helper()
	_, err := f.ledger.Upsert(context.Background(), calls.Update{
		CallID:    callID,
		AccountID: calls.Ptr(accountID),
		Status:    calls.Ptr(calls.StatusInitiated),
	})
	if err != nil {
		t.Fatalf("ledger upsert: %v", err)
	}
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestSettle_RedeliveredTerminalChargesOnce(t *testing.T) {
	f := newFixture(t, Account{ID: "acct", Balance: dec("5.00"), FreeMinutesLastReset: time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)})
	f.call(t, "CA1", "acct")
	ctx := context.Background()

	var wg sync.WaitGroup
	appliedCount := 0
	var mu sync.Mutex
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, applied, err := f.meter.Settle(ctx, "CA1", calls.StatusCompleted, 150)
			if err != nil {
				t.Errorf("settle: %v", err)
				return
			}
			if applied {
				mu.Lock()
				appliedCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if appliedCount != 1 {
		t.Fatalf("expected exactly one applied settlement, got %d", appliedCount)
	}
	a, _ := f.store.GetAccount(ctx, "acct")
	if !a.Balance.Equal(dec("4.94")) {
		t.Fatalf("expected 3 minutes charged once (4.94), got %s", a.Balance)
	}
	if len(f.store.Settlements()) != 1 {
		t.Fatalf("expected one settlement row")
	}
}

func TestSettle_ConcurrentCallsForOneAccountAllCount(t *testing.T) {
	f := newFixture(t, Account{ID: "acct", Balance: dec("5.00"), FreeMinutesRemaining: 20, FreeMinutesLastReset: time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)})
	ctx := context.Background()
	const n = 10
	for i := 0; i < n; i++ {
		f.call(t, fmt.Sprintf("CA%d", i), "acct")
	}

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if _, applied, err := f.meter.Settle(ctx, id, calls.StatusCompleted, 150); err != nil || !applied {
				t.Errorf("settle %s: applied=%v err=%v", id, applied, err)
			}
		}(fmt.Sprintf("CA%d", i))
	}
	wg.Wait()

	// 10 calls of 3 minutes: 20 free, 10 charged at 0.02.
	a, _ := f.store.GetAccount(ctx, "acct")
	if a.FreeMinutesRemaining != 0 || !a.Balance.Equal(dec("4.80")) {
		t.Fatalf("expected 0 free minutes and 4.80 balance, got %d and %s", a.FreeMinutesRemaining, a.Balance)
	}
	free, charged := 0, 0
	for _, st := range f.store.Settlements() {
		free += st.FreeMinutesUsed
		charged += st.ChargedMinutes
	}
	if len(f.store.Settlements()) != n || free != 20 || charged != 10 {
		t.Fatalf("expected %d settlements splitting 20 free / 10 charged, got %d, %d / %d", n, len(f.store.Settlements()), free, charged)
	}
}

func TestSettle_ConsumesFreeMinutesFirst(t *testing.T) {
	f := newFixture(t, Account{ID: "acct", Balance: dec("1.00"), FreeMinutesRemaining: 2, FreeMinutesLastReset: time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)})
	f.call(t, "CA1", "acct")

	st, applied, err := f.meter.Settle(context.Background(), "CA1", calls.StatusCompleted, 241)
	if err != nil || !applied {
		t.Fatalf("settle: applied=%v err=%v", applied, err)
	}
	if st.BillableMinutes != 5 || st.FreeMinutesUsed != 2 || st.ChargedMinutes != 3 || !st.Charge.Equal(dec("0.06")) {
		t.Fatalf("unexpected settlement %+v", st)
	}
	a, _ := f.store.GetAccount(context.Background(), "acct")
	if a.FreeMinutesRemaining != 0 || !a.Balance.Equal(dec("0.94")) {
		t.Fatalf("unexpected account %+v", a)
	}
}

func TestSettle_MayOverdraft(t *testing.T) {
	f := newFixture(t, Account{ID: "acct", Balance: dec("0.01"), FreeMinutesLastReset: time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)})
	f.call(t, "CA1", "acct")
	if _, _, err := f.meter.Settle(context.Background(), "CA1", calls.StatusCompleted, 120); err != nil {
		t.Fatalf("settle: %v", err)
	}
	a, _ := f.store.GetAccount(context.Background(), "acct")
	if !a.Balance.Equal(dec("-0.03")) {
		t.Fatalf("expected post-hoc overdraft, got %s", a.Balance)
	}
}

func TestSettle_UnknownAccountIsNotSettleable(t *testing.T) {
	f := newFixture(t, Account{ID: "acct"})
	ctx := context.Background()
	if _, _, err := f.meter.Settle(ctx, "CAmissing", calls.StatusCompleted, 10); !errors.Is(err, ErrNotSettleable) {
		t.Fatalf("expected ErrNotSettleable, got %v", err)
	}
	_, _ = f.ledger.Upsert(ctx, calls.Update{CallID: "CAearly", Status: calls.Ptr(calls.StatusCompleted)})
	if _, _, err := f.meter.Settle(ctx, "CAearly", calls.StatusCompleted, 10); !errors.Is(err, ErrNotSettleable) {
		t.Fatalf("expected ErrNotSettleable for row without account, got %v", err)
	}
	if _, _, err := f.meter.Settle(ctx, "CAearly", calls.StatusRinging, 10); !errors.Is(err, ErrNotTerminal) {
		t.Fatalf("expected ErrNotTerminal, got %v", err)
	}
}

func TestAssertFundable_DeniesWithoutFreeMinutesOrBalance(t *testing.T) {
	f := newFixture(t, Account{ID: "acct", Balance: dec("0.05"), FreeMinutesRemaining: 0, FreeMinutesLastReset: time.Date(2026, 4, 2, 0, 0, 0, 0, time.UTC)})
	err := f.meter.AssertFundable(context.Background(), "acct")
	if !errors.Is(err, apperr.ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}

	f.store.accounts["acct"] = Account{ID: "acct", Balance: dec("0.10"), FreeMinutesLastReset: f.now}
	if err := f.meter.AssertFundable(context.Background(), "acct"); err != nil {
		t.Fatalf("balance at minimum should pass, got %v", err)
	}

	f.store.accounts["acct"] = Account{ID: "acct", Balance: dec("-3"), FreeMinutesRemaining: 1, FreeMinutesLastReset: f.now}
	if err := f.meter.AssertFundable(context.Background(), "acct"); err != nil {
		t.Fatalf("free minutes allow unconditionally, got %v", err)
	}
}

func TestEnsureMonthlyReset_OncePerMonth(t *testing.T) {
	f := newFixture(t, Account{ID: "acct", FreeMinutesRemaining: 3, FreeMinutesLastReset: time.Date(2026, 3, 20, 0, 0, 0, 0, time.UTC)})
	ctx := context.Background()

	fired := 0
	for i := 0; i < 10; i++ {
		ok, err := f.meter.EnsureMonthlyReset(ctx, "acct")
		if err != nil {
			t.Fatalf("reset: %v", err)
		}
		if ok {
			fired++
		}
	}
	if fired != 1 {
		t.Fatalf("expected one reset, got %d", fired)
	}
	a, _ := f.store.GetAccount(ctx, "acct")
	if a.FreeMinutesRemaining != 100 {
		t.Fatalf("expected allotment, got %d", a.FreeMinutesRemaining)
	}

	// Consume some, then re-check within the month: no top-up.
	f.store.accounts["acct"] = Account{ID: "acct", FreeMinutesRemaining: 40, FreeMinutesLastReset: a.FreeMinutesLastReset}
	if ok, _ := f.meter.EnsureMonthlyReset(ctx, "acct"); ok {
		t.Fatalf("reset must not fire twice in one month")
	}

	f.now = time.Date(2026, 5, 1, 0, 0, 1, 0, time.UTC)
	if ok, _ := f.meter.EnsureMonthlyReset(ctx, "acct"); !ok {
		t.Fatalf("expected reset on month transition")
	}
}

func TestPurchaseLine_FirstFreeThenCharged(t *testing.T) {
	f := newFixture(t, Account{ID: "acct", Balance: dec("3.00")})
	ctx := context.Background()

	p, err := f.meter.PurchaseLine(ctx, "acct", dec("2.00"))
	if err != nil || !p.Free {
		t.Fatalf("expected free first line, got %+v (%v)", p, err)
	}
	p, err = f.meter.PurchaseLine(ctx, "acct", dec("2.00"))
	if err != nil || p.Free || !p.Charge.Equal(dec("2.00")) {
		t.Fatalf("expected charged second line, got %+v (%v)", p, err)
	}
	if _, err := f.meter.PurchaseLine(ctx, "acct", dec("2.00")); !errors.Is(err, apperr.ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds on third line, got %v", err)
	}

	if err := f.meter.RefundLinePurchase(ctx, p); err != nil {
		t.Fatalf("refund: %v", err)
	}
	a, _ := f.store.GetAccount(ctx, "acct")
	if !a.Balance.Equal(dec("3.00")) || !a.HasClaimedFreeLine {
		t.Fatalf("unexpected account after refund %+v", a)
	}
}

func TestTimeRemaining_BalanceProjection(t *testing.T) {
	f := newFixture(t, Account{ID: "acct", Balance: dec("0.50"), FreeMinutesRemaining: 0, FreeMinutesLastReset: time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)})
	p, err := f.meter.TimeRemaining(context.Background(), "acct")
	if err != nil {
		t.Fatalf("time remaining: %v", err)
	}
	if p.Source != ProjectionSourceBalance || p.MinutesAvailable != 25 || p.SecondsAvailable != 1500 {
		t.Fatalf("expected 25 minutes from balance, got %+v", p)
	}
}

func TestTimeRemaining_FreeSecondsCappedByLedgerUsage(t *testing.T) {
	f := newFixture(t, Account{ID: "acct", Balance: dec("10"), FreeMinutesRemaining: 100, FreeMinutesLastReset: time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)})
	ctx := context.Background()
	_, _ = f.ledger.Upsert(ctx, calls.Update{CallID: "CA1", AccountID: calls.Ptr("acct"), DurationSeconds: calls.Ptr(600)})

	p, err := f.meter.TimeRemaining(ctx, "acct")
	if err != nil {
		t.Fatalf("time remaining: %v", err)
	}
	if p.Source != ProjectionSourceFree || p.SecondsAvailable != 100*60-600 {
		t.Fatalf("unexpected projection %+v", p)
	}
}
