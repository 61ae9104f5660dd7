package pricing

import (
	"testing"

	"github.com/shopspring/decimal"
)

func testPlan() Plan {
	return Plan{
		FreeMinutesPerMonth: 100,
		PerMinuteRate:       decimal.RequireFromString("0.02"),
		MinimumBalance:      decimal.RequireFromString("0.10"),
		LineMonthlyCost:     decimal.RequireFromString("2.00"),
	}
}

func TestBillableMinutes(t *testing.T) {
	cases := map[int]int{0: 0, -5: 0, 1: 1, 60: 1, 61: 2, 3600: 60}
	for in, want := range cases {
		if got := BillableMinutes(in); got != want {
			t.Fatalf("BillableMinutes(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestSplit_FreeMinutesFirst(t *testing.T) {
	p := testPlan()

	u := p.Split(125, 10)
	if u.BillableMinutes != 3 || u.FreeMinutesUsed != 3 || u.ChargedMinutes != 0 || !u.Charge.IsZero() {
		t.Fatalf("unexpected usage %+v", u)
	}

	u = p.Split(300, 2)
	if u.FreeMinutesUsed != 2 || u.ChargedMinutes != 3 || !u.Charge.Equal(decimal.RequireFromString("0.06")) {
		t.Fatalf("unexpected usage %+v", u)
	}

	u = p.Split(60, -4)
	if u.FreeMinutesUsed != 0 || u.ChargedMinutes != 1 {
		t.Fatalf("negative free remaining must floor at zero: %+v", u)
	}
}

func TestAffordableSeconds(t *testing.T) {
	p := testPlan()
	if got := p.AffordableSeconds(decimal.RequireFromString("0.50")); got != 1500 {
		t.Fatalf("expected 1500s (25 min), got %d", got)
	}
	if got := p.AffordableSeconds(decimal.RequireFromString("0.011")); got != 33 {
		t.Fatalf("expected floor to 33s, got %d", got)
	}
	if got := p.AffordableSeconds(decimal.RequireFromString("-1")); got != 0 {
		t.Fatalf("expected 0 for overdraft, got %d", got)
	}
}

func TestPlanValidate(t *testing.T) {
	p := testPlan()
	if err := p.Validate(); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	p.PerMinuteRate = decimal.Zero
	if err := p.Validate(); err == nil {
		t.Fatalf("expected invalid plan")
	}
}
