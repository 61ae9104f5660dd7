package billing

import (
	"time"

	"voiceline/internal/calls"

	"github.com/shopspring/decimal"
)

// Account is the funding state of one account. The account record itself is
// owned elsewhere; this package reads and writes only these fields.
//
// Money invariants:
// - Balance and free minutes change only through Store's conditional updates.
// - Gating never drives the balance negative; settlement may overdraft.
// - FreeMinutesRemaining never goes below zero.
type Account struct {
	ID                   string          `json:"id" db:"id"`
	Balance              decimal.Decimal `json:"balance" db:"balance"`
	FreeMinutesRemaining int             `json:"free_minutes_remaining" db:"free_minutes_remaining"`
	FreeMinutesLastReset time.Time       `json:"free_minutes_last_reset" db:"free_minutes_last_reset"`
	HasClaimedFreeLine   bool            `json:"has_claimed_free_line" db:"has_claimed_free_line"`
	UpdatedAt            time.Time       `json:"updated_at" db:"updated_at"`
}

// Settlement is the immutable usage charge for one call id. At most one
// exists per call id; its presence is what makes settlement idempotent.
type Settlement struct {
	ID        string       `json:"id" db:"id"`
	CallID    string       `json:"call_id" db:"call_id"`
	AccountID string       `json:"account_id" db:"account_id"`
	Status    calls.Status `json:"status" db:"status"`

	DurationSeconds int `json:"duration_seconds" db:"duration_seconds"`
	BillableMinutes int `json:"billable_minutes" db:"billable_minutes"`
	FreeMinutesUsed int `json:"free_minutes_used" db:"free_minutes_used"`
	ChargedMinutes  int `json:"charged_minutes" db:"charged_minutes"`

	Charge decimal.Decimal `json:"charge" db:"charge"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// LinePurchase is the outcome of the line-purchase gate.
type LinePurchase struct {
	AccountID string          `json:"account_id"`
	Free      bool            `json:"free"`
	Charge    decimal.Decimal `json:"charge"`
}

// Projection is the non-authoritative time-remaining estimate.
type Projection struct {
	AccountID            string          `json:"account_id"`
	Source               string          `json:"source"`
	SecondsAvailable     int             `json:"seconds_available"`
	MinutesAvailable     int             `json:"minutes_available"`
	FreeSecondsRemaining int             `json:"free_seconds_remaining"`
	Balance              decimal.Decimal `json:"balance"`
}

const (
	ProjectionSourceFree    = "free_minutes"
	ProjectionSourceBalance = "balance"
)
