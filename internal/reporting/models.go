package reporting

import (
	"time"

	"voiceline/internal/calls"

	"github.com/shopspring/decimal"
)

// Common filtering inputs.

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// CallsSummaryRequest requests aggregated call metrics.
// Account isolation: AccountID is required.
type CallsSummaryRequest struct {
	AccountID string          `json:"account_id"`
	Range     TimeRange       `json:"range"`
	Direction calls.Direction `json:"direction,omitempty"`
}

type CallsSummary struct {
	AccountID string          `json:"account_id"`
	Direction calls.Direction `json:"direction,omitempty"`

	TotalCalls      int `json:"total_calls"`
	CompletedCalls  int `json:"completed_calls"`
	FailedCalls     int `json:"failed_calls"`
	NoAnswerCalls   int `json:"no_answer_calls"`
	BusyCalls       int `json:"busy_calls"`
	InProgressCalls int `json:"in_progress_calls"`

	TotalDurationSeconds   int `json:"total_duration_seconds"`
	AverageDurationSeconds int `json:"average_duration_seconds"`

	RecordedCalls int `json:"recorded_calls"`
}

// StatusCount is one status bucket of an account's calls in a range.
type StatusCount struct {
	Status          calls.Status
	Calls           int
	DurationSeconds int
	Recorded        int
}

// SpendSummaryRequest requests aggregated settlement metrics.
// Spend is derived from immutable call settlements.
type SpendSummaryRequest struct {
	AccountID string    `json:"account_id"`
	Range     TimeRange `json:"range"`
}

type SpendSummary struct {
	AccountID string `json:"account_id"`

	SettledCalls    int             `json:"settled_calls"`
	BillableMinutes int             `json:"billable_minutes"`
	FreeMinutesUsed int             `json:"free_minutes_used"`
	ChargedMinutes  int             `json:"charged_minutes"`
	TotalCharge     decimal.Decimal `json:"total_charge"`
}
