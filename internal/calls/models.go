package calls

import (
	"time"

	"github.com/shopspring/decimal"
)

// Record is the ledger row for one carrier call id.
//
// Invariant: exactly one row per CallID. Fields are only ever added or
// overwritten by an event that supplies them; an event that does not mention
// a field never clears it.
type Record struct {
	CallID    string `json:"call_id" db:"call_id"`
	AccountID string `json:"account_id,omitempty" db:"account_id"`
	LineID    string `json:"line_id,omitempty" db:"line_id"`

	From      string    `json:"from,omitempty" db:"from_number"`
	To        string    `json:"to,omitempty" db:"to_number"`
	Direction Direction `json:"direction,omitempty" db:"direction"`
	Status    Status    `json:"status,omitempty" db:"status"`

	DurationSeconds int              `json:"duration_seconds" db:"duration_seconds"`
	Price           *decimal.Decimal `json:"price,omitempty" db:"price"`

	// Recording is nil until a recording-ready event has been merged.
	Recording *Recording `json:"recording,omitempty"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type Recording struct {
	ID              string `json:"id" db:"recording_id"`
	URL             string `json:"url,omitempty" db:"recording_url"`
	DurationSeconds int    `json:"duration_seconds" db:"recording_duration_seconds"`
	Channels        int    `json:"channels,omitempty" db:"recording_channels"`
	Status          string `json:"status,omitempty" db:"recording_status"`
}

// mergeInto overlays the non-empty fields of p onto cur. A recording
// without an id is not surfaced until one arrives.
func (p Recording) mergeInto(cur *Recording) *Recording {
	var out Recording
	if cur != nil {
		out = *cur
	}
	if p.ID != "" {
		out.ID = p.ID
	}
	if p.URL != "" {
		out.URL = p.URL
	}
	if p.DurationSeconds > 0 {
		out.DurationSeconds = p.DurationSeconds
	}
	if p.Channels > 0 {
		out.Channels = p.Channels
	}
	if p.Status != "" {
		out.Status = p.Status
	}
	if out.ID == "" {
		return nil
	}
	return &out
}

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

type Status string

const (
	StatusInitiated Status = "initiated"
	StatusRinging   Status = "ringing"
	StatusAnswered  Status = "answered"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusBusy      Status = "busy"
	StatusNoAnswer  Status = "no_answer"
)

// IsTerminal reports whether no further status transitions are expected.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusBusy, StatusNoAnswer:
		return true
	default:
		return false
	}
}

func (s Status) Valid() bool {
	return s.Rank() >= 0
}

// terminalRank is shared by every terminal status. The first terminal status
// merged for a call is final.
const terminalRank = 3

// Rank orders statuses so an out-of-order event cannot move a call backwards.
// Unknown statuses rank -1.
func (s Status) Rank() int {
	switch s {
	case StatusInitiated:
		return 0
	case StatusRinging:
		return 1
	case StatusAnswered:
		return 2
	case StatusCompleted, StatusFailed, StatusBusy, StatusNoAnswer:
		return terminalRank
	default:
		return -1
	}
}

// Update is a partial event for one call id. Nil fields are "not mentioned".
type Update struct {
	CallID string

	AccountID *string
	LineID    *string
	From      *string
	To        *string
	Direction *Direction
	Status    *Status

	DurationSeconds *int
	Price           *decimal.Decimal

	Recording *Recording
}

// Apply merges u into r and returns the result. r may be the zero Record
// when the call id has not been seen yet.
func (u Update) Apply(r Record, now time.Time) Record {
	if r.CallID == "" {
		r.CallID = u.CallID
		r.CreatedAt = now
	}
	if u.AccountID != nil && *u.AccountID != "" {
		r.AccountID = *u.AccountID
	}
	if u.LineID != nil && *u.LineID != "" {
		r.LineID = *u.LineID
	}
	if u.From != nil && *u.From != "" {
		r.From = *u.From
	}
	if u.To != nil && *u.To != "" {
		r.To = *u.To
	}
	if u.Direction != nil && *u.Direction != "" {
		r.Direction = *u.Direction
	}
	if u.Status != nil && u.Status.Valid() {
		if r.Status == "" || (!r.Status.IsTerminal() && u.Status.Rank() >= r.Status.Rank()) {
			r.Status = *u.Status
		}
	}
	if u.DurationSeconds != nil {
		r.DurationSeconds = *u.DurationSeconds
	}
	if u.Price != nil {
		p := *u.Price
		r.Price = &p
	}
	if u.Recording != nil {
		r.Recording = u.Recording.mergeInto(r.Recording)
	}
	r.UpdatedAt = now
	return r
}

// Filter narrows ledger listings for one account.
type Filter struct {
	Since        time.Time
	Until        time.Time
	RecordedOnly bool
	Limit        int
}

// Totals aggregates an account's ledger.
type Totals struct {
	Calls           int `json:"total_calls"`
	DurationSeconds int `json:"total_duration_seconds"`
}

// Ptr is a convenience for building Updates.
func Ptr[T any](v T) *T { return &v }
