package forwarding

import "time"

// Rule forwards calls arriving on a line to an external destination.
//
// Invariant: at most one rule per line in any status (unique index on
// line_id). Callers change a rule by updating it, never by creating another.
type Rule struct {
	ID        string `json:"id" db:"id"`
	AccountID string `json:"account_id" db:"account_id"`
	LineID    string `json:"line_id" db:"line_id"`

	Destination        string   `json:"destination" db:"destination"`
	Type               RuleType `json:"type" db:"type"`
	RingTimeoutSeconds int      `json:"ring_timeout_seconds" db:"ring_timeout_seconds"`
	Active             bool     `json:"active" db:"active"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// RuleType is stored and returned, but every type currently forwards the
// same way as RuleTypeAlways. Busy/no-answer/unavailable detection is not
// implemented.
type RuleType string

const (
	RuleTypeAlways      RuleType = "always"
	RuleTypeBusy        RuleType = "busy"
	RuleTypeNoAnswer    RuleType = "no_answer"
	RuleTypeUnavailable RuleType = "unavailable"
)

func (t RuleType) Valid() bool {
	switch t {
	case RuleTypeAlways, RuleTypeBusy, RuleTypeNoAnswer, RuleTypeUnavailable:
		return true
	default:
		return false
	}
}

const (
	DefaultRingTimeoutSeconds = 20
	MinRingTimeoutSeconds     = 5
	MaxRingTimeoutSeconds     = 60
)

type CreateInput struct {
	LineID             string   `json:"line_id"`
	Destination        string   `json:"destination"`
	Type               RuleType `json:"type"`
	RingTimeoutSeconds int      `json:"ring_timeout_seconds"`
	Active             *bool    `json:"active"`
}

// Patch holds optional changes; nil fields are left as they are.
type Patch struct {
	Destination        *string   `json:"destination"`
	Type               *RuleType `json:"type"`
	RingTimeoutSeconds *int      `json:"ring_timeout_seconds"`
	Active             *bool     `json:"active"`
}
