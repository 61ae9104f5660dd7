package routing

import (
	"voiceline/internal/calls"
	"voiceline/internal/telephony"
)

// Decision is the outcome of routing one call-initiation webhook.
//
// Instruction is always renderable; the remaining fields exist for logs and
// tests and never reach the carrier.
type Decision struct {
	AccountID string          `json:"account_id,omitempty"`
	LineID    string          `json:"line_id,omitempty"`
	Direction calls.Direction `json:"direction,omitempty"`

	Instruction telephony.CallInstruction `json:"instruction"`

	// Reason is optional and intended for internal logs.
	Reason string `json:"reason,omitempty"`
}

// Route reasons.
const (
	ReasonConnected         = "connected"
	ReasonBridged           = "bridged"
	ReasonInsufficientFunds = "insufficient_funds"
	ReasonNoRule            = "no_forwarding_rule"
	ReasonUnknownNumber     = "unknown_number"
	ReasonInternalError     = "internal_error"
)

// DenyInsufficientFunds is spoken before hanging up on an unfunded outbound call.
const DenyInsufficientFunds = "You do not have enough free minutes or balance to place this call. Please add funds and try again. Goodbye."

func apology() Decision {
	return Decision{
		Instruction: telephony.CallInstruction{Action: telephony.ActionApology},
		Reason:      ReasonInternalError,
	}
}
