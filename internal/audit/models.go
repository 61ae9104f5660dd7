package audit

import "time"

// Event is an immutable, append-only audit log record.
//
// Invariants:
// - Events are never updated or deleted.
// - account_id is required for tenancy isolation.
// - actor and ip capture are best-effort; audit failures never block a call
//   or a management change.
type Event struct {
	ID        string    `json:"id" db:"id"`
	AccountID string    `json:"account_id" db:"account_id"`
	Type      EventType `json:"type" db:"type"`

	// ActorUserID is empty for carrier-driven events such as call_denied.
	ActorUserID string `json:"actor_user_id,omitempty" db:"actor_user_id"`
	ActorRole   string `json:"actor_role,omitempty" db:"actor_role"`
	IPAddress   string `json:"ip_address,omitempty" db:"ip_address"`

	LineID string `json:"line_id,omitempty" db:"line_id"`
	CallID string `json:"call_id,omitempty" db:"call_id"`

	Message string `json:"message,omitempty" db:"message"`

	// Metadata is optional JSON.
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventTypeLineAcquired      EventType = "line_acquired"
	EventTypeLineReleased      EventType = "line_released"
	EventTypeForwardingChanged EventType = "forwarding_changed"
	EventTypeWhisperChanged    EventType = "whisper_changed"
	EventTypeCallDenied        EventType = "call_denied"
)
