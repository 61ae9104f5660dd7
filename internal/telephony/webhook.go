package telephony

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"voiceline/internal/calls"

	"github.com/shopspring/decimal"
)

// Webhook payloads arrive as form-encoded carrier callbacks. Each kind is
// parsed into its own strict type here; anything that does not fit is
// rejected with ErrMalformedWebhook instead of being defaulted.

var ErrMalformedWebhook = errors.New("telephony: malformed webhook")

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedWebhook, fmt.Sprintf(format, args...))
}

// CallEvent is the call-initiation webhook.
type CallEvent struct {
	CallID     string
	AccountSID string

	From   string
	To     string
	Called string
	Caller string

	// DirectionHint is the carrier's own label. It is not trusted for routing.
	DirectionHint string
}

func ParseCallEvent(v url.Values) (CallEvent, error) {
	ev := CallEvent{
		CallID:        strings.TrimSpace(v.Get("CallSid")),
		AccountSID:    strings.TrimSpace(v.Get("AccountSid")),
		From:          strings.TrimSpace(v.Get("From")),
		To:            strings.TrimSpace(v.Get("To")),
		Called:        strings.TrimSpace(v.Get("Called")),
		Caller:        strings.TrimSpace(v.Get("Caller")),
		DirectionHint: strings.TrimSpace(v.Get("Direction")),
	}
	if ev.CallID == "" {
		return CallEvent{}, malformed("call event missing CallSid")
	}
	if ev.From == "" && ev.Caller == "" {
		return CallEvent{}, malformed("call event %s missing From/Caller", ev.CallID)
	}
	if ev.To == "" && ev.Called == "" {
		return CallEvent{}, malformed("call event %s missing To/Called", ev.CallID)
	}
	return ev, nil
}

// StatusEvent is a call-progress callback for either the parent call or a
// dialed child leg. CallID is always the parent call id so both legs merge
// into the same ledger row.
type StatusEvent struct {
	CallID      string
	LegCallID   string
	RawStatus   string
	Status      calls.Status
	Duration    *int
	Price       *decimal.Decimal
	PriceUnit   string
	SequenceNum string
}

var carrierStatuses = map[string]calls.Status{
	"queued":      calls.StatusInitiated,
	"initiated":   calls.StatusInitiated,
	"ringing":     calls.StatusRinging,
	"in-progress": calls.StatusAnswered,
	"answered":    calls.StatusAnswered,
	"completed":   calls.StatusCompleted,
	"failed":      calls.StatusFailed,
	"busy":        calls.StatusBusy,
	"no-answer":   calls.StatusNoAnswer,
	"canceled":    calls.StatusNoAnswer,
}

// MapCallStatus translates a carrier status string into a ledger status.
func MapCallStatus(raw string) (calls.Status, bool) {
	s, ok := carrierStatuses[strings.ToLower(strings.TrimSpace(raw))]
	return s, ok
}

func ParseStatusEvent(v url.Values) (StatusEvent, error) {
	leg := strings.TrimSpace(v.Get("CallSid"))
	if leg == "" {
		return StatusEvent{}, malformed("status event missing CallSid")
	}
	ev := StatusEvent{
		CallID:      leg,
		LegCallID:   leg,
		PriceUnit:   v.Get("PriceUnit"),
		SequenceNum: v.Get("SequenceNumber"),
	}
	if parent := strings.TrimSpace(v.Get("ParentCallSid")); parent != "" {
		ev.CallID = parent
	}

	ev.RawStatus = firstNonEmpty(v.Get("CallStatus"), v.Get("DialCallStatus"))
	st, ok := MapCallStatus(ev.RawStatus)
	if !ok {
		return StatusEvent{}, malformed("status event %s has unknown status %q", leg, ev.RawStatus)
	}
	ev.Status = st

	if raw := firstNonEmpty(v.Get("CallDuration"), v.Get("DialCallDuration")); raw != "" {
		d, err := strconv.Atoi(raw)
		if err != nil || d < 0 {
			return StatusEvent{}, malformed("status event %s has bad duration %q", leg, raw)
		}
		ev.Duration = &d
	}
	if raw := strings.TrimSpace(v.Get("Price")); raw != "" {
		p, err := decimal.NewFromString(raw)
		if err != nil {
			return StatusEvent{}, malformed("status event %s has bad price %q", leg, raw)
		}
		ev.Price = &p
	}
	return ev, nil
}

// Update is the ledger merge for this callback.
func (e StatusEvent) Update() calls.Update {
	st := e.Status
	return calls.Update{
		CallID:          e.CallID,
		Status:          &st,
		DurationSeconds: e.Duration,
		Price:           e.Price,
	}
}

// RecordingEvent is the recording-ready callback.
type RecordingEvent struct {
	CallID          string
	RecordingID     string
	URL             string
	DurationSeconds int
	Channels        int
	Status          string
}

func ParseRecordingEvent(v url.Values) (RecordingEvent, error) {
	ev := RecordingEvent{
		CallID:      strings.TrimSpace(v.Get("CallSid")),
		RecordingID: strings.TrimSpace(v.Get("RecordingSid")),
		URL:         strings.TrimSpace(v.Get("RecordingUrl")),
		Status:      strings.TrimSpace(v.Get("RecordingStatus")),
	}
	if ev.CallID == "" || ev.RecordingID == "" {
		return RecordingEvent{}, malformed("recording event missing CallSid/RecordingSid")
	}
	if raw := v.Get("RecordingDuration"); raw != "" {
		d, err := strconv.Atoi(raw)
		if err != nil || d < 0 {
			return RecordingEvent{}, malformed("recording %s has bad duration %q", ev.RecordingID, raw)
		}
		ev.DurationSeconds = d
	}
	if raw := v.Get("RecordingChannels"); raw != "" {
		c, err := strconv.Atoi(raw)
		if err != nil || c < 1 {
			return RecordingEvent{}, malformed("recording %s has bad channel count %q", ev.RecordingID, raw)
		}
		ev.Channels = c
	}
	return ev, nil
}

func (e RecordingEvent) Update() calls.Update {
	return calls.Update{
		CallID: e.CallID,
		Recording: &calls.Recording{
			ID:              e.RecordingID,
			URL:             e.URL,
			DurationSeconds: e.DurationSeconds,
			Channels:        e.Channels,
			Status:          e.Status,
		},
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
