package audit

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"voiceline/internal/auth"
	"voiceline/pkg/logger"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
// It is append-only; there are no Update/Delete methods.
type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Service logs internal audit information.
//
// Audit is internal-only and best-effort: the Log* helpers never return an
// error to the caller, they log it.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.AccountID == "" || e.Type == "" {
		return ErrInvalidEvent
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	return s.repo.Append(ctx, e)
}

// record fills actor and IP from the request context and swallows failures.
func (s *Service) record(ctx context.Context, e Event, meta map[string]any) {
	if s == nil {
		return
	}
	e.ActorUserID, _ = auth.UserID(ctx)
	e.ActorRole, _ = auth.Role(ctx)
	e.IPAddress = ClientIPFromContext(ctx)
	if len(meta) > 0 {
		if b, err := json.Marshal(meta); err == nil {
			e.Metadata = string(b)
		}
	}
	if err := s.Append(ctx, e); err != nil {
		logger.From(ctx).Warn("audit append failed", "type", e.Type, "err", err)
	}
}

func (s *Service) LogLineAcquired(ctx context.Context, accountID, lineID, number string, free bool) {
	s.record(ctx, Event{AccountID: accountID, Type: EventTypeLineAcquired, LineID: lineID, Message: "line acquired"},
		map[string]any{"number": number, "free": free})
}

func (s *Service) LogLineReleased(ctx context.Context, accountID, lineID, number string) {
	s.record(ctx, Event{AccountID: accountID, Type: EventTypeLineReleased, LineID: lineID, Message: "line released"},
		map[string]any{"number": number})
}

func (s *Service) LogForwardingChanged(ctx context.Context, accountID, lineID, action string) {
	s.record(ctx, Event{AccountID: accountID, Type: EventTypeForwardingChanged, LineID: lineID, Message: "forwarding " + action}, nil)
}

func (s *Service) LogWhisperChanged(ctx context.Context, accountID, lineID, change string) {
	s.record(ctx, Event{AccountID: accountID, Type: EventTypeWhisperChanged, LineID: lineID, Message: "whisper " + change}, nil)
}

func (s *Service) LogCallDenied(ctx context.Context, accountID, lineID, callID, reason string) {
	s.record(ctx, Event{AccountID: accountID, Type: EventTypeCallDenied, LineID: lineID, CallID: callID, Message: reason}, nil)
}
