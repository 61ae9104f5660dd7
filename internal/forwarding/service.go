package forwarding

import (
	"context"
	"errors"
	"strconv"
	"time"

	"voiceline/internal/apperr"
	"voiceline/internal/telephony"

	"github.com/google/uuid"
)

// LineOwner reports which account owns a line. apperr.ErrNotFound for
// unknown lines.
type LineOwner interface {
	OwnerOf(ctx context.Context, lineID string) (accountID string, err error)
}

// AuditLogger is the best-effort audit hook for rule changes.
type AuditLogger interface {
	LogForwardingChanged(ctx context.Context, accountID, lineID, action string)
}

type Service struct {
	repo  Repository
	lines LineOwner
	audit AuditLogger
	clock func() time.Time
}

func NewService(repo Repository, lines LineOwner, audit AuditLogger) *Service {
	return &Service{repo: repo, lines: lines, audit: audit, clock: time.Now}
}

// Resolve returns the single active rule for a line. A line with no rule or
// an inactive rule resolves to found=false.
//
// The rule's Type does not change the result: every type is treated as an
// unconditional forward.
func (s *Service) Resolve(ctx context.Context, lineID string) (Rule, bool, error) {
	if lineID == "" {
		return Rule{}, false, nil
	}
	return s.repo.FindActive(ctx, lineID)
}

// Get returns the line's rule in any status.
func (s *Service) Get(ctx context.Context, accountID, lineID string) (Rule, error) {
	if err := s.authorize(ctx, accountID, lineID); err != nil {
		return Rule{}, err
	}
	return s.repo.GetByLine(ctx, lineID)
}

func (s *Service) Create(ctx context.Context, accountID string, in CreateInput) (Rule, error) {
	v := &apperr.ValidationError{}
	if in.LineID == "" {
		v.Add("line_id", "required")
	}
	dest, ok := telephony.NormalizeE164(in.Destination)
	if !ok {
		v.Add("destination", "must be an E.164 phone number")
	}
	if in.Type == "" {
		in.Type = RuleTypeAlways
	}
	if !in.Type.Valid() {
		v.Add("type", "must be one of always, busy, no_answer, unavailable")
	}
	if in.RingTimeoutSeconds == 0 {
		in.RingTimeoutSeconds = DefaultRingTimeoutSeconds
	}
	validateTimeout(v, in.RingTimeoutSeconds)
	if err := v.OrNil(); err != nil {
		return Rule{}, err
	}

	if err := s.authorize(ctx, accountID, in.LineID); err != nil {
		return Rule{}, err
	}

	now := s.clock().UTC()
	active := true
	if in.Active != nil {
		active = *in.Active
	}
	rule := Rule{
		ID:                 uuid.NewString(),
		AccountID:          accountID,
		LineID:             in.LineID,
		Destination:        dest,
		Type:               in.Type,
		RingTimeoutSeconds: in.RingTimeoutSeconds,
		Active:             active,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := s.repo.Create(ctx, rule); err != nil {
		if errors.Is(err, apperr.ErrConflict) {
			return Rule{}, apperr.ErrConflict
		}
		return Rule{}, err
	}
	s.logChange(ctx, accountID, in.LineID, "created")
	return rule, nil
}

func (s *Service) Update(ctx context.Context, accountID, lineID string, p Patch) (Rule, error) {
	if err := s.authorize(ctx, accountID, lineID); err != nil {
		return Rule{}, err
	}
	rule, err := s.repo.GetByLine(ctx, lineID)
	if err != nil {
		return Rule{}, err
	}

	v := &apperr.ValidationError{}
	if p.Destination != nil {
		dest, ok := telephony.NormalizeE164(*p.Destination)
		if !ok {
			v.Add("destination", "must be an E.164 phone number")
		}
		rule.Destination = dest
	}
	if p.Type != nil {
		if !p.Type.Valid() {
			v.Add("type", "must be one of always, busy, no_answer, unavailable")
		}
		rule.Type = *p.Type
	}
	if p.RingTimeoutSeconds != nil {
		validateTimeout(v, *p.RingTimeoutSeconds)
		rule.RingTimeoutSeconds = *p.RingTimeoutSeconds
	}
	if p.Active != nil {
		rule.Active = *p.Active
	}
	if err := v.OrNil(); err != nil {
		return Rule{}, err
	}

	rule.UpdatedAt = s.clock().UTC()
	if err := s.repo.Update(ctx, rule); err != nil {
		return Rule{}, err
	}
	s.logChange(ctx, accountID, lineID, "updated")
	return rule, nil
}

func (s *Service) Delete(ctx context.Context, accountID, lineID string) error {
	if err := s.authorize(ctx, accountID, lineID); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, lineID); err != nil {
		return err
	}
	s.logChange(ctx, accountID, lineID, "deleted")
	return nil
}

// authorize hides other accounts' lines behind ErrNotFound.
func (s *Service) authorize(ctx context.Context, accountID, lineID string) error {
	if accountID == "" {
		return apperr.Invalid("account_id", "required")
	}
	if lineID == "" {
		return apperr.Invalid("line_id", "required")
	}
	if s.lines == nil {
		return errors.New("forwarding: line owner not configured")
	}
	owner, err := s.lines.OwnerOf(ctx, lineID)
	if err != nil {
		return err
	}
	if owner != accountID {
		return apperr.ErrNotFound
	}
	return nil
}

func (s *Service) logChange(ctx context.Context, accountID, lineID, action string) {
	if s.audit != nil {
		s.audit.LogForwardingChanged(ctx, accountID, lineID, action)
	}
}

func validateTimeout(v *apperr.ValidationError, secs int) {
	if secs < MinRingTimeoutSeconds || secs > MaxRingTimeoutSeconds {
		v.Add("ring_timeout_seconds", "must be between "+strconv.Itoa(MinRingTimeoutSeconds)+" and "+strconv.Itoa(MaxRingTimeoutSeconds))
	}
}
