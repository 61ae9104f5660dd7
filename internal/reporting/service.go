package reporting

import (
	"context"
	"errors"
	"time"

	"voiceline/internal/calls"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// Repository abstracts data access for reporting.
//
// IMPORTANT:
// - Methods must enforce account filtering.
// - Implementations read the call ledger and settlements; nothing here writes.
type Repository interface {
	CallStats(ctx context.Context, accountID string, from, to time.Time, dir calls.Direction) ([]StatusCount, error)
	SpendStats(ctx context.Context, accountID string, from, to time.Time) (SpendSummary, error)
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service { return &Service{repo: repo} }

func validRange(r TimeRange) bool {
	return !r.From.IsZero() && !r.To.IsZero() && r.To.After(r.From)
}

func (s *Service) CallsSummary(ctx context.Context, req CallsSummaryRequest) (CallsSummary, error) {
	if req.AccountID == "" || !validRange(req.Range) {
		return CallsSummary{}, ErrInvalidRequest
	}
	if req.Direction != "" && req.Direction != calls.DirectionInbound && req.Direction != calls.DirectionOutbound {
		return CallsSummary{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return CallsSummary{}, errors.New("reporting: repository not configured")
	}

	buckets, err := s.repo.CallStats(ctx, req.AccountID, req.Range.From, req.Range.To, req.Direction)
	if err != nil {
		return CallsSummary{}, err
	}

	out := CallsSummary{AccountID: req.AccountID, Direction: req.Direction}
	for _, b := range buckets {
		out.TotalCalls += b.Calls
		out.TotalDurationSeconds += b.DurationSeconds
		out.RecordedCalls += b.Recorded
		switch b.Status {
		case calls.StatusCompleted:
			out.CompletedCalls += b.Calls
		case calls.StatusFailed:
			out.FailedCalls += b.Calls
		case calls.StatusNoAnswer:
			out.NoAnswerCalls += b.Calls
		case calls.StatusBusy:
			out.BusyCalls += b.Calls
		case calls.StatusInitiated, calls.StatusRinging, calls.StatusAnswered:
			out.InProgressCalls += b.Calls
		}
	}
	if out.TotalCalls > 0 {
		out.AverageDurationSeconds = out.TotalDurationSeconds / out.TotalCalls
	}
	return out, nil
}

func (s *Service) SpendSummary(ctx context.Context, req SpendSummaryRequest) (SpendSummary, error) {
	if req.AccountID == "" || !validRange(req.Range) {
		return SpendSummary{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return SpendSummary{}, errors.New("reporting: repository not configured")
	}
	out, err := s.repo.SpendStats(ctx, req.AccountID, req.Range.From, req.Range.To)
	if err != nil {
		return SpendSummary{}, err
	}
	out.AccountID = req.AccountID
	return out, nil
}
