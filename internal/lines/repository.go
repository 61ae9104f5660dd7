package lines

import (
	"context"
	"time"
)

type Repository interface {
	// Insert returns apperr.ErrConflict when an active line already holds the number.
	Insert(ctx context.Context, l Line) error
	Get(ctx context.Context, lineID string) (Line, error)
	ListByAccount(ctx context.Context, accountID string) ([]Line, error)
	FindActiveByNumber(ctx context.Context, number string) (Line, bool, error)
	Deactivate(ctx context.Context, lineID string, now time.Time) error
	UpdateWhisper(ctx context.Context, lineID string, w WhisperConfig, now time.Time) error
	WhisperView(ctx context.Context, lineID string) (WhisperView, error)
}
