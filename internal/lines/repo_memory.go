package lines

import (
	"context"
	"sort"
	"sync"
	"time"

	"voiceline/internal/apperr"
)

// MemoryRepo is an in-memory repository useful for tests.
// It is not intended for production use.
type MemoryRepo struct {
	mu    sync.Mutex
	lines map[string]Line

	// ViewErr, when set, is returned by WhisperView.
	ViewErr error
}

func NewMemoryRepo(seed ...Line) *MemoryRepo {
	r := &MemoryRepo{lines: map[string]Line{}}
	for _, l := range seed {
		r.lines[l.ID] = l
	}
	return r
}

func (r *MemoryRepo) Insert(ctx context.Context, l Line) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.lines {
		if existing.Active && existing.Number == l.Number {
			return apperr.ErrConflict
		}
	}
	r.lines[l.ID] = l
	return nil
}

func (r *MemoryRepo) Get(ctx context.Context, lineID string) (Line, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.lines[lineID]
	if !ok {
		return Line{}, apperr.ErrNotFound
	}
	return l, nil
}

func (r *MemoryRepo) ListByAccount(ctx context.Context, accountID string) ([]Line, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Line
	for _, l := range r.lines {
		if l.AccountID == accountID {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryRepo) FindActiveByNumber(ctx context.Context, number string) (Line, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range r.lines {
		if l.Active && l.Number == number {
			return l, true, nil
		}
	}
	return Line{}, false, nil
}

func (r *MemoryRepo) Deactivate(ctx context.Context, lineID string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.lines[lineID]
	if !ok {
		return apperr.ErrNotFound
	}
	l.Active = false
	l.ReleasedAt = &now
	l.UpdatedAt = now
	r.lines[lineID] = l
	return nil
}

func (r *MemoryRepo) UpdateWhisper(ctx context.Context, lineID string, w WhisperConfig, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.lines[lineID]
	if !ok {
		return apperr.ErrNotFound
	}
	l.Whisper = w
	l.UpdatedAt = now
	r.lines[lineID] = l
	return nil
}

// SetWhisperAsset points the line at a new audio asset and switches it to
// play mode, mirroring the Postgres upload transaction.
func (r *MemoryRepo) SetWhisperAsset(lineID, assetID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.lines[lineID]; ok {
		l.Whisper.AssetID = assetID
		l.Whisper.Mode = WhisperModePlay
		r.lines[lineID] = l
	}
}

func (r *MemoryRepo) WhisperView(ctx context.Context, lineID string) (WhisperView, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ViewErr != nil {
		return WhisperView{}, r.ViewErr
	}
	l, ok := r.lines[lineID]
	if !ok {
		return WhisperView{}, apperr.ErrNotFound
	}
	return WhisperView{LineID: l.ID, Number: l.Number, Label: l.Label, Active: l.Active, Whisper: l.Whisper}, nil
}
