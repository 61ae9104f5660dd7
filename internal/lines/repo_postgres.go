package lines

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"voiceline/internal/apperr"
	"voiceline/pkg/utils"

	"github.com/shopspring/decimal"
)

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

const lineColumns = `id, account_id, number, label, provider_number_id, active, monthly_cost,
whisper_enabled, whisper_mode, whisper_template, whisper_voice, whisper_language, COALESCE(whisper_asset_id::text, ''),
created_at, updated_at, released_at`

func (r *PostgresRepo) Insert(ctx context.Context, l Line) error {
	const q = `
INSERT INTO lines (
  id, account_id, number, label, provider_number_id, active, monthly_cost,
  whisper_enabled, whisper_mode, whisper_template, whisper_voice, whisper_language,
  created_at, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
`
	_, err := r.db.ExecContext(ctx, q,
		l.ID,
		l.AccountID,
		l.Number,
		l.Label,
		l.ProviderNumberID,
		l.Active,
		l.MonthlyCost,
		l.Whisper.Enabled,
		string(l.Whisper.Mode),
		l.Whisper.Template,
		l.Whisper.Voice,
		l.Whisper.Language,
		l.CreatedAt,
		l.UpdatedAt,
	)
	// lines_active_number_uniq covers active rows only.
	if utils.IsUniqueViolation(err) {
		return apperr.ErrConflict
	}
	return err
}

func (r *PostgresRepo) Get(ctx context.Context, lineID string) (Line, error) {
	q := `SELECT ` + lineColumns + ` FROM lines WHERE id = $1`
	l, err := scanLine(r.db.QueryRowContext(ctx, q, lineID))
	if errors.Is(err, sql.ErrNoRows) {
		return Line{}, apperr.ErrNotFound
	}
	return l, err
}

func (r *PostgresRepo) ListByAccount(ctx context.Context, accountID string) ([]Line, error) {
	q := `SELECT ` + lineColumns + ` FROM lines WHERE account_id = $1 ORDER BY created_at`
	rows, err := r.db.QueryContext(ctx, q, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Line
	for rows.Next() {
		l, err := scanLine(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) FindActiveByNumber(ctx context.Context, number string) (Line, bool, error) {
	q := `SELECT ` + lineColumns + ` FROM lines WHERE number = $1 AND active`
	l, err := scanLine(r.db.QueryRowContext(ctx, q, number))
	if errors.Is(err, sql.ErrNoRows) {
		return Line{}, false, nil
	}
	if err != nil {
		return Line{}, false, err
	}
	return l, true, nil
}

func (r *PostgresRepo) Deactivate(ctx context.Context, lineID string, now time.Time) error {
	const q = `
UPDATE lines
SET active = false, released_at = COALESCE(released_at, $2), updated_at = $2
WHERE id = $1
`
	res, err := r.db.ExecContext(ctx, q, lineID, now)
	if err != nil {
		return err
	}
	return requireOne(res)
}

func (r *PostgresRepo) UpdateWhisper(ctx context.Context, lineID string, w WhisperConfig, now time.Time) error {
	const q = `
UPDATE lines
SET whisper_enabled = $2,
    whisper_mode = $3,
    whisper_template = $4,
    whisper_voice = $5,
    whisper_language = $6,
    whisper_asset_id = NULLIF($7, '')::uuid,
    updated_at = $8
WHERE id = $1
`
	res, err := r.db.ExecContext(ctx, q,
		lineID,
		w.Enabled,
		string(w.Mode),
		w.Template,
		w.Voice,
		w.Language,
		w.AssetID,
		now,
	)
	if err != nil {
		return err
	}
	return requireOne(res)
}

// WhisperView reads one row by primary key; it runs on the whisper fetch
// path and must stay join-free.
func (r *PostgresRepo) WhisperView(ctx context.Context, lineID string) (WhisperView, error) {
	const q = `
SELECT id, number, label, active,
       whisper_enabled, whisper_mode, whisper_template, whisper_voice, whisper_language,
       COALESCE(whisper_asset_id::text, '')
FROM lines
WHERE id = $1
`
	var v WhisperView
	var mode string
	err := r.db.QueryRowContext(ctx, q, lineID).Scan(
		&v.LineID,
		&v.Number,
		&v.Label,
		&v.Active,
		&v.Whisper.Enabled,
		&mode,
		&v.Whisper.Template,
		&v.Whisper.Voice,
		&v.Whisper.Language,
		&v.Whisper.AssetID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return WhisperView{}, apperr.ErrNotFound
	}
	v.Whisper.Mode = WhisperMode(mode)
	return v, err
}

func requireOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLine(s rowScanner) (Line, error) {
	var l Line
	var mode string
	var cost decimal.Decimal
	var released sql.NullTime
	err := s.Scan(
		&l.ID,
		&l.AccountID,
		&l.Number,
		&l.Label,
		&l.ProviderNumberID,
		&l.Active,
		&cost,
		&l.Whisper.Enabled,
		&mode,
		&l.Whisper.Template,
		&l.Whisper.Voice,
		&l.Whisper.Language,
		&l.Whisper.AssetID,
		&l.CreatedAt,
		&l.UpdatedAt,
		&released,
	)
	l.MonthlyCost = cost
	l.Whisper.Mode = WhisperMode(mode)
	if released.Valid {
		t := released.Time
		l.ReleasedAt = &t
	}
	return l, err
}
