package calls

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"voiceline/internal/apperr"

	"github.com/shopspring/decimal"
)

// PostgresRepo stores ledger rows in call_records.
//
// The merge is one INSERT .. ON CONFLICT statement, so two handlers racing on
// the same call id serialise on the row and neither overwrites a field the
// other supplied. status_rank keeps the status monotonic inside the statement.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

const recordColumns = `call_id, account_id, line_id, from_number, to_number, direction, status,
duration_seconds, price, recording_id, recording_url, recording_duration_seconds,
recording_channels, recording_status, created_at, updated_at`

const mergeSQL = `
INSERT INTO call_records (
	call_id, account_id, line_id, from_number, to_number, direction, status, status_rank,
	duration_seconds, price, recording_id, recording_url, recording_duration_seconds,
	recording_channels, recording_status, created_at, updated_at
) VALUES (
	$1, COALESCE($2::text, ''), COALESCE($3::text, ''), COALESCE($4::text, ''), COALESCE($5::text, ''),
	COALESCE($6::text, ''), COALESCE($7::text, ''), $8::int,
	COALESCE($9::int, 0), $10::numeric, $11::text, $12::text, $13::int,
	$14::int, $15::text, $16, $16
)
ON CONFLICT (call_id) DO UPDATE SET
	account_id  = COALESCE($2::text, call_records.account_id),
	line_id     = COALESCE($3::text, call_records.line_id),
	from_number = COALESCE($4::text, call_records.from_number),
	to_number   = COALESCE($5::text, call_records.to_number),
	direction   = COALESCE($6::text, call_records.direction),
	status = CASE
		WHEN $8::int >= 0 AND $8::int >= call_records.status_rank AND call_records.status_rank < $17::int THEN $7::text
		ELSE call_records.status
	END,
	status_rank      = GREATEST(call_records.status_rank, $8::int),
	duration_seconds = COALESCE($9::int, call_records.duration_seconds),
	price            = COALESCE($10::numeric, call_records.price),
	recording_id               = COALESCE($11::text, call_records.recording_id),
	recording_url              = COALESCE($12::text, call_records.recording_url),
	recording_duration_seconds = COALESCE($13::int, call_records.recording_duration_seconds),
	recording_channels         = COALESCE($14::int, call_records.recording_channels),
	recording_status           = COALESCE($15::text, call_records.recording_status),
	updated_at = $16
RETURNING ` + recordColumns + `, (xmax = 0) AS inserted
`

func (r *PostgresRepo) Merge(ctx context.Context, u Update, now time.Time) (Record, bool, error) {
	rank := -1
	var status any
	if u.Status != nil && u.Status.Valid() {
		rank = u.Status.Rank()
		status = string(*u.Status)
	}
	var direction any
	if u.Direction != nil && *u.Direction != "" {
		direction = string(*u.Direction)
	}
	var price any
	if u.Price != nil {
		price = u.Price.String()
	}
	var durationSeconds any
	if u.DurationSeconds != nil {
		durationSeconds = *u.DurationSeconds
	}
	var recID, recURL, recDur, recChannels, recStatus any
	if u.Recording != nil {
		recID = nonEmpty(u.Recording.ID)
		recURL = nonEmpty(u.Recording.URL)
		recDur = positive(u.Recording.DurationSeconds)
		recChannels = positive(u.Recording.Channels)
		recStatus = nonEmpty(u.Recording.Status)
	}

	row := r.db.QueryRowContext(ctx, mergeSQL,
		u.CallID,
		nonEmptyPtr(u.AccountID),
		nonEmptyPtr(u.LineID),
		nonEmptyPtr(u.From),
		nonEmptyPtr(u.To),
		direction,
		status,
		rank,
		durationSeconds,
		price,
		recID, recURL, recDur, recChannels, recStatus,
		now,
		terminalRank,
	)

	var inserted bool
	rec, err := scanRecord(row, &inserted)
	if err != nil {
		return Record{}, false, err
	}
	return rec, inserted, nil
}

func (r *PostgresRepo) Get(ctx context.Context, callID string) (Record, error) {
	q := `SELECT ` + recordColumns + ` FROM call_records WHERE call_id = $1`
	rec, err := scanRecord(r.db.QueryRowContext(ctx, q, callID))
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, apperr.ErrNotFound
	}
	return rec, err
}

func (r *PostgresRepo) List(ctx context.Context, accountID string, f Filter) ([]Record, error) {
	q := `SELECT ` + recordColumns + `
FROM call_records
WHERE account_id = $1
  AND ($2::timestamptz IS NULL OR created_at >= $2)
  AND ($3::timestamptz IS NULL OR created_at < $3)
  AND (NOT $4::bool OR recording_id IS NOT NULL)
ORDER BY created_at DESC, call_id
LIMIT $5`

	rows, err := r.db.QueryContext(ctx, q, accountID, nullTime(f.Since), nullTime(f.Until), f.RecordedOnly, f.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) Totals(ctx context.Context, accountID string) (Totals, error) {
	const q = `SELECT COUNT(*), COALESCE(SUM(duration_seconds), 0) FROM call_records WHERE account_id = $1`
	var t Totals
	err := r.db.QueryRowContext(ctx, q, accountID).Scan(&t.Calls, &t.DurationSeconds)
	return t, err
}

func (r *PostgresRepo) DurationSince(ctx context.Context, accountID string, since time.Time) (int, error) {
	const q = `SELECT COALESCE(SUM(duration_seconds), 0) FROM call_records WHERE account_id = $1 AND created_at >= $2`
	var total int
	err := r.db.QueryRowContext(ctx, q, accountID, since).Scan(&total)
	return total, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner, extra ...any) (Record, error) {
	var (
		rec         Record
		direction   string
		status      string
		price       decimal.NullDecimal
		recID       sql.NullString
		recURL      sql.NullString
		recDur      sql.NullInt64
		recChannels sql.NullInt64
		recStatus   sql.NullString
	)
	dest := []any{
		&rec.CallID, &rec.AccountID, &rec.LineID, &rec.From, &rec.To, &direction, &status,
		&rec.DurationSeconds, &price, &recID, &recURL, &recDur,
		&recChannels, &recStatus, &rec.CreatedAt, &rec.UpdatedAt,
	}
	if err := s.Scan(append(dest, extra...)...); err != nil {
		return Record{}, err
	}
	rec.Direction = Direction(direction)
	rec.Status = Status(status)
	if price.Valid {
		p := price.Decimal
		rec.Price = &p
	}
	if recID.Valid {
		rec.Recording = &Recording{
			ID:              recID.String,
			URL:             recURL.String,
			DurationSeconds: int(recDur.Int64),
			Channels:        int(recChannels.Int64),
			Status:          recStatus.String,
		}
	}
	return rec, nil
}

func nonEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func positive(n int) any {
	if n <= 0 {
		return nil
	}
	return n
}

func nonEmptyPtr(p *string) any {
	if p == nil {
		return nil
	}
	return nonEmpty(*p)
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}
