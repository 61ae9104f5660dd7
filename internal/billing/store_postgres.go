package billing

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"voiceline/internal/apperr"
	"voiceline/pkg/utils"

	"github.com/shopspring/decimal"
)

// PostgresStore implements Store on the accounts and call_settlements tables.
//
// It assumes:
// - accounts(id, balance numeric, free_minutes_remaining int,
//   free_minutes_last_reset timestamptz, has_claimed_free_line bool, updated_at)
// - call_settlements with UNIQUE (call_id)
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

func (s *PostgresStore) GetAccount(ctx context.Context, accountID string) (Account, error) {
	const q = `
SELECT id, balance, free_minutes_remaining, free_minutes_last_reset, has_claimed_free_line, updated_at
FROM accounts
WHERE id = $1
`
	var a Account
	if err := s.db.QueryRowContext(ctx, q, accountID).Scan(
		&a.ID,
		&a.Balance,
		&a.FreeMinutesRemaining,
		&a.FreeMinutesLastReset,
		&a.HasClaimedFreeLine,
		&a.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Account{}, apperr.ErrNotFound
		}
		return Account{}, err
	}
	return a, nil
}

func (s *PostgresStore) ResetFreeMinutes(ctx context.Context, accountID string, allotment int, monthStart, now time.Time) (bool, error) {
	const q = `
UPDATE accounts
SET free_minutes_remaining = $2, free_minutes_last_reset = $4, updated_at = $4
WHERE id = $1 AND free_minutes_last_reset < $3
`
	return s.execConditional(ctx, accountID, q, accountID, allotment, monthStart, now)
}

func (s *PostgresStore) ClaimFreeLine(ctx context.Context, accountID string, now time.Time) (bool, error) {
	const q = `
UPDATE accounts
SET has_claimed_free_line = TRUE, updated_at = $2
WHERE id = $1 AND NOT has_claimed_free_line
`
	return s.execConditional(ctx, accountID, q, accountID, now)
}

func (s *PostgresStore) UnclaimFreeLine(ctx context.Context, accountID string, now time.Time) error {
	const q = `UPDATE accounts SET has_claimed_free_line = FALSE, updated_at = $2 WHERE id = $1`
	ok, err := s.execConditional(ctx, accountID, q, accountID, now)
	if err == nil && !ok {
		return apperr.ErrNotFound
	}
	return err
}

func (s *PostgresStore) DebitIfCovered(ctx context.Context, accountID string, amount, required decimal.Decimal, now time.Time) (bool, error) {
	const q = `
UPDATE accounts
SET balance = balance - $2::numeric, updated_at = $4
WHERE id = $1 AND balance >= $3::numeric
`
	return s.execConditional(ctx, accountID, q, accountID, amount.String(), required.String(), now)
}

func (s *PostgresStore) Credit(ctx context.Context, accountID string, amount decimal.Decimal, now time.Time) error {
	const q = `UPDATE accounts SET balance = balance + $2::numeric, updated_at = $3 WHERE id = $1`
	ok, err := s.execConditional(ctx, accountID, q, accountID, amount.String(), now)
	if err == nil && !ok {
		return apperr.ErrNotFound
	}
	return err
}

// ApplySettlement claims the call id first; the unique index turns a
// redelivered terminal callback into a no-op. The accounts update is one
// statement that reads and writes the row under its own lock.
func (s *PostgresStore) ApplySettlement(ctx context.Context, in Settlement, rate decimal.Decimal, now time.Time) (Settlement, bool, error) {
	out := in
	applied := false

	err := utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		const claim = `
INSERT INTO call_settlements (id, call_id, account_id, status, duration_seconds, billable_minutes, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (call_id) DO NOTHING
RETURNING id
`
		var id string
		err := tx.QueryRowContext(ctx, claim,
			in.ID, in.CallID, in.AccountID, string(in.Status), in.DurationSeconds, in.BillableMinutes, now,
		).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			existing, err := findSettlement(ctx, tx, in.CallID)
			if err != nil {
				return err
			}
			out = existing
			return nil
		}
		if err != nil {
			return err
		}

		const charge = `
WITH cur AS (
	SELECT id, free_minutes_remaining AS prev_free
	FROM accounts
	WHERE id = $1
	FOR UPDATE
)
UPDATE accounts a
SET free_minutes_remaining = GREATEST(a.free_minutes_remaining - $2, 0),
    balance = a.balance - GREATEST($2 - GREATEST(a.free_minutes_remaining, 0), 0) * $3::numeric,
    updated_at = $4
FROM cur
WHERE a.id = cur.id
RETURNING LEAST($2, GREATEST(cur.prev_free, 0))
`
		var freeUsed int
		if err := tx.QueryRowContext(ctx, charge, in.AccountID, in.BillableMinutes, rate.String(), now).Scan(&freeUsed); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return apperr.ErrNotFound
			}
			return err
		}

		out.FreeMinutesUsed = freeUsed
		out.ChargedMinutes = in.BillableMinutes - freeUsed
		out.Charge = rate.Mul(decimal.NewFromInt(int64(out.ChargedMinutes)))
		out.CreatedAt = now

		const record = `
UPDATE call_settlements
SET free_minutes_used = $2, charged_minutes = $3, charge = $4::numeric
WHERE id = $1
`
		if _, err := tx.ExecContext(ctx, record, id, out.FreeMinutesUsed, out.ChargedMinutes, out.Charge.String()); err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err != nil {
		return Settlement{}, false, err
	}
	return out, applied, nil
}

func findSettlement(ctx context.Context, tx *sql.Tx, callID string) (Settlement, error) {
	const q = `
SELECT id, call_id, account_id, status, duration_seconds, billable_minutes,
       free_minutes_used, charged_minutes, charge, created_at
FROM call_settlements
WHERE call_id = $1
`
	var st Settlement
	if err := tx.QueryRowContext(ctx, q, callID).Scan(
		&st.ID,
		&st.CallID,
		&st.AccountID,
		&st.Status,
		&st.DurationSeconds,
		&st.BillableMinutes,
		&st.FreeMinutesUsed,
		&st.ChargedMinutes,
		&st.Charge,
		&st.CreatedAt,
	); err != nil {
		return Settlement{}, err
	}
	return st, nil
}

// execConditional runs a conditional UPDATE. Zero rows affected is "condition
// not met" when the account exists and ErrNotFound otherwise.
func (s *PostgresStore) execConditional(ctx context.Context, accountID, q string, args ...any) (bool, error) {
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}
	var one int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM accounts WHERE id = $1`, accountID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, apperr.ErrNotFound
	}
	return false, err
}
