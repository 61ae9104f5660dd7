package reporting

import (
	"context"
	"database/sql"
	"time"

	"voiceline/internal/calls"

	"github.com/shopspring/decimal"
)

// PostgresRepo aggregates in SQL over call_records and call_settlements.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) CallStats(ctx context.Context, accountID string, from, to time.Time, dir calls.Direction) ([]StatusCount, error) {
	const q = `
SELECT status, COUNT(*), COALESCE(SUM(duration_seconds), 0), COUNT(recording_id)
FROM call_records
WHERE account_id = $1
  AND created_at >= $2 AND created_at < $3
  AND ($4 = '' OR direction = $4)
GROUP BY status
`
	rows, err := r.db.QueryContext(ctx, q, accountID, from, to, string(dir))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StatusCount
	for rows.Next() {
		var b StatusCount
		var status string
		if err := rows.Scan(&status, &b.Calls, &b.DurationSeconds, &b.Recorded); err != nil {
			return nil, err
		}
		b.Status = calls.Status(status)
		out = append(out, b)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) SpendStats(ctx context.Context, accountID string, from, to time.Time) (SpendSummary, error) {
	const q = `
SELECT COUNT(*),
       COALESCE(SUM(billable_minutes), 0),
       COALESCE(SUM(free_minutes_used), 0),
       COALESCE(SUM(charged_minutes), 0),
       COALESCE(SUM(charge), 0)
FROM call_settlements
WHERE account_id = $1
  AND created_at >= $2 AND created_at < $3
`
	var out SpendSummary
	var total decimal.Decimal
	err := r.db.QueryRowContext(ctx, q, accountID, from, to).Scan(
		&out.SettledCalls,
		&out.BillableMinutes,
		&out.FreeMinutesUsed,
		&out.ChargedMinutes,
		&total,
	)
	out.TotalCharge = total
	return out, err
}
