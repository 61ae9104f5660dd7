package forwarding

import (
	"context"
	"database/sql"
	"errors"

	"voiceline/internal/apperr"
	"voiceline/pkg/utils"
)

type Repository interface {
	// Create returns apperr.ErrConflict if a rule exists for the line.
	Create(ctx context.Context, r Rule) error
	// GetByLine returns the rule in any status.
	GetByLine(ctx context.Context, lineID string) (Rule, error)
	// FindActive is the routing-path lookup: one indexed row, no joins.
	FindActive(ctx context.Context, lineID string) (Rule, bool, error)
	Update(ctx context.Context, r Rule) error
	Delete(ctx context.Context, lineID string) error
}

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

const ruleColumns = `id, account_id, line_id, destination, type, ring_timeout_seconds, active, created_at, updated_at`

func (r *PostgresRepo) Create(ctx context.Context, rule Rule) error {
	const q = `
INSERT INTO forwarding_rules (` + ruleColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
`
	_, err := r.db.ExecContext(ctx, q,
		rule.ID,
		rule.AccountID,
		rule.LineID,
		rule.Destination,
		string(rule.Type),
		rule.RingTimeoutSeconds,
		rule.Active,
		rule.CreatedAt,
		rule.UpdatedAt,
	)
	if utils.IsUniqueViolation(err) {
		return apperr.ErrConflict
	}
	return err
}

func (r *PostgresRepo) GetByLine(ctx context.Context, lineID string) (Rule, error) {
	q := `SELECT ` + ruleColumns + ` FROM forwarding_rules WHERE line_id = $1`
	rule, err := scanRule(r.db.QueryRowContext(ctx, q, lineID))
	if errors.Is(err, sql.ErrNoRows) {
		return Rule{}, apperr.ErrNotFound
	}
	return rule, err
}

func (r *PostgresRepo) FindActive(ctx context.Context, lineID string) (Rule, bool, error) {
	q := `SELECT ` + ruleColumns + ` FROM forwarding_rules WHERE line_id = $1 AND active`
	rule, err := scanRule(r.db.QueryRowContext(ctx, q, lineID))
	if errors.Is(err, sql.ErrNoRows) {
		return Rule{}, false, nil
	}
	if err != nil {
		return Rule{}, false, err
	}
	return rule, true, nil
}

func (r *PostgresRepo) Update(ctx context.Context, rule Rule) error {
	const q = `
UPDATE forwarding_rules
SET destination = $2, type = $3, ring_timeout_seconds = $4, active = $5, updated_at = $6
WHERE line_id = $1
`
	res, err := r.db.ExecContext(ctx, q,
		rule.LineID,
		rule.Destination,
		string(rule.Type),
		rule.RingTimeoutSeconds,
		rule.Active,
		rule.UpdatedAt,
	)
	if err != nil {
		return err
	}
	return requireOne(res)
}

func (r *PostgresRepo) Delete(ctx context.Context, lineID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM forwarding_rules WHERE line_id = $1`, lineID)
	if err != nil {
		return err
	}
	return requireOne(res)
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

func scanRule(s rowScanner) (Rule, error) {
	var rule Rule
	var typ string
	err := s.Scan(
		&rule.ID,
		&rule.AccountID,
		&rule.LineID,
		&rule.Destination,
		&typ,
		&rule.RingTimeoutSeconds,
		&rule.Active,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	)
	rule.Type = RuleType(typ)
	return rule, err
}
