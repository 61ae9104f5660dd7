package audio

import (
	"context"
	"database/sql"
	"errors"

	"voiceline/internal/apperr"
	"voiceline/pkg/utils"
)

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Replace(ctx context.Context, a Asset) error {
	return utils.WithTx(ctx, r.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		// Lock the line row so concurrent uploads for one line serialize.
		var lineID string
		err := tx.QueryRowContext(ctx, `SELECT id FROM lines WHERE id = $1 FOR UPDATE`, a.LineID).Scan(&lineID)
		if errors.Is(err, sql.ErrNoRows) {
			return apperr.ErrNotFound
		}
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE whisper_assets SET active = false WHERE line_id = $1 AND active`, a.LineID,
		); err != nil {
			return err
		}

		const insert = `
INSERT INTO whisper_assets (id, account_id, line_id, mime_type, size_bytes, duration_ms, storage_key, active, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, true, $8)
`
		_, err = tx.ExecContext(ctx, insert,
			a.ID,
			a.AccountID,
			a.LineID,
			a.MimeType,
			a.SizeBytes,
			a.DurationMillis,
			a.StorageKey,
			a.CreatedAt,
		)
		if utils.IsUniqueViolation(err) {
			return apperr.ErrConflict
		}
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
UPDATE lines
SET whisper_asset_id = $2, whisper_mode = 'play', updated_at = $3
WHERE id = $1
`, a.LineID, a.ID, a.CreatedAt)
		return err
	})
}

func (r *PostgresRepo) Get(ctx context.Context, assetID string) (Asset, error) {
	const q = `
SELECT id, account_id, line_id, mime_type, size_bytes, duration_ms, storage_key, active, created_at
FROM whisper_assets
WHERE id = $1
`
	var a Asset
	err := r.db.QueryRowContext(ctx, q, assetID).Scan(
		&a.ID,
		&a.AccountID,
		&a.LineID,
		&a.MimeType,
		&a.SizeBytes,
		&a.DurationMillis,
		&a.StorageKey,
		&a.Active,
		&a.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Asset{}, apperr.ErrNotFound
	}
	return a, err
}

// PostgresBlobStore keeps payloads inline in a bytea column.
type PostgresBlobStore struct {
	db *sql.DB
}

func NewPostgresBlobStore(db *sql.DB) *PostgresBlobStore { return &PostgresBlobStore{db: db} }

func (s *PostgresBlobStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	const q = `
INSERT INTO whisper_asset_blobs (storage_key, content_type, data)
VALUES ($1, $2, $3)
ON CONFLICT (storage_key) DO UPDATE SET content_type = EXCLUDED.content_type, data = EXCLUDED.data
`
	_, err := s.db.ExecContext(ctx, q, key, contentType, data)
	return err
}

func (s *PostgresBlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM whisper_asset_blobs WHERE storage_key = $1`, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	return data, err
}
