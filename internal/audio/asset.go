package audio

import (
	"context"
	"time"
)

// Asset is an uploaded whisper clip after transcoding. Assets are never
// deleted by uploads; a newer upload only marks the prior one inactive.
type Asset struct {
	ID             string    `json:"id"`
	AccountID      string    `json:"account_id"`
	LineID         string    `json:"line_id"`
	MimeType       string    `json:"mime_type"`
	SizeBytes      int       `json:"size_bytes"`
	DurationMillis int       `json:"duration_ms"`
	StorageKey     string    `json:"-"`
	Active         bool      `json:"active"`
	CreatedAt      time.Time `json:"created_at"`
}

type Repository interface {
	// Replace stores a as the line's active asset, deactivates the previous
	// one and points the line's whisper config at a, in one transaction.
	Replace(ctx context.Context, a Asset) error
	Get(ctx context.Context, assetID string) (Asset, error)
}

// BlobStore holds asset payloads by key. Put must be safe to repeat.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
}
