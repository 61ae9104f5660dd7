package audio

import (
	"context"
	"errors"
	"fmt"
	"time"

	"voiceline/internal/apperr"
	"voiceline/pkg/logger"

	"github.com/google/uuid"
)

type LineOwner interface {
	OwnerOf(ctx context.Context, lineID string) (accountID string, err error)
}

type CacheInvalidator interface {
	Invalidate(ctx context.Context, lineID string) error
}

type AuditLogger interface {
	LogWhisperChanged(ctx context.Context, accountID, lineID, change string)
}

// Limiter caps concurrent transcodes per account (utils.ConcurrencyCap).
type Limiter interface {
	Acquire(ctx context.Context, id string) (bool, error)
	Release(ctx context.Context, id string) error
}

var ErrTooManyUploads = errors.New("audio: too many concurrent uploads")

type AssetService struct {
	transcoder *Transcoder
	repo       Repository
	blobs      BlobStore
	lines      LineOwner
	audit      AuditLogger
	cache      CacheInvalidator
	limiter    Limiter

	clock       func() time.Time
	newID       func() string
	putAttempts int
	putBackoff  time.Duration
}

func NewAssetService(t *Transcoder, repo Repository, blobs BlobStore, lines LineOwner, audit AuditLogger) *AssetService {
	return &AssetService{
		transcoder:  t,
		repo:        repo,
		blobs:       blobs,
		lines:       lines,
		audit:       audit,
		clock:       time.Now,
		newID:       uuid.NewString,
		putAttempts: 3,
		putBackoff:  200 * time.Millisecond,
	}
}

func (s *AssetService) WithCache(c CacheInvalidator) *AssetService {
	s.cache = c
	return s
}

func (s *AssetService) WithLimiter(l Limiter) *AssetService {
	s.limiter = l
	return s
}

// Upload transcodes raw and makes it the line's active whisper clip.
func (s *AssetService) Upload(ctx context.Context, accountID, lineID string, raw []byte) (Asset, error) {
	log := logger.From(ctx)
	owner, err := s.lines.OwnerOf(ctx, lineID)
	if err != nil {
		return Asset{}, err
	}
	if owner != accountID {
		return Asset{}, apperr.ErrNotFound
	}

	if s.limiter != nil {
		ok, err := s.limiter.Acquire(ctx, accountID)
		switch {
		case err != nil:
			log.Warn("transcode limiter unavailable, continuing", "account_id", accountID, "err", err)
		case !ok:
			return Asset{}, ErrTooManyUploads
		default:
			defer func() {
				if err := s.limiter.Release(context.WithoutCancel(ctx), accountID); err != nil {
					log.Warn("transcode limiter release failed", "account_id", accountID, "err", err)
				}
			}()
		}
	}

	out, err := s.transcoder.Transcode(raw)
	if err != nil {
		return Asset{}, err
	}

	a := Asset{
		ID:             s.newID(),
		AccountID:      accountID,
		LineID:         lineID,
		MimeType:       out.MimeType,
		SizeBytes:      len(out.Data),
		DurationMillis: out.DurationMillis(),
		Active:         true,
		CreatedAt:      s.clock().UTC(),
	}
	a.StorageKey = fmt.Sprintf("whisper/%s/%s.wav", lineID, a.ID)

	if err := s.putWithRetry(ctx, a.StorageKey, out.Data, out.MimeType); err != nil {
		return Asset{}, apperr.Provider("audio.put_blob", err)
	}
	if err := s.repo.Replace(ctx, a); err != nil {
		return Asset{}, err
	}

	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, lineID); err != nil {
			log.Warn("whisper cache invalidate failed", "line_id", lineID, "err", err)
		}
	}
	if s.audit != nil {
		s.audit.LogWhisperChanged(ctx, accountID, lineID, "audio")
	}
	log.Info("whisper asset stored", "line_id", lineID, "asset_id", a.ID, "bytes", a.SizeBytes, "duration_ms", a.DurationMillis)
	return a, nil
}

// putWithRetry repeats the blob write; the key is fixed per asset so a
// repeated write is harmless.
func (s *AssetService) putWithRetry(ctx context.Context, key string, data []byte, contentType string) error {
	var err error
	for attempt := 1; attempt <= s.putAttempts; attempt++ {
		if err = s.blobs.Put(ctx, key, data, contentType); err == nil {
			return nil
		}
		logger.From(ctx).Warn("blob put failed", "key", key, "attempt", attempt, "err", err)
		if attempt == s.putAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.putBackoff * time.Duration(attempt)):
		}
	}
	return err
}

// Open returns any existing asset, active or not. Ids that are not UUIDs
// are reported as not found without touching storage.
func (s *AssetService) Open(ctx context.Context, assetID string) (Asset, []byte, error) {
	if _, err := uuid.Parse(assetID); err != nil {
		return Asset{}, nil, apperr.ErrNotFound
	}
	a, err := s.repo.Get(ctx, assetID)
	if err != nil {
		return Asset{}, nil, err
	}
	data, err := s.blobs.Get(ctx, a.StorageKey)
	if err != nil {
		return Asset{}, nil, err
	}
	return a, data, nil
}
