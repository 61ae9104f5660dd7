package audio

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"voiceline/internal/apperr"
	"voiceline/internal/lines"
)

type owners map[string]string

func (o owners) OwnerOf(ctx context.Context, lineID string) (string, error) {
	acct, ok := o[lineID]
	if !ok {
		return "", apperr.ErrNotFound
	}
	return acct, nil
}

type denyLimiter struct{ released int }

func (l *denyLimiter) Acquire(ctx context.Context, id string) (bool, error) { return false, nil }
func (l *denyLimiter) Release(ctx context.Context, id string) error       { l.released++; return nil }

type countingCache struct{ n int }

func (c *countingCache) Invalidate(ctx context.Context, lineID string) error {
	c.n++
	return nil
}

type assetFixture struct {
	svc   *AssetService
	repo  *MemoryRepo
	blobs *MemoryBlobStore
	lines *lines.MemoryRepo
	cache *countingCache
}

func newAssetFixture() *assetFixture {
	f := &assetFixture{
		repo:  NewMemoryRepo(),
		blobs: NewMemoryBlobStore(),
		lines: lines.NewMemoryRepo(lines.Line{ID: "line-1", AccountID: "acct", Number: "+12025550100", Active: true}),
		cache: &countingCache{},
	}
	f.repo.OnReplace = f.lines.SetWhisperAsset
	f.svc = NewAssetService(NewTranscoder(0), f.repo, f.blobs, owners{"line-1": "acct"}, nil).WithCache(f.cache)
	f.svc.putBackoff = time.Millisecond
	return f
}

func sampleWAV() []byte {
	return buildWAV(formatPCM, 2, 44100, 16, pcm16(tone(44100, 44100), 2), false)
}

func TestUpload_RoundTripIsPhoneGrade(t *testing.T) {
	f := newAssetFixture()
	ctx := context.Background()

	a, err := f.svc.Upload(ctx, "acct", "line-1", sampleWAV())
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if !a.Active || a.MimeType != "audio/wav" || a.DurationMillis != 1000 {
		t.Fatalf("unexpected asset %+v", a)
	}

	got, data, err := f.svc.Open(ctx, a.ID)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if got.SizeBytes != len(data) {
		t.Fatalf("size %d does not match payload %d", got.SizeBytes, len(data))
	}
	info, err := ParseWAV(data)
	if err != nil {
		t.Fatalf("served payload is not WAV: %v", err)
	}
	if info.Channels != 1 || info.SampleRate != 8000 {
		t.Fatalf("expected mono 8kHz, got %d channels at %d", info.Channels, info.SampleRate)
	}

	view, _ := f.lines.WhisperView(ctx, "line-1")
	if view.Whisper.AssetID != a.ID || view.Whisper.Mode != lines.WhisperModePlay {
		t.Fatalf("line not pointed at new asset: %+v", view.Whisper)
	}
	if f.cache.n != 1 {
		t.Fatalf("expected one cache invalidation, got %d", f.cache.n)
	}
}

func TestUpload_SoftReplacesPriorAsset(t *testing.T) {
	f := newAssetFixture()
	ctx := context.Background()
	first, err := f.svc.Upload(ctx, "acct", "line-1", sampleWAV())
	if err != nil {
		t.Fatalf("first upload: %v", err)
	}
	second, err := f.svc.Upload(ctx, "acct", "line-1", sampleWAV())
	if err != nil {
		t.Fatalf("second upload: %v", err)
	}
	if first.ID == second.ID {
		t.Fatalf("expected distinct asset ids")
	}

	old, data, err := f.svc.Open(ctx, first.ID)
	if err != nil {
		t.Fatalf("prior asset must stay readable: %v", err)
	}
	if old.Active || len(data) == 0 {
		t.Fatalf("expected inactive prior asset with payload, got %+v", old)
	}
	if cur, _ := f.repo.Get(ctx, second.ID); !cur.Active {
		t.Fatalf("expected new asset active")
	}
}

func TestUpload_ForeignLineIsNotFound(t *testing.T) {
	f := newAssetFixture()
	_, err := f.svc.Upload(context.Background(), "other", "line-1", sampleWAV())
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if f.blobs.Puts() != 0 {
		t.Fatalf("nothing should be stored")
	}
}

func TestUpload_RetriesBlobWrites(t *testing.T) {
	f := newAssetFixture()
	f.blobs.FailPuts = 2
	if _, err := f.svc.Upload(context.Background(), "acct", "line-1", sampleWAV()); err != nil {
		t.Fatalf("expected success on third attempt, got %v", err)
	}
	if f.blobs.Puts() != 3 {
		t.Fatalf("expected 3 attempts, got %d", f.blobs.Puts())
	}

	f.blobs.FailPuts = 5
	_, err := f.svc.Upload(context.Background(), "acct", "line-1", sampleWAV())
	if !apperr.IsProvider(err) {
		t.Fatalf("expected provider error after retries, got %v", err)
	}
}

func TestUpload_LimiterDenies(t *testing.T) {
	f := newAssetFixture()
	lim := &denyLimiter{}
	f.svc.WithLimiter(lim)
	if _, err := f.svc.Upload(context.Background(), "acct", "line-1", sampleWAV()); !errors.Is(err, ErrTooManyUploads) {
		t.Fatalf("expected ErrTooManyUploads, got %v", err)
	}
	if lim.released != 0 {
		t.Fatalf("denied slot must not be released")
	}
}

func TestUpload_InvalidAudioStoresNothing(t *testing.T) {
	f := newAssetFixture()
	_, err := f.svc.Upload(context.Background(), "acct", "line-1", bytes.Repeat([]byte("x"), 100))
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected unsupported format, got %v", err)
	}
	if f.blobs.Puts() != 0 {
		t.Fatalf("nothing should be stored")
	}
}

func TestOpen_RejectsNonUUID(t *testing.T) {
	f := newAssetFixture()
	if _, _, err := f.svc.Open(context.Background(), "../etc/passwd"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
