package audio

import (
	"context"
	"errors"
	"sync"

	"voiceline/internal/apperr"
)

// MemoryRepo is an in-memory repository useful for tests.
type MemoryRepo struct {
	mu     sync.Mutex
	assets map[string]Asset

	// OnReplace mirrors the line update the Postgres transaction performs.
	OnReplace func(lineID, assetID string)
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{assets: map[string]Asset{}}
}

func (r *MemoryRepo) Replace(ctx context.Context, a Asset) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.assets[a.ID]; exists {
		return apperr.ErrConflict
	}
	for id, prior := range r.assets {
		if prior.LineID == a.LineID && prior.Active {
			prior.Active = false
			r.assets[id] = prior
		}
	}
	a.Active = true
	r.assets[a.ID] = a
	if r.OnReplace != nil {
		r.OnReplace(a.LineID, a.ID)
	}
	return nil
}

func (r *MemoryRepo) Get(ctx context.Context, assetID string) (Asset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.assets[assetID]
	if !ok {
		return Asset{}, apperr.ErrNotFound
	}
	return a, nil
}

var errTransientPut = errors.New("audio: transient blob failure")

// MemoryBlobStore keeps payloads in a map.
type MemoryBlobStore struct {
	mu    sync.Mutex
	blobs map[string][]byte

	// FailPuts makes the next n Put calls fail.
	FailPuts int
	puts     int
}

func NewMemoryBlobStore() *MemoryBlobStore {
	return &MemoryBlobStore{blobs: map[string][]byte{}}
}

func (s *MemoryBlobStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.puts++
	if s.FailPuts > 0 {
		s.FailPuts--
		return errTransientPut
	}
	s.blobs[key] = append([]byte(nil), data...)
	return nil
}

func (s *MemoryBlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blobs[key]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return b, nil
}

// Puts reports how many Put calls were attempted.
func (s *MemoryBlobStore) Puts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.puts
}
