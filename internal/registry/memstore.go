package registry

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/wardlea/diarist/pkg/embedding"
	"github.com/wardlea/diarist/pkg/types"
)

// Compile-time assertion that MemStore satisfies the Store interface.
var _ Store = (*MemStore)(nil)

// MemStore is a thread-safe, in-memory implementation of [Store].
// It is suitable for single-session use and testing.
type MemStore struct {
	mu      sync.RWMutex
	byID    map[string]int
	records []types.EnrolledSpeaker
}

// NewMemStore returns an initialised [MemStore].
func NewMemStore() *MemStore {
	return &MemStore{byID: make(map[string]int)}
}

// Add implements [Store.Add].
func (s *MemStore) Add(ctx context.Context, sp types.EnrolledSpeaker) (types.EnrolledSpeaker, error) {
	if sp.ID == "" {
		id, err := generateID()
		if err != nil {
			return types.EnrolledSpeaker{}, fmt.Errorf("registry: generate id: %w", err)
		}
		sp.ID = id
	}
	sp.Centroid = embedding.Clone(sp.Centroid)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.byID == nil {
		s.byID = make(map[string]int)
	}
	if _, exists := s.byID[sp.ID]; exists {
		return types.EnrolledSpeaker{}, ErrDuplicateID
	}

	s.byID[sp.ID] = len(s.records)
	s.records = append(s.records, sp)
	return sp, nil
}

// Get implements [Store.Get].
func (s *MemStore) Get(ctx context.Context, id string) (types.EnrolledSpeaker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.byID[id]
	if !ok {
		return types.EnrolledSpeaker{}, ErrNotFound
	}
	sp := s.records[i]
	sp.Centroid = embedding.Clone(sp.Centroid)
	return sp, nil
}

// Snapshot implements [Store.Snapshot]. Records are returned in enrollment
// order with copied centroids, so callers can hold the snapshot across
// engine imports without aliasing store state.
func (s *MemStore) Snapshot(ctx context.Context) ([]types.EnrolledSpeaker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]types.EnrolledSpeaker, len(s.records))
	for i, sp := range s.records {
		sp.Centroid = embedding.Clone(sp.Centroid)
		out[i] = sp
	}
	return out, nil
}

// Update implements [Store.Update].
func (s *MemStore) Update(ctx context.Context, sp types.EnrolledSpeaker) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.byID[sp.ID]
	if !ok {
		return ErrNotFound
	}
	sp.Centroid = embedding.Clone(sp.Centroid)
	s.records[i] = sp
	return nil
}

// Remove implements [Store.Remove]. The record is removed from the snapshot
// order; enrollment order of the remaining records is preserved.
func (s *MemStore) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	s.records = append(s.records[:i], s.records[i+1:]...)
	delete(s.byID, id)
	for j := i; j < len(s.records); j++ {
		s.byID[s.records[j].ID] = j
	}
	return nil
}

// generateID returns a random 16-hex-character identifier.
func generateID() (string, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
