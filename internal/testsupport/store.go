// Package testsupport provides in-memory fakes shared by package tests.
package testsupport

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aura-studio/reelsmith/internal/models"
)

// MemStore is an in-memory video store. Update holds a single lock for the whole
// read-modify-write, matching the row lock of the database store.
type MemStore struct {
	mu     sync.Mutex
	videos map[uuid.UUID]*models.Video
	writes int
	fault  func(op string, next *models.Video) error
}

// FailWhen makes Get (op "get", next nil) and Update (op "update", next is the record
// about to be written) return the error fault reports. A nil fault clears it.
func (s *MemStore) FailWhen(fault func(op string, next *models.Video) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fault = fault
}

// NewMemStore returns an empty store.
func NewMemStore() *MemStore {
	return &MemStore{videos: make(map[uuid.UUID]*models.Video)}
}

// Create inserts v, assigning an ID and timestamps when missing.
func (s *MemStore) Create(ctx context.Context, v *models.Video) (*models.Video, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c := v.Clone()
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.Status == "" {
		c.Status = models.StatusDraft
	}
	now := time.Now().UTC()
	c.CreatedAt, c.UpdatedAt = now, now
	s.videos[c.ID] = c
	s.writes++
	return c.Clone(), nil
}

// Get returns a copy of the stored video.
func (s *MemStore) Get(ctx context.Context, id uuid.UUID) (*models.Video, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fault != nil {
		if err := s.fault("get", nil); err != nil {
			return nil, err
		}
	}
	v, ok := s.videos[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return v.Clone(), nil
}

// Update applies fn to a copy and stores it when fn succeeds.
func (s *MemStore) Update(ctx context.Context, id uuid.UUID, fn func(*models.Video) error) (*models.Video, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.videos[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	c := v.Clone()
	if err := fn(c); err != nil {
		return nil, err
	}
	if s.fault != nil {
		if err := s.fault("update", c); err != nil {
			return nil, err
		}
	}
	c.UpdatedAt = time.Now().UTC()
	s.videos[id] = c
	s.writes++
	return c.Clone(), nil
}

// ListStale returns videos in a running status whose run started before cutoff.
func (s *MemStore) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]*models.Video, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Video
	for _, v := range s.videos {
		if v.Status.IsRunning() && v.RunStartedAt != nil && v.RunStartedAt.Before(cutoff) {
			out = append(out, v.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RunStartedAt.Before(*out[j].RunStartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Writes returns the number of successful writes.
func (s *MemStore) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// Seed stores v directly without counting a write.
func (s *MemStore) Seed(v *models.Video) *models.Video {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := v.Clone()
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	s.videos[c.ID] = c
	return c.Clone()
}

// Mutate changes the stored record directly, bypassing write counting. It simulates
// another process acting on the video.
func (s *MemStore) Mutate(id uuid.UUID, fn func(*models.Video)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.videos[id]; ok {
		fn(v)
	}
}
