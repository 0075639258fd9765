package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"visitorid/internal/identity/models"
	"visitorid/pkg/platform/sentinel"
)

// ErrNotFound is returned when an identity id does not exist.
var ErrNotFound = sentinel.ErrNotFound

// InMemory keeps identities in process memory. Ids are assigned from a
// monotonically increasing counter starting at 1.
type InMemory struct {
	mu         sync.RWMutex
	nextID     int64
	identities map[int64]*models.Identity
	byPrimary  map[string][]int64
	byWeak     map[string][]int64
}

func NewInMemory() *InMemory {
	return &InMemory{
		identities: make(map[int64]*models.Identity),
		byPrimary:  make(map[string][]int64),
		byWeak:     make(map[string][]int64),
	}
}

func (s *InMemory) Create(_ context.Context, primaryID, weakID, scorerKey string, now time.Time) (int64, error) {
	identity, err := models.NewIdentity(primaryID, weakID, scorerKey, now)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	identity.ID = s.nextID
	s.identities[identity.ID] = identity
	s.byPrimary[primaryID] = append(s.byPrimary[primaryID], identity.ID)
	s.byWeak[weakID] = append(s.byWeak[weakID], identity.ID)
	return identity.ID, nil
}

func (s *InMemory) FindByID(_ context.Context, id int64) (*models.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	identity, ok := s.identities[id]
	if !ok {
		return nil, fmt.Errorf("identity %d: %w", id, ErrNotFound)
	}
	return cloneIdentity(identity), nil
}

func (s *InMemory) FindExact(_ context.Context, primaryID string) (models.ExactMatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return models.ExactMatchOf(s.liveLocked(s.byPrimary[primaryID])), nil
}

func (s *InMemory) FindWeak(_ context.Context, weakID string) ([]*models.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.liveLocked(s.byWeak[weakID]), nil
}

func (s *InMemory) SoftDelete(_ context.Context, now time.Time, ids ...int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deleted := 0
	for _, id := range ids {
		identity, ok := s.identities[id]
		if !ok || identity.IsDeleted() {
			continue
		}
		at := now
		identity.DeletedAt = &at
		deleted++
	}
	return deleted, nil
}

// liveLocked returns copies of the non-deleted identities for ids, ordered by id.
// Caller must hold s.mu.
func (s *InMemory) liveLocked(ids []int64) []*models.Identity {
	out := make([]*models.Identity, 0, len(ids))
	for _, id := range ids {
		identity := s.identities[id]
		if identity == nil || identity.IsDeleted() {
			continue
		}
		out = append(out, cloneIdentity(identity))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func cloneIdentity(identity *models.Identity) *models.Identity {
	c := *identity
	if identity.DeletedAt != nil {
		at := *identity.DeletedAt
		c.DeletedAt = &at
	}
	return &c
}
