package leadstore

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/concierge/pkg/types"
)

// MemStore is an in-process [Store] used when no database is configured.
// Leads are lost on restart.
type MemStore struct {
	mu    sync.RWMutex
	leads map[string]types.Lead
}

var _ Store = (*MemStore)(nil)

// NewMemStore returns an empty [MemStore].
func NewMemStore() *MemStore {
	return &MemStore{leads: make(map[string]types.Lead)}
}

// Save implements [Store].
func (s *MemStore) Save(_ context.Context, lead *types.Lead) error {
	if lead.ID == "" {
		return errors.New("leadstore: save: empty id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.leads[lead.ID]; ok {
		return fmt.Errorf("leadstore: save %q: %w", lead.ID, ErrDuplicate)
	}
	cp := *lead
	cp.ServicesNeeded = slices.Clone(lead.ServicesNeeded)
	s.leads[lead.ID] = cp
	return nil
}

// Get implements [Store].
func (s *MemStore) Get(_ context.Context, id string) (*types.Lead, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lead, ok := s.leads[id]
	if !ok {
		return nil, fmt.Errorf("leadstore: get %q: %w", id, ErrNotFound)
	}
	lead.ServicesNeeded = slices.Clone(lead.ServicesNeeded)
	return &lead, nil
}

// List implements [Store].
func (s *MemStore) List(_ context.Context, limit int) ([]types.Lead, error) {
	s.mu.RLock()
	out := make([]types.Lead, 0, len(s.leads))
	for _, l := range s.leads {
		l.ServicesNeeded = slices.Clone(l.ServicesNeeded)
		out = append(out, l)
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b types.Lead) int {
		if c := b.ReceivedAt.Compare(a.ReceivedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
