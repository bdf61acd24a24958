package storage

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/SirClappington/restq/internal/domain"
)

// MemoryStore keeps realm configs in process. Useful for tests and for
// running without any durable configuration.
type MemoryStore struct {
	mu      sync.RWMutex
	configs map[string]domain.RealmConfig
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{configs: make(map[string]domain.RealmConfig)}
}

func (s *MemoryStore) Load(_ context.Context, realmID string) (domain.RealmConfig, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.configs[realmID]
	if !ok {
		return domain.RealmConfig{}, false, nil
	}
	cfg.Queues = slices.Clone(cfg.Queues)
	return cfg, true, nil
}

func (s *MemoryStore) Save(_ context.Context, realmID string, cfg domain.RealmConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg.Queues = slices.Clone(cfg.Queues)
	s.configs[realmID] = cfg
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, realmID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.configs[realmID]; !ok {
		return fmt.Errorf("realm %q: %w", realmID, domain.ErrNotFound)
	}
	delete(s.configs, realmID)
	return nil
}

func (s *MemoryStore) List(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.configs))
	for id := range s.configs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
