package usecase

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/atvirokodosprendimai/keygate/internal/core/domain"
)

// memKeyStore is an in-memory ports.APIKeyStore with the same
// compare-and-swap semantics as the SQLite adapter.
type memKeyStore struct {
	mu    sync.Mutex
	byKey map[string]domain.APIKey

	findErr        error
	casErr         error
	alwaysConflict bool
	// beforeCAS runs once, under the lock, ahead of the next swap.
	beforeCAS func(s *memKeyStore)

	casCalls    int
	transitions []domain.UsageTransition
}

func newMemKeyStore(keys ...domain.APIKey) *memKeyStore {
	s := &memKeyStore{byKey: map[string]domain.APIKey{}}
	for _, k := range keys {
		s.byKey[k.Key] = k
	}
	return s
}

func (s *memKeyStore) get(secret string) domain.APIKey {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byKey[secret]
}

func (s *memKeyStore) FindByKey(_ context.Context, key string) (domain.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return domain.APIKey{}, s.findErr
	}
	k, ok := s.byKey[key]
	if !ok {
		return domain.APIKey{}, domain.ErrNotFound
	}
	return k, nil
}

func (s *memKeyStore) CompareAndSwapUsage(_ context.Context, key string, tr domain.UsageTransition) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.casCalls++
	if hook := s.beforeCAS; hook != nil {
		s.beforeCAS = nil
		hook(s)
	}
	if s.casErr != nil {
		return false, s.casErr
	}
	if s.alwaysConflict {
		return false, nil
	}
	k, ok := s.byKey[key]
	if !ok || k.UsageState() != tr.Prev {
		return false, nil
	}
	k.CurrentUsage = tr.Next.Usage
	k.LastResetMonth = tr.Next.ResetMonth
	k.UpdatedAt = tr.At
	s.byKey[key] = k
	s.transitions = append(s.transitions, tr)
	return true, nil
}

func (s *memKeyStore) Create(_ context.Context, key domain.APIKey) (domain.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byKey[key.Key]; exists {
		return domain.APIKey{}, errors.New("duplicate key")
	}
	s.byKey[key.Key] = key
	return key, nil
}

func (s *memKeyStore) GetByID(_ context.Context, id string) (domain.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range s.byKey {
		if k.ID == id {
			return k, nil
		}
	}
	return domain.APIKey{}, domain.ErrNotFound
}

func (s *memKeyStore) ListByOwner(_ context.Context, ownerID string) ([]domain.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []domain.APIKey{}
	for _, k := range s.byKey {
		if k.OwnerID == ownerID {
			out = append(out, k)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *memKeyStore) UpdateSettings(_ context.Context, key domain.APIKey) (domain.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for secret, k := range s.byKey {
		if k.ID != key.ID {
			continue
		}
		k.Name = key.Name
		k.Description = key.Description
		k.Permissions = key.Permissions
		k.LimitEnabled = key.LimitEnabled
		k.MonthlyLimit = key.MonthlyLimit
		k.UpdatedAt = key.UpdatedAt
		s.byKey[secret] = k
		return k, nil
	}
	return domain.APIKey{}, domain.ErrNotFound
}

func (s *memKeyStore) Delete(_ context.Context, key domain.APIKey) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for secret, k := range s.byKey {
		if k.ID == key.ID {
			delete(s.byKey, secret)
			return true, nil
		}
	}
	return false, nil
}
