package usecase

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/atvirokodosprendimai/keygate/internal/core/domain"
	"github.com/atvirokodosprendimai/keygate/internal/core/ports"
)

const secretPrefix = "sk_"

// KeyService is the owner-facing key lifecycle. Usage columns are never
// written here; the store records a lifecycle event with each change.
type KeyService struct {
	store ports.APIKeyStore
	now   func() time.Time
	log   *zap.Logger
}

func NewKeyService(store ports.APIKeyStore, logger *zap.Logger) *KeyService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KeyService{store: store, now: time.Now, log: logger}
}

// GenerateSecret returns "sk_" followed by 48 hex characters.
func GenerateSecret() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return secretPrefix + hex.EncodeToString(buf), nil
}

func (s *KeyService) Issue(ctx context.Context, ownerID string, in domain.NewKey) (domain.APIKey, error) {
	secret, err := GenerateSecret()
	if err != nil {
		return domain.APIKey{}, err
	}
	return s.create(ctx, ownerID, secret, in)
}

// Import registers a caller-supplied secret. It is a no-op returning the
// existing row when the secret is already stored for the same owner.
func (s *KeyService) Import(ctx context.Context, ownerID, secret string, in domain.NewKey) (domain.APIKey, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return domain.APIKey{}, domain.ErrInvalidInput
	}
	existing, err := s.store.FindByKey(ctx, secret)
	switch {
	case err == nil:
		if existing.OwnerID != ownerID {
			return domain.APIKey{}, domain.ErrForbidden
		}
		return existing, nil
	case !errors.Is(err, domain.ErrNotFound):
		return domain.APIKey{}, err
	}
	return s.create(ctx, ownerID, secret, in)
}

func (s *KeyService) create(ctx context.Context, ownerID, secret string, in domain.NewKey) (domain.APIKey, error) {
	if err := domain.ValidateOwnerID(ownerID); err != nil {
		return domain.APIKey{}, err
	}
	if err := in.Validate(); err != nil {
		return domain.APIKey{}, err
	}

	now := s.now().UTC()
	key, err := s.store.Create(ctx, domain.APIKey{
		ID:           uuid.NewString(),
		Key:          secret,
		OwnerID:      ownerID,
		Name:         strings.TrimSpace(in.Name),
		Description:  in.Description,
		Permissions:  in.Permissions,
		LimitEnabled: in.LimitEnabled,
		MonthlyLimit: in.MonthlyLimit,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		return domain.APIKey{}, err
	}
	s.log.Info("api key issued", zap.String("owner_id", ownerID), zap.String("key_id", key.ID))
	return key, nil
}

func (s *KeyService) List(ctx context.Context, ownerID string) ([]domain.APIKey, error) {
	if err := domain.ValidateOwnerID(ownerID); err != nil {
		return nil, err
	}
	return s.store.ListByOwner(ctx, ownerID)
}

// Get hides keys of other owners behind ErrNotFound.
func (s *KeyService) Get(ctx context.Context, ownerID, id string) (domain.APIKey, error) {
	if err := domain.ValidateOwnerID(ownerID); err != nil {
		return domain.APIKey{}, err
	}
	key, err := s.store.GetByID(ctx, id)
	if err != nil {
		return domain.APIKey{}, err
	}
	if key.OwnerID != ownerID {
		return domain.APIKey{}, domain.ErrNotFound
	}
	return key, nil
}

func (s *KeyService) Update(ctx context.Context, ownerID, id string, patch domain.KeyPatch) (domain.APIKey, error) {
	if patch.Empty() {
		return domain.APIKey{}, domain.ErrInvalidInput
	}
	key, err := s.Get(ctx, ownerID, id)
	if err != nil {
		return domain.APIKey{}, err
	}
	updated, err := patch.Apply(key)
	if err != nil {
		return domain.APIKey{}, err
	}
	updated.UpdatedAt = s.now().UTC()
	return s.store.UpdateSettings(ctx, updated)
}

func (s *KeyService) Revoke(ctx context.Context, ownerID, id string) error {
	key, err := s.Get(ctx, ownerID, id)
	if err != nil {
		return err
	}
	deleted, err := s.store.Delete(ctx, key)
	if err != nil {
		return err
	}
	if !deleted {
		return domain.ErrNotFound
	}
	s.log.Info("api key revoked", zap.String("owner_id", ownerID), zap.String("key_id", key.ID))
	return nil
}
