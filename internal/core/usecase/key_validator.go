package usecase

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/atvirokodosprendimai/keygate/internal/core/domain"
	"github.com/atvirokodosprendimai/keygate/internal/core/ports"
)

// KeyValidator resolves a presented secret to its key row. It fails closed:
// every problem is reported as an invalid Validation, never as an error.
type KeyValidator struct {
	repo ports.APIKeyRepository
	log  *zap.Logger
}

func NewKeyValidator(repo ports.APIKeyRepository, logger *zap.Logger) *KeyValidator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KeyValidator{repo: repo, log: logger}
}

func (v *KeyValidator) Validate(ctx context.Context, secret string) domain.Validation {
	if strings.TrimSpace(secret) == "" {
		return domain.Validation{Reason: domain.ReasonMissingCredential, Kind: domain.DenialInvalidCredential}
	}

	key, err := v.repo.FindByKey(ctx, secret)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Validation{Reason: domain.ReasonUnknownCredential, Kind: domain.DenialInvalidCredential}
		}
		v.log.Warn("api key lookup failed", zap.Error(err))
		return domain.Validation{Reason: domain.ReasonLookupFailed, Kind: domain.DenialUpstreamUnavailable}
	}
	return domain.Validation{Valid: true, Key: key}
}
