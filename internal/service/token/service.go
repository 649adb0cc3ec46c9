package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/AI-codelabs/leadloopr-integrations/internal/adapter/provider"
	"github.com/AI-codelabs/leadloopr-integrations/internal/domain"
	"github.com/AI-codelabs/leadloopr-integrations/internal/repository"
)

// DefaultSkew is the safety margin subtracted from token expiry before a
// refresh is forced. It covers clock drift and in-flight request latency.
const DefaultSkew = 5 * time.Minute

// Service is the token refresh engine: it hands out access tokens that are
// guaranteed valid for at least the immediate request, refreshing on demand.
type Service struct {
	creds    repository.CredentialRepository
	adapters *provider.Registry
	skew     time.Duration
	now      func() time.Time
	logger   *zap.Logger
}

// NewService wires the refresh engine. A non-positive skew falls back to
// DefaultSkew.
func NewService(creds repository.CredentialRepository, adapters *provider.Registry, skew time.Duration, logger *zap.Logger) *Service {
	if skew <= 0 {
		skew = DefaultSkew
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		creds:    creds,
		adapters: adapters,
		skew:     skew,
		now:      time.Now,
		logger:   logger,
	}
}

// GetValidAccessToken returns a cached access token when it is still fresh,
// or performs the provider-specific refresh exchange and persists the result.
// Failures are tagged: domain.ErrNotConnected when no credential exists,
// domain.ErrRefreshFailed when the exchange was rejected (the credential is
// marked inactive and needs reauthorization).
func (s *Service) GetValidAccessToken(ctx context.Context, orgID int64, p domain.Provider) (string, error) {
	cred, err := s.creds.Get(ctx, orgID, p)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", domain.ErrNotConnected
		}
		return "", fmt.Errorf("load credential: %w", err)
	}

	// Fast path: cached token still valid beyond the skew window, no network.
	if !cred.Stale(s.now(), s.skew) {
		return cred.AccessToken, nil
	}

	return s.refresh(ctx, cred)
}

func (s *Service) refresh(ctx context.Context, cred domain.Credential) (string, error) {
	adapter, err := s.adapters.Get(cred.Provider)
	if err != nil {
		return "", err
	}

	result, err := adapter.Refresh(ctx, cred)
	if err != nil {
		detail := err.Error()
		if markErr := s.creds.MarkRefreshFailed(ctx, cred.OrgID, cred.Provider, detail); markErr != nil {
			s.logger.Error("failed to persist refresh failure",
				zap.Int64("org_id", cred.OrgID),
				zap.String("provider", cred.Provider.String()),
				zap.Error(markErr),
			)
		}
		s.logger.Warn("token refresh rejected",
			zap.Int64("org_id", cred.OrgID),
			zap.String("provider", cred.Provider.String()),
			zap.String("detail", detail),
		)
		return "", fmt.Errorf("refresh %s: %s: %w", cred.Provider, detail, domain.ErrRefreshFailed)
	}

	refreshToken := result.RefreshToken
	if refreshToken == "" {
		// Providers that do not rotate keep the original refresh token.
		refreshToken = cred.RefreshToken
	}

	updated, err := s.creds.UpdateTokens(ctx, repository.UpdateTokensParams{
		OrgID:               cred.OrgID,
		Provider:            cred.Provider,
		PreviousAccessToken: cred.AccessToken,
		AccessToken:         result.AccessToken,
		RefreshToken:        refreshToken,
		ExpiresAt:           s.now().Add(time.Duration(result.ExpiresIn) * time.Second),
	})
	if err != nil {
		if errors.Is(err, repository.ErrStaleCredential) {
			// A concurrent refresh won the write. Prefer the winning row so
			// callers reading after that write all see the same token; our
			// own exchange result stays usable as a fallback.
			current, getErr := s.creds.Get(ctx, cred.OrgID, cred.Provider)
			if getErr == nil && !current.Stale(s.now(), s.skew) {
				return current.AccessToken, nil
			}
			s.logger.Debug("concurrent refresh superseded this exchange",
				zap.Int64("org_id", cred.OrgID),
				zap.String("provider", cred.Provider.String()),
			)
			return result.AccessToken, nil
		}
		return "", fmt.Errorf("persist refreshed tokens: %w", err)
	}

	s.logger.Info("access token refreshed",
		zap.Int64("org_id", cred.OrgID),
		zap.String("provider", cred.Provider.String()),
		zap.Time("expires_at", updated.ExpiresAt),
	)
	return updated.AccessToken, nil
}

// Skew exposes the configured staleness margin for status derivation.
func (s *Service) Skew() time.Duration {
	return s.skew
}
