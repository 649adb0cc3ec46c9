package integration

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"

	"github.com/AI-codelabs/leadloopr-integrations/internal/adapter/provider"
	"github.com/AI-codelabs/leadloopr-integrations/internal/domain"
	"github.com/AI-codelabs/leadloopr-integrations/internal/repository"
)

const (
	statePrefix = "integration:state:"
	stateTTL    = 10 * time.Minute
)

// TokenSource hands out access tokens valid for the immediate request.
type TokenSource interface {
	GetValidAccessToken(ctx context.Context, orgID int64, p domain.Provider) (string, error)
}

// Service owns the provider connection lifecycle: connect redirect, callback,
// account selection, status reporting, disconnect.
type Service struct {
	creds      repository.CredentialRepository
	stateStore repository.ConnectStateStore
	adapters   *provider.Registry
	tokens     TokenSource
	node       *snowflake.Node
	skew       time.Duration
	now        func() time.Time
	logger     *zap.Logger
}

// NewService wires the integration service.
func NewService(
	creds repository.CredentialRepository,
	stateStore repository.ConnectStateStore,
	adapters *provider.Registry,
	tokens TokenSource,
	node *snowflake.Node,
	skew time.Duration,
	logger *zap.Logger,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		creds:      creds,
		stateStore: stateStore,
		adapters:   adapters,
		tokens:     tokens,
		node:       node,
		skew:       skew,
		now:        time.Now,
		logger:     logger,
	}
}

// Connect prepares the provider authorization URL and persists the CSRF state.
func (s *Service) Connect(ctx context.Context, orgID int64, p domain.Provider, redirectURI string) (string, error) {
	if strings.TrimSpace(redirectURI) == "" {
		return "", fmt.Errorf("connect: redirect uri required")
	}
	adapter, err := s.adapters.Get(p)
	if err != nil {
		return "", err
	}

	state, err := secureRandomString(32)
	if err != nil {
		return "", fmt.Errorf("generate state: %w", err)
	}

	err = s.stateStore.SaveState(ctx, buildStateKey(state), domain.ConnectState{
		State:       state,
		OrgID:       orgID,
		Provider:    p,
		RedirectURI: redirectURI,
		CreatedAt:   s.now(),
	}, stateTTL)
	if err != nil {
		return "", fmt.Errorf("persist state: %w", err)
	}

	return adapter.AuthorizationURL(state, redirectURI), nil
}

// HandleCallback validates the state, exchanges the authorization code, and
// stores the credential row. The integration stays inactive until account
// selection completes.
func (s *Service) HandleCallback(ctx context.Context, p domain.Provider, code, state string) (domain.StatusReport, error) {
	if strings.TrimSpace(code) == "" || strings.TrimSpace(state) == "" {
		return domain.StatusReport{}, fmt.Errorf("%w: code or state missing", domain.ErrInvalidState)
	}

	stored, err := s.stateStore.GetState(ctx, buildStateKey(state))
	if err != nil {
		return domain.StatusReport{}, fmt.Errorf("load state: %w", err)
	}
	if stored == nil || stored.Provider != p {
		return domain.StatusReport{}, domain.ErrInvalidState
	}
	if err := s.stateStore.DeleteState(ctx, buildStateKey(state)); err != nil {
		s.logger.Warn("failed to delete connect state", zap.Error(err))
	}

	adapter, err := s.adapters.Get(p)
	if err != nil {
		return domain.StatusReport{}, err
	}

	result, err := adapter.ExchangeCode(ctx, code, stored.RedirectURI)
	if err != nil {
		return domain.StatusReport{}, fmt.Errorf("exchange code: %w", err)
	}

	cred, err := s.creds.Upsert(ctx, domain.Credential{
		ID:           s.node.Generate().Int64(),
		OrgID:        stored.OrgID,
		Provider:     p,
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
		ExpiresAt:    s.now().Add(time.Duration(result.ExpiresIn) * time.Second),
		IsActive:     false,
	})
	if err != nil {
		return domain.StatusReport{}, fmt.Errorf("store credential: %w", err)
	}

	s.logger.Info("provider connected",
		zap.Int64("org_id", cred.OrgID),
		zap.String("provider", p.String()),
		zap.Bool("has_refresh_token", cred.RefreshToken != ""),
	)
	return s.deriveStatus(cred, adapter), nil
}

// ListAccounts enumerates the selectable sub-accounts for the connected
// provider, refreshing the access token on demand.
func (s *Service) ListAccounts(ctx context.Context, orgID int64, p domain.Provider) ([]domain.ExternalAccount, error) {
	adapter, err := s.adapters.Get(p)
	if err != nil {
		return nil, err
	}
	accessToken, err := s.tokens.GetValidAccessToken(ctx, orgID, p)
	if err != nil {
		return nil, err
	}
	accounts, err := adapter.ListAccounts(ctx, accessToken)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	return accounts, nil
}

// SelectAccount records the chosen sub-account and provider settings and
// activates the integration.
func (s *Service) SelectAccount(ctx context.Context, orgID int64, p domain.Provider, externalAccountID string, settings domain.CredentialSettings) (domain.StatusReport, error) {
	if strings.TrimSpace(externalAccountID) == "" {
		return domain.StatusReport{}, fmt.Errorf("select account: account id required")
	}
	adapter, err := s.adapters.Get(p)
	if err != nil {
		return domain.StatusReport{}, err
	}
	cred, err := s.creds.SetAccount(ctx, orgID, p, externalAccountID, settings)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.StatusReport{}, domain.ErrNotConnected
		}
		return domain.StatusReport{}, fmt.Errorf("select account: %w", err)
	}
	return s.deriveStatus(cred, adapter), nil
}

// Disconnect attempts a best-effort remote revocation, then deletes the row.
// Revocation failure is logged but never blocks the delete.
func (s *Service) Disconnect(ctx context.Context, orgID int64, p domain.Provider) error {
	adapter, err := s.adapters.Get(p)
	if err != nil {
		return err
	}
	cred, err := s.creds.Get(ctx, orgID, p)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.ErrNotConnected
		}
		return fmt.Errorf("load credential: %w", err)
	}

	if err := adapter.Revoke(ctx, cred); err != nil {
		s.logger.Warn("remote token revocation failed",
			zap.Int64("org_id", orgID),
			zap.String("provider", p.String()),
			zap.Error(err),
		)
	}

	if err := s.creds.Delete(ctx, orgID, p); err != nil && !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("delete credential: %w", err)
	}
	s.logger.Info("provider disconnected", zap.Int64("org_id", orgID), zap.String("provider", p.String()))
	return nil
}

// Status reports the connection state for one provider. Status checks are
// cheap: no network calls, staleness with a usable refresh path still reports
// connected and defers the refresh to the next dispatch.
func (s *Service) Status(ctx context.Context, orgID int64, p domain.Provider) (domain.StatusReport, error) {
	adapter, err := s.adapters.Get(p)
	if err != nil {
		return domain.StatusReport{}, err
	}
	cred, err := s.creds.Get(ctx, orgID, p)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.StatusReport{
				Provider:  p,
				Connected: false,
				Status:    domain.StatusNotConnected,
			}, nil
		}
		return domain.StatusReport{}, fmt.Errorf("load credential: %w", err)
	}
	return s.deriveStatus(cred, adapter), nil
}

// StatusAll reports every supported provider for the org.
func (s *Service) StatusAll(ctx context.Context, orgID int64) ([]domain.StatusReport, error) {
	reports := make([]domain.StatusReport, 0, len(domain.Providers()))
	for _, p := range domain.Providers() {
		report, err := s.Status(ctx, orgID, p)
		if err != nil {
			return nil, err
		}
		reports = append(reports, report)
	}
	return reports, nil
}

func buildStateKey(state string) string {
	return statePrefix + state
}

func secureRandomString(bytes int) (string, error) {
	buf := make([]byte, bytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
