package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/AI-codelabs/leadloopr-integrations/internal/adapter/provider"
	"github.com/AI-codelabs/leadloopr-integrations/internal/domain"
	"github.com/AI-codelabs/leadloopr-integrations/internal/repository"
)

const maxResponseBytes = 1 << 20

// TokenSource hands out access tokens valid for the immediate request.
type TokenSource interface {
	GetValidAccessToken(ctx context.Context, orgID int64, p domain.Provider) (string, error)
}

// Service forwards lead conversion events to the provider attribution APIs.
// Dispatch failures are request-level: the credential is never deactivated
// here, only the refresh engine does that.
type Service struct {
	leads      repository.LeadRepository
	creds      repository.CredentialRepository
	tokens     TokenSource
	adapters   *provider.Registry
	httpClient *http.Client
	now        func() time.Time
	logger     *zap.Logger
}

// NewService wires the dispatcher. A nil httpClient gets a 15s timeout
// client; timeouts surface as DispatchError and are never retried.
func NewService(
	leads repository.LeadRepository,
	creds repository.CredentialRepository,
	tokens TokenSource,
	adapters *provider.Registry,
	httpClient *http.Client,
	logger *zap.Logger,
) *Service {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		leads:      leads,
		creds:      creds,
		tokens:     tokens,
		adapters:   adapters,
		httpClient: httpClient,
		now:        time.Now,
		logger:     logger,
	}
}

// SendConversion pushes the lead's conversion event to the provider.
// Attribution validation happens before any network call; token errors
// propagate unchanged so callers can distinguish "never connected" from
// "connection broken". Re-sending an already-synced lead is allowed and
// just moves the sync timestamp.
func (s *Service) SendConversion(ctx context.Context, orgID, leadID int64, p domain.Provider) (domain.DispatchOutcome, error) {
	lead, err := s.leads.Get(ctx, orgID, leadID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.DispatchOutcome{}, domain.ErrLeadNotFound
		}
		return domain.DispatchOutcome{}, fmt.Errorf("load lead: %w", err)
	}

	cred, err := s.creds.Get(ctx, orgID, p)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.DispatchOutcome{}, domain.ErrNotConnected
		}
		return domain.DispatchOutcome{}, fmt.Errorf("load credential: %w", err)
	}

	adapter, err := s.adapters.Get(p)
	if err != nil {
		return domain.DispatchOutcome{}, err
	}

	// Fail fast on missing attribution before any token refresh or API call.
	payload, err := adapter.BuildConversionPayload(cred, lead)
	if err != nil {
		return domain.DispatchOutcome{}, err
	}
	endpoint, err := adapter.ConversionEndpoint(cred)
	if err != nil {
		return domain.DispatchOutcome{}, err
	}

	var accessToken string
	if !payload.NoAuth {
		accessToken, err = s.tokens.GetValidAccessToken(ctx, orgID, p)
		if err != nil {
			return domain.DispatchOutcome{}, err
		}
	}

	status, body, err := s.post(ctx, endpoint, accessToken, payload)
	if err != nil {
		return domain.DispatchOutcome{}, &domain.DispatchError{Provider: p, StatusCode: status, Body: err.Error()}
	}
	if status < 200 || status > 299 {
		s.logger.Warn("conversion dispatch rejected",
			zap.Int64("org_id", orgID),
			zap.Int64("lead_id", leadID),
			zap.String("provider", p.String()),
			zap.Int("status", status),
		)
		return domain.DispatchOutcome{}, &domain.DispatchError{Provider: p, StatusCode: status, Body: string(body)}
	}
	if err := adapter.CheckResponse(status, body); err != nil {
		s.logger.Warn("conversion dispatch partial failure",
			zap.Int64("org_id", orgID),
			zap.Int64("lead_id", leadID),
			zap.String("provider", p.String()),
			zap.String("detail", err.Error()),
		)
		return domain.DispatchOutcome{}, &domain.DispatchError{Provider: p, StatusCode: status, Body: string(body)}
	}

	syncedAt := s.now()
	if err := s.leads.MarkSynced(ctx, orgID, leadID, syncedAt); err != nil {
		return domain.DispatchOutcome{}, fmt.Errorf("mark lead synced: %w", err)
	}

	s.logger.Info("conversion dispatched",
		zap.Int64("org_id", orgID),
		zap.Int64("lead_id", leadID),
		zap.String("provider", p.String()),
	)
	return domain.DispatchOutcome{Provider: p, LeadID: leadID, SyncedAt: syncedAt}, nil
}

func (s *Service) post(ctx context.Context, endpoint, accessToken string, payload provider.ConversionPayload) (int, []byte, error) {
	encoded, err := json.Marshal(payload.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(encoded))
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for key, values := range payload.Headers {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}

	query := req.URL.Query()
	for key, values := range payload.Query {
		for _, v := range values {
			query.Add(key, v)
		}
	}
	switch {
	case payload.NoAuth:
	case payload.TokenQueryParam != "":
		query.Set(payload.TokenQueryParam, accessToken)
	default:
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}
	req.URL.RawQuery = query.Encode()

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("dispatch request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, []byte(strings.TrimSpace(string(body))), nil
}
