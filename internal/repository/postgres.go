package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/AI-codelabs/leadloopr-integrations/internal/domain"
)

// Compile-time interface assertions.
var (
	_ CredentialRepository = (*PostgresCredentialRepo)(nil)
	_ LeadRepository       = (*PostgresLeadRepo)(nil)
	_ OrgRepository        = (*PostgresOrgRepo)(nil)
)

const credentialColumns = `id, org_id, provider, access_token, refresh_token, expires_at, external_account_id, settings, is_active, last_error, created_at, updated_at`

// PostgresCredentialRepo implements CredentialRepository over pgx.
type PostgresCredentialRepo struct {
	db *pgxpool.Pool
}

func NewPostgresCredentialRepo(pool *pgxpool.Pool) *PostgresCredentialRepo {
	return &PostgresCredentialRepo{db: pool}
}

func (r *PostgresCredentialRepo) Get(ctx context.Context, orgID int64, provider domain.Provider) (domain.Credential, error) {
	query := fmt.Sprintf(`SELECT %s FROM integration_credentials WHERE org_id = $1 AND provider = $2`, credentialColumns)
	cred, err := scanCredential(r.db.QueryRow(ctx, query, orgID, provider))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Credential{}, ErrNotFound
		}
		return domain.Credential{}, fmt.Errorf("get credential: %w", err)
	}
	return cred, nil
}

const upsertCredentialSQL = `
INSERT INTO integration_credentials (id, org_id, provider, access_token, refresh_token, expires_at, external_account_id, settings, is_active, last_error)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NULL)
ON CONFLICT (org_id, provider) DO UPDATE SET
	access_token = EXCLUDED.access_token,
	refresh_token = EXCLUDED.refresh_token,
	expires_at = EXCLUDED.expires_at,
	is_active = integration_credentials.external_account_id <> '',
	last_error = NULL,
	updated_at = now()
RETURNING ` + credentialColumns

// Upsert writes the credential created by the OAuth callback. A reconnect for
// an already-selected account restores is_active; a first connect stays
// inactive until account selection completes.
func (r *PostgresCredentialRepo) Upsert(ctx context.Context, cred domain.Credential) (domain.Credential, error) {
	settings, err := json.Marshal(cred.Settings)
	if err != nil {
		return domain.Credential{}, fmt.Errorf("encode settings: %w", err)
	}
	row := r.db.QueryRow(ctx, upsertCredentialSQL,
		cred.ID,
		cred.OrgID,
		cred.Provider,
		cred.AccessToken,
		nullIfEmpty(cred.RefreshToken),
		cred.ExpiresAt,
		cred.ExternalAccountID,
		settings,
		cred.IsActive,
	)
	saved, err := scanCredential(row)
	if err != nil {
		return domain.Credential{}, fmt.Errorf("upsert credential: %w", err)
	}
	return saved, nil
}

const updateTokensSQL = `
UPDATE integration_credentials
SET access_token = $4,
	refresh_token = $5,
	expires_at = $6,
	is_active = TRUE,
	last_error = NULL,
	updated_at = now()
WHERE org_id = $1 AND provider = $2 AND access_token = $3
RETURNING ` + credentialColumns

// UpdateTokens applies a refresh result conditionally: the row is written only
// if the access token still matches the value read before the exchange. A
// concurrent refresh that already replaced the token surfaces as
// ErrStaleCredential so the caller can re-read the winning row.
func (r *PostgresCredentialRepo) UpdateTokens(ctx context.Context, p UpdateTokensParams) (domain.Credential, error) {
	row := r.db.QueryRow(ctx, updateTokensSQL,
		p.OrgID,
		p.Provider,
		p.PreviousAccessToken,
		p.AccessToken,
		nullIfEmpty(p.RefreshToken),
		p.ExpiresAt,
	)
	cred, err := scanCredential(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Credential{}, ErrStaleCredential
		}
		return domain.Credential{}, fmt.Errorf("update tokens: %w", err)
	}
	return cred, nil
}

const setAccountSQL = `
UPDATE integration_credentials
SET external_account_id = $3,
	settings = $4,
	is_active = TRUE,
	last_error = NULL,
	updated_at = now()
WHERE org_id = $1 AND provider = $2
RETURNING ` + credentialColumns

func (r *PostgresCredentialRepo) SetAccount(ctx context.Context, orgID int64, provider domain.Provider, externalAccountID string, settings domain.CredentialSettings) (domain.Credential, error) {
	encoded, err := json.Marshal(settings)
	if err != nil {
		return domain.Credential{}, fmt.Errorf("encode settings: %w", err)
	}
	cred, err := scanCredential(r.db.QueryRow(ctx, setAccountSQL, orgID, provider, externalAccountID, encoded))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Credential{}, ErrNotFound
		}
		return domain.Credential{}, fmt.Errorf("set account: %w", err)
	}
	return cred, nil
}

func (r *PostgresCredentialRepo) MarkRefreshFailed(ctx context.Context, orgID int64, provider domain.Provider, lastError string) error {
	const query = `
UPDATE integration_credentials
SET is_active = FALSE, last_error = $3, updated_at = now()
WHERE org_id = $1 AND provider = $2`
	if _, err := r.db.Exec(ctx, query, orgID, provider, lastError); err != nil {
		return fmt.Errorf("mark refresh failed: %w", err)
	}
	return nil
}

func (r *PostgresCredentialRepo) Delete(ctx context.Context, orgID int64, provider domain.Provider) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM integration_credentials WHERE org_id = $1 AND provider = $2`, orgID, provider)
	if err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// PostgresLeadRepo implements LeadRepository.
type PostgresLeadRepo struct {
	db *pgxpool.Pool
}

func NewPostgresLeadRepo(pool *pgxpool.Pool) *PostgresLeadRepo {
	return &PostgresLeadRepo{db: pool}
}

func (r *PostgresLeadRepo) Get(ctx context.Context, orgID, leadID int64) (domain.Lead, error) {
	const query = `
SELECT id, org_id, name, email, phone, gclid, fbclid, msclkid, value, currency, synced_at, created_at
FROM leads
WHERE org_id = $1 AND id = $2`

	var (
		lead     domain.Lead
		gclid    *string
		fbclid   *string
		msclkid  *string
		syncedAt *time.Time
	)
	err := r.db.QueryRow(ctx, query, orgID, leadID).Scan(
		&lead.ID,
		&lead.OrgID,
		&lead.Name,
		&lead.Email,
		&lead.Phone,
		&gclid,
		&fbclid,
		&msclkid,
		&lead.Value,
		&lead.Currency,
		&syncedAt,
		&lead.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Lead{}, ErrNotFound
		}
		return domain.Lead{}, fmt.Errorf("get lead: %w", err)
	}
	lead.GCLID = deref(gclid)
	lead.FBCLID = deref(fbclid)
	lead.MSCLKID = deref(msclkid)
	lead.SyncedAt = syncedAt
	return lead, nil
}

// MarkSynced stamps the lead. Re-sending an already-synced lead just moves the
// timestamp forward.
func (r *PostgresLeadRepo) MarkSynced(ctx context.Context, orgID, leadID int64, at time.Time) error {
	tag, err := r.db.Exec(ctx, `UPDATE leads SET synced_at = $3 WHERE org_id = $1 AND id = $2`, orgID, leadID, at)
	if err != nil {
		return fmt.Errorf("mark synced: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// PostgresOrgRepo implements OrgRepository.
type PostgresOrgRepo struct {
	db *pgxpool.Pool
}

func NewPostgresOrgRepo(pool *pgxpool.Pool) *PostgresOrgRepo {
	return &PostgresOrgRepo{db: pool}
}

func (r *PostgresOrgRepo) GetOrg(ctx context.Context, orgID int64) (domain.Org, error) {
	return r.getOrg(ctx, `SELECT id, slug, name, status, created_at, updated_at FROM orgs WHERE id = $1`, orgID)
}

func (r *PostgresOrgRepo) GetOrgBySlug(ctx context.Context, slug string) (domain.Org, error) {
	return r.getOrg(ctx, `SELECT id, slug, name, status, created_at, updated_at FROM orgs WHERE slug = $1`, slug)
}

func (r *PostgresOrgRepo) getOrg(ctx context.Context, query string, arg any) (domain.Org, error) {
	var org domain.Org
	err := r.db.QueryRow(ctx, query, arg).Scan(
		&org.ID,
		&org.Slug,
		&org.Name,
		&org.Status,
		&org.CreatedAt,
		&org.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Org{}, ErrNotFound
		}
		return domain.Org{}, fmt.Errorf("get org: %w", err)
	}
	return org, nil
}

type credentialRow interface {
	Scan(dest ...any) error
}

func scanCredential(row credentialRow) (domain.Credential, error) {
	var (
		cred      domain.Credential
		refresh   *string
		lastError *string
		settings  []byte
	)
	if err := row.Scan(
		&cred.ID,
		&cred.OrgID,
		&cred.Provider,
		&cred.AccessToken,
		&refresh,
		&cred.ExpiresAt,
		&cred.ExternalAccountID,
		&settings,
		&cred.IsActive,
		&lastError,
		&cred.CreatedAt,
		&cred.UpdatedAt,
	); err != nil {
		return domain.Credential{}, err
	}
	cred.RefreshToken = deref(refresh)
	cred.LastError = deref(lastError)
	if len(settings) > 0 {
		if err := json.Unmarshal(settings, &cred.Settings); err != nil {
			return domain.Credential{}, fmt.Errorf("decode settings: %w", err)
		}
	}
	return cred, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
