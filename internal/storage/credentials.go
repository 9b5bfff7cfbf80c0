package storage

import (
	"context"
	"time"

	"github.com/driftcloud/agentcore/internal/db"
	"github.com/driftcloud/agentcore/internal/secrets"
	v1 "github.com/driftcloud/agentcore/pkg/api/v1"
)

// CredentialRepository stores per-user provider credentials and git-host
// tokens. OAuth/API-key/git-host tokens are held in EncryptedString
// columns — plaintext never touches disk.
type CredentialRepository struct {
	pool   *db.Pool
	driver string
}

const credentialColumns = `user_id, auth_method, provider, oauth_access_token, oauth_refresh_token,
	oauth_expires_at, api_key, base_url, git_host_token, git_host_token_expires_at,
	git_host_refreshed_at, updated_at`

func scanCredential(row interface{ Scan(dest ...any) error }) (*v1.Credential, error) {
	c := &v1.Credential{}
	var accessTok, refreshTok, apiKey, gitTok secrets.EncryptedString
	if err := row.Scan(
		&c.UserID, &c.AuthMethod, &c.Provider, &accessTok, &refreshTok,
		&c.OAuthExpiresAt, &apiKey, &c.BaseURL, &gitTok, &c.GitHostTokenExpiresAt,
		&c.GitHostRefreshedAt, &c.UpdatedAt,
	); err != nil {
		return nil, err
	}
	c.OAuthAccessToken = string(accessTok)
	c.OAuthRefreshToken = string(refreshTok)
	c.APIKey = string(apiKey)
	c.GitHostToken = string(gitTok)
	return c, nil
}

// Get fetches a user's credential record. Returns sql.ErrNoRows if none
// has ever been saved.
func (r *CredentialRepository) Get(ctx context.Context, userID string) (*v1.Credential, error) {
	row := r.pool.Reader().QueryRowxContext(ctx, r.pool.Reader().Rebind(
		`SELECT `+credentialColumns+` FROM user_credentials WHERE user_id = ?`), userID)
	return scanCredential(row)
}

// Upsert writes a user's credential record, replacing any existing one.
func (r *CredentialRepository) Upsert(ctx context.Context, c *v1.Credential) error {
	c.UpdatedAt = time.Now().UTC()
	_, err := r.pool.Writer().ExecContext(ctx, r.pool.Writer().Rebind(`
		INSERT INTO user_credentials (`+credentialColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			auth_method = excluded.auth_method,
			provider = excluded.provider,
			oauth_access_token = excluded.oauth_access_token,
			oauth_refresh_token = excluded.oauth_refresh_token,
			oauth_expires_at = excluded.oauth_expires_at,
			api_key = excluded.api_key,
			base_url = excluded.base_url,
			git_host_token = excluded.git_host_token,
			git_host_token_expires_at = excluded.git_host_token_expires_at,
			git_host_refreshed_at = excluded.git_host_refreshed_at,
			updated_at = excluded.updated_at
	`), c.UserID, c.AuthMethod, c.Provider,
		secrets.EncryptedString(c.OAuthAccessToken), secrets.EncryptedString(c.OAuthRefreshToken),
		c.OAuthExpiresAt, secrets.EncryptedString(c.APIKey), c.BaseURL,
		secrets.EncryptedString(c.GitHostToken), c.GitHostTokenExpiresAt, c.GitHostRefreshedAt, c.UpdatedAt)
	return err
}

// ClearGitHostToken deletes the stored git-host token without touching
// provider credentials — the explicit re-auth-required path.
func (r *CredentialRepository) ClearGitHostToken(ctx context.Context, userID string) error {
	_, err := r.pool.Writer().ExecContext(ctx, r.pool.Writer().Rebind(`
		UPDATE user_credentials SET git_host_token = '', git_host_token_expires_at = NULL, updated_at = ?
		WHERE user_id = ?
	`), time.Now().UTC(), userID)
	return err
}
