package v1

import "time"

// AuthMethod is how an agent authenticates to its model provider.
type AuthMethod string

const (
	AuthMethodOAuthSubscription AuthMethod = "oauth_subscription"
	AuthMethodAPIKey            AuthMethod = "api_key"
)

// APIKeyProvider names which API-key provider is active when AuthMethod
// is AuthMethodAPIKey.
type APIKeyProvider string

const (
	APIKeyProviderAnthropic  APIKeyProvider = "anthropic"
	APIKeyProviderOpenRouter APIKeyProvider = "openrouter"
)

// Credential is the per-user record the external credential store holds.
// Only the controller's credential service reads and writes it; no other
// collaborator touches it directly.
type Credential struct {
	UserID     string     `db:"user_id" json:"userId"`
	AuthMethod AuthMethod `db:"auth_method" json:"authMethod"`
	Provider   APIKeyProvider `db:"provider" json:"provider,omitempty"`

	OAuthAccessToken  string    `db:"oauth_access_token" json:"-"`
	OAuthRefreshToken string    `db:"oauth_refresh_token" json:"-"`
	OAuthExpiresAt    time.Time `db:"oauth_expires_at" json:"oauthExpiresAt,omitempty"`

	APIKey  string `db:"api_key" json:"-"`
	BaseURL string `db:"base_url" json:"baseUrl,omitempty"`

	GitHostToken          string     `db:"git_host_token" json:"-"`
	GitHostTokenExpiresAt *time.Time `db:"git_host_token_expires_at" json:"gitHostTokenExpiresAt,omitempty"`
	GitHostRefreshedAt    *time.Time `db:"git_host_refreshed_at" json:"-"`

	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}
