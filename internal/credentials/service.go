package credentials

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/driftcloud/agentcore/internal/common/config"
	"github.com/driftcloud/agentcore/internal/common/logger"
	"github.com/driftcloud/agentcore/internal/storage"
	"github.com/driftcloud/agentcore/internal/workerrpc"
	v1 "github.com/driftcloud/agentcore/pkg/api/v1"
)

// Service implements the credential provider collaborator:
// getActiveCredentials(userId), getValidOAuthToken(userId), plus
// git-host token refresh and control-plane token minting.
type Service struct {
	store    *storage.CredentialRepository
	gitHost  GitHostClient
	oauthCfg *oauth2.Config
	jwtAuth  config.AuthConfig
	log      *logger.Logger

	mu             sync.Mutex
	gitHostThrottle map[string]time.Time // userID -> last refresh attempt
}

// New builds a credential Service. gitHost may be nil if git-host
// integration is not configured; calls that need it then return an error.
func New(store *storage.CredentialRepository, gitHost GitHostClient, oauthCfg config.OAuthConfig, authCfg config.AuthConfig, log *logger.Logger) *Service {
	return &Service{
		store:   store,
		gitHost: gitHost,
		oauthCfg: &oauth2.Config{
			ClientID:     oauthCfg.ClientID,
			ClientSecret: oauthCfg.ClientSecret,
			Endpoint:     oauth2.Endpoint{TokenURL: oauthCfg.TokenURL},
		},
		jwtAuth:         authCfg,
		log:             log.WithFields(zap.String("component", "credentials")),
		gitHostThrottle: make(map[string]time.Time),
	}
}

// GetValidOAuthToken ensures the user's OAuth subscription token is
// fresh, refreshing it if it is within 5 minutes of expiry, and returns
// the current access token.
func (s *Service) GetValidOAuthToken(ctx context.Context, userID string) (string, error) {
	cred, err := s.store.Get(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("credentials: get record for %s: %w", userID, err)
	}
	if cred.AuthMethod != v1.AuthMethodOAuthSubscription {
		return "", fmt.Errorf("credentials: user %s auth method is %s, not oauth", userID, cred.AuthMethod)
	}

	if time.Until(cred.OAuthExpiresAt) > oauthRefreshWindow {
		return cred.OAuthAccessToken, nil
	}

	token, err := s.oauthCfg.TokenSource(ctx, &oauth2.Token{RefreshToken: cred.OAuthRefreshToken}).Token()
	if err != nil {
		return "", fmt.Errorf("credentials: refresh oauth token for %s: %w", userID, err)
	}

	cred.OAuthAccessToken = token.AccessToken
	if token.RefreshToken != "" {
		cred.OAuthRefreshToken = token.RefreshToken
	}
	cred.OAuthExpiresAt = token.Expiry
	if err := s.store.Upsert(ctx, cred); err != nil {
		return "", fmt.Errorf("credentials: persist refreshed oauth token for %s: %w", userID, err)
	}

	s.log.Info("refreshed oauth token", zap.String("user_id", userID))
	return cred.OAuthAccessToken, nil
}

// GetActiveCredentials builds the {K -> V} environment and provider
// config for the user's active auth method, per the three credential
// shapes the worker accepts.
func (s *Service) GetActiveCredentials(ctx context.Context, userID string) (workerrpc.CredentialEnvironment, map[string]string, error) {
	cred, err := s.store.Get(ctx, userID)
	if err != nil {
		return nil, nil, fmt.Errorf("credentials: get record for %s: %w", userID, err)
	}

	env := workerrpc.CredentialEnvironment{}
	providerConfig := map[string]string{"authMethod": string(cred.AuthMethod)}

	switch cred.AuthMethod {
	case v1.AuthMethodOAuthSubscription:
		token, err := s.GetValidOAuthToken(ctx, userID)
		if err != nil {
			return nil, nil, err
		}
		env["CLAUDE_CODE_OAUTH_TOKEN"] = token

	case v1.AuthMethodAPIKey:
		providerConfig["provider"] = string(cred.Provider)
		switch cred.Provider {
		case v1.APIKeyProviderAnthropic:
			env["ANTHROPIC_API_KEY"] = cred.APIKey

		case v1.APIKeyProviderOpenRouter:
			env["ANTHROPIC_BASE_URL"] = cred.BaseURL
			env["ANTHROPIC_AUTH_TOKEN"] = cred.APIKey
			env["ANTHROPIC_API_KEY"] = ""

		default:
			return nil, nil, fmt.Errorf("credentials: unknown api key provider %q for user %s", cred.Provider, userID)
		}

	default:
		return nil, nil, fmt.Errorf("credentials: unknown auth method %q for user %s", cred.AuthMethod, userID)
	}

	return env, providerConfig, nil
}

// RefreshGitHostToken refreshes the user's git-host token, throttled to
// once per 5 minutes. A null refresh result deletes the stored token and
// reports re-auth required; transient errors leave the token untouched.
func (s *Service) RefreshGitHostToken(ctx context.Context, userID string) (reauthRequired bool, err error) {
	if s.gitHost == nil {
		return false, errors.New("credentials: no git host client configured")
	}

	s.mu.Lock()
	last, seen := s.gitHostThrottle[userID]
	if seen && time.Since(last) < gitHostRefreshThrottle {
		s.mu.Unlock()
		return false, nil
	}
	s.gitHostThrottle[userID] = time.Now()
	s.mu.Unlock()

	token, expiresAt, err := s.gitHost.RefreshToken(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("credentials: refresh git host token for %s: %w", userID, err)
	}
	if token == "" {
		if clearErr := s.store.ClearGitHostToken(ctx, userID); clearErr != nil {
			return true, fmt.Errorf("credentials: clear git host token for %s: %w", userID, clearErr)
		}
		return true, nil
	}

	cred, err := s.store.Get(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("credentials: get record for %s: %w", userID, err)
	}
	cred.GitHostToken = token
	cred.GitHostTokenExpiresAt = &expiresAt
	now := time.Now().UTC()
	cred.GitHostRefreshedAt = &now
	if err := s.store.Upsert(ctx, cred); err != nil {
		return false, fmt.Errorf("credentials: persist git host token for %s: %w", userID, err)
	}
	return false, nil
}

// GetGitHostToken returns the user's current stored git-host token
// without attempting a refresh, the value pushed to the worker after a
// successful RefreshGitHostToken call.
func (s *Service) GetGitHostToken(ctx context.Context, userID string) (string, error) {
	cred, err := s.store.Get(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("credentials: get record for %s: %w", userID, err)
	}
	return cred.GitHostToken, nil
}

// controlPlaneClaims is the JWT claim set minted for worker-facing
// control-plane authentication.
type controlPlaneClaims struct {
	AgentID string `json:"agentId"`
	jwt.RegisteredClaims
}

// MintControlPlaneToken signs a short-lived (~15 minute) JWT identifying
// the agent, pushed to the worker via /update-ariana-token.
func (s *Service) MintControlPlaneToken(agentID string) (string, error) {
	if s.jwtAuth.JWTSecret == "" {
		return "", errors.New("credentials: no jwt secret configured")
	}
	ttl := controlPlaneTokenTTL
	if s.jwtAuth.TokenDuration > 0 {
		ttl = time.Duration(s.jwtAuth.TokenDuration) * time.Second
	}
	now := time.Now()
	claims := controlPlaneClaims{
		AgentID: agentID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.jwtAuth.JWTSecret))
}
