package credentials

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/driftcloud/agentcore/internal/common/config"
	"github.com/driftcloud/agentcore/internal/common/logger"
	"github.com/driftcloud/agentcore/internal/storage"
	v1 "github.com/driftcloud/agentcore/pkg/api/v1"
)

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      "debug",
		Format:     "console",
		OutputPath: "stdout",
	})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	return log
}

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()
	cfg := &config.Config{}
	cfg.Database.Path = filepath.Join(t.TempDir(), "creds.db")
	store, closeFn, err := storage.Provide(cfg)
	if err != nil {
		t.Fatalf("Provide: %v", err)
	}
	t.Cleanup(func() { _ = closeFn() })
	return store
}

// fakeGitHost is a minimal GitHostClient stand-in for exercising
// RefreshGitHostToken without a real git host.
type fakeGitHost struct {
	token     string
	expiresAt time.Time
	err       error
	calls     int
}

func (f *fakeGitHost) GetValidToken(ctx context.Context, userID string) (string, error) {
	return f.token, f.err
}

func (f *fakeGitHost) GetPullRequestState(ctx context.Context, repoFullName string, prNumber int) (*PullRequestState, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeGitHost) FindLatestPRForBranch(ctx context.Context, repoFullName, branch string) (*PullRequestState, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeGitHost) GetDefaultBranch(ctx context.Context, repoFullName string) (string, error) {
	return "main", nil
}

func (f *fakeGitHost) RefreshToken(ctx context.Context, userID string) (string, time.Time, error) {
	f.calls++
	return f.token, f.expiresAt, f.err
}

func newTestService(t *testing.T, gitHost GitHostClient) (*Service, *storage.Store) {
	t.Helper()
	store := newTestStore(t)
	svc := New(store.Credentials, gitHost, config.OAuthConfig{}, config.AuthConfig{JWTSecret: "test-secret", TokenDuration: 900}, newTestLogger(t))
	return svc, store
}

func TestGetActiveCredentialsAnthropic(t *testing.T) {
	svc, store := newTestService(t, nil)
	ctx := context.Background()

	cred := &v1.Credential{
		UserID:     "user-1",
		AuthMethod: v1.AuthMethodAPIKey,
		Provider:   v1.APIKeyProviderAnthropic,
		APIKey:     "sk-ant-test",
		UpdatedAt:  time.Now().UTC(),
	}
	if err := store.Credentials.Upsert(ctx, cred); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	env, providerConfig, err := svc.GetActiveCredentials(ctx, "user-1")
	if err != nil {
		t.Fatalf("GetActiveCredentials: %v", err)
	}
	if env["ANTHROPIC_API_KEY"] != "sk-ant-test" {
		t.Errorf("expected ANTHROPIC_API_KEY to be set, got %+v", env)
	}
	if providerConfig["provider"] != "anthropic" {
		t.Errorf("expected provider config to name anthropic, got %+v", providerConfig)
	}
}

func TestGetActiveCredentialsOpenRouter(t *testing.T) {
	svc, store := newTestService(t, nil)
	ctx := context.Background()

	cred := &v1.Credential{
		UserID:     "user-2",
		AuthMethod: v1.AuthMethodAPIKey,
		Provider:   v1.APIKeyProviderOpenRouter,
		APIKey:     "or-test",
		BaseURL:    "https://openrouter.ai/api/v1",
		UpdatedAt:  time.Now().UTC(),
	}
	if err := store.Credentials.Upsert(ctx, cred); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	env, _, err := svc.GetActiveCredentials(ctx, "user-2")
	if err != nil {
		t.Fatalf("GetActiveCredentials: %v", err)
	}
	if env["ANTHROPIC_BASE_URL"] != cred.BaseURL || env["ANTHROPIC_AUTH_TOKEN"] != "or-test" {
		t.Errorf("expected openrouter env shape, got %+v", env)
	}
	if env["ANTHROPIC_API_KEY"] != "" {
		t.Errorf("expected ANTHROPIC_API_KEY cleared for openrouter, got %q", env["ANTHROPIC_API_KEY"])
	}
}

func TestGetValidOAuthTokenFreshTokenSkipsRefresh(t *testing.T) {
	svc, store := newTestService(t, nil)
	ctx := context.Background()

	cred := &v1.Credential{
		UserID:            "user-3",
		AuthMethod:        v1.AuthMethodOAuthSubscription,
		OAuthAccessToken:  "fresh-token",
		OAuthRefreshToken: "refresh-token",
		OAuthExpiresAt:    time.Now().Add(1 * time.Hour),
		UpdatedAt:         time.Now().UTC(),
	}
	if err := store.Credentials.Upsert(ctx, cred); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	token, err := svc.GetValidOAuthToken(ctx, "user-3")
	if err != nil {
		t.Fatalf("GetValidOAuthToken: %v", err)
	}
	if token != "fresh-token" {
		t.Errorf("expected fast path to return the stored token unchanged, got %q", token)
	}
}

func TestRefreshGitHostTokenThrottles(t *testing.T) {
	gitHost := &fakeGitHost{token: "gh-token", expiresAt: time.Now().Add(1 * time.Hour)}
	svc, store := newTestService(t, gitHost)
	ctx := context.Background()

	cred := &v1.Credential{UserID: "user-4", AuthMethod: v1.AuthMethodAPIKey, Provider: v1.APIKeyProviderAnthropic, APIKey: "k", UpdatedAt: time.Now().UTC()}
	if err := store.Credentials.Upsert(ctx, cred); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	if _, err := svc.RefreshGitHostToken(ctx, "user-4"); err != nil {
		t.Fatalf("RefreshGitHostToken (first): %v", err)
	}
	if _, err := svc.RefreshGitHostToken(ctx, "user-4"); err != nil {
		t.Fatalf("RefreshGitHostToken (second): %v", err)
	}
	if gitHost.calls != 1 {
		t.Errorf("expected the second call within the throttle window to be a no-op, got %d calls", gitHost.calls)
	}
}

func TestRefreshGitHostTokenNullResultClearsToken(t *testing.T) {
	gitHost := &fakeGitHost{token: ""}
	svc, store := newTestService(t, gitHost)
	ctx := context.Background()

	cred := &v1.Credential{
		UserID:       "user-5",
		AuthMethod:   v1.AuthMethodAPIKey,
		Provider:     v1.APIKeyProviderAnthropic,
		APIKey:       "k",
		GitHostToken: "stale-token",
		UpdatedAt:    time.Now().UTC(),
	}
	if err := store.Credentials.Upsert(ctx, cred); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	reauthRequired, err := svc.RefreshGitHostToken(ctx, "user-5")
	if err != nil {
		t.Fatalf("RefreshGitHostToken: %v", err)
	}
	if !reauthRequired {
		t.Error("expected a null refresh result to report reauth required")
	}

	got, err := store.Credentials.Get(ctx, "user-5")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.GitHostToken != "" {
		t.Errorf("expected git host token to be cleared, got %q", got.GitHostToken)
	}
}

func TestRefreshGitHostTokenNoClientConfigured(t *testing.T) {
	svc, _ := newTestService(t, nil)
	if _, err := svc.RefreshGitHostToken(context.Background(), "user-6"); err == nil {
		t.Error("expected an error when no git host client is configured")
	}
}

func TestMintControlPlaneToken(t *testing.T) {
	svc, _ := newTestService(t, nil)

	tokenString, err := svc.MintControlPlaneToken("agent-1")
	if err != nil {
		t.Fatalf("MintControlPlaneToken: %v", err)
	}

	claims := &controlPlaneClaims{}
	parsed, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte("test-secret"), nil
	})
	if err != nil {
		t.Fatalf("ParseWithClaims: %v", err)
	}
	if !parsed.Valid {
		t.Fatal("expected parsed token to be valid")
	}
	if claims.AgentID != "agent-1" {
		t.Errorf("expected agentId claim agent-1, got %q", claims.AgentID)
	}
	if claims.ExpiresAt == nil || claims.ExpiresAt.Before(time.Now().Add(10*time.Minute)) {
		t.Errorf("expected ~15 minute expiry, got %v", claims.ExpiresAt)
	}
}

func TestMintControlPlaneTokenNoSecret(t *testing.T) {
	store := newTestStore(t)
	svc := New(store.Credentials, nil, config.OAuthConfig{}, config.AuthConfig{}, newTestLogger(t))
	if _, err := svc.MintControlPlaneToken("agent-1"); err == nil {
		t.Error("expected an error when no jwt secret is configured")
	}
}
