// Package credentials implements the credential service client: OAuth
// token freshness, the per-auth-method worker environment shapes,
// git-host token refresh, and short-lived control-plane token minting.
package credentials

import (
	"context"
	"time"
)

// PullRequestState mirrors a remote pull request's current lifecycle
// state as reported by the git host.
type PullRequestState struct {
	Number int
	State  string // open, closed, merged
	URL    string
}

// GitHostClient is the injected collaborator for git-host operations.
// The concrete implementation (GitHub, GitLab, ...) lives outside this
// module; the controller only depends on this interface. Per the error
// taxonomy, RefreshToken must not be treated as deletable on transient
// errors — only an explicit re-auth flow deletes a stored token.
type GitHostClient interface {
	GetValidToken(ctx context.Context, userID string) (string, error)
	GetPullRequestState(ctx context.Context, repoFullName string, prNumber int) (*PullRequestState, error)
	FindLatestPRForBranch(ctx context.Context, repoFullName, branch string) (*PullRequestState, error)
	GetDefaultBranch(ctx context.Context, repoFullName string) (string, error)
	RefreshToken(ctx context.Context, userID string) (token string, expiresAt time.Time, err error)
}

const (
	// oauthRefreshWindow is how close to expiry an OAuth token must be
	// before GetValidOAuthToken refreshes it.
	oauthRefreshWindow = 5 * time.Minute

	// gitHostRefreshThrottle bounds how often a user's git-host token is
	// refreshed, regardless of how many agents poll concurrently.
	gitHostRefreshThrottle = 5 * time.Minute

	// controlPlaneTokenTTL is the lifetime of the short-lived JWT pushed
	// to workers via /update-ariana-token.
	controlPlaneTokenTTL = 15 * time.Minute
)
