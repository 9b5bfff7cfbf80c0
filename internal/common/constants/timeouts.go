// Package constants provides application-wide constants and thresholds
// that are not meant to be operator-tunable (see config for the ones that are).
package constants

import "time"

const (
	// ReservationPollInterval is how often waitForAssignment re-checks a
	// reservation row while it is still queued.
	ReservationPollInterval = 2 * time.Second

	// HealthCheckInterval is the delay between health-check probes during
	// provisioning.
	HealthCheckInterval = 1 * time.Second

	// HealthCheckAttempts is the number of probes before provisioning fails.
	HealthCheckAttempts = 5

	// GitHistoryPollThrottle bounds how often the poll cycle's git-history
	// subsystem may run per agent.
	GitHistoryPollThrottle = 10 * time.Second

	// PRSyncThrottle bounds how often the poll cycle's pull-request-state
	// subsystem may run per agent.
	PRSyncThrottle = 30 * time.Second

	// GitHostTokenRefreshThrottle bounds how often the credential service
	// refreshes a git-host token per agent.
	GitHostTokenRefreshThrottle = 5 * time.Minute

	// OAuthRefreshWindow is how far ahead of expiry an OAuth token is
	// considered stale and eligible for refresh.
	OAuthRefreshWindow = 5 * time.Minute

	// ContextThresholdBucketSize is the width of each remaining-percent
	// bucket the context-threshold tracker watches for a downward crossing.
	ContextThresholdBucketSize = 10

	// ContextThresholdStart is the first bucket boundary that can fire a
	// context_warning (remaining <= 60% after crossing the 70% threshold).
	ContextThresholdStart = 70
)
