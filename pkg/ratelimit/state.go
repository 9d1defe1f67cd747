// Package ratelimit tracks the request quota advertised by a bulk endpoint and
// gates requests before it runs out. The quota is read from the
// X-RateLimit-Remaining and X-RateLimit-Reset response headers and shared
// across client instances via Redis.
package ratelimit

import (
	"time"
)

// Redis keys for rate limit state storage.
const (
	RedisKeyRemaining      = "bulk:rate_limit:remaining"
	RedisKeyResetTimestamp = "bulk:rate_limit:reset_timestamp"
	RedisKeyLastUpdate     = "bulk:rate_limit:last_update"
)

// Response headers carrying the quota.
const (
	HeaderRemaining = "X-RateLimit-Remaining"
	HeaderReset     = "X-RateLimit-Reset"
)

// Default thresholds for rate limit decisions.
const (
	// DefaultThresholdCritical blocks requests when the remaining quota falls
	// below this value.
	DefaultThresholdCritical = 5

	// DefaultThresholdWarning throttles requests below this value.
	DefaultThresholdWarning = 20

	// DefaultThresholdHealthy marks the state as healthy at or above this value.
	DefaultThresholdHealthy = 50
)

// Thresholds configures the tracker's decisions.
type Thresholds struct {
	Critical int
	Warning  int
	Healthy  int
}

// DefaultThresholds returns the default thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Critical: DefaultThresholdCritical,
		Warning:  DefaultThresholdWarning,
		Healthy:  DefaultThresholdHealthy,
	}
}

// State is the current quota state of the bulk endpoint.
type State struct {
	// Remaining is the number of requests left in the current window.
	Remaining int `json:"remaining"`

	// ResetAt is when the window resets.
	ResetAt time.Time `json:"reset_at"`

	// LastUpdate is when this state was last refreshed from headers.
	LastUpdate time.Time `json:"last_update"`

	// IsHealthy is true when Remaining >= Thresholds.Healthy.
	IsHealthy bool `json:"is_healthy"`
}

// IsStale returns true if the state is older than maxAge.
func (s *State) IsStale(maxAge time.Duration) bool {
	return time.Since(s.LastUpdate) > maxAge
}

// NeedsCriticalBlock returns true if requests must be blocked.
func (s *State) NeedsCriticalBlock(th Thresholds) bool {
	return s.Remaining < th.Critical
}

// NeedsThrottling returns true if requests should be slowed down.
func (s *State) NeedsThrottling(th Thresholds) bool {
	return s.Remaining < th.Warning && !s.NeedsCriticalBlock(th)
}

// TimeUntilReset returns the duration until the window resets, or 0.
func (s *State) TimeUntilReset() time.Duration {
	d := time.Until(s.ResetAt)
	if d < 0 {
		return 0
	}
	return d
}

// UpdateHealth recomputes IsHealthy.
func (s *State) UpdateHealth(th Thresholds) {
	s.IsHealthy = s.Remaining >= th.Healthy
}
