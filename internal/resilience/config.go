package resilience

import (
	"time"
)

// FromSettings converts config values to a RetryConfig. Non-positive values
// keep the defaults, except jitter where zero disables it.
func FromSettings(maxAttempts int, timeout, baseBackoff, jitter time.Duration) RetryConfig {
	cfg := DefaultRetryConfig()
	if maxAttempts > 0 {
		cfg.MaxAttempts = maxAttempts
	}
	if timeout > 0 {
		cfg.Timeout = timeout
	}
	if baseBackoff > 0 {
		cfg.BaseBackoff = baseBackoff
	}
	if jitter >= 0 {
		cfg.Jitter = jitter
	}
	return cfg
}
