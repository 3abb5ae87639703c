// Package timeout runs the background monitor that expires escrows stuck
// past their per-status deadline, and warns shortly before expiry.
package timeout

import (
	"os"
	"strconv"
	"time"
)

// Config holds the per-status deadline policy. Terminal statuses have no
// associated deadline.
type Config struct {
	MultisigSetupTimeout           time.Duration
	FundingTimeout                 time.Duration
	TransactionConfirmationTimeout time.Duration
	DisputeResolutionTimeout       time.Duration
	PollInterval                   time.Duration
	WarningThreshold               time.Duration
}

// DefaultConfig mirrors the defaults used across the wider marketplace
// ecosystem this coordinator was built to interoperate with.
func DefaultConfig() Config {
	return Config{
		MultisigSetupTimeout:           1 * time.Hour,
		FundingTimeout:                 24 * time.Hour,
		TransactionConfirmationTimeout: 6 * time.Hour,
		DisputeResolutionTimeout:       7 * 24 * time.Hour,
		PollInterval:                   60 * time.Second,
		WarningThreshold:               1 * time.Hour,
	}
}

// ConfigFromEnv reads TIMEOUT_* environment variables, falling back to
// DefaultConfig for anything unset or unparsable.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()
	cfg.MultisigSetupTimeout = envSeconds("TIMEOUT_MULTISIG_SETUP_SECS", cfg.MultisigSetupTimeout)
	cfg.FundingTimeout = envSeconds("TIMEOUT_FUNDING_SECS", cfg.FundingTimeout)
	cfg.TransactionConfirmationTimeout = envSeconds("TIMEOUT_TX_CONFIRMATION_SECS", cfg.TransactionConfirmationTimeout)
	cfg.DisputeResolutionTimeout = envSeconds("TIMEOUT_DISPUTE_RESOLUTION_SECS", cfg.DisputeResolutionTimeout)
	cfg.PollInterval = envSeconds("TIMEOUT_POLL_INTERVAL_SECS", cfg.PollInterval)
	cfg.WarningThreshold = envSeconds("TIMEOUT_WARNING_THRESHOLD_SECS", cfg.WarningThreshold)
	return cfg
}

func envSeconds(name string, fallback time.Duration) time.Duration {
	raw, ok := os.LookupEnv(name)
	if !ok {
		return fallback
	}
	secs, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return fallback
	}
	return time.Duration(secs) * time.Second
}

// deadlineFor returns the configured deadline for status, or false if the
// status has no associated timeout policy (including all terminal states).
func (c Config) deadlineFor(status string) (time.Duration, bool) {
	switch status {
	case "created":
		return c.MultisigSetupTimeout, true
	case "funded":
		return c.FundingTimeout, true
	case "releasing", "refunding":
		return c.TransactionConfirmationTimeout, true
	case "disputed":
		return c.DisputeResolutionTimeout, true
	default:
		return 0, false
	}
}
