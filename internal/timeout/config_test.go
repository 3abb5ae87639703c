package timeout

import (
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.MultisigSetupTimeout != 1*time.Hour {
		t.Errorf("MultisigSetupTimeout = %v, want %v", cfg.MultisigSetupTimeout, time.Hour)
	}
	if cfg.FundingTimeout != 24*time.Hour {
		t.Errorf("FundingTimeout = %v, want %v", cfg.FundingTimeout, 24*time.Hour)
	}
	if cfg.TransactionConfirmationTimeout != 6*time.Hour {
		t.Errorf("TransactionConfirmationTimeout = %v, want %v", cfg.TransactionConfirmationTimeout, 6*time.Hour)
	}
	if cfg.DisputeResolutionTimeout != 7*24*time.Hour {
		t.Errorf("DisputeResolutionTimeout = %v, want %v", cfg.DisputeResolutionTimeout, 7*24*time.Hour)
	}
	if cfg.PollInterval != 60*time.Second {
		t.Errorf("PollInterval = %v, want %v", cfg.PollInterval, 60*time.Second)
	}
	if cfg.WarningThreshold != 1*time.Hour {
		t.Errorf("WarningThreshold = %v, want %v", cfg.WarningThreshold, time.Hour)
	}
}

func TestDeadlineForStatus(t *testing.T) {
	cfg := DefaultConfig()

	tests := []struct {
		status string
		want   time.Duration
		ok     bool
	}{
		{"created", time.Hour, true},
		{"funded", 24 * time.Hour, true},
		{"releasing", 6 * time.Hour, true},
		{"refunding", 6 * time.Hour, true},
		{"disputed", 7 * 24 * time.Hour, true},
		{"completed", 0, false},
		{"refunded", 0, false},
		{"cancelled", 0, false},
		{"expired", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			got, ok := cfg.deadlineFor(tt.status)
			if ok != tt.ok {
				t.Fatalf("deadlineFor(%q) ok = %v, want %v", tt.status, ok, tt.ok)
			}
			if ok && got != tt.want {
				t.Errorf("deadlineFor(%q) = %v, want %v", tt.status, got, tt.want)
			}
		})
	}
}

func TestConfigFromEnvUsesDefaultsWhenUnset(t *testing.T) {
	cfg := ConfigFromEnv()
	want := DefaultConfig()
	if cfg != want {
		t.Errorf("ConfigFromEnv() = %+v, want defaults %+v", cfg, want)
	}
}

func TestConfigFromEnvReadsOverride(t *testing.T) {
	t.Setenv("TIMEOUT_POLL_INTERVAL_SECS", "30")
	cfg := ConfigFromEnv()
	if cfg.PollInterval != 30*time.Second {
		t.Errorf("PollInterval = %v, want %v", cfg.PollInterval, 30*time.Second)
	}
}
