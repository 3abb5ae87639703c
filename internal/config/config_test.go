package config

import (
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.DatabaseURL != "escrowd.db" {
		t.Errorf("DatabaseURL = %q, want escrowd.db", cfg.DatabaseURL)
	}
	if cfg.ListenAddr != "127.0.0.1:8443" {
		t.Errorf("ListenAddr = %q, want 127.0.0.1:8443", cfg.ListenAddr)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
	}
	if cfg.AdminToken != "" {
		t.Errorf("AdminToken = %q, want empty by default", cfg.AdminToken)
	}
	if cfg.WalletRPC.BuyerURL != "http://127.0.0.1:18081/json_rpc" {
		t.Errorf("WalletRPC.BuyerURL = %q", cfg.WalletRPC.BuyerURL)
	}
	if cfg.Timeout.MultisigSetupSecs != 3600 {
		t.Errorf("Timeout.MultisigSetupSecs = %d, want 3600", cfg.Timeout.MultisigSetupSecs)
	}
	if cfg.Timeout.FundingSecs != 86400 {
		t.Errorf("Timeout.FundingSecs = %d, want 86400", cfg.Timeout.FundingSecs)
	}
	if cfg.Timeout.DisputeResolutionSecs != 604800 {
		t.Errorf("Timeout.DisputeResolutionSecs = %d, want 604800", cfg.Timeout.DisputeResolutionSecs)
	}
}

func TestConfigPathJoinsDataDir(t *testing.T) {
	got := ConfigPath("/var/lib/escrowd")
	want := filepath.Join("/var/lib/escrowd", "config.yaml")
	if got != want {
		t.Errorf("ConfigPath = %q, want %q", got, want)
	}
}

func TestLoadRequiresReleaseConfirmationThreshold(t *testing.T) {
	dir := t.TempDir()

	if _, err := Load(dir); err == nil {
		t.Fatal("Load should fail when release_confirmation_threshold is unset")
	}
}

func TestLoadCreatesDefaultWhenAbsent(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("RELEASE_CONFIRMATION_THRESHOLD", "10")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DatabaseURL != "escrowd.db" {
		t.Errorf("DatabaseURL = %q, want default", cfg.DatabaseURL)
	}

	// A second load should read back the file just written rather than
	// silently regenerating defaults a different way.
	cfg2, err := Load(dir)
	if err != nil {
		t.Fatalf("second Load: %v", err)
	}
	if cfg2.ListenAddr != cfg.ListenAddr {
		t.Errorf("second Load ListenAddr = %q, want %q", cfg2.ListenAddr, cfg.ListenAddr)
	}
}

func TestLoadReadsSavedOverrides(t *testing.T) {
	dir := t.TempDir()

	cfg := DefaultConfig()
	cfg.ListenAddr = "0.0.0.0:9000"
	cfg.Timeout.FundingSecs = 12345
	cfg.ReleaseConfirmationThreshold = 10
	if err := cfg.Save(ConfigPath(dir)); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.ListenAddr != "0.0.0.0:9000" {
		t.Errorf("ListenAddr = %q, want 0.0.0.0:9000", loaded.ListenAddr)
	}
	if loaded.Timeout.FundingSecs != 12345 {
		t.Errorf("Timeout.FundingSecs = %d, want 12345", loaded.Timeout.FundingSecs)
	}
}

func TestApplyEnvOverridesFileValues(t *testing.T) {
	dir := t.TempDir()

	cfg := DefaultConfig()
	if err := cfg.Save(ConfigPath(dir)); err != nil {
		t.Fatalf("Save: %v", err)
	}

	t.Setenv("DATABASE_URL", "postgres://example/escrowd")
	t.Setenv("ADMIN_TOKEN", "super-secret")
	t.Setenv("TIMEOUT_POLL_INTERVAL_SECS", "45")
	t.Setenv("RELEASE_CONFIRMATION_THRESHOLD", "10")
	t.Setenv("WALLET_RPC_ARBITER_URL", "http://127.0.0.1:19999/json_rpc")

	loaded, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.DatabaseURL != "postgres://example/escrowd" {
		t.Errorf("DatabaseURL = %q", loaded.DatabaseURL)
	}
	if loaded.AdminToken != "super-secret" {
		t.Errorf("AdminToken = %q", loaded.AdminToken)
	}
	if loaded.Timeout.PollIntervalSecs != 45 {
		t.Errorf("Timeout.PollIntervalSecs = %d, want 45", loaded.Timeout.PollIntervalSecs)
	}
	if loaded.ReleaseConfirmationThreshold != 10 {
		t.Errorf("ReleaseConfirmationThreshold = %d, want 10", loaded.ReleaseConfirmationThreshold)
	}
	if loaded.WalletRPC.ArbiterURL != "http://127.0.0.1:19999/json_rpc" {
		t.Errorf("WalletRPC.ArbiterURL = %q", loaded.WalletRPC.ArbiterURL)
	}
}

func TestEnvUintIgnoresUnparsableValue(t *testing.T) {
	t.Setenv("TIMEOUT_FUNDING_SECS", "not-a-number")
	got := envUint("TIMEOUT_FUNDING_SECS", 999)
	if got != 999 {
		t.Errorf("envUint with bad value = %d, want fallback 999", got)
	}
}

func TestExpandPathExpandsHomeDir(t *testing.T) {
	expanded := expandPath("~/escrowd-data")
	if filepath.IsAbs(expanded) == false {
		t.Errorf("expandPath(~/...) = %q, want an absolute path", expanded)
	}
}
