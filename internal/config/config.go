// Package config loads escrowd's configuration from a YAML file and
// environment variables, following CLI-flag > env-var > file > built-in
// default precedence (CLI overrides are applied by the caller, typically
// cmd/escrowd/main.go, after Load returns).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// WalletRPCConfig holds default wallet-RPC base URLs for local development,
// keyed by role. Production deployments register per-escrow endpoints in
// the store instead (see internal/store.RegisterEndpoint).
type WalletRPCConfig struct {
	BuyerURL   string `yaml:"buyer_url"`
	VendorURL  string `yaml:"vendor_url"`
	ArbiterURL string `yaml:"arbiter_url"`
}

// TimeoutConfig mirrors internal/timeout.Config's fields, as whole seconds,
// for YAML/env loading; cmd/escrowd converts each field with Seconds when it
// builds an internal/timeout.Config, keeping internal/config free of a
// dependency on internal/timeout.
type TimeoutConfig struct {
	MultisigSetupSecs           uint64 `yaml:"multisig_setup_secs"`
	FundingSecs                 uint64 `yaml:"funding_secs"`
	TransactionConfirmationSecs uint64 `yaml:"transaction_confirmation_secs"`
	DisputeResolutionSecs       uint64 `yaml:"dispute_resolution_secs"`
	PollIntervalSecs            uint64 `yaml:"poll_interval_secs"`
	WarningThresholdSecs        uint64 `yaml:"warning_threshold_secs"`
}

// Config holds all non-secret configuration for the escrow coordinator.
// Master-key material never round-trips through this struct's YAML form;
// it is read directly from DB_ENCRYPTION_KEY / DB_ENCRYPTION_SHARE_FILE_*
// by the caller at startup (see cmd/escrowd/main.go).
type Config struct {
	DatabaseURL                  string          `yaml:"database_url"`
	ListenAddr                   string          `yaml:"listen_addr"`
	AdminToken                   string          `yaml:"admin_token,omitempty"`
	ReleaseConfirmationThreshold uint64          `yaml:"release_confirmation_threshold"`
	LogLevel                     string          `yaml:"log_level"`
	WalletRPC                    WalletRPCConfig `yaml:"wallet_rpc"`
	Timeout                      TimeoutConfig   `yaml:"timeout"`
}

// ConfigFileName is the default config file name within a data directory.
const ConfigFileName = "config.yaml"

// DefaultConfig returns a Config with sensible defaults, matching
// internal/timeout.DefaultConfig's values so an absent config file and an
// absent timeout.Config agree.
func DefaultConfig() *Config {
	return &Config{
		DatabaseURL: "escrowd.db",
		ListenAddr:  "127.0.0.1:8443",
		LogLevel:    "info",
		WalletRPC: WalletRPCConfig{
			BuyerURL:   "http://127.0.0.1:18081/json_rpc",
			VendorURL:  "http://127.0.0.1:18082/json_rpc",
			ArbiterURL: "http://127.0.0.1:18083/json_rpc",
		},
		Timeout: TimeoutConfig{
			MultisigSetupSecs:           3600,
			FundingSecs:                86400,
			TransactionConfirmationSecs: 21600,
			DisputeResolutionSecs:       604800,
			PollIntervalSecs:            60,
			WarningThresholdSecs:        3600,
		},
	}
}

// ConfigPath returns the config file path for a data directory.
func ConfigPath(dataDir string) string {
	return filepath.Join(expandPath(dataDir), ConfigFileName)
}

// Load reads the YAML config file at ConfigPath(dataDir), creating it with
// defaults if absent, then applies environment variable overrides.
//
// ReleaseConfirmationThreshold has no built-in default: too low a value
// weakens the guarantee that a release transaction is actually final before
// an escrow is marked completed, so the operator must set it explicitly via
// RELEASE_CONFIRMATION_THRESHOLD or the config file.
func Load(dataDir string) (*Config, error) {
	path := ConfigPath(dataDir)

	var cfg *Config
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg = DefaultConfig()
		if err := cfg.Save(path); err != nil {
			return nil, fmt.Errorf("config: create default config: %w", err)
		}
	} else {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read config file: %w", err)
		}
		cfg = DefaultConfig()
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse config file: %w", err)
		}
	}

	cfg.applyEnv()

	if cfg.ReleaseConfirmationThreshold == 0 {
		return nil, fmt.Errorf("config: release_confirmation_threshold (or RELEASE_CONFIRMATION_THRESHOLD) must be set explicitly, no default is provided")
	}
	return cfg, nil
}

// Save writes c to path as YAML, creating parent directories as needed.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("config: create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: marshal config: %w", err)
	}

	header := []byte("# escrowd configuration\n# generated automatically on first run\n\n")
	data = append(header, data...)

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("config: write config file: %w", err)
	}
	return nil
}

// applyEnv overrides non-secret fields from environment variables, taking
// precedence over whatever the YAML file set.
func (c *Config) applyEnv() {
	c.DatabaseURL = envString("DATABASE_URL", c.DatabaseURL)
	c.AdminToken = envString("ADMIN_TOKEN", c.AdminToken)
	c.LogLevel = envString("LOG_LEVEL", c.LogLevel)
	c.ReleaseConfirmationThreshold = envUint("RELEASE_CONFIRMATION_THRESHOLD", c.ReleaseConfirmationThreshold)

	c.WalletRPC.BuyerURL = envString("WALLET_RPC_BUYER_URL", c.WalletRPC.BuyerURL)
	c.WalletRPC.VendorURL = envString("WALLET_RPC_VENDOR_URL", c.WalletRPC.VendorURL)
	c.WalletRPC.ArbiterURL = envString("WALLET_RPC_ARBITER_URL", c.WalletRPC.ArbiterURL)

	c.Timeout.MultisigSetupSecs = envUint("TIMEOUT_MULTISIG_SETUP_SECS", c.Timeout.MultisigSetupSecs)
	c.Timeout.FundingSecs = envUint("TIMEOUT_FUNDING_SECS", c.Timeout.FundingSecs)
	c.Timeout.TransactionConfirmationSecs = envUint("TIMEOUT_TX_CONFIRMATION_SECS", c.Timeout.TransactionConfirmationSecs)
	c.Timeout.DisputeResolutionSecs = envUint("TIMEOUT_DISPUTE_RESOLUTION_SECS", c.Timeout.DisputeResolutionSecs)
	c.Timeout.PollIntervalSecs = envUint("TIMEOUT_POLL_INTERVAL_SECS", c.Timeout.PollIntervalSecs)
	c.Timeout.WarningThresholdSecs = envUint("TIMEOUT_WARNING_THRESHOLD_SECS", c.Timeout.WarningThresholdSecs)
}

func envString(name, fallback string) string {
	if v, ok := os.LookupEnv(name); ok && v != "" {
		return v
	}
	return fallback
}

func envUint(name string, fallback uint64) uint64 {
	v, ok := os.LookupEnv(name)
	if !ok {
		return fallback
	}
	parsed, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

// Seconds converts a TimeoutConfig field count into a time.Duration; kept
// here rather than in internal/timeout so that package stays free of a
// dependency on internal/config.
func Seconds(secs uint64) time.Duration {
	return time.Duration(secs) * time.Second
}

func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
