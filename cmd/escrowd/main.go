// Package main provides escrowd - the non-custodial 2-of-3 multisig escrow
// coordinator daemon.
package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/satisfyguy/escrowd/internal/challenge"
	"github.com/satisfyguy/escrowd/internal/config"
	"github.com/satisfyguy/escrowd/internal/coordinator"
	"github.com/satisfyguy/escrowd/internal/cryptoutil"
	"github.com/satisfyguy/escrowd/internal/httpapi"
	"github.com/satisfyguy/escrowd/internal/locks"
	"github.com/satisfyguy/escrowd/internal/orchestrator"
	"github.com/satisfyguy/escrowd/internal/recovery"
	"github.com/satisfyguy/escrowd/internal/session"
	"github.com/satisfyguy/escrowd/internal/store"
	"github.com/satisfyguy/escrowd/internal/timeout"
	"github.com/satisfyguy/escrowd/internal/walletrpc"
	"github.com/satisfyguy/escrowd/pkg/logging"
)

// eventRetention bounds how long rows persist in the events table before
// the retention sweep removes them.
const eventRetention = 30 * 24 * time.Hour

var (
	version = "0.1.0-dev"
	commit  = "unknown"
)

const (
	exitOK               = 0
	exitConfigError      = 1
	exitConnectivityFail = 2
	exitMasterKeyFail    = 3
)

func main() {
	var (
		dataDir       = flag.String("data-dir", "~/.escrowd", "Data directory")
		configFile    = flag.String("config", "", "Config file path; only its directory is used, and config.yaml in that directory is read (default: <data-dir>/config.yaml)")
		listenAddr    = flag.String("listen", "", "HTTP API listen address, overrides config")
		logLevel      = flag.String("log-level", "", "Log level (debug, info, warn, error), overrides config")
		recoveryEvery = flag.Duration("recovery-interval", 2*time.Minute, "Background recovery re-scan interval")
		stuckAfter    = flag.Duration("stuck-after", 30*time.Minute, "Flag an escrow as stuck after this long without activity")
		showVersion   = flag.Bool("version", false, "Show version and exit")
	)
	flag.Parse()

	log := logging.New(&logging.Config{Level: "info", TimeFormat: time.TimeOnly})
	logging.SetDefault(log)

	if *showVersion {
		log.Infof("escrowd %s (commit: %s)", version, commit)
		os.Exit(exitOK)
	}

	effectiveDataDir := expandPath(*dataDir)

	var cfg *config.Config
	var err error
	if *configFile != "" {
		cfg, err = config.Load(filepath.Dir(*configFile))
	} else {
		cfg, err = config.Load(effectiveDataDir)
	}
	if err != nil {
		log.Error("failed to load config", "error", err)
		os.Exit(exitConfigError)
	}

	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	log = logging.New(&logging.Config{Level: cfg.LogLevel, TimeFormat: time.TimeOnly})
	logging.SetDefault(log)
	log.Info("config loaded", "path", config.ConfigPath(effectiveDataDir))

	masterKey, err := loadMasterKey()
	if err != nil {
		log.Error("failed to reconstruct master key", "error", err)
		os.Exit(exitMasterKeyFail)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	storeCfg := &store.Config{DataDir: effectiveDataDir}
	if cfg.DatabaseURL != "" {
		storeCfg.DBPath = cfg.DatabaseURL
	}
	escrows, err := store.New(storeCfg, masterKey)
	if err != nil {
		log.Error("failed to initialize store", "error", err)
		os.Exit(exitConnectivityFail)
	}
	defer escrows.Close()
	log.Info("store initialized", "path", effectiveDataDir)

	lockRegistry := locks.NewRegistry()
	endpoints := walletrpc.NewStoreEndpoints(escrows)
	seedDefaultEndpoints(log, cfg)

	coord := coordinator.New(escrows, endpoints, lockRegistry)
	orch := orchestrator.New(escrows, endpoints, lockRegistry)
	challenges := challenge.NewStore()
	sessions := session.NewManager(1024)

	apiServer := httpapi.New(httpapi.Config{AdminToken: cfg.AdminToken}, escrows, coord, orch, challenges, sessions, lockRegistry)

	coord.OnEvent(func(e coordinator.Event) {
		apiServer.PublishEvent(string(e.Type), e)
		recordEvent(log, escrows, string(e.Type), e.EscrowID, e)
	})
	orch.OnEvent(func(e orchestrator.Event) {
		apiServer.PublishEvent(string(e.Type), e)
		recordEvent(log, escrows, string(e.Type), e.EscrowID, e)
	})

	timeoutCfg := timeout.Config{
		MultisigSetupTimeout:           config.Seconds(cfg.Timeout.MultisigSetupSecs),
		FundingTimeout:                 config.Seconds(cfg.Timeout.FundingSecs),
		TransactionConfirmationTimeout: config.Seconds(cfg.Timeout.TransactionConfirmationSecs),
		DisputeResolutionTimeout:       config.Seconds(cfg.Timeout.DisputeResolutionSecs),
		PollInterval:                   config.Seconds(cfg.Timeout.PollIntervalSecs),
		WarningThreshold:               config.Seconds(cfg.Timeout.WarningThresholdSecs),
	}
	monitor := timeout.New(escrows, orch, timeoutCfg, func(escrow *store.Escrow, deadline time.Time) {
		payload := map[string]any{
			"escrow_id":         escrow.ID,
			"seconds_remaining": time.Until(deadline).Seconds(),
		}
		apiServer.PublishEvent("escrow_expiring", payload)
		recordEvent(log, escrows, "escrow_expiring", escrow.ID, payload)
	}, func(escrow *store.Escrow, reason string) {
		payload := map[string]any{
			"escrow_id": escrow.ID,
			"status":    escrow.Status,
			"reason":    reason,
		}
		apiServer.PublishEvent("escrow_timeout_alert", payload)
		recordEvent(log, escrows, "escrow_timeout_alert", escrow.ID, payload)
	})
	monitor.Start()
	defer monitor.Stop()
	log.Info("timeout monitor started")

	recoveryLoop := recovery.New(escrows, coord, *recoveryEvery, *stuckAfter)
	recoveryLoop.OnEvent(func(e recovery.Event) {
		apiServer.PublishEvent(string(e.Type), e)
		recordEvent(log, escrows, string(e.Type), e.EscrowID, e)
	})
	recoveryLoop.RunOnce(ctx)
	recoveryLoop.Start()
	defer recoveryLoop.Stop()
	log.Info("recovery loop started", "interval", *recoveryEvery, "stuck_after", *stuckAfter)

	go runEventRetentionSweep(ctx, log, escrows)

	// Expired challenges are swept on the timeout monitor's poll interval.
	go func() {
		ticker := time.NewTicker(timeoutCfg.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				challenges.Sweep()
			}
		}
	}()

	if err := apiServer.Start(cfg.ListenAddr); err != nil {
		log.Error("failed to start HTTP API server", "error", err)
		os.Exit(exitConnectivityFail)
	}
	log.Info("HTTP API listening", "addr", cfg.ListenAddr)

	printBanner(log, cfg)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("shutting down...")

	cancel()
	if err := apiServer.Stop(); err != nil {
		log.Error("error stopping HTTP API server", "error", err)
	}
	log.Info("goodbye")
}

// loadMasterKey reconstructs the process master key from DB_ENCRYPTION_KEY
// (a single hex-encoded key, for development) or from three Shamir share
// files named by DB_ENCRYPTION_SHARE_FILE_1/2/3 (for production, so that no
// single operator holds the whole key). If DB_ENCRYPTION_SHARE_PASSPHRASE is
// also set, each share file is expected to hold an Argon2id+AES-GCM-wrapped
// share (cryptoutil.WrappedShare JSON) rather than a bare hex string, so a
// share file stolen from disk is still useless without the passphrase.
func loadMasterKey() (cryptoutil.MasterKey, error) {
	var key cryptoutil.MasterKey

	if hexKey := os.Getenv("DB_ENCRYPTION_KEY"); hexKey != "" {
		decoded, err := decodeHexKey(hexKey)
		if err != nil {
			return key, err
		}
		copy(key[:], decoded)
		return key, nil
	}

	passphrase := os.Getenv("DB_ENCRYPTION_SHARE_PASSPHRASE")

	var shares [][]byte
	for i := 1; i <= 3; i++ {
		path := os.Getenv(envShareFileName(i))
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return key, err
		}

		var share []byte
		if passphrase != "" {
			wrapped, err := cryptoutil.UnmarshalWrappedShare(data)
			if err != nil {
				return key, err
			}
			share, err = cryptoutil.UnwrapShare(wrapped, passphrase)
			if err != nil {
				return key, err
			}
		} else {
			share, err = decodeHexKey(strings.TrimSpace(string(data)))
			if err != nil {
				return key, err
			}
		}
		shares = append(shares, share)
	}

	return cryptoutil.CombineMasterKey(shares)
}

func envShareFileName(i int) string {
	return fmt.Sprintf("DB_ENCRYPTION_SHARE_FILE_%d", i)
}

func decodeHexKey(s string) ([]byte, error) {
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode hex key: %w", err)
	}
	return decoded, nil
}

// recordEvent persists a best-effort trace of an emitted event to the
// recent-activity log backing GET /admin/escrows/health, tagged with a
// fresh trace ID so operators can correlate a log line across components.
// Persistence failures here are logged, not fatal: the in-process fanout
// to apiServer.PublishEvent already delivered the event to live listeners.
func recordEvent(log *logging.Logger, escrows *store.Store, eventType, escrowID string, payload any) {
	detail, err := json.Marshal(payload)
	if err != nil {
		log.Warn("failed to marshal event detail", "event_type", eventType, "error", err)
		detail = []byte("{}")
	}

	rec := store.EventRecord{
		TraceID:     uuid.NewString(),
		EventType:   eventType,
		EscrowID:    escrowID,
		TimestampMs: time.Now().UnixMilli(),
		Detail:      string(detail),
	}
	if err := escrows.RecordEvent(rec); err != nil {
		log.Warn("failed to record event", "event_type", eventType, "escrow_id", escrowID, "error", err)
	}
}

// runEventRetentionSweep periodically prunes the events table, mirroring
// the retention-sweep idiom used by the timeout monitor and recovery loop.
func runEventRetentionSweep(ctx context.Context, log *logging.Logger, escrows *store.Store) {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := escrows.CleanupEventsOlderThan(time.Now().Add(-eventRetention))
			if err != nil {
				log.Warn("event retention sweep failed", "error", err)
				continue
			}
			if removed > 0 {
				log.Debug("swept old events", "removed", removed)
			}
		}
	}
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

// seedDefaultEndpoints logs the development wallet-RPC URLs from the config.
// It does not register them anywhere: walletrpc.StoreEndpoints resolves
// clients only from the per-escrow endpoints registered in the store.
func seedDefaultEndpoints(log *logging.Logger, cfg *config.Config) {
	log.Info("default wallet-RPC endpoints configured",
		"buyer", cfg.WalletRPC.BuyerURL,
		"vendor", cfg.WalletRPC.VendorURL,
		"arbiter", cfg.WalletRPC.ArbiterURL,
	)
}

func printBanner(log *logging.Logger, cfg *config.Config) {
	log.Info("")
	log.Info("=================================================")
	log.Infof("  escrowd (non-custodial 2-of-3 multisig escrow)")
	log.Infof("  Version: %s", version)
	log.Info("=================================================")
	log.Info("")
	log.Infof("  API: http://%s", cfg.ListenAddr)
	log.Infof("  WS:  ws://%s/admin/escrows/stream", cfg.ListenAddr)
	log.Info("")
	log.Info("=================================================")
	log.Info("")
}
