package timeout

import (
	"context"
	"time"

	"github.com/satisfyguy/escrowd/internal/orchestrator"
	"github.com/satisfyguy/escrowd/internal/store"
	"github.com/satisfyguy/escrowd/pkg/logging"
)

// WarningHandler is invoked once per escrow the first time it crosses into
// its warning window, before the deadline itself is reached.
type WarningHandler func(escrow *store.Escrow, deadline time.Time)

// AlertHandler is invoked every scan an escrow remains past its deadline in
// a status with no automatic resolution — a stuck release/refund
// transaction, or a dispute still unresolved past its deadline.
type AlertHandler func(escrow *store.Escrow, reason string)

// Monitor periodically scans active escrows and dispatches the per-status
// timeout action for any that have exceeded their deadline.
type Monitor struct {
	escrows      *store.Store
	orchestrator *orchestrator.Orchestrator
	config       Config
	log          *logging.Logger
	onWarning    WarningHandler
	onAlert      AlertHandler

	warned map[string]struct{}

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Monitor. onWarning and onAlert may be nil if those
// notifications are not wired up.
func New(escrows *store.Store, orch *orchestrator.Orchestrator, cfg Config, onWarning WarningHandler, onAlert AlertHandler) *Monitor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Monitor{
		escrows:      escrows,
		orchestrator: orch,
		config:       cfg,
		log:          logging.GetDefault().Component("timeout-monitor"),
		onWarning:    onWarning,
		onAlert:      onAlert,
		warned:       make(map[string]struct{}),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start launches the monitor's background polling loop.
func (m *Monitor) Start() {
	go m.run()
	m.log.Info("timeout monitor started", "poll_interval", m.config.PollInterval)
}

// Stop halts the monitor.
func (m *Monitor) Stop() {
	m.cancel()
	m.log.Info("timeout monitor stopped")
}

func (m *Monitor) run() {
	ticker := time.NewTicker(m.config.PollInterval)
	defer ticker.Stop()

	m.scan()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.scan()
		}
	}
}

// scan expires escrows past deadline and fires warnings for escrows newly
// inside their warning window. A single pass does both so slow scans don't
// delay warning delivery relative to expiry detection.
func (m *Monitor) scan() {
	escrows, err := m.escrows.ListActiveEscrows()
	if err != nil {
		m.log.Warn("failed to list active escrows", "error", err)
		return
	}

	now := time.Now()
	for _, escrow := range escrows {
		deadlineDur, ok := m.config.deadlineFor(string(escrow.Status))
		if !ok {
			continue
		}

		deadline := escrow.LastActivityAt.Add(deadlineDur)
		remaining := deadline.Sub(now)

		if remaining <= 0 {
			m.fireTimeout(escrow)
			continue
		}

		if remaining <= m.config.WarningThreshold {
			if _, alreadyWarned := m.warned[escrow.ID]; !alreadyWarned {
				m.warned[escrow.ID] = struct{}{}
				if m.onWarning != nil {
					m.onWarning(escrow, deadline)
				}
			}
		}
	}
}

// fireTimeout dispatches the per-status timeout action for an escrow that
// has just crossed its deadline. created and funded resolve automatically;
// releasing/refunding/disputed have no automatic resolution and only raise
// an alert, leaving status untouched so an admin can intervene.
func (m *Monitor) fireTimeout(escrow *store.Escrow) {
	switch escrow.Status {
	case store.StatusCreated:
		if err := m.orchestrator.Transition(escrow.ID, store.StatusCreated, store.StatusCancelled); err != nil {
			m.log.Warn("failed to cancel escrow past multisig setup deadline", "escrow_id", escrow.ID, "error", err)
			return
		}
		m.log.Info("escrow cancelled: multisig setup did not complete in time", "escrow_id", escrow.ID)
		delete(m.warned, escrow.ID)
	case store.StatusFunded:
		if err := m.orchestrator.Expire(escrow.ID, store.StatusFunded); err != nil {
			m.log.Warn("failed to expire unfunded escrow", "escrow_id", escrow.ID, "error", err)
			return
		}
		m.log.Info("escrow expired: buyer failed to fund in time", "escrow_id", escrow.ID)
		delete(m.warned, escrow.ID)
	case store.StatusReleasing, store.StatusRefunding:
		reason := "transaction stuck past confirmation deadline"
		m.log.Warn(reason, "escrow_id", escrow.ID, "status", escrow.Status)
		if m.onAlert != nil {
			m.onAlert(escrow, reason)
		}
	case store.StatusDisputed:
		reason := "dispute unresolved past resolution deadline"
		m.log.Warn(reason, "escrow_id", escrow.ID)
		if m.onAlert != nil {
			m.onAlert(escrow, reason)
		}
	default:
		m.log.Warn("no timeout action defined for status", "escrow_id", escrow.ID, "status", escrow.Status)
	}
}
