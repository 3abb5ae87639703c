// Package recovery restores in-progress multisig protocol rounds after a
// process restart and re-scans periodically for escrows that stalled while
// the process was already running.
package recovery

import (
	"context"
	"fmt"
	"time"

	"github.com/satisfyguy/escrowd/internal/coordinator"
	"github.com/satisfyguy/escrowd/internal/store"
	"github.com/satisfyguy/escrowd/pkg/logging"
)

// EventType tags the kind of event emitted by the recovery loop.
type EventType string

const (
	// EventRecovered fires once per escrow each time the loop resumes its
	// phase handler, whether or not the escrow was actually stuck.
	EventRecovered EventType = "multisig_recovered"
)

// Event is published for every escrow the recovery loop attempts to resume.
type Event struct {
	Type     EventType
	EscrowID string
	Phase    store.PhaseKind
	Stuck    bool
	Err      error
}

// EventHandler receives published events. Handlers run in their own
// goroutine and must not block the loop.
type EventHandler func(event Event)

// Loop runs a one-shot startup recovery pass and a periodic background
// re-scan, both driving the coordinator's idempotent phase handler.
type Loop struct {
	escrows     *store.Store
	coordinator *coordinator.Coordinator
	interval    time.Duration
	stuckAfter  time.Duration
	log         *logging.Logger
	handlers    []EventHandler

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Loop. interval is the background re-scan period; stuckAfter
// is the last-activity-at age past which a non-terminal escrow is flagged
// as stuck in the emitted event.
func New(escrows *store.Store, coord *coordinator.Coordinator, interval, stuckAfter time.Duration) *Loop {
	ctx, cancel := context.WithCancel(context.Background())
	return &Loop{
		escrows:     escrows,
		coordinator: coord,
		interval:    interval,
		stuckAfter:  stuckAfter,
		log:         logging.GetDefault().Component("recovery-loop"),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// OnEvent registers a handler for recovery events.
func (l *Loop) OnEvent(h EventHandler) {
	l.handlers = append(l.handlers, h)
}

func (l *Loop) emitEvent(event Event) {
	for _, h := range l.handlers {
		go h(event)
	}
}

// RunOnce performs a single recovery pass over every non-terminal escrow,
// resuming each one's phase handler from wherever it left off. Intended to
// run once at startup, before Start.
func (l *Loop) RunOnce(ctx context.Context) {
	escrows, err := l.escrows.ListActiveEscrows()
	if err != nil {
		l.log.Warn("failed to list active escrows for recovery", "error", err)
		return
	}

	now := time.Now()
	for _, escrow := range escrows {
		l.resumeOne(ctx, escrow, now)
	}
}

// Start launches the background re-scan loop. Call RunOnce first to
// perform the startup pass.
func (l *Loop) Start() {
	go l.run()
	l.log.Info("recovery loop started", "interval", l.interval)
}

// Stop halts the background re-scan loop.
func (l *Loop) Stop() {
	l.cancel()
	l.log.Info("recovery loop stopped")
}

func (l *Loop) run() {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.ctx.Done():
			return
		case <-ticker.C:
			l.RunOnce(l.ctx)
		}
	}
}

// resumeOne resumes a single escrow's phase handler, recovering from a
// panic at the goroutine boundary so one broken escrow never takes down the
// recovery pass or the process; the escrow is simply left for the next pass.
func (l *Loop) resumeOne(ctx context.Context, escrow *store.Escrow, now time.Time) {
	stuck := now.Sub(escrow.LastActivityAt) > l.stuckAfter

	defer func() {
		if r := recover(); r != nil {
			l.log.Error("recovery pass panicked", "escrow_id", escrow.ID, "panic", fmt.Sprint(r))
			l.emitEvent(Event{
				Type:     EventRecovered,
				EscrowID: escrow.ID,
				Phase:    store.PhaseKind(escrow.MultisigPhase),
				Stuck:    stuck,
				Err:      fmt.Errorf("recovery panic: %v", r),
			})
		}
	}()

	err := l.coordinator.Advance(ctx, escrow.ID)
	if err != nil {
		l.log.Warn("recovery advance failed", "escrow_id", escrow.ID, "stuck", stuck, "error", err)
	} else if stuck {
		l.log.Info("resumed stuck escrow", "escrow_id", escrow.ID, "phase", escrow.MultisigPhase)
	}

	l.emitEvent(Event{
		Type:     EventRecovered,
		EscrowID: escrow.ID,
		Phase:    store.PhaseKind(escrow.MultisigPhase),
		Stuck:    stuck,
		Err:      err,
	})
}
