// Package coordinator drives the three-party, 2-of-3 multisig wallet setup
// protocol for one escrow at a time: Preparing, Making, Exchanging, Ready.
// The coordinator never holds private key material; it only relays opaque
// multisig strings between the buyer, vendor, and arbiter wallet daemons.
package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/satisfyguy/escrowd/internal/escrowerr"
	"github.com/satisfyguy/escrowd/internal/locks"
	"github.com/satisfyguy/escrowd/internal/store"
	"github.com/satisfyguy/escrowd/internal/walletrpc"
	"github.com/satisfyguy/escrowd/pkg/logging"
)

// MaxExchangeRounds bounds the Exchanging phase; the underlying 2-of-3
// protocol needs at most two rounds to converge on a shared address.
const MaxExchangeRounds = 2

// Threshold is fixed at 2-of-3 for the whole domain.
const Threshold = 2

// EventType tags the kind of event emitted by the coordinator.
type EventType string

const (
	EventPhaseChanged  EventType = "multisig_phase_changed"
	EventRoleCompleted EventType = "multisig_role_completed"
	EventReady         EventType = "multisig_ready"
	EventSetupFailed   EventType = "multisig_setup_failed"
)

// Event is published on every phase transition and terminal outcome.
type Event struct {
	Type     EventType
	EscrowID string
	Phase    store.PhaseKind
	Round    int
	Role     store.Role
	Address  string
	Err      error
}

// EventHandler receives published events. Handlers run in their own
// goroutine and must not block the coordinator.
type EventHandler func(event Event)

// Endpoints resolves a wallet-rpc client for a given role, scoped to one
// escrow. Callers typically back this with sealed per-escrow endpoint
// config loaded from internal/store and unsealed via internal/cryptoutil.
type Endpoints interface {
	ClientFor(escrowID string, role store.Role) (*walletrpc.Client, error)
}

// Coordinator drives multisig setup for escrows one at a time per escrow,
// serialized by the escrow's lock.
type Coordinator struct {
	escrows   *store.Store
	endpoints Endpoints
	locks     *locks.Registry
	log       *logging.Logger

	mu       sync.RWMutex
	handlers []EventHandler
}

// New creates a Coordinator.
func New(escrows *store.Store, endpoints Endpoints, lockRegistry *locks.Registry) *Coordinator {
	return &Coordinator{
		escrows:   escrows,
		endpoints: endpoints,
		locks:     lockRegistry,
		log:       logging.GetDefault().Component("coordinator"),
	}
}

// OnEvent registers a handler for every event the coordinator emits.
func (c *Coordinator) OnEvent(h EventHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, h)
}

func (c *Coordinator) emitEvent(event Event) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, h := range c.handlers {
		go h(event)
	}
}

// Advance drives the multisig setup state machine for escrowID forward by
// one step from its currently persisted snapshot, re-hydrating from the
// store so restart resumes exactly where it left off. Safe to call
// repeatedly (e.g. from an HTTP handler after each participant submission,
// or from a background driver loop) — each phase's operations are
// idempotent against already-recorded per-role material.
func (c *Coordinator) Advance(ctx context.Context, escrowID string) error {
	escrowLock := c.locks.Get(escrowID)
	escrowLock.Lock()
	defer escrowLock.Unlock()

	snap, err := c.escrows.LoadSnapshot(escrowID)
	if err != nil {
		return err
	}

	switch snap.Phase {
	case store.PhasePreparing:
		return c.advancePreparing(ctx, escrowID, snap)
	case store.PhaseMaking:
		return c.advanceMaking(ctx, escrowID, snap)
	case store.PhaseExchanging:
		return c.advanceExchanging(ctx, escrowID, snap)
	case store.PhaseReady:
		return nil
	default:
		return escrowerr.New(escrowerr.InvalidState, "unknown multisig phase: "+string(snap.Phase))
	}
}

// clientFor resolves a role's wallet-rpc client through the configured
// Endpoints. It takes no lock; the phase handlers take the role's wallet
// lock around each call they make on the returned client.
func (c *Coordinator) clientFor(escrowID string, role store.Role) (*walletrpc.Client, error) {
	return c.endpoints.ClientFor(escrowID, role)
}

func (c *Coordinator) save(snap *store.Snapshot) error {
	snap.UpdatedAt = time.Now()
	return c.escrows.SaveSnapshot(snap)
}
