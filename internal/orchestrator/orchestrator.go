// Package orchestrator drives the escrow lifecycle state machine —
// deposit confirmation, release/refund signing, dispute resolution, and
// expiry — on top of the durable status column in internal/store.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/satisfyguy/escrowd/internal/escrowerr"
	"github.com/satisfyguy/escrowd/internal/locks"
	"github.com/satisfyguy/escrowd/internal/store"
	"github.com/satisfyguy/escrowd/internal/walletrpc"
	"github.com/satisfyguy/escrowd/pkg/logging"
)

// transitions is the explicit from-status -> permitted-to-statuses
// adjacency table. Any edge not listed here is rejected with InvalidState.
var transitions = map[store.Status]map[store.Status]struct{}{
	store.StatusCreated: {
		store.StatusFunded:    {},
		store.StatusCancelled: {},
		store.StatusExpired:   {},
	},
	store.StatusFunded: {
		store.StatusReleasing: {},
		store.StatusRefunding: {},
		store.StatusDisputed:  {},
		store.StatusExpired:   {},
	},
	store.StatusReleasing: {
		store.StatusCompleted: {},
		store.StatusExpired:   {},
	},
	store.StatusRefunding: {
		store.StatusRefunded: {},
		store.StatusExpired:  {},
	},
	store.StatusDisputed: {
		store.StatusReleasing: {},
		store.StatusRefunding: {},
		store.StatusCancelled: {},
	},
}

// IsPermitted reports whether the from -> to edge is allowed.
func IsPermitted(from, to store.Status) bool {
	edges, ok := transitions[from]
	if !ok {
		return false
	}
	_, ok = edges[to]
	return ok
}

// EventType tags an orchestrator-emitted event.
type EventType string

const (
	EventEscrowInit           EventType = "escrow_init"
	EventEscrowAssigned       EventType = "escrow_assigned"
	EventEscrowStatusChanged  EventType = "escrow_status_changed"
	EventTransactionConfirmed EventType = "transaction_confirmed"
	EventOrderStatusChanged   EventType = "order_status_changed"
)

// Event is published on every lifecycle transition.
type Event struct {
	Type           EventType
	EscrowID       string
	From           store.Status
	To             store.Status
	TxID           string
	OrderRef       string
	NewOrderStatus string
}

// orderStatusFor maps an escrow status onto the label an external order-
// management system (out of this package's scope) would recognize, for
// EventOrderStatusChanged.
func orderStatusFor(status store.Status) string {
	switch status {
	case store.StatusFunded:
		return "paid"
	case store.StatusCompleted:
		return "fulfilled"
	case store.StatusRefunded, store.StatusCancelled, store.StatusExpired:
		return "cancelled"
	case store.StatusDisputed:
		return "disputed"
	default:
		return string(status)
	}
}

// EventHandler receives published events in its own goroutine.
type EventHandler func(event Event)

// Endpoints resolves a wallet-rpc client for a role, scoped to one escrow,
// shared with internal/coordinator.
type Endpoints interface {
	ClientFor(escrowID string, role store.Role) (*walletrpc.Client, error)
}

// Orchestrator drives escrow-lifecycle transitions.
type Orchestrator struct {
	escrows   *store.Store
	endpoints Endpoints
	locks     *locks.Registry
	log       *logging.Logger

	handlers []EventHandler
}

// New creates an Orchestrator.
func New(escrows *store.Store, endpoints Endpoints, lockRegistry *locks.Registry) *Orchestrator {
	return &Orchestrator{
		escrows:   escrows,
		endpoints: endpoints,
		locks:     lockRegistry,
		log:       logging.GetDefault().Component("orchestrator"),
	}
}

// OnEvent registers a handler for every event the orchestrator emits.
func (o *Orchestrator) OnEvent(h EventHandler) {
	o.handlers = append(o.handlers, h)
}

func (o *Orchestrator) emitEvent(event Event) {
	for _, h := range o.handlers {
		go h(event)
	}
}

// Transition moves escrowID from its current status to `to`, rejecting the
// request unless the adjacency table permits the edge and the escrow's
// persisted status still matches `from` at commit time.
func (o *Orchestrator) Transition(escrowID string, from, to store.Status) error {
	if !IsPermitted(from, to) {
		return escrowerr.New(escrowerr.InvalidState, fmt.Sprintf("transition %s -> %s is not permitted", from, to))
	}

	lock := o.locks.Get(escrowID)
	lock.Lock()
	defer lock.Unlock()

	if err := o.escrows.UpdateStatus(escrowID, from, to, time.Now()); err != nil {
		return err
	}

	o.emitEvent(Event{Type: EventEscrowStatusChanged, EscrowID: escrowID, From: from, To: to})
	o.log.Info("escrow transitioned", "escrow_id", escrowID, "from", from, "to", to)

	if escrow, err := o.escrows.LoadEscrow(escrowID); err == nil && escrow.OrderRef != "" {
		o.emitEvent(Event{
			Type:           EventOrderStatusChanged,
			EscrowID:       escrowID,
			From:           from,
			To:             to,
			OrderRef:       escrow.OrderRef,
			NewOrderStatus: orderStatusFor(to),
		})
	}
	return nil
}

// CreateEscrow inserts a new escrow row for an order that has just been
// accepted, binding the buyer and vendor immediately; the arbiter may be
// assigned later via AssignArbiter. amountAtomic must already be validated
// as strictly positive by the caller (the HTTP boundary, or whatever
// upstream order-management flow triggers escrow creation).
func (o *Orchestrator) CreateEscrow(orderRef, buyerUserID, vendorUserID string, amountAtomic uint64) (*store.Escrow, error) {
	if orderRef == "" || buyerUserID == "" || vendorUserID == "" {
		return nil, escrowerr.New(escrowerr.Validation, "order_ref, buyer_user_id, and vendor_user_id are required")
	}
	if amountAtomic == 0 {
		return nil, escrowerr.New(escrowerr.InvalidAmount, "amount must be strictly positive")
	}

	escrow := &store.Escrow{
		ID:            uuid.NewString(),
		OrderRef:      orderRef,
		BuyerUserID:   buyerUserID,
		VendorUserID:  vendorUserID,
		AmountAtomic:  amountAtomic,
		Status:        store.StatusCreated,
		MultisigPhase: string(store.PhasePreparing),
		CreatedAt:     time.Now(),
	}
	if err := o.escrows.InsertEscrow(escrow); err != nil {
		return nil, err
	}
	if err := o.escrows.SaveSnapshot(&store.Snapshot{EscrowID: escrow.ID, Phase: store.PhasePreparing, UpdatedAt: time.Now()}); err != nil {
		return nil, err
	}

	o.emitEvent(Event{Type: EventEscrowInit, EscrowID: escrow.ID, OrderRef: orderRef, To: store.StatusCreated})
	o.log.Info("escrow created", "escrow_id", escrow.ID, "order_ref", orderRef)
	return escrow, nil
}

// AssignArbiter binds the arbiter role after escrow creation, emitting
// EventEscrowAssigned once all three roles are bound.
func (o *Orchestrator) AssignArbiter(escrowID, arbiterUserID string) error {
	if arbiterUserID == "" {
		return escrowerr.New(escrowerr.Validation, "arbiter_user_id is required")
	}
	if err := o.escrows.AssignArbiter(escrowID, arbiterUserID); err != nil {
		return err
	}

	o.emitEvent(Event{Type: EventEscrowAssigned, EscrowID: escrowID})
	o.log.Info("arbiter assigned", "escrow_id", escrowID)
	return nil
}

// ConfirmDeposit transitions an escrow created -> funded once the deposit
// has been observed at the agreed destination address with amount ≥
// escrow.amount. The caller is responsible for verifying the deposit itself;
// Transition only enforces the state-machine edge and persistence.
func (o *Orchestrator) ConfirmDeposit(escrowID string) error {
	return o.Transition(escrowID, store.StatusCreated, store.StatusFunded)
}

// OpenDispute transitions a funded escrow into the disputed state.
func (o *Orchestrator) OpenDispute(escrowID string) error {
	return o.Transition(escrowID, store.StatusFunded, store.StatusDisputed)
}

// RequestRelease transitions a funded escrow to releasing and begins the
// release signing flow (see release.go).
func (o *Orchestrator) RequestRelease(ctx context.Context, escrowID string, destination string, amount uint64) error {
	if err := o.Transition(escrowID, store.StatusFunded, store.StatusReleasing); err != nil {
		return err
	}
	return o.runSigningFlow(ctx, escrowID, store.RoleBuyer, store.RoleArbiter, destination, amount)
}

// RequestRefund transitions a funded escrow to refunding and begins the
// refund signing flow.
func (o *Orchestrator) RequestRefund(ctx context.Context, escrowID string, destination string, amount uint64) error {
	if err := o.Transition(escrowID, store.StatusFunded, store.StatusRefunding); err != nil {
		return err
	}
	return o.runSigningFlow(ctx, escrowID, store.RoleVendor, store.RoleArbiter, destination, amount)
}

// ResolveDispute applies the arbiter's decision to a disputed escrow.
func (o *Orchestrator) ResolveDispute(ctx context.Context, escrowID string, decision store.Status, destination string, amount uint64) error {
	switch decision {
	case store.StatusReleasing:
		if err := o.Transition(escrowID, store.StatusDisputed, store.StatusReleasing); err != nil {
			return err
		}
		return o.runSigningFlow(ctx, escrowID, store.RoleBuyer, store.RoleArbiter, destination, amount)
	case store.StatusRefunding:
		if err := o.Transition(escrowID, store.StatusDisputed, store.StatusRefunding); err != nil {
			return err
		}
		return o.runSigningFlow(ctx, escrowID, store.RoleVendor, store.RoleArbiter, destination, amount)
	case store.StatusCancelled:
		return o.Transition(escrowID, store.StatusDisputed, store.StatusCancelled)
	default:
		return escrowerr.New(escrowerr.InvalidState, fmt.Sprintf("arbiter decision %q is not a valid dispute resolution", decision))
	}
}

// ConfirmTransaction records confirmation depth for a pending release or
// refund; once confirmations meet threshold, it performs the terminal
// transition. The confirmation count and threshold come from the caller;
// this package does not watch the chain itself.
func (o *Orchestrator) ConfirmTransaction(escrowID, txid string, confirmations, threshold uint64) error {
	o.emitEvent(Event{Type: EventTransactionConfirmed, EscrowID: escrowID, TxID: txid})
	if confirmations < threshold {
		return nil
	}

	escrow, err := o.escrows.LoadEscrow(escrowID)
	if err != nil {
		return err
	}
	if err := o.escrows.SetConfirmedTxID(escrowID, txid); err != nil {
		return err
	}

	switch escrow.Status {
	case store.StatusReleasing:
		return o.Transition(escrowID, store.StatusReleasing, store.StatusCompleted)
	case store.StatusRefunding:
		return o.Transition(escrowID, store.StatusRefunding, store.StatusRefunded)
	default:
		return escrowerr.New(escrowerr.InvalidState, fmt.Sprintf("escrow %s is not awaiting confirmation (status %s)", escrowID, escrow.Status))
	}
}

// Expire transitions an escrow into expired, used by the timeout monitor.
// The transition table allows this from created, funded, releasing and
// refunding; from disputed it fails with InvalidState.
func (o *Orchestrator) Expire(escrowID string, from store.Status) error {
	return o.Transition(escrowID, from, store.StatusExpired)
}
