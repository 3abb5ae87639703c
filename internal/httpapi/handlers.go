package httpapi

import (
	"encoding/hex"
	"encoding/json"
	"net/http"

	"github.com/satisfyguy/escrowd/internal/escrowerr"
	"github.com/satisfyguy/escrowd/internal/store"
	"github.com/satisfyguy/escrowd/pkg/amount"
)

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return escrowerr.Wrap(escrowerr.Validation, "decode request body", err)
	}
	return nil
}

// handleChallenge issues a fresh proof-of-possession challenge for the
// authenticated (user, escrow, role) triple.
func (s *Server) handleChallenge(w http.ResponseWriter, r *http.Request) {
	escrow := escrowFrom(r.Context())
	userID := userIDFrom(r.Context())

	c, err := s.challenges.Generate(userID, escrow.ID)
	if err != nil {
		writeError(w, s.log, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"nonce":          hex.EncodeToString(c.Nonce),
		"message":        hex.EncodeToString(c.Message),
		"expires_at":     c.ExpiresAt,
		"time_remaining": c.TimeRemaining.Seconds(),
	})
}

type prepareRequest struct {
	MultisigInfo string `json:"multisig_info"`
	PublicKey    string `json:"public_key"`
	Signature    string `json:"signature"`
}

// handlePrepare verifies the submitted proof-of-possession signature and,
// on success, records the caller's Preparing-phase multisig material.
func (s *Server) handlePrepare(w http.ResponseWriter, r *http.Request) {
	escrow := escrowFrom(r.Context())
	userID := userIDFrom(r.Context())
	role := roleFrom(r.Context())

	var req prepareRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.log, err)
		return
	}
	if req.MultisigInfo == "" {
		writeError(w, s.log, escrowerr.New(escrowerr.Validation, "multisig_info is required"))
		return
	}

	pubKey, err := hex.DecodeString(req.PublicKey)
	if err != nil {
		writeError(w, s.log, escrowerr.Wrap(escrowerr.Validation, "decode public_key hex", err))
		return
	}
	sig, err := hex.DecodeString(req.Signature)
	if err != nil {
		writeError(w, s.log, escrowerr.Wrap(escrowerr.Validation, "decode signature hex", err))
		return
	}

	if err := s.challenges.VerifyAndConsume(userID, escrow.ID, pubKey, sig); err != nil {
		writeError(w, s.log, err)
		return
	}

	if err := s.escrows.UpsertRoleMaterial(escrow.ID, role, req.MultisigInfo); err != nil {
		writeError(w, s.log, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "recorded"})
}

// handleAdvance asks the coordinator to drive the multisig protocol one
// step further; idempotent per the phase handlers' own construction.
func (s *Server) handleAdvance(w http.ResponseWriter, r *http.Request) {
	escrow := escrowFrom(r.Context())

	if err := s.coordinator.Advance(r.Context(), escrow.ID); err != nil {
		writeError(w, s.log, err)
		return
	}

	snap, err := s.escrows.LoadSnapshot(escrow.ID)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshotResponse(snap))
}

type destinationRequest struct {
	Destination string `json:"destination"`
	Amount      string `json:"amount"`
}

func (req destinationRequest) parseAmount() (uint64, error) {
	if req.Destination == "" {
		return 0, escrowerr.New(escrowerr.Validation, "destination is required")
	}
	atomicUnits, err := amount.Parse(req.Amount)
	if err != nil {
		return 0, escrowerr.Wrap(escrowerr.InvalidAmount, "parse amount", err)
	}
	return atomicUnits, nil
}

// handleRelease initiates the release signing flow. Restricted to the
// buyer by role binding enforced in withUserAuth combined with the
// orchestrator's own from-state check (funded -> releasing).
func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request) {
	escrow := escrowFrom(r.Context())
	role := roleFrom(r.Context())
	if role != store.RoleBuyer {
		writeError(w, s.log, escrowerr.New(escrowerr.Forbidden, "only the buyer may request release"))
		return
	}

	var req destinationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.log, err)
		return
	}
	atomicUnits, err := req.parseAmount()
	if err != nil {
		writeError(w, s.log, err)
		return
	}

	if err := s.orchestrator.RequestRelease(r.Context(), escrow.ID, req.Destination, atomicUnits); err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "releasing"})
}

// handleRefund initiates the refund signing flow, restricted to the vendor.
func (s *Server) handleRefund(w http.ResponseWriter, r *http.Request) {
	escrow := escrowFrom(r.Context())
	role := roleFrom(r.Context())
	if role != store.RoleVendor {
		writeError(w, s.log, escrowerr.New(escrowerr.Forbidden, "only the vendor may request refund"))
		return
	}

	var req destinationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.log, err)
		return
	}
	atomicUnits, err := req.parseAmount()
	if err != nil {
		writeError(w, s.log, err)
		return
	}

	if err := s.orchestrator.RequestRefund(r.Context(), escrow.ID, req.Destination, atomicUnits); err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "refunding"})
}

// handleDispute transitions a funded escrow to disputed. Either the buyer
// or the vendor may open a dispute.
func (s *Server) handleDispute(w http.ResponseWriter, r *http.Request) {
	escrow := escrowFrom(r.Context())
	role := roleFrom(r.Context())
	if role != store.RoleBuyer && role != store.RoleVendor {
		writeError(w, s.log, escrowerr.New(escrowerr.Forbidden, "only the buyer or vendor may open a dispute"))
		return
	}

	if err := s.orchestrator.OpenDispute(escrow.ID); err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "disputed"})
}

type resolveRequest struct {
	Resolution  string `json:"resolution"` // "buyer" or "vendor"
	Destination string `json:"destination"`
	Amount      string `json:"amount"`
}

// handleResolve lets the arbiter decide a disputed escrow's outcome.
func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	escrow := escrowFrom(r.Context())
	role := roleFrom(r.Context())
	if role != store.RoleArbiter {
		writeError(w, s.log, escrowerr.New(escrowerr.Forbidden, "only the arbiter may resolve a dispute"))
		return
	}

	var req resolveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.log, err)
		return
	}

	var decision store.Status
	switch req.Resolution {
	case "buyer":
		decision = store.StatusReleasing
	case "vendor":
		decision = store.StatusRefunding
	default:
		writeError(w, s.log, escrowerr.New(escrowerr.Validation, "resolution must be \"buyer\" or \"vendor\""))
		return
	}

	atomicUnits, err := amount.Parse(req.Amount)
	if err != nil {
		writeError(w, s.log, escrowerr.Wrap(escrowerr.InvalidAmount, "parse amount", err))
		return
	}

	if err := s.orchestrator.ResolveDispute(r.Context(), escrow.ID, decision, req.Destination, atomicUnits); err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": string(decision)})
}

// handleGetEscrow returns the escrow state and current multisig phase to
// any of its three bound parties.
func (s *Server) handleGetEscrow(w http.ResponseWriter, r *http.Request) {
	escrow := escrowFrom(r.Context())

	snap, err := s.escrows.LoadSnapshot(escrow.ID)
	if err != nil && escrowerr.KindOf(err) != escrowerr.NotFound {
		writeError(w, s.log, err)
		return
	}

	resp := map[string]any{
		"id":                  escrow.ID,
		"status":              escrow.Status,
		"multisig_phase":      escrow.MultisigPhase,
		"destination_address": escrow.DestinationAddress,
		"confirmed_txid":      escrow.ConfirmedTxID,
		"amount":              amount.Format(escrow.AmountAtomic),
		"created_at":          escrow.CreatedAt,
		"last_activity_at":    escrow.LastActivityAt,
	}
	if snap != nil {
		resp["snapshot"] = snapshotResponse(snap)
	}
	writeJSON(w, http.StatusOK, resp)
}

func snapshotResponse(snap *store.Snapshot) map[string]any {
	return map[string]any{
		"phase":         snap.Phase,
		"round":         snap.Round,
		"ready_address": snap.ReadyAddress,
		"updated_at":    snap.UpdatedAt,
	}
}

type createEscrowRequest struct {
	OrderRef     string `json:"order_ref"`
	BuyerUserID  string `json:"buyer_user_id"`
	VendorUserID string `json:"vendor_user_id"`
	Amount       string `json:"amount"`
}

// handleCreateEscrow inserts a new escrow row on behalf of an upstream
// order-management system once an order has been accepted; arbiter
// assignment happens separately via handleAssignArbiter.
func (s *Server) handleCreateEscrow(w http.ResponseWriter, r *http.Request) {
	var req createEscrowRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.log, err)
		return
	}

	atomicUnits, err := amount.Parse(req.Amount)
	if err != nil {
		writeError(w, s.log, escrowerr.Wrap(escrowerr.InvalidAmount, "parse amount", err))
		return
	}

	escrow, err := s.orchestrator.CreateEscrow(req.OrderRef, req.BuyerUserID, req.VendorUserID, atomicUnits)
	if err != nil {
		writeError(w, s.log, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"escrow_id": escrow.ID,
		"status":    escrow.Status,
	})
}

type assignArbiterRequest struct {
	ArbiterUserID string `json:"arbiter_user_id"`
}

// handleAssignArbiter binds the arbiter role on an escrow that was created
// without one.
func (s *Server) handleAssignArbiter(w http.ResponseWriter, r *http.Request) {
	escrowID := r.PathValue("id")
	if escrowID == "" {
		writeError(w, s.log, escrowerr.New(escrowerr.Validation, "missing escrow id"))
		return
	}

	var req assignArbiterRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.log, err)
		return
	}

	if err := s.orchestrator.AssignArbiter(escrowID, req.ArbiterUserID); err != nil {
		writeError(w, s.log, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "assigned"})
}

// handleCleanupChallenges sweeps expired challenges from the in-memory
// store on operator request, in addition to the periodic sweep cmd/escrowd
// runs on the timeout monitor's poll interval.
func (s *Server) handleCleanupChallenges(w http.ResponseWriter, r *http.Request) {
	removed := s.challenges.Sweep()
	writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

// handleHealth reports aggregate counts for operator dashboards: active
// escrow counts by status, lock-registry and session-manager sizes, and
// outstanding challenge count.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	active, err := s.escrows.ListActiveEscrows()
	if err != nil {
		writeError(w, s.log, err)
		return
	}

	byStatus := make(map[store.Status]int)
	for _, e := range active {
		byStatus[e.Status]++
	}

	recentEvents, err := s.escrows.RecentEvents(50)
	if err != nil {
		writeError(w, s.log, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"active_total":       len(active),
		"active_by_status":   byStatus,
		"active_challenges":  s.challenges.ActiveCount(),
		"active_locks":       s.locks.ActiveCount(),
		"session_stats":      s.sessions.Stats(),
		"connected_ws_admins": s.wsHub.ClientCount(),
		"recent_events":      recentEvents,
	})
}
