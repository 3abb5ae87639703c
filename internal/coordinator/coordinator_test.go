package coordinator

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/satisfyguy/escrowd/internal/cryptoutil"
	"github.com/satisfyguy/escrowd/internal/locks"
	"github.com/satisfyguy/escrowd/internal/store"
	"github.com/satisfyguy/escrowd/internal/walletrpc"
)

// fakeWallet simulates one participant's wallet daemon across the full
// Preparing → Making → Exchanging protocol, converging on a shared
// address once every participant has imported the others' exports.
type fakeWallet struct {
	role       store.Role
	address    string
	isMultisig bool
	isReady    bool
}

func newFakeWalletServer(t *testing.T, fw *fakeWallet) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     uint64 `json:"id"`
			Method string `json:"method"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)

		reply := func(result any) {
			resp := map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": result}
			_ = json.NewEncoder(w).Encode(resp)
		}

		switch req.Method {
		case "prepare_multisig":
			reply(map[string]any{"multisig_info": "prepare:" + string(fw.role)})
		case "make_multisig":
			reply(map[string]any{"address": "", "multisig_info": "make:" + string(fw.role)})
		case "export_multisig_info":
			reply(map[string]any{"info": "export:" + string(fw.role)})
		case "import_multisig_info":
			fw.isMultisig = true
			fw.isReady = true
			reply(map[string]any{"n_outputs": 1})
		case "is_multisig":
			reply(map[string]any{"multisig": fw.isMultisig, "ready": fw.isReady, "threshold": 2, "total": 3})
		case "get_address":
			reply(map[string]any{"address": fw.address})
		default:
			t.Fatalf("unexpected method %q", req.Method)
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

// fakeEndpoints resolves a walletrpc.Client per role from a fixed map,
// ignoring escrowID since tests use a single escrow.
type fakeEndpoints struct {
	clients map[store.Role]*walletrpc.Client
}

func (f *fakeEndpoints) ClientFor(escrowID string, role store.Role) (*walletrpc.Client, error) {
	return f.clients[role], nil
}

func testKey() cryptoutil.MasterKey {
	var k cryptoutil.MasterKey
	for i := range k {
		k[i] = byte(i + 1)
	}
	return k
}

func newTestStoreForCoordinator(t *testing.T) *store.Store {
	t.Helper()
	tmpDir, err := os.MkdirTemp("", "escrowd-coordinator-test-*")
	if err != nil {
		t.Fatalf("create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(tmpDir) })

	s, err := store.New(&store.Config{DataDir: tmpDir}, testKey())
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAdvanceDrivesFullProtocolToReady(t *testing.T) {
	s := newTestStoreForCoordinator(t)

	const escrowID = "escrow-coord-1"
	now := time.Now()
	err := s.InsertEscrow(&store.Escrow{
		ID:             escrowID,
		OrderRef:       "order-1",
		BuyerUserID:    "buyer-1",
		VendorUserID:   "vendor-1",
		ArbiterUserID:  "arbiter-1",
		AmountAtomic:   1_000_000_000_000,
		Status:         store.StatusCreated,
		MultisigPhase:  string(store.PhasePreparing),
		CreatedAt:      now,
		LastActivityAt: now,
	})
	if err != nil {
		t.Fatalf("InsertEscrow: %v", err)
	}
	if err := s.SaveSnapshot(&store.Snapshot{EscrowID: escrowID, Phase: store.PhasePreparing, UpdatedAt: now}); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}

	const sharedAddress = "4AgreedMultisigAddress"
	buyerWallet := &fakeWallet{role: store.RoleBuyer, address: sharedAddress}
	vendorWallet := &fakeWallet{role: store.RoleVendor, address: sharedAddress}
	arbiterWallet := &fakeWallet{role: store.RoleArbiter, address: sharedAddress}

	clients := map[store.Role]*walletrpc.Client{
		store.RoleBuyer:   walletrpc.New(walletrpc.Config{EndpointURL: newFakeWalletServer(t, buyerWallet).URL}),
		store.RoleVendor:  walletrpc.New(walletrpc.Config{EndpointURL: newFakeWalletServer(t, vendorWallet).URL}),
		store.RoleArbiter: walletrpc.New(walletrpc.Config{EndpointURL: newFakeWalletServer(t, arbiterWallet).URL}),
	}

	c := New(s, &fakeEndpoints{clients: clients}, locks.NewRegistry())

	var events []Event
	c.OnEvent(func(e Event) {
		events = append(events, e)
	})

	ctx := t.Context()

	// Preparing -> Making
	if err := c.Advance(ctx, escrowID); err != nil {
		t.Fatalf("Advance (preparing): %v", err)
	}
	snap, err := s.LoadSnapshot(escrowID)
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if snap.Phase != store.PhaseMaking {
		t.Fatalf("Phase after first Advance = %s, want %s", snap.Phase, store.PhaseMaking)
	}

	// Making -> Exchanging
	if err := c.Advance(ctx, escrowID); err != nil {
		t.Fatalf("Advance (making): %v", err)
	}
	snap, err = s.LoadSnapshot(escrowID)
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if snap.Phase != store.PhaseExchanging {
		t.Fatalf("Phase after second Advance = %s, want %s", snap.Phase, store.PhaseExchanging)
	}

	// Exchanging -> Ready (single round since the fakes agree immediately)
	if err := c.Advance(ctx, escrowID); err != nil {
		t.Fatalf("Advance (exchanging): %v", err)
	}
	snap, err = s.LoadSnapshot(escrowID)
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if snap.Phase != store.PhaseReady {
		t.Fatalf("Phase after third Advance = %s, want %s", snap.Phase, store.PhaseReady)
	}
	if snap.ReadyAddress != sharedAddress {
		t.Errorf("ReadyAddress = %s, want %s", snap.ReadyAddress, sharedAddress)
	}

	escrow, err := s.LoadEscrow(escrowID)
	if err != nil {
		t.Fatalf("LoadEscrow: %v", err)
	}
	if escrow.DestinationAddress != sharedAddress {
		t.Errorf("escrow.DestinationAddress = %s, want %s", escrow.DestinationAddress, sharedAddress)
	}

	// A further Advance call once Ready is a no-op.
	if err := c.Advance(ctx, escrowID); err != nil {
		t.Fatalf("Advance (ready, idempotent): %v", err)
	}

	sawReady := false
	for _, e := range events {
		if e.Type == EventReady {
			sawReady = true
		}
	}
	if !sawReady {
		t.Error("expected an EventReady event to have been emitted")
	}
}

func TestAdvancePreparingIsIdempotentPerRole(t *testing.T) {
	s := newTestStoreForCoordinator(t)

	const escrowID = "escrow-coord-2"
	now := time.Now()
	if err := s.InsertEscrow(&store.Escrow{
		ID:             escrowID,
		OrderRef:       "order-2",
		BuyerUserID:    "buyer-1",
		VendorUserID:   "vendor-1",
		ArbiterUserID:  "arbiter-1",
		AmountAtomic:   1_000_000_000_000,
		Status:         store.StatusCreated,
		MultisigPhase:  string(store.PhasePreparing),
		CreatedAt:      now,
		LastActivityAt: now,
	}); err != nil {
		t.Fatalf("InsertEscrow: %v", err)
	}

	// Buyer has already submitted its Preparing-phase material.
	if err := s.UpsertRoleMaterial(escrowID, store.RoleBuyer, "prepare:buyer"); err != nil {
		t.Fatalf("UpsertRoleMaterial: %v", err)
	}
	if err := s.SaveSnapshot(&store.Snapshot{
		EscrowID:       escrowID,
		Phase:          store.PhasePreparing,
		CompletedRoles: []store.Role{store.RoleBuyer},
		UpdatedAt:      now,
	}); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}

	callCount := 0
	buyerSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		callCount++
		t.Fatal("buyer's prepare_multisig should not be called again — already recorded")
	}))
	t.Cleanup(buyerSrv.Close)

	vendorWallet := &fakeWallet{role: store.RoleVendor, address: "addr"}
	arbiterWallet := &fakeWallet{role: store.RoleArbiter, address: "addr"}

	clients := map[store.Role]*walletrpc.Client{
		store.RoleBuyer:   walletrpc.New(walletrpc.Config{EndpointURL: buyerSrv.URL}),
		store.RoleVendor:  walletrpc.New(walletrpc.Config{EndpointURL: newFakeWalletServer(t, vendorWallet).URL}),
		store.RoleArbiter: walletrpc.New(walletrpc.Config{EndpointURL: newFakeWalletServer(t, arbiterWallet).URL}),
	}

	c := New(s, &fakeEndpoints{clients: clients}, locks.NewRegistry())
	if err := c.Advance(t.Context(), escrowID); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if callCount != 0 {
		t.Errorf("buyer prepare_multisig was called %d times, want 0", callCount)
	}
}
