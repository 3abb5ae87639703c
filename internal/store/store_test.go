package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/satisfyguy/escrowd/internal/cryptoutil"
)

func testKey() cryptoutil.MasterKey {
	var k cryptoutil.MasterKey
	for i := range k {
		k[i] = byte(i)
	}
	return k
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	tmpDir, err := os.MkdirTemp("", "escrowd-store-test-*")
	if err != nil {
		t.Fatalf("create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(tmpDir) })

	s, err := New(&Config{DataDir: tmpDir}, testKey())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNewCreatesDatabaseFile(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "escrowd-store-test-*")
	if err != nil {
		t.Fatalf("create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	s, err := New(&Config{DataDir: tmpDir}, testKey())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer s.Close()

	dbPath := filepath.Join(tmpDir, "escrow.db")
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func newTestEscrow(id string) *Escrow {
	return &Escrow{
		ID:             id,
		OrderRef:       "order-1",
		BuyerUserID:    "buyer-1",
		VendorUserID:   "vendor-1",
		ArbiterUserID:  "arbiter-1",
		AmountAtomic:   1_000_000_000_000,
		Status:         StatusCreated,
		MultisigPhase:  string(PhasePreparing),
		CreatedAt:      time.Now(),
		LastActivityAt: time.Now(),
	}
}

func TestInsertAndLoadEscrow(t *testing.T) {
	s := newTestStore(t)
	e := newTestEscrow("escrow-1")

	if err := s.InsertEscrow(e); err != nil {
		t.Fatalf("InsertEscrow: %v", err)
	}

	loaded, err := s.LoadEscrow("escrow-1")
	if err != nil {
		t.Fatalf("LoadEscrow: %v", err)
	}
	if loaded.AmountAtomic != e.AmountAtomic {
		t.Errorf("AmountAtomic = %d, want %d", loaded.AmountAtomic, e.AmountAtomic)
	}
	if loaded.Status != StatusCreated {
		t.Errorf("Status = %s, want %s", loaded.Status, StatusCreated)
	}
}

func TestInsertEscrowDuplicateIDConflict(t *testing.T) {
	s := newTestStore(t)
	e := newTestEscrow("escrow-dup")

	if err := s.InsertEscrow(e); err != nil {
		t.Fatalf("first InsertEscrow: %v", err)
	}
	if err := s.InsertEscrow(e); err == nil {
		t.Fatal("expected second InsertEscrow with same ID to fail")
	}
}

func TestUpdateStatusRejectsStaleFrom(t *testing.T) {
	s := newTestStore(t)
	e := newTestEscrow("escrow-2")
	if err := s.InsertEscrow(e); err != nil {
		t.Fatalf("InsertEscrow: %v", err)
	}

	if err := s.UpdateStatus("escrow-2", StatusFunded, StatusReleasing, time.Now()); err == nil {
		t.Fatal("expected UpdateStatus to reject mismatched from-status")
	}

	if err := s.UpdateStatus("escrow-2", StatusCreated, StatusFunded, time.Now()); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}

	loaded, err := s.LoadEscrow("escrow-2")
	if err != nil {
		t.Fatalf("LoadEscrow: %v", err)
	}
	if loaded.Status != StatusFunded {
		t.Errorf("Status = %s, want %s", loaded.Status, StatusFunded)
	}
}

func TestUpdateDestinationAddressImmutable(t *testing.T) {
	s := newTestStore(t)
	e := newTestEscrow("escrow-3")
	if err := s.InsertEscrow(e); err != nil {
		t.Fatalf("InsertEscrow: %v", err)
	}

	if err := s.UpdateDestinationAddress("escrow-3", "addr-A"); err != nil {
		t.Fatalf("first UpdateDestinationAddress: %v", err)
	}
	if err := s.UpdateDestinationAddress("escrow-3", "addr-B"); err == nil {
		t.Fatal("expected second UpdateDestinationAddress to fail")
	}

	loaded, err := s.LoadEscrow("escrow-3")
	if err != nil {
		t.Fatalf("LoadEscrow: %v", err)
	}
	if loaded.DestinationAddress != "addr-A" {
		t.Errorf("DestinationAddress = %s, want addr-A", loaded.DestinationAddress)
	}
}

func TestAssignArbiterOnceThenConflict(t *testing.T) {
	s := newTestStore(t)
	e := newTestEscrow("escrow-arbiter")
	e.ArbiterUserID = ""
	if err := s.InsertEscrow(e); err != nil {
		t.Fatalf("InsertEscrow: %v", err)
	}

	if err := s.AssignArbiter("escrow-arbiter", "arbiter-9"); err != nil {
		t.Fatalf("first AssignArbiter: %v", err)
	}
	if err := s.AssignArbiter("escrow-arbiter", "arbiter-10"); err == nil {
		t.Fatal("expected second AssignArbiter to fail")
	}

	loaded, err := s.LoadEscrow("escrow-arbiter")
	if err != nil {
		t.Fatalf("LoadEscrow: %v", err)
	}
	if loaded.ArbiterUserID != "arbiter-9" {
		t.Errorf("ArbiterUserID = %s, want arbiter-9", loaded.ArbiterUserID)
	}
}

func TestSnapshotSaveLoadRoundTrip(t *testing.T) {
	s := newTestStore(t)
	e := newTestEscrow("escrow-4")
	if err := s.InsertEscrow(e); err != nil {
		t.Fatalf("InsertEscrow: %v", err)
	}

	snap := &Snapshot{
		EscrowID:       "escrow-4",
		Phase:          PhaseExchanging,
		Round:          1,
		CompletedRoles: []Role{RoleBuyer, RoleVendor},
		UpdatedAt:      time.Now(),
	}
	if err := s.SaveSnapshot(snap); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}

	loaded, err := s.LoadSnapshot("escrow-4")
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if loaded.Phase != PhaseExchanging || loaded.Round != 1 {
		t.Errorf("loaded snapshot = %+v, want phase=%s round=1", loaded, PhaseExchanging)
	}
	if !loaded.HasCompleted(RoleBuyer) || !loaded.HasCompleted(RoleVendor) {
		t.Error("expected buyer and vendor to be marked completed")
	}
	if loaded.HasCompleted(RoleArbiter) {
		t.Error("did not expect arbiter to be marked completed")
	}

	loadedEscrow, err := s.LoadEscrow("escrow-4")
	if err != nil {
		t.Fatalf("LoadEscrow: %v", err)
	}
	if loadedEscrow.MultisigPhase != string(PhaseExchanging) {
		t.Errorf("escrow.MultisigPhase = %s, want %s", loadedEscrow.MultisigPhase, PhaseExchanging)
	}
}

func TestWalletEndpointRegisterAndLoad(t *testing.T) {
	s := newTestStore(t)
	e := newTestEscrow("escrow-5")
	if err := s.InsertEscrow(e); err != nil {
		t.Fatalf("InsertEscrow: %v", err)
	}

	key := testKey()
	sealedURL, err := cryptoutil.Seal(key, []byte("http://127.0.0.1:18083/json_rpc"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	if err := s.RegisterEndpoint("escrow-5", RoleBuyer, sealedURL, ""); err != nil {
		t.Fatalf("RegisterEndpoint: %v", err)
	}

	gotSealedURL, gotCreds, err := s.LoadSealedEndpoint("escrow-5", RoleBuyer)
	if err != nil {
		t.Fatalf("LoadSealedEndpoint: %v", err)
	}
	if gotCreds != "" {
		t.Errorf("gotCreds = %q, want empty", gotCreds)
	}

	plaintext, err := cryptoutil.Open(key, gotSealedURL)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if string(plaintext) != "http://127.0.0.1:18083/json_rpc" {
		t.Errorf("unsealed URL = %s, want http://127.0.0.1:18083/json_rpc", plaintext)
	}
}

func TestLoadEndpointUnsealsBothFields(t *testing.T) {
	s := newTestStore(t)
	e := newTestEscrow("escrow-6")
	if err := s.InsertEscrow(e); err != nil {
		t.Fatalf("InsertEscrow: %v", err)
	}

	key := testKey()
	sealedURL, err := cryptoutil.Seal(key, []byte("http://127.0.0.1:18084/json_rpc"))
	if err != nil {
		t.Fatalf("Seal url: %v", err)
	}
	sealedCreds, err := cryptoutil.Seal(key, []byte("user:pass"))
	if err != nil {
		t.Fatalf("Seal creds: %v", err)
	}

	if err := s.RegisterEndpoint("escrow-6", RoleVendor, sealedURL, sealedCreds); err != nil {
		t.Fatalf("RegisterEndpoint: %v", err)
	}

	url, creds, err := s.LoadEndpoint("escrow-6", RoleVendor)
	if err != nil {
		t.Fatalf("LoadEndpoint: %v", err)
	}
	if url != "http://127.0.0.1:18084/json_rpc" {
		t.Errorf("url = %q, want http://127.0.0.1:18084/json_rpc", url)
	}
	if creds != "user:pass" {
		t.Errorf("creds = %q, want user:pass", creds)
	}
}

func TestUpsertAndLoadRoleMaterialRoundTrip(t *testing.T) {
	s := newTestStore(t)
	e := newTestEscrow("escrow-6")
	if err := s.InsertEscrow(e); err != nil {
		t.Fatalf("InsertEscrow: %v", err)
	}

	if err := s.UpsertRoleMaterial("escrow-6", RoleVendor, "multisig-info-blob"); err != nil {
		t.Fatalf("UpsertRoleMaterial: %v", err)
	}

	got, err := s.RoleMaterial("escrow-6", RoleVendor)
	if err != nil {
		t.Fatalf("RoleMaterial: %v", err)
	}
	if got != "multisig-info-blob" {
		t.Errorf("RoleMaterial = %q, want %q", got, "multisig-info-blob")
	}

	if _, err := s.RoleMaterial("escrow-6", RoleArbiter); err == nil {
		t.Fatal("expected RoleMaterial to fail for a role with no submitted material")
	}
}

func TestListActiveEscrowsExcludesTerminal(t *testing.T) {
	s := newTestStore(t)

	active := newTestEscrow("escrow-active")
	terminal := newTestEscrow("escrow-terminal")
	terminal.Status = StatusCompleted

	if err := s.InsertEscrow(active); err != nil {
		t.Fatalf("InsertEscrow active: %v", err)
	}
	if err := s.InsertEscrow(terminal); err != nil {
		t.Fatalf("InsertEscrow terminal: %v", err)
	}

	list, err := s.ListActiveEscrows()
	if err != nil {
		t.Fatalf("ListActiveEscrows: %v", err)
	}
	if len(list) != 1 || list[0].ID != "escrow-active" {
		t.Errorf("ListActiveEscrows = %+v, want only escrow-active", list)
	}
}
