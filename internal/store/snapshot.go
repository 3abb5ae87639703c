package store

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/satisfyguy/escrowd/internal/escrowerr"
)

// PhaseKind names the multisig setup phase, a tagged variant.
type PhaseKind string

const (
	PhasePreparing  PhaseKind = "preparing"
	PhaseMaking     PhaseKind = "making"
	PhaseExchanging PhaseKind = "exchanging"
	PhaseFinalizing PhaseKind = "finalizing"
	PhaseReady      PhaseKind = "ready"
)

// Snapshot is the durable record of multisig setup progress for one escrow.
type Snapshot struct {
	EscrowID       string
	Phase          PhaseKind
	Round          int
	CompletedRoles []Role
	RoleAddresses  map[Role]string
	ReadyAddress   string
	UpdatedAt      time.Time
}

// HasCompleted reports whether role has already submitted material for the
// current phase — the idempotency check every phase handler performs
// before issuing an RPC.
func (snap *Snapshot) HasCompleted(role Role) bool {
	for _, r := range snap.CompletedRoles {
		if r == role {
			return true
		}
	}
	return false
}

// SaveSnapshot persists the snapshot and mirrors its phase name onto the
// escrow row in the same transaction, per the data-model invariant that
// the two never diverge.
func (s *Store) SaveSnapshot(snap *Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rolesJSON, err := json.Marshal(snap.CompletedRoles)
	if err != nil {
		return escrowerr.Wrap(escrowerr.Internal, "marshal completed roles", err)
	}
	addressesJSON, err := json.Marshal(snap.RoleAddresses)
	if err != nil {
		return escrowerr.Wrap(escrowerr.Internal, "marshal role addresses", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return escrowerr.Wrap(escrowerr.PersistenceFailure, "begin snapshot transaction", err)
	}
	defer tx.Rollback()

	var readyAddr sql.NullString
	if snap.ReadyAddress != "" {
		readyAddr = sql.NullString{String: snap.ReadyAddress, Valid: true}
	}

	_, err = tx.Exec(`
		INSERT INTO multisig_states (escrow_id, phase_kind, phase_round, completed_roles, role_addresses, ready_address, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(escrow_id) DO UPDATE SET
			phase_kind = excluded.phase_kind,
			phase_round = excluded.phase_round,
			completed_roles = excluded.completed_roles,
			role_addresses = excluded.role_addresses,
			ready_address = excluded.ready_address,
			updated_at = excluded.updated_at
	`, snap.EscrowID, string(snap.Phase), snap.Round, string(rolesJSON), string(addressesJSON), readyAddr, snap.UpdatedAt.Unix())
	if err != nil {
		return escrowerr.Wrap(escrowerr.PersistenceFailure, "upsert snapshot", err)
	}

	_, err = tx.Exec(`UPDATE escrows SET multisig_phase = ? WHERE id = ?`, string(snap.Phase), snap.EscrowID)
	if err != nil {
		return escrowerr.Wrap(escrowerr.PersistenceFailure, "mirror multisig phase", err)
	}

	if err := tx.Commit(); err != nil {
		return escrowerr.Wrap(escrowerr.PersistenceFailure, "commit snapshot transaction", err)
	}
	return nil
}

// LoadSnapshot loads the multisig snapshot for an escrow.
func (s *Store) LoadSnapshot(escrowID string) (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var snap Snapshot
	var phaseKind string
	var rolesJSON string
	var addressesJSON sql.NullString
	var readyAddr sql.NullString
	var updatedAt int64

	err := s.db.QueryRow(`
		SELECT escrow_id, phase_kind, phase_round, completed_roles, role_addresses, ready_address, updated_at
		FROM multisig_states WHERE escrow_id = ?
	`, escrowID).Scan(&snap.EscrowID, &phaseKind, &snap.Round, &rolesJSON, &addressesJSON, &readyAddr, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, escrowerr.New(escrowerr.NotFound, "snapshot not found")
	}
	if err != nil {
		return nil, escrowerr.Wrap(escrowerr.PersistenceFailure, "load snapshot", err)
	}

	snap.Phase = PhaseKind(phaseKind)
	snap.ReadyAddress = readyAddr.String
	snap.UpdatedAt = time.Unix(updatedAt, 0)
	if err := json.Unmarshal([]byte(rolesJSON), &snap.CompletedRoles); err != nil {
		return nil, escrowerr.Wrap(escrowerr.Internal, "unmarshal completed roles", err)
	}
	if addressesJSON.Valid && addressesJSON.String != "" {
		if err := json.Unmarshal([]byte(addressesJSON.String), &snap.RoleAddresses); err != nil {
			return nil, escrowerr.Wrap(escrowerr.Internal, "unmarshal role addresses", err)
		}
	}

	return &snap, nil
}
