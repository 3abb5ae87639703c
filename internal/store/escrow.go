package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/satisfyguy/escrowd/internal/cryptoutil"
	"github.com/satisfyguy/escrowd/internal/escrowerr"
)

// Status is the escrow lifecycle state, a closed tagged-variant enum.
type Status string

const (
	StatusCreated   Status = "created"
	StatusFunded    Status = "funded"
	StatusReleasing Status = "releasing"
	StatusRefunding Status = "refunding"
	StatusDisputed  Status = "disputed"
	StatusCompleted Status = "completed"
	StatusRefunded  Status = "refunded"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

// ParseStatus rejects any string outside the fixed status set.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusCreated, StatusFunded, StatusReleasing, StatusRefunding, StatusDisputed,
		StatusCompleted, StatusRefunded, StatusCancelled, StatusExpired:
		return Status(s), nil
	default:
		return "", escrowerr.New(escrowerr.Validation, fmt.Sprintf("unknown escrow status %q", s))
	}
}

// IsTerminal reports whether no outbound transitions exist from s.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusRefunded, StatusCancelled, StatusExpired:
		return true
	default:
		return false
	}
}

// Role identifies one of the three multisig participants.
type Role string

const (
	RoleBuyer   Role = "buyer"
	RoleVendor  Role = "vendor"
	RoleArbiter Role = "arbiter"
)

// Roles is the fixed participant order used for deadlock-avoiding lock
// acquisition throughout the coordinator.
var Roles = []Role{RoleBuyer, RoleVendor, RoleArbiter}

// Escrow is the primary persisted entity.
type Escrow struct {
	ID                 string
	OrderRef           string
	BuyerUserID        string
	VendorUserID       string
	ArbiterUserID      string
	AmountAtomic       uint64
	Status             Status
	MultisigPhase      string
	DestinationAddress string // empty until agreed
	ConfirmedTxID      string
	CreatedAt          time.Time
	LastActivityAt     time.Time
	ExpiresAt          *time.Time
	CancelReason       string

	// Sealed per-role material, as stored — ciphertext, opaque to callers
	// outside the store's own Seal/Open calls.
	BuyerSealedMaterial   string
	VendorSealedMaterial  string
	ArbiterSealedMaterial string
}

// RoleUserID returns the user ID bound to the given role.
func (e *Escrow) RoleUserID(role Role) string {
	switch role {
	case RoleBuyer:
		return e.BuyerUserID
	case RoleVendor:
		return e.VendorUserID
	case RoleArbiter:
		return e.ArbiterUserID
	default:
		return ""
	}
}

// InsertEscrow persists a new escrow row. Amount must already be validated
// as strictly positive by the caller (HTTP boundary).
func (s *Store) InsertEscrow(e *Escrow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := e.CreatedAt.Unix()
	var expiresAt *int64
	if e.ExpiresAt != nil {
		ts := e.ExpiresAt.Unix()
		expiresAt = &ts
	}

	_, err := s.db.Exec(`
		INSERT INTO escrows (
			id, order_ref, buyer_user_id, vendor_user_id, arbiter_user_id,
			amount_atomic, status, multisig_phase, created_at, last_activity_at, expires_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.ID, e.OrderRef, e.BuyerUserID, e.VendorUserID, e.ArbiterUserID,
		e.AmountAtomic, string(e.Status), e.MultisigPhase, now, now, expiresAt,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return escrowerr.New(escrowerr.Conflict, "escrow already exists")
		}
		return escrowerr.Wrap(escrowerr.PersistenceFailure, "insert escrow", err)
	}
	return nil
}

// LoadEscrow loads an escrow by ID.
func (s *Store) LoadEscrow(id string) (*Escrow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`
		SELECT id, order_ref, buyer_user_id, vendor_user_id, arbiter_user_id,
		       amount_atomic, status, multisig_phase, destination_address, confirmed_txid,
		       created_at, last_activity_at, expires_at, cancel_reason,
		       buyer_sealed_material, vendor_sealed_material, arbiter_sealed_material
		FROM escrows WHERE id = ?
	`, id)

	return scanEscrow(row)
}

func scanEscrow(row *sql.Row) (*Escrow, error) {
	var e Escrow
	var status string
	var destAddr, txid, cancelReason sql.NullString
	var createdAt, lastActivityAt int64
	var expiresAt sql.NullInt64
	var buyerMat, vendorMat, arbiterMat sql.NullString

	err := row.Scan(
		&e.ID, &e.OrderRef, &e.BuyerUserID, &e.VendorUserID, &e.ArbiterUserID,
		&e.AmountAtomic, &status, &e.MultisigPhase, &destAddr, &txid,
		&createdAt, &lastActivityAt, &expiresAt, &cancelReason,
		&buyerMat, &vendorMat, &arbiterMat,
	)
	if err == sql.ErrNoRows {
		return nil, escrowerr.New(escrowerr.NotFound, "escrow not found")
	}
	if err != nil {
		return nil, escrowerr.Wrap(escrowerr.PersistenceFailure, "scan escrow", err)
	}

	e.Status = Status(status)
	e.DestinationAddress = destAddr.String
	e.ConfirmedTxID = txid.String
	e.CancelReason = cancelReason.String
	e.CreatedAt = time.Unix(createdAt, 0)
	e.LastActivityAt = time.Unix(lastActivityAt, 0)
	if expiresAt.Valid {
		t := time.Unix(expiresAt.Int64, 0)
		e.ExpiresAt = &t
	}
	e.BuyerSealedMaterial = buyerMat.String
	e.VendorSealedMaterial = vendorMat.String
	e.ArbiterSealedMaterial = arbiterMat.String

	return &e, nil
}

// UpdateStatus transitions an escrow's status, verifying the current
// status matches `from` (optimistic concurrency under the caller's
// per-escrow lock).
func (s *Store) UpdateStatus(id string, from, to Status, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`
		UPDATE escrows SET status = ?, last_activity_at = ?
		WHERE id = ? AND status = ?
	`, string(to), now.Unix(), id, string(from))
	if err != nil {
		return escrowerr.Wrap(escrowerr.PersistenceFailure, "update status", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return escrowerr.Wrap(escrowerr.PersistenceFailure, "update status rows affected", err)
	}
	if rows == 0 {
		return escrowerr.New(escrowerr.InvalidState, fmt.Sprintf("escrow %s is not in status %s", id, from))
	}
	return nil
}

// UpdateDestinationAddress sets the agreed multisig address once; the
// column is immutable thereafter per the data-model invariant, enforced
// here by only writing when it is currently unset.
func (s *Store) UpdateDestinationAddress(id, address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`
		UPDATE escrows SET destination_address = ?
		WHERE id = ? AND destination_address IS NULL
	`, address, id)
	if err != nil {
		return escrowerr.Wrap(escrowerr.PersistenceFailure, "update destination address", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return escrowerr.Wrap(escrowerr.PersistenceFailure, "update destination address rows affected", err)
	}
	if rows == 0 {
		return escrowerr.New(escrowerr.Conflict, "destination address already set")
	}
	return nil
}

// AssignArbiter binds an arbiter to an escrow that was created without one,
// failing with Conflict if an arbiter is already bound.
func (s *Store) AssignArbiter(id, arbiterUserID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`
		UPDATE escrows SET arbiter_user_id = ?
		WHERE id = ? AND arbiter_user_id = ''
	`, arbiterUserID, id)
	if err != nil {
		return escrowerr.Wrap(escrowerr.PersistenceFailure, "assign arbiter", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return escrowerr.Wrap(escrowerr.PersistenceFailure, "assign arbiter rows affected", err)
	}
	if rows == 0 {
		return escrowerr.New(escrowerr.Conflict, "arbiter already assigned")
	}
	return nil
}

// UpsertRoleMaterial seals plaintext protocol material submitted by role
// and stores it.
func (s *Store) UpsertRoleMaterial(id string, role Role, plaintext string) error {
	sealed, err := cryptoutil.Seal(s.key, []byte(plaintext))
	if err != nil {
		return escrowerr.Wrap(escrowerr.CryptoFailure, "seal role material", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	column, err := roleMaterialColumn(role)
	if err != nil {
		return err
	}

	_, execErr := s.db.Exec(fmt.Sprintf(`UPDATE escrows SET %s = ? WHERE id = ?`, column), sealed, id)
	if execErr != nil {
		return escrowerr.Wrap(escrowerr.PersistenceFailure, "upsert role material", execErr)
	}
	return nil
}

// RoleMaterial loads and unseals the persisted protocol material for role,
// returning escrowerr.NotFound if that role has not yet submitted any.
func (s *Store) RoleMaterial(id string, role Role) (string, error) {
	e, err := s.LoadEscrow(id)
	if err != nil {
		return "", err
	}

	var sealed string
	switch role {
	case RoleBuyer:
		sealed = e.BuyerSealedMaterial
	case RoleVendor:
		sealed = e.VendorSealedMaterial
	case RoleArbiter:
		sealed = e.ArbiterSealedMaterial
	default:
		return "", escrowerr.New(escrowerr.Validation, fmt.Sprintf("unknown role %q", role))
	}
	if sealed == "" {
		return "", escrowerr.New(escrowerr.NotFound, string(role)+" has not submitted multisig material yet")
	}

	plain, err := cryptoutil.Open(s.key, sealed)
	if err != nil {
		return "", escrowerr.Wrap(escrowerr.CryptoFailure, "open role material", err)
	}
	return string(plain), nil
}

func roleMaterialColumn(role Role) (string, error) {
	switch role {
	case RoleBuyer:
		return "buyer_sealed_material", nil
	case RoleVendor:
		return "vendor_sealed_material", nil
	case RoleArbiter:
		return "arbiter_sealed_material", nil
	default:
		return "", escrowerr.New(escrowerr.Validation, fmt.Sprintf("unknown role %q", role))
	}
}

// UpdateMultisigPhase writes the escrow row's phase-name mirror of the
// authoritative snapshot on its own, outside any transaction. SaveSnapshot
// already updates this column in the same transaction as the snapshot.
func (s *Store) UpdateMultisigPhase(id, phaseName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`UPDATE escrows SET multisig_phase = ? WHERE id = ?`, phaseName, id)
	if err != nil {
		return escrowerr.Wrap(escrowerr.PersistenceFailure, "update multisig phase", err)
	}
	return nil
}

// SetCancelReason records why an escrow was cancelled.
func (s *Store) SetCancelReason(id, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`UPDATE escrows SET cancel_reason = ? WHERE id = ?`, reason, id)
	if err != nil {
		return escrowerr.Wrap(escrowerr.PersistenceFailure, "set cancel reason", err)
	}
	return nil
}

// SetConfirmedTxID records the release/refund transaction id.
func (s *Store) SetConfirmedTxID(id, txid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`UPDATE escrows SET confirmed_txid = ? WHERE id = ?`, txid, id)
	if err != nil {
		return escrowerr.Wrap(escrowerr.PersistenceFailure, "set confirmed txid", err)
	}
	return nil
}

// ListByUser returns escrows where userID holds any of the three roles.
func (s *Store) ListByUser(userID string) ([]*Escrow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id FROM escrows
		WHERE buyer_user_id = ? OR vendor_user_id = ? OR arbiter_user_id = ?
		ORDER BY created_at DESC
	`, userID, userID, userID)
	if err != nil {
		return nil, escrowerr.Wrap(escrowerr.PersistenceFailure, "list by user", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, escrowerr.Wrap(escrowerr.PersistenceFailure, "scan escrow id", err)
		}
		ids = append(ids, id)
	}

	result := make([]*Escrow, 0, len(ids))
	for _, id := range ids {
		e, err := s.LoadEscrow(id)
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, nil
}

// ListActiveEscrows returns every escrow not in a terminal status.
func (s *Store) ListActiveEscrows() ([]*Escrow, error) {
	return s.listByStatusPredicate(`status NOT IN ('completed', 'refunded', 'cancelled', 'expired')`)
}

// ListStaleEscrows returns active escrows whose last_activity_at predates olderThan.
func (s *Store) ListStaleEscrows(olderThan time.Time) ([]*Escrow, error) {
	s.mu.RLock()
	rows, err := s.db.Query(`
		SELECT id FROM escrows
		WHERE status NOT IN ('completed', 'refunded', 'cancelled', 'expired')
		AND last_activity_at < ?
	`, olderThan.Unix())
	if err != nil {
		s.mu.RUnlock()
		return nil, escrowerr.Wrap(escrowerr.PersistenceFailure, "list stale escrows", err)
	}
	ids, scanErr := collectIDs(rows)
	s.mu.RUnlock()
	if scanErr != nil {
		return nil, scanErr
	}

	result := make([]*Escrow, 0, len(ids))
	for _, id := range ids {
		e, err := s.LoadEscrow(id)
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, nil
}

func (s *Store) listByStatusPredicate(predicate string) ([]*Escrow, error) {
	s.mu.RLock()
	rows, err := s.db.Query(fmt.Sprintf(`SELECT id FROM escrows WHERE %s`, predicate))
	if err != nil {
		s.mu.RUnlock()
		return nil, escrowerr.Wrap(escrowerr.PersistenceFailure, "list escrows", err)
	}
	ids, scanErr := collectIDs(rows)
	s.mu.RUnlock()
	if scanErr != nil {
		return nil, scanErr
	}

	result := make([]*Escrow, 0, len(ids))
	for _, id := range ids {
		e, err := s.LoadEscrow(id)
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, nil
}

func collectIDs(rows *sql.Rows) ([]string, error) {
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, escrowerr.Wrap(escrowerr.PersistenceFailure, "scan escrow id", err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
