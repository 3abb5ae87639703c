package store

import (
	"database/sql"
	"time"

	"github.com/satisfyguy/escrowd/internal/cryptoutil"
	"github.com/satisfyguy/escrowd/internal/escrowerr"
)

// WalletRPCConfig holds a participant's endpoint, keyed by (escrow, role).
// Stored fields are sealed ciphertext; EndpointURL/Credentials below are
// the decrypted values returned to in-process callers.
type WalletRPCConfig struct {
	EscrowID    string
	Role        Role
	EndpointURL string
	Credentials string // "user:pass", empty if the endpoint needs no auth
	CreatedAt   time.Time
}

// RegisterEndpoint stores a participant's wallet-RPC endpoint, sealed
// under the process master key.
func (s *Store) RegisterEndpoint(escrowID string, role Role, sealedURL, sealedCreds string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var creds sql.NullString
	if sealedCreds != "" {
		creds = sql.NullString{String: sealedCreds, Valid: true}
	}

	_, err := s.db.Exec(`
		INSERT INTO wallet_rpc_configs (escrow_id, role, sealed_endpoint_url, sealed_credentials, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(escrow_id, role) DO UPDATE SET
			sealed_endpoint_url = excluded.sealed_endpoint_url,
			sealed_credentials = excluded.sealed_credentials
	`, escrowID, string(role), sealedURL, creds, time.Now().Unix())
	if err != nil {
		return escrowerr.Wrap(escrowerr.PersistenceFailure, "register wallet endpoint", err)
	}
	return nil
}

// LoadSealedEndpoint returns the raw sealed columns; callers unseal via
// cryptoutil using the master key (the store never holds a decrypted form
// at rest, only on return from this call after the caller's own Open).
func (s *Store) LoadSealedEndpoint(escrowID string, role Role) (sealedURL, sealedCreds string, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var creds sql.NullString
	dbErr := s.db.QueryRow(`
		SELECT sealed_endpoint_url, sealed_credentials FROM wallet_rpc_configs
		WHERE escrow_id = ? AND role = ?
	`, escrowID, string(role)).Scan(&sealedURL, &creds)
	if dbErr == sql.ErrNoRows {
		return "", "", escrowerr.New(escrowerr.NotFound, "wallet endpoint not registered")
	}
	if dbErr != nil {
		return "", "", escrowerr.Wrap(escrowerr.PersistenceFailure, "load wallet endpoint", dbErr)
	}
	return sealedURL, creds.String, nil
}

// LoadEndpoint loads and unseals the registered wallet-RPC endpoint for
// (escrowID, role), keeping the master key encapsulated in the store the
// same way RoleMaterial does.
func (s *Store) LoadEndpoint(escrowID string, role Role) (url, creds string, err error) {
	sealedURL, sealedCreds, err := s.LoadSealedEndpoint(escrowID, role)
	if err != nil {
		return "", "", err
	}

	plainURL, err := cryptoutil.Open(s.key, sealedURL)
	if err != nil {
		return "", "", escrowerr.Wrap(escrowerr.CryptoFailure, "open wallet endpoint url", err)
	}
	if sealedCreds == "" {
		return string(plainURL), "", nil
	}
	plainCreds, err := cryptoutil.Open(s.key, sealedCreds)
	if err != nil {
		return "", "", escrowerr.Wrap(escrowerr.CryptoFailure, "open wallet endpoint credentials", err)
	}
	return string(plainURL), string(plainCreds), nil
}

// PurgeEndpoints deletes all wallet-RPC configs for an escrow.
func (s *Store) PurgeEndpoints(escrowID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`DELETE FROM wallet_rpc_configs WHERE escrow_id = ?`, escrowID)
	if err != nil {
		return escrowerr.Wrap(escrowerr.PersistenceFailure, "purge wallet endpoints", err)
	}
	return nil
}
