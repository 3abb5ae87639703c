package cryptoutil

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"fmt"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters for share-file passphrase wrapping (OWASP-recommended).
const (
	shareArgon2Time        = 3
	shareArgon2Memory      = 64 * 1024
	shareArgon2Parallelism = 4
	shareArgon2KeyLen      = 32
	shareArgon2SaltLen     = 32
)

// WrappedShare is the on-disk JSON form of a passphrase-protected Shamir
// share file: a master-key share is far more sensitive sitting on an
// operator's disk than a wallet seed, so the same Argon2id + AES-256-GCM
// construction applies here too.
type WrappedShare struct {
	Version    int    `json:"version"`
	Ciphertext []byte `json:"ciphertext"`
	Salt       []byte `json:"salt"`
	Nonce      []byte `json:"nonce"`
}

// WrapShare encrypts a Shamir share under a key derived from passphrase via
// Argon2id, for storage in a DB_ENCRYPTION_SHARE_FILE_{1,2,3} file.
func WrapShare(share []byte, passphrase string) (*WrappedShare, error) {
	salt := make([]byte, shareArgon2SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("cryptoutil: generate share salt: %w", err)
	}

	key := argon2.IDKey([]byte(passphrase), salt, shareArgon2Time, shareArgon2Memory, shareArgon2Parallelism, shareArgon2KeyLen)
	defer Zeroize(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cryptoutil: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cryptoutil: new gcm: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("cryptoutil: generate share nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, share, nil)
	return &WrappedShare{Version: 1, Ciphertext: ciphertext, Salt: salt, Nonce: nonce}, nil
}

// UnwrapShare reverses WrapShare, failing closed on a wrong passphrase or a
// tampered file.
func UnwrapShare(w *WrappedShare, passphrase string) ([]byte, error) {
	key := argon2.IDKey([]byte(passphrase), w.Salt, shareArgon2Time, shareArgon2Memory, shareArgon2Parallelism, shareArgon2KeyLen)
	defer Zeroize(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cryptoutil: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cryptoutil: new gcm: %w", err)
	}

	share, err := gcm.Open(nil, w.Nonce, w.Ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("cryptoutil: decrypt share (wrong passphrase?): %w", err)
	}
	return share, nil
}

// MarshalWrappedShare and UnmarshalWrappedShare are thin JSON helpers kept
// here so callers never need to know the wire shape of a share file.
func MarshalWrappedShare(w *WrappedShare) ([]byte, error) {
	return json.Marshal(w)
}

func UnmarshalWrappedShare(data []byte) (*WrappedShare, error) {
	var w WrappedShare
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("cryptoutil: parse wrapped share: %w", err)
	}
	return &w, nil
}
