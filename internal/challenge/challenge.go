// Package challenge implements short-lived proof-of-possession challenges:
// a user proves control of the private key embedded in submitted multisig
// material by signing a server-derived message.
package challenge

import (
	"crypto/sha256"
	"sync"
	"time"

	"github.com/satisfyguy/escrowd/internal/cryptoutil"
	"github.com/satisfyguy/escrowd/internal/escrowerr"
	"github.com/satisfyguy/escrowd/pkg/logging"
)

// TTL is how long a generated challenge remains valid.
const TTL = 5 * time.Minute

// versionTag is mixed into the derived message so future protocol versions
// cannot replay a signature against an older message shape.
const versionTag = "escrowd-challenge-v1"

type entry struct {
	nonce     []byte
	message   []byte
	createdAt time.Time
}

// Store holds outstanding challenges keyed by (user, escrow).
type Store struct {
	mu      sync.Mutex
	entries map[string]entry
	log     *logging.Logger
}

// NewStore creates an empty challenge store.
func NewStore() *Store {
	return &Store{
		entries: make(map[string]entry),
		log:     logging.GetDefault().Component("challenge"),
	}
}

func key(userID, escrowID string) string {
	return userID + "|" + escrowID
}

// Challenge is returned to the caller of Generate.
type Challenge struct {
	Nonce         []byte
	Message       []byte
	CreatedAt     time.Time
	ExpiresAt     time.Time
	TimeRemaining time.Duration
}

// Generate creates a fresh 32-byte nonce and deterministic derived message
// for (userID, escrowID), overwriting any prior outstanding challenge for
// that pair.
func (s *Store) Generate(userID, escrowID string) (*Challenge, error) {
	nonce, err := cryptoutil.GenerateSecureRandom(32)
	if err != nil {
		return nil, escrowerr.Wrap(escrowerr.CryptoFailure, "generate challenge nonce", err)
	}

	now := time.Now()
	message := deriveMessage(nonce, userID, escrowID)

	s.mu.Lock()
	s.entries[key(userID, escrowID)] = entry{nonce: nonce, message: message, createdAt: now}
	s.mu.Unlock()

	return &Challenge{
		Nonce:         nonce,
		Message:       message,
		CreatedAt:     now,
		ExpiresAt:     now.Add(TTL),
		TimeRemaining: TTL,
	}, nil
}

func deriveMessage(nonce []byte, userID, escrowID string) []byte {
	h := sha256.New()
	h.Write(nonce)
	h.Write([]byte(userID))
	h.Write([]byte(escrowID))
	h.Write([]byte(versionTag))
	return h.Sum(nil)
}

// Get returns the outstanding challenge for (userID, escrowID), or
// ChallengeExpired if it has expired or does not exist — both conditions
// must behave identically to callers, since an absent entry and an
// expired one require the same remediation (request a new challenge).
func (s *Store) Get(userID, escrowID string) (*Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key(userID, escrowID)]
	if !ok {
		return nil, escrowerr.New(escrowerr.ChallengeExpired, "no outstanding challenge")
	}
	if time.Since(e.createdAt) > TTL {
		delete(s.entries, key(userID, escrowID))
		return nil, escrowerr.New(escrowerr.ChallengeExpired, "challenge expired")
	}

	return &Challenge{
		Nonce:         e.nonce,
		Message:       e.message,
		CreatedAt:     e.createdAt,
		ExpiresAt:     e.createdAt.Add(TTL),
		TimeRemaining: TTL - time.Since(e.createdAt),
	}, nil
}

// VerifyAndConsume checks expiry, verifies sig over the challenge's derived
// message using pubKey, and only deletes the entry once verification
// succeeds — a failed signature leaves the challenge outstanding so a
// retry with the correct signature can still consume it.
func (s *Store) VerifyAndConsume(userID, escrowID string, pubKey, sig []byte) error {
	s.mu.Lock()
	e, ok := s.entries[key(userID, escrowID)]
	if !ok {
		s.mu.Unlock()
		return escrowerr.New(escrowerr.ChallengeExpired, "no outstanding challenge")
	}
	if time.Since(e.createdAt) > TTL {
		delete(s.entries, key(userID, escrowID))
		s.mu.Unlock()
		return escrowerr.New(escrowerr.ChallengeExpired, "challenge expired")
	}
	s.mu.Unlock()

	ok2, err := cryptoutil.VerifyChallengeSignature(pubKey, e.message, sig)
	if err != nil {
		return escrowerr.Wrap(escrowerr.SignatureInvalid, "verify challenge signature", err)
	}
	if !ok2 {
		return escrowerr.New(escrowerr.SignatureInvalid, "challenge signature does not match submitted key")
	}

	s.mu.Lock()
	if cur, ok := s.entries[key(userID, escrowID)]; ok && string(cur.nonce) == string(e.nonce) {
		delete(s.entries, key(userID, escrowID))
	}
	s.mu.Unlock()
	return nil
}

// Sweep removes every expired entry, returning the count removed.
// cmd/escrowd calls it on the timeout monitor's poll interval.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for k, e := range s.entries {
		if time.Since(e.createdAt) > TTL {
			delete(s.entries, k)
			removed++
		}
	}
	if removed > 0 {
		s.log.Debug("swept expired challenges", "count", removed)
	}
	return removed
}

// ActiveCount reports outstanding challenge count for the health endpoint.
func (s *Store) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
