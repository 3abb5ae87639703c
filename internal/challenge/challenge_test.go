package challenge

import (
	"crypto/sha256"
	"testing"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

func TestGenerateThenVerifyAndConsumeSucceedsOnce(t *testing.T) {
	s := NewStore()

	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate private key: %v", err)
	}
	pubKey := priv.PubKey().SerializeCompressed()

	c, err := s.Generate("user-1", "escrow-1")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	digest := sha256Sum(c.Message)
	sig := ecdsa.Sign(priv, digest[:])
	sigBytes := sig.Serialize()

	if err := s.VerifyAndConsume("user-1", "escrow-1", pubKey, sigBytes); err != nil {
		t.Fatalf("VerifyAndConsume: %v", err)
	}

	if _, err := s.Get("user-1", "escrow-1"); err == nil {
		t.Fatal("expected challenge to be consumed and absent on second Get")
	}

	if err := s.VerifyAndConsume("user-1", "escrow-1", pubKey, sigBytes); err == nil {
		t.Fatal("expected second VerifyAndConsume to fail — challenge already consumed")
	}
}

func TestVerifyAndConsumeRejectsWrongSignatureThenSucceedsOnRetry(t *testing.T) {
	s := NewStore()

	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate private key: %v", err)
	}
	otherPriv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate other private key: %v", err)
	}

	c, err := s.Generate("user-2", "escrow-2")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	digest := sha256Sum(c.Message)
	badSig := ecdsa.Sign(otherPriv, digest[:])

	if err := s.VerifyAndConsume("user-2", "escrow-2", priv.PubKey().SerializeCompressed(), badSig.Serialize()); err == nil {
		t.Fatal("expected VerifyAndConsume to reject a signature from a different key")
	}

	// A failed signature must not consume the nonce — a retry with the
	// correct signature still succeeds against the same challenge.
	if _, err := s.Get("user-2", "escrow-2"); err != nil {
		t.Fatalf("expected challenge to still be outstanding after a failed signature: %v", err)
	}

	goodSig := ecdsa.Sign(priv, digest[:])
	if err := s.VerifyAndConsume("user-2", "escrow-2", priv.PubKey().SerializeCompressed(), goodSig.Serialize()); err != nil {
		t.Fatalf("expected retry with correct signature to succeed: %v", err)
	}

	if _, err := s.Get("user-2", "escrow-2"); err == nil {
		t.Fatal("expected challenge to be consumed after a successful verify")
	}
}

func TestGetReturnsExpiredForUnknownPair(t *testing.T) {
	s := NewStore()
	if _, err := s.Get("nobody", "nowhere"); err == nil {
		t.Fatal("expected Get to fail for an unknown (user, escrow) pair")
	}
}

func sha256Sum(b []byte) [32]byte {
	return sha256.Sum256(b)
}
