package cryptoutil

import (
	"crypto/sha256"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

// VerifyChallengeSignature verifies that sig is a valid secp256k1 ECDSA
// signature over sha256(message), produced by the private key matching
// pubKeyBytes. pubKeyBytes and sig are both expected in their standard
// compressed/DER-equivalent encodings as returned by the wallet-RPC
// endpoint's multisig material.
func VerifyChallengeSignature(pubKeyBytes, message, sig []byte) (bool, error) {
	pubKey, err := secp256k1.ParsePubKey(pubKeyBytes)
	if err != nil {
		return false, fmt.Errorf("cryptoutil: parse public key: %w", err)
	}

	signature, err := ecdsa.ParseDERSignature(sig)
	if err != nil {
		return false, fmt.Errorf("cryptoutil: parse signature: %w", err)
	}

	digest := sha256.Sum256(message)
	return signature.Verify(digest[:], pubKey), nil
}
