package cryptoutil

import (
	"fmt"

	"github.com/hashicorp/vault/shamir"
)

// ShamirShares is the total number of shares the master key is split into.
const ShamirShares = 5

// ShamirThreshold is the minimum number of shares required to reconstruct
// the master key.
const ShamirThreshold = 3

// SplitMasterKey splits key into ShamirShares shares, any ShamirThreshold
// of which reconstruct it. Shares are returned in arbitrary order; callers
// are responsible for distributing them to separate storage locations.
func SplitMasterKey(key MasterKey) ([][]byte, error) {
	shares, err := shamir.Split(key[:], ShamirShares, ShamirThreshold)
	if err != nil {
		return nil, fmt.Errorf("cryptoutil: split master key: %w", err)
	}
	return shares, nil
}

// CombineMasterKey reconstructs the master key from at least ShamirThreshold
// shares. The caller's share slices are zeroized after combination.
func CombineMasterKey(shares [][]byte) (MasterKey, error) {
	var key MasterKey
	if len(shares) < ShamirThreshold {
		return key, fmt.Errorf("cryptoutil: need at least %d shares, got %d", ShamirThreshold, len(shares))
	}

	combined, err := shamir.Combine(shares)
	if err != nil {
		return key, fmt.Errorf("cryptoutil: combine shares: %w", err)
	}
	defer Zeroize(combined)

	if len(combined) != KeySize {
		return key, fmt.Errorf("cryptoutil: combined key has unexpected length %d", len(combined))
	}
	copy(key[:], combined)

	for _, s := range shares {
		Zeroize(s)
	}

	return key, nil
}
