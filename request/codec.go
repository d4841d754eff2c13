package request

import (
	"encoding/json"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
)

// CanonicalJSON serializes a value into its canonical form: object keys
// sorted lexicographically at every depth, no insignificant whitespace.
// Canonical bytes are what gets hashed and signed, so the encoding must be
// stable across implementations.
func CanonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical serialization failed: %w", err)
	}

	// Round-trip through generic containers: encoding/json emits map keys
	// in sorted order, which gives the stable key ordering the hash needs.
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("canonical serialization failed: %w", err)
	}
	canonical, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("canonical serialization failed: %w", err)
	}
	return canonical, nil
}

// HashData returns the keccak256 hash of the canonical serialization of v,
// hex-encoded with a 0x prefix.
func HashData(v any) (string, error) {
	canonical, err := CanonicalJSON(v)
	if err != nil {
		return "", err
	}
	return ethcrypto.Keccak256Hash(canonical).Hex(), nil
}

// isValidAmount reports whether s encodes a non-negative arbitrary-precision
// integer in decimal notation.
func isValidAmount(s string) bool {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return false
	}
	return d.IsInteger() && !d.IsNegative()
}

// isPositiveAmount reports whether s encodes a strictly positive integer.
func isPositiveAmount(s string) bool {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return false
	}
	return d.IsInteger() && d.IsPositive()
}
