package payment

import (
	"encoding/hex"
	"errors"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Errors for missing reference inputs.
var (
	ErrMissingSalt           = errors.New("salt is missing from the extension values")
	ErrMissingPaymentAddress = errors.New("paymentAddress is missing from the extension values")
)

// referenceLength is the truncated reference size in bytes.
const referenceLength = 8

// Reference derives the payment reference scoping ledger-event filters to
// one request leg: the last 8 bytes of keccak256 over the lower-cased
// concatenation of request id, salt and target address.
//
// The derivation is deterministic per (requestId, salt, address) and not
// invertible without brute force, so a reference alone cannot be linked
// back to the salt or correlated with the other leg's reference.
func Reference(requestID, salt, address string) (string, error) {
	if salt == "" {
		return "", ErrMissingSalt
	}
	if address == "" {
		return "", ErrMissingPaymentAddress
	}
	digest := ethcrypto.Keccak256([]byte(strings.ToLower(requestID + salt + address)))
	return hex.EncodeToString(digest[len(digest)-referenceLength:]), nil
}
