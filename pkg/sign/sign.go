// Package sign provides the signature primitives used to authenticate
// protocol actions: signing canonical payloads and recovering the signer
// identity from a detached signature.
package sign

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Signer produces detached signatures over canonical payload bytes.
type Signer interface {
	// Method reports the signature method this signer implements.
	Method() Method
	// Sign generates a signature for the given payload bytes.
	Sign(payload []byte) (Signature, error)
	// Address returns the signer's identity value (e.g. an Ethereum address).
	Address() string
}

// Recoverer recovers the signer identity value from a payload and signature.
type Recoverer interface {
	RecoverAddress(payload []byte, signature Signature) (string, error)
}

// Method identifies the signature scheme of a signature.
type Method string

const (
	// MethodECDSA is an Ethereum-style secp256k1 signature over the
	// keccak256 hash of the payload.
	MethodECDSA Method = "ecdsa"
)

// Signature is a raw signature byte slice.
type Signature []byte

// MarshalJSON encodes the signature as a 0x-prefixed hex string.
func (s Signature) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes the signature from a 0x-prefixed hex string.
func (s *Signature) UnmarshalJSON(data []byte) error {
	var hexStr string
	if err := json.Unmarshal(data, &hexStr); err != nil {
		return err
	}
	decoded, err := hexutil.Decode(hexStr)
	if err != nil {
		return err
	}
	*s = decoded
	return nil
}

// String implements the fmt.Stringer interface.
func (s Signature) String() string {
	return hexutil.Encode(s)
}

// NewRecoverer returns the Recoverer for the given signature method.
func NewRecoverer(method Method) (Recoverer, error) {
	switch method {
	case MethodECDSA:
		return &ECDSARecoverer{}, nil
	default:
		return nil, fmt.Errorf("unsupported signature method: %s", method)
	}
}
