package sign

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

var _ Signer = (*ECDSASigner)(nil)
var _ Recoverer = (*ECDSARecoverer)(nil)

// ECDSASigner signs payloads with a secp256k1 private key, Ethereum style:
// the payload is keccak256-hashed and the signature carries V in 27/28 form.
type ECDSASigner struct {
	privateKey *ecdsa.PrivateKey
}

// NewECDSASigner creates a signer from a hex-encoded private key.
func NewECDSASigner(privateKeyHex string) (*ECDSASigner, error) {
	privateKeyHex = strings.TrimPrefix(privateKeyHex, "0x")
	key, err := ethcrypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("could not parse ecdsa private key: %w", err)
	}
	return &ECDSASigner{privateKey: key}, nil
}

func (s *ECDSASigner) Method() Method { return MethodECDSA }

// Sign hashes the payload with keccak256 and signs the digest.
func (s *ECDSASigner) Sign(payload []byte) (Signature, error) {
	hash := ethcrypto.Keccak256Hash(payload)
	sig, err := ethcrypto.Sign(hash.Bytes(), s.privateKey)
	if err != nil {
		return nil, err
	}
	// Adjust V from 0/1 to 27/28 for Ethereum compatibility.
	if sig[64] < 27 {
		sig[64] += 27
	}
	return Signature(sig), nil
}

// Address returns the checksummed Ethereum address of the signing key.
func (s *ECDSASigner) Address() string {
	return ethcrypto.PubkeyToAddress(s.privateKey.PublicKey).Hex()
}

// ECDSARecoverer recovers the signer address from an Ethereum-style signature.
type ECDSARecoverer struct{}

// RecoverAddress takes the original payload and its signature and returns
// the checksummed address of the key that produced it.
func (ECDSARecoverer) RecoverAddress(payload []byte, sig Signature) (string, error) {
	if len(sig) != 65 {
		return "", fmt.Errorf("invalid signature length: got %d, want 65", len(sig))
	}

	// Recovery expects V in 0/1 form; never mutate the caller's slice.
	normalized := make(Signature, len(sig))
	copy(normalized, sig)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}

	hash := ethcrypto.Keccak256Hash(payload)
	pubkey, err := ethcrypto.SigToPub(hash.Bytes(), normalized)
	if err != nil {
		return "", fmt.Errorf("signature recovery failed: %w", err)
	}

	return ethcrypto.PubkeyToAddress(*pubkey).Hex(), nil
}
