package sign

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPrivateKeyHex = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func TestECDSASigner_SignAndRecover(t *testing.T) {
	signer, err := NewECDSASigner(testPrivateKeyHex)
	require.NoError(t, err)

	payload := []byte(`{"name":"create","version":"2.0.3"}`)

	sig, err := signer.Sign(payload)
	require.NoError(t, err)
	require.Len(t, sig, 65)

	recoverer, err := NewRecoverer(MethodECDSA)
	require.NoError(t, err)

	addr, err := recoverer.RecoverAddress(payload, sig)
	require.NoError(t, err)
	assert.Equal(t, signer.Address(), addr)
}

func TestECDSASigner_TamperedPayloadRecoversDifferentAddress(t *testing.T) {
	signer, err := NewECDSASigner(testPrivateKeyHex)
	require.NoError(t, err)

	payload := []byte(`{"amount":"100"}`)
	sig, err := signer.Sign(payload)
	require.NoError(t, err)

	recoverer, err := NewRecoverer(MethodECDSA)
	require.NoError(t, err)

	addr, err := recoverer.RecoverAddress([]byte(`{"amount":"999"}`), sig)
	if err == nil {
		assert.NotEqual(t, signer.Address(), addr)
	}
}

func TestECDSASigner_RecoverDoesNotMutateSignature(t *testing.T) {
	signer, err := NewECDSASigner(testPrivateKeyHex)
	require.NoError(t, err)

	payload := []byte("payload")
	sig, err := signer.Sign(payload)
	require.NoError(t, err)

	original := make(Signature, len(sig))
	copy(original, sig)

	recoverer, err := NewRecoverer(MethodECDSA)
	require.NoError(t, err)

	_, err = recoverer.RecoverAddress(payload, sig)
	require.NoError(t, err)
	assert.Equal(t, original, sig)

	// Recovering twice from the same signature must keep working.
	addr, err := recoverer.RecoverAddress(payload, sig)
	require.NoError(t, err)
	assert.Equal(t, signer.Address(), addr)
}

func TestNewRecoverer_UnknownMethod(t *testing.T) {
	_, err := NewRecoverer(Method("dilithium"))
	require.Error(t, err)
}

func TestSignature_JSONRoundTrip(t *testing.T) {
	sig := Signature{0xde, 0xad, 0xbe, 0xef}

	data, err := json.Marshal(sig)
	require.NoError(t, err)
	assert.Equal(t, `"0xdeadbeef"`, string(data))

	var decoded Signature
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, sig, decoded)
}
