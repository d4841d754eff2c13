package extension

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openreq/openreq/request"
)

var (
	payeeID = request.Identity{Type: request.IdentityEthereumAddress, Value: "0xf17f52151EbEF6C7334FAD080c5704D77216b732"}
	payerID = request.Identity{Type: request.IdentityEthereumAddress, Value: "0x627306090abaB3A6e1400e9345bC60c78a8BEf57"}
)

func testRequest() *request.Request {
	return &request.Request{
		RequestID:      "0x0000000000000000000000000000000000000000000000000000000000000abc",
		Creator:        payeeID,
		Payee:          &payeeID,
		Payer:          &payerID,
		ExpectedAmount: "1000",
		State:          request.StateCreated,
		Extensions:     map[string]request.ExtensionState{},
	}
}

func TestGenerateSalt(t *testing.T) {
	a, err := GenerateSalt()
	require.NoError(t, err)
	assert.Regexp(t, `^[0-9a-f]{16}$`, a)

	b, err := GenerateSalt()
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestParseAction(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		act, err := ParseAction(map[string]any{
			"id":         IDERC20Proxy,
			"action":     ActionCreate,
			"parameters": map[string]any{"salt": "ea3bc7caf64110ca"},
			"version":    "0.2.0",
		})
		require.NoError(t, err)
		assert.Equal(t, IDERC20Proxy, act.ID)
		assert.Equal(t, ActionCreate, act.Action)
		assert.Equal(t, "0.2.0", act.Version)
	})

	t.Run("missing id", func(t *testing.T) {
		_, err := ParseAction(map[string]any{"action": ActionCreate})
		require.Error(t, err)
	})
}

func TestRegistry_UnknownExtension(t *testing.T) {
	registry := NewRegistry(NewReferenceBased(IDERC20Proxy))

	_, err := registry.ApplyActionToExtensions(
		map[string]request.ExtensionState{},
		Action{ID: "pn-unknown", Action: ActionCreate},
		testRequest(), payeeID, 1)
	assert.ErrorIs(t, err, ErrExtensionNotSupported)
}

func TestRegistry_DoesNotMutateInput(t *testing.T) {
	ext := NewReferenceBased(IDERC20Proxy)
	registry := NewRegistry(ext)

	create, err := ext.CreateCreationAction(CreationParameters{
		PaymentAddress: payeeID.Value,
		Salt:           "ea3bc7caf64110ca",
	})
	require.NoError(t, err)

	states := map[string]request.ExtensionState{}
	updated, err := registry.ApplyActionToExtensions(states, create, testRequest(), payeeID, 1)
	require.NoError(t, err)

	assert.Empty(t, states)
	require.Contains(t, updated, IDERC20Proxy)
	assert.Equal(t, "ea3bc7caf64110ca", updated[IDERC20Proxy].Values["salt"])
}

func TestReferenceBased_Create(t *testing.T) {
	ext := NewReferenceBased(IDERC20Proxy)
	create, err := ext.CreateCreationAction(CreationParameters{
		PaymentAddress: payeeID.Value,
		RefundAddress:  payerID.Value,
		Salt:           "ea3bc7caf64110ca",
	})
	require.NoError(t, err)

	state, err := ext.ApplyAction(nil, create, testRequest(), payeeID, 99)
	require.NoError(t, err)

	assert.Equal(t, IDERC20Proxy, state.ID)
	assert.Equal(t, request.ExtensionTypePaymentNetwork, state.Type)
	assert.Equal(t, CurrentVersion, state.Version)
	assert.Equal(t, payeeID.Value, state.Values["paymentAddress"])
	assert.Equal(t, payerID.Value, state.Values["refundAddress"])
	require.Len(t, state.Events, 1)
	assert.Equal(t, ActionCreate, state.Events[0].Name)
	assert.Equal(t, int64(99), state.Events[0].Timestamp)
}

func TestReferenceBased_Create_Validation(t *testing.T) {
	ext := NewReferenceBased(IDERC20Proxy)

	t.Run("missing salt", func(t *testing.T) {
		_, err := ext.CreateCreationAction(CreationParameters{PaymentAddress: payeeID.Value})
		require.Error(t, err)
	})

	t.Run("malformed salt", func(t *testing.T) {
		_, err := ext.CreateCreationAction(CreationParameters{PaymentAddress: payeeID.Value, Salt: "XYZ"})
		require.Error(t, err)
	})

	t.Run("no addresses", func(t *testing.T) {
		_, err := ext.CreateCreationAction(CreationParameters{Salt: "ea3bc7caf64110ca"})
		require.Error(t, err)
	})

	t.Run("double creation", func(t *testing.T) {
		create, err := ext.CreateCreationAction(CreationParameters{
			PaymentAddress: payeeID.Value,
			Salt:           "ea3bc7caf64110ca",
		})
		require.NoError(t, err)

		state, err := ext.ApplyAction(nil, create, testRequest(), payeeID, 1)
		require.NoError(t, err)
		_, err = ext.ApplyAction(&state, create, testRequest(), payeeID, 2)
		assert.ErrorIs(t, err, ErrStateAlreadyCreated)
	})
}

func TestReferenceBased_SetOnceAddresses(t *testing.T) {
	ext := NewReferenceBased(IDERC20Proxy)
	create, err := ext.CreateCreationAction(CreationParameters{
		RefundAddress: payerID.Value,
		Salt:          "ea3bc7caf64110ca",
	})
	require.NoError(t, err)
	state, err := ext.ApplyAction(nil, create, testRequest(), payeeID, 1)
	require.NoError(t, err)

	addPayment, err := ext.CreateAddPaymentAddressAction(payeeID.Value)
	require.NoError(t, err)

	t.Run("before creation", func(t *testing.T) {
		_, err := ext.ApplyAction(nil, addPayment, testRequest(), payeeID, 2)
		assert.ErrorIs(t, err, ErrStateRequired)
	})

	t.Run("first set succeeds", func(t *testing.T) {
		next, err := ext.ApplyAction(&state, addPayment, testRequest(), payeeID, 2)
		require.NoError(t, err)
		assert.Equal(t, payeeID.Value, next.Values["paymentAddress"])
		require.Len(t, next.Events, 2)

		// the original state is untouched
		assert.NotContains(t, state.Values, "paymentAddress")
		assert.Len(t, state.Events, 1)
	})

	t.Run("second set fails", func(t *testing.T) {
		withPayment, err := ext.ApplyAction(&state, addPayment, testRequest(), payeeID, 2)
		require.NoError(t, err)

		_, err = ext.ApplyAction(&withPayment, addPayment, testRequest(), payeeID, 3)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "already given")
	})

	t.Run("unknown action", func(t *testing.T) {
		_, err := ext.ApplyAction(&state, Action{ID: IDERC20Proxy, Action: "burn"}, testRequest(), payeeID, 2)
		require.Error(t, err)
	})
}

func TestFeeReferenceBased(t *testing.T) {
	ext := NewFeeReferenceBased(IDERC20FeeProxy)

	create, err := ext.CreateCreationAction(FeeCreationParameters{
		CreationParameters: CreationParameters{
			PaymentAddress: payeeID.Value,
			Salt:           "ea3bc7caf64110ca",
		},
		FeeAddress: payerID.Value,
		FeeAmount:  "5",
	})
	require.NoError(t, err)

	state, err := ext.ApplyAction(nil, create, testRequest(), payeeID, 1)
	require.NoError(t, err)
	assert.Equal(t, payerID.Value, state.Values["feeAddress"])
	assert.Equal(t, "5", state.Values["feeAmount"])

	t.Run("fee address is set-once", func(t *testing.T) {
		addFee, err := ext.CreateAddFeeAction(payeeID.Value, "10")
		require.NoError(t, err)

		_, err = ext.ApplyAction(&state, addFee, testRequest(), payeeID, 2)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "already given")
	})

	t.Run("inherits address actions", func(t *testing.T) {
		addRefund, err := ext.CreateAddRefundAddressAction(payerID.Value)
		require.NoError(t, err)

		next, err := ext.ApplyAction(&state, addRefund, testRequest(), payeeID, 2)
		require.NoError(t, err)
		assert.Equal(t, payerID.Value, next.Values["refundAddress"])
	})

	t.Run("malformed fee amount", func(t *testing.T) {
		_, err := ext.CreateAddFeeAction(payeeID.Value, "-3")
		require.Error(t, err)
	})
}

func TestAddressBased(t *testing.T) {
	ext := NewAddressBased(IDBTCAddressBased)

	t.Run("creates without a salt", func(t *testing.T) {
		create, err := ext.CreateCreationAction(AddressCreationParameters{
			PaymentAddress: "mgPKDuVmuS9oeE2D9VPiCQriyU14wxWS1v",
		})
		require.NoError(t, err)

		state, err := ext.ApplyAction(nil, create, testRequest(), payeeID, 1)
		require.NoError(t, err)
		assert.Equal(t, "mgPKDuVmuS9oeE2D9VPiCQriyU14wxWS1v", state.Values["paymentAddress"])
		assert.NotContains(t, state.Values, "salt")
	})

	t.Run("requires an address", func(t *testing.T) {
		_, err := ext.CreateCreationAction(AddressCreationParameters{})
		require.Error(t, err)
	})

	t.Run("double creation", func(t *testing.T) {
		create, err := ext.CreateCreationAction(AddressCreationParameters{
			PaymentAddress: "mgPKDuVmuS9oeE2D9VPiCQriyU14wxWS1v",
		})
		require.NoError(t, err)
		state, err := ext.ApplyAction(nil, create, testRequest(), payeeID, 1)
		require.NoError(t, err)

		_, err = ext.ApplyAction(&state, create, testRequest(), payeeID, 2)
		assert.ErrorIs(t, err, ErrStateAlreadyCreated)
	})
}
