package extension

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openreq/openreq/request"
)

func declarativeState(t *testing.T, ext *Declarative) request.ExtensionState {
	t.Helper()
	create := ext.CreateCreationAction(DeclarativeCreationParameters{PaymentInfo: "IBAN DE02 1203 0000 0000 2020 51"})
	state, err := ext.ApplyAction(nil, create, testRequest(), payeeID, 1)
	require.NoError(t, err)
	return state
}

func TestDeclarative_Create(t *testing.T) {
	ext := NewDeclarative(IDAnyDeclarative)
	state := declarativeState(t, ext)

	assert.Equal(t, IDAnyDeclarative, state.ID)
	assert.Equal(t, "IBAN DE02 1203 0000 0000 2020 51", state.Values["paymentInfo"])
	require.Len(t, state.Events, 1)
}

func TestDeclarative_Declarations(t *testing.T) {
	ext := NewDeclarative(IDAnyDeclarative)

	cases := []struct {
		name     string
		declarer string
	}{
		{ActionDeclareSentPayment, "payer"},
		{ActionDeclareReceivedRefund, "payer"},
		{ActionDeclareSentRefund, "payee"},
		{ActionDeclareReceivedPayment, "payee"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			state := declarativeState(t, ext)
			declare, err := ext.CreateDeclareAction(tc.name, "500", "wire ref 4711")
			require.NoError(t, err)

			authorized := payerID
			unauthorized := payeeID
			if tc.declarer == "payee" {
				authorized, unauthorized = payeeID, payerID
			}

			next, err := ext.ApplyAction(&state, declare, testRequest(), authorized, 2)
			require.NoError(t, err)
			require.Len(t, next.Events, 2)
			assert.Equal(t, tc.name, next.Events[1].Name)
			assert.Equal(t, "500", next.Events[1].Parameters["amount"])

			_, err = ext.ApplyAction(&state, declare, testRequest(), unauthorized, 2)
			require.Error(t, err)
		})
	}
}

func TestDeclarative_DeclarationValidation(t *testing.T) {
	ext := NewDeclarative(IDAnyDeclarative)

	t.Run("unknown declaration name", func(t *testing.T) {
		_, err := ext.CreateDeclareAction("declareLostPayment", "1", "")
		require.Error(t, err)
	})

	t.Run("negative amount", func(t *testing.T) {
		_, err := ext.CreateDeclareAction(ActionDeclareSentPayment, "-1", "")
		require.Error(t, err)
	})

	t.Run("before creation", func(t *testing.T) {
		declare, err := ext.CreateDeclareAction(ActionDeclareSentPayment, "1", "")
		require.NoError(t, err)
		_, err = ext.ApplyAction(nil, declare, testRequest(), payerID, 1)
		assert.ErrorIs(t, err, ErrStateRequired)
	})

	t.Run("third party cannot declare", func(t *testing.T) {
		state := declarativeState(t, ext)
		declare, err := ext.CreateDeclareAction(ActionDeclareSentPayment, "1", "")
		require.NoError(t, err)

		stranger := payeeID
		stranger.Value = "0x0000000000000000000000000000000000000001"
		_, err = ext.ApplyAction(&state, declare, testRequest(), stranger, 1)
		require.Error(t, err)
	})
}

func TestDeclarative_Instructions(t *testing.T) {
	ext := NewDeclarative(IDAnyDeclarative)
	state := declarativeState(t, ext)

	t.Run("refund instruction attaches", func(t *testing.T) {
		addRefund := ext.CreateAddRefundInstructionAction("refund to sender account")
		next, err := ext.ApplyAction(&state, addRefund, testRequest(), payeeID, 2)
		require.NoError(t, err)
		assert.Equal(t, "refund to sender account", next.Values["refundInfo"])
	})

	t.Run("payment instruction is set-once", func(t *testing.T) {
		addPayment := ext.CreateAddPaymentInstructionAction("new instructions")
		_, err := ext.ApplyAction(&state, addPayment, testRequest(), payeeID, 2)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "already given")
	})
}
