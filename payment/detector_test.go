package payment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openreq/openreq/extension"
	"github.com/openreq/openreq/request"
)

const (
	testPaymentAddress = "0xf17f52151EbEF6C7334FAD080c5704D77216b732"
	testRefundAddress  = "0x627306090abaB3A6e1400e9345bC60c78a8BEf57"
	testFeeAddress     = "0xC5fdf4076b8F3A5357c5E395ab970B5B54098Fef"
)

// stubRetriever returns canned events, optionally after a delay.
type stubRetriever struct {
	events []NetworkEvent
	err    error
	delay  time.Duration
}

func (s *stubRetriever) GetTransferEvents(ctx context.Context) ([]NetworkEvent, error) {
	if s.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.delay):
		}
	}
	return s.events, s.err
}

func stubFactory(byKind map[EventName]*stubRetriever) RetrieverFactory {
	return func(req *request.Request, kind EventName, reference, toAddress, network string) (Retriever, error) {
		r, ok := byKind[kind]
		if !ok {
			return nil, errors.New("no retriever for kind")
		}
		return r, nil
	}
}

func detectorRequest(values map[string]any) *request.Request {
	if values == nil {
		values = map[string]any{
			"salt":           "ea3bc7caf64110ca",
			"paymentAddress": testPaymentAddress,
			"refundAddress":  testRefundAddress,
		}
	}
	return &request.Request{
		RequestID:      "0x0000000000000000000000000000000000000000000000000000000000000abc",
		Creator:        request.Identity{Type: request.IdentityEthereumAddress, Value: testPaymentAddress},
		ExpectedAmount: "1000",
		State:          request.StateCreated,
		Currency:       request.Currency{Type: request.CurrencyERC20, Value: "0x38cF23C52Bb4B13F051Aec09580a2dE845a7FA35", Network: "mainnet"},
		Extensions: map[string]request.ExtensionState{
			extension.IDERC20FeeProxy: {
				ID:      extension.IDERC20FeeProxy,
				Type:    request.ExtensionTypePaymentNetwork,
				Version: "0.2.0",
				Values:  values,
			},
		},
	}
}

func paymentEvent(amount string) NetworkEvent {
	return NetworkEvent{Name: EventPayment, Amount: amount, Parameters: EventParameters{To: testPaymentAddress}}
}

func refundEvent(amount string) NetworkEvent {
	return NetworkEvent{Name: EventRefund, Amount: amount, Parameters: EventParameters{To: testRefundAddress}}
}

func TestDetector_Balance(t *testing.T) {
	factory := stubFactory(map[EventName]*stubRetriever{
		EventPayment: {events: []NetworkEvent{paymentEvent("500"), paymentEvent("500")}},
		EventRefund:  {events: []NetworkEvent{refundEvent("10")}},
	})
	d := NewReferenceBasedDetector(extension.IDERC20FeeProxy, []string{"mainnet"}, factory)

	balance := d.Balance(context.Background(), detectorRequest(nil))
	require.Nil(t, balance.Error)
	require.NotNil(t, balance.Balance)
	assert.Equal(t, "990", *balance.Balance)
	require.Len(t, balance.Events, 3)
	// payment leg events precede refund leg events regardless of
	// completion order
	assert.Equal(t, EventPayment, balance.Events[0].Name)
	assert.Equal(t, EventPayment, balance.Events[1].Name)
	assert.Equal(t, EventRefund, balance.Events[2].Name)
}

func TestDetector_Balance_LegOrderIsStable(t *testing.T) {
	// The refund leg answers first; merged order must still be payment
	// then refund.
	factory := stubFactory(map[EventName]*stubRetriever{
		EventPayment: {events: []NetworkEvent{paymentEvent("100")}, delay: 50 * time.Millisecond},
		EventRefund:  {events: []NetworkEvent{refundEvent("30")}},
	})
	d := NewReferenceBasedDetector(extension.IDERC20FeeProxy, []string{"mainnet"}, factory)

	balance := d.Balance(context.Background(), detectorRequest(nil))
	require.Nil(t, balance.Error)
	assert.Equal(t, "70", *balance.Balance)
	require.Len(t, balance.Events, 2)
	assert.Equal(t, EventPayment, balance.Events[0].Name)
	assert.Equal(t, EventRefund, balance.Events[1].Name)
}

func TestDetector_Balance_FeeAggregation(t *testing.T) {
	matching := paymentEvent("500")
	matching.Parameters.FeeAddress = testFeeAddress
	matching.Parameters.FeeAmount = "5"

	mismatched := paymentEvent("500")
	mismatched.Parameters.FeeAddress = testRefundAddress
	mismatched.Parameters.FeeAmount = "7"

	factory := stubFactory(map[EventName]*stubRetriever{
		EventPayment: {events: []NetworkEvent{matching, mismatched}},
		EventRefund:  {},
	})
	d := NewReferenceBasedDetector(extension.IDERC20FeeProxy, []string{"mainnet"}, factory)

	values := map[string]any{
		"salt":           "ea3bc7caf64110ca",
		"paymentAddress": testPaymentAddress,
		"refundAddress":  testRefundAddress,
		"feeAddress":     testFeeAddress,
	}
	balance := d.Balance(context.Background(), detectorRequest(values))
	require.Nil(t, balance.Error)
	// mismatched fee events still count toward the balance, never the fee
	assert.Equal(t, "1000", *balance.Balance)
	require.NotNil(t, balance.FeeBalance)
	assert.Equal(t, "5", *balance.FeeBalance)
}

func TestDetector_Balance_DeclaredEventsComeFirst(t *testing.T) {
	factory := stubFactory(map[EventName]*stubRetriever{
		EventPayment: {events: []NetworkEvent{paymentEvent("100")}},
		EventRefund:  {},
	})
	d := NewReferenceBasedDetector(extension.IDERC20FeeProxy, []string{"mainnet"}, factory)

	req := detectorRequest(nil)
	state := req.Extensions[extension.IDERC20FeeProxy]
	state.Events = []request.ExtensionEvent{
		{Name: extension.ActionDeclareReceivedPayment, Parameters: map[string]any{"amount": "40"}, Timestamp: 5},
		{Name: extension.ActionDeclareSentPayment, Parameters: map[string]any{"amount": "999"}, Timestamp: 6},
	}
	req.Extensions[extension.IDERC20FeeProxy] = state

	balance := d.Balance(context.Background(), req)
	require.Nil(t, balance.Error)
	// sent declarations carry no balance weight
	assert.Equal(t, "140", *balance.Balance)
	require.Len(t, balance.Events, 2)
	assert.Equal(t, "40", balance.Events[0].Amount)
}

func TestDetector_Balance_Errors(t *testing.T) {
	okFactory := stubFactory(map[EventName]*stubRetriever{
		EventPayment: {},
		EventRefund:  {},
	})

	t.Run("wrong extension", func(t *testing.T) {
		d := NewReferenceBasedDetector("pn-eth-input-data", []string{"mainnet"}, okFactory)
		balance := d.Balance(context.Background(), detectorRequest(nil))
		require.NotNil(t, balance.Error)
		assert.Equal(t, ErrorWrongExtension, balance.Error.Code)
		assert.Nil(t, balance.Balance)
		assert.NotNil(t, balance.Events)
	})

	t.Run("unsupported network", func(t *testing.T) {
		d := NewReferenceBasedDetector(extension.IDERC20FeeProxy, []string{"gnosis"}, okFactory)
		balance := d.Balance(context.Background(), detectorRequest(nil))
		require.NotNil(t, balance.Error)
		assert.Equal(t, ErrorNetworkNotSupported, balance.Error.Code)
	})

	t.Run("missing salt", func(t *testing.T) {
		d := NewReferenceBasedDetector(extension.IDERC20FeeProxy, []string{"mainnet"}, okFactory)
		balance := d.Balance(context.Background(), detectorRequest(map[string]any{
			"paymentAddress": testPaymentAddress,
		}))
		require.NotNil(t, balance.Error)
		assert.Equal(t, ErrorMissingRequiredParameter, balance.Error.Code)
	})

	t.Run("all legs fail", func(t *testing.T) {
		factory := stubFactory(map[EventName]*stubRetriever{
			EventPayment: {err: errors.New("rpc down")},
			EventRefund:  {err: errors.New("rpc down")},
		})
		d := NewReferenceBasedDetector(extension.IDERC20FeeProxy, []string{"mainnet"}, factory)
		balance := d.Balance(context.Background(), detectorRequest(nil))
		require.NotNil(t, balance.Error)
		assert.Equal(t, ErrorRetrievalFailed, balance.Error.Code)
	})

	t.Run("partial failure is tolerated", func(t *testing.T) {
		factory := stubFactory(map[EventName]*stubRetriever{
			EventPayment: {events: []NetworkEvent{paymentEvent("100")}},
			EventRefund:  {err: errors.New("rpc down")},
		})
		d := NewReferenceBasedDetector(extension.IDERC20FeeProxy, []string{"mainnet"}, factory)
		balance := d.Balance(context.Background(), detectorRequest(nil))
		require.Nil(t, balance.Error)
		assert.Equal(t, "100", *balance.Balance)
	})

	t.Run("panicking retriever becomes a coded error", func(t *testing.T) {
		factory := func(req *request.Request, kind EventName, reference, toAddress, network string) (Retriever, error) {
			panic("boom")
		}
		d := NewReferenceBasedDetector(extension.IDERC20FeeProxy, []string{"mainnet"}, factory)
		balance := d.Balance(context.Background(), detectorRequest(nil))
		require.NotNil(t, balance.Error)
		assert.Equal(t, ErrorRetrievalFailed, balance.Error.Code)
	})

	t.Run("cancellation discards partial legs", func(t *testing.T) {
		factory := stubFactory(map[EventName]*stubRetriever{
			EventPayment: {events: []NetworkEvent{paymentEvent("100")}},
			EventRefund:  {events: []NetworkEvent{refundEvent("10")}, delay: 5 * time.Second},
		})
		d := NewReferenceBasedDetector(extension.IDERC20FeeProxy, []string{"mainnet"}, factory)

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		balance := d.Balance(ctx, detectorRequest(nil))
		require.NotNil(t, balance.Error)
		assert.Equal(t, ErrorRetrievalFailed, balance.Error.Code)
		assert.Nil(t, balance.Balance)
		assert.Empty(t, balance.Events)
	})
}

func TestDeclarativeDetector(t *testing.T) {
	d := NewDeclarativeDetector(extension.IDAnyDeclarative)

	req := &request.Request{
		RequestID:      "0xdef",
		ExpectedAmount: "1000",
		State:          request.StateCreated,
		Extensions: map[string]request.ExtensionState{
			extension.IDAnyDeclarative: {
				ID:   extension.IDAnyDeclarative,
				Type: request.ExtensionTypePaymentNetwork,
				Events: []request.ExtensionEvent{
					{Name: extension.ActionDeclareReceivedPayment, Parameters: map[string]any{"amount": "600", "note": "wire"}},
					{Name: extension.ActionDeclareReceivedRefund, Parameters: map[string]any{"amount": "100"}},
					{Name: extension.ActionDeclareSentPayment, Parameters: map[string]any{"amount": "9999"}},
				},
			},
		},
	}

	balance := d.Balance(context.Background(), req)
	require.Nil(t, balance.Error)
	assert.Equal(t, "500", *balance.Balance)
	require.Len(t, balance.Events, 2)
	assert.Equal(t, "wire", balance.Events[0].Parameters.Note)

	t.Run("wrong extension", func(t *testing.T) {
		other := &request.Request{RequestID: "0x1", Extensions: map[string]request.ExtensionState{}}
		balance := d.Balance(context.Background(), other)
		require.NotNil(t, balance.Error)
		assert.Equal(t, ErrorWrongExtension, balance.Error.Code)
	})
}

func TestReconcile_MalformedAmount(t *testing.T) {
	balance := reconcile([]NetworkEvent{{Name: EventPayment, Amount: "not-a-number"}}, "")
	require.NotNil(t, balance.Error)
	assert.Equal(t, ErrorRetrievalFailed, balance.Error.Code)
}
