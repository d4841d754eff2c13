package payment

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/openreq/openreq/pkg/log"
	"github.com/openreq/openreq/request"
)

// Detector computes the balance of a request for one payment network.
type Detector interface {
	// ExtensionID returns the extension id this detector reads.
	ExtensionID() string
	// Balance recomputes the request's balance. It never returns an error:
	// detection failures are data inside the returned Balance.
	Balance(ctx context.Context, req *request.Request) Balance
}

// Retriever fetches the ledger events of one leg. Implementations are
// network-backend specific and perform real I/O.
type Retriever interface {
	GetTransferEvents(ctx context.Context) ([]NetworkEvent, error)
}

// RetrieverFactory builds the retriever for one leg of a request. kind is
// the leg, reference the derived filter reference, toAddress the expected
// destination.
type RetrieverFactory func(req *request.Request, kind EventName, reference, toAddress, network string) (Retriever, error)

// ReferenceBasedDetector drives retrievers for the payment and refund legs
// of reference-based payment networks and reconciles the results with the
// declared events already present in extension state.
type ReferenceBasedDetector struct {
	extensionID       string
	supportedNetworks map[string]bool
	newRetriever      RetrieverFactory
	addressBased      bool
	logger            log.Logger
}

// DetectorOption configures a ReferenceBasedDetector.
type DetectorOption func(*ReferenceBasedDetector)

// WithDetectorLogger sets the detector logger.
func WithDetectorLogger(l log.Logger) DetectorOption {
	return func(d *ReferenceBasedDetector) { d.logger = l.NewSystem("payment-detector") }
}

// AddressBased switches the detector to plain address watching: legs are
// scoped by their target address alone and no salt or reference is derived.
// UTXO-chain extensions run in this mode.
func AddressBased() DetectorOption {
	return func(d *ReferenceBasedDetector) { d.addressBased = true }
}

// NewReferenceBasedDetector creates a detector for a reference-based
// extension over the given set of supported payment chains.
func NewReferenceBasedDetector(extensionID string, supportedNetworks []string, factory RetrieverFactory, opts ...DetectorOption) *ReferenceBasedDetector {
	supported := make(map[string]bool, len(supportedNetworks))
	for _, network := range supportedNetworks {
		supported[network] = true
	}
	d := &ReferenceBasedDetector{
		extensionID:       extensionID,
		supportedNetworks: supported,
		newRetriever:      factory,
		logger:            log.NewNoopLogger(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// ExtensionID returns the extension id this detector reads.
func (d *ReferenceBasedDetector) ExtensionID() string { return d.extensionID }

// Balance recomputes the request's balance. Payment and refund legs are
// fetched concurrently; the merged event list is ordered declared, payment,
// refund regardless of completion order. Detection failures, including
// panics inside retrievers, come back as coded errors in the Balance.
func (d *ReferenceBasedDetector) Balance(ctx context.Context, req *request.Request) (out Balance) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("balance computation panicked", "requestId", req.RequestID, "panic", r)
			out = errorBalance(ErrorRetrievalFailed, fmt.Sprintf("balance computation failed: %v", r))
		}
	}()

	state, ok := req.Extensions[d.extensionID]
	if !ok {
		return errorBalance(ErrorWrongExtension, fmt.Sprintf("request has no %q extension", d.extensionID))
	}

	network := req.Currency.Network
	if !d.supportedNetworks[network] {
		return errorBalance(ErrorNetworkNotSupported,
			fmt.Sprintf("payment network %q is not supported by %q detection", network, d.extensionID))
	}

	salt, _ := state.Values["salt"].(string)
	paymentAddress, _ := state.Values["paymentAddress"].(string)
	refundAddress, _ := state.Values["refundAddress"].(string)

	var paymentReference, refundReference string
	if !d.addressBased {
		var err error
		paymentReference, err = Reference(req.RequestID, salt, paymentAddress)
		if err != nil {
			return errorBalance(ErrorMissingRequiredParameter, err.Error())
		}
		// Refunds are scoped to the whole request rather than a salted
		// sub-reference: the refund leg filters on the request id itself.
		refundReference = req.RequestID
	}

	type leg struct {
		kind      EventName
		reference string
		toAddress string
	}
	var legs []leg
	if paymentAddress != "" {
		legs = append(legs, leg{EventPayment, paymentReference, paymentAddress})
	}
	if refundAddress != "" {
		legs = append(legs, leg{EventRefund, refundReference, refundAddress})
	}
	if len(legs) == 0 {
		return errorBalance(ErrorMissingRequiredParameter, "the extension declares neither a payment nor a refund address")
	}

	results := make([][]NetworkEvent, len(legs))
	errs := make([]error, len(legs))
	var wg sync.WaitGroup
	for i, l := range legs {
		wg.Add(1)
		go func(i int, l leg) {
			defer wg.Done()
			retriever, err := d.newRetriever(req, l.kind, l.reference, l.toAddress, network)
			if err != nil {
				errs[i] = err
				return
			}
			results[i], errs[i] = retriever.GetTransferEvents(ctx)
		}(i, l)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	// A canceled computation yields no balance: the partially completed
	// legs are discarded, never merged.
	select {
	case <-ctx.Done():
		return errorBalance(ErrorRetrievalFailed, fmt.Sprintf("balance computation canceled: %v", ctx.Err()))
	case <-done:
	}

	failed := 0
	for i, err := range errs {
		if err == nil {
			continue
		}
		failed++
		d.logger.Warn("leg retrieval failed",
			"requestId", req.RequestID,
			"leg", legs[i].kind,
			"error", err)
	}
	if failed == len(legs) {
		return errorBalance(ErrorRetrievalFailed, "all event retrievals failed")
	}

	events := DeclaredEvents(state)
	for _, legEvents := range results {
		events = append(events, legEvents...)
	}

	feeAddress, _ := state.Values["feeAddress"].(string)
	return reconcile(events, feeAddress)
}

// reconcile nets payments against refunds and aggregates the fee total of
// fee-matching payment events. Events with a mismatched fee address count
// toward the balance but not toward the fee total.
func reconcile(events []NetworkEvent, feeAddress string) Balance {
	balance := decimal.Zero
	feeBalance := decimal.Zero
	for _, ev := range events {
		amount, err := decimal.NewFromString(ev.Amount)
		if err != nil {
			return errorBalance(ErrorRetrievalFailed, fmt.Sprintf("event carries a malformed amount %q", ev.Amount))
		}
		switch ev.Name {
		case EventPayment:
			balance = balance.Add(amount)
			if feeAddress != "" && strings.EqualFold(ev.Parameters.FeeAddress, feeAddress) && ev.Parameters.FeeAmount != "" {
				fee, err := decimal.NewFromString(ev.Parameters.FeeAmount)
				if err != nil {
					return errorBalance(ErrorRetrievalFailed, fmt.Sprintf("event carries a malformed fee amount %q", ev.Parameters.FeeAmount))
				}
				feeBalance = feeBalance.Add(fee)
			}
		case EventRefund:
			balance = balance.Sub(amount)
		default:
			return errorBalance(ErrorRetrievalFailed, fmt.Sprintf("unknown event name %q", ev.Name))
		}
	}

	if events == nil {
		events = []NetworkEvent{}
	}
	balanceStr := balance.String()
	feeStr := feeBalance.String()
	return Balance{
		Balance:    &balanceStr,
		FeeBalance: &feeStr,
		Events:     events,
	}
}
