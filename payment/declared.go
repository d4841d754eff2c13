package payment

import (
	"context"
	"fmt"

	"github.com/openreq/openreq/extension"
	"github.com/openreq/openreq/request"
)

// DeclaredEvents extracts the attested balance events from an extension's
// event trail: received-payment and received-refund declarations. Sent
// declarations are informational and carry no balance weight.
func DeclaredEvents(state request.ExtensionState) []NetworkEvent {
	var events []NetworkEvent
	for _, ev := range state.Events {
		var name EventName
		switch ev.Name {
		case extension.ActionDeclareReceivedPayment:
			name = EventPayment
		case extension.ActionDeclareReceivedRefund:
			name = EventRefund
		default:
			continue
		}
		amount, _ := ev.Parameters["amount"].(string)
		note, _ := ev.Parameters["note"].(string)
		txHash, _ := ev.Parameters["txHash"].(string)
		events = append(events, NetworkEvent{
			Name:   name,
			Amount: amount,
			Parameters: EventParameters{
				Note:   note,
				TxHash: txHash,
			},
			Timestamp: ev.Timestamp,
		})
	}
	return events
}

// DeclarativeDetector computes balances purely from declared events: the
// attested counterpart to on-chain detection.
type DeclarativeDetector struct {
	extensionID string
}

// NewDeclarativeDetector creates a detector for a declarative extension.
func NewDeclarativeDetector(extensionID string) *DeclarativeDetector {
	return &DeclarativeDetector{extensionID: extensionID}
}

// ExtensionID returns the extension this detector reads.
func (d *DeclarativeDetector) ExtensionID() string { return d.extensionID }

// Balance folds the declared events into a balance. It never raises:
// failures come back as coded errors inside the Balance.
func (d *DeclarativeDetector) Balance(_ context.Context, req *request.Request) Balance {
	state, ok := req.Extensions[d.extensionID]
	if !ok {
		return errorBalance(ErrorWrongExtension, fmt.Sprintf("request has no %q extension", d.extensionID))
	}

	events := DeclaredEvents(state)
	return reconcile(events, "")
}
