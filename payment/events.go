// Package payment implements payment detection: deriving per-request payment
// references, retrieving matching ledger events and reconciling them with
// declared events into an authoritative balance.
package payment

import "fmt"

// EventName distinguishes the two legs of a request's money flow.
type EventName string

const (
	// EventPayment is a transfer toward the payment address.
	EventPayment EventName = "payment"
	// EventRefund is a transfer toward the refund address.
	EventRefund EventName = "refund"
)

// EventParameters carry the ledger context of a network event.
type EventParameters struct {
	Block      uint64 `json:"block,omitempty"`
	TxHash     string `json:"txHash,omitempty"`
	To         string `json:"to,omitempty"`
	FeeAddress string `json:"feeAddress,omitempty"`
	FeeAmount  string `json:"feeAmount,omitempty"`
	Note       string `json:"note,omitempty"`
}

// NetworkEvent is one observed or declared payment/refund event. Immutable
// once emitted.
type NetworkEvent struct {
	Name       EventName       `json:"name"`
	Amount     string          `json:"amount"`
	Parameters EventParameters `json:"parameters"`
	Timestamp  int64           `json:"timestamp,omitempty"`
}

// ErrorCode classifies detection failures. Codes travel inside Balance.Error
// as data; detection never raises across its boundary.
type ErrorCode string

const (
	ErrorWrongExtension           ErrorCode = "WRONG_EXTENSION"
	ErrorNetworkNotSupported      ErrorCode = "NETWORK_NOT_SUPPORTED"
	ErrorVersionNotSupported      ErrorCode = "VERSION_NOT_SUPPORTED"
	ErrorMissingRequiredParameter ErrorCode = "MISSING_REQUIRED_PARAMETER"
	ErrorRetrievalFailed          ErrorCode = "RETRIEVAL_FAILED"
)

// BalanceError is a coded detection error.
type BalanceError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

func (e *BalanceError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Balance is the outcome of one detection call. Balance is nil when
// detection failed; FeeBalance aggregates the fee amounts of fee-matching
// payment events and is never subtracted from Balance.
type Balance struct {
	Balance    *string        `json:"balance"`
	FeeBalance *string        `json:"feeBalance,omitempty"`
	Events     []NetworkEvent `json:"events"`
	Error      *BalanceError  `json:"error,omitempty"`
}

// errorBalance builds the null-balance outcome for a coded failure.
func errorBalance(code ErrorCode, message string) Balance {
	return Balance{
		Events: []NetworkEvent{},
		Error:  &BalanceError{Code: code, Message: message},
	}
}
