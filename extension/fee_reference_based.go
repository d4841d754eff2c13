package extension

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/openreq/openreq/request"
)

// FeeReferenceBased augments a reference-based payment network with a fee
// leg: an optional fee amount collected to a dedicated fee address on top of
// the payment itself.
type FeeReferenceBased struct {
	*ReferenceBased
}

// NewFeeReferenceBased creates a fee-augmented reference-based extension.
func NewFeeReferenceBased(id string) *FeeReferenceBased {
	return &FeeReferenceBased{ReferenceBased: NewReferenceBased(id)}
}

// FeeCreationParameters extends the reference-based creation parameters with
// the optional fee declaration.
type FeeCreationParameters struct {
	CreationParameters
	FeeAddress string
	FeeAmount  string
}

// CreateCreationAction builds the raw creation action, carrying the fee
// fields when declared. Fee address and amount come and go together.
func (e *FeeReferenceBased) CreateCreationAction(params FeeCreationParameters) (Action, error) {
	act, err := e.ReferenceBased.CreateCreationAction(params.CreationParameters)
	if err != nil {
		return Action{}, err
	}
	if params.FeeAddress == "" && params.FeeAmount == "" {
		return act, nil
	}
	if err := checkFee(params.FeeAddress, params.FeeAmount); err != nil {
		return Action{}, err
	}
	act.Parameters["feeAddress"] = params.FeeAddress
	act.Parameters["feeAmount"] = params.FeeAmount
	return act, nil
}

// CreateAddFeeAction builds the action declaring the fee address and amount.
func (e *FeeReferenceBased) CreateAddFeeAction(feeAddress, feeAmount string) (Action, error) {
	if err := checkFee(feeAddress, feeAmount); err != nil {
		return Action{}, err
	}
	return Action{
		ID:     e.id,
		Action: ActionAddFee,
		Parameters: map[string]any{
			"feeAddress": feeAddress,
			"feeAmount":  feeAmount,
		},
		Version: CurrentVersion,
	}, nil
}

// ApplyAction handles the fee action and defers the rest to the
// reference-based handlers.
func (e *FeeReferenceBased) ApplyAction(
	current *request.ExtensionState,
	act Action,
	req *request.Request,
	signer request.Identity,
	timestamp int64,
) (request.ExtensionState, error) {
	if act.Action == ActionCreate {
		state, err := e.ReferenceBased.ApplyAction(current, act, req, signer, timestamp)
		if err != nil {
			return request.ExtensionState{}, err
		}
		feeAddress, _ := act.Parameters["feeAddress"].(string)
		feeAmount, _ := act.Parameters["feeAmount"].(string)
		if feeAddress != "" || feeAmount != "" {
			if err := checkFee(feeAddress, feeAmount); err != nil {
				return request.ExtensionState{}, err
			}
			state.Values["feeAddress"] = feeAddress
			state.Values["feeAmount"] = feeAmount
		}
		return state, nil
	}

	if act.Action != ActionAddFee {
		return e.ReferenceBased.ApplyAction(current, act, req, signer, timestamp)
	}

	if current == nil {
		return request.ExtensionState{}, ErrStateRequired
	}
	feeAddress, _ := act.Parameters["feeAddress"].(string)
	feeAmount, _ := act.Parameters["feeAmount"].(string)
	if err := checkFee(feeAddress, feeAmount); err != nil {
		return request.ExtensionState{}, err
	}
	if existing, ok := current.Values["feeAddress"]; ok && existing != "" {
		return request.ExtensionState{}, errors.New("feeAddress already given")
	}

	next := *current
	next.Values = cloneValues(current.Values)
	next.Values["feeAddress"] = feeAddress
	next.Values["feeAmount"] = feeAmount
	next.Events = appendEvent(current.Events, request.ExtensionEvent{
		Name:       ActionAddFee,
		Parameters: act.Parameters,
		Timestamp:  timestamp,
	})
	return next, nil
}

func checkFee(feeAddress, feeAmount string) error {
	if feeAddress == "" {
		return errors.New("feeAddress is required")
	}
	amount, err := decimal.NewFromString(feeAmount)
	if err != nil || !amount.IsInteger() || amount.IsNegative() {
		return fmt.Errorf("feeAmount must be a non-negative integer, got %q", feeAmount)
	}
	return nil
}
