package extension

import (
	"errors"
	"fmt"

	"github.com/openreq/openreq/request"
)

// AddressBased is the plain-address payment network family: payments are
// detected by watching the declared addresses directly, with no derived
// reference. UTXO chains use it.
type AddressBased struct {
	id string
}

// NewAddressBased creates an address-based extension with the given id.
func NewAddressBased(id string) *AddressBased {
	return &AddressBased{id: id}
}

func (e *AddressBased) ID() string { return e.id }

// AddressCreationParameters are the inputs of an address-based creation
// action.
type AddressCreationParameters struct {
	PaymentAddress string `validate:"required_without=RefundAddress"`
	RefundAddress  string
}

// CreateCreationAction builds the raw creation action for this extension.
// At least one of payment or refund address is required.
func (e *AddressBased) CreateCreationAction(params AddressCreationParameters) (Action, error) {
	if err := validate.Struct(params); err != nil {
		return Action{}, err
	}

	p := map[string]any{}
	if params.PaymentAddress != "" {
		p["paymentAddress"] = params.PaymentAddress
	}
	if params.RefundAddress != "" {
		p["refundAddress"] = params.RefundAddress
	}
	return Action{ID: e.id, Action: ActionCreate, Parameters: p, Version: CurrentVersion}, nil
}

// CreateAddPaymentAddressAction builds the action declaring the payment address.
func (e *AddressBased) CreateAddPaymentAddressAction(paymentAddress string) (Action, error) {
	if paymentAddress == "" {
		return Action{}, errors.New("paymentAddress is required")
	}
	return Action{
		ID:         e.id,
		Action:     ActionAddPaymentAddress,
		Parameters: map[string]any{"paymentAddress": paymentAddress},
		Version:    CurrentVersion,
	}, nil
}

// CreateAddRefundAddressAction builds the action declaring the refund address.
func (e *AddressBased) CreateAddRefundAddressAction(refundAddress string) (Action, error) {
	if refundAddress == "" {
		return Action{}, errors.New("refundAddress is required")
	}
	return Action{
		ID:         e.id,
		Action:     ActionAddRefundAddress,
		Parameters: map[string]any{"refundAddress": refundAddress},
		Version:    CurrentVersion,
	}, nil
}

// ApplyAction folds one extension action into the extension state.
func (e *AddressBased) ApplyAction(
	current *request.ExtensionState,
	act Action,
	req *request.Request,
	signer request.Identity,
	timestamp int64,
) (request.ExtensionState, error) {
	switch act.Action {
	case ActionCreate:
		return e.applyCreate(current, act, timestamp)
	case ActionAddPaymentAddress:
		return applySetOnceValue(current, act, timestamp, "paymentAddress")
	case ActionAddRefundAddress:
		return applySetOnceValue(current, act, timestamp, "refundAddress")
	default:
		return request.ExtensionState{}, fmt.Errorf("unknown action %q for extension %q", act.Action, e.id)
	}
}

func (e *AddressBased) applyCreate(current *request.ExtensionState, act Action, timestamp int64) (request.ExtensionState, error) {
	if current != nil {
		return request.ExtensionState{}, ErrStateAlreadyCreated
	}

	paymentAddress, _ := act.Parameters["paymentAddress"].(string)
	refundAddress, _ := act.Parameters["refundAddress"].(string)
	if paymentAddress == "" && refundAddress == "" {
		return request.ExtensionState{}, errors.New("the creation parameters must include a payment or a refund address")
	}

	values := map[string]any{}
	if paymentAddress != "" {
		values["paymentAddress"] = paymentAddress
	}
	if refundAddress != "" {
		values["refundAddress"] = refundAddress
	}

	return request.ExtensionState{
		ID:      e.id,
		Type:    request.ExtensionTypePaymentNetwork,
		Version: versionOrCurrent(act),
		Values:  values,
		Events: []request.ExtensionEvent{{
			Name:       ActionCreate,
			Parameters: act.Parameters,
			Timestamp:  timestamp,
		}},
	}, nil
}
