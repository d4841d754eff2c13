package extension

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/openreq/openreq/request"
)

// Declarative is the manually attested payment network: parties declare
// payments and refunds off-chain instead of relying on ledger detection.
// Received declarations become balance events merged identically to
// on-chain ones downstream.
type Declarative struct {
	id string
}

// NewDeclarative creates a declarative extension with the given id.
func NewDeclarative(id string) *Declarative {
	return &Declarative{id: id}
}

func (e *Declarative) ID() string { return e.id }

// DeclarativeCreationParameters are the free-form instructions attached at creation.
type DeclarativeCreationParameters struct {
	PaymentInfo any
	RefundInfo  any
}

// CreateCreationAction builds the raw creation action.
func (e *Declarative) CreateCreationAction(params DeclarativeCreationParameters) Action {
	p := map[string]any{}
	if params.PaymentInfo != nil {
		p["paymentInfo"] = params.PaymentInfo
	}
	if params.RefundInfo != nil {
		p["refundInfo"] = params.RefundInfo
	}
	return Action{ID: e.id, Action: ActionCreate, Parameters: p, Version: CurrentVersion}
}

// CreateAddPaymentInstructionAction builds the action attaching payment instructions.
func (e *Declarative) CreateAddPaymentInstructionAction(paymentInfo any) Action {
	return Action{
		ID:         e.id,
		Action:     ActionAddPaymentInstruction,
		Parameters: map[string]any{"paymentInfo": paymentInfo},
		Version:    CurrentVersion,
	}
}

// CreateAddRefundInstructionAction builds the action attaching refund instructions.
func (e *Declarative) CreateAddRefundInstructionAction(refundInfo any) Action {
	return Action{
		ID:         e.id,
		Action:     ActionAddRefundInstruction,
		Parameters: map[string]any{"refundInfo": refundInfo},
		Version:    CurrentVersion,
	}
}

// CreateDeclareAction builds one of the four payment/refund declarations.
func (e *Declarative) CreateDeclareAction(name, amount, note string) (Action, error) {
	switch name {
	case ActionDeclareSentPayment, ActionDeclareReceivedPayment,
		ActionDeclareSentRefund, ActionDeclareReceivedRefund:
	default:
		return Action{}, fmt.Errorf("unknown declaration %q", name)
	}
	if err := checkDeclaredAmount(amount); err != nil {
		return Action{}, err
	}
	p := map[string]any{"amount": amount}
	if note != "" {
		p["note"] = note
	}
	return Action{ID: e.id, Action: name, Parameters: p, Version: CurrentVersion}, nil
}

// ApplyAction folds one declarative action into the extension state.
func (e *Declarative) ApplyAction(
	current *request.ExtensionState,
	act Action,
	req *request.Request,
	signer request.Identity,
	timestamp int64,
) (request.ExtensionState, error) {
	if act.Action == ActionCreate {
		if current != nil {
			return request.ExtensionState{}, ErrStateAlreadyCreated
		}
		values := map[string]any{}
		if info, ok := act.Parameters["paymentInfo"]; ok {
			values["paymentInfo"] = info
		}
		if info, ok := act.Parameters["refundInfo"]; ok {
			values["refundInfo"] = info
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

	if current == nil {
		return request.ExtensionState{}, ErrStateRequired
	}

	switch act.Action {
	case ActionAddPaymentInstruction:
		return applyDeclarativeInstruction(current, act, timestamp, "paymentInfo")
	case ActionAddRefundInstruction:
		return applyDeclarativeInstruction(current, act, timestamp, "refundInfo")
	case ActionDeclareSentPayment:
		return e.applyDeclaration(current, act, req, signer, timestamp, request.RolePayer)
	case ActionDeclareReceivedRefund:
		return e.applyDeclaration(current, act, req, signer, timestamp, request.RolePayer)
	case ActionDeclareSentRefund:
		return e.applyDeclaration(current, act, req, signer, timestamp, request.RolePayee)
	case ActionDeclareReceivedPayment:
		return e.applyDeclaration(current, act, req, signer, timestamp, request.RolePayee)
	default:
		return request.ExtensionState{}, fmt.Errorf("unknown action %q for extension %q", act.Action, e.id)
	}
}

// applyDeclaration records a declaration event after checking the declarer's
// role: the payer declares sent payments and received refunds, the payee the
// mirror pair.
func (e *Declarative) applyDeclaration(
	current *request.ExtensionState,
	act Action,
	req *request.Request,
	signer request.Identity,
	timestamp int64,
	requiredRole request.Role,
) (request.ExtensionState, error) {
	if req.RoleOf(signer) != requiredRole {
		return request.ExtensionState{}, fmt.Errorf("only the %s can declare %q", requiredRole, act.Action)
	}
	amount, _ := act.Parameters["amount"].(string)
	if err := checkDeclaredAmount(amount); err != nil {
		return request.ExtensionState{}, err
	}

	next := *current
	next.Values = cloneValues(current.Values)
	next.Events = appendEvent(current.Events, request.ExtensionEvent{
		Name:       act.Action,
		Parameters: act.Parameters,
		Timestamp:  timestamp,
	})
	return next, nil
}

func applyDeclarativeInstruction(current *request.ExtensionState, act Action, timestamp int64, field string) (request.ExtensionState, error) {
	info, ok := act.Parameters[field]
	if !ok || info == nil {
		return request.ExtensionState{}, fmt.Errorf("%s is required", field)
	}
	if existing, ok := current.Values[field]; ok && existing != nil {
		return request.ExtensionState{}, fmt.Errorf("%s already given", field)
	}

	next := *current
	next.Values = cloneValues(current.Values)
	next.Values[field] = info
	next.Events = appendEvent(current.Events, request.ExtensionEvent{
		Name:       act.Action,
		Parameters: act.Parameters,
		Timestamp:  timestamp,
	})
	return next, nil
}

func checkDeclaredAmount(amount string) error {
	d, err := decimal.NewFromString(amount)
	if err != nil || !d.IsInteger() || d.IsNegative() {
		return errors.New("the declared amount must be a non-negative integer")
	}
	return nil
}
