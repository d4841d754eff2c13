package extension

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"

	"github.com/go-playground/validator/v10"

	"github.com/openreq/openreq/request"
)

// CurrentVersion is the extension state version written by this library.
const CurrentVersion = "0.2.0"

var validate = validator.New()

// saltPattern validates the 8-byte hex salt of reference-based extensions.
var saltPattern = regexp.MustCompile(`^[0-9a-f]{16}$`)

// GenerateSalt returns a fresh 8-byte random salt, hex-encoded. The salt
// keeps payment references non-enumerable by third parties.
func GenerateSalt() (string, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}
	return hex.EncodeToString(b[:]), nil
}

// ReferenceBased is the address-and-salt payment network family: payments
// are detected on-ledger through a reference derived from the request id,
// the salt and the target address.
type ReferenceBased struct {
	id string
}

// NewReferenceBased creates a reference-based extension with the given id.
func NewReferenceBased(id string) *ReferenceBased {
	return &ReferenceBased{id: id}
}

func (e *ReferenceBased) ID() string { return e.id }

// CreationParameters are the inputs of a reference-based creation action.
type CreationParameters struct {
	PaymentAddress string `validate:"required_without=RefundAddress"`
	RefundAddress  string
	Salt           string `validate:"required"`
}

// CreateCreationAction builds the raw creation action for this extension.
// At least one of payment or refund address is required; the salt is always
// required because references cannot be derived without it.
func (e *ReferenceBased) CreateCreationAction(params CreationParameters) (Action, error) {
	if err := validate.Struct(params); err != nil {
		return Action{}, err
	}
	if !saltPattern.MatchString(params.Salt) {
		return Action{}, fmt.Errorf("the salt must be a 16-character lowercase hex string, got %q", params.Salt)
	}

	p := map[string]any{"salt": params.Salt}
	if params.PaymentAddress != "" {
		p["paymentAddress"] = params.PaymentAddress
	}
	if params.RefundAddress != "" {
		p["refundAddress"] = params.RefundAddress
	}
	return Action{ID: e.id, Action: ActionCreate, Parameters: p, Version: CurrentVersion}, nil
}

// CreateAddPaymentAddressAction builds the action declaring the payment address.
func (e *ReferenceBased) CreateAddPaymentAddressAction(paymentAddress string) (Action, error) {
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
func (e *ReferenceBased) CreateAddRefundAddressAction(refundAddress string) (Action, error) {
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
func (e *ReferenceBased) ApplyAction(
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

func (e *ReferenceBased) applyCreate(current *request.ExtensionState, act Action, timestamp int64) (request.ExtensionState, error) {
	if current != nil {
		return request.ExtensionState{}, ErrStateAlreadyCreated
	}

	salt, _ := act.Parameters["salt"].(string)
	if !saltPattern.MatchString(salt) {
		return request.ExtensionState{}, errors.New("the creation parameters must include a valid salt")
	}
	paymentAddress, _ := act.Parameters["paymentAddress"].(string)
	refundAddress, _ := act.Parameters["refundAddress"].(string)
	if paymentAddress == "" && refundAddress == "" {
		return request.ExtensionState{}, errors.New("the creation parameters must include a payment or a refund address")
	}

	values := map[string]any{"salt": salt}
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

// applySetOnceValue enforces the set-once semantics of the address-mutating
// actions: a field that is already present can never be overwritten.
func applySetOnceValue(current *request.ExtensionState, act Action, timestamp int64, field string) (request.ExtensionState, error) {
	if current == nil {
		return request.ExtensionState{}, ErrStateRequired
	}
	value, _ := act.Parameters[field].(string)
	if value == "" {
		return request.ExtensionState{}, fmt.Errorf("%s is required", field)
	}
	if existing, ok := current.Values[field]; ok && existing != "" {
		return request.ExtensionState{}, fmt.Errorf("%s already given", field)
	}

	next := *current
	next.Values = cloneValues(current.Values)
	next.Values[field] = value
	next.Events = appendEvent(current.Events, request.ExtensionEvent{
		Name:       act.Action,
		Parameters: act.Parameters,
		Timestamp:  timestamp,
	})
	return next, nil
}

// appendEvent appends without aliasing the input slice's backing array.
func appendEvent(events []request.ExtensionEvent, ev request.ExtensionEvent) []request.ExtensionEvent {
	out := make([]request.ExtensionEvent, len(events), len(events)+1)
	copy(out, events)
	return append(out, ev)
}

func cloneValues(values map[string]any) map[string]any {
	cloned := make(map[string]any, len(values)+1)
	for k, v := range values {
		cloned[k] = v
	}
	return cloned
}

func versionOrCurrent(act Action) string {
	if act.Version != "" {
		return act.Version
	}
	return CurrentVersion
}
