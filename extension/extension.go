// Package extension implements the pluggable payment-network modules that
// attach typed sub-state to a request. Extensions are resolved through a
// registry keyed by extension id and mutate extension state exclusively
// through their own action handlers.
package extension

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/openreq/openreq/request"
)

// Well-known extension ids.
const (
	IDERC20Proxy      = "pn-erc20-proxy-contract"
	IDERC20FeeProxy   = "pn-erc20-fee-proxy-contract"
	IDEthInputData    = "pn-eth-input-data"
	IDBTCAddressBased = "pn-bitcoin-address-based"
	IDAnyDeclarative  = "pn-any-declarative"
)

// Extension action names.
const (
	ActionCreate                 = "create"
	ActionAddPaymentAddress      = "addPaymentAddress"
	ActionAddRefundAddress       = "addRefundAddress"
	ActionAddFee                 = "addFee"
	ActionAddPaymentInstruction  = "addPaymentInstruction"
	ActionAddRefundInstruction   = "addRefundInstruction"
	ActionDeclareSentPayment     = "declareSentPayment"
	ActionDeclareReceivedPayment = "declareReceivedPayment"
	ActionDeclareSentRefund      = "declareSentRefund"
	ActionDeclareReceivedRefund  = "declareReceivedRefund"
)

// Errors surfaced by extension dispatch and handlers.
var (
	// ErrExtensionNotSupported is returned when an action targets an
	// extension id absent from the registry.
	ErrExtensionNotSupported = errors.New("extension not supported")
	// ErrStateRequired is returned when a non-creation extension action is
	// applied before the extension was created on the request.
	ErrStateRequired = errors.New("the extension should be created before using it")
	// ErrStateAlreadyCreated is returned on a second creation action.
	ErrStateAlreadyCreated = errors.New("the extension has already been created")
)

// Action is one raw extension action, as carried in a request action's
// extensionsData sequence.
type Action struct {
	ID         string         `json:"id"`
	Action     string         `json:"action"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Version    string         `json:"version,omitempty"`
}

// ParseAction decodes a raw extensionsData entry into an Action.
func ParseAction(raw map[string]any) (Action, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return Action{}, fmt.Errorf("malformed extension action: %w", err)
	}
	var act Action
	if err := json.Unmarshal(data, &act); err != nil {
		return Action{}, fmt.Errorf("malformed extension action: %w", err)
	}
	if act.ID == "" || act.Action == "" {
		return Action{}, errors.New("extension action misses an id or an action name")
	}
	return act, nil
}

// Raw converts the action back to its free-form representation, the shape
// embedded in a request action's extensionsData parameter.
func (a Action) Raw() map[string]any {
	raw := map[string]any{
		"id":     a.ID,
		"action": a.Action,
	}
	if len(a.Parameters) > 0 {
		raw["parameters"] = a.Parameters
	}
	if a.Version != "" {
		raw["version"] = a.Version
	}
	return raw
}

// Extension is a payment-network module. ApplyAction folds one extension
// action into the extension's state for the given request. current is nil
// when the extension has no state on the request yet; implementations never
// mutate it and return the replacement state instead.
type Extension interface {
	ID() string
	ApplyAction(current *request.ExtensionState, act Action, req *request.Request, signer request.Identity, timestamp int64) (request.ExtensionState, error)
}

// Registry resolves extension ids to their handlers. It is populated once at
// startup; an unknown id is a lookup miss, never a runtime type failure.
type Registry struct {
	byID map[string]Extension
}

// NewRegistry creates a registry holding the given extensions.
func NewRegistry(extensions ...Extension) *Registry {
	byID := make(map[string]Extension, len(extensions))
	for _, ext := range extensions {
		byID[ext.ID()] = ext
	}
	return &Registry{byID: byID}
}

// Get returns the extension registered under id.
func (r *Registry) Get(id string) (Extension, bool) {
	ext, ok := r.byID[id]
	return ext, ok
}

// ApplyActionToExtensions dispatches one extension action to its handler and
// returns the updated extensions map. The input map is never mutated.
func (r *Registry) ApplyActionToExtensions(
	states map[string]request.ExtensionState,
	act Action,
	req *request.Request,
	signer request.Identity,
	timestamp int64,
) (map[string]request.ExtensionState, error) {
	ext, ok := r.byID[act.ID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrExtensionNotSupported, act.ID)
	}

	var current *request.ExtensionState
	if state, ok := states[act.ID]; ok {
		cp, err := copyState(state)
		if err != nil {
			return nil, err
		}
		current = &cp
	}

	next, err := ext.ApplyAction(current, act, req, signer, timestamp)
	if err != nil {
		return nil, err
	}

	updated := make(map[string]request.ExtensionState, len(states)+1)
	for id, state := range states {
		updated[id] = state
	}
	updated[act.ID] = next
	return updated, nil
}

func copyState(state request.ExtensionState) (request.ExtensionState, error) {
	raw, err := json.Marshal(state)
	if err != nil {
		return request.ExtensionState{}, err
	}
	var cp request.ExtensionState
	if err := json.Unmarshal(raw, &cp); err != nil {
		return request.ExtensionState{}, err
	}
	return cp, nil
}
