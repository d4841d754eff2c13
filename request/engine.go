package request

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/openreq/openreq/pkg/log"
)

// BalanceFunc computes the current balance of a request as a decimal string.
// The engine calls it when a payee cancels an accepted request: that path is
// only authorized while the freshly computed balance is exactly zero.
type BalanceFunc func(r *Request) (string, error)

// Engine applies signed actions to request snapshots. It holds no shared
// state: applying actions to independent requests is safe in parallel, while
// ordering actions of a single request lineage is the caller's concern.
type Engine struct {
	logger    log.Logger
	now       func() int64
	balanceOf BalanceFunc
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l log.Logger) Option {
	return func(e *Engine) { e.logger = l.NewSystem("request-engine") }
}

// WithClock overrides the engine clock. Useful in tests.
func WithClock(now func() int64) Option {
	return func(e *Engine) { e.now = now }
}

// WithBalanceFunc sets the balance collaborator used by the payee
// cancel-while-accepted authorization rule.
func WithBalanceFunc(f BalanceFunc) Option {
	return func(e *Engine) { e.balanceOf = f }
}

// NewEngine creates a request state engine.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		logger: log.NewNoopLogger(),
		now:    func() int64 { return time.Now().Unix() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Apply applies one action to the current request snapshot and returns the
// resulting request. The input snapshot is never mutated; on any error the
// returned request is nil and no partial mutation is observable.
func (e *Engine) Apply(current *Request, action Action) (*Request, error) {
	if !action.versionSupported() {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedVersion, action.Data.Version)
	}

	signer, err := action.SignerIdentity()
	if err != nil {
		return nil, err
	}

	if action.Data.Name == ActionCreate {
		if current != nil {
			return nil, ErrRequestAlreadyExists
		}
		return e.applyCreate(action, signer)
	}

	if current == nil {
		return nil, ErrRequestRequired
	}

	cp, err := current.Copy()
	if err != nil {
		return nil, err
	}
	if err := checkRequest(cp); err != nil {
		return nil, err
	}

	actionRequestID, err := GetRequestIDFromAction(action)
	if err != nil {
		return nil, err
	}
	if actionRequestID != cp.RequestID {
		return nil, NewValidationError("action requestId does not match the request")
	}

	switch action.Data.Name {
	case ActionAccept:
		err = e.applyAccept(cp, action, signer)
	case ActionCancel:
		err = e.applyCancel(cp, action, signer)
	case ActionIncreaseExpectedAmount:
		err = e.applyIncreaseExpectedAmount(cp, action, signer)
	case ActionReduceExpectedAmount:
		err = e.applyReduceExpectedAmount(cp, action, signer)
	default:
		err = NewValidationError(fmt.Sprintf("unknown action %q", action.Data.Name))
	}
	if err != nil {
		return nil, err
	}

	e.logger.Debug("applied action",
		"requestId", cp.RequestID,
		"action", action.Data.Name,
		"signer", signer.Value,
		"state", cp.State)
	return cp, nil
}

func (e *Engine) applyCreate(action Action, signer Identity) (*Request, error) {
	params := action.Data.Parameters

	expectedAmount, _ := params["expectedAmount"].(string)
	if !isValidAmount(expectedAmount) {
		return nil, NewValidationError("expectedAmount must be a non-negative integer")
	}

	var currency Currency
	if err := decodeParameter(params["currency"], &currency); err != nil || currency.Type == "" {
		return nil, NewValidationError("currency is missing or malformed")
	}

	var payee, payer *Identity
	if _, ok := params["payee"]; ok {
		payee = &Identity{}
		if err := decodeParameter(params["payee"], payee); err != nil {
			return nil, NewValidationError("payee is malformed")
		}
	}
	if _, ok := params["payer"]; ok {
		payer = &Identity{}
		if err := decodeParameter(params["payer"], payer); err != nil {
			return nil, NewValidationError("payer is malformed")
		}
	}
	if payee == nil && payer == nil {
		return nil, NewValidationError("action parameters must declare a payee or a payer")
	}
	if roleOf(signer, payee, payer) == RoleThirdParty {
		return nil, NewAuthorizationError(ActionCreate, RoleThirdParty, "the creation signer must be the payee or the payer")
	}

	requestID, err := HashData(action.Data)
	if err != nil {
		return nil, err
	}

	timestamp := e.now()
	if ts, ok := params["timestamp"].(float64); ok {
		timestamp = int64(ts)
	} else if ts, ok := params["timestamp"].(int64); ok {
		timestamp = ts
	}

	extensionsData, err := decodeExtensionsData(params)
	if err != nil {
		return nil, err
	}

	req := &Request{
		RequestID:      requestID,
		Creator:        signer,
		Payee:          payee,
		Payer:          payer,
		Currency:       currency,
		ExpectedAmount: expectedAmount,
		State:          StateCreated,
		Extensions:     map[string]ExtensionState{},
		ExtensionsData: extensionsData,
		Version:        action.Data.Version,
		Timestamp:      timestamp,
	}
	e.appendEvent(req, signer, ActionCreate, map[string]any{
		"expectedAmount":       expectedAmount,
		"extensionsDataLength": len(extensionsData),
	})
	return req, nil
}

func (e *Engine) applyAccept(req *Request, action Action, signer Identity) error {
	if role := req.RoleOf(signer); role != RolePayer {
		return NewAuthorizationError(ActionAccept, role, "only the payer can accept a request")
	}
	if req.State != StateCreated {
		return NewValidationError("the request state must be created")
	}

	req.State = StateAccepted
	n, err := e.foldExtensionsData(req, action)
	if err != nil {
		return err
	}
	e.appendEvent(req, signer, ActionAccept, map[string]any{"extensionsDataLength": n})
	return nil
}

func (e *Engine) applyCancel(req *Request, action Action, signer Identity) error {
	switch role := req.RoleOf(signer); role {
	case RolePayer:
		if req.State != StateCreated {
			return NewAuthorizationError(ActionCancel, role, "the payer can only cancel a request in the created state")
		}
	case RolePayee:
		switch req.State {
		case StateCreated:
			// always allowed
		case StateAccepted:
			// The payee may walk away from an accepted request only while
			// nothing has been paid. The balance is recomputed here, not
			// read from a cache, so the authorization reflects the ledger
			// at the time of cancellation.
			if e.balanceOf == nil {
				return NewValidationError("cannot cancel an accepted request without a balance collaborator")
			}
			balance, err := e.balanceOf(req)
			if err != nil {
				return NewValidationError(fmt.Sprintf("balance computation failed: %v", err))
			}
			b, err := decimal.NewFromString(balance)
			if err != nil || !b.IsZero() {
				return NewAuthorizationError(ActionCancel, role, "an accepted request with a non-zero balance cannot be canceled")
			}
		default:
			return NewValidationError("the request is already canceled")
		}
	default:
		return NewAuthorizationError(ActionCancel, role, "only the payee or the payer can cancel a request")
	}

	req.State = StateCanceled
	n, err := e.foldExtensionsData(req, action)
	if err != nil {
		return err
	}
	e.appendEvent(req, signer, ActionCancel, map[string]any{"extensionsDataLength": n})
	return nil
}

func (e *Engine) applyIncreaseExpectedAmount(req *Request, action Action, signer Identity) error {
	if role := req.RoleOf(signer); role != RolePayer {
		return NewAuthorizationError(ActionIncreaseExpectedAmount, role, "only the payer can increase the expected amount")
	}
	if req.State == StateCanceled {
		return NewValidationError("the request must not be canceled")
	}

	delta, err := deltaAmount(action)
	if err != nil {
		return err
	}
	current, err := decimal.NewFromString(req.ExpectedAmount)
	if err != nil {
		return NewValidationError("request expectedAmount is corrupted")
	}

	req.ExpectedAmount = current.Add(delta).String()
	n, err := e.foldExtensionsData(req, action)
	if err != nil {
		return err
	}
	e.appendEvent(req, signer, ActionIncreaseExpectedAmount, map[string]any{
		"deltaAmount":          delta.String(),
		"extensionsDataLength": n,
	})
	return nil
}

func (e *Engine) applyReduceExpectedAmount(req *Request, action Action, signer Identity) error {
	if role := req.RoleOf(signer); role != RolePayee {
		return NewAuthorizationError(ActionReduceExpectedAmount, role, "only the payee can reduce the expected amount")
	}
	if req.State == StateCanceled {
		return NewValidationError("the request must not be canceled")
	}

	delta, err := deltaAmount(action)
	if err != nil {
		return err
	}
	current, err := decimal.NewFromString(req.ExpectedAmount)
	if err != nil {
		return NewValidationError("request expectedAmount is corrupted")
	}
	reduced := current.Sub(delta)
	if reduced.IsNegative() {
		return NewValidationError("the expected amount cannot be reduced below zero")
	}

	req.ExpectedAmount = reduced.String()
	n, err := e.foldExtensionsData(req, action)
	if err != nil {
		return err
	}
	e.appendEvent(req, signer, ActionReduceExpectedAmount, map[string]any{
		"deltaAmount":          delta.String(),
		"extensionsDataLength": n,
	})
	return nil
}

func (e *Engine) appendEvent(req *Request, signer Identity, name ActionName, parameters map[string]any) {
	req.Events = append(req.Events, Event{
		ActionSigner: signer,
		Name:         name,
		Parameters:   parameters,
		Timestamp:    e.now(),
	})
}

// foldExtensionsData appends the action's raw extension actions to the
// request's append-only extensionsData sequence and reports how many were
// added. Dispatching them into typed extension state is the extension
// registry's job, not the engine's.
func (e *Engine) foldExtensionsData(req *Request, action Action) (int, error) {
	extensionsData, err := decodeExtensionsData(action.Data.Parameters)
	if err != nil {
		return 0, err
	}
	req.ExtensionsData = append(req.ExtensionsData, extensionsData...)
	return len(extensionsData), nil
}

func deltaAmount(action Action) (decimal.Decimal, error) {
	raw, _ := action.Data.Parameters["deltaAmount"].(string)
	if !isPositiveAmount(raw) {
		return decimal.Zero, NewValidationError("deltaAmount must be a positive integer")
	}
	return decimal.NewFromString(raw)
}

func decodeExtensionsData(params map[string]any) ([]map[string]any, error) {
	raw, ok := params["extensionsData"]
	if !ok {
		return nil, nil
	}
	var extensionsData []map[string]any
	if err := decodeParameter(raw, &extensionsData); err != nil {
		return nil, NewValidationError("extensionsData is malformed")
	}
	return extensionsData, nil
}

// decodeParameter maps a free-form parameter value onto a typed target.
func decodeParameter(raw any, target any) error {
	data, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, target)
}

// checkRequest rejects corrupted request snapshots before any update.
func checkRequest(req *Request) error {
	if req.RequestID == "" {
		return NewValidationError("request is corrupted: missing requestId")
	}
	if req.Creator.Value == "" {
		return NewValidationError("request is corrupted: missing creator")
	}
	if !isValidAmount(req.ExpectedAmount) {
		return NewValidationError("request is corrupted: invalid expectedAmount")
	}
	switch req.State {
	case StateCreated, StateAccepted, StateCanceled:
	default:
		return NewValidationError(fmt.Sprintf("request is corrupted: unknown state %q", req.State))
	}
	return nil
}
