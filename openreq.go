// Package openreq wires the request state engine, the extension registry and
// the payment detectors into one protocol node. The subpackages stay usable
// on their own; this package only composes them.
package openreq

import (
	"context"
	"fmt"

	"github.com/openreq/openreq/extension"
	"github.com/openreq/openreq/payment"
	"github.com/openreq/openreq/pkg/log"
	"github.com/openreq/openreq/request"
)

// Node applies signed actions to requests and computes their balances.
type Node struct {
	engine    *request.Engine
	registry  *extension.Registry
	detectors map[string]payment.Detector
	logger    log.Logger
}

// Option configures a Node.
type Option func(*Node)

// WithLogger sets the node logger.
func WithLogger(l log.Logger) Option {
	return func(n *Node) { n.logger = l }
}

// WithEngine replaces the default request engine.
func WithEngine(e *request.Engine) Option {
	return func(n *Node) { n.engine = e }
}

// WithRegistry replaces the default extension registry.
func WithRegistry(r *extension.Registry) Option {
	return func(n *Node) { n.registry = r }
}

// WithDetector registers a payment detector. The detector serves the
// extension id it reports.
func WithDetector(d payment.Detector) Option {
	return func(n *Node) { n.detectors[d.ExtensionID()] = d }
}

// NewNode creates a node with the default registry: the five well-known
// payment-network extensions, plus the declarative balance detector. Ledger
// detectors are attached per deployment through WithDetector.
func NewNode(opts ...Option) *Node {
	n := &Node{
		registry: extension.NewRegistry(
			extension.NewReferenceBased(extension.IDERC20Proxy),
			extension.NewFeeReferenceBased(extension.IDERC20FeeProxy),
			extension.NewFeeReferenceBased(extension.IDEthInputData),
			extension.NewAddressBased(extension.IDBTCAddressBased),
			extension.NewDeclarative(extension.IDAnyDeclarative),
		),
		detectors: map[string]payment.Detector{
			extension.IDAnyDeclarative: payment.NewDeclarativeDetector(extension.IDAnyDeclarative),
		},
		logger: log.NewNoopLogger(),
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.engine == nil {
		n.engine = request.NewEngine(request.WithLogger(n.logger))
	}
	return n
}

// ApplyAction folds one signed action into the request state: the engine
// applies the core state machine, then every extension action the signed
// action carried is dispatched through the registry. current is nil for
// creations and is never mutated.
func (n *Node) ApplyAction(current *request.Request, action request.Action) (*request.Request, error) {
	next, err := n.engine.Apply(current, action)
	if err != nil {
		return nil, err
	}

	signer, err := action.SignerIdentity()
	if err != nil {
		return nil, err
	}

	applied := 0
	if current != nil {
		applied = len(current.ExtensionsData)
	}
	for _, raw := range next.ExtensionsData[applied:] {
		act, err := extension.ParseAction(raw)
		if err != nil {
			return nil, err
		}
		states, err := n.registry.ApplyActionToExtensions(next.Extensions, act, next, signer, next.Timestamp)
		if err != nil {
			return nil, err
		}
		next.Extensions = states
	}

	n.logger.Debug("applied action",
		"requestId", next.RequestID,
		"action", action.Data.Name,
		"state", next.State)
	return next, nil
}

// ComputeBalance resolves the request's payment-network extension and runs
// the matching detector. Failures are reported inside the returned Balance,
// never as a raised error; the error return covers only requests carrying no
// payment network at all.
func (n *Node) ComputeBalance(ctx context.Context, req *request.Request) (payment.Balance, error) {
	extID := paymentNetworkID(req)
	if extID == "" {
		return payment.Balance{}, fmt.Errorf("request %s carries no payment-network extension", req.RequestID)
	}

	detector, ok := n.detectors[extID]
	if !ok {
		return payment.Balance{}, fmt.Errorf("no detector registered for extension %q", extID)
	}
	return detector.Balance(ctx, req), nil
}

// paymentNetworkID returns the id of the request's payment-network
// extension, or "" when none is present. Requests carry at most one.
func paymentNetworkID(req *request.Request) string {
	for id, state := range req.Extensions {
		if state.Type == request.ExtensionTypePaymentNetwork {
			return id
		}
	}
	return ""
}
