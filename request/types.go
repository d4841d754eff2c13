package request

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ProtocolVersion is the action format version produced by this library.
const ProtocolVersion = "2.0.3"

// supportedVersions is the whitelist of action format versions the engine
// will apply. Older entries cover actions signed by previous releases.
var supportedVersions = map[string]bool{
	"2.0.2":         true,
	ProtocolVersion: true,
}

// ActionName identifies a base protocol action.
type ActionName string

const (
	ActionCreate                 ActionName = "create"
	ActionAccept                 ActionName = "accept"
	ActionCancel                 ActionName = "cancel"
	ActionIncreaseExpectedAmount ActionName = "increaseExpectedAmount"
	ActionReduceExpectedAmount   ActionName = "reduceExpectedAmount"
)

// State represents the lifecycle state of a request.
type State string

const (
	StateCreated  State = "created"
	StateAccepted State = "accepted"
	StateCanceled State = "canceled"
)

// Role classifies an action signer relative to a request.
type Role string

const (
	RolePayee      Role = "payee"
	RolePayer      Role = "payer"
	RoleThirdParty Role = "third-party"
)

// IdentityType enumerates the supported identity encodings.
type IdentityType string

const (
	// IdentityEthereumAddress is an identity backed by an Ethereum address.
	IdentityEthereumAddress IdentityType = "ethereumAddress"
)

// Identity is a party to a request: creator, payee, payer or action signer.
type Identity struct {
	Type  IdentityType `json:"type"`
	Value string       `json:"value"`
}

// Equals compares two identities. Address values compare case-insensitively.
func (i Identity) Equals(other Identity) bool {
	return i.Type == other.Type && strings.EqualFold(i.Value, other.Value)
}

func (i Identity) String() string {
	return fmt.Sprintf("%s:%s", i.Type, i.Value)
}

// CurrencyType enumerates the supported currency families.
type CurrencyType string

const (
	CurrencyISO4217 CurrencyType = "ISO4217"
	CurrencyETH     CurrencyType = "ETH"
	CurrencyERC20   CurrencyType = "ERC20"
	CurrencyBTC     CurrencyType = "BTC"
)

// Currency identifies the currency a request is denominated in.
type Currency struct {
	Type    CurrencyType `json:"type"`
	Value   string       `json:"value"`
	Network string       `json:"network,omitempty"`
}

// Event is one entry of a request's append-only audit trail. One event is
// recorded per successfully applied action.
type Event struct {
	ActionSigner Identity       `json:"actionSigner"`
	Name         ActionName     `json:"name"`
	Parameters   map[string]any `json:"parameters,omitempty"`
	Timestamp    int64          `json:"timestamp"`
}

// ExtensionEvent is one entry of an extension's own event trail.
type ExtensionEvent struct {
	Name       string         `json:"name"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Timestamp  int64          `json:"timestamp"`
}

// ExtensionState is the typed sub-state a payment-network extension attaches
// to a request. It is owned exclusively by the request that contains it and
// is mutated only through the owning extension's action handlers.
type ExtensionState struct {
	ID      string           `json:"id"`
	Type    string           `json:"type"`
	Version string           `json:"version"`
	Values  map[string]any   `json:"values"`
	Events  []ExtensionEvent `json:"events"`
}

// ExtensionTypePaymentNetwork is the extension type of payment-network extensions.
const ExtensionTypePaymentNetwork = "payment-network"

// Request is the canonical request state derived from an action log.
type Request struct {
	RequestID      string                    `json:"requestId"`
	Creator        Identity                  `json:"creator"`
	Payee          *Identity                 `json:"payee,omitempty"`
	Payer          *Identity                 `json:"payer,omitempty"`
	Currency       Currency                  `json:"currency"`
	ExpectedAmount string                    `json:"expectedAmount"`
	State          State                     `json:"state"`
	Extensions     map[string]ExtensionState `json:"extensions,omitempty"`
	ExtensionsData []map[string]any          `json:"extensionsData,omitempty"`
	Events         []Event                   `json:"events"`
	Version        string                    `json:"version"`
	Timestamp      int64                     `json:"timestamp"`
}

// Copy returns a deep copy of the request. The engine copies before every
// mutation so the caller's snapshot is never observably changed.
func (r *Request) Copy() (*Request, error) {
	if r == nil {
		return nil, nil
	}
	raw, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to copy request: %w", err)
	}
	var cp Request
	if err := json.Unmarshal(raw, &cp); err != nil {
		return nil, fmt.Errorf("failed to copy request: %w", err)
	}
	return &cp, nil
}

// RoleOf classifies an identity against the request's parties.
func (r *Request) RoleOf(id Identity) Role {
	return roleOf(id, r.Payee, r.Payer)
}

func roleOf(id Identity, payee, payer *Identity) Role {
	if payee != nil && id.Equals(*payee) {
		return RolePayee
	}
	if payer != nil && id.Equals(*payer) {
		return RolePayer
	}
	return RoleThirdParty
}
