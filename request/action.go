package request

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/go-playground/validator/v10"

	"github.com/openreq/openreq/pkg/sign"
)

var validate = validator.New()

// ActionData is the signed portion of an action: its name, free-form
// parameters and the action format version.
type ActionData struct {
	Name       ActionName     `json:"name"`
	Parameters map[string]any `json:"parameters"`
	Version    string         `json:"version"`
}

// SignatureInfo carries the signature method and its hex-encoded value.
type SignatureInfo struct {
	Method sign.Method `json:"method"`
	Value  string      `json:"value"`
}

// Action is a signed, versioned instruction that transitions request state.
// Immutable once created.
type Action struct {
	Data      ActionData    `json:"data"`
	Signature SignatureInfo `json:"signature"`
}

// SignerIdentity recovers the identity that signed the action. The signature
// is verified against the canonical serialization of the action data, so a
// tampered payload recovers to a different (unauthorized) identity.
func (a Action) SignerIdentity() (Identity, error) {
	if a.Signature.Value == "" {
		return Identity{}, NewValidationError("action has no signature")
	}
	recoverer, err := sign.NewRecoverer(a.Signature.Method)
	if err != nil {
		return Identity{}, NewValidationError(err.Error())
	}
	canonical, err := CanonicalJSON(a.Data)
	if err != nil {
		return Identity{}, err
	}
	sigBytes, err := hexutil.Decode(a.Signature.Value)
	if err != nil {
		return Identity{}, NewValidationError(fmt.Sprintf("malformed signature value: %v", err))
	}
	addr, err := recoverer.RecoverAddress(canonical, sigBytes)
	if err != nil {
		return Identity{}, NewValidationError(err.Error())
	}
	return Identity{Type: IdentityEthereumAddress, Value: addr}, nil
}

// versionSupported reports whether the action format version is whitelisted.
func (a Action) versionSupported() bool {
	return supportedVersions[a.Data.Version]
}

// GetRequestIDFromAction derives the request id addressed by an action.
// For a creation action this is the content hash of the canonical action
// data; signature bytes never contribute, so any party can recompute and
// verify the id without trusting the log transport.
func GetRequestIDFromAction(action Action) (string, error) {
	if action.Data.Name == ActionCreate {
		return HashData(action.Data)
	}
	id, ok := action.Data.Parameters["requestId"].(string)
	if !ok || id == "" {
		return "", NewValidationError("action misses a requestId parameter")
	}
	return id, nil
}

// signActionData canonicalizes and signs action data.
func signActionData(data ActionData, signer sign.Signer) (Action, error) {
	canonical, err := CanonicalJSON(data)
	if err != nil {
		return Action{}, err
	}
	sig, err := signer.Sign(canonical)
	if err != nil {
		return Action{}, fmt.Errorf("failed to sign action: %w", err)
	}
	return Action{
		Data: data,
		Signature: SignatureInfo{
			Method: signer.Method(),
			Value:  sig.String(),
		},
	}, nil
}

// CreateParameters are the inputs of a creation action.
type CreateParameters struct {
	Currency       Currency  `validate:"required"`
	ExpectedAmount string    `validate:"required"`
	Payee          *Identity `validate:"required_without=Payer"`
	Payer          *Identity
	Timestamp      int64
	ExtensionsData []map[string]any
}

// FormatCreate builds and signs a creation action. The signer must be the
// payee or the payer declared in the parameters.
func FormatCreate(params CreateParameters, signer sign.Signer) (Action, error) {
	if err := validate.Struct(params); err != nil {
		return Action{}, NewValidationError(err.Error())
	}
	if !isPositiveAmount(params.ExpectedAmount) {
		return Action{}, NewValidationError("expectedAmount must be a positive integer")
	}

	p := map[string]any{
		"currency":       params.Currency,
		"expectedAmount": params.ExpectedAmount,
	}
	if params.Payee != nil {
		p["payee"] = *params.Payee
	}
	if params.Payer != nil {
		p["payer"] = *params.Payer
	}
	if params.Timestamp != 0 {
		p["timestamp"] = params.Timestamp
	}
	if len(params.ExtensionsData) > 0 {
		p["extensionsData"] = params.ExtensionsData
	}

	action, err := signActionData(ActionData{
		Name:       ActionCreate,
		Parameters: p,
		Version:    ProtocolVersion,
	}, signer)
	if err != nil {
		return Action{}, err
	}

	signerID := Identity{Type: IdentityEthereumAddress, Value: signer.Address()}
	if roleOf(signerID, params.Payee, params.Payer) == RoleThirdParty {
		return Action{}, NewAuthorizationError(ActionCreate, RoleThirdParty, "the signer must be the payee or the payer")
	}
	return action, nil
}

// UpdateParameters are the inputs of the non-creation actions.
type UpdateParameters struct {
	RequestID      string `validate:"required"`
	DeltaAmount    string
	ExtensionsData []map[string]any
}

// FormatAccept builds and signs an accept action.
func FormatAccept(params UpdateParameters, signer sign.Signer) (Action, error) {
	return formatUpdate(ActionAccept, params, signer, false)
}

// FormatCancel builds and signs a cancel action.
func FormatCancel(params UpdateParameters, signer sign.Signer) (Action, error) {
	return formatUpdate(ActionCancel, params, signer, false)
}

// FormatIncreaseExpectedAmount builds and signs an increase action.
func FormatIncreaseExpectedAmount(params UpdateParameters, signer sign.Signer) (Action, error) {
	return formatUpdate(ActionIncreaseExpectedAmount, params, signer, true)
}

// FormatReduceExpectedAmount builds and signs a reduce action.
func FormatReduceExpectedAmount(params UpdateParameters, signer sign.Signer) (Action, error) {
	return formatUpdate(ActionReduceExpectedAmount, params, signer, true)
}

func formatUpdate(name ActionName, params UpdateParameters, signer sign.Signer, needsDelta bool) (Action, error) {
	if err := validate.Struct(params); err != nil {
		return Action{}, NewValidationError(err.Error())
	}

	p := map[string]any{"requestId": params.RequestID}
	if needsDelta {
		if !isPositiveAmount(params.DeltaAmount) {
			return Action{}, NewValidationError("deltaAmount must be a positive integer")
		}
		p["deltaAmount"] = params.DeltaAmount
	}
	if len(params.ExtensionsData) > 0 {
		p["extensionsData"] = params.ExtensionsData
	}

	return signActionData(ActionData{
		Name:       name,
		Parameters: p,
		Version:    ProtocolVersion,
	}, signer)
}
