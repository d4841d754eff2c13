package payment

import (
	"errors"
	"fmt"
)

// Deployment errors, mapped to coded balance errors by callers.
var (
	ErrVersionNotSupported = errors.New("payment network version not supported")
	ErrNetworkNotSupported = errors.New("network not supported for this payment network")
)

// DeploymentInformation locates one proxy contract instance: its on-chain
// address and the block it was created at, which bounds event scans.
type DeploymentInformation struct {
	Address         string
	CreationBlock   uint64
	ContractVersion string
}

// ProxyDeployments maps payment network versions to contract versions and
// contract versions to their per-network deployments.
type ProxyDeployments struct {
	versionMap map[string]string
	byNetwork  map[string]map[string]DeploymentInformation
}

// NewProxyDeployments builds a deployment lookup. versionMap translates a
// payment network version into the contract version deployed for it;
// byNetwork holds the deployments keyed by network then contract version.
func NewProxyDeployments(versionMap map[string]string, byNetwork map[string]map[string]DeploymentInformation) *ProxyDeployments {
	return &ProxyDeployments{versionMap: versionMap, byNetwork: byNetwork}
}

// Get resolves the deployment for a network and payment network version.
// An unknown version and an unknown network fail with distinct errors so
// detection can report the right code.
func (d *ProxyDeployments) Get(network, paymentNetworkVersion string) (DeploymentInformation, error) {
	contractVersion, ok := d.versionMap[paymentNetworkVersion]
	if !ok {
		return DeploymentInformation{}, fmt.Errorf("%w: %q", ErrVersionNotSupported, paymentNetworkVersion)
	}
	deployments, ok := d.byNetwork[network]
	if !ok {
		return DeploymentInformation{}, fmt.Errorf("%w: %q", ErrNetworkNotSupported, network)
	}
	info, ok := deployments[contractVersion]
	if !ok {
		return DeploymentInformation{}, fmt.Errorf("%w: %q has no deployment of contract version %q", ErrVersionNotSupported, network, contractVersion)
	}
	info.ContractVersion = contractVersion
	return info, nil
}
