package main

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/openreq/openreq/payment"
)

const networksFileName = "networks.yaml"

// Contract roles a network deployment can declare.
const (
	contractERC20Proxy    = "erc20_proxy"
	contractERC20FeeProxy = "erc20_fee_proxy"
	contractEthProxy      = "eth_proxy"
)

var (
	networkNameRegex     = regexp.MustCompile(`^[a-z][a-z_]+[a-z]$`)
	contractAddressRegex = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
)

// NetworksConfig represents the root configuration structure for all ledger
// network settings.
type NetworksConfig struct {
	Networks []NetworkConfig `yaml:"networks"`
}

// NetworkConfig represents configuration for a single EVM network.
type NetworkConfig struct {
	// Name is the network identifier (e.g., "mainnet", "base_sepolia")
	// Must match pattern: lowercase letters and underscores only
	Name string `yaml:"name"`
	// Disabled determines if this network should be connected
	Disabled bool `yaml:"disabled"`
	// RPC is populated from environment variable <NAME>_NETWORK_RPC
	RPC string
	// Contracts lists the proxy deployments available on this network,
	// keyed by contract role.
	Contracts map[string][]DeploymentConfig `yaml:"contracts"`
}

// DeploymentConfig is one deployed proxy contract version on a network.
type DeploymentConfig struct {
	Address       string `yaml:"address"`
	CreationBlock uint64 `yaml:"creation_block"`
	Version       string `yaml:"version"`
}

// LoadNetworks loads and validates network configurations from
// <configDirPath>/networks.yaml and returns the enabled networks keyed by
// name. RPC endpoints come from <NAME>_NETWORK_RPC environment variables.
func LoadNetworks(configDirPath string) (map[string]NetworkConfig, error) {
	networksPath := filepath.Join(configDirPath, networksFileName)
	f, err := os.Open(networksPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg NetworksConfig
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, err
	}

	networks := make(map[string]NetworkConfig, len(cfg.Networks))
	for _, network := range cfg.Networks {
		if network.Disabled {
			continue
		}
		if !networkNameRegex.MatchString(network.Name) {
			return nil, fmt.Errorf("invalid network name: %q", network.Name)
		}
		for role, deployments := range network.Contracts {
			for _, deployment := range deployments {
				if !contractAddressRegex.MatchString(deployment.Address) {
					return nil, fmt.Errorf("invalid %s address on %s: %q", role, network.Name, deployment.Address)
				}
				if deployment.Version == "" {
					return nil, fmt.Errorf("missing %s contract version on %s", role, network.Name)
				}
			}
		}

		rpcEnv := strings.ToUpper(network.Name) + "_NETWORK_RPC"
		network.RPC = os.Getenv(rpcEnv)
		if network.RPC == "" {
			return nil, fmt.Errorf("missing RPC endpoint for network %s: set %s", network.Name, rpcEnv)
		}

		networks[network.Name] = network
	}

	return networks, nil
}

// proxyVersionMap maps a payment-network extension version to the contract
// version expected to serve it.
var proxyVersionMap = map[string]string{
	"0.1.0": "0.1.0",
	"0.2.0": "0.2.0",
}

// deploymentsFor collects one contract role across all networks into the
// lookup structure detection resolves against.
func deploymentsFor(networks map[string]NetworkConfig, role string) *payment.ProxyDeployments {
	byNetwork := make(map[string]map[string]payment.DeploymentInformation)
	for name, network := range networks {
		deployments, ok := network.Contracts[role]
		if !ok {
			continue
		}
		byVersion := make(map[string]payment.DeploymentInformation, len(deployments))
		for _, deployment := range deployments {
			byVersion[deployment.Version] = payment.DeploymentInformation{
				Address:       deployment.Address,
				CreationBlock: deployment.CreationBlock,
			}
		}
		byNetwork[name] = byVersion
	}
	return payment.NewProxyDeployments(proxyVersionMap, byNetwork)
}

// networksWith returns the names of the networks declaring a deployment for
// the given contract role.
func networksWith(networks map[string]NetworkConfig, role string) []string {
	var names []string
	for name, network := range networks {
		if _, ok := network.Contracts[role]; ok {
			names = append(names, name)
		}
	}
	return names
}
