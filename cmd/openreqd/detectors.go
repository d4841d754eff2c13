package main

import (
	"fmt"

	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/openreq/openreq/extension"
	"github.com/openreq/openreq/payment"
	"github.com/openreq/openreq/payment/btc"
	"github.com/openreq/openreq/payment/erc20"
	"github.com/openreq/openreq/payment/ethpn"
	"github.com/openreq/openreq/payment/evm"
	"github.com/openreq/openreq/pkg/log"
	"github.com/openreq/openreq/request"
)

// BuildDetectors dials every configured network and assembles the ledger
// detectors: ERC20 proxy, ERC20 fee proxy, native-coin proxy and the
// BTC address-based detector.
func BuildDetectors(config *Config, logger log.Logger) ([]payment.Detector, error) {
	clients := make(map[string]evm.Backend, len(config.networks))
	for name, network := range config.networks {
		client, err := ethclient.Dial(network.RPC)
		if err != nil {
			return nil, fmt.Errorf("failed to dial %s: %w", name, err)
		}
		clients[name] = client
	}

	detectors := []payment.Detector{
		payment.NewReferenceBasedDetector(
			extension.IDERC20Proxy,
			networksWith(config.networks, contractERC20Proxy),
			erc20Factory(clients, deploymentsFor(config.networks, contractERC20Proxy), extension.IDERC20Proxy, false, logger),
			payment.WithDetectorLogger(logger),
		),
		payment.NewReferenceBasedDetector(
			extension.IDERC20FeeProxy,
			networksWith(config.networks, contractERC20FeeProxy),
			erc20Factory(clients, deploymentsFor(config.networks, contractERC20FeeProxy), extension.IDERC20FeeProxy, true, logger),
			payment.WithDetectorLogger(logger),
		),
		payment.NewReferenceBasedDetector(
			extension.IDEthInputData,
			networksWith(config.networks, contractEthProxy),
			ethFactory(clients, deploymentsFor(config.networks, contractEthProxy), logger),
			payment.WithDetectorLogger(logger),
		),
	}

	btcDetector, err := btcAddressDetector(logger)
	if err != nil {
		return nil, err
	}
	detectors = append(detectors, btcDetector)

	return detectors, nil
}

// extensionVersion reads the version the payment-network extension was
// created with; deployments are resolved against it.
func extensionVersion(req *request.Request, extensionID string) string {
	if state, ok := req.Extensions[extensionID]; ok {
		return state.Version
	}
	return ""
}

func erc20Factory(
	clients map[string]evm.Backend,
	deployments *payment.ProxyDeployments,
	extensionID string,
	withFee bool,
	logger log.Logger,
) payment.RetrieverFactory {
	return func(req *request.Request, kind payment.EventName, reference, toAddress, network string) (payment.Retriever, error) {
		client, ok := clients[network]
		if !ok {
			return nil, fmt.Errorf("no client configured for network %q", network)
		}
		deployment, err := deployments.Get(network, extensionVersion(req, extensionID))
		if err != nil {
			return nil, err
		}
		return erc20.NewProxyRetriever(client, deployment, req.Currency.Value, reference, toAddress, kind, withFee, logger)
	}
}

func ethFactory(
	clients map[string]evm.Backend,
	deployments *payment.ProxyDeployments,
	logger log.Logger,
) payment.RetrieverFactory {
	return func(req *request.Request, kind payment.EventName, reference, toAddress, network string) (payment.Retriever, error) {
		client, ok := clients[network]
		if !ok {
			return nil, fmt.Errorf("no client configured for network %q", network)
		}
		deployment, err := deployments.Get(network, extensionVersion(req, extension.IDEthInputData))
		if err != nil {
			return nil, err
		}
		return ethpn.NewProxyRetriever(client, deployment, reference, toAddress, kind, logger)
	}
}

// btcAddressDetector detects address-based BTC payments. The provider is
// resolved per request network; references play no role on UTXO chains.
func btcAddressDetector(logger log.Logger) (payment.Detector, error) {
	networks := []string{"mainnet", "testnet"}
	providers := make(map[string]*btc.Provider, len(networks))
	for _, network := range networks {
		provider, err := btc.NewProvider(network, logger)
		if err != nil {
			return nil, err
		}
		providers[network] = provider
	}

	factory := func(req *request.Request, kind payment.EventName, reference, toAddress, network string) (payment.Retriever, error) {
		provider, ok := providers[network]
		if !ok {
			return nil, fmt.Errorf("no provider configured for network %q", network)
		}
		return btc.NewAddressRetriever(provider, toAddress, kind), nil
	}

	return payment.NewReferenceBasedDetector(
		extension.IDBTCAddressBased,
		networks,
		factory,
		payment.AddressBased(),
		payment.WithDetectorLogger(logger),
	), nil
}
