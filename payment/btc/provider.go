// Package btc retrieves payment events for UTXO-chain requests through a
// block-explorer address API.
package btc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcutil"
	pkgerrors "github.com/pkg/errors"

	"github.com/openreq/openreq/payment"
	"github.com/openreq/openreq/pkg/log"
)

const (
	mainnetBaseURL = "https://api.blockcypher.com/v1/btc/main"
	testnetBaseURL = "https://api.blockcypher.com/v1/btc/test3"

	defaultTimeout = 30 * time.Second
)

// AddressBalance is the degraded-capable result of one address lookup.
// Balance is "-1" when the explorer could not be reached.
type AddressBalance struct {
	Balance string
	Events  []payment.NetworkEvent
}

// addressInfo mirrors the explorer's address endpoint response.
type addressInfo struct {
	TotalReceived json.Number `json:"total_received"`
	TxRefs        []struct {
		TxHash      string      `json:"tx_hash"`
		BlockHeight int64       `json:"block_height"`
		TxInputN    int         `json:"tx_input_n"`
		Value       json.Number `json:"value"`
		Confirmed   time.Time   `json:"confirmed"`
	} `json:"txrefs"`
}

// Provider gives access to the Bitcoin blockchain through a public
// block-explorer API.
type Provider struct {
	baseURL string
	client  *http.Client
	logger  log.Logger
}

// ProviderOption configures a Provider.
type ProviderOption func(*Provider)

// WithHTTPClient overrides the HTTP client. Useful in tests.
func WithHTTPClient(client *http.Client) ProviderOption {
	return func(p *Provider) { p.client = client }
}

// WithBaseURL points the provider at a different explorer endpoint.
func WithBaseURL(baseURL string) ProviderOption {
	return func(p *Provider) { p.baseURL = baseURL }
}

// NewProvider creates a provider for the given Bitcoin network
// ("mainnet" or "testnet").
func NewProvider(network string, logger log.Logger, opts ...ProviderOption) (*Provider, error) {
	var baseURL string
	switch network {
	case "mainnet":
		baseURL = mainnetBaseURL
	case "testnet":
		baseURL = testnetBaseURL
	default:
		return nil, fmt.Errorf("unsupported bitcoin network %q", network)
	}

	p := &Provider{
		baseURL: baseURL,
		client:  &http.Client{Timeout: defaultTimeout},
		logger:  logger.NewSystem("btc-provider"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// GetAddressInfo fetches the received-funds history of an address. A
// transient explorer failure degrades the result (balance "-1", no events)
// instead of failing the sibling legs.
func (p *Provider) GetAddressInfo(ctx context.Context, address string, kind payment.EventName) (AddressBalance, error) {
	if err := checkAddress(address, p.baseURL == mainnetBaseURL); err != nil {
		return AddressBalance{}, err
	}

	info, err := p.fetchAddress(ctx, address)
	if err != nil {
		p.logger.Warn("address lookup degraded", "address", address, "error", err)
		return AddressBalance{Balance: "-1", Events: []payment.NetworkEvent{}}, nil
	}

	var events []payment.NetworkEvent
	for _, tx := range info.TxRefs {
		// tx_input_n is -1 when this address is an output of the
		// transaction, i.e. funds were received.
		if tx.TxInputN != -1 {
			continue
		}
		// The explorer reports block_height -1 for unconfirmed outputs.
		var block uint64
		if tx.BlockHeight > 0 {
			block = uint64(tx.BlockHeight)
		}
		events = append(events, payment.NetworkEvent{
			Name:   kind,
			Amount: tx.Value.String(),
			Parameters: payment.EventParameters{
				Block:  block,
				TxHash: tx.TxHash,
				To:     address,
			},
			Timestamp: tx.Confirmed.Unix(),
		})
	}

	return AddressBalance{
		Balance: info.TotalReceived.String(),
		Events:  events,
	}, nil
}

func (p *Provider) fetchAddress(ctx context.Context, address string) (*addressInfo, error) {
	url := fmt.Sprintf("%s/addrs/%s", p.baseURL, address)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	res, err := p.client.Do(req)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "explorer request failed")
	}
	defer res.Body.Close()

	if res.StatusCode >= 400 {
		return nil, fmt.Errorf("bad response from explorer: %s", strconv.Itoa(res.StatusCode))
	}

	var info addressInfo
	if err := json.NewDecoder(res.Body).Decode(&info); err != nil {
		return nil, pkgerrors.Wrap(err, "failed to decode explorer response")
	}
	return &info, nil
}

func checkAddress(address string, mainnet bool) error {
	params := &chaincfg.TestNet3Params
	if mainnet {
		params = &chaincfg.MainNetParams
	}
	if _, err := btcutil.DecodeAddress(address, params); err != nil {
		return fmt.Errorf("invalid bitcoin address %q: %w", address, err)
	}
	return nil
}

// AddressRetriever adapts a Provider to the payment.Retriever contract for
// one address leg.
type AddressRetriever struct {
	provider *Provider
	address  string
	kind     payment.EventName
}

// NewAddressRetriever creates a retriever fetching events of one address.
func NewAddressRetriever(provider *Provider, address string, kind payment.EventName) *AddressRetriever {
	return &AddressRetriever{provider: provider, address: address, kind: kind}
}

// GetTransferEvents fetches the received-funds events of the address.
func (r *AddressRetriever) GetTransferEvents(ctx context.Context) ([]payment.NetworkEvent, error) {
	info, err := r.provider.GetAddressInfo(ctx, r.address, r.kind)
	if err != nil {
		return nil, err
	}
	return info.Events, nil
}
