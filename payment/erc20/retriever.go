// Package erc20 retrieves ERC-20 proxy transfer events matching a payment
// reference over a bounded block range.
package erc20

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	pkgerrors "github.com/pkg/errors"

	"github.com/openreq/openreq/payment"
	"github.com/openreq/openreq/payment/evm"
	"github.com/openreq/openreq/pkg/log"
)

var (
	addressType, _ = abi.NewType("address", "", nil)
	uint256Type, _ = abi.NewType("uint256", "", nil)

	// TransferWithReference(address tokenAddress, address to, uint256 amount, bytes indexed paymentReference)
	transferEventID = ethcrypto.Keccak256Hash([]byte("TransferWithReference(address,address,uint256,bytes)"))
	transferData    = abi.Arguments{
		{Name: "tokenAddress", Type: addressType},
		{Name: "to", Type: addressType},
		{Name: "amount", Type: uint256Type},
	}

	// TransferWithReferenceAndFee(address tokenAddress, address to, uint256 amount, bytes indexed paymentReference, uint256 feeAmount, address feeAddress)
	transferWithFeeEventID = ethcrypto.Keccak256Hash([]byte("TransferWithReferenceAndFee(address,address,uint256,bytes,uint256,address)"))
	transferWithFeeData    = abi.Arguments{
		{Name: "tokenAddress", Type: addressType},
		{Name: "to", Type: addressType},
		{Name: "amount", Type: uint256Type},
		{Name: "feeAmount", Type: uint256Type},
		{Name: "feeAddress", Type: addressType},
	}
)

// ProxyRetriever fetches TransferWithReference events from an ERC-20 proxy
// contract, scoped by payment reference, token and destination address.
type ProxyRetriever struct {
	client        evm.Backend
	proxyAddress  common.Address
	creationBlock uint64
	tokenAddress  common.Address
	toAddress     common.Address
	referenceHash common.Hash
	kind          payment.EventName
	withFee       bool
	logger        log.Logger
}

// NewProxyRetriever creates a retriever for one leg of a request. withFee
// additionally scans the fee-bearing event of the fee proxy variant.
func NewProxyRetriever(
	client evm.Backend,
	deployment payment.DeploymentInformation,
	tokenAddress string,
	reference string,
	toAddress string,
	kind payment.EventName,
	withFee bool,
	logger log.Logger,
) (*ProxyRetriever, error) {
	refBytes, err := hex.DecodeString(reference)
	if err != nil {
		return nil, fmt.Errorf("malformed payment reference %q: %w", reference, err)
	}
	return &ProxyRetriever{
		client:        client,
		proxyAddress:  common.HexToAddress(deployment.Address),
		creationBlock: deployment.CreationBlock,
		tokenAddress:  common.HexToAddress(tokenAddress),
		toAddress:     common.HexToAddress(toAddress),
		referenceHash: ethcrypto.Keccak256Hash(refBytes),
		kind:          kind,
		withFee:       withFee,
		logger:        logger.NewSystem("erc20-retriever"),
	}, nil
}

// GetTransferEvents scans the proxy for transfer events carrying the
// reference. The plain and fee-bearing scans run concurrently; only events
// whose token and destination match are kept, and retained events are
// enriched with their block timestamps.
func (r *ProxyRetriever) GetTransferEvents(ctx context.Context) ([]payment.NetworkEvent, error) {
	eventIDs := []common.Hash{transferEventID}
	if r.withFee {
		eventIDs = append(eventIDs, transferWithFeeEventID)
	}

	logs, err := filterByReference(ctx, r.client, r.proxyAddress, r.creationBlock, r.referenceHash, eventIDs)
	if err != nil {
		return nil, err
	}

	var events []payment.NetworkEvent
	var blocks []uint64
	for _, l := range logs {
		ev, ok, err := r.parseLog(l)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		events = append(events, ev)
		blocks = append(blocks, l.BlockNumber)
	}

	if err := enrichTimestamps(ctx, r.client, events, blocks); err != nil {
		return nil, err
	}

	r.logger.Debug("fetched transfer events",
		"proxy", r.proxyAddress.Hex(),
		"matched", len(events),
		"scanned", len(logs))
	return events, nil
}

// parseLog decodes one log and applies the destination and token filters.
// Reference collisions across destinations must not leak events of other
// accounts, so a mismatched destination is dropped even when the reference
// topic matched.
func (r *ProxyRetriever) parseLog(l types.Log) (payment.NetworkEvent, bool, error) {
	var token, to, feeAddress common.Address
	var amount, feeAmount *big.Int

	switch l.Topics[0] {
	case transferEventID:
		values, err := transferData.Unpack(l.Data)
		if err != nil {
			return payment.NetworkEvent{}, false, pkgerrors.Wrap(err, "failed to decode transfer event")
		}
		token = values[0].(common.Address)
		to = values[1].(common.Address)
		amount = values[2].(*big.Int)
	case transferWithFeeEventID:
		values, err := transferWithFeeData.Unpack(l.Data)
		if err != nil {
			return payment.NetworkEvent{}, false, pkgerrors.Wrap(err, "failed to decode fee transfer event")
		}
		token = values[0].(common.Address)
		to = values[1].(common.Address)
		amount = values[2].(*big.Int)
		feeAmount = values[3].(*big.Int)
		feeAddress = values[4].(common.Address)
	default:
		return payment.NetworkEvent{}, false, nil
	}

	if token != r.tokenAddress || to != r.toAddress {
		return payment.NetworkEvent{}, false, nil
	}

	ev := payment.NetworkEvent{
		Name:   r.kind,
		Amount: amount.String(),
		Parameters: payment.EventParameters{
			Block:  l.BlockNumber,
			TxHash: l.TxHash.Hex(),
			To:     r.toAddress.Hex(),
		},
	}
	if feeAmount != nil {
		ev.Parameters.FeeAmount = feeAmount.String()
		ev.Parameters.FeeAddress = feeAddress.Hex()
	}
	return ev, true, nil
}

// filterByReference runs one FilterLogs scan per event id concurrently and
// returns the merged logs in deterministic order.
func filterByReference(
	ctx context.Context,
	client evm.Backend,
	proxyAddress common.Address,
	fromBlock uint64,
	referenceHash common.Hash,
	eventIDs []common.Hash,
) ([]types.Log, error) {
	results := make([][]types.Log, len(eventIDs))
	errs := make([]error, len(eventIDs))

	var done = make(chan int, len(eventIDs))
	for i, eventID := range eventIDs {
		go func(i int, eventID common.Hash) {
			query := ethereum.FilterQuery{
				Addresses: []common.Address{proxyAddress},
				FromBlock: new(big.Int).SetUint64(fromBlock),
				Topics:    [][]common.Hash{{eventID}, {referenceHash}},
			}
			results[i], errs[i] = client.FilterLogs(ctx, query)
			done <- i
		}(i, eventID)
	}
	for range eventIDs {
		<-done
	}

	var logs []types.Log
	for i := range eventIDs {
		if errs[i] != nil {
			return nil, pkgerrors.Wrap(errs[i], "failed to filter proxy logs")
		}
		logs = append(logs, results[i]...)
	}
	evm.SortLogs(logs)
	return logs, nil
}

// enrichTimestamps resolves block timestamps concurrently and stamps the events.
func enrichTimestamps(ctx context.Context, client evm.Backend, events []payment.NetworkEvent, blocks []uint64) error {
	if len(events) == 0 {
		return nil
	}
	timestamps, err := evm.BlockTimestamps(ctx, client, blocks)
	if err != nil {
		return err
	}
	for i := range events {
		events[i].Timestamp = timestamps[events[i].Parameters.Block]
	}
	return nil
}
