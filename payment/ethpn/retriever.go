// Package ethpn retrieves native-ETH proxy transfer events matching a
// payment reference over a bounded block range.
package ethpn

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

	// TransferWithReference(address to, uint256 amount, bytes indexed paymentReference)
	transferEventID = ethcrypto.Keccak256Hash([]byte("TransferWithReference(address,uint256,bytes)"))
	transferData    = abi.Arguments{
		{Name: "to", Type: addressType},
		{Name: "amount", Type: uint256Type},
	}

	// TransferWithReferenceAndFee(address to, uint256 amount, bytes indexed paymentReference, uint256 feeAmount, address feeAddress)
	transferWithFeeEventID = ethcrypto.Keccak256Hash([]byte("TransferWithReferenceAndFee(address,uint256,bytes,uint256,address)"))
	transferWithFeeData    = abi.Arguments{
		{Name: "to", Type: addressType},
		{Name: "amount", Type: uint256Type},
		{Name: "feeAmount", Type: uint256Type},
		{Name: "feeAddress", Type: addressType},
	}
)

// ProxyRetriever fetches native-ETH TransferWithReference events from the
// ETH proxy contract, scoped by payment reference and destination address.
// The plain and fee-bearing scans always run, concurrently.
type ProxyRetriever struct {
	client        evm.Backend
	proxyAddress  common.Address
	creationBlock uint64
	toAddress     common.Address
	referenceHash common.Hash
	kind          payment.EventName
	logger        log.Logger
}

// NewProxyRetriever creates a retriever for one leg of a request.
func NewProxyRetriever(
	client evm.Backend,
	deployment payment.DeploymentInformation,
	reference string,
	toAddress string,
	kind payment.EventName,
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
		toAddress:     common.HexToAddress(toAddress),
		referenceHash: ethcrypto.Keccak256Hash(refBytes),
		kind:          kind,
		logger:        logger.NewSystem("eth-retriever"),
	}, nil
}

// GetTransferEvents scans the proxy for plain and fee-bearing transfers
// carrying the reference, filters by destination and enriches the retained
// events with block timestamps.
func (r *ProxyRetriever) GetTransferEvents(ctx context.Context) ([]payment.NetworkEvent, error) {
	eventIDs := []common.Hash{transferEventID, transferWithFeeEventID}
	results := make([][]types.Log, len(eventIDs))
	errs := make([]error, len(eventIDs))

	done := make(chan struct{}, len(eventIDs))
	for i, eventID := range eventIDs {
		go func(i int, eventID common.Hash) {
			query := ethereum.FilterQuery{
				Addresses: []common.Address{r.proxyAddress},
				FromBlock: new(big.Int).SetUint64(r.creationBlock),
				Topics:    [][]common.Hash{{eventID}, {r.referenceHash}},
			}
			results[i], errs[i] = r.client.FilterLogs(ctx, query)
			done <- struct{}{}
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

	if len(events) > 0 {
		timestamps, err := evm.BlockTimestamps(ctx, r.client, blocks)
		if err != nil {
			return nil, err
		}
		for i := range events {
			events[i].Timestamp = timestamps[events[i].Parameters.Block]
		}
	}

	r.logger.Debug("fetched transfer events",
		"proxy", r.proxyAddress.Hex(),
		"matched", len(events),
		"scanned", len(logs))
	return events, nil
}

func (r *ProxyRetriever) parseLog(l types.Log) (payment.NetworkEvent, bool, error) {
	var to, feeAddress common.Address
	var amount, feeAmount *big.Int

	switch l.Topics[0] {
	case transferEventID:
		values, err := transferData.Unpack(l.Data)
		if err != nil {
			return payment.NetworkEvent{}, false, pkgerrors.Wrap(err, "failed to decode transfer event")
		}
		to = values[0].(common.Address)
		amount = values[1].(*big.Int)
	case transferWithFeeEventID:
		values, err := transferWithFeeData.Unpack(l.Data)
		if err != nil {
			return payment.NetworkEvent{}, false, pkgerrors.Wrap(err, "failed to decode fee transfer event")
		}
		to = values[0].(common.Address)
		amount = values[1].(*big.Int)
		feeAmount = values[2].(*big.Int)
		feeAddress = values[3].(common.Address)
	default:
		return payment.NetworkEvent{}, false, nil
	}

	// Keep only transfers to the expected destination, even when the
	// reference topic matched.
	if to != r.toAddress {
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
