package erc20

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	pkgerrors "github.com/pkg/errors"

	"github.com/openreq/openreq/payment"
	"github.com/openreq/openreq/payment/evm"
	"github.com/openreq/openreq/pkg/log"
)

var (
	// EscrowLocked(bytes indexed paymentReference, uint256 amount, address payee)
	escrowLockedEventID = ethcrypto.Keccak256Hash([]byte("EscrowLocked(bytes,uint256,address)"))
	// EscrowUnlocked(bytes indexed paymentReference, uint256 amount, address payee)
	escrowUnlockedEventID = ethcrypto.Keccak256Hash([]byte("EscrowUnlocked(bytes,uint256,address)"))

	escrowData = abi.Arguments{
		{Name: "amount", Type: uint256Type},
		{Name: "payee", Type: addressType},
	}
)

// EscrowEventKind selects which escrow transition to scan for.
type EscrowEventKind string

const (
	// EscrowLocked are funds committed into escrow for the reference.
	EscrowLocked EscrowEventKind = "locked"
	// EscrowUnlocked are funds released to the payee.
	EscrowUnlocked EscrowEventKind = "unlocked"
)

// EscrowRetriever fetches escrow lock/unlock events for a payment reference
// from an escrow proxy contract.
type EscrowRetriever struct {
	client        evm.Backend
	proxyAddress  common.Address
	creationBlock uint64
	toAddress     common.Address
	referenceHash common.Hash
	escrowKind    EscrowEventKind
	kind          payment.EventName
	logger        log.Logger
}

// NewEscrowRetriever creates an escrow event retriever for one leg.
func NewEscrowRetriever(
	client evm.Backend,
	deployment payment.DeploymentInformation,
	reference string,
	toAddress string,
	escrowKind EscrowEventKind,
	kind payment.EventName,
	logger log.Logger,
) (*EscrowRetriever, error) {
	refBytes, err := hex.DecodeString(reference)
	if err != nil {
		return nil, fmt.Errorf("malformed payment reference %q: %w", reference, err)
	}
	return &EscrowRetriever{
		client:        client,
		proxyAddress:  common.HexToAddress(deployment.Address),
		creationBlock: deployment.CreationBlock,
		toAddress:     common.HexToAddress(toAddress),
		referenceHash: ethcrypto.Keccak256Hash(refBytes),
		escrowKind:    escrowKind,
		kind:          kind,
		logger:        logger.NewSystem("erc20-escrow-retriever"),
	}, nil
}

// GetTransferEvents scans the escrow contract for the configured transition,
// keeping only events whose payee matches the expected destination.
func (r *EscrowRetriever) GetTransferEvents(ctx context.Context) ([]payment.NetworkEvent, error) {
	eventID := escrowUnlockedEventID
	if r.escrowKind == EscrowLocked {
		eventID = escrowLockedEventID
	}

	logs, err := filterByReference(ctx, r.client, r.proxyAddress, r.creationBlock, r.referenceHash, []common.Hash{eventID})
	if err != nil {
		return nil, err
	}

	var events []payment.NetworkEvent
	var blocks []uint64
	for _, l := range logs {
		values, err := escrowData.Unpack(l.Data)
		if err != nil {
			return nil, pkgerrors.Wrap(err, "failed to decode escrow event")
		}
		amount := values[0].(*big.Int)
		payee := values[1].(common.Address)
		if payee != r.toAddress {
			continue
		}
		events = append(events, payment.NetworkEvent{
			Name:   r.kind,
			Amount: amount.String(),
			Parameters: payment.EventParameters{
				Block:  l.BlockNumber,
				TxHash: l.TxHash.Hex(),
				To:     r.toAddress.Hex(),
			},
		})
		blocks = append(blocks, l.BlockNumber)
	}

	if err := enrichTimestamps(ctx, r.client, events, blocks); err != nil {
		return nil, err
	}
	return events, nil
}
