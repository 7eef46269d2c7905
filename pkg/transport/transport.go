// Package transport signs populated protocol transactions, broadcasts them and waits
// for them to be mined.
package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/thusd-labs/thusd-go/pkg/chainManager"
	"github.com/thusd-labs/thusd-go/pkg/contracts"
	"github.com/thusd-labs/thusd-go/pkg/logger"
	"github.com/thusd-labs/thusd-go/pkg/txSigner"
	"go.uber.org/zap"
)

var (
	// ErrSignerRequired is returned when a transport is built without a signer
	ErrSignerRequired = errors.New("transport requires a transaction signer")
	// ErrSenderMismatch is returned when a transaction was populated for another account
	ErrSenderMismatch = errors.New("populated transaction sender does not match signer")
)

type Transport struct {
	backend  chainManager.EthClientInterface
	txSigner txSigner.ITransactionSigner
	logger   *zap.Logger
	from     common.Address
}

func NewTransport(
	backend chainManager.EthClientInterface,
	txSig txSigner.ITransactionSigner,
	l *zap.Logger,
) (*Transport, error) {
	if txSig == nil {
		return nil, ErrSignerRequired
	}
	from, err := txSig.GetAddress()
	if err != nil {
		return nil, fmt.Errorf("failed to get signer address: %w", err)
	}
	return &Transport{
		backend:  backend,
		txSigner: txSig,
		logger:   logger.OrNop(l),
		from:     from,
	}, nil
}

// From returns the signing account.
func (t *Transport) From() common.Address {
	return t.from
}

// Send signs and broadcasts populated. The gas limit chosen at population time is kept;
// fees and nonce are taken from the provider.
func (t *Transport) Send(ctx context.Context, populated *contracts.PopulatedTransaction) (*types.Transaction, error) {
	opts, err := t.transactOpts(ctx, populated, false)
	if err != nil {
		return nil, err
	}
	tx, err := contracts.SignAndSend(ctx, t.backend, opts, populated)
	if err != nil {
		t.logger.Sugar().Errorw("Failed to send transaction",
			zap.String("contract", string(populated.Contract)),
			zap.String("method", populated.Method),
			zap.Error(err),
		)
		return nil, err
	}
	t.logger.Sugar().Infow("Sent transaction",
		zap.String("contract", string(populated.Contract)),
		zap.String("method", populated.Method),
		zap.String("transactionHash", tx.Hash().Hex()),
		zap.Uint64("gasLimit", tx.Gas()),
		zap.String("gasFeeCap", tx.GasFeeCap().String()),
		zap.String("gasTipCap", tx.GasTipCap().String()),
	)
	return tx, nil
}

// Sign signs populated without broadcasting it.
func (t *Transport) Sign(ctx context.Context, populated *contracts.PopulatedTransaction) (*types.Transaction, error) {
	opts, err := t.transactOpts(ctx, populated, true)
	if err != nil {
		return nil, err
	}
	return contracts.SignAndSend(ctx, t.backend, opts, populated)
}

func (t *Transport) transactOpts(ctx context.Context, populated *contracts.PopulatedTransaction, noSend bool) (*bind.TransactOpts, error) {
	if populated.From != (common.Address{}) && populated.From != t.from {
		return nil, fmt.Errorf("%w: populated for %s, signer is %s", ErrSenderMismatch, populated.From.Hex(), t.from.Hex())
	}
	chainID, err := t.backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch chain ID: %w", err)
	}
	var opts *bind.TransactOpts
	if noSend {
		opts, err = t.txSigner.GetNoSendTransactOpts(ctx, chainID)
	} else {
		opts, err = t.txSigner.GetTransactOpts(ctx, chainID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction options: %w", err)
	}
	opts.Context = ctx
	return opts, nil
}

// WaitForReceipt blocks until tx is mined. A reverted transaction is not an error: its
// receipt is returned with a failed status.
func (t *Transport) WaitForReceipt(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	receipt, err := bind.WaitMined(ctx, t.backend, tx)
	if err != nil {
		return nil, fmt.Errorf("failed to wait for transaction %s to mine: %w", tx.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		t.logger.Sugar().Warnw("Transaction reverted",
			zap.String("transactionHash", receipt.TxHash.Hex()),
			zap.Uint64("blockNumber", blockNumber(receipt)),
			zap.Uint64("gasUsed", receipt.GasUsed),
		)
		return receipt, nil
	}
	t.logger.Sugar().Infow("Transaction mined",
		zap.String("transactionHash", receipt.TxHash.Hex()),
		zap.Uint64("blockNumber", blockNumber(receipt)),
		zap.Uint64("gasUsed", receipt.GasUsed),
	)
	return receipt, nil
}

// Receipt returns the receipt of hash, or nil while the transaction is pending.
func (t *Transport) Receipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	receipt, err := t.backend.TransactionReceipt(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch receipt for %s: %w", hash.Hex(), err)
	}
	return receipt, nil
}

func blockNumber(receipt *types.Receipt) uint64 {
	if receipt.BlockNumber == nil {
		return 0
	}
	return receipt.BlockNumber.Uint64()
}

// AddGasBuffer adds 20% to a gas estimate.
func AddGasBuffer(gasLimit uint64) uint64 {
	return 6 * gasLimit / 5
}
