package contracts

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/thusd-labs/thusd-go/pkg/chainManager"
)

// FallbackGasTipCap is used when the provider cannot suggest a priority fee
// (eth_maxPriorityFeePerGas is missing on hardhat and some hosted providers).
var FallbackGasTipCap = big.NewInt(15000000000)

// SuggestFees returns a priority fee and a fee cap of 1.5x the latest base fee plus
// the priority fee.
func SuggestFees(ctx context.Context, backend chainManager.EthClientInterface) (*big.Int, *big.Int, error) {
	gasTipCap, err := backend.SuggestGasTipCap(ctx)
	if err != nil {
		gasTipCap = FallbackGasTipCap
	}
	header, err := backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to fetch latest header: %w", err)
	}
	baseFee := header.BaseFee
	if baseFee == nil {
		baseFee = new(big.Int)
	}
	overestimatedBasefee := new(big.Int).Div(new(big.Int).Mul(baseFee, big.NewInt(3)), big.NewInt(2))
	gasFeeCap := new(big.Int).Add(overestimatedBasefee, gasTipCap)
	return gasTipCap, gasFeeCap, nil
}

// SignAndSend signs populated with opts.Signer as a dynamic fee transaction and
// broadcasts it unless opts.NoSend is set. Fee caps missing from opts are filled by
// SuggestFees; a missing nonce is taken from the provider.
func SignAndSend(
	ctx context.Context,
	backend chainManager.EthClientInterface,
	opts *bind.TransactOpts,
	populated *PopulatedTransaction,
) (*types.Transaction, error) {
	bound := bind.NewBoundContract(populated.To, abi.ABI{}, backend, backend, backend)
	return rawTransact(ctx, bound, backend, opts, populated)
}

func rawTransact(
	ctx context.Context,
	bound *bind.BoundContract,
	backend chainManager.EthClientInterface,
	opts *bind.TransactOpts,
	populated *PopulatedTransaction,
) (*types.Transaction, error) {
	sendOpts := *opts
	sendOpts.Context = ctx
	sendOpts.Value = populated.Value
	sendOpts.GasLimit = populated.GasLimit
	if sendOpts.GasTipCap == nil || sendOpts.GasFeeCap == nil {
		gasTipCap, gasFeeCap, err := SuggestFees(ctx, backend)
		if err != nil {
			return nil, err
		}
		if sendOpts.GasTipCap == nil {
			sendOpts.GasTipCap = gasTipCap
		}
		if sendOpts.GasFeeCap == nil {
			sendOpts.GasFeeCap = gasFeeCap
		}
	}

	tx, err := bound.RawTransact(&sendOpts, populated.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to send %s.%s: %w", populated.Contract, populated.Method, err)
	}
	return tx, nil
}
