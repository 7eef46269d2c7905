package chainManager

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// EthClientInterface is the provider boundary the client depends on.
// *ethclient.Client satisfies it, as does any backend usable by the go-ethereum bind
// package that can also report the chain ID and follow new heads.
type EthClientInterface interface {
	// Network
	ChainID(ctx context.Context) (*big.Int, error)

	// Block operations
	BlockNumber(ctx context.Context) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	SubscribeNewHead(ctx context.Context, ch chan<- *types.Header) (ethereum.Subscription, error)

	// State reads
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)

	// Gas operations
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)

	// Transaction operations
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)

	// Contract binding support (required for go-ethereum's bind package)
	bind.ContractBackend
	bind.ContractCaller
	bind.ContractTransactor
	bind.ContractFilterer
	bind.DeployBackend
}
