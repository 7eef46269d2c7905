// Package multicall batches independent contract reads into one Multicall3 aggregate
// call when the network has one, and issues them individually when it does not.
package multicall

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/thusd-labs/thusd-go/pkg/chainManager"
	"github.com/thusd-labs/thusd-go/pkg/contracts"
	"golang.org/x/sync/errgroup"
)

// ErrProviderRead is returned when a provider read is passed to Aggregate.
var ErrProviderRead = errors.New("provider reads cannot be aggregated")

// Call is one read in a batch: a contract call, or, when Read is set, a direct provider
// read that cannot travel inside an aggregate.
type Call struct {
	Contract *contracts.Contract
	Method   string
	Args     []any
	Read     func(ctx context.Context, block *big.Int) ([]any, error)
}

// ContractCall is a batchable call of method on contract.
func ContractCall(contract *contracts.Contract, method string, args ...any) Call {
	return Call{Contract: contract, Method: method, Args: args}
}

// ProviderRead is a read answered by the provider itself.
func ProviderRead(read func(ctx context.Context, block *big.Int) ([]any, error)) Call {
	return Call{Read: read}
}

func (c Call) run(ctx context.Context, block *big.Int) ([]any, error) {
	if c.Read != nil {
		return c.Read(ctx, block)
	}
	return c.Contract.Call(&bind.CallOpts{Context: ctx, BlockNumber: block}, c.Method, c.Args...)
}

// Gateway is a Multicall3 deployment.
type Gateway struct {
	contract *contracts.Contract
}

// NewGateway binds the Multicall3 ABI at address.
func NewGateway(address common.Address, parsed *abi.ABI, backend chainManager.EthClientInterface) *Gateway {
	return &Gateway{contract: contracts.NewContract(contracts.MulticallKey, address, parsed, backend)}
}

// Contract returns the underlying multicall contract.
func (g *Gateway) Contract() *contracts.Contract {
	return g.contract
}

type aggregateCall struct {
	Target   common.Address
	CallData []byte
}

// Aggregate performs calls in one eth_call as of block (nil for latest) and returns the
// block number the aggregate executed at with each call's decoded outputs.
func (g *Gateway) Aggregate(ctx context.Context, block *big.Int, calls []Call) (uint64, [][]any, error) {
	packed := make([]aggregateCall, len(calls))
	for i, call := range calls {
		if call.Read != nil {
			return 0, nil, ErrProviderRead
		}
		data, err := call.Contract.Pack(call.Method, call.Args...)
		if err != nil {
			return 0, nil, err
		}
		packed[i] = aggregateCall{Target: call.Contract.Address(), CallData: data}
	}

	out, err := g.contract.Call(&bind.CallOpts{Context: ctx, BlockNumber: block}, "aggregate", packed)
	if err != nil {
		return 0, nil, err
	}
	blockNumber := out[0].(*big.Int)
	returnData := out[1].([][]byte)
	if len(returnData) != len(calls) {
		return 0, nil, fmt.Errorf("aggregate returned %d results for %d calls", len(returnData), len(calls))
	}

	results := make([][]any, len(calls))
	for i, call := range calls {
		decoded, err := call.Contract.Unpack(call.Method, returnData[i])
		if err != nil {
			return 0, nil, fmt.Errorf("aggregate call %d: %w", i, err)
		}
		results[i] = decoded
	}
	return blockNumber.Uint64(), results, nil
}

// GetCurrentBlockTimestamp reads the timestamp of block (nil for latest).
func (g *Gateway) GetCurrentBlockTimestamp(ctx context.Context, block *big.Int) (uint64, error) {
	out, err := g.contract.Call(&bind.CallOpts{Context: ctx, BlockNumber: block}, "getCurrentBlockTimestamp")
	if err != nil {
		return 0, err
	}
	return out[0].(*big.Int).Uint64(), nil
}

// Execute runs calls as of block and returns their outputs in order. With a gateway
// every contract call travels in a single aggregate; provider reads, and every call when
// gateway is nil, are issued concurrently.
func Execute(ctx context.Context, gateway *Gateway, block *big.Int, calls []Call) ([][]any, error) {
	results := make([][]any, len(calls))
	g, gctx := errgroup.WithContext(ctx)

	var batched []Call
	var batchedIdx []int
	for i, call := range calls {
		if gateway != nil && call.Read == nil {
			batched = append(batched, call)
			batchedIdx = append(batchedIdx, i)
			continue
		}
		g.Go(func() error {
			out, err := call.run(gctx, block)
			if err != nil {
				return err
			}
			results[i] = out
			return nil
		})
	}
	if len(batched) > 0 {
		g.Go(func() error {
			_, out, err := gateway.Aggregate(gctx, block, batched)
			if err != nil {
				return err
			}
			for j, idx := range batchedIdx {
				results[idx] = out[j]
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// TimestampCall reads the timestamp of the block a batch executes at, through the
// gateway when there is one and from the block header otherwise.
func TimestampCall(provider chainManager.EthClientInterface, gateway *Gateway) Call {
	if gateway != nil {
		return ContractCall(gateway.contract, "getCurrentBlockTimestamp")
	}
	return ProviderRead(func(ctx context.Context, block *big.Int) ([]any, error) {
		header, err := provider.HeaderByNumber(ctx, block)
		if err != nil {
			return nil, err
		}
		return []any{new(big.Int).SetUint64(header.Time)}, nil
	})
}

// EthBalanceCall reads the native balance of account.
func EthBalanceCall(provider chainManager.EthClientInterface, gateway *Gateway, account common.Address) Call {
	if gateway != nil {
		return ContractCall(gateway.contract, "getEthBalance", account)
	}
	return ProviderRead(func(ctx context.Context, block *big.Int) ([]any, error) {
		balance, err := provider.BalanceAt(ctx, account, block)
		if err != nil {
			return nil, err
		}
		return []any{balance}, nil
	})
}

// BlockTimestamp returns the timestamp of block (nil for latest), using the gateway when
// one is configured.
func BlockTimestamp(ctx context.Context, provider chainManager.EthClientInterface, gateway *Gateway, block *big.Int) (uint64, error) {
	out, err := Execute(ctx, gateway, block, []Call{TimestampCall(provider, gateway)})
	if err != nil {
		return 0, err
	}
	return out[0][0].(*big.Int).Uint64(), nil
}
