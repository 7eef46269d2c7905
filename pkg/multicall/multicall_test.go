package multicall

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thusd-labs/thusd-go/internal/testutil/fakechain"
	"github.com/thusd-labs/thusd-go/pkg/contracts"
	"github.com/thusd-labs/thusd-go/pkg/deployments"
)

var (
	multicallAddress = common.HexToAddress("0xca11")
	feedAddress      = common.HexToAddress("0x1001")
	poolAddress      = common.HexToAddress("0x1002")
	depositor        = common.HexToAddress("0xa11ce")
)

type harness struct {
	chain   *fakechain.Chain
	gateway *Gateway
	feed    *contracts.Contract
	pool    *contracts.Contract
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	abis := contracts.MustDefaultABIs()
	chain := fakechain.New(1, 100)
	chain.EnableMulticall(multicallAddress, abis[contracts.MulticallKey])
	chain.Deploy(feedAddress, abis[deployments.PriceFeed])
	chain.Deploy(poolAddress, abis[deployments.StabilityPool])
	chain.Handle(feedAddress, "fetchPrice", func(call fakechain.Call) ([]any, error) {
		return []any{new(big.Int).SetUint64(call.Block * 10)}, nil
	})
	chain.Handle(poolAddress, "getCompoundedTHUSDDeposit", func(call fakechain.Call) ([]any, error) {
		if call.Args[0].(common.Address) != depositor {
			return []any{new(big.Int)}, nil
		}
		return []any{big.NewInt(7)}, nil
	})
	chain.SetBalance(depositor, big.NewInt(99))

	return &harness{
		chain:   chain,
		gateway: NewGateway(multicallAddress, abis[contracts.MulticallKey], chain),
		feed:    contracts.NewContract(deployments.PriceFeed, feedAddress, abis[deployments.PriceFeed], chain),
		pool:    contracts.NewContract(deployments.StabilityPool, poolAddress, abis[deployments.StabilityPool], chain),
	}
}

func (h *harness) calls() []Call {
	return []Call{
		ContractCall(h.feed, "fetchPrice"),
		ContractCall(h.pool, "getCompoundedTHUSDDeposit", depositor),
	}
}

func TestAggregate(t *testing.T) {
	h := newHarness(t)

	block, results, err := h.gateway.Aggregate(context.Background(), nil, h.calls())
	require.NoError(t, err)
	assert.Equal(t, uint64(100), block)
	require.Len(t, results, 2)
	assert.Equal(t, int64(1000), results[0][0].(*big.Int).Int64())
	assert.Equal(t, int64(7), results[1][0].(*big.Int).Int64())
	assert.Equal(t, 1, h.chain.RPCCalls("eth_call"))

	block, results, err = h.gateway.Aggregate(context.Background(), big.NewInt(90), h.calls()[:1])
	require.NoError(t, err)
	assert.Equal(t, uint64(90), block)
	assert.Equal(t, int64(900), results[0][0].(*big.Int).Int64())
}

func TestAggregate_RejectsProviderReads(t *testing.T) {
	h := newHarness(t)
	calls := append(h.calls(), EthBalanceCall(h.chain, nil, depositor))
	_, _, err := h.gateway.Aggregate(context.Background(), nil, calls)
	assert.ErrorIs(t, err, ErrProviderRead)
	assert.Zero(t, h.chain.TotalRPCCalls())
}

func TestExecute(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for _, gateway := range []*Gateway{h.gateway, nil} {
		h.chain.ResetCalls()
		calls := append(h.calls(),
			EthBalanceCall(h.chain, gateway, depositor),
			TimestampCall(h.chain, gateway),
		)
		results, err := Execute(ctx, gateway, nil, calls)
		require.NoError(t, err)
		require.Len(t, results, 4)
		assert.Equal(t, int64(1000), results[0][0].(*big.Int).Int64())
		assert.Equal(t, int64(7), results[1][0].(*big.Int).Int64())
		assert.Equal(t, int64(99), results[2][0].(*big.Int).Int64())
		assert.Equal(t, h.chain.BlockTimestamp(100), results[3][0].(*big.Int).Uint64())

		if gateway != nil {
			assert.Equal(t, 1, h.chain.RPCCalls("eth_call"))
			assert.Zero(t, h.chain.RPCCalls("eth_getBalance"))
		} else {
			assert.Equal(t, 2, h.chain.RPCCalls("eth_call"))
			assert.Equal(t, 1, h.chain.RPCCalls("eth_getBalance"))
			assert.Equal(t, 1, h.chain.RPCCalls("eth_getBlockByNumber"))
		}
	}
}

func TestExecute_MixesProviderReadsWithAggregate(t *testing.T) {
	h := newHarness(t)
	calls := append(h.calls(), EthBalanceCall(h.chain, nil, depositor))

	results, err := Execute(context.Background(), h.gateway, big.NewInt(50), calls)
	require.NoError(t, err)
	assert.Equal(t, int64(500), results[0][0].(*big.Int).Int64())
	assert.Equal(t, int64(99), results[2][0].(*big.Int).Int64())
	assert.Equal(t, 1, h.chain.RPCCalls("eth_call"))
	assert.Equal(t, 1, h.chain.RPCCalls("eth_getBalance"))
}

func TestExecute_PropagatesErrors(t *testing.T) {
	h := newHarness(t)
	h.chain.Handle(poolAddress, "getCompoundedTHUSDDeposit", func(fakechain.Call) ([]any, error) {
		return nil, fakechain.ErrExecutionReverted
	})

	for _, gateway := range []*Gateway{h.gateway, nil} {
		_, err := Execute(context.Background(), gateway, nil, h.calls())
		assert.ErrorIs(t, err, fakechain.ErrExecutionReverted)
	}

	failed := errors.New("provider unavailable")
	_, err := Execute(context.Background(), h.gateway, nil, []Call{
		ProviderRead(func(context.Context, *big.Int) ([]any, error) { return nil, failed }),
	})
	assert.ErrorIs(t, err, failed)
}

func TestBlockTimestamp(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	ts, err := BlockTimestamp(ctx, h.chain, h.gateway, big.NewInt(42))
	require.NoError(t, err)
	assert.Equal(t, h.chain.BlockTimestamp(42), ts)

	ts, err = BlockTimestamp(ctx, h.chain, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, h.chain.BlockTimestamp(100), ts)

	ts, err = h.gateway.GetCurrentBlockTimestamp(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, h.chain.BlockTimestamp(100), ts)
}
