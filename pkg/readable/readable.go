// Package readable is the query surface of the protocol. Every getter decodes contract
// state into domain values, takes an optional account (defaulting to the connection's
// user) and optional call overrides pinning the read to a block.
package readable

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/thusd-labs/thusd-go/pkg/connection"
	"github.com/thusd-labs/thusd-go/pkg/contracts"
	"github.com/thusd-labs/thusd-go/pkg/domain"
	"github.com/thusd-labs/thusd-go/pkg/multicall"
)

// NativeCollateralSymbol is the symbol reported for ETH collateral.
const NativeCollateralSymbol = "ETH"

// CallOverrides pins a read.
type CallOverrides struct {
	// BlockTag is the block to read at; nil for the latest block
	BlockTag *big.Int
}

// AtBlock returns overrides pinned to block n.
func AtBlock(n uint64) *CallOverrides {
	return &CallOverrides{BlockTag: new(big.Int).SetUint64(n)}
}

func (o *CallOverrides) blockTag() *big.Int {
	if o == nil {
		return nil
	}
	return o.BlockTag
}

// ReadableClient is the read contract shared by the plain and the cached client.
type ReadableClient interface {
	GetTotalRedistributed(ctx context.Context, overrides *CallOverrides) (domain.Trove, error)
	GetTroveBeforeRedistribution(ctx context.Context, address *common.Address, overrides *CallOverrides) (domain.TroveWithPendingRedistribution, error)
	GetTrove(ctx context.Context, address *common.Address, overrides *CallOverrides) (domain.UserTrove, error)
	GetNumberOfTroves(ctx context.Context, overrides *CallOverrides) (uint64, error)
	GetPrice(ctx context.Context, overrides *CallOverrides) (domain.Decimal, error)
	GetTotal(ctx context.Context, overrides *CallOverrides) (domain.Trove, error)
	GetStabilityDeposit(ctx context.Context, address *common.Address, overrides *CallOverrides) (domain.StabilityDeposit, error)
	GetTHUSDInStabilityPool(ctx context.Context, overrides *CallOverrides) (domain.Decimal, error)
	GetTHUSDBalance(ctx context.Context, address *common.Address, overrides *CallOverrides) (domain.Decimal, error)
	GetCollateralBalance(ctx context.Context, address *common.Address, overrides *CallOverrides) (domain.Decimal, error)
	GetErc20TokenAllowance(ctx context.Context, address *common.Address, overrides *CallOverrides) (domain.Decimal, error)
	GetCollateralSurplusBalance(ctx context.Context, address *common.Address, overrides *CallOverrides) (domain.Decimal, error)
	GetPCVBalance(ctx context.Context, overrides *CallOverrides) (domain.Decimal, error)
	GetSymbol(ctx context.Context, overrides *CallOverrides) (string, error)
	GetCollateralAddress(ctx context.Context, overrides *CallOverrides) (common.Address, error)
	CheckMintList(ctx context.Context, overrides *CallOverrides) (bool, error)
	GetFees(ctx context.Context, overrides *CallOverrides) (domain.Fees, error)
	GetBlockTimestamp(ctx context.Context, overrides *CallOverrides) (uint64, error)
	GetTroves(ctx context.Context, params TroveListingParams, overrides *CallOverrides) ([]domain.UserTrove, error)
	GetTrovesBeforeRedistribution(ctx context.Context, params TroveListingParams, overrides *CallOverrides) ([]domain.TroveWithPendingRedistribution, error)
}

// PlainClient reads every value live from the chain.
type PlainClient struct {
	conn *connection.Connection
}

var _ ReadableClient = (*PlainClient)(nil)

// NewPlainClient creates a client over conn.
func NewPlainClient(conn *connection.Connection) *PlainClient {
	return &PlainClient{conn: conn}
}

// Connection returns the connection the client reads through.
func (c *PlainClient) Connection() *connection.Connection {
	return c.conn
}

func (c *PlainClient) GetTotalRedistributed(ctx context.Context, overrides *CallOverrides) (domain.Trove, error) {
	return run(ctx, c, overrides, c.totalRedistributedQuery())
}

func (c *PlainClient) GetTroveBeforeRedistribution(ctx context.Context, address *common.Address, overrides *CallOverrides) (domain.TroveWithPendingRedistribution, error) {
	owner, err := c.conn.ResolveAddress(address)
	if err != nil {
		return domain.TroveWithPendingRedistribution{}, err
	}
	return run(ctx, c, overrides, c.troveBeforeRedistributionQuery(owner))
}

// GetTrove returns the trove of address with pending redistribution applied. The stored
// trove and the redistribution totals are read together.
func (c *PlainClient) GetTrove(ctx context.Context, address *common.Address, overrides *CallOverrides) (domain.UserTrove, error) {
	owner, err := c.conn.ResolveAddress(address)
	if err != nil {
		return domain.UserTrove{}, err
	}
	return run(ctx, c, overrides, c.troveQuery(owner))
}

func (c *PlainClient) GetNumberOfTroves(ctx context.Context, overrides *CallOverrides) (uint64, error) {
	return run(ctx, c, overrides, c.numberOfTrovesQuery())
}

func (c *PlainClient) GetPrice(ctx context.Context, overrides *CallOverrides) (domain.Decimal, error) {
	return run(ctx, c, overrides, c.priceQuery())
}

func (c *PlainClient) getActivePool(ctx context.Context, overrides *CallOverrides) (domain.Trove, error) {
	return run(ctx, c, overrides, c.poolQuery(c.conn.Contracts().ActivePool))
}

func (c *PlainClient) getDefaultPool(ctx context.Context, overrides *CallOverrides) (domain.Trove, error) {
	return run(ctx, c, overrides, c.poolQuery(c.conn.Contracts().DefaultPool))
}

// GetTotal returns the sum of the active and default pools.
func (c *PlainClient) GetTotal(ctx context.Context, overrides *CallOverrides) (domain.Trove, error) {
	return run(ctx, c, overrides, c.totalQuery())
}

func (c *PlainClient) GetStabilityDeposit(ctx context.Context, address *common.Address, overrides *CallOverrides) (domain.StabilityDeposit, error) {
	owner, err := c.conn.ResolveAddress(address)
	if err != nil {
		return domain.StabilityDeposit{}, err
	}
	return run(ctx, c, overrides, c.stabilityDepositQuery(owner))
}

func (c *PlainClient) GetTHUSDInStabilityPool(ctx context.Context, overrides *CallOverrides) (domain.Decimal, error) {
	return run(ctx, c, overrides, c.thusdInStabilityPoolQuery())
}

func (c *PlainClient) GetTHUSDBalance(ctx context.Context, address *common.Address, overrides *CallOverrides) (domain.Decimal, error) {
	owner, err := c.conn.ResolveAddress(address)
	if err != nil {
		return domain.Zero, err
	}
	return run(ctx, c, overrides, c.thusdBalanceQuery(owner))
}

// GetCollateralBalance returns the collateral held by address: its ETH balance for
// native collateral, its token balance otherwise.
func (c *PlainClient) GetCollateralBalance(ctx context.Context, address *common.Address, overrides *CallOverrides) (domain.Decimal, error) {
	owner, err := c.conn.ResolveAddress(address)
	if err != nil {
		return domain.Zero, err
	}
	return run(ctx, c, overrides, c.collateralBalanceQuery(owner))
}

// GetErc20TokenAllowance returns how much collateral BorrowerOperations may pull from
// address. Native collateral needs no approval and reports Infinity.
func (c *PlainClient) GetErc20TokenAllowance(ctx context.Context, address *common.Address, overrides *CallOverrides) (domain.Decimal, error) {
	owner, err := c.conn.ResolveAddress(address)
	if err != nil {
		return domain.Zero, err
	}
	return run(ctx, c, overrides, c.erc20AllowanceQuery(owner))
}

func (c *PlainClient) GetCollateralSurplusBalance(ctx context.Context, address *common.Address, overrides *CallOverrides) (domain.Decimal, error) {
	owner, err := c.conn.ResolveAddress(address)
	if err != nil {
		return domain.Zero, err
	}
	return run(ctx, c, overrides, c.collateralSurplusQuery(owner))
}

func (c *PlainClient) GetPCVBalance(ctx context.Context, overrides *CallOverrides) (domain.Decimal, error) {
	return run(ctx, c, overrides, c.pcvBalanceQuery())
}

func (c *PlainClient) GetSymbol(ctx context.Context, overrides *CallOverrides) (string, error) {
	return run(ctx, c, overrides, c.symbolQuery())
}

func (c *PlainClient) GetCollateralAddress(ctx context.Context, overrides *CallOverrides) (common.Address, error) {
	return run(ctx, c, overrides, c.collateralAddressQuery())
}

// CheckMintList reports whether BorrowerOperations may mint THUSD.
func (c *PlainClient) CheckMintList(ctx context.Context, overrides *CallOverrides) (bool, error) {
	return run(ctx, c, overrides, c.mintListQuery())
}

// GetFees reads the fee state, price, totals and block timestamp in one batch and
// evaluates the fee schedule at that block.
func (c *PlainClient) GetFees(ctx context.Context, overrides *CallOverrides) (domain.Fees, error) {
	return run(ctx, c, overrides, c.feesQuery())
}

func (c *PlainClient) GetBlockTimestamp(ctx context.Context, overrides *CallOverrides) (uint64, error) {
	return run(ctx, c, overrides, c.blockTimestampQuery())
}

func (c *PlainClient) totalRedistributedQuery() query[domain.Trove] {
	tm := c.conn.Contracts().TroveManager
	return query[domain.Trove]{
		calls: []multicall.Call{
			multicall.ContractCall(tm, "L_Collateral"),
			multicall.ContractCall(tm, "L_THUSDDebt"),
		},
		decode: func(out [][]any) (domain.Trove, error) {
			return domain.Trove{Collateral: decimalOut(out[0], 0), Debt: decimalOut(out[1], 0)}, nil
		},
	}
}

func (c *PlainClient) troveBeforeRedistributionQuery(owner common.Address) query[domain.TroveWithPendingRedistribution] {
	tm := c.conn.Contracts().TroveManager
	return query[domain.TroveWithPendingRedistribution]{
		calls: []multicall.Call{
			multicall.ContractCall(tm, "Troves", owner),
			multicall.ContractCall(tm, "rewardSnapshots", owner),
		},
		decode: func(out [][]any) (domain.TroveWithPendingRedistribution, error) {
			trove, snapshot := out[0], out[1]
			status, err := domain.TroveStatusFrom(trove[3].(uint8))
			if err != nil {
				return domain.TroveWithPendingRedistribution{}, err
			}
			if status != domain.TroveOpen {
				return domain.TroveWithPendingRedistribution{
					UserTrove: domain.UserTrove{OwnerAddress: owner, Status: status},
				}, nil
			}
			return domain.TroveWithPendingRedistribution{
				UserTrove: domain.UserTrove{
					Trove:        domain.Trove{Collateral: decimalOut(trove, 1), Debt: decimalOut(trove, 0)},
					OwnerAddress: owner,
					Status:       status,
				},
				Stake: decimalOut(trove, 2),
				SnapshotOfTotalRedistributed: domain.Trove{
					Collateral: decimalOut(snapshot, 0),
					Debt:       decimalOut(snapshot, 1),
				},
			}, nil
		},
	}
}

func (c *PlainClient) troveQuery(owner common.Address) query[domain.UserTrove] {
	return compose(func(b *batch) func() (domain.UserTrove, error) {
		var stored domain.TroveWithPendingRedistribution
		var totalRedistributed domain.Trove
		add(b, c.troveBeforeRedistributionQuery(owner), &stored)
		add(b, c.totalRedistributedQuery(), &totalRedistributed)
		return func() (domain.UserTrove, error) {
			return stored.ApplyRedistribution(totalRedistributed), nil
		}
	})
}

func (c *PlainClient) numberOfTrovesQuery() query[uint64] {
	return single(multicall.ContractCall(c.conn.Contracts().TroveManager, "getTroveOwnersCount"), decodeUint64)
}

func (c *PlainClient) priceQuery() query[domain.Decimal] {
	return single(multicall.ContractCall(c.conn.Contracts().PriceFeed, "fetchPrice"), decodeDecimal)
}

func (c *PlainClient) poolQuery(pool *contracts.Contract) query[domain.Trove] {
	return query[domain.Trove]{
		calls: []multicall.Call{
			multicall.ContractCall(pool, "getCollateralBalance"),
			multicall.ContractCall(pool, "getTHUSDDebt"),
		},
		decode: func(out [][]any) (domain.Trove, error) {
			return domain.Trove{Collateral: decimalOut(out[0], 0), Debt: decimalOut(out[1], 0)}, nil
		},
	}
}

func (c *PlainClient) totalQuery() query[domain.Trove] {
	return compose(func(b *batch) func() (domain.Trove, error) {
		var active, deflt domain.Trove
		add(b, c.poolQuery(c.conn.Contracts().ActivePool), &active)
		add(b, c.poolQuery(c.conn.Contracts().DefaultPool), &deflt)
		return func() (domain.Trove, error) {
			return active.Add(deflt), nil
		}
	})
}

func (c *PlainClient) stabilityDepositQuery(owner common.Address) query[domain.StabilityDeposit] {
	sp := c.conn.Contracts().StabilityPool
	return query[domain.StabilityDeposit]{
		calls: []multicall.Call{
			multicall.ContractCall(sp, "deposits", owner),
			multicall.ContractCall(sp, "getCompoundedTHUSDDeposit", owner),
			multicall.ContractCall(sp, "getDepositorCollateralGain", owner),
		},
		decode: func(out [][]any) (domain.StabilityDeposit, error) {
			return domain.StabilityDeposit{
				InitialTHUSD:   decimalOut(out[0], 0),
				CurrentTHUSD:   decimalOut(out[1], 0),
				CollateralGain: decimalOut(out[2], 0),
			}, nil
		},
	}
}

func (c *PlainClient) thusdInStabilityPoolQuery() query[domain.Decimal] {
	return single(multicall.ContractCall(c.conn.Contracts().StabilityPool, "getTotalTHUSDDeposits"), decodeDecimal)
}

func (c *PlainClient) thusdBalanceQuery(owner common.Address) query[domain.Decimal] {
	return single(multicall.ContractCall(c.conn.Contracts().THUSDToken, "balanceOf", owner), decodeDecimal)
}

func (c *PlainClient) collateralBalanceQuery(owner common.Address) query[domain.Decimal] {
	if c.conn.IsNativeCollateral() {
		return single(multicall.EthBalanceCall(c.conn.Provider(), c.conn.Multicall(), owner), decodeDecimal)
	}
	return single(multicall.ContractCall(c.conn.Contracts().Erc20, "balanceOf", owner), decodeDecimal)
}

func (c *PlainClient) erc20AllowanceQuery(owner common.Address) query[domain.Decimal] {
	if c.conn.IsNativeCollateral() {
		return constant(domain.Infinity)
	}
	spender := c.conn.Contracts().BorrowerOperations.Address()
	return single(multicall.ContractCall(c.conn.Contracts().Erc20, "allowance", owner, spender), decodeDecimal)
}

func (c *PlainClient) collateralSurplusQuery(owner common.Address) query[domain.Decimal] {
	return single(multicall.ContractCall(c.conn.Contracts().CollSurplusPool, "getCollateral", owner), decodeDecimal)
}

func (c *PlainClient) pcvBalanceQuery() query[domain.Decimal] {
	pcv := c.conn.Contracts().PCV.Address()
	return single(multicall.ContractCall(c.conn.Contracts().THUSDToken, "balanceOf", pcv), decodeDecimal)
}

func (c *PlainClient) symbolQuery() query[string] {
	if c.conn.IsNativeCollateral() {
		return constant(NativeCollateralSymbol)
	}
	return single(multicall.ContractCall(c.conn.Contracts().Erc20, "symbol"), decodeString)
}

func (c *PlainClient) collateralAddressQuery() query[common.Address] {
	return single(multicall.ContractCall(c.conn.Contracts().BorrowerOperations, "collateralAddress"), decodeAddress)
}

func (c *PlainClient) mintListQuery() query[bool] {
	borrowerOperations := c.conn.Contracts().BorrowerOperations.Address()
	return single(multicall.ContractCall(c.conn.Contracts().THUSDToken, "mintList", borrowerOperations), decodeBool)
}

func (c *PlainClient) blockTimestampQuery() query[uint64] {
	return single(multicall.TimestampCall(c.conn.Provider(), c.conn.Multicall()), decodeUint64)
}

type feeState struct {
	baseRate         domain.Decimal
	lastFeeOperation time.Time
}

func (c *PlainClient) feeStateQuery() query[feeState] {
	tm := c.conn.Contracts().TroveManager
	return query[feeState]{
		calls: []multicall.Call{
			multicall.ContractCall(tm, "baseRate"),
			multicall.ContractCall(tm, "lastFeeOperationTime"),
		},
		decode: func(out [][]any) (feeState, error) {
			return feeState{
				baseRate:         decimalOut(out[0], 0),
				lastFeeOperation: time.Unix(out[1][0].(*big.Int).Int64(), 0),
			}, nil
		},
	}
}

// makeFees evaluates the fee schedule at blockTimestamp; recovery mode is a total
// collateral ratio below the critical ratio at price.
func makeFees(state feeState, total domain.Trove, price domain.Decimal, blockTimestamp uint64) domain.Fees {
	return domain.NewFees(
		state.baseRate,
		domain.MinuteDecayFactor,
		domain.Beta,
		state.lastFeeOperation,
		time.Unix(int64(blockTimestamp), 0),
		total.CollateralRatioIsBelowCritical(price),
	)
}

func (c *PlainClient) feesQuery() query[domain.Fees] {
	return compose(func(b *batch) func() (domain.Fees, error) {
		var (
			state     feeState
			total     domain.Trove
			price     domain.Decimal
			timestamp uint64
		)
		add(b, c.feeStateQuery(), &state)
		add(b, c.totalQuery(), &total)
		add(b, c.priceQuery(), &price)
		add(b, c.blockTimestampQuery(), &timestamp)
		return func() (domain.Fees, error) {
			return makeFees(state, total, price, timestamp), nil
		}
	})
}
