package populate

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thusd-labs/thusd-go/internal/testutil/fakechain"
	"github.com/thusd-labs/thusd-go/internal/testutil/fixture"
	"github.com/thusd-labs/thusd-go/pkg/connection"
	"github.com/thusd-labs/thusd-go/pkg/contracts"
	"github.com/thusd-labs/thusd-go/pkg/deployments"
	"github.com/thusd-labs/thusd-go/pkg/domain"
	"github.com/thusd-labs/thusd-go/pkg/readable"
	"github.com/thusd-labs/thusd-go/pkg/txSigner"
)

const testPrivateKey = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	carol = common.HexToAddress("0x00000000000000000000000000000000000ca201")
)

type harness struct {
	protocol  *fixture.Protocol
	populator *Populator
	contracts *contracts.Contracts
	sender    common.Address
}

func newHarness(t *testing.T, opts ...fixture.Option) *harness {
	p := fixture.New(opts...)
	signer, err := txSigner.NewPrivateKeySigner(testPrivateKey)
	require.NoError(t, err)
	sender, err := signer.GetAddress()
	require.NoError(t, err)

	conn := p.Connect(t, signer, nil)
	populator, err := NewPopulator(conn, readable.NewPlainClient(conn), &Config{
		RandomSeed: func() uint64 { return 42 },
	})
	require.NoError(t, err)
	return &harness{protocol: p, populator: populator, contracts: conn.Contracts(), sender: sender}
}

func (h *harness) openTroves(owners ...common.Address) {
	for _, owner := range owners {
		h.protocol.OpenTrove(owner,
			domain.Trove{Collateral: domain.NewDecimal(10), Debt: domain.NewDecimal(4000)},
			domain.NewDecimal(10),
			domain.Trove{},
		)
	}
}

func unpackArgs(t *testing.T, c *contracts.Contract, raw *contracts.PopulatedTransaction) []any {
	method := c.ABI().Methods[raw.Method]
	args, err := method.Inputs.Unpack(raw.Data[4:])
	require.NoError(t, err)
	return args
}

func eventLog(t *testing.T, c *contracts.Contract, name string, indexed []common.Address, data ...any) *types.Log {
	ev := c.ABI().Events[name]
	packed, err := ev.Inputs.NonIndexed().Pack(data...)
	require.NoError(t, err)
	topics := []common.Hash{ev.ID}
	for _, a := range indexed {
		topics = append(topics, common.BytesToHash(a.Bytes()))
	}
	return &types.Log{Address: c.Address(), Topics: topics, Data: packed}
}

func assertBig(t *testing.T, want *big.Int, got any, msgAndArgs ...any) {
	t.Helper()
	require.IsType(t, &big.Int{}, got)
	assert.Zero(t, want.Cmp(got.(*big.Int)), msgAndArgs...)
}

func wad(s string) *big.Int { return domain.MustParseDecimal(s).BigInt() }

func TestGenerateTrials(t *testing.T) {
	assert.Empty(t, generateTrials(0))
	assert.Equal(t, []uint64{15}, generateTrials(15))
	assert.Equal(t, []uint64{2500}, generateTrials(2500))
	assert.Equal(t, []uint64{2500, 2500, 1000}, generateTrials(6000))

	assert.Equal(t, uint64(15), numberOfTrials(2))
	assert.Equal(t, uint64(100), numberOfTrials(100))
	assert.Equal(t, uint64(1000), numberOfTrials(10_000))
}

func TestGasAdjustments(t *testing.T) {
	assert.Equal(t, uint64(110_000), AddGasForBaseRateUpdate(0)(100_000))
	assert.Equal(t, uint64(115_656), AddGasForBaseRateUpdate(10)(100_000))
	assert.Equal(t, uint64(180_000), AddGasForPotentialListTraversal(100_000))
	assert.Equal(t, uint64(120_000), withBuffer()(100_000))
	assert.Equal(t, uint64(216_000), withBuffer(AddGasForPotentialListTraversal)(100_000))
}

func TestPopulator_OpenTrove(t *testing.T) {
	h := newHarness(t)
	h.openTroves(alice, bob)
	ctx := context.Background()

	tx, err := h.populator.OpenTrove(ctx, domain.TroveCreationParams{
		DepositCollateral: domain.NewDecimal(20),
		BorrowTHUSD:       domain.NewDecimal(2000),
	}, nil)
	require.NoError(t, err)

	raw := tx.Raw
	assert.Equal(t, deployments.BorrowerOperations, raw.Contract)
	assert.Equal(t, "openTrove", raw.Method)
	assert.Equal(t, h.sender, raw.From)
	assert.Equal(t, wad("20"), raw.Value)
	assert.Equal(t, fakechain.DefaultGasEstimate, raw.RawGasEstimate)
	assert.Equal(t, uint64(354_787), raw.GasLimit)
	assert.Equal(t, raw.GasLimit-raw.RawGasEstimate, tx.GasHeadroom)

	args := unpackArgs(t, h.contracts.BorrowerOperations, raw)
	assertBig(t, wad("0.01"), args[0], "borrowing rate plus slippage")
	assertBig(t, wad("2000"), args[1])
	assertBig(t, wad("20"), args[2])
	assert.Equal(t, alice, args[3])
	assert.Equal(t, alice, args[4])
	assert.Equal(t, 1, h.protocol.Chain.MethodCalls("getApproxHint"))
}

func TestPopulator_OpenTrove_TokenCollateralSendsNoValue(t *testing.T) {
	h := newHarness(t, fixture.WithTokenCollateral())
	tx, err := h.populator.OpenTrove(context.Background(), domain.TroveCreationParams{
		DepositCollateral: domain.NewDecimal(20),
		BorrowTHUSD:       domain.NewDecimal(2000),
	}, nil)
	require.NoError(t, err)
	assert.Nil(t, tx.Raw.Value)
	assertBig(t, wad("20"), unpackArgs(t, h.contracts.BorrowerOperations, tx.Raw)[2])
}

func TestPopulator_OpenTrove_Validation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.protocol.Chain.ResetCalls()

	_, err := h.populator.OpenTrove(ctx, domain.TroveCreationParams{BorrowTHUSD: domain.NewDecimal(2000)}, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidTroveCreation)
	assert.Equal(t, 0, h.protocol.Chain.TotalRPCCalls())

	_, err = h.populator.OpenTrove(ctx, domain.TroveCreationParams{
		DepositCollateral: domain.NewDecimal(1),
		BorrowTHUSD:       domain.NewDecimal(100),
	}, nil)
	assert.ErrorIs(t, err, ErrDebtTooLow)
}

func TestPopulator_OpenTrove_ExplicitOptions(t *testing.T) {
	h := newHarness(t)
	maxFee := domain.MustParseDecimal("0.02")
	tx, err := h.populator.OpenTrove(context.Background(), domain.TroveCreationParams{
		DepositCollateral: domain.NewDecimal(20),
		BorrowTHUSD:       domain.NewDecimal(2000),
	}, &Options{MaxFeeRate: &maxFee, GasLimit: 500_000})
	require.NoError(t, err)

	assert.Equal(t, uint64(500_000), tx.Raw.GasLimit)
	assert.Zero(t, tx.GasHeadroom)
	assert.Equal(t, 0, h.protocol.Chain.RPCCalls("eth_estimateGas"))
	assertBig(t, wad("0.02"), unpackArgs(t, h.contracts.BorrowerOperations, tx.Raw)[0])
}

func TestPopulator_OpenTrove_SimulationFailure(t *testing.T) {
	h := newHarness(t)
	h.protocol.Chain.Handle(h.protocol.Address(deployments.BorrowerOperations), "openTrove", func(fakechain.Call) ([]any, error) {
		return nil, fakechain.ErrExecutionReverted
	})

	_, err := h.populator.OpenTrove(context.Background(), domain.TroveCreationParams{
		DepositCollateral: domain.NewDecimal(20),
		BorrowTHUSD:       domain.NewDecimal(2000),
	}, nil)
	var simulation *contracts.SimulationError
	require.ErrorAs(t, err, &simulation)
	assert.Equal(t, "openTrove", simulation.Method)
	assert.ErrorIs(t, err, fakechain.ErrExecutionReverted)
}

func TestPopulator_AdjustTrove_JumpsOverOwnTrove(t *testing.T) {
	h := newHarness(t)
	h.openTroves(carol, h.sender, bob)
	st := h.protocol.Address(deployments.SortedTroves)
	h.protocol.Chain.Handle(st, "findInsertPosition", func(fakechain.Call) ([]any, error) {
		return []any{h.sender, bob}, nil
	})

	tx, err := h.populator.AdjustTrove(context.Background(), domain.TroveAdjustmentParams{
		RepayTHUSD: domain.NewDecimal(100),
	}, nil)
	require.NoError(t, err)

	args := unpackArgs(t, h.contracts.BorrowerOperations, tx.Raw)
	assertBig(t, new(big.Int), args[0], "no fee without borrowing")
	assertBig(t, new(big.Int), args[1])
	assertBig(t, wad("100"), args[2])
	assert.Equal(t, false, args[3])
	assert.Equal(t, carol, args[5])
	assert.Equal(t, bob, args[6])
	assert.Equal(t, uint64(336_000), tx.Raw.GasLimit)
	assert.Nil(t, tx.Raw.Value)
}

func TestPopulator_AdjustTrove_Borrow(t *testing.T) {
	h := newHarness(t)
	h.openTroves(h.sender)

	tx, err := h.populator.AdjustTrove(context.Background(), domain.TroveAdjustmentParams{
		DepositCollateral: domain.NewDecimal(1),
		BorrowTHUSD:       domain.NewDecimal(500),
	}, nil)
	require.NoError(t, err)

	args := unpackArgs(t, h.contracts.BorrowerOperations, tx.Raw)
	assertBig(t, wad("0.01"), args[0])
	assertBig(t, wad("500"), args[2])
	assert.Equal(t, true, args[3])
	assertBig(t, wad("1"), args[4])
	assert.Equal(t, wad("1"), tx.Raw.Value)
	assert.Equal(t, uint64(354_787), tx.Raw.GasLimit)
}

func TestPopulator_AdjustTrove_Validation(t *testing.T) {
	h := newHarness(t)
	h.protocol.Chain.ResetCalls()
	_, err := h.populator.AdjustTrove(context.Background(), domain.TroveAdjustmentParams{}, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidTroveAdjustment)
	assert.Equal(t, 0, h.protocol.Chain.TotalRPCCalls())
}

func TestPopulator_Hints_EmptyList(t *testing.T) {
	h := newHarness(t)
	hints, err := h.populator.findHintsForNominalCollateralRatio(context.Background(), domain.NewDecimal(2), nil)
	require.NoError(t, err)
	assert.Equal(t, Hints{}, hints)
	assert.Equal(t, 0, h.protocol.Chain.MethodCalls("getApproxHint"))
}

func TestPopulator_Hints_InfiniteRatio(t *testing.T) {
	h := newHarness(t)
	h.openTroves(alice, bob)
	hints, err := h.populator.findHintsForNominalCollateralRatio(context.Background(), domain.Infinity, nil)
	require.NoError(t, err)
	assert.Equal(t, Hints{Lower: alice}, hints)
	assert.Equal(t, 0, h.protocol.Chain.MethodCalls("getApproxHint"))
}

func TestPopulator_Hints_ChainsSeedsAndPicksBestDiff(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 70_000; i++ {
		h.protocol.Update(func(s *fixture.State) {
			s.Sorted = append(s.Sorted, common.BigToAddress(big.NewInt(int64(i+1))))
		})
	}
	hh := h.protocol.Address(deployments.HintHelpers)
	var seeds []uint64
	h.protocol.Chain.Handle(hh, "getApproxHint", func(call fakechain.Call) ([]any, error) {
		seed := call.Args[2].(*big.Int)
		seeds = append(seeds, seed.Uint64())
		diff := big.NewInt(10)
		if len(seeds) == 2 {
			diff = big.NewInt(1)
		}
		return []any{common.BigToAddress(big.NewInt(int64(len(seeds)))), diff, new(big.Int).Add(seed, big.NewInt(7))}, nil
	})

	hints, err := h.populator.findHintsForNominalCollateralRatio(context.Background(), domain.NewDecimal(2), nil)
	require.NoError(t, err)
	// ceil(10*sqrt(70000)) = 2646 trials in two calls
	assert.Equal(t, []uint64{42, 49}, seeds)
	best := common.BigToAddress(big.NewInt(2))
	assert.Equal(t, Hints{Upper: best, Lower: best}, hints)
}

func TestPopulator_RedeemTHUSD(t *testing.T) {
	h := newHarness(t)
	h.openTroves(alice, bob)
	ctx := context.Background()
	amount := domain.NewDecimal(100)

	tx, err := h.populator.RedeemTHUSD(ctx, amount, nil)
	require.NoError(t, err)
	assert.False(t, tx.IsTruncated())
	assert.Equal(t, amount, tx.RedeemableTHUSDAmount)
	assert.Equal(t, uint64(258_787), tx.Raw.GasLimit)

	fees, err := h.populator.reader.GetFees(ctx, nil)
	require.NoError(t, err)
	total, err := h.populator.reader.GetTotal(ctx, nil)
	require.NoError(t, err)
	wantRate := fees.RedemptionRate(amount.Div(total.Debt)).Add(DefaultRedemptionRateSlippageTolerance)

	args := unpackArgs(t, h.contracts.TroveManager, tx.Raw)
	assertBig(t, amount.BigInt(), args[0])
	assert.Equal(t, bob, args[1], "first redemption hint")
	assert.Equal(t, alice, args[2])
	assert.Equal(t, alice, args[3])
	assertBig(t, big.NewInt(1), args[4])
	assertBig(t, big.NewInt(DefaultRedeemMaxIterations), args[5])
	assertBig(t, wantRate.BigInt(), args[6])
}

func TestPopulator_RedeemTHUSD_Truncated(t *testing.T) {
	h := newHarness(t)
	h.openTroves(alice)
	hh := h.protocol.Address(deployments.HintHelpers)
	h.protocol.Chain.Handle(hh, "getRedemptionHints", func(call fakechain.Call) ([]any, error) {
		return []any{alice, new(big.Int), wad("40")}, nil
	})

	tx, err := h.populator.RedeemTHUSD(context.Background(), domain.NewDecimal(100), nil)
	require.NoError(t, err)
	assert.True(t, tx.IsTruncated())
	assert.Equal(t, "40", tx.RedeemableTHUSDAmount.String())
	args := unpackArgs(t, h.contracts.TroveManager, tx.Raw)
	assert.Equal(t, common.Address{}, args[2], "no partial redemption hints")

	h.protocol.Chain.Handle(hh, "getRedemptionHints", func(call fakechain.Call) ([]any, error) {
		return []any{alice, new(big.Int), new(big.Int)}, nil
	})
	_, err = h.populator.RedeemTHUSD(context.Background(), domain.NewDecimal(1), nil)
	assert.ErrorIs(t, err, ErrRedemptionTooSmall)
}

func TestPopulator_ApproveErc20(t *testing.T) {
	native := newHarness(t)
	_, err := native.populator.ApproveErc20(context.Background(), nil, nil)
	assert.ErrorIs(t, err, ErrNativeCollateral)

	h := newHarness(t, fixture.WithTokenCollateral())
	tx, err := h.populator.ApproveErc20(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, deployments.Erc20, tx.Raw.Contract)
	assert.Equal(t, fixture.TokenAddress, tx.Raw.To)
	args := unpackArgs(t, h.contracts.Erc20, tx.Raw)
	assert.Equal(t, h.protocol.Address(deployments.BorrowerOperations), args[0])
	assertBig(t, math.MaxBig256, args[1])
}

func TestPopulator_Liquidate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.populator.Liquidate(ctx, nil, nil)
	assert.ErrorIs(t, err, ErrNoTroves)

	single, err := h.populator.Liquidate(ctx, []common.Address{alice}, nil)
	require.NoError(t, err)
	assert.Equal(t, "liquidate", single.Raw.Method)

	batch, err := h.populator.Liquidate(ctx, []common.Address{alice, bob}, nil)
	require.NoError(t, err)
	assert.Equal(t, "batchLiquidateTroves", batch.Raw.Method)
	assert.Equal(t, []common.Address{alice, bob}, unpackArgs(t, h.contracts.TroveManager, batch.Raw)[0])

	upTo, err := h.populator.LiquidateUpTo(ctx, 5, nil)
	require.NoError(t, err)
	assert.Equal(t, "liquidateTroves", upTo.Raw.Method)
	assertBig(t, big.NewInt(5), unpackArgs(t, h.contracts.TroveManager, upTo.Raw)[0])
}

func TestPopulator_StabilityPool(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	deposit, err := h.populator.DepositTHUSDInStabilityPool(ctx, domain.NewDecimal(50), nil)
	require.NoError(t, err)
	assert.Equal(t, "provideToSP", deposit.Raw.Method)
	assert.Equal(t, uint64(240_000), deposit.Raw.GasLimit)

	gains, err := h.populator.WithdrawGainsFromStabilityPool(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, "withdrawFromSP", gains.Raw.Method)
	assertBig(t, new(big.Int), unpackArgs(t, h.contracts.StabilityPool, gains.Raw)[0])
}

func TestPopulator_SendAndWaitForReceipt(t *testing.T) {
	h := newHarness(t)
	h.openTroves(alice)
	ctx := context.Background()
	bo := h.contracts.BorrowerOperations
	h.protocol.Chain.OnSend(func(tx *types.Transaction) *types.Receipt {
		return &types.Receipt{
			Status: types.ReceiptStatusSuccessful,
			Logs: []*types.Log{
				eventLog(t, bo, "THUSDBorrowingFeePaid", []common.Address{h.sender}, wad("10")),
				eventLog(t, bo, "TroveUpdated", []common.Address{h.sender}, wad("2210"), wad("20"), wad("20"), uint8(OpenTroveOperation)),
			},
		}
	})

	tx, err := h.populator.OpenTrove(ctx, domain.TroveCreationParams{
		DepositCollateral: domain.NewDecimal(20),
		BorrowTHUSD:       domain.NewDecimal(2000),
	}, nil)
	require.NoError(t, err)
	sent, err := tx.Send(ctx)
	require.NoError(t, err)

	require.Len(t, h.protocol.Chain.Sent(), 1)
	onChain := h.protocol.Chain.Sent()[0]
	assert.Equal(t, tx.Raw.GasLimit, onChain.Gas())
	assert.Equal(t, tx.Raw.Data, onChain.Data())
	assert.Equal(t, sent.Tx.Hash(), onChain.Hash())

	receipt, err := sent.WaitForReceipt(ctx)
	require.NoError(t, err)
	assert.Equal(t, Succeeded, receipt.Status)
	assert.Equal(t, TroveChangeDetails{
		Borrower:  h.sender,
		NewTrove:  domain.Trove{Collateral: domain.NewDecimal(20), Debt: domain.NewDecimal(2210)},
		Operation: OpenTroveOperation,
		Fee:       domain.NewDecimal(10),
	}, receipt.Details)

	again, err := sent.GetReceipt(ctx)
	require.NoError(t, err)
	assert.Equal(t, receipt, again)
}

func TestPopulator_RevertedReceiptIsFailedOutcome(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.protocol.Chain.OnSend(func(*types.Transaction) *types.Receipt {
		return &types.Receipt{Status: types.ReceiptStatusFailed}
	})

	tx, err := h.populator.Liquidate(ctx, []common.Address{alice}, nil)
	require.NoError(t, err)
	sent, err := tx.Send(ctx)
	require.NoError(t, err)

	receipt, err := sent.WaitForReceipt(ctx)
	require.NoError(t, err)
	assert.Equal(t, Failed, receipt.Status)
	assert.Equal(t, LiquidationDetails{}, receipt.Details)
}

func TestPopulator_SuccessfulReceiptWithoutEvent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tx, err := h.populator.CloseTrove(ctx, nil)
	require.NoError(t, err)
	sent, err := tx.Send(ctx)
	require.NoError(t, err)

	_, err = sent.WaitForReceipt(ctx)
	assert.ErrorIs(t, err, ErrMissingEvent)
}

func TestPopulator_GetReceiptPending(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tx, err := h.populator.ClaimCollateralSurplus(ctx, nil)
	require.NoError(t, err)
	signed, err := h.populator.transport.Sign(ctx, tx.Raw)
	require.NoError(t, err)

	pending := &SentTransaction[NoDetails]{Tx: signed, transport: h.populator.transport, parse: noDetails}
	receipt, err := pending.GetReceipt(ctx)
	require.NoError(t, err)
	assert.Nil(t, receipt)
	assert.Empty(t, h.protocol.Chain.Sent())
}

func TestPopulator_SendRequiresSigner(t *testing.T) {
	p := fixture.New()
	conn := p.Connect(t, nil, &connection.Params{UserAddress: &alice})
	populator, err := NewPopulator(conn, readable.NewPlainClient(conn), nil)
	require.NoError(t, err)

	tx, err := populator.CloseTrove(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, alice, tx.Raw.From)

	_, err = tx.Send(context.Background())
	assert.ErrorIs(t, err, connection.ErrSignerRequired)
}

func TestParseDetails(t *testing.T) {
	h := newHarness(t)
	tm := h.contracts.TroveManager
	sp := h.contracts.StabilityPool

	liquidation, err := h.populator.parseLiquidation(&types.Receipt{Logs: []*types.Log{
		eventLog(t, tm, "TroveLiquidated", []common.Address{alice}, wad("2000"), wad("10"), uint8(0)),
		eventLog(t, tm, "TroveLiquidated", []common.Address{bob}, wad("3000"), wad("12"), uint8(0)),
		eventLog(t, tm, "Liquidation", nil, wad("5000"), wad("21.89"), wad("0.11"), wad("400")),
	}})
	require.NoError(t, err)
	assert.Equal(t, []common.Address{alice, bob}, liquidation.Liquidated)
	assert.Equal(t, "5000", liquidation.TotalLiquidated.Debt.String())
	assert.Equal(t, "21.89", liquidation.TotalLiquidated.Collateral.String())
	assert.Equal(t, "0.11", liquidation.CollateralGasCompensation.String())
	assert.Equal(t, "400", liquidation.THUSDGasCompensation.String())

	redemption, err := h.populator.parseRedemption(&types.Receipt{Logs: []*types.Log{
		eventLog(t, tm, "Redemption", nil, wad("100"), wad("90"), wad("0.45"), wad("0.0045")),
	}})
	require.NoError(t, err)
	assert.Equal(t, RedemptionDetails{
		AttemptedTHUSDAmount: domain.NewDecimal(100),
		ActualTHUSDAmount:    domain.NewDecimal(90),
		CollateralTaken:      domain.MustParseDecimal("0.45"),
		Fee:                  domain.MustParseDecimal("0.0045"),
	}, redemption)

	deposit, err := h.populator.parseStabilityDepositChange(&types.Receipt{Logs: []*types.Log{
		eventLog(t, sp, "CollateralGainWithdrawn", []common.Address{alice}, wad("0.5"), wad("3")),
		eventLog(t, sp, "UserDepositChanged", []common.Address{alice}, wad("97")),
	}})
	require.NoError(t, err)
	assert.Equal(t, StabilityDepositChangeDetails{
		Depositor:      alice,
		NewDeposit:     domain.NewDecimal(97),
		CollateralGain: domain.MustParseDecimal("0.5"),
		THUSDLoss:      domain.NewDecimal(3),
	}, deposit)

	foreign := eventLog(t, sp, "UserDepositChanged", []common.Address{alice}, wad("97"))
	foreign.Address = common.HexToAddress("0xdead")
	_, err = h.populator.parseStabilityDepositChange(&types.Receipt{Logs: []*types.Log{foreign}})
	assert.True(t, errors.Is(err, ErrMissingEvent))
}
