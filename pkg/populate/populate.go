// Package populate turns protocol intents into transactions that are estimated, padded
// with gas headroom and ready to send, and decodes their receipts into typed details.
package populate

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"math/rand/v2"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/thusd-labs/thusd-go/pkg/connection"
	"github.com/thusd-labs/thusd-go/pkg/contracts"
	"github.com/thusd-labs/thusd-go/pkg/domain"
	"github.com/thusd-labs/thusd-go/pkg/logger"
	"github.com/thusd-labs/thusd-go/pkg/readable"
	"github.com/thusd-labs/thusd-go/pkg/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultBorrowingFeeDecayToleranceMinutes = 10
	DefaultRedeemMaxIterations               = 70
)

var (
	DefaultBorrowingRateSlippageTolerance  = domain.MustParseDecimal("0.005")
	DefaultRedemptionRateSlippageTolerance = domain.MustParseDecimal("0.001")
)

var (
	// ErrDebtTooLow is returned when a trove would end up below the minimum debt
	ErrDebtTooLow = errors.New("trove debt below minimum")
	// ErrRedemptionTooSmall is returned when no debt can be redeemed for the amount
	ErrRedemptionTooSmall = errors.New("amount too low to redeem")
	// ErrNativeCollateral is returned for ERC-20 operations on an ETH deployment
	ErrNativeCollateral = errors.New("deployment uses native collateral")
	// ErrNoTroves is returned when liquidating an empty set of troves
	ErrNoTroves = errors.New("no troves to liquidate")
)

// Config tunes transaction population. Zero values select the defaults.
type Config struct {
	// BorrowingFeeDecayToleranceMinutes is the base rate decay the gas headroom of
	// borrowing operations covers
	BorrowingFeeDecayToleranceMinutes uint64
	BorrowingRateSlippageTolerance    domain.Decimal
	RedemptionRateSlippageTolerance   domain.Decimal
	// RedeemMaxIterations bounds the troves a redemption may touch
	RedeemMaxIterations uint64
	// RandomSeed seeds the hint sampling
	RandomSeed func() uint64
	Logger     *zap.Logger
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.BorrowingFeeDecayToleranceMinutes == 0 {
		out.BorrowingFeeDecayToleranceMinutes = DefaultBorrowingFeeDecayToleranceMinutes
	}
	if out.BorrowingRateSlippageTolerance.IsZero() {
		out.BorrowingRateSlippageTolerance = DefaultBorrowingRateSlippageTolerance
	}
	if out.RedemptionRateSlippageTolerance.IsZero() {
		out.RedemptionRateSlippageTolerance = DefaultRedemptionRateSlippageTolerance
	}
	if out.RedeemMaxIterations == 0 {
		out.RedeemMaxIterations = DefaultRedeemMaxIterations
	}
	if out.RandomSeed == nil {
		out.RandomSeed = rand.Uint64
	}
	out.Logger = logger.OrNop(out.Logger)
	return out
}

// Options customises a single transaction.
type Options struct {
	// MaxFeeRate caps the borrowing or redemption rate; nil derives it from current fees
	MaxFeeRate *domain.Decimal
	// GasLimit skips estimation when non-zero
	GasLimit uint64
}

func (o *Options) gasLimit() uint64 {
	if o == nil {
		return 0
	}
	return o.GasLimit
}

func (o *Options) maxFeeRate(def func() domain.Decimal) domain.Decimal {
	if o == nil || o.MaxFeeRate == nil {
		return def()
	}
	return *o.MaxFeeRate
}

// Populator builds transactions for the connection's signer.
type Populator struct {
	conn      *connection.Connection
	contracts *contracts.Contracts
	reader    readable.ReadableClient
	transport *transport.Transport
	cfg       Config
	logger    *zap.Logger
}

// NewPopulator reads protocol state through reader. Transactions can only be sent when
// the connection carries a signer.
func NewPopulator(conn *connection.Connection, reader readable.ReadableClient, cfg *Config) (*Populator, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	resolved := cfg.withDefaults()
	p := &Populator{
		conn:      conn,
		contracts: conn.Contracts(),
		reader:    reader,
		cfg:       resolved,
		logger:    resolved.Logger,
	}
	if signer := conn.Signer(); signer != nil {
		tr, err := transport.NewTransport(conn.Provider(), signer, resolved.Logger)
		if err != nil {
			return nil, err
		}
		p.transport = tr
	}
	return p, nil
}

func (p *Populator) requireTransport() (*transport.Transport, error) {
	if p.transport == nil {
		return nil, connection.ErrSignerRequired
	}
	return p.transport, nil
}

func (p *Populator) sender() (common.Address, error) {
	return p.conn.ResolveAddress(nil)
}

// collateralValue is the ETH sent along with a collateral deposit.
func (p *Populator) collateralValue(amount domain.Decimal) *big.Int {
	if p.conn.IsNativeCollateral() {
		return amount.BigInt()
	}
	return nil
}

func (p *Populator) populate(
	ctx context.Context,
	c *contracts.Contract,
	opts *Options,
	value *big.Int,
	adjust GasAdjustment,
	method string,
	args ...any,
) (*contracts.PopulatedTransaction, error) {
	from, err := p.sender()
	if err != nil {
		return nil, err
	}
	raw, err := c.EstimateAndPopulate(ctx, &contracts.Overrides{
		From:     from,
		Value:    value,
		GasLimit: opts.gasLimit(),
	}, adjust, method, args...)
	if err != nil {
		return nil, err
	}
	p.logger.Sugar().Debugw("populated transaction",
		zap.String("contract", string(raw.Contract)),
		zap.String("method", method),
		zap.Uint64("gasEstimate", raw.RawGasEstimate),
		zap.Uint64("gasLimit", raw.GasLimit),
	)
	return raw, nil
}

// borrowingState reads the fee schedule together with the trove of owner, when owner
// is set.
func (p *Populator) borrowingState(ctx context.Context, owner *common.Address) (domain.Fees, domain.UserTrove, error) {
	var fees domain.Fees
	var trove domain.UserTrove
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		fees, err = p.reader.GetFees(gctx, nil)
		return err
	})
	if owner != nil {
		g.Go(func() error {
			var err error
			trove, err = p.reader.GetTrove(gctx, owner, nil)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return domain.Fees{}, domain.UserTrove{}, err
	}
	return fees, trove, nil
}

func (p *Populator) maxBorrowingRate(opts *Options, fees domain.Fees) domain.Decimal {
	return opts.maxFeeRate(func() domain.Decimal {
		return fees.BorrowingRate().Add(p.cfg.BorrowingRateSlippageTolerance)
	})
}

func (p *Populator) borrowingGas() GasAdjustment {
	return withBuffer(
		AddGasForBaseRateUpdate(p.cfg.BorrowingFeeDecayToleranceMinutes),
		AddGasForPotentialListTraversal,
	)
}

// OpenTrove opens a trove for the sender.
func (p *Populator) OpenTrove(ctx context.Context, params domain.TroveCreationParams, opts *Options) (*PopulatedTransaction[TroveChangeDetails], error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	fees, _, err := p.borrowingState(ctx, nil)
	if err != nil {
		return nil, err
	}
	newTrove := domain.CreateTrove(params, fees.BorrowingRate())
	if newTrove.Debt.Lt(domain.THUSDMinimumDebt) {
		return nil, fmt.Errorf("%w: %s < %s", ErrDebtTooLow, newTrove.Debt, domain.THUSDMinimumDebt)
	}
	hints, err := p.findHints(ctx, newTrove, nil)
	if err != nil {
		return nil, err
	}
	raw, err := p.populate(ctx, p.contracts.BorrowerOperations, opts, p.collateralValue(params.DepositCollateral), p.borrowingGas(),
		"openTrove",
		p.maxBorrowingRate(opts, fees).BigInt(),
		params.BorrowTHUSD.BigInt(),
		params.DepositCollateral.BigInt(),
		hints.Upper,
		hints.Lower,
	)
	if err != nil {
		return nil, err
	}
	return newPopulated(p, raw, p.parseTroveChange), nil
}

// AdjustTrove changes the sender's trove.
func (p *Populator) AdjustTrove(ctx context.Context, params domain.TroveAdjustmentParams, opts *Options) (*PopulatedTransaction[TroveChangeDetails], error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	owner, err := p.sender()
	if err != nil {
		return nil, err
	}
	fees, trove, err := p.borrowingState(ctx, &owner)
	if err != nil {
		return nil, err
	}
	borrowing := !params.BorrowTHUSD.IsZero()
	rate := domain.Zero
	if borrowing {
		rate = fees.BorrowingRate()
	}
	newTrove := trove.Trove.Adjust(params, rate)
	if newTrove.Debt.Lt(domain.THUSDMinimumDebt) {
		return nil, fmt.Errorf("%w: %s < %s", ErrDebtTooLow, newTrove.Debt, domain.THUSDMinimumDebt)
	}
	hints, err := p.findHints(ctx, newTrove, &owner)
	if err != nil {
		return nil, err
	}

	maxFee := domain.Zero
	adjust := withBuffer(AddGasForPotentialListTraversal)
	if borrowing {
		maxFee = p.maxBorrowingRate(opts, fees)
		adjust = p.borrowingGas()
	}
	thusdChange, isDebtIncrease := params.RepayTHUSD, false
	if borrowing {
		thusdChange, isDebtIncrease = params.BorrowTHUSD, true
	}
	raw, err := p.populate(ctx, p.contracts.BorrowerOperations, opts, p.collateralValue(params.DepositCollateral), adjust,
		"adjustTrove",
		maxFee.BigInt(),
		params.WithdrawCollateral.BigInt(),
		thusdChange.BigInt(),
		isDebtIncrease,
		params.DepositCollateral.BigInt(),
		hints.Upper,
		hints.Lower,
	)
	if err != nil {
		return nil, err
	}
	return newPopulated(p, raw, p.parseTroveChange), nil
}

// CloseTrove repays and closes the sender's trove.
func (p *Populator) CloseTrove(ctx context.Context, opts *Options) (*PopulatedTransaction[TroveChangeDetails], error) {
	raw, err := p.populate(ctx, p.contracts.BorrowerOperations, opts, nil, withBuffer(), "closeTrove")
	if err != nil {
		return nil, err
	}
	return newPopulated(p, raw, p.parseTroveChange), nil
}

// ClaimCollateralSurplus claims the collateral left over after the sender's trove was
// liquidated in recovery mode or redeemed.
func (p *Populator) ClaimCollateralSurplus(ctx context.Context, opts *Options) (*PopulatedTransaction[NoDetails], error) {
	raw, err := p.populate(ctx, p.contracts.BorrowerOperations, opts, nil, withBuffer(), "claimCollateral")
	if err != nil {
		return nil, err
	}
	return newPopulated(p, raw, noDetails), nil
}

// DepositTHUSDInStabilityPool deposits amount into the stability pool.
func (p *Populator) DepositTHUSDInStabilityPool(ctx context.Context, amount domain.Decimal, opts *Options) (*PopulatedTransaction[StabilityDepositChangeDetails], error) {
	raw, err := p.populate(ctx, p.contracts.StabilityPool, opts, nil, withBuffer(), "provideToSP", amount.BigInt())
	if err != nil {
		return nil, err
	}
	return newPopulated(p, raw, p.parseStabilityDepositChange), nil
}

// WithdrawTHUSDFromStabilityPool withdraws up to amount from the stability pool along
// with any collateral gain.
func (p *Populator) WithdrawTHUSDFromStabilityPool(ctx context.Context, amount domain.Decimal, opts *Options) (*PopulatedTransaction[StabilityDepositChangeDetails], error) {
	raw, err := p.populate(ctx, p.contracts.StabilityPool, opts, nil, withBuffer(), "withdrawFromSP", amount.BigInt())
	if err != nil {
		return nil, err
	}
	return newPopulated(p, raw, p.parseStabilityDepositChange), nil
}

// WithdrawGainsFromStabilityPool withdraws only the collateral gain.
func (p *Populator) WithdrawGainsFromStabilityPool(ctx context.Context, opts *Options) (*PopulatedTransaction[StabilityDepositChangeDetails], error) {
	return p.WithdrawTHUSDFromStabilityPool(ctx, domain.Zero, opts)
}

// TransferCollateralGainToTrove moves the sender's stability pool collateral gain into
// their trove.
func (p *Populator) TransferCollateralGainToTrove(ctx context.Context, opts *Options) (*PopulatedTransaction[StabilityDepositChangeDetails], error) {
	owner, err := p.sender()
	if err != nil {
		return nil, err
	}
	var deposit domain.StabilityDeposit
	var trove domain.UserTrove
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		deposit, err = p.reader.GetStabilityDeposit(gctx, &owner, nil)
		return err
	})
	g.Go(func() error {
		var err error
		trove, err = p.reader.GetTrove(gctx, &owner, nil)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	newTrove := trove.Trove.Add(domain.Trove{Collateral: deposit.CollateralGain})
	hints, err := p.findHints(ctx, newTrove, &owner)
	if err != nil {
		return nil, err
	}
	raw, err := p.populate(ctx, p.contracts.StabilityPool, opts, nil, withBuffer(AddGasForPotentialListTraversal),
		"withdrawCollateralGainToTrove", hints.Upper, hints.Lower)
	if err != nil {
		return nil, err
	}
	return newPopulated(p, raw, p.parseStabilityDepositChange), nil
}

// ApproveErc20 lets BorrowerOperations pull the collateral token from the sender. A nil
// allowance approves the maximum amount.
func (p *Populator) ApproveErc20(ctx context.Context, allowance *domain.Decimal, opts *Options) (*PopulatedTransaction[NoDetails], error) {
	if p.conn.IsNativeCollateral() {
		return nil, ErrNativeCollateral
	}
	amount := math.MaxBig256
	if allowance != nil {
		amount = allowance.BigInt()
	}
	raw, err := p.populate(ctx, p.contracts.Erc20, opts, nil, withBuffer(),
		"approve", p.contracts.BorrowerOperations.Address(), amount)
	if err != nil {
		return nil, err
	}
	return newPopulated(p, raw, noDetails), nil
}

// Liquidate liquidates the given troves; several addresses are liquidated as a batch.
func (p *Populator) Liquidate(ctx context.Context, addresses []common.Address, opts *Options) (*PopulatedTransaction[LiquidationDetails], error) {
	var (
		raw *contracts.PopulatedTransaction
		err error
	)
	tm := p.contracts.TroveManager
	switch len(addresses) {
	case 0:
		return nil, ErrNoTroves
	case 1:
		raw, err = p.populate(ctx, tm, opts, nil, withBuffer(), "liquidate", addresses[0])
	default:
		raw, err = p.populate(ctx, tm, opts, nil, withBuffer(), "batchLiquidateTroves", addresses)
	}
	if err != nil {
		return nil, err
	}
	return newPopulated(p, raw, p.parseLiquidation), nil
}

// LiquidateUpTo liquidates up to maximumNumberOfTrovesToLiquidate of the riskiest troves.
func (p *Populator) LiquidateUpTo(ctx context.Context, maximumNumberOfTrovesToLiquidate uint64, opts *Options) (*PopulatedTransaction[LiquidationDetails], error) {
	if maximumNumberOfTrovesToLiquidate == 0 {
		return nil, ErrNoTroves
	}
	raw, err := p.populate(ctx, p.contracts.TroveManager, opts, nil, withBuffer(),
		"liquidateTroves", new(big.Int).SetUint64(maximumNumberOfTrovesToLiquidate))
	if err != nil {
		return nil, err
	}
	return newPopulated(p, raw, p.parseLiquidation), nil
}

// PopulatedRedemption is a redemption whose amount may have been truncated to what the
// troves at the bottom of the list can absorb.
type PopulatedRedemption struct {
	*PopulatedTransaction[RedemptionDetails]
	AttemptedTHUSDAmount  domain.Decimal
	RedeemableTHUSDAmount domain.Decimal
}

// IsTruncated reports whether less than the attempted amount will be redeemed.
func (r *PopulatedRedemption) IsTruncated() bool {
	return r.RedeemableTHUSDAmount.Lt(r.AttemptedTHUSDAmount)
}

// RedeemTHUSD redeems amount of debt tokens for collateral.
func (p *Populator) RedeemTHUSD(ctx context.Context, amount domain.Decimal, opts *Options) (*PopulatedRedemption, error) {
	var fees domain.Fees
	var total domain.Trove
	var hints redemptionHints
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		fees, err = p.reader.GetFees(gctx, nil)
		return err
	})
	g.Go(func() error {
		var err error
		total, err = p.reader.GetTotal(gctx, nil)
		return err
	})
	g.Go(func() error {
		var err error
		hints, err = p.findRedemptionHints(gctx, amount)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if hints.truncatedAmount.IsZero() {
		return nil, fmt.Errorf("%w: try at least %s", ErrRedemptionTooSmall, domain.THUSDMinimumNetDebt)
	}

	maxRedemptionRate := opts.maxFeeRate(func() domain.Decimal {
		fraction := hints.truncatedAmount.Div(total.Debt)
		return domain.MinDecimal(fees.RedemptionRate(fraction).Add(p.cfg.RedemptionRateSlippageTolerance), domain.One)
	})
	raw, err := p.populate(ctx, p.contracts.TroveManager, opts, nil, withBuffer(AddGasForBaseRateUpdate(p.cfg.BorrowingFeeDecayToleranceMinutes)),
		"redeemCollateral",
		hints.truncatedAmount.BigInt(),
		hints.firstRedemptionHint,
		hints.partial.Upper,
		hints.partial.Lower,
		hints.partialNICR.BigInt(),
		new(big.Int).SetUint64(p.cfg.RedeemMaxIterations),
		maxRedemptionRate.BigInt(),
	)
	if err != nil {
		return nil, err
	}
	return &PopulatedRedemption{
		PopulatedTransaction:  newPopulated(p, raw, p.parseRedemption),
		AttemptedTHUSDAmount:  amount,
		RedeemableTHUSDAmount: hints.truncatedAmount,
	}, nil
}
