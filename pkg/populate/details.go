package populate

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/thusd-labs/thusd-go/pkg/contracts"
	"github.com/thusd-labs/thusd-go/pkg/domain"
)

// ErrMissingEvent is returned when a successful receipt lacks the event its details are
// decoded from.
var ErrMissingEvent = errors.New("expected event not found in receipt")

// BorrowerOperation is the operation code carried by TroveUpdated.
type BorrowerOperation uint8

const (
	OpenTroveOperation BorrowerOperation = iota
	CloseTroveOperation
	AdjustTroveOperation
)

// TroveChangeDetails is the outcome of opening, adjusting or closing a trove.
type TroveChangeDetails struct {
	Borrower  common.Address
	NewTrove  domain.Trove
	Operation BorrowerOperation
	// Fee is the borrowing fee, zero when nothing was borrowed
	Fee domain.Decimal
}

// LiquidationDetails is the outcome of a liquidation.
type LiquidationDetails struct {
	Liquidated                []common.Address
	TotalLiquidated           domain.Trove
	CollateralGasCompensation domain.Decimal
	THUSDGasCompensation      domain.Decimal
}

// RedemptionDetails is the outcome of a redemption.
type RedemptionDetails struct {
	AttemptedTHUSDAmount domain.Decimal
	ActualTHUSDAmount    domain.Decimal
	CollateralTaken      domain.Decimal
	Fee                  domain.Decimal
}

// StabilityDepositChangeDetails is the outcome of a stability pool operation.
type StabilityDepositChangeDetails struct {
	Depositor      common.Address
	NewDeposit     domain.Decimal
	CollateralGain domain.Decimal
	THUSDLoss      domain.Decimal
}

func decimalArg(ev contracts.Event, name string) domain.Decimal {
	if v, ok := ev.Args[name].(*big.Int); ok {
		return domain.DecimalFromBigInt(v)
	}
	return domain.Zero
}

func addressArg(ev contracts.Event, name string) common.Address {
	v, _ := ev.Args[name].(common.Address)
	return v
}

func lastEvent(c *contracts.Contract, logs []*types.Log, name string) (contracts.Event, error) {
	events, err := c.ExtractEvents(logs, name)
	if err != nil {
		return contracts.Event{}, err
	}
	if len(events) == 0 {
		return contracts.Event{}, fmt.Errorf("%w: %s.%s", ErrMissingEvent, c.Name(), name)
	}
	return events[len(events)-1], nil
}

func (p *Populator) parseTroveChange(receipt *types.Receipt) (TroveChangeDetails, error) {
	bo := p.contracts.BorrowerOperations
	updated, err := lastEvent(bo, receipt.Logs, "TroveUpdated")
	if err != nil {
		return TroveChangeDetails{}, err
	}
	op, _ := updated.Args["operation"].(uint8)
	details := TroveChangeDetails{
		Borrower: addressArg(updated, "_borrower"),
		NewTrove: domain.Trove{
			Collateral: decimalArg(updated, "_coll"),
			Debt:       decimalArg(updated, "_debt"),
		},
		Operation: BorrowerOperation(op),
	}
	fees, err := bo.ExtractEvents(receipt.Logs, "THUSDBorrowingFeePaid")
	if err != nil {
		return TroveChangeDetails{}, err
	}
	for _, fee := range fees {
		details.Fee = details.Fee.Add(decimalArg(fee, "_THUSDFee"))
	}
	return details, nil
}

func (p *Populator) parseLiquidation(receipt *types.Receipt) (LiquidationDetails, error) {
	tm := p.contracts.TroveManager
	liquidations, err := tm.ExtractEvents(receipt.Logs, "Liquidation")
	if err != nil {
		return LiquidationDetails{}, err
	}
	if len(liquidations) == 0 {
		return LiquidationDetails{}, fmt.Errorf("%w: %s.Liquidation", ErrMissingEvent, tm.Name())
	}
	var details LiquidationDetails
	for _, ev := range liquidations {
		details.TotalLiquidated = details.TotalLiquidated.Add(domain.Trove{
			Collateral: decimalArg(ev, "_liquidatedColl"),
			Debt:       decimalArg(ev, "_liquidatedDebt"),
		})
		details.CollateralGasCompensation = details.CollateralGasCompensation.Add(decimalArg(ev, "_collGasCompensation"))
		details.THUSDGasCompensation = details.THUSDGasCompensation.Add(decimalArg(ev, "_THUSDGasCompensation"))
	}
	troves, err := tm.ExtractEvents(receipt.Logs, "TroveLiquidated")
	if err != nil {
		return LiquidationDetails{}, err
	}
	for _, ev := range troves {
		details.Liquidated = append(details.Liquidated, addressArg(ev, "_borrower"))
	}
	return details, nil
}

func (p *Populator) parseRedemption(receipt *types.Receipt) (RedemptionDetails, error) {
	ev, err := lastEvent(p.contracts.TroveManager, receipt.Logs, "Redemption")
	if err != nil {
		return RedemptionDetails{}, err
	}
	return RedemptionDetails{
		AttemptedTHUSDAmount: decimalArg(ev, "_attemptedTHUSDAmount"),
		ActualTHUSDAmount:    decimalArg(ev, "_actualTHUSDAmount"),
		CollateralTaken:      decimalArg(ev, "_collateralSent"),
		Fee:                  decimalArg(ev, "_collateralFee"),
	}, nil
}

func (p *Populator) parseStabilityDepositChange(receipt *types.Receipt) (StabilityDepositChangeDetails, error) {
	sp := p.contracts.StabilityPool
	changed, err := lastEvent(sp, receipt.Logs, "UserDepositChanged")
	if err != nil {
		return StabilityDepositChangeDetails{}, err
	}
	details := StabilityDepositChangeDetails{
		Depositor:  addressArg(changed, "_depositor"),
		NewDeposit: decimalArg(changed, "_newDeposit"),
	}
	gains, err := sp.ExtractEvents(receipt.Logs, "CollateralGainWithdrawn")
	if err != nil {
		return StabilityDepositChangeDetails{}, err
	}
	for _, gain := range gains {
		details.CollateralGain = details.CollateralGain.Add(decimalArg(gain, "_collateral"))
		details.THUSDLoss = details.THUSDLoss.Add(decimalArg(gain, "_THUSDLoss"))
	}
	return details, nil
}
