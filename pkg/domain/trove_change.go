package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidTroveCreation   = errors.New("invalid trove creation")
	ErrInvalidTroveAdjustment = errors.New("invalid trove adjustment")
)

// THUSDMinimumDebt is the smallest total debt of an open trove.
var THUSDMinimumDebt = THUSDMinimumNetDebt.Add(THUSDLiquidationReserve)

// TroveCreationParams describes a trove to open.
type TroveCreationParams struct {
	DepositCollateral Decimal
	BorrowTHUSD       Decimal
}

func (p TroveCreationParams) Validate() error {
	if p.DepositCollateral.IsZero() {
		return fmt.Errorf("%w: collateral deposit is required", ErrInvalidTroveCreation)
	}
	if p.BorrowTHUSD.IsZero() {
		return fmt.Errorf("%w: borrowed amount is required", ErrInvalidTroveCreation)
	}
	return nil
}

// TroveAdjustmentParams describes a change to an open trove. Collateral may be either
// deposited or withdrawn and debt either borrowed or repaid, not both.
type TroveAdjustmentParams struct {
	DepositCollateral  Decimal
	WithdrawCollateral Decimal
	BorrowTHUSD        Decimal
	RepayTHUSD         Decimal
}

func (p TroveAdjustmentParams) Validate() error {
	switch {
	case !p.DepositCollateral.IsZero() && !p.WithdrawCollateral.IsZero():
		return fmt.Errorf("%w: cannot deposit and withdraw collateral at once", ErrInvalidTroveAdjustment)
	case !p.BorrowTHUSD.IsZero() && !p.RepayTHUSD.IsZero():
		return fmt.Errorf("%w: cannot borrow and repay at once", ErrInvalidTroveAdjustment)
	case p.DepositCollateral.IsZero() && p.WithdrawCollateral.IsZero() && p.BorrowTHUSD.IsZero() && p.RepayTHUSD.IsZero():
		return fmt.Errorf("%w: nothing to change", ErrInvalidTroveAdjustment)
	}
	return nil
}

// BorrowingFee is the fee added to the debt when borrowing amount at rate.
func BorrowingFee(amount, rate Decimal) Decimal {
	return amount.Mul(rate)
}

// CreateTrove returns the trove that params open when borrowing at rate. The debt
// includes the borrowing fee and the liquidation reserve.
func CreateTrove(params TroveCreationParams, borrowingRate Decimal) Trove {
	return Trove{
		Collateral: params.DepositCollateral,
		Debt: THUSDLiquidationReserve.
			Add(params.BorrowTHUSD).
			Add(BorrowingFee(params.BorrowTHUSD, borrowingRate)),
	}
}

// Adjust returns t after applying params at borrowingRate.
func (t Trove) Adjust(params TroveAdjustmentParams, borrowingRate Decimal) Trove {
	return Trove{
		Collateral: t.Collateral.Add(params.DepositCollateral).Sub(params.WithdrawCollateral),
		Debt: t.Debt.
			Add(params.BorrowTHUSD).
			Add(BorrowingFee(params.BorrowTHUSD, borrowingRate)).
			Sub(params.RepayTHUSD),
	}
}
