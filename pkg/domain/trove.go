package domain

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// MinimumCollateralRatio is the ratio below which a trove can be liquidated in normal mode.
	MinimumCollateralRatio = MustParseDecimal("1.1")
	// CriticalCollateralRatio is the total ratio below which the system enters recovery mode.
	CriticalCollateralRatio = MustParseDecimal("1.5")
	// THUSDLiquidationReserve is set aside from every trove's debt to compensate liquidators.
	THUSDLiquidationReserve = NewDecimal(200)
	// THUSDMinimumNetDebt is the smallest debt a trove may carry excluding the reserve.
	THUSDMinimumNetDebt = NewDecimal(1800)
)

// Trove is a collateral and debt amount pair.
type Trove struct {
	Collateral Decimal
	Debt       Decimal
}

// IsEmpty reports whether the trove holds neither collateral nor debt.
func (t Trove) IsEmpty() bool {
	return t.Collateral.IsZero() && t.Debt.IsZero()
}

// Add sums two troves field by field.
func (t Trove) Add(o Trove) Trove {
	return Trove{Collateral: t.Collateral.Add(o.Collateral), Debt: t.Debt.Add(o.Debt)}
}

// Subtract subtracts o field by field, flooring each at zero.
func (t Trove) Subtract(o Trove) Trove {
	return Trove{Collateral: t.Collateral.Sub(o.Collateral), Debt: t.Debt.Sub(o.Debt)}
}

// Multiply scales both fields by m.
func (t Trove) Multiply(m Decimal) Trove {
	return Trove{Collateral: t.Collateral.Mul(m), Debt: t.Debt.Mul(m)}
}

// NetDebt is the debt excluding the liquidation reserve.
func (t Trove) NetDebt() Decimal {
	return t.Debt.Sub(THUSDLiquidationReserve)
}

// CollateralRatio is collateral value over debt at price; Infinity when debt is zero.
func (t Trove) CollateralRatio(price Decimal) Decimal {
	return t.Collateral.Mul(price).Div(t.Debt)
}

// NominalCollateralRatio is the price independent ratio the sorted list is ordered by
// (collateral*100/debt); Infinity when debt is zero.
func (t Trove) NominalCollateralRatio() Decimal {
	return t.Collateral.MulUint64(100).Div(t.Debt)
}

func (t Trove) CollateralRatioIsBelowMinimum(price Decimal) bool {
	return t.CollateralRatio(price).Lt(MinimumCollateralRatio)
}

func (t Trove) CollateralRatioIsBelowCritical(price Decimal) bool {
	return t.CollateralRatio(price).Lt(CriticalCollateralRatio)
}

func (t Trove) String() string {
	return fmt.Sprintf("{ collateral: %s, debt: %s }", t.Collateral, t.Debt)
}

// TroveStatus mirrors the on-chain trove status enum.
type TroveStatus uint8

const (
	TroveNonExistent TroveStatus = iota
	TroveOpen
	TroveClosedByOwner
	TroveClosedByLiquidation
	TroveClosedByRedemption
)

var troveStatusNames = map[TroveStatus]string{
	TroveNonExistent:         "nonExistent",
	TroveOpen:                "open",
	TroveClosedByOwner:       "closedByOwner",
	TroveClosedByLiquidation: "closedByLiquidation",
	TroveClosedByRedemption:  "closedByRedemption",
}

func (s TroveStatus) String() string {
	if name, ok := troveStatusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", uint8(s))
}

// TroveStatusFrom converts the raw contract enum value.
func TroveStatusFrom(raw uint8) (TroveStatus, error) {
	s := TroveStatus(raw)
	if _, ok := troveStatusNames[s]; !ok {
		return 0, fmt.Errorf("invalid trove status %d", raw)
	}
	return s, nil
}

// UserTrove is a trove together with its owner and status.
type UserTrove struct {
	Trove
	OwnerAddress common.Address
	Status       TroveStatus
}

// TroveWithPendingRedistribution is a trove as recorded in storage, before the
// redistribution accumulated since its last snapshot has been applied.
type TroveWithPendingRedistribution struct {
	UserTrove
	Stake                        Decimal
	SnapshotOfTotalRedistributed Trove
}

// ApplyRedistribution adds the trove's share of everything redistributed since its
// snapshot. Status is left as recorded on chain.
func (t TroveWithPendingRedistribution) ApplyRedistribution(totalRedistributed Trove) UserTrove {
	if t.Status != TroveOpen {
		return t.UserTrove
	}
	pending := totalRedistributed.Subtract(t.SnapshotOfTotalRedistributed).Multiply(t.Stake)
	return UserTrove{Trove: t.Trove.Add(pending), OwnerAddress: t.OwnerAddress, Status: t.Status}
}
