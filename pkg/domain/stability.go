package domain

import "fmt"

// StabilityDeposit is a depositor's position in the stability pool.
type StabilityDeposit struct {
	// InitialTHUSD is the amount at the time of the last deposit change
	InitialTHUSD Decimal
	// CurrentTHUSD is the compounded amount after absorbed liquidations
	CurrentTHUSD Decimal
	// CollateralGain is the collateral earned from liquidations, not yet withdrawn
	CollateralGain Decimal
}

func (d StabilityDeposit) IsEmpty() bool {
	return d.InitialTHUSD.IsZero() && d.CurrentTHUSD.IsZero() && d.CollateralGain.IsZero()
}

func (d StabilityDeposit) String() string {
	return fmt.Sprintf("{ initialTHUSD: %s, currentTHUSD: %s, collateralGain: %s }",
		d.InitialTHUSD, d.CurrentTHUSD, d.CollateralGain)
}
