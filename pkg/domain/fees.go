package domain

import "time"

var (
	MinimumBorrowingRate  = MustParseDecimal("0.005")
	MaximumBorrowingRate  = MustParseDecimal("0.05")
	MinimumRedemptionRate = MustParseDecimal("0.005")

	// MinuteDecayFactor halves the base rate every 12 hours.
	MinuteDecayFactor = MustParseDecimal("0.999037758833783")
	// Beta divides the redeemed fraction of supply when raising the base rate.
	Beta = NewDecimal(2)
)

// one thousand years, the cap the contracts apply to the decay exponent
const maxDecayMinutes = 525_600_000

// Fees computes borrowing and redemption rates from the fee state read at one block.
type Fees struct {
	baseRateWithoutDecay Decimal
	minuteDecayFactor    Decimal
	beta                 Decimal
	lastFeeOperation     time.Time
	timeOfLatestBlock    time.Time
	recoveryMode         bool
}

// NewFees builds a fee schedule.
func NewFees(
	baseRateWithoutDecay, minuteDecayFactor, beta Decimal,
	lastFeeOperation, timeOfLatestBlock time.Time,
	recoveryMode bool,
) Fees {
	return Fees{
		baseRateWithoutDecay: baseRateWithoutDecay,
		minuteDecayFactor:    minuteDecayFactor,
		beta:                 beta,
		lastFeeOperation:     lastFeeOperation,
		timeOfLatestBlock:    timeOfLatestBlock,
		recoveryMode:         recoveryMode,
	}
}

func (f Fees) RecoveryMode() bool           { return f.recoveryMode }
func (f Fees) TimeOfLatestBlock() time.Time { return f.timeOfLatestBlock }
func (f Fees) LastFeeOperation() time.Time  { return f.lastFeeOperation }

// BaseRateWithoutDecay is the base rate as last written on chain.
func (f Fees) BaseRateWithoutDecay() Decimal { return f.baseRateWithoutDecay }

// BaseRate returns the base rate decayed by every whole minute between the last fee
// operation and when.
func (f Fees) BaseRate(when time.Time) Decimal {
	minutes := uint64(0)
	if when.After(f.lastFeeOperation) {
		minutes = uint64(when.Sub(f.lastFeeOperation) / time.Minute)
	}
	if minutes > maxDecayMinutes {
		minutes = maxDecayMinutes
	}
	return f.baseRateWithoutDecay.Mul(f.minuteDecayFactor.Pow(minutes))
}

// BorrowingRate is the rate charged at the time of the latest block.
func (f Fees) BorrowingRate() Decimal {
	return f.BorrowingRateAt(f.timeOfLatestBlock)
}

// BorrowingRateAt returns the borrowing rate at when. Borrowing is free in recovery mode.
func (f Fees) BorrowingRateAt(when time.Time) Decimal {
	if f.recoveryMode {
		return Zero
	}
	return MinDecimal(MinimumBorrowingRate.Add(f.BaseRate(when)), MaximumBorrowingRate)
}

// RedemptionRate returns the rate charged at the latest block for redeeming the given
// fraction of the total debt token supply.
func (f Fees) RedemptionRate(redeemedFractionOfSupply Decimal) Decimal {
	return f.RedemptionRateAt(redeemedFractionOfSupply, f.timeOfLatestBlock)
}

// RedemptionRateAt is RedemptionRate evaluated at when.
func (f Fees) RedemptionRateAt(redeemedFractionOfSupply Decimal, when time.Time) Decimal {
	rate := MinimumRedemptionRate.
		Add(f.BaseRate(when)).
		Add(redeemedFractionOfSupply.Div(f.beta))
	return MinDecimal(rate, One)
}

// Equal compares two fee schedules.
func (f Fees) Equal(o Fees) bool {
	return f.baseRateWithoutDecay.Eq(o.baseRateWithoutDecay) &&
		f.minuteDecayFactor.Eq(o.minuteDecayFactor) &&
		f.beta.Eq(o.beta) &&
		f.lastFeeOperation.Equal(o.lastFeeOperation) &&
		f.timeOfLatestBlock.Equal(o.timeOfLatestBlock) &&
		f.recoveryMode == o.recoveryMode
}
