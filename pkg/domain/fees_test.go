package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var feeEpoch = time.Unix(1_700_000_000, 0)

func TestFees_BaseRateDecay(t *testing.T) {
	fees := NewFees(MustParseDecimal("0.01"), MinuteDecayFactor, Beta, feeEpoch, feeEpoch.Add(12*time.Hour), false)

	assert.True(t, fees.BaseRate(feeEpoch).Eq(MustParseDecimal("0.01")))
	assert.True(t, fees.BaseRate(feeEpoch.Add(59*time.Second)).Eq(MustParseDecimal("0.01")), "partial minutes do not decay")
	assert.True(t, fees.BaseRate(feeEpoch.Add(-time.Hour)).Eq(MustParseDecimal("0.01")))

	halved := fees.BaseRate(feeEpoch.Add(12 * time.Hour))
	assert.True(t, halved.Gt(MustParseDecimal("0.00499")), halved.String())
	assert.True(t, halved.Lt(MustParseDecimal("0.00501")), halved.String())

	assert.True(t, fees.BaseRate(feeEpoch.Add(100*365*24*time.Hour)).Lt(MustParseDecimal("0.000000001")))
}

func TestFees_BorrowingRate(t *testing.T) {
	t.Run("minimum plus base rate", func(t *testing.T) {
		fees := NewFees(MustParseDecimal("0.01"), MinuteDecayFactor, Beta, feeEpoch, feeEpoch, false)
		assert.Equal(t, "0.015", fees.BorrowingRate().String())
	})

	t.Run("capped at maximum", func(t *testing.T) {
		fees := NewFees(MustParseDecimal("0.1"), MinuteDecayFactor, Beta, feeEpoch, feeEpoch, false)
		assert.True(t, fees.BorrowingRate().Eq(MaximumBorrowingRate))
	})

	t.Run("free in recovery mode", func(t *testing.T) {
		fees := NewFees(MustParseDecimal("0.01"), MinuteDecayFactor, Beta, feeEpoch, feeEpoch, true)
		assert.True(t, fees.BorrowingRate().IsZero())
		assert.True(t, fees.RecoveryMode())
	})
}

func TestFees_RedemptionRate(t *testing.T) {
	fees := NewFees(Zero, MinuteDecayFactor, Beta, feeEpoch, feeEpoch, false)

	assert.True(t, fees.RedemptionRate(Zero).Eq(MinimumRedemptionRate))
	assert.Equal(t, "0.055", fees.RedemptionRate(MustParseDecimal("0.1")).String())
	assert.True(t, fees.RedemptionRate(NewDecimal(4)).Eq(One))
}

func TestFees_Equal(t *testing.T) {
	a := NewFees(One, MinuteDecayFactor, Beta, feeEpoch, feeEpoch, false)
	b := NewFees(One, MinuteDecayFactor, Beta, feeEpoch, feeEpoch, false)
	c := NewFees(One, MinuteDecayFactor, Beta, feeEpoch, feeEpoch, true)
	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
}
