package populate

import (
	"math"

	"github.com/thusd-labs/thusd-go/pkg/transport"
)

// GasAdjustment transforms a raw gas estimate into the limit a transaction is sent with.
type GasAdjustment func(estimate uint64) uint64

// AddGasForBaseRateUpdate covers updating lastFeeOperationTime plus decaying the base
// rate over up to maxMinutesSinceLastUpdate minutes, whose cost grows with log2 of the
// elapsed minutes.
func AddGasForBaseRateUpdate(maxMinutesSinceLastUpdate uint64) GasAdjustment {
	extra := 10_000 + 1_414*uint64(math.Ceil(math.Log2(float64(maxMinutesSinceLastUpdate+1))))
	return func(gas uint64) uint64 {
		return gas + extra
	}
}

// AddGasForPotentialListTraversal covers up to three extra steps through the sorted
// list when the hints went stale.
func AddGasForPotentialListTraversal(gas uint64) uint64 {
	return gas + 80_000
}

// withBuffer applies adjustments in order, then the transport's standard buffer.
func withBuffer(adjustments ...GasAdjustment) GasAdjustment {
	return func(gas uint64) uint64 {
		for _, adjust := range adjustments {
			gas = adjust(gas)
		}
		return transport.AddGasBuffer(gas)
	}
}
