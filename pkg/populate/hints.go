package populate

import (
	"context"
	"fmt"
	"math"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/thusd-labs/thusd-go/pkg/domain"
	"github.com/thusd-labs/thusd-go/pkg/util"
)

// maxTrialsAtOnce bounds the trials of one getApproxHint call so that it stays below
// the provider's gas cap for eth_call.
const maxTrialsAtOnce = 2500

// generateTrials splits total into chunks of at most maxTrialsAtOnce.
func generateTrials(total uint64) []uint64 {
	chunks := make([]uint64, 0, total/maxTrialsAtOnce+1)
	for total >= maxTrialsAtOnce {
		chunks = append(chunks, maxTrialsAtOnce)
		total -= maxTrialsAtOnce
	}
	if total > 0 {
		chunks = append(chunks, total)
	}
	return chunks
}

// numberOfTrials is ceil(10*sqrt(n)).
func numberOfTrials(numberOfTroves uint64) uint64 {
	return uint64(math.Ceil(10 * math.Sqrt(float64(numberOfTroves))))
}

type approxHint struct {
	address common.Address
	diff    *big.Int
}

// Hints are the neighbours a trove is inserted between in the sorted list.
type Hints struct {
	Upper common.Address
	Lower common.Address
}

func (p *Populator) findHints(ctx context.Context, trove domain.Trove, own *common.Address) (Hints, error) {
	return p.findHintsForNominalCollateralRatio(ctx, trove.NominalCollateralRatio(), own)
}

// findHintsForNominalCollateralRatio samples the sorted list through HintHelpers, keeps
// the closest sample and refines it into an exact insert position. own is the trove
// being reinserted, which cannot serve as its own hint.
func (p *Populator) findHintsForNominalCollateralRatio(ctx context.Context, nicr domain.Decimal, own *common.Address) (Hints, error) {
	n, err := p.reader.GetNumberOfTroves(ctx, nil)
	if err != nil {
		return Hints{}, err
	}
	if n == 0 {
		return Hints{}, nil
	}

	opts := &bind.CallOpts{Context: ctx}
	sorted := p.contracts.SortedTroves
	if nicr.IsInfinite() {
		out, err := sorted.Call(opts, "getFirst")
		if err != nil {
			return Hints{}, err
		}
		return Hints{Lower: out[0].(common.Address)}, nil
	}

	seed := new(big.Int).SetUint64(p.cfg.RandomSeed())
	var results []approxHint
	for _, trials := range generateTrials(numberOfTrials(n)) {
		out, err := p.contracts.HintHelpers.Call(opts, "getApproxHint", nicr.BigInt(), new(big.Int).SetUint64(trials), seed)
		if err != nil {
			return Hints{}, err
		}
		results = append(results, approxHint{address: out[0].(common.Address), diff: out[1].(*big.Int)})
		seed = out[2].(*big.Int)
	}
	best := util.MinBy(results, func(a, b approxHint) bool { return a.diff.Cmp(b.diff) < 0 })

	out, err := sorted.Call(opts, "findInsertPosition", nicr.BigInt(), best.address, best.address)
	if err != nil {
		return Hints{}, err
	}
	prev, next := out[0].(common.Address), out[1].(common.Address)

	if own != nil {
		if prev == *own {
			if prev, err = p.neighbour(opts, "getPrev", prev); err != nil {
				return Hints{}, err
			}
		} else if next == *own {
			if next, err = p.neighbour(opts, "getNext", next); err != nil {
				return Hints{}, err
			}
		}
	}

	// the zero address as a hint makes the contract walk the whole list
	if prev == (common.Address{}) {
		prev = next
	} else if next == (common.Address{}) {
		next = prev
	}
	p.logger.Sugar().Debugw("found hints",
		"nicr", nicr.String(),
		"trials", numberOfTrials(n),
		"upper", prev.Hex(),
		"lower", next.Hex(),
	)
	return Hints{Upper: prev, Lower: next}, nil
}

func (p *Populator) neighbour(opts *bind.CallOpts, method string, id common.Address) (common.Address, error) {
	out, err := p.contracts.SortedTroves.Call(opts, method, id)
	if err != nil {
		return common.Address{}, err
	}
	return out[0].(common.Address), nil
}

type redemptionHints struct {
	truncatedAmount     domain.Decimal
	firstRedemptionHint common.Address
	partial             Hints
	partialNICR         domain.Decimal
}

func (p *Populator) findRedemptionHints(ctx context.Context, amount domain.Decimal) (redemptionHints, error) {
	price, err := p.reader.GetPrice(ctx, nil)
	if err != nil {
		return redemptionHints{}, err
	}
	out, err := p.contracts.HintHelpers.Call(&bind.CallOpts{Context: ctx}, "getRedemptionHints",
		amount.BigInt(),
		price.BigInt(),
		new(big.Int).SetUint64(p.cfg.RedeemMaxIterations),
	)
	if err != nil {
		return redemptionHints{}, fmt.Errorf("failed to get redemption hints: %w", err)
	}
	hints := redemptionHints{
		firstRedemptionHint: out[0].(common.Address),
		partialNICR:         domain.DecimalFromBigInt(out[1].(*big.Int)),
		truncatedAmount:     domain.DecimalFromBigInt(out[2].(*big.Int)),
	}
	if !hints.partialNICR.IsZero() {
		if hints.partial, err = p.findHintsForNominalCollateralRatio(ctx, hints.partialNICR, nil); err != nil {
			return redemptionHints{}, err
		}
	}
	return hints, nil
}
