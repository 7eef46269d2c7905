package fixture

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/thusd-labs/thusd-go/internal/testutil/fakechain"
	"github.com/thusd-labs/thusd-go/pkg/deployments"
	"github.com/thusd-labs/thusd-go/pkg/domain"
)

type combinedTroveData struct {
	Owner              common.Address
	Debt               *big.Int
	Coll               *big.Int
	Stake              *big.Int
	SnapshotCollateral *big.Int
	SnapshotTHUSDDebt  *big.Int
}

func big0() *big.Int { return new(big.Int) }

func noOutputs(fakechain.Call) ([]any, error) { return []any{}, nil }

func arg(call fakechain.Call, i int) common.Address {
	return call.Args[i].(common.Address)
}

func (p *Protocol) deploy() {
	for _, key := range deployments.RequiredContractKeys {
		addr := p.Address(key)
		if addr == (common.Address{}) {
			continue
		}
		p.Chain.Deploy(addr, p.ABIs[key])
	}

	p.handleValue(deployments.ActivePool, "getCollateralBalance", func(s *State, _ fakechain.Call) any { return s.ActivePool.Collateral.BigInt() })
	p.handleValue(deployments.ActivePool, "getTHUSDDebt", func(s *State, _ fakechain.Call) any { return s.ActivePool.Debt.BigInt() })
	p.handleValue(deployments.DefaultPool, "getCollateralBalance", func(s *State, _ fakechain.Call) any { return s.DefaultPool.Collateral.BigInt() })
	p.handleValue(deployments.DefaultPool, "getTHUSDDebt", func(s *State, _ fakechain.Call) any { return s.DefaultPool.Debt.BigInt() })

	p.handleValue(deployments.PriceFeed, "fetchPrice", func(s *State, c fakechain.Call) any { return s.PriceAt(c.Block).BigInt() })
	p.handleValue(deployments.PriceFeed, "lastGoodPrice", func(s *State, c fakechain.Call) any { return s.PriceAt(c.Block).BigInt() })

	tm := p.Address(deployments.TroveManager)
	p.handleValue(deployments.TroveManager, "L_Collateral", func(s *State, _ fakechain.Call) any { return s.TotalRedistributed.Collateral.BigInt() })
	p.handleValue(deployments.TroveManager, "L_THUSDDebt", func(s *State, _ fakechain.Call) any { return s.TotalRedistributed.Debt.BigInt() })
	p.handleValue(deployments.TroveManager, "getTroveOwnersCount", func(s *State, _ fakechain.Call) any { return big.NewInt(int64(len(s.Sorted))) })
	p.handleValue(deployments.TroveManager, "baseRate", func(s *State, _ fakechain.Call) any { return s.BaseRate.BigInt() })
	p.handleValue(deployments.TroveManager, "lastFeeOperationTime", func(s *State, _ fakechain.Call) any {
		return new(big.Int).SetUint64(s.LastFeeOperationTime)
	})
	p.Chain.Handle(tm, "Troves", func(call fakechain.Call) ([]any, error) {
		return p.read(func(s *State) []any {
			t, ok := s.Troves[arg(call, 0)]
			if !ok {
				return []any{big0(), big0(), big0(), uint8(domain.TroveNonExistent), big0()}
			}
			return []any{t.Trove.Debt.BigInt(), t.Trove.Collateral.BigInt(), t.Stake.BigInt(), uint8(t.Status), big0()}
		}), nil
	})
	p.Chain.Handle(tm, "rewardSnapshots", func(call fakechain.Call) ([]any, error) {
		return p.read(func(s *State) []any {
			t := s.Troves[arg(call, 0)]
			return []any{t.Snapshot.Collateral.BigInt(), t.Snapshot.Debt.BigInt()}
		}), nil
	})
	for _, method := range []string{"liquidate", "liquidateTroves", "batchLiquidateTroves", "redeemCollateral"} {
		p.Chain.Handle(tm, method, noOutputs)
	}

	p.Chain.Handle(p.Address(deployments.MultiTroveGetter), "getMultipleSortedTroves", func(call fakechain.Call) ([]any, error) {
		startIdx := call.Args[0].(*big.Int).Int64()
		count := call.Args[1].(*big.Int).Int64()
		return p.read(func(s *State) []any {
			var owners []common.Address
			if startIdx >= 0 {
				for i := startIdx; i < int64(len(s.Sorted)) && int64(len(owners)) < count; i++ {
					owners = append(owners, s.Sorted[i])
				}
			} else {
				for i := int64(len(s.Sorted)) + startIdx; i >= 0 && int64(len(owners)) < count; i-- {
					owners = append(owners, s.Sorted[i])
				}
			}
			out := make([]combinedTroveData, len(owners))
			for i, owner := range owners {
				t := s.Troves[owner]
				out[i] = combinedTroveData{
					Owner:              owner,
					Debt:               t.Trove.Debt.BigInt(),
					Coll:               t.Trove.Collateral.BigInt(),
					Stake:              t.Stake.BigInt(),
					SnapshotCollateral: t.Snapshot.Collateral.BigInt(),
					SnapshotTHUSDDebt:  t.Snapshot.Debt.BigInt(),
				}
			}
			return []any{out}
		}), nil
	})

	sp := p.Address(deployments.StabilityPool)
	p.handleValue(deployments.StabilityPool, "deposits", func(s *State, c fakechain.Call) any { return s.Deposits[arg(c, 0)].InitialTHUSD.BigInt() })
	p.handleValue(deployments.StabilityPool, "getCompoundedTHUSDDeposit", func(s *State, c fakechain.Call) any { return s.Deposits[arg(c, 0)].CurrentTHUSD.BigInt() })
	p.handleValue(deployments.StabilityPool, "getDepositorCollateralGain", func(s *State, c fakechain.Call) any { return s.Deposits[arg(c, 0)].CollateralGain.BigInt() })
	p.handleValue(deployments.StabilityPool, "getTotalTHUSDDeposits", func(s *State, _ fakechain.Call) any { return s.THUSDInStabilityPool.BigInt() })
	for _, method := range []string{"provideToSP", "withdrawFromSP", "withdrawCollateralGainToTrove"} {
		p.Chain.Handle(sp, method, noOutputs)
	}

	thusd := p.Address(deployments.THUSDToken)
	p.handleValue(deployments.THUSDToken, "balanceOf", func(s *State, c fakechain.Call) any { return s.THUSDBalances[arg(c, 0)].BigInt() })
	p.handleValue(deployments.THUSDToken, "mintList", func(s *State, c fakechain.Call) any {
		return s.MintList && arg(c, 0) == p.Address(deployments.BorrowerOperations)
	})
	p.handleValue(deployments.THUSDToken, "totalSupply", func(s *State, _ fakechain.Call) any {
		return s.ActivePool.Debt.Add(s.DefaultPool.Debt).BigInt()
	})
	p.Chain.Returns(thusd, "approve", true)

	if token := p.Address(deployments.Erc20); token != (common.Address{}) {
		p.handleValue(deployments.Erc20, "balanceOf", func(s *State, c fakechain.Call) any { return s.TokenBalances[arg(c, 0)].BigInt() })
		p.handleValue(deployments.Erc20, "allowance", func(s *State, c fakechain.Call) any { return s.Allowances[arg(c, 0)].BigInt() })
		p.handleValue(deployments.Erc20, "symbol", func(s *State, _ fakechain.Call) any { return s.Symbol })
		p.Chain.Returns(token, "decimals", uint8(18))
		p.Chain.Returns(token, "approve", true)
	}

	p.handleValue(deployments.CollSurplusPool, "getCollateral", func(s *State, c fakechain.Call) any { return s.CollSurplus[arg(c, 0)].BigInt() })

	bo := p.Address(deployments.BorrowerOperations)
	p.Chain.Returns(bo, "collateralAddress", p.Address(deployments.Erc20))
	for _, method := range []string{"openTrove", "adjustTrove", "closeTrove", "claimCollateral"} {
		p.Chain.Handle(bo, method, noOutputs)
	}

	p.Chain.Returns(p.Address(deployments.PCV), "debtToPay", big0())

	hh := p.Address(deployments.HintHelpers)
	p.Chain.Handle(hh, "getApproxHint", func(call fakechain.Call) ([]any, error) {
		seed := call.Args[2].(*big.Int)
		return p.read(func(s *State) []any {
			hint := common.Address{}
			if len(s.Sorted) > 0 {
				hint = s.Sorted[0]
			}
			return []any{hint, big.NewInt(1), new(big.Int).Add(seed, big.NewInt(1))}
		}), nil
	})
	p.Chain.Handle(hh, "getRedemptionHints", func(call fakechain.Call) ([]any, error) {
		amount := call.Args[0].(*big.Int)
		return p.read(func(s *State) []any {
			first := common.Address{}
			if len(s.Sorted) > 0 {
				first = s.Sorted[len(s.Sorted)-1]
			}
			return []any{first, big.NewInt(1), amount}
		}), nil
	})

	st := p.Address(deployments.SortedTroves)
	p.Chain.Handle(st, "findInsertPosition", func(call fakechain.Call) ([]any, error) {
		return []any{call.Args[1].(common.Address), call.Args[2].(common.Address)}, nil
	})
	p.handleValue(deployments.SortedTroves, "getSize", func(s *State, _ fakechain.Call) any { return big.NewInt(int64(len(s.Sorted))) })
	p.handleValue(deployments.SortedTroves, "getFirst", func(s *State, _ fakechain.Call) any { return neighbour(s.Sorted, 0) })
	p.handleValue(deployments.SortedTroves, "getLast", func(s *State, _ fakechain.Call) any { return neighbour(s.Sorted, len(s.Sorted)-1) })
	p.handleValue(deployments.SortedTroves, "getNext", func(s *State, c fakechain.Call) any {
		i := indexOf(s.Sorted, arg(c, 0))
		if i < 0 {
			return common.Address{}
		}
		return neighbour(s.Sorted, i+1)
	})
	p.handleValue(deployments.SortedTroves, "getPrev", func(s *State, c fakechain.Call) any {
		i := indexOf(s.Sorted, arg(c, 0))
		if i < 0 {
			return common.Address{}
		}
		return neighbour(s.Sorted, i-1)
	})
	p.handleValue(deployments.SortedTroves, "contains", func(s *State, c fakechain.Call) any { return indexOf(s.Sorted, arg(c, 0)) >= 0 })
}

// neighbour returns sorted[i], or the zero address when i is out of range.
func neighbour(sorted []common.Address, i int) common.Address {
	if i < 0 || i >= len(sorted) {
		return common.Address{}
	}
	return sorted[i]
}

func indexOf(sorted []common.Address, owner common.Address) int {
	for i, o := range sorted {
		if o == owner {
			return i
		}
	}
	return -1
}

// handleValue installs a single-output handler reading the state under lock.
func (p *Protocol) handleValue(key deployments.ContractKey, method string, f func(s *State, call fakechain.Call) any) {
	p.Chain.Handle(p.Address(key), method, func(call fakechain.Call) ([]any, error) {
		return p.read(func(s *State) []any { return []any{f(s, call)} }), nil
	})
}
