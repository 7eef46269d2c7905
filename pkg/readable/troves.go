package readable

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/thusd-labs/thusd-go/pkg/domain"
	"github.com/thusd-labs/thusd-go/pkg/multicall"
)

// SortOrder is the order troves are listed in.
type SortOrder string

const (
	AscendingCollateralRatio  SortOrder = "ascendingCollateralRatio"
	DescendingCollateralRatio SortOrder = "descendingCollateralRatio"
)

var (
	// ErrInvalidPagination is returned for negative listing bounds
	ErrInvalidPagination = errors.New("pagination arguments must be non-negative integers")
	// ErrInvalidSortKey is returned for an unknown sort order
	ErrInvalidSortKey = errors.New("sortedBy must be one of ascendingCollateralRatio or descendingCollateralRatio")
)

// TroveListingParams selects a page of the sorted trove list.
type TroveListingParams struct {
	// First is the number of troves to return
	First int
	// StartingAt is the number of troves to skip
	StartingAt int
	SortedBy   SortOrder
}

func (p TroveListingParams) validate() error {
	if p.First < 0 {
		return fmt.Errorf("%w: first = %d", ErrInvalidPagination, p.First)
	}
	if p.StartingAt < 0 {
		return fmt.Errorf("%w: startingAt = %d", ErrInvalidPagination, p.StartingAt)
	}
	switch p.SortedBy {
	case AscendingCollateralRatio, DescendingCollateralRatio:
		return nil
	default:
		return fmt.Errorf("%w: got %q", ErrInvalidSortKey, p.SortedBy)
	}
}

// startIdx is the MultiTroveGetter start index. Non-negative indices walk the sorted
// list from its head (highest collateral ratio) and negative ones from its tail, with -1
// being the last trove.
func (p TroveListingParams) startIdx() *big.Int {
	if p.SortedBy == DescendingCollateralRatio {
		return big.NewInt(int64(p.StartingAt))
	}
	return big.NewInt(-int64(p.StartingAt) - 1)
}

type combinedTroveData struct {
	Owner              common.Address
	Debt               *big.Int
	Coll               *big.Int
	Stake              *big.Int
	SnapshotCollateral *big.Int
	SnapshotTHUSDDebt  *big.Int
}

func (c *PlainClient) sortedTrovesQuery(params TroveListingParams) query[[]domain.TroveWithPendingRedistribution] {
	call := multicall.ContractCall(
		c.conn.Contracts().MultiTroveGetter,
		"getMultipleSortedTroves",
		params.startIdx(),
		big.NewInt(int64(params.First)),
	)
	return single(call, func(out []any) ([]domain.TroveWithPendingRedistribution, error) {
		raw := *abi.ConvertType(out[0], new([]combinedTroveData)).(*[]combinedTroveData)
		troves := make([]domain.TroveWithPendingRedistribution, len(raw))
		for i, t := range raw {
			troves[i] = domain.TroveWithPendingRedistribution{
				UserTrove: domain.UserTrove{
					Trove: domain.Trove{
						Collateral: domain.DecimalFromBigInt(t.Coll),
						Debt:       domain.DecimalFromBigInt(t.Debt),
					},
					OwnerAddress: t.Owner,
					Status:       domain.TroveOpen,
				},
				Stake: domain.DecimalFromBigInt(t.Stake),
				SnapshotOfTotalRedistributed: domain.Trove{
					Collateral: domain.DecimalFromBigInt(t.SnapshotCollateral),
					Debt:       domain.DecimalFromBigInt(t.SnapshotTHUSDDebt),
				},
			}
		}
		return troves, nil
	})
}

// GetTrovesBeforeRedistribution lists troves as stored, without pending redistribution.
// Invalid params fail before any RPC is made.
func (c *PlainClient) GetTrovesBeforeRedistribution(
	ctx context.Context,
	params TroveListingParams,
	overrides *CallOverrides,
) ([]domain.TroveWithPendingRedistribution, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}
	return run(ctx, c, overrides, c.sortedTrovesQuery(params))
}

// GetTroves lists troves with pending redistribution applied. Invalid params fail before
// any RPC is made.
func (c *PlainClient) GetTroves(
	ctx context.Context,
	params TroveListingParams,
	overrides *CallOverrides,
) ([]domain.UserTrove, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}
	q := compose(func(b *batch) func() ([]domain.UserTrove, error) {
		var stored []domain.TroveWithPendingRedistribution
		var totalRedistributed domain.Trove
		add(b, c.sortedTrovesQuery(params), &stored)
		add(b, c.totalRedistributedQuery(), &totalRedistributed)
		return func() ([]domain.UserTrove, error) {
			troves := make([]domain.UserTrove, len(stored))
			for i, t := range stored {
				troves[i] = t.ApplyRedistribution(totalRedistributed)
			}
			return troves, nil
		}
	})
	return run(ctx, c, overrides, q)
}
