package readable

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/thusd-labs/thusd-go/pkg/domain"
)

// Snapshot is the protocol state as of one block. Every field is read at BlockTag.
type Snapshot struct {
	BlockTag             uint64
	BlockTimestamp       uint64
	Price                domain.Decimal
	Total                domain.Trove
	TotalRedistributed   domain.Trove
	NumberOfTroves       uint64
	THUSDInStabilityPool domain.Decimal
	PCVBalance           domain.Decimal
	Symbol               string
	CollateralAddress    common.Address
	MintList             bool
	Fees                 domain.Fees
	// User is the state of the connection's default account, nil when there is none
	User *UserSnapshot
}

// UserSnapshot is the account scoped part of a Snapshot.
type UserSnapshot struct {
	Address                   common.Address
	TroveBeforeRedistribution domain.TroveWithPendingRedistribution
	Trove                     domain.UserTrove
	StabilityDeposit          domain.StabilityDeposit
	THUSDBalance              domain.Decimal
	CollateralBalance         domain.Decimal
	Erc20TokenAllowance       domain.Decimal
	CollateralSurplusBalance  domain.Decimal
}

// FetchSnapshot reads the complete state set at block in a single batch. Account
// fields are filled for the connection's default user, if any.
func (c *PlainClient) FetchSnapshot(ctx context.Context, block uint64) (*Snapshot, error) {
	s := &Snapshot{BlockTag: block}
	var fees feeState

	b := &batch{}
	add(b, c.blockTimestampQuery(), &s.BlockTimestamp)
	add(b, c.priceQuery(), &s.Price)
	add(b, c.totalQuery(), &s.Total)
	add(b, c.totalRedistributedQuery(), &s.TotalRedistributed)
	add(b, c.numberOfTrovesQuery(), &s.NumberOfTroves)
	add(b, c.thusdInStabilityPoolQuery(), &s.THUSDInStabilityPool)
	add(b, c.pcvBalanceQuery(), &s.PCVBalance)
	add(b, c.symbolQuery(), &s.Symbol)
	add(b, c.collateralAddressQuery(), &s.CollateralAddress)
	add(b, c.mintListQuery(), &s.MintList)
	add(b, c.feeStateQuery(), &fees)

	if owner, ok := c.conn.UserAddress(); ok {
		u := &UserSnapshot{Address: owner}
		add(b, c.troveBeforeRedistributionQuery(owner), &u.TroveBeforeRedistribution)
		add(b, c.stabilityDepositQuery(owner), &u.StabilityDeposit)
		add(b, c.thusdBalanceQuery(owner), &u.THUSDBalance)
		add(b, c.collateralBalanceQuery(owner), &u.CollateralBalance)
		add(b, c.erc20AllowanceQuery(owner), &u.Erc20TokenAllowance)
		add(b, c.collateralSurplusQuery(owner), &u.CollateralSurplusBalance)
		s.User = u
	}

	if err := b.execute(ctx, c.conn.Multicall(), new(big.Int).SetUint64(block)); err != nil {
		return nil, err
	}

	s.Fees = makeFees(fees, s.Total, s.Price, s.BlockTimestamp)
	if s.User != nil {
		s.User.Trove = s.User.TroveBeforeRedistribution.ApplyRedistribution(s.TotalRedistributed)
	}
	return s, nil
}
