package store

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/thusd-labs/thusd-go/pkg/domain"
	"github.com/thusd-labs/thusd-go/pkg/readable"
)

// CachedClient serves reads from the store's current snapshot when the request is
// compatible with it and delegates to the plain client otherwise.
//
// A global read hits when it is unpinned or pinned to the snapshot's block. An account
// read additionally requires the address to be absent or equal to the connection's
// default user. Trove listings are always read live.
type CachedClient struct {
	plain *readable.PlainClient
	store *BlockPolledStore
}

var _ readable.ReadableClient = (*CachedClient)(nil)

func NewCachedClient(plain *readable.PlainClient, store *BlockPolledStore) *CachedClient {
	return &CachedClient{plain: plain, store: store}
}

func (c *CachedClient) Store() *BlockPolledStore {
	return c.store
}

func (c *CachedClient) blockHit(overrides *readable.CallOverrides) (*readable.Snapshot, bool) {
	snapshot := c.store.Snapshot()
	if snapshot == nil {
		return nil, false
	}
	if overrides == nil || overrides.BlockTag == nil {
		return snapshot, true
	}
	if overrides.BlockTag.IsUint64() && overrides.BlockTag.Uint64() == snapshot.BlockTag {
		return snapshot, true
	}
	return nil, false
}

func (c *CachedClient) userHit(address *common.Address, overrides *readable.CallOverrides) (*readable.UserSnapshot, bool) {
	snapshot, ok := c.blockHit(overrides)
	if !ok || snapshot.User == nil {
		return nil, false
	}
	if address == nil || *address == snapshot.User.Address {
		return snapshot.User, true
	}
	return nil, false
}

func (c *CachedClient) GetTotalRedistributed(ctx context.Context, overrides *readable.CallOverrides) (domain.Trove, error) {
	if s, ok := c.blockHit(overrides); ok {
		return s.TotalRedistributed, nil
	}
	return c.plain.GetTotalRedistributed(ctx, overrides)
}

func (c *CachedClient) GetTroveBeforeRedistribution(ctx context.Context, address *common.Address, overrides *readable.CallOverrides) (domain.TroveWithPendingRedistribution, error) {
	if u, ok := c.userHit(address, overrides); ok {
		return u.TroveBeforeRedistribution, nil
	}
	return c.plain.GetTroveBeforeRedistribution(ctx, address, overrides)
}

func (c *CachedClient) GetTrove(ctx context.Context, address *common.Address, overrides *readable.CallOverrides) (domain.UserTrove, error) {
	if u, ok := c.userHit(address, overrides); ok {
		return u.Trove, nil
	}
	return c.plain.GetTrove(ctx, address, overrides)
}

func (c *CachedClient) GetNumberOfTroves(ctx context.Context, overrides *readable.CallOverrides) (uint64, error) {
	if s, ok := c.blockHit(overrides); ok {
		return s.NumberOfTroves, nil
	}
	return c.plain.GetNumberOfTroves(ctx, overrides)
}

func (c *CachedClient) GetPrice(ctx context.Context, overrides *readable.CallOverrides) (domain.Decimal, error) {
	if s, ok := c.blockHit(overrides); ok {
		return s.Price, nil
	}
	return c.plain.GetPrice(ctx, overrides)
}

func (c *CachedClient) GetTotal(ctx context.Context, overrides *readable.CallOverrides) (domain.Trove, error) {
	if s, ok := c.blockHit(overrides); ok {
		return s.Total, nil
	}
	return c.plain.GetTotal(ctx, overrides)
}

func (c *CachedClient) GetStabilityDeposit(ctx context.Context, address *common.Address, overrides *readable.CallOverrides) (domain.StabilityDeposit, error) {
	if u, ok := c.userHit(address, overrides); ok {
		return u.StabilityDeposit, nil
	}
	return c.plain.GetStabilityDeposit(ctx, address, overrides)
}

func (c *CachedClient) GetTHUSDInStabilityPool(ctx context.Context, overrides *readable.CallOverrides) (domain.Decimal, error) {
	if s, ok := c.blockHit(overrides); ok {
		return s.THUSDInStabilityPool, nil
	}
	return c.plain.GetTHUSDInStabilityPool(ctx, overrides)
}

func (c *CachedClient) GetTHUSDBalance(ctx context.Context, address *common.Address, overrides *readable.CallOverrides) (domain.Decimal, error) {
	if u, ok := c.userHit(address, overrides); ok {
		return u.THUSDBalance, nil
	}
	return c.plain.GetTHUSDBalance(ctx, address, overrides)
}

func (c *CachedClient) GetCollateralBalance(ctx context.Context, address *common.Address, overrides *readable.CallOverrides) (domain.Decimal, error) {
	if u, ok := c.userHit(address, overrides); ok {
		return u.CollateralBalance, nil
	}
	return c.plain.GetCollateralBalance(ctx, address, overrides)
}

func (c *CachedClient) GetErc20TokenAllowance(ctx context.Context, address *common.Address, overrides *readable.CallOverrides) (domain.Decimal, error) {
	if u, ok := c.userHit(address, overrides); ok {
		return u.Erc20TokenAllowance, nil
	}
	return c.plain.GetErc20TokenAllowance(ctx, address, overrides)
}

func (c *CachedClient) GetCollateralSurplusBalance(ctx context.Context, address *common.Address, overrides *readable.CallOverrides) (domain.Decimal, error) {
	if u, ok := c.userHit(address, overrides); ok {
		return u.CollateralSurplusBalance, nil
	}
	return c.plain.GetCollateralSurplusBalance(ctx, address, overrides)
}

func (c *CachedClient) GetPCVBalance(ctx context.Context, overrides *readable.CallOverrides) (domain.Decimal, error) {
	if s, ok := c.blockHit(overrides); ok {
		return s.PCVBalance, nil
	}
	return c.plain.GetPCVBalance(ctx, overrides)
}

func (c *CachedClient) GetSymbol(ctx context.Context, overrides *readable.CallOverrides) (string, error) {
	if s, ok := c.blockHit(overrides); ok {
		return s.Symbol, nil
	}
	return c.plain.GetSymbol(ctx, overrides)
}

func (c *CachedClient) GetCollateralAddress(ctx context.Context, overrides *readable.CallOverrides) (common.Address, error) {
	if s, ok := c.blockHit(overrides); ok {
		return s.CollateralAddress, nil
	}
	return c.plain.GetCollateralAddress(ctx, overrides)
}

func (c *CachedClient) CheckMintList(ctx context.Context, overrides *readable.CallOverrides) (bool, error) {
	if s, ok := c.blockHit(overrides); ok {
		return s.MintList, nil
	}
	return c.plain.CheckMintList(ctx, overrides)
}

func (c *CachedClient) GetFees(ctx context.Context, overrides *readable.CallOverrides) (domain.Fees, error) {
	if s, ok := c.blockHit(overrides); ok {
		return s.Fees, nil
	}
	return c.plain.GetFees(ctx, overrides)
}

func (c *CachedClient) GetBlockTimestamp(ctx context.Context, overrides *readable.CallOverrides) (uint64, error) {
	if s, ok := c.blockHit(overrides); ok {
		return s.BlockTimestamp, nil
	}
	return c.plain.GetBlockTimestamp(ctx, overrides)
}

func (c *CachedClient) GetTroves(ctx context.Context, params readable.TroveListingParams, overrides *readable.CallOverrides) ([]domain.UserTrove, error) {
	return c.plain.GetTroves(ctx, params, overrides)
}

func (c *CachedClient) GetTrovesBeforeRedistribution(ctx context.Context, params readable.TroveListingParams, overrides *readable.CallOverrides) ([]domain.TroveWithPendingRedistribution, error) {
	return c.plain.GetTrovesBeforeRedistribution(ctx, params, overrides)
}
