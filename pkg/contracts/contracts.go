package contracts

import (
	"fmt"

	"github.com/thusd-labs/thusd-go/pkg/chainManager"
	"github.com/thusd-labs/thusd-go/pkg/deployments"
)

// Contracts is the full set of protocol contracts of one deployment.
type Contracts struct {
	ActivePool         *Contract
	BorrowerOperations *Contract
	CollSurplusPool    *Contract
	DefaultPool        *Contract
	Erc20              *Contract
	GasPool            *Contract
	HintHelpers        *Contract
	MultiTroveGetter   *Contract
	PCV                *Contract
	PriceFeed          *Contract
	SortedTroves       *Contract
	StabilityPool      *Contract
	THUSDToken         *Contract
	TroveManager       *Contract
}

// NewContracts binds every required contract key. It fails when an address or an ABI
// is missing for any of them.
func NewContracts(
	addresses deployments.Addresses,
	abis ABIs,
	backend chainManager.EthClientInterface,
) (*Contracts, error) {
	if err := addresses.Validate(); err != nil {
		return nil, err
	}
	bound := make(map[deployments.ContractKey]*Contract, len(deployments.RequiredContractKeys))
	for _, key := range deployments.RequiredContractKeys {
		parsed, ok := abis[key]
		if !ok || parsed == nil {
			return nil, fmt.Errorf("%w: %s", ErrMissingABI, key)
		}
		bound[key] = NewContract(key, addresses[key], parsed, backend)
	}
	return &Contracts{
		ActivePool:         bound[deployments.ActivePool],
		BorrowerOperations: bound[deployments.BorrowerOperations],
		CollSurplusPool:    bound[deployments.CollSurplusPool],
		DefaultPool:        bound[deployments.DefaultPool],
		Erc20:              bound[deployments.Erc20],
		GasPool:            bound[deployments.GasPool],
		HintHelpers:        bound[deployments.HintHelpers],
		MultiTroveGetter:   bound[deployments.MultiTroveGetter],
		PCV:                bound[deployments.PCV],
		PriceFeed:          bound[deployments.PriceFeed],
		SortedTroves:       bound[deployments.SortedTroves],
		StabilityPool:      bound[deployments.StabilityPool],
		THUSDToken:         bound[deployments.THUSDToken],
		TroveManager:       bound[deployments.TroveManager],
	}, nil
}

// ByKey returns the contract bound for key, or nil.
func (c *Contracts) ByKey(key deployments.ContractKey) *Contract {
	for _, contract := range c.All() {
		if contract.Name() == key {
			return contract
		}
	}
	return nil
}

// All returns every bound contract in RequiredContractKeys order.
func (c *Contracts) All() []*Contract {
	return []*Contract{
		c.ActivePool,
		c.BorrowerOperations,
		c.CollSurplusPool,
		c.DefaultPool,
		c.Erc20,
		c.GasPool,
		c.HintHelpers,
		c.MultiTroveGetter,
		c.PCV,
		c.PriceFeed,
		c.SortedTroves,
		c.StabilityPool,
		c.THUSDToken,
		c.TroveManager,
	}
}

// Addresses returns the address set the contracts are bound to.
func (c *Contracts) Addresses() deployments.Addresses {
	out := make(deployments.Addresses, len(deployments.RequiredContractKeys))
	for _, contract := range c.All() {
		out[contract.Name()] = contract.Address()
	}
	return out
}
