// Package connection binds a deployment descriptor to a provider and optional signer.
// A Connection is immutable once built and can only be obtained from Connect or
// ConnectByChainID.
package connection

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/thusd-labs/thusd-go/pkg/chainManager"
	"github.com/thusd-labs/thusd-go/pkg/contracts"
	"github.com/thusd-labs/thusd-go/pkg/deployments"
	"github.com/thusd-labs/thusd-go/pkg/multicall"
	"github.com/thusd-labs/thusd-go/pkg/networks"
	"github.com/thusd-labs/thusd-go/pkg/txSigner"
)

// UseStoreBlockPolled selects the block polled snapshot store.
const UseStoreBlockPolled = "blockPolled"

var validUseStore = map[string]bool{
	"":                  true,
	UseStoreBlockPolled: true,
}

var (
	// ErrInvalidUseStore is returned for an unrecognised store selection
	ErrInvalidUseStore = errors.New("invalid useStore value")
	// ErrSignerRequired is returned by operations that need a signer on a read-only connection
	ErrSignerRequired = errors.New("connection has no signer")
	// ErrUserAddressRequired is returned when no address was passed and the connection has no default user
	ErrUserAddressRequired = errors.New("an address is required when the connection has no user address")
	// ErrConflictingUserAddress is returned when an explicit user address is combined with a signer
	ErrConflictingUserAddress = errors.New("cannot combine an explicit userAddress with a signer")
	// ErrProviderRequired is returned when no provider is passed
	ErrProviderRequired = errors.New("a provider is required")
)

// Params are the optional connection parameters.
type Params struct {
	// UserAddress is the default account of unqualified account reads
	UserAddress *common.Address
	// UseStore selects a snapshot store; empty for none
	UseStore string
}

func (p *Params) validate() error {
	if !validUseStore[p.UseStore] {
		return fmt.Errorf("%w: %q", ErrInvalidUseStore, p.UseStore)
	}
	return nil
}

// Connection is one deployment bound to a provider, and optionally a signer.
type Connection struct {
	provider    chainManager.EthClientInterface
	signer      txSigner.ITransactionSigner
	network     networks.Network
	descriptor  *deployments.Descriptor
	contracts   *contracts.Contracts
	multicall   *multicall.Gateway
	userAddress *common.Address
	useStore    string
}

// ConnectByChainID builds a connection for a known chain ID.
//
// Parameters:
//   - descriptor: the deployment to connect to, which must belong to chainID
//   - abis: contract ABIs by key; nil selects the bundled ABIs
//   - provider: the RPC provider
//   - signer: optional; its address becomes the connection's user address
//   - chainID: the chain ID the provider serves
//   - params: optional parameters, may be nil
//
// Returns:
//   - *Connection: the connection
//   - error: a configuration or precondition error; no RPC is made
func ConnectByChainID(
	descriptor *deployments.Descriptor,
	abis contracts.ABIs,
	provider chainManager.EthClientInterface,
	signer txSigner.ITransactionSigner,
	chainID uint64,
	params *Params,
) (*Connection, error) {
	merged := Params{}
	if params != nil {
		merged = *params
	}
	if err := merged.validate(); err != nil {
		return nil, err
	}
	if provider == nil {
		return nil, ErrProviderRequired
	}
	if descriptor == nil {
		return nil, fmt.Errorf("%w: no deployment descriptor", deployments.ErrMissingAddress)
	}
	network, err := networks.Lookup(chainID)
	if err != nil {
		return nil, err
	}
	if descriptor.ChainID != chainID {
		return nil, fmt.Errorf("%w: deployment is for chain %d, provider serves %d",
			chainManager.ErrChainIDMismatch, descriptor.ChainID, chainID)
	}

	if signer != nil {
		signerAddress, err := signer.GetAddress()
		if err != nil {
			return nil, fmt.Errorf("failed to get signer address: %w", err)
		}
		if merged.UserAddress != nil && *merged.UserAddress != signerAddress {
			return nil, fmt.Errorf("%w: %s is not the signer's address %s",
				ErrConflictingUserAddress, merged.UserAddress.Hex(), signerAddress.Hex())
		}
		merged.UserAddress = &signerAddress
	}

	if abis == nil {
		abis, err = contracts.DefaultABIs()
		if err != nil {
			return nil, err
		}
	}
	bound, err := contracts.NewContracts(descriptor.Addresses, abis, provider)
	if err != nil {
		return nil, err
	}

	var gateway *multicall.Gateway
	if network.Multicall != nil {
		multicallABI, ok := abis[contracts.MulticallKey]
		if !ok || multicallABI == nil {
			return nil, fmt.Errorf("%w: %s", contracts.ErrMissingABI, contracts.MulticallKey)
		}
		gateway = multicall.NewGateway(*network.Multicall, multicallABI, provider)
	}

	var userAddress *common.Address
	if merged.UserAddress != nil {
		addr := *merged.UserAddress
		userAddress = &addr
	}

	return &Connection{
		provider:    provider,
		signer:      signer,
		network:     network,
		descriptor:  descriptor,
		contracts:   bound,
		multicall:   gateway,
		userAddress: userAddress,
		useStore:    merged.UseStore,
	}, nil
}

// Connect resolves the chain ID from the provider and builds the connection. A signer
// supplies the user address, so passing params.UserAddress together with a signer fails
// before any RPC is made.
func Connect(
	ctx context.Context,
	descriptor *deployments.Descriptor,
	abis contracts.ABIs,
	provider chainManager.EthClientInterface,
	signer txSigner.ITransactionSigner,
	params *Params,
) (*Connection, error) {
	if signer != nil && params != nil && params.UserAddress != nil {
		return nil, ErrConflictingUserAddress
	}
	if params != nil {
		if err := params.validate(); err != nil {
			return nil, err
		}
	}
	if provider == nil {
		return nil, ErrProviderRequired
	}
	chainID, err := provider.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get chain ID: %w", err)
	}
	if !chainID.IsUint64() {
		return nil, fmt.Errorf("chain ID %s out of range", chainID)
	}
	return ConnectByChainID(descriptor, abis, provider, signer, chainID.Uint64(), params)
}

func (c *Connection) Provider() chainManager.EthClientInterface { return c.provider }

// Signer returns the signer, or nil for a read-only connection.
func (c *Connection) Signer() txSigner.ITransactionSigner { return c.signer }

func (c *Connection) ChainID() uint64     { return c.network.ChainID }
func (c *Connection) NetworkName() string { return c.network.Name }
func (c *Connection) Version() string     { return c.descriptor.Version }
func (c *Connection) StartBlock() uint64  { return c.descriptor.StartBlock }
func (c *Connection) UseStore() string    { return c.useStore }
func (c *Connection) IsDev() bool         { return c.descriptor.IsDev }
func (c *Connection) PriceFeedIsTestnet() bool {
	return c.descriptor.PriceFeedIsTestnet
}

// DeploymentDate is when the deployment was made.
func (c *Connection) DeploymentDate() time.Time { return c.descriptor.DeploymentTime() }

// Addresses returns a copy of the deployed contract addresses.
func (c *Connection) Addresses() deployments.Addresses {
	return c.contracts.Addresses()
}

// UserAddress returns the default account, if any.
func (c *Connection) UserAddress() (common.Address, bool) {
	if c.userAddress == nil {
		return common.Address{}, false
	}
	return *c.userAddress, true
}

// CollateralToken returns the ERC-20 collateral token address; the zero address means
// native ETH collateral.
func (c *Connection) CollateralToken() common.Address {
	return c.contracts.Erc20.Address()
}

// IsNativeCollateral reports whether the deployment is collateralised by ETH.
func (c *Connection) IsNativeCollateral() bool {
	return c.CollateralToken() == (common.Address{})
}

// Contracts returns the bound contracts. It is meant for the client's own layers.
func (c *Connection) Contracts() *contracts.Contracts { return c.contracts }

// Multicall returns the batched read gateway, or nil when the network has none.
func (c *Connection) Multicall() *multicall.Gateway { return c.multicall }

// ResolveAddress returns address when set, else the default user address.
func (c *Connection) ResolveAddress(address *common.Address) (common.Address, error) {
	if address != nil {
		return *address, nil
	}
	if c.userAddress == nil {
		return common.Address{}, ErrUserAddressRequired
	}
	return *c.userAddress, nil
}

// RequireSigner returns the signer or ErrSignerRequired.
func (c *Connection) RequireSigner() (txSigner.ITransactionSigner, error) {
	if c.signer == nil {
		return nil, ErrSignerRequired
	}
	return c.signer, nil
}
