// Package deployments holds the versioned deployment descriptors of the protocol and
// an explicit registry to look them up by network, version and collateral.
package deployments

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ContractKey names one deployed contract of the protocol.
type ContractKey string

const (
	ActivePool         ContractKey = "activePool"
	BorrowerOperations ContractKey = "borrowerOperations"
	CollSurplusPool    ContractKey = "collSurplusPool"
	DefaultPool        ContractKey = "defaultPool"
	Erc20              ContractKey = "erc20"
	GasPool            ContractKey = "gasPool"
	HintHelpers        ContractKey = "hintHelpers"
	MultiTroveGetter   ContractKey = "multiTroveGetter"
	PCV                ContractKey = "pcv"
	PriceFeed          ContractKey = "priceFeed"
	SortedTroves       ContractKey = "sortedTroves"
	StabilityPool      ContractKey = "stabilityPool"
	THUSDToken         ContractKey = "thusdToken"
	TroveManager       ContractKey = "troveManager"
)

// RequiredContractKeys is the set of contracts every deployment must provide,
// in a stable order.
var RequiredContractKeys = []ContractKey{
	ActivePool,
	BorrowerOperations,
	CollSurplusPool,
	DefaultPool,
	Erc20,
	GasPool,
	HintHelpers,
	MultiTroveGetter,
	PCV,
	PriceFeed,
	SortedTroves,
	StabilityPool,
	THUSDToken,
	TroveManager,
}

var (
	// ErrMissingAddress is returned when a descriptor lacks a required contract address
	ErrMissingAddress = errors.New("missing contract address")
	// ErrInvalidAddress is returned for an address that is not 20 bytes of hex
	ErrInvalidAddress = errors.New("invalid contract address")
)

// Addresses maps each contract key to its deployed address.
type Addresses map[ContractKey]common.Address

// Validate checks that every required key is present.
func (a Addresses) Validate() error {
	if a == nil {
		return fmt.Errorf("%w: no addresses", ErrMissingAddress)
	}
	for _, key := range RequiredContractKeys {
		if _, ok := a[key]; !ok {
			return fmt.Errorf("%w: %s", ErrMissingAddress, key)
		}
	}
	return nil
}

// Keys returns the keys present, sorted.
func (a Addresses) Keys() []ContractKey {
	keys := make([]ContractKey, 0, len(a))
	for k := range a {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Descriptor is one immutable deployment of the protocol.
type Descriptor struct {
	ChainID uint64
	Version string
	// DeploymentDate is the deployment time in epoch milliseconds.
	DeploymentDate     uint64
	StartBlock         uint64
	Addresses          Addresses
	PriceFeedIsTestnet bool
	IsDev              bool
}

// DeploymentTime returns DeploymentDate as a time.
func (d *Descriptor) DeploymentTime() time.Time {
	return time.UnixMilli(int64(d.DeploymentDate)).UTC()
}

// Validate checks the descriptor is complete.
func (d *Descriptor) Validate() error {
	if d.ChainID == 0 {
		return fmt.Errorf("descriptor has no chainId")
	}
	if d.Version == "" {
		return fmt.Errorf("descriptor has no version")
	}
	return d.Addresses.Validate()
}

type descriptorJSON struct {
	ChainID            uint64            `json:"chainId"`
	Version            string            `json:"version"`
	DeploymentDate     uint64            `json:"deploymentDate"`
	StartBlock         uint64            `json:"startBlock"`
	Addresses          map[string]string `json:"addresses"`
	PriceFeedIsTestnet bool              `json:"_priceFeedIsTestnet"`
	IsDev              bool              `json:"_isDev"`
}

// ParseDescriptor decodes and validates a JSON deployment descriptor.
func ParseDescriptor(content []byte) (*Descriptor, error) {
	var raw descriptorJSON
	if err := json.Unmarshal(content, &raw); err != nil {
		return nil, fmt.Errorf("failed to unmarshal deployment descriptor: %w", err)
	}

	addresses := make(Addresses, len(raw.Addresses))
	for key, hex := range raw.Addresses {
		if !common.IsHexAddress(hex) {
			return nil, fmt.Errorf("%w: %s = %q", ErrInvalidAddress, key, hex)
		}
		addresses[ContractKey(key)] = common.HexToAddress(hex)
	}

	d := &Descriptor{
		ChainID:            raw.ChainID,
		Version:            raw.Version,
		DeploymentDate:     raw.DeploymentDate,
		StartBlock:         raw.StartBlock,
		Addresses:          addresses,
		PriceFeedIsTestnet: raw.PriceFeedIsTestnet,
		IsDev:              raw.IsDev,
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

// MarshalJSON encodes the descriptor in the published artifact format.
func (d *Descriptor) MarshalJSON() ([]byte, error) {
	addresses := make(map[string]string, len(d.Addresses))
	for key, addr := range d.Addresses {
		addresses[string(key)] = addr.Hex()
	}
	return json.Marshal(descriptorJSON{
		ChainID:            d.ChainID,
		Version:            d.Version,
		DeploymentDate:     d.DeploymentDate,
		StartBlock:         d.StartBlock,
		Addresses:          addresses,
		PriceFeedIsTestnet: d.PriceFeedIsTestnet,
		IsDev:              d.IsDev,
	})
}
