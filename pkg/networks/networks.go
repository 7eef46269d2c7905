// Package networks maps chain IDs to the network names deployments are published under.
package networks

import (
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

// Multicall3Address is the Multicall3 deployment, at the same address on every network that has it.
var Multicall3Address = common.HexToAddress("0xcA11bde05977b3631167028862bE2a173976CA11")

// Network is a chain the protocol is deployed on.
type Network struct {
	ChainID uint64
	Name    string
	// Multicall is the batched read gateway on this chain, nil when there is none.
	Multicall *common.Address
}

func withMulticall(n Network) Network {
	addr := Multicall3Address
	n.Multicall = &addr
	return n
}

var supportedNetworks = []Network{
	withMulticall(Network{ChainID: 1, Name: "mainnet"}),
	withMulticall(Network{ChainID: 5, Name: "goerli"}),
	withMulticall(Network{ChainID: 11155111, Name: "sepolia"}),
	{ChainID: 1337, Name: "dev"},
	{ChainID: 31337, Name: "hardhat"},
}

var networksByID = func() map[uint64]Network {
	m := make(map[uint64]Network, len(supportedNetworks))
	for _, n := range supportedNetworks {
		if _, found := m[n.ChainID]; found {
			panic(fmt.Errorf("network with chain id %d already exists", n.ChainID))
		}
		m[n.ChainID] = n
	}
	return m
}()

// UnsupportedNetworkError is returned for a chain ID with no known network or no
// deployment. It carries the offending chain ID.
type UnsupportedNetworkError struct {
	ChainID uint64
}

func (e *UnsupportedNetworkError) Error() string {
	return fmt.Sprintf("unsupported network (chainId = %d)", e.ChainID)
}

// Lookup returns the supported network for chainID.
func Lookup(chainID uint64) (Network, error) {
	n, found := networksByID[chainID]
	if !found {
		return Network{}, &UnsupportedNetworkError{ChainID: chainID}
	}
	return n, nil
}

// NameForChainID returns the canonical network name for chainID.
func NameForChainID(chainID uint64) (string, error) {
	n, err := Lookup(chainID)
	if err != nil {
		return "", err
	}
	return n.Name, nil
}

// MulticallAddress returns the multicall gateway for chainID, if the chain has one.
func MulticallAddress(chainID uint64) (common.Address, bool) {
	n, found := networksByID[chainID]
	if !found || n.Multicall == nil {
		return common.Address{}, false
	}
	return *n.Multicall, true
}

// Supported returns every supported network ordered by chain ID.
func Supported() []Network {
	res := make([]Network, len(supportedNetworks))
	copy(res, supportedNetworks)
	sort.Slice(res, func(i, j int) bool { return res[i].ChainID < res[j].ChainID })
	return res
}
