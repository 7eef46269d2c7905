// Package fixture deploys a fake protocol on a fakechain. Every contract answers from a
// mutable State, so tests arrange protocol state directly and override single methods
// through Chain.Handle when they need block dependent or failing behaviour.
package fixture

import (
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"github.com/thusd-labs/thusd-go/internal/testutil/fakechain"
	"github.com/thusd-labs/thusd-go/pkg/connection"
	"github.com/thusd-labs/thusd-go/pkg/contracts"
	"github.com/thusd-labs/thusd-go/pkg/deployments"
	"github.com/thusd-labs/thusd-go/pkg/domain"
	"github.com/thusd-labs/thusd-go/pkg/networks"
	"github.com/thusd-labs/thusd-go/pkg/txSigner"
)

const (
	// DefaultHead is the head block of a new fixture chain.
	DefaultHead uint64 = 100
	// Version is the deployment version of the fixture.
	Version = "v1"
)

// TokenAddress is the collateral token of fixtures built WithTokenCollateral.
var TokenAddress = common.HexToAddress("0x00000000000000000000000000000000000c0de0")

// StoredTrove is a trove as recorded by the TroveManager.
type StoredTrove struct {
	Trove    domain.Trove
	Stake    domain.Decimal
	Status   domain.TroveStatus
	Snapshot domain.Trove
}

// State is the protocol state every fixture contract answers from.
type State struct {
	Price domain.Decimal
	// PriceByBlock overrides Price for specific blocks
	PriceByBlock         map[uint64]domain.Decimal
	ActivePool           domain.Trove
	DefaultPool          domain.Trove
	TotalRedistributed   domain.Trove
	BaseRate             domain.Decimal
	LastFeeOperationTime uint64
	Troves               map[common.Address]StoredTrove
	// Sorted lists trove owners from the highest to the lowest collateral ratio
	Sorted               []common.Address
	Deposits             map[common.Address]domain.StabilityDeposit
	THUSDInStabilityPool domain.Decimal
	THUSDBalances        map[common.Address]domain.Decimal
	TokenBalances        map[common.Address]domain.Decimal
	Allowances           map[common.Address]domain.Decimal
	CollSurplus          map[common.Address]domain.Decimal
	Symbol               string
	MintList             bool
}

func defaultState() State {
	return State{
		Price:                domain.NewDecimal(200),
		PriceByBlock:         make(map[uint64]domain.Decimal),
		ActivePool:           domain.Trove{Collateral: domain.NewDecimal(100), Debt: domain.NewDecimal(10000)},
		DefaultPool:          domain.Trove{Collateral: domain.NewDecimal(1), Debt: domain.NewDecimal(50)},
		BaseRate:             domain.Zero,
		LastFeeOperationTime: fakechain.GenesisTime,
		Troves:               make(map[common.Address]StoredTrove),
		Deposits:             make(map[common.Address]domain.StabilityDeposit),
		THUSDBalances:        make(map[common.Address]domain.Decimal),
		TokenBalances:        make(map[common.Address]domain.Decimal),
		Allowances:           make(map[common.Address]domain.Decimal),
		CollSurplus:          make(map[common.Address]domain.Decimal),
		Symbol:               "tBTC",
		MintList:             true,
	}
}

type config struct {
	chainID uint64
	head    uint64
	token   common.Address
}

// Option configures a fixture.
type Option func(*config)

// WithChainID deploys on another chain; 31337 has no multicall.
func WithChainID(chainID uint64) Option {
	return func(c *config) { c.chainID = chainID }
}

// WithHead sets the initial head block.
func WithHead(head uint64) Option {
	return func(c *config) { c.head = head }
}

// WithTokenCollateral collateralises the deployment with the ERC-20 at TokenAddress.
func WithTokenCollateral() Option {
	return func(c *config) { c.token = TokenAddress }
}

// Protocol is a deployed fake protocol.
type Protocol struct {
	Chain      *fakechain.Chain
	Descriptor *deployments.Descriptor
	ABIs       contracts.ABIs

	mu    sync.Mutex
	state State
}

// New deploys the protocol. Collateral is native ETH unless WithTokenCollateral is set.
func New(opts ...Option) *Protocol {
	cfg := &config{chainID: 1, head: DefaultHead}
	for _, opt := range opts {
		opt(cfg)
	}

	addresses := make(deployments.Addresses, len(deployments.RequiredContractKeys))
	for i, key := range deployments.RequiredContractKeys {
		addresses[key] = common.BigToAddress(big.NewInt(int64(0x1000 + i)))
	}
	addresses[deployments.Erc20] = cfg.token

	p := &Protocol{
		Chain: fakechain.New(cfg.chainID, cfg.head),
		Descriptor: &deployments.Descriptor{
			ChainID:        cfg.chainID,
			Version:        Version,
			DeploymentDate: 1_690_000_000_000,
			StartBlock:     10,
			Addresses:      addresses,
		},
		ABIs:  contracts.MustDefaultABIs(),
		state: defaultState(),
	}
	p.deploy()
	if addr, ok := networks.MulticallAddress(cfg.chainID); ok {
		p.Chain.EnableMulticall(addr, p.ABIs[contracts.MulticallKey])
	}
	return p
}

// Address returns the deployed address of key.
func (p *Protocol) Address(key deployments.ContractKey) common.Address {
	return p.Descriptor.Addresses[key]
}

// Update mutates the state under the fixture lock.
func (p *Protocol) Update(f func(s *State)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	f(&p.state)
}

// OpenTrove records an open trove for owner and appends it to the sorted list.
func (p *Protocol) OpenTrove(owner common.Address, trove domain.Trove, stake domain.Decimal, snapshot domain.Trove) {
	p.Update(func(s *State) {
		s.Troves[owner] = StoredTrove{Trove: trove, Stake: stake, Status: domain.TroveOpen, Snapshot: snapshot}
		s.Sorted = append(s.Sorted, owner)
	})
}

func (p *Protocol) read(f func(s *State) []any) []any {
	p.mu.Lock()
	defer p.mu.Unlock()
	return f(&p.state)
}

// Connect builds a connection to the fixture deployment.
func (p *Protocol) Connect(t testing.TB, signer txSigner.ITransactionSigner, params *connection.Params) *connection.Connection {
	t.Helper()
	conn, err := connection.ConnectByChainID(p.Descriptor, p.ABIs, p.Chain, signer, p.Descriptor.ChainID, params)
	require.NoError(t, err)
	return conn
}

// PriceAt returns the price the fixture reports at block.
func (s *State) PriceAt(block uint64) domain.Decimal {
	if price, ok := s.PriceByBlock[block]; ok {
		return price
	}
	return s.Price
}
