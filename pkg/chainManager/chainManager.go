// Package chainManager manages RPC connections to the Ethereum-compatible chains the
// client talks to, and defines the provider interface every other package consumes.
package chainManager

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/ethclient"
)

var (
	// ErrChainNotFound is returned when a requested chain ID is not found in the manager
	ErrChainNotFound = errors.New("chain not found")
	// ErrChainIDMismatch is returned when an endpoint reports a different chain ID than configured
	ErrChainIDMismatch = errors.New("chain ID mismatch")
)

// IChainManager defines the interface for managing blockchain connections.
type IChainManager interface {
	// AddChain adds a new blockchain connection to the manager
	AddChain(ctx context.Context, cfg *ChainConfig) error
	// GetChainForId retrieves a chain connection by its chain ID
	GetChainForId(chainId uint64) (*Chain, error)
}

// ChainConfig holds the configuration for connecting to a blockchain.
type ChainConfig struct {
	// ChainID is the unique identifier for the blockchain network
	ChainID uint64
	// RPCUrl is the URL endpoint for connecting to the blockchain RPC
	RPCUrl string
}

// Chain represents an active connection to a blockchain.
type Chain struct {
	Config *ChainConfig
	// RPCClient is the active client connection for this chain
	RPCClient EthClientInterface
}

// DialFunc opens a provider for an RPC URL.
type DialFunc func(ctx context.Context, rawURL string) (EthClientInterface, error)

func dialEthClient(ctx context.Context, rawURL string) (EthClientInterface, error) {
	return ethclient.DialContext(ctx, rawURL)
}

// ChainManager implements IChainManager. It is safe for concurrent use.
type ChainManager struct {
	Chains sync.Map // map[uint64]*Chain
	dial   DialFunc
}

// NewChainManager creates a new ChainManager that dials endpoints with ethclient.
func NewChainManager() *ChainManager {
	return &ChainManager{dial: dialEthClient}
}

// NewChainManagerWithDialer creates a ChainManager that opens providers with dial.
func NewChainManagerWithDialer(dial DialFunc) *ChainManager {
	return &ChainManager{dial: dial}
}

// AddChain dials the configured RPC URL and checks that the endpoint serves the
// configured chain ID before storing the connection.
//
// Parameters:
//   - ctx: Context for the dial and chain ID query
//   - cfg: The chain configuration containing chain ID and RPC URL
//
// Returns:
//   - error: An error if the chain already exists, the connection fails or the chain IDs differ
func (cm *ChainManager) AddChain(ctx context.Context, cfg *ChainConfig) error {
	if _, exists := cm.Chains.Load(cfg.ChainID); exists {
		return fmt.Errorf("chain with ID %d already exists", cfg.ChainID)
	}
	client, err := cm.dial(ctx, cfg.RPCUrl)
	if err != nil {
		return fmt.Errorf("failed to connect to RPC URL %s: %w", cfg.RPCUrl, err)
	}
	reported, err := client.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("failed to query chain ID from %s: %w", cfg.RPCUrl, err)
	}
	if !reported.IsUint64() || reported.Uint64() != cfg.ChainID {
		return fmt.Errorf("%w: configured %d, endpoint reports %s", ErrChainIDMismatch, cfg.ChainID, reported)
	}
	cm.Chains.Store(cfg.ChainID, &Chain{
		Config:    cfg,
		RPCClient: client,
	})
	return nil
}

// GetChainForId retrieves a chain connection by its chain ID.
//
// Returns:
//   - *Chain: The chain connection if found
//   - error: ErrChainNotFound if the chain ID is not registered
func (cm *ChainManager) GetChainForId(chainId uint64) (*Chain, error) {
	value, exists := cm.Chains.Load(chainId)
	if !exists {
		return nil, ErrChainNotFound
	}
	chain, ok := value.(*Chain)
	if !ok {
		return nil, fmt.Errorf("invalid chain type stored for ID %d", chainId)
	}
	return chain, nil
}
