// Package protocol wires a deployment, a provider and an optional signer into the
// readable, cached and transactional clients of the protocol.
package protocol

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/thusd-labs/thusd-go/pkg/chainManager"
	"github.com/thusd-labs/thusd-go/pkg/connection"
	"github.com/thusd-labs/thusd-go/pkg/contracts"
	"github.com/thusd-labs/thusd-go/pkg/deployments"
	"github.com/thusd-labs/thusd-go/pkg/logger"
	"github.com/thusd-labs/thusd-go/pkg/populate"
	"github.com/thusd-labs/thusd-go/pkg/readable"
	"github.com/thusd-labs/thusd-go/pkg/store"
	"github.com/thusd-labs/thusd-go/pkg/txSigner"
	"go.uber.org/zap"
)

var (
	// ErrDeploymentsRequired is returned when no deployment registry is configured
	ErrDeploymentsRequired = errors.New("a deployment registry is required")
	// ErrEndpointRequired is returned when neither a provider nor an RPC URL is configured
	ErrEndpointRequired = errors.New("a provider or an RPC URL with its chain ID is required")
)

// Config selects the deployment and the endpoint to connect to.
type Config struct {
	// Provider is used as is when set; otherwise RPCUrl is dialled through ChainManager
	Provider chainManager.EthClientInterface
	RPCUrl   string
	// ChainID is the chain RPCUrl must serve. With a Provider it may be left zero, in
	// which case it is read from the provider.
	ChainID uint64
	// ChainManager dials RPCUrl; nil uses an ethclient backed manager
	ChainManager chainManager.IChainManager

	Deployments *deployments.Registry
	// Version selects the deployment version; empty picks the only one deployed
	Version    string
	Collateral string
	ABIs       contracts.ABIs

	Signer      txSigner.ITransactionSigner
	UserAddress *common.Address
	UseStore    string

	Store    *store.Config
	Populate *populate.Config
	Logger   *zap.Logger
}

func (c *Config) validate() error {
	if c.Deployments == nil {
		return ErrDeploymentsRequired
	}
	if c.Provider == nil && (c.RPCUrl == "" || c.ChainID == 0) {
		return ErrEndpointRequired
	}
	if c.Signer != nil && c.UserAddress != nil {
		return connection.ErrConflictingUserAddress
	}
	if c.UseStore != "" && c.UseStore != connection.UseStoreBlockPolled {
		return fmt.Errorf("%w: %q", connection.ErrInvalidUseStore, c.UseStore)
	}
	return nil
}

// Protocol is a connected client. Readable serves reads from the snapshot store when
// one was selected, and from the chain otherwise.
type Protocol struct {
	Connection *connection.Connection
	Plain      *readable.PlainClient
	Readable   readable.ReadableClient
	// Store is nil unless UseStore selected one
	Store    *store.BlockPolledStore
	Populate *populate.Populator

	logger *zap.Logger
}

// Connect resolves the deployment for the configured endpoint and builds every client.
// Configuration errors are returned before any RPC is made. A selected store is created
// but not started.
func Connect(ctx context.Context, cfg *Config) (*Protocol, error) {
	if cfg == nil {
		return nil, ErrDeploymentsRequired
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	l := logger.OrNop(cfg.Logger)

	provider, err := dial(ctx, cfg)
	if err != nil {
		return nil, err
	}
	chainID := cfg.ChainID
	if chainID == 0 {
		reported, err := provider.ChainID(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get chain ID: %w", err)
		}
		if !reported.IsUint64() {
			return nil, fmt.Errorf("chain ID %s out of range", reported)
		}
		chainID = reported.Uint64()
	}

	descriptor, err := cfg.Deployments.Get(chainID, cfg.Version, cfg.Collateral)
	if err != nil {
		return nil, err
	}
	conn, err := connection.ConnectByChainID(descriptor, cfg.ABIs, provider, cfg.Signer, chainID, &connection.Params{
		UserAddress: cfg.UserAddress,
		UseStore:    cfg.UseStore,
	})
	if err != nil {
		return nil, err
	}

	plain := readable.NewPlainClient(conn)
	p := &Protocol{
		Connection: conn,
		Plain:      plain,
		Readable:   plain,
		logger:     l,
	}
	if conn.UseStore() == connection.UseStoreBlockPolled {
		storeCfg := store.Config{}
		if cfg.Store != nil {
			storeCfg = *cfg.Store
		}
		if storeCfg.Logger == nil {
			storeCfg.Logger = l
		}
		if p.Store, err = store.NewBlockPolledStore(plain, &storeCfg); err != nil {
			return nil, err
		}
		p.Readable = store.NewCachedClient(plain, p.Store)
	}

	populateCfg := populate.Config{}
	if cfg.Populate != nil {
		populateCfg = *cfg.Populate
	}
	if populateCfg.Logger == nil {
		populateCfg.Logger = l
	}
	if p.Populate, err = populate.NewPopulator(conn, p.Readable, &populateCfg); err != nil {
		return nil, err
	}

	l.Sugar().Infow("Connected to deployment",
		zap.String("network", conn.NetworkName()),
		zap.Uint64("chainId", chainID),
		zap.String("version", conn.Version()),
		zap.Bool("nativeCollateral", conn.IsNativeCollateral()),
		zap.String("useStore", conn.UseStore()),
	)
	return p, nil
}

func dial(ctx context.Context, cfg *Config) (chainManager.EthClientInterface, error) {
	if cfg.Provider != nil {
		return cfg.Provider, nil
	}
	cm := cfg.ChainManager
	if cm == nil {
		cm = chainManager.NewChainManager()
	}
	chain, err := cm.GetChainForId(cfg.ChainID)
	if errors.Is(err, chainManager.ErrChainNotFound) {
		if err := cm.AddChain(ctx, &chainManager.ChainConfig{ChainID: cfg.ChainID, RPCUrl: cfg.RPCUrl}); err != nil {
			return nil, err
		}
		chain, err = cm.GetChainForId(cfg.ChainID)
	}
	if err != nil {
		return nil, err
	}
	return chain.RPCClient, nil
}

// Start starts the snapshot store, if any, and waits for its first snapshot.
func (p *Protocol) Start(ctx context.Context) error {
	if p.Store == nil {
		return nil
	}
	return p.Store.Start(ctx)
}

// Close stops the snapshot store, if any.
func (p *Protocol) Close() {
	if p.Store != nil {
		p.Store.Stop()
	}
}
