package protocol

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thusd-labs/thusd-go/internal/testutil/fixture"
	"github.com/thusd-labs/thusd-go/pkg/chainManager"
	"github.com/thusd-labs/thusd-go/pkg/connection"
	"github.com/thusd-labs/thusd-go/pkg/deployments"
	"github.com/thusd-labs/thusd-go/pkg/domain"
	"github.com/thusd-labs/thusd-go/pkg/networks"
	"github.com/thusd-labs/thusd-go/pkg/readable"
	"github.com/thusd-labs/thusd-go/pkg/store"
	"github.com/thusd-labs/thusd-go/pkg/txSigner"
)

const testPrivateKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

var alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")

func newRegistry(t *testing.T, p *fixture.Protocol) *deployments.Registry {
	registry := deployments.NewRegistry()
	require.NoError(t, registry.Register(deployments.Key{
		Network:    "mainnet",
		Version:    fixture.Version,
		Collateral: "eth",
	}, p.Descriptor))
	return registry
}

func TestConnect_Plain(t *testing.T) {
	p := fixture.New()
	proto, err := Connect(context.Background(), &Config{
		Provider:    p.Chain,
		Deployments: newRegistry(t, p),
		Collateral:  "eth",
		UserAddress: &alice,
	})
	require.NoError(t, err)
	defer proto.Close()

	assert.Nil(t, proto.Store)
	assert.IsType(t, &readable.PlainClient{}, proto.Readable)
	assert.Equal(t, "mainnet", proto.Connection.NetworkName())
	assert.NoError(t, proto.Start(context.Background()), "starting without a store is a no-op")

	price, err := proto.Readable.GetPrice(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, domain.NewDecimal(200), price)
	assert.Equal(t, 1, p.Chain.RPCCalls("eth_chainId"))
}

func TestConnect_BlockPolledStore(t *testing.T) {
	p := fixture.New()
	ctx := context.Background()
	proto, err := Connect(ctx, &Config{
		Provider:    p.Chain,
		ChainID:     1,
		Deployments: newRegistry(t, p),
		Collateral:  "eth",
		UseStore:    connection.UseStoreBlockPolled,
	})
	require.NoError(t, err)
	defer proto.Close()

	require.NotNil(t, proto.Store)
	assert.IsType(t, &store.CachedClient{}, proto.Readable)
	assert.Zero(t, p.Chain.RPCCalls("eth_chainId"), "chain ID is given")
	assert.Equal(t, store.Uninitialized, proto.Store.State())

	require.NoError(t, proto.Start(ctx))
	assert.Equal(t, store.Polling, proto.Store.State())
	require.NotNil(t, proto.Store.Snapshot())
	assert.Equal(t, fixture.DefaultHead, proto.Store.Snapshot().BlockTag)

	proto.Close()
	assert.Equal(t, store.Stopped, proto.Store.State())
}

func TestConnect_DialsThroughChainManager(t *testing.T) {
	p := fixture.New()
	var dialled []string
	cm := chainManager.NewChainManagerWithDialer(func(_ context.Context, rawURL string) (chainManager.EthClientInterface, error) {
		dialled = append(dialled, rawURL)
		return p.Chain, nil
	})
	cfg := &Config{
		RPCUrl:       "http://localhost:8545",
		ChainID:      1,
		ChainManager: cm,
		Deployments:  newRegistry(t, p),
		Collateral:   "eth",
	}

	_, err := Connect(context.Background(), cfg)
	require.NoError(t, err)
	_, err = Connect(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, []string{"http://localhost:8545"}, dialled, "the chain is dialled once")

	cfg.ChainID = 5
	cfg.ChainManager = chainManager.NewChainManagerWithDialer(func(context.Context, string) (chainManager.EthClientInterface, error) {
		return p.Chain, nil
	})
	_, err = Connect(context.Background(), cfg)
	assert.ErrorIs(t, err, chainManager.ErrChainIDMismatch)
}

func TestConnect_WithSigner(t *testing.T) {
	p := fixture.New()
	signer, err := txSigner.NewPrivateKeySigner(testPrivateKey)
	require.NoError(t, err)
	proto, err := Connect(context.Background(), &Config{
		Provider:    p.Chain,
		Deployments: newRegistry(t, p),
		Collateral:  "eth",
		Signer:      signer,
	})
	require.NoError(t, err)

	signerAddress, err := signer.GetAddress()
	require.NoError(t, err)
	user, ok := proto.Connection.UserAddress()
	require.True(t, ok)
	assert.Equal(t, signerAddress, user)

	tx, err := proto.Populate.DepositTHUSDInStabilityPool(context.Background(), domain.NewDecimal(10), nil)
	require.NoError(t, err)
	_, err = tx.Send(context.Background())
	require.NoError(t, err)
	assert.Len(t, p.Chain.Sent(), 1)
}

func TestConnect_ConfigurationErrors(t *testing.T) {
	p := fixture.New()
	registry := newRegistry(t, p)
	signer, err := txSigner.NewPrivateKeySigner(testPrivateKey)
	require.NoError(t, err)

	tests := []struct {
		name string
		cfg  *Config
		want error
	}{
		{name: "nil config", cfg: nil, want: ErrDeploymentsRequired},
		{name: "no deployments", cfg: &Config{Provider: p.Chain}, want: ErrDeploymentsRequired},
		{name: "no endpoint", cfg: &Config{Deployments: registry}, want: ErrEndpointRequired},
		{name: "rpc url without chain id", cfg: &Config{Deployments: registry, RPCUrl: "http://localhost:8545"}, want: ErrEndpointRequired},
		{
			name: "signer and user address",
			cfg:  &Config{Provider: p.Chain, Deployments: registry, Signer: signer, UserAddress: &alice},
			want: connection.ErrConflictingUserAddress,
		},
		{
			name: "unknown store",
			cfg:  &Config{Provider: p.Chain, Deployments: registry, UseStore: "lru"},
			want: connection.ErrInvalidUseStore,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p.Chain.ResetCalls()
			_, err := Connect(context.Background(), tt.cfg)
			assert.ErrorIs(t, err, tt.want)
			assert.Zero(t, p.Chain.TotalRPCCalls())
		})
	}
}

func TestConnect_UnknownDeployment(t *testing.T) {
	p := fixture.New()
	_, err := Connect(context.Background(), &Config{
		Provider:    p.Chain,
		Deployments: newRegistry(t, p),
		Version:     "v9",
		Collateral:  "eth",
	})
	var unsupported *networks.UnsupportedNetworkError
	require.True(t, errors.As(err, &unsupported))
	assert.Equal(t, uint64(1), unsupported.ChainID)
}
