package transport

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thusd-labs/thusd-go/internal/testutil/fakechain"
	"github.com/thusd-labs/thusd-go/pkg/contracts"
	"github.com/thusd-labs/thusd-go/pkg/deployments"
	"github.com/thusd-labs/thusd-go/pkg/txSigner"
)

const testPrivateKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func newTestTransport(t *testing.T) (*Transport, *fakechain.Chain) {
	chain := fakechain.New(1, 100)
	signer, err := txSigner.NewPrivateKeySigner(testPrivateKey)
	require.NoError(t, err)
	tr, err := NewTransport(chain, signer, nil)
	require.NoError(t, err)
	return tr, chain
}

func populated(from common.Address) *contracts.PopulatedTransaction {
	return &contracts.PopulatedTransaction{
		Contract: deployments.StabilityPool,
		Method:   "provideToSP",
		From:     from,
		To:       common.HexToAddress("0x1234"),
		Data:     []byte{0x01, 0x02, 0x03, 0x04},
		Value:    big.NewInt(5),
		GasLimit: 60_000,
	}
}

func TestNewTransport_RequiresSigner(t *testing.T) {
	_, err := NewTransport(fakechain.New(1, 100), nil, nil)
	assert.ErrorIs(t, err, ErrSignerRequired)
}

func TestTransport_Send(t *testing.T) {
	tr, chain := newTestTransport(t)
	ctx := context.Background()

	tx, err := tr.Send(ctx, populated(tr.From()))
	require.NoError(t, err)

	require.Len(t, chain.Sent(), 1)
	assert.Equal(t, tx.Hash(), chain.Sent()[0].Hash())
	assert.Equal(t, uint64(60_000), tx.Gas())
	assert.Equal(t, uint64(0), tx.Nonce())
	assert.Equal(t, common.HexToAddress("0x1234"), *tx.To())
	assert.Equal(t, big.NewInt(5), tx.Value())
	assert.Equal(t, big.NewInt(2_000_000_000), tx.GasTipCap())
	assert.Equal(t, big.NewInt(3_500_000_000), tx.GasFeeCap())

	from, err := types.Sender(types.LatestSignerForChainID(big.NewInt(1)), tx)
	require.NoError(t, err)
	assert.Equal(t, tr.From(), from)

	next, err := tr.Send(ctx, populated(common.Address{}))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), next.Nonce())
}

func TestTransport_SendRejectsOtherSender(t *testing.T) {
	tr, chain := newTestTransport(t)
	_, err := tr.Send(context.Background(), populated(common.HexToAddress("0xbeef")))
	assert.ErrorIs(t, err, ErrSenderMismatch)
	assert.Empty(t, chain.Sent())
}

func TestTransport_SignDoesNotBroadcast(t *testing.T) {
	tr, chain := newTestTransport(t)
	ctx := context.Background()

	tx, err := tr.Sign(ctx, populated(tr.From()))
	require.NoError(t, err)
	assert.Empty(t, chain.Sent())

	receipt, err := tr.Receipt(ctx, tx.Hash())
	require.NoError(t, err)
	assert.Nil(t, receipt)
}

func TestTransport_WaitForReceipt(t *testing.T) {
	tr, chain := newTestTransport(t)
	ctx := context.Background()

	tx, err := tr.Send(ctx, populated(tr.From()))
	require.NoError(t, err)
	receipt, err := tr.WaitForReceipt(ctx, tx)
	require.NoError(t, err)
	assert.Equal(t, types.ReceiptStatusSuccessful, receipt.Status)
	assert.Equal(t, tx.Hash(), receipt.TxHash)
	assert.Equal(t, uint64(101), receipt.BlockNumber.Uint64())

	chain.OnSend(func(*types.Transaction) *types.Receipt {
		return &types.Receipt{Status: types.ReceiptStatusFailed}
	})
	reverted, err := tr.Send(ctx, populated(tr.From()))
	require.NoError(t, err)
	receipt, err = tr.WaitForReceipt(ctx, reverted)
	require.NoError(t, err, "a revert is not a transport error")
	assert.Equal(t, types.ReceiptStatusFailed, receipt.Status)
}

func TestTransport_WaitForReceiptHonoursContext(t *testing.T) {
	tr, _ := newTestTransport(t)
	ctx, cancel := context.WithCancel(context.Background())
	tx, err := tr.Sign(ctx, populated(tr.From()))
	require.NoError(t, err)

	cancel()
	_, err = tr.WaitForReceipt(ctx, tx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAddGasBuffer(t *testing.T) {
	assert.Equal(t, uint64(120_000), AddGasBuffer(100_000))
	assert.Equal(t, uint64(0), AddGasBuffer(0))
	assert.Equal(t, uint64(354_787), AddGasBuffer(295_656))
}
