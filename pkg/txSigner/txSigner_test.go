package txSigner

import (
	"context"
	"crypto/ecdsa"
	"encoding/asn1"
	"errors"
	"math/big"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/kms"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	hardhatKey     = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	hardhatAddress = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
)

func testTx(chainID *big.Int) *types.Transaction {
	to := common.HexToAddress("0x1234")
	return types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     3,
		GasTipCap: big.NewInt(1),
		GasFeeCap: big.NewInt(2),
		Gas:       21000,
		To:        &to,
		Value:     big.NewInt(5),
	})
}

func TestPrivateKeySigner(t *testing.T) {
	chainID := big.NewInt(1)
	for _, key := range []string{hardhatKey, "0x" + hardhatKey} {
		signer, err := NewPrivateKeySigner(key)
		require.NoError(t, err)
		address, err := signer.GetAddress()
		require.NoError(t, err)
		assert.Equal(t, common.HexToAddress(hardhatAddress), address)

		opts, err := signer.GetTransactOpts(context.Background(), chainID)
		require.NoError(t, err)
		assert.Equal(t, address, opts.From)
		assert.False(t, opts.NoSend)

		signed, err := opts.Signer(opts.From, testTx(chainID))
		require.NoError(t, err)
		sender, err := types.Sender(types.LatestSignerForChainID(chainID), signed)
		require.NoError(t, err)
		assert.Equal(t, address, sender)
	}
}

func TestPrivateKeySigner_NoSend(t *testing.T) {
	signer, err := NewPrivateKeySigner(hardhatKey)
	require.NoError(t, err)
	opts, err := signer.GetNoSendTransactOpts(context.Background(), big.NewInt(1))
	require.NoError(t, err)
	assert.True(t, opts.NoSend)
}

func TestPrivateKeySigner_InvalidKey(t *testing.T) {
	_, err := NewPrivateKeySigner("not-a-key")
	assert.Error(t, err)
}

type fakeKMS struct {
	key      *ecdsa.PrivateKey
	keyID    string
	highS    bool
	signErr  error
	signs    int
	lastSign *kms.SignInput
}

func (f *fakeKMS) GetPublicKey(input *kms.GetPublicKeyInput) (*kms.GetPublicKeyOutput, error) {
	if aws.StringValue(input.KeyId) != f.keyID {
		return nil, errors.New("NotFoundException")
	}
	pub := crypto.FromECDSAPub(&f.key.PublicKey)
	var spki subjectPublicKeyInfo
	spki.Algorithm.Algorithm = asn1.ObjectIdentifier{1, 2, 840, 10045, 2, 1}
	spki.Algorithm.Parameters = asn1.ObjectIdentifier{1, 3, 132, 0, 10}
	spki.PublicKey = asn1.BitString{Bytes: pub, BitLength: 8 * len(pub)}
	der, err := asn1.Marshal(spki)
	if err != nil {
		return nil, err
	}
	return &kms.GetPublicKeyOutput{KeyId: input.KeyId, PublicKey: der}, nil
}

func (f *fakeKMS) Sign(input *kms.SignInput) (*kms.SignOutput, error) {
	f.signs++
	f.lastSign = input
	if f.signErr != nil {
		return nil, f.signErr
	}
	sig, err := crypto.Sign(input.Message, f.key)
	if err != nil {
		return nil, err
	}
	s := new(big.Int).SetBytes(sig[32:64])
	if f.highS {
		s.Sub(secp256k1N, s)
	}
	der, err := asn1.Marshal(ecdsaSignature{R: new(big.Int).SetBytes(sig[:32]), S: s})
	if err != nil {
		return nil, err
	}
	return &kms.SignOutput{KeyId: input.KeyId, Signature: der}, nil
}

func newFakeKMS(t *testing.T) *fakeKMS {
	key, err := crypto.HexToECDSA(hardhatKey)
	require.NoError(t, err)
	return &fakeKMS{key: key, keyID: "alias/thusd"}
}

func TestAWSKMSSigner(t *testing.T) {
	chainID := big.NewInt(5)
	for _, highS := range []bool{false, true} {
		client := newFakeKMS(t)
		client.highS = highS
		signer, err := newAWSKMSSignerWithClient(client, client.keyID)
		require.NoError(t, err)

		address, err := signer.GetAddress()
		require.NoError(t, err)
		assert.Equal(t, common.HexToAddress(hardhatAddress), address)

		opts, err := signer.GetTransactOpts(context.Background(), chainID)
		require.NoError(t, err)
		assert.Equal(t, address, opts.From)

		tx := testTx(chainID)
		signed, err := opts.Signer(opts.From, tx)
		require.NoError(t, err, "highS=%v", highS)
		sender, err := types.Sender(types.LatestSignerForChainID(chainID), signed)
		require.NoError(t, err)
		assert.Equal(t, address, sender)

		assert.Equal(t, 1, client.signs)
		assert.Equal(t, "DIGEST", aws.StringValue(client.lastSign.MessageType))
		assert.Equal(t, "ECDSA_SHA_256", aws.StringValue(client.lastSign.SigningAlgorithm))
		assert.Equal(t, types.LatestSignerForChainID(chainID).Hash(tx).Bytes(), client.lastSign.Message)
	}
}

func TestAWSKMSSigner_RejectsOtherAddress(t *testing.T) {
	client := newFakeKMS(t)
	signer, err := newAWSKMSSignerWithClient(client, client.keyID)
	require.NoError(t, err)
	opts, err := signer.GetNoSendTransactOpts(context.Background(), big.NewInt(1))
	require.NoError(t, err)
	assert.True(t, opts.NoSend)

	_, err = opts.Signer(common.HexToAddress("0xdead"), testTx(big.NewInt(1)))
	assert.ErrorContains(t, err, "address mismatch")
	assert.Zero(t, client.signs)
}

func TestAWSKMSSigner_Errors(t *testing.T) {
	client := newFakeKMS(t)
	_, err := newAWSKMSSignerWithClient(client, "alias/missing")
	assert.ErrorContains(t, err, "NotFoundException")

	signer, err := newAWSKMSSignerWithClient(client, client.keyID)
	require.NoError(t, err)
	client.signErr = errors.New("AccessDeniedException")
	opts, err := signer.GetTransactOpts(context.Background(), big.NewInt(1))
	require.NoError(t, err)
	_, err = opts.Signer(opts.From, testTx(big.NewInt(1)))
	assert.ErrorContains(t, err, "AccessDeniedException")
}
