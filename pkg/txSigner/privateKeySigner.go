package txSigner

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// PrivateKeySigner implements ITransactionSigner using a raw private key
type PrivateKeySigner struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewPrivateKeySigner creates a new PrivateKeySigner from a hex-encoded private key
func NewPrivateKeySigner(privateKeyHex string) (*PrivateKeySigner, error) {
	privateKeyHex = strings.TrimPrefix(privateKeyHex, "0x")

	privateKey, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	return &PrivateKeySigner{
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(privateKey.PublicKey),
	}, nil
}

// GetTransactOpts returns bind.TransactOpts configured for the private key signer
func (p *PrivateKeySigner) GetTransactOpts(ctx context.Context, chainID *big.Int) (*bind.TransactOpts, error) {
	auth, err := bind.NewKeyedTransactorWithChainID(p.privateKey, chainID)
	if err != nil {
		return nil, fmt.Errorf("failed to create transactor: %w", err)
	}

	auth.Context = ctx

	return auth, nil
}

// GetNoSendTransactOpts returns transact opts that sign without broadcasting
func (p *PrivateKeySigner) GetNoSendTransactOpts(ctx context.Context, chainID *big.Int) (*bind.TransactOpts, error) {
	return noSend(p.GetTransactOpts(ctx, chainID))
}

// GetAddress returns the address associated with this private key
func (p *PrivateKeySigner) GetAddress() (common.Address, error) {
	return p.address, nil
}
