// Package txSigner provides Ethereum transaction signing for the thusd client.
// This package defines the signer boundary a Connection binds to, with
// implementations backed by a raw private key and by AWS KMS.
package txSigner

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
)

// ITransactionSigner defines the interface for signing Ethereum transactions.
// Implementations provide transaction options for the go-ethereum bind package,
// supporting different signing backends like private keys and hardware security modules.
type ITransactionSigner interface {
	// GetTransactOpts returns bind.TransactOpts configured for the signer.
	//
	// Parameters:
	//   - ctx: Context for the operation
	//   - chainID: The chain ID for the target blockchain
	//
	// Returns:
	//   - *bind.TransactOpts: Configured transaction options for the signer
	//   - error: An error if transaction options cannot be created
	GetTransactOpts(ctx context.Context, chainID *big.Int) (*bind.TransactOpts, error)

	// GetNoSendTransactOpts is GetTransactOpts with NoSend set, for building
	// signed transactions without broadcasting them.
	GetNoSendTransactOpts(ctx context.Context, chainID *big.Int) (*bind.TransactOpts, error)

	// GetAddress returns the Ethereum address associated with this signer.
	// This address will be used as the 'from' field in transactions.
	GetAddress() (common.Address, error)
}

func noSend(opts *bind.TransactOpts, err error) (*bind.TransactOpts, error) {
	if err != nil {
		return nil, err
	}
	opts.NoSend = true
	return opts, nil
}
