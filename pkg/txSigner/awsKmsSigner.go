package txSigner

import (
	"context"
	"encoding/asn1"
	"fmt"
	"math/big"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/kms"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// secp256k1 group order, used to normalise KMS signatures to low-s form
var secp256k1N = crypto.S256().Params().N

// kmsAPI is the subset of the KMS client used for signing
type kmsAPI interface {
	Sign(input *kms.SignInput) (*kms.SignOutput, error)
	GetPublicKey(input *kms.GetPublicKeyInput) (*kms.GetPublicKeyOutput, error)
}

// AWSKMSSigner implements ITransactionSigner using AWS KMS
type AWSKMSSigner struct {
	kmsClient kmsAPI
	keyID     string
	address   common.Address
}

// NewAWSKMSSigner creates a new AWSKMSSigner with the specified KMS key ID and AWS region.
// The Ethereum address is derived from the public key of the KMS key.
//
// Parameters:
//   - keyID: The AWS KMS key ID or ARN for signing operations
//   - region: The AWS region where the KMS key is located
//
// Returns:
//   - *AWSKMSSigner: A new AWS KMS signer instance
//   - error: An error if the AWS session cannot be created or the key is invalid
func NewAWSKMSSigner(keyID, region string) (*AWSKMSSigner, error) {
	sess, err := session.NewSession(&aws.Config{
		Region: aws.String(region),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}
	return newAWSKMSSignerWithClient(kms.New(sess), keyID)
}

func newAWSKMSSignerWithClient(client kmsAPI, keyID string) (*AWSKMSSigner, error) {
	address, err := getAddressFromKMSKey(client, keyID)
	if err != nil {
		return nil, fmt.Errorf("failed to derive address from KMS key: %w", err)
	}
	return &AWSKMSSigner{
		kmsClient: client,
		keyID:     keyID,
		address:   address,
	}, nil
}

// GetTransactOpts returns bind.TransactOpts whose signer delegates to AWS KMS.
func (a *AWSKMSSigner) GetTransactOpts(ctx context.Context, chainID *big.Int) (*bind.TransactOpts, error) {
	signer := types.LatestSignerForChainID(chainID)
	return &bind.TransactOpts{
		From: a.address,
		Signer: func(address common.Address, tx *types.Transaction) (*types.Transaction, error) {
			if address != a.address {
				return nil, fmt.Errorf("address mismatch: expected %s, got %s", a.address.Hex(), address.Hex())
			}
			signature, err := a.signHash(signer.Hash(tx).Bytes())
			if err != nil {
				return nil, fmt.Errorf("failed to sign transaction with KMS: %w", err)
			}
			return tx.WithSignature(signer, signature)
		},
		Context: ctx,
	}, nil
}

// GetNoSendTransactOpts returns KMS-backed transact opts that sign without broadcasting
func (a *AWSKMSSigner) GetNoSendTransactOpts(ctx context.Context, chainID *big.Int) (*bind.TransactOpts, error) {
	return noSend(a.GetTransactOpts(ctx, chainID))
}

// GetAddress returns the Ethereum address associated with this KMS key.
func (a *AWSKMSSigner) GetAddress() (common.Address, error) {
	return a.address, nil
}

type ecdsaSignature struct {
	R, S *big.Int
}

// signHash signs a 32-byte digest with KMS and returns it in [R || S || V] form (V in {0,1}).
func (a *AWSKMSSigner) signHash(hash []byte) ([]byte, error) {
	result, err := a.kmsClient.Sign(&kms.SignInput{
		KeyId:            aws.String(a.keyID),
		Message:          hash,
		MessageType:      aws.String("DIGEST"),
		SigningAlgorithm: aws.String("ECDSA_SHA_256"),
	})
	if err != nil {
		return nil, fmt.Errorf("KMS signing failed: %w", err)
	}

	var sig ecdsaSignature
	if _, err := asn1.Unmarshal(result.Signature, &sig); err != nil {
		return nil, fmt.Errorf("failed to parse KMS signature: %w", err)
	}
	// Ethereum only accepts the lower of the two valid s values
	halfN := new(big.Int).Rsh(secp256k1N, 1)
	if sig.S.Cmp(halfN) > 0 {
		sig.S = new(big.Int).Sub(secp256k1N, sig.S)
	}

	signature := make([]byte, crypto.SignatureLength)
	sig.R.FillBytes(signature[0:32])
	sig.S.FillBytes(signature[32:64])

	for v := byte(0); v < 2; v++ {
		signature[64] = v
		recovered, err := crypto.SigToPub(hash, signature)
		if err != nil {
			continue
		}
		if crypto.PubkeyToAddress(*recovered) == a.address {
			return signature, nil
		}
	}
	return nil, fmt.Errorf("failed to determine recovery ID")
}

type subjectPublicKeyInfo struct {
	Algorithm struct {
		Algorithm  asn1.ObjectIdentifier
		Parameters asn1.ObjectIdentifier
	}
	PublicKey asn1.BitString
}

// getAddressFromKMSKey derives the Ethereum address from a KMS public key
func getAddressFromKMSKey(kmsClient kmsAPI, keyID string) (common.Address, error) {
	result, err := kmsClient.GetPublicKey(&kms.GetPublicKeyInput{
		KeyId: aws.String(keyID),
	})
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to get public key from KMS: %w", err)
	}

	// KMS returns a DER encoded SubjectPublicKeyInfo
	var spki subjectPublicKeyInfo
	if _, err := asn1.Unmarshal(result.PublicKey, &spki); err != nil {
		return common.Address{}, fmt.Errorf("failed to parse public key info: %w", err)
	}
	pubKey, err := crypto.UnmarshalPubkey(spki.PublicKey.Bytes)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to parse public key: %w", err)
	}
	return crypto.PubkeyToAddress(*pubKey), nil
}
