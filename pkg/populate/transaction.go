package populate

import (
	"context"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/thusd-labs/thusd-go/pkg/contracts"
	"github.com/thusd-labs/thusd-go/pkg/transport"
)

// ReceiptStatus is the outcome of a mined transaction.
type ReceiptStatus int

const (
	Succeeded ReceiptStatus = iota
	Failed
)

func (s ReceiptStatus) String() string {
	if s == Succeeded {
		return "succeeded"
	}
	return "failed"
}

// NoDetails is the details type of transactions whose receipt carries nothing to decode.
type NoDetails struct{}

// MinedReceipt is a mined transaction. Details is only decoded when Status is Succeeded.
type MinedReceipt[T any] struct {
	Status  ReceiptStatus
	Receipt *types.Receipt
	Details T
}

type detailsParser[T any] func(receipt *types.Receipt) (T, error)

func noDetails(*types.Receipt) (NoDetails, error) { return NoDetails{}, nil }

// PopulatedTransaction is a signed-ready protocol transaction whose receipt decodes
// into T.
type PopulatedTransaction[T any] struct {
	Raw *contracts.PopulatedTransaction
	// GasHeadroom is the gas added on top of the raw estimate
	GasHeadroom uint64

	populator *Populator
	parse     detailsParser[T]
}

func newPopulated[T any](p *Populator, raw *contracts.PopulatedTransaction, parse detailsParser[T]) *PopulatedTransaction[T] {
	tx := &PopulatedTransaction[T]{Raw: raw, populator: p, parse: parse}
	if raw.RawGasEstimate != 0 && raw.GasLimit > raw.RawGasEstimate {
		tx.GasHeadroom = raw.GasLimit - raw.RawGasEstimate
	}
	return tx
}

// Send signs and broadcasts the transaction.
func (t *PopulatedTransaction[T]) Send(ctx context.Context) (*SentTransaction[T], error) {
	tr, err := t.populator.requireTransport()
	if err != nil {
		return nil, err
	}
	tx, err := tr.Send(ctx, t.Raw)
	if err != nil {
		return nil, err
	}
	return &SentTransaction[T]{Tx: tx, transport: tr, parse: t.parse}, nil
}

// SentTransaction is a broadcast transaction awaiting inclusion.
type SentTransaction[T any] struct {
	Tx *types.Transaction

	transport *transport.Transport
	parse     detailsParser[T]
}

// GetReceipt returns the mined receipt, or nil while the transaction is pending.
func (s *SentTransaction[T]) GetReceipt(ctx context.Context) (*MinedReceipt[T], error) {
	receipt, err := s.transport.Receipt(ctx, s.Tx.Hash())
	if err != nil || receipt == nil {
		return nil, err
	}
	return s.mined(receipt)
}

// WaitForReceipt blocks until the transaction is mined. A reverted transaction yields a
// Failed receipt, not an error.
func (s *SentTransaction[T]) WaitForReceipt(ctx context.Context) (*MinedReceipt[T], error) {
	receipt, err := s.transport.WaitForReceipt(ctx, s.Tx)
	if err != nil {
		return nil, err
	}
	return s.mined(receipt)
}

func (s *SentTransaction[T]) mined(receipt *types.Receipt) (*MinedReceipt[T], error) {
	if receipt.Status != types.ReceiptStatusSuccessful {
		return &MinedReceipt[T]{Status: Failed, Receipt: receipt}, nil
	}
	details, err := s.parse(receipt)
	if err != nil {
		return nil, err
	}
	return &MinedReceipt[T]{Status: Succeeded, Receipt: receipt, Details: details}, nil
}
