package readable

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/thusd-labs/thusd-go/pkg/domain"
	"github.com/thusd-labs/thusd-go/pkg/multicall"
)

// query is a set of reads plus the decoding of their outputs into one value.
type query[T any] struct {
	calls  []multicall.Call
	decode func(out [][]any) (T, error)
}

// constant is a query answered without any read.
func constant[T any](v T) query[T] {
	return query[T]{decode: func([][]any) (T, error) { return v, nil }}
}

func single[T any](call multicall.Call, decode func(out []any) (T, error)) query[T] {
	return query[T]{
		calls:  []multicall.Call{call},
		decode: func(out [][]any) (T, error) { return decode(out[0]) },
	}
}

// batch accumulates several queries so that they execute together.
type batch struct {
	calls    []multicall.Call
	decoders []func(out [][]any) error
}

func add[T any](b *batch, q query[T], dst *T) {
	start, n := len(b.calls), len(q.calls)
	b.calls = append(b.calls, q.calls...)
	b.decoders = append(b.decoders, func(out [][]any) error {
		v, err := q.decode(out[start : start+n])
		if err != nil {
			return err
		}
		*dst = v
		return nil
	})
}

func (b *batch) decode(out [][]any) error {
	for _, d := range b.decoders {
		if err := d(out); err != nil {
			return err
		}
	}
	return nil
}

func (b *batch) execute(ctx context.Context, gateway *multicall.Gateway, block *big.Int) error {
	out, err := multicall.Execute(ctx, gateway, block, b.calls)
	if err != nil {
		return err
	}
	return b.decode(out)
}

// compose builds a query out of other queries; finish runs once they are all decoded.
func compose[T any](build func(b *batch) (finish func() (T, error))) query[T] {
	b := &batch{}
	finish := build(b)
	return query[T]{
		calls: b.calls,
		decode: func(out [][]any) (T, error) {
			if err := b.decode(out); err != nil {
				var zero T
				return zero, err
			}
			return finish()
		},
	}
}

func run[T any](ctx context.Context, c *PlainClient, overrides *CallOverrides, q query[T]) (T, error) {
	out, err := multicall.Execute(ctx, c.conn.Multicall(), overrides.blockTag(), q.calls)
	if err != nil {
		var zero T
		return zero, err
	}
	return q.decode(out)
}

func decimalOut(out []any, i int) domain.Decimal {
	return domain.DecimalFromBigInt(out[i].(*big.Int))
}

func decodeDecimal(out []any) (domain.Decimal, error) {
	return decimalOut(out, 0), nil
}

func decodeUint64(out []any) (uint64, error) {
	return out[0].(*big.Int).Uint64(), nil
}

func decodeString(out []any) (string, error) {
	return out[0].(string), nil
}

func decodeBool(out []any) (bool, error) {
	return out[0].(bool), nil
}

func decodeAddress(out []any) (common.Address, error) {
	return out[0].(common.Address), nil
}
