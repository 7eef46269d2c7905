// Package contracts presents the protocol's deployed contracts as typed call, estimate,
// populate and send operations over a provider.
package contracts

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/thusd-labs/thusd-go/pkg/chainManager"
	"github.com/thusd-labs/thusd-go/pkg/deployments"
)

var (
	// ErrUnknownMethod is returned when a method is not part of the contract's ABI
	ErrUnknownMethod = errors.New("unknown contract method")
	// ErrUnknownEvent is returned when an event is not part of the contract's ABI
	ErrUnknownEvent = errors.New("unknown contract event")
	// ErrMissingABI is returned when no ABI is available for a contract key
	ErrMissingABI = errors.New("missing contract ABI")
)

// SimulationError reports that a transaction would fail, as discovered by gas estimation.
type SimulationError struct {
	Contract deployments.ContractKey
	Method   string
	Err      error
}

func (e *SimulationError) Error() string {
	return fmt.Sprintf("simulation of %s.%s failed: %v", e.Contract, e.Method, e.Err)
}

func (e *SimulationError) Unwrap() error {
	return e.Err
}

// Overrides customises a populated transaction.
type Overrides struct {
	From  common.Address
	Value *big.Int
	// GasLimit skips estimation when non-zero
	GasLimit uint64
}

// PopulatedTransaction is an unsigned, unsent contract transaction.
type PopulatedTransaction struct {
	Contract deployments.ContractKey
	Method   string
	From     common.Address
	To       common.Address
	Data     []byte
	Value    *big.Int
	GasLimit uint64
	// RawGasEstimate is the estimate before adjustment; zero when GasLimit was supplied.
	RawGasEstimate uint64
}

// CallMsg returns the transaction as a call message for simulation.
func (p *PopulatedTransaction) CallMsg() ethereum.CallMsg {
	to := p.To
	return ethereum.CallMsg{
		From:  p.From,
		To:    &to,
		Gas:   p.GasLimit,
		Value: p.Value,
		Data:  p.Data,
	}
}

// Event is one decoded contract log.
type Event struct {
	Name string
	Log  *types.Log
	Args map[string]any
}

// Contract is one deployed contract bound to a provider. It is immutable and safe for
// concurrent use.
type Contract struct {
	name    deployments.ContractKey
	address common.Address
	abi     *abi.ABI
	backend chainManager.EthClientInterface
	bound   *bind.BoundContract
}

// NewContract binds parsed at address.
func NewContract(
	name deployments.ContractKey,
	address common.Address,
	parsed *abi.ABI,
	backend chainManager.EthClientInterface,
) *Contract {
	return &Contract{
		name:    name,
		address: address,
		abi:     parsed,
		backend: backend,
		bound:   bind.NewBoundContract(address, *parsed, backend, backend, backend),
	}
}

func (c *Contract) Name() deployments.ContractKey { return c.name }
func (c *Contract) Address() common.Address       { return c.address }
func (c *Contract) ABI() *abi.ABI                 { return c.abi }

func (c *Contract) method(name string) (abi.Method, error) {
	m, ok := c.abi.Methods[name]
	if !ok {
		return abi.Method{}, fmt.Errorf("%w: %s.%s", ErrUnknownMethod, c.name, name)
	}
	return m, nil
}

// Pack encodes a call to method.
func (c *Contract) Pack(method string, args ...any) ([]byte, error) {
	if _, err := c.method(method); err != nil {
		return nil, err
	}
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s.%s: %w", c.name, method, err)
	}
	return data, nil
}

// Unpack decodes the return data of method.
func (c *Contract) Unpack(method string, data []byte) ([]any, error) {
	if _, err := c.method(method); err != nil {
		return nil, err
	}
	out, err := c.abi.Unpack(method, data)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s.%s: %w", c.name, method, err)
	}
	return out, nil
}

// Call performs a read-only invocation of method and returns its decoded outputs.
// A nil opts reads the latest block.
func (c *Contract) Call(opts *bind.CallOpts, method string, args ...any) ([]any, error) {
	if _, err := c.method(method); err != nil {
		return nil, err
	}
	var out []any
	if err := c.bound.Call(opts, &out, method, args...); err != nil {
		return nil, fmt.Errorf("failed to call %s.%s: %w", c.name, method, err)
	}
	return out, nil
}

// PopulateTransaction builds an unsent transaction without estimating gas.
func (c *Contract) PopulateTransaction(overrides *Overrides, method string, args ...any) (*PopulatedTransaction, error) {
	if overrides == nil {
		overrides = &Overrides{}
	}
	data, err := c.Pack(method, args...)
	if err != nil {
		return nil, err
	}
	return &PopulatedTransaction{
		Contract: c.name,
		Method:   method,
		From:     overrides.From,
		To:       c.address,
		Data:     data,
		Value:    overrides.Value,
		GasLimit: overrides.GasLimit,
	}, nil
}

// EstimateGas estimates the gas method would use if sent with overrides. Failures are
// returned as *SimulationError.
func (c *Contract) EstimateGas(ctx context.Context, overrides *Overrides, method string, args ...any) (uint64, error) {
	tx, err := c.PopulateTransaction(overrides, method, args...)
	if err != nil {
		return 0, err
	}
	return c.estimate(ctx, tx)
}

func (c *Contract) estimate(ctx context.Context, tx *PopulatedTransaction) (uint64, error) {
	msg := tx.CallMsg()
	msg.Gas = 0
	gas, err := c.backend.EstimateGas(ctx, msg)
	if err != nil {
		return 0, &SimulationError{Contract: c.name, Method: tx.Method, Err: err}
	}
	return gas, nil
}

// EstimateAndPopulate builds an unsent transaction. Unless overrides carries a gas
// limit, the limit is the gas estimate passed through adjust; a nil adjust keeps the
// raw estimate.
func (c *Contract) EstimateAndPopulate(
	ctx context.Context,
	overrides *Overrides,
	adjust func(estimate uint64) uint64,
	method string,
	args ...any,
) (*PopulatedTransaction, error) {
	tx, err := c.PopulateTransaction(overrides, method, args...)
	if err != nil {
		return nil, err
	}
	if tx.GasLimit != 0 {
		return tx, nil
	}
	estimate, err := c.estimate(ctx, tx)
	if err != nil {
		return nil, err
	}
	tx.RawGasEstimate = estimate
	tx.GasLimit = estimate
	if adjust != nil {
		tx.GasLimit = adjust(estimate)
	}
	return tx, nil
}

// Send signs and broadcasts a call to method using opts. When opts carries no gas limit
// the raw estimate is used; missing fee caps and nonce are filled from the provider.
func (c *Contract) Send(opts *bind.TransactOpts, method string, args ...any) (*types.Transaction, error) {
	if opts == nil || opts.Signer == nil {
		return nil, fmt.Errorf("cannot send %s.%s without a signer", c.name, method)
	}
	ctx := opts.Context
	if ctx == nil {
		ctx = context.Background()
	}
	tx, err := c.EstimateAndPopulate(ctx, &Overrides{
		From:     opts.From,
		Value:    opts.Value,
		GasLimit: opts.GasLimit,
	}, nil, method, args...)
	if err != nil {
		return nil, err
	}
	return rawTransact(ctx, c.bound, c.backend, opts, tx)
}

// ExtractEvents decodes the logs emitted by this contract that match the named event.
func (c *Contract) ExtractEvents(logs []*types.Log, name string) ([]Event, error) {
	ev, ok := c.abi.Events[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownEvent, c.name, name)
	}
	var indexed abi.Arguments
	for _, input := range ev.Inputs {
		if input.Indexed {
			indexed = append(indexed, input)
		}
	}

	var events []Event
	for _, log := range logs {
		if log.Address != c.address || len(log.Topics) == 0 || log.Topics[0] != ev.ID {
			continue
		}
		args := make(map[string]any, len(ev.Inputs))
		if err := ev.Inputs.UnpackIntoMap(args, log.Data); err != nil {
			return nil, fmt.Errorf("failed to decode %s.%s log: %w", c.name, name, err)
		}
		if err := abi.ParseTopicsIntoMap(args, indexed, log.Topics[1:]); err != nil {
			return nil, fmt.Errorf("failed to decode %s.%s topics: %w", c.name, name, err)
		}
		events = append(events, Event{Name: name, Log: log, Args: args})
	}
	return events, nil
}
