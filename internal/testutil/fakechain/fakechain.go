// Package fakechain is an in-memory chain for tests. It answers eth_call by decoding the
// call data against registered ABIs and dispatching to per-method handlers, serves a
// Multicall3 aggregate on top of the same handlers and counts every RPC it receives.
package fakechain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"slices"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
)

const (
	// GenesisTime is the timestamp of block 0.
	GenesisTime uint64 = 1_700_000_000
	// BlockTime is the number of seconds between blocks.
	BlockTime uint64 = 12
	// DefaultGasEstimate is returned by EstimateGas when no estimator is set.
	DefaultGasEstimate uint64 = 200_000
)

// ErrExecutionReverted is returned by handlers to simulate a revert.
var ErrExecutionReverted = errors.New("execution reverted")

// BaseFee is the base fee of every block.
var BaseFee = big.NewInt(1_000_000_000)

// Call is one decoded contract invocation.
type Call struct {
	Block uint64
	From  common.Address
	Value *big.Int
	Args  []any
}

// Handler answers a contract method. The returned values are ABI-encoded as the
// method's outputs.
type Handler func(call Call) ([]any, error)

type contract struct {
	abi      *abi.ABI
	handlers map[string]Handler
}

// Chain is a fake EthClientInterface.
type Chain struct {
	mu        sync.Mutex
	chainID   *big.Int
	head      uint64
	contracts map[common.Address]*contract
	balances  map[common.Address]func(block uint64) *big.Int
	rpcCalls  map[string]int
	methods   map[string]int
	sent      []*types.Transaction
	receipts  map[common.Hash]*types.Receipt

	estimate     func(msg ethereum.CallMsg) (uint64, error)
	onSend       func(tx *types.Transaction) *types.Receipt
	tipCapErr    error
	subscribeErr error

	heads event.Feed
}

// New creates a chain with the given id whose head is block `head`.
func New(chainID uint64, head uint64) *Chain {
	return &Chain{
		chainID:   new(big.Int).SetUint64(chainID),
		head:      head,
		contracts: make(map[common.Address]*contract),
		balances:  make(map[common.Address]func(uint64) *big.Int),
		rpcCalls:  make(map[string]int),
		methods:   make(map[string]int),
		receipts:  make(map[common.Hash]*types.Receipt),
	}
}

// Deploy registers a contract ABI at address.
func (c *Chain) Deploy(address common.Address, parsed *abi.ABI) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.contracts[address]; ok {
		c.contracts[address].abi = parsed
		return
	}
	c.contracts[address] = &contract{abi: parsed, handlers: make(map[string]Handler)}
}

// Handle installs the handler for method on the contract deployed at address.
func (c *Chain) Handle(address common.Address, method string, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ct, ok := c.contracts[address]
	if !ok {
		panic(fmt.Sprintf("fakechain: no contract deployed at %s", address.Hex()))
	}
	if _, ok := ct.abi.Methods[method]; !ok {
		panic(fmt.Sprintf("fakechain: contract at %s has no method %s", address.Hex(), method))
	}
	ct.handlers[method] = h
}

// Returns installs a handler that always answers values.
func (c *Chain) Returns(address common.Address, method string, values ...any) {
	c.Handle(address, method, func(Call) ([]any, error) { return values, nil })
}

// EnableMulticall deploys a Multicall3 at address whose aggregate dispatches to the
// other registered contracts.
func (c *Chain) EnableMulticall(address common.Address, parsed *abi.ABI) {
	c.Deploy(address, parsed)
	c.Handle(address, "aggregate", c.aggregate)
	c.Handle(address, "getCurrentBlockTimestamp", func(call Call) ([]any, error) {
		return []any{new(big.Int).SetUint64(c.BlockTimestamp(call.Block))}, nil
	})
	c.Handle(address, "getBlockNumber", func(call Call) ([]any, error) {
		return []any{new(big.Int).SetUint64(call.Block)}, nil
	})
	c.Handle(address, "getEthBalance", func(call Call) ([]any, error) {
		return []any{c.balanceAt(call.Args[0].(common.Address), call.Block)}, nil
	})
}

type aggregateCall struct {
	Target   common.Address
	CallData []byte
}

func (c *Chain) aggregate(call Call) ([]any, error) {
	calls := *abi.ConvertType(call.Args[0], new([]aggregateCall)).(*[]aggregateCall)
	results := make([][]byte, len(calls))
	for i, sub := range calls {
		out, err := c.dispatch(call.Block, call.From, sub.Target, nil, sub.CallData)
		if err != nil {
			return nil, err
		}
		results[i] = out
	}
	return []any{new(big.Int).SetUint64(call.Block), results}, nil
}

// SetBalance fixes the native balance of account.
func (c *Chain) SetBalance(account common.Address, balance *big.Int) {
	c.SetBalanceFunc(account, func(uint64) *big.Int { return balance })
}

// SetBalanceFunc sets a block dependent native balance for account.
func (c *Chain) SetBalanceFunc(account common.Address, f func(block uint64) *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.balances[account] = f
}

func (c *Chain) balanceAt(account common.Address, block uint64) *big.Int {
	c.mu.Lock()
	f, ok := c.balances[account]
	c.mu.Unlock()
	if !ok {
		return new(big.Int)
	}
	return new(big.Int).Set(f(block))
}

// SetGasEstimator replaces the default estimator, which simulates the call and returns
// DefaultGasEstimate when it succeeds.
func (c *Chain) SetGasEstimator(f func(msg ethereum.CallMsg) (uint64, error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.estimate = f
}

// OnSend sets the receipt produced for each sent transaction. By default every
// transaction succeeds without logs.
func (c *Chain) OnSend(f func(tx *types.Transaction) *types.Receipt) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onSend = f
}

// FailTipCap makes SuggestGasTipCap fail with err.
func (c *Chain) FailTipCap(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tipCapErr = err
}

// FailSubscribe makes SubscribeNewHead fail with err, like an HTTP endpoint does.
func (c *Chain) FailSubscribe(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribeErr = err
}

// Head returns the latest block number.
func (c *Chain) Head() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.head
}

// BlockTimestamp returns the timestamp of block n.
func (c *Chain) BlockTimestamp(n uint64) uint64 {
	return GenesisTime + n*BlockTime
}

// MineBlock advances the head by one block and notifies subscribers. It blocks until
// every subscriber has received the header.
func (c *Chain) MineBlock() uint64 {
	c.mu.Lock()
	c.head++
	header := c.header(c.head)
	c.mu.Unlock()
	c.heads.Send(header)
	return header.Number.Uint64()
}

// RPCCalls returns how many times the named RPC was issued, e.g. "eth_call".
func (c *Chain) RPCCalls(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rpcCalls[name]
}

// TotalRPCCalls returns the number of RPCs issued so far.
func (c *Chain) TotalRPCCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := 0
	for _, n := range c.rpcCalls {
		total += n
	}
	return total
}

// MethodCalls returns how many times a contract method was dispatched, inside or
// outside of a multicall.
func (c *Chain) MethodCalls(method string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.methods[method]
}

// ResetCalls clears all counters.
func (c *Chain) ResetCalls() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rpcCalls = make(map[string]int)
	c.methods = make(map[string]int)
}

// Sent returns the transactions received by SendTransaction.
func (c *Chain) Sent() []*types.Transaction {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*types.Transaction(nil), c.sent...)
}

func (c *Chain) count(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rpcCalls[name]++
}

// header must be called with c.mu held.
func (c *Chain) header(n uint64) *types.Header {
	return &types.Header{
		Number:  new(big.Int).SetUint64(n),
		Time:    c.BlockTimestamp(n),
		BaseFee: new(big.Int).Set(BaseFee),
	}
}

func (c *Chain) resolveBlock(number *big.Int) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if number == nil {
		return c.head, nil
	}
	if !number.IsUint64() || number.Uint64() > c.head {
		return 0, ethereum.NotFound
	}
	return number.Uint64(), nil
}

func (c *Chain) dispatch(block uint64, from common.Address, to common.Address, value *big.Int, data []byte) ([]byte, error) {
	c.mu.Lock()
	ct, ok := c.contracts[to]
	c.mu.Unlock()
	if !ok {
		// calls to accounts without code succeed with empty output
		return nil, nil
	}
	if len(data) < 4 {
		return nil, ErrExecutionReverted
	}
	method, err := ct.abi.MethodById(data[:4])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExecutionReverted, err)
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, fmt.Errorf("%w: bad call data for %s: %v", ErrExecutionReverted, method.Name, err)
	}

	c.mu.Lock()
	h, ok := ct.handlers[method.Name]
	c.methods[method.Name]++
	c.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: no handler for %s", ErrExecutionReverted, method.Name)
	}

	out, err := h(Call{Block: block, From: from, Value: value, Args: args})
	if err != nil {
		return nil, err
	}
	return method.Outputs.Pack(out...)
}

func (c *Chain) ChainID(ctx context.Context) (*big.Int, error) {
	c.count("eth_chainId")
	return new(big.Int).Set(c.chainID), nil
}

func (c *Chain) BlockNumber(ctx context.Context) (uint64, error) {
	c.count("eth_blockNumber")
	return c.Head(), nil
}

func (c *Chain) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	c.count("eth_getBlockByNumber")
	n, err := c.resolveBlock(number)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.header(n), nil
}

func (c *Chain) SubscribeNewHead(ctx context.Context, ch chan<- *types.Header) (ethereum.Subscription, error) {
	c.count("eth_subscribe")
	c.mu.Lock()
	err := c.subscribeErr
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return c.heads.Subscribe(ch), nil
}

func (c *Chain) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	c.count("eth_call")
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n, err := c.resolveBlock(blockNumber)
	if err != nil {
		return nil, err
	}
	if msg.To == nil {
		return nil, errors.New("contract creation is not supported")
	}
	return c.dispatch(n, msg.From, *msg.To, msg.Value, msg.Data)
}

func (c *Chain) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	c.count("eth_getBalance")
	n, err := c.resolveBlock(blockNumber)
	if err != nil {
		return nil, err
	}
	return c.balanceAt(account, n), nil
}

func (c *Chain) CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error) {
	c.count("eth_getCode")
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.contracts[account]; ok {
		return []byte{0x60, 0x80}, nil
	}
	return nil, nil
}

func (c *Chain) PendingCodeAt(ctx context.Context, account common.Address) ([]byte, error) {
	return c.CodeAt(ctx, account, nil)
}

func (c *Chain) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	c.count("eth_estimateGas")
	c.mu.Lock()
	estimate := c.estimate
	head := c.head
	c.mu.Unlock()
	if estimate != nil {
		return estimate(msg)
	}
	if msg.To == nil {
		return 0, errors.New("contract creation is not supported")
	}
	if _, err := c.dispatch(head, msg.From, *msg.To, msg.Value, msg.Data); err != nil {
		return 0, err
	}
	return DefaultGasEstimate, nil
}

func (c *Chain) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	c.count("eth_maxPriorityFeePerGas")
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tipCapErr != nil {
		return nil, c.tipCapErr
	}
	return big.NewInt(2_000_000_000), nil
}

func (c *Chain) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	c.count("eth_gasPrice")
	tip, err := c.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, err
	}
	return tip.Add(tip, BaseFee), nil
}

func (c *Chain) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	c.count("eth_getTransactionCount")
	c.mu.Lock()
	defer c.mu.Unlock()
	signer := types.LatestSignerForChainID(c.chainID)
	var nonce uint64
	for _, tx := range c.sent {
		if from, err := types.Sender(signer, tx); err == nil && from == account {
			nonce++
		}
	}
	return nonce, nil
}

func (c *Chain) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	c.count("eth_sendRawTransaction")
	c.mu.Lock()
	defer c.mu.Unlock()
	if tx.ChainId().Cmp(c.chainID) != 0 {
		return fmt.Errorf("invalid chain id %s", tx.ChainId())
	}
	if _, err := types.Sender(types.LatestSignerForChainID(c.chainID), tx); err != nil {
		return fmt.Errorf("invalid sender: %w", err)
	}
	c.sent = append(c.sent, tx)

	var receipt *types.Receipt
	if c.onSend != nil {
		receipt = c.onSend(tx)
	}
	if receipt == nil {
		receipt = &types.Receipt{Status: types.ReceiptStatusSuccessful}
	}
	receipt.TxHash = tx.Hash()
	receipt.BlockNumber = new(big.Int).SetUint64(c.head + 1)
	receipt.GasUsed = tx.Gas()
	for _, log := range receipt.Logs {
		log.TxHash = tx.Hash()
	}
	c.receipts[tx.Hash()] = receipt
	return nil
}

func (c *Chain) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	c.count("eth_getTransactionReceipt")
	c.mu.Lock()
	defer c.mu.Unlock()
	receipt, ok := c.receipts[txHash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return receipt, nil
}

// FilterLogs returns the logs of mined receipts emitted by q.Addresses, or by any
// address when q.Addresses is empty. Topics and block ranges are not filtered.
func (c *Chain) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	c.count("eth_getLogs")
	c.mu.Lock()
	defer c.mu.Unlock()
	var logs []types.Log
	for _, tx := range c.sent {
		receipt := c.receipts[tx.Hash()]
		for _, log := range receipt.Logs {
			if len(q.Addresses) == 0 || slices.Contains(q.Addresses, log.Address) {
				logs = append(logs, *log)
			}
		}
	}
	return logs, nil
}

func (c *Chain) SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	c.count("eth_subscribe")
	return nil, errors.New("log subscriptions are not supported")
}
