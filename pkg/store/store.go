// Package store keeps one consistent snapshot of protocol state per block and serves
// reads from it when a request is compatible with the snapshot.
package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/thusd-labs/thusd-go/pkg/chainManager"
	"github.com/thusd-labs/thusd-go/pkg/logger"
	"github.com/thusd-labs/thusd-go/pkg/readable"
	"go.uber.org/zap"
)

// State is the lifecycle state of a store.
type State int32

const (
	Uninitialized State = iota
	Polling
	Stopped
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Polling:
		return "polling"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

const (
	DefaultPollInterval       = 4 * time.Second
	DefaultResubscribeBackoff = 10 * time.Second
)

var (
	// ErrAlreadyStarted is returned by Start on a store that is not Uninitialized
	ErrAlreadyStarted = errors.New("store already started")
	// ErrStopped is returned by Start when Stop was called during the initial load
	ErrStopped = errors.New("store stopped")
)

// Config configures a BlockPolledStore.
type Config struct {
	// PollInterval is how often the head is polled when the provider cannot subscribe to new heads
	PollInterval time.Duration
	// ResubscribeBackoff caps the wait between attempts to re-establish a lost subscription
	ResubscribeBackoff time.Duration
	// Registerer receives the store metrics; nil disables registration
	Registerer prometheus.Registerer
	Logger     *zap.Logger
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.PollInterval <= 0 {
		out.PollInterval = DefaultPollInterval
	}
	if out.ResubscribeBackoff <= 0 {
		out.ResubscribeBackoff = DefaultResubscribeBackoff
	}
	out.Logger = logger.OrNop(out.Logger)
	return out
}

// BlockPolledStore refreshes a snapshot of the full state set on every new block.
// Snapshots are replaced atomically and applied in strictly increasing block order.
type BlockPolledStore struct {
	client   *readable.PlainClient
	provider chainManager.EthClientInterface
	cfg      Config
	logger   *zap.Logger
	metrics  *Metrics

	state   atomic.Int32
	current atomic.Pointer[readable.Snapshot]
	applyMu sync.Mutex

	mu         sync.Mutex
	listeners  map[uint64]func(*readable.Snapshot)
	nextID     uint64
	cancel     context.CancelFunc
	loaded     chan struct{}
	loadedOnce sync.Once
	done       chan struct{}
}

// NewBlockPolledStore creates a store reading through client. It does not touch the
// network until Start.
func NewBlockPolledStore(client *readable.PlainClient, cfg *Config) (*BlockPolledStore, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	resolved := cfg.withDefaults()
	conn := client.Connection()
	metrics, err := newMetrics(conn.NetworkName(), resolved.Registerer)
	if err != nil {
		return nil, err
	}
	return &BlockPolledStore{
		client:    client,
		provider:  conn.Provider(),
		cfg:       resolved,
		logger:    resolved.Logger,
		metrics:   metrics,
		listeners: make(map[uint64]func(*readable.Snapshot)),
		loaded:    make(chan struct{}),
		done:      make(chan struct{}),
	}, nil
}

// State returns the lifecycle state.
func (s *BlockPolledStore) State() State {
	return State(s.state.Load())
}

// Snapshot returns the current snapshot, or nil before the first load and after Stop.
func (s *BlockPolledStore) Snapshot() *readable.Snapshot {
	return s.current.Load()
}

// Metrics returns the store's collectors.
func (s *BlockPolledStore) Metrics() *Metrics {
	return s.metrics
}

// Loaded is closed once the first snapshot is applied.
func (s *BlockPolledStore) Loaded() <-chan struct{} {
	return s.loaded
}

// Done is closed when the block loop has exited, after Stop or once the context passed
// to Start is cancelled.
func (s *BlockPolledStore) Done() <-chan struct{} {
	return s.done
}

// OnUpdate registers a listener called with every applied snapshot, in block order,
// from the store's block loop. Listeners must not block. The returned function removes
// the listener.
func (s *BlockPolledStore) OnUpdate(listener func(snapshot *readable.Snapshot)) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = listener
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

// Start loads the snapshot of the latest block, then follows new heads until Stop or
// until ctx is cancelled. Either way the store ends Stopped with no snapshot. When the
// provider cannot subscribe, the head is polled every PollInterval. A failed initial
// load leaves the store Uninitialized.
func (s *BlockPolledStore) Start(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(Uninitialized), int32(Polling)) {
		return fmt.Errorf("%w: state is %s", ErrAlreadyStarted, s.State())
	}

	head, err := s.provider.BlockNumber(ctx)
	if err == nil {
		err = s.refresh(ctx, head)
	}
	if err != nil {
		s.state.CompareAndSwap(int32(Polling), int32(Uninitialized))
		return fmt.Errorf("failed to load initial snapshot: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	if s.State() != Polling {
		s.mu.Unlock()
		cancel()
		return ErrStopped
	}
	s.cancel = cancel
	s.mu.Unlock()

	heads := make(chan *types.Header, 16)
	first, err := s.provider.SubscribeNewHead(runCtx, heads)
	if err != nil {
		s.logger.Sugar().Debugw("new head subscription unavailable, polling instead",
			zap.Duration("interval", s.cfg.PollInterval),
			zap.Error(err),
		)
		go s.poll(runCtx)
		return nil
	}

	established := first
	sub := event.ResubscribeErr(s.cfg.ResubscribeBackoff, func(ctx context.Context, lastErr error) (event.Subscription, error) {
		if established != nil {
			sub := established
			established = nil
			return sub, nil
		}
		if lastErr != nil {
			s.logger.Sugar().Warnw("new head subscription dropped, resubscribing", zap.Error(lastErr))
		}
		return s.provider.SubscribeNewHead(ctx, heads)
	})
	go s.follow(runCtx, sub, heads)
	return nil
}

// Stop tears down the block loop and discards the snapshot. Reads already in flight
// complete, but their results are never applied.
func (s *BlockPolledStore) Stop() {
	s.applyMu.Lock()
	previous := State(s.state.Swap(int32(Stopped)))
	s.current.Store(nil)
	s.applyMu.Unlock()

	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	} else if previous != Stopped {
		close(s.done)
	}
	s.metrics.SnapshotBlock.Set(0)
}

// halt marks the store Stopped and drops the snapshot once the block loop exits.
func (s *BlockPolledStore) halt() {
	s.applyMu.Lock()
	s.state.Store(int32(Stopped))
	s.current.Store(nil)
	s.applyMu.Unlock()
	s.metrics.SnapshotBlock.Set(0)
	close(s.done)
}

func (s *BlockPolledStore) follow(ctx context.Context, sub event.Subscription, heads <-chan *types.Header) {
	defer s.halt()
	defer sub.Unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-sub.Err():
			if ok && err != nil {
				s.logger.Sugar().Warnw("new head subscription failed", zap.Error(err))
			}
			return
		case header := <-heads:
			_ = s.refresh(ctx, header.Number.Uint64())
		}
	}
}

func (s *BlockPolledStore) poll(ctx context.Context) {
	defer s.halt()
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			head, err := s.provider.BlockNumber(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				s.logger.Sugar().Warnw("failed to poll block number", zap.Error(err))
				continue
			}
			_ = s.refresh(ctx, head)
		}
	}
}

// refresh reads the snapshot of block and applies it unless a snapshot for the same or
// a later block is already current.
func (s *BlockPolledStore) refresh(ctx context.Context, block uint64) error {
	if current := s.current.Load(); current != nil && block <= current.BlockTag {
		s.discardStale(block, current.BlockTag)
		return nil
	}

	timer := prometheus.NewTimer(s.metrics.RefreshDuration)
	snapshot, err := s.client.FetchSnapshot(ctx, block)
	timer.ObserveDuration()
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		s.metrics.RefreshFailures.Inc()
		s.logger.Sugar().Warnw("failed to refresh snapshot",
			zap.Uint64("block", block),
			zap.Error(err),
		)
		return err
	}
	s.apply(snapshot)
	return nil
}

func (s *BlockPolledStore) discardStale(block, current uint64) {
	s.metrics.StaleDiscarded.Inc()
	s.logger.Sugar().Debugw("discarding stale refresh",
		zap.Uint64("block", block),
		zap.Uint64("currentBlock", current),
	)
}

func (s *BlockPolledStore) apply(snapshot *readable.Snapshot) {
	s.applyMu.Lock()
	if s.State() != Polling {
		s.applyMu.Unlock()
		s.logger.Sugar().Debugw("store stopped, dropping snapshot", zap.Uint64("block", snapshot.BlockTag))
		return
	}
	if current := s.current.Load(); current != nil && snapshot.BlockTag <= current.BlockTag {
		s.applyMu.Unlock()
		s.discardStale(snapshot.BlockTag, current.BlockTag)
		return
	}
	s.current.Store(snapshot)
	s.applyMu.Unlock()

	s.metrics.Refreshes.Inc()
	s.metrics.SnapshotBlock.Set(float64(snapshot.BlockTag))
	s.logger.Sugar().Debugw("applied snapshot",
		zap.Uint64("block", snapshot.BlockTag),
		zap.Uint64("timestamp", snapshot.BlockTimestamp),
	)

	s.mu.Lock()
	listeners := make([]func(*readable.Snapshot), 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.mu.Unlock()
	for _, l := range listeners {
		l(snapshot)
	}
	s.loadedOnce.Do(func() { close(s.loaded) })
}
