package deployments

import (
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/thusd-labs/thusd-go/pkg/logger"
	"github.com/thusd-labs/thusd-go/pkg/networks"
	"go.uber.org/zap"
)

// Key identifies a deployment.
type Key struct {
	Network    string
	Version    string
	Collateral string
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s", k.Network, k.Version, k.Collateral)
}

// Registry is a set of pre-validated deployment descriptors. It is safe for
// concurrent use; descriptors are never mutated once registered.
type Registry struct {
	mu          sync.RWMutex
	descriptors map[Key]*Descriptor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{descriptors: make(map[Key]*Descriptor)}
}

// Register validates d and stores it under key. The descriptor's chain ID must match the
// chain ID of the key's network.
func (r *Registry) Register(key Key, d *Descriptor) error {
	if err := d.Validate(); err != nil {
		return fmt.Errorf("invalid deployment %s: %w", key, err)
	}
	chainName, err := networks.NameForChainID(d.ChainID)
	if err != nil {
		return fmt.Errorf("invalid deployment %s: %w", key, err)
	}
	if chainName != key.Network {
		return fmt.Errorf("invalid deployment %s: chainId %d belongs to network %q", key, d.ChainID, chainName)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.descriptors[key]; exists {
		return fmt.Errorf("deployment %s already registered", key)
	}
	r.descriptors[key] = d
	return nil
}

// Get returns the descriptor for the chain ID, version and collateral. An empty version
// selects the only version deployed for that network and collateral. A chain without a
// matching deployment yields a *networks.UnsupportedNetworkError.
func (r *Registry) Get(chainID uint64, version, collateral string) (*Descriptor, error) {
	name, err := networks.NameForChainID(chainID)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if version == "" {
		versions := r.versionsLocked(name, collateral)
		if len(versions) != 1 {
			return nil, &networks.UnsupportedNetworkError{ChainID: chainID}
		}
		version = versions[0]
	}
	d, found := r.descriptors[Key{Network: name, Version: version, Collateral: collateral}]
	if !found {
		return nil, &networks.UnsupportedNetworkError{ChainID: chainID}
	}
	return d, nil
}

// Versions lists the versions deployed on network for collateral.
func (r *Registry) Versions(network, collateral string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.versionsLocked(network, collateral)
}

func (r *Registry) versionsLocked(network, collateral string) []string {
	var versions []string
	for k := range r.descriptors {
		if k.Network == network && k.Collateral == collateral {
			versions = append(versions, k.Version)
		}
	}
	sort.Strings(versions)
	return versions
}

// Keys lists every registered deployment, sorted.
func (r *Registry) Keys() []Key {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]Key, 0, len(r.descriptors))
	for k := range r.descriptors {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}

// Loader reads descriptors laid out as <network>/<version>/<collateral>.json.
type Loader struct {
	logger *zap.Logger
}

// NewLoader creates a Loader. A nil logger disables logging.
func NewLoader(l *zap.Logger) *Loader {
	return &Loader{logger: logger.OrNop(l)}
}

// Load reads every descriptor in fsys into a new Registry. Any unreadable or invalid
// descriptor fails the whole load.
func (l *Loader) Load(fsys fs.FS) (*Registry, error) {
	files, err := fs.Glob(fsys, "*/*/*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list deployment descriptors: %w", err)
	}

	registry := NewRegistry()
	for _, file := range files {
		parts := strings.Split(file, "/")
		key := Key{
			Network:    parts[0],
			Version:    parts[1],
			Collateral: strings.TrimSuffix(parts[2], path.Ext(parts[2])),
		}

		content, err := fs.ReadFile(fsys, file)
		if err != nil {
			return nil, fmt.Errorf("failed to read descriptor %s: %w", file, err)
		}
		d, err := ParseDescriptor(content)
		if err != nil {
			return nil, fmt.Errorf("failed to parse descriptor %s: %w", file, err)
		}
		if d.Version != key.Version {
			return nil, fmt.Errorf("descriptor %s declares version %q", file, d.Version)
		}
		if err := registry.Register(key, d); err != nil {
			return nil, err
		}
		l.logger.Sugar().Debugw("Loaded deployment descriptor",
			zap.String("deployment", key.String()),
			zap.Uint64("chainId", d.ChainID),
			zap.Uint64("startBlock", d.StartBlock),
		)
	}
	l.logger.Sugar().Infow("Loaded deployment descriptors", zap.Int("count", len(files)))
	return registry, nil
}
