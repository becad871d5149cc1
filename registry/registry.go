// Package registry is the pool factory: it maps every unordered asset pair to at
// most one pool, derives pool addresses deterministically and maintains the token
// graph used for routing.
package registry

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/defistate/defistate-amm/engine"
	"github.com/defistate/defistate-amm/ledger"
	"github.com/defistate/defistate-amm/pool"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/prometheus/client_golang/prometheus"
)

// DefaultInitCodeHash seeds pool address derivation when Config.InitCodeHash is unset.
var DefaultInitCodeHash = crypto.Keccak256Hash([]byte("defistate-amm/pool/v1"))

// Logger defines a standard interface for structured, leveled logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Access is the subset of the access registry consulted by the factory and its pools.
type Access interface {
	IsActive(addr common.Address) bool
	Paused() bool
}

// Config holds the dependencies and settings for a Registry.
type Config struct {
	// Address is the factory identity. It salts pool addresses and emits PoolCreated.
	Address      common.Address
	InitCodeHash common.Hash
	Access       Access
	Ledger       ledger.Ledger
	Publisher    engine.Publisher
	Clock        engine.Clock
	Logger       Logger
	// Registry receives the registry metrics. A private registry is used when nil.
	Registry prometheus.Registerer
}

func (c *Config) validate() error {
	if c.Address == (common.Address{}) {
		return errors.New("config: Address is required")
	}
	if c.Access == nil {
		return errors.New("config: Access is required")
	}
	if c.Ledger == nil {
		return errors.New("config: Ledger is required")
	}
	return nil
}

type pairKey [2 * common.AddressLength]byte

func keyOf(token0, token1 common.Address) pairKey {
	var k pairKey
	copy(k[:common.AddressLength], token0[:])
	copy(k[common.AddressLength:], token1[:])
	return k
}

// Registry creates and indexes pools. Creation is linearizable: two concurrent
// CreatePool calls for the same unordered pair yield one pool and one AlreadyExists.
type Registry struct {
	address      common.Address
	initCodeHash common.Hash
	access       Access
	ledger       ledger.Ledger
	publisher    engine.Publisher
	clock        engine.Clock
	logger       Logger
	metrics      *Metrics

	// createMu serializes pool creation; mu guards the indexes below.
	createMu  sync.Mutex
	mu        sync.RWMutex
	pairs     map[pairKey]*pool.Pool
	byAddress map[common.Address]*pool.Pool
	list      []*pool.Pool
	graph     *tokenGraph

	cachedGraph atomic.Pointer[GraphView]
}

// New creates an empty registry.
func New(cfg Config) (*Registry, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.InitCodeHash == (common.Hash{}) {
		cfg.InitCodeHash = DefaultInitCodeHash
	}
	if cfg.Publisher == nil {
		cfg.Publisher = engine.DiscardPublisher
	}
	if cfg.Clock == nil {
		cfg.Clock = engine.SystemClock
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Registry == nil {
		cfg.Registry = prometheus.NewRegistry()
	}

	r := &Registry{
		address:      cfg.Address,
		initCodeHash: cfg.InitCodeHash,
		access:       cfg.Access,
		ledger:       cfg.Ledger,
		publisher:    cfg.Publisher,
		clock:        cfg.Clock,
		logger:       cfg.Logger,
		metrics:      NewMetrics(cfg.Registry),
		pairs:        make(map[pairKey]*pool.Pool),
		byAddress:    make(map[common.Address]*pool.Pool),
		graph:        newTokenGraph(),
	}
	r.cachedGraph.Store(r.graph.view())
	return r, nil
}

// Address is the factory address pool addresses are derived from.
func (r *Registry) Address() common.Address {
	return r.address
}

// SortTokens orders a pair canonically. It fails for identical or zero assets.
func SortTokens(x, y common.Address) (token0, token1 common.Address, err error) {
	if x == y {
		return common.Address{}, common.Address{}, fmt.Errorf("%w: identical assets %s", engine.ErrInvalidArgument, x.Hex())
	}
	if x == (common.Address{}) || y == (common.Address{}) {
		return common.Address{}, common.Address{}, fmt.Errorf("%w: zero asset", engine.ErrInvalidArgument)
	}
	if bytes.Compare(x[:], y[:]) < 0 {
		return x, y, nil
	}
	return y, x, nil
}

// PoolAddress returns the deterministic address of the pool for the unordered pair,
// whether or not it has been created.
func (r *Registry) PoolAddress(x, y common.Address) (common.Address, error) {
	token0, token1, err := SortTokens(x, y)
	if err != nil {
		return common.Address{}, err
	}
	salt := crypto.Keccak256Hash(token0.Bytes(), token1.Bytes())
	return crypto.CreateAddress2(r.address, salt, r.initCodeHash.Bytes()), nil
}

// CreatePool instantiates the pool for the unordered pair (x, y).
func (r *Registry) CreatePool(caller, x, y common.Address) (*pool.Pool, error) {
	return r.CreatePoolWith(caller, x, y, nil)
}

// CreatePoolWith creates the pool for (x, y) and runs setup inside the transaction
// that brings it into existence. The pool is registered and PoolCreated is published
// only if setup succeeds; otherwise nothing of the pool remains.
func (r *Registry) CreatePoolWith(caller, x, y common.Address, setup func(tx *pool.Tx, p *pool.Pool) error) (*pool.Pool, error) {
	p, err := r.createPool(caller, x, y, setup)
	if err != nil {
		r.metrics.createsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	r.metrics.createsTotal.WithLabelValues("success").Inc()
	return p, nil
}

func (r *Registry) createPool(caller, x, y common.Address, setup func(tx *pool.Tx, p *pool.Pool) error) (*pool.Pool, error) {
	if !r.access.IsActive(caller) {
		return nil, fmt.Errorf("%w: caller %s is not active", engine.ErrAccessDenied, caller.Hex())
	}
	token0, token1, err := SortTokens(x, y)
	if err != nil {
		return nil, err
	}
	addr, err := r.PoolAddress(token0, token1)
	if err != nil {
		return nil, err
	}

	r.createMu.Lock()
	defer r.createMu.Unlock()

	key := keyOf(token0, token1)
	r.mu.RLock()
	_, exists := r.pairs[key]
	index := uint64(len(r.list)) + 1
	r.mu.RUnlock()
	if exists {
		return nil, fmt.Errorf("%w: pool for %s/%s", engine.ErrAlreadyExists, token0.Hex(), token1.Hex())
	}

	p, err := pool.New(pool.Config{
		Address:   addr,
		Token0:    token0,
		Token1:    token1,
		Ledger:    r.ledger,
		Gate:      r,
		Publisher: r.publisher,
		Clock:     r.clock,
	})
	if err != nil {
		return nil, fmt.Errorf("creating pool: %w", err)
	}

	err = pool.Atomic([]*pool.Pool{p}, func(tx *pool.Tx) error {
		tx.Publish(r.publisher, engine.Log{
			Emitter: r.address,
			Time:    r.clock(),
			Event:   engine.PoolCreated{Token0: token0, Token1: token1, Pool: addr, Index: index},
		})
		if setup != nil {
			if err := setup(tx, p); err != nil {
				return err
			}
		}
		r.register(key, p)
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.metrics.pools.Set(float64(index))
	r.logger.Info("pool created", "token0", token0.Hex(), "token1", token1.Hex(), "pool", addr.Hex(), "index", index)
	return p, nil
}

// register indexes p. Callers hold createMu.
func (r *Registry) register(key pairKey, p *pool.Pool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pairs[key] = p
	r.byAddress[p.Address()] = p
	r.list = append(r.list, p)
	r.graph.add(p.Token0(), p.Token1(), p.Address())
	r.cachedGraph.Store(r.graph.view())
}

// GetPool looks up the pool for the unordered pair (x, y).
func (r *Registry) GetPool(x, y common.Address) (*pool.Pool, bool) {
	token0, token1, err := SortTokens(x, y)
	if err != nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.pairs[keyOf(token0, token1)]
	return p, ok
}

// PoolCount returns the number of registered pools.
func (r *Registry) PoolCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.list)
}

// PoolAt returns the i-th created pool, counting from zero.
func (r *Registry) PoolAt(i int) (*pool.Pool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if i < 0 || i >= len(r.list) {
		return nil, fmt.Errorf("%w: pool index %d of %d", engine.ErrNotFound, i, len(r.list))
	}
	return r.list[i], nil
}

// Pools returns every pool in creation order.
func (r *Registry) Pools() []*pool.Pool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*pool.Pool, len(r.list))
	copy(out, r.list)
	return out
}

// PoolByAddress looks up a registered pool by its address.
func (r *Registry) PoolByAddress(addr common.Address) (*pool.Pool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byAddress[addr]
	return p, ok
}

// IsActive is the gate handed to every pool. Registered pools count as active
// identities while the access registry is unpaused, so a hop may pay the next pool.
func (r *Registry) IsActive(addr common.Address) bool {
	if r.access.IsActive(addr) {
		return true
	}
	r.mu.RLock()
	_, isPool := r.byAddress[addr]
	r.mu.RUnlock()
	return isPool && !r.access.Paused()
}

// Graph returns the current token graph snapshot. The view is shared and must not be modified.
func (r *Registry) Graph() *GraphView {
	return r.cachedGraph.Load()
}

// Neighbors returns the tokens reachable from token through a single pool.
func (r *Registry) Neighbors(token common.Address) []common.Address {
	g := r.cachedGraph.Load()
	idx, ok := g.TokenIndex(token)
	if !ok {
		return nil
	}
	out := make([]common.Address, 0, len(g.Adjacency[idx]))
	for _, edge := range g.Adjacency[idx] {
		out = append(out, g.Tokens[g.EdgeTargets[edge]])
	}
	return out
}
