// Package pool implements the per-pair constant-product ledger: reserves, share
// accounting and the mint, burn and swap state machine. Pools never pull assets;
// callers deposit into the pool address and the pool reconciles held balances
// against its recorded reserves inside a single critical section (see Tx).
package pool

import (
	"bytes"
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/defistate/defistate-amm/engine"
	"github.com/defistate/defistate-amm/ledger"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Gate decides which identities may mint, burn, swap or receive pool outputs.
type Gate interface {
	IsActive(addr common.Address) bool
}

// Config holds the dependencies and identity of a Pool.
type Config struct {
	Address   common.Address
	Token0    common.Address
	Token1    common.Address
	Ledger    ledger.Ledger
	Gate      Gate
	Publisher engine.Publisher
	Clock     engine.Clock
}

func (c *Config) validate() error {
	if c.Address == (common.Address{}) {
		return errors.New("config: Address is required")
	}
	if c.Token0 == (common.Address{}) || c.Token1 == (common.Address{}) {
		return errors.New("config: Token0 and Token1 are required")
	}
	if bytes.Compare(c.Token0[:], c.Token1[:]) >= 0 {
		return errors.New("config: Token0 must sort strictly before Token1")
	}
	if c.Ledger == nil {
		return errors.New("config: Ledger is required")
	}
	if c.Gate == nil {
		return errors.New("config: Gate is required")
	}
	return nil
}

// Pool is the ledger for one canonically ordered asset pair.
type Pool struct {
	address   common.Address
	token0    common.Address
	token1    common.Address
	ledger    ledger.Ledger
	gate      Gate
	publisher engine.Publisher
	clock     engine.Clock

	// mu guards everything below. It is only ever taken through Atomic.
	mu          sync.Mutex
	reserve0    *uint256.Int
	reserve1    *uint256.Int
	totalShares *uint256.Int
	shares      map[common.Address]*uint256.Int
	lastSync    time.Time
}

// View is a read-only snapshot of a pool for display and RPC.
type View struct {
	Address     common.Address `json:"address"`
	Token0      common.Address `json:"token0"`
	Token1      common.Address `json:"token1"`
	Reserve0    *big.Int       `json:"reserve0"`
	Reserve1    *big.Int       `json:"reserve1"`
	TotalShares *big.Int       `json:"totalShares"`
	LastSync    uint64         `json:"lastSync"`
}

// New creates an Empty pool.
func New(cfg Config) (*Pool, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Publisher == nil {
		cfg.Publisher = engine.DiscardPublisher
	}
	if cfg.Clock == nil {
		cfg.Clock = engine.SystemClock
	}
	return &Pool{
		address:     cfg.Address,
		token0:      cfg.Token0,
		token1:      cfg.Token1,
		ledger:      cfg.Ledger,
		gate:        cfg.Gate,
		publisher:   cfg.Publisher,
		clock:       cfg.Clock,
		reserve0:    new(uint256.Int),
		reserve1:    new(uint256.Int),
		totalShares: new(uint256.Int),
		shares:      make(map[common.Address]*uint256.Int),
	}, nil
}

// Address is the pool's identity in the ledger.
func (p *Pool) Address() common.Address { return p.address }

// Token0 is the lower-ordered asset of the pair.
func (p *Pool) Token0() common.Address { return p.token0 }

// Token1 is the higher-ordered asset of the pair.
func (p *Pool) Token1() common.Address { return p.token1 }

// Has reports whether asset is one of the pool's two tokens.
func (p *Pool) Has(asset common.Address) bool {
	return asset == p.token0 || asset == p.token1
}

// GetReserves returns the recorded reserves and the time they were last synced.
func (p *Pool) GetReserves() (reserve0, reserve1 *big.Int, lastSync time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reserve0.ToBig(), p.reserve1.ToBig(), p.lastSync
}

// ReservesFor returns the reserves oriented as (assetIn, assetOut).
func (p *Pool) ReservesFor(assetIn common.Address) (reserveIn, reserveOut *big.Int) {
	r0, r1, _ := p.GetReserves()
	if assetIn == p.token0 {
		return r0, r1
	}
	return r1, r0
}

// TotalShares returns the outstanding share supply, including the locked minimum.
func (p *Pool) TotalShares() *big.Int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.totalShares.ToBig()
}

// BalanceOf returns the shares held by holder.
func (p *Pool) BalanceOf(holder common.Address) *big.Int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.shareOf(holder).ToBig()
}

// View returns a read-only snapshot of the pool.
func (p *Pool) View() View {
	p.mu.Lock()
	defer p.mu.Unlock()
	var lastSync uint64
	if !p.lastSync.IsZero() {
		lastSync = uint64(p.lastSync.Unix())
	}
	return View{
		Address:     p.address,
		Token0:      p.token0,
		Token1:      p.token1,
		Reserve0:    p.reserve0.ToBig(),
		Reserve1:    p.reserve1.ToBig(),
		TotalShares: p.totalShares.ToBig(),
		LastSync:    lastSync,
	}
}

// Mint credits shares to recipient for the assets deposited since the last sync.
func (p *Pool) Mint(caller, recipient common.Address) (shares *big.Int, err error) {
	err = Atomic([]*Pool{p}, func(tx *Tx) error {
		shares, err = tx.Mint(p, caller, recipient)
		return err
	})
	return shares, err
}

// Burn redeems the shares held by the pool's own address and pays both assets to recipient.
func (p *Pool) Burn(caller, recipient common.Address) (amount0, amount1 *big.Int, err error) {
	err = Atomic([]*Pool{p}, func(tx *Tx) error {
		amount0, amount1, err = tx.Burn(p, caller, recipient)
		return err
	})
	return amount0, amount1, err
}

// Swap pays the requested outputs to recipient provided the deposited inputs keep the
// fee-adjusted invariant.
func (p *Pool) Swap(caller common.Address, amount0Out, amount1Out *big.Int, recipient common.Address) error {
	return Atomic([]*Pool{p}, func(tx *Tx) error {
		return tx.Swap(p, caller, amount0Out, amount1Out, recipient)
	})
}

// Skim sends any held balance above the recorded reserves to recipient.
func (p *Pool) Skim(caller, recipient common.Address) error {
	return Atomic([]*Pool{p}, func(tx *Tx) error {
		return tx.Skim(p, caller, recipient)
	})
}

// Sync sets the recorded reserves to the held balances.
func (p *Pool) Sync(caller common.Address) error {
	return Atomic([]*Pool{p}, func(tx *Tx) error {
		return tx.Sync(p, caller)
	})
}

// TransferShares moves shares between holders.
func (p *Pool) TransferShares(from, to common.Address, amount *big.Int) error {
	return Atomic([]*Pool{p}, func(tx *Tx) error {
		return tx.TransferShares(p, from, to, amount)
	})
}

// shareOf must be called with p.mu held. The returned value must not be mutated.
func (p *Pool) shareOf(holder common.Address) *uint256.Int {
	if s, ok := p.shares[holder]; ok {
		return s
	}
	return new(uint256.Int)
}
