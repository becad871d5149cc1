// Package ledger defines the asset custody capability consumed by pools and the router,
// together with an in-memory implementation for tests and local daemons.
package ledger

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrInsufficientBalance is returned when the sender does not hold the requested amount.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrInvalidAmount is returned for nil or negative amounts.
	ErrInvalidAmount = errors.New("amount must be non-nil and non-negative")
)

// Ledger moves units of an asset between holders and reports holdings.
// How a transfer is authorized is the implementation's concern.
type Ledger interface {
	Transfer(asset, from, to common.Address, amount *big.Int) error
	BalanceOf(asset, holder common.Address) *big.Int
}

// Memory is a concurrency-safe Ledger backed by nested maps.
type Memory struct {
	mu       sync.RWMutex
	balances map[common.Address]map[common.Address]*big.Int
}

func NewMemory() *Memory {
	return &Memory{
		balances: make(map[common.Address]map[common.Address]*big.Int),
	}
}

// Mint credits amount of asset to holder out of thin air.
func (m *Memory) Mint(asset, holder common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.add(asset, holder, amount)
	return nil
}

func (m *Memory) Transfer(asset, from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	if amount.Sign() == 0 || from == to {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	held := m.get(asset, from)
	if held.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s holds %s of %s, needs %s", ErrInsufficientBalance, from.Hex(), held.String(), asset.Hex(), amount.String())
	}
	held.Sub(held, amount)
	m.add(asset, to, amount)
	return nil
}

// BalanceOf returns a copy of holder's balance of asset.
func (m *Memory) BalanceOf(asset, holder common.Address) *big.Int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return new(big.Int).Set(m.get(asset, holder))
}

// get returns the live balance pointer, allocating a zero entry if needed.
// Callers must hold the lock; read paths must not retain the pointer.
func (m *Memory) get(asset, holder common.Address) *big.Int {
	holders, ok := m.balances[asset]
	if !ok {
		return new(big.Int)
	}
	b, ok := holders[holder]
	if !ok {
		return new(big.Int)
	}
	return b
}

func (m *Memory) add(asset, holder common.Address, amount *big.Int) {
	holders, ok := m.balances[asset]
	if !ok {
		holders = make(map[common.Address]*big.Int)
		m.balances[asset] = holders
	}
	b, ok := holders[holder]
	if !ok {
		b = new(big.Int)
		holders[holder] = b
	}
	b.Add(b, amount)
}
