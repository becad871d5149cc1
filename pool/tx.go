package pool

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/defistate/defistate-amm/engine"
	"github.com/defistate/defistate-amm/ledger"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Tx is an all-or-nothing unit of work over one or more locked pools. Deposits into a
// pool and the reconciliation of its balances happen while the pool is locked, so a
// concurrent deposit can never be attributed to the wrong caller.
//
// Every ledger transfer and every share or reserve change made through a Tx is
// journaled. If the function passed to Atomic fails, the journal is unwound in reverse
// order. Transfers that leave the locked pools are only issued once every check of the
// operation has passed, so unwinding only ever pulls funds back out of locked pools.
type Tx struct {
	pools     []*Pool
	snapshots map[*Pool]*snapshot
	undo      []transferRecord
	logs      []pendingLog
}

type snapshot struct {
	reserve0    *uint256.Int
	reserve1    *uint256.Int
	totalShares *uint256.Int
	lastSync    time.Time
	// shares holds the pre-transaction value of every touched holder; nil means absent.
	shares map[common.Address]*uint256.Int
}

type transferRecord struct {
	ledger ledger.Ledger
	asset  common.Address
	from   common.Address
	to     common.Address
	amount *big.Int
}

type pendingLog struct {
	publisher engine.Publisher
	log       engine.Log
}

// Atomic locks every distinct pool in ascending address order, runs fn and either commits
// or rolls back everything fn did. Logs emitted inside fn are published after the locks
// are released and only if fn succeeded. Pool methods that take the lock themselves
// (GetReserves, BalanceOf, View, ...) must not be called from fn; use the Tx accessors.
func Atomic(pools []*Pool, fn func(tx *Tx) error) error {
	tx := begin(pools)
	if err := tx.execute(fn); err != nil {
		return err
	}
	tx.publish()
	return nil
}

func begin(pools []*Pool) *Tx {
	seen := make(map[*Pool]struct{}, len(pools))
	ordered := make([]*Pool, 0, len(pools))
	for _, p := range pools {
		if p == nil {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		ordered = append(ordered, p)
	}
	sort.Slice(ordered, func(i, j int) bool {
		return bytes.Compare(ordered[i].address[:], ordered[j].address[:]) < 0
	})

	tx := &Tx{
		pools:     ordered,
		snapshots: make(map[*Pool]*snapshot, len(ordered)),
	}
	for _, p := range ordered {
		p.mu.Lock()
		tx.snapshots[p] = &snapshot{
			reserve0:    p.reserve0.Clone(),
			reserve1:    p.reserve1.Clone(),
			totalShares: p.totalShares.Clone(),
			lastSync:    p.lastSync,
			shares:      make(map[common.Address]*uint256.Int),
		}
	}
	return tx
}

func (tx *Tx) execute(fn func(tx *Tx) error) (err error) {
	defer tx.unlock()
	defer func() {
		if r := recover(); r != nil {
			_ = tx.rollback()
			panic(r)
		}
	}()

	if err = fn(tx); err != nil {
		if rbErr := tx.rollback(); rbErr != nil {
			err = errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
	}
	return err
}

func (tx *Tx) unlock() {
	for i := len(tx.pools) - 1; i >= 0; i-- {
		tx.pools[i].mu.Unlock()
	}
}

func (tx *Tx) rollback() error {
	var errs []error
	for i := len(tx.undo) - 1; i >= 0; i-- {
		rec := tx.undo[i]
		if err := rec.ledger.Transfer(rec.asset, rec.to, rec.from, rec.amount); err != nil {
			errs = append(errs, fmt.Errorf("reverting %s of %s from %s: %w", rec.amount.String(), rec.asset.Hex(), rec.to.Hex(), err))
		}
	}
	tx.undo = nil

	for p, snap := range tx.snapshots {
		p.reserve0 = snap.reserve0
		p.reserve1 = snap.reserve1
		p.totalShares = snap.totalShares
		p.lastSync = snap.lastSync
		for holder, prev := range snap.shares {
			if prev == nil {
				delete(p.shares, holder)
			} else {
				p.shares[holder] = prev
			}
		}
	}
	tx.logs = nil
	return errors.Join(errs...)
}

func (tx *Tx) publish() {
	for _, pl := range tx.logs {
		pl.publisher.Publish(pl.log)
	}
}

// Publish queues l for pub. Queued logs are delivered in order after commit and
// dropped on rollback.
func (tx *Tx) Publish(pub engine.Publisher, l engine.Log) {
	tx.logs = append(tx.logs, pendingLog{publisher: pub, log: l})
}

// member returns an error if p was not locked by this transaction.
func (tx *Tx) member(p *Pool) error {
	if _, ok := tx.snapshots[p]; !ok {
		return fmt.Errorf("%w: pool %s is not part of this transaction", engine.ErrInvalidArgument, p.address.Hex())
	}
	return nil
}

// Reserves returns p's recorded reserves as seen inside the transaction.
func (tx *Tx) Reserves(p *Pool) (reserve0, reserve1 *big.Int, err error) {
	if err := tx.member(p); err != nil {
		return nil, nil, err
	}
	return p.reserve0.ToBig(), p.reserve1.ToBig(), nil
}

// ReservesFor returns p's reserves oriented as (assetIn, assetOut).
func (tx *Tx) ReservesFor(p *Pool, assetIn common.Address) (reserveIn, reserveOut *big.Int, err error) {
	r0, r1, err := tx.Reserves(p)
	if err != nil {
		return nil, nil, err
	}
	switch assetIn {
	case p.token0:
		return r0, r1, nil
	case p.token1:
		return r1, r0, nil
	}
	return nil, nil, fmt.Errorf("%w: %s is not traded by pool %s", engine.ErrInvalidArgument, assetIn.Hex(), p.address.Hex())
}

// TotalShares returns p's share supply as seen inside the transaction.
func (tx *Tx) TotalShares(p *Pool) (*big.Int, error) {
	if err := tx.member(p); err != nil {
		return nil, err
	}
	return p.totalShares.ToBig(), nil
}

// Deposit moves amount of asset from sender into p's custody.
func (tx *Tx) Deposit(p *Pool, asset, from common.Address, amount *big.Int) error {
	if err := tx.member(p); err != nil {
		return err
	}
	if !p.Has(asset) {
		return fmt.Errorf("%w: %s is not traded by pool %s", engine.ErrInvalidArgument, asset.Hex(), p.address.Hex())
	}
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("%w: deposit amount must be non-negative", engine.ErrInvalidArgument)
	}
	if amount.Sign() == 0 {
		return nil
	}
	return tx.transfer(p.ledger, asset, from, p.address, amount)
}

// payout moves amount of asset out of p's custody.
func (tx *Tx) payout(p *Pool, asset, to common.Address, amount *uint256.Int) error {
	if amount.IsZero() {
		return nil
	}
	return tx.transfer(p.ledger, asset, p.address, to, amount.ToBig())
}

func (tx *Tx) transfer(l ledger.Ledger, asset, from, to common.Address, amount *big.Int) error {
	if err := l.Transfer(asset, from, to, amount); err != nil {
		return err
	}
	tx.undo = append(tx.undo, transferRecord{
		ledger: l,
		asset:  asset,
		from:   from,
		to:     to,
		amount: new(big.Int).Set(amount),
	})
	return nil
}

// setShare records holder's pre-transaction balance on first touch, then stores value.
func (tx *Tx) setShare(p *Pool, holder common.Address, value *uint256.Int) {
	snap := tx.snapshots[p]
	if _, touched := snap.shares[holder]; !touched {
		if prev, ok := p.shares[holder]; ok {
			snap.shares[holder] = prev
		} else {
			snap.shares[holder] = nil
		}
	}
	if value.IsZero() {
		delete(p.shares, holder)
		return
	}
	p.shares[holder] = value
}

func (tx *Tx) emit(p *Pool, ev engine.Event) {
	tx.Publish(p.publisher, engine.Log{
		Emitter: p.address,
		Time:    p.clock(),
		Event:   ev,
	})
}
