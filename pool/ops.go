package pool

import (
	"fmt"
	"math/big"

	"github.com/defistate/defistate-amm/engine"
	"github.com/defistate/defistate-amm/ledger"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Mint reconciles the assets deposited into p since its last sync and credits the
// corresponding shares to recipient.
//
// The first mint issues floor(sqrt(amount0*amount1)) shares and withholds
// MinimumLiquidity of them on the zero address. Later mints issue the smaller of the
// two proportional amounts, so unbalanced deposits only benefit existing holders.
func (tx *Tx) Mint(p *Pool, caller, recipient common.Address) (*big.Int, error) {
	if err := tx.member(p); err != nil {
		return nil, err
	}
	if err := p.requireActive("caller", caller); err != nil {
		return nil, err
	}
	if err := p.requireActive("recipient", recipient); err != nil {
		return nil, err
	}

	held0, held1, err := p.held()
	if err != nil {
		return nil, err
	}
	amount0, err := deposited(held0, p.reserve0)
	if err != nil {
		return nil, err
	}
	amount1, err := deposited(held1, p.reserve1)
	if err != nil {
		return nil, err
	}
	if err := checkBounds(held0, held1); err != nil {
		return nil, err
	}

	var shares *uint256.Int
	if p.totalShares.IsZero() {
		shares, err = genesisShares(amount0, amount1)
		if err != nil {
			return nil, err
		}
		tx.mintShares(p, common.Address{}, minimumLiquidity)
	} else {
		if p.reserve0.IsZero() || p.reserve1.IsZero() {
			return nil, fmt.Errorf("%w: pool has shares but no reserves", engine.ErrInsufficientLiquidity)
		}
		shares0, err := mulDiv(amount0, p.totalShares, p.reserve0)
		if err != nil {
			return nil, err
		}
		shares1, err := mulDiv(amount1, p.totalShares, p.reserve1)
		if err != nil {
			return nil, err
		}
		shares = minU256(shares0, shares1)
		if shares.IsZero() {
			return nil, fmt.Errorf("%w: deposit of (%s, %s) mints no shares", engine.ErrInsufficientLiquidity, amount0.Dec(), amount1.Dec())
		}
	}

	tx.mintShares(p, recipient, shares)
	tx.sync(p, held0, held1)
	tx.emit(p, engine.Mint{Caller: caller, Amount0: amount0.ToBig(), Amount1: amount1.ToBig()})
	return shares.ToBig(), nil
}

// PreviewBurn returns the amounts Burn would pay for the shares currently held by p.
func (tx *Tx) PreviewBurn(p *Pool) (amount0, amount1 *big.Int, err error) {
	if err := tx.member(p); err != nil {
		return nil, nil, err
	}
	a0, a1, _, err := p.burnAmounts()
	if err != nil {
		return nil, nil, err
	}
	return a0.ToBig(), a1.ToBig(), nil
}

// Burn redeems the shares deposited on p's own address, pro rata to the recorded
// reserves, and pays both assets to recipient.
func (tx *Tx) Burn(p *Pool, caller, recipient common.Address) (amount0, amount1 *big.Int, err error) {
	if err := tx.member(p); err != nil {
		return nil, nil, err
	}
	if err := p.requireActive("caller", caller); err != nil {
		return nil, nil, err
	}
	if err := p.requireActive("recipient", recipient); err != nil {
		return nil, nil, err
	}
	if recipient == p.token0 || recipient == p.token1 || recipient == p.address {
		return nil, nil, fmt.Errorf("%w: invalid recipient %s", engine.ErrInvalidArgument, recipient.Hex())
	}

	a0, a1, shares, err := p.burnAmounts()
	if err != nil {
		return nil, nil, err
	}

	held0, held1, err := p.held()
	if err != nil {
		return nil, nil, err
	}
	if held0.Lt(a0) || held1.Lt(a1) {
		return nil, nil, fmt.Errorf("%w: pool holds less than its reserves", engine.ErrInvariantViolation)
	}
	balance0 := new(uint256.Int).Sub(held0, a0)
	balance1 := new(uint256.Int).Sub(held1, a1)
	if err := checkBounds(balance0, balance1); err != nil {
		return nil, nil, err
	}

	tx.burnShares(p, p.address, shares)
	if err := tx.payout(p, p.token0, recipient, a0); err != nil {
		return nil, nil, err
	}
	if err := tx.payout(p, p.token1, recipient, a1); err != nil {
		return nil, nil, err
	}
	tx.sync(p, balance0, balance1)
	tx.emit(p, engine.Burn{Caller: caller, Amount0: a0.ToBig(), Amount1: a1.ToBig(), Recipient: recipient})
	return a0.ToBig(), a1.ToBig(), nil
}

// Swap pays amount0Out and amount1Out to recipient, attributing as input whatever was
// deposited beyond the reserves that remain after the outputs. The call fails unless
// the constant product, net of a 0.3% fee on each input, does not decrease.
//
// The outputs are only transferred once the invariant has been verified against the
// balances the pool would hold after paying them.
func (tx *Tx) Swap(p *Pool, caller common.Address, amount0Out, amount1Out *big.Int, recipient common.Address) error {
	if err := tx.member(p); err != nil {
		return err
	}
	if err := p.requireActive("caller", caller); err != nil {
		return err
	}
	if err := p.requireActive("recipient", recipient); err != nil {
		return err
	}
	out0, err := toU256("amount0Out", amount0Out)
	if err != nil {
		return err
	}
	out1, err := toU256("amount1Out", amount1Out)
	if err != nil {
		return err
	}
	if out0.IsZero() && out1.IsZero() {
		return fmt.Errorf("%w: both outputs are zero", engine.ErrInvalidArgument)
	}
	if !out0.Lt(p.reserve0) || !out1.Lt(p.reserve1) {
		return fmt.Errorf("%w: output (%s, %s) must be below reserves (%s, %s)", engine.ErrInvalidArgument, out0.Dec(), out1.Dec(), p.reserve0.Dec(), p.reserve1.Dec())
	}
	if recipient == p.token0 || recipient == p.token1 || recipient == p.address {
		return fmt.Errorf("%w: invalid recipient %s", engine.ErrInvalidArgument, recipient.Hex())
	}

	held0, held1, err := p.held()
	if err != nil {
		return err
	}
	if held0.Lt(out0) || held1.Lt(out1) {
		return fmt.Errorf("%w: pool holds less than the requested output", engine.ErrInvariantViolation)
	}
	balance0 := new(uint256.Int).Sub(held0, out0)
	balance1 := new(uint256.Int).Sub(held1, out1)
	if err := checkBounds(balance0, balance1); err != nil {
		return err
	}

	in0 := amountIn(balance0, p.reserve0, out0)
	in1 := amountIn(balance1, p.reserve1, out1)
	if in0.IsZero() && in1.IsZero() {
		return fmt.Errorf("%w: no input was deposited", engine.ErrInsufficientInput)
	}
	if !feeAdjustedInvariantHolds(balance0, balance1, in0, in1, p.reserve0, p.reserve1) {
		return fmt.Errorf("%w: fee-adjusted product would fall below %s*%s", engine.ErrInvariantViolation, p.reserve0.Dec(), p.reserve1.Dec())
	}

	if err := tx.payout(p, p.token0, recipient, out0); err != nil {
		return err
	}
	if err := tx.payout(p, p.token1, recipient, out1); err != nil {
		return err
	}
	tx.sync(p, balance0, balance1)
	tx.emit(p, engine.Swap{
		Caller:     caller,
		Amount0In:  in0.ToBig(),
		Amount1In:  in1.ToBig(),
		Amount0Out: out0.ToBig(),
		Amount1Out: out1.ToBig(),
		Recipient:  recipient,
	})
	return nil
}

// Skim sends the held balances in excess of the recorded reserves to recipient.
func (tx *Tx) Skim(p *Pool, caller, recipient common.Address) error {
	if err := tx.member(p); err != nil {
		return err
	}
	if err := p.requireActive("caller", caller); err != nil {
		return err
	}
	if err := p.requireActive("recipient", recipient); err != nil {
		return err
	}
	held0, held1, err := p.held()
	if err != nil {
		return err
	}
	excess0, err := deposited(held0, p.reserve0)
	if err != nil {
		return err
	}
	excess1, err := deposited(held1, p.reserve1)
	if err != nil {
		return err
	}
	if err := tx.payout(p, p.token0, recipient, excess0); err != nil {
		return err
	}
	return tx.payout(p, p.token1, recipient, excess1)
}

// Sync sets the recorded reserves of an Active pool to its held balances.
func (tx *Tx) Sync(p *Pool, caller common.Address) error {
	if err := tx.member(p); err != nil {
		return err
	}
	if err := p.requireActive("caller", caller); err != nil {
		return err
	}
	if p.totalShares.IsZero() {
		return fmt.Errorf("%w: cannot sync an empty pool", engine.ErrInvalidArgument)
	}
	held0, held1, err := p.held()
	if err != nil {
		return err
	}
	if err := checkBounds(held0, held1); err != nil {
		return err
	}
	tx.sync(p, held0, held1)
	return nil
}

// TransferShares moves amount of p's shares from one holder to another.
func (tx *Tx) TransferShares(p *Pool, from, to common.Address, amount *big.Int) error {
	if err := tx.member(p); err != nil {
		return err
	}
	if to == (common.Address{}) {
		return fmt.Errorf("%w: transfer to the zero address", engine.ErrInvalidArgument)
	}
	value, err := toU256("shares", amount)
	if err != nil {
		return err
	}
	if value.IsZero() || from == to {
		return nil
	}
	balance := p.shareOf(from)
	if balance.Lt(value) {
		return fmt.Errorf("%w: %s holds %s shares, needs %s", ledger.ErrInsufficientBalance, from.Hex(), balance.Dec(), value.Dec())
	}
	tx.setShare(p, from, new(uint256.Int).Sub(balance, value))
	tx.setShare(p, to, new(uint256.Int).Add(p.shareOf(to), value))
	tx.emit(p, engine.Transfer{From: from, To: to, Value: value.ToBig()})
	return nil
}

func (tx *Tx) mintShares(p *Pool, to common.Address, amount *uint256.Int) {
	p.totalShares = new(uint256.Int).Add(p.totalShares, amount)
	tx.setShare(p, to, new(uint256.Int).Add(p.shareOf(to), amount))
	tx.emit(p, engine.Transfer{From: common.Address{}, To: to, Value: amount.ToBig()})
}

func (tx *Tx) burnShares(p *Pool, from common.Address, amount *uint256.Int) {
	p.totalShares = new(uint256.Int).Sub(p.totalShares, amount)
	tx.setShare(p, from, new(uint256.Int).Sub(p.shareOf(from), amount))
	tx.emit(p, engine.Transfer{From: from, To: common.Address{}, Value: amount.ToBig()})
}

// sync records new reserves; callers must have bounds-checked them.
func (tx *Tx) sync(p *Pool, balance0, balance1 *uint256.Int) {
	p.reserve0 = balance0.Clone()
	p.reserve1 = balance1.Clone()
	p.lastSync = p.clock()
	tx.emit(p, engine.Sync{Reserve0: balance0.ToBig(), Reserve1: balance1.ToBig()})
}

func (p *Pool) requireActive(role string, addr common.Address) error {
	if addr == (common.Address{}) {
		return fmt.Errorf("%w: %s is the zero address", engine.ErrInvalidArgument, role)
	}
	if !p.gate.IsActive(addr) {
		return fmt.Errorf("%w: %s %s is not active", engine.ErrAccessDenied, role, addr.Hex())
	}
	return nil
}

// held reads the pool's current balances of both tokens from the ledger.
func (p *Pool) held() (held0, held1 *uint256.Int, err error) {
	held0, overflow := uint256.FromBig(p.ledger.BalanceOf(p.token0, p.address))
	if overflow {
		return nil, nil, fmt.Errorf("%w: balance of %s overflows", engine.ErrInvalidArgument, p.token0.Hex())
	}
	held1, overflow = uint256.FromBig(p.ledger.BalanceOf(p.token1, p.address))
	if overflow {
		return nil, nil, fmt.Errorf("%w: balance of %s overflows", engine.ErrInvalidArgument, p.token1.Hex())
	}
	return held0, held1, nil
}

// burnAmounts must be called with p.mu held.
func (p *Pool) burnAmounts() (amount0, amount1, shares *uint256.Int, err error) {
	shares = p.shareOf(p.address)
	if shares.IsZero() || p.totalShares.IsZero() {
		return nil, nil, nil, fmt.Errorf("%w: no shares deposited for burning", engine.ErrInsufficientLiquidity)
	}
	amount0, err = mulDiv(shares, p.reserve0, p.totalShares)
	if err != nil {
		return nil, nil, nil, err
	}
	amount1, err = mulDiv(shares, p.reserve1, p.totalShares)
	if err != nil {
		return nil, nil, nil, err
	}
	if amount0.IsZero() || amount1.IsZero() {
		return nil, nil, nil, fmt.Errorf("%w: burning %s shares returns (%s, %s)", engine.ErrInsufficientLiquidity, shares.Dec(), amount0.Dec(), amount1.Dec())
	}
	return amount0, amount1, shares.Clone(), nil
}

// deposited returns held - reserve.
func deposited(held, reserve *uint256.Int) (*uint256.Int, error) {
	if held.Lt(reserve) {
		return nil, fmt.Errorf("%w: held balance %s is below reserve %s", engine.ErrInvariantViolation, held.Dec(), reserve.Dec())
	}
	return new(uint256.Int).Sub(held, reserve), nil
}

// amountIn returns max(0, balance - (reserve - amountOut)).
func amountIn(balance, reserve, amountOut *uint256.Int) *uint256.Int {
	floor := new(uint256.Int).Sub(reserve, amountOut)
	if balance.Gt(floor) {
		return new(uint256.Int).Sub(balance, floor)
	}
	return new(uint256.Int)
}

func checkBounds(balance0, balance1 *uint256.Int) error {
	if balance0.Gt(maxReserve) || balance1.Gt(maxReserve) {
		return fmt.Errorf("%w: balance overflows uint112", engine.ErrInvalidArgument)
	}
	return nil
}
