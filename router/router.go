// Package router is the user-facing entry point of the AMM. It quotes against live
// reserves, enforces deadlines and slippage bounds, balances liquidity deposits and
// runs every multi-step flow inside a single pool transaction.
package router

import (
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/defistate/defistate-amm/engine"
	"github.com/defistate/defistate-amm/pool"
	"github.com/defistate/defistate-amm/registry"
	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
)

// Logger defines a standard interface for structured, leveled logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Pools resolves, creates and indexes pools.
type Pools interface {
	GetPool(x, y common.Address) (*pool.Pool, bool)
	// CreatePoolWith creates a pool and runs setup in the same transaction. Nothing
	// of the pool survives a failed setup.
	CreatePoolWith(caller, x, y common.Address, setup func(tx *pool.Tx, p *pool.Pool) error) (*pool.Pool, error)
	Graph() *registry.GraphView
}

// Access reports whether an identity may call the router.
type Access interface {
	IsActive(addr common.Address) bool
}

// Config holds the dependencies of a Router.
type Config struct {
	Pools  Pools
	Access Access
	Clock  engine.Clock
	Logger Logger
	// Registry receives the router metrics. A private registry is used when nil.
	Registry prometheus.Registerer
}

func (c *Config) validate() error {
	if c.Pools == nil {
		return errors.New("config: Pools is required")
	}
	if c.Access == nil {
		return errors.New("config: Access is required")
	}
	return nil
}

// Router holds no state of its own between calls.
type Router struct {
	pools   Pools
	access  Access
	clock   engine.Clock
	logger  Logger
	metrics *Metrics
}

func New(cfg Config) (*Router, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
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
	return &Router{
		pools:   cfg.Pools,
		access:  cfg.Access,
		clock:   cfg.Clock,
		logger:  cfg.Logger,
		metrics: NewMetrics(cfg.Registry),
	}, nil
}

// AddLiquidityParams describes a deposit into the A/B pool.
type AddLiquidityParams struct {
	Caller         common.Address
	TokenA         common.Address
	TokenB         common.Address
	AmountADesired *big.Int
	AmountBDesired *big.Int
	AmountAMin     *big.Int
	AmountBMin     *big.Int
	Recipient      common.Address
	Deadline       time.Time
}

// RemoveLiquidityParams describes a redemption of shares of the A/B pool.
type RemoveLiquidityParams struct {
	Caller     common.Address
	TokenA     common.Address
	TokenB     common.Address
	Shares     *big.Int
	AmountAMin *big.Int
	AmountBMin *big.Int
	Recipient  common.Address
	Deadline   time.Time
}

// SwapExactInParams describes a swap of a fixed input along Path.
type SwapExactInParams struct {
	Caller       common.Address
	AmountIn     *big.Int
	AmountOutMin *big.Int
	Path         []common.Address
	Recipient    common.Address
	Deadline     time.Time
}

// SwapExactOutParams describes a swap for a fixed output along Path.
type SwapExactOutParams struct {
	Caller      common.Address
	AmountOut   *big.Int
	AmountInMax *big.Int
	Path        []common.Address
	Recipient   common.Address
	Deadline    time.Time
}

// AddLiquidity deposits a balanced amount of A and B into their pool, creating the
// pool if needed, and mints shares to the recipient.
func (r *Router) AddLiquidity(p AddLiquidityParams) (amountA, amountB, shares *big.Int, err error) {
	defer func(start time.Time) { r.metrics.observe("add_liquidity", start, err) }(time.Now())

	if err = r.checkEntry(p.Caller, p.Deadline); err != nil {
		return nil, nil, nil, err
	}
	if err = positive("amountADesired", p.AmountADesired); err != nil {
		return nil, nil, nil, err
	}
	if err = positive("amountBDesired", p.AmountBDesired); err != nil {
		return nil, nil, nil, err
	}
	aMin, bMin, err := minimums(p.AmountAMin, p.AmountBMin)
	if err != nil {
		return nil, nil, nil, err
	}

	deposit := func(tx *pool.Tx, target *pool.Pool) error {
		reserveA, reserveB, err := tx.ReservesFor(target, p.TokenA)
		if err != nil {
			return err
		}
		amountA, amountB, err = optimalAmounts(p.AmountADesired, p.AmountBDesired, aMin, bMin, reserveA, reserveB)
		if err != nil {
			return err
		}
		if err := tx.Deposit(target, p.TokenA, p.Caller, amountA); err != nil {
			return err
		}
		if err := tx.Deposit(target, p.TokenB, p.Caller, amountB); err != nil {
			return err
		}
		shares, err = tx.Mint(target, p.Caller, p.Recipient)
		return err
	}

	// A new pool is created inside the deposit transaction so a failed genesis
	// leaves no pool behind.
	target, exists := r.pools.GetPool(p.TokenA, p.TokenB)
	if !exists {
		target, err = r.pools.CreatePoolWith(p.Caller, p.TokenA, p.TokenB, deposit)
		if errors.Is(err, engine.ErrAlreadyExists) {
			// lost a creation race
			target, exists = r.pools.GetPool(p.TokenA, p.TokenB)
		}
		if err != nil && !exists {
			return nil, nil, nil, err
		}
	}
	if exists {
		err = pool.Atomic([]*pool.Pool{target}, func(tx *pool.Tx) error {
			return deposit(tx, target)
		})
		if err != nil {
			return nil, nil, nil, err
		}
	}

	r.logger.Info("liquidity added",
		"pool", target.Address().Hex(),
		"amountA", amountA.String(),
		"amountB", amountB.String(),
		"shares", shares.String(),
	)
	return amountA, amountB, shares, nil
}

// optimalAmounts keeps the deposit at the pool's current price, preferring the full
// desired amount of A. An empty pool accepts the desired amounts as they are.
func optimalAmounts(aDesired, bDesired, aMin, bMin, reserveA, reserveB *big.Int) (amountA, amountB *big.Int, err error) {
	if reserveA.Sign() == 0 && reserveB.Sign() == 0 {
		return new(big.Int).Set(aDesired), new(big.Int).Set(bDesired), nil
	}
	bOptimal, err := Quote(aDesired, reserveA, reserveB)
	if err != nil {
		return nil, nil, err
	}
	if bOptimal.Cmp(bDesired) <= 0 {
		if bOptimal.Cmp(bMin) < 0 {
			return nil, nil, fmt.Errorf("%w: optimal B %s is below minimum %s", engine.ErrInsufficientBAmount, bOptimal.String(), bMin.String())
		}
		return new(big.Int).Set(aDesired), bOptimal, nil
	}
	aOptimal, err := Quote(bDesired, reserveB, reserveA)
	if err != nil {
		return nil, nil, err
	}
	if aOptimal.Cmp(aDesired) > 0 {
		return nil, nil, fmt.Errorf("%w: optimal A %s exceeds desired %s", engine.ErrInvalidArgument, aOptimal.String(), aDesired.String())
	}
	if aOptimal.Cmp(aMin) < 0 {
		return nil, nil, fmt.Errorf("%w: optimal A %s is below minimum %s", engine.ErrInsufficientAAmount, aOptimal.String(), aMin.String())
	}
	return aOptimal, new(big.Int).Set(bDesired), nil
}

// RemoveLiquidity moves the caller's shares into the pool, burns them and pays both
// assets to the recipient.
func (r *Router) RemoveLiquidity(p RemoveLiquidityParams) (amountA, amountB *big.Int, err error) {
	defer func(start time.Time) { r.metrics.observe("remove_liquidity", start, err) }(time.Now())

	if err = r.checkEntry(p.Caller, p.Deadline); err != nil {
		return nil, nil, err
	}
	if err = positive("shares", p.Shares); err != nil {
		return nil, nil, err
	}
	aMin, bMin, err := minimums(p.AmountAMin, p.AmountBMin)
	if err != nil {
		return nil, nil, err
	}
	target, ok := r.pools.GetPool(p.TokenA, p.TokenB)
	if !ok {
		return nil, nil, fmt.Errorf("%w: no pool for %s/%s", engine.ErrNotFound, p.TokenA.Hex(), p.TokenB.Hex())
	}

	err = pool.Atomic([]*pool.Pool{target}, func(tx *pool.Tx) error {
		if err := tx.TransferShares(target, p.Caller, target.Address(), p.Shares); err != nil {
			return err
		}
		amount0, amount1, err := tx.PreviewBurn(target)
		if err != nil {
			return err
		}
		amountA, amountB = orient(target, p.TokenA, amount0, amount1)
		if amountA.Cmp(aMin) < 0 {
			return fmt.Errorf("%w: A %s is below minimum %s", engine.ErrInsufficientAAmount, amountA.String(), aMin.String())
		}
		if amountB.Cmp(bMin) < 0 {
			return fmt.Errorf("%w: B %s is below minimum %s", engine.ErrInsufficientBAmount, amountB.String(), bMin.String())
		}
		amount0, amount1, err = tx.Burn(target, p.Caller, p.Recipient)
		if err != nil {
			return err
		}
		amountA, amountB = orient(target, p.TokenA, amount0, amount1)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	r.logger.Info("liquidity removed",
		"pool", target.Address().Hex(),
		"amountA", amountA.String(),
		"amountB", amountB.String(),
	)
	return amountA, amountB, nil
}

// SwapExactTokensForTokens sells exactly AmountIn of Path[0] for as much of the last
// asset as the path yields, failing if that is below AmountOutMin.
func (r *Router) SwapExactTokensForTokens(p SwapExactInParams) (amounts []*big.Int, err error) {
	defer func(start time.Time) { r.metrics.observe("swap_exact_in", start, err) }(time.Now())

	if err = r.checkEntry(p.Caller, p.Deadline); err != nil {
		return nil, err
	}
	if err = positive("amountIn", p.AmountIn); err != nil {
		return nil, err
	}
	minOut := p.AmountOutMin
	if minOut == nil {
		minOut = new(big.Int)
	}
	if minOut.Sign() < 0 {
		return nil, fmt.Errorf("%w: amountOutMin is negative", engine.ErrInvalidArgument)
	}
	hops, err := r.resolvePath(p.Path)
	if err != nil {
		return nil, err
	}

	err = pool.Atomic(hops, func(tx *pool.Tx) error {
		amounts, err = amountsOut(tx.ReservesFor, p.AmountIn, p.Path, hops)
		if err != nil {
			return err
		}
		final := amounts[len(amounts)-1]
		if final.Cmp(minOut) < 0 {
			return fmt.Errorf("%w: output %s is below minimum %s", engine.ErrInsufficientOutputAmount, final.String(), minOut.String())
		}
		return execute(tx, p.Caller, p.Path, hops, amounts, p.Recipient)
	})
	if err != nil {
		return nil, err
	}

	r.logger.Info("swap executed",
		"mode", "exact_in",
		"hops", len(hops),
		"amountIn", amounts[0].String(),
		"amountOut", amounts[len(amounts)-1].String(),
	)
	return amounts, nil
}

// SwapTokensForExactTokens buys exactly AmountOut of the last asset of Path, failing
// if the required input of Path[0] exceeds AmountInMax.
func (r *Router) SwapTokensForExactTokens(p SwapExactOutParams) (amounts []*big.Int, err error) {
	defer func(start time.Time) { r.metrics.observe("swap_exact_out", start, err) }(time.Now())

	if err = r.checkEntry(p.Caller, p.Deadline); err != nil {
		return nil, err
	}
	if err = positive("amountOut", p.AmountOut); err != nil {
		return nil, err
	}
	if p.AmountInMax == nil || p.AmountInMax.Sign() < 0 {
		return nil, fmt.Errorf("%w: amountInMax must be non-negative", engine.ErrInvalidArgument)
	}
	hops, err := r.resolvePath(p.Path)
	if err != nil {
		return nil, err
	}

	err = pool.Atomic(hops, func(tx *pool.Tx) error {
		amounts, err = amountsIn(tx.ReservesFor, p.AmountOut, p.Path, hops)
		if err != nil {
			return err
		}
		if amounts[0].Cmp(p.AmountInMax) > 0 {
			return fmt.Errorf("%w: input %s exceeds maximum %s", engine.ErrExcessiveInputAmount, amounts[0].String(), p.AmountInMax.String())
		}
		return execute(tx, p.Caller, p.Path, hops, amounts, p.Recipient)
	})
	if err != nil {
		return nil, err
	}

	r.logger.Info("swap executed",
		"mode", "exact_out",
		"hops", len(hops),
		"amountIn", amounts[0].String(),
		"amountOut", amounts[len(amounts)-1].String(),
	)
	return amounts, nil
}

// execute deposits amounts[0] into the first pool and chains the hops, each paying
// the next pool and the last one paying recipient.
func execute(tx *pool.Tx, caller common.Address, path []common.Address, hops []*pool.Pool, amounts []*big.Int, recipient common.Address) error {
	if err := tx.Deposit(hops[0], path[0], caller, amounts[0]); err != nil {
		return fmt.Errorf("hop 0: %w", err)
	}
	for i, hop := range hops {
		to := recipient
		if i < len(hops)-1 {
			to = hops[i+1].Address()
		}
		out := amounts[i+1]
		zero := new(big.Int)
		amount0Out, amount1Out := zero, out
		if path[i] == hop.Token1() {
			amount0Out, amount1Out = out, zero
		}
		if err := tx.Swap(hop, caller, amount0Out, amount1Out, to); err != nil {
			return fmt.Errorf("hop %d: %w", i, err)
		}
	}
	return nil
}

// GetAmountsOut quotes every intermediate amount of an exact-input swap along path
// against the current reserves.
func (r *Router) GetAmountsOut(amountIn *big.Int, path []common.Address) ([]*big.Int, error) {
	hops, err := r.resolvePath(path)
	if err != nil {
		return nil, err
	}
	return amountsOut(liveReserves, amountIn, path, hops)
}

// GetAmountsIn quotes every intermediate amount of an exact-output swap along path
// against the current reserves.
func (r *Router) GetAmountsIn(amountOut *big.Int, path []common.Address) ([]*big.Int, error) {
	hops, err := r.resolvePath(path)
	if err != nil {
		return nil, err
	}
	return amountsIn(liveReserves, amountOut, path, hops)
}

// reserveSource returns a pool's reserves oriented as (assetIn, assetOut).
type reserveSource func(p *pool.Pool, assetIn common.Address) (reserveIn, reserveOut *big.Int, err error)

func liveReserves(p *pool.Pool, assetIn common.Address) (*big.Int, *big.Int, error) {
	reserveIn, reserveOut := p.ReservesFor(assetIn)
	return reserveIn, reserveOut, nil
}

// reserveOverlay tracks the reserves each pool will hold once the earlier hops of a
// path have executed, so a pool visited twice is quoted against its updated state.
type reserveOverlay struct {
	source   reserveSource
	reserves map[*pool.Pool][2]*big.Int
}

func newReserveOverlay(source reserveSource) *reserveOverlay {
	return &reserveOverlay{source: source, reserves: make(map[*pool.Pool][2]*big.Int)}
}

func (o *reserveOverlay) reservesFor(p *pool.Pool, assetIn common.Address) (*big.Int, *big.Int, error) {
	if r, ok := o.reserves[p]; ok {
		if assetIn == p.Token0() {
			return r[0], r[1], nil
		}
		return r[1], r[0], nil
	}
	return o.source(p, assetIn)
}

// apply records a hop that sells amountIn of assetIn for amountOut.
func (o *reserveOverlay) apply(p *pool.Pool, assetIn common.Address, amountIn, amountOut *big.Int) error {
	reserveIn, reserveOut, err := o.reservesFor(p, assetIn)
	if err != nil {
		return err
	}
	reserveIn = new(big.Int).Add(reserveIn, amountIn)
	reserveOut = new(big.Int).Sub(reserveOut, amountOut)
	if assetIn == p.Token0() {
		o.reserves[p] = [2]*big.Int{reserveIn, reserveOut}
	} else {
		o.reserves[p] = [2]*big.Int{reserveOut, reserveIn}
	}
	return nil
}

func amountsOut(reserves reserveSource, amountIn *big.Int, path []common.Address, hops []*pool.Pool) ([]*big.Int, error) {
	if err := positive("amountIn", amountIn); err != nil {
		return nil, err
	}
	overlay := newReserveOverlay(reserves)
	amounts := make([]*big.Int, len(path))
	amounts[0] = new(big.Int).Set(amountIn)
	for i, hop := range hops {
		reserveIn, reserveOut, err := overlay.reservesFor(hop, path[i])
		if err != nil {
			return nil, fmt.Errorf("hop %d: %w", i, err)
		}
		amounts[i+1], err = GetAmountOut(amounts[i], reserveIn, reserveOut)
		if err != nil {
			return nil, fmt.Errorf("hop %d: %w", i, err)
		}
		if err := overlay.apply(hop, path[i], amounts[i], amounts[i+1]); err != nil {
			return nil, fmt.Errorf("hop %d: %w", i, err)
		}
	}
	return amounts, nil
}

func amountsIn(reserves reserveSource, amountOut *big.Int, path []common.Address, hops []*pool.Pool) ([]*big.Int, error) {
	if err := positive("amountOut", amountOut); err != nil {
		return nil, err
	}
	amounts := make([]*big.Int, len(path))
	amounts[len(amounts)-1] = new(big.Int).Set(amountOut)
	for i := len(hops) - 1; i >= 0; i-- {
		reserveIn, reserveOut, err := reserves(hops[i], path[i])
		if err != nil {
			return nil, fmt.Errorf("hop %d: %w", i, err)
		}
		amounts[i], err = GetAmountIn(amounts[i+1], reserveIn, reserveOut)
		if err != nil {
			return nil, fmt.Errorf("hop %d: %w", i, err)
		}
	}
	if !revisits(hops) {
		return amounts, nil
	}
	return searchAmountsIn(reserves, amountOut, path, hops, amounts[0])
}

// maxSearchDoublings bounds the upper-bound search in searchAmountsIn.
const maxSearchDoublings = 256

// searchAmountsIn finds the smallest input whose exact-input quote along path yields
// at least amountOut. It is used when a pool appears more than once, where quoting
// every hop backwards against the entry reserves would misprice the later visit.
// The last amount is pinned to amountOut and any surplus stays in the final pool.
func searchAmountsIn(reserves reserveSource, amountOut *big.Int, path []common.Address, hops []*pool.Pool, guess *big.Int) ([]*big.Int, error) {
	reaches := func(amountIn *big.Int) ([]*big.Int, bool) {
		amounts, err := amountsOut(reserves, amountIn, path, hops)
		if err != nil {
			return nil, false
		}
		return amounts, amounts[len(amounts)-1].Cmp(amountOut) >= 0
	}

	hi := new(big.Int).Set(guess)
	for i := 0; ; i++ {
		if _, ok := reaches(hi); ok {
			break
		}
		if i == maxSearchDoublings {
			return nil, fmt.Errorf("%w: path cannot deliver %s", engine.ErrInsufficientLiquidity, amountOut.String())
		}
		hi.Lsh(hi, 1)
	}

	lo := big.NewInt(1)
	for lo.Cmp(hi) < 0 {
		mid := new(big.Int).Add(lo, hi)
		mid.Rsh(mid, 1)
		if _, ok := reaches(mid); ok {
			hi = mid
		} else {
			lo = mid.Add(mid, one)
		}
	}
	amounts, _ := reaches(hi)
	amounts[len(amounts)-1] = new(big.Int).Set(amountOut)
	return amounts, nil
}

func revisits(hops []*pool.Pool) bool {
	seen := make(map[*pool.Pool]struct{}, len(hops))
	for _, hop := range hops {
		if _, ok := seen[hop]; ok {
			return true
		}
		seen[hop] = struct{}{}
	}
	return false
}

// resolvePath returns the pool of every hop. A pool may appear more than once, but
// not in two consecutive hops: that hop would pay its output back into itself.
func (r *Router) resolvePath(path []common.Address) ([]*pool.Pool, error) {
	if len(path) < 2 {
		return nil, fmt.Errorf("%w: path needs at least two assets, got %d", engine.ErrInvalidArgument, len(path))
	}
	hops := make([]*pool.Pool, len(path)-1)
	for i := range hops {
		if _, _, err := registry.SortTokens(path[i], path[i+1]); err != nil {
			return nil, fmt.Errorf("hop %d: %w", i, err)
		}
		p, ok := r.pools.GetPool(path[i], path[i+1])
		if !ok {
			return nil, fmt.Errorf("hop %d: %w: no pool for %s/%s", i, engine.ErrNotFound, path[i].Hex(), path[i+1].Hex())
		}
		if i > 0 && hops[i-1] == p {
			return nil, fmt.Errorf("hop %d: %w: path turns back through pool %s", i, engine.ErrInvalidArgument, p.Address().Hex())
		}
		hops[i] = p
	}
	return hops, nil
}

// checkEntry enforces the deadline and the caller's access.
func (r *Router) checkEntry(caller common.Address, deadline time.Time) error {
	if now := r.clock(); now.After(deadline) {
		return fmt.Errorf("%w: deadline %s passed at %s", engine.ErrExpired, deadline.UTC().Format(time.RFC3339), now.UTC().Format(time.RFC3339))
	}
	if !r.access.IsActive(caller) {
		return fmt.Errorf("%w: caller %s is not active", engine.ErrAccessDenied, caller.Hex())
	}
	return nil
}

func minimums(aMin, bMin *big.Int) (*big.Int, *big.Int, error) {
	if aMin == nil {
		aMin = new(big.Int)
	}
	if bMin == nil {
		bMin = new(big.Int)
	}
	if aMin.Sign() < 0 || bMin.Sign() < 0 {
		return nil, nil, fmt.Errorf("%w: minimums must be non-negative", engine.ErrInvalidArgument)
	}
	return aMin, bMin, nil
}

// orient maps a pool's (token0, token1) amounts onto (tokenA, tokenB).
func orient(p *pool.Pool, tokenA common.Address, amount0, amount1 *big.Int) (amountA, amountB *big.Int) {
	if tokenA == p.Token0() {
		return amount0, amount1
	}
	return amount1, amount0
}
