// Package rpcapi serves read-only AMM state and a live log stream over the
// go-ethereum JSON-RPC stack, and provides a typed client for it.
package rpcapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/defistate/defistate-amm/engine"
	"github.com/defistate/defistate-amm/journal"
	"github.com/defistate/defistate-amm/pool"
	"github.com/defistate/defistate-amm/router"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/rpc"
)

const (
	// Namespace is the namespace under which the Service is registered.
	Namespace = "amm"
	// LogsSubscription is the amm_subscribe topic that streams published logs.
	LogsSubscription = "logs"

	defaultBufferSize = 128
	maxRecentLogs     = 1000
)

// Logger defines a standard interface for structured, leveled logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Pools is the read side of the pool registry.
type Pools interface {
	PoolCount() int
	PoolAt(i int) (*pool.Pool, error)
	GetPool(x, y common.Address) (*pool.Pool, bool)
	PoolByAddress(addr common.Address) (*pool.Pool, bool)
}

// Access is the read side of the access registry.
type Access interface {
	IsActive(addr common.Address) bool
	IsPermitted(addr common.Address) bool
	Paused() bool
}

// Quoter prices paths against live reserves.
type Quoter interface {
	GetAmountsOut(amountIn *big.Int, path []common.Address) ([]*big.Int, error)
	GetAmountsIn(amountOut *big.Int, path []common.Address) ([]*big.Int, error)
	FindPaths(tokenIn, tokenOut common.Address, maxHops int) ([][]common.Address, error)
	BestPathOut(amountIn *big.Int, tokenIn, tokenOut common.Address, maxHops int) ([]common.Address, []*big.Int, error)
}

// Source delivers published logs, normally an *engine.Bus.
type Source interface {
	Subscribe(ch chan<- engine.Log) event.Subscription
}

// History answers amm_recentLogs. It is optional.
type History interface {
	Recent(ctx context.Context, limit int) ([]journal.Record, error)
	ByEvent(ctx context.Context, name engine.EventName, limit int) ([]journal.Record, error)
}

type Config struct {
	Pools   Pools
	Access  Access
	Quoter  Quoter
	Source  Source
	History History
	Logger  Logger
	// BufferSize is the per-subscriber log buffer.
	BufferSize int
}

func (c *Config) validate() error {
	if c.Pools == nil {
		return errors.New("config: Pools is required")
	}
	if c.Access == nil {
		return errors.New("config: Access is required")
	}
	if c.Quoter == nil {
		return errors.New("config: Quoter is required")
	}
	if c.Source == nil {
		return errors.New("config: Source is required")
	}
	if c.BufferSize < 0 {
		return errors.New("config: BufferSize must not be negative")
	}
	return nil
}

// Service is registered under Namespace. Every exported method becomes amm_<name>.
type Service struct {
	pools      Pools
	access     Access
	quoter     Quoter
	source     Source
	history    History
	logger     Logger
	bufferSize int
}

func NewService(cfg Config) (*Service, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.BufferSize == 0 {
		cfg.BufferSize = defaultBufferSize
	}
	return &Service{
		pools:      cfg.Pools,
		access:     cfg.Access,
		quoter:     cfg.Quoter,
		source:     cfg.Source,
		history:    cfg.History,
		logger:     cfg.Logger,
		bufferSize: cfg.BufferSize,
	}, nil
}

// NewServer returns an rpc.Server with svc registered under Namespace.
func NewServer(svc *Service) (*rpc.Server, error) {
	server := rpc.NewServer()
	if err := server.RegisterName(Namespace, svc); err != nil {
		return nil, fmt.Errorf("failed to register API: %w", err)
	}
	return server, nil
}

func (s *Service) PoolCount() hexutil.Uint64 {
	return hexutil.Uint64(s.pools.PoolCount())
}

// GetPool returns the pool for the unordered pair, or null when none exists.
func (s *Service) GetPool(tokenA, tokenB common.Address) *PoolInfo {
	p, ok := s.pools.GetPool(tokenA, tokenB)
	if !ok {
		return nil
	}
	return newPoolInfo(p.View())
}

// PoolAt returns the pool at a zero-based creation index.
func (s *Service) PoolAt(index hexutil.Uint64) (*PoolInfo, error) {
	p, err := s.pools.PoolAt(int(index))
	if err != nil {
		return nil, wrapError(err)
	}
	return newPoolInfo(p.View()), nil
}

func (s *Service) GetReserves(poolAddr common.Address) (*Reserves, error) {
	p, ok := s.pools.PoolByAddress(poolAddr)
	if !ok {
		return nil, wrapError(fmt.Errorf("%w: no pool at %s", engine.ErrNotFound, poolAddr.Hex()))
	}
	reserve0, reserve1, lastSync := p.GetReserves()
	var ts uint64
	if !lastSync.IsZero() {
		ts = uint64(lastSync.Unix())
	}
	return &Reserves{
		Reserve0: (*hexutil.Big)(reserve0),
		Reserve1: (*hexutil.Big)(reserve1),
		LastSync: hexutil.Uint64(ts),
	}, nil
}

func (s *Service) IsActive(addr common.Address) bool {
	return s.access.IsActive(addr)
}

func (s *Service) IsPermitted(addr common.Address) bool {
	return s.access.IsPermitted(addr)
}

func (s *Service) Paused() bool {
	return s.access.Paused()
}

func (s *Service) GetAmountsOut(amountIn *hexutil.Big, path []common.Address) ([]*hexutil.Big, error) {
	amounts, err := s.quoter.GetAmountsOut(toBig(amountIn), path)
	if err != nil {
		return nil, wrapError(err)
	}
	return toHexBigs(amounts), nil
}

func (s *Service) GetAmountsIn(amountOut *hexutil.Big, path []common.Address) ([]*hexutil.Big, error) {
	amounts, err := s.quoter.GetAmountsIn(toBig(amountOut), path)
	if err != nil {
		return nil, wrapError(err)
	}
	return toHexBigs(amounts), nil
}

// Quote prices amountA at the reserveA:reserveB ratio without a fee.
func (s *Service) Quote(amountA, reserveA, reserveB *hexutil.Big) (*hexutil.Big, error) {
	amountB, err := router.Quote(toBig(amountA), toBig(reserveA), toBig(reserveB))
	if err != nil {
		return nil, wrapError(err)
	}
	return (*hexutil.Big)(amountB), nil
}

// FindPaths lists the routes between two tokens. maxHops is optional.
func (s *Service) FindPaths(tokenIn, tokenOut common.Address, maxHops *int) ([][]common.Address, error) {
	paths, err := s.quoter.FindPaths(tokenIn, tokenOut, hops(maxHops))
	if err != nil {
		return nil, wrapError(err)
	}
	if paths == nil {
		paths = [][]common.Address{}
	}
	return paths, nil
}

// BestPath returns the route with the largest output for amountIn. maxHops is optional.
func (s *Service) BestPath(amountIn *hexutil.Big, tokenIn, tokenOut common.Address, maxHops *int) (*PathQuote, error) {
	path, amounts, err := s.quoter.BestPathOut(toBig(amountIn), tokenIn, tokenOut, hops(maxHops))
	if err != nil {
		return nil, wrapError(err)
	}
	return &PathQuote{Path: path, Amounts: toHexBigs(amounts)}, nil
}

// RecentLogs returns journaled logs, newest first, optionally filtered by event name.
func (s *Service) RecentLogs(ctx context.Context, limit int, name *string) ([]journal.Record, error) {
	if s.history == nil {
		return nil, errors.New("log history is not enabled")
	}
	if limit <= 0 || limit > maxRecentLogs {
		return nil, wrapError(fmt.Errorf("%w: limit must be in [1, %d]", engine.ErrInvalidArgument, maxRecentLogs))
	}
	var (
		records []journal.Record
		err     error
	)
	if name != nil && *name != "" {
		records, err = s.history.ByEvent(ctx, engine.EventName(*name), limit)
	} else {
		records, err = s.history.Recent(ctx, limit)
	}
	if err != nil {
		return nil, wrapError(err)
	}
	if records == nil {
		records = []journal.Record{}
	}
	return records, nil
}

// Logs streams every log published after the subscription is created.
func (s *Service) Logs(ctx context.Context) (*rpc.Subscription, error) {
	notifier, supported := rpc.NotifierFromContext(ctx)
	if !supported {
		return nil, rpc.ErrNotificationsUnsupported
	}

	rpcSub := notifier.CreateSubscription()
	logs := make(chan engine.Log, s.bufferSize)
	busSub := s.source.Subscribe(logs)

	go func() {
		defer busSub.Unsubscribe()
		for {
			select {
			case l := <-logs:
				msg, err := newLogMessage(l)
				if err != nil {
					s.logger.Warn("Dropping log that cannot be encoded", "seq", l.Seq, "error", err)
					continue
				}
				if err := notifier.Notify(rpcSub.ID, msg); err != nil {
					s.logger.Debug("Error notifying subscriber", "subscription", rpcSub.ID, "error", err)
					return
				}
			case <-rpcSub.Err():
				return
			case <-notifier.Closed():
				return
			case <-busSub.Err():
				return
			}
		}
	}()
	return rpcSub, nil
}

func hops(maxHops *int) int {
	if maxHops == nil {
		return 0
	}
	return *maxHops
}
