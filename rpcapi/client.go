package rpcapi

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

// Constants for reconnection logic
const (
	initialReconnectDelay = 1 * time.Second
	maxReconnectDelay     = 30 * time.Second
)

// Client is a typed wrapper around an rpc.Client speaking the amm namespace.
type Client struct {
	c *rpc.Client
}

// Dial connects to an ammd endpoint over HTTP, WebSocket or IPC.
func Dial(ctx context.Context, url string) (*Client, error) {
	c, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC server: %w", err)
	}
	return NewClient(c), nil
}

func NewClient(c *rpc.Client) *Client {
	return &Client{c: c}
}

func (c *Client) Close() {
	c.c.Close()
}

func (c *Client) call(ctx context.Context, result any, method string, args ...any) error {
	return unwrapError(c.c.CallContext(ctx, result, Namespace+"_"+method, args...))
}

func (c *Client) PoolCount(ctx context.Context) (uint64, error) {
	var n hexutil.Uint64
	if err := c.call(ctx, &n, "poolCount"); err != nil {
		return 0, err
	}
	return uint64(n), nil
}

// GetPool returns nil without an error when the pair has no pool.
func (c *Client) GetPool(ctx context.Context, tokenA, tokenB common.Address) (*PoolInfo, error) {
	var info *PoolInfo
	if err := c.call(ctx, &info, "getPool", tokenA, tokenB); err != nil {
		return nil, err
	}
	return info, nil
}

func (c *Client) PoolAt(ctx context.Context, index uint64) (*PoolInfo, error) {
	var info *PoolInfo
	if err := c.call(ctx, &info, "poolAt", hexutil.Uint64(index)); err != nil {
		return nil, err
	}
	return info, nil
}

func (c *Client) GetReserves(ctx context.Context, poolAddr common.Address) (*Reserves, error) {
	var r *Reserves
	if err := c.call(ctx, &r, "getReserves", poolAddr); err != nil {
		return nil, err
	}
	return r, nil
}

func (c *Client) IsActive(ctx context.Context, addr common.Address) (bool, error) {
	var ok bool
	err := c.call(ctx, &ok, "isActive", addr)
	return ok, err
}

func (c *Client) IsPermitted(ctx context.Context, addr common.Address) (bool, error) {
	var ok bool
	err := c.call(ctx, &ok, "isPermitted", addr)
	return ok, err
}

func (c *Client) Paused(ctx context.Context) (bool, error) {
	var ok bool
	err := c.call(ctx, &ok, "paused")
	return ok, err
}

func (c *Client) GetAmountsOut(ctx context.Context, amountIn *big.Int, path []common.Address) ([]*big.Int, error) {
	var amounts []*hexutil.Big
	if err := c.call(ctx, &amounts, "getAmountsOut", (*hexutil.Big)(amountIn), path); err != nil {
		return nil, err
	}
	return fromHexBigs(amounts), nil
}

func (c *Client) GetAmountsIn(ctx context.Context, amountOut *big.Int, path []common.Address) ([]*big.Int, error) {
	var amounts []*hexutil.Big
	if err := c.call(ctx, &amounts, "getAmountsIn", (*hexutil.Big)(amountOut), path); err != nil {
		return nil, err
	}
	return fromHexBigs(amounts), nil
}

func (c *Client) Quote(ctx context.Context, amountA, reserveA, reserveB *big.Int) (*big.Int, error) {
	var amountB hexutil.Big
	if err := c.call(ctx, &amountB, "quote", (*hexutil.Big)(amountA), (*hexutil.Big)(reserveA), (*hexutil.Big)(reserveB)); err != nil {
		return nil, err
	}
	return amountB.ToInt(), nil
}

func (c *Client) FindPaths(ctx context.Context, tokenIn, tokenOut common.Address, maxHops int) ([][]common.Address, error) {
	var paths [][]common.Address
	if err := c.call(ctx, &paths, "findPaths", tokenIn, tokenOut, maxHops); err != nil {
		return nil, err
	}
	return paths, nil
}

func (c *Client) BestPath(ctx context.Context, amountIn *big.Int, tokenIn, tokenOut common.Address, maxHops int) ([]common.Address, []*big.Int, error) {
	var q PathQuote
	if err := c.call(ctx, &q, "bestPath", (*hexutil.Big)(amountIn), tokenIn, tokenOut, maxHops); err != nil {
		return nil, nil, err
	}
	return q.Path, fromHexBigs(q.Amounts), nil
}

// SubscribeLogs delivers every log the server publishes after the call to ch.
func (c *Client) SubscribeLogs(ctx context.Context, ch chan<- LogMessage) (*rpc.ClientSubscription, error) {
	sub, err := c.c.Subscribe(ctx, Namespace, ch, LogsSubscription)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}
	return sub, nil
}

// StreamConfig holds the configuration for a LogStream.
type StreamConfig struct {
	URL        string
	Logger     Logger
	BufferSize uint
}

// validate checks if the configuration is valid.
func (c *StreamConfig) validate() error {
	if c.URL == "" {
		return errors.New("config: URL is required")
	}
	if c.BufferSize < 1 {
		return errors.New("config: BufferSize must be greater than 0")
	}
	if c.Logger == nil {
		return errors.New("config: Logger is required")
	}
	return nil
}

// LogStream follows the logs subscription of a remote ammd and reconnects with
// exponential backoff when the connection drops. Logs published while
// disconnected are not replayed; use amm_recentLogs to fill gaps.
type LogStream struct {
	logs   chan LogMessage
	errCh  chan error
	logger Logger
}

// NewLogStream starts following cfg.URL until ctx is canceled.
func NewLogStream(ctx context.Context, cfg StreamConfig) (*LogStream, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	s := &LogStream{
		logs:   make(chan LogMessage, cfg.BufferSize),
		errCh:  make(chan error, 1),
		logger: cfg.Logger,
	}
	go s.run(ctx, cfg.URL)
	return s, nil
}

// Logs returns a read-only channel of received logs.
func (s *LogStream) Logs() <-chan LogMessage {
	return s.logs
}

// Err receives the reason the stream stopped and is then closed. The stream only
// stops when its context ends, so the error is the context's.
func (s *LogStream) Err() <-chan error {
	return s.errCh
}

// run handles the networking lifecycle.
func (s *LogStream) run(ctx context.Context, url string) {
	defer func() {
		s.errCh <- ctx.Err()
		close(s.errCh)
	}()
	reconnectDelay := initialReconnectDelay

	for {
		if ctx.Err() != nil {
			s.logger.Info("Log stream context canceled, shutting down.")
			return
		}

		s.logger.Info("Attempting to connect to RPC server", "url", url)
		client, err := Dial(ctx, url)
		if err != nil {
			s.logger.Error("Failed to connect to RPC server, will retry...", "error", err, "delay", reconnectDelay)
			if !sleep(ctx, reconnectDelay) {
				return
			}
			reconnectDelay = min(reconnectDelay*2, maxReconnectDelay)
			continue
		}

		s.logger.Info("Successfully connected to RPC server.")
		reconnectDelay = initialReconnectDelay

		err = s.subscribeAndForward(ctx, client)
		if err != nil {
			if ctx.Err() != nil {
				s.logger.Info("Context canceled, shutting down.")
				return
			}
			s.logger.Error("Subscription failed, will reconnect...", "error", err, "delay", reconnectDelay)
			if !sleep(ctx, reconnectDelay) {
				return
			}
			reconnectDelay = min(reconnectDelay*2, maxReconnectDelay)
		}
	}
}

func (s *LogStream) subscribeAndForward(ctx context.Context, client *Client) error {
	defer client.Close()

	rawCh := make(chan LogMessage, cap(s.logs))
	sub, err := client.SubscribeLogs(ctx, rawCh)
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	s.logger.Info("Successfully subscribed. Waiting for logs...")
	for {
		select {
		case msg := <-rawCh:
			select {
			case s.logs <- msg:
			case <-ctx.Done():
				return ctx.Err()
			}
		case err := <-sub.Err():
			if err == nil {
				err = errors.New("subscription closed")
			}
			return err
		case <-ctx.Done():
			s.logger.Info("Context cancelled, stopping subscription.")
			return ctx.Err()
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
