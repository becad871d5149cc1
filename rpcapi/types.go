package rpcapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/defistate/defistate-amm/engine"
	"github.com/defistate/defistate-amm/pool"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

// PoolInfo is the wire form of a pool snapshot. Amounts are hex encoded.
type PoolInfo struct {
	Address     common.Address `json:"address"`
	Token0      common.Address `json:"token0"`
	Token1      common.Address `json:"token1"`
	Reserve0    *hexutil.Big   `json:"reserve0"`
	Reserve1    *hexutil.Big   `json:"reserve1"`
	TotalShares *hexutil.Big   `json:"totalShares"`
	LastSync    hexutil.Uint64 `json:"lastSync"`
}

func newPoolInfo(v pool.View) *PoolInfo {
	return &PoolInfo{
		Address:     v.Address,
		Token0:      v.Token0,
		Token1:      v.Token1,
		Reserve0:    (*hexutil.Big)(v.Reserve0),
		Reserve1:    (*hexutil.Big)(v.Reserve1),
		TotalShares: (*hexutil.Big)(v.TotalShares),
		LastSync:    hexutil.Uint64(v.LastSync),
	}
}

// Reserves is the answer to amm_getReserves.
type Reserves struct {
	Reserve0 *hexutil.Big   `json:"reserve0"`
	Reserve1 *hexutil.Big   `json:"reserve1"`
	LastSync hexutil.Uint64 `json:"lastSync"`
}

// PathQuote pairs a route with the amounts it produces at every hop.
type PathQuote struct {
	Path    []common.Address `json:"path"`
	Amounts []*hexutil.Big   `json:"amounts"`
}

// LogMessage is what amm_subscribe("logs") delivers. Event carries the JSON body
// of the event named by Name.
type LogMessage struct {
	Seq     uint64           `json:"seq"`
	Emitter common.Address   `json:"emitter"`
	Time    time.Time        `json:"time"`
	Name    engine.EventName `json:"name"`
	Event   json.RawMessage  `json:"event"`
}

func newLogMessage(l engine.Log) (LogMessage, error) {
	if l.Event == nil {
		return LogMessage{}, errors.New("log has no event")
	}
	body, err := json.Marshal(l.Event)
	if err != nil {
		return LogMessage{}, fmt.Errorf("failed to encode %s: %w", l.Event.Name(), err)
	}
	return LogMessage{
		Seq:     l.Seq,
		Emitter: l.Emitter,
		Time:    l.Time,
		Name:    l.Event.Name(),
		Event:   body,
	}, nil
}

func toBig(h *hexutil.Big) *big.Int {
	if h == nil {
		return nil
	}
	return h.ToInt()
}

func toHexBigs(amounts []*big.Int) []*hexutil.Big {
	out := make([]*hexutil.Big, len(amounts))
	for i, a := range amounts {
		out[i] = (*hexutil.Big)(a)
	}
	return out
}

func fromHexBigs(amounts []*hexutil.Big) []*big.Int {
	out := make([]*big.Int, len(amounts))
	for i, a := range amounts {
		out[i] = toBig(a)
	}
	return out
}

// JSON-RPC error codes for the engine failure classes. Anything unlisted goes out
// as a plain server error.
var errorCodes = []struct {
	err  error
	code int
}{
	{engine.ErrInvalidArgument, -32602},
	{engine.ErrNotFound, 4004},
	{engine.ErrAccessDenied, 4003},
	{engine.ErrUnauthorized, 4001},
	{engine.ErrAlreadyExists, 4009},
	{engine.ErrExpired, 4008},
	{engine.ErrInsufficientLiquidity, 4100},
	{engine.ErrInsufficientInput, 4101},
	{engine.ErrInsufficientOutputAmount, 4102},
	{engine.ErrExcessiveInputAmount, 4103},
	{engine.ErrInsufficientAAmount, 4104},
	{engine.ErrInsufficientBAmount, 4105},
	{engine.ErrInvariantViolation, 4106},
}

// apiError attaches a JSON-RPC error code to an engine error.
type apiError struct {
	err  error
	code int
}

func (e *apiError) Error() string  { return e.err.Error() }
func (e *apiError) ErrorCode() int { return e.code }
func (e *apiError) Unwrap() error  { return e.err }

func wrapError(err error) error {
	if err == nil {
		return nil
	}
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return &apiError{err: err, code: ec.code}
		}
	}
	return err
}

// RemoteError is a server-side engine failure as seen by a Client. It unwraps to
// the engine sentinel so errors.Is works across the connection.
type RemoteError struct {
	Code    int
	Message string
	kind    error
}

func (e *RemoteError) Error() string { return e.Message }
func (e *RemoteError) Unwrap() error { return e.kind }

func unwrapError(err error) error {
	var rpcErr rpc.Error
	if !errors.As(err, &rpcErr) {
		return err
	}
	for _, ec := range errorCodes {
		if rpcErr.ErrorCode() == ec.code {
			return &RemoteError{Code: ec.code, Message: rpcErr.Error(), kind: ec.err}
		}
	}
	return err
}
