package engine

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

type EventName string

const (
	EventPoolCreated                 EventName = "PoolCreated"
	EventMint                        EventName = "Mint"
	EventBurn                        EventName = "Burn"
	EventSwap                        EventName = "Swap"
	EventSync                        EventName = "Sync"
	EventTransfer                    EventName = "Transfer"
	EventAddressWhitelisted          EventName = "AddressWhitelisted"
	EventAddressRemovedFromWhitelist EventName = "AddressRemovedFromWhitelist"
	EventPaused                      EventName = "Paused"
	EventUnpaused                    EventName = "Unpaused"
	EventOwnershipTransferred        EventName = "OwnershipTransferred"
)

// Event is a signal emitted for external observers and indexers.
type Event interface {
	Name() EventName
}

// Log wraps an Event with the identity of the component that emitted it.
// Seq is assigned by the Bus at publication and is strictly increasing.
type Log struct {
	Seq     uint64         `json:"seq"`
	Emitter common.Address `json:"emitter"`
	Time    time.Time      `json:"time"`
	Event   Event          `json:"event"`
}

type PoolCreated struct {
	Token0 common.Address `json:"token0"`
	Token1 common.Address `json:"token1"`
	Pool   common.Address `json:"pool"`
	Index  uint64         `json:"index"`
}

func (PoolCreated) Name() EventName { return EventPoolCreated }

type Mint struct {
	Caller  common.Address `json:"caller"`
	Amount0 *big.Int       `json:"amount0"`
	Amount1 *big.Int       `json:"amount1"`
}

func (Mint) Name() EventName { return EventMint }

type Burn struct {
	Caller    common.Address `json:"caller"`
	Amount0   *big.Int       `json:"amount0"`
	Amount1   *big.Int       `json:"amount1"`
	Recipient common.Address `json:"recipient"`
}

func (Burn) Name() EventName { return EventBurn }

type Swap struct {
	Caller     common.Address `json:"caller"`
	Amount0In  *big.Int       `json:"amount0In"`
	Amount1In  *big.Int       `json:"amount1In"`
	Amount0Out *big.Int       `json:"amount0Out"`
	Amount1Out *big.Int       `json:"amount1Out"`
	Recipient  common.Address `json:"recipient"`
}

func (Swap) Name() EventName { return EventSwap }

type Sync struct {
	Reserve0 *big.Int `json:"reserve0"`
	Reserve1 *big.Int `json:"reserve1"`
}

func (Sync) Name() EventName { return EventSync }

// Transfer records a movement of pool shares, including mints (From is zero) and burns (To is zero).
type Transfer struct {
	From  common.Address `json:"from"`
	To    common.Address `json:"to"`
	Value *big.Int       `json:"value"`
}

func (Transfer) Name() EventName { return EventTransfer }

type AddressWhitelisted struct {
	Address common.Address `json:"address"`
}

func (AddressWhitelisted) Name() EventName { return EventAddressWhitelisted }

type AddressRemovedFromWhitelist struct {
	Address common.Address `json:"address"`
}

func (AddressRemovedFromWhitelist) Name() EventName { return EventAddressRemovedFromWhitelist }

type Paused struct {
	Account common.Address `json:"account"`
}

func (Paused) Name() EventName { return EventPaused }

type Unpaused struct {
	Account common.Address `json:"account"`
}

func (Unpaused) Name() EventName { return EventUnpaused }

type OwnershipTransferred struct {
	PreviousOwner common.Address `json:"previousOwner"`
	NewOwner      common.Address `json:"newOwner"`
}

func (OwnershipTransferred) Name() EventName { return EventOwnershipTransferred }
