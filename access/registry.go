// Package access implements the allow-list that gates every mutating AMM operation.
package access

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/defistate/defistate-amm/engine"
	"github.com/ethereum/go-ethereum/common"
)

// Logger defines a standard interface for structured, leveled logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Config holds the dependencies and settings for a Registry.
type Config struct {
	// Address identifies the registry as the emitter of its logs.
	Address   common.Address
	Owner     common.Address
	Publisher engine.Publisher
	Clock     engine.Clock
	Logger    Logger
}

func (c *Config) validate() error {
	if c.Owner == (common.Address{}) {
		return errors.New("config: Owner is required")
	}
	return nil
}

// Registry owns the permission set and the pause flag.
type Registry struct {
	address   common.Address
	publisher engine.Publisher
	clock     engine.Clock
	logger    Logger

	mu      sync.RWMutex
	owner   common.Address
	paused  bool
	members mapset.Set[common.Address]
}

// New creates an unpaused registry with an empty permission set.
func New(cfg Config) (*Registry, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
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
	return &Registry{
		address:   cfg.Address,
		publisher: cfg.Publisher,
		clock:     cfg.Clock,
		logger:    cfg.Logger,
		owner:     cfg.Owner,
		members:   mapset.NewThreadUnsafeSet[common.Address](),
	}, nil
}

func (r *Registry) Address() common.Address {
	return r.address
}

func (r *Registry) Owner() common.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.owner
}

func (r *Registry) Paused() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.paused
}

// IsPermitted reports membership regardless of the pause flag.
func (r *Registry) IsPermitted(addr common.Address) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.members.Contains(addr)
}

// IsActive reports whether addr is permitted and the registry is not paused.
func (r *Registry) IsActive(addr common.Address) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return !r.paused && r.members.Contains(addr)
}

// Members returns the permitted addresses in ascending byte order.
func (r *Registry) Members() []common.Address {
	r.mu.RLock()
	out := r.members.ToSlice()
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i][:], out[j][:]) < 0
	})
	return out
}

func (r *Registry) Add(caller, addr common.Address) error {
	r.mu.Lock()
	if err := r.onlyOwner(caller); err != nil {
		r.mu.Unlock()
		return err
	}
	if addr == (common.Address{}) {
		r.mu.Unlock()
		return fmt.Errorf("%w: zero address", engine.ErrInvalidArgument)
	}
	if r.members.Contains(addr) {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s already whitelisted", engine.ErrInvalidArgument, addr.Hex())
	}
	r.members.Add(addr)
	r.mu.Unlock()

	r.logger.Info("address whitelisted", "address", addr.Hex())
	r.publish(engine.AddressWhitelisted{Address: addr})
	return nil
}

func (r *Registry) Remove(caller, addr common.Address) error {
	r.mu.Lock()
	if err := r.onlyOwner(caller); err != nil {
		r.mu.Unlock()
		return err
	}
	if !r.members.Contains(addr) {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s not whitelisted", engine.ErrInvalidArgument, addr.Hex())
	}
	r.members.Remove(addr)
	r.mu.Unlock()

	r.logger.Info("address removed from whitelist", "address", addr.Hex())
	r.publish(engine.AddressRemovedFromWhitelist{Address: addr})
	return nil
}

// BatchAdd permits every address in addrs, skipping those already permitted.
// A zero address anywhere in the batch fails the call before anything is applied.
// It returns the number of addresses that were newly permitted.
func (r *Registry) BatchAdd(caller common.Address, addrs []common.Address) (int, error) {
	r.mu.Lock()
	if err := r.onlyOwner(caller); err != nil {
		r.mu.Unlock()
		return 0, err
	}
	if err := rejectZero(addrs); err != nil {
		r.mu.Unlock()
		return 0, err
	}
	events := make([]engine.Event, 0, len(addrs))
	for _, addr := range addrs {
		if r.members.Add(addr) {
			events = append(events, engine.AddressWhitelisted{Address: addr})
		}
	}
	r.mu.Unlock()

	r.logger.Info("batch whitelisted", "requested", len(addrs), "added", len(events))
	r.publish(events...)
	return len(events), nil
}

// BatchRemove revokes every address in addrs, skipping those not currently permitted.
// It returns the number of addresses that were removed.
func (r *Registry) BatchRemove(caller common.Address, addrs []common.Address) (int, error) {
	r.mu.Lock()
	if err := r.onlyOwner(caller); err != nil {
		r.mu.Unlock()
		return 0, err
	}
	if err := rejectZero(addrs); err != nil {
		r.mu.Unlock()
		return 0, err
	}
	events := make([]engine.Event, 0, len(addrs))
	for _, addr := range addrs {
		if r.members.Contains(addr) {
			r.members.Remove(addr)
			events = append(events, engine.AddressRemovedFromWhitelist{Address: addr})
		}
	}
	r.mu.Unlock()

	r.logger.Info("batch removed from whitelist", "requested", len(addrs), "removed", len(events))
	r.publish(events...)
	return len(events), nil
}

func (r *Registry) Pause(caller common.Address) error {
	return r.setPaused(caller, true)
}

func (r *Registry) Unpause(caller common.Address) error {
	return r.setPaused(caller, false)
}

func (r *Registry) setPaused(caller common.Address, paused bool) error {
	r.mu.Lock()
	if err := r.onlyOwner(caller); err != nil {
		r.mu.Unlock()
		return err
	}
	if r.paused == paused {
		r.mu.Unlock()
		if paused {
			return fmt.Errorf("%w: already paused", engine.ErrInvalidArgument)
		}
		return fmt.Errorf("%w: not paused", engine.ErrInvalidArgument)
	}
	r.paused = paused
	r.mu.Unlock()

	if paused {
		r.logger.Warn("registry paused", "by", caller.Hex())
		r.publish(engine.Paused{Account: caller})
	} else {
		r.logger.Info("registry unpaused", "by", caller.Hex())
		r.publish(engine.Unpaused{Account: caller})
	}
	return nil
}

// TransferOwnership hands owner-only control to newOwner.
func (r *Registry) TransferOwnership(caller, newOwner common.Address) error {
	r.mu.Lock()
	if err := r.onlyOwner(caller); err != nil {
		r.mu.Unlock()
		return err
	}
	if newOwner == (common.Address{}) {
		r.mu.Unlock()
		return fmt.Errorf("%w: zero address", engine.ErrInvalidArgument)
	}
	previous := r.owner
	r.owner = newOwner
	r.mu.Unlock()

	r.logger.Info("ownership transferred", "previous", previous.Hex(), "new", newOwner.Hex())
	r.publish(engine.OwnershipTransferred{PreviousOwner: previous, NewOwner: newOwner})
	return nil
}

// onlyOwner must be called with r.mu held.
func (r *Registry) onlyOwner(caller common.Address) error {
	if caller != r.owner {
		return fmt.Errorf("%w: %s is not the owner", engine.ErrUnauthorized, caller.Hex())
	}
	return nil
}

func (r *Registry) publish(events ...engine.Event) {
	if len(events) == 0 {
		return
	}
	now := r.clock()
	logs := make([]engine.Log, len(events))
	for i, ev := range events {
		logs[i] = engine.Log{Emitter: r.address, Time: now, Event: ev}
	}
	r.publisher.Publish(logs...)
}

func rejectZero(addrs []common.Address) error {
	for i, addr := range addrs {
		if addr == (common.Address{}) {
			return fmt.Errorf("%w: zero address at index %d", engine.ErrInvalidArgument, i)
		}
	}
	return nil
}
