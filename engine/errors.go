package engine

import "errors"

// Failure taxonomy shared by every component. Callers classify failures with errors.Is;
// components wrap these sentinels with fmt.Errorf("%w: ...") to add context.
var (
	// ErrInvalidArgument is returned for malformed input: zero identifiers, identical assets, zero amounts.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrAccessDenied is returned when a caller or recipient is not active on the access registry.
	ErrAccessDenied = errors.New("access denied")
	// ErrUnauthorized is returned when a non-owner attempts an owner-only registry mutation.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrAlreadyExists is returned when a pool for the pair already exists.
	ErrAlreadyExists = errors.New("already exists")
	// ErrNotFound is returned when a pool or index is absent.
	ErrNotFound = errors.New("not found")
	// ErrExpired is returned when the caller supplied deadline has passed.
	ErrExpired = errors.New("expired")
	// ErrInsufficientLiquidity is returned when a mint or burn degenerates to zero shares or amounts.
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
	// ErrInsufficientInput is returned when no swap input could be attributed.
	ErrInsufficientInput = errors.New("insufficient input amount")
	// ErrInsufficientOutputAmount is returned when a swap output is below the caller's minimum.
	ErrInsufficientOutputAmount = errors.New("insufficient output amount")
	// ErrExcessiveInputAmount is returned when a swap requires more input than the caller's maximum.
	ErrExcessiveInputAmount = errors.New("excessive input amount")
	// ErrInsufficientAAmount is returned when the A side of a liquidity operation undercuts its minimum.
	ErrInsufficientAAmount = errors.New("insufficient A amount")
	// ErrInsufficientBAmount is returned when the B side of a liquidity operation undercuts its minimum.
	ErrInsufficientBAmount = errors.New("insufficient B amount")
	// ErrInvariantViolation is returned when the fee-adjusted constant product would decrease.
	ErrInvariantViolation = errors.New("invariant violation")
)
