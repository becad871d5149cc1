package pool

import (
	"fmt"
	"math/big"

	"github.com/defistate/defistate-amm/engine"
	"github.com/holiman/uint256"
)

const (
	// MinimumLiquidity is the share amount withheld forever on the first mint.
	MinimumLiquidity = 1000

	feeNumerator   = 3
	feeDenominator = 1000
)

var (
	minimumLiquidity = uint256.NewInt(MinimumLiquidity)
	feeScale         = uint256.NewInt(feeDenominator)
	feeScaleSquared  = uint256.NewInt(feeDenominator * feeDenominator)
	feeTaken         = uint256.NewInt(feeNumerator)

	// maxReserve bounds balances so that fee-adjusted products cannot overflow 256 bits.
	maxReserve = new(uint256.Int).Sub(new(uint256.Int).Lsh(uint256.NewInt(1), 112), uint256.NewInt(1))
)

// toU256 converts a caller supplied amount, rejecting nil, negative and oversized values.
func toU256(name string, v *big.Int) (*uint256.Int, error) {
	if v == nil {
		return nil, fmt.Errorf("%w: %s is nil", engine.ErrInvalidArgument, name)
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("%w: %s is negative", engine.ErrInvalidArgument, name)
	}
	u, overflow := uint256.FromBig(v)
	if overflow || u.Gt(maxReserve) {
		return nil, fmt.Errorf("%w: %s overflows uint112", engine.ErrInvalidArgument, name)
	}
	return u, nil
}

// mulDiv returns floor(a*b/c). c must be non-zero.
func mulDiv(a, b, c *uint256.Int) (*uint256.Int, error) {
	product, overflow := new(uint256.Int).MulOverflow(a, b)
	if overflow {
		return nil, fmt.Errorf("%w: multiplication overflow", engine.ErrInvalidArgument)
	}
	return product.Div(product, c), nil
}

func minU256(a, b *uint256.Int) *uint256.Int {
	if a.Lt(b) {
		return a
	}
	return b
}

// genesisShares returns floor(sqrt(amount0*amount1)) - MinimumLiquidity.
func genesisShares(amount0, amount1 *uint256.Int) (*uint256.Int, error) {
	product, overflow := new(uint256.Int).MulOverflow(amount0, amount1)
	if overflow {
		return nil, fmt.Errorf("%w: multiplication overflow", engine.ErrInvalidArgument)
	}
	root := new(uint256.Int).Sqrt(product)
	if !root.Gt(minimumLiquidity) {
		return nil, fmt.Errorf("%w: geometric mean %s does not exceed the locked minimum %d", engine.ErrInsufficientLiquidity, root.Dec(), MinimumLiquidity)
	}
	return root.Sub(root, minimumLiquidity), nil
}

// feeAdjustedInvariantHolds reports whether
// (balance0*1000 - amount0In*3) * (balance1*1000 - amount1In*3) >= reserve0*reserve1*1000^2.
// Balances and reserves are bounded by maxReserve, so no product below overflows.
func feeAdjustedInvariantHolds(balance0, balance1, amount0In, amount1In, reserve0, reserve1 *uint256.Int) bool {
	adjusted0 := new(uint256.Int).Mul(balance0, feeScale)
	adjusted0.Sub(adjusted0, new(uint256.Int).Mul(amount0In, feeTaken))
	adjusted1 := new(uint256.Int).Mul(balance1, feeScale)
	adjusted1.Sub(adjusted1, new(uint256.Int).Mul(amount1In, feeTaken))

	left := new(uint256.Int).Mul(adjusted0, adjusted1)
	right := new(uint256.Int).Mul(reserve0, reserve1)
	right.Mul(right, feeScaleSquared)
	return !left.Lt(right)
}
