package router

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/defistate/defistate-amm/engine"
)

var (
	feeDenominator = big.NewInt(1000)
	feeMultiplier  = big.NewInt(997)
	one            = big.NewInt(1)
)

// calculator holds reusable big.Int scratch space. Instances are not safe for
// concurrent use and are handed out by calculatorPool.
type calculator struct {
	amountInWithFee *big.Int
	numerator       *big.Int
	denominator     *big.Int
}

var calculatorPool = sync.Pool{
	New: func() any {
		return &calculator{
			amountInWithFee: new(big.Int),
			numerator:       new(big.Int),
			denominator:     new(big.Int),
		}
	},
}

// Quote returns the amount of B worth amountA at the reserve ratio: amountA*reserveB/reserveA.
func Quote(amountA, reserveA, reserveB *big.Int) (*big.Int, error) {
	if err := positive("amount", amountA); err != nil {
		return nil, err
	}
	if err := reservesPositive(reserveA, reserveB); err != nil {
		return nil, err
	}
	out := new(big.Int).Mul(amountA, reserveB)
	return out.Div(out, reserveA), nil
}

// GetAmountOut returns the output of a single hop after the 0.3% input fee, rounded down.
func GetAmountOut(amountIn, reserveIn, reserveOut *big.Int) (*big.Int, error) {
	if err := positive("amountIn", amountIn); err != nil {
		return nil, err
	}
	if err := reservesPositive(reserveIn, reserveOut); err != nil {
		return nil, err
	}
	c := calculatorPool.Get().(*calculator)
	defer calculatorPool.Put(c)

	c.amountInWithFee.Mul(amountIn, feeMultiplier)
	c.numerator.Mul(c.amountInWithFee, reserveOut)
	c.denominator.Mul(reserveIn, feeDenominator)
	c.denominator.Add(c.denominator, c.amountInWithFee)
	return new(big.Int).Div(c.numerator, c.denominator), nil
}

// GetAmountIn returns the input a single hop needs to produce amountOut, rounded up so
// the pool is never short-changed.
func GetAmountIn(amountOut, reserveIn, reserveOut *big.Int) (*big.Int, error) {
	if err := positive("amountOut", amountOut); err != nil {
		return nil, err
	}
	if err := reservesPositive(reserveIn, reserveOut); err != nil {
		return nil, err
	}
	if amountOut.Cmp(reserveOut) >= 0 {
		return nil, fmt.Errorf("%w: requested amountOut (%s) is >= reserveOut (%s)", engine.ErrInvalidArgument, amountOut.String(), reserveOut.String())
	}
	c := calculatorPool.Get().(*calculator)
	defer calculatorPool.Put(c)

	// amountIn = reserveIn * amountOut * 1000 / ((reserveOut - amountOut) * 997) + 1
	c.numerator.Mul(reserveIn, amountOut)
	c.numerator.Mul(c.numerator, feeDenominator)
	c.denominator.Sub(reserveOut, amountOut)
	c.denominator.Mul(c.denominator, feeMultiplier)

	amountIn := new(big.Int).Div(c.numerator, c.denominator)
	return amountIn.Add(amountIn, one), nil
}

func positive(name string, v *big.Int) error {
	if v == nil || v.Sign() <= 0 {
		return fmt.Errorf("%w: %s must be positive", engine.ErrInvalidArgument, name)
	}
	return nil
}

func reservesPositive(reserveA, reserveB *big.Int) error {
	if reserveA == nil || reserveB == nil || reserveA.Sign() <= 0 || reserveB.Sign() <= 0 {
		return fmt.Errorf("%w: reserves must be positive", engine.ErrInvalidArgument)
	}
	return nil
}
