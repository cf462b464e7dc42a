// Package amount defines the fixed-width integer vocabulary shared across
// every core package — 96-bit asset amounts and the checked arithmetic the
// clearing engine leans on. It has no dependency on
// any other internal package, so it can be imported by any layer.
package amount

import (
	"errors"

	"github.com/holiman/uint256"
)

// ErrOverflow is returned by any checked operation that would lose
// precision: 96-bit narrowing, 256-bit add/sub/mul overflow.
var ErrOverflow = errors.New("amount: overflow or narrowing")

// maxUint96 = 2^96 - 1, the ceiling for every asset amount in the system.
var maxUint96 = func() *uint256.Int {
	one := uint256.NewInt(1)
	shifted := new(uint256.Int).Lsh(one, 96)
	return new(uint256.Int).Sub(shifted, one)
}()

// MaxUint96 returns the largest representable 96-bit amount.
func MaxUint96() *uint256.Int {
	return new(uint256.Int).Set(maxUint96)
}

// Fits96 reports whether v fits in 96 bits.
func Fits96(v *uint256.Int) bool {
	return v.Cmp(maxUint96) <= 0
}

// Narrow96 truncates a wider computation down to a 96-bit amount, failing
// if any of the high 160 bits are set.
func Narrow96(v *uint256.Int) (*uint256.Int, error) {
	if !Fits96(v) {
		return nil, ErrOverflow
	}
	return new(uint256.Int).Set(v), nil
}

// Add returns a+b, failing on 256-bit overflow.
func Add(a, b *uint256.Int) (*uint256.Int, error) {
	out := new(uint256.Int)
	if _, overflow := out.AddOverflow(a, b); overflow {
		return nil, ErrOverflow
	}
	return out, nil
}

// Sub returns a-b, failing if b > a.
func Sub(a, b *uint256.Int) (*uint256.Int, error) {
	if a.Lt(b) {
		return nil, ErrOverflow
	}
	out := new(uint256.Int).Sub(a, b)
	return out, nil
}

// Mul returns a*b, failing on 256-bit overflow.
func Mul(a, b *uint256.Int) (*uint256.Int, error) {
	out := new(uint256.Int)
	if _, overflow := out.MulOverflow(a, b); overflow {
		return nil, ErrOverflow
	}
	return out, nil
}

// MulDiv computes floor(a*b/d) using a 512-bit intermediate product so the
// multiply never overflows before the division truncates. d must be
// non-zero; callers that divide by a price denominator already validated
// it is positive.
func MulDiv(a, b, d *uint256.Int) (*uint256.Int, error) {
	if d.IsZero() {
		return nil, ErrOverflow
	}
	out := new(uint256.Int)
	if _, overflow := out.MulDivOverflow(a, b, d); overflow {
		return nil, ErrOverflow
	}
	return out, nil
}

// Zero returns a fresh zero-valued amount.
func Zero() *uint256.Int {
	return new(uint256.Int)
}

// FromUint64 builds an amount from a plain uint64.
func FromUint64(v uint64) *uint256.Int {
	return uint256.NewInt(v)
}
