// Package book implements the ordered bid book: order keys packed into a
// single 256-bit value in strict limit-price order (Key, Encode, Decode,
// Less — C1 OrderCodec), and the hint-based singly-linked container that
// holds them (Set — C2 OrderedOrderSet).
//
// The container is concurrency-safe the same way internal/market.Book is
// in the reference this was adapted from: a single mutex guarding a small,
// focused set of operations.
package book

import (
	"errors"

	"github.com/holiman/uint256"

	"sealedauction/pkg/amount"
)

// ErrInvalidAmount is returned by Encode when buy or sell doesn't fit in 96 bits.
var ErrInvalidAmount = errors.New("book: amount does not fit in 96 bits")

// Key is a packed order key: user_id (high 64 bits) | buy_amount (middle 96
// bits) | sell_amount (low 96 bits). It is a plain value type so it can be
// used directly as a map key.
type Key = uint256.Int

// QueueStart is the all-zero sentinel, less than every real key.
var QueueStart = Key{}

// QueueEnd is the sentinel key with value 1, greater than every real key.
var QueueEnd = *uint256.NewInt(1)

// Encode packs (user, buy, sell) into a Key. buy and sell must each fit in
// 96 bits.
func Encode(user uint64, buy, sell *uint256.Int) (Key, error) {
	if !amount.Fits96(buy) || !amount.Fits96(sell) {
		return Key{}, ErrInvalidAmount
	}
	k := new(uint256.Int).Lsh(uint256.NewInt(user), 192)
	buyShifted := new(uint256.Int).Lsh(buy, 96)
	k.Or(k, buyShifted)
	k.Or(k, sell)
	return *k, nil
}

// Decode unpacks a Key into (user, buy, sell).
func Decode(k Key) (user uint64, buy, sell *uint256.Int) {
	mask96 := amount.MaxUint96()
	sell = new(uint256.Int).And(&k, mask96)
	buy = new(uint256.Int).Rsh(&k, 96)
	buy.And(buy, mask96)
	userPart := new(uint256.Int).Rsh(&k, 192)
	user = userPart.Uint64()
	return user, buy, sell
}

// IsValid reports whether k is a real order key: not a sentinel, and both
// amounts strictly positive.
func IsValid(k Key) bool {
	if k == QueueStart || k == QueueEnd {
		return false
	}
	_, buy, sell := Decode(k)
	return !buy.IsZero() && !sell.IsZero()
}

// Less implements the book's strict total order: better limit price first,
// ties broken by larger sell_amount then ascending user_id. QueueStart
// sorts below every real key; QueueEnd sorts above every real key.
//
// Limit price comparison is a cross-multiplication of the two 96-bit
// amounts (max 192-bit product, never overflows a 256-bit accumulator):
// a < b iff a.buy*b.sell > b.buy*a.sell.
func Less(a, b Key) bool {
	if a == QueueStart {
		return b != QueueStart
	}
	if b == QueueStart {
		return false
	}
	if a == QueueEnd {
		return false
	}
	if b == QueueEnd {
		return true
	}

	ua, ba, sa := Decode(a)
	ub, bb, sb := Decode(b)

	left := new(uint256.Int).Mul(ba, sb)
	right := new(uint256.Int).Mul(bb, sa)
	if !left.Eq(right) {
		return left.Gt(right)
	}
	if !sa.Eq(sb) {
		return sa.Gt(sb)
	}
	return ua < ub
}
