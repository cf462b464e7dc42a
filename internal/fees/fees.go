// Package fees implements the global fee parameters and the pro-rata fee
// split applied to a cleared auction (C6 FeeModule).
package fees

import (
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"sealedauction/internal/directory"
	"sealedauction/pkg/amount"
)

// MaxFeeNumerator is the ceiling on fee_numerator; fee_denominator is fixed.
const (
	MaxFeeNumerator = 15
	FeeDenominator  = 1000
)

var (
	ErrFeeTooHigh            = errors.New("fees: numerator exceeds the maximum")
	ErrUnauthorizedFeeChange = errors.New("fees: caller is not authorized to change fee parameters")
)

// Module holds the process-wide fee parameters: the numerator applied to
// every auction's supply at settlement, and the address that receives fee
// payouts. Both are mutated only through SetFee.
type Module struct {
	mu  sync.RWMutex
	num uint64

	receiverUserID uint64
	dir            *directory.Directory
}

// New creates a fee module with fee_numerator = 0 and no receiver set.
func New(dir *directory.Directory) *Module {
	return &Module{dir: dir}
}

// SetFee updates the global fee numerator and receiver. authorized must be
// true for the call to take effect; callers enforce the actual
// access-control policy (out of scope here) and pass the result in.
func (m *Module) SetFee(authorized bool, num uint64, receiver common.Address) error {
	if !authorized {
		return ErrUnauthorizedFeeChange
	}
	if num > MaxFeeNumerator {
		return ErrFeeTooHigh
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.num = num
	m.receiverUserID = m.dir.GetOrRegister(receiver)
	return nil
}

// ReceiverUserID returns the user id currently registered to receive fees.
func (m *Module) ReceiverUserID() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.receiverUserID
}

// Snapshot returns the current fee numerator, for stamping into a new
// AuctionState at initiation time. Later SetFee calls never affect an
// already-snapshotted auction.
func (m *Module) Snapshot() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.num
}

// Result is the payout split computed by Claim.
type Result struct {
	ReceiverUserID uint64
	ToReceiver     *uint256.Int // offered asset, paid to the fee receiver
	ToSeller       *uint256.Int // offered asset, returned to the seller
}

// Claim computes the pro-rata fee split for a cleared auction. supply is
// the seller's total offered amount S; sold is the amount of that supply
// actually transferred to bidders (S itself when the seller was fully
// sold, or volume_clearing_price_order when the seller was the Case 2
// partial-fill side). Returns a zero Result, no error, if feeNum is 0.
func Claim(feeNum uint64, receiverUserID uint64, supply, sold *uint256.Int) (Result, error) {
	if feeNum == 0 {
		return Result{ReceiverUserID: receiverUserID, ToReceiver: amount.Zero(), ToSeller: amount.Zero()}, nil
	}

	feeBase, err := amount.MulDiv(supply, amount.FromUint64(feeNum), amount.FromUint64(FeeDenominator))
	if err != nil {
		return Result{}, err
	}

	toReceiver, err := amount.MulDiv(feeBase, sold, supply)
	if err != nil {
		return Result{}, err
	}

	notSold, err := amount.Sub(supply, sold)
	if err != nil {
		return Result{}, err
	}
	toSeller, err := amount.MulDiv(feeBase, notSold, supply)
	if err != nil {
		return Result{}, err
	}

	return Result{ReceiverUserID: receiverUserID, ToReceiver: toReceiver, ToSeller: toSeller}, nil
}
