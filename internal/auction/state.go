// Package auction holds the per-auction record (C4 AuctionState): the
// timestamps and amounts that gate each operation, the interim clearing
// walk state, and the final clearing outcome once settled.
package auction

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"sealedauction/internal/book"
)

// Phase is a human-readable summary of where an auction sits in its
// lifecycle, used for reporting and dashboard display. The operations
// themselves gate on the narrower guard methods below, not on Phase —
// several guards overlap (Placement and cancellation share a window).
type Phase string

const (
	PhasePlacement   Phase = "placement"
	PhaseCancelEnded Phase = "cancel_ended"
	PhaseSolution    Phase = "solution"
	PhaseFinished    Phase = "finished"
)

// State is the per-auction record. A zero State is not usable; build one
// with New.
type State struct {
	ID     uint64
	Seller uint64

	OfferedAsset common.Address
	BiddingAsset common.Address

	OrderCancellationEnd time.Time
	AuctionEnd           time.Time

	// InitialOrder encodes (seller, min_buy, offered_amount). Zeroed by
	// settleSeller once the seller has been paid, to lock the state.
	InitialOrder book.Key

	MinBidSellAmount *uint256.Int

	// Interim clearing-walk state, advanced by PrecomputeSum and resumed
	// by VerifyPrice.
	InterimSumBid *uint256.Int
	InterimOrder  book.Key

	// Final clearing outcome. ClearingOrder == QueueStart means not yet
	// settled.
	ClearingOrder            book.Key
	VolumeClearingPriceOrder *uint256.Int

	FeeNumerator uint64 // snapshot of the global fee at initiation

	MinFundingThreshold        *uint256.Int
	FundingThresholdNotReached bool

	Book *book.Set

	CreatedAt time.Time
	ClearedAt time.Time
}

// New creates a fresh auction in the Placement phase. offeredAmount and
// minBuy become the seller's initial_order; offeredAmount is the supply S,
// minBuy the seller's floor numerator against S as denominator.
func New(
	id uint64,
	seller uint64,
	offeredAsset, biddingAsset common.Address,
	offeredAmount, minBuy, minBidSellAmount, minFundingThreshold *uint256.Int,
	orderCancellationEnd, auctionEnd, now time.Time,
	feeNumerator uint64,
) (*State, error) {
	initial, err := book.Encode(seller, minBuy, offeredAmount)
	if err != nil {
		return nil, err
	}

	return &State{
		ID:                         id,
		Seller:                     seller,
		OfferedAsset:               offeredAsset,
		BiddingAsset:               biddingAsset,
		OrderCancellationEnd:       orderCancellationEnd,
		AuctionEnd:                 auctionEnd,
		InitialOrder:               initial,
		MinBidSellAmount:           minBidSellAmount,
		InterimSumBid:              new(uint256.Int),
		InterimOrder:               book.QueueStart,
		ClearingOrder:              book.QueueStart,
		VolumeClearingPriceOrder:   new(uint256.Int),
		FeeNumerator:               feeNumerator,
		MinFundingThreshold:        minFundingThreshold,
		FundingThresholdNotReached: false,
		Book:                       book.NewSet(),
		CreatedAt:                  now,
	}, nil
}

// SellerAmounts decodes the seller's floor and supply back out of
// InitialOrder. Only meaningful before settleSeller zeroes it.
func (s *State) SellerAmounts() (sellerID uint64, minBuy, supply *uint256.Int) {
	return book.Decode(s.InitialOrder)
}

// CanPlace is the Placement guard: now < auction_end.
func (s *State) CanPlace(now time.Time) bool {
	return now.Before(s.AuctionEnd)
}

// CanPlaceOrCancel is the "Placement & Cancel" guard: now < auction_end AND
// now < order_cancellation_end.
func (s *State) CanPlaceOrCancel(now time.Time) bool {
	return now.Before(s.AuctionEnd) && now.Before(s.OrderCancellationEnd)
}

// InSolution is the Solution guard: auction_end is set, now is past it, and
// no clearing order has been committed yet.
func (s *State) InSolution(now time.Time) bool {
	return !s.AuctionEnd.IsZero() && now.After(s.AuctionEnd) && s.ClearingOrder == book.QueueStart
}

// IsFinished reports whether a clearing order has been committed.
func (s *State) IsFinished() bool {
	return s.ClearingOrder != book.QueueStart
}

// Phase summarizes the current lifecycle stage for display. It does not
// replace the per-operation guards above.
func (s *State) Phase(now time.Time) Phase {
	switch {
	case s.IsFinished():
		return PhaseFinished
	case s.InSolution(now):
		return PhaseSolution
	case !now.Before(s.OrderCancellationEnd):
		return PhaseCancelEnded
	default:
		return PhasePlacement
	}
}
