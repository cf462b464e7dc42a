// Package clearing implements the two-phase uniform-price solver and the
// settlement accounting that follows it (C5 ClearingEngine): PrecomputeSum
// (the incremental prefix-sum walk), VerifyPrice (the three-case solver),
// and ClaimParticipant (per-order payout after settlement).
//
// Every exported method assumes its phase guard has already been checked
// by the caller (internal/engine) — this package is pure accounting over
// an *auction.State and an *book.Set, with no notion of wall-clock time.
package clearing

import (
	"errors"

	"github.com/holiman/uint256"

	"sealedauction/internal/auction"
	"sealedauction/internal/book"
	"sealedauction/internal/fees"
	"sealedauction/pkg/amount"
)

// errInconsistentBook signals the book's next map is missing an entry that
// PrecomputeSum/VerifyPrice expected to exist — a programming error, not a
// caller error, so it isn't one of the documented error kinds.
var errInconsistentBook = errors.New("clearing: book missing expected next pointer")

// Transfer is one leg of a settlement payout: amount of asset owed to one
// user. Every Transfer is a credit; the caller applies it with ledger.Push.
type Transfer struct {
	UserID  uint64
	Amount  *uint256.Int
	Offered bool // true: offered asset, false: bidding asset
}

// ClearedEvent mirrors AuctionCleared(auctionId, num, den).
type ClearedEvent struct {
	AuctionID uint64
	Num       *uint256.Int
	Den       *uint256.Int
}

// Engine runs the clearing algorithm. It holds no per-auction state itself;
// every method takes the *auction.State to operate on.
type Engine struct {
	fees *fees.Module
}

// New creates a clearing engine backed by the given fee module.
func New(feeModule *fees.Module) *Engine {
	return &Engine{fees: feeModule}
}

// PrecomputeSum advances the interim walk by exactly steps positions,
// accumulating sell_amount into s.InterimSumBid. It fails, leaving s
// unchanged, if the walk would step past QUEUE_END, or if after the walk
// the cumulative sum has already crossed the clearing point.
func (e *Engine) PrecomputeSum(s *auction.State, steps uint64) error {
	cur := s.InterimOrder
	sum := new(uint256.Int).Set(s.InterimSumBid)

	for i := uint64(0); i < steps; i++ {
		next, ok := s.Book.Next(cur)
		if !ok {
			return errInconsistentBook
		}
		if next == book.QueueEnd {
			return auction.ErrPrecomputeTooFar
		}
		_, _, sell := book.Decode(next)
		newSum, err := amount.Add(sum, sell)
		if err != nil {
			return auction.ErrOverflowOrNarrowing
		}
		sum = newSum
		cur = next
	}

	if cur != book.QueueStart {
		_, buyI, sellI := book.Decode(cur)
		_, _, supply := s.SellerAmounts()
		left, err := amount.Mul(sum, buyI)
		if err != nil {
			return auction.ErrOverflowOrNarrowing
		}
		right, err := amount.Mul(supply, sellI)
		if err != nil {
			return auction.ErrOverflowOrNarrowing
		}
		if !left.Lt(right) {
			return auction.ErrPrecomputeTooFar
		}
	}

	s.InterimOrder = cur
	s.InterimSumBid = sum
	return nil
}

// VerifyPrice is the solver: it resumes the interim walk toward candidate,
// determines which of the three clearing cases applies, commits the
// clearing outcome into s, runs fee accounting and seller settlement, and
// returns the ledger transfers and events the caller must apply. On any
// error, s is left unchanged.
func (e *Engine) VerifyPrice(s *auction.State, candidate book.Key) ([]Transfer, *ClearedEvent, error) {
	if s.IsFinished() {
		return nil, nil, auction.ErrPriceRejected
	}

	sellerID, sellerBuy, supply := s.SellerAmounts()

	cur := s.InterimOrder
	sumBid := new(uint256.Int).Set(s.InterimSumBid)
	for {
		next, ok := s.Book.Next(cur)
		if !ok {
			return nil, nil, errInconsistentBook
		}
		if !book.Less(next, candidate) {
			break
		}
		_, _, sell := book.Decode(next)
		newSum, err := amount.Add(sumBid, sell)
		if err != nil {
			return nil, nil, auction.ErrOverflowOrNarrowing
		}
		sumBid = newSum
		cur = next
	}
	stoppedAt, ok := s.Book.Next(cur)
	if !ok {
		return nil, nil, errInconsistentBook
	}

	num, den, err := validCandidatePrice(candidate)
	if err != nil {
		return nil, nil, err
	}

	sumBuy, err := amount.MulDiv(sumBid, num, den)
	if err != nil {
		return nil, nil, auction.ErrOverflowOrNarrowing
	}

	var clearingOrder book.Key
	var volume *uint256.Int
	// totalBidding is the total bidding-asset amount actually raised by the
	// auction at this clearing price — sumBid (every fully-filled order's
	// contribution) plus, in Case 1, the partial order's own contribution V.
	// This, not the offered-asset sum_buy, is what min_funding_threshold
	// gates: a funding threshold denominated in the asset the seller is
	// actually raising.
	var totalBidding *uint256.Int
	// sellerPartial is true only for Case 2: book demand fell short of
	// supply, so the seller sold less than the full offered amount. Case 1
	// and Case 3 both sell the full supply, even when Case 3's price happens
	// to land exactly on the seller's floor.
	var sellerPartial bool

	switch {
	case stoppedAt == candidate:
		// Case 1: candidate is an existing bid; it is the partial-fill order.
		clearingOrderBuy, err := amount.Sub(supply, sumBuy)
		if err != nil {
			return nil, nil, auction.ErrPriceRejected
		}
		v, err := amount.MulDiv(clearingOrderBuy, den, num)
		if err != nil {
			return nil, nil, auction.ErrOverflowOrNarrowing
		}
		v96, err := amount.Narrow96(v)
		if err != nil {
			return nil, nil, auction.ErrOverflowOrNarrowing
		}
		_, _, sellP := book.Decode(candidate)
		if v96.Gt(sellP) {
			return nil, nil, auction.ErrPriceRejected
		}
		total, err := amount.Add(sumBid, v96)
		if err != nil {
			return nil, nil, auction.ErrOverflowOrNarrowing
		}
		clearingOrder = candidate
		volume = v96
		totalBidding = total
		sellerPartial = false

	case sumBuy.Lt(supply):
		// Case 2: synthetic candidate, book demand fell short of supply —
		// only acceptable if it names the seller's exact floor price.
		lhs, err := amount.Mul(num, sellerBuy)
		if err != nil {
			return nil, nil, auction.ErrOverflowOrNarrowing
		}
		rhs, err := amount.Mul(supply, den)
		if err != nil {
			return nil, nil, auction.ErrOverflowOrNarrowing
		}
		if !lhs.Eq(rhs) {
			return nil, nil, auction.ErrPriceRejected
		}
		v96, err := amount.Narrow96(sumBuy)
		if err != nil {
			return nil, nil, auction.ErrOverflowOrNarrowing
		}
		encoded, err := book.Encode(sellerID, num, den)
		if err != nil {
			return nil, nil, auction.ErrOverflowOrNarrowing
		}
		clearingOrder = encoded
		volume = v96
		totalBidding = new(uint256.Int).Set(sumBid)
		sellerPartial = true

	case sumBuy.Eq(supply):
		// Case 3: synthetic candidate, demand exactly met supply.
		lhs, err := amount.Mul(num, sellerBuy)
		if err != nil {
			return nil, nil, auction.ErrOverflowOrNarrowing
		}
		rhs, err := amount.Mul(supply, den)
		if err != nil {
			return nil, nil, auction.ErrOverflowOrNarrowing
		}
		if lhs.Gt(rhs) {
			return nil, nil, auction.ErrPriceRejected
		}
		clearingOrder = candidate
		volume = amount.Zero()
		totalBidding = new(uint256.Int).Set(sumBid)
		sellerPartial = false

	default:
		return nil, nil, auction.ErrPriceRejected
	}

	s.InterimOrder = cur
	s.InterimSumBid = sumBid
	s.ClearingOrder = clearingOrder
	s.VolumeClearingPriceOrder = volume

	var transfers []Transfer
	var feeResult fees.Result
	if totalBidding.Lt(s.MinFundingThreshold) {
		s.FundingThresholdNotReached = true
	} else if s.FeeNumerator > 0 {
		sold := supply
		if sellerPartial {
			sold = s.VolumeClearingPriceOrder
		}
		result, err := fees.Claim(s.FeeNumerator, e.fees.ReceiverUserID(), supply, sold)
		if err != nil {
			return nil, nil, auction.ErrOverflowOrNarrowing
		}
		feeResult = result
		if !feeResult.ToReceiver.IsZero() {
			transfers = append(transfers, Transfer{UserID: feeResult.ReceiverUserID, Amount: feeResult.ToReceiver, Offered: true})
		}
	}

	sellerTransfers, err := e.settleSeller(s, num, den, sellerPartial, feeResult.ToSeller)
	if err != nil {
		return nil, nil, err
	}
	transfers = append(transfers, sellerTransfers...)

	return transfers, &ClearedEvent{AuctionID: s.ID, Num: num, Den: den}, nil
}

// settleSeller reads the seller's floor and supply out of InitialOrder,
// zeroes InitialOrder to lock the state, and returns the seller's payout
// transfers. sellerPartial is the Case 2 flag VerifyPrice determined from
// the clearing case actually taken, not from price equality — a Case 3
// clearing can land exactly on the seller's floor price while still having
// sold the full supply. feeRefund is the portion of fees (if any) already
// computed by VerifyPrice to return to the seller; it is added to the
// seller's offered-asset refund since both are paid in the same asset.
func (e *Engine) settleSeller(s *auction.State, num, den *uint256.Int, sellerPartial bool, feeRefund *uint256.Int) ([]Transfer, error) {
	sellerID, _, supply := s.SellerAmounts()
	s.InitialOrder = book.QueueStart

	if s.FundingThresholdNotReached {
		return []Transfer{{UserID: sellerID, Amount: new(uint256.Int).Set(supply), Offered: true}}, nil
	}

	var transfers []Transfer
	if sellerPartial {
		assetBack, err := amount.Sub(supply, s.VolumeClearingPriceOrder)
		if err != nil {
			return nil, auction.ErrOverflowOrNarrowing
		}
		if feeRefund != nil && !feeRefund.IsZero() {
			assetBack, err = amount.Add(assetBack, feeRefund)
			if err != nil {
				return nil, auction.ErrOverflowOrNarrowing
			}
		}
		biddingReceived, err := amount.MulDiv(s.VolumeClearingPriceOrder, den, num)
		if err != nil {
			return nil, auction.ErrOverflowOrNarrowing
		}
		if !assetBack.IsZero() {
			transfers = append(transfers, Transfer{UserID: sellerID, Amount: assetBack, Offered: true})
		}
		transfers = append(transfers, Transfer{UserID: sellerID, Amount: biddingReceived, Offered: false})
	} else {
		biddingReceived, err := amount.MulDiv(supply, den, num)
		if err != nil {
			return nil, auction.ErrOverflowOrNarrowing
		}
		transfers = append(transfers, Transfer{UserID: sellerID, Amount: biddingReceived, Offered: false})
	}

	return transfers, nil
}

// ClaimParticipant computes payouts for a batch of orders, all of which
// must decode to the same user_id. Each claimed order is hard-removed from
// the book. Requires the auction to be Finished.
func (e *Engine) ClaimParticipant(s *auction.State, orders []book.Key) ([]Transfer, error) {
	if !s.IsFinished() {
		return nil, auction.ErrWrongPhase
	}
	if len(orders) == 0 {
		return nil, nil
	}

	caller, _, _ := book.Decode(orders[0])
	for _, o := range orders[1:] {
		user, _, _ := book.Decode(o)
		if user != caller {
			return nil, auction.ErrNotOwner
		}
	}
	// Reject an already-claimed or repeated order before any removal, so a
	// failing batch leaves the book unchanged.
	seen := make(map[book.Key]struct{}, len(orders))
	for _, o := range orders {
		if _, dup := seen[o]; dup || !s.Book.Contains(o) {
			return nil, auction.ErrAlreadyClaimed
		}
		seen[o] = struct{}{}
	}

	_, num, den := book.Decode(s.ClearingOrder)

	transfers := make([]Transfer, 0, len(orders))
	for _, o := range orders {
		user, _, sell := book.Decode(o)

		switch {
		case s.FundingThresholdNotReached:
			transfers = append(transfers, Transfer{UserID: user, Amount: sell, Offered: false})

		case o == s.ClearingOrder:
			paid, err := amount.MulDiv(s.VolumeClearingPriceOrder, num, den)
			if err != nil {
				return nil, auction.ErrOverflowOrNarrowing
			}
			refund, err := amount.Sub(sell, s.VolumeClearingPriceOrder)
			if err != nil {
				return nil, auction.ErrOverflowOrNarrowing
			}
			if !paid.IsZero() {
				transfers = append(transfers, Transfer{UserID: user, Amount: paid, Offered: true})
			}
			if !refund.IsZero() {
				transfers = append(transfers, Transfer{UserID: user, Amount: refund, Offered: false})
			}

		case book.Less(o, s.ClearingOrder):
			paid, err := amount.MulDiv(sell, num, den)
			if err != nil {
				return nil, auction.ErrOverflowOrNarrowing
			}
			transfers = append(transfers, Transfer{UserID: user, Amount: paid, Offered: true})

		default:
			transfers = append(transfers, Transfer{UserID: user, Amount: sell, Offered: false})
		}

		if !s.Book.Remove(o) {
			return nil, auction.ErrAlreadyClaimed
		}
	}

	return transfers, nil
}

// validCandidatePrice decodes a candidate clearing key into (num, den),
// rejecting a zero denominator before any division is attempted.
func validCandidatePrice(candidate book.Key) (num, den *uint256.Int, err error) {
	_, num, den = book.Decode(candidate)
	if den.IsZero() {
		return nil, nil, auction.ErrPriceRejected
	}
	return num, den, nil
}
