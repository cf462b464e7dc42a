package api

import (
	"time"

	"github.com/holiman/uint256"
)

// DashboardEvent is the wrapper for all events sent to the dashboard.
type DashboardEvent struct {
	Type      string      `json:"type"` // "NewAuction", "NewSellOrder", "CancellationSellOrder", "NewUser", "UserRegistration", "AuctionCleared", "ClaimedFromOrder", "set_fee"
	Timestamp time.Time   `json:"timestamp"`
	AuctionID uint64      `json:"auction_id,omitempty"`
	Data      interface{} `json:"data"`
}

// UserRegisteredEvent represents an address gaining a user id, either
// through an explicit registration or implicitly by placing the first
// order signed by that address.
type UserRegisteredEvent struct {
	UserID  uint64 `json:"user_id"`
	Address string `json:"address"`
}

// PlacedEvent represents a new order placed into an auction's book.
type PlacedEvent struct {
	UserID uint64 `json:"user_id"`
	Buy    string `json:"buy"`
	Sell   string `json:"sell"`
}

// CancelledEvent represents an order removed from an auction's book before
// the cancellation window closed.
type CancelledEvent struct {
	UserID uint64 `json:"user_id"`
}

// ClearedEvent represents the outcome of verify_price: the clearing price
// and volume_clearing_price_order, the volume filled on the clearing order
// itself (zero when no order is partially filled).
type ClearedEvent struct {
	Num                      string `json:"num"`
	Den                      string `json:"den"`
	VolumeClearingPriceOrder string `json:"volume_clearing_price_order"`
	FundingThresholdNotReached bool `json:"funding_threshold_not_reached"`
}

// ClaimedEvent represents one participant claiming their settlement.
type ClaimedEvent struct {
	UserID  uint64 `json:"user_id"`
	Offered string `json:"offered"`
	Bidding string `json:"bidding"`
}

// FeeSetEvent represents a change to the global fee parameters.
type FeeSetEvent struct {
	Numerator       uint64 `json:"numerator"`
	ReceiverAddress string `json:"receiver_address"`
}

func amt(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// NewClearedEvent builds a ClearedEvent from the engine's native amounts.
func NewClearedEvent(num, den, volume *uint256.Int, fundingThresholdNotReached bool) ClearedEvent {
	return ClearedEvent{
		Num:                        amt(num),
		Den:                        amt(den),
		VolumeClearingPriceOrder:   amt(volume),
		FundingThresholdNotReached: fundingThresholdNotReached,
	}
}
