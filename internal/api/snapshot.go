package api

import (
	"time"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"sealedauction/internal/auction"
	"sealedauction/internal/book"
	"sealedauction/internal/config"
)

// AuctionSnapshotProvider exposes read-only access to live auction state for
// the dashboard. The engine implements this by holding its single engine
// lock while it copies out every auction's fields.
type AuctionSnapshotProvider interface {
	GetAuctionsSnapshot() []AuctionStatus
	GetFeesSnapshot() FeesSummary
	DashboardEvents() <-chan DashboardEvent
}

// BuildSnapshot aggregates state from the engine into a dashboard snapshot.
func BuildSnapshot(provider AuctionSnapshotProvider, cfg config.Config) DashboardSnapshot {
	return DashboardSnapshot{
		Timestamp: time.Now(),
		Auctions:  provider.GetAuctionsSnapshot(),
		Fees:      provider.GetFeesSnapshot(),
		Config:    NewConfigSummary(cfg),
	}
}

// formatAmount renders a fixed-width on-chain integer as a decimal string
// for dashboard display. Values are unscaled (no implicit decimals, since
// the engine is asset-agnostic and doesn't know each token's precision).
func formatAmount(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return decimal.NewFromBigInt(v.ToBig(), 0).String()
}

// NewAuctionStatus projects an auction.State into its dashboard
// representation.
func NewAuctionStatus(s *auction.State, now time.Time) AuctionStatus {
	status := AuctionStatus{
		ID:                         s.ID,
		Seller:                     s.Seller,
		OfferedAsset:               s.OfferedAsset.Hex(),
		BiddingAsset:               s.BiddingAsset.Hex(),
		Phase:                      string(s.Phase(now)),
		OrderCancellationEnd:       s.OrderCancellationEnd,
		AuctionEnd:                 s.AuctionEnd,
		MinFundingThreshold:        formatAmount(s.MinFundingThreshold),
		FundingThresholdNotReached: s.FundingThresholdNotReached,
		InterimSumBid:              formatAmount(s.InterimSumBid),
		FeeNumerator:               s.FeeNumerator,
		CreatedAt:                  s.CreatedAt,
	}

	_, minBuy, supply := s.SellerAmounts()
	status.Supply = formatAmount(supply)
	status.MinBuy = formatAmount(minBuy)

	if s.IsFinished() {
		status.Settled = true
		_, num, den := book.Decode(s.ClearingOrder)
		status.ClearingPriceNum = formatAmount(num)
		status.ClearingPriceDen = formatAmount(den)
		status.VolumeClearingPriceOrder = formatAmount(s.VolumeClearingPriceOrder)
		clearedAt := s.ClearedAt
		status.ClearedAt = &clearedAt
	}
	return status
}
