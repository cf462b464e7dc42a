package api

import (
	"time"

	"sealedauction/internal/config"
)

// DashboardSnapshot represents the complete dashboard state: every tracked
// auction plus the process-wide fee and configuration summary.
type DashboardSnapshot struct {
	Timestamp time.Time `json:"timestamp"`

	Auctions []AuctionStatus `json:"auctions"`

	Fees FeesSummary `json:"fees"`

	Config ConfigSummary `json:"config"`
}

// AuctionStatus represents one auction's current state, with all amounts
// formatted as decimal strings rather than raw uint256 for dashboard
// display.
type AuctionStatus struct {
	ID     uint64 `json:"id"`
	Seller uint64 `json:"seller"`

	OfferedAsset string `json:"offered_asset"`
	BiddingAsset string `json:"bidding_asset"`

	Phase string `json:"phase"`

	OrderCancellationEnd time.Time `json:"order_cancellation_end"`
	AuctionEnd           time.Time `json:"auction_end"`

	Supply string `json:"supply"`
	MinBuy string `json:"min_buy"`

	MinFundingThreshold        string `json:"min_funding_threshold"`
	FundingThresholdNotReached bool   `json:"funding_threshold_not_reached"`

	InterimSumBid string `json:"interim_sum_bid"`

	Settled                  bool   `json:"settled"`
	ClearingPriceNum          string `json:"clearing_price_num,omitempty"`
	ClearingPriceDen          string `json:"clearing_price_den,omitempty"`
	VolumeClearingPriceOrder string `json:"volume_clearing_price_order,omitempty"`

	FeeNumerator uint64 `json:"fee_numerator"`

	CreatedAt time.Time  `json:"created_at"`
	ClearedAt *time.Time `json:"cleared_at,omitempty"`
}

// FeesSummary represents the process-wide fee parameters.
type FeesSummary struct {
	Numerator       uint64 `json:"numerator"`
	Denominator     uint64 `json:"denominator"`
	ReceiverAddress string `json:"receiver_address,omitempty"`
}

// ConfigSummary represents the daemon's operational configuration, with
// the signer's private key deliberately omitted.
type ConfigSummary struct {
	DryRun         bool   `json:"dry_run"`
	ChainID        int64  `json:"chain_id"`
	LedgerBaseURL  string `json:"ledger_base_url"`
	StoreDataDir   string `json:"store_data_dir"`
	FeeNumerator   uint64 `json:"fee_numerator"`
}

// NewConfigSummary creates a config summary from the loaded config.
func NewConfigSummary(cfg config.Config) ConfigSummary {
	return ConfigSummary{
		DryRun:        cfg.DryRun,
		ChainID:       cfg.Signer.ChainID,
		LedgerBaseURL: cfg.Ledger.BaseURL,
		StoreDataDir:  cfg.Store.DataDir,
		FeeNumerator:  cfg.Fees.Numerator,
	}
}
