// Package engine is the central orchestrator of the sealed-bid batch
// auction daemon.
//
// It wires together all subsystems:
//
//  1. directory.Directory maps bidder/seller addresses to dense user ids.
//  2. fees.Module holds the process-wide fee parameters.
//  3. clearing.Engine runs the two-phase uniform-price solver against a
//     per-auction auction.State + book.Set.
//  4. signing.Authorizer recovers a bidder's address from their placement
//     signature instead of trusting a caller-supplied address directly.
//  5. ledger.Client moves funds once an operation commits: pull during
//     placement and initiation, push during settlement.
//  6. store.Store persists each auction operation together with the global
//     directory/fee/counter state, so a restart picks up where the daemon
//     left off. register_user writes nothing itself; its registration is
//     saved by the next persisted operation or by Stop.
//
// The eight core operations (initiate_auction, place_orders, cancel_orders,
// precompute_sum, verify_price, claim_participant, set_fee, register_user)
// are exported methods; the remaining exported methods are Stop and the
// dashboard's read-only accessors. The engine is single-threaded
// against its own state: one mutex serializes every operation, matching the
// "no operation suspends mid-flight" guarantee the clearing core assumes of
// its caller.
//
// Lifecycle: New() restores persisted state and is immediately ready to
// serve operations; Stop() persists and closes resources.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"sealedauction/internal/api"
	"sealedauction/internal/auction"
	"sealedauction/internal/book"
	"sealedauction/internal/clearing"
	"sealedauction/internal/config"
	"sealedauction/internal/directory"
	"sealedauction/internal/fees"
	"sealedauction/internal/ledger"
	"sealedauction/internal/signing"
	"sealedauction/internal/store"
)

var (
	// ErrAuctionNotFound is returned by any operation naming an unknown
	// auction id.
	ErrAuctionNotFound = errors.New("engine: auction not found")
	// ErrEmptyBatch is returned by place_orders/cancel_orders/
	// claim_participant when called with zero orders.
	ErrEmptyBatch = errors.New("engine: order batch must not be empty")
)

// NewOrder is one order in a place_orders batch: the amounts the bidder
// wants to place, the hint for where to splice it into the book, and the
// EIP-712 signature authorizing this specific (auction, order) pair.
type NewOrder struct {
	Buy       *uint256.Int
	Sell      *uint256.Int
	Hint      book.Key
	Signature []byte
	Deadline  int64
}

// Engine orchestrates every subsystem of the auction daemon.
type Engine struct {
	cfg      config.Config
	dir      *directory.Directory
	fees     *fees.Module
	clearing *clearing.Engine
	ledger   *ledger.Client
	auth     *signing.Authorizer
	store    *store.Store
	logger   *slog.Logger

	feeAuthority common.Address

	mu            sync.Mutex
	auctions      map[uint64]*auction.State
	nextAuctionID uint64

	dashboardEvents chan api.DashboardEvent
}

// New wires and restores the engine from cfg. If cfg.Store.DataDir holds
// persisted state from a prior run, every auction and the directory/fee
// state are restored before New returns.
func New(cfg config.Config, logger *slog.Logger) (*Engine, error) {
	st, err := store.Open(cfg.Store.DataDir)
	if err != nil {
		return nil, err
	}

	global, err := st.LoadGlobal()
	if err != nil {
		return nil, fmt.Errorf("load global state: %w", err)
	}

	dir := directory.Restore(global.DirectoryByUser)
	feesModule := fees.New(dir)
	if global.FeeNumerator > 0 {
		if err := feesModule.SetFee(true, global.FeeNumerator, global.FeeReceiver); err != nil {
			return nil, fmt.Errorf("restore fee state: %w", err)
		}
	} else if cfg.Fees.Numerator > 0 {
		// No persisted fee state (fresh store): seed from config.
		receiver := common.HexToAddress(cfg.Fees.ReceiverAddress)
		if err := feesModule.SetFee(true, cfg.Fees.Numerator, receiver); err != nil {
			return nil, fmt.Errorf("seed fee state from config: %w", err)
		}
	}

	auctions, err := st.LoadAllAuctions()
	if err != nil {
		return nil, fmt.Errorf("load auctions: %w", err)
	}

	var dashEvents chan api.DashboardEvent
	if cfg.Dashboard.Enabled {
		dashEvents = make(chan api.DashboardEvent, 100)
	}

	var feeAuthority common.Address
	if cfg.Signer.PrivateKey != "" {
		key, err := crypto.HexToECDSA(trim0x(cfg.Signer.PrivateKey))
		if err != nil {
			return nil, fmt.Errorf("parse fee-authority key: %w", err)
		}
		feeAuthority = crypto.PubkeyToAddress(key.PublicKey)
	}

	return &Engine{
		cfg:             cfg,
		dir:             dir,
		fees:            feesModule,
		clearing:        clearing.New(feesModule),
		ledger:          ledger.New(cfg.Ledger.BaseURL, cfg.DryRun, logger),
		auth:            signing.New(cfg.Signer.ChainID),
		store:           st,
		logger:          logger.With("component", "engine"),
		feeAuthority:    feeAuthority,
		auctions:        auctions,
		nextAuctionID:   global.NextAuctionID,
		dashboardEvents: dashEvents,
	}, nil
}

func trim0x(s string) string {
	if len(s) >= 2 && s[:2] == "0x" {
		return s[2:]
	}
	return s
}

// Stop persists the final global state and closes the store. There are no
// background goroutines to drain: every operation runs to completion
// synchronously under e.mu before returning.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.saveGlobalLocked(); err != nil {
		e.logger.Error("failed to persist global state on shutdown", "error", err)
	}
	if err := e.store.Close(); err != nil {
		e.logger.Error("failed to close store", "error", err)
	}
	e.logger.Info("engine stopped")
}

func (e *Engine) saveGlobalLocked() error {
	return e.store.SaveGlobal(store.GlobalState{
		NextAuctionID:   e.nextAuctionID,
		FeeNumerator:    e.fees.Snapshot(),
		FeeReceiver:     e.feeReceiverAddress(),
		DirectoryByUser: e.dir.Snapshot(),
	})
}

func (e *Engine) feeReceiverAddress() common.Address {
	addr, _ := e.dir.Resolve(e.fees.ReceiverUserID())
	return addr
}

// RegisterUser registers addr in the user directory, allocating a fresh
// user id the first time it's seen. Emits NewUser.
func (e *Engine) RegisterUser(addr common.Address) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	id := e.dir.GetOrRegister(addr)
	e.emit(0, "NewUser", api.UserRegisteredEvent{UserID: id, Address: addr.Hex()})
	return id
}

// InitiateAuctionParams bundles initiate_auction's arguments.
type InitiateAuctionParams struct {
	SellerAddress                           common.Address
	OfferedAsset, BiddingAsset              common.Address
	OfferedAmount, MinBuy, MinBidSellAmount *uint256.Int
	MinFundingThreshold                     *uint256.Int
	OrderCancellationEnd, AuctionEnd        time.Time
}

// InitiateAuction creates a new auction: pulls OfferedAmount of
// OfferedAsset from the seller, then commits a fresh auction.State in the
// Placement phase.
func (e *Engine) InitiateAuction(ctx context.Context, p InitiateAuctionParams, now time.Time) (uint64, error) {
	if p.OfferedAmount == nil || p.OfferedAmount.IsZero() {
		return 0, auction.ErrInvalidOrder
	}
	if p.MinBuy == nil || p.MinBuy.IsZero() {
		return 0, auction.ErrInvalidOrder
	}
	if p.MinBidSellAmount == nil || p.MinBidSellAmount.IsZero() {
		return 0, auction.ErrInvalidOrder
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	sellerID := e.dir.GetOrRegister(p.SellerAddress)
	id := e.nextAuctionID

	if err := e.ledger.Pull(ctx, p.OfferedAsset, p.SellerAddress, p.OfferedAmount); err != nil {
		return 0, fmt.Errorf("pull offered amount: %w", err)
	}

	minFundingThreshold := p.MinFundingThreshold
	if minFundingThreshold == nil {
		minFundingThreshold = new(uint256.Int)
	}

	state, err := auction.New(
		id, sellerID,
		p.OfferedAsset, p.BiddingAsset,
		p.OfferedAmount, p.MinBuy, p.MinBidSellAmount, minFundingThreshold,
		p.OrderCancellationEnd, p.AuctionEnd, now,
		e.fees.Snapshot(),
	)
	if err != nil {
		return 0, err
	}

	e.auctions[id] = state
	e.nextAuctionID++

	if err := e.persistLocked(state); err != nil {
		return 0, err
	}

	e.emit(id, "NewAuction", map[string]any{
		"seller":         sellerID,
		"offered_asset":  p.OfferedAsset.Hex(),
		"bidding_asset":  p.BiddingAsset.Hex(),
		"offered_amount": p.OfferedAmount.String(),
	})
	return id, nil
}

// PlaceOrders validates and inserts a batch of bidder orders into one
// auction's book. Every order's signature is verified, and the address it
// recovers determines the order's user_id (registering that address on
// first use). The whole batch is rejected if any order fails validation.
func (e *Engine) PlaceOrders(ctx context.Context, auctionID uint64, orders []NewOrder, now time.Time) error {
	if len(orders) == 0 {
		return ErrEmptyBatch
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.auctions[auctionID]
	if !ok {
		return ErrAuctionNotFound
	}
	if !s.CanPlace(now) {
		return auction.ErrWrongPhase
	}

	_, sellerBuy, supply := s.SellerAmounts()

	type placement struct {
		key  book.Key
		hint book.Key
	}
	placements := make([]placement, 0, len(orders))
	debits := make([]struct {
		addr common.Address
		amt  *uint256.Int
	}, 0, len(orders))

	for _, o := range orders {
		if o.Buy == nil || o.Sell == nil || o.Buy.IsZero() || o.Sell.IsZero() {
			return auction.ErrInvalidOrder
		}
		if o.Sell.Cmp(s.MinBidSellAmount) <= 0 {
			return auction.ErrInvalidOrder
		}
		// min_buy_i * seller_sell < seller_buy * sell_amount_i
		lhs := new(uint256.Int).Mul(o.Buy, supply)
		rhs := new(uint256.Int).Mul(sellerBuy, o.Sell)
		if !lhs.Lt(rhs) {
			return auction.ErrInvalidOrder
		}

		recovered, err := e.auth.Verify(o.Signature, auctionID, bigFromKeyParts(o.Buy, o.Sell), o.Deadline, now)
		if err != nil {
			return fmt.Errorf("verify placement signature: %w", err)
		}
		userID, ok := e.dir.Lookup(recovered)
		if !ok {
			userID = e.dir.GetOrRegister(recovered)
			e.emit(0, "UserRegistration", api.UserRegisteredEvent{UserID: userID, Address: recovered.Hex()})
		}

		key, err := book.Encode(userID, o.Buy, o.Sell)
		if err != nil {
			return auction.ErrOverflowOrNarrowing
		}
		placements = append(placements, placement{key: key, hint: o.Hint})
		debits = append(debits, struct {
			addr common.Address
			amt  *uint256.Int
		}{addr: recovered, amt: o.Sell})
	}

	for _, d := range debits {
		if err := e.ledger.Pull(ctx, s.BiddingAsset, d.addr, d.amt); err != nil {
			return fmt.Errorf("pull bid amount: %w", err)
		}
	}

	for _, p := range placements {
		if !s.Book.Insert(p.key, p.hint) {
			return auction.ErrBadHint
		}
	}

	if err := e.persistLocked(s); err != nil {
		return err
	}

	for _, p := range placements {
		user, buy, sell := book.Decode(p.key)
		e.emit(auctionID, "NewSellOrder", api.PlacedEvent{UserID: user, Buy: buy.String(), Sell: sell.String()})
	}
	return nil
}

// bigFromKeyParts packs (buy, sell) into a single big.Int the same way
// book.Encode would for a zero user_id, so the placement signature binds
// to the exact amounts being placed without requiring the bidder to know
// their user id in advance.
func bigFromKeyParts(buy, sell *uint256.Int) *big.Int {
	k, _ := book.Encode(0, buy, sell)
	return k.ToBig()
}

// CancelOrders removes a batch of the caller's own orders from an
// auction's book, refunding each order's bidding-asset amount. Requires
// the Placement & Cancel window.
func (e *Engine) CancelOrders(ctx context.Context, auctionID uint64, caller common.Address, orders []book.Key, now time.Time) error {
	if len(orders) == 0 {
		return ErrEmptyBatch
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.auctions[auctionID]
	if !ok {
		return ErrAuctionNotFound
	}
	if !s.CanPlaceOrCancel(now) {
		return auction.ErrWrongPhase
	}

	callerID, ok := e.dir.Lookup(caller)
	if !ok {
		return auction.ErrNotOwner
	}

	seen := make(map[book.Key]struct{}, len(orders))
	for _, o := range orders {
		user, _, _ := book.Decode(o)
		if user != callerID {
			return auction.ErrNotOwner
		}
		if _, dup := seen[o]; dup || !s.Book.Contains(o) {
			return auction.ErrBadHint
		}
		seen[o] = struct{}{}
	}

	for _, o := range orders {
		if !s.Book.RemoveKeepHistory(o) {
			return auction.ErrBadHint
		}
	}

	if err := e.persistLocked(s); err != nil {
		return err
	}

	for _, o := range orders {
		_, _, sell := book.Decode(o)
		if err := e.ledger.Push(ctx, s.BiddingAsset, caller, sell); err != nil {
			e.logger.Error("refund push failed after cancel committed", "auction", auctionID, "error", err)
		}
	}

	for range orders {
		e.emit(auctionID, "CancellationSellOrder", api.CancelledEvent{UserID: callerID})
	}
	return nil
}

// PrecomputeSum advances one auction's interim clearing walk.
func (e *Engine) PrecomputeSum(auctionID uint64, steps uint64, now time.Time) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.auctions[auctionID]
	if !ok {
		return ErrAuctionNotFound
	}
	if !s.InSolution(now) {
		return auction.ErrWrongPhase
	}

	if err := e.clearing.PrecomputeSum(s, steps); err != nil {
		return err
	}
	return e.persistLocked(s)
}

// VerifyPrice runs the three-case solver against candidate, commits the
// clearing outcome, and pushes every resulting transfer through the
// ledger.
func (e *Engine) VerifyPrice(ctx context.Context, auctionID uint64, candidate book.Key, now time.Time) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.auctions[auctionID]
	if !ok {
		return ErrAuctionNotFound
	}
	if !s.InSolution(now) {
		return auction.ErrWrongPhase
	}

	transfers, cleared, err := e.clearing.VerifyPrice(s, candidate)
	if err != nil {
		return err
	}
	s.ClearedAt = now

	if err := e.persistLocked(s); err != nil {
		return err
	}

	e.applyTransfers(ctx, auctionID, s, transfers)

	e.emit(auctionID, "AuctionCleared", api.NewClearedEvent(cleared.Num, cleared.Den, s.VolumeClearingPriceOrder, s.FundingThresholdNotReached))
	return nil
}

// ClaimParticipant settles a batch of one participant's orders once the
// auction is Finished.
func (e *Engine) ClaimParticipant(ctx context.Context, auctionID uint64, orders []book.Key) error {
	if len(orders) == 0 {
		return ErrEmptyBatch
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.auctions[auctionID]
	if !ok {
		return ErrAuctionNotFound
	}

	transfers, err := e.clearing.ClaimParticipant(s, orders)
	if err != nil {
		return err
	}

	if err := e.persistLocked(s); err != nil {
		return err
	}

	e.applyTransfers(ctx, auctionID, s, transfers)

	user, _, _ := book.Decode(orders[0])
	offered, bidding := new(uint256.Int), new(uint256.Int)
	for _, tr := range transfers {
		if tr.Offered {
			offered.Add(offered, tr.Amount)
		} else {
			bidding.Add(bidding, tr.Amount)
		}
	}
	for range orders {
		e.emit(auctionID, "ClaimedFromOrder", api.ClaimedEvent{UserID: user, Offered: offered.String(), Bidding: bidding.String()})
	}
	return nil
}

// applyTransfers pushes every settlement transfer to its recipient. A
// transfer failure is logged but does not roll back the already-committed
// clearing state: the ledger collaborator's push/pull calls are the only
// side effects that can fail after commit, and retrying a stuck push is
// an operational, not a correctness, concern.
func (e *Engine) applyTransfers(ctx context.Context, auctionID uint64, s *auction.State, transfers []clearing.Transfer) {
	for _, tr := range transfers {
		addr, ok := e.dir.Resolve(tr.UserID)
		if !ok {
			e.logger.Error("transfer to unregistered user id", "auction", auctionID, "user_id", tr.UserID)
			continue
		}
		asset := s.BiddingAsset
		if tr.Offered {
			asset = s.OfferedAsset
		}
		if err := e.ledger.Push(ctx, asset, addr, tr.Amount); err != nil {
			e.logger.Error("settlement push failed", "auction", auctionID, "user_id", tr.UserID, "error", err)
		}
	}
}

// SetFee updates the global fee parameters. caller must recover to the
// configured fee authority address; access control beyond that address
// comparison is the hosting environment's responsibility.
func (e *Engine) SetFee(caller common.Address, num uint64, receiver common.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	authorized := e.feeAuthority != (common.Address{}) && caller == e.feeAuthority
	if err := e.fees.SetFee(authorized, num, receiver); err != nil {
		return err
	}

	if err := e.saveGlobalLocked(); err != nil {
		return err
	}

	e.emit(0, "set_fee", map[string]any{"numerator": num, "receiver": receiver.Hex()})
	return nil
}

func (e *Engine) persistLocked(s *auction.State) error {
	if err := e.store.SaveAuction(s); err != nil {
		return fmt.Errorf("persist auction %d: %w", s.ID, err)
	}
	if err := e.saveGlobalLocked(); err != nil {
		return fmt.Errorf("persist global state: %w", err)
	}
	return nil
}

// DashboardEvents returns the dashboard event channel (nil if the
// dashboard is disabled).
func (e *Engine) DashboardEvents() <-chan api.DashboardEvent {
	return e.dashboardEvents
}

// GetAuctionsSnapshot returns the current dashboard projection of every
// tracked auction.
func (e *Engine) GetAuctionsSnapshot() []api.AuctionStatus {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := time.Now()
	out := make([]api.AuctionStatus, 0, len(e.auctions))
	for _, s := range e.auctions {
		out = append(out, api.NewAuctionStatus(s, now))
	}
	return out
}

// GetFeesSnapshot returns the current process-wide fee parameters for the
// dashboard.
func (e *Engine) GetFeesSnapshot() api.FeesSummary {
	e.mu.Lock()
	defer e.mu.Unlock()

	return api.FeesSummary{
		Numerator:       e.fees.Snapshot(),
		Denominator:     fees.FeeDenominator,
		ReceiverAddress: e.feeReceiverAddress().Hex(),
	}
}

// emit sends an event to the dashboard (non-blocking) and logs it.
func (e *Engine) emit(auctionID uint64, kind string, data any) {
	e.logger.Info("event", "type", kind, "auction", auctionID)

	if e.dashboardEvents == nil {
		return
	}
	evt := api.DashboardEvent{
		Type:      kind,
		Timestamp: time.Now(),
		AuctionID: auctionID,
		Data:      data,
	}
	select {
	case e.dashboardEvents <- evt:
	default:
		e.logger.Warn("dashboard event channel full, dropping event", "type", kind)
	}
}
