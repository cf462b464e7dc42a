package engine

import (
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"sealedauction/internal/auction"
	"sealedauction/internal/book"
	"sealedauction/internal/config"
	"sealedauction/internal/signing"
)

const (
	feeAuthorityKey = "1111111111111111111111111111111111111111111111111111111111111111"
	bidderKey       = "2222222222222222222222222222222222222222222222222222222222222222"
)

func u(v uint64) *uint256.Int { return uint256.NewInt(v) }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&discard{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

type discard struct{}

func (*discard) Write(p []byte) (int, error) { return len(p), nil }

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	cfg := config.Config{
		DryRun: true,
		Signer: config.SignerConfig{PrivateKey: feeAuthorityKey, ChainID: 1},
		Ledger: config.LedgerConfig{BaseURL: "http://127.0.0.1:0"},
		Store:  config.StoreConfig{DataDir: t.TempDir()},
	}
	e, err := New(cfg, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

func feeAuthorityAddress(t *testing.T) common.Address {
	t.Helper()
	key, err := crypto.HexToECDSA(feeAuthorityKey)
	if err != nil {
		t.Fatalf("HexToECDSA: %v", err)
	}
	return crypto.PubkeyToAddress(key.PublicKey)
}

func bidderAddress(t *testing.T) common.Address {
	t.Helper()
	key, err := crypto.HexToECDSA(bidderKey)
	if err != nil {
		t.Fatalf("HexToECDSA: %v", err)
	}
	return crypto.PubkeyToAddress(key.PublicKey)
}

func signOrder(t *testing.T, auctionID uint64, buy, sell *uint256.Int, deadline int64) []byte {
	t.Helper()
	auth := signing.New(1)
	sig, err := auth.Sign(bidderKey, auctionID, bigFromKeyParts(buy, sell), deadline)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	return sig
}

// initiateTestAuction creates an auction with supply 1000 and seller floor
// min_buy 500 — a floor price ratio (min_buy/supply) of 0.5. A bid's
// buy/sell must fall strictly below that ratio to clear the placement
// floor check, so every valid test bid below uses buy=100, sell=400
// (ratio 0.25).
func initiateTestAuction(t *testing.T, e *Engine, now time.Time) uint64 {
	t.Helper()
	id, err := e.InitiateAuction(context.Background(), InitiateAuctionParams{
		SellerAddress:        common.HexToAddress("0xA"),
		OfferedAsset:         common.HexToAddress("0xAAAA"),
		BiddingAsset:         common.HexToAddress("0xBBBB"),
		OfferedAmount:        u(1000),
		MinBuy:               u(500),
		MinBidSellAmount:     u(1),
		MinFundingThreshold:  u(0),
		OrderCancellationEnd: now.Add(time.Hour),
		AuctionEnd:           now.Add(2 * time.Hour),
	}, now)
	if err != nil {
		t.Fatalf("InitiateAuction: %v", err)
	}
	return id
}

// placeValidOrder places the standard valid test bid (buy=100, sell=400)
// signed by bidderKey and returns its book key.
func placeValidOrder(t *testing.T, e *Engine, id uint64, now time.Time) book.Key {
	t.Helper()
	buy, sell := u(100), u(400)
	deadline := now.Add(time.Hour).Unix()
	sig := signOrder(t, id, buy, sell, deadline)
	if err := e.PlaceOrders(context.Background(), id, []NewOrder{
		{Buy: buy, Sell: sell, Hint: book.QueueStart, Signature: sig, Deadline: deadline},
	}, now); err != nil {
		t.Fatalf("PlaceOrders: %v", err)
	}
	userID, ok := e.dir.Lookup(bidderAddress(t))
	if !ok {
		t.Fatal("bidder not registered after PlaceOrders")
	}
	key, err := book.Encode(userID, buy, sell)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	return key
}

func TestInitiateAuctionCreatesPlacementPhaseAuction(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	now := time.Unix(1_700_000_000, 0)

	id := initiateTestAuction(t, e, now)

	statuses := e.GetAuctionsSnapshot()
	if len(statuses) != 1 {
		t.Fatalf("expected 1 auction, got %d", len(statuses))
	}
	if statuses[0].ID != id {
		t.Fatalf("ID = %d, want %d", statuses[0].ID, id)
	}
	if statuses[0].Phase != string(auction.PhasePlacement) {
		t.Fatalf("Phase = %s, want %s", statuses[0].Phase, auction.PhasePlacement)
	}
}

func TestInitiateAuctionRejectsZeroOfferedAmount(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	now := time.Unix(1_700_000_000, 0)

	_, err := e.InitiateAuction(context.Background(), InitiateAuctionParams{
		SellerAddress:        common.HexToAddress("0xA"),
		OfferedAsset:         common.HexToAddress("0xAAAA"),
		BiddingAsset:         common.HexToAddress("0xBBBB"),
		OfferedAmount:        u(0),
		MinBuy:               u(500),
		MinBidSellAmount:     u(1),
		OrderCancellationEnd: now.Add(time.Hour),
		AuctionEnd:           now.Add(2 * time.Hour),
	}, now)
	if err != auction.ErrInvalidOrder {
		t.Fatalf("err = %v, want ErrInvalidOrder", err)
	}
}

func TestPlaceOrdersAcceptsValidSignedOrder(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	now := time.Unix(1_700_000_000, 0)
	id := initiateTestAuction(t, e, now)

	placeValidOrder(t, e, id, now)

	if _, ok := e.dir.Lookup(bidderAddress(t)); !ok {
		t.Fatal("expected the signing bidder to be registered in the directory")
	}
}

func TestPlaceOrdersWithSignatureOverDifferentAmountsBindsDifferentUser(t *testing.T) {
	t.Parallel()
	// A signature is only valid for the exact (buy, sell) it was computed
	// over: recovery against a different pair yields a different address
	// entirely, so the order lands under a fresh, unrelated user id rather
	// than being attributed to the original bidder.
	e := newTestEngine(t)
	now := time.Unix(1_700_000_000, 0)
	id := initiateTestAuction(t, e, now)

	buy, sell := u(100), u(400)
	sigForOtherSell := signOrder(t, id, buy, u(401), now.Add(time.Hour).Unix())

	if err := e.PlaceOrders(context.Background(), id, []NewOrder{
		{Buy: buy, Sell: sell, Hint: book.QueueStart, Signature: sigForOtherSell, Deadline: now.Add(time.Hour).Unix()},
	}, now); err != nil {
		t.Fatalf("PlaceOrders: %v", err)
	}

	if _, ok := e.dir.Lookup(bidderAddress(t)); ok {
		t.Fatal("the real bidder address must not have been registered")
	}
}

func TestPlaceOrdersRejectsExpiredDeadline(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	now := time.Unix(1_700_000_000, 0)
	id := initiateTestAuction(t, e, now)

	buy, sell := u(100), u(400)
	deadline := now.Add(-time.Hour).Unix()
	sig := signOrder(t, id, buy, sell, deadline)

	err := e.PlaceOrders(context.Background(), id, []NewOrder{
		{Buy: buy, Sell: sell, Hint: book.QueueStart, Signature: sig, Deadline: deadline},
	}, now)
	if err == nil {
		t.Fatal("expected expiry error")
	}
}

func TestPlaceOrdersRejectsBelowFloorPrice(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	now := time.Unix(1_700_000_000, 0)
	id := initiateTestAuction(t, e, now)

	// floor ratio is min_buy(500)/supply(1000) = 0.5; buy=600,sell=100 has
	// ratio 6.0, far worse for the seller than the floor.
	buy, sell := u(600), u(100)
	sig := signOrder(t, id, buy, sell, now.Add(time.Hour).Unix())

	err := e.PlaceOrders(context.Background(), id, []NewOrder{
		{Buy: buy, Sell: sell, Hint: book.QueueStart, Signature: sig, Deadline: now.Add(time.Hour).Unix()},
	}, now)
	if err != auction.ErrInvalidOrder {
		t.Fatalf("err = %v, want ErrInvalidOrder", err)
	}
}

func TestPlaceOrdersRejectsAfterAuctionEnd(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	now := time.Unix(1_700_000_000, 0)
	id := initiateTestAuction(t, e, now)

	buy, sell := u(100), u(400)
	late := now.Add(3 * time.Hour)
	sig := signOrder(t, id, buy, sell, late.Add(time.Hour).Unix())

	err := e.PlaceOrders(context.Background(), id, []NewOrder{
		{Buy: buy, Sell: sell, Hint: book.QueueStart, Signature: sig, Deadline: late.Add(time.Hour).Unix()},
	}, late)
	if err != auction.ErrWrongPhase {
		t.Fatalf("err = %v, want ErrWrongPhase", err)
	}
}

func TestPlaceThenCancelOrder(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	now := time.Unix(1_700_000_000, 0)
	id := initiateTestAuction(t, e, now)

	key := placeValidOrder(t, e, id, now)

	if err := e.CancelOrders(context.Background(), id, bidderAddress(t), []book.Key{key}, now); err != nil {
		t.Fatalf("CancelOrders: %v", err)
	}
}

func TestCancelOrdersRejectsNonOwner(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	now := time.Unix(1_700_000_000, 0)
	id := initiateTestAuction(t, e, now)

	key := placeValidOrder(t, e, id, now)
	other := common.HexToAddress("0xDEAD")

	err := e.CancelOrders(context.Background(), id, other, []book.Key{key}, now)
	if err != auction.ErrNotOwner {
		t.Fatalf("err = %v, want ErrNotOwner", err)
	}
}

// verifyPriceCase2Candidate is the seller's floor price encoded as a
// synthetic candidate key: num/den = supply/min_buy = 1000/500, reduced to
// 2/1, so that num*min_buy == supply*den (the Case 2 equality check in
// clearing.Engine.VerifyPrice).
func verifyPriceCase2Candidate(t *testing.T) book.Key {
	t.Helper()
	k, err := book.Encode(0, u(2), u(1))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	return k
}

func TestVerifyPriceSellerFloorSettlesAuction(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	now := time.Unix(1_700_000_000, 0)
	id := initiateTestAuction(t, e, now)

	placeValidOrder(t, e, id, now)

	candidate := verifyPriceCase2Candidate(t)
	after := now.Add(3 * time.Hour)

	if err := e.VerifyPrice(context.Background(), id, candidate, after); err != nil {
		t.Fatalf("VerifyPrice: %v", err)
	}

	statuses := e.GetAuctionsSnapshot()
	if !statuses[0].Settled {
		t.Fatal("expected auction to be settled")
	}
}

func TestVerifyPriceRejectsBeforeAuctionEnd(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	now := time.Unix(1_700_000_000, 0)
	id := initiateTestAuction(t, e, now)

	candidate := verifyPriceCase2Candidate(t)
	if err := e.VerifyPrice(context.Background(), id, candidate, now); err != auction.ErrWrongPhase {
		t.Fatalf("err = %v, want ErrWrongPhase", err)
	}
}

func TestClaimParticipantAfterSettlement(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	now := time.Unix(1_700_000_000, 0)
	id := initiateTestAuction(t, e, now)

	key := placeValidOrder(t, e, id, now)

	candidate := verifyPriceCase2Candidate(t)
	after := now.Add(3 * time.Hour)
	if err := e.VerifyPrice(context.Background(), id, candidate, after); err != nil {
		t.Fatalf("VerifyPrice: %v", err)
	}

	if err := e.ClaimParticipant(context.Background(), id, []book.Key{key}); err != nil {
		t.Fatalf("ClaimParticipant: %v", err)
	}
}

func TestClaimParticipantBeforeSettlementFails(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	now := time.Unix(1_700_000_000, 0)
	id := initiateTestAuction(t, e, now)

	key, _ := book.Encode(1, u(100), u(400))
	if err := e.ClaimParticipant(context.Background(), id, []book.Key{key}); err != auction.ErrWrongPhase {
		t.Fatalf("err = %v, want ErrWrongPhase", err)
	}
}

func TestSetFeeRequiresAuthority(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)

	err := e.SetFee(common.HexToAddress("0xNOTAUTH"), 10, common.HexToAddress("0xFEE"))
	if err == nil {
		t.Fatal("expected unauthorized error")
	}

	if err := e.SetFee(feeAuthorityAddress(t), 10, common.HexToAddress("0xFEE")); err != nil {
		t.Fatalf("SetFee: %v", err)
	}

	summary := e.GetFeesSnapshot()
	if summary.Numerator != 10 {
		t.Fatalf("Numerator = %d, want 10", summary.Numerator)
	}
}

func TestRegisterUserIsStable(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	addr := common.HexToAddress("0xABC")

	id1 := e.RegisterUser(addr)
	id2 := e.RegisterUser(addr)
	if id1 != id2 {
		t.Fatalf("RegisterUser not stable: %d != %d", id1, id2)
	}
}

func TestTrim0x(t *testing.T) {
	t.Parallel()
	if got := trim0x("0xabc"); got != "abc" {
		t.Fatalf("trim0x(0xabc) = %s, want abc", got)
	}
	if got := trim0x("abc"); got != "abc" {
		t.Fatalf("trim0x(abc) = %s, want abc", got)
	}
	if !strings.HasPrefix(feeAuthorityKey, "11") {
		t.Fatal("sanity check on test fixture key")
	}
}
