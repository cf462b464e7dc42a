package auction

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"sealedauction/internal/book"
)

func newTestState(t *testing.T, now time.Time) *State {
	t.Helper()
	s, err := New(
		1, 0,
		common.HexToAddress("0xA"), common.HexToAddress("0xB"),
		uint256.NewInt(1000), uint256.NewInt(500), uint256.NewInt(1), uint256.NewInt(0),
		now.Add(time.Hour), now.Add(2*time.Hour), now,
		0,
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestNewPopulatesInitialOrder(t *testing.T) {
	t.Parallel()

	now := time.Unix(1_700_000_000, 0)
	s := newTestState(t, now)

	seller, minBuy, supply := s.SellerAmounts()
	if seller != 0 {
		t.Fatalf("seller = %d, want 0", seller)
	}
	if !minBuy.Eq(uint256.NewInt(500)) || !supply.Eq(uint256.NewInt(1000)) {
		t.Fatalf("minBuy/supply = %s/%s, want 500/1000", minBuy, supply)
	}
	if s.IsFinished() {
		t.Fatal("fresh auction must not be finished")
	}
}

func TestPhaseTransitions(t *testing.T) {
	t.Parallel()

	now := time.Unix(1_700_000_000, 0)
	s := newTestState(t, now)

	if got := s.Phase(now); got != PhasePlacement {
		t.Fatalf("Phase at creation = %s, want placement", got)
	}
	if !s.CanPlace(now) || !s.CanPlaceOrCancel(now) {
		t.Fatal("fresh auction must allow placement and cancellation")
	}

	afterCancel := now.Add(90 * time.Minute)
	if got := s.Phase(afterCancel); got != PhaseCancelEnded {
		t.Fatalf("Phase after cancellation end = %s, want cancel_ended", got)
	}
	if !s.CanPlace(afterCancel) {
		t.Fatal("placement must still be allowed after cancellation end, before auction end")
	}
	if s.CanPlaceOrCancel(afterCancel) {
		t.Fatal("cancellation must not be allowed after cancellation end")
	}

	afterEnd := now.Add(3 * time.Hour)
	if got := s.Phase(afterEnd); got != PhaseSolution {
		t.Fatalf("Phase after auction end = %s, want solution", got)
	}
	if s.CanPlace(afterEnd) {
		t.Fatal("placement must not be allowed after auction end")
	}
	if !s.InSolution(afterEnd) {
		t.Fatal("must be in solution after auction end with no clearing order")
	}

	key, err := book.Encode(1, uint256.NewInt(5), uint256.NewInt(7))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	s.ClearingOrder = key
	if got := s.Phase(afterEnd); got != PhaseFinished {
		t.Fatalf("Phase after clearing = %s, want finished", got)
	}
	if s.InSolution(afterEnd) {
		t.Fatal("must not be in solution once finished")
	}
}
