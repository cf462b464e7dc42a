// Package store provides crash-safe persistence for the auction engine's
// state using JSON files.
//
// Global state (the fee parameters and the user directory) lives in one
// global.json. Each auction's state is stored as a separate file:
// auction_<id>.json. Writes use atomic file replacement (write to .tmp,
// then rename) to prevent corruption from partial writes or crashes
// mid-save. The engine calls SaveAuction after every operation that
// mutates an auction, and LoadGlobal/LoadAllAuctions on startup to restore
// state.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"sealedauction/internal/auction"
	"sealedauction/internal/book"
	"sealedauction/internal/directory"
)

// Store persists engine state to JSON files in a designated directory.
// All operations are mutex-protected to prevent concurrent file corruption.
type Store struct {
	dir string     // directory containing global.json and auction_*.json files
	mu  sync.Mutex // serializes all file operations
}

// Open creates a store backed by the given directory.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Close is a no-op for file-based storage.
func (s *Store) Close() error {
	return nil
}

// GlobalState is the process-wide state that survives a restart: the next
// auction id to allocate, the current fee parameters, and every address
// the user directory has ever registered.
type GlobalState struct {
	NextAuctionID   uint64             `json:"nextAuctionId"`
	FeeNumerator    uint64             `json:"feeNumerator"`
	FeeReceiver     common.Address     `json:"feeReceiver"`
	DirectoryByUser []directory.Entry  `json:"directory"`
}

// SaveGlobal atomically persists the process-wide state.
func (s *Store) SaveGlobal(g GlobalState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeJSON("global.json", g)
}

// LoadGlobal restores the process-wide state from disk. Returns the zero
// GlobalState, no error, if no global.json exists yet (fresh engine).
func (s *Store) LoadGlobal() (GlobalState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var g GlobalState
	ok, err := s.readJSON("global.json", &g)
	if err != nil || !ok {
		return GlobalState{}, err
	}
	return g, nil
}

// auctionWire is the JSON-safe projection of auction.State. Fields that
// can't marshal directly (the order book's map-keyed Set, and the book.Key
// fields below) are converted explicitly; common.Address marshals fine via
// its own MarshalText and is stored as is.
type auctionWire struct {
	ID     uint64 `json:"id"`
	Seller uint64 `json:"seller"`

	OfferedAsset common.Address `json:"offeredAsset"`
	BiddingAsset common.Address `json:"biddingAsset"`

	OrderCancellationEnd time.Time `json:"orderCancellationEnd"`
	AuctionEnd           time.Time `json:"auctionEnd"`

	// InitialOrder, InterimOrder, and ClearingOrder are book.Key — a value
	// type alias for uint256.Int — but uint256.Int's (Un)MarshalJSON methods
	// have pointer receivers, so a value-typed field marshals as the raw
	// [4]uint64 array instead of the quoted decimal string. Wire them as
	// pointers, matching every other uint256 field here.
	InitialOrder *uint256.Int `json:"initialOrder"`

	MinBidSellAmount *uint256.Int `json:"minBidSellAmount"`

	InterimSumBid *uint256.Int `json:"interimSumBid"`
	InterimOrder  *uint256.Int `json:"interimOrder"`

	ClearingOrder            *uint256.Int `json:"clearingOrder"`
	VolumeClearingPriceOrder *uint256.Int `json:"volumeClearingPriceOrder"`

	FeeNumerator uint64 `json:"feeNumerator"`

	MinFundingThreshold        *uint256.Int `json:"minFundingThreshold"`
	FundingThresholdNotReached bool         `json:"fundingThresholdNotReached"`

	BookEntries []book.Entry `json:"bookEntries"`
	BookLive    []book.Key   `json:"bookLive"`

	CreatedAt time.Time `json:"createdAt"`
	ClearedAt time.Time `json:"clearedAt"`
}

func toWire(s *auction.State) auctionWire {
	entries, live := s.Book.Snapshot()
	initial, interim, clearing := s.InitialOrder, s.InterimOrder, s.ClearingOrder
	return auctionWire{
		ID:                         s.ID,
		Seller:                     s.Seller,
		OfferedAsset:               s.OfferedAsset,
		BiddingAsset:               s.BiddingAsset,
		OrderCancellationEnd:       s.OrderCancellationEnd,
		AuctionEnd:                 s.AuctionEnd,
		InitialOrder:               &initial,
		MinBidSellAmount:           s.MinBidSellAmount,
		InterimSumBid:              s.InterimSumBid,
		InterimOrder:               &interim,
		ClearingOrder:              &clearing,
		VolumeClearingPriceOrder:   s.VolumeClearingPriceOrder,
		FeeNumerator:               s.FeeNumerator,
		MinFundingThreshold:        s.MinFundingThreshold,
		FundingThresholdNotReached: s.FundingThresholdNotReached,
		BookEntries:                entries,
		BookLive:                   live,
		CreatedAt:                  s.CreatedAt,
		ClearedAt:                  s.ClearedAt,
	}
}

func fromWire(w auctionWire) *auction.State {
	return &auction.State{
		ID:                         w.ID,
		Seller:                     w.Seller,
		OfferedAsset:               w.OfferedAsset,
		BiddingAsset:               w.BiddingAsset,
		OrderCancellationEnd:       w.OrderCancellationEnd,
		AuctionEnd:                 w.AuctionEnd,
		InitialOrder:               *w.InitialOrder,
		MinBidSellAmount:           w.MinBidSellAmount,
		InterimSumBid:              w.InterimSumBid,
		InterimOrder:               *w.InterimOrder,
		ClearingOrder:              *w.ClearingOrder,
		VolumeClearingPriceOrder:   w.VolumeClearingPriceOrder,
		FeeNumerator:               w.FeeNumerator,
		MinFundingThreshold:        w.MinFundingThreshold,
		FundingThresholdNotReached: w.FundingThresholdNotReached,
		Book:                       book.Restore(w.BookEntries, w.BookLive),
		CreatedAt:                  w.CreatedAt,
		ClearedAt:                  w.ClearedAt,
	}
}

// SaveAuction atomically persists one auction's full state.
func (s *Store) SaveAuction(state *auction.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeJSON(auctionFile(state.ID), toWire(state))
}

// LoadAuction restores one auction's state from disk. Returns nil, nil if
// no file exists for that id.
func (s *Store) LoadAuction(id uint64) (*auction.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var w auctionWire
	ok, err := s.readJSON(auctionFile(id), &w)
	if err != nil || !ok {
		return nil, err
	}
	return fromWire(w), nil
}

// LoadAllAuctions restores every persisted auction, keyed by id. Used on
// startup to repopulate the engine's in-memory auction map.
func (s *Store) LoadAllAuctions() (map[uint64]*auction.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	matches, err := filepath.Glob(filepath.Join(s.dir, "auction_*.json"))
	if err != nil {
		return nil, fmt.Errorf("glob auction files: %w", err)
	}

	out := make(map[uint64]*auction.State, len(matches))
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		var w auctionWire
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, fmt.Errorf("unmarshal %s: %w", path, err)
		}
		out[w.ID] = fromWire(w)
	}
	return out, nil
}

func auctionFile(id uint64) string {
	return fmt.Sprintf("auction_%d.json", id)
}

func (s *Store) writeJSON(name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}

	path := filepath.Join(s.dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return os.Rename(tmp, path)
}

// readJSON loads name into v. ok is false, err nil, if the file doesn't exist.
func (s *Store) readJSON(name string, v any) (ok bool, err error) {
	path := filepath.Join(s.dir, name)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("read %s: %w", name, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("unmarshal %s: %w", name, err)
	}
	return true, nil
}
