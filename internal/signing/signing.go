// Package signing implements EIP-712 placement authorization: a bidder
// signs (auction id, order key, deadline) once with their wallet, and the
// engine recovers the signer's address from that signature instead of
// trusting a caller-supplied address directly.
package signing

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethmath "github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// ErrExpired is returned when a placement authorization's deadline has
// passed.
var ErrExpired = errors.New("signing: authorization deadline has passed")

// domainTypes is the EIP-712 domain/message schema for a placement
// authorization. It never changes across auctions, so it's a package-level
// constant rather than rebuilt per call.
var domainTypes = apitypes.Types{
	"EIP712Domain": {
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
	},
	"PlaceOrder": {
		{Name: "auctionId", Type: "uint256"},
		{Name: "orderKey", Type: "uint256"},
		{Name: "deadline", Type: "uint256"},
	},
}

// Authorizer signs and verifies placement authorizations for one chain.
type Authorizer struct {
	chainID *big.Int
}

// New creates an Authorizer bound to a chain id, used only as the EIP-712
// domain separator — this package never submits transactions.
func New(chainID int64) *Authorizer {
	return &Authorizer{chainID: big.NewInt(chainID)}
}

func (a *Authorizer) domain() *apitypes.TypedDataDomain {
	return &apitypes.TypedDataDomain{
		Name:    "SealedAuction",
		Version: "1",
		ChainId: (*ethmath.HexOrDecimal256)(new(big.Int).Set(a.chainID)),
	}
}

func (a *Authorizer) message(auctionID uint64, orderKey *big.Int, deadline int64) apitypes.TypedDataMessage {
	return apitypes.TypedDataMessage{
		"auctionId": fmt.Sprintf("%d", auctionID),
		"orderKey":  orderKey.String(),
		"deadline":  fmt.Sprintf("%d", deadline),
	}
}

func (a *Authorizer) hash(auctionID uint64, orderKey *big.Int, deadline int64) ([]byte, error) {
	typedData := apitypes.TypedData{
		Types:       domainTypes,
		PrimaryType: "PlaceOrder",
		Domain:      *a.domain(),
		Message:     a.message(auctionID, orderKey, deadline),
	}
	hash, _, err := apitypes.TypedDataAndHash(typedData)
	if err != nil {
		return nil, fmt.Errorf("typed data hash: %w", err)
	}
	return hash, nil
}

// Sign produces a 65-byte EIP-712 signature over (auctionID, orderKey,
// deadline) using privateKeyHex, a hex-encoded secp256k1 key. Used by test
// harnesses and CLI tooling that place orders on a bidder's behalf; the
// engine itself only ever verifies.
func (a *Authorizer) Sign(privateKeyHex string, auctionID uint64, orderKey *big.Int, deadline int64) ([]byte, error) {
	if len(privateKeyHex) >= 2 && privateKeyHex[:2] == "0x" {
		privateKeyHex = privateKeyHex[2:]
	}
	key, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	hash, err := a.hash(auctionID, orderKey, deadline)
	if err != nil {
		return nil, err
	}
	sig, err := crypto.Sign(hash, key)
	if err != nil {
		return nil, fmt.Errorf("sign typed data: %w", err)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	return sig, nil
}

// Verify recovers the signer of a placement authorization and checks the
// deadline against now. It does not check that the recovered address is
// actually entitled to place orderKey — that's the caller's business once
// it has the address.
func (a *Authorizer) Verify(sig []byte, auctionID uint64, orderKey *big.Int, deadline int64, now time.Time) (common.Address, error) {
	if now.Unix() > deadline {
		return common.Address{}, ErrExpired
	}
	if len(sig) != 65 {
		return common.Address{}, errors.New("signing: signature must be 65 bytes")
	}

	hash, err := a.hash(auctionID, orderKey, deadline)
	if err != nil {
		return common.Address{}, err
	}

	// crypto.SigToPub expects the recovery byte in [0,1]; Sign above
	// (like exchange.Auth.SignTypedData) emits it in Ethereum's
	// legacy 27/28 form, so undo that here.
	normalized := make([]byte, 65)
	copy(normalized, sig)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}

	pub, err := crypto.SigToPub(hash, normalized)
	if err != nil {
		return common.Address{}, fmt.Errorf("recover signer: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}
