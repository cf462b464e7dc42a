package signing

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	t.Parallel()

	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	privHex := "0x" + common.Bytes2Hex(crypto.FromECDSA(key))
	want := crypto.PubkeyToAddress(key.PublicKey)

	a := New(137)
	deadline := time.Unix(1_700_003_600, 0).Unix()
	orderKey := big.NewInt(424242)

	sig, err := a.Sign(privHex, 7, orderKey, deadline)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	got, err := a.Verify(sig, 7, orderKey, deadline, time.Unix(1_700_000_000, 0))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if got != want {
		t.Fatalf("recovered address = %s, want %s", got.Hex(), want.Hex())
	}
}

func TestVerifyRejectsExpiredDeadline(t *testing.T) {
	t.Parallel()

	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	privHex := "0x" + common.Bytes2Hex(crypto.FromECDSA(key))

	a := New(137)
	deadline := time.Unix(1_700_000_000, 0).Unix()
	orderKey := big.NewInt(1)

	sig, err := a.Sign(privHex, 1, orderKey, deadline)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	if _, err := a.Verify(sig, 1, orderKey, deadline, time.Unix(1_700_000_001, 0)); err != ErrExpired {
		t.Fatalf("Verify error = %v, want ErrExpired", err)
	}
}

func TestVerifyDetectsTamperedOrderKey(t *testing.T) {
	t.Parallel()

	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	privHex := "0x" + common.Bytes2Hex(crypto.FromECDSA(key))
	want := crypto.PubkeyToAddress(key.PublicKey)

	a := New(137)
	deadline := time.Unix(1_700_003_600, 0).Unix()

	sig, err := a.Sign(privHex, 7, big.NewInt(1), deadline)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	got, err := a.Verify(sig, 7, big.NewInt(2), deadline, time.Unix(1_700_000_000, 0))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if got == want {
		t.Fatal("signature over a different order key must not recover to the same address")
	}
}
