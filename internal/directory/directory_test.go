package directory

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestGetOrRegisterIsMonotonicAndStable(t *testing.T) {
	t.Parallel()

	d := New()
	a := common.HexToAddress("0x0000000000000000000000000000000000000001")
	b := common.HexToAddress("0x0000000000000000000000000000000000000002")

	idA := d.GetOrRegister(a)
	idB := d.GetOrRegister(b)
	if idA != 0 || idB != 1 {
		t.Fatalf("ids = %d, %d, want 0, 1", idA, idB)
	}

	if again := d.GetOrRegister(a); again != idA {
		t.Fatalf("re-registering a returned %d, want %d", again, idA)
	}
}

func TestLookupAndResolve(t *testing.T) {
	t.Parallel()

	d := New()
	addr := common.HexToAddress("0x0000000000000000000000000000000000000003")

	if _, ok := d.Lookup(addr); ok {
		t.Fatal("Lookup must miss before registration")
	}

	id := d.GetOrRegister(addr)

	gotID, ok := d.Lookup(addr)
	if !ok || gotID != id {
		t.Fatalf("Lookup = %d, %v, want %d, true", gotID, ok, id)
	}

	gotAddr, ok := d.Resolve(id)
	if !ok || gotAddr != addr {
		t.Fatalf("Resolve = %v, %v, want %v, true", gotAddr, ok, addr)
	}
}

func TestSnapshotRestorePreservesUserIDsAndNextID(t *testing.T) {
	t.Parallel()

	d := New()
	a := common.HexToAddress("0x01")
	b := common.HexToAddress("0x02")
	idA := d.GetOrRegister(a)
	idB := d.GetOrRegister(b)

	restored := Restore(d.Snapshot())

	if got, ok := restored.Lookup(a); !ok || got != idA {
		t.Fatalf("restored Lookup(a) = %d, %v, want %d, true", got, ok, idA)
	}
	if got, ok := restored.Lookup(b); !ok || got != idB {
		t.Fatalf("restored Lookup(b) = %d, %v, want %d, true", got, ok, idB)
	}

	// A fresh registration after restore must not collide with an id
	// already assigned before the snapshot was taken.
	c := common.HexToAddress("0x03")
	idC := restored.GetOrRegister(c)
	if idC == idA || idC == idB {
		t.Fatalf("new id %d collides with a restored id", idC)
	}
}

func TestCount(t *testing.T) {
	t.Parallel()

	d := New()
	if d.Count() != 0 {
		t.Fatal("fresh directory must be empty")
	}
	d.GetOrRegister(common.HexToAddress("0x01"))
	d.GetOrRegister(common.HexToAddress("0x02"))
	d.GetOrRegister(common.HexToAddress("0x01"))
	if d.Count() != 2 {
		t.Fatalf("Count = %d, want 2", d.Count())
	}
}
