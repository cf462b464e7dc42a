// Package directory implements the bidirectional address <-> user_id
// mapping every order key and claim is indexed by (C3 UserDirectory).
// User ids are allocated monotonically starting at 0 and never reused.
package directory

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Directory maps Ethereum addresses to dense user ids and back. A zero
// Directory is not usable; construct with New.
type Directory struct {
	mu     sync.RWMutex
	byAddr map[common.Address]uint64
	byID   map[uint64]common.Address
	nextID uint64
}

// New returns an empty Directory. User ids are allocated starting at 0.
func New() *Directory {
	return &Directory{
		byAddr: make(map[common.Address]uint64),
		byID:   make(map[uint64]common.Address),
	}
}

// GetOrRegister returns the user id for addr, allocating a fresh id the
// first time addr is seen. Safe to call concurrently.
func (d *Directory) GetOrRegister(addr common.Address) uint64 {
	d.mu.RLock()
	if id, ok := d.byAddr[addr]; ok {
		d.mu.RUnlock()
		return id
	}
	d.mu.RUnlock()

	d.mu.Lock()
	defer d.mu.Unlock()
	if id, ok := d.byAddr[addr]; ok {
		return id
	}
	id := d.nextID
	d.nextID++
	d.byAddr[addr] = id
	d.byID[id] = addr
	return id
}

// Lookup returns the user id already registered for addr, if any.
func (d *Directory) Lookup(addr common.Address) (uint64, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	id, ok := d.byAddr[addr]
	return id, ok
}

// Resolve returns the address registered for a user id, if any.
func (d *Directory) Resolve(id uint64) (common.Address, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	addr, ok := d.byID[id]
	return addr, ok
}

// Count returns the number of distinct registered addresses.
func (d *Directory) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.byAddr)
}

// Entry is one (user id, address) pair, as returned by Snapshot for
// persistence.
type Entry struct {
	UserID  uint64
	Address common.Address
}

// Snapshot returns every registered (user id, address) pair.
func (d *Directory) Snapshot() []Entry {
	d.mu.RLock()
	defer d.mu.RUnlock()

	entries := make([]Entry, 0, len(d.byID))
	for id, addr := range d.byID {
		entries = append(entries, Entry{UserID: id, Address: addr})
	}
	return entries
}

// Restore rebuilds a Directory from a Snapshot, preserving the exact
// user-id assignments so order keys and claims persisted under the old
// ids keep resolving to the same addresses.
func Restore(entries []Entry) *Directory {
	d := New()
	for _, e := range entries {
		d.byAddr[e.Address] = e.UserID
		d.byID[e.UserID] = e.Address
		if e.UserID >= d.nextID {
			d.nextID = e.UserID + 1
		}
	}
	return d
}
