package book

import "sync"

// Set is the per-auction ordered bid book: a map key -> next_key forming a
// singly-linked list in ascending Less order, head QueueStart, terminator
// QueueEnd. Insert accepts a caller-supplied hint and walks forward from it,
// tolerating a stale-but-not-too-late hint. Remove has two flavors: a hard
// remove that frees the key entirely, and RemoveKeepHistory which unlinks
// the key from the reachable chain but keeps its next pointer around so the
// key can still serve as an insertion hint (a tombstone).
//
// No example or ecosystem library implements this exact hint-tolerant,
// tombstone-preserving contract, so this is plain Go over a mutex-guarded
// map — the same concurrency-safety shape as internal/market.Book in the
// reference this was adapted from.
type Set struct {
	mu   sync.Mutex
	next map[Key]Key
	live map[Key]struct{} // keys currently reachable from QueueStart
}

// NewSet creates an empty, initialized order book.
func NewSet() *Set {
	s := &Set{
		next: make(map[Key]Key),
		live: make(map[Key]struct{}),
	}
	s.next[QueueStart] = QueueEnd
	return s
}

// Insert splices key into the book using hint as the believed predecessor.
// It fails (returns false, no mutation) if key is a sentinel, sell_amount is
// zero, key already exists, or hint is not a valid predecessor: hint must
// be known to the book (QueueStart, or a key with a next pointer already
// recorded — including a tombstone), and after walking forward while
// next(p) < key, the final p must satisfy p < key <= next(p).
func (s *Set) Insert(key, hint Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if key == QueueStart || key == QueueEnd {
		return false
	}
	_, _, sell := Decode(key)
	if sell.IsZero() {
		return false
	}
	if _, alreadyLive := s.live[key]; alreadyLive {
		return false
	}

	cur, known := s.next[hint]
	if !known {
		return false
	}

	p := hint
	for Less(cur, key) {
		p = cur
		nextCur, ok := s.next[cur]
		if !ok {
			return false
		}
		cur = nextCur
	}
	if !Less(p, key) {
		return false // hint arrived strictly after key's position
	}

	s.next[p] = key
	s.next[key] = cur
	s.live[key] = struct{}{}
	return true
}

// Remove hard-removes key: unlinks it from the chain and frees its next
// pointer entirely, so it can never again serve as a hint.
func (s *Set) Remove(key Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remove(key, true)
}

// RemoveKeepHistory soft-removes key: unlinks it from the reachable chain
// but keeps next[key] in the map, so the tombstoned key remains usable as
// an insertion hint.
func (s *Set) RemoveKeepHistory(key Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remove(key, false)
}

func (s *Set) remove(key Key, hard bool) bool {
	if _, alive := s.live[key]; !alive {
		return false
	}

	prev := QueueStart
	for {
		cur, ok := s.next[prev]
		if !ok {
			return false
		}
		if cur == key {
			break
		}
		if cur == QueueEnd {
			return false
		}
		prev = cur
	}

	succ := s.next[key]
	s.next[prev] = succ
	delete(s.live, key)
	if hard {
		delete(s.next, key)
	}
	return true
}

// Contains reports whether key is currently reachable from QueueStart.
func (s *Set) Contains(key Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.live[key]
	return ok
}

// Next returns the successor of key without traversal. The second return
// value is false if key has no recorded successor at all (never inserted,
// and not a tombstone).
func (s *Set) Next(key Key) (Key, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.next[key]
	return n, ok
}

// IsEmpty reports whether the reachable chain has no real entries.
func (s *Set) IsEmpty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next[QueueStart] == QueueEnd
}

// Walk calls fn for every reachable key in ascending order, starting after
// QueueStart and stopping before QueueEnd. fn returning false stops the walk.
func (s *Set) Walk(fn func(key Key) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.next[QueueStart]
	for cur != QueueEnd {
		if !fn(cur) {
			return
		}
		next, ok := s.next[cur]
		if !ok {
			return
		}
		cur = next
	}
}

// Entry is one (key, next) pair as recorded internally, including
// tombstones. Used only by Snapshot/Restore for persistence — map keys
// can't marshal to JSON directly, so a Set is flattened to a slice of
// Entry and a slice of live keys before it's written to disk.
type Entry struct {
	Key  Key
	Next Key
}

// Snapshot flattens the book's internal state for persistence: every
// recorded (key, next) pair — live entries and tombstones alike — plus the
// set of currently-live keys.
func (s *Set) Snapshot() (entries []Entry, live []Key) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries = make([]Entry, 0, len(s.next))
	for k, n := range s.next {
		entries = append(entries, Entry{Key: k, Next: n})
	}
	live = make([]Key, 0, len(s.live))
	for k := range s.live {
		live = append(live, k)
	}
	return entries, live
}

// Restore rebuilds a Set from a Snapshot. Callers must have produced
// entries/live from a single consistent Snapshot call.
func Restore(entries []Entry, live []Key) *Set {
	s := &Set{
		next: make(map[Key]Key, len(entries)),
		live: make(map[Key]struct{}, len(live)),
	}
	for _, e := range entries {
		s.next[e.Key] = e.Next
	}
	for _, k := range live {
		s.live[k] = struct{}{}
	}
	return s
}
