// Package store is the global key index and TTL manager: a
// hashindex.Index from key to Entry that every command handler reads
// and mutates, plus the background machinery (a TTL heap and a worker
// pool) that expires and tears down entries without blocking the
// caller.
//
// Grounded on the entry-management half of a classic internal/storage
// package, reshaped around an Entry model of a single
// opaque-string-or-sorted-set value slot with a heap-backed TTL,
// rather than a wider multi-kind DataType.
package store

import (
	"time"

	"github.com/quietridge/emberdb/internal/hashindex"
	"github.com/quietridge/emberdb/internal/metrics"
	"github.com/quietridge/emberdb/internal/ttlheap"
	"github.com/quietridge/emberdb/internal/workerpool"
	"github.com/quietridge/emberdb/internal/zset"
)

// Kind identifies which value an Entry holds.
type Kind byte

const (
	// KindString means StringValue is the live field.
	KindString Kind = iota + 1
	// KindZSet means ZSet is the live field.
	KindZSet
)

// noSlot marks an Entry with no pending TTL.
const noSlot = -1

// Entry is the value record stored in the global key index: a key,
// its kind, the value for that kind, and the entry's current position
// in the TTL heap (or noSlot if it has none).
type Entry struct {
	Key         string
	Kind        Kind
	StringValue []byte
	ZSet        *zset.Set

	ttlSlot int
}

// Store owns the key index, the TTL heap, and the teardown pool. It
// is meant to be owned and driven exclusively by the event-loop
// goroutine — nothing here takes a lock, because nothing here is
// meant to be touched concurrently.
type Store struct {
	entries *hashindex.Index[string, *Entry]
	ttl     *ttlheap.Heap[int64, *Entry]
	pool    *workerpool.Pool

	now func() int64
}

// New creates an empty store. pool is used to offload destruction of
// every deleted or expired entry. m receives a tick every time the key
// index performs a bounded chunk of resize migration work.
func New(pool *workerpool.Pool, m *metrics.Counters) *Store {
	s := &Store{
		entries: hashindex.New[string, *Entry](0),
		pool:    pool,
		now:     nowMicros,
	}
	s.entries.OnResizeTick(func() { m.HashResizeTicks.Add(1) })
	s.ttl = ttlheap.New(less, func(e *Entry, pos int) { e.ttlSlot = pos })
	return s
}

func less(a, b int64) bool { return a < b }

func nowMicros() int64 { return time.Now().UnixMicro() }

// keyHash is the hash every store operation feeds to the underlying
// hashindex.Index, which doubles here as the global key index.
func keyHash(key string) uint64 { return hashindex.Hash([]byte(key)) }

// Get returns the entry for key, if present.
func (s *Store) Get(key string) (*Entry, bool) {
	return s.entries.Lookup(keyHash(key), key)
}

// Len reports the number of live keys.
func (s *Store) Len() int { return s.entries.Len() }

// Keys returns every live key, in unspecified order.
func (s *Store) Keys() []string {
	entries := s.entries.Keys()
	keys := make([]string, len(entries))
	copy(keys, entries)
	return keys
}

// put inserts a freshly created entry with no pending TTL.
func (s *Store) put(e *Entry) {
	e.ttlSlot = noSlot
	s.entries.Insert(keyHash(e.Key), e.Key, e)
}

// SetString stores value under key, creating a new string entry or
// overwriting an existing one's bytes in place. Returns an error if
// key already holds a different kind.
func (s *Store) SetString(key string, value []byte) error {
	if e, ok := s.entries.Lookup(keyHash(key), key); ok {
		if e.Kind != KindString {
			return ErrWrongKind
		}
		e.StringValue = value
		return nil
	}
	s.put(&Entry{Key: key, Kind: KindString, StringValue: value})
	return nil
}

// ZSetFor returns the sorted set for key, creating a new zset entry if
// key is absent. Returns an error if key already holds a different kind.
func (s *Store) ZSetFor(key string) (*zset.Set, error) {
	if e, ok := s.entries.Lookup(keyHash(key), key); ok {
		if e.Kind != KindZSet {
			return nil, ErrWrongKind
		}
		return e.ZSet, nil
	}
	e := &Entry{Key: key, Kind: KindZSet, ZSet: zset.New()}
	s.put(e)
	return e.ZSet, nil
}

// Delete removes key, cancelling any pending TTL and offloading
// teardown of its value to the worker pool. Returns true if key was
// present.
func (s *Store) Delete(key string) bool {
	e, ok := s.entries.Remove(keyHash(key), key)
	if !ok {
		return false
	}
	s.cancelTTL(e)
	s.destroyAsync(e)
	return true
}

// destroyAsync hands an entry's value to the worker pool for release.
// Ownership transfers — the caller must not touch the entry's fields
// after this returns.
func (s *Store) destroyAsync(e *Entry) {
	s.pool.Enqueue(func() {
		e.StringValue = nil
		e.ZSet = nil
	})
}

// SetTTL applies the TTL-set rule: negative cancels, zero also cancels
// (deletion is a separate command), positive schedules or reschedules
// an expiry this many milliseconds from now. Returns false if key does
// not exist.
func (s *Store) SetTTL(key string, ttlMs int64) bool {
	e, ok := s.entries.Lookup(keyHash(key), key)
	if !ok {
		return false
	}

	if ttlMs <= 0 {
		s.cancelTTL(e)
		return true
	}

	expireAt := s.now() + ttlMs*1000
	if e.ttlSlot == noSlot {
		e.ttlSlot = s.ttl.Push(expireAt, e)
	} else {
		s.ttl.UpdateKey(e.ttlSlot, expireAt)
	}
	return true
}

// PTTL applies the TTL-read rule: -2 if key is absent, -1 if it has no
// TTL, else the remaining milliseconds (clamped to 0).
func (s *Store) PTTL(key string) int64 {
	e, ok := s.entries.Lookup(keyHash(key), key)
	if !ok {
		return -2
	}
	if e.ttlSlot == noSlot {
		return -1
	}
	remainingUs := s.ttl.At(e.ttlSlot).Key - s.now()
	if remainingUs < 0 {
		return 0
	}
	return remainingUs / 1000
}

func (s *Store) cancelTTL(e *Entry) {
	if e.ttlSlot == noSlot {
		return
	}
	s.ttl.Remove(e.ttlSlot)
	e.ttlSlot = noSlot
}

// NextExpiry returns the expire_at (microseconds, same clock as now())
// of the earliest pending TTL, and whether one exists — used by the
// event loop to size its poll timeout.
func (s *Store) NextExpiry() (int64, bool) {
	item, ok := s.ttl.PeekMin()
	if !ok {
		return 0, false
	}
	return item.Key, true
}

// ExpireDue pops and deletes entries whose TTL has passed, up to
// maxWork items. Returns the number expired.
func (s *Store) ExpireDue(maxWork int) int {
	now := s.now()
	n := 0
	for n < maxWork {
		item, ok := s.ttl.PeekMin()
		if !ok || item.Key > now {
			break
		}
		s.ttl.PopMin()
		item.Owner.ttlSlot = noSlot
		s.entries.Remove(keyHash(item.Owner.Key), item.Owner.Key)
		s.destroyAsync(item.Owner)
		n++
	}
	return n
}

// errWrongKind is returned when a command targets a key whose
// existing entry is of a different kind.
type errWrongKind struct{}

func (errWrongKind) Error() string { return "key holds a value of the wrong kind" }

// ErrWrongKind is returned by SetString and ZSetFor when key exists
// with a different Kind than requested.
var ErrWrongKind error = errWrongKind{}
