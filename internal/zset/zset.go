// Package zset implements a sorted-set engine: a named score index
// (ordered by score, then member name) paired with a member-name hash
// index over the same set of nodes.
//
// The two indices must always agree — every member the hash index can
// find is also reachable by rank through the ordered index, and vice
// versa. The hash index stores node pointers rather than tree handles,
// so the two only need to agree on their one shared fact (which nodes
// exist); the ordered index is free to move a node to a new handle
// when another node is deleted (see avltree.Tree.Remove) and
// the node just learns its new handle via the relocation callback —
// nothing in the hash index has to change.
package zset

import (
	"github.com/quietridge/emberdb/internal/avltree"
	"github.com/quietridge/emberdb/internal/hashindex"
)

// Node is one sorted-set member: its name, its score, and the handle
// at which it currently lives in the ordered index.
type Node struct {
	Name   string
	Score  float64
	handle int32
}

// Set is a sorted set of (name, score) members.
type Set struct {
	order *avltree.Tree[*Node]
	byKey *hashindex.Index[string, *Node]
}

// New creates an empty sorted set.
func New() *Set {
	s := &Set{
		order: avltree.New(less),
		byKey: hashindex.New[string, *Node](0),
	}
	s.order.OnRelocate(func(handle int32, val *Node) {
		val.handle = handle
	})
	return s
}

func nameHash(name string) uint64 { return hashindex.Hash([]byte(name)) }

// less orders nodes lexicographically by score ascending, then name
// byte-lexicographic.
func less(a, b *Node) bool {
	if a.Score != b.Score {
		return a.Score < b.Score
	}
	return a.Name < b.Name
}

// Len reports the number of members.
func (s *Set) Len() int { return s.byKey.Len() }

// Add inserts name at score, or updates its score if it already
// exists. Returns true if a new member was added. An update to the
// same score is a no-op; a differing score unlinks and re-links the
// node within the ordered index rather than mutating it in place,
// since the ordered index's position depends on the score.
func (s *Set) Add(name string, score float64) bool {
	hash := nameHash(name)
	if n, ok := s.byKey.Lookup(hash, name); ok {
		if n.Score == score {
			return false
		}
		s.order.Remove(n.handle)
		n.Score = score
		n.handle = s.order.Insert(n)
		return false
	}

	n := &Node{Name: name, Score: score}
	n.handle = s.order.Insert(n)
	s.byKey.Insert(hash, name, n)
	return true
}

// Lookup returns the score for name, a hash probe only.
func (s *Set) Lookup(name string) (float64, bool) {
	n, ok := s.byKey.Lookup(nameHash(name), name)
	if !ok {
		return 0, false
	}
	return n.Score, true
}

// Remove deletes name from both indices. Returns true if it was present.
func (s *Set) Remove(name string) bool {
	n, ok := s.byKey.Remove(nameHash(name), name)
	if !ok {
		return false
	}
	s.order.Remove(n.handle)
	return true
}

// Query finds the leftmost member with (score, name) >= (scoreLo,
// nameLo), steps offset positions forward (offset may be negative),
// then collects up to limit members in ascending order. limit <= 0
// yields no results.
func (s *Set) Query(scoreLo float64, nameLo string, offset int64, limit int) []Node {
	if limit <= 0 {
		return nil
	}

	anchor := &Node{Score: scoreLo, Name: nameLo}
	start := s.order.SeekGE(func(n *Node) bool { return !less(n, anchor) })
	if start == -1 {
		return nil
	}

	cur := s.order.Offset(start, offset)
	if cur == -1 {
		return nil
	}

	out := make([]Node, 0, limit)
	for i := 0; i < limit; i++ {
		if cur == -1 {
			break
		}
		out = append(out, *s.order.Value(cur))
		cur = s.order.Offset(cur, 1)
	}
	return out
}
