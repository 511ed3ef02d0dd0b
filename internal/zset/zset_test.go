package zset

import (
	"math/rand"
	"sort"
	"testing"
)

func TestAddLookupRemove(t *testing.T) {
	s := New()

	if !s.Add("alice", 1.5) {
		t.Fatal("expected new member")
	}
	if s.Add("alice", 1.5) {
		t.Fatal("same-score add should report no new member")
	}
	if score, ok := s.Lookup("alice"); !ok || score != 1.5 {
		t.Fatalf("lookup = %v, %v; want 1.5, true", score, ok)
	}

	if s.Add("alice", 9.0) {
		t.Fatal("rescoring an existing member should not report a new member")
	}
	if score, _ := s.Lookup("alice"); score != 9.0 {
		t.Fatalf("score after rescoring = %v, want 9.0", score)
	}

	if !s.Remove("alice") {
		t.Fatal("expected removal to succeed")
	}
	if _, ok := s.Lookup("alice"); ok {
		t.Fatal("alice should be gone after removal")
	}
	if s.Remove("alice") {
		t.Fatal("second removal should report false")
	}
}

func TestQueryOrdering(t *testing.T) {
	s := New()
	type member struct {
		name  string
		score float64
	}
	r := rand.New(rand.NewSource(3))

	var members []member
	for i := 0; i < 300; i++ {
		m := member{name: randName(r, i), score: r.Float64() * 100}
		members = append(members, m)
		s.Add(m.name, m.score)
	}

	sort.Slice(members, func(i, j int) bool {
		if members[i].score != members[j].score {
			return members[i].score < members[j].score
		}
		return members[i].name < members[j].name
	})

	got := s.Query(0, "", 0, len(members))
	if len(got) != len(members) {
		t.Fatalf("got %d members, want %d", len(got), len(members))
	}
	for i, m := range members {
		if got[i].Name != m.name || got[i].Score != m.score {
			t.Fatalf("position %d: got %+v, want %+v", i, got[i], m)
		}
	}
}

func TestQueryOffsetAndLimit(t *testing.T) {
	s := New()
	for i := 0; i < 50; i++ {
		s.Add(randName(rand.New(rand.NewSource(int64(i))), i), float64(i))
	}

	all := s.Query(0, "", 0, 50)
	if len(all) != 50 {
		t.Fatalf("got %d, want 50", len(all))
	}

	mid := s.Query(0, "", 10, 5)
	if len(mid) != 5 {
		t.Fatalf("got %d, want 5", len(mid))
	}
	for i, n := range mid {
		if n.Name != all[10+i].Name {
			t.Fatalf("offset query position %d = %q, want %q", i, n.Name, all[10+i].Name)
		}
	}

	if got := s.Query(0, "", 0, 0); got != nil {
		t.Fatalf("limit<=0 should yield nil, got %v", got)
	}

	tail := s.Query(0, "", 48, 10)
	if len(tail) != 2 {
		t.Fatalf("got %d near tail, want 2 (clamped by exhaustion)", len(tail))
	}
}

func TestRemoveKeepsBothIndicesConsistent(t *testing.T) {
	s := New()
	r := rand.New(rand.NewSource(9))

	names := make([]string, 0, 200)
	for i := 0; i < 200; i++ {
		n := randName(r, i)
		names = append(names, n)
		s.Add(n, r.Float64()*1000)
	}

	for i, n := range names {
		if i%2 == 0 {
			if !s.Remove(n) {
				t.Fatalf("expected %q to be removed", n)
			}
		}
	}

	got := s.Query(-1, "", 0, len(names))
	if len(got) != s.Len() {
		t.Fatalf("query returned %d, Len() = %d", len(got), s.Len())
	}
	for i, n := range names {
		_, ok := s.Lookup(n)
		if i%2 == 0 && ok {
			t.Fatalf("%q should have been removed", n)
		}
		if i%2 != 0 && !ok {
			t.Fatalf("%q should still be present", n)
		}
	}
}

func randName(r *rand.Rand, salt int) string {
	const letters = "abcdefghijklmnopqrstuvwxyz"
	b := make([]byte, 8)
	for i := range b {
		b[i] = letters[r.Intn(len(letters))]
	}
	return string(b) + string(rune('a'+salt%26))
}
