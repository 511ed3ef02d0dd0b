package dispatcher

import (
	"testing"

	"github.com/quietridge/emberdb/internal/metrics"
	"github.com/quietridge/emberdb/internal/protocol"
	"github.com/quietridge/emberdb/internal/store"
	"github.com/quietridge/emberdb/internal/workerpool"
)

func newTestDispatcher(t *testing.T) (*Dispatcher, func()) {
	pool := workerpool.New(1)
	m := &metrics.Counters{}
	s := store.New(pool, m)
	return New(s, m), func() { pool.Close() }
}

func run(d *Dispatcher, args ...string) []protocol.Token {
	w := protocol.NewWriter(nil)
	d.Dispatch(args, w)
	buf := w.Bytes()
	var tokens []protocol.Token
	for len(buf) > 0 {
		tok, n, err := protocol.ReadToken(buf)
		if err != nil {
			panic(err)
		}
		tokens = append(tokens, tok)
		buf = buf[n:]
	}
	return tokens
}

func TestBasicStringRoundTrip(t *testing.T) {
	d, done := newTestDispatcher(t)
	defer done()

	tok := run(d, "SET", "foo", "bar")
	if tok[0].Tag != protocol.TagNil {
		t.Fatalf("SET reply = %+v, want Nil", tok[0])
	}

	tok = run(d, "GET", "foo")
	if tok[0].Tag != protocol.TagString || string(tok[0].Str) != "bar" {
		t.Fatalf("GET foo = %+v, want String(bar)", tok[0])
	}

	tok = run(d, "GET", "missing")
	if tok[0].Tag != protocol.TagNil {
		t.Fatalf("GET missing = %+v, want Nil", tok[0])
	}
}

func TestTypeErrorLeavesValueIntact(t *testing.T) {
	d, done := newTestDispatcher(t)
	defer done()

	run(d, "SET", "k", "v")
	tok := run(d, "ZADD", "k", "1", "m")
	if tok[0].Tag != protocol.TagError || tok[0].ErrKind != protocol.ErrType {
		t.Fatalf("ZADD on string key = %+v, want Error(TYPE)", tok[0])
	}

	tok = run(d, "GET", "k")
	if tok[0].Tag != protocol.TagString || string(tok[0].Str) != "v" {
		t.Fatalf("GET k after failed ZADD = %+v, want String(v) unchanged", tok[0])
	}
}

func TestSortedSetRankWindow(t *testing.T) {
	d, done := newTestDispatcher(t)
	defer done()

	for _, args := range [][]string{
		{"ZADD", "s", "1", "a"},
		{"ZADD", "s", "2", "b"},
		{"ZADD", "s", "2", "c"},
		{"ZADD", "s", "3", "d"},
	} {
		tok := run(d, args...)
		if tok[0].Tag != protocol.TagInteger || tok[0].Int != 1 {
			t.Fatalf("%v = %+v, want Integer(1)", args, tok[0])
		}
	}

	tok := run(d, "ZQUERY", "s", "2", "", "0", "10")
	if tok[0].Tag != protocol.TagArray || tok[0].Count != 6 {
		t.Fatalf("ZQUERY array header = %+v, want count 6", tok[0])
	}
	want := []struct {
		name  string
		score float64
	}{{"b", 2}, {"c", 2}, {"d", 3}}
	for i, w := range want {
		nameTok := tok[1+2*i]
		scoreTok := tok[2+2*i]
		if string(nameTok.Str) != w.name || scoreTok.Dbl != w.score {
			t.Fatalf("pair %d = (%q, %v), want (%q, %v)", i, nameTok.Str, scoreTok.Dbl, w.name, w.score)
		}
	}
}

func TestZAddUpdateVsInsert(t *testing.T) {
	d, done := newTestDispatcher(t)
	defer done()

	run(d, "ZADD", "s", "2", "b")
	tok := run(d, "ZADD", "s", "2", "b")
	if tok[0].Tag != protocol.TagInteger || tok[0].Int != 0 {
		t.Fatalf("re-adding same score = %+v, want Integer(0)", tok[0])
	}

	tok = run(d, "ZSCORE", "s", "b")
	if tok[0].Tag != protocol.TagDouble || tok[0].Dbl != 2.0 {
		t.Fatalf("ZSCORE = %+v, want Double(2.0)", tok[0])
	}
}

func TestPExpireAndPTTL(t *testing.T) {
	d, done := newTestDispatcher(t)
	defer done()

	run(d, "SET", "k", "v")
	tok := run(d, "PEXPIRE", "k", "50")
	if tok[0].Tag != protocol.TagInteger || tok[0].Int != 1 {
		t.Fatalf("PEXPIRE = %+v, want Integer(1)", tok[0])
	}

	tok = run(d, "PTTL", "k")
	if tok[0].Tag != protocol.TagInteger || tok[0].Int < 0 || tok[0].Int > 50 {
		t.Fatalf("PTTL = %+v, want Integer in [0, 50]", tok[0])
	}
	tok = run(d, "PTTL", "missing")
	if tok[0].Tag != protocol.TagInteger || tok[0].Int != -2 {
		t.Fatalf("PTTL missing = %+v, want Integer(-2)", tok[0])
	}

	tok = run(d, "PEXPIRE", "missing", "50")
	if tok[0].Tag != protocol.TagInteger || tok[0].Int != 0 {
		t.Fatalf("PEXPIRE missing = %+v, want Integer(0)", tok[0])
	}
}

func TestUnknownAndArgErrors(t *testing.T) {
	d, done := newTestDispatcher(t)
	defer done()

	tok := run(d, "NOPE")
	if tok[0].Tag != protocol.TagError || tok[0].ErrKind != protocol.ErrUnknown {
		t.Fatalf("unknown verb = %+v, want Error(UNKNOWN)", tok[0])
	}

	tok = run(d, "GET")
	if tok[0].Tag != protocol.TagError || tok[0].ErrKind != protocol.ErrArg {
		t.Fatalf("GET with no args = %+v, want Error(ARG)", tok[0])
	}

	tok = run(d, "ZADD", "s", "notanumber", "m")
	if tok[0].Tag != protocol.TagError || tok[0].ErrKind != protocol.ErrArg {
		t.Fatalf("ZADD with bad score = %+v, want Error(ARG)", tok[0])
	}
}

func TestDispatchIncrementsCommandsExecuted(t *testing.T) {
	pool := workerpool.New(1)
	defer pool.Close()
	m := &metrics.Counters{}
	d := New(store.New(pool, m), m)

	run(d, "SET", "k", "v")
	run(d, "GET", "k")
	run(d, "NOPE")

	if got := m.CommandsExecuted.Load(); got != 2 {
		t.Fatalf("CommandsExecuted = %d, want 2 (unknown verbs don't count)", got)
	}
}

func TestIdempotence(t *testing.T) {
	d, done := newTestDispatcher(t)
	defer done()

	run(d, "SET", "k", "v")
	run(d, "SET", "k", "v")
	tok := run(d, "GET", "k")
	if string(tok[0].Str) != "v" {
		t.Fatalf("GET k = %+v, want String(v)", tok[0])
	}

	tok = run(d, "DEL", "k")
	if tok[0].Int != 1 {
		t.Fatalf("first DEL = %+v, want Integer(1)", tok[0])
	}
	tok = run(d, "DEL", "k")
	if tok[0].Int != 0 {
		t.Fatalf("second DEL = %+v, want Integer(0)", tok[0])
	}
}
