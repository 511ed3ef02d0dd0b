// Package dispatcher implements the command table: verb name to
// handler, argument validation, and response-token production over
// the shared store.
//
// Grounded on a classic internal/server command registry shape
// (Context/CommandFunc/map[string]Command), built on this project's
// own store and protocol packages and a fixed ten-verb command set.
package dispatcher

import (
	"math"
	"strconv"
	"strings"

	"github.com/quietridge/emberdb/internal/metrics"
	"github.com/quietridge/emberdb/internal/protocol"
	"github.com/quietridge/emberdb/internal/store"
)

// Handler executes one command against ctx, writing exactly one
// response token (or, for KEYS and ZQUERY, one array token plus its
// elements).
type Handler func(ctx *Context)

// Context is the state a single command execution needs: its
// arguments (verb excluded), the store to mutate, and the writer to
// append the response to.
type Context struct {
	Args []string
	Out  *protocol.Writer

	store *store.Store
}

// Dispatcher holds the verb-to-handler table.
type Dispatcher struct {
	handlers map[string]Handler
	store    *store.Store
	metrics  *metrics.Counters
}

// New builds a Dispatcher with every supported verb registered. m is
// incremented once per successfully routed command.
func New(s *store.Store, m *metrics.Counters) *Dispatcher {
	d := &Dispatcher{handlers: make(map[string]Handler), store: s, metrics: m}
	d.register("GET", handleGet)
	d.register("SET", handleSet)
	d.register("DEL", handleDel)
	d.register("KEYS", handleKeys)
	d.register("ZADD", handleZAdd)
	d.register("ZREM", handleZRem)
	d.register("ZSCORE", handleZScore)
	d.register("ZQUERY", handleZQuery)
	d.register("PEXPIRE", handlePExpire)
	d.register("PTTL", handlePTTL)
	return d
}

func (d *Dispatcher) register(verb string, h Handler) {
	d.handlers[verb] = h
}

// Dispatch looks up args[0] (case-insensitive) and runs its handler,
// writing the response into out. An empty args or unknown verb yields
// an ARG or UNKNOWN error token respectively.
func (d *Dispatcher) Dispatch(args []string, out *protocol.Writer) {
	if len(args) == 0 {
		out.Error(protocol.ErrArg, "empty command")
		return
	}
	verb := strings.ToUpper(args[0])
	h, ok := d.handlers[verb]
	if !ok {
		out.Error(protocol.ErrUnknown, "unknown command: "+args[0])
		return
	}
	d.metrics.CommandsExecuted.Add(1)
	h(&Context{Args: args[1:], Out: out, store: d.store})
}

func argError(ctx *Context, msg string) { ctx.Out.Error(protocol.ErrArg, msg) }
func typeError(ctx *Context)            { ctx.Out.Error(protocol.ErrType, "key holds a value of the wrong kind") }

func handleGet(ctx *Context) {
	if len(ctx.Args) != 1 {
		argError(ctx, "GET requires exactly one key")
		return
	}
	e, ok := ctx.store.Get(ctx.Args[0])
	if !ok {
		ctx.Out.Nil()
		return
	}
	if e.Kind != store.KindString {
		typeError(ctx)
		return
	}
	ctx.Out.String(e.StringValue)
}

func handleSet(ctx *Context) {
	if len(ctx.Args) != 2 {
		argError(ctx, "SET requires key and value")
		return
	}
	if err := ctx.store.SetString(ctx.Args[0], []byte(ctx.Args[1])); err != nil {
		typeError(ctx)
		return
	}
	ctx.Out.Nil()
}

func handleDel(ctx *Context) {
	if len(ctx.Args) != 1 {
		argError(ctx, "DEL requires exactly one key")
		return
	}
	if ctx.store.Delete(ctx.Args[0]) {
		ctx.Out.Integer(1)
	} else {
		ctx.Out.Integer(0)
	}
}

func handleKeys(ctx *Context) {
	if len(ctx.Args) != 0 {
		argError(ctx, "KEYS takes no arguments")
		return
	}
	keys := ctx.store.Keys()
	ctx.Out.ArrayHeader(len(keys))
	for _, k := range keys {
		ctx.Out.String([]byte(k))
	}
}

func handleZAdd(ctx *Context) {
	if len(ctx.Args) != 3 {
		argError(ctx, "ZADD requires key, score and member")
		return
	}
	score, err := parseScore(ctx.Args[1])
	if err != nil {
		argError(ctx, "invalid score: "+err.Error())
		return
	}
	zs, err := ctx.store.ZSetFor(ctx.Args[0])
	if err != nil {
		typeError(ctx)
		return
	}
	if zs.Add(ctx.Args[2], score) {
		ctx.Out.Integer(1)
	} else {
		ctx.Out.Integer(0)
	}
}

func handleZRem(ctx *Context) {
	if len(ctx.Args) != 2 {
		argError(ctx, "ZREM requires key and member")
		return
	}
	e, ok := ctx.store.Get(ctx.Args[0])
	if !ok {
		ctx.Out.Integer(0)
		return
	}
	if e.Kind != store.KindZSet {
		typeError(ctx)
		return
	}
	if e.ZSet.Remove(ctx.Args[1]) {
		ctx.Out.Integer(1)
	} else {
		ctx.Out.Integer(0)
	}
}

func handleZScore(ctx *Context) {
	if len(ctx.Args) != 2 {
		argError(ctx, "ZSCORE requires key and member")
		return
	}
	e, ok := ctx.store.Get(ctx.Args[0])
	if !ok {
		ctx.Out.Nil()
		return
	}
	if e.Kind != store.KindZSet {
		typeError(ctx)
		return
	}
	score, ok := e.ZSet.Lookup(ctx.Args[1])
	if !ok {
		ctx.Out.Nil()
		return
	}
	ctx.Out.Double(score)
}

func handleZQuery(ctx *Context) {
	if len(ctx.Args) != 5 {
		argError(ctx, "ZQUERY requires key, score, name, offset, limit")
		return
	}
	scoreLo, err := parseScore(ctx.Args[1])
	if err != nil {
		argError(ctx, "invalid score: "+err.Error())
		return
	}
	offset, err := strconv.ParseInt(ctx.Args[3], 10, 64)
	if err != nil {
		argError(ctx, "invalid offset: "+err.Error())
		return
	}
	limit, err := strconv.Atoi(ctx.Args[4])
	if err != nil {
		argError(ctx, "invalid limit: "+err.Error())
		return
	}

	e, ok := ctx.store.Get(ctx.Args[0])
	if !ok {
		ctx.Out.ArrayHeader(0)
		return
	}
	if e.Kind != store.KindZSet {
		typeError(ctx)
		return
	}

	members := e.ZSet.Query(scoreLo, ctx.Args[2], offset, limit)
	ctx.Out.ArrayHeader(len(members) * 2)
	for _, m := range members {
		ctx.Out.String([]byte(m.Name))
		ctx.Out.Double(m.Score)
	}
}

func handlePExpire(ctx *Context) {
	if len(ctx.Args) != 2 {
		argError(ctx, "PEXPIRE requires key and ttl_ms")
		return
	}
	ttlMs, err := strconv.ParseInt(ctx.Args[1], 10, 64)
	if err != nil {
		argError(ctx, "invalid ttl_ms: "+err.Error())
		return
	}
	if ctx.store.SetTTL(ctx.Args[0], ttlMs) {
		ctx.Out.Integer(1)
	} else {
		ctx.Out.Integer(0)
	}
}

func handlePTTL(ctx *Context) {
	if len(ctx.Args) != 1 {
		argError(ctx, "PTTL requires exactly one key")
		return
	}
	ctx.Out.Integer(ctx.store.PTTL(ctx.Args[0]))
}

// parseScore parses a float64 score, rejecting NaN scores at parse
// time. Infinities are accepted.
func parseScore(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) {
		return 0, strconv.ErrSyntax
	}
	return v, nil
}
