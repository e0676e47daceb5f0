// Package dispatch implements the Command Dispatcher (spec §4.J): an uppercase command table,
// arity checks, MULTI-queuing, and translation between engine-level Go values and RESP replies.
// It is the one place redlite's transport (internal/server, internal/admin, pkg/redlite) meets
// its domain engines — modeled on the teacher's central handler registration in cmd/server,
// generalized from one HTTP mux to one command table.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redlite/redlite/internal/blocking"
	"github.com/redlite/redlite/internal/engine"
	"github.com/redlite/redlite/internal/eviction"
	"github.com/redlite/redlite/internal/history"
	"github.com/redlite/redlite/internal/keydir"
	"github.com/redlite/redlite/internal/metrics"
	"github.com/redlite/redlite/internal/pubsub"
	"github.com/redlite/redlite/internal/resp"
	"github.com/redlite/redlite/internal/storage"
	"github.com/redlite/redlite/internal/txn"
	"github.com/redlite/redlite/internal/types/hashes"
	jsontype "github.com/redlite/redlite/internal/types/json"
	"github.com/redlite/redlite/internal/types/lists"
	"github.com/redlite/redlite/internal/types/sets"
	"github.com/redlite/redlite/internal/types/streams"
	strengine "github.com/redlite/redlite/internal/types/strings"
	"github.com/redlite/redlite/internal/types/zsets"
	"github.com/redlite/redlite/internal/vacuum"
)

// handler runs one command's logic inside an open transaction, returning a plain Go value that
// replyFor converts to RESP. Splitting logic from encoding is what lets MULTI queue a handler's
// closure and run it later inside EXEC's own transaction (spec §4.F).
type handler func(ctx context.Context, tx storage.Tx, cs *ConnState, args [][]byte) (any, error)

type command struct {
	name      string
	minArgs   int // minimum number of arguments after the verb; -1 means no upper/lower check here
	maxArgs  int // -1 means unbounded
	readOnly bool
	run      handler
	noTx     bool // command manages its own transaction(s); run is invoked with a nil Tx
}

// Dispatcher owns every domain engine redlite exposes and the table that routes RESP commands
// to them.
type Dispatcher struct {
	Store     storage.PageStore
	Dir       *keydir.Directory
	Strings   *strengine.Engine
	Hashes    *hashes.Engine
	Lists     *lists.Engine
	Sets      *sets.Engine
	ZSets     *zsets.Engine
	Streams   *streams.Engine
	JSON      *jsontype.Engine
	History   *history.Tracker
	Eviction  *eviction.Manager
	Vacuum    *vacuum.Sweeper
	Broker    *pubsub.Broker
	Blocking  *blocking.Hub
	Metrics   *metrics.Metrics // optional; nil disables command instrumentation
	Feed      chan<- string    // optional; receives each dispatched command's verb, non-blocking
	Databases int
	Password  string
	Logger    *slog.Logger

	table map[string]command
}

// New wires a Dispatcher over already-constructed engines; New panics on a nil Store or Dir
// since every command needs both.
func New(d Dispatcher) *Dispatcher {
	if d.Store == nil || d.Dir == nil {
		panic("dispatch: Store and Dir are required")
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	disp := &d
	disp.table = make(map[string]command)
	disp.registerGeneric()
	disp.registerStrings()
	disp.registerHashes()
	disp.registerLists()
	disp.registerSets()
	disp.registerZSets()
	disp.registerStreams()
	disp.registerJSON()
	disp.registerBlocking()
	disp.registerTxn()
	disp.registerPubSub()
	disp.registerHistory()
	disp.registerAdmin()
	return disp
}

func (d *Dispatcher) register(c command) {
	d.table[c.name] = c
}

// Dispatch executes one command for cs, returning the RESP reply to send back. It never panics
// on a malformed command — every failure path returns a Reply, since a connection's framing must
// survive one bad command (spec §7 "Client" errors are recoverable, not connection-fatal).
func (d *Dispatcher) Dispatch(ctx context.Context, cs *ConnState, cmd resp.Command) resp.Reply {
	if d.Metrics == nil && d.Feed == nil {
		return d.dispatch(ctx, cs, cmd)
	}
	start := time.Now()
	reply := d.dispatch(ctx, cs, cmd)

	name := cmd.Name
	if name == "" {
		name = "unknown"
	}
	if d.Metrics != nil {
		outcome := "ok"
		if reply.Kind == resp.KindError {
			outcome = "error"
		}
		d.Metrics.ObserveCommand(name, outcome, time.Since(start))
	}
	if d.Feed != nil {
		select {
		case d.Feed <- name:
		default:
		}
	}
	return reply
}

func (d *Dispatcher) dispatch(ctx context.Context, cs *ConnState, cmd resp.Command) resp.Reply {
	name := cmd.Name
	if name == "" {
		return resp.Err("ERR empty command")
	}

	c, ok := d.table[name]
	if !ok {
		return resp.Err(fmt.Sprintf("ERR unknown command '%s'", strings.ToLower(name)))
	}

	if err := checkArity(c, cmd.Args); err != nil {
		if cs.Txn.State() == txn.StateInMulti || cs.Txn.State() == txn.StateDirtyMulti {
			cs.Txn.MarkDirty()
		}
		return resp.Err(err.Error())
	}

	if d.Password != "" && !cs.Authenticated && name != "AUTH" && name != "HELLO" && name != "QUIT" {
		return resp.Err(engine.ErrNoAuth.Error())
	}

	if cs.InSubscriberMode() && !allowedWhileSubscribed(name) {
		return resp.Err(engine.ErrSubscribeCtx.Error())
	}

	switch name {
	case "MULTI", "EXEC", "DISCARD", "WATCH", "UNWATCH":
		return d.dispatchTxnControl(ctx, cs, name, cmd.Args)
	}

	state := cs.Txn.State()
	if state == txn.StateInMulti || state == txn.StateDirtyMulti {
		queued := c
		args := cmd.Args
		err := cs.Txn.QueueCommand(txn.QueuedCommand{
			Name: name,
			Run: func(ctx context.Context, tx storage.Tx) (any, error) {
				return queued.run(ctx, tx, cs, args)
			},
		})
		if err != nil {
			return resp.Err(err.Error())
		}
		return resp.Simple("QUEUED")
	}

	var (
		val any
		err error
	)
	if c.noTx {
		val, err = c.run(ctx, nil, cs, cmd.Args)
	} else {
		runner := d.Store.WithTx
		if c.readOnly {
			runner = d.Store.WithROTx
		}
		txErr := runner(ctx, func(tx storage.Tx) error {
			val, err = c.run(ctx, tx, cs, cmd.Args)
			return err
		})
		if txErr != nil && err == nil {
			err = txErr
		}
	}
	if err != nil {
		return errToReply(err)
	}
	return valueToReply(val)
}

func checkArity(c command, args [][]byte) error {
	if len(args) < c.minArgs || (c.maxArgs >= 0 && len(args) > c.maxArgs) {
		return fmt.Errorf("ERR wrong number of arguments for '%s' command", strings.ToLower(c.name))
	}
	return nil
}

func allowedWhileSubscribed(name string) bool {
	switch name {
	case "SUBSCRIBE", "UNSUBSCRIBE", "PSUBSCRIBE", "PUNSUBSCRIBE", "PING", "QUIT", "RESET":
		return true
	default:
		return false
	}
}
