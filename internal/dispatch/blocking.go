package dispatch

import (
	"context"
	"strconv"
	"time"

	"github.com/redlite/redlite/internal/blocking"
	"github.com/redlite/redlite/internal/engine"
	"github.com/redlite/redlite/internal/resp"
	"github.com/redlite/redlite/internal/storage"
	"github.com/redlite/redlite/internal/types/zsets"
)

// registerBlocking wires BLPOP/BRPOP/BLMOVE/BRPOPLPUSH/BZPOPMIN/BZPOPMAX (spec §4.G) onto
// internal/blocking.Hub. Every blocking command is registered noTx: dispatched directly it
// manages a sequence of its own short transactions, one attempt at a time, so a suspended
// connection never holds a transaction open across its wait — holding one would stall every
// other connection under the page store's single-writer model. Queued inside MULTI, though, it
// is handed a live tx from EXEC's own transaction instead (see Dispatch's queuing path) and must
// not open another one; real Redis also never actually blocks a command running inside EXEC, so
// a non-nil tx here means "try once, non-blocking" rather than "loop and wait".
func (d *Dispatcher) registerBlocking() {
	d.register(command{name: "BLPOP", minArgs: 2, maxArgs: -1, noTx: true, run: d.cmdBLPop})
	d.register(command{name: "BRPOP", minArgs: 2, maxArgs: -1, noTx: true, run: d.cmdBRPop})
	d.register(command{name: "BLMOVE", minArgs: 5, maxArgs: 5, noTx: true, run: d.cmdBLMove})
	d.register(command{name: "BRPOPLPUSH", minArgs: 3, maxArgs: 3, noTx: true, run: d.cmdBRPopLPush})
	d.register(command{name: "BZPOPMIN", minArgs: 2, maxArgs: -1, noTx: true, run: d.cmdBZPopMin})
	d.register(command{name: "BZPOPMAX", minArgs: 2, maxArgs: -1, noTx: true, run: d.cmdBZPopMax})
}

// deadlineFromSeconds parses a BLPOP-style timeout argument: 0 means wait forever (the zero
// time.Time), otherwise the wall-clock instant the wait gives up.
func deadlineFromSeconds(arg []byte) (time.Time, error) {
	secs, err := strconv.ParseFloat(string(arg), 64)
	if err != nil || secs < 0 {
		return time.Time{}, engine.ErrNotFloat
	}
	if secs == 0 {
		return time.Time{}, nil
	}
	return time.Now().Add(time.Duration(secs * float64(time.Second))), nil
}

func (d *Dispatcher) tryListPop(ctx context.Context, tx storage.Tx, cs *ConnState, keys [][]byte, left bool) (key, val []byte, found bool, err error) {
	for _, name := range keys {
		var vals [][]byte
		var perr error
		if left {
			vals, perr = d.Lists.LPop(ctx, tx, cs.DB, name, 1)
		} else {
			vals, perr = d.Lists.RPop(ctx, tx, cs.DB, name, 1)
		}
		if perr != nil {
			return nil, nil, false, perr
		}
		if len(vals) > 0 {
			d.listPostWrite(ctx, tx, cs, name, "BLPOP")
			return name, vals[0], true, nil
		}
	}
	return nil, nil, false, nil
}

func (d *Dispatcher) blockingListPop(ctx context.Context, tx storage.Tx, cs *ConnState, names [][]byte, left bool) (any, error) {
	timeout := names[len(names)-1]
	keys := names[:len(names)-1]

	if tx != nil {
		key, val, found, err := d.tryListPop(ctx, tx, cs, keys, left)
		if err != nil {
			return nil, err
		}
		if !found {
			return resp.NullArray(), nil
		}
		return []resp.Reply{resp.BulkBytes(key), resp.BulkBytes(val)}, nil
	}

	deadline, err := deadlineFromSeconds(timeout)
	if err != nil {
		return nil, err
	}
	for {
		var key, val []byte
		var found bool
		txErr := d.Store.WithTx(ctx, func(tx storage.Tx) error {
			var perr error
			key, val, found, perr = d.tryListPop(ctx, tx, cs, keys, left)
			return perr
		})
		if txErr != nil {
			return nil, txErr
		}
		if found {
			return []resp.Reply{resp.BulkBytes(key), resp.BulkBytes(val)}, nil
		}
		if d.Blocking == nil {
			return resp.NullArray(), nil
		}
		woken, err := d.waitFor(ctx, cs.DB, keys, deadline)
		if err != nil {
			return nil, err
		}
		if !woken {
			return resp.NullArray(), nil
		}
	}
}

// waitFor registers a Waiter on names, blocks until woken/timeout/cancellation, and always
// cancels the registration afterward so a timed-out or cancelled wait doesn't leak a queue slot.
func (d *Dispatcher) waitFor(ctx context.Context, db engine.DBIndex, names [][]byte, deadline time.Time) (bool, error) {
	w := d.Blocking.Register(db, names)
	woken, err := blocking.Wait(ctx, w, deadline)
	d.Blocking.Cancel(db, names, w)
	return woken, err
}

func (d *Dispatcher) cmdBLPop(ctx context.Context, tx storage.Tx, cs *ConnState, args [][]byte) (any, error) {
	return d.blockingListPop(ctx, tx, cs, args, true)
}

func (d *Dispatcher) cmdBRPop(ctx context.Context, tx storage.Tx, cs *ConnState, args [][]byte) (any, error) {
	return d.blockingListPop(ctx, tx, cs, args, false)
}

func (d *Dispatcher) tryMove(ctx context.Context, tx storage.Tx, cs *ConnState, src, dst []byte, fromLeft, toLeft bool) ([]byte, bool, error) {
	v, ok, err := d.Lists.LMove(ctx, tx, cs.DB, src, dst, fromLeft, toLeft)
	if err != nil || !ok {
		return nil, false, err
	}
	d.listPostWrite(ctx, tx, cs, src, "BLMOVE")
	d.listPostWrite(ctx, tx, cs, dst, "BLMOVE")
	d.wakeListWaiters(cs.DB, dst, 1)
	return v, true, nil
}

func (d *Dispatcher) blockingMove(ctx context.Context, tx storage.Tx, cs *ConnState, src, dst []byte, fromLeft, toLeft bool, timeoutArg []byte) (any, error) {
	if tx != nil {
		v, ok, err := d.tryMove(ctx, tx, cs, src, dst, fromLeft, toLeft)
		if err != nil || !ok {
			return nil, err
		}
		return v, nil
	}

	deadline, err := deadlineFromSeconds(timeoutArg)
	if err != nil {
		return nil, err
	}
	for {
		var val []byte
		var found bool
		txErr := d.Store.WithTx(ctx, func(tx storage.Tx) error {
			v, ok, merr := d.tryMove(ctx, tx, cs, src, dst, fromLeft, toLeft)
			val, found = v, ok
			return merr
		})
		if txErr != nil {
			return nil, txErr
		}
		if found {
			return val, nil
		}
		if d.Blocking == nil {
			return nil, nil
		}
		woken, err := d.waitFor(ctx, cs.DB, [][]byte{src}, deadline)
		if err != nil {
			return nil, err
		}
		if !woken {
			return nil, nil
		}
	}
}

func (d *Dispatcher) cmdBLMove(ctx context.Context, tx storage.Tx, cs *ConnState, args [][]byte) (any, error) {
	fromLeft, err := parseSide(args[2])
	if err != nil {
		return nil, err
	}
	toLeft, err := parseSide(args[3])
	if err != nil {
		return nil, err
	}
	return d.blockingMove(ctx, tx, cs, args[0], args[1], fromLeft, toLeft, args[4])
}

func (d *Dispatcher) cmdBRPopLPush(ctx context.Context, tx storage.Tx, cs *ConnState, args [][]byte) (any, error) {
	return d.blockingMove(ctx, tx, cs, args[0], args[1], false, true, args[2])
}

func (d *Dispatcher) tryZSetPop(ctx context.Context, tx storage.Tx, cs *ConnState, keys [][]byte, max bool) (key []byte, member zsets.Member, found bool, err error) {
	for _, name := range keys {
		var popped []zsets.Member
		var perr error
		if max {
			popped, perr = d.ZSets.ZPopMax(ctx, tx, cs.DB, name, 1)
		} else {
			popped, perr = d.ZSets.ZPopMin(ctx, tx, cs.DB, name, 1)
		}
		if perr != nil {
			return nil, zsets.Member{}, false, perr
		}
		if len(popped) > 0 {
			op := "BZPOPMIN"
			if max {
				op = "BZPOPMAX"
			}
			d.zsetPostWrite(ctx, tx, cs, name, op)
			return name, popped[0], true, nil
		}
	}
	return nil, zsets.Member{}, false, nil
}

func (d *Dispatcher) blockingZSetPop(ctx context.Context, tx storage.Tx, cs *ConnState, names [][]byte, max bool) (any, error) {
	timeout := names[len(names)-1]
	keys := names[:len(names)-1]

	if tx != nil {
		key, member, found, err := d.tryZSetPop(ctx, tx, cs, keys, max)
		if err != nil {
			return nil, err
		}
		if !found {
			return resp.NullArray(), nil
		}
		return []resp.Reply{resp.BulkBytes(key), resp.BulkBytes(member.Value), resp.BulkString(formatFloat(member.Score))}, nil
	}

	deadline, err := deadlineFromSeconds(timeout)
	if err != nil {
		return nil, err
	}
	for {
		var key []byte
		var member zsets.Member
		var found bool
		txErr := d.Store.WithTx(ctx, func(tx storage.Tx) error {
			var perr error
			key, member, found, perr = d.tryZSetPop(ctx, tx, cs, keys, max)
			return perr
		})
		if txErr != nil {
			return nil, txErr
		}
		if found {
			return []resp.Reply{
				resp.BulkBytes(key),
				resp.BulkBytes(member.Value),
				resp.BulkString(formatFloat(member.Score)),
			}, nil
		}
		if d.Blocking == nil {
			return resp.NullArray(), nil
		}
		woken, err := d.waitFor(ctx, cs.DB, keys, deadline)
		if err != nil {
			return nil, err
		}
		if !woken {
			return resp.NullArray(), nil
		}
	}
}

func (d *Dispatcher) cmdBZPopMin(ctx context.Context, tx storage.Tx, cs *ConnState, args [][]byte) (any, error) {
	return d.blockingZSetPop(ctx, tx, cs, args, false)
}

func (d *Dispatcher) cmdBZPopMax(ctx context.Context, tx storage.Tx, cs *ConnState, args [][]byte) (any, error) {
	return d.blockingZSetPop(ctx, tx, cs, args, true)
}
