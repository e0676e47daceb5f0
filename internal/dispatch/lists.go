package dispatch

import (
	"context"
	"strconv"

	"github.com/redlite/redlite/internal/engine"
	"github.com/redlite/redlite/internal/resp"
	"github.com/redlite/redlite/internal/storage"
)

func (d *Dispatcher) registerLists() {
	d.register(command{name: "LPUSH", minArgs: 2, maxArgs: -1, run: d.cmdLPush})
	d.register(command{name: "RPUSH", minArgs: 2, maxArgs: -1, run: d.cmdRPush})
	d.register(command{name: "LPUSHX", minArgs: 2, maxArgs: -1, run: d.cmdLPushX})
	d.register(command{name: "RPUSHX", minArgs: 2, maxArgs: -1, run: d.cmdRPushX})
	d.register(command{name: "LPOP", minArgs: 1, maxArgs: 2, run: d.cmdLPop})
	d.register(command{name: "RPOP", minArgs: 1, maxArgs: 2, run: d.cmdRPop})
	d.register(command{name: "LLEN", minArgs: 1, maxArgs: 1, readOnly: true, run: d.cmdLLen})
	d.register(command{name: "LRANGE", minArgs: 3, maxArgs: 3, readOnly: true, run: d.cmdLRange})
	d.register(command{name: "LINDEX", minArgs: 2, maxArgs: 2, readOnly: true, run: d.cmdLIndex})
	d.register(command{name: "LSET", minArgs: 3, maxArgs: 3, run: d.cmdLSet})
	d.register(command{name: "LTRIM", minArgs: 3, maxArgs: 3, run: d.cmdLTrim})
	d.register(command{name: "LREM", minArgs: 3, maxArgs: 3, run: d.cmdLRem})
	d.register(command{name: "LINSERT", minArgs: 4, maxArgs: 4, run: d.cmdLInsert})
	d.register(command{name: "LPOS", minArgs: 2, maxArgs: 2, readOnly: true, run: d.cmdLPos})
	d.register(command{name: "LMOVE", minArgs: 4, maxArgs: 4, run: d.cmdLMove})
}

func (d *Dispatcher) listPostWrite(ctx context.Context, tx storage.Tx, cs *ConnState, name []byte, op string) {
	rec, err := d.Dir.Resolve(ctx, tx, cs.DB, name)
	if err != nil || rec == nil {
		return
	}
	d.recordHistory(ctx, tx, rec.KeyID, cs.DB, op, engine.KindList, nil)
	d.touchKey(rec.KeyID, cs.DB)
}

// wakeListWaiters notifies the Blocking Hub after a push adds n elements to name, so any
// BLPOP/BRPOP/BLMOVE/BRPOPLPUSH connection suspended on it re-attempts its pop (spec §4.G).
func (d *Dispatcher) wakeListWaiters(db engine.DBIndex, name []byte, n int) {
	if d.Blocking != nil {
		d.Blocking.Notify(db, name, n)
	}
}

func (d *Dispatcher) cmdLPush(ctx context.Context, tx storage.Tx, cs *ConnState, args [][]byte) (any, error) {
	n, err := d.Lists.LPush(ctx, tx, cs.DB, args[0], args[1:])
	if err != nil {
		return nil, err
	}
	d.listPostWrite(ctx, tx, cs, args[0], "LPUSH")
	d.wakeListWaiters(cs.DB, args[0], len(args)-1)
	return n, nil
}

func (d *Dispatcher) cmdRPush(ctx context.Context, tx storage.Tx, cs *ConnState, args [][]byte) (any, error) {
	n, err := d.Lists.RPush(ctx, tx, cs.DB, args[0], args[1:])
	if err != nil {
		return nil, err
	}
	d.listPostWrite(ctx, tx, cs, args[0], "RPUSH")
	d.wakeListWaiters(cs.DB, args[0], len(args)-1)
	return n, nil
}

func (d *Dispatcher) cmdLPushX(ctx context.Context, tx storage.Tx, cs *ConnState, args [][]byte) (any, error) {
	n, err := d.Lists.LPushX(ctx, tx, cs.DB, args[0], args[1:])
	if err != nil {
		return nil, err
	}
	if n > 0 {
		d.listPostWrite(ctx, tx, cs, args[0], "LPUSHX")
		d.wakeListWaiters(cs.DB, args[0], len(args)-1)
	}
	return n, nil
}

func (d *Dispatcher) cmdRPushX(ctx context.Context, tx storage.Tx, cs *ConnState, args [][]byte) (any, error) {
	n, err := d.Lists.RPushX(ctx, tx, cs.DB, args[0], args[1:])
	if err != nil {
		return nil, err
	}
	if n > 0 {
		d.listPostWrite(ctx, tx, cs, args[0], "RPUSHX")
		d.wakeListWaiters(cs.DB, args[0], len(args)-1)
	}
	return n, nil
}

func parsePopCount(args [][]byte) (int64, bool, error) {
	if len(args) < 2 {
		return 1, false, nil
	}
	n, err := strconv.ParseInt(string(args[1]), 10, 64)
	if err != nil {
		return 0, false, engine.ErrNotInt
	}
	return n, true, nil
}

func (d *Dispatcher) cmdLPop(ctx context.Context, tx storage.Tx, cs *ConnState, args [][]byte) (any, error) {
	count, hasCount, err := parsePopCount(args)
	if err != nil {
		return nil, err
	}
	values, err := d.Lists.LPop(ctx, tx, cs.DB, args[0], count)
	if err != nil {
		return nil, err
	}
	if len(values) > 0 {
		d.listPostWrite(ctx, tx, cs, args[0], "LPOP")
	}
	if !hasCount {
		if len(values) == 0 {
			return nil, nil
		}
		return values[0], nil
	}
	return values, nil
}

func (d *Dispatcher) cmdRPop(ctx context.Context, tx storage.Tx, cs *ConnState, args [][]byte) (any, error) {
	count, hasCount, err := parsePopCount(args)
	if err != nil {
		return nil, err
	}
	values, err := d.Lists.RPop(ctx, tx, cs.DB, args[0], count)
	if err != nil {
		return nil, err
	}
	if len(values) > 0 {
		d.listPostWrite(ctx, tx, cs, args[0], "RPOP")
	}
	if !hasCount {
		if len(values) == 0 {
			return nil, nil
		}
		return values[0], nil
	}
	return values, nil
}

func (d *Dispatcher) cmdLLen(ctx context.Context, tx storage.Tx, cs *ConnState, args [][]byte) (any, error) {
	return d.Lists.LLen(ctx, tx, cs.DB, args[0])
}

func parseIndexPair(a, b []byte) (int64, int64, error) {
	x, err := strconv.ParseInt(string(a), 10, 64)
	if err != nil {
		return 0, 0, engine.ErrNotInt
	}
	y, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return 0, 0, engine.ErrNotInt
	}
	return x, y, nil
}

func (d *Dispatcher) cmdLRange(ctx context.Context, tx storage.Tx, cs *ConnState, args [][]byte) (any, error) {
	start, stop, err := parseIndexPair(args[1], args[2])
	if err != nil {
		return nil, err
	}
	return d.Lists.LRange(ctx, tx, cs.DB, args[0], start, stop)
}

func (d *Dispatcher) cmdLIndex(ctx context.Context, tx storage.Tx, cs *ConnState, args [][]byte) (any, error) {
	idx, err := strconv.ParseInt(string(args[1]), 10, 64)
	if err != nil {
		return nil, engine.ErrNotInt
	}
	v, ok, err := d.Lists.LIndex(ctx, tx, cs.DB, args[0], idx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return v, nil
}

func (d *Dispatcher) cmdLSet(ctx context.Context, tx storage.Tx, cs *ConnState, args [][]byte) (any, error) {
	idx, err := strconv.ParseInt(string(args[1]), 10, 64)
	if err != nil {
		return nil, engine.ErrNotInt
	}
	if err := d.Lists.LSet(ctx, tx, cs.DB, args[0], idx, args[2]); err != nil {
		return nil, err
	}
	d.listPostWrite(ctx, tx, cs, args[0], "LSET")
	return resp.OK(), nil
}

func (d *Dispatcher) cmdLTrim(ctx context.Context, tx storage.Tx, cs *ConnState, args [][]byte) (any, error) {
	start, stop, err := parseIndexPair(args[1], args[2])
	if err != nil {
		return nil, err
	}
	if err := d.Lists.LTrim(ctx, tx, cs.DB, args[0], start, stop); err != nil {
		return nil, err
	}
	d.listPostWrite(ctx, tx, cs, args[0], "LTRIM")
	return resp.OK(), nil
}

func (d *Dispatcher) cmdLRem(ctx context.Context, tx storage.Tx, cs *ConnState, args [][]byte) (any, error) {
	count, err := strconv.ParseInt(string(args[1]), 10, 64)
	if err != nil {
		return nil, engine.ErrNotInt
	}
	n, err := d.Lists.LRem(ctx, tx, cs.DB, args[0], count, args[2])
	if err != nil {
		return nil, err
	}
	if n > 0 {
		d.listPostWrite(ctx, tx, cs, args[0], "LREM")
	}
	return n, nil
}

func (d *Dispatcher) cmdLInsert(ctx context.Context, tx storage.Tx, cs *ConnState, args [][]byte) (any, error) {
	var before bool
	switch upperArg(args[1]) {
	case "BEFORE":
		before = true
	case "AFTER":
		before = false
	default:
		return nil, engine.ErrSyntax
	}
	n, err := d.Lists.LInsert(ctx, tx, cs.DB, args[0], before, args[2], args[3])
	if err != nil {
		return nil, err
	}
	if n > 0 {
		d.listPostWrite(ctx, tx, cs, args[0], "LINSERT")
	}
	return n, nil
}

func (d *Dispatcher) cmdLPos(ctx context.Context, tx storage.Tx, cs *ConnState, args [][]byte) (any, error) {
	idx, ok, err := d.Lists.LPos(ctx, tx, cs.DB, args[0], args[1])
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return idx, nil
}

func (d *Dispatcher) cmdLMove(ctx context.Context, tx storage.Tx, cs *ConnState, args [][]byte) (any, error) {
	fromLeft, err := parseSide(args[2])
	if err != nil {
		return nil, err
	}
	toLeft, err := parseSide(args[3])
	if err != nil {
		return nil, err
	}
	v, ok, err := d.Lists.LMove(ctx, tx, cs.DB, args[0], args[1], fromLeft, toLeft)
	if err != nil {
		return nil, err
	}
	if ok {
		d.listPostWrite(ctx, tx, cs, args[0], "LMOVE")
		d.listPostWrite(ctx, tx, cs, args[1], "LMOVE")
		d.wakeListWaiters(cs.DB, args[1], 1)
	}
	if !ok {
		return nil, nil
	}
	return v, nil
}

func parseSide(b []byte) (bool, error) {
	switch upperArg(b) {
	case "LEFT":
		return true, nil
	case "RIGHT":
		return false, nil
	default:
		return false, engine.ErrSyntax
	}
}
