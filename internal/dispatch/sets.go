package dispatch

import (
	"context"
	"strconv"

	"github.com/redlite/redlite/internal/engine"
	"github.com/redlite/redlite/internal/storage"
)

func (d *Dispatcher) registerSets() {
	d.register(command{name: "SADD", minArgs: 2, maxArgs: -1, run: d.cmdSAdd})
	d.register(command{name: "SREM", minArgs: 2, maxArgs: -1, run: d.cmdSRem})
	d.register(command{name: "SMEMBERS", minArgs: 1, maxArgs: 1, readOnly: true, run: d.cmdSMembers})
	d.register(command{name: "SISMEMBER", minArgs: 2, maxArgs: 2, readOnly: true, run: d.cmdSIsMember})
	d.register(command{name: "SCARD", minArgs: 1, maxArgs: 1, readOnly: true, run: d.cmdSCard})
	d.register(command{name: "SPOP", minArgs: 1, maxArgs: 2, run: d.cmdSPop})
	d.register(command{name: "SRANDMEMBER", minArgs: 1, maxArgs: 2, readOnly: true, run: d.cmdSRandMember})
	d.register(command{name: "SMOVE", minArgs: 3, maxArgs: 3, run: d.cmdSMove})
	d.register(command{name: "SINTER", minArgs: 1, maxArgs: -1, readOnly: true, run: d.cmdSInter})
	d.register(command{name: "SUNION", minArgs: 1, maxArgs: -1, readOnly: true, run: d.cmdSUnion})
	d.register(command{name: "SDIFF", minArgs: 1, maxArgs: -1, readOnly: true, run: d.cmdSDiff})
	d.register(command{name: "SINTERSTORE", minArgs: 2, maxArgs: -1, run: d.cmdSInterStore})
	d.register(command{name: "SUNIONSTORE", minArgs: 2, maxArgs: -1, run: d.cmdSUnionStore})
	d.register(command{name: "SDIFFSTORE", minArgs: 2, maxArgs: -1, run: d.cmdSDiffStore})
}

func (d *Dispatcher) setPostWrite(ctx context.Context, tx storage.Tx, cs *ConnState, name []byte, op string) {
	rec, err := d.Dir.Resolve(ctx, tx, cs.DB, name)
	if err != nil || rec == nil {
		return
	}
	d.recordHistory(ctx, tx, rec.KeyID, cs.DB, op, engine.KindSet, nil)
	d.touchKey(rec.KeyID, cs.DB)
}

func (d *Dispatcher) cmdSAdd(ctx context.Context, tx storage.Tx, cs *ConnState, args [][]byte) (any, error) {
	n, err := d.Sets.SAdd(ctx, tx, cs.DB, args[0], args[1:])
	if err != nil {
		return nil, err
	}
	if n > 0 {
		d.setPostWrite(ctx, tx, cs, args[0], "SADD")
	}
	return n, nil
}

func (d *Dispatcher) cmdSRem(ctx context.Context, tx storage.Tx, cs *ConnState, args [][]byte) (any, error) {
	n, err := d.Sets.SRem(ctx, tx, cs.DB, args[0], args[1:])
	if err != nil {
		return nil, err
	}
	if n > 0 {
		d.setPostWrite(ctx, tx, cs, args[0], "SREM")
	}
	return n, nil
}

func (d *Dispatcher) cmdSMembers(ctx context.Context, tx storage.Tx, cs *ConnState, args [][]byte) (any, error) {
	return d.Sets.SMembers(ctx, tx, cs.DB, args[0])
}

func (d *Dispatcher) cmdSIsMember(ctx context.Context, tx storage.Tx, cs *ConnState, args [][]byte) (any, error) {
	return d.Sets.SIsMember(ctx, tx, cs.DB, args[0], args[1])
}

func (d *Dispatcher) cmdSCard(ctx context.Context, tx storage.Tx, cs *ConnState, args [][]byte) (any, error) {
	return d.Sets.SCard(ctx, tx, cs.DB, args[0])
}

func (d *Dispatcher) cmdSPop(ctx context.Context, tx storage.Tx, cs *ConnState, args [][]byte) (any, error) {
	count, hasCount, err := parsePopCount(args)
	if err != nil {
		return nil, err
	}
	values, err := d.Sets.SPop(ctx, tx, cs.DB, args[0], count)
	if err != nil {
		return nil, err
	}
	if len(values) > 0 {
		d.setPostWrite(ctx, tx, cs, args[0], "SPOP")
	}
	if !hasCount {
		if len(values) == 0 {
			return nil, nil
		}
		return values[0], nil
	}
	return values, nil
}

func (d *Dispatcher) cmdSRandMember(ctx context.Context, tx storage.Tx, cs *ConnState, args [][]byte) (any, error) {
	if len(args) == 1 {
		values, err := d.Sets.SRandMember(ctx, tx, cs.DB, args[0], 1, false)
		if err != nil {
			return nil, err
		}
		if len(values) == 0 {
			return nil, nil
		}
		return values[0], nil
	}
	count, err := strconv.ParseInt(string(args[1]), 10, 64)
	if err != nil {
		return nil, engine.ErrNotInt
	}
	return d.Sets.SRandMember(ctx, tx, cs.DB, args[0], count, true)
}

func (d *Dispatcher) cmdSMove(ctx context.Context, tx storage.Tx, cs *ConnState, args [][]byte) (any, error) {
	ok, err := d.Sets.SMove(ctx, tx, cs.DB, args[0], args[1], args[2])
	if err != nil {
		return nil, err
	}
	if ok {
		d.setPostWrite(ctx, tx, cs, args[0], "SMOVE")
		d.setPostWrite(ctx, tx, cs, args[1], "SMOVE")
	}
	return ok, nil
}

func (d *Dispatcher) cmdSInter(ctx context.Context, tx storage.Tx, cs *ConnState, args [][]byte) (any, error) {
	return d.Sets.SInter(ctx, tx, cs.DB, args)
}

func (d *Dispatcher) cmdSUnion(ctx context.Context, tx storage.Tx, cs *ConnState, args [][]byte) (any, error) {
	return d.Sets.SUnion(ctx, tx, cs.DB, args)
}

func (d *Dispatcher) cmdSDiff(ctx context.Context, tx storage.Tx, cs *ConnState, args [][]byte) (any, error) {
	return d.Sets.SDiff(ctx, tx, cs.DB, args)
}

func (d *Dispatcher) cmdSInterStore(ctx context.Context, tx storage.Tx, cs *ConnState, args [][]byte) (any, error) {
	n, err := d.Sets.SInterStore(ctx, tx, cs.DB, args[0], args[1:])
	if err != nil {
		return nil, err
	}
	d.setPostWrite(ctx, tx, cs, args[0], "SINTERSTORE")
	return n, nil
}

func (d *Dispatcher) cmdSUnionStore(ctx context.Context, tx storage.Tx, cs *ConnState, args [][]byte) (any, error) {
	n, err := d.Sets.SUnionStore(ctx, tx, cs.DB, args[0], args[1:])
	if err != nil {
		return nil, err
	}
	d.setPostWrite(ctx, tx, cs, args[0], "SUNIONSTORE")
	return n, nil
}

func (d *Dispatcher) cmdSDiffStore(ctx context.Context, tx storage.Tx, cs *ConnState, args [][]byte) (any, error) {
	n, err := d.Sets.SDiffStore(ctx, tx, cs.DB, args[0], args[1:])
	if err != nil {
		return nil, err
	}
	d.setPostWrite(ctx, tx, cs, args[0], "SDIFFSTORE")
	return n, nil
}
