package dispatch

import (
	"context"
	"strconv"

	"github.com/redlite/redlite/internal/engine"
	"github.com/redlite/redlite/internal/storage"
)

func (d *Dispatcher) registerHashes() {
	d.register(command{name: "HSET", minArgs: 3, maxArgs: -1, run: d.cmdHSet})
	d.register(command{name: "HMSET", minArgs: 3, maxArgs: -1, run: d.cmdHSet})
	d.register(command{name: "HSETNX", minArgs: 3, maxArgs: 3, run: d.cmdHSetNX})
	d.register(command{name: "HGET", minArgs: 2, maxArgs: 2, readOnly: true, run: d.cmdHGet})
	d.register(command{name: "HMGET", minArgs: 2, maxArgs: -1, readOnly: true, run: d.cmdHMGet})
	d.register(command{name: "HGETALL", minArgs: 1, maxArgs: 1, readOnly: true, run: d.cmdHGetAll})
	d.register(command{name: "HKEYS", minArgs: 1, maxArgs: 1, readOnly: true, run: d.cmdHKeys})
	d.register(command{name: "HVALS", minArgs: 1, maxArgs: 1, readOnly: true, run: d.cmdHVals})
	d.register(command{name: "HLEN", minArgs: 1, maxArgs: 1, readOnly: true, run: d.cmdHLen})
	d.register(command{name: "HEXISTS", minArgs: 2, maxArgs: 2, readOnly: true, run: d.cmdHExists})
	d.register(command{name: "HDEL", minArgs: 2, maxArgs: -1, run: d.cmdHDel})
	d.register(command{name: "HINCRBY", minArgs: 3, maxArgs: 3, run: d.cmdHIncrBy})
	d.register(command{name: "HINCRBYFLOAT", minArgs: 3, maxArgs: 3, run: d.cmdHIncrByFloat})
}

func (d *Dispatcher) hashPostWrite(ctx context.Context, tx storage.Tx, cs *ConnState, name []byte, op string) {
	rec, err := d.Dir.Resolve(ctx, tx, cs.DB, name)
	if err != nil || rec == nil {
		return
	}
	d.recordHistory(ctx, tx, rec.KeyID, cs.DB, op, engine.KindHash, nil)
	d.touchKey(rec.KeyID, cs.DB)
}

func (d *Dispatcher) cmdHSet(ctx context.Context, tx storage.Tx, cs *ConnState, args [][]byte) (any, error) {
	if len(args[1:])%2 != 0 {
		return nil, engine.ErrSyntax
	}
	fields := make([][2][]byte, 0, (len(args)-1)/2)
	for i := 1; i < len(args); i += 2 {
		fields = append(fields, [2][]byte{args[i], args[i+1]})
	}
	n, err := d.Hashes.HSet(ctx, tx, cs.DB, args[0], fields)
	if err != nil {
		return nil, err
	}
	d.hashPostWrite(ctx, tx, cs, args[0], "HSET")
	return n, nil
}

func (d *Dispatcher) cmdHSetNX(ctx context.Context, tx storage.Tx, cs *ConnState, args [][]byte) (any, error) {
	ok, err := d.Hashes.HSetNX(ctx, tx, cs.DB, args[0], args[1], args[2])
	if err != nil {
		return nil, err
	}
	if ok {
		d.hashPostWrite(ctx, tx, cs, args[0], "HSETNX")
	}
	return ok, nil
}

func (d *Dispatcher) cmdHGet(ctx context.Context, tx storage.Tx, cs *ConnState, args [][]byte) (any, error) {
	v, ok, err := d.Hashes.HGet(ctx, tx, cs.DB, args[0], args[1])
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return v, nil
}

func (d *Dispatcher) cmdHMGet(ctx context.Context, tx storage.Tx, cs *ConnState, args [][]byte) (any, error) {
	return d.Hashes.HMGet(ctx, tx, cs.DB, args[0], args[1:])
}

func (d *Dispatcher) cmdHGetAll(ctx context.Context, tx storage.Tx, cs *ConnState, args [][]byte) (any, error) {
	return d.Hashes.HGetAll(ctx, tx, cs.DB, args[0])
}

func (d *Dispatcher) cmdHKeys(ctx context.Context, tx storage.Tx, cs *ConnState, args [][]byte) (any, error) {
	return d.Hashes.HKeys(ctx, tx, cs.DB, args[0])
}

func (d *Dispatcher) cmdHVals(ctx context.Context, tx storage.Tx, cs *ConnState, args [][]byte) (any, error) {
	return d.Hashes.HVals(ctx, tx, cs.DB, args[0])
}

func (d *Dispatcher) cmdHLen(ctx context.Context, tx storage.Tx, cs *ConnState, args [][]byte) (any, error) {
	return d.Hashes.HLen(ctx, tx, cs.DB, args[0])
}

func (d *Dispatcher) cmdHExists(ctx context.Context, tx storage.Tx, cs *ConnState, args [][]byte) (any, error) {
	return d.Hashes.HExists(ctx, tx, cs.DB, args[0], args[1])
}

func (d *Dispatcher) cmdHDel(ctx context.Context, tx storage.Tx, cs *ConnState, args [][]byte) (any, error) {
	n, err := d.Hashes.HDel(ctx, tx, cs.DB, args[0], args[1:])
	if err != nil {
		return nil, err
	}
	if n > 0 {
		d.hashPostWrite(ctx, tx, cs, args[0], "HDEL")
	}
	return n, nil
}

func (d *Dispatcher) cmdHIncrBy(ctx context.Context, tx storage.Tx, cs *ConnState, args [][]byte) (any, error) {
	delta, err := strconv.ParseInt(string(args[2]), 10, 64)
	if err != nil {
		return nil, engine.ErrNotInt
	}
	n, err := d.Hashes.HIncrBy(ctx, tx, cs.DB, args[0], args[1], delta)
	if err != nil {
		return nil, err
	}
	d.hashPostWrite(ctx, tx, cs, args[0], "HINCRBY")
	return n, nil
}

func (d *Dispatcher) cmdHIncrByFloat(ctx context.Context, tx storage.Tx, cs *ConnState, args [][]byte) (any, error) {
	delta, err := strconv.ParseFloat(string(args[2]), 64)
	if err != nil {
		return nil, engine.ErrNotFloat
	}
	f, err := d.Hashes.HIncrByFloat(ctx, tx, cs.DB, args[0], args[1], delta)
	if err != nil {
		return nil, err
	}
	d.hashPostWrite(ctx, tx, cs, args[0], "HINCRBYFLOAT")
	return f, nil
}
