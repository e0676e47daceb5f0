package dispatch

import (
	"context"
	"strconv"

	"github.com/redlite/redlite/internal/engine"
	"github.com/redlite/redlite/internal/keydir"
	"github.com/redlite/redlite/internal/resp"
	"github.com/redlite/redlite/internal/storage"
)

func (d *Dispatcher) registerGeneric() {
	d.register(command{name: "PING", minArgs: 0, maxArgs: 1, readOnly: true, run: d.cmdPing})
	d.register(command{name: "ECHO", minArgs: 1, maxArgs: 1, readOnly: true, run: d.cmdEcho})
	d.register(command{name: "SELECT", minArgs: 1, maxArgs: 1, readOnly: true, run: d.cmdSelect})
	d.register(command{name: "DBSIZE", minArgs: 0, maxArgs: 0, readOnly: true, run: d.cmdDBSize})
	d.register(command{name: "FLUSHDB", minArgs: 0, maxArgs: 1, run: d.cmdFlushDB})
	d.register(command{name: "DEL", minArgs: 1, maxArgs: -1, run: d.cmdDel})
	d.register(command{name: "UNLINK", minArgs: 1, maxArgs: -1, run: d.cmdDel})
	d.register(command{name: "EXISTS", minArgs: 1, maxArgs: -1, readOnly: true, run: d.cmdExists})
	d.register(command{name: "TYPE", minArgs: 1, maxArgs: 1, readOnly: true, run: d.cmdType})
	d.register(command{name: "EXPIRE", minArgs: 2, maxArgs: 3, run: d.cmdExpire})
	d.register(command{name: "PEXPIRE", minArgs: 2, maxArgs: 3, run: d.cmdPExpire})
	d.register(command{name: "EXPIREAT", minArgs: 2, maxArgs: 3, run: d.cmdExpireAt})
	d.register(command{name: "PEXPIREAT", minArgs: 2, maxArgs: 3, run: d.cmdPExpireAt})
	d.register(command{name: "PERSIST", minArgs: 1, maxArgs: 1, run: d.cmdPersist})
	d.register(command{name: "TTL", minArgs: 1, maxArgs: 1, readOnly: true, run: d.cmdTTL})
	d.register(command{name: "PTTL", minArgs: 1, maxArgs: 1, readOnly: true, run: d.cmdPTTL})
	d.register(command{name: "KEYS", minArgs: 1, maxArgs: 1, readOnly: true, run: d.cmdKeys})
	d.register(command{name: "SCAN", minArgs: 1, maxArgs: -1, readOnly: true, run: d.cmdScan})
}

func (d *Dispatcher) cmdPing(ctx context.Context, tx storage.Tx, cs *ConnState, args [][]byte) (any, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	return resp.Simple("PONG"), nil
}

func (d *Dispatcher) cmdEcho(ctx context.Context, tx storage.Tx, cs *ConnState, args [][]byte) (any, error) {
	return args[0], nil
}

func (d *Dispatcher) cmdSelect(ctx context.Context, tx storage.Tx, cs *ConnState, args [][]byte) (any, error) {
	n, err := strconv.Atoi(string(args[0]))
	if err != nil || n < 0 || n >= d.Databases {
		return nil, errDBIndexRange
	}
	cs.DB = engine.DBIndex(n)
	return resp.OK(), nil
}

func (d *Dispatcher) cmdDBSize(ctx context.Context, tx storage.Tx, cs *ConnState, args [][]byte) (any, error) {
	return d.Dir.DBSize(ctx, tx, cs.DB)
}

func (d *Dispatcher) cmdFlushDB(ctx context.Context, tx storage.Tx, cs *ConnState, args [][]byte) (any, error) {
	_, err := d.Dir.FlushDB(ctx, tx, cs.DB)
	if err != nil {
		return nil, err
	}
	return resp.OK(), nil
}

func (d *Dispatcher) cmdDel(ctx context.Context, tx storage.Tx, cs *ConnState, args [][]byte) (any, error) {
	var n int64
	for _, name := range args {
		rec, err := d.Dir.Resolve(ctx, tx, cs.DB, name)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			continue
		}
		if err := d.Dir.Delete(ctx, tx, rec.KeyID); err != nil {
			return nil, err
		}
		d.recordHistory(ctx, tx, rec.KeyID, cs.DB, "DEL", rec.Kind, nil)
		if d.Eviction != nil {
			d.Eviction.Forget(rec.KeyID)
		}
		n++
	}
	return n, nil
}

func (d *Dispatcher) cmdExists(ctx context.Context, tx storage.Tx, cs *ConnState, args [][]byte) (any, error) {
	var n int64
	for _, name := range args {
		ok, err := d.Dir.Exists(ctx, tx, cs.DB, name)
		if err != nil {
			return nil, err
		}
		if ok {
			n++
		}
	}
	return n, nil
}

func (d *Dispatcher) cmdType(ctx context.Context, tx storage.Tx, cs *ConnState, args [][]byte) (any, error) {
	rec, err := d.Dir.Resolve(ctx, tx, cs.DB, args[0])
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return resp.Simple("none"), nil
	}
	return resp.Simple(string(rec.Kind)), nil
}

func (d *Dispatcher) setExpiry(ctx context.Context, tx storage.Tx, cs *ConnState, name []byte, absoluteMs int64) (any, error) {
	rec, err := d.Dir.Resolve(ctx, tx, cs.DB, name)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return int64(0), nil
	}
	if err := d.Dir.SetTTL(ctx, tx, rec.KeyID, &absoluteMs); err != nil {
		return nil, err
	}
	if d.Eviction != nil {
		d.Eviction.TrackTTL(rec.KeyID, cs.DB, absoluteMs, engine.NowMs())
	}
	return int64(1), nil
}

func (d *Dispatcher) cmdExpire(ctx context.Context, tx storage.Tx, cs *ConnState, args [][]byte) (any, error) {
	secs, err := strconv.ParseInt(string(args[1]), 10, 64)
	if err != nil {
		return nil, engine.ErrNotInt
	}
	return d.setExpiry(ctx, tx, cs, args[0], engine.NowMs()+secs*1000)
}

func (d *Dispatcher) cmdPExpire(ctx context.Context, tx storage.Tx, cs *ConnState, args [][]byte) (any, error) {
	ms, err := strconv.ParseInt(string(args[1]), 10, 64)
	if err != nil {
		return nil, engine.ErrNotInt
	}
	return d.setExpiry(ctx, tx, cs, args[0], engine.NowMs()+ms)
}

func (d *Dispatcher) cmdExpireAt(ctx context.Context, tx storage.Tx, cs *ConnState, args [][]byte) (any, error) {
	secs, err := strconv.ParseInt(string(args[1]), 10, 64)
	if err != nil {
		return nil, engine.ErrNotInt
	}
	return d.setExpiry(ctx, tx, cs, args[0], secs*1000)
}

func (d *Dispatcher) cmdPExpireAt(ctx context.Context, tx storage.Tx, cs *ConnState, args [][]byte) (any, error) {
	ms, err := strconv.ParseInt(string(args[1]), 10, 64)
	if err != nil {
		return nil, engine.ErrNotInt
	}
	return d.setExpiry(ctx, tx, cs, args[0], ms)
}

func (d *Dispatcher) cmdPersist(ctx context.Context, tx storage.Tx, cs *ConnState, args [][]byte) (any, error) {
	rec, err := d.Dir.Resolve(ctx, tx, cs.DB, args[0])
	if err != nil {
		return nil, err
	}
	if rec == nil || rec.ExpiresAtMs == nil {
		return int64(0), nil
	}
	if err := d.Dir.SetTTL(ctx, tx, rec.KeyID, nil); err != nil {
		return nil, err
	}
	return int64(1), nil
}

func (d *Dispatcher) cmdTTL(ctx context.Context, tx storage.Tx, cs *ConnState, args [][]byte) (any, error) {
	rec, err := d.Dir.Resolve(ctx, tx, cs.DB, args[0])
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return int64(-2), nil
	}
	if rec.ExpiresAtMs == nil {
		return int64(-1), nil
	}
	remaining := *rec.ExpiresAtMs - engine.NowMs()
	if remaining < 0 {
		remaining = 0
	}
	return remaining / 1000, nil
}

func (d *Dispatcher) cmdPTTL(ctx context.Context, tx storage.Tx, cs *ConnState, args [][]byte) (any, error) {
	rec, err := d.Dir.Resolve(ctx, tx, cs.DB, args[0])
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return int64(-2), nil
	}
	if rec.ExpiresAtMs == nil {
		return int64(-1), nil
	}
	remaining := *rec.ExpiresAtMs - engine.NowMs()
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

func (d *Dispatcher) cmdKeys(ctx context.Context, tx storage.Tx, cs *ConnState, args [][]byte) (any, error) {
	names, err := d.Dir.Keys(ctx, d.Store, cs.DB, string(args[0]))
	if err != nil {
		return nil, err
	}
	return names, nil
}

func (d *Dispatcher) cmdScan(ctx context.Context, tx storage.Tx, cs *ConnState, args [][]byte) (any, error) {
	cursor, err := keydir.ParseScanCursor(string(args[0]))
	if err != nil {
		return nil, engine.ErrSyntax
	}
	pattern := "*"
	count := 10
	for i := 1; i < len(args); i++ {
		switch upperArg(args[i]) {
		case "MATCH":
			i++
			if i >= len(args) {
				return nil, engine.ErrSyntax
			}
			pattern = string(args[i])
		case "COUNT":
			i++
			if i >= len(args) {
				return nil, engine.ErrSyntax
			}
			count, err = strconv.Atoi(string(args[i]))
			if err != nil {
				return nil, engine.ErrNotInt
			}
		default:
			return nil, engine.ErrSyntax
		}
	}

	result, err := d.Dir.Scan(ctx, d.Store, cs.DB, cursor, pattern, count)
	if err != nil {
		return nil, err
	}
	return []resp.Reply{
		resp.BulkString(result.Next.String()),
		valueToReply(result.Keys),
	}, nil
}
