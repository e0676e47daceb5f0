package dispatch

import (
	"context"
	"strconv"

	"github.com/redlite/redlite/internal/engine"
	"github.com/redlite/redlite/internal/resp"
	"github.com/redlite/redlite/internal/storage"
	"github.com/redlite/redlite/internal/types/strings"
)

func (d *Dispatcher) registerStrings() {
	d.register(command{name: "GET", minArgs: 1, maxArgs: 1, readOnly: true, run: d.cmdGet})
	d.register(command{name: "SET", minArgs: 2, maxArgs: -1, run: d.cmdSet})
	d.register(command{name: "GETDEL", minArgs: 1, maxArgs: 1, run: d.cmdGetDel})
	d.register(command{name: "APPEND", minArgs: 2, maxArgs: 2, run: d.cmdAppend})
	d.register(command{name: "STRLEN", minArgs: 1, maxArgs: 1, readOnly: true, run: d.cmdStrlen})
	d.register(command{name: "GETRANGE", minArgs: 3, maxArgs: 3, readOnly: true, run: d.cmdGetRange})
	d.register(command{name: "SETRANGE", minArgs: 3, maxArgs: 3, run: d.cmdSetRange})
	d.register(command{name: "MGET", minArgs: 1, maxArgs: -1, readOnly: true, run: d.cmdMget})
	d.register(command{name: "MSET", minArgs: 2, maxArgs: -1, run: d.cmdMset})
	d.register(command{name: "INCR", minArgs: 1, maxArgs: 1, run: d.cmdIncr})
	d.register(command{name: "DECR", minArgs: 1, maxArgs: 1, run: d.cmdDecr})
	d.register(command{name: "INCRBY", minArgs: 2, maxArgs: 2, run: d.cmdIncrBy})
	d.register(command{name: "DECRBY", minArgs: 2, maxArgs: 2, run: d.cmdDecrBy})
	d.register(command{name: "INCRBYFLOAT", minArgs: 2, maxArgs: 2, run: d.cmdIncrByFloat})
	d.register(command{name: "SETBIT", minArgs: 3, maxArgs: 3, run: d.cmdSetBit})
	d.register(command{name: "GETBIT", minArgs: 2, maxArgs: 2, readOnly: true, run: d.cmdGetBit})
	d.register(command{name: "BITCOUNT", minArgs: 1, maxArgs: 3, readOnly: true, run: d.cmdBitCount})
}

func (d *Dispatcher) cmdGet(ctx context.Context, tx storage.Tx, cs *ConnState, args [][]byte) (any, error) {
	v, ok, err := d.Strings.Get(ctx, tx, cs.DB, args[0])
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return v, nil
}

// parseSetOpts parses SET's option tail (spec §4.D.1): [NX|XX] [GET] [KEEPTTL | EX s | PX ms |
// EXAT s | PXAT ms].
func parseSetOpts(args [][]byte) (strings.SetOpts, bool, error) {
	var opts strings.SetOpts
	getFlag := false
	opts.ClearTTL = true
	for i := 0; i < len(args); i++ {
		switch upperArg(args[i]) {
		case "NX":
			opts.NX = true
		case "XX":
			opts.XX = true
		case "GET":
			getFlag = true
		case "KEEPTTL":
			opts.KeepTTL = true
			opts.ClearTTL = false
		case "EX":
			i++
			if i >= len(args) {
				return opts, false, engine.ErrSyntax
			}
			secs, err := strconv.ParseInt(string(args[i]), 10, 64)
			if err != nil {
				return opts, false, engine.ErrNotInt
			}
			at := engine.NowMs() + secs*1000
			opts.ExpireAtMs = &at
			opts.ClearTTL = false
		case "PX":
			i++
			if i >= len(args) {
				return opts, false, engine.ErrSyntax
			}
			ms, err := strconv.ParseInt(string(args[i]), 10, 64)
			if err != nil {
				return opts, false, engine.ErrNotInt
			}
			at := engine.NowMs() + ms
			opts.ExpireAtMs = &at
			opts.ClearTTL = false
		case "EXAT":
			i++
			if i >= len(args) {
				return opts, false, engine.ErrSyntax
			}
			secs, err := strconv.ParseInt(string(args[i]), 10, 64)
			if err != nil {
				return opts, false, engine.ErrNotInt
			}
			at := secs * 1000
			opts.ExpireAtMs = &at
			opts.ClearTTL = false
		case "PXAT":
			i++
			if i >= len(args) {
				return opts, false, engine.ErrSyntax
			}
			ms, err := strconv.ParseInt(string(args[i]), 10, 64)
			if err != nil {
				return opts, false, engine.ErrNotInt
			}
			opts.ExpireAtMs = &ms
			opts.ClearTTL = false
		default:
			return opts, false, engine.ErrSyntax
		}
	}
	return opts, getFlag, nil
}

func (d *Dispatcher) cmdSet(ctx context.Context, tx storage.Tx, cs *ConnState, args [][]byte) (any, error) {
	name, value := args[0], args[1]
	opts, getFlag, err := parseSetOpts(args[2:])
	if err != nil {
		return nil, err
	}

	var previous []byte
	var hadPrevious bool
	if getFlag {
		previous, hadPrevious, err = d.Strings.Get(ctx, tx, cs.DB, name)
		if err != nil {
			return nil, err
		}
	}

	ok, err := d.Strings.Set(ctx, tx, cs.DB, name, value, opts)
	if err != nil {
		return nil, err
	}
	if ok {
		if rec, rerr := d.Dir.Resolve(ctx, tx, cs.DB, name); rerr == nil && rec != nil {
			d.recordHistory(ctx, tx, rec.KeyID, cs.DB, "SET", engine.KindString, value)
			d.touchKey(rec.KeyID, cs.DB)
			if opts.ExpireAtMs != nil && d.Eviction != nil {
				d.Eviction.TrackTTL(rec.KeyID, cs.DB, *opts.ExpireAtMs, engine.NowMs())
			}
		}
	}

	if getFlag {
		if !hadPrevious {
			return nil, nil
		}
		return previous, nil
	}
	if !ok {
		return nil, nil
	}
	return resp.OK(), nil
}

func (d *Dispatcher) cmdGetDel(ctx context.Context, tx storage.Tx, cs *ConnState, args [][]byte) (any, error) {
	v, ok, err := d.Strings.GetDel(ctx, tx, cs.DB, args[0])
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	if rec, rerr := d.Dir.Resolve(ctx, tx, cs.DB, args[0]); rerr == nil && rec != nil {
		d.recordHistory(ctx, tx, rec.KeyID, cs.DB, "GETDEL", engine.KindString, nil)
	}
	return v, nil
}

func (d *Dispatcher) cmdAppend(ctx context.Context, tx storage.Tx, cs *ConnState, args [][]byte) (any, error) {
	n, err := d.Strings.Append(ctx, tx, cs.DB, args[0], args[1])
	if err != nil {
		return nil, err
	}
	return n, nil
}

func (d *Dispatcher) cmdStrlen(ctx context.Context, tx storage.Tx, cs *ConnState, args [][]byte) (any, error) {
	return d.Strings.Strlen(ctx, tx, cs.DB, args[0])
}

func (d *Dispatcher) cmdGetRange(ctx context.Context, tx storage.Tx, cs *ConnState, args [][]byte) (any, error) {
	start, err := strconv.ParseInt(string(args[1]), 10, 64)
	if err != nil {
		return nil, engine.ErrNotInt
	}
	end, err := strconv.ParseInt(string(args[2]), 10, 64)
	if err != nil {
		return nil, engine.ErrNotInt
	}
	return d.Strings.GetRange(ctx, tx, cs.DB, args[0], start, end)
}

func (d *Dispatcher) cmdSetRange(ctx context.Context, tx storage.Tx, cs *ConnState, args [][]byte) (any, error) {
	offset, err := strconv.ParseInt(string(args[1]), 10, 64)
	if err != nil {
		return nil, engine.ErrNotInt
	}
	return d.Strings.SetRange(ctx, tx, cs.DB, args[0], offset, args[2])
}

func (d *Dispatcher) cmdMget(ctx context.Context, tx storage.Tx, cs *ConnState, args [][]byte) (any, error) {
	return d.Strings.Mget(ctx, tx, cs.DB, args)
}

func (d *Dispatcher) cmdMset(ctx context.Context, tx storage.Tx, cs *ConnState, args [][]byte) (any, error) {
	if len(args)%2 != 0 {
		return nil, engine.ErrSyntax
	}
	pairs := make([][2][]byte, 0, len(args)/2)
	for i := 0; i < len(args); i += 2 {
		pairs = append(pairs, [2][]byte{args[i], args[i+1]})
	}
	if err := d.Strings.Mset(ctx, tx, cs.DB, pairs); err != nil {
		return nil, err
	}
	return resp.OK(), nil
}

func (d *Dispatcher) cmdIncr(ctx context.Context, tx storage.Tx, cs *ConnState, args [][]byte) (any, error) {
	return d.Strings.IncrBy(ctx, tx, cs.DB, args[0], 1)
}

func (d *Dispatcher) cmdDecr(ctx context.Context, tx storage.Tx, cs *ConnState, args [][]byte) (any, error) {
	return d.Strings.IncrBy(ctx, tx, cs.DB, args[0], -1)
}

func (d *Dispatcher) cmdIncrBy(ctx context.Context, tx storage.Tx, cs *ConnState, args [][]byte) (any, error) {
	delta, err := strconv.ParseInt(string(args[1]), 10, 64)
	if err != nil {
		return nil, engine.ErrNotInt
	}
	return d.Strings.IncrBy(ctx, tx, cs.DB, args[0], delta)
}

func (d *Dispatcher) cmdDecrBy(ctx context.Context, tx storage.Tx, cs *ConnState, args [][]byte) (any, error) {
	delta, err := strconv.ParseInt(string(args[1]), 10, 64)
	if err != nil {
		return nil, engine.ErrNotInt
	}
	return d.Strings.IncrBy(ctx, tx, cs.DB, args[0], -delta)
}

func (d *Dispatcher) cmdIncrByFloat(ctx context.Context, tx storage.Tx, cs *ConnState, args [][]byte) (any, error) {
	delta, err := strconv.ParseFloat(string(args[1]), 64)
	if err != nil {
		return nil, engine.ErrNotFloat
	}
	f, err := d.Strings.IncrByFloat(ctx, tx, cs.DB, args[0], delta)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (d *Dispatcher) cmdSetBit(ctx context.Context, tx storage.Tx, cs *ConnState, args [][]byte) (any, error) {
	bit, err := strconv.ParseInt(string(args[1]), 10, 64)
	if err != nil {
		return nil, engine.ErrNotInt
	}
	value, err := strconv.Atoi(string(args[2]))
	if err != nil || (value != 0 && value != 1) {
		return nil, engine.ErrOutOfRange
	}
	return d.Strings.SetBit(ctx, tx, cs.DB, args[0], bit, value)
}

func (d *Dispatcher) cmdGetBit(ctx context.Context, tx storage.Tx, cs *ConnState, args [][]byte) (any, error) {
	bit, err := strconv.ParseInt(string(args[1]), 10, 64)
	if err != nil {
		return nil, engine.ErrNotInt
	}
	return d.Strings.GetBit(ctx, tx, cs.DB, args[0], bit)
}

func (d *Dispatcher) cmdBitCount(ctx context.Context, tx storage.Tx, cs *ConnState, args [][]byte) (any, error) {
	start, end := int64(0), int64(-1)
	if len(args) == 3 {
		var err error
		start, err = strconv.ParseInt(string(args[1]), 10, 64)
		if err != nil {
			return nil, engine.ErrNotInt
		}
		end, err = strconv.ParseInt(string(args[2]), 10, 64)
		if err != nil {
			return nil, engine.ErrNotInt
		}
	} else if len(args) != 1 {
		return nil, engine.ErrSyntax
	}
	return d.Strings.BitCount(ctx, tx, cs.DB, args[0], start, end)
}
