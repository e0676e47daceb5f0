package dispatch

import (
	"context"

	"github.com/redlite/redlite/internal/engine"
	"github.com/redlite/redlite/internal/resp"
	"github.com/redlite/redlite/internal/storage"
)

// registerJSON wires JSON.* path-addressed document commands (spec §4.D.7) onto
// internal/types/json, which stores documents as raw bytes through the string engine.
func (d *Dispatcher) registerJSON() {
	d.register(command{name: "JSON.SET", minArgs: 3, maxArgs: 3, run: d.cmdJSONSet})
	d.register(command{name: "JSON.GET", minArgs: 1, maxArgs: 2, readOnly: true, run: d.cmdJSONGet})
	d.register(command{name: "JSON.DEL", minArgs: 1, maxArgs: 2, run: d.cmdJSONDel})
	d.register(command{name: "JSON.MERGE", minArgs: 3, maxArgs: 3, run: d.cmdJSONMerge})
	d.register(command{name: "JSON.ARRAPPEND", minArgs: 3, maxArgs: -1, run: d.cmdJSONArrAppend})
	d.register(command{name: "JSON.OBJLEN", minArgs: 1, maxArgs: 2, readOnly: true, run: d.cmdJSONObjLen})
	d.register(command{name: "JSON.ARRLEN", minArgs: 1, maxArgs: 2, readOnly: true, run: d.cmdJSONArrLen})
}

func jsonPath(args [][]byte, i int) string {
	if len(args) <= i {
		return "$"
	}
	return string(args[i])
}

func (d *Dispatcher) cmdJSONSet(ctx context.Context, tx storage.Tx, cs *ConnState, args [][]byte) (any, error) {
	name, path, value := args[0], string(args[1]), args[2]
	if err := d.JSON.Set(ctx, tx, cs.DB, name, path, value); err != nil {
		return nil, err
	}
	if rec, rerr := d.Dir.Resolve(ctx, tx, cs.DB, name); rerr == nil && rec != nil {
		d.recordHistory(ctx, tx, rec.KeyID, cs.DB, "JSON.SET", engine.KindString, nil)
		d.touchKey(rec.KeyID, cs.DB)
	}
	return resp.OK(), nil
}

func (d *Dispatcher) cmdJSONGet(ctx context.Context, tx storage.Tx, cs *ConnState, args [][]byte) (any, error) {
	doc, ok, err := d.JSON.Get(ctx, tx, cs.DB, args[0], jsonPath(args, 1))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return doc, nil
}

func (d *Dispatcher) cmdJSONDel(ctx context.Context, tx storage.Tx, cs *ConnState, args [][]byte) (any, error) {
	ok, err := d.JSON.Del(ctx, tx, cs.DB, args[0], jsonPath(args, 1))
	if err != nil {
		return nil, err
	}
	if !ok {
		return int64(0), nil
	}
	return int64(1), nil
}

func (d *Dispatcher) cmdJSONMerge(ctx context.Context, tx storage.Tx, cs *ConnState, args [][]byte) (any, error) {
	if err := d.JSON.Merge(ctx, tx, cs.DB, args[0], string(args[1]), args[2]); err != nil {
		return nil, err
	}
	return resp.OK(), nil
}

func (d *Dispatcher) cmdJSONArrAppend(ctx context.Context, tx storage.Tx, cs *ConnState, args [][]byte) (any, error) {
	name, path := args[0], string(args[1])
	n, err := d.JSON.ArrAppend(ctx, tx, cs.DB, name, path, args[2:])
	if err != nil {
		return nil, err
	}
	return n, nil
}

func (d *Dispatcher) cmdJSONObjLen(ctx context.Context, tx storage.Tx, cs *ConnState, args [][]byte) (any, error) {
	n, ok, err := d.JSON.ObjLen(ctx, tx, cs.DB, args[0], jsonPath(args, 1))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return n, nil
}

func (d *Dispatcher) cmdJSONArrLen(ctx context.Context, tx storage.Tx, cs *ConnState, args [][]byte) (any, error) {
	n, ok, err := d.JSON.ArrLen(ctx, tx, cs.DB, args[0], jsonPath(args, 1))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return n, nil
}
