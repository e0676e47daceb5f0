package dispatch

import (
	"context"
	"strconv"

	"github.com/redlite/redlite/internal/engine"
	"github.com/redlite/redlite/internal/history"
	"github.com/redlite/redlite/internal/resp"
	"github.com/redlite/redlite/internal/storage"
)

// registerHistory wires the HISTORY admin command (spec §4.I): GETAT for point-in-time lookup,
// LIST for the full version log, PRUNE for an explicit retention sweep.
func (d *Dispatcher) registerHistory() {
	d.register(command{name: "HISTORY", minArgs: 1, maxArgs: -1, run: d.cmdHistory})
}

func (d *Dispatcher) cmdHistory(ctx context.Context, tx storage.Tx, cs *ConnState, args [][]byte) (any, error) {
	if d.History == nil {
		return nil, engine.ErrSyntax
	}
	switch upperArg(args[0]) {
	case "GETAT":
		if len(args) != 3 {
			return nil, engine.ErrSyntax
		}
		atMs, err := strconv.ParseInt(string(args[2]), 10, 64)
		if err != nil {
			return nil, engine.ErrNotInt
		}
		rec, err := d.Dir.Resolve(ctx, tx, cs.DB, args[1])
		if err != nil {
			return nil, err
		}
		if rec == nil {
			return nil, nil
		}
		entry, ok, err := d.History.GetAt(ctx, tx, rec.KeyID, atMs)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, nil
		}
		return historyEntryReply(entry), nil

	case "LIST":
		if len(args) != 2 {
			return nil, engine.ErrSyntax
		}
		rec, err := d.Dir.Resolve(ctx, tx, cs.DB, args[1])
		if err != nil {
			return nil, err
		}
		if rec == nil {
			return resp.NullArray(), nil
		}
		versions, err := d.History.Versions(ctx, tx, rec.KeyID)
		if err != nil {
			return nil, err
		}
		items := make([]resp.Reply, len(versions))
		for i, e := range versions {
			items[i] = historyEntryReply(e)
		}
		return resp.Array(items...), nil

	case "PRUNE":
		if len(args) != 2 {
			return nil, engine.ErrSyntax
		}
		beforeMs, err := strconv.ParseInt(string(args[1]), 10, 64)
		if err != nil {
			return nil, engine.ErrNotInt
		}
		return d.History.Prune(ctx, tx, beforeMs)

	default:
		return nil, engine.ErrSyntax
	}
}

// historyEntryReply renders one version as a flat field/value array, mirroring the teacher's
// preference for plain arrays over ad hoc maps on RESP2 connections.
func historyEntryReply(e history.Entry) resp.Reply {
	return resp.Array(
		resp.BulkString("version"), resp.Int(e.Version),
		resp.BulkString("op"), resp.BulkString(e.Op),
		resp.BulkString("at_ms"), resp.Int(e.AtMs),
		resp.BulkString("kind"), resp.BulkString(string(e.Kind)),
		resp.BulkString("snapshot"), snapshotReply(e.Snapshot),
	)
}

func snapshotReply(b []byte) resp.Reply {
	if b == nil {
		return resp.NullBulk()
	}
	return resp.BulkBytes(b)
}
