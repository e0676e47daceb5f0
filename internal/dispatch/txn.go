package dispatch

import (
	"context"

	"github.com/redlite/redlite/internal/resp"
	"github.com/redlite/redlite/internal/storage"
)

func (d *Dispatcher) registerTxn() {
	// MULTI/EXEC/DISCARD/WATCH/UNWATCH are handled specially in Dispatch before the command
	// table lookup (spec §4.F: they must run even while IN_MULTI, which ordinary commands must
	// not). Registered here anyway so arity checks and the "unknown command" path stay uniform.
	d.register(command{name: "MULTI", minArgs: 0, maxArgs: 0})
	d.register(command{name: "EXEC", minArgs: 0, maxArgs: 0})
	d.register(command{name: "DISCARD", minArgs: 0, maxArgs: 0})
	d.register(command{name: "WATCH", minArgs: 1, maxArgs: -1})
	d.register(command{name: "UNWATCH", minArgs: 0, maxArgs: 0})
}

func (d *Dispatcher) dispatchTxnControl(ctx context.Context, cs *ConnState, name string, args [][]byte) resp.Reply {
	switch name {
	case "MULTI":
		if err := cs.Txn.Multi(); err != nil {
			return resp.Err(err.Error())
		}
		return resp.OK()

	case "DISCARD":
		if err := cs.Txn.Discard(); err != nil {
			return resp.Err(err.Error())
		}
		return resp.OK()

	case "UNWATCH":
		cs.Txn.Unwatch()
		return resp.OK()

	case "WATCH":
		return d.watch(ctx, cs, args)

	case "EXEC":
		return d.exec(ctx, cs)
	}
	return resp.Err("ERR internal: unreachable txn control command")
}

func (d *Dispatcher) watch(ctx context.Context, cs *ConnState, names [][]byte) resp.Reply {
	var watchErr error
	txErr := d.Store.WithROTx(ctx, func(tx storage.Tx) error {
		watchErr = cs.Txn.Watch(ctx, tx, cs.DB, names)
		return nil
	})
	if txErr != nil {
		return resp.Err(txErr.Error())
	}
	if watchErr != nil {
		return resp.Err(watchErr.Error())
	}
	return resp.OK()
}

func (d *Dispatcher) exec(ctx context.Context, cs *ConnState) resp.Reply {
	results, conflict, err := cs.Txn.Exec(ctx, d.Store)
	if err != nil {
		return resp.Err(err.Error())
	}
	if conflict {
		return resp.NullArray()
	}
	items := make([]resp.Reply, len(results))
	for i, r := range results {
		if r.Err != nil {
			items[i] = errToReply(r.Err)
			continue
		}
		items[i] = valueToReply(r.Value)
	}
	return resp.Array(items...)
}
