package dispatch

import (
	"context"
	"strconv"

	"github.com/redlite/redlite/internal/engine"
	"github.com/redlite/redlite/internal/resp"
	"github.com/redlite/redlite/internal/storage"
	"github.com/redlite/redlite/internal/types/streams"
)

// registerStreams wires the stream entry commands and the consumer-group state machine
// (spec §4.D.6, §4.H) onto internal/types/streams.
func (d *Dispatcher) registerStreams() {
	d.register(command{name: "XADD", minArgs: 3, maxArgs: -1, run: d.cmdXAdd})
	d.register(command{name: "XLEN", minArgs: 1, maxArgs: 1, readOnly: true, run: d.cmdXLen})
	d.register(command{name: "XRANGE", minArgs: 3, maxArgs: 5, readOnly: true, run: d.cmdXRange})
	d.register(command{name: "XREVRANGE", minArgs: 3, maxArgs: 5, readOnly: true, run: d.cmdXRevRange})
	d.register(command{name: "XDEL", minArgs: 2, maxArgs: -1, run: d.cmdXDel})
	d.register(command{name: "XTRIM", minArgs: 3, maxArgs: -1, run: d.cmdXTrim})
	d.register(command{name: "XGROUP", minArgs: 1, maxArgs: -1, run: d.cmdXGroup})
	d.register(command{name: "XREADGROUP", minArgs: 6, maxArgs: -1, run: d.cmdXReadGroup})
	d.register(command{name: "XACK", minArgs: 3, maxArgs: -1, run: d.cmdXAck})
	d.register(command{name: "XPENDING", minArgs: 2, maxArgs: -1, readOnly: true, run: d.cmdXPending})
	d.register(command{name: "XCLAIM", minArgs: 5, maxArgs: -1, run: d.cmdXClaim})
	d.register(command{name: "XAUTOCLAIM", minArgs: 5, maxArgs: -1, run: d.cmdXAutoClaim})
	d.register(command{name: "XINFO", minArgs: 2, maxArgs: -1, readOnly: true, run: d.cmdXInfo})
}

func entryReply(e streams.Entry) resp.Reply {
	fields := make([]resp.Reply, 0, len(e.Fields)*2)
	for _, f := range e.Fields {
		fields = append(fields, resp.BulkBytes(f.Name), resp.BulkBytes(f.Value))
	}
	return resp.Array(resp.BulkString(e.ID.String()), resp.Array(fields...))
}

func entriesReply(entries []streams.Entry) []resp.Reply {
	out := make([]resp.Reply, len(entries))
	for i, e := range entries {
		out[i] = entryReply(e)
	}
	return out
}

func (d *Dispatcher) cmdXAdd(ctx context.Context, tx storage.Tx, cs *ConnState, args [][]byte) (any, error) {
	name := args[0]
	idArg := string(args[1])
	rest := args[2:]
	if len(rest) == 0 || len(rest)%2 != 0 {
		return nil, engine.ErrSyntax
	}
	fields := make([]streams.Field, 0, len(rest)/2)
	for i := 0; i < len(rest); i += 2 {
		fields = append(fields, streams.Field{Name: rest[i], Value: rest[i+1]})
	}
	var idPtr *streams.ID
	if idArg != "*" {
		id, err := streams.ParseID(idArg, 0)
		if err != nil {
			return nil, err
		}
		idPtr = &id
	}
	id, err := d.Streams.XAdd(ctx, tx, cs.DB, name, idPtr, engine.NowMs(), fields)
	if err != nil {
		return nil, err
	}
	if rec, rerr := d.Dir.Resolve(ctx, tx, cs.DB, name); rerr == nil && rec != nil {
		d.recordHistory(ctx, tx, rec.KeyID, cs.DB, "XADD", engine.KindStream, nil)
		d.touchKey(rec.KeyID, cs.DB)
	}
	return id.String(), nil
}

func (d *Dispatcher) cmdXLen(ctx context.Context, tx storage.Tx, cs *ConnState, args [][]byte) (any, error) {
	return d.Streams.XLen(ctx, tx, cs.DB, args[0])
}

func parseCount(args [][]byte, i int) (int64, error) {
	if i+1 >= len(args) || upperArg(args[i]) != "COUNT" {
		return 0, engine.ErrSyntax
	}
	return strconv.ParseInt(string(args[i+1]), 10, 64)
}

func (d *Dispatcher) cmdXRange(ctx context.Context, tx storage.Tx, cs *ConnState, args [][]byte) (any, error) {
	start, err := streams.ParseRangeStart(string(args[1]))
	if err != nil {
		return nil, err
	}
	end, err := streams.ParseRangeEnd(string(args[2]))
	if err != nil {
		return nil, err
	}
	count := int64(-1)
	if len(args) == 5 {
		count, err = parseCount(args, 3)
		if err != nil {
			return nil, err
		}
	} else if len(args) != 3 {
		return nil, engine.ErrSyntax
	}
	entries, err := d.Streams.XRange(ctx, tx, cs.DB, args[0], start, end, count)
	if err != nil {
		return nil, err
	}
	return entriesReply(entries), nil
}

func (d *Dispatcher) cmdXRevRange(ctx context.Context, tx storage.Tx, cs *ConnState, args [][]byte) (any, error) {
	end, err := streams.ParseRangeEnd(string(args[1]))
	if err != nil {
		return nil, err
	}
	start, err := streams.ParseRangeStart(string(args[2]))
	if err != nil {
		return nil, err
	}
	count := int64(-1)
	if len(args) == 5 {
		count, err = parseCount(args, 3)
		if err != nil {
			return nil, err
		}
	} else if len(args) != 3 {
		return nil, engine.ErrSyntax
	}
	entries, err := d.Streams.XRevRange(ctx, tx, cs.DB, args[0], end, start, count)
	if err != nil {
		return nil, err
	}
	return entriesReply(entries), nil
}

func (d *Dispatcher) cmdXDel(ctx context.Context, tx storage.Tx, cs *ConnState, args [][]byte) (any, error) {
	ids := make([]streams.ID, len(args)-1)
	for i, a := range args[1:] {
		id, err := streams.ParseID(string(a), 0)
		if err != nil {
			return nil, err
		}
		ids[i] = id
	}
	return d.Streams.XDel(ctx, tx, cs.DB, args[0], ids)
}

func (d *Dispatcher) cmdXTrim(ctx context.Context, tx storage.Tx, cs *ConnState, args [][]byte) (any, error) {
	i := 1
	var mode streams.TrimMode
	switch upperArg(args[i]) {
	case "MAXLEN":
		mode = streams.TrimMaxLen
	case "MINID":
		mode = streams.TrimMinID
	default:
		return nil, engine.ErrSyntax
	}
	i++
	approx := false
	if i < len(args) && (string(args[i]) == "~" || string(args[i]) == "=") {
		approx = string(args[i]) == "~"
		i++
	}
	if i >= len(args) {
		return nil, engine.ErrSyntax
	}
	var threshold int64
	var minID streams.ID
	var err error
	if mode == streams.TrimMaxLen {
		threshold, err = strconv.ParseInt(string(args[i]), 10, 64)
		if err != nil {
			return nil, engine.ErrNotInt
		}
	} else {
		minID, err = streams.ParseID(string(args[i]), 0)
		if err != nil {
			return nil, err
		}
	}
	return d.Streams.XTrim(ctx, tx, cs.DB, args[0], mode, threshold, minID, approx)
}

func (d *Dispatcher) cmdXGroup(ctx context.Context, tx storage.Tx, cs *ConnState, args [][]byte) (any, error) {
	switch upperArg(args[0]) {
	case "CREATE":
		if len(args) < 4 {
			return nil, engine.ErrSyntax
		}
		mkStream := false
		for _, a := range args[4:] {
			if upperArg(a) == "MKSTREAM" {
				mkStream = true
			}
		}
		var start streams.ID
		var err error
		if string(args[3]) == "$" {
			meta, merr := d.Streams.XInfoStream(ctx, tx, cs.DB, args[1])
			if merr != nil {
				return nil, merr
			}
			start = meta.Last
		} else {
			start, err = streams.ParseID(string(args[3]), 0)
			if err != nil {
				return nil, err
			}
		}
		if err := d.Streams.XGroupCreate(ctx, tx, cs.DB, args[1], args[2], start, mkStream); err != nil {
			return nil, err
		}
		return resp.OK(), nil

	case "DESTROY":
		if len(args) != 3 {
			return nil, engine.ErrSyntax
		}
		return d.Streams.XGroupDestroy(ctx, tx, cs.DB, args[1], args[2])

	case "SETID":
		if len(args) != 4 {
			return nil, engine.ErrSyntax
		}
		id, err := streams.ParseID(string(args[3]), 0)
		if err != nil {
			return nil, err
		}
		if err := d.Streams.XGroupSetID(ctx, tx, cs.DB, args[1], args[2], id); err != nil {
			return nil, err
		}
		return resp.OK(), nil

	case "CREATECONSUMER":
		if len(args) != 4 {
			return nil, engine.ErrSyntax
		}
		return d.Streams.XGroupCreateConsumer(ctx, tx, cs.DB, args[1], args[2], args[3])

	case "DELCONSUMER":
		if len(args) != 4 {
			return nil, engine.ErrSyntax
		}
		return d.Streams.XGroupDelConsumer(ctx, tx, cs.DB, args[1], args[2], args[3])

	default:
		return nil, engine.ErrSyntax
	}
}

// cmdXReadGroup implements the `XREADGROUP GROUP g c COUNT n STREAMS key id` form; blocking
// (spec §4.H "BLOCK") is handled by internal/blocking at the server layer, not here.
func (d *Dispatcher) cmdXReadGroup(ctx context.Context, tx storage.Tx, cs *ConnState, args [][]byte) (any, error) {
	if upperArg(args[0]) != "GROUP" {
		return nil, engine.ErrSyntax
	}
	group, consumer := args[1], args[2]
	count := int64(0)
	i := 3
	for i < len(args) && upperArg(args[i]) != "STREAMS" {
		switch upperArg(args[i]) {
		case "COUNT":
			i++
			if i >= len(args) {
				return nil, engine.ErrSyntax
			}
			n, err := strconv.ParseInt(string(args[i]), 10, 64)
			if err != nil {
				return nil, engine.ErrNotInt
			}
			count = n
		case "NOACK":
		default:
			return nil, engine.ErrSyntax
		}
		i++
	}
	if i >= len(args) || upperArg(args[i]) != "STREAMS" {
		return nil, engine.ErrSyntax
	}
	rest := args[i+1:]
	if len(rest)%2 != 0 {
		return nil, engine.ErrSyntax
	}
	n := len(rest) / 2
	results := make([]resp.Reply, 0, n)
	for k := 0; k < n; k++ {
		name := rest[k]
		entries, err := d.Streams.XReadGroup(ctx, tx, cs.DB, name, group, consumer, count, engine.NowMs())
		if err != nil {
			return nil, err
		}
		results = append(results, resp.Array(resp.BulkBytes(name), resp.Array(entriesReply(entries)...)))
	}
	return results, nil
}

func (d *Dispatcher) cmdXAck(ctx context.Context, tx storage.Tx, cs *ConnState, args [][]byte) (any, error) {
	ids := make([]streams.ID, len(args)-2)
	for i, a := range args[2:] {
		id, err := streams.ParseID(string(a), 0)
		if err != nil {
			return nil, err
		}
		ids[i] = id
	}
	return d.Streams.XAck(ctx, tx, cs.DB, args[0], args[1], ids)
}

func (d *Dispatcher) cmdXPending(ctx context.Context, tx storage.Tx, cs *ConnState, args [][]byte) (any, error) {
	name, group := args[0], args[1]
	if len(args) == 2 {
		s, err := d.Streams.XPending(ctx, tx, cs.DB, name, group)
		if err != nil {
			return nil, err
		}
		perConsumer := make([]resp.Reply, 0, len(s.Consumers))
		for name, n := range s.Consumers {
			perConsumer = append(perConsumer, resp.Array(resp.BulkString(name), resp.BulkString(strconv.FormatInt(n, 10))))
		}
		if s.Count == 0 {
			return resp.Array(resp.Int(0), resp.NullBulk(), resp.NullBulk(), resp.NullArray()), nil
		}
		return resp.Array(
			resp.Int(s.Count),
			resp.BulkString(s.MinID.String()),
			resp.BulkString(s.MaxID.String()),
			resp.Array(perConsumer...),
		), nil
	}
	start, err := streams.ParseRangeStart(string(args[2]))
	if err != nil {
		return nil, err
	}
	end, err := streams.ParseRangeEnd(string(args[3]))
	if err != nil {
		return nil, err
	}
	count, err := strconv.ParseInt(string(args[4]), 10, 64)
	if err != nil {
		return nil, engine.ErrNotInt
	}
	var consumer []byte
	if len(args) > 5 {
		consumer = args[5]
	}
	pel, err := d.Streams.XPendingRange(ctx, tx, cs.DB, name, group, start, end, count, consumer)
	if err != nil {
		return nil, err
	}
	items := make([]resp.Reply, len(pel))
	for i, p := range pel {
		items[i] = resp.Array(
			resp.BulkString(p.ID.String()),
			resp.BulkBytes(p.Consumer),
			resp.Int(p.DeliveryTime),
			resp.Int(p.DeliveryCount),
		)
	}
	return items, nil
}

func (d *Dispatcher) cmdXClaim(ctx context.Context, tx storage.Tx, cs *ConnState, args [][]byte) (any, error) {
	name, group, consumer := args[0], args[1], args[2]
	minIdleMs, err := strconv.ParseInt(string(args[3]), 10, 64)
	if err != nil {
		return nil, engine.ErrNotInt
	}
	var ids []streams.ID
	i := 4
	for i < len(args) {
		id, perr := streams.ParseID(string(args[i]), 0)
		if perr != nil {
			break
		}
		ids = append(ids, id)
		i++
	}
	justID := false
	for _, a := range args[i:] {
		if upperArg(a) == "JUSTID" {
			justID = true
		}
	}
	entries, err := d.Streams.XClaim(ctx, tx, cs.DB, name, group, consumer, ids, minIdleMs, engine.NowMs(), justID)
	if err != nil {
		return nil, err
	}
	if justID {
		out := make([]resp.Reply, len(entries))
		for i, e := range entries {
			out[i] = resp.BulkString(e.ID.String())
		}
		return out, nil
	}
	return entriesReply(entries), nil
}

func (d *Dispatcher) cmdXAutoClaim(ctx context.Context, tx storage.Tx, cs *ConnState, args [][]byte) (any, error) {
	name, group, consumer := args[0], args[1], args[2]
	minIdleMs, err := strconv.ParseInt(string(args[3]), 10, 64)
	if err != nil {
		return nil, engine.ErrNotInt
	}
	cursor, err := streams.ParseID(string(args[4]), 0)
	if err != nil {
		return nil, err
	}
	count := int64(100)
	for i := 5; i < len(args); i++ {
		if upperArg(args[i]) == "COUNT" && i+1 < len(args) {
			count, err = strconv.ParseInt(string(args[i+1]), 10, 64)
			if err != nil {
				return nil, engine.ErrNotInt
			}
		}
	}
	next, entries, deleted, err := d.Streams.XAutoClaim(ctx, tx, cs.DB, name, group, consumer, minIdleMs, cursor, count, engine.NowMs())
	if err != nil {
		return nil, err
	}
	deletedReply := make([]resp.Reply, len(deleted))
	for i, id := range deleted {
		deletedReply[i] = resp.BulkString(id.String())
	}
	return []resp.Reply{
		resp.BulkString(next.String()),
		resp.Array(entriesReply(entries)...),
		resp.Array(deletedReply...),
	}, nil
}

func (d *Dispatcher) cmdXInfo(ctx context.Context, tx storage.Tx, cs *ConnState, args [][]byte) (any, error) {
	switch upperArg(args[0]) {
	case "STREAM":
		if len(args) != 2 {
			return nil, engine.ErrSyntax
		}
		meta, err := d.Streams.XInfoStream(ctx, tx, cs.DB, args[1])
		if err != nil {
			return nil, err
		}
		return resp.Array(
			resp.BulkString("length"), resp.Int(meta.Length),
			resp.BulkString("last-generated-id"), resp.BulkString(meta.Last.String()),
			resp.BulkString("first-entry-id"), resp.BulkString(meta.First.String()),
			resp.BulkString("max-deleted-entry-id"), resp.BulkString(meta.MaxDeleted.String()),
		), nil

	case "GROUPS":
		if len(args) != 2 {
			return nil, engine.ErrSyntax
		}
		groups, err := d.Streams.XInfoGroups(ctx, tx, cs.DB, args[1])
		if err != nil {
			return nil, err
		}
		items := make([]resp.Reply, len(groups))
		for i, g := range groups {
			items[i] = resp.Array(
				resp.BulkString("name"), resp.BulkBytes(g.Name),
				resp.BulkString("last-delivered-id"), resp.BulkString(g.LastDelivered.String()),
				resp.BulkString("pel-count"), resp.Int(g.PelCount),
			)
		}
		return items, nil

	case "CONSUMERS":
		if len(args) != 3 {
			return nil, engine.ErrSyntax
		}
		consumers, err := d.Streams.XInfoConsumers(ctx, tx, cs.DB, args[1], args[2])
		if err != nil {
			return nil, err
		}
		items := make([]resp.Reply, len(consumers))
		for i, c := range consumers {
			items[i] = resp.Array(
				resp.BulkString("name"), resp.BulkBytes(c.Name),
				resp.BulkString("pending"), resp.Int(c.PendingCount),
				resp.BulkString("idle"), resp.Int(c.IdleSinceMs),
			)
		}
		return items, nil

	default:
		return nil, engine.ErrSyntax
	}
}
