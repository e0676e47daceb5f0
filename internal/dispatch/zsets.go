package dispatch

import (
	"context"
	"math"
	"strconv"

	"github.com/redlite/redlite/internal/engine"
	"github.com/redlite/redlite/internal/storage"
	"github.com/redlite/redlite/internal/types/zsets"
)

func (d *Dispatcher) registerZSets() {
	d.register(command{name: "ZADD", minArgs: 3, maxArgs: -1, run: d.cmdZAdd})
	d.register(command{name: "ZREM", minArgs: 2, maxArgs: -1, run: d.cmdZRem})
	d.register(command{name: "ZSCORE", minArgs: 2, maxArgs: 2, readOnly: true, run: d.cmdZScore})
	d.register(command{name: "ZMSCORE", minArgs: 2, maxArgs: -1, readOnly: true, run: d.cmdZMScore})
	d.register(command{name: "ZCARD", minArgs: 1, maxArgs: 1, readOnly: true, run: d.cmdZCard})
	d.register(command{name: "ZINCRBY", minArgs: 3, maxArgs: 3, run: d.cmdZIncrBy})
	d.register(command{name: "ZRANGE", minArgs: 3, maxArgs: 3, readOnly: true, run: d.cmdZRange})
	d.register(command{name: "ZREVRANGE", minArgs: 3, maxArgs: 3, readOnly: true, run: d.cmdZRevRange})
	d.register(command{name: "ZRANGEBYSCORE", minArgs: 3, maxArgs: -1, readOnly: true, run: d.cmdZRangeByScore})
	d.register(command{name: "ZCOUNT", minArgs: 3, maxArgs: 3, readOnly: true, run: d.cmdZCount})
	d.register(command{name: "ZRANK", minArgs: 2, maxArgs: 2, readOnly: true, run: d.cmdZRank})
	d.register(command{name: "ZREVRANK", minArgs: 2, maxArgs: 2, readOnly: true, run: d.cmdZRevRank})
	d.register(command{name: "ZREMRANGEBYRANK", minArgs: 3, maxArgs: 3, run: d.cmdZRemRangeByRank})
	d.register(command{name: "ZREMRANGEBYSCORE", minArgs: 3, maxArgs: 3, run: d.cmdZRemRangeByScore})
	d.register(command{name: "ZPOPMIN", minArgs: 1, maxArgs: 2, run: d.cmdZPopMin})
	d.register(command{name: "ZPOPMAX", minArgs: 1, maxArgs: 2, run: d.cmdZPopMax})
}

func (d *Dispatcher) zsetPostWrite(ctx context.Context, tx storage.Tx, cs *ConnState, name []byte, op string) {
	rec, err := d.Dir.Resolve(ctx, tx, cs.DB, name)
	if err != nil || rec == nil {
		return
	}
	d.recordHistory(ctx, tx, rec.KeyID, cs.DB, op, engine.KindZSet, nil)
	d.touchKey(rec.KeyID, cs.DB)
	if (op == "ZADD" || op == "ZINCRBY") && d.Blocking != nil {
		d.Blocking.Notify(cs.DB, name, 1)
	}
}

func parseScore(b []byte) (float64, error) {
	switch upperArg(b) {
	case "+INF", "INF":
		return math.Inf(1), nil
	case "-INF":
		return math.Inf(-1), nil
	}
	f, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return 0, engine.ErrNotFloat
	}
	return f, nil
}

func (d *Dispatcher) cmdZAdd(ctx context.Context, tx storage.Tx, cs *ConnState, args [][]byte) (any, error) {
	var opts zsets.AddOpts
	i := 1
	for i < len(args) {
		switch upperArg(args[i]) {
		case "NX":
			opts.NX = true
		case "XX":
			opts.XX = true
		case "GT":
			opts.GT = true
		case "LT":
			opts.LT = true
		case "CH":
			opts.CH = true
		case "INCR":
			opts.Incr = true
		default:
			goto membersLoop
		}
		i++
	}
membersLoop:
	rest := args[i:]
	if len(rest) == 0 || len(rest)%2 != 0 {
		return nil, engine.ErrSyntax
	}
	members := make([]zsets.Member, 0, len(rest)/2)
	for j := 0; j < len(rest); j += 2 {
		score, err := parseScore(rest[j])
		if err != nil {
			return nil, err
		}
		members = append(members, zsets.Member{Value: rest[j+1], Score: score})
	}

	added, newScore, ok, err := d.ZSets.ZAdd(ctx, tx, cs.DB, args[0], members, opts)
	if err != nil {
		return nil, err
	}
	d.zsetPostWrite(ctx, tx, cs, args[0], "ZADD")
	if opts.Incr {
		if !ok {
			return nil, nil
		}
		return newScore, nil
	}
	return added, nil
}

func (d *Dispatcher) cmdZRem(ctx context.Context, tx storage.Tx, cs *ConnState, args [][]byte) (any, error) {
	n, err := d.ZSets.ZRem(ctx, tx, cs.DB, args[0], args[1:])
	if err != nil {
		return nil, err
	}
	if n > 0 {
		d.zsetPostWrite(ctx, tx, cs, args[0], "ZREM")
	}
	return n, nil
}

func (d *Dispatcher) cmdZScore(ctx context.Context, tx storage.Tx, cs *ConnState, args [][]byte) (any, error) {
	f, ok, err := d.ZSets.ZScore(ctx, tx, cs.DB, args[0], args[1])
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return f, nil
}

func (d *Dispatcher) cmdZMScore(ctx context.Context, tx storage.Tx, cs *ConnState, args [][]byte) (any, error) {
	scores, oks, err := d.ZSets.ZMScore(ctx, tx, cs.DB, args[0], args[1:])
	if err != nil {
		return nil, err
	}
	items := make([][]byte, len(scores))
	for i, ok := range oks {
		if ok {
			items[i] = []byte(zsets.FormatScore(scores[i]))
		}
	}
	return items, nil
}

func (d *Dispatcher) cmdZCard(ctx context.Context, tx storage.Tx, cs *ConnState, args [][]byte) (any, error) {
	return d.ZSets.ZCard(ctx, tx, cs.DB, args[0])
}

func (d *Dispatcher) cmdZIncrBy(ctx context.Context, tx storage.Tx, cs *ConnState, args [][]byte) (any, error) {
	delta, err := parseScore(args[1])
	if err != nil {
		return nil, err
	}
	f, err := d.ZSets.ZIncrBy(ctx, tx, cs.DB, args[0], args[2], delta)
	if err != nil {
		return nil, err
	}
	d.zsetPostWrite(ctx, tx, cs, args[0], "ZINCRBY")
	return f, nil
}

func (d *Dispatcher) rangeReply(members []zsets.Member, withScores bool) any {
	if !withScores {
		items := make([][]byte, len(members))
		for i, m := range members {
			items[i] = m.Value
		}
		return items
	}
	return members
}

func (d *Dispatcher) cmdZRange(ctx context.Context, tx storage.Tx, cs *ConnState, args [][]byte) (any, error) {
	start, stop, err := parseIndexPair(args[1], args[2])
	if err != nil {
		return nil, err
	}
	members, err := d.ZSets.ZRange(ctx, tx, cs.DB, args[0], start, stop, false)
	if err != nil {
		return nil, err
	}
	return d.rangeReply(members, false), nil
}

func (d *Dispatcher) cmdZRevRange(ctx context.Context, tx storage.Tx, cs *ConnState, args [][]byte) (any, error) {
	start, stop, err := parseIndexPair(args[1], args[2])
	if err != nil {
		return nil, err
	}
	members, err := d.ZSets.ZRange(ctx, tx, cs.DB, args[0], start, stop, true)
	if err != nil {
		return nil, err
	}
	return d.rangeReply(members, false), nil
}

func parseScoreRange(min, max []byte) (zsets.ScoreRange, error) {
	var r zsets.ScoreRange
	lo, exclLo := trimExclusive(min)
	hi, exclHi := trimExclusive(max)
	var err error
	r.Min, err = parseScore(lo)
	if err != nil {
		return r, err
	}
	r.Max, err = parseScore(hi)
	if err != nil {
		return r, err
	}
	r.MinExcl = exclLo
	r.MaxExcl = exclHi
	return r, nil
}

func trimExclusive(b []byte) ([]byte, bool) {
	if len(b) > 0 && b[0] == '(' {
		return b[1:], true
	}
	return b, false
}

func (d *Dispatcher) cmdZRangeByScore(ctx context.Context, tx storage.Tx, cs *ConnState, args [][]byte) (any, error) {
	r, err := parseScoreRange(args[1], args[2])
	if err != nil {
		return nil, err
	}
	withScores := false
	for _, a := range args[3:] {
		if upperArg(a) == "WITHSCORES" {
			withScores = true
		}
	}
	members, err := d.ZSets.ZRangeByScore(ctx, tx, cs.DB, args[0], r)
	if err != nil {
		return nil, err
	}
	return d.rangeReply(members, withScores), nil
}

func (d *Dispatcher) cmdZCount(ctx context.Context, tx storage.Tx, cs *ConnState, args [][]byte) (any, error) {
	r, err := parseScoreRange(args[1], args[2])
	if err != nil {
		return nil, err
	}
	return d.ZSets.ZCount(ctx, tx, cs.DB, args[0], r)
}

func (d *Dispatcher) cmdZRank(ctx context.Context, tx storage.Tx, cs *ConnState, args [][]byte) (any, error) {
	rank, ok, err := d.ZSets.ZRank(ctx, tx, cs.DB, args[0], args[1])
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return rank, nil
}

func (d *Dispatcher) cmdZRevRank(ctx context.Context, tx storage.Tx, cs *ConnState, args [][]byte) (any, error) {
	rank, ok, err := d.ZSets.ZRevRank(ctx, tx, cs.DB, args[0], args[1])
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return rank, nil
}

func (d *Dispatcher) cmdZRemRangeByRank(ctx context.Context, tx storage.Tx, cs *ConnState, args [][]byte) (any, error) {
	start, stop, err := parseIndexPair(args[1], args[2])
	if err != nil {
		return nil, err
	}
	n, err := d.ZSets.ZRemRangeByRank(ctx, tx, cs.DB, args[0], start, stop)
	if err != nil {
		return nil, err
	}
	if n > 0 {
		d.zsetPostWrite(ctx, tx, cs, args[0], "ZREMRANGEBYRANK")
	}
	return n, nil
}

func (d *Dispatcher) cmdZRemRangeByScore(ctx context.Context, tx storage.Tx, cs *ConnState, args [][]byte) (any, error) {
	r, err := parseScoreRange(args[1], args[2])
	if err != nil {
		return nil, err
	}
	n, err := d.ZSets.ZRemRangeByScore(ctx, tx, cs.DB, args[0], r)
	if err != nil {
		return nil, err
	}
	if n > 0 {
		d.zsetPostWrite(ctx, tx, cs, args[0], "ZREMRANGEBYSCORE")
	}
	return n, nil
}

func (d *Dispatcher) cmdZPopMin(ctx context.Context, tx storage.Tx, cs *ConnState, args [][]byte) (any, error) {
	count, _, err := parsePopCount(args)
	if err != nil {
		return nil, err
	}
	members, err := d.ZSets.ZPopMin(ctx, tx, cs.DB, args[0], count)
	if err != nil {
		return nil, err
	}
	if len(members) > 0 {
		d.zsetPostWrite(ctx, tx, cs, args[0], "ZPOPMIN")
	}
	return members, nil
}

func (d *Dispatcher) cmdZPopMax(ctx context.Context, tx storage.Tx, cs *ConnState, args [][]byte) (any, error) {
	count, _, err := parsePopCount(args)
	if err != nil {
		return nil, err
	}
	members, err := d.ZSets.ZPopMax(ctx, tx, cs.DB, args[0], count)
	if err != nil {
		return nil, err
	}
	if len(members) > 0 {
		d.zsetPostWrite(ctx, tx, cs, args[0], "ZPOPMAX")
	}
	return members, nil
}
