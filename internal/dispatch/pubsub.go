package dispatch

import (
	"context"

	"github.com/redlite/redlite/internal/engine"
	"github.com/redlite/redlite/internal/resp"
	"github.com/redlite/redlite/internal/storage"
)

func (d *Dispatcher) registerPubSub() {
	d.register(command{name: "SUBSCRIBE", minArgs: 1, maxArgs: -1, readOnly: true, run: d.cmdSubscribe})
	d.register(command{name: "UNSUBSCRIBE", minArgs: 0, maxArgs: -1, readOnly: true, run: d.cmdUnsubscribe})
	d.register(command{name: "PSUBSCRIBE", minArgs: 1, maxArgs: -1, readOnly: true, run: d.cmdPSubscribe})
	d.register(command{name: "PUNSUBSCRIBE", minArgs: 0, maxArgs: -1, readOnly: true, run: d.cmdPUnsubscribe})
	d.register(command{name: "PUBLISH", minArgs: 2, maxArgs: 2, readOnly: true, run: d.cmdPublish})
	d.register(command{name: "PUBSUB", minArgs: 1, maxArgs: -1, readOnly: true, run: d.cmdPubSub})
}

// subscribeConfirmation builds one (kind, channel, subscription-count) reply the way RESP
// confirms each (P)SUBSCRIBE/(P)UNSUBSCRIBE individually (spec §4.G).
func subscribeConfirmation(kind, channel string, count int) resp.Reply {
	return resp.Array(resp.BulkString(kind), resp.BulkString(channel), resp.Int(int64(count)))
}

func (d *Dispatcher) cmdSubscribe(ctx context.Context, tx storage.Tx, cs *ConnState, args [][]byte) (any, error) {
	confirmations := make([]resp.Reply, 0, len(args))
	for _, ch := range args {
		channel := string(ch)
		d.Broker.Subscribe(channel, cs.Sub)
		cs.addChannel(channel)
		confirmations = append(confirmations, subscribeConfirmation("subscribe", channel, cs.channelCount()))
	}
	return confirmations, nil
}

func (d *Dispatcher) cmdUnsubscribe(ctx context.Context, tx storage.Tx, cs *ConnState, args [][]byte) (any, error) {
	if len(args) == 0 {
		d.Broker.UnsubscribeAll(cs.Sub)
		return []resp.Reply{subscribeConfirmation("unsubscribe", "", 0)}, nil
	}
	confirmations := make([]resp.Reply, 0, len(args))
	for _, ch := range args {
		channel := string(ch)
		d.Broker.Unsubscribe(channel, cs.Sub)
		cs.removeChannel(channel)
		confirmations = append(confirmations, subscribeConfirmation("unsubscribe", channel, cs.channelCount()))
	}
	return confirmations, nil
}

func (d *Dispatcher) cmdPSubscribe(ctx context.Context, tx storage.Tx, cs *ConnState, args [][]byte) (any, error) {
	confirmations := make([]resp.Reply, 0, len(args))
	for _, p := range args {
		pattern := string(p)
		d.Broker.PSubscribe(pattern, cs.Sub)
		cs.addPattern(pattern)
		confirmations = append(confirmations, subscribeConfirmation("psubscribe", pattern, cs.channelCount()))
	}
	return confirmations, nil
}

func (d *Dispatcher) cmdPUnsubscribe(ctx context.Context, tx storage.Tx, cs *ConnState, args [][]byte) (any, error) {
	if len(args) == 0 {
		d.Broker.UnsubscribeAll(cs.Sub)
		return []resp.Reply{subscribeConfirmation("punsubscribe", "", 0)}, nil
	}
	confirmations := make([]resp.Reply, 0, len(args))
	for _, p := range args {
		pattern := string(p)
		d.Broker.PUnsubscribe(pattern, cs.Sub)
		cs.removePattern(pattern)
		confirmations = append(confirmations, subscribeConfirmation("punsubscribe", pattern, cs.channelCount()))
	}
	return confirmations, nil
}

func (d *Dispatcher) cmdPublish(ctx context.Context, tx storage.Tx, cs *ConnState, args [][]byte) (any, error) {
	n := d.Broker.Publish(string(args[0]), args[1])
	return int64(n), nil
}

func (d *Dispatcher) cmdPubSub(ctx context.Context, tx storage.Tx, cs *ConnState, args [][]byte) (any, error) {
	switch upperArg(args[0]) {
	case "CHANNELS":
		pattern := "*"
		if len(args) > 1 {
			pattern = string(args[1])
		}
		return d.Broker.Channels(pattern), nil
	case "NUMSUB":
		items := make([]resp.Reply, 0, len(args[1:])*2)
		for _, ch := range args[1:] {
			items = append(items, resp.BulkBytes(ch), resp.Int(int64(d.Broker.NumSub(string(ch)))))
		}
		return items, nil
	case "NUMPAT":
		return int64(d.Broker.PatternCount()), nil
	default:
		return nil, engine.ErrSyntax
	}
}
