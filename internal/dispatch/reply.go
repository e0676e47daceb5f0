package dispatch

import (
	"errors"

	"github.com/redlite/redlite/internal/engine"
	"github.com/redlite/redlite/internal/resp"
	"github.com/redlite/redlite/internal/types/zsets"
)

// errToReply classifies a Go error onto a RESP error reply. Every sentinel in engine/errors.go
// already carries its RESP error-code prefix (WRONGTYPE, ERR, NOAUTH, ...), so the common case is
// just forwarding Error(); engine.KeyNotFoundError additionally satisfies errors.Is(err,
// engine.ErrNoSuchKey) for callers that only care about the sentinel.
func errToReply(err error) resp.Reply {
	var notFound engine.KeyNotFoundError
	if errors.As(err, &notFound) {
		return resp.Err(notFound.Error())
	}
	return resp.Err(err.Error())
}

// valueToReply converts a handler's Go return value into its RESP shape. Handlers return the
// plain type that most naturally fits the operation (bool, int64, []byte, [][]byte, ...); this
// is the one place that knows how each maps onto the wire, so MULTI/EXEC reuses it verbatim for
// every queued command's result.
func valueToReply(v any) resp.Reply {
	switch val := v.(type) {
	case nil:
		return resp.NullBulk()
	case resp.Reply:
		return val
	case bool:
		return resp.Bool(val)
	case int:
		return resp.Int(int64(val))
	case int64:
		return resp.Int(val)
	case float64:
		return resp.BulkString(formatFloat(val))
	case string:
		return resp.BulkString(val)
	case []byte:
		if val == nil {
			return resp.NullBulk()
		}
		return resp.BulkBytes(val)
	case [][]byte:
		if val == nil {
			return resp.NullArray()
		}
		items := make([]resp.Reply, len(val))
		for i, b := range val {
			if b == nil {
				items[i] = resp.NullBulk()
			} else {
				items[i] = resp.BulkBytes(b)
			}
		}
		return resp.Array(items...)
	case []string:
		items := make([]resp.Reply, len(val))
		for i, s := range val {
			items[i] = resp.BulkString(s)
		}
		return resp.Array(items...)
	case [][2][]byte:
		items := make([]resp.Reply, 0, len(val)*2)
		for _, pair := range val {
			items = append(items, resp.BulkBytes(pair[0]), resp.BulkBytes(pair[1]))
		}
		return resp.Array(items...)
	case []zsets.Member:
		items := make([]resp.Reply, 0, len(val)*2)
		for _, m := range val {
			items = append(items, resp.BulkBytes(m.Value), resp.BulkString(formatFloat(m.Score)))
		}
		return resp.Array(items...)
	case []resp.Reply:
		return resp.Array(val...)
	default:
		return resp.Err("ERR internal: unrepresentable reply value")
	}
}

func formatFloat(f float64) string {
	return zsets.FormatScore(f)
}
