package resp

import (
	"fmt"
	"strconv"

	"github.com/tidwall/redcon"
)

// WriteReply serializes r onto conn using redcon's RESP2 writer methods for the verbs it
// exposes directly, and hand-encoded raw RESP3 frames (spec §6.1) for the four shapes redcon
// has no dedicated writer for: Double, Map, Set, Push. A RESP2 client never asks for those —
// dispatch only builds them for RESP3-negotiated connections (spec §6.2 HELLO).
func WriteReply(conn redcon.Conn, r Reply) {
	switch r.Kind {
	case KindSimpleString:
		conn.WriteString(r.Str)
	case KindError:
		conn.WriteError(r.Str)
	case KindInteger:
		conn.WriteInt64(r.Int)
	case KindBulk:
		if r.Bulk == nil {
			conn.WriteNull()
			return
		}
		conn.WriteBulk(r.Bulk)
	case KindArray:
		if r.Items == nil {
			conn.WriteArray(-1)
			return
		}
		conn.WriteArray(len(r.Items))
		for _, item := range r.Items {
			WriteReply(conn, item)
		}
	case KindDouble:
		conn.WriteRaw(encodeDouble(r.Double))
	case KindMap:
		conn.WriteRaw(encodeAggregateHeader('%', len(r.Items)/2))
		for _, item := range r.Items {
			WriteReply(conn, item)
		}
	case KindSet:
		conn.WriteRaw(encodeAggregateHeader('~', len(r.Items)))
		for _, item := range r.Items {
			WriteReply(conn, item)
		}
	case KindPush:
		conn.WriteRaw(encodeAggregateHeader('>', len(r.Items)))
		for _, item := range r.Items {
			WriteReply(conn, item)
		}
	default:
		conn.WriteError(fmt.Sprintf("ERR internal: unknown reply kind %d", r.Kind))
	}
}

// encodeDouble builds a RESP3 double frame (",<value>\r\n"). strconv.FormatFloat with -1
// precision round-trips exactly, matching Redis's own RESP3 double formatting.
func encodeDouble(f float64) []byte {
	return append(append([]byte{','}, strconv.FormatFloat(f, 'g', -1, 64)...), '\r', '\n')
}

// encodeAggregateHeader builds the header line of a RESP3 aggregate (map/set/push): one byte
// tag, the element count, then CRLF. Map counts pairs, not flattened items — callers pass
// len(items)/2 for maps.
func encodeAggregateHeader(tag byte, count int) []byte {
	return append(append([]byte{tag}, strconv.Itoa(count)...), '\r', '\n')
}
