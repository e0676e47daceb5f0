// Package resp is the wire collaborator (spec §6.1): it knows RESP2/RESP3 framing and nothing
// about command semantics. internal/dispatch builds Reply values and internal/server/internal/admin
// hand them to WriteReply; neither has to know the byte-level protocol itself. Framing and
// networking are delegated to github.com/tidwall/redcon, the RESP server library already
// present in the example pack (pkg/redisserver) — this package adapts redlite's own Reply/Command
// shapes onto redcon's connection and writer primitives instead of re-implementing RESP parsing
// by hand.
package resp

import (
	"strings"

	"github.com/tidwall/redcon"
)

// Kind tags the shape of one Reply (spec §6.1: SimpleString, Error, Integer, Bulk, Array, plus
// RESP3 Double/Map/Set/Push for XINFO/CLIENT INFO-style structured replies).
type Kind int

const (
	KindSimpleString Kind = iota
	KindError
	KindInteger
	KindBulk
	KindArray
	KindDouble
	KindMap
	KindSet
	KindPush
)

// Reply is one RESP value, returned by internal/dispatch for every command.
type Reply struct {
	Kind   Kind
	Str    string  // SimpleString, Error
	Int    int64   // Integer
	Double float64 // Double (RESP3; degrades to Bulk string on RESP2 connections)
	Bulk   []byte  // Bulk; nil means a null bulk reply ($-1)
	Items  []Reply // Array/Set/Push elements, or Map entries flattened key,value,key,value...
}

// OK is the canonical "+OK" simple string reply.
func OK() Reply { return Simple("OK") }

// Simple builds a RESP simple string (+...).
func Simple(s string) Reply { return Reply{Kind: KindSimpleString, Str: s} }

// Err builds a RESP error reply (-...). msg should already carry its error-code prefix
// (WRONGTYPE, ERR, NOTINT, ...) the way spec §7's error vocabulary does.
func Err(msg string) Reply { return Reply{Kind: KindError, Str: msg} }

// Int builds a RESP integer reply.
func Int(n int64) Reply { return Reply{Kind: KindInteger, Int: n} }

// Bool encodes a boolean the Redis way: integer 1 or 0.
func Bool(b bool) Reply {
	if b {
		return Int(1)
	}
	return Int(0)
}

// BulkString builds a RESP bulk string reply from text.
func BulkString(s string) Reply { return Reply{Kind: KindBulk, Bulk: []byte(s)} }

// BulkBytes builds a RESP bulk string reply from raw bytes.
func BulkBytes(b []byte) Reply { return Reply{Kind: KindBulk, Bulk: b} }

// NullBulk is the RESP "no such value" bulk reply ($-1).
func NullBulk() Reply { return Reply{Kind: KindBulk, Bulk: nil} }

// Array builds a RESP array reply.
func Array(items ...Reply) Reply { return Reply{Kind: KindArray, Items: items} }

// NullArray is the RESP "no such collection" array reply (*-1).
func NullArray() Reply { return Reply{Kind: KindArray, Items: nil} }

// DoubleReply builds a RESP3 double reply (used by ZSCORE and friends under RESP3
// negotiation).
func DoubleReply(f float64) Reply { return Reply{Kind: KindDouble, Double: f} }

// MapReply builds a RESP3 map reply from flattened key,value,... pairs (XINFO STREAM, CONFIG
// GET, ...). Falls back to a flat array on RESP2 connections.
func MapReply(pairs ...Reply) Reply { return Reply{Kind: KindMap, Items: pairs} }

// SetReply builds a RESP3 set reply (SMEMBERS under RESP3 negotiation).
func SetReply(items ...Reply) Reply { return Reply{Kind: KindSet, Items: items} }

// PushReply builds a RESP3 out-of-band push reply (pub/sub messages under RESP3).
func PushReply(items ...Reply) Reply { return Reply{Kind: KindPush, Items: items} }

// Command is dispatch's view of one parsed request: the verb (uppercased) plus its raw argument
// bytes, independent of whether it arrived over redcon's TCP connection or an embedded
// in-process call.
type Command struct {
	Name string
	Args [][]byte
}

// FromRedcon adapts a redcon.Command into a resp.Command, uppercasing the verb the way Redis
// commands dispatch case-insensitively (spec §4.J "Command table keyed by uppercase name").
func FromRedcon(cmd redcon.Command) Command {
	if len(cmd.Args) == 0 {
		return Command{}
	}
	return Command{
		Name: strings.ToUpper(string(cmd.Args[0])),
		Args: cmd.Args[1:],
	}
}
