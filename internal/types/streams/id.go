// Package streams implements the stream type engine (spec §4.D.6) and its consumer-group state
// machine (spec §4.H): append-only, strictly-increasing (ms, seq) entries stored one row per
// entry in `stream_entries`, with per-key metadata in `stream_meta`.
package streams

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/redlite/redlite/internal/engine"
)

// ID is a stream entry identifier: a (ms, seq) pair, strictly increasing per stream (spec §3.2
// invariant 4).
type ID struct {
	Ms  uint64
	Seq uint64
}

// Zero is the smallest possible ID.
var Zero = ID{0, 0}

// Max is the largest possible ID, used as the "+" range bound.
var Max = ID{Ms: ^uint64(0), Seq: ^uint64(0)}

// Compare returns -1, 0, or 1 the way standard comparators do.
func (a ID) Compare(b ID) int {
	switch {
	case a.Ms < b.Ms:
		return -1
	case a.Ms > b.Ms:
		return 1
	case a.Seq < b.Seq:
		return -1
	case a.Seq > b.Seq:
		return 1
	default:
		return 0
	}
}

// Less reports a < b.
func (a ID) Less(b ID) bool { return a.Compare(b) < 0 }

// String renders "ms-seq", the canonical wire form.
func (id ID) String() string {
	return strconv.FormatUint(id.Ms, 10) + "-" + strconv.FormatUint(id.Seq, 10)
}

// ParseID parses a fully-qualified or ms-only explicit ID ("ms-seq" or "ms", seq defaults to 0
// for the min-side or per defaultSeq for the max-side of a range).
func ParseID(s string, defaultSeq uint64) (ID, error) {
	parts := strings.SplitN(s, "-", 2)
	ms, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return ID{}, fmt.Errorf("%w: invalid stream ID", engine.ErrSyntax)
	}
	if len(parts) == 1 {
		return ID{Ms: ms, Seq: defaultSeq}, nil
	}
	seq, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return ID{}, fmt.Errorf("%w: invalid stream ID", engine.ErrSyntax)
	}
	return ID{Ms: ms, Seq: seq}, nil
}

// ParseRangeStart parses the left bound of an XRANGE-style range: "-" means Zero, otherwise an
// explicit ID defaulting a bare ms to seq=0.
func ParseRangeStart(s string) (ID, error) {
	if s == "-" {
		return Zero, nil
	}
	return ParseID(s, 0)
}

// ParseRangeEnd parses the right bound: "+" means Max, otherwise an explicit ID defaulting a bare
// ms to seq=MaxUint64 so "XRANGE s 5 5" still matches every entry with ms=5.
func ParseRangeEnd(s string) (ID, error) {
	if s == "+" {
		return Max, nil
	}
	return ParseID(s, ^uint64(0))
}
