package strings

import (
	"context"

	"github.com/redlite/redlite/internal/engine"
	"github.com/redlite/redlite/internal/storage"
)

// SetBit sets bit # (0-indexed from the most significant bit of byte 0) to 0 or 1, growing the
// string with zero bytes if needed, and returns the bit's previous value.
func (e *Engine) SetBit(ctx context.Context, tx storage.Tx, db engine.DBIndex, name []byte, bit int64, value int) (int, error) {
	if bit < 0 {
		return 0, engine.ErrOutOfRange
	}
	byteIdx := bit / 8
	bitIdx := uint(7 - bit%8)

	rec, err := e.Dir.ResolveTyped(ctx, tx, db, name, engine.KindString)
	if err != nil {
		return 0, err
	}
	var cur []byte
	var keyID engine.KeyID
	if rec == nil {
		keyID, err = e.Dir.Create(ctx, tx, db, name, engine.KindString)
		if err != nil {
			return 0, err
		}
		if _, err := tx.Exec(ctx, `INSERT INTO strings (key_id, value) VALUES (?, ?)`, int64(keyID), []byte{}); err != nil {
			return 0, err
		}
	} else {
		keyID = rec.KeyID
		cur, err = e.readValue(ctx, tx, keyID)
		if err != nil {
			return 0, err
		}
	}

	if int64(len(cur)) <= byteIdx {
		grown := make([]byte, byteIdx+1)
		copy(grown, cur)
		cur = grown
	}

	prev := 0
	if cur[byteIdx]&(1<<bitIdx) != 0 {
		prev = 1
	}
	if value != 0 {
		cur[byteIdx] |= 1 << bitIdx
	} else {
		cur[byteIdx] &^= 1 << bitIdx
	}

	if _, err := tx.Exec(ctx, `UPDATE strings SET value = ? WHERE key_id = ?`, cur, int64(keyID)); err != nil {
		return 0, err
	}
	if err := e.Dir.TouchUpdated(ctx, tx, keyID); err != nil {
		return 0, err
	}
	return prev, nil
}

// GetBit reads bit # from the value, 0 if out of range or absent.
func (e *Engine) GetBit(ctx context.Context, tx storage.Tx, db engine.DBIndex, name []byte, bit int64) (int, error) {
	if bit < 0 {
		return 0, engine.ErrOutOfRange
	}
	v, ok, err := e.Get(ctx, tx, db, name)
	if err != nil || !ok {
		return 0, err
	}
	byteIdx := bit / 8
	bitIdx := uint(7 - bit%8)
	if byteIdx >= int64(len(v)) {
		return 0, nil
	}
	if v[byteIdx]&(1<<bitIdx) != 0 {
		return 1, nil
	}
	return 0, nil
}

// BitCount counts set bits in value[start:end] (inclusive, negative-from-end indices, Redis
// clamping); with no range given, callers should pass start=0, end=-1.
func (e *Engine) BitCount(ctx context.Context, tx storage.Tx, db engine.DBIndex, name []byte, start, end int64) (int64, error) {
	v, ok, err := e.Get(ctx, tx, db, name)
	if err != nil || !ok {
		return 0, err
	}
	s, en := clampRange(start, end, int64(len(v)))
	if s > en || s >= int64(len(v)) {
		return 0, nil
	}
	var count int64
	for _, b := range v[s : en+1] {
		count += int64(popcount(b))
	}
	return count, nil
}

func popcount(b byte) int {
	n := 0
	for b != 0 {
		n += int(b & 1)
		b >>= 1
	}
	return n
}

// BitOp is the AND/OR/XOR/NOT operator for BITOP.
type BitOp int

const (
	BitAnd BitOp = iota
	BitOr
	BitXor
	BitNot
)

// BitOpApply computes op over sources (NOT requires exactly one source) and stores the result
// under dest, returning the result's length. Shorter sources are zero-padded to the longest.
func (e *Engine) BitOpApply(ctx context.Context, tx storage.Tx, db engine.DBIndex, op BitOp, dest []byte, sources [][]byte) (int64, error) {
	if op == BitNot && len(sources) != 1 {
		return 0, engine.ErrSyntax
	}

	values := make([][]byte, len(sources))
	maxLen := 0
	for i, s := range sources {
		v, _, err := e.Get(ctx, tx, db, s)
		if err != nil {
			return 0, err
		}
		values[i] = v
		if len(v) > maxLen {
			maxLen = len(v)
		}
	}

	result := make([]byte, maxLen)
	switch op {
	case BitNot:
		src := values[0]
		for i := 0; i < maxLen; i++ {
			var b byte
			if i < len(src) {
				b = src[i]
			}
			result[i] = ^b
		}
	case BitAnd:
		for i := range result {
			result[i] = 0xFF
		}
		for _, v := range values {
			for i := 0; i < maxLen; i++ {
				var b byte
				if i < len(v) {
					b = v[i]
				}
				result[i] &= b
			}
		}
	case BitOr:
		for _, v := range values {
			for i := 0; i < maxLen; i++ {
				var b byte
				if i < len(v) {
					b = v[i]
				}
				result[i] |= b
			}
		}
	case BitXor:
		for _, v := range values {
			for i := 0; i < maxLen; i++ {
				var b byte
				if i < len(v) {
					b = v[i]
				}
				result[i] ^= b
			}
		}
	}

	if _, err := e.Set(ctx, tx, db, dest, result, SetOpts{}); err != nil {
		return 0, err
	}
	return int64(len(result)), nil
}
