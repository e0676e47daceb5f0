// Package strings implements the string type engine (spec §4.D.1): GET/SET and friends, numeric
// counters, range operations, and the bit operations, all stored as one row per key in the
// `strings` table and mediated through the Key Directory for identity and TTL.
package strings

import (
	"context"
	"fmt"
	"math"
	"strconv"

	"github.com/redlite/redlite/internal/engine"
	"github.com/redlite/redlite/internal/keydir"
	"github.com/redlite/redlite/internal/storage"
)

// Engine executes string commands against a page-store transaction.
type Engine struct {
	Dir *keydir.Directory
}

// New builds a string Engine bound to dir.
func New(dir *keydir.Directory) *Engine {
	return &Engine{Dir: dir}
}

// SetOpts mirrors the SET command's option set (spec §4.D.1).
type SetOpts struct {
	NX, XX     bool
	KeepTTL    bool
	ExpireAtMs *int64 // absolute expiry; nil means "no TTL change beyond KeepTTL handling"
	ClearTTL   bool   // SET with no TTL option and no KEEPTTL clears any existing TTL; Set derives this from ExpireAtMs/KeepTTL and does not read the field
}

func (e *Engine) readValue(ctx context.Context, tx storage.Tx, keyID engine.KeyID) ([]byte, error) {
	var v []byte
	err := tx.QueryRow(ctx, `SELECT value FROM strings WHERE key_id = ?`, int64(keyID)).Scan(&v)
	if err != nil {
		return nil, err
	}
	return v, nil
}

// Get returns the value, or (nil, false) if the key is absent.
func (e *Engine) Get(ctx context.Context, tx storage.Tx, db engine.DBIndex, name []byte) ([]byte, bool, error) {
	rec, err := e.Dir.ResolveTyped(ctx, tx, db, name, engine.KindString)
	if err != nil || rec == nil {
		return nil, false, err
	}
	v, err := e.readValue(ctx, tx, rec.KeyID)
	if err != nil {
		return nil, false, fmt.Errorf("strings: get %q: %w", name, err)
	}
	return v, true, nil
}

// Set stores value under name per opts, returning whether the write happened (false on a failed
// NX/XX precondition).
func (e *Engine) Set(ctx context.Context, tx storage.Tx, db engine.DBIndex, name, value []byte, opts SetOpts) (bool, error) {
	rec, err := e.Dir.Resolve(ctx, tx, db, name)
	if err != nil {
		return false, err
	}
	if rec != nil && rec.Kind != engine.KindString {
		// SET always overwrites regardless of existing kind, like real Redis; destroy the old value.
		if err := e.Dir.Delete(ctx, tx, rec.KeyID); err != nil {
			return false, err
		}
		rec = nil
	}
	if opts.NX && rec != nil {
		return false, nil
	}
	if opts.XX && rec == nil {
		return false, nil
	}

	var keyID engine.KeyID
	if rec == nil {
		keyID, err = e.Dir.Create(ctx, tx, db, name, engine.KindString)
		if err != nil {
			return false, err
		}
		if _, err := tx.Exec(ctx, `INSERT INTO strings (key_id, value) VALUES (?, ?)`, int64(keyID), value); err != nil {
			return false, err
		}
	} else {
		keyID = rec.KeyID
		if _, err := tx.Exec(ctx, `UPDATE strings SET value = ? WHERE key_id = ?`, value, int64(keyID)); err != nil {
			return false, err
		}
		if err := e.Dir.TouchUpdated(ctx, tx, keyID); err != nil {
			return false, err
		}
	}

	switch {
	case opts.ExpireAtMs != nil:
		if err := e.Dir.SetTTL(ctx, tx, keyID, opts.ExpireAtMs); err != nil {
			return false, err
		}
	case opts.KeepTTL:
		// leave expires_at_ms untouched
	default:
		if err := e.Dir.SetTTL(ctx, tx, keyID, nil); err != nil {
			return false, err
		}
	}
	return true, nil
}

// GetDel returns and deletes the value atomically.
func (e *Engine) GetDel(ctx context.Context, tx storage.Tx, db engine.DBIndex, name []byte) ([]byte, bool, error) {
	rec, err := e.Dir.ResolveTyped(ctx, tx, db, name, engine.KindString)
	if err != nil || rec == nil {
		return nil, false, err
	}
	v, err := e.readValue(ctx, tx, rec.KeyID)
	if err != nil {
		return nil, false, err
	}
	if err := e.Dir.Delete(ctx, tx, rec.KeyID); err != nil {
		return nil, false, err
	}
	return v, true, nil
}

// GetEx returns the value and optionally updates or clears its TTL in the same call.
func (e *Engine) GetEx(ctx context.Context, tx storage.Tx, db engine.DBIndex, name []byte, expireAtMs *int64, persist bool) ([]byte, bool, error) {
	rec, err := e.Dir.ResolveTyped(ctx, tx, db, name, engine.KindString)
	if err != nil || rec == nil {
		return nil, false, err
	}
	v, err := e.readValue(ctx, tx, rec.KeyID)
	if err != nil {
		return nil, false, err
	}
	if persist {
		if err := e.Dir.SetTTL(ctx, tx, rec.KeyID, nil); err != nil {
			return nil, false, err
		}
	} else if expireAtMs != nil {
		if err := e.Dir.SetTTL(ctx, tx, rec.KeyID, expireAtMs); err != nil {
			return nil, false, err
		}
	}
	return v, true, nil
}

// Append appends value to the existing string (creating it empty first if absent), returning the
// new total length.
func (e *Engine) Append(ctx context.Context, tx storage.Tx, db engine.DBIndex, name, suffix []byte) (int64, error) {
	rec, err := e.Dir.ResolveTyped(ctx, tx, db, name, engine.KindString)
	if err != nil {
		return 0, err
	}
	if rec == nil {
		keyID, err := e.Dir.Create(ctx, tx, db, name, engine.KindString)
		if err != nil {
			return 0, err
		}
		if _, err := tx.Exec(ctx, `INSERT INTO strings (key_id, value) VALUES (?, ?)`, int64(keyID), suffix); err != nil {
			return 0, err
		}
		return int64(len(suffix)), nil
	}
	cur, err := e.readValue(ctx, tx, rec.KeyID)
	if err != nil {
		return 0, err
	}
	combined := append(append([]byte{}, cur...), suffix...)
	if _, err := tx.Exec(ctx, `UPDATE strings SET value = ? WHERE key_id = ?`, combined, int64(rec.KeyID)); err != nil {
		return 0, err
	}
	if err := e.Dir.TouchUpdated(ctx, tx, rec.KeyID); err != nil {
		return 0, err
	}
	return int64(len(combined)), nil
}

// Strlen returns the byte length of the value, 0 if absent.
func (e *Engine) Strlen(ctx context.Context, tx storage.Tx, db engine.DBIndex, name []byte) (int64, error) {
	v, ok, err := e.Get(ctx, tx, db, name)
	if err != nil || !ok {
		return 0, err
	}
	return int64(len(v)), nil
}

// clampRange applies Redis's inclusive, negative-from-end GETRANGE/LRANGE index clamping.
func clampRange(start, end, length int64) (int64, int64) {
	if length == 0 {
		return 0, -1
	}
	if start < 0 {
		start += length
	}
	if end < 0 {
		end += length
	}
	if start < 0 {
		start = 0
	}
	if end >= length {
		end = length - 1
	}
	return start, end
}

// GetRange returns value[start:end] with Redis's inclusive, negative-index clamping semantics.
func (e *Engine) GetRange(ctx context.Context, tx storage.Tx, db engine.DBIndex, name []byte, start, end int64) ([]byte, error) {
	v, ok, err := e.Get(ctx, tx, db, name)
	if err != nil || !ok {
		return []byte{}, err
	}
	s, en := clampRange(start, end, int64(len(v)))
	if s > en || s >= int64(len(v)) {
		return []byte{}, nil
	}
	return append([]byte{}, v[s:en+1]...), nil
}

// SetRange overwrites value starting at offset, zero-padding if offset extends past the current
// length, and returns the new total length.
func (e *Engine) SetRange(ctx context.Context, tx storage.Tx, db engine.DBIndex, name []byte, offset int64, patch []byte) (int64, error) {
	if offset < 0 {
		return 0, engine.ErrOutOfRange
	}
	rec, err := e.Dir.ResolveTyped(ctx, tx, db, name, engine.KindString)
	if err != nil {
		return 0, err
	}
	var cur []byte
	var keyID engine.KeyID
	if rec == nil {
		if len(patch) == 0 {
			return 0, nil
		}
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

	needed := offset + int64(len(patch))
	if needed > int64(len(cur)) {
		grown := make([]byte, needed)
		copy(grown, cur)
		cur = grown
	}
	copy(cur[offset:], patch)

	if _, err := tx.Exec(ctx, `UPDATE strings SET value = ? WHERE key_id = ?`, cur, int64(keyID)); err != nil {
		return 0, err
	}
	if err := e.Dir.TouchUpdated(ctx, tx, keyID); err != nil {
		return 0, err
	}
	return int64(len(cur)), nil
}

// Mget returns one entry per name, nil where absent or of a different kind.
func (e *Engine) Mget(ctx context.Context, tx storage.Tx, db engine.DBIndex, names [][]byte) ([][]byte, error) {
	out := make([][]byte, len(names))
	for i, name := range names {
		rec, err := e.Dir.Resolve(ctx, tx, db, name)
		if err != nil {
			return nil, err
		}
		if rec == nil || rec.Kind != engine.KindString {
			continue
		}
		v, err := e.readValue(ctx, tx, rec.KeyID)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Mset sets every (name, value) pair unconditionally, each clearing any existing TTL.
func (e *Engine) Mset(ctx context.Context, tx storage.Tx, db engine.DBIndex, pairs [][2][]byte) error {
	for _, p := range pairs {
		if _, err := e.Set(ctx, tx, db, p[0], p[1], SetOpts{}); err != nil {
			return err
		}
	}
	return nil
}

func parseInt(v []byte) (int64, error) {
	if len(v) == 0 {
		return 0, engine.ErrNotInt
	}
	n, err := strconv.ParseInt(string(v), 10, 64)
	if err != nil {
		return 0, engine.ErrNotInt
	}
	return n, nil
}

func parseFloat(v []byte) (float64, error) {
	if len(v) == 0 {
		return 0, engine.ErrNotFloat
	}
	f, err := strconv.ParseFloat(string(v), 64)
	if err != nil {
		return 0, engine.ErrNotFloat
	}
	return f, nil
}

// IncrBy adds delta to the integer stored at name (creating it as "0" first if absent) and
// returns the new value.
func (e *Engine) IncrBy(ctx context.Context, tx storage.Tx, db engine.DBIndex, name []byte, delta int64) (int64, error) {
	rec, err := e.Dir.ResolveTyped(ctx, tx, db, name, engine.KindString)
	if err != nil {
		return 0, err
	}

	var cur int64
	var keyID engine.KeyID
	if rec == nil {
		keyID, err = e.Dir.Create(ctx, tx, db, name, engine.KindString)
		if err != nil {
			return 0, err
		}
		if _, err := tx.Exec(ctx, `INSERT INTO strings (key_id, value) VALUES (?, ?)`, int64(keyID), []byte("0")); err != nil {
			return 0, err
		}
	} else {
		keyID = rec.KeyID
		raw, err := e.readValue(ctx, tx, keyID)
		if err != nil {
			return 0, err
		}
		cur, err = parseInt(raw)
		if err != nil {
			return 0, err
		}
	}

	next := cur + delta
	if (delta > 0 && next < cur) || (delta < 0 && next > cur) {
		return 0, engine.ErrOutOfRange
	}
	if _, err := tx.Exec(ctx, `UPDATE strings SET value = ? WHERE key_id = ?`, []byte(strconv.FormatInt(next, 10)), int64(keyID)); err != nil {
		return 0, err
	}
	if err := e.Dir.TouchUpdated(ctx, tx, keyID); err != nil {
		return 0, err
	}
	return next, nil
}

// IncrByFloat adds delta to the float stored at name and returns the new value; the stored
// string is formatted the way Redis does (shortest round-trippable decimal, no trailing zeros).
func (e *Engine) IncrByFloat(ctx context.Context, tx storage.Tx, db engine.DBIndex, name []byte, delta float64) (float64, error) {
	rec, err := e.Dir.ResolveTyped(ctx, tx, db, name, engine.KindString)
	if err != nil {
		return 0, err
	}

	var cur float64
	var keyID engine.KeyID
	if rec == nil {
		keyID, err = e.Dir.Create(ctx, tx, db, name, engine.KindString)
		if err != nil {
			return 0, err
		}
	} else {
		keyID = rec.KeyID
		raw, err := e.readValue(ctx, tx, keyID)
		if err != nil {
			return 0, err
		}
		cur, err = parseFloat(raw)
		if err != nil {
			return 0, err
		}
	}

	next := cur + delta
	if math.IsNaN(next) || math.IsInf(next, 0) {
		return 0, engine.ErrNaNScore
	}
	formatted := strconv.FormatFloat(next, 'f', -1, 64)
	if rec == nil {
		if _, err := tx.Exec(ctx, `INSERT INTO strings (key_id, value) VALUES (?, ?)`, int64(keyID), []byte(formatted)); err != nil {
			return 0, err
		}
	} else {
		if _, err := tx.Exec(ctx, `UPDATE strings SET value = ? WHERE key_id = ?`, []byte(formatted), int64(keyID)); err != nil {
			return 0, err
		}
	}
	if err := e.Dir.TouchUpdated(ctx, tx, keyID); err != nil {
		return 0, err
	}
	return next, nil
}
