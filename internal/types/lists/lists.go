// Package lists implements the list type engine (spec §4.D.3): doubly-ended sequences stored as
// one row per element in `list_nodes`, keyed by a dense `seq` that leaves gaps so LINSERT can
// usually slot a new element between two neighbors without renumbering the whole list.
package lists

import (
	"context"
	"database/sql"

	"github.com/redlite/redlite/internal/engine"
	"github.com/redlite/redlite/internal/keydir"
	"github.com/redlite/redlite/internal/storage"
)

// gap is the seq spacing assigned between freshly-pushed elements, leaving room for LINSERT to
// pick a midpoint many times before a renumbering pass is needed.
const gap = 1 << 16

// Engine executes list commands.
type Engine struct {
	Dir *keydir.Directory
}

// New builds a list Engine bound to dir.
func New(dir *keydir.Directory) *Engine {
	return &Engine{Dir: dir}
}

func (e *Engine) length(ctx context.Context, tx storage.Tx, keyID engine.KeyID) (int64, error) {
	var n int64
	err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM list_nodes WHERE key_id = ?`, int64(keyID)).Scan(&n)
	return n, err
}

func (e *Engine) destroyIfEmpty(ctx context.Context, tx storage.Tx, keyID engine.KeyID) error {
	n, err := e.length(ctx, tx, keyID)
	if err != nil {
		return err
	}
	if n == 0 {
		return e.Dir.Delete(ctx, tx, keyID)
	}
	return nil
}

func (e *Engine) minMaxSeq(ctx context.Context, tx storage.Tx, keyID engine.KeyID) (min, max int64, err error) {
	var nMin, nMax sql.NullInt64
	err = tx.QueryRow(ctx, `SELECT MIN(seq), MAX(seq) FROM list_nodes WHERE key_id = ?`, int64(keyID)).Scan(&nMin, &nMax)
	if err != nil {
		return 0, 0, err
	}
	return nMin.Int64, nMax.Int64, nil
}

// push implements LPUSH/RPUSH (left=true means head); xx requires the key to already exist.
func (e *Engine) push(ctx context.Context, tx storage.Tx, db engine.DBIndex, name []byte, values [][]byte, left, xx bool) (int64, error) {
	rec, err := e.Dir.ResolveTyped(ctx, tx, db, name, engine.KindList)
	if err != nil {
		return 0, err
	}
	if rec == nil && xx {
		return 0, nil
	}

	var keyID engine.KeyID
	if rec == nil {
		keyID, err = e.Dir.Create(ctx, tx, db, name, engine.KindList)
		if err != nil {
			return 0, err
		}
	} else {
		keyID = rec.KeyID
	}

	minSeq, maxSeq, err := e.minMaxSeq(ctx, tx, keyID)
	if err != nil {
		return 0, err
	}

	for _, v := range values {
		var seq int64
		if left {
			minSeq -= gap
			seq = minSeq
		} else {
			maxSeq += gap
			seq = maxSeq
		}
		if _, err := tx.Exec(ctx, `INSERT INTO list_nodes (key_id, seq, value) VALUES (?, ?, ?)`, int64(keyID), seq, v); err != nil {
			return 0, err
		}
	}
	if err := e.Dir.TouchUpdated(ctx, tx, keyID); err != nil {
		return 0, err
	}
	return e.length(ctx, tx, keyID)
}

// LPush pushes values onto the head, each becoming the new first element in argument order.
func (e *Engine) LPush(ctx context.Context, tx storage.Tx, db engine.DBIndex, name []byte, values [][]byte) (int64, error) {
	return e.push(ctx, tx, db, name, values, true, false)
}

// RPush pushes values onto the tail.
func (e *Engine) RPush(ctx context.Context, tx storage.Tx, db engine.DBIndex, name []byte, values [][]byte) (int64, error) {
	return e.push(ctx, tx, db, name, values, false, false)
}

// LPushX pushes only if name already exists as a list.
func (e *Engine) LPushX(ctx context.Context, tx storage.Tx, db engine.DBIndex, name []byte, values [][]byte) (int64, error) {
	return e.push(ctx, tx, db, name, values, true, true)
}

// RPushX pushes only if name already exists as a list.
func (e *Engine) RPushX(ctx context.Context, tx storage.Tx, db engine.DBIndex, name []byte, values [][]byte) (int64, error) {
	return e.push(ctx, tx, db, name, values, false, true)
}

func (e *Engine) pop(ctx context.Context, tx storage.Tx, db engine.DBIndex, name []byte, left bool, count int64) ([][]byte, error) {
	rec, err := e.Dir.ResolveTyped(ctx, tx, db, name, engine.KindList)
	if err != nil || rec == nil {
		return nil, err
	}

	order := "DESC"
	if left {
		order = "ASC"
	}
	rows, err := tx.Query(ctx, `SELECT seq, value FROM list_nodes WHERE key_id = ? ORDER BY seq `+order+` LIMIT ?`, int64(rec.KeyID), count)
	if err != nil {
		return nil, err
	}
	var seqs []int64
	var out [][]byte
	for rows.Next() {
		var seq int64
		var v []byte
		if err := rows.Scan(&seq, &v); err != nil {
			rows.Close()
			return nil, err
		}
		seqs = append(seqs, seq)
		out = append(out, v)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, seq := range seqs {
		if _, err := tx.Exec(ctx, `DELETE FROM list_nodes WHERE key_id = ? AND seq = ?`, int64(rec.KeyID), seq); err != nil {
			return nil, err
		}
	}
	if len(seqs) > 0 {
		if err := e.Dir.TouchUpdated(ctx, tx, rec.KeyID); err != nil {
			return nil, err
		}
	}
	if err := e.destroyIfEmpty(ctx, tx, rec.KeyID); err != nil {
		return nil, err
	}
	return out, nil
}

// LPop removes and returns up to count elements from the head, in left-to-right removal order.
func (e *Engine) LPop(ctx context.Context, tx storage.Tx, db engine.DBIndex, name []byte, count int64) ([][]byte, error) {
	return e.pop(ctx, tx, db, name, true, count)
}

// RPop removes and returns up to count elements from the tail.
func (e *Engine) RPop(ctx context.Context, tx storage.Tx, db engine.DBIndex, name []byte, count int64) ([][]byte, error) {
	return e.pop(ctx, tx, db, name, false, count)
}

// LLen returns the element count, 0 if absent.
func (e *Engine) LLen(ctx context.Context, tx storage.Tx, db engine.DBIndex, name []byte) (int64, error) {
	rec, err := e.Dir.ResolveTyped(ctx, tx, db, name, engine.KindList)
	if err != nil || rec == nil {
		return 0, err
	}
	return e.length(ctx, tx, rec.KeyID)
}

func (e *Engine) allValues(ctx context.Context, tx storage.Tx, keyID engine.KeyID) ([][]byte, []int64, error) {
	rows, err := tx.Query(ctx, `SELECT seq, value FROM list_nodes WHERE key_id = ? ORDER BY seq ASC`, int64(keyID))
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()
	var values [][]byte
	var seqs []int64
	for rows.Next() {
		var seq int64
		var v []byte
		if err := rows.Scan(&seq, &v); err != nil {
			return nil, nil, err
		}
		values = append(values, v)
		seqs = append(seqs, seq)
	}
	return values, seqs, rows.Err()
}

func normalizeIndex(i, length int64) int64 {
	if i < 0 {
		i += length
	}
	return i
}

// LRange returns an inclusive, negative-from-end-indexed slice, clamped to the list bounds.
func (e *Engine) LRange(ctx context.Context, tx storage.Tx, db engine.DBIndex, name []byte, start, stop int64) ([][]byte, error) {
	rec, err := e.Dir.ResolveTyped(ctx, tx, db, name, engine.KindList)
	if err != nil || rec == nil {
		return nil, err
	}
	values, _, err := e.allValues(ctx, tx, rec.KeyID)
	if err != nil {
		return nil, err
	}
	length := int64(len(values))
	start = normalizeIndex(start, length)
	stop = normalizeIndex(stop, length)
	if start < 0 {
		start = 0
	}
	if stop >= length {
		stop = length - 1
	}
	if start > stop || start >= length {
		return [][]byte{}, nil
	}
	return values[start : stop+1], nil
}

// LIndex returns a single element by index, or (nil, false) if out of range.
func (e *Engine) LIndex(ctx context.Context, tx storage.Tx, db engine.DBIndex, name []byte, idx int64) ([]byte, bool, error) {
	rec, err := e.Dir.ResolveTyped(ctx, tx, db, name, engine.KindList)
	if err != nil || rec == nil {
		return nil, false, err
	}
	values, _, err := e.allValues(ctx, tx, rec.KeyID)
	if err != nil {
		return nil, false, err
	}
	idx = normalizeIndex(idx, int64(len(values)))
	if idx < 0 || idx >= int64(len(values)) {
		return nil, false, nil
	}
	return values[idx], true, nil
}

// LSet overwrites the element at idx, returning engine.ErrOutOfRange if idx is out of bounds.
func (e *Engine) LSet(ctx context.Context, tx storage.Tx, db engine.DBIndex, name []byte, idx int64, value []byte) error {
	rec, err := e.Dir.ResolveTyped(ctx, tx, db, name, engine.KindList)
	if err != nil {
		return err
	}
	if rec == nil {
		return engine.ErrNoSuchKey
	}
	_, seqs, err := e.allValues(ctx, tx, rec.KeyID)
	if err != nil {
		return err
	}
	idx = normalizeIndex(idx, int64(len(seqs)))
	if idx < 0 || idx >= int64(len(seqs)) {
		return engine.ErrOutOfRange
	}
	if _, err := tx.Exec(ctx, `UPDATE list_nodes SET value = ? WHERE key_id = ? AND seq = ?`, value, int64(rec.KeyID), seqs[idx]); err != nil {
		return err
	}
	return e.Dir.TouchUpdated(ctx, tx, rec.KeyID)
}

// LTrim keeps only the inclusive [start, stop] range, discarding the rest, and destroys the key
// if the result is empty.
func (e *Engine) LTrim(ctx context.Context, tx storage.Tx, db engine.DBIndex, name []byte, start, stop int64) error {
	rec, err := e.Dir.ResolveTyped(ctx, tx, db, name, engine.KindList)
	if err != nil || rec == nil {
		return err
	}
	_, seqs, err := e.allValues(ctx, tx, rec.KeyID)
	if err != nil {
		return err
	}
	length := int64(len(seqs))
	start = normalizeIndex(start, length)
	stop = normalizeIndex(stop, length)
	if start < 0 {
		start = 0
	}
	if stop >= length {
		stop = length - 1
	}

	for i, seq := range seqs {
		if int64(i) < start || int64(i) > stop {
			if _, err := tx.Exec(ctx, `DELETE FROM list_nodes WHERE key_id = ? AND seq = ?`, int64(rec.KeyID), seq); err != nil {
				return err
			}
		}
	}
	if err := e.Dir.TouchUpdated(ctx, tx, rec.KeyID); err != nil {
		return err
	}
	return e.destroyIfEmpty(ctx, tx, rec.KeyID)
}

// LRem removes occurrences of value: count>0 scans head-to-tail removing up to count, count<0
// scans tail-to-head, count=0 removes all. Returns the number removed.
func (e *Engine) LRem(ctx context.Context, tx storage.Tx, db engine.DBIndex, name []byte, count int64, value []byte) (int64, error) {
	rec, err := e.Dir.ResolveTyped(ctx, tx, db, name, engine.KindList)
	if err != nil || rec == nil {
		return 0, err
	}
	values, seqs, err := e.allValues(ctx, tx, rec.KeyID)
	if err != nil {
		return 0, err
	}

	var toDelete []int64
	matches := func(v []byte) bool { return string(v) == string(value) }

	if count >= 0 {
		limit := count
		for i := 0; i < len(values); i++ {
			if matches(values[i]) {
				toDelete = append(toDelete, seqs[i])
				if limit > 0 {
					limit--
					if limit == 0 {
						break
					}
				}
			}
		}
	} else {
		limit := -count
		for i := len(values) - 1; i >= 0; i-- {
			if matches(values[i]) {
				toDelete = append(toDelete, seqs[i])
				limit--
				if limit == 0 {
					break
				}
			}
		}
	}

	for _, seq := range toDelete {
		if _, err := tx.Exec(ctx, `DELETE FROM list_nodes WHERE key_id = ? AND seq = ?`, int64(rec.KeyID), seq); err != nil {
			return 0, err
		}
	}
	if len(toDelete) > 0 {
		if err := e.Dir.TouchUpdated(ctx, tx, rec.KeyID); err != nil {
			return 0, err
		}
	}
	if err := e.destroyIfEmpty(ctx, tx, rec.KeyID); err != nil {
		return 0, err
	}
	return int64(len(toDelete)), nil
}

// LInsert inserts value before or after the first occurrence of pivot, returning the new length,
// or -1 if pivot was not found, or 0 if the key does not exist.
func (e *Engine) LInsert(ctx context.Context, tx storage.Tx, db engine.DBIndex, name []byte, before bool, pivot, value []byte) (int64, error) {
	rec, err := e.Dir.ResolveTyped(ctx, tx, db, name, engine.KindList)
	if err != nil {
		return 0, err
	}
	if rec == nil {
		return 0, nil
	}
	values, seqs, err := e.allValues(ctx, tx, rec.KeyID)
	if err != nil {
		return 0, err
	}

	idx := -1
	for i, v := range values {
		if string(v) == string(pivot) {
			idx = i
			break
		}
	}
	if idx == -1 {
		return -1, nil
	}

	var newSeq int64
	switch {
	case before && idx == 0:
		newSeq = seqs[0] - gap
	case !before && idx == len(seqs)-1:
		newSeq = seqs[len(seqs)-1] + gap
	case before:
		newSeq = midpoint(seqs[idx-1], seqs[idx])
	default:
		newSeq = midpoint(seqs[idx], seqs[idx+1])
	}

	if needsRenumber(seqs, idx, before, newSeq) {
		if err := e.renumber(ctx, tx, rec.KeyID, values, idx, before, value); err != nil {
			return 0, err
		}
	} else {
		if _, err := tx.Exec(ctx, `INSERT INTO list_nodes (key_id, seq, value) VALUES (?, ?, ?)`, int64(rec.KeyID), newSeq, value); err != nil {
			return 0, err
		}
	}
	if err := e.Dir.TouchUpdated(ctx, tx, rec.KeyID); err != nil {
		return 0, err
	}
	return e.length(ctx, tx, rec.KeyID)
}

func midpoint(a, b int64) int64 { return a + (b-a)/2 }

// needsRenumber reports whether there was no integer strictly between the two neighboring seqs.
func needsRenumber(seqs []int64, idx int, before bool, candidate int64) bool {
	if before {
		if idx == 0 {
			return false
		}
		return candidate <= seqs[idx-1] || candidate >= seqs[idx]
	}
	if idx == len(seqs)-1 {
		return false
	}
	return candidate <= seqs[idx] || candidate >= seqs[idx+1]
}

// renumber rewrites every element's seq with fresh gap-spaced values, inserting value at the
// given logical position. This is the fallback path once LINSERT exhausts the gap between two
// neighboring elements.
func (e *Engine) renumber(ctx context.Context, tx storage.Tx, keyID engine.KeyID, values [][]byte, idx int, before bool, newValue []byte) error {
	if _, err := tx.Exec(ctx, `DELETE FROM list_nodes WHERE key_id = ?`, int64(keyID)); err != nil {
		return err
	}
	insertAt := idx
	if !before {
		insertAt = idx + 1
	}
	merged := make([][]byte, 0, len(values)+1)
	merged = append(merged, values[:insertAt]...)
	merged = append(merged, newValue)
	merged = append(merged, values[insertAt:]...)

	seq := int64(0)
	for _, v := range merged {
		if _, err := tx.Exec(ctx, `INSERT INTO list_nodes (key_id, seq, value) VALUES (?, ?, ?)`, int64(keyID), seq, v); err != nil {
			return err
		}
		seq += gap
	}
	return nil
}

// LPos finds the index (from the head) of the first occurrence of value, or (0, false) if absent.
func (e *Engine) LPos(ctx context.Context, tx storage.Tx, db engine.DBIndex, name, value []byte) (int64, bool, error) {
	rec, err := e.Dir.ResolveTyped(ctx, tx, db, name, engine.KindList)
	if err != nil || rec == nil {
		return 0, false, err
	}
	values, _, err := e.allValues(ctx, tx, rec.KeyID)
	if err != nil {
		return 0, false, err
	}
	for i, v := range values {
		if string(v) == string(value) {
			return int64(i), true, nil
		}
	}
	return 0, false, nil
}

// LMove atomically pops from one end of src and pushes to one end of dst (which may equal src),
// returning the moved element or (nil, false) if src is absent.
func (e *Engine) LMove(ctx context.Context, tx storage.Tx, db engine.DBIndex, src, dst []byte, fromLeft, toLeft bool) ([]byte, bool, error) {
	popped, err := e.pop(ctx, tx, db, src, fromLeft, 1)
	if err != nil || len(popped) == 0 {
		return nil, false, err
	}
	if _, err := e.push(ctx, tx, db, dst, popped, toLeft, false); err != nil {
		return nil, false, err
	}
	return popped[0], true, nil
}
