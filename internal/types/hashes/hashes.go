// Package hashes implements the hash type engine (spec §4.D.2): field/value maps stored one row
// per field in the `hash_fields` table, destroyed when the last field is removed.
package hashes

import (
	"context"
	"database/sql"
	"strconv"

	"github.com/redlite/redlite/internal/engine"
	"github.com/redlite/redlite/internal/keydir"
	"github.com/redlite/redlite/internal/storage"
)

// Engine executes hash commands.
type Engine struct {
	Dir *keydir.Directory
}

// New builds a hash Engine bound to dir.
func New(dir *keydir.Directory) *Engine {
	return &Engine{Dir: dir}
}

func (e *Engine) fieldCount(ctx context.Context, tx storage.Tx, keyID engine.KeyID) (int64, error) {
	var n int64
	err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM hash_fields WHERE key_id = ?`, int64(keyID)).Scan(&n)
	return n, err
}

// destroyIfEmpty deletes the key once its field count reaches zero (spec §4.D.2).
func (e *Engine) destroyIfEmpty(ctx context.Context, tx storage.Tx, keyID engine.KeyID) error {
	n, err := e.fieldCount(ctx, tx, keyID)
	if err != nil {
		return err
	}
	if n == 0 {
		return e.Dir.Delete(ctx, tx, keyID)
	}
	return nil
}

// HSet sets each field in fields, returning the count of fields newly created (not updated).
func (e *Engine) HSet(ctx context.Context, tx storage.Tx, db engine.DBIndex, name []byte, fields [][2][]byte) (int64, error) {
	keyID, err := e.Dir.Create(ctx, tx, db, name, engine.KindHash)
	if err != nil {
		return 0, err
	}

	var created int64
	for _, fv := range fields {
		exists, err := e.hexists(ctx, tx, keyID, fv[0])
		if err != nil {
			return 0, err
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO hash_fields (key_id, field, value) VALUES (?, ?, ?)
			 ON CONFLICT(key_id, field) DO UPDATE SET value = excluded.value`,
			int64(keyID), fv[0], fv[1],
		); err != nil {
			return 0, err
		}
		if !exists {
			created++
		}
	}
	if err := e.Dir.TouchUpdated(ctx, tx, keyID); err != nil {
		return 0, err
	}
	return created, nil
}

// HSetNX sets field only if it does not already exist, returning whether it was set.
func (e *Engine) HSetNX(ctx context.Context, tx storage.Tx, db engine.DBIndex, name, field, value []byte) (bool, error) {
	rec, err := e.Dir.ResolveTyped(ctx, tx, db, name, engine.KindHash)
	if err != nil {
		return false, err
	}
	if rec != nil {
		exists, err := e.hexists(ctx, tx, rec.KeyID, field)
		if err != nil || exists {
			return false, err
		}
	}
	keyID, err := e.Dir.Create(ctx, tx, db, name, engine.KindHash)
	if err != nil {
		return false, err
	}
	if _, err := tx.Exec(ctx, `INSERT INTO hash_fields (key_id, field, value) VALUES (?, ?, ?)`, int64(keyID), field, value); err != nil {
		return false, err
	}
	return true, e.Dir.TouchUpdated(ctx, tx, keyID)
}

func (e *Engine) hexists(ctx context.Context, tx storage.Tx, keyID engine.KeyID, field []byte) (bool, error) {
	var v []byte
	err := tx.QueryRow(ctx, `SELECT value FROM hash_fields WHERE key_id = ? AND field = ?`, int64(keyID), field).Scan(&v)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

// HGet returns a field's value, or (nil, false) if the key or field is absent.
func (e *Engine) HGet(ctx context.Context, tx storage.Tx, db engine.DBIndex, name, field []byte) ([]byte, bool, error) {
	rec, err := e.Dir.ResolveTyped(ctx, tx, db, name, engine.KindHash)
	if err != nil || rec == nil {
		return nil, false, err
	}
	var v []byte
	err = tx.QueryRow(ctx, `SELECT value FROM hash_fields WHERE key_id = ? AND field = ?`, int64(rec.KeyID), field).Scan(&v)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

// HMGet returns one entry per requested field, nil where absent.
func (e *Engine) HMGet(ctx context.Context, tx storage.Tx, db engine.DBIndex, name []byte, fields [][]byte) ([][]byte, error) {
	out := make([][]byte, len(fields))
	for i, f := range fields {
		v, ok, err := e.HGet(ctx, tx, db, name, f)
		if err != nil {
			return nil, err
		}
		if ok {
			out[i] = v
		}
	}
	return out, nil
}

// HGetAll returns every (field, value) pair.
func (e *Engine) HGetAll(ctx context.Context, tx storage.Tx, db engine.DBIndex, name []byte) ([][2][]byte, error) {
	rec, err := e.Dir.ResolveTyped(ctx, tx, db, name, engine.KindHash)
	if err != nil || rec == nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, `SELECT field, value FROM hash_fields WHERE key_id = ?`, int64(rec.KeyID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out [][2][]byte
	for rows.Next() {
		var f, v []byte
		if err := rows.Scan(&f, &v); err != nil {
			return nil, err
		}
		out = append(out, [2][]byte{f, v})
	}
	return out, rows.Err()
}

// HKeys returns every field name.
func (e *Engine) HKeys(ctx context.Context, tx storage.Tx, db engine.DBIndex, name []byte) ([][]byte, error) {
	all, err := e.HGetAll(ctx, tx, db, name)
	if err != nil {
		return nil, err
	}
	out := make([][]byte, len(all))
	for i, fv := range all {
		out[i] = fv[0]
	}
	return out, nil
}

// HVals returns every field value.
func (e *Engine) HVals(ctx context.Context, tx storage.Tx, db engine.DBIndex, name []byte) ([][]byte, error) {
	all, err := e.HGetAll(ctx, tx, db, name)
	if err != nil {
		return nil, err
	}
	out := make([][]byte, len(all))
	for i, fv := range all {
		out[i] = fv[1]
	}
	return out, nil
}

// HLen returns the number of fields.
func (e *Engine) HLen(ctx context.Context, tx storage.Tx, db engine.DBIndex, name []byte) (int64, error) {
	rec, err := e.Dir.ResolveTyped(ctx, tx, db, name, engine.KindHash)
	if err != nil || rec == nil {
		return 0, err
	}
	return e.fieldCount(ctx, tx, rec.KeyID)
}

// HExists reports whether field exists.
func (e *Engine) HExists(ctx context.Context, tx storage.Tx, db engine.DBIndex, name, field []byte) (bool, error) {
	rec, err := e.Dir.ResolveTyped(ctx, tx, db, name, engine.KindHash)
	if err != nil || rec == nil {
		return false, err
	}
	return e.hexists(ctx, tx, rec.KeyID, field)
}

// HDel removes the given fields, destroying the key if it becomes empty, and returns the count
// actually removed.
func (e *Engine) HDel(ctx context.Context, tx storage.Tx, db engine.DBIndex, name []byte, fields [][]byte) (int64, error) {
	rec, err := e.Dir.ResolveTyped(ctx, tx, db, name, engine.KindHash)
	if err != nil || rec == nil {
		return 0, err
	}

	var removed int64
	for _, f := range fields {
		res, err := tx.Exec(ctx, `DELETE FROM hash_fields WHERE key_id = ? AND field = ?`, int64(rec.KeyID), f)
		if err != nil {
			return 0, err
		}
		n, _ := res.RowsAffected()
		removed += n
	}
	if removed > 0 {
		if err := e.Dir.TouchUpdated(ctx, tx, rec.KeyID); err != nil {
			return 0, err
		}
	}
	if err := e.destroyIfEmpty(ctx, tx, rec.KeyID); err != nil {
		return 0, err
	}
	return removed, nil
}

// HIncrBy adds delta to the integer stored in field, creating field as "0" first if absent.
func (e *Engine) HIncrBy(ctx context.Context, tx storage.Tx, db engine.DBIndex, name, field []byte, delta int64) (int64, error) {
	keyID, err := e.Dir.Create(ctx, tx, db, name, engine.KindHash)
	if err != nil {
		return 0, err
	}
	var cur int64
	var raw []byte
	err = tx.QueryRow(ctx, `SELECT value FROM hash_fields WHERE key_id = ? AND field = ?`, int64(keyID), field).Scan(&raw)
	if err != nil && err != sql.ErrNoRows {
		return 0, err
	}
	if err == nil {
		cur, err = strconv.ParseInt(string(raw), 10, 64)
		if err != nil {
			return 0, engine.ErrNotInt
		}
	}
	next := cur + delta
	if _, err := tx.Exec(ctx,
		`INSERT INTO hash_fields (key_id, field, value) VALUES (?, ?, ?)
		 ON CONFLICT(key_id, field) DO UPDATE SET value = excluded.value`,
		int64(keyID), field, []byte(strconv.FormatInt(next, 10)),
	); err != nil {
		return 0, err
	}
	return next, e.Dir.TouchUpdated(ctx, tx, keyID)
}

// HIncrByFloat adds delta to the float stored in field.
func (e *Engine) HIncrByFloat(ctx context.Context, tx storage.Tx, db engine.DBIndex, name, field []byte, delta float64) (float64, error) {
	keyID, err := e.Dir.Create(ctx, tx, db, name, engine.KindHash)
	if err != nil {
		return 0, err
	}
	var cur float64
	var raw []byte
	err = tx.QueryRow(ctx, `SELECT value FROM hash_fields WHERE key_id = ? AND field = ?`, int64(keyID), field).Scan(&raw)
	if err != nil && err != sql.ErrNoRows {
		return 0, err
	}
	if err == nil {
		cur, err = strconv.ParseFloat(string(raw), 64)
		if err != nil {
			return 0, engine.ErrNotFloat
		}
	}
	next := cur + delta
	formatted := strconv.FormatFloat(next, 'f', -1, 64)
	if _, err := tx.Exec(ctx,
		`INSERT INTO hash_fields (key_id, field, value) VALUES (?, ?, ?)
		 ON CONFLICT(key_id, field) DO UPDATE SET value = excluded.value`,
		int64(keyID), field, []byte(formatted),
	); err != nil {
		return 0, err
	}
	return next, e.Dir.TouchUpdated(ctx, tx, keyID)
}

// HScan returns a cursor-paginated slice of (field, value) pairs ordered by field bytes, the same
// contract as the Key Directory's Scan (spec §4.D.2 HSCAN, §9 "Cursor-based iteration"). The
// cursor is the last-seen field rather than a rowid, so it works identically against the SQLite
// and Postgres backends, neither of which HScan otherwise depends on the storage engine for.
func (e *Engine) HScan(ctx context.Context, tx storage.Tx, db engine.DBIndex, name []byte, cursor []byte, count int) ([]byte, [][2][]byte, error) {
	rec, err := e.Dir.ResolveTyped(ctx, tx, db, name, engine.KindHash)
	if err != nil || rec == nil {
		return nil, nil, err
	}
	if count <= 0 {
		count = 10
	}
	rows, err := tx.Query(ctx, `SELECT field, value FROM hash_fields WHERE key_id = ? AND field > ? ORDER BY field LIMIT ?`,
		int64(rec.KeyID), cursor, count)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var out [][2][]byte
	var last []byte
	n := 0
	for rows.Next() {
		var f, v []byte
		if err := rows.Scan(&f, &v); err != nil {
			return nil, nil, err
		}
		last = f
		n++
		out = append(out, [2][]byte{f, v})
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	var next []byte
	if n == count {
		next = last
	}
	return next, out, nil
}
