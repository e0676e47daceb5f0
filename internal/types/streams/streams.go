package streams

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/redlite/redlite/internal/engine"
	"github.com/redlite/redlite/internal/keydir"
	"github.com/redlite/redlite/internal/storage"
)

// Field is one (field, value) pair in an entry's payload, order-preserving (spec §3.1).
type Field struct {
	Name, Value []byte
}

// Entry is one stream entry as returned by range/read operations.
type Entry struct {
	ID     ID
	Fields []Field
}

// Meta mirrors the `stream_meta` row (spec §3.1).
type Meta struct {
	Last         ID
	MaxDeleted   ID
	Length       int64
	First        ID
}

// Engine executes stream commands (entry-level; see groups.go for consumer groups).
type Engine struct {
	Dir *keydir.Directory
}

// New builds a stream Engine bound to dir.
func New(dir *keydir.Directory) *Engine {
	return &Engine{Dir: dir}
}

func encodeFields(fields []Field) []byte {
	var buf []byte
	for _, f := range fields {
		buf = appendLP(buf, f.Name)
		buf = appendLP(buf, f.Value)
	}
	return buf
}

func appendLP(buf, v []byte) []byte {
	var lenBuf [4]byte
	n := uint32(len(v))
	lenBuf[0] = byte(n)
	lenBuf[1] = byte(n >> 8)
	lenBuf[2] = byte(n >> 16)
	lenBuf[3] = byte(n >> 24)
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, v...)
	return buf
}

func decodeFields(buf []byte) []Field {
	var fields []Field
	for len(buf) >= 4 {
		n := uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16 | uint32(buf[3])<<24
		buf = buf[4:]
		name := buf[:n]
		buf = buf[n:]
		if len(buf) < 4 {
			break
		}
		n2 := uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16 | uint32(buf[3])<<24
		buf = buf[4:]
		value := buf[:n2]
		buf = buf[n2:]
		fields = append(fields, Field{Name: name, Value: value})
	}
	return fields
}

func (e *Engine) meta(ctx context.Context, tx storage.Tx, keyID engine.KeyID) (Meta, error) {
	var m Meta
	err := tx.QueryRow(ctx,
		`SELECT last_ms, last_seq, max_deleted_ms, max_deleted_seq, length, first_ms, first_seq FROM stream_meta WHERE key_id = ?`,
		int64(keyID),
	).Scan(&m.Last.Ms, &m.Last.Seq, &m.MaxDeleted.Ms, &m.MaxDeleted.Seq, &m.Length, &m.First.Ms, &m.First.Seq)
	return m, err
}

func (e *Engine) saveMeta(ctx context.Context, tx storage.Tx, keyID engine.KeyID, m Meta) error {
	_, err := tx.Exec(ctx,
		`UPDATE stream_meta SET last_ms=?, last_seq=?, max_deleted_ms=?, max_deleted_seq=?, length=?, first_ms=?, first_seq=? WHERE key_id = ?`,
		m.Last.Ms, m.Last.Seq, m.MaxDeleted.Ms, m.MaxDeleted.Seq, m.Length, m.First.Ms, m.First.Seq, int64(keyID),
	)
	return err
}

// XAdd appends one entry, creating the stream if it doesn't exist. If id is nil, the ID is
// auto-assigned: ms = max(nowMs, last.Ms), and if that equals last.Ms, seq = last.Seq + 1
// (spec §4.D.6). An explicit id ≤ last is rejected.
func (e *Engine) XAdd(ctx context.Context, tx storage.Tx, db engine.DBIndex, name []byte, id *ID, nowMs int64, fields []Field) (ID, error) {
	rec, err := e.Dir.ResolveTyped(ctx, tx, db, name, engine.KindStream)
	if err != nil {
		return ID{}, err
	}

	var keyID engine.KeyID
	var m Meta
	if rec == nil {
		keyID, err = e.Dir.Create(ctx, tx, db, name, engine.KindStream)
		if err != nil {
			return ID{}, err
		}
		if _, err := tx.Exec(ctx, `INSERT INTO stream_meta (key_id) VALUES (?)`, int64(keyID)); err != nil {
			return ID{}, err
		}
		m = Meta{}
	} else {
		keyID = rec.KeyID
		m, err = e.meta(ctx, tx, keyID)
		if err != nil {
			return ID{}, err
		}
	}

	var newID ID
	if id == nil {
		ms := uint64(nowMs)
		if ms < m.Last.Ms {
			ms = m.Last.Ms
		}
		seq := uint64(0)
		if ms == m.Last.Ms {
			seq = m.Last.Seq + 1
		}
		newID = ID{Ms: ms, Seq: seq}
	} else {
		newID = *id
		if m.Length > 0 && !m.Last.Less(newID) {
			return ID{}, fmt.Errorf("%w: The ID specified in XADD is equal or smaller than the target stream top item", engine.ErrSyntax)
		}
	}

	if _, err := tx.Exec(ctx, `INSERT INTO stream_entries (key_id, ms, seq, payload) VALUES (?, ?, ?, ?)`,
		int64(keyID), newID.Ms, newID.Seq, encodeFields(fields)); err != nil {
		return ID{}, err
	}

	m.Last = newID
	m.Length++
	if m.Length == 1 {
		m.First = newID
	}
	if err := e.saveMeta(ctx, tx, keyID, m); err != nil {
		return ID{}, err
	}
	if err := e.Dir.TouchUpdated(ctx, tx, keyID); err != nil {
		return ID{}, err
	}
	return newID, nil
}

// XLen returns the entry count, 0 if absent.
func (e *Engine) XLen(ctx context.Context, tx storage.Tx, db engine.DBIndex, name []byte) (int64, error) {
	rec, err := e.Dir.ResolveTyped(ctx, tx, db, name, engine.KindStream)
	if err != nil || rec == nil {
		return 0, err
	}
	m, err := e.meta(ctx, tx, rec.KeyID)
	return m.Length, err
}

// XRange returns entries with ID in [start, end], ascending, capped at count (0 = unlimited).
func (e *Engine) XRange(ctx context.Context, tx storage.Tx, db engine.DBIndex, name []byte, start, end ID, count int64) ([]Entry, error) {
	rec, err := e.Dir.ResolveTyped(ctx, tx, db, name, engine.KindStream)
	if err != nil || rec == nil {
		return nil, err
	}
	q := `SELECT ms, seq, payload FROM stream_entries WHERE key_id = ? AND (ms > ? OR (ms = ? AND seq >= ?)) AND (ms < ? OR (ms = ? AND seq <= ?)) ORDER BY ms ASC, seq ASC`
	args := []any{int64(rec.KeyID), start.Ms, start.Ms, start.Seq, end.Ms, end.Ms, end.Seq}
	if count > 0 {
		q += ` LIMIT ?`
		args = append(args, count)
	}
	return e.queryEntries(ctx, tx, q, args)
}

// XRevRange is XRange in descending ID order (end, start swapped in the call, as Redis does).
func (e *Engine) XRevRange(ctx context.Context, tx storage.Tx, db engine.DBIndex, name []byte, end, start ID, count int64) ([]Entry, error) {
	rec, err := e.Dir.ResolveTyped(ctx, tx, db, name, engine.KindStream)
	if err != nil || rec == nil {
		return nil, err
	}
	q := `SELECT ms, seq, payload FROM stream_entries WHERE key_id = ? AND (ms > ? OR (ms = ? AND seq >= ?)) AND (ms < ? OR (ms = ? AND seq <= ?)) ORDER BY ms DESC, seq DESC`
	args := []any{int64(rec.KeyID), start.Ms, start.Ms, start.Seq, end.Ms, end.Ms, end.Seq}
	if count > 0 {
		q += ` LIMIT ?`
		args = append(args, count)
	}
	return e.queryEntries(ctx, tx, q, args)
}

func (e *Engine) queryEntries(ctx context.Context, tx storage.Tx, q string, args []any) ([]Entry, error) {
	rows, err := tx.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var en Entry
		var payload []byte
		if err := rows.Scan(&en.ID.Ms, &en.ID.Seq, &payload); err != nil {
			return nil, err
		}
		en.Fields = decodeFields(payload)
		out = append(out, en)
	}
	return out, rows.Err()
}

// XDel removes entries by ID, leaving a max_deleted_id tombstone so PEL consistency is
// preserved (spec §3.2 invariant 5), and returns the count actually removed.
func (e *Engine) XDel(ctx context.Context, tx storage.Tx, db engine.DBIndex, name []byte, ids []ID) (int64, error) {
	rec, err := e.Dir.ResolveTyped(ctx, tx, db, name, engine.KindStream)
	if err != nil || rec == nil {
		return 0, err
	}
	m, err := e.meta(ctx, tx, rec.KeyID)
	if err != nil {
		return 0, err
	}

	var removed int64
	for _, id := range ids {
		res, err := tx.Exec(ctx, `DELETE FROM stream_entries WHERE key_id = ? AND ms = ? AND seq = ?`, int64(rec.KeyID), id.Ms, id.Seq)
		if err != nil {
			return 0, err
		}
		n, _ := res.RowsAffected()
		if n > 0 {
			removed++
			if m.MaxDeleted.Less(id) {
				m.MaxDeleted = id
			}
		}
	}
	if removed > 0 {
		m.Length -= removed
		if err := e.saveMeta(ctx, tx, rec.KeyID, m); err != nil {
			return 0, err
		}
		if err := e.Dir.TouchUpdated(ctx, tx, rec.KeyID); err != nil {
			return 0, err
		}
	}
	return removed, nil
}

// TrimMode selects MAXLEN or MINID trimming.
type TrimMode int

const (
	TrimMaxLen TrimMode = iota
	TrimMinID
)

// XTrim trims the stream per mode/threshold. Approximate (approx=true) trims are permitted to
// retain up to 2x the requested target (Open Question resolution, SPEC_FULL.md); exact trims are
// precise. Returns the count of entries removed.
func (e *Engine) XTrim(ctx context.Context, tx storage.Tx, db engine.DBIndex, name []byte, mode TrimMode, threshold int64, minID ID, approx bool) (int64, error) {
	rec, err := e.Dir.ResolveTyped(ctx, tx, db, name, engine.KindStream)
	if err != nil || rec == nil {
		return 0, err
	}
	m, err := e.meta(ctx, tx, rec.KeyID)
	if err != nil {
		return 0, err
	}

	var toRemove int64
	switch mode {
	case TrimMaxLen:
		target := threshold
		if approx {
			target = threshold * 2
			if target < threshold {
				target = threshold
			}
		}
		if m.Length > target {
			toRemove = m.Length - threshold
			if approx && toRemove < 0 {
				toRemove = 0
			}
		}
	case TrimMinID:
		var n int64
		err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM stream_entries WHERE key_id = ? AND (ms < ? OR (ms = ? AND seq < ?))`,
			int64(rec.KeyID), minID.Ms, minID.Ms, minID.Seq).Scan(&n)
		if err != nil {
			return 0, err
		}
		toRemove = n
	}

	if toRemove <= 0 {
		return 0, nil
	}

	rows, err := tx.Query(ctx, `SELECT ms, seq FROM stream_entries WHERE key_id = ? ORDER BY ms ASC, seq ASC LIMIT ?`, int64(rec.KeyID), toRemove)
	if err != nil {
		return 0, err
	}
	var ids []ID
	for rows.Next() {
		var id ID
		if err := rows.Scan(&id.Ms, &id.Seq); err != nil {
			rows.Close()
			return 0, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	return e.XDel(ctx, tx, db, name, ids)
}

// ErrNoSuchStream is returned where a caller needs to distinguish "absent" from "zero work done".
var ErrNoSuchStream = sql.ErrNoRows
