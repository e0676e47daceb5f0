package streams

import (
	"context"
	"database/sql"

	"github.com/redlite/redlite/internal/engine"
	"github.com/redlite/redlite/internal/keydir"
	"github.com/redlite/redlite/internal/storage"
)

// PendingEntry is one row of a consumer group's PEL.
type PendingEntry struct {
	ID            ID
	Consumer      []byte
	DeliveryTime  int64
	DeliveryCount int64
}

// ConsumerInfo mirrors a `stream_consumers` row.
type ConsumerInfo struct {
	Name         []byte
	PendingCount int64
	IdleSinceMs  int64
}

// GroupInfo mirrors a `stream_groups` row.
type GroupInfo struct {
	Name          []byte
	LastDelivered ID
	PelCount      int64
}

func (e *Engine) resolveStream(ctx context.Context, tx storage.Tx, db engine.DBIndex, name []byte) (engine.KeyID, error) {
	rec, err := e.Dir.ResolveTyped(ctx, tx, db, name, engine.KindStream)
	if err != nil {
		return 0, err
	}
	if rec == nil {
		return 0, engine.ErrNoSuchKey
	}
	return rec.KeyID, nil
}

// XGroupCreate creates a consumer group starting at startID ("$" callers should pass the
// stream's current last ID). If mkStream is set, the stream is created empty when absent
// (spec §4.H "XGROUP CREATE … MKSTREAM").
func (e *Engine) XGroupCreate(ctx context.Context, tx storage.Tx, db engine.DBIndex, name, group []byte, startID ID, mkStream bool) error {
	keyID, err := e.resolveStream(ctx, tx, db, name)
	if err == engine.ErrNoSuchKey {
		if !mkStream {
			return err
		}
		keyID, err = e.Dir.Create(ctx, tx, db, name, engine.KindStream)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `INSERT INTO stream_meta (key_id) VALUES (?)`, int64(keyID)); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	var dummy int64
	err = tx.QueryRow(ctx, `SELECT 1 FROM stream_groups WHERE key_id = ? AND name = ?`, int64(keyID), group).Scan(&dummy)
	if err == nil {
		return engine.ErrBusyGroup
	}
	if err != sql.ErrNoRows {
		return err
	}

	_, err = tx.Exec(ctx, `INSERT INTO stream_groups (key_id, name, last_delivered_ms, last_delivered_seq) VALUES (?, ?, ?, ?)`,
		int64(keyID), group, startID.Ms, startID.Seq)
	return err
}

// XGroupDestroy removes the group and all its PEL/consumer rows, returning whether it existed.
func (e *Engine) XGroupDestroy(ctx context.Context, tx storage.Tx, db engine.DBIndex, name, group []byte) (bool, error) {
	keyID, err := e.resolveStream(ctx, tx, db, name)
	if err != nil {
		return false, err
	}
	res, err := tx.Exec(ctx, `DELETE FROM stream_groups WHERE key_id = ? AND name = ?`, int64(keyID), group)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// XGroupSetID repositions the group's last-delivered cursor.
func (e *Engine) XGroupSetID(ctx context.Context, tx storage.Tx, db engine.DBIndex, name, group []byte, id ID) error {
	keyID, err := e.resolveStream(ctx, tx, db, name)
	if err != nil {
		return err
	}
	res, err := tx.Exec(ctx, `UPDATE stream_groups SET last_delivered_ms=?, last_delivered_seq=? WHERE key_id = ? AND name = ?`,
		id.Ms, id.Seq, int64(keyID), group)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return engine.ErrNoGroup
	}
	return nil
}

// XGroupCreateConsumer registers consumer under group if not already present, returning whether
// it was newly created.
func (e *Engine) XGroupCreateConsumer(ctx context.Context, tx storage.Tx, db engine.DBIndex, name, group, consumer []byte) (bool, error) {
	keyID, err := e.resolveStream(ctx, tx, db, name)
	if err != nil {
		return false, err
	}
	res, err := tx.Exec(ctx, `INSERT OR IGNORE INTO stream_consumers (key_id, group_name, name) VALUES (?, ?, ?)`,
		int64(keyID), group, consumer)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// XGroupDelConsumer removes consumer (and its PEL entries) from group, returning the count of
// pending entries it held.
func (e *Engine) XGroupDelConsumer(ctx context.Context, tx storage.Tx, db engine.DBIndex, name, group, consumer []byte) (int64, error) {
	keyID, err := e.resolveStream(ctx, tx, db, name)
	if err != nil {
		return 0, err
	}
	var pending int64
	_ = tx.QueryRow(ctx, `SELECT COUNT(*) FROM stream_pel WHERE key_id = ? AND group_name = ? AND consumer = ?`,
		int64(keyID), group, consumer).Scan(&pending)
	if _, err := tx.Exec(ctx, `DELETE FROM stream_pel WHERE key_id = ? AND group_name = ? AND consumer = ?`, int64(keyID), group, consumer); err != nil {
		return 0, err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM stream_consumers WHERE key_id = ? AND group_name = ? AND name = ?`, int64(keyID), group, consumer); err != nil {
		return 0, err
	}
	return pending, nil
}

func (e *Engine) groupLastDelivered(ctx context.Context, tx storage.Tx, keyID engine.KeyID, group []byte) (ID, error) {
	var id ID
	err := tx.QueryRow(ctx, `SELECT last_delivered_ms, last_delivered_seq FROM stream_groups WHERE key_id = ? AND name = ?`,
		int64(keyID), group).Scan(&id.Ms, &id.Seq)
	if err == sql.ErrNoRows {
		return ID{}, engine.ErrNoGroup
	}
	return id, err
}

// ensureConsumer upserts the consumer row, bumping idle_since_ms to now.
func (e *Engine) ensureConsumer(ctx context.Context, tx storage.Tx, keyID engine.KeyID, group, consumer []byte, nowMs int64) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO stream_consumers (key_id, group_name, name, idle_since_ms) VALUES (?, ?, ?, ?)
		 ON CONFLICT(key_id, group_name, name) DO UPDATE SET idle_since_ms = excluded.idle_since_ms`,
		int64(keyID), group, consumer, nowMs)
	return err
}

// XReadGroup delivers up to count new entries (ID > group's last-delivered) to consumer,
// recording each in the PEL with delivery_count=1, and advances the group cursor.
func (e *Engine) XReadGroup(ctx context.Context, tx storage.Tx, db engine.DBIndex, name, group, consumer []byte, count int64, nowMs int64) ([]Entry, error) {
	keyID, err := e.resolveStream(ctx, tx, db, name)
	if err != nil {
		return nil, err
	}
	last, err := e.groupLastDelivered(ctx, tx, keyID, group)
	if err != nil {
		return nil, err
	}
	if err := e.ensureConsumer(ctx, tx, keyID, group, consumer, nowMs); err != nil {
		return nil, err
	}

	q := `SELECT ms, seq, payload FROM stream_entries WHERE key_id = ? AND (ms > ? OR (ms = ? AND seq > ?)) ORDER BY ms ASC, seq ASC`
	args := []any{int64(keyID), last.Ms, last.Ms, last.Seq}
	if count > 0 {
		q += ` LIMIT ?`
		args = append(args, count)
	}
	entries, err := e.queryEntries(ctx, tx, q, args)
	if err != nil || len(entries) == 0 {
		return entries, err
	}

	for _, en := range entries {
		if _, err := tx.Exec(ctx,
			`INSERT INTO stream_pel (key_id, group_name, entry_ms, entry_seq, consumer, delivery_time_ms, delivery_count) VALUES (?, ?, ?, ?, ?, ?, 1)`,
			int64(keyID), group, en.ID.Ms, en.ID.Seq, consumer, nowMs,
		); err != nil {
			return nil, err
		}
	}
	newLast := entries[len(entries)-1].ID
	if err := e.XGroupSetID(ctx, tx, db, name, group, newLast); err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx, `UPDATE stream_consumers SET pending_count = pending_count + ? WHERE key_id = ? AND group_name = ? AND name = ?`,
		int64(len(entries)), int64(keyID), group, consumer); err != nil {
		return nil, err
	}
	return entries, nil
}

// XAck removes ids from the group's PEL, returning the count actually acknowledged.
func (e *Engine) XAck(ctx context.Context, tx storage.Tx, db engine.DBIndex, name, group []byte, ids []ID) (int64, error) {
	keyID, err := e.resolveStream(ctx, tx, db, name)
	if err != nil {
		return 0, err
	}
	var acked int64
	for _, id := range ids {
		var consumer []byte
		err := tx.QueryRow(ctx, `SELECT consumer FROM stream_pel WHERE key_id = ? AND group_name = ? AND entry_ms = ? AND entry_seq = ?`,
			int64(keyID), group, id.Ms, id.Seq).Scan(&consumer)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return 0, err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM stream_pel WHERE key_id = ? AND group_name = ? AND entry_ms = ? AND entry_seq = ?`,
			int64(keyID), group, id.Ms, id.Seq); err != nil {
			return 0, err
		}
		if _, err := tx.Exec(ctx, `UPDATE stream_consumers SET pending_count = pending_count - 1 WHERE key_id = ? AND group_name = ? AND name = ?`,
			int64(keyID), group, consumer); err != nil {
			return 0, err
		}
		acked++
	}
	return acked, nil
}

// XPendingSummary is XPENDING's no-range summary form.
type XPendingSummary struct {
	Count     int64
	MinID     ID
	MaxID     ID
	Consumers map[string]int64
}

// XPending returns the group's overall pending summary.
func (e *Engine) XPending(ctx context.Context, tx storage.Tx, db engine.DBIndex, name, group []byte) (XPendingSummary, error) {
	keyID, err := e.resolveStream(ctx, tx, db, name)
	if err != nil {
		return XPendingSummary{}, err
	}
	if _, err := e.groupLastDelivered(ctx, tx, keyID, group); err != nil {
		return XPendingSummary{}, err
	}
	rows, err := tx.Query(ctx, `SELECT entry_ms, entry_seq, consumer FROM stream_pel WHERE key_id = ? AND group_name = ? ORDER BY entry_ms, entry_seq`,
		int64(keyID), group)
	if err != nil {
		return XPendingSummary{}, err
	}
	defer rows.Close()

	summary := XPendingSummary{Consumers: map[string]int64{}}
	first := true
	for rows.Next() {
		var id ID
		var consumer []byte
		if err := rows.Scan(&id.Ms, &id.Seq, &consumer); err != nil {
			return XPendingSummary{}, err
		}
		if first {
			summary.MinID = id
			first = false
		}
		summary.MaxID = id
		summary.Count++
		summary.Consumers[string(consumer)]++
	}
	return summary, rows.Err()
}

// XPendingRange returns the detailed PEL entries in [start, end] for group, optionally filtered
// to one consumer (nil means all), capped at count.
func (e *Engine) XPendingRange(ctx context.Context, tx storage.Tx, db engine.DBIndex, name, group []byte, start, end ID, count int64, consumer []byte) ([]PendingEntry, error) {
	keyID, err := e.resolveStream(ctx, tx, db, name)
	if err != nil {
		return nil, err
	}
	if _, err := e.groupLastDelivered(ctx, tx, keyID, group); err != nil {
		return nil, err
	}
	q := `SELECT entry_ms, entry_seq, consumer, delivery_time_ms, delivery_count FROM stream_pel
	      WHERE key_id = ? AND group_name = ? AND (entry_ms > ? OR (entry_ms = ? AND entry_seq >= ?))
	      AND (entry_ms < ? OR (entry_ms = ? AND entry_seq <= ?))`
	args := []any{int64(keyID), group, start.Ms, start.Ms, start.Seq, end.Ms, end.Ms, end.Seq}
	if consumer != nil {
		q += ` AND consumer = ?`
		args = append(args, consumer)
	}
	q += ` ORDER BY entry_ms, entry_seq`
	if count > 0 {
		q += ` LIMIT ?`
		args = append(args, count)
	}

	rows, err := tx.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PendingEntry
	for rows.Next() {
		var p PendingEntry
		if err := rows.Scan(&p.ID.Ms, &p.ID.Seq, &p.Consumer, &p.DeliveryTime, &p.DeliveryCount); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// XClaim reassigns ids to consumer if their idle time is ≥ minIdleMs, bumping delivery_count
// unless justID is set (XCLAIM ... JUSTID). Returns the claimed entries.
func (e *Engine) XClaim(ctx context.Context, tx storage.Tx, db engine.DBIndex, name, group, consumer []byte, ids []ID, minIdleMs, nowMs int64, justID bool) ([]Entry, error) {
	keyID, err := e.resolveStream(ctx, tx, db, name)
	if err != nil {
		return nil, err
	}
	if _, err := e.groupLastDelivered(ctx, tx, keyID, group); err != nil {
		return nil, err
	}
	if err := e.ensureConsumer(ctx, tx, keyID, group, consumer, nowMs); err != nil {
		return nil, err
	}

	var claimed []Entry
	for _, id := range ids {
		var oldConsumer []byte
		var deliveryTime, deliveryCount int64
		err := tx.QueryRow(ctx, `SELECT consumer, delivery_time_ms, delivery_count FROM stream_pel WHERE key_id = ? AND group_name = ? AND entry_ms = ? AND entry_seq = ?`,
			int64(keyID), group, id.Ms, id.Seq).Scan(&oldConsumer, &deliveryTime, &deliveryCount)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, err
		}
		if nowMs-deliveryTime < minIdleMs {
			continue
		}

		newCount := deliveryCount
		if !justID {
			newCount++
		}
		if _, err := tx.Exec(ctx,
			`UPDATE stream_pel SET consumer=?, delivery_time_ms=?, delivery_count=? WHERE key_id=? AND group_name=? AND entry_ms=? AND entry_seq=?`,
			consumer, nowMs, newCount, int64(keyID), group, id.Ms, id.Seq,
		); err != nil {
			return nil, err
		}
		if string(oldConsumer) != string(consumer) {
			if _, err := tx.Exec(ctx, `UPDATE stream_consumers SET pending_count = pending_count - 1 WHERE key_id=? AND group_name=? AND name=?`,
				int64(keyID), group, oldConsumer); err != nil {
				return nil, err
			}
			if _, err := tx.Exec(ctx, `UPDATE stream_consumers SET pending_count = pending_count + 1 WHERE key_id=? AND group_name=? AND name=?`,
				int64(keyID), group, consumer); err != nil {
				return nil, err
			}
		}

		var payload []byte
		err = tx.QueryRow(ctx, `SELECT payload FROM stream_entries WHERE key_id=? AND ms=? AND seq=?`, int64(keyID), id.Ms, id.Seq).Scan(&payload)
		if err == sql.ErrNoRows {
			claimed = append(claimed, Entry{ID: id})
			continue
		}
		if err != nil {
			return nil, err
		}
		claimed = append(claimed, Entry{ID: id, Fields: decodeFields(payload)})
	}
	return claimed, nil
}

// XAutoClaim sweeps the PEL in ID order starting at cursor, claiming up to count entries idle ≥
// minIdleMs, returning the next cursor (Zero when the sweep reaches the end).
func (e *Engine) XAutoClaim(ctx context.Context, tx storage.Tx, db engine.DBIndex, name, group, consumer []byte, minIdleMs int64, cursor ID, count int64, nowMs int64) (ID, []Entry, []ID, error) {
	keyID, err := e.resolveStream(ctx, tx, db, name)
	if err != nil {
		return Zero, nil, nil, err
	}
	if _, err := e.groupLastDelivered(ctx, tx, keyID, group); err != nil {
		return Zero, nil, nil, err
	}
	rows, err := tx.Query(ctx,
		`SELECT entry_ms, entry_seq, delivery_time_ms FROM stream_pel WHERE key_id = ? AND group_name = ? AND (entry_ms > ? OR (entry_ms = ? AND entry_seq >= ?)) ORDER BY entry_ms, entry_seq LIMIT ?`,
		int64(keyID), group, cursor.Ms, cursor.Ms, cursor.Seq, count)
	if err != nil {
		return Zero, nil, nil, err
	}
	var candidates []ID
	n := 0
	for rows.Next() {
		var id ID
		var deliveryTime int64
		if err := rows.Scan(&id.Ms, &id.Seq, &deliveryTime); err != nil {
			rows.Close()
			return Zero, nil, nil, err
		}
		n++
		if nowMs-deliveryTime >= minIdleMs {
			candidates = append(candidates, id)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return Zero, nil, nil, err
	}

	next := Zero
	if int64(n) == count {
		next = candidates[len(candidates)-1]
	}

	var deleted []ID
	claimed, err := e.XClaim(ctx, tx, db, name, group, consumer, candidates, 0, nowMs, false)
	if err != nil {
		return Zero, nil, nil, err
	}
	var live []Entry
	for _, en := range claimed {
		if en.Fields == nil {
			deleted = append(deleted, en.ID)
			if _, err := tx.Exec(ctx, `DELETE FROM stream_pel WHERE key_id=? AND group_name=? AND entry_ms=? AND entry_seq=?`,
				int64(keyID), group, en.ID.Ms, en.ID.Seq); err != nil {
				return Zero, nil, nil, err
			}
			continue
		}
		live = append(live, en)
	}
	return next, live, deleted, nil
}

// XInfoStream returns summary metadata about the stream.
func (e *Engine) XInfoStream(ctx context.Context, tx storage.Tx, db engine.DBIndex, name []byte) (Meta, error) {
	keyID, err := e.resolveStream(ctx, tx, db, name)
	if err != nil {
		return Meta{}, err
	}
	return e.meta(ctx, tx, keyID)
}

// XInfoGroups lists every consumer group on the stream.
func (e *Engine) XInfoGroups(ctx context.Context, tx storage.Tx, db engine.DBIndex, name []byte) ([]GroupInfo, error) {
	keyID, err := e.resolveStream(ctx, tx, db, name)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, `SELECT name, last_delivered_ms, last_delivered_seq FROM stream_groups WHERE key_id = ?`, int64(keyID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []GroupInfo
	for rows.Next() {
		var g GroupInfo
		if err := rows.Scan(&g.Name, &g.LastDelivered.Ms, &g.LastDelivered.Seq); err != nil {
			return nil, err
		}
		_ = tx.QueryRow(ctx, `SELECT COUNT(*) FROM stream_pel WHERE key_id = ? AND group_name = ?`, int64(keyID), g.Name).Scan(&g.PelCount)
		out = append(out, g)
	}
	return out, rows.Err()
}

// XInfoConsumers lists every consumer registered on group.
func (e *Engine) XInfoConsumers(ctx context.Context, tx storage.Tx, db engine.DBIndex, name, group []byte) ([]ConsumerInfo, error) {
	keyID, err := e.resolveStream(ctx, tx, db, name)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, `SELECT name, pending_count, idle_since_ms FROM stream_consumers WHERE key_id = ? AND group_name = ?`,
		int64(keyID), group)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ConsumerInfo
	for rows.Next() {
		var c ConsumerInfo
		if err := rows.Scan(&c.Name, &c.PendingCount, &c.IdleSinceMs); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
