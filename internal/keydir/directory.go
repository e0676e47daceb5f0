// Package keydir implements the Key Directory (spec §4.C): the single source of truth for key
// identity, type, TTL, and timestamps, and the mediator of lazy expiration. Every command that
// consumes a key calls Resolve, which folds in the TTL check, the way spec §4.C's "Lazy expiry
// contract" requires.
package keydir

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/redlite/redlite/internal/engine"
	"github.com/redlite/redlite/internal/storage"
)

// Directory mediates key-name to key-id resolution and owns the `keys` table. It holds no
// page-store transaction itself — every method takes the caller's storage.Tx so it composes
// with type-engine writes inside one ACID transaction (spec §3.3).
type Directory struct {
	watch *WatchRegistry
}

// New creates a Directory with its own in-process WATCH revision registry (spec §4.F, §9).
func New() *Directory {
	return &Directory{watch: NewWatchRegistry()}
}

// Watch exposes the directory's revision registry to the transaction engine.
func (d *Directory) Watch() *WatchRegistry { return d.watch }

// Resolve looks up (db, name), deleting it first if its TTL has elapsed (spec §3.2 invariant 2,
// §4.C). Returns (nil, nil) if the key is absent or was just lazily expired.
func (d *Directory) Resolve(ctx context.Context, tx storage.Tx, db engine.DBIndex, name []byte) (*engine.KeyRecord, error) {
	rec, err := d.lookup(ctx, tx, db, name)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}

	now := engine.NowMs()
	if rec.Expired(now) {
		if err := d.deleteRow(ctx, tx, rec.KeyID); err != nil {
			return nil, err
		}
		d.watch.Bump(rec.KeyID)
		return nil, nil
	}

	return rec, nil
}

// ResolveTyped is Resolve plus a WRONGTYPE check against the expected kind. It returns
// (nil, nil) if the key is absent, and engine.ErrWrongType if it exists with a different kind.
func (d *Directory) ResolveTyped(ctx context.Context, tx storage.Tx, db engine.DBIndex, name []byte, want engine.Kind) (*engine.KeyRecord, error) {
	rec, err := d.Resolve(ctx, tx, db, name)
	if err != nil || rec == nil {
		return rec, err
	}
	if rec.Kind != want {
		return nil, engine.ErrWrongType
	}
	return rec, nil
}

func (d *Directory) lookup(ctx context.Context, tx storage.Tx, db engine.DBIndex, name []byte) (*engine.KeyRecord, error) {
	row := tx.QueryRow(ctx,
		`SELECT key_id, kind, created_at_ms, updated_at_ms, expires_at_ms FROM keys WHERE db_idx = ? AND name = ?`,
		int(db), name,
	)

	var rec engine.KeyRecord
	var kind string
	var expiresAt sql.NullInt64
	if err := row.Scan(&rec.KeyID, &kind, &rec.CreatedAtMs, &rec.UpdatedAtMs, &expiresAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("keydir: lookup %q: %w", name, err)
	}
	rec.DBIndex = db
	rec.Name = name
	rec.Kind = engine.Kind(kind)
	if expiresAt.Valid {
		v := expiresAt.Int64
		rec.ExpiresAtMs = &v
	}
	return &rec, nil
}

// Create returns the key_id for (db, name), creating it with kind if absent. If a live key
// exists with a different kind, it fails with engine.ErrWrongType (spec §4.C "retype_forbidden").
// If it exists with the same kind, its existing key_id is returned unchanged.
func (d *Directory) Create(ctx context.Context, tx storage.Tx, db engine.DBIndex, name []byte, kind engine.Kind) (engine.KeyID, error) {
	rec, err := d.Resolve(ctx, tx, db, name)
	if err != nil {
		return 0, err
	}
	if rec != nil {
		if rec.Kind != kind {
			return 0, engine.ErrWrongType
		}
		return rec.KeyID, nil
	}

	now := engine.NowMs()
	result, err := tx.Exec(ctx,
		`INSERT INTO keys (db_idx, name, kind, created_at_ms, updated_at_ms) VALUES (?, ?, ?, ?, ?)`,
		int(db), name, string(kind), now, now,
	)
	if err != nil {
		return 0, fmt.Errorf("keydir: create %q: %w", name, err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("keydir: create %q: reading key_id: %w", name, err)
	}
	return engine.KeyID(id), nil
}

// TouchUpdated sets updated_at_ms = now for keyID (spec §4.C) and bumps its WATCH revision.
func (d *Directory) TouchUpdated(ctx context.Context, tx storage.Tx, keyID engine.KeyID) error {
	_, err := tx.Exec(ctx, `UPDATE keys SET updated_at_ms = ? WHERE key_id = ?`, engine.NowMs(), int64(keyID))
	if err != nil {
		return fmt.Errorf("keydir: touch %d: %w", keyID, err)
	}
	d.watch.Bump(keyID)
	return nil
}

// SetTTL sets or clears keyID's absolute expiry (spec §4.C). A nil absoluteMs clears the TTL.
func (d *Directory) SetTTL(ctx context.Context, tx storage.Tx, keyID engine.KeyID, absoluteMs *int64) error {
	_, err := tx.Exec(ctx, `UPDATE keys SET expires_at_ms = ? WHERE key_id = ?`, absoluteMs, int64(keyID))
	if err != nil {
		return fmt.Errorf("keydir: set ttl %d: %w", keyID, err)
	}
	d.watch.Bump(keyID)
	return nil
}

// Delete removes keyID and, via ON DELETE CASCADE, every per-type row, PEL entry, and consumer
// group row that references it, plus any history entries (which carry no FK, by design, so that
// pruning policy rather than key lifetime governs their retention — spec §4.I). All in tx.
func (d *Directory) Delete(ctx context.Context, tx storage.Tx, keyID engine.KeyID) error {
	if err := d.deleteRow(ctx, tx, keyID); err != nil {
		return err
	}
	d.watch.Bump(keyID)
	return nil
}

func (d *Directory) deleteRow(ctx context.Context, tx storage.Tx, keyID engine.KeyID) error {
	// history_entries rows are deliberately left in place: internal/history's retention policy
	// (COUNT/TIME) or an explicit HISTORY PRUNE governs their lifetime, not this key's.
	if _, err := tx.Exec(ctx, `DELETE FROM keys WHERE key_id = ?`, int64(keyID)); err != nil {
		return fmt.Errorf("keydir: delete %d: %w", keyID, err)
	}
	return nil
}

// Exists is a convenience wrapper returning whether a live, unexpired key exists.
func (d *Directory) Exists(ctx context.Context, tx storage.Tx, db engine.DBIndex, name []byte) (bool, error) {
	rec, err := d.Resolve(ctx, tx, db, name)
	return rec != nil, err
}

// FlushDB deletes every key (and cascaded rows) in db.
func (d *Directory) FlushDB(ctx context.Context, tx storage.Tx, db engine.DBIndex) (int, error) {
	rows, err := tx.Query(ctx, `SELECT key_id FROM keys WHERE db_idx = ?`, int(db))
	if err != nil {
		return 0, err
	}
	var ids []engine.KeyID
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		ids = append(ids, engine.KeyID(id))
	}
	rows.Close()

	for _, id := range ids {
		if err := d.Delete(ctx, tx, id); err != nil {
			return 0, err
		}
	}
	return len(ids), nil
}

// DBSize returns the number of live keys in db, not accounting for lazily-unexpired rows still
// sitting in the table (matching Redis's DBSIZE, which is also an approximation under TTL).
func (d *Directory) DBSize(ctx context.Context, tx storage.Tx, db engine.DBIndex) (int64, error) {
	var n int64
	err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM keys WHERE db_idx = ?`, int(db)).Scan(&n)
	return n, err
}
