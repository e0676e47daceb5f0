package keydir

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redlite/redlite/internal/engine"
	"github.com/redlite/redlite/internal/storage"
)

// Keys returns every live key name in db matching pattern, taken from a single read-only
// transaction snapshot (Open Question resolution, SPEC_FULL.md §"Open Questions": KEYS is
// snapshot-consistent, unlike SCAN). Expired rows are skipped but not deleted — KEYS runs on a
// read-only transaction and lazy expiry is a write, so expiry of stale rows seen here is left to
// the next command that resolves them individually, or to the vacuum sweeper.
func (d *Directory) Keys(ctx context.Context, store storage.PageStore, db engine.DBIndex, pattern string) ([][]byte, error) {
	var out [][]byte
	err := store.WithROTx(ctx, func(tx storage.Tx) error {
		rows, err := tx.Query(ctx, `SELECT name, expires_at_ms FROM keys WHERE db_idx = ?`, int(db))
		if err != nil {
			return err
		}
		defer rows.Close()

		now := engine.NowMs()
		pat := []byte(pattern)
		for rows.Next() {
			var name []byte
			var expiresAt *int64
			if err := rows.Scan(&name, &expiresAt); err != nil {
				return err
			}
			if expiresAt != nil && *expiresAt <= now {
				continue
			}
			if globMatch(pat, name) {
				cp := make([]byte, len(name))
				copy(cp, name)
				out = append(out, cp)
			}
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("keydir: keys: %w", err)
	}
	return out, nil
}

// ScanCursor is the opaque cursor SCAN hands back to the caller. It is just the last key_id
// observed, but callers must treat it as opaque per spec §4.C "Scan cursor contract".
type ScanCursor uint64

// ScanResult is one page of a SCAN walk.
type ScanResult struct {
	Next ScanCursor
	Keys [][]byte
}

// Scan walks keys in db in key_id order starting after cursor, matching pattern, returning at
// most countHint keys (best-effort; actual page sizes vary with how many non-matching or
// expired rows are skipped). A returned Next of 0 means the walk is complete. Because each page
// is its own short read transaction rather than one long-lived snapshot, SCAN only guarantees
// that a key present for the whole walk is returned at least once (spec §4.C) — it may also
// return a key that was inserted and matches after the cursor passed its position, and it may
// skip one deleted mid-walk.
func (d *Directory) Scan(ctx context.Context, store storage.PageStore, db engine.DBIndex, cursor ScanCursor, pattern string, countHint int) (ScanResult, error) {
	if countHint <= 0 {
		countHint = 10
	}
	pat := []byte(pattern)

	var result ScanResult
	err := store.WithROTx(ctx, func(tx storage.Tx) error {
		rows, err := tx.Query(ctx,
			`SELECT key_id, name, expires_at_ms FROM keys WHERE db_idx = ? AND key_id > ? ORDER BY key_id LIMIT ?`,
			int(db), int64(cursor), countHint,
		)
		if err != nil {
			return err
		}
		defer rows.Close()

		now := engine.NowMs()
		var lastID int64
		n := 0
		for rows.Next() {
			var id int64
			var name []byte
			var expiresAt *int64
			if err := rows.Scan(&id, &name, &expiresAt); err != nil {
				return err
			}
			lastID = id
			n++
			if expiresAt != nil && *expiresAt <= now {
				continue
			}
			if globMatch(pat, name) {
				cp := make([]byte, len(name))
				copy(cp, name)
				result.Keys = append(result.Keys, cp)
			}
		}
		if err := rows.Err(); err != nil {
			return err
		}
		if n == countHint {
			result.Next = ScanCursor(lastID)
		} else {
			result.Next = 0
		}
		return nil
	})
	if err != nil {
		return ScanResult{}, fmt.Errorf("keydir: scan: %w", err)
	}
	return result, nil
}

// ParseScanCursor parses a SCAN cursor token received from a client back into a ScanCursor.
func ParseScanCursor(token string) (ScanCursor, error) {
	v, err := strconv.ParseUint(token, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid cursor", engine.ErrSyntax)
	}
	return ScanCursor(v), nil
}

// String renders the cursor the way it is sent back over RESP (a decimal string; "0" means done).
func (c ScanCursor) String() string {
	return strconv.FormatUint(uint64(c), 10)
}
