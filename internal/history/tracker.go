// Package history implements the History Tracker (spec §4.I): a per-key/per-db/global version
// log with COUNT/TIME retention and point-in-time lookup. Modeled on the teacher's
// pkg/history/cache Manager (an L1 in-process cache fronting a slower backing store) but
// re-purposed: the "slower backing store" here is the page store's own history_entries table,
// not a second Redis tier, since redlite has nothing to put behind its own cache.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/redlite/redlite/internal/engine"
	"github.com/redlite/redlite/internal/storage"
)

// defaultL1Capacity bounds how many keys' full version lists the in-process cache holds at
// once — a repeated-GETAT workload on a hot key stays off the page store entirely.
const defaultL1Capacity = 4096

// Entry is one recorded version of a key (spec §4.I "History entry").
type Entry struct {
	Version  int64
	Op       string
	AtMs     int64
	Kind     engine.Kind
	Snapshot []byte
}

// Tracker records and serves per-key version history. Scope resolution is nearest-wins:
// per-key overrides per-database overrides the global default.
type Tracker struct {
	mu     sync.RWMutex
	global Policy
	perDB  map[engine.DBIndex]Policy
	perKey map[engine.KeyID]Policy

	l1     *lru.Cache[engine.KeyID, []Entry]
	logger *slog.Logger
}

// New builds a Tracker with global as the default policy when no narrower scope overrides it.
func New(global Policy, logger *slog.Logger) (*Tracker, error) {
	if logger == nil {
		logger = slog.Default()
	}
	l1, err := lru.New[engine.KeyID, []Entry](defaultL1Capacity)
	if err != nil {
		return nil, fmt.Errorf("history: new l1 cache: %w", err)
	}
	return &Tracker{
		global: global,
		perDB:  make(map[engine.DBIndex]Policy),
		perKey: make(map[engine.KeyID]Policy),
		l1:     l1,
		logger: logger.With("component", "history"),
	}, nil
}

// SetGlobalPolicy replaces the global default.
func (t *Tracker) SetGlobalPolicy(p Policy) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.global = p
}

// SetDBPolicy overrides retention for one database. Use RemoveDBPolicy to clear the override —
// NoneRetention() is itself a valid explicit override, not the same as "no override".
func (t *Tracker) SetDBPolicy(db engine.DBIndex, p Policy) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.perDB[db] = p
}

// RemoveDBPolicy clears db's override, reverting it to the global default.
func (t *Tracker) RemoveDBPolicy(db engine.DBIndex) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.perDB, db)
}

// SetKeyPolicy overrides retention for one key, the narrowest scope.
func (t *Tracker) SetKeyPolicy(keyID engine.KeyID, p Policy) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.perKey[keyID] = p
}

// RemoveKeyPolicy clears keyID's override, reverting it to its database's (or the global)
// default.
func (t *Tracker) RemoveKeyPolicy(keyID engine.KeyID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.perKey, keyID)
}

func (t *Tracker) resolve(db engine.DBIndex, keyID engine.KeyID) Policy {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if p, ok := t.perKey[keyID]; ok {
		return p
	}
	if p, ok := t.perDB[db]; ok {
		return p
	}
	return t.global
}

// Record appends a new version for keyID if its resolved policy enables tracking, then enforces
// that policy's retention bound. No-op if tracking is disabled for keyID (spec: "Every mutating
// command on a tracked key appends..." — untracked keys append nothing).
func (t *Tracker) Record(ctx context.Context, tx storage.Tx, keyID engine.KeyID, db engine.DBIndex, op string, kind engine.Kind, snapshot []byte) error {
	policy := t.resolve(db, keyID)
	if !policy.Enabled() {
		return nil
	}

	var version int64
	err := tx.QueryRow(ctx, `SELECT COALESCE(MAX(version), 0) + 1 FROM history_entries WHERE key_id = ?`, int64(keyID)).Scan(&version)
	if err != nil {
		return fmt.Errorf("history: next version for %d: %w", keyID, err)
	}

	now := engine.NowMs()
	_, err = tx.Exec(ctx,
		`INSERT INTO history_entries (key_id, version, op, at_ms, kind, snapshot) VALUES (?, ?, ?, ?, ?, ?)`,
		int64(keyID), version, op, now, string(kind), snapshot)
	if err != nil {
		return fmt.Errorf("history: insert version for %d: %w", keyID, err)
	}

	if err := t.enforceRetention(ctx, tx, keyID, policy, now); err != nil {
		return err
	}

	t.l1.Remove(keyID)
	return nil
}

func (t *Tracker) enforceRetention(ctx context.Context, tx storage.Tx, keyID engine.KeyID, policy Policy, now int64) error {
	switch policy.Kind {
	case RetentionCount:
		_, err := tx.Exec(ctx,
			`DELETE FROM history_entries WHERE key_id = ? AND version <= (SELECT MAX(version) FROM history_entries WHERE key_id = ?) - ?`,
			int64(keyID), int64(keyID), policy.Count)
		if err != nil {
			return fmt.Errorf("history: enforce count retention for %d: %w", keyID, err)
		}
	case RetentionTime:
		cutoff := now - policy.TTLMs
		_, err := tx.Exec(ctx, `DELETE FROM history_entries WHERE key_id = ? AND at_ms < ?`, int64(keyID), cutoff)
		if err != nil {
			return fmt.Errorf("history: enforce time retention for %d: %w", keyID, err)
		}
	}
	return nil
}

// GetAt returns the entry with the largest at_ms <= atMs for keyID (spec §4.I "HISTORY GETAT
// t"), or (_, false, nil) if no such version exists.
func (t *Tracker) GetAt(ctx context.Context, tx storage.Tx, keyID engine.KeyID, atMs int64) (Entry, bool, error) {
	entries, err := t.versions(ctx, tx, keyID)
	if err != nil {
		return Entry{}, false, err
	}

	best := -1
	for i, e := range entries {
		if e.AtMs > atMs {
			continue
		}
		if best == -1 || e.AtMs > entries[best].AtMs || (e.AtMs == entries[best].AtMs && e.Version > entries[best].Version) {
			best = i
		}
	}
	if best == -1 {
		return Entry{}, false, nil
	}
	return entries[best], true, nil
}

// Versions returns every recorded version for keyID, oldest first.
func (t *Tracker) Versions(ctx context.Context, tx storage.Tx, keyID engine.KeyID) ([]Entry, error) {
	return t.versions(ctx, tx, keyID)
}

func (t *Tracker) versions(ctx context.Context, tx storage.Tx, keyID engine.KeyID) ([]Entry, error) {
	if cached, ok := t.l1.Get(keyID); ok {
		return cached, nil
	}

	rows, err := tx.Query(ctx,
		`SELECT version, op, at_ms, kind, snapshot FROM history_entries WHERE key_id = ? ORDER BY version ASC`,
		int64(keyID))
	if err != nil {
		return nil, fmt.Errorf("history: load versions for %d: %w", keyID, err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var kind string
		var snapshot sql.NullString
		if err := rows.Scan(&e.Version, &e.Op, &e.AtMs, &kind, &snapshot); err != nil {
			return nil, fmt.Errorf("history: scan version for %d: %w", keyID, err)
		}
		e.Kind = engine.Kind(kind)
		if snapshot.Valid {
			e.Snapshot = []byte(snapshot.String)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	t.l1.Add(keyID, entries)
	return entries, nil
}

// Forget drops keyID's cached versions and any per-key policy override, called once keyID has
// been permanently pruned from history_entries (not on ordinary key deletion — history
// deliberately outlives the key it describes, spec §4.I).
func (t *Tracker) Forget(keyID engine.KeyID) {
	t.mu.Lock()
	delete(t.perKey, keyID)
	t.mu.Unlock()
	t.l1.Remove(keyID)
}

// Prune drops every history row older than beforeMs across all keys (spec §4.I "HISTORY PRUNE
// before_ms"), returning the number of rows removed.
func (t *Tracker) Prune(ctx context.Context, tx storage.Tx, beforeMs int64) (int64, error) {
	result, err := tx.Exec(ctx, `DELETE FROM history_entries WHERE at_ms < ?`, beforeMs)
	if err != nil {
		return 0, fmt.Errorf("history: prune: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	t.l1.Purge()
	return n, nil
}
