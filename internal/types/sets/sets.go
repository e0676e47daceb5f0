// Package sets implements the set type engine (spec §4.D.4): unordered unique member collections
// stored one row per member in `set_members`, plus the inter-set algebra commands.
package sets

import (
	"context"
	"database/sql"
	"math/rand"

	"github.com/redlite/redlite/internal/engine"
	"github.com/redlite/redlite/internal/keydir"
	"github.com/redlite/redlite/internal/storage"
)

// Engine executes set commands.
type Engine struct {
	Dir *keydir.Directory
}

// New builds a set Engine bound to dir.
func New(dir *keydir.Directory) *Engine {
	return &Engine{Dir: dir}
}

func (e *Engine) card(ctx context.Context, tx storage.Tx, keyID engine.KeyID) (int64, error) {
	var n int64
	err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM set_members WHERE key_id = ?`, int64(keyID)).Scan(&n)
	return n, err
}

func (e *Engine) destroyIfEmpty(ctx context.Context, tx storage.Tx, keyID engine.KeyID) error {
	n, err := e.card(ctx, tx, keyID)
	if err != nil {
		return err
	}
	if n == 0 {
		return e.Dir.Delete(ctx, tx, keyID)
	}
	return nil
}

// SAdd adds members, returning the count newly added (SADD is idempotent for duplicates).
func (e *Engine) SAdd(ctx context.Context, tx storage.Tx, db engine.DBIndex, name []byte, members [][]byte) (int64, error) {
	keyID, err := e.Dir.Create(ctx, tx, db, name, engine.KindSet)
	if err != nil {
		return 0, err
	}
	var added int64
	for _, m := range members {
		res, err := tx.Exec(ctx, `INSERT OR IGNORE INTO set_members (key_id, member) VALUES (?, ?)`, int64(keyID), m)
		if err != nil {
			return 0, err
		}
		n, _ := res.RowsAffected()
		added += n
	}
	if added > 0 {
		if err := e.Dir.TouchUpdated(ctx, tx, keyID); err != nil {
			return 0, err
		}
	}
	return added, nil
}

// SRem removes members, destroying the key if it becomes empty, and returns the count removed.
func (e *Engine) SRem(ctx context.Context, tx storage.Tx, db engine.DBIndex, name []byte, members [][]byte) (int64, error) {
	rec, err := e.Dir.ResolveTyped(ctx, tx, db, name, engine.KindSet)
	if err != nil || rec == nil {
		return 0, err
	}
	var removed int64
	for _, m := range members {
		res, err := tx.Exec(ctx, `DELETE FROM set_members WHERE key_id = ? AND member = ?`, int64(rec.KeyID), m)
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

// SMembers returns every member, in no particular order.
func (e *Engine) SMembers(ctx context.Context, tx storage.Tx, db engine.DBIndex, name []byte) ([][]byte, error) {
	rec, err := e.Dir.ResolveTyped(ctx, tx, db, name, engine.KindSet)
	if err != nil || rec == nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, `SELECT member FROM set_members WHERE key_id = ?`, int64(rec.KeyID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out [][]byte
	for rows.Next() {
		var m []byte
		if err := rows.Scan(&m); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// SIsMember reports whether member is present.
func (e *Engine) SIsMember(ctx context.Context, tx storage.Tx, db engine.DBIndex, name, member []byte) (bool, error) {
	rec, err := e.Dir.ResolveTyped(ctx, tx, db, name, engine.KindSet)
	if err != nil || rec == nil {
		return false, err
	}
	var dummy []byte
	err = tx.QueryRow(ctx, `SELECT member FROM set_members WHERE key_id = ? AND member = ?`, int64(rec.KeyID), member).Scan(&dummy)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

// SCard returns the cardinality, 0 if absent.
func (e *Engine) SCard(ctx context.Context, tx storage.Tx, db engine.DBIndex, name []byte) (int64, error) {
	rec, err := e.Dir.ResolveTyped(ctx, tx, db, name, engine.KindSet)
	if err != nil || rec == nil {
		return 0, err
	}
	return e.card(ctx, tx, rec.KeyID)
}

// SPop removes and returns up to count distinct random members (capped at cardinality). With
// count < 0, SRandMember-only semantics do not apply here; SPop's count is always non-negative.
func (e *Engine) SPop(ctx context.Context, tx storage.Tx, db engine.DBIndex, name []byte, count int64) ([][]byte, error) {
	members, err := e.SMembers(ctx, tx, db, name)
	if err != nil || members == nil {
		return nil, err
	}
	rand.Shuffle(len(members), func(i, j int) { members[i], members[j] = members[j], members[i] })
	if count > int64(len(members)) {
		count = int64(len(members))
	}
	picked := members[:count]
	if len(picked) == 0 {
		return [][]byte{}, nil
	}
	if _, err := e.SRem(ctx, tx, db, name, picked); err != nil {
		return nil, err
	}
	return picked, nil
}

// SRandMember returns a random selection of count members. count==nil means "single member,
// caller unwraps". Positive counts return distinct members capped at cardinality; negative
// counts permit repeats and always return exactly |count| picks.
func (e *Engine) SRandMember(ctx context.Context, tx storage.Tx, db engine.DBIndex, name []byte, count int64, hasCount bool) ([][]byte, error) {
	members, err := e.SMembers(ctx, tx, db, name)
	if err != nil || len(members) == 0 {
		return nil, err
	}
	if !hasCount {
		return [][]byte{members[rand.Intn(len(members))]}, nil
	}
	if count >= 0 {
		rand.Shuffle(len(members), func(i, j int) { members[i], members[j] = members[j], members[i] })
		if count > int64(len(members)) {
			count = int64(len(members))
		}
		return members[:count], nil
	}
	n := -count
	out := make([][]byte, n)
	for i := range out {
		out[i] = members[rand.Intn(len(members))]
	}
	return out, nil
}

// SMove atomically moves member from src to dst, returning whether it was present in src.
func (e *Engine) SMove(ctx context.Context, tx storage.Tx, db engine.DBIndex, src, dst, member []byte) (bool, error) {
	present, err := e.SIsMember(ctx, tx, db, src, member)
	if err != nil || !present {
		return false, err
	}
	if _, err := e.SRem(ctx, tx, db, src, [][]byte{member}); err != nil {
		return false, err
	}
	if _, err := e.SAdd(ctx, tx, db, dst, [][]byte{member}); err != nil {
		return false, err
	}
	return true, nil
}

func toSet(members [][]byte) map[string]struct{} {
	m := make(map[string]struct{}, len(members))
	for _, v := range members {
		m[string(v)] = struct{}{}
	}
	return m
}

// combine implements SINTER/SUNION/SDIFF over an arbitrary number of source sets.
func (e *Engine) combine(ctx context.Context, tx storage.Tx, db engine.DBIndex, names [][]byte, op string) ([][]byte, error) {
	sets := make([]map[string]struct{}, len(names))
	for i, n := range names {
		members, err := e.SMembers(ctx, tx, db, n)
		if err != nil {
			return nil, err
		}
		sets[i] = toSet(members)
	}

	var result map[string]struct{}
	switch op {
	case "inter":
		if len(sets) == 0 {
			return [][]byte{}, nil
		}
		result = sets[0]
		for _, s := range sets[1:] {
			next := make(map[string]struct{})
			for k := range result {
				if _, ok := s[k]; ok {
					next[k] = struct{}{}
				}
			}
			result = next
		}
	case "union":
		result = make(map[string]struct{})
		for _, s := range sets {
			for k := range s {
				result[k] = struct{}{}
			}
		}
	case "diff":
		result = make(map[string]struct{})
		if len(sets) > 0 {
			for k := range sets[0] {
				result[k] = struct{}{}
			}
			for _, s := range sets[1:] {
				for k := range s {
					delete(result, k)
				}
			}
		}
	}

	out := make([][]byte, 0, len(result))
	for k := range result {
		out = append(out, []byte(k))
	}
	return out, nil
}

// SInter returns the intersection of the given sets.
func (e *Engine) SInter(ctx context.Context, tx storage.Tx, db engine.DBIndex, names [][]byte) ([][]byte, error) {
	return e.combine(ctx, tx, db, names, "inter")
}

// SUnion returns the union of the given sets.
func (e *Engine) SUnion(ctx context.Context, tx storage.Tx, db engine.DBIndex, names [][]byte) ([][]byte, error) {
	return e.combine(ctx, tx, db, names, "union")
}

// SDiff returns members of names[0] not present in any of names[1:].
func (e *Engine) SDiff(ctx context.Context, tx storage.Tx, db engine.DBIndex, names [][]byte) ([][]byte, error) {
	return e.combine(ctx, tx, db, names, "diff")
}

// storeResult overwrites dest (deleting it first) with members, returning the resulting cardinality.
func (e *Engine) storeResult(ctx context.Context, tx storage.Tx, db engine.DBIndex, dest []byte, members [][]byte) (int64, error) {
	rec, err := e.Dir.Resolve(ctx, tx, db, dest)
	if err != nil {
		return 0, err
	}
	if rec != nil {
		if err := e.Dir.Delete(ctx, tx, rec.KeyID); err != nil {
			return 0, err
		}
	}
	if len(members) == 0 {
		return 0, nil
	}
	return e.SAdd(ctx, tx, db, dest, members)
}

// SInterStore computes SInter(names) and stores it into dest, overwriting any existing value.
func (e *Engine) SInterStore(ctx context.Context, tx storage.Tx, db engine.DBIndex, dest []byte, names [][]byte) (int64, error) {
	members, err := e.SInter(ctx, tx, db, names)
	if err != nil {
		return 0, err
	}
	return e.storeResult(ctx, tx, db, dest, members)
}

// SUnionStore computes SUnion(names) and stores it into dest.
func (e *Engine) SUnionStore(ctx context.Context, tx storage.Tx, db engine.DBIndex, dest []byte, names [][]byte) (int64, error) {
	members, err := e.SUnion(ctx, tx, db, names)
	if err != nil {
		return 0, err
	}
	return e.storeResult(ctx, tx, db, dest, members)
}

// SDiffStore computes SDiff(names) and stores it into dest.
func (e *Engine) SDiffStore(ctx context.Context, tx storage.Tx, db engine.DBIndex, dest []byte, names [][]byte) (int64, error) {
	members, err := e.SDiff(ctx, tx, db, names)
	if err != nil {
		return 0, err
	}
	return e.storeResult(ctx, tx, db, dest, members)
}

// SScan returns a cursor-paginated slice of members ordered by member bytes (see hashes.HScan for
// why the cursor is a value, not a rowid: it keeps SSCAN portable across the SQLite and Postgres
// backends).
func (e *Engine) SScan(ctx context.Context, tx storage.Tx, db engine.DBIndex, name []byte, cursor []byte, count int) ([]byte, [][]byte, error) {
	rec, err := e.Dir.ResolveTyped(ctx, tx, db, name, engine.KindSet)
	if err != nil || rec == nil {
		return nil, nil, err
	}
	if count <= 0 {
		count = 10
	}
	rows, err := tx.Query(ctx, `SELECT member FROM set_members WHERE key_id = ? AND member > ? ORDER BY member LIMIT ?`,
		int64(rec.KeyID), cursor, count)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()
	var out [][]byte
	var last []byte
	n := 0
	for rows.Next() {
		var m []byte
		if err := rows.Scan(&m); err != nil {
			return nil, nil, err
		}
		last = m
		n++
		out = append(out, m)
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
