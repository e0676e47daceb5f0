// Package zsets implements the sorted-set type engine (spec §4.D.5): members stored one row per
// member in `zset_members` with a float64 score, ordered ascending by (score, member).
package zsets

import (
	"context"
	"database/sql"
	"math"
	"sort"
	"strconv"

	"github.com/redlite/redlite/internal/engine"
	"github.com/redlite/redlite/internal/keydir"
	"github.com/redlite/redlite/internal/storage"
)

// FormatScore renders a score the way Redis's RESP2 bulk-string scores do: integral values with
// no trailing ".0", everything else at full float64 precision.
func FormatScore(f float64) string {
	if f == math.Trunc(f) && !math.IsInf(f, 0) {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// Engine executes sorted-set commands.
type Engine struct {
	Dir *keydir.Directory
}

// New builds a zset Engine bound to dir.
func New(dir *keydir.Directory) *Engine {
	return &Engine{Dir: dir}
}

// Member is one (member, score) pair as returned by range queries.
type Member struct {
	Value []byte
	Score float64
}

func (e *Engine) card(ctx context.Context, tx storage.Tx, keyID engine.KeyID) (int64, error) {
	var n int64
	err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM zset_members WHERE key_id = ?`, int64(keyID)).Scan(&n)
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

// AddOpts mirrors ZADD's option set.
type AddOpts struct {
	NX, XX, GT, LT, CH, Incr bool
}

func (e *Engine) scoreOf(ctx context.Context, tx storage.Tx, keyID engine.KeyID, member []byte) (float64, bool, error) {
	var s float64
	err := tx.QueryRow(ctx, `SELECT score FROM zset_members WHERE key_id = ? AND member = ?`, int64(keyID), member).Scan(&s)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	return s, err == nil, err
}

// ZAdd adds/updates (member, score) pairs per opts. Returns (changedCount, incrResult,
// incrResultValid). For plain ZADD, incrResultValid is false and changedCount is the "added
// (+changed if CH)" count; for ZADD INCR, incrResultValid is true and incrResult is the new
// score (or unset if a NX/XX/GT/LT precondition blocked the single-member update).
func (e *Engine) ZAdd(ctx context.Context, tx storage.Tx, db engine.DBIndex, name []byte, members []Member, opts AddOpts) (int64, float64, bool, error) {
	if opts.Incr && len(members) != 1 {
		return 0, 0, false, engine.ErrSyntax
	}

	rec, err := e.Dir.ResolveTyped(ctx, tx, db, name, engine.KindZSet)
	if err != nil {
		return 0, 0, false, err
	}
	if rec == nil && opts.XX {
		return 0, 0, false, nil
	}

	var keyID engine.KeyID
	if rec == nil {
		keyID, err = e.Dir.Create(ctx, tx, db, name, engine.KindZSet)
		if err != nil {
			return 0, 0, false, err
		}
	} else {
		keyID = rec.KeyID
	}

	var changed int64
	var incrResult float64
	for _, m := range members {
		if math.IsNaN(m.Score) {
			return 0, 0, false, engine.ErrNaNScore
		}
		existing, has, err := e.scoreOf(ctx, tx, keyID, m.Value)
		if err != nil {
			return 0, 0, false, err
		}
		if opts.NX && has {
			continue
		}
		if opts.XX && !has {
			continue
		}

		newScore := m.Score
		if opts.Incr {
			if !has {
				newScore = m.Score
			} else {
				newScore = existing + m.Score
			}
			if math.IsNaN(newScore) {
				return 0, 0, false, engine.ErrNaNScore
			}
		}
		if has {
			if opts.GT && newScore <= existing {
				continue
			}
			if opts.LT && newScore >= existing {
				continue
			}
		}

		if _, err := tx.Exec(ctx,
			`INSERT INTO zset_members (key_id, member, score) VALUES (?, ?, ?)
			 ON CONFLICT(key_id, member) DO UPDATE SET score = excluded.score`,
			int64(keyID), m.Value, newScore,
		); err != nil {
			return 0, 0, false, err
		}
		if opts.Incr {
			incrResult = newScore
		}
		if !has {
			changed++
		} else if opts.CH && newScore != existing {
			changed++
		}
	}
	if err := e.Dir.TouchUpdated(ctx, tx, keyID); err != nil {
		return 0, 0, false, err
	}
	return changed, incrResult, opts.Incr, nil
}

// ZRem removes members, destroying the key if it becomes empty.
func (e *Engine) ZRem(ctx context.Context, tx storage.Tx, db engine.DBIndex, name []byte, members [][]byte) (int64, error) {
	rec, err := e.Dir.ResolveTyped(ctx, tx, db, name, engine.KindZSet)
	if err != nil || rec == nil {
		return 0, err
	}
	var removed int64
	for _, m := range members {
		res, err := tx.Exec(ctx, `DELETE FROM zset_members WHERE key_id = ? AND member = ?`, int64(rec.KeyID), m)
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

// ZScore returns a member's score.
func (e *Engine) ZScore(ctx context.Context, tx storage.Tx, db engine.DBIndex, name, member []byte) (float64, bool, error) {
	rec, err := e.Dir.ResolveTyped(ctx, tx, db, name, engine.KindZSet)
	if err != nil || rec == nil {
		return 0, false, err
	}
	return e.scoreOf(ctx, tx, rec.KeyID, member)
}

// ZMScore returns one score per requested member, with ok=false entries for absent members.
func (e *Engine) ZMScore(ctx context.Context, tx storage.Tx, db engine.DBIndex, name []byte, members [][]byte) ([]float64, []bool, error) {
	scores := make([]float64, len(members))
	oks := make([]bool, len(members))
	rec, err := e.Dir.ResolveTyped(ctx, tx, db, name, engine.KindZSet)
	if err != nil || rec == nil {
		return scores, oks, err
	}
	for i, m := range members {
		s, ok, err := e.scoreOf(ctx, tx, rec.KeyID, m)
		if err != nil {
			return nil, nil, err
		}
		scores[i], oks[i] = s, ok
	}
	return scores, oks, nil
}

// ZCard returns the cardinality.
func (e *Engine) ZCard(ctx context.Context, tx storage.Tx, db engine.DBIndex, name []byte) (int64, error) {
	rec, err := e.Dir.ResolveTyped(ctx, tx, db, name, engine.KindZSet)
	if err != nil || rec == nil {
		return 0, err
	}
	return e.card(ctx, tx, rec.KeyID)
}

// ZIncrBy adds delta to member's score (creating it with score delta if absent).
func (e *Engine) ZIncrBy(ctx context.Context, tx storage.Tx, db engine.DBIndex, name, member []byte, delta float64) (float64, error) {
	_, result, _, err := e.ZAdd(ctx, tx, db, name, []Member{{Value: member, Score: delta}}, AddOpts{Incr: true})
	return result, err
}

// allOrdered returns every member ordered ascending by (score, member) (spec §3.1).
func (e *Engine) allOrdered(ctx context.Context, tx storage.Tx, keyID engine.KeyID) ([]Member, error) {
	rows, err := tx.Query(ctx, `SELECT member, score FROM zset_members WHERE key_id = ? ORDER BY score ASC, member ASC`, int64(keyID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Member
	for rows.Next() {
		var m Member
		if err := rows.Scan(&m.Value, &m.Score); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func normalizeIndex(i, length int64) int64 {
	if i < 0 {
		i += length
	}
	return i
}

// ZRange returns the inclusive rank range [start, stop] ascending, or descending if rev is true.
func (e *Engine) ZRange(ctx context.Context, tx storage.Tx, db engine.DBIndex, name []byte, start, stop int64, rev bool) ([]Member, error) {
	rec, err := e.Dir.ResolveTyped(ctx, tx, db, name, engine.KindZSet)
	if err != nil || rec == nil {
		return nil, err
	}
	all, err := e.allOrdered(ctx, tx, rec.KeyID)
	if err != nil {
		return nil, err
	}
	if rev {
		for i, j := 0, len(all)-1; i < j; i, j = i+1, j-1 {
			all[i], all[j] = all[j], all[i]
		}
	}
	length := int64(len(all))
	start = normalizeIndex(start, length)
	stop = normalizeIndex(stop, length)
	if start < 0 {
		start = 0
	}
	if stop >= length {
		stop = length - 1
	}
	if start > stop || start >= length {
		return []Member{}, nil
	}
	return all[start : stop+1], nil
}

// ScoreRange is a parsed ZRANGEBYSCORE-style bound.
type ScoreRange struct {
	Min, Max         float64
	MinExcl, MaxExcl bool
}

// ZRangeByScore returns members with score in [Min, Max] (respecting exclusivity), ascending.
func (e *Engine) ZRangeByScore(ctx context.Context, tx storage.Tx, db engine.DBIndex, name []byte, r ScoreRange) ([]Member, error) {
	rec, err := e.Dir.ResolveTyped(ctx, tx, db, name, engine.KindZSet)
	if err != nil || rec == nil {
		return nil, err
	}
	all, err := e.allOrdered(ctx, tx, rec.KeyID)
	if err != nil {
		return nil, err
	}
	var out []Member
	for _, m := range all {
		if r.MinExcl {
			if m.Score <= r.Min {
				continue
			}
		} else if m.Score < r.Min {
			continue
		}
		if r.MaxExcl {
			if m.Score >= r.Max {
				continue
			}
		} else if m.Score > r.Max {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// ZCount counts members whose score falls in r.
func (e *Engine) ZCount(ctx context.Context, tx storage.Tx, db engine.DBIndex, name []byte, r ScoreRange) (int64, error) {
	members, err := e.ZRangeByScore(ctx, tx, db, name, r)
	if err != nil {
		return 0, err
	}
	return int64(len(members)), nil
}

func (e *Engine) rank(ctx context.Context, tx storage.Tx, db engine.DBIndex, name, member []byte, rev bool) (int64, bool, error) {
	rec, err := e.Dir.ResolveTyped(ctx, tx, db, name, engine.KindZSet)
	if err != nil || rec == nil {
		return 0, false, err
	}
	all, err := e.allOrdered(ctx, tx, rec.KeyID)
	if err != nil {
		return 0, false, err
	}
	for i, m := range all {
		if string(m.Value) == string(member) {
			if rev {
				return int64(len(all) - 1 - i), true, nil
			}
			return int64(i), true, nil
		}
	}
	return 0, false, nil
}

// ZRank returns member's ascending rank.
func (e *Engine) ZRank(ctx context.Context, tx storage.Tx, db engine.DBIndex, name, member []byte) (int64, bool, error) {
	return e.rank(ctx, tx, db, name, member, false)
}

// ZRevRank returns member's descending rank.
func (e *Engine) ZRevRank(ctx context.Context, tx storage.Tx, db engine.DBIndex, name, member []byte) (int64, bool, error) {
	return e.rank(ctx, tx, db, name, member, true)
}

// ZRemRangeByRank removes members in the inclusive ascending rank range [start, stop].
func (e *Engine) ZRemRangeByRank(ctx context.Context, tx storage.Tx, db engine.DBIndex, name []byte, start, stop int64) (int64, error) {
	victims, err := e.ZRange(ctx, tx, db, name, start, stop, false)
	if err != nil {
		return 0, err
	}
	members := make([][]byte, len(victims))
	for i, m := range victims {
		members[i] = m.Value
	}
	return e.ZRem(ctx, tx, db, name, members)
}

// ZRemRangeByScore removes members with score in r.
func (e *Engine) ZRemRangeByScore(ctx context.Context, tx storage.Tx, db engine.DBIndex, name []byte, r ScoreRange) (int64, error) {
	victims, err := e.ZRangeByScore(ctx, tx, db, name, r)
	if err != nil {
		return 0, err
	}
	members := make([][]byte, len(victims))
	for i, m := range victims {
		members[i] = m.Value
	}
	return e.ZRem(ctx, tx, db, name, members)
}

// ZPopMin removes and returns up to count of the lowest-scored members.
func (e *Engine) ZPopMin(ctx context.Context, tx storage.Tx, db engine.DBIndex, name []byte, count int64) ([]Member, error) {
	return e.popExtreme(ctx, tx, db, name, count, false)
}

// ZPopMax removes and returns up to count of the highest-scored members.
func (e *Engine) ZPopMax(ctx context.Context, tx storage.Tx, db engine.DBIndex, name []byte, count int64) ([]Member, error) {
	return e.popExtreme(ctx, tx, db, name, count, true)
}

func (e *Engine) popExtreme(ctx context.Context, tx storage.Tx, db engine.DBIndex, name []byte, count int64, max bool) ([]Member, error) {
	rec, err := e.Dir.ResolveTyped(ctx, tx, db, name, engine.KindZSet)
	if err != nil || rec == nil {
		return nil, err
	}
	all, err := e.allOrdered(ctx, tx, rec.KeyID)
	if err != nil {
		return nil, err
	}
	if max {
		for i, j := 0, len(all)-1; i < j; i, j = i+1, j-1 {
			all[i], all[j] = all[j], all[i]
		}
	}
	if count > int64(len(all)) {
		count = int64(len(all))
	}
	picked := all[:count]
	members := make([][]byte, len(picked))
	for i, m := range picked {
		members[i] = m.Value
	}
	if _, err := e.ZRem(ctx, tx, db, name, members); err != nil {
		return nil, err
	}
	return picked, nil
}

// Agg is the cross-set score combination function for ZINTERSTORE/ZUNIONSTORE.
type Agg int

const (
	AggSum Agg = iota
	AggMin
	AggMax
)

func (e *Engine) weightedScores(ctx context.Context, tx storage.Tx, db engine.DBIndex, names [][]byte, weights []float64) ([]map[string]float64, error) {
	out := make([]map[string]float64, len(names))
	for i, n := range names {
		rec, err := e.Dir.Resolve(ctx, tx, db, n)
		if err != nil {
			return nil, err
		}
		m := make(map[string]float64)
		if rec != nil {
			if rec.Kind == engine.KindZSet {
				all, err := e.allOrdered(ctx, tx, rec.KeyID)
				if err != nil {
					return nil, err
				}
				for _, member := range all {
					m[string(member.Value)] = member.Score * weights[i]
				}
			} else if rec.Kind == engine.KindSet {
				rows, err := tx.Query(ctx, `SELECT member FROM set_members WHERE key_id = ?`, int64(rec.KeyID))
				if err != nil {
					return nil, err
				}
				for rows.Next() {
					var v []byte
					if err := rows.Scan(&v); err != nil {
						rows.Close()
						return nil, err
					}
					m[string(v)] = 1.0 * weights[i]
				}
				rows.Close()
				if err := rows.Err(); err != nil {
					return nil, err
				}
			} else {
				return nil, engine.ErrWrongType
			}
		}
		out[i] = m
	}
	return out, nil
}

func aggregate(values []float64, agg Agg) float64 {
	result := values[0]
	for _, v := range values[1:] {
		switch agg {
		case AggSum:
			result += v
		case AggMin:
			result = math.Min(result, v)
		case AggMax:
			result = math.Max(result, v)
		}
	}
	return result
}

// ZInterStore computes the weighted, aggregated intersection of names and stores it into dest.
func (e *Engine) ZInterStore(ctx context.Context, tx storage.Tx, db engine.DBIndex, dest []byte, names [][]byte, weights []float64, agg Agg) (int64, error) {
	sets, err := e.weightedScores(ctx, tx, db, names, weights)
	if err != nil {
		return 0, err
	}
	result := make(map[string]float64)
	if len(sets) > 0 {
		for k, v := range sets[0] {
			vals := []float64{v}
			present := true
			for _, s := range sets[1:] {
				sv, ok := s[k]
				if !ok {
					present = false
					break
				}
				vals = append(vals, sv)
			}
			if present {
				result[k] = aggregate(vals, agg)
			}
		}
	}
	return e.storeScored(ctx, tx, db, dest, result)
}

// ZUnionStore computes the weighted, aggregated union of names and stores it into dest.
func (e *Engine) ZUnionStore(ctx context.Context, tx storage.Tx, db engine.DBIndex, dest []byte, names [][]byte, weights []float64, agg Agg) (int64, error) {
	sets, err := e.weightedScores(ctx, tx, db, names, weights)
	if err != nil {
		return 0, err
	}
	result := make(map[string]float64)
	for _, s := range sets {
		for k, v := range s {
			if existing, ok := result[k]; ok {
				result[k] = aggregate([]float64{existing, v}, agg)
			} else {
				result[k] = v
			}
		}
	}
	return e.storeScored(ctx, tx, db, dest, result)
}

func (e *Engine) storeScored(ctx context.Context, tx storage.Tx, db engine.DBIndex, dest []byte, scores map[string]float64) (int64, error) {
	rec, err := e.Dir.Resolve(ctx, tx, db, dest)
	if err != nil {
		return 0, err
	}
	if rec != nil {
		if err := e.Dir.Delete(ctx, tx, rec.KeyID); err != nil {
			return 0, err
		}
	}
	if len(scores) == 0 {
		return 0, nil
	}
	members := make([]Member, 0, len(scores))
	for k, v := range scores {
		members = append(members, Member{Value: []byte(k), Score: v})
	}
	sort.Slice(members, func(i, j int) bool { return string(members[i].Value) < string(members[j].Value) })
	if _, _, _, err := e.ZAdd(ctx, tx, db, dest, members, AddOpts{}); err != nil {
		return 0, err
	}
	return int64(len(scores)), nil
}

// ZScan returns a cursor-paginated slice of members ordered by member bytes.
func (e *Engine) ZScan(ctx context.Context, tx storage.Tx, db engine.DBIndex, name []byte, cursor []byte, count int) ([]byte, []Member, error) {
	rec, err := e.Dir.ResolveTyped(ctx, tx, db, name, engine.KindZSet)
	if err != nil || rec == nil {
		return nil, nil, err
	}
	if count <= 0 {
		count = 10
	}
	rows, err := tx.Query(ctx, `SELECT member, score FROM zset_members WHERE key_id = ? AND member > ? ORDER BY member LIMIT ?`,
		int64(rec.KeyID), cursor, count)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()
	var out []Member
	var last []byte
	n := 0
	for rows.Next() {
		var m Member
		if err := rows.Scan(&m.Value, &m.Score); err != nil {
			return nil, nil, err
		}
		last = m.Value
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
