// Package eviction implements the memory/disk-pressure half of the Expiration & Eviction
// Controller (spec §4.E): maxmemory/maxdisk policies that pick victims once a write would push
// the store past its configured cap. Lazy expiry and the background sweep live in
// internal/vacuum; this package only runs when a write is about to fail for being too big, not
// on a timer.
package eviction

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/redlite/redlite/internal/engine"
	"github.com/redlite/redlite/internal/keydir"
	"github.com/redlite/redlite/internal/storage"
)

// recencyCapacity bounds the LRU tracker's own size, not the number of keys redlite can hold —
// it only needs to remember enough recently-touched keys to make allkeys-lru/volatile-lru
// approximate the true recency order (spec §4.E "approximate recency").
const recencyCapacity = 16384

// maxFrequency caps the CLOCK-style LFU counter the way Redis's 8-bit logarithmic counter does,
// so one hot key can't dominate forever once decay runs.
const maxFrequency = 255

// ttlRefillSample bounds how many volatile keys a single refill query pulls from the store when
// the in-memory volatile-ttl heap runs dry.
const ttlRefillSample = 512

// Manager tracks recency and frequency hints for the configured eviction policy and selects
// victims when a write needs room (spec §4.E "Memory-pressure eviction", "Disk cap").
type Manager struct {
	mu        sync.Mutex
	policy    Policy
	maxMemory int64
	maxDisk   int64
	recency   *lru.Cache[engine.KeyID, engine.DBIndex]
	freq      map[engine.KeyID]uint8
	freqDB    map[engine.KeyID]engine.DBIndex
	ttl       *ttlIndex
	logger    *slog.Logger
}

// New builds a Manager enforcing policy.
func New(policy Policy, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	recency, err := lru.New[engine.KeyID, engine.DBIndex](recencyCapacity)
	if err != nil {
		return nil, fmt.Errorf("eviction: new recency cache: %w", err)
	}
	return &Manager{
		policy:  policy,
		recency: recency,
		freq:    make(map[engine.KeyID]uint8),
		freqDB:  make(map[engine.KeyID]engine.DBIndex),
		ttl:     newTTLIndex(),
		logger:  logger.With("component", "eviction"),
	}, nil
}

// Policy reports the currently configured policy.
func (m *Manager) Policy() Policy {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.policy
}

// SetPolicy changes the active policy (CONFIG SET maxmemory-policy / maxdisk-policy).
func (m *Manager) SetPolicy(p Policy) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.policy = p
}

// MaxMemoryBytes reports the configured memory cap, 0 meaning unbounded.
func (m *Manager) MaxMemoryBytes() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxMemory
}

// SetMaxMemoryBytes changes the configured memory cap (CONFIG SET maxmemory).
func (m *Manager) SetMaxMemoryBytes(n int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.maxMemory = n
}

// MaxDiskBytes reports the configured disk cap, 0 meaning unbounded.
func (m *Manager) MaxDiskBytes() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxDisk
}

// SetMaxDiskBytes changes the configured disk cap (CONFIG SET maxdisk).
func (m *Manager) SetMaxDiskBytes(n int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.maxDisk = n
}

// Touch records a read or write against keyID for recency/frequency bookkeeping. Callers
// (internal/dispatch) invoke this after every command that resolves a key.
func (m *Manager) Touch(keyID engine.KeyID, db engine.DBIndex) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recency.Add(keyID, db)
	c := m.freq[keyID]
	if c < maxFrequency {
		c++
	}
	m.freq[keyID] = c
	m.freqDB[keyID] = db
}

// TrackTTL records or updates keyID's absolute expiry for volatile-ttl candidate selection.
// Callers invoke this wherever a TTL is set (keydir.SetTTL, SET EX, EXPIRE, ...).
func (m *Manager) TrackTTL(keyID engine.KeyID, db engine.DBIndex, expiresAtMs, updatedAtMs int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ttl.upsert(keyID, db, expiresAtMs, updatedAtMs)
}

// Forget drops all bookkeeping for keyID, called once it has been evicted or deleted.
func (m *Manager) Forget(keyID engine.KeyID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recency.Remove(keyID)
	delete(m.freq, keyID)
	delete(m.freqDB, keyID)
	m.ttl.remove(keyID)
}

// DecayFrequency halves every tracked LFU counter, the way Redis's access-frequency counters
// decay over time so old hits don't pin a key forever. Intended to be called periodically by a
// ticker alongside the autovacuum sweeper.
func (m *Manager) DecayFrequency() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range m.freq {
		m.freq[k] = v / 2
	}
}

// EnsureCapacity repeatedly evicts one key at a time, per policy, until fits reports the pending
// write will succeed. Returns engine.ErrOOM if the policy is noeviction or no eligible victim
// remains (spec §7 "Resource" — OOM / DISKFULL, mapped by the caller to the right RESP code).
func (m *Manager) EnsureCapacity(ctx context.Context, store storage.PageStore, dir *keydir.Directory, databases int, fits func(ctx context.Context) (bool, error)) error {
	for {
		ok, err := fits(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		policy := m.Policy()
		if policy == PolicyNoEviction {
			return engine.ErrOOM
		}

		victim, db, err := m.selectVictim(ctx, store, databases, policy)
		if err != nil {
			return err
		}
		if victim == 0 {
			return engine.ErrOOM
		}

		err = store.WithTx(ctx, func(tx storage.Tx) error {
			return dir.Delete(ctx, tx, victim)
		})
		if err != nil {
			return fmt.Errorf("eviction: delete victim %d: %w", victim, err)
		}
		m.Forget(victim)
		m.logger.Debug("evicted key", "key_id", victim, "db", db, "policy", policy)
	}
}

func (m *Manager) selectVictim(ctx context.Context, store storage.PageStore, databases int, policy Policy) (engine.KeyID, engine.DBIndex, error) {
	switch policy {
	case PolicyAllKeysLRU:
		if id, db, ok := m.oldestTracked(); ok {
			return id, db, nil
		}
		return m.queryVictim(ctx, store, databases, false, "updated_at_ms ASC")
	case PolicyVolatileLRU:
		if id, db, ok := m.oldestTrackedVolatile(); ok {
			return id, db, nil
		}
		return m.queryVictim(ctx, store, databases, true, "updated_at_ms ASC")
	case PolicyAllKeysLFU:
		if id, db, ok := m.leastFrequent(false); ok {
			return id, db, nil
		}
		return m.queryVictim(ctx, store, databases, false, "updated_at_ms ASC")
	case PolicyVolatileLFU:
		if id, db, ok := m.leastFrequent(true); ok {
			return id, db, nil
		}
		return m.queryVictim(ctx, store, databases, true, "updated_at_ms ASC")
	case PolicyVolatileTTL:
		if id, ok := m.nearestTTL(); ok {
			db, _ := m.ttlDB(id)
			return id, db, nil
		}
		if err := m.refillTTL(ctx, store, databases); err != nil {
			return 0, 0, err
		}
		if id, ok := m.nearestTTL(); ok {
			db, _ := m.ttlDB(id)
			return id, db, nil
		}
		return 0, 0, nil
	case PolicyAllKeysRandom:
		return m.queryRandomVictim(ctx, store, databases, false)
	case PolicyVolatileRandom:
		return m.queryRandomVictim(ctx, store, databases, true)
	default:
		return 0, 0, fmt.Errorf("eviction: unhandled policy %q", policy)
	}
}

func (m *Manager) oldestTracked() (engine.KeyID, engine.DBIndex, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, db, ok := m.recency.GetOldest()
	return id, db, ok
}

func (m *Manager) oldestTrackedVolatile() (engine.KeyID, engine.DBIndex, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.recency.Keys() {
		if _, ok := m.ttl.byKeyID[id]; ok {
			db, _ := m.recency.Peek(id)
			return id, db, true
		}
	}
	return 0, 0, false
}

func (m *Manager) leastFrequent(volatileOnly bool) (engine.KeyID, engine.DBIndex, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best engine.KeyID
	var bestDB engine.DBIndex
	bestCount := maxFrequency + 1
	found := false
	for id, count := range m.freq {
		if volatileOnly {
			if _, ok := m.ttl.byKeyID[id]; !ok {
				continue
			}
		}
		if int(count) < bestCount {
			bestCount = int(count)
			best = id
			bestDB = m.freqDB[id]
			found = true
		}
	}
	return best, bestDB, found
}

func (m *Manager) nearestTTL() (engine.KeyID, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ttl.peek()
}

func (m *Manager) ttlDB(id engine.KeyID) (engine.DBIndex, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.ttl.byKeyID[id]
	if !ok {
		return 0, false
	}
	return c.db, true
}

func (m *Manager) refillTTL(ctx context.Context, store storage.PageStore, databases int) error {
	return store.WithROTx(ctx, func(tx storage.Tx) error {
		for db := 0; db < databases; db++ {
			rows, err := tx.Query(ctx,
				`SELECT key_id, expires_at_ms, updated_at_ms FROM keys WHERE db_idx = ? AND expires_at_ms IS NOT NULL ORDER BY expires_at_ms ASC LIMIT ?`,
				db, ttlRefillSample)
			if err != nil {
				return err
			}
			err = func() error {
				defer rows.Close()
				for rows.Next() {
					var id, expiresAt, updatedAt int64
					if err := rows.Scan(&id, &expiresAt, &updatedAt); err != nil {
						return err
					}
					m.TrackTTL(engine.KeyID(id), engine.DBIndex(db), expiresAt, updatedAt)
				}
				return rows.Err()
			}()
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (m *Manager) queryVictim(ctx context.Context, store storage.PageStore, databases int, volatileOnly bool, orderBy string) (engine.KeyID, engine.DBIndex, error) {
	var id, db int64
	found := false
	err := store.WithROTx(ctx, func(tx storage.Tx) error {
		for d := 0; d < databases; d++ {
			query := fmt.Sprintf(`SELECT key_id FROM keys WHERE db_idx = ?%s ORDER BY %s LIMIT 1`,
				ttlClause(volatileOnly), orderBy)
			var keyID int64
			err := tx.QueryRow(ctx, query, d).Scan(&keyID)
			if err == sql.ErrNoRows {
				continue
			}
			if err != nil {
				return err
			}
			id, db, found = keyID, int64(d), true
			return nil
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	if !found {
		return 0, 0, nil
	}
	return engine.KeyID(id), engine.DBIndex(db), nil
}

func (m *Manager) queryRandomVictim(ctx context.Context, store storage.PageStore, databases int, volatileOnly bool) (engine.KeyID, engine.DBIndex, error) {
	start := rand.Intn(databases)
	var id int64
	var db int
	found := false
	err := store.WithROTx(ctx, func(tx storage.Tx) error {
		for i := 0; i < databases; i++ {
			d := (start + i) % databases
			query := fmt.Sprintf(`SELECT key_id FROM keys WHERE db_idx = ?%s ORDER BY RANDOM() LIMIT 1`, ttlClause(volatileOnly))
			var keyID int64
			err := tx.QueryRow(ctx, query, d).Scan(&keyID)
			if err == sql.ErrNoRows {
				continue
			}
			if err != nil {
				return err
			}
			id, db, found = keyID, d, true
			return nil
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	if !found {
		return 0, 0, nil
	}
	return engine.KeyID(id), engine.DBIndex(db), nil
}

func ttlClause(volatileOnly bool) string {
	if volatileOnly {
		return " AND expires_at_ms IS NOT NULL"
	}
	return ""
}
