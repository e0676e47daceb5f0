// Package vacuum implements the lazy-expiry-adjacent background half of the Expiration &
// Eviction Controller (spec §4.E): the autovacuum sweeper and explicit VACUUM. Lazy expiry
// itself lives in keydir.Resolve — this package only handles keys nobody has read lately.
package vacuum

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/redlite/redlite/internal/engine"
	"github.com/redlite/redlite/internal/keydir"
	"github.com/redlite/redlite/internal/storage"
)

const sweepBatchSize = 256

// Sweeper runs the background autovacuum sweep (spec §4.E "Background sweep"). Only one sweep
// runs at a time across the whole process, even if multiple goroutines race the interval —
// enforced with a weight-1 semaphore rather than a plain mutex so a racing caller can cheaply
// give up (TryAcquire) instead of queuing behind an in-progress sweep.
type Sweeper struct {
	store     storage.PageStore
	dir       *keydir.Directory
	databases int
	logger    *slog.Logger

	sem *semaphore.Weighted

	mu       sync.Mutex
	enabled  bool
	interval time.Duration

	stop   chan struct{}
	done   chan struct{}
	once   sync.Once
	active atomic.Bool
}

// New builds a Sweeper over store covering db indices [0, databases).
func New(store storage.PageStore, dir *keydir.Directory, databases int, interval time.Duration, enabled bool, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	if databases <= 0 {
		databases = 1
	}
	return &Sweeper{
		store:     store,
		dir:       dir,
		databases: databases,
		logger:    logger.With("component", "vacuum"),
		sem:       semaphore.NewWeighted(1),
		enabled:   enabled,
		interval:  interval,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// SetEnabled toggles the sweeper (AUTOVACUUM ON|OFF).
func (s *Sweeper) SetEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled = enabled
}

// SetInterval changes the sweep period (AUTOVACUUM INTERVAL ms); takes effect on the next tick.
func (s *Sweeper) SetInterval(interval time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interval = interval
}

func (s *Sweeper) snapshot() (bool, time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled, s.interval
}

// Start launches the background sweep loop; it exits when ctx is cancelled or Stop is called.
func (s *Sweeper) Start(ctx context.Context) {
	go s.run(ctx)
}

// Stop signals the sweep loop to exit and waits for it.
func (s *Sweeper) Stop() {
	s.once.Do(func() { close(s.stop) })
	<-s.done
}

func (s *Sweeper) run(ctx context.Context) {
	defer close(s.done)

	for {
		_, interval := s.snapshot()
		if interval <= 0 {
			interval = time.Second
		}
		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-s.stop:
			timer.Stop()
			return
		case <-timer.C:
			enabled, _ := s.snapshot()
			if !enabled {
				continue
			}
			n, err := s.SweepOnce(ctx)
			if err != nil {
				s.logger.Warn("autovacuum sweep failed", "error", err)
				continue
			}
			if n > 0 {
				s.logger.Debug("autovacuum sweep complete", "deleted", n)
			}
		}
	}
}

// SweepOnce deletes every currently-expired key across all databases, electing itself as the
// sole sweeper via TryAcquire — if another sweep is already running, it returns (0, nil)
// immediately rather than waiting (spec §4.E "a compare-and-exchange elects one sweeper").
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	if !s.sem.TryAcquire(1) {
		return 0, nil
	}
	defer s.sem.Release(1)
	s.active.Store(true)
	defer s.active.Store(false)

	total := 0
	for db := 0; db < s.databases; db++ {
		n, err := s.sweepDB(ctx, engine.DBIndex(db))
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func (s *Sweeper) sweepDB(ctx context.Context, db engine.DBIndex) (int, error) {
	total := 0
	for {
		var ids []engine.KeyID
		err := s.store.WithROTx(ctx, func(tx storage.Tx) error {
			now := engine.NowMs()
			rows, err := tx.Query(ctx,
				`SELECT key_id FROM keys WHERE db_idx = ? AND expires_at_ms IS NOT NULL AND expires_at_ms <= ? LIMIT ?`,
				int(db), now, sweepBatchSize)
			if err != nil {
				return err
			}
			defer rows.Close()
			for rows.Next() {
				var id int64
				if err := rows.Scan(&id); err != nil {
					return err
				}
				ids = append(ids, engine.KeyID(id))
			}
			return rows.Err()
		})
		if err != nil {
			return total, err
		}
		if len(ids) == 0 {
			return total, nil
		}

		err = s.store.WithTx(ctx, func(tx storage.Tx) error {
			for _, id := range ids {
				if err := s.dir.Delete(ctx, tx, id); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return total, err
		}
		total += len(ids)
		if len(ids) < sweepBatchSize {
			return total, nil
		}
	}
}

// Vacuum deletes every expired key across all databases, then compacts the underlying store,
// returning the count of keys deleted (spec §4.E "Explicit VACUUM").
func (s *Sweeper) Vacuum(ctx context.Context) (int, error) {
	total := 0
	for db := 0; db < s.databases; db++ {
		n, err := s.sweepDB(ctx, engine.DBIndex(db))
		if err != nil {
			return total, err
		}
		total += n
	}
	if err := s.store.Vacuum(ctx); err != nil {
		return total, err
	}
	return total, nil
}

// Active reports whether a sweep is currently running (used by MEMORY DOCTOR-style
// introspection).
func (s *Sweeper) Active() bool { return s.active.Load() }
