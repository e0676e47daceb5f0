// Package txn implements the per-connection Transaction Engine (spec §4.F): MULTI/EXEC/DISCARD
// command queuing and WATCH-based optimistic concurrency, layered over the page store's own
// ACID transactions.
package txn

import (
	"context"
	"errors"
	"sync"

	"github.com/redlite/redlite/internal/engine"
	"github.com/redlite/redlite/internal/keydir"
	"github.com/redlite/redlite/internal/storage"
)

// State is a connection's transaction-engine state (spec §4.F).
type State int

const (
	StateNormal State = iota
	StateInMulti
	StateDirtyMulti
	StateSubscribed
)

func (s State) String() string {
	switch s {
	case StateNormal:
		return "NORMAL"
	case StateInMulti:
		return "IN_MULTI"
	case StateDirtyMulti:
		return "DIRTY_MULTI"
	case StateSubscribed:
		return "SUBSCRIBED"
	default:
		return "UNKNOWN"
	}
}

var (
	ErrMultiNested         = errors.New("ERR MULTI calls can not be nested")
	ErrExecWithoutMulti    = errors.New("ERR EXEC without MULTI")
	ErrDiscardWithoutMulti = errors.New("ERR DISCARD without MULTI")
	ErrWatchInsideMulti    = errors.New("ERR WATCH inside MULTI is not allowed")
)

// QueuedCommand is one command queued by MULTI, deferred until EXEC. Run executes it against the
// single write transaction EXEC opens; its error is captured into the command's own reply rather
// than aborting the transaction (spec §4.F: "partial failure of one command does not abort
// others").
type QueuedCommand struct {
	Name string
	Run  func(ctx context.Context, tx storage.Tx) (any, error)
}

// CommandResult is one queued command's outcome as delivered in EXEC's reply array.
type CommandResult struct {
	Value any
	Err   error
}

// watchedKey is a (connection, key_id-or-absence) snapshot taken at WATCH time.
type watchedKey struct {
	db       engine.DBIndex
	name     []byte
	existed  bool
	keyID    engine.KeyID
	revision uint64
}

// Session holds one connection's transaction-engine state. It is not safe for concurrent use by
// more than one goroutine issuing commands for the same connection, matching the single-writer
// discipline spec §4.F assumes per connection; its internal mutex only guards against the
// dispatcher and a connection-close teardown racing each other.
type Session struct {
	mu      sync.Mutex
	state   State
	queue   []QueuedCommand
	watched []watchedKey
	dir     *keydir.Directory
}

// New builds a Session bound to dir's WATCH revision registry.
func New(dir *keydir.Directory) *Session {
	return &Session{dir: dir}
}

// State returns the current transaction-engine state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Multi transitions NORMAL -> IN_MULTI, starting a fresh queue.
func (s *Session) Multi() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateNormal {
		return ErrMultiNested
	}
	s.state = StateInMulti
	s.queue = nil
	return nil
}

// QueueCommand appends cmd to the pending queue. Valid only while IN_MULTI or DIRTY_MULTI — the
// dispatcher calls this after a command's arity/syntax checks have already decided whether to
// also call MarkDirty.
func (s *Session) QueueCommand(cmd QueuedCommand) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateInMulti && s.state != StateDirtyMulti {
		return ErrExecWithoutMulti
	}
	s.queue = append(s.queue, cmd)
	return nil
}

// MarkDirty flips IN_MULTI -> DIRTY_MULTI, for a command that fails its own syntax/arity check
// while queuing (spec §4.F). A no-op outside IN_MULTI.
func (s *Session) MarkDirty() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateInMulti {
		s.state = StateDirtyMulti
	}
}

// Discard clears the queue and watches and returns to NORMAL.
func (s *Session) Discard() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateInMulti && s.state != StateDirtyMulti {
		return ErrDiscardWithoutMulti
	}
	s.state = StateNormal
	s.queue = nil
	s.watched = nil
	return nil
}

// Watch records a (key_id, revision) snapshot for each name, or "absent" for one that does not
// yet exist, so EXEC can detect any intervening write (spec §4.F, §9 "WATCH revision"). Valid
// only in NORMAL — Redis rejects WATCH issued from inside MULTI.
func (s *Session) Watch(ctx context.Context, tx storage.Tx, db engine.DBIndex, names [][]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateInMulti || s.state == StateDirtyMulti {
		return ErrWatchInsideMulti
	}

	for _, name := range names {
		rec, err := s.dir.Resolve(ctx, tx, db, name)
		if err != nil {
			return err
		}
		w := watchedKey{db: db, name: append([]byte(nil), name...)}
		if rec != nil {
			w.existed = true
			w.keyID = rec.KeyID
			w.revision = s.dir.Watch().Revision(rec.KeyID)
		}
		s.watched = append(s.watched, w)
	}
	return nil
}

// Unwatch clears all watched keys without otherwise touching state.
func (s *Session) Unwatch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watched = nil
}

// Reset clears all transaction-engine state, for connection close (spec §4.F "Connection close
// cancels all waiters, aborts any in-flight MULTI queue ... and releases WATCH registrations").
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateNormal
	s.queue = nil
	s.watched = nil
}

// Exec runs the queued commands in one page-store transaction if no watched key changed since
// WATCH. Returns (nil, true, nil) for a watch conflict (the null-reply case); (nil, false,
// ErrExecWithoutMulti/ErrExecAbort) if the state machine forbids EXEC; otherwise the per-command
// results and conflict=false.
func (s *Session) Exec(ctx context.Context, store storage.PageStore) ([]CommandResult, bool, error) {
	s.mu.Lock()
	state := s.state
	queue := s.queue
	watched := s.watched
	s.state = StateNormal
	s.queue = nil
	s.watched = nil
	s.mu.Unlock()

	switch state {
	case StateDirtyMulti:
		return nil, false, engine.ErrExecAbort
	case StateInMulti:
	default:
		return nil, false, ErrExecWithoutMulti
	}

	var results []CommandResult
	conflict := false
	err := store.WithTx(ctx, func(tx storage.Tx) error {
		for _, w := range watched {
			rec, err := s.dir.Resolve(ctx, tx, w.db, w.name)
			if err != nil {
				return err
			}
			switch {
			case w.existed != (rec != nil):
				conflict = true
			case rec != nil && (rec.KeyID != w.keyID || s.dir.Watch().Revision(rec.KeyID) != w.revision):
				conflict = true
			}
			if conflict {
				return nil
			}
		}

		results = make([]CommandResult, len(queue))
		for i, cmd := range queue {
			val, cerr := cmd.Run(ctx, tx)
			results[i] = CommandResult{Value: val, Err: cerr}
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if conflict {
		return nil, true, nil
	}
	return results, false, nil
}
