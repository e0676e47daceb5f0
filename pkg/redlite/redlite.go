// Package redlite is the embedded-library entry point (spec §1, §5): everything
// cmd/redlite-server wires up over a network listener, exposed directly to a Go caller that
// wants redlite in its own process with no RESP framing in between.
package redlite

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/redlite/redlite/internal/blocking"
	"github.com/redlite/redlite/internal/config"
	"github.com/redlite/redlite/internal/dispatch"
	"github.com/redlite/redlite/internal/eviction"
	"github.com/redlite/redlite/internal/history"
	"github.com/redlite/redlite/internal/keydir"
	"github.com/redlite/redlite/internal/logger"
	"github.com/redlite/redlite/internal/metrics"
	"github.com/redlite/redlite/internal/pubsub"
	"github.com/redlite/redlite/internal/resp"
	"github.com/redlite/redlite/internal/storage"
	"github.com/redlite/redlite/internal/storage/postgres"
	"github.com/redlite/redlite/internal/storage/sqlite"
	"github.com/redlite/redlite/internal/txn"
	"github.com/redlite/redlite/internal/types/hashes"
	jsontype "github.com/redlite/redlite/internal/types/json"
	"github.com/redlite/redlite/internal/types/lists"
	"github.com/redlite/redlite/internal/types/sets"
	strengine "github.com/redlite/redlite/internal/types/strings"
	"github.com/redlite/redlite/internal/types/streams"
	"github.com/redlite/redlite/internal/types/zsets"
	"github.com/redlite/redlite/internal/vacuum"
)

// DB is one open redlite instance: a page store and every domain engine over it, wired into a
// single Dispatcher. cmd/redlite-server builds one of these and layers internal/server's RESP
// acceptor on top; an embedding program calls Open directly and skips the network entirely.
type DB struct {
	cfg    *config.Config
	store   storage.PageStore
	dir     *keydir.Directory
	disp    *dispatch.Dispatcher
	vacuum  *vacuum.Sweeper
	metrics *metrics.Metrics
	logger  *slog.Logger

	closeOnce sync.Once
}

func Open(ctx context.Context, cfg *config.Config) (*DB, error) {
	if cfg == nil {
		return nil, errors.New("redlite: nil config")
	}

	log := logger.New(logger.Config(cfg.Log))

	store, err := openStore(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("redlite: open store: %w", err)
	}

	dir := keydir.New()

	policyName := cfg.Eviction.Policy
	if policyName == "" {
		policyName = config.PolicyNoEviction
	}
	evictionPolicy, err := eviction.ParsePolicy(string(policyName))
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("redlite: eviction policy: %w", err)
	}
	evictionMgr, err := eviction.New(evictionPolicy, log)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("redlite: eviction manager: %w", err)
	}
	evictionMgr.SetMaxMemoryBytes(cfg.Eviction.MaxMemoryBytes)
	evictionMgr.SetMaxDiskBytes(cfg.Eviction.MaxDiskBytes)

	historyTracker, err := history.New(historyPolicy(cfg.History), log)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("redlite: history tracker: %w", err)
	}

	sweeper := vacuum.New(store, dir, databases(cfg), cfg.Vacuum.Interval, cfg.Vacuum.Enabled, log)
	sweeper.Start(ctx)

	broker := pubsub.New(log)
	hub := blocking.New(log)
	mtr := metrics.New()

	disp := dispatch.New(dispatch.Dispatcher{
		Store:     store,
		Dir:       dir,
		Strings:   strengine.New(dir),
		Hashes:    hashes.New(dir),
		Lists:     lists.New(dir),
		Sets:      sets.New(dir),
		ZSets:     zsets.New(dir),
		Streams:   streams.New(dir),
		JSON:      jsontype.New(dir),
		History:   historyTracker,
		Eviction:  evictionMgr,
		Vacuum:    sweeper,
		Broker:    broker,
		Blocking:  hub,
		Metrics:   mtr,
		Databases: databases(cfg),
		Password:  cfg.Password,
		Logger:    log,
	})

	return &DB{cfg: cfg, store: store, dir: dir, disp: disp, vacuum: sweeper, metrics: mtr, logger: log}, nil
}

func openStore(ctx context.Context, cfg config.StorageConfig) (storage.PageStore, error) {
	switch cfg.Backend {
	case config.BackendPostgres:
		return postgres.Open(ctx, postgres.Config{DSN: cfg.PostgresDSN})
	case config.BackendSQLite, "":
		return sqlite.Open(ctx, cfg.Path, cfg.CachePages)
	default:
		return nil, fmt.Errorf("redlite: unknown storage backend %q", cfg.Backend)
	}
}

func databases(cfg *config.Config) int {
	if cfg.Databases <= 0 {
		return 16
	}
	return cfg.Databases
}

// historyPolicy translates config.HistoryConfig into a history.Policy: an explicit retention
// window wins over a version count when both are set, since a window bounds the log by age
// regardless of how many writes landed inside it.
func historyPolicy(cfg config.HistoryConfig) history.Policy {
	if !cfg.Enabled {
		return history.NoneRetention()
	}
	if cfg.RetentionWindow > 0 {
		return history.TimeRetention(cfg.RetentionWindow.Milliseconds())
	}
	return history.CountRetention(int64(cfg.RetentionCount))
}

// Dispatcher exposes the underlying command dispatcher, for internal/server and internal/admin
// to build their own ConnState-holding acceptors over the same engines this DB constructed.
func (db *DB) Dispatcher() *dispatch.Dispatcher { return db.disp }

// Directory exposes the key directory, needed alongside Dispatcher to build a txn.Session per
// connection.
func (db *DB) Directory() *keydir.Directory { return db.dir }

// Metrics exposes the Prometheus collectors this DB populates, for internal/admin to mount as an
// HTTP endpoint.
func (db *DB) Metrics() *metrics.Metrics { return db.metrics }

// Close stops the background sweeper and releases the page store. Idempotent.
func (db *DB) Close() error {
	var err error
	db.closeOnce.Do(func() {
		db.vacuum.Stop()
		err = db.store.Close()
	})
	return err
}

// Conn is one logical embedded session: its own selected database, auth state, and MULTI/WATCH
// transaction session, the in-process counterpart to one internal/server connection. Conn is not
// safe for concurrent use by more than one goroutine, the same single-writer discipline
// internal/server's per-connection handler assumes.
type Conn struct {
	db       *DB
	cs       *dispatch.ConnState
	messages chan pubsub.Message
}

// NewConn opens a new embedded session against db. Pub/sub deliveries for this session queue on
// the channel returned by Messages; the caller drains it on its own schedule rather than redlite
// pushing bytes onto a socket.
func (db *DB) NewConn() *Conn {
	c := &Conn{db: db, messages: make(chan pubsub.Message, 64)}
	c.cs = dispatch.NewConnState(txn.New(db.dir), uuid.New().String(), func(m pubsub.Message) error {
		select {
		case c.messages <- m:
		default:
		}
		return nil
	})
	return c
}

// Do executes one command, its verb and arguments already split the way a RESP client would
// send them, and returns its reply. A RESP error reply is surfaced as a Go error so an embedding
// caller gets ordinary Go error handling instead of inspecting reply.Kind itself.
func (c *Conn) Do(ctx context.Context, args ...string) (resp.Reply, error) {
	if len(args) == 0 {
		return resp.Reply{}, errors.New("redlite: Do requires at least a command name")
	}
	raw := make([][]byte, len(args)-1)
	for i, a := range args[1:] {
		raw[i] = []byte(a)
	}
	cmd := resp.Command{Name: strings.ToUpper(args[0]), Args: raw}
	reply := c.db.disp.Dispatch(ctx, c.cs, cmd)
	if reply.Kind == resp.KindError {
		return reply, errors.New(reply.Str)
	}
	return reply, nil
}

// Messages returns the channel pub/sub deliveries for this connection's subscriptions land on.
// Draining it at whatever cadence suits the host program is the embedded-mode equivalent of
// internal/server writing push messages straight to a socket.
func (c *Conn) Messages() <-chan pubsub.Message { return c.messages }

// Close unsubscribes this connection from every channel and pattern it holds.
func (c *Conn) Close() {
	c.db.disp.Broker.UnsubscribeAll(c.cs.Sub)
}
