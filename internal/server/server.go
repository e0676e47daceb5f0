// Package server implements the standalone TCP RESP acceptor (spec §5, §6.3): one goroutine per
// connection via tidwall/redcon, translating wire frames through internal/resp into
// internal/dispatch calls. Modeled on the teacher's cmd/server main loop — a background listener
// goroutine plus a signal-driven graceful shutdown on a bounded context — adapted from an HTTP
// server's ListenAndServe/Shutdown pair to redcon's accept/handle/closed callback shape.
package server

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/redcon"
	"golang.org/x/time/rate"

	"github.com/redlite/redlite/internal/config"
	"github.com/redlite/redlite/internal/dispatch"
	"github.com/redlite/redlite/internal/keydir"
	"github.com/redlite/redlite/internal/pubsub"
	"github.com/redlite/redlite/internal/resp"
	"github.com/redlite/redlite/internal/txn"
)

// Server accepts RESP connections and dispatches every command to a Dispatcher. All connection
// bookkeeping (ConnState, subscriptions, the write mutex guarding async pub/sub delivery) lives
// on connCtx, stashed on the redcon.Conn via SetContext/Context.
type Server struct {
	cfg    config.ServerConfig
	disp   *dispatch.Dispatcher
	dir    *keydir.Directory
	logger *slog.Logger

	srv *redcon.Server

	// limiter gates command dispatch; CLIENT PAUSE reserves enough tokens up front to make every
	// other connection's next WaitN call queue behind it for roughly the requested duration,
	// rather than redlite hand-rolling its own timer-based pause gate (spec §3 "CLIENT PAUSE").
	limiter *rate.Limiter

	mu      sync.Mutex
	conns   map[string]*connCtx
	maxConn int
}

type connCtx struct {
	cs      *dispatch.ConnState
	net     net.Conn
	writeMu sync.Mutex
}

// New builds a Server bound to cfg.Addr, dispatching every accepted connection's commands to
// disp. dir is needed only to build each connection's own txn.Session.
func New(cfg config.ServerConfig, disp *dispatch.Dispatcher, dir *keydir.Directory, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:     cfg,
		disp:    disp,
		dir:     dir,
		logger:  logger.With("component", "server"),
		limiter: rate.NewLimiter(rate.Every(10*time.Millisecond), 1),
		conns:   make(map[string]*connCtx),
		maxConn: cfg.MaxConnections,
	}
	s.srv = redcon.NewServer(cfg.Addr, s.handle, s.accept, s.closed)
	return s
}

// ListenAndServe runs the accept loop until ctx is cancelled, then closes the listener and gives
// in-flight connections cfg.GracefulShutdownTimeout to finish before returning.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.ListenAndServe() }()

	s.logger.Info("server listening", "addr", s.cfg.Addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("server shutting down", "timeout", s.cfg.GracefulShutdownTimeout)
	done := make(chan error, 1)
	go func() { done <- s.srv.Close() }()

	timeout := s.cfg.GracefulShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		return fmt.Errorf("server: graceful shutdown timed out after %s", timeout)
	}
}

func (s *Server) accept(conn redcon.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.maxConn > 0 && len(s.conns) >= s.maxConn {
		s.logger.Warn("connection refused: max_connections reached", "max", s.maxConn)
		return false
	}

	id := uuid.New().String()
	cc := &connCtx{net: conn.NetConn()}
	cc.cs = dispatch.NewConnState(txn.New(s.dir), id, func(m pubsub.Message) error {
		return cc.deliver(m)
	})
	conn.SetContext(cc)
	s.conns[id] = cc
	if s.disp.Metrics != nil {
		s.disp.Metrics.ConnectionOpened()
	}
	return true
}

func (s *Server) closed(conn redcon.Conn, err error) {
	cc, ok := conn.Context().(*connCtx)
	if !ok {
		return
	}
	s.disp.Broker.UnsubscribeAll(cc.cs.Sub)
	s.mu.Lock()
	delete(s.conns, cc.cs.Sub.ID())
	s.mu.Unlock()
	if s.disp.Metrics != nil {
		s.disp.Metrics.ConnectionClosed()
	}
}

func (s *Server) handle(conn redcon.Conn, cmd redcon.Command) {
	cc, ok := conn.Context().(*connCtx)
	if !ok {
		conn.WriteError("ERR internal: missing connection state")
		return
	}

	command := resp.FromRedcon(cmd)

	// CLIENT PAUSE is handled here rather than in internal/dispatch: the pause must gate every
	// connection's *next* command, which only the acceptor's shared rate.Limiter can see.
	if command.Name == "CLIENT" && len(command.Args) >= 2 && strings.ToUpper(string(command.Args[0])) == "PAUSE" {
		s.pause(command.Args[1])
		conn.WriteString("OK")
		return
	}

	if err := s.limiter.WaitN(context.Background(), 1); err != nil {
		conn.WriteError("ERR rate limited: " + err.Error())
		return
	}

	reply := s.disp.Dispatch(context.Background(), cc.cs, command)
	resp.WriteReply(conn, reply)
}

// pause reserves enough limiter tokens to occupy roughly msArg milliseconds of queue time for
// every command that arrives on any connection after this one, including this one's own future
// commands.
func (s *Server) pause(msArg []byte) {
	ms, err := strconv.ParseInt(string(msArg), 10, 64)
	if err != nil || ms <= 0 {
		return
	}
	tokens := int(ms/10) + 1
	s.limiter.ReserveN(time.Now(), tokens)
}

func (cc *connCtx) deliver(m pubsub.Message) error {
	var reply resp.Reply
	if m.Pattern != nil {
		reply = resp.Array(resp.BulkString("pmessage"), resp.BulkBytes(m.Pattern), resp.BulkBytes(m.Channel), resp.BulkBytes(m.Payload))
	} else {
		reply = resp.Array(resp.BulkString("message"), resp.BulkBytes(m.Channel), resp.BulkBytes(m.Payload))
	}
	var buf bytes.Buffer
	if err := resp.Encode(&buf, reply); err != nil {
		return err
	}
	cc.writeMu.Lock()
	defer cc.writeMu.Unlock()
	_, err := cc.net.Write(buf.Bytes())
	return err
}
