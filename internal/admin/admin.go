// Package admin implements redlite's HTTP introspection surface (spec §6.2 AdminAddr):
// a health check, a JSON snapshot of page-store stats, the Prometheus scrape endpoint, and a
// websocket feed of live command verbs. Modeled on the teacher's internal/api.Router (gorilla/mux
// route registration) and cmd/server/handlers.WebSocketHub (register/unregister/broadcast over
// gorilla/websocket), generalized from silence events to redlite's own command feed.
package admin

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/redlite/redlite/internal/dispatch"
	"github.com/redlite/redlite/internal/metrics"
)

// Server is redlite's admin HTTP surface: /healthz, /stats, /metrics, and /ws/commands.
type Server struct {
	addr    string
	router  *mux.Router
	http    *http.Server
	disp    *dispatch.Dispatcher
	metrics *metrics.Metrics
	hub     *commandHub
	logger  *slog.Logger
}

// New builds a Server bound to addr. It replaces disp.Feed with its own channel to drive the
// command websocket feed — callers should build the admin Server once, immediately after the
// Dispatcher, before traffic starts.
func New(addr string, disp *dispatch.Dispatcher, mtr *metrics.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	feed := make(chan string, 256)
	disp.Feed = feed

	hub := newCommandHub(logger)
	go hub.run(feed)

	s := &Server{addr: addr, disp: disp, metrics: mtr, hub: hub, logger: logger.With("component", "admin")}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	r.HandleFunc("/ws/commands", hub.handleWebSocket).Methods(http.MethodGet)
	if mtr != nil {
		r.Handle("/metrics", mtr.Handler()).Methods(http.MethodGet)
	}
	s.router = r
	s.http = &http.Server{Addr: addr, Handler: r}
	return s
}

// ListenAndServe runs the admin HTTP server until Shutdown is called.
func (s *Server) ListenAndServe() error {
	s.logger.Info("admin server listening", "addr", s.addr)
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops the admin HTTP server and closes every websocket client.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.closeAll()
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.disp.Store.Stats(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if s.metrics != nil {
		s.metrics.SetStoreStats(stats.PageCount, stats.FileSizeBytes)
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(statsPayload{
		FileSizeBytes: stats.FileSizeBytes,
		PageCount:     stats.PageCount,
		PageSizeBytes: stats.PageSizeBytes,
		CacheHits:     stats.CacheHits,
		CacheMisses:   stats.CacheMisses,
	})
}

type statsPayload struct {
	FileSizeBytes int64 `json:"file_size_bytes"`
	PageCount     int64 `json:"page_count"`
	PageSizeBytes int64 `json:"page_size_bytes"`
	CacheHits     int64 `json:"cache_hits"`
	CacheMisses   int64 `json:"cache_misses"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// commandEvent is one broadcast frame: a dispatched command's verb and when it ran.
type commandEvent struct {
	Command string `json:"command"`
	AtMs    int64  `json:"at_ms"`
}

// commandHub fans a feed of dispatched command names out to every connected websocket client,
// the same register/unregister/broadcast shape as the teacher's WebSocketHub, generalized from
// one event type to a live verb stream.
type commandHub struct {
	clients    map[*websocket.Conn]bool
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	broadcast  chan commandEvent
	closeAllCh chan struct{}
	logger     *slog.Logger
}

func newCommandHub(logger *slog.Logger) *commandHub {
	return &commandHub{
		clients:    make(map[*websocket.Conn]bool),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		broadcast:  make(chan commandEvent, 256),
		closeAllCh: make(chan struct{}),
		logger:     logger,
	}
}

// run owns the clients map exclusively, draining feed into the broadcast channel and servicing
// register/unregister/broadcast/closeAll until feed is closed.
func (h *commandHub) run(feed <-chan string) {
	for {
		select {
		case name, ok := <-feed:
			if !ok {
				return
			}
			select {
			case h.broadcast <- commandEvent{Command: name, AtMs: time.Now().UnixMilli()}:
			default:
				h.logger.Warn("command feed full, dropping event")
			}
		case client := <-h.register:
			h.clients[client] = true
		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.Close()
			}
		case event := <-h.broadcast:
			for client := range h.clients {
				client.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := client.WriteJSON(event); err != nil {
					go func(c *websocket.Conn) { h.unregister <- c }(client)
				}
			}
		case <-h.closeAllCh:
			for client := range h.clients {
				client.Close()
			}
			h.clients = make(map[*websocket.Conn]bool)
		}
	}
}

func (h *commandHub) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	h.register <- conn
	go h.readPump(conn)
}

// readPump keeps the connection alive and notices when the client goes away; redlite's command
// feed is one-directional so anything the client sends is discarded.
func (h *commandHub) readPump(conn *websocket.Conn) {
	defer func() { h.unregister <- conn }()
	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// closeAll asks the run goroutine to close every connected client; safe to call concurrently
// with run since it only ever sends on a channel run selects on.
func (h *commandHub) closeAll() {
	select {
	case h.closeAllCh <- struct{}{}:
	case <-time.After(time.Second):
	}
}
