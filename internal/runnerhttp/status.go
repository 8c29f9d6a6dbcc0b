// Package runnerhttp is the optional status/websocket server enabled by
// --status-addr (SPEC_FULL.md §6.6). It is purely additive: none of
// spec.md's testable properties depend on it, and it never starts unless a
// status address is configured.
//
// Grounded on http.go's startServingTargetDirHTTP/getWebsocketHandler: a
// single *http.Server with a ReadHeaderTimeout against Slowloris, a gorilla
// websocket upgrader with a permissive CheckOrigin (this, like the
// teacher's, is a local developer-facing endpoint, not a public one), and
// the same ping/pong/write-deadline discipline.
package runnerhttp

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/patrickmn/go-cache"
	"golang.org/x/xerrors"

	"github.com/runjobs/runjobs/internal/runner"
	"github.com/runjobs/runjobs/internal/runnerlog"
)

// Provider supplies the current state to render. internal/runner.Coordinator
// satisfies this without runnerhttp needing to import anything beyond the
// runner.Status value type.
type Provider interface {
	Statuses() []runner.Status
}

const (
	websocketMaxMessageSize = 512
	websocketPongWait       = 10 * time.Second
	websocketPingPeriod     = (websocketPongWait * 9) / 10
	websocketWriteWait      = 10 * time.Second

	minCacheTTL = 250 * time.Millisecond
)

var upgrader = websocket.Upgrader{
	CheckOrigin:     func(*http.Request) bool { return true },
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Server serves the JSON status snapshot and its websocket push feed.
type Server struct {
	addr     string
	provider Provider
	log      runnerlog.Logger
	cache    *cache.Cache
	ttl      time.Duration

	httpServer *http.Server
}

// NewServer constructs a status server. ttl is the cache lifetime for the
// rendered JSON snapshot -- SPEC_FULL.md §6.6 recommends a quarter of the
// fastest registered job's interval with a floor of 250ms, which callers
// compute (MinTTLFor) and pass in.
func NewServer(addr string, provider Provider, ttl time.Duration, log runnerlog.Logger) *Server {
	if ttl < minCacheTTL {
		ttl = minCacheTTL
	}

	return &Server{
		addr:     addr,
		provider: provider,
		log:      log.With("component", "status-server"),
		cache:    cache.New(ttl, 2*ttl),
		ttl:      ttl,
	}
}

// Start begins serving in the background. It never blocks the caller; HTTP
// server errors are logged, not fatal, since the status server is an
// optional convenience, not part of the runtime core.
func (s *Server) Start() {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/status/ws", s.handleStatusWS)

	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.log.Errorf("status server error: %v", xerrors.Errorf("error starting status HTTP server: %w", err))
		return
	}

	s.log.Infof("status server listening on %s", ln.Addr())

	go func() {
		err := s.httpServer.Serve(ln)
		if !errors.Is(err, http.ErrServerClosed) {
			s.log.Errorf("status server error: %v", xerrors.Errorf("error starting status HTTP server: %w", err))
		}
	}()
}

// Stop shuts the HTTP server down gracefully within the given context.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snapshot := s.snapshot()

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(snapshot); err != nil {
		s.log.Errorf("error encoding status response: %v", err)
	}
}

// snapshot returns the cached rendering of Provider.Statuses, recomputing
// only once per ttl so a burst of concurrent polls (a dashboard refresh,
// several browser tabs) doesn't each force a fresh pass over every runner.
func (s *Server) snapshot() []runner.Status {
	const cacheKey = "snapshot"

	if cached, ok := s.cache.Get(cacheKey); ok {
		return cached.([]runner.Status)
	}

	statuses := s.provider.Statuses()
	s.cache.SetDefault(cacheKey, statuses)
	return statuses
}

func (s *Server) handleStatusWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Errorf("error upgrading status websocket connection: %v", err)
		return
	}

	go s.writePump(conn)
	go s.readPump(conn)
}

// readPump only exists to notice the connection closing and keep the pong
// deadline alive, mirroring http.go's websocketReadPump -- this endpoint
// never expects anything from the client.
func (s *Server) readPump(conn *websocket.Conn) {
	defer conn.Close()

	conn.SetReadLimit(websocketMaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(websocketPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(websocketPongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) writePump(conn *websocket.Conn) {
	ticker := time.NewTicker(s.ttl)
	pingTicker := time.NewTicker(websocketPingPeriod)
	defer func() {
		ticker.Stop()
		pingTicker.Stop()
		conn.Close()
	}()

	for {
		select {
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(websocketWriteWait))
			if err := conn.WriteJSON(s.snapshot()); err != nil {
				return
			}

		case <-pingTicker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(websocketWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// MinTTLFor picks a status-cache TTL proportional to the fastest registered
// job's interval, per SPEC_FULL.md §6.6.
func MinTTLFor(fastestInterval time.Duration) time.Duration {
	ttl := fastestInterval / 4
	if ttl < minCacheTTL {
		return minCacheTTL
	}
	return ttl
}
