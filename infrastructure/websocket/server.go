package websocket

import (
	"chat-relay/auth"
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/observability"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	gorilla "github.com/gorilla/websocket"
	"github.com/rs/cors"
)

// PresenceSource is the read side of the session registry.
type PresenceSource interface {
	Snapshot() []domain.Identity
	Count() int
}

type ServerConfig struct {
	AllowedOrigins  []string
	Conn            ConnConfig
	ShutdownTimeout time.Duration
}

// Server accepts websocket clients on /ws and hands each connection to the
// connection handler. It also serves a small read-only HTTP API.
type Server struct {
	log      *slog.Logger
	handler  contract.IConnectionHandler
	presence PresenceSource
	stats    *observability.Stats
	tokens   *auth.TokenIssuer
	config   ServerConfig
	cors     *cors.Cors
	upgrader gorilla.Upgrader
	router   *mux.Router

	mu      sync.Mutex
	baseCtx context.Context
	conns   sync.WaitGroup
}

func NewServer(log *slog.Logger, handler contract.IConnectionHandler, presence PresenceSource,
	stats *observability.Stats, tokens *auth.TokenIssuer, config ServerConfig) *Server {
	s := &Server{
		log:      log,
		handler:  handler,
		presence: presence,
		stats:    stats,
		tokens:   tokens,
		config:   config,
		router:   mux.NewRouter(),
		baseCtx:  context.Background(),
	}
	s.cors = cors.New(cors.Options{
		AllowedOrigins:   config.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	})
	s.upgrader = gorilla.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.HandleFunc("/ws", s.handleWebSocket).Methods(http.MethodGet)
	s.router.HandleFunc("/healthz", s.healthHandler).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/stats", s.statsHandler).Methods(http.MethodGet)
	api.Handle("/presence", auth.Middleware(s.tokens)(http.HandlerFunc(s.presenceHandler))).
		Methods(http.MethodGet)
}

// Handler is the full HTTP surface, CORS included.
func (s *Server) Handler() http.Handler {
	return s.cors.Handler(s.router)
}

// Run serves on addr until ctx is canceled, then stops accepting and waits
// for the live connections to be closed by their handlers.
func (s *Server) Run(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listener)
}

func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	s.mu.Lock()
	s.baseCtx = ctx
	s.mu.Unlock()

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("Relay listening", "addr", listener.Addr().String())
		errCh <- srv.Serve(listener)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.log.Warn("HTTP shutdown incomplete", "error", err)
	}
	s.conns.Wait()
	s.log.Info("Relay stopped")
	return nil
}

func (s *Server) context() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.baseCtx
}

// checkOrigin lets non-browser clients (no Origin header) through and
// applies the CORS origin list to browsers.
func (s *Server) checkOrigin(r *http.Request) bool {
	if r.Header.Get("Origin") == "" {
		return true
	}
	return s.cors.OriginAllowed(r)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("WebSocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	s.conns.Add(1)
	defer s.conns.Done()

	conn := NewConn(s.log, ws, r.RemoteAddr, s.config.Conn)
	if err := s.handler.Serve(s.context(), conn); err != nil {
		s.log.Debug("Connection ended", "remote", r.RemoteAddr, "error", err)
	}
	// Handler closes with a reason; this only guarantees the socket is released
	_ = conn.Close(domain.CloseTransport)
}

type presenceResponse struct {
	Online int               `json:"online"`
	Users  []domain.Identity `json:"users"`
}

func (s *Server) presenceHandler(w http.ResponseWriter, r *http.Request) {
	users := s.presence.Snapshot()
	writeJSON(w, http.StatusOK, presenceResponse{Online: len(users), Users: users})
}

func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.stats.Latest())
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "online": s.presence.Count()})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
