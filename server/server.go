// Package server exposes lookups, history, analytics and news over HTTP.
package server

import (
	"context"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/teranos/cyberlens/am"
	"github.com/teranos/cyberlens/errors"
	"github.com/teranos/cyberlens/history"
	"github.com/teranos/cyberlens/logger"
	"github.com/teranos/cyberlens/news"
	"github.com/teranos/cyberlens/orchestrator"
)

// ServerState tracks the server lifecycle
type ServerState int32

const (
	ServerStateStarting ServerState = iota
	ServerStateRunning
	ServerStateDraining
	ServerStateStopped
)

func (s ServerState) String() string {
	switch s {
	case ServerStateStarting:
		return "starting"
	case ServerStateRunning:
		return "running"
	case ServerStateDraining:
		return "draining"
	case ServerStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Deps are the services the server routes to. History and News may be nil,
// in which case their endpoints report 503.
type Deps struct {
	Orchestrator *orchestrator.Orchestrator
	History      *history.Store
	News         *news.Store
	Config       *am.Config
	Logger       *zap.SugaredLogger
}

// Server is the CyberLens HTTP API
type Server struct {
	orch    *orchestrator.Orchestrator
	history *history.Store
	news    *news.Store
	logger  *zap.SugaredLogger
	router  *mux.Router

	recordHistory  atomic.Bool
	allowedOrigins atomic.Pointer[[]string]
	state          atomic.Int32

	shutdownTimeout time.Duration
}

// New builds the server and its routes
func New(deps Deps) (*Server, error) {
	if deps.Orchestrator == nil {
		return nil, errors.NewConfigurationError("server requires an orchestrator")
	}
	cfg := deps.Config
	if cfg == nil {
		cfg = am.DefaultConfig()
	}
	log := deps.Logger
	if log == nil {
		log = logger.ComponentLogger("server")
	}

	s := &Server{
		orch:            deps.Orchestrator,
		history:         deps.History,
		news:            deps.News,
		logger:          log,
		router:          mux.NewRouter(),
		shutdownTimeout: cfg.ShutdownTimeout(),
	}
	s.ApplyConfig(cfg)
	s.setupRoutes(cfg)
	return s, nil
}

// Handler returns the root handler with middleware applied
func (s *Server) Handler() http.Handler {
	return s.router
}

// ApplyConfig applies the settings that may change at runtime
func (s *Server) ApplyConfig(cfg *am.Config) {
	origins := append([]string(nil), cfg.Server.AllowedOrigins...)
	s.allowedOrigins.Store(&origins)
	s.recordHistory.Store(cfg.Lookup.RecordHistory)
}

func (s *Server) getState() ServerState {
	return ServerState(s.state.Load())
}

func (s *Server) setState(state ServerState) {
	s.state.Store(int32(state))
	s.logger.Infow("server state changed", "state", state.String())
}

// Serve accepts connections on ln until ctx is canceled, then drains
// in-flight requests for up to the configured shutdown timeout.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	httpServer := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       2 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.Serve(ln)
	}()
	s.setState(ServerStateRunning)
	s.logger.Infow("listening", logger.FieldAddress, ln.Addr().String())

	select {
	case err := <-errCh:
		s.setState(ServerStateStopped)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "server failed")
	case <-ctx.Done():
	}

	s.setState(ServerStateDraining)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	err := httpServer.Shutdown(shutdownCtx)
	s.setState(ServerStateStopped)
	if err != nil {
		return errors.Wrap(err, "graceful shutdown failed")
	}
	return nil
}

// ListenAndServe listens on addr and serves until ctx is canceled
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %s", addr)
	}
	return s.Serve(ctx, ln)
}
