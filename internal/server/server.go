// Package server is the websocket transport in front of the game registry
// and the matchmaking queue. It owns identity at the connection boundary,
// room fan-out, and the HTTP surface (upgrade, health, metrics, version).
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/feltworks/cardroom/internal/game"
	"github.com/feltworks/cardroom/internal/queue"
)

const shutdownTimeout = 10 * time.Second

// Options wires the server's collaborators. Hub must be the same instance
// the registry broadcasts through.
type Options struct {
	Config   *Config
	Logger   *log.Logger
	Registry *game.Registry
	Queue    *queue.Queue
	Hub      *Hub
	Gatherer prometheus.Gatherer
	Clock    quartz.Clock
	Version  string
}

// Server serves the websocket and HTTP endpoints.
type Server struct {
	cfg      *Config
	logger   *log.Logger
	registry *game.Registry
	queue    *queue.Queue
	hub      *Hub
	gatherer prometheus.Gatherer
	clock    quartz.Clock
	upgrader websocket.Upgrader
	version  string
}

// New builds a server from the options.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	clock := opts.Clock
	if clock == nil {
		clock = quartz.NewReal()
	}
	version := opts.Version
	if version == "" {
		version = "dev"
	}
	return &Server{
		cfg:      opts.Config,
		logger:   logger.WithPrefix("server"),
		registry: opts.Registry,
		queue:    opts.Queue,
		hub:      opts.Hub,
		gatherer: opts.Gatherer,
		clock:    clock,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(opts.Config.Server.AllowedOrigins),
		},
		version: version,
	}
}

func (s *Server) now() time.Time {
	return s.clock.Now()
}

// Run serves until ctx is canceled, then shuts down: stop accepting,
// drain the registry (pending persists flushed, final snapshots written),
// return.
func (s *Server) Run(ctx context.Context) error {
	httpSrv := &http.Server{
		Addr:              s.cfg.Server.Listen,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.registry.Run(ctx)
	})

	g.Go(func() error {
		s.logger.Info("listening", "addr", s.cfg.Server.Listen)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		s.logger.Info("shutting down")
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpSrv.Shutdown(shutCtx); err != nil {
			s.logger.Error("http shutdown", "error", err)
		}
		s.registry.Close(shutCtx)
		return nil
	})

	return g.Wait()
}

// originChecker builds the websocket origin policy. "*" allows everything;
// otherwise the Origin header must match one allowed value exactly.
// Requests without an Origin header (non-browser clients) always pass.
func originChecker(allowed []string) func(*http.Request) bool {
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}
