package server

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/alis2001/chat-service/internal/auth"
	"github.com/alis2001/chat-service/internal/chat"
	"github.com/alis2001/chat-service/internal/conc"
	"github.com/alis2001/chat-service/internal/log"
	"github.com/alis2001/chat-service/internal/merr"
	"github.com/alis2001/chat-service/internal/metrics"
	"github.com/alis2001/chat-service/internal/session"
	"github.com/alis2001/chat-service/internal/store"
)

const writeControlWait = time.Second

// Stats is the live connection summary served on /stats.
type Stats struct {
	ActiveConnections  int          `json:"activeConnections"`
	AuthenticatedUsers int          `json:"authenticatedUsers"`
	TotalConnections   int64        `json:"totalConnections"`
	Uptime             string       `json:"uptime"`
	Store              *store.Stats `json:"store,omitempty"`
}

// Server is the context object of one chat service instance.
type Server struct {
	cfg      Config
	store    store.Store
	registry *session.Registry
	engine   *chat.Engine
	reaper   *chat.Reaper
	pool     *conc.Pool
	origins  *originPolicy
	upgrader websocket.Upgrader
	http     *http.Server
	logger   *zap.Logger

	// ctx outlives individual requests and is canceled by Shutdown
	ctx       context.Context
	cancel    context.CancelFunc
	workersMu sync.Mutex
	closing   bool
	workers   sync.WaitGroup

	startedAt        time.Time
	totalConnections atomic.Int64
	shutdownOnce     sync.Once
	shutdownErr      error
}

// New builds a server around st and authn. The caller keeps ownership of st.
func New(cfg Config, st store.Store, authn auth.Authenticator) (*Server, error) {
	if st == nil {
		return nil, errors.New("server: store is required")
	}
	if authn == nil {
		return nil, errors.New("server: authenticator is required")
	}
	cfg = sanitizeConfig(cfg)
	metrics.Register(prometheus.DefaultRegisterer)

	pool, err := conc.NewPool(cfg.WorkerPoolSize,
		conc.WithNonBlocking(true),
		conc.WithExpiryDuration(time.Minute))
	if err != nil {
		return nil, err
	}

	registry := session.NewRegistry()
	engine := chat.NewEngine(chat.Config{
		HistoryLimit:     cfg.HistoryLimit,
		MaxContentLength: cfg.MaxContentLength,
		TypingTTL:        cfg.TypingTTL,
		StoreTimeout:     cfg.StoreTimeout,
	}, registry, st, authn, pool)

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:       cfg,
		store:     st,
		registry:  registry,
		engine:    engine,
		pool:      pool,
		origins:   newOriginPolicy(cfg.AllowedOrigins),
		logger:    log.With(log.FieldComponent("server")),
		ctx:       ctx,
		cancel:    cancel,
		startedAt: time.Now(),
	}
	s.reaper = chat.NewReaper(registry, engine, engine.Typing(), cfg.IdleTimeout, cfg.MaintenanceInterval, engine.Now)
	s.upgrader = websocket.Upgrader{
		HandshakeTimeout: cfg.HandshakeTimeout,
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		CheckOrigin:      s.origins.checkOrigin,
	}
	s.http = CreateServer(cfg.Port, s.routes(), cfg.HandshakeTimeout)
	return s, nil
}

// Handler returns the HTTP handler serving every route.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

func (s *Server) Registry() *session.Registry { return s.registry }

// Run listens on the configured port and serves until ctx is done or the
// listener fails, then shuts down.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Port)
	if err != nil {
		return errors.Wrapf(err, "listen on %s", s.cfg.Port)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln and runs the idle reaper alongside it.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()
	// a direct Shutdown call ends Serve too
	unregister := context.AfterFunc(s.ctx, stop)
	defer unregister()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := StartServer(s.http, ln); !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "serve http")
		}
		return nil
	})
	g.Go(func() error {
		return s.reaper.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// Shutdown stops accepting connections, disconnects every session with
// presence set offline and waits for connection workers and pending
// persistence until ctx is done. Later calls return the first result.
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() {
		s.shutdownErr = s.shutdown(ctx)
	})
	return s.shutdownErr
}

func (s *Server) shutdown(ctx context.Context) error {
	s.logger.Info("shutting down", zap.Int("sessions", s.registry.Count()))
	s.cancel()
	s.workersMu.Lock()
	s.closing = true
	s.workersMu.Unlock()

	var errs []error
	if err := ShutdownServer(ctx, s.http); err != nil {
		errs = append(errs, err)
	}

	n := s.engine.DisconnectAll(ctx, chat.ReasonShutdown)

	done := make(chan struct{})
	go func() {
		s.workers.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, errors.Wrap(ctx.Err(), "wait for connection workers"))
	}

	timeout := time.Second
	if deadline, ok := ctx.Deadline(); ok {
		timeout = max(time.Until(deadline), 0)
	}
	if err := s.pool.Release(timeout); err != nil {
		errs = append(errs, errors.Wrap(err, "release persistence pool"))
	}

	s.logger.Info("shutdown complete", zap.Int("disconnected", n))
	return merr.Combine(errs...)
}

// Stats reports live connection counts and, when the store answers, stored
// entity counts.
func (s *Server) Stats(ctx context.Context) Stats {
	st := Stats{
		ActiveConnections:  s.registry.Count(),
		AuthenticatedUsers: s.registry.CountAuthenticated(),
		TotalConnections:   s.totalConnections.Load(),
		Uptime:             time.Since(s.startedAt).Round(time.Second).String(),
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	if stored, err := s.store.Stats(ctx); err == nil {
		st.Store = &stored
	} else {
		s.logger.Warn("store stats failed", zap.Error(err))
	}
	return st
}
