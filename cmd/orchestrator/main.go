// Command orchestrator runs the fleetci orchestrator HTTP API: worker
// registration and heartbeat, the work request/result cycle, the
// queue-metrics projection, and the background liveness monitor.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chainforge/fleetci/internal/api/rest"
	"github.com/chainforge/fleetci/internal/config"
	"github.com/chainforge/fleetci/internal/domain/repository"
	"github.com/chainforge/fleetci/internal/logger"
	"github.com/chainforge/fleetci/internal/monitor"
	"github.com/chainforge/fleetci/internal/orchestrator"
	"github.com/chainforge/fleetci/internal/scheduler"
	"github.com/chainforge/fleetci/internal/storage"
	"github.com/uptrace/bun"
)

// Server wires together the database, repositories, scheduler, liveness
// monitor, and HTTP server behind a phased initialization, mirroring the
// layered component construction used elsewhere in this codebase.
type Server struct {
	config     *config.Config
	logger     *logger.Logger
	httpServer *http.Server

	db        *bun.DB
	chains    repository.ChainRepository
	fragments repository.FragmentRepository
	workers   repository.WorkerRepository
	scheduler *scheduler.Scheduler
	monitor   *monitor.Monitor
}

// Option configures a Server during New.
type Option func(*Server) error

// WithConfig overrides the configuration New would otherwise load from
// the environment.
func WithConfig(cfg *config.Config) Option {
	return func(s *Server) error {
		s.config = cfg
		return nil
	}
}

// New builds a fully initialized Server.
func New(opts ...Option) (*Server, error) {
	s := &Server{}

	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if s.config == nil {
		cfg, err := config.Load()
		if err != nil {
			return nil, fmt.Errorf("failed to load configuration: %w", err)
		}
		s.config = cfg
	}

	s.logger = logger.New(logger.Config{Level: s.config.Logging.Level, Format: s.config.Logging.Format})
	logger.SetDefault(s.logger)

	if err := s.initDatabase(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	s.initRepositories()
	s.initScheduler()
	if err := s.initMonitor(); err != nil {
		return nil, fmt.Errorf("failed to initialize liveness monitor: %w", err)
	}
	s.initHTTPServer()

	return s, nil
}

func (s *Server) initDatabase() error {
	dbConfig := &storage.Config{
		DSN:             s.config.Database.URL,
		MaxOpenConns:    s.config.Database.MaxConnections,
		MaxIdleConns:    s.config.Database.MinConnections,
		ConnMaxLifetime: s.config.Database.MaxConnLifetime,
		ConnMaxIdleTime: s.config.Database.MaxIdleTime,
	}

	db, err := storage.NewDB(dbConfig)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	s.db = db
	s.logger.Info("database connected", "max_conns", s.config.Database.MaxConnections)
	return nil
}

func (s *Server) initRepositories() {
	s.chains = storage.NewChainRepository(s.db)
	s.fragments = storage.NewFragmentRepository(s.db)
	s.workers = storage.NewWorkerRepository(s.db)
}

func (s *Server) initScheduler() {
	s.scheduler = scheduler.New(s.chains, s.fragments, s.workers)
}

func (s *Server) initMonitor() error {
	m, err := monitor.New(monitor.Config{
		Workers:          s.workers,
		Fragments:        s.fragments,
		Interval:         s.config.Scheduler.MonitorInterval,
		HeartbeatTimeout: s.config.Scheduler.HeartbeatTimeout,
		MaxRetryAttempts: s.config.Scheduler.MaxRetryAttempts,
	})
	if err != nil {
		return err
	}
	s.monitor = m
	return nil
}

func (s *Server) initHTTPServer() {
	ops := &orchestrator.Operations{
		Workers:   s.workers,
		Fragments: s.fragments,
		Chains:    s.chains,
		Scheduler: s.scheduler,
		Logger:    s.logger,
	}
	router := rest.NewOrchestratorRouter(ops, s.logger)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port),
		Handler:      router,
		ReadTimeout:  s.config.Server.ReadTimeout,
		WriteTimeout: s.config.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}
}

// Run starts the HTTP server and the liveness monitor, blocking until a
// shutdown signal is received.
func (s *Server) Run() error {
	s.monitor.Start()

	s.logger.Info("starting orchestrator", "host", s.config.Server.Host, "port", s.config.Server.Port)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- s.httpServer.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil

	case sig := <-shutdown:
		s.logger.Info("shutdown initiated", "signal", sig.String())

		ctx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
		defer cancel()

		return s.Shutdown(ctx)
	}
}

// Shutdown gracefully stops the HTTP server and the liveness monitor.
func (s *Server) Shutdown(ctx context.Context) error {
	s.monitor.Stop()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("graceful shutdown failed", "error", err)
		if cerr := s.httpServer.Close(); cerr != nil {
			s.logger.Error("server close failed", "error", cerr)
		}
	}

	if err := storage.Close(s.db); err != nil {
		s.logger.Error("database close failed", "error", err)
	}

	s.logger.Info("orchestrator stopped")
	return nil
}

func main() {
	s, err := New()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize orchestrator: %v\n", err)
		os.Exit(1)
	}

	if err := s.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "orchestrator exited with error: %v\n", err)
		os.Exit(1)
	}
}
