// Package monitor implements the liveness sweep: a periodic task that
// detects workers which have stopped heartbeating and resets or fails
// their in-flight fragment.
package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chainforge/fleetci/internal/domain/repository"
	"github.com/chainforge/fleetci/internal/logger"
	"github.com/chainforge/fleetci/pkg/models"
)

// Config holds the dependencies and tuning parameters for a Monitor.
type Config struct {
	Workers   repository.WorkerRepository
	Fragments repository.FragmentRepository

	// Interval between sweeps.
	Interval time.Duration
	// HeartbeatTimeout is how stale last_heartbeat must be before a worker
	// is considered dead.
	HeartbeatTimeout time.Duration
	// MaxRetryAttempts bounds reset_for_retry; at or beyond this, the
	// fragment is failed outright instead of returned to the pool.
	MaxRetryAttempts int
}

// Monitor runs the periodic liveness sweep on its own goroutine.
type Monitor struct {
	workers   repository.WorkerRepository
	fragments repository.FragmentRepository

	interval         time.Duration
	heartbeatTimeout time.Duration
	maxRetryAttempts int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.RWMutex
}

// New constructs a Monitor, validating required configuration.
func New(cfg Config) (*Monitor, error) {
	if cfg.Workers == nil {
		return nil, fmt.Errorf("worker repository is required")
	}
	if cfg.Fragments == nil {
		return nil, fmt.Errorf("fragment repository is required")
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("monitor interval must be positive")
	}
	if cfg.HeartbeatTimeout <= 0 {
		return nil, fmt.Errorf("heartbeat timeout must be positive")
	}
	if cfg.MaxRetryAttempts <= 0 {
		cfg.MaxRetryAttempts = 3
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Monitor{
		workers:          cfg.Workers,
		fragments:        cfg.Fragments,
		interval:         cfg.Interval,
		heartbeatTimeout: cfg.HeartbeatTimeout,
		maxRetryAttempts: cfg.MaxRetryAttempts,
		ctx:              ctx,
		cancel:           cancel,
	}, nil
}

// Start begins the sweep loop on a background goroutine.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.wg.Add(1)
	go m.run()
}

// Stop cancels the sweep loop and waits for the in-flight sweep, if any,
// to finish.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cancel()
	m.wg.Wait()
}

func (m *Monitor) run() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			if err := m.sweep(m.ctx); err != nil {
				logger.Default().Error("liveness sweep failed", "error", err)
			}
		}
	}
}

// sweep finds every Active worker whose last heartbeat is stale and
// transitions it to Error, resetting or failing its current fragment.
func (m *Monitor) sweep(ctx context.Context) error {
	threshold := time.Now().Add(-m.heartbeatTimeout)

	dead, err := m.workers.FindDeadWorkers(ctx, threshold)
	if err != nil {
		return fmt.Errorf("failed to find dead workers: %w", err)
	}

	for _, worker := range dead {
		if err := m.reap(ctx, worker); err != nil {
			logger.Default().Error("failed to reap dead worker", "worker_id", worker.ID, "error", err)
		}
	}
	return nil
}

func (m *Monitor) reap(ctx context.Context, worker *models.Worker) error {
	if err := m.workers.MarkError(ctx, worker.ID); err != nil {
		return fmt.Errorf("failed to mark worker %s in error: %w", worker.ID, err)
	}

	if worker.CurrentFragment == nil {
		return nil
	}

	fragment, err := m.fragments.FindByID(ctx, *worker.CurrentFragment)
	if err != nil {
		return fmt.Errorf("failed to load fragment %s: %w", *worker.CurrentFragment, err)
	}

	if fragment.Attempt < m.maxRetryAttempts {
		if err := m.fragments.ResetForRetry(ctx, fragment.ID); err != nil {
			return fmt.Errorf("failed to reset fragment %s for retry: %w", fragment.ID, err)
		}
		logger.Default().Info("reset fragment for retry after dead worker", "fragment_id", fragment.ID, "worker_id", worker.ID, "attempt", fragment.Attempt+1)
	} else {
		if err := m.fragments.FailExecution(ctx, fragment.ID, "worker died and max retry attempts exceeded"); err != nil {
			return fmt.Errorf("failed to fail fragment %s: %w", fragment.ID, err)
		}
		logger.Default().Warn("fragment failed after exhausting retries", "fragment_id", fragment.ID, "worker_id", worker.ID)
	}

	return nil
}
