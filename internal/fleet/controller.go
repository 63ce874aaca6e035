package fleet

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/chainforge/fleetci/internal/logger"
)

// state is the controller's own lifecycle state, distinct from (and much
// coarser than) the reconciliation decision made each tick.
type state string

const (
	stateStarting     state = "starting"
	stateVerifying    state = "verifying"
	stateReconciling  state = "reconciling"
	stateWaiting      state = "waiting"
)

// queueMetricsSource is the subset of MetricsClient the controller depends
// on, narrowed to an interface so reconciliation can be tested without an
// HTTP round trip.
type queueMetricsSource interface {
	GetQueueMetrics(ctx context.Context) (*QueueMetrics, error)
}

// Controller runs the fleet reconciliation loop: read queue depth, read
// current replica count, compute desired replica count, and scale the
// managed deployment subject to a scale-down cooldown.
type Controller struct {
	metrics queueMetricsSource
	scaler  DeploymentScaler
	cfg     *Config

	mu             sync.Mutex
	state          state
	lastScaleDown  time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewController validates a deployment exists before returning, matching
// the documented Starting -> Verifying transition: a deployment-not-found
// at startup is fatal.
func NewController(ctx context.Context, cfg *Config, metrics queueMetricsSource, scaler DeploymentScaler) (*Controller, error) {
	cctx, cancel := context.WithCancel(ctx)
	c := &Controller{
		metrics: metrics,
		scaler:  scaler,
		cfg:     cfg,
		state:   stateStarting,
		ctx:     cctx,
		cancel:  cancel,
	}

	c.setState(stateVerifying)
	if _, err := scaler.CurrentReplicas(ctx); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to verify managed deployment at startup: %w", err)
	}

	return c, nil
}

func (c *Controller) setState(s state) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
}

// Run blocks, reconciling every PollInterval until the context passed to
// NewController is cancelled.
func (c *Controller) Run() {
	c.wg.Add(1)
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	c.setState(stateWaiting)

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.setState(stateReconciling)
			if err := c.Reconcile(c.ctx); err != nil {
				logger.Default().Error("reconciliation failed", "error", err)
			}
			c.setState(stateWaiting)
		}
	}
}

// Stop signals the run loop to exit and waits for an in-flight
// reconciliation to complete.
func (c *Controller) Stop() {
	c.cancel()
	c.wg.Wait()
}

// Reconcile executes one reconciliation step: fetch metrics, read current
// replicas, compute the desired count, and scale if needed subject to the
// scale-down cooldown.
func (c *Controller) Reconcile(ctx context.Context) error {
	metrics, err := c.metrics.GetQueueMetrics(ctx)
	if err != nil {
		// Metrics fetch failure: log and skip this tick, no scaling action.
		logger.Default().Warn("skipping reconciliation: metrics fetch failed", "error", err)
		return nil
	}

	current, err := c.scaler.CurrentReplicas(ctx)
	if err != nil {
		if err == ErrDeploymentNotFound {
			// Fatal only at startup (enforced in NewController); at runtime
			// this is transient, so log and skip rather than erroring out.
			logger.Default().Warn("skipping reconciliation: deployment not found", "deployment", c.cfg.DeploymentName)
			return nil
		}
		return fmt.Errorf("failed to read current replica count: %w", err)
	}

	desired := DesiredReplicas(metrics.PendingFragments, c.cfg.TargetPendingPerWorker, c.cfg.MinReplicas, c.cfg.MaxReplicas)

	switch {
	case desired == current:
		logger.Default().Debug("no scaling action needed", "current", current, "desired", desired)
		return nil

	case desired > current:
		logger.Default().Info("scaling up", "current", current, "desired", desired, "pending", metrics.PendingFragments)
		return c.scale(ctx, desired)

	default:
		c.mu.Lock()
		elapsed := time.Since(c.lastScaleDown)
		ready := c.lastScaleDown.IsZero() || elapsed >= c.cfg.ScaleDownDelay
		c.mu.Unlock()

		if !ready {
			logger.Default().Info("skipping scale-down, cooldown active", "current", current, "desired", desired, "elapsed", elapsed)
			return nil
		}

		logger.Default().Info("scaling down", "current", current, "desired", desired, "pending", metrics.PendingFragments)
		if err := c.scale(ctx, desired); err != nil {
			return err
		}
		c.mu.Lock()
		c.lastScaleDown = time.Now()
		c.mu.Unlock()
		return nil
	}
}

func (c *Controller) scale(ctx context.Context, replicas int32) error {
	if err := c.scaler.Scale(ctx, replicas); err != nil {
		if err == ErrDeploymentNotFound {
			logger.Default().Warn("scale patch skipped: deployment not found", "deployment", c.cfg.DeploymentName)
			return nil
		}
		return fmt.Errorf("failed to scale deployment: %w", err)
	}
	return nil
}

// DesiredReplicas computes clamp(ceil(pending/target), min, max) using
// integer arithmetic over the floating-point ratio. target <= 0 collapses
// to min, per the documented edge case.
func DesiredReplicas(pending int, target float64, min, max int32) int32 {
	if target <= 0 {
		return clamp(min, min, max)
	}

	raw := int32(math.Ceil(float64(pending) / target))
	return clamp(raw, min, max)
}

func clamp(v, min, max int32) int32 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
