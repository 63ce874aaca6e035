package fleet

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ========== DESIRED REPLICAS CLAMP LAW ==========

func TestDesiredReplicas_ClampsToMinMax(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		pending  int
		target   float64
		min, max int32
		want     int32
	}{
		{"below min rounds up to min", 0, 1.0, 1, 10, 1},
		{"exact division", 10, 2.0, 1, 10, 5},
		{"rounds up on remainder", 11, 2.0, 1, 10, 6},
		{"clamps to max", 100, 1.0, 1, 10, 10},
		{"non-positive target collapses to min", 50, 0, 2, 10, 2},
		{"negative target collapses to min", 50, -5, 2, 10, 2},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := DesiredReplicas(tc.pending, tc.target, tc.min, tc.max)
			assert.Equal(t, tc.want, got)
		})
	}
}

// ========== FAKES ==========

type fakeScaler struct {
	current     int32
	scaleCalls  []int32
	currentErr  error
	scaleErr    error
	notFound    bool
}

func (f *fakeScaler) CurrentReplicas(ctx context.Context) (int32, error) {
	if f.notFound {
		return 0, ErrDeploymentNotFound
	}
	if f.currentErr != nil {
		return 0, f.currentErr
	}
	return f.current, nil
}

func (f *fakeScaler) Scale(ctx context.Context, replicas int32) error {
	if f.scaleErr != nil {
		return f.scaleErr
	}
	f.scaleCalls = append(f.scaleCalls, replicas)
	f.current = replicas
	return nil
}

type fakeMetricsSource struct {
	metrics *QueueMetrics
	err     error
}

func (f *fakeMetricsSource) GetQueueMetrics(ctx context.Context) (*QueueMetrics, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.metrics, nil
}

func testConfig() *Config {
	return &Config{
		OrchestratorURL:        "http://orchestrator",
		TenantID:               "acme",
		DeploymentName:         "fleetci-worker",
		Namespace:              "default",
		MinReplicas:            1,
		MaxReplicas:            10,
		TargetPendingPerWorker: 2.0,
		ScaleDownDelay:         5 * time.Minute,
		PollInterval:           time.Second,
	}
}

// ========== SCENARIO 5: SCALE UP AND SCALE DOWN WITH COOLDOWN ==========

func TestReconcile_ScalesUpWhenPendingExceedsTarget(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	scaler := &fakeScaler{current: 1}
	metrics := &fakeMetricsSource{metrics: &QueueMetrics{PendingFragments: 10}}
	cfg := testConfig()

	c, err := NewController(ctx, cfg, metrics, scaler)
	require.NoError(t, err)

	require.NoError(t, c.Reconcile(ctx))
	assert.Equal(t, []int32{5}, scaler.scaleCalls)
}

func TestReconcile_NoActionWhenDesiredMatchesCurrent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	scaler := &fakeScaler{current: 5}
	metrics := &fakeMetricsSource{metrics: &QueueMetrics{PendingFragments: 10}}
	cfg := testConfig()

	c, err := NewController(ctx, cfg, metrics, scaler)
	require.NoError(t, err)

	require.NoError(t, c.Reconcile(ctx))
	assert.Empty(t, scaler.scaleCalls)
}

func TestReconcile_ScaleDownRespectsCooldown(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	scaler := &fakeScaler{current: 10}
	metrics := &fakeMetricsSource{metrics: &QueueMetrics{PendingFragments: 0}}
	cfg := testConfig()
	cfg.ScaleDownDelay = time.Hour

	c, err := NewController(ctx, cfg, metrics, scaler)
	require.NoError(t, err)

	require.NoError(t, c.Reconcile(ctx))
	assert.Equal(t, []int32{1}, scaler.scaleCalls, "first scale-down is always allowed: cooldown starts empty")

	scaler.current = 10
	require.NoError(t, c.Reconcile(ctx))
	assert.Equal(t, []int32{1}, scaler.scaleCalls, "second scale-down within the cooldown window is skipped")
}

func TestReconcile_ScaleDownProceedsAfterCooldownElapses(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	scaler := &fakeScaler{current: 10}
	metrics := &fakeMetricsSource{metrics: &QueueMetrics{PendingFragments: 0}}
	cfg := testConfig()
	cfg.ScaleDownDelay = 0

	c, err := NewController(ctx, cfg, metrics, scaler)
	require.NoError(t, err)

	require.NoError(t, c.Reconcile(ctx))
	scaler.current = 10
	require.NoError(t, c.Reconcile(ctx))
	assert.Equal(t, []int32{1, 1}, scaler.scaleCalls, "zero cooldown never blocks a subsequent scale-down")
}

// ========== ERROR HANDLING ==========

func TestNewController_FailsWhenDeploymentNotFoundAtStartup(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	scaler := &fakeScaler{notFound: true}
	metrics := &fakeMetricsSource{}

	_, err := NewController(ctx, testConfig(), metrics, scaler)
	assert.Error(t, err)
}

func TestReconcile_SkipsTickOnMetricsFetchFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	scaler := &fakeScaler{current: 3}
	metrics := &fakeMetricsSource{err: assert.AnError}
	cfg := testConfig()

	c, err := NewController(ctx, cfg, metrics, scaler)
	require.NoError(t, err)

	require.NoError(t, c.Reconcile(ctx), "a metrics fetch failure is logged and skipped, not surfaced")
	assert.Empty(t, scaler.scaleCalls)
}

func TestReconcile_DeploymentNotFoundAtRuntimeIsNotFatal(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	scaler := &fakeScaler{current: 3}
	metrics := &fakeMetricsSource{metrics: &QueueMetrics{PendingFragments: 10}}
	cfg := testConfig()

	c, err := NewController(ctx, cfg, metrics, scaler)
	require.NoError(t, err)

	scaler.notFound = true
	require.NoError(t, c.Reconcile(ctx), "deployment gone mid-run is transient, not fatal")
}
