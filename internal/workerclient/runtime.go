package workerclient

import (
	"context"
	"sync"
	"time"

	"github.com/chainforge/fleetci/internal/logger"
)

var registerBackoff = Backoff{InitialDelay: time.Second, MaxDelay: 30 * time.Second}
var requestBackoff = Backoff{InitialDelay: time.Second, MaxDelay: 30 * time.Second}

// Runtime drives the register/heartbeat/poll/execute/report loop described
// in the worker runtime contract: register once with capped backoff, start
// an independent heartbeat task, then run a single-threaded work loop until
// shut down.
type Runtime struct {
	client *Client
	cfg    *RuntimeConfig
	log    *logger.Logger

	workerID string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRuntime builds a Runtime. Call Run to register and start working.
func NewRuntime(client *Client, cfg *RuntimeConfig, log *logger.Logger) *Runtime {
	return &Runtime{client: client, cfg: cfg, log: log}
}

// Run registers the worker, starts the heartbeat task, and runs the work
// loop until ctx is cancelled. It blocks until the current execution (if
// any) completes or is cancelled by its own script timeout.
func (r *Runtime) Run(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)

	workerID, err := r.register(r.ctx)
	if err != nil {
		return err
	}
	r.workerID = workerID
	r.log.Info("worker registered", "worker_id", workerID)

	r.wg.Add(1)
	go r.heartbeatLoop()

	r.workLoop()
	r.wg.Wait()
	return nil
}

// Stop signals the runtime to stop after the current execution completes.
func (r *Runtime) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
}

func (r *Runtime) register(ctx context.Context) (string, error) {
	var lastErr error
	for attempt := 1; ; attempt++ {
		id, err := r.client.Register(ctx, r.cfg.TenantID, r.cfg.MachineGroup)
		if err == nil {
			return id, nil
		}
		lastErr = err
		r.log.Warn("register failed, retrying", "attempt", attempt, "error", err)
		if sleepErr := registerBackoff.Sleep(ctx, attempt); sleepErr != nil {
			return "", lastErr
		}
	}
}

func (r *Runtime) heartbeatLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.HeartbeatInterval)
	defer ticker.Stop()

	attempt := 0
	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			if err := r.client.Heartbeat(r.ctx, r.workerID); err != nil {
				attempt++
				r.log.Warn("heartbeat failed", "attempt", attempt, "error", err)
				_ = requestBackoff.Sleep(r.ctx, attempt)
				continue
			}
			attempt = 0
		}
	}
}

// workLoop implements the single-threaded poll -> execute -> report cycle.
// It exits only when the context is cancelled, finishing any in-flight
// execution first.
func (r *Runtime) workLoop() {
	requestAttempt := 0

	for {
		if r.ctx.Err() != nil {
			return
		}

		item, err := r.client.RequestWork(r.ctx, r.workerID)
		if err != nil {
			requestAttempt++
			r.log.Warn("work request failed", "attempt", requestAttempt, "error", err)
			if sleepErr := requestBackoff.Sleep(r.ctx, requestAttempt); sleepErr != nil {
				return
			}
			continue
		}
		requestAttempt = 0

		if item == nil {
			if !sleepInterruptible(r.ctx, r.cfg.PollInterval) {
				return
			}
			continue
		}

		r.execute(item)
	}
}

func (r *Runtime) execute(item *WorkItem) {
	if item.RunScript == nil {
		r.report(item.FragmentID, true, intPtr(0), nil)
		return
	}

	r.log.Info("executing fragment", "fragment_id", item.FragmentID, "attempt", item.Attempt)

	result, err := RunScript(r.ctx, *item.RunScript, r.cfg.ScriptTimeout)
	if err != nil {
		msg := err.Error()
		r.report(item.FragmentID, false, nil, &msg)
		return
	}

	if result.TimedOut {
		msg := "script execution timed out"
		r.report(item.FragmentID, false, intPtr(result.ExitCode), &msg)
		return
	}

	success := result.ExitCode == 0
	var errMsg *string
	if !success {
		m := result.Stderr
		if m == "" {
			m = "script exited non-zero"
		}
		errMsg = &m
	}
	r.report(item.FragmentID, success, intPtr(result.ExitCode), errMsg)
}

// report delivers the result, retrying with capped backoff until it
// succeeds or the runtime is stopped; the script is never re-executed once
// it has run.
func (r *Runtime) report(fragmentID string, success bool, exitCode *int, errMsg *string) {
	params := ReportResultParams{
		WorkerID:     r.workerID,
		FragmentID:   fragmentID,
		Success:      success,
		ExitCode:     exitCode,
		ErrorMessage: errMsg,
	}

	for attempt := 1; ; attempt++ {
		err := r.client.ReportResult(context.Background(), params)
		if err == nil {
			return
		}
		r.log.Warn("report result failed, retrying", "fragment_id", fragmentID, "attempt", attempt, "error", err)
		if sleepErr := requestBackoff.Sleep(r.ctx, attempt); sleepErr != nil {
			return
		}
	}
}

func sleepInterruptible(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func intPtr(v int) *int { return &v }
