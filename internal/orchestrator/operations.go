// Package orchestrator provides transport-agnostic business logic for the
// orchestrator HTTP API. Handlers delegate to these operations rather than
// touching repositories or the scheduler directly.
package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/chainforge/fleetci/internal/domain/repository"
	"github.com/chainforge/fleetci/internal/logger"
	"github.com/chainforge/fleetci/internal/scheduler"
	storagemodels "github.com/chainforge/fleetci/internal/storage/models"
	"github.com/chainforge/fleetci/pkg/models"
)

// ErrWorkerNotFound, ErrFragmentNotFound, and ErrChainNotFound give
// handlers a stable sentinel to test against instead of inspecting
// storage-layer error strings.
var (
	ErrWorkerNotFound   = errors.New("worker not found")
	ErrFragmentNotFound = errors.New("fragment not found")
	ErrChainNotFound    = errors.New("chain not found")
	ErrInvalidRequest   = errors.New("invalid request")
)

// Operations is the service layer behind the orchestrator's HTTP API.
type Operations struct {
	Workers   repository.WorkerRepository
	Fragments repository.FragmentRepository
	Chains    repository.ChainRepository
	Scheduler *scheduler.Scheduler
	Logger    *logger.Logger
}

// RegisterWorkerParams carries the fields of POST /workers/register.
type RegisterWorkerParams struct {
	TenantID     string
	MachineGroup *string
}

// RegisterWorker creates a new worker record.
func (o *Operations) RegisterWorker(ctx context.Context, params RegisterWorkerParams) (*models.Worker, error) {
	if params.TenantID == "" {
		return nil, fmt.Errorf("%w: tenant_id is required", ErrInvalidRequest)
	}

	worker := &models.Worker{
		Tenant:       params.TenantID,
		Status:       models.WorkerActive,
		MachineGroup: params.MachineGroup,
	}
	if err := o.Workers.Register(ctx, worker); err != nil {
		o.Logger.Error("failed to register worker", "error", err, "tenant", params.TenantID)
		return nil, err
	}

	o.Logger.Info("worker registered", "worker_id", worker.ID, "tenant", params.TenantID)
	return worker, nil
}

// Heartbeat records a liveness signal for workerID.
func (o *Operations) Heartbeat(ctx context.Context, workerID string) (*models.Worker, error) {
	worker, err := o.Workers.Heartbeat(ctx, workerID)
	if err != nil {
		if errors.Is(err, storagemodels.ErrNotFound) || errors.Is(err, storagemodels.ErrConflict) {
			return nil, ErrWorkerNotFound
		}
		o.Logger.Error("failed to record heartbeat", "error", err, "worker_id", workerID)
		return nil, err
	}
	return worker, nil
}

// RequestWork finds and claims the next eligible fragment for workerID, or
// returns (nil, nil) when there is none — the handler maps that to 204.
func (o *Operations) RequestWork(ctx context.Context, workerID string) (*models.Fragment, error) {
	worker, err := o.Workers.FindByID(ctx, workerID)
	if err != nil {
		if errors.Is(err, storagemodels.ErrNotFound) {
			return nil, ErrWorkerNotFound
		}
		return nil, err
	}

	fragment, err := o.Scheduler.FindAndClaim(ctx, worker)
	if err != nil {
		o.Logger.Error("failed to find and claim work", "error", err, "worker_id", workerID)
		return nil, err
	}
	return fragment, nil
}

// ReportResultParams carries the fields of POST /work/result.
type ReportResultParams struct {
	WorkerID     string
	FragmentID   string
	Success      bool
	ExitCode     *int
	ErrorMessage *string
}

// ReportResult records a terminal result for a fragment and returns its
// fresh status.
func (o *Operations) ReportResult(ctx context.Context, params ReportResultParams) (*models.Fragment, error) {
	if _, err := o.Workers.FindByID(ctx, params.WorkerID); err != nil {
		if errors.Is(err, storagemodels.ErrNotFound) {
			return nil, ErrWorkerNotFound
		}
		return nil, err
	}
	if _, err := o.Fragments.FindByID(ctx, params.FragmentID); err != nil {
		if errors.Is(err, storagemodels.ErrNotFound) {
			return nil, ErrFragmentNotFound
		}
		return nil, err
	}

	var (
		fragment *models.Fragment
		err      error
	)
	if params.Success {
		exitCode := 0
		if params.ExitCode != nil {
			exitCode = *params.ExitCode
		}
		fragment, err = o.Scheduler.CompleteFragment(ctx, params.WorkerID, params.FragmentID, exitCode)
	} else {
		message := "execution failed"
		if params.ErrorMessage != nil {
			message = *params.ErrorMessage
		}
		fragment, err = o.Scheduler.FailFragment(ctx, params.WorkerID, params.FragmentID, message)
	}
	if err != nil {
		o.Logger.Error("failed to report fragment result", "error", err, "fragment_id", params.FragmentID)
		return nil, err
	}
	return fragment, nil
}

// QueueMetrics computes the current queue-depth projection.
func (o *Operations) QueueMetrics(ctx context.Context, machineGroup *string) (*models.QueueMetrics, error) {
	return o.Scheduler.Stats(ctx, machineGroup)
}

// WorkerBusy reports whether a worker currently has a fragment assigned.
func (o *Operations) WorkerBusy(ctx context.Context, workerID string) (bool, *string, error) {
	worker, err := o.Workers.FindByID(ctx, workerID)
	if err != nil {
		if errors.Is(err, storagemodels.ErrNotFound) {
			return false, nil, ErrWorkerNotFound
		}
		return false, nil, err
	}
	return worker.CurrentFragment != nil, worker.CurrentFragment, nil
}
