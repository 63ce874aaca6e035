package repository

import (
	"context"
	"time"

	"github.com/chainforge/fleetci/pkg/models"
)

// WorkerRepository persists worker records.
type WorkerRepository interface {
	Register(ctx context.Context, worker *models.Worker) error

	FindByID(ctx context.Context, id string) (*models.Worker, error)

	Heartbeat(ctx context.Context, id string) (*models.Worker, error)

	// SetCurrentFragment assigns or clears (fragmentID == nil) a worker's
	// current fragment.
	SetCurrentFragment(ctx context.Context, id string, fragmentID *string) error

	// MarkError transitions a worker to Error status.
	MarkError(ctx context.Context, id string) error

	// FindDeadWorkers returns Active workers whose last heartbeat is older
	// than threshold.
	FindDeadWorkers(ctx context.Context, threshold time.Time) ([]*models.Worker, error)

	// CountActiveByMachine returns the count of Active workers matching
	// group (nil matches any), for the queue-metrics projection.
	CountActiveByMachine(ctx context.Context, group *string) (int, error)
}
