package repository

import (
	"context"

	"github.com/chainforge/fleetci/pkg/models"
)

// FragmentRepository persists fragment records and implements the atomic
// claim that is the cornerstone of race-free scheduling.
type FragmentRepository interface {
	// FindPendingByMachine returns pending fragments matching group
	// (nil matches any), ordered by sequence ascending.
	FindPendingByMachine(ctx context.Context, group *string) ([]*models.Fragment, error)

	// FindSiblings returns fragments sharing chainID and parent, ordered
	// by sequence.
	FindSiblings(ctx context.Context, chainID string, parent *string) ([]*models.Fragment, error)

	// FindByChain returns every fragment belonging to a chain.
	FindByChain(ctx context.Context, chainID string) ([]*models.Fragment, error)

	FindByID(ctx context.Context, id string) (*models.Fragment, error)

	// TryClaim atomically transitions a Pending fragment to Running and
	// assigns workerID. Returns (nil, nil) if the fragment was not Pending
	// when the update ran — the caller lost the race, not an error.
	TryClaim(ctx context.Context, fragmentID, workerID string) (*models.Fragment, error)

	// CompleteExecution sets Completed (exitCode == 0) or Failed, and the
	// completed timestamp and exit code.
	CompleteExecution(ctx context.Context, fragmentID string, exitCode int) error

	// FailExecution sets Failed, the completed timestamp, and the error
	// message.
	FailExecution(ctx context.Context, fragmentID string, message string) error

	// ResetForRetry sets Pending, clears assigned worker/timestamps/exit
	// code/error, and increments attempt.
	ResetForRetry(ctx context.Context, fragmentID string) error

	// CountByMachine returns pending and running fragment counts for group
	// (nil matches any), for the queue-metrics projection.
	CountByMachine(ctx context.Context, group *string) (pending, running int, err error)
}
