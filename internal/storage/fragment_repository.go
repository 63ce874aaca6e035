package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/chainforge/fleetci/internal/domain/repository"
	storagemodels "github.com/chainforge/fleetci/internal/storage/models"
	"github.com/chainforge/fleetci/pkg/models"
)

// Ensure FragmentRepository implements the interface.
var _ repository.FragmentRepository = (*FragmentRepository)(nil)

// FragmentRepository implements repository.FragmentRepository using Bun.
type FragmentRepository struct {
	db *bun.DB
}

// NewFragmentRepository creates a new FragmentRepository.
func NewFragmentRepository(db *bun.DB) *FragmentRepository {
	return &FragmentRepository{db: db}
}

// FindPendingByMachine returns pending fragments matching group (nil
// matches any), ordered by sequence ascending.
func (r *FragmentRepository) FindPendingByMachine(ctx context.Context, group *string) ([]*models.Fragment, error) {
	var rows []*storagemodels.FragmentModel

	q := r.db.NewSelect().
		Model(&rows).
		Where("status = ?", string(models.FragmentPending)).
		Order("sequence ASC")

	if group != nil {
		q = q.Where("machine = ?", *group)
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("failed to find pending fragments: %w", err)
	}

	return toDomainFragments(rows), nil
}

// FindSiblings returns fragments sharing chainID and parent, ordered by
// sequence.
func (r *FragmentRepository) FindSiblings(ctx context.Context, chainID string, parent *string) ([]*models.Fragment, error) {
	cid, err := uuid.Parse(chainID)
	if err != nil {
		return nil, fmt.Errorf("invalid chain id: %w", err)
	}

	var rows []*storagemodels.FragmentModel
	q := r.db.NewSelect().
		Model(&rows).
		Where("chain_id = ?", cid).
		Order("sequence ASC")

	if parent == nil {
		q = q.Where("parent_id IS NULL")
	} else {
		pid, err := uuid.Parse(*parent)
		if err != nil {
			return nil, fmt.Errorf("invalid parent id: %w", err)
		}
		q = q.Where("parent_id = ?", pid)
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("failed to find sibling fragments: %w", err)
	}

	return toDomainFragments(rows), nil
}

// FindByChain returns every fragment belonging to a chain.
func (r *FragmentRepository) FindByChain(ctx context.Context, chainID string) ([]*models.Fragment, error) {
	cid, err := uuid.Parse(chainID)
	if err != nil {
		return nil, fmt.Errorf("invalid chain id: %w", err)
	}

	var rows []*storagemodels.FragmentModel
	err = r.db.NewSelect().
		Model(&rows).
		Where("chain_id = ?", cid).
		Order("sequence ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to find chain fragments: %w", err)
	}

	return toDomainFragments(rows), nil
}

// FindByID retrieves a fragment by ID.
func (r *FragmentRepository) FindByID(ctx context.Context, id string) (*models.Fragment, error) {
	fid, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("invalid fragment id: %w", err)
	}

	row := &storagemodels.FragmentModel{}
	err = r.db.NewSelect().Model(row).Where("id = ?", fid).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("fragment not found: %s: %w", id, storagemodels.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to find fragment: %w", err)
	}
	return row.ToDomain(), nil
}

// TryClaim is the cornerstone of race-free scheduling: a single conditional
// UPDATE that only succeeds if the fragment was still Pending. Every
// requesting worker runs this; RowsAffected distinguishes "I won the race"
// from "someone else claimed it first" without a separate read-then-write.
func (r *FragmentRepository) TryClaim(ctx context.Context, fragmentID, workerID string) (*models.Fragment, error) {
	fid, err := uuid.Parse(fragmentID)
	if err != nil {
		return nil, fmt.Errorf("invalid fragment id: %w", err)
	}
	wid, err := uuid.Parse(workerID)
	if err != nil {
		return nil, fmt.Errorf("invalid worker id: %w", err)
	}

	res, err := r.db.NewUpdate().
		Model((*storagemodels.FragmentModel)(nil)).
		Set("status = ?", string(models.FragmentRunning)).
		Set("assigned_worker = ?", wid).
		Set("started_at = ?", sqlNow()).
		Set("updated_at = ?", sqlNow()).
		Where("id = ?", fid).
		Where("status = ?", string(models.FragmentPending)).
		Exec(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to claim fragment: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read claim result: %w", err)
	}
	if n == 0 {
		return nil, nil
	}

	return r.FindByID(ctx, fragmentID)
}

// CompleteExecution sets Completed (exitCode == 0) or Failed, and the
// completed timestamp and exit code.
func (r *FragmentRepository) CompleteExecution(ctx context.Context, fragmentID string, exitCode int) error {
	fid, err := uuid.Parse(fragmentID)
	if err != nil {
		return fmt.Errorf("invalid fragment id: %w", err)
	}

	status := models.FragmentCompleted
	if exitCode != 0 {
		status = models.FragmentFailed
	}

	_, err = r.db.NewUpdate().
		Model((*storagemodels.FragmentModel)(nil)).
		Set("status = ?", string(status)).
		Set("exit_code = ?", exitCode).
		Set("completed_at = ?", sqlNow()).
		Set("updated_at = ?", sqlNow()).
		Where("id = ?", fid).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to complete fragment execution: %w", err)
	}
	return nil
}

// FailExecution sets Failed, the completed timestamp, and the error
// message.
func (r *FragmentRepository) FailExecution(ctx context.Context, fragmentID string, message string) error {
	fid, err := uuid.Parse(fragmentID)
	if err != nil {
		return fmt.Errorf("invalid fragment id: %w", err)
	}

	_, err = r.db.NewUpdate().
		Model((*storagemodels.FragmentModel)(nil)).
		Set("status = ?", string(models.FragmentFailed)).
		Set("error_message = ?", message).
		Set("completed_at = ?", sqlNow()).
		Set("updated_at = ?", sqlNow()).
		Where("id = ?", fid).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to fail fragment execution: %w", err)
	}
	return nil
}

// ResetForRetry sets Pending, clears assigned worker/timestamps/exit
// code/error, and increments attempt.
func (r *FragmentRepository) ResetForRetry(ctx context.Context, fragmentID string) error {
	fid, err := uuid.Parse(fragmentID)
	if err != nil {
		return fmt.Errorf("invalid fragment id: %w", err)
	}

	_, err = r.db.NewUpdate().
		Model((*storagemodels.FragmentModel)(nil)).
		Set("status = ?", string(models.FragmentPending)).
		Set("assigned_worker = NULL").
		Set("started_at = NULL").
		Set("completed_at = NULL").
		Set("exit_code = NULL").
		Set("error_message = NULL").
		Set("attempt = attempt + 1").
		Set("updated_at = ?", sqlNow()).
		Where("id = ?", fid).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to reset fragment for retry: %w", err)
	}
	return nil
}

// CountByMachine returns pending and running fragment counts for group
// (nil matches any).
func (r *FragmentRepository) CountByMachine(ctx context.Context, group *string) (pending, running int, err error) {
	pendingQ := r.db.NewSelect().
		Model((*storagemodels.FragmentModel)(nil)).
		Where("status = ?", string(models.FragmentPending))
	runningQ := r.db.NewSelect().
		Model((*storagemodels.FragmentModel)(nil)).
		Where("status = ?", string(models.FragmentRunning))

	if group != nil {
		pendingQ = pendingQ.Where("machine = ?", *group)
		runningQ = runningQ.Where("machine = ?", *group)
	}

	pending, err = pendingQ.Count(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count pending fragments: %w", err)
	}
	running, err = runningQ.Count(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count running fragments: %w", err)
	}
	return pending, running, nil
}

func toDomainFragments(rows []*storagemodels.FragmentModel) []*models.Fragment {
	out := make([]*models.Fragment, len(rows))
	for i, row := range rows {
		out[i] = row.ToDomain()
	}
	return out
}
