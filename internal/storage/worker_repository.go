package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/chainforge/fleetci/internal/domain/repository"
	storagemodels "github.com/chainforge/fleetci/internal/storage/models"
	"github.com/chainforge/fleetci/pkg/models"
)

// Ensure WorkerRepository implements the interface.
var _ repository.WorkerRepository = (*WorkerRepository)(nil)

// WorkerRepository implements repository.WorkerRepository using Bun.
type WorkerRepository struct {
	db *bun.DB
}

// NewWorkerRepository creates a new WorkerRepository.
func NewWorkerRepository(db *bun.DB) *WorkerRepository {
	return &WorkerRepository{db: db}
}

// Register inserts a new worker record.
func (r *WorkerRepository) Register(ctx context.Context, worker *models.Worker) error {
	m := storagemodels.WorkerModelFromDomain(worker)
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if _, err := r.db.NewInsert().Model(m).Exec(ctx); err != nil {
		return fmt.Errorf("failed to register worker: %w", err)
	}
	worker.ID = m.ID.String()
	worker.CreatedAt = m.CreatedAt
	worker.UpdatedAt = m.UpdatedAt
	return nil
}

// FindByID retrieves a worker by ID.
func (r *WorkerRepository) FindByID(ctx context.Context, id string) (*models.Worker, error) {
	workerID, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("invalid worker id: %w", err)
	}

	worker := &storagemodels.WorkerModel{}
	err = r.db.NewSelect().Model(worker).Where("id = ?", workerID).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("worker not found: %s: %w", id, storagemodels.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to find worker: %w", err)
	}
	return worker.ToDomain(), nil
}

// Heartbeat bumps last_heartbeat and returns the refreshed worker. Mirrors
// the session-activity update idiom: a conditional UPDATE followed by a
// read-back rather than a read-modify-write round trip.
func (r *WorkerRepository) Heartbeat(ctx context.Context, id string) (*models.Worker, error) {
	workerID, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("invalid worker id: %w", err)
	}

	res, err := r.db.NewUpdate().
		Model((*storagemodels.WorkerModel)(nil)).
		Set("last_heartbeat = ?", sqlNow()).
		Set("updated_at = ?", sqlNow()).
		Where("id = ?", workerID).
		Where("status != ?", string(models.WorkerError)).
		Exec(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to record worker heartbeat: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read heartbeat result: %w", err)
	}
	if n == 0 {
		return nil, fmt.Errorf("worker not eligible for heartbeat: %s: %w", id, storagemodels.ErrConflict)
	}

	return r.FindByID(ctx, id)
}

// SetCurrentFragment assigns or clears (fragmentID == nil) a worker's
// current fragment.
func (r *WorkerRepository) SetCurrentFragment(ctx context.Context, id string, fragmentID *string) error {
	workerID, err := uuid.Parse(id)
	if err != nil {
		return fmt.Errorf("invalid worker id: %w", err)
	}

	q := r.db.NewUpdate().
		Model((*storagemodels.WorkerModel)(nil)).
		Set("updated_at = ?", sqlNow()).
		Where("id = ?", workerID)

	if fragmentID == nil {
		q = q.Set("current_fragment = NULL")
	} else {
		fid, err := uuid.Parse(*fragmentID)
		if err != nil {
			return fmt.Errorf("invalid fragment id: %w", err)
		}
		q = q.Set("current_fragment = ?", fid)
	}

	if _, err := q.Exec(ctx); err != nil {
		return fmt.Errorf("failed to set worker current fragment: %w", err)
	}
	return nil
}

// MarkError transitions a worker to Error status.
func (r *WorkerRepository) MarkError(ctx context.Context, id string) error {
	workerID, err := uuid.Parse(id)
	if err != nil {
		return fmt.Errorf("invalid worker id: %w", err)
	}

	_, err = r.db.NewUpdate().
		Model((*storagemodels.WorkerModel)(nil)).
		Set("status = ?", string(models.WorkerError)).
		Set("current_fragment = NULL").
		Set("updated_at = ?", sqlNow()).
		Where("id = ?", workerID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to mark worker in error: %w", err)
	}
	return nil
}

// FindDeadWorkers returns Active workers whose last heartbeat is older than
// threshold, or who have never sent one.
func (r *WorkerRepository) FindDeadWorkers(ctx context.Context, threshold time.Time) ([]*models.Worker, error) {
	var rows []*storagemodels.WorkerModel

	err := r.db.NewSelect().
		Model(&rows).
		Where("status = ?", string(models.WorkerActive)).
		Where("(last_heartbeat IS NULL OR last_heartbeat < ?)", threshold).
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to find dead workers: %w", err)
	}

	out := make([]*models.Worker, len(rows))
	for i, row := range rows {
		out[i] = row.ToDomain()
	}
	return out, nil
}

// CountActiveByMachine returns the count of Active workers matching group
// (nil matches any).
func (r *WorkerRepository) CountActiveByMachine(ctx context.Context, group *string) (int, error) {
	q := r.db.NewSelect().
		Model((*storagemodels.WorkerModel)(nil)).
		Where("status = ?", string(models.WorkerActive))

	if group != nil {
		q = q.Where("machine_group = ?", *group)
	}

	count, err := q.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count active workers: %w", err)
	}
	return count, nil
}
