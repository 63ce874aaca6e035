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

// Ensure ChainRepository implements the interface.
var _ repository.ChainRepository = (*ChainRepository)(nil)

// ChainRepository implements repository.ChainRepository using Bun.
type ChainRepository struct {
	db *bun.DB
}

// NewChainRepository creates a new ChainRepository.
func NewChainRepository(db *bun.DB) *ChainRepository {
	return &ChainRepository{db: db}
}

// Create inserts a chain and its flattened fragment list in one transaction.
func (r *ChainRepository) Create(ctx context.Context, chain *models.Chain, fragments []*models.Fragment) error {
	chainModel := storagemodels.ChainModelFromDomain(chain)
	if chainModel.ID == uuid.Nil {
		chainModel.ID = uuid.New()
	}
	chain.ID = chainModel.ID.String()

	fragmentModels := make([]*storagemodels.FragmentModel, len(fragments))
	for i, f := range fragments {
		f.ChainID = chain.ID
		fm := storagemodels.FragmentModelFromDomain(f)
		if fm.ID == uuid.Nil {
			fm.ID = uuid.New()
		}
		f.ID = fm.ID.String()
		fragmentModels[i] = fm
	}

	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(chainModel).Exec(ctx); err != nil {
			return fmt.Errorf("failed to create chain: %w", err)
		}
		if len(fragmentModels) > 0 {
			if _, err := tx.NewInsert().Model(&fragmentModels).Exec(ctx); err != nil {
				return fmt.Errorf("failed to create fragments: %w", err)
			}
		}
		return nil
	})
}

// FindByID retrieves a chain by ID.
func (r *ChainRepository) FindByID(ctx context.Context, id string) (*models.Chain, error) {
	chainID, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("invalid chain id: %w", err)
	}

	chain := &storagemodels.ChainModel{}
	err = r.db.NewSelect().Model(chain).Where("id = ?", chainID).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("chain not found: %s: %w", id, storagemodels.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to find chain: %w", err)
	}
	return chain.ToDomain(), nil
}

// MarkStarted sets status Running and the started timestamp, but only if
// the chain is still Active.
func (r *ChainRepository) MarkStarted(ctx context.Context, id string) error {
	chainID, err := uuid.Parse(id)
	if err != nil {
		return fmt.Errorf("invalid chain id: %w", err)
	}

	_, err = r.db.NewUpdate().
		Model((*storagemodels.ChainModel)(nil)).
		Set("status = ?", string(models.ChainRunning)).
		Set("started_at = ?", sqlNow()).
		Set("updated_at = ?", sqlNow()).
		Where("id = ?", chainID).
		Where("status = ?", string(models.ChainActive)).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to mark chain started: %w", err)
	}
	return nil
}

// MarkTerminal sets status to Completed or Failed, but only if the chain is
// not already terminal.
func (r *ChainRepository) MarkTerminal(ctx context.Context, id string, status models.ChainStatus) error {
	chainID, err := uuid.Parse(id)
	if err != nil {
		return fmt.Errorf("invalid chain id: %w", err)
	}

	_, err = r.db.NewUpdate().
		Model((*storagemodels.ChainModel)(nil)).
		Set("status = ?", string(status)).
		Set("completed_at = ?", sqlNow()).
		Set("updated_at = ?", sqlNow()).
		Where("id = ?", chainID).
		Where("status NOT IN (?)", bun.In([]string{string(models.ChainCompleted), string(models.ChainFailed)})).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to mark chain terminal: %w", err)
	}
	return nil
}
