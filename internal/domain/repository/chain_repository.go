// Package repository defines the persistence contracts the scheduler,
// compiler, and liveness monitor depend on. Concrete implementations live
// in internal/storage.
package repository

import (
	"context"

	"github.com/chainforge/fleetci/pkg/models"
)

// ChainRepository persists chain records.
type ChainRepository interface {
	// Create inserts a new chain together with its flattened fragment list
	// in a single transaction.
	Create(ctx context.Context, chain *models.Chain, fragments []*models.Fragment) error

	FindByID(ctx context.Context, id string) (*models.Chain, error)

	// MarkStarted sets status Running and the started timestamp, but only
	// if the chain is still Active — idempotent under concurrent callers.
	MarkStarted(ctx context.Context, id string) error

	// MarkTerminal sets status to Completed or Failed and the completed
	// timestamp, but only if the chain is not already terminal.
	MarkTerminal(ctx context.Context, id string, status models.ChainStatus) error
}
