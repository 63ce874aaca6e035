package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	pkgmodels "github.com/chainforge/fleetci/pkg/models"
)

// ChainModel represents a materialized workflow instance in the database.
type ChainModel struct {
	bun.BaseModel `bun:"table:fleetci_chains,alias:ch"`

	ID             uuid.UUID  `bun:"id,pk,type:uuid,default:gen_random_uuid()"`
	Tenant         string     `bun:"tenant,notnull"`
	Status         string     `bun:"status,notnull,default:'active'"`
	Attempt        int        `bun:"attempt,notnull,default:1"`
	SourcePath     string     `bun:"source_path"`
	RepositoryURL  string     `bun:"repository_url"`
	CommitSHA      string     `bun:"commit_sha"`
	Branch         string     `bun:"branch"`
	TriggerTag     string     `bun:"trigger_tag,notnull"`
	TriggerRef     string     `bun:"trigger_ref"`
	DefaultMachine string     `bun:"default_machine,notnull"`
	CreatedAt      time.Time  `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt      time.Time  `bun:"updated_at,notnull,default:current_timestamp"`
	StartedAt      *time.Time `bun:"started_at"`
	CompletedAt    *time.Time `bun:"completed_at"`
}

// TableName returns the table name for ChainModel.
func (ChainModel) TableName() string {
	return "fleetci_chains"
}

// BeforeInsert hook sets timestamps and defaults.
func (c *ChainModel) BeforeInsert(ctx interface{}) error {
	now := time.Now()
	c.CreatedAt = now
	c.UpdatedAt = now
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.Status == "" {
		c.Status = string(pkgmodels.ChainActive)
	}
	if c.Attempt == 0 {
		c.Attempt = 1
	}
	return nil
}

// BeforeUpdate hook updates the timestamp.
func (c *ChainModel) BeforeUpdate(ctx interface{}) error {
	c.UpdatedAt = time.Now()
	return nil
}

// ToDomain converts the persistence model to the domain type.
func (c *ChainModel) ToDomain() *pkgmodels.Chain {
	if c == nil {
		return nil
	}
	return &pkgmodels.Chain{
		ID:     c.ID.String(),
		Tenant: c.Tenant,
		Status: pkgmodels.ChainStatus(c.Status),
		Attempt: c.Attempt,
		Provenance: pkgmodels.Provenance{
			SourcePath:    c.SourcePath,
			RepositoryURL: c.RepositoryURL,
			CommitSHA:     c.CommitSHA,
			Branch:        c.Branch,
		},
		Trigger: pkgmodels.Trigger{
			Tag: pkgmodels.TriggerTag(c.TriggerTag),
			Ref: c.TriggerRef,
		},
		DefaultMachine: c.DefaultMachine,
		CreatedAt:      c.CreatedAt,
		UpdatedAt:      c.UpdatedAt,
		StartedAt:      c.StartedAt,
		CompletedAt:    c.CompletedAt,
	}
}

// ChainModelFromDomain builds a persistence model from the domain type.
func ChainModelFromDomain(c *pkgmodels.Chain) *ChainModel {
	id := uuid.Nil
	if c.ID != "" {
		id, _ = uuid.Parse(c.ID)
	}
	return &ChainModel{
		ID:             id,
		Tenant:         c.Tenant,
		Status:         string(c.Status),
		Attempt:        c.Attempt,
		SourcePath:     c.Provenance.SourcePath,
		RepositoryURL:  c.Provenance.RepositoryURL,
		CommitSHA:      c.Provenance.CommitSHA,
		Branch:         c.Provenance.Branch,
		TriggerTag:     string(c.Trigger.Tag),
		TriggerRef:     c.Trigger.Ref,
		DefaultMachine: c.DefaultMachine,
		StartedAt:      c.StartedAt,
		CompletedAt:    c.CompletedAt,
	}
}
