package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	pkgmodels "github.com/chainforge/fleetci/pkg/models"
)

// WorkerModel represents a connected execution agent in the database.
type WorkerModel struct {
	bun.BaseModel `bun:"table:fleetci_workers,alias:wk"`

	ID              uuid.UUID  `bun:"id,pk,type:uuid,default:gen_random_uuid()"`
	Tenant          string     `bun:"tenant,notnull"`
	Status          string     `bun:"status,notnull,default:'active'"`
	MachineGroup    *string    `bun:"machine_group"`
	CurrentFragment *uuid.UUID `bun:"current_fragment,type:uuid"`
	LastHeartbeat   *time.Time `bun:"last_heartbeat"`
	CreatedAt       time.Time  `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt       time.Time  `bun:"updated_at,notnull,default:current_timestamp"`
}

// TableName returns the table name for WorkerModel.
func (WorkerModel) TableName() string {
	return "fleetci_workers"
}

// BeforeInsert hook sets timestamps and defaults.
func (w *WorkerModel) BeforeInsert(ctx interface{}) error {
	now := time.Now()
	w.CreatedAt = now
	w.UpdatedAt = now
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	if w.Status == "" {
		w.Status = string(pkgmodels.WorkerActive)
	}
	return nil
}

// BeforeUpdate hook updates the timestamp.
func (w *WorkerModel) BeforeUpdate(ctx interface{}) error {
	w.UpdatedAt = time.Now()
	return nil
}

// ToDomain converts the persistence model to the domain type.
func (w *WorkerModel) ToDomain() *pkgmodels.Worker {
	if w == nil {
		return nil
	}
	d := &pkgmodels.Worker{
		ID:            w.ID.String(),
		Tenant:        w.Tenant,
		Status:        pkgmodels.WorkerStatus(w.Status),
		MachineGroup:  w.MachineGroup,
		LastHeartbeat: w.LastHeartbeat,
		CreatedAt:     w.CreatedAt,
		UpdatedAt:     w.UpdatedAt,
	}
	if w.CurrentFragment != nil {
		f := w.CurrentFragment.String()
		d.CurrentFragment = &f
	}
	return d
}

// WorkerModelFromDomain converts a domain worker into its persistence model.
func WorkerModelFromDomain(w *pkgmodels.Worker) *WorkerModel {
	m := &WorkerModel{
		Tenant:        w.Tenant,
		Status:        string(w.Status),
		MachineGroup:  w.MachineGroup,
		LastHeartbeat: w.LastHeartbeat,
		CreatedAt:     w.CreatedAt,
		UpdatedAt:     w.UpdatedAt,
	}
	if w.ID != "" {
		if id, err := uuid.Parse(w.ID); err == nil {
			m.ID = id
		}
	}
	if w.CurrentFragment != nil {
		if fid, err := uuid.Parse(*w.CurrentFragment); err == nil {
			m.CurrentFragment = &fid
		}
	}
	return m
}
