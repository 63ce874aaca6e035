package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	pkgmodels "github.com/chainforge/fleetci/pkg/models"
)

// FragmentModel represents one node of a chain's execution tree.
type FragmentModel struct {
	bun.BaseModel `bun:"table:fleetci_fragments,alias:fr"`

	ID             uuid.UUID  `bun:"id,pk,type:uuid,default:gen_random_uuid()"`
	ChainID        uuid.UUID  `bun:"chain_id,notnull,type:uuid"`
	ParentID       *uuid.UUID `bun:"parent_id,type:uuid"`
	Sequence       int        `bun:"sequence,notnull"`
	Type           string     `bun:"type,notnull"`
	RunScript      *string    `bun:"run_script"`
	Machine        *string    `bun:"machine"`
	IsParallel     bool       `bun:"is_parallel,notnull,default:false"`
	Condition      *string    `bun:"condition"`
	SourceURL      *string    `bun:"source_url"`
	Label          string     `bun:"label"`
	Status         string     `bun:"status,notnull,default:'pending'"`
	Attempt        int        `bun:"attempt,notnull,default:1"`
	AssignedWorker *uuid.UUID `bun:"assigned_worker,type:uuid"`
	CreatedAt      time.Time  `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt      time.Time  `bun:"updated_at,notnull,default:current_timestamp"`
	StartedAt      *time.Time `bun:"started_at"`
	CompletedAt    *time.Time `bun:"completed_at"`
	ExitCode       *int       `bun:"exit_code"`
	ErrorMessage   *string    `bun:"error_message"`
}

// TableName returns the table name for FragmentModel.
func (FragmentModel) TableName() string {
	return "fleetci_fragments"
}

// BeforeInsert hook sets timestamps and defaults.
func (f *FragmentModel) BeforeInsert(ctx interface{}) error {
	now := time.Now()
	f.CreatedAt = now
	f.UpdatedAt = now
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	if f.Status == "" {
		f.Status = string(pkgmodels.FragmentPending)
	}
	if f.Attempt == 0 {
		f.Attempt = 1
	}
	return nil
}

// BeforeUpdate hook updates the timestamp.
func (f *FragmentModel) BeforeUpdate(ctx interface{}) error {
	f.UpdatedAt = time.Now()
	return nil
}

// ToDomain converts the persistence model to the domain type.
func (f *FragmentModel) ToDomain() *pkgmodels.Fragment {
	if f == nil {
		return nil
	}
	d := &pkgmodels.Fragment{
		ID:           f.ID.String(),
		ChainID:      f.ChainID.String(),
		Sequence:     f.Sequence,
		Type:         pkgmodels.FragmentType(f.Type),
		RunScript:    f.RunScript,
		Machine:      f.Machine,
		IsParallel:   f.IsParallel,
		Condition:    f.Condition,
		SourceURL:    f.SourceURL,
		Label:        f.Label,
		Status:       pkgmodels.FragmentStatus(f.Status),
		Attempt:      f.Attempt,
		CreatedAt:    f.CreatedAt,
		UpdatedAt:    f.UpdatedAt,
		StartedAt:    f.StartedAt,
		CompletedAt:  f.CompletedAt,
		ExitCode:     f.ExitCode,
		ErrorMessage: f.ErrorMessage,
	}
	if f.ParentID != nil {
		p := f.ParentID.String()
		d.Parent = &p
	}
	if f.AssignedWorker != nil {
		w := f.AssignedWorker.String()
		d.AssignedWorker = &w
	}
	return d
}

// FragmentModelFromDomain builds a persistence model from the domain type.
func FragmentModelFromDomain(f *pkgmodels.Fragment) *FragmentModel {
	id := uuid.Nil
	if f.ID != "" {
		id, _ = uuid.Parse(f.ID)
	}
	chainID, _ := uuid.Parse(f.ChainID)

	m := &FragmentModel{
		ID:           id,
		ChainID:      chainID,
		Sequence:     f.Sequence,
		Type:         string(f.Type),
		RunScript:    f.RunScript,
		Machine:      f.Machine,
		IsParallel:   f.IsParallel,
		Condition:    f.Condition,
		SourceURL:    f.SourceURL,
		Label:        f.Label,
		Status:       string(f.Status),
		Attempt:      f.Attempt,
		StartedAt:    f.StartedAt,
		CompletedAt:  f.CompletedAt,
		ExitCode:     f.ExitCode,
		ErrorMessage: f.ErrorMessage,
	}
	if f.Parent != nil {
		if pid, err := uuid.Parse(*f.Parent); err == nil {
			m.ParentID = &pid
		}
	}
	if f.AssignedWorker != nil {
		if wid, err := uuid.Parse(*f.AssignedWorker); err == nil {
			m.AssignedWorker = &wid
		}
	}
	return m
}
