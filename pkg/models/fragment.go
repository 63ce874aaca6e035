package models

import "time"

// FragmentType discriminates an executable leaf from a container node.
type FragmentType string

const (
	FragmentInline FragmentType = "inline"
	FragmentGroup  FragmentType = "group"
)

// FragmentStatus is the lifecycle state of one fragment.
type FragmentStatus string

const (
	FragmentPending   FragmentStatus = "pending"
	FragmentRunning   FragmentStatus = "running"
	FragmentCompleted FragmentStatus = "completed"
	FragmentFailed    FragmentStatus = "failed"
	FragmentActive    FragmentStatus = "active"
	FragmentSuspended FragmentStatus = "suspended"
	FragmentError     FragmentStatus = "error"
)

// IsTerminal reports whether the fragment can never transition again.
func (s FragmentStatus) IsTerminal() bool {
	return s == FragmentCompleted || s == FragmentFailed
}

// Fragment is one node in a chain's execution tree.
type Fragment struct {
	ID             string
	ChainID        string
	Parent         *string
	Sequence       int
	Type           FragmentType
	RunScript      *string
	Machine        *string
	IsParallel     bool
	Condition      *string
	SourceURL      *string
	Label          string
	Status         FragmentStatus
	Attempt        int
	AssignedWorker *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	StartedAt      *time.Time
	CompletedAt    *time.Time
	ExitCode       *int
	ErrorMessage   *string
}

// Duration returns the fragment's wall-clock run time, if it has started.
func (f *Fragment) Duration() *time.Duration {
	if f.StartedAt == nil {
		return nil
	}
	end := time.Now()
	if f.CompletedAt != nil {
		end = *f.CompletedAt
	}
	d := end.Sub(*f.StartedAt)
	return &d
}

// IsInline reports whether the fragment carries a runnable script.
func (f *Fragment) IsInline() bool {
	return f.Type == FragmentInline
}
