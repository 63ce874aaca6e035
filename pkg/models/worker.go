package models

import "time"

// WorkerStatus is the lifecycle state of a connected execution agent.
type WorkerStatus string

const (
	WorkerActive    WorkerStatus = "active"
	WorkerSuspended WorkerStatus = "suspended"
	WorkerError     WorkerStatus = "error"
)

// Worker is a connected execution agent.
type Worker struct {
	ID              string
	Tenant          string
	Status          WorkerStatus
	MachineGroup    *string
	CurrentFragment *string
	LastHeartbeat   *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// QueueMetrics is the read-only counts projection used by the fleet
// controller and the /queue/metrics endpoint.
type QueueMetrics struct {
	PendingFragments int
	RunningFragments int
	ActiveWorkers    int
}
