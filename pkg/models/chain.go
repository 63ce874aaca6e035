// Package models holds the domain-level types shared by the compiler,
// scheduler, HTTP API, and worker runtime.
package models

import "time"

// ChainStatus is the lifecycle state of a materialized workflow instance.
type ChainStatus string

const (
	ChainActive     ChainStatus = "active"
	ChainRunning    ChainStatus = "running"
	ChainCompleted  ChainStatus = "completed"
	ChainFailed     ChainStatus = "failed"
	ChainSuspended  ChainStatus = "suspended"
	ChainError      ChainStatus = "error"
)

// IsTerminal reports whether the status can never transition again.
func (s ChainStatus) IsTerminal() bool {
	return s == ChainCompleted || s == ChainFailed
}

// TriggerTag identifies the event class that produced a chain.
type TriggerTag string

const (
	TriggerTagValue      TriggerTag = "tag"
	TriggerPush          TriggerTag = "push"
	TriggerPullRequest   TriggerTag = "pull_request"
	TriggerSchedule      TriggerTag = "schedule"
	TriggerManual        TriggerTag = "manual"
)

// ValidTriggerTags is the closed set of document-level trigger names.
var ValidTriggerTags = map[string]TriggerTag{
	"tag":          TriggerTagValue,
	"push":         TriggerPush,
	"pull_request": TriggerPullRequest,
	"schedule":     TriggerSchedule,
	"manual":       TriggerManual,
}

// Provenance records where a chain's workflow document came from.
type Provenance struct {
	SourcePath    string
	RepositoryURL string
	CommitSHA     string
	Branch        string
}

// Trigger records the event that produced a chain.
type Trigger struct {
	Tag TriggerTag
	Ref string
}

// Chain is a materialized workflow run for one trigger event.
type Chain struct {
	ID             string
	Tenant         string
	Status         ChainStatus
	Attempt        int
	Provenance     Provenance
	Trigger        Trigger
	DefaultMachine string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	StartedAt      *time.Time
	CompletedAt    *time.Time
}

// Duration returns the chain's wall-clock run time, if it has started.
func (c *Chain) Duration() *time.Duration {
	if c.StartedAt == nil {
		return nil
	}
	end := time.Now()
	if c.CompletedAt != nil {
		end = *c.CompletedAt
	}
	d := end.Sub(*c.StartedAt)
	return &d
}
