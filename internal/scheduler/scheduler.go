// Package scheduler implements the fragment claim algorithm and the
// chain/group completion rollup described by the persistence contracts in
// internal/domain/repository.
package scheduler

import (
	"context"
	"fmt"

	"github.com/chainforge/fleetci/internal/domain/repository"
	"github.com/chainforge/fleetci/pkg/models"
)

// Scheduler selects and atomically claims fragments for requesting
// workers, and rolls up fragment/group/chain completion. It holds no
// in-memory state: every mutation is through the repository interfaces,
// so it is safe to construct one per request or share a single instance
// across the HTTP server's lifetime.
type Scheduler struct {
	chains    repository.ChainRepository
	fragments repository.FragmentRepository
	workers   repository.WorkerRepository
}

// New builds a Scheduler over the given repositories.
func New(chains repository.ChainRepository, fragments repository.FragmentRepository, workers repository.WorkerRepository) *Scheduler {
	return &Scheduler{chains: chains, fragments: fragments, workers: workers}
}

// FindAndClaim implements find_and_claim_work: either returns one fragment
// whose status was transitioned Pending→Running and whose assigned_worker
// is now worker.ID, or returns nil.
func (s *Scheduler) FindAndClaim(ctx context.Context, worker *models.Worker) (*models.Fragment, error) {
	candidates, err := s.fragments.FindPendingByMachine(ctx, worker.MachineGroup)
	if err != nil {
		return nil, fmt.Errorf("failed to load pending fragments: %w", err)
	}

	for _, candidate := range candidates {
		eligible, err := s.isEligible(ctx, candidate)
		if err != nil {
			return nil, err
		}
		if !eligible {
			continue
		}

		claimed, err := s.fragments.TryClaim(ctx, candidate.ID, worker.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to claim fragment %s: %w", candidate.ID, err)
		}
		if claimed == nil {
			// Another worker won the race on this candidate; try the next.
			continue
		}

		if err := s.workers.SetCurrentFragment(ctx, worker.ID, &claimed.ID); err != nil {
			return nil, fmt.Errorf("failed to record worker assignment: %w", err)
		}
		// A chain starts Active and becomes Running the moment its first
		// fragment is claimed; MarkStarted is a no-op conditional update if
		// another claim already made this transition.
		if err := s.chains.MarkStarted(ctx, claimed.ChainID); err != nil {
			return nil, fmt.Errorf("failed to mark chain started: %w", err)
		}
		return claimed, nil
	}

	return nil, nil
}

// isEligible determines whether candidate can be claimed right now: a
// parallel sibling is always eligible; a sequential sibling is eligible
// only once every earlier sibling has reached a terminal status.
func (s *Scheduler) isEligible(ctx context.Context, candidate *models.Fragment) (bool, error) {
	parallel, err := s.parentIsParallel(ctx, candidate)
	if err != nil {
		return false, err
	}
	if parallel {
		return true, nil
	}

	siblings, err := s.fragments.FindSiblings(ctx, candidate.ChainID, candidate.Parent)
	if err != nil {
		return false, fmt.Errorf("failed to load siblings for fragment %s: %w", candidate.ID, err)
	}

	for _, sib := range siblings {
		if sib.Sequence < candidate.Sequence && !sib.Status.IsTerminal() {
			return false, nil
		}
	}
	return true, nil
}

// parentIsParallel reports whether candidate's parent is a parallel Group.
// Root-level fragments (nil parent) are always sequential.
func (s *Scheduler) parentIsParallel(ctx context.Context, candidate *models.Fragment) (bool, error) {
	if candidate.Parent == nil {
		return false, nil
	}
	parent, err := s.fragments.FindByID(ctx, *candidate.Parent)
	if err != nil {
		return false, fmt.Errorf("failed to load parent fragment %s: %w", *candidate.Parent, err)
	}
	return parent.IsParallel, nil
}

// CompleteFragment records a successful or failed terminal result reported
// by a worker, clears the worker's current fragment, and rolls the
// completion up through any enclosing groups and, if the whole chain is
// now terminal, the chain itself.
func (s *Scheduler) CompleteFragment(ctx context.Context, workerID, fragmentID string, exitCode int) (*models.Fragment, error) {
	if err := s.fragments.CompleteExecution(ctx, fragmentID, exitCode); err != nil {
		return nil, fmt.Errorf("failed to complete fragment %s: %w", fragmentID, err)
	}
	return s.finishReport(ctx, workerID, fragmentID)
}

// FailFragment records a worker-reported failure (distinct from a
// non-zero exit code: this path carries an error message, e.g. a crashed
// shell rather than a script that merely exited non-zero).
func (s *Scheduler) FailFragment(ctx context.Context, workerID, fragmentID, message string) (*models.Fragment, error) {
	if err := s.fragments.FailExecution(ctx, fragmentID, message); err != nil {
		return nil, fmt.Errorf("failed to fail fragment %s: %w", fragmentID, err)
	}
	return s.finishReport(ctx, workerID, fragmentID)
}

func (s *Scheduler) finishReport(ctx context.Context, workerID, fragmentID string) (*models.Fragment, error) {
	if err := s.workers.SetCurrentFragment(ctx, workerID, nil); err != nil {
		return nil, fmt.Errorf("failed to clear worker assignment: %w", err)
	}

	fragment, err := s.fragments.FindByID(ctx, fragmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload fragment %s: %w", fragmentID, err)
	}

	if err := s.rollup(ctx, fragment.ChainID); err != nil {
		return nil, err
	}

	return s.fragments.FindByID(ctx, fragmentID)
}

// rollup promotes any Group fragment whose children are all terminal to
// Completed (all children succeeded) or Failed (any child failed), then
// checks whether the whole chain is now terminal. It repeats its pass over
// the chain's fragment list until no group changes, so nested groups
// resolve bottom-up within a single rollup call.
func (s *Scheduler) rollup(ctx context.Context, chainID string) error {
	all, err := s.fragments.FindByChain(ctx, chainID)
	if err != nil {
		return fmt.Errorf("failed to load chain fragments for rollup: %w", err)
	}

	childrenByParent := map[string][]*models.Fragment{}
	byID := map[string]*models.Fragment{}
	for _, f := range all {
		byID[f.ID] = f
		if f.Parent != nil {
			childrenByParent[*f.Parent] = append(childrenByParent[*f.Parent], f)
		}
	}

	for {
		changed := false
		for _, f := range all {
			if f.Type != models.FragmentGroup || f.Status.IsTerminal() {
				continue
			}
			children := childrenByParent[f.ID]
			if len(children) == 0 {
				continue
			}

			allTerminal := true
			anyFailed := false
			for _, c := range children {
				if !c.Status.IsTerminal() {
					allTerminal = false
					break
				}
				if c.Status == models.FragmentFailed {
					anyFailed = true
				}
			}
			if !allTerminal {
				continue
			}

			if anyFailed {
				if err := s.fragments.FailExecution(ctx, f.ID, "one or more child fragments failed"); err != nil {
					return fmt.Errorf("failed to roll up group fragment %s: %w", f.ID, err)
				}
				f.Status = models.FragmentFailed
			} else {
				if err := s.fragments.CompleteExecution(ctx, f.ID, 0); err != nil {
					return fmt.Errorf("failed to roll up group fragment %s: %w", f.ID, err)
				}
				f.Status = models.FragmentCompleted
			}
			changed = true
		}
		if !changed {
			break
		}
	}

	chainTerminal := true
	chainFailed := false
	for _, f := range all {
		if !f.Status.IsTerminal() {
			chainTerminal = false
			break
		}
		if f.Status == models.FragmentFailed {
			chainFailed = true
		}
	}

	if chainTerminal {
		status := models.ChainCompleted
		if chainFailed {
			status = models.ChainFailed
		}
		if err := s.chains.MarkTerminal(ctx, chainID, status); err != nil {
			return fmt.Errorf("failed to mark chain %s terminal: %w", chainID, err)
		}
	}

	return nil
}

// Stats computes the queue-metrics projection for the given machine group
// (nil matches any).
func (s *Scheduler) Stats(ctx context.Context, group *string) (*models.QueueMetrics, error) {
	pending, running, err := s.fragments.CountByMachine(ctx, group)
	if err != nil {
		return nil, fmt.Errorf("failed to count fragments: %w", err)
	}
	active, err := s.workers.CountActiveByMachine(ctx, group)
	if err != nil {
		return nil, fmt.Errorf("failed to count active workers: %w", err)
	}
	return &models.QueueMetrics{
		PendingFragments: pending,
		RunningFragments: running,
		ActiveWorkers:    active,
	}, nil
}
