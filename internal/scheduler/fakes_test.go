package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chainforge/fleetci/pkg/models"
)

// fakeStore is an in-memory stand-in for the three repository interfaces,
// used to exercise claim races and rollup without a database. It is
// exposed to the scheduler under test through three thin, single-method-
// surface wrapper types (fakeChains/fakeFragments/fakeWorkers) since a
// single Go type cannot implement three interfaces that each declare their
// own FindByID with a different return type.
type fakeStore struct {
	mu        sync.Mutex
	chains    map[string]*models.Chain
	fragments map[string]*models.Fragment
	workers   map[string]*models.Worker
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		chains:    map[string]*models.Chain{},
		fragments: map[string]*models.Fragment{},
		workers:   map[string]*models.Worker{},
	}
}

func (s *fakeStore) addChain(c *models.Chain)       { s.chains[c.ID] = c }
func (s *fakeStore) addFragment(f *models.Fragment) { s.fragments[f.ID] = f }
func (s *fakeStore) addWorker(w *models.Worker)      { s.workers[w.ID] = w }

func (s *fakeStore) chainRepo() fakeChains       { return fakeChains{s} }
func (s *fakeStore) fragmentRepo() fakeFragments { return fakeFragments{s} }
func (s *fakeStore) workerRepo() fakeWorkers     { return fakeWorkers{s} }

// fakeChains implements repository.ChainRepository.
type fakeChains struct{ s *fakeStore }

func (r fakeChains) Create(ctx context.Context, chain *models.Chain, fragments []*models.Fragment) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.chains[chain.ID] = chain
	for _, f := range fragments {
		r.s.fragments[f.ID] = f
	}
	return nil
}

func (r fakeChains) FindByID(ctx context.Context, id string) (*models.Chain, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.chains[id]
	if !ok {
		return nil, fmt.Errorf("chain %s not found", id)
	}
	return c, nil
}

func (r fakeChains) MarkStarted(ctx context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.chains[id]
	if !ok {
		return fmt.Errorf("chain %s not found", id)
	}
	if c.Status != models.ChainActive {
		return nil
	}
	c.Status = models.ChainRunning
	now := time.Now()
	c.StartedAt = &now
	return nil
}

func (r fakeChains) MarkTerminal(ctx context.Context, id string, status models.ChainStatus) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.chains[id]
	if !ok {
		return fmt.Errorf("chain %s not found", id)
	}
	if c.Status.IsTerminal() {
		return nil
	}
	c.Status = status
	now := time.Now()
	c.CompletedAt = &now
	return nil
}

// fakeFragments implements repository.FragmentRepository.
type fakeFragments struct{ s *fakeStore }

func (r fakeFragments) FindPendingByMachine(ctx context.Context, group *string) ([]*models.Fragment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []*models.Fragment
	for _, f := range r.s.fragments {
		if f.Status != models.FragmentPending {
			continue
		}
		if group != nil {
			if f.Machine == nil || *f.Machine != *group {
				continue
			}
		}
		out = append(out, f)
	}
	sortBySequence(out)
	return out, nil
}

func (r fakeFragments) FindSiblings(ctx context.Context, chainID string, parent *string) ([]*models.Fragment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []*models.Fragment
	for _, f := range r.s.fragments {
		if f.ChainID != chainID {
			continue
		}
		if !samePtr(f.Parent, parent) {
			continue
		}
		out = append(out, f)
	}
	sortBySequence(out)
	return out, nil
}

func (r fakeFragments) FindByChain(ctx context.Context, chainID string) ([]*models.Fragment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []*models.Fragment
	for _, f := range r.s.fragments {
		if f.ChainID == chainID {
			out = append(out, f)
		}
	}
	return out, nil
}

func (r fakeFragments) FindByID(ctx context.Context, id string) (*models.Fragment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	f, ok := r.s.fragments[id]
	if !ok {
		return nil, fmt.Errorf("fragment %s not found", id)
	}
	return f, nil
}

func (r fakeFragments) TryClaim(ctx context.Context, fragmentID, workerID string) (*models.Fragment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	f, ok := r.s.fragments[fragmentID]
	if !ok {
		return nil, fmt.Errorf("fragment %s not found", fragmentID)
	}
	if f.Status != models.FragmentPending {
		return nil, nil
	}
	f.Status = models.FragmentRunning
	f.AssignedWorker = &workerID
	now := time.Now()
	f.StartedAt = &now
	claimed := *f
	return &claimed, nil
}

func (r fakeFragments) CompleteExecution(ctx context.Context, fragmentID string, exitCode int) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	f, ok := r.s.fragments[fragmentID]
	if !ok {
		return fmt.Errorf("fragment %s not found", fragmentID)
	}
	f.Status = models.FragmentCompleted
	f.ExitCode = &exitCode
	now := time.Now()
	f.CompletedAt = &now
	return nil
}

func (r fakeFragments) FailExecution(ctx context.Context, fragmentID string, message string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	f, ok := r.s.fragments[fragmentID]
	if !ok {
		return fmt.Errorf("fragment %s not found", fragmentID)
	}
	f.Status = models.FragmentFailed
	f.ErrorMessage = &message
	now := time.Now()
	f.CompletedAt = &now
	return nil
}

func (r fakeFragments) ResetForRetry(ctx context.Context, fragmentID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	f, ok := r.s.fragments[fragmentID]
	if !ok {
		return fmt.Errorf("fragment %s not found", fragmentID)
	}
	f.Status = models.FragmentPending
	f.AssignedWorker = nil
	f.StartedAt = nil
	f.CompletedAt = nil
	f.ExitCode = nil
	f.ErrorMessage = nil
	f.Attempt++
	return nil
}

func (r fakeFragments) CountByMachine(ctx context.Context, group *string) (int, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var pending, running int
	for _, f := range r.s.fragments {
		if group != nil && (f.Machine == nil || *f.Machine != *group) {
			continue
		}
		switch f.Status {
		case models.FragmentPending:
			pending++
		case models.FragmentRunning:
			running++
		}
	}
	return pending, running, nil
}

// fakeWorkers implements repository.WorkerRepository.
type fakeWorkers struct{ s *fakeStore }

func (r fakeWorkers) Register(ctx context.Context, worker *models.Worker) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if worker.ID == "" {
		worker.ID = uuid.New().String()
	}
	r.s.workers[worker.ID] = worker
	return nil
}

func (r fakeWorkers) FindByID(ctx context.Context, id string) (*models.Worker, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	w, ok := r.s.workers[id]
	if !ok {
		return nil, fmt.Errorf("worker %s not found", id)
	}
	return w, nil
}

func (r fakeWorkers) Heartbeat(ctx context.Context, id string) (*models.Worker, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	w, ok := r.s.workers[id]
	if !ok {
		return nil, fmt.Errorf("worker %s not found", id)
	}
	now := time.Now()
	w.LastHeartbeat = &now
	return w, nil
}

func (r fakeWorkers) SetCurrentFragment(ctx context.Context, id string, fragmentID *string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	w, ok := r.s.workers[id]
	if !ok {
		// Like the bun repository's unconditional UPDATE, an unknown worker
		// matches no row and is not an error.
		return nil
	}
	w.CurrentFragment = fragmentID
	return nil
}

func (r fakeWorkers) MarkError(ctx context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	w, ok := r.s.workers[id]
	if !ok {
		return fmt.Errorf("worker %s not found", id)
	}
	w.Status = models.WorkerError
	w.CurrentFragment = nil
	return nil
}

func (r fakeWorkers) FindDeadWorkers(ctx context.Context, threshold time.Time) ([]*models.Worker, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.Worker
	for _, w := range r.s.workers {
		if w.Status != models.WorkerActive {
			continue
		}
		if w.LastHeartbeat == nil || w.LastHeartbeat.Before(threshold) {
			out = append(out, w)
		}
	}
	return out, nil
}

func (r fakeWorkers) CountActiveByMachine(ctx context.Context, group *string) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	count := 0
	for _, w := range r.s.workers {
		if w.Status != models.WorkerActive {
			continue
		}
		if group != nil && (w.MachineGroup == nil || *w.MachineGroup != *group) {
			continue
		}
		count++
	}
	return count, nil
}

func samePtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func sortBySequence(fragments []*models.Fragment) {
	for i := 1; i < len(fragments); i++ {
		for j := i; j > 0 && fragments[j].Sequence < fragments[j-1].Sequence; j-- {
			fragments[j], fragments[j-1] = fragments[j-1], fragments[j]
		}
	}
}
