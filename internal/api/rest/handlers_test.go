package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainforge/fleetci/internal/compiler"
	"github.com/chainforge/fleetci/internal/logger"
	"github.com/chainforge/fleetci/internal/orchestrator"
	"github.com/chainforge/fleetci/internal/parseapi"
	"github.com/chainforge/fleetci/internal/scheduler"
	storagemodels "github.com/chainforge/fleetci/internal/storage/models"
	"github.com/chainforge/fleetci/pkg/models"
)

// fakeStore is an in-memory stand-in for all three repository interfaces,
// scoped to this test file since the scheduler package's own fakes are
// unexported and cannot cross a package boundary.
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

type fakeChains struct{ s *fakeStore }
type fakeFragments struct{ s *fakeStore }
type fakeWorkers struct{ s *fakeStore }

func (f *fakeStore) chainRepo() fakeChains       { return fakeChains{f} }
func (f *fakeStore) fragmentRepo() fakeFragments { return fakeFragments{f} }
func (f *fakeStore) workerRepo() fakeWorkers     { return fakeWorkers{f} }

func (r fakeChains) Create(ctx context.Context, chain *models.Chain, fragments []*models.Fragment) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if chain.ID == "" {
		chain.ID = uuid.New().String()
	}
	r.s.chains[chain.ID] = chain
	for _, f := range fragments {
		if f.ID == "" {
			f.ID = uuid.New().String()
		}
		f.ChainID = chain.ID
		r.s.fragments[f.ID] = f
	}
	return nil
}
func (r fakeChains) FindByID(ctx context.Context, id string) (*models.Chain, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.chains[id]
	if !ok {
		return nil, fmt.Errorf("chain not found")
	}
	return c, nil
}
func (r fakeChains) MarkStarted(ctx context.Context, id string) error      { return nil }
func (r fakeChains) MarkTerminal(ctx context.Context, id string, s models.ChainStatus) error {
	return nil
}

func (r fakeFragments) FindPendingByMachine(ctx context.Context, group *string) ([]*models.Fragment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.Fragment
	for _, f := range r.s.fragments {
		if f.Status != models.FragmentPending {
			continue
		}
		if group != nil && (f.Machine == nil || *f.Machine != *group) {
			continue
		}
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}
func (r fakeFragments) FindSiblings(ctx context.Context, chainID string, parent *string) ([]*models.Fragment, error) {
	return nil, nil
}
func (r fakeFragments) FindByChain(ctx context.Context, chainID string) ([]*models.Fragment, error) {
	return nil, nil
}
func (r fakeFragments) FindByID(ctx context.Context, id string) (*models.Fragment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	f, ok := r.s.fragments[id]
	if !ok {
		return nil, fmt.Errorf("fragment not found")
	}
	return f, nil
}
func (r fakeFragments) TryClaim(ctx context.Context, fragmentID, workerID string) (*models.Fragment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	f, ok := r.s.fragments[fragmentID]
	if !ok || f.Status != models.FragmentPending {
		return nil, nil
	}
	f.Status = models.FragmentRunning
	f.AssignedWorker = &workerID
	claimed := *f
	return &claimed, nil
}
func (r fakeFragments) CompleteExecution(ctx context.Context, fragmentID string, exitCode int) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	f := r.s.fragments[fragmentID]
	f.Status = models.FragmentCompleted
	f.ExitCode = &exitCode
	return nil
}
func (r fakeFragments) FailExecution(ctx context.Context, fragmentID string, message string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	f := r.s.fragments[fragmentID]
	f.Status = models.FragmentFailed
	f.ErrorMessage = &message
	return nil
}
func (r fakeFragments) ResetForRetry(ctx context.Context, fragmentID string) error { return nil }
func (r fakeFragments) CountByMachine(ctx context.Context, group *string) (int, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var pending, running int
	for _, f := range r.s.fragments {
		switch f.Status {
		case models.FragmentPending:
			pending++
		case models.FragmentRunning:
			running++
		}
	}
	return pending, running, nil
}

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
		return nil, fmt.Errorf("worker not found")
	}
	return w, nil
}
func (r fakeWorkers) Heartbeat(ctx context.Context, id string) (*models.Worker, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	w, ok := r.s.workers[id]
	if !ok {
		return nil, fmt.Errorf("worker not found: %w", storagemodels.ErrNotFound)
	}
	now := time.Now()
	w.LastHeartbeat = &now
	return w, nil
}
func (r fakeWorkers) SetCurrentFragment(ctx context.Context, id string, fragmentID *string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.workers[id].CurrentFragment = fragmentID
	return nil
}
func (r fakeWorkers) MarkError(ctx context.Context, id string) error { return nil }
func (r fakeWorkers) FindDeadWorkers(ctx context.Context, threshold time.Time) ([]*models.Worker, error) {
	return nil, nil
}
func (r fakeWorkers) CountActiveByMachine(ctx context.Context, group *string) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	count := 0
	for _, w := range r.s.workers {
		if w.Status == models.WorkerActive {
			count++
		}
	}
	return count, nil
}

func testLogger() *logger.Logger {
	return logger.New(logger.Config{Level: "error", Format: "json"})
}

func newOrchestratorTestRouter(store *fakeStore) http.Handler {
	sched := scheduler.New(store.chainRepo(), store.fragmentRepo(), store.workerRepo())
	ops := &orchestrator.Operations{
		Workers:   store.workerRepo(),
		Fragments: store.fragmentRepo(),
		Chains:    store.chainRepo(),
		Scheduler: sched,
		Logger:    testLogger(),
	}
	return NewOrchestratorRouter(ops, testLogger())
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

// ========== WORKER REGISTER / HEARTBEAT ==========

func TestHandleRegisterWorker_Success(t *testing.T) {
	t.Parallel()
	router := newOrchestratorTestRouter(newFakeStore())

	rec := doJSON(t, router, http.MethodPost, "/workers/register", map[string]any{"tenant_id": "acme"})
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body["worker_id"])
	assert.Equal(t, "active", body["status"])
}

func TestHandleRegisterWorker_MissingTenantIsBadRequest(t *testing.T) {
	t.Parallel()
	router := newOrchestratorTestRouter(newFakeStore())

	rec := doJSON(t, router, http.MethodPost, "/workers/register", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleHeartbeat_UnknownWorkerIs404(t *testing.T) {
	t.Parallel()
	router := newOrchestratorTestRouter(newFakeStore())

	rec := doJSON(t, router, http.MethodPost, "/workers/heartbeat", map[string]any{"worker_id": uuid.New().String()})
	assert.Equal(t, http.StatusNotFound, rec.Code, "the storage not-found sentinel maps to WORKER_NOT_FOUND")
}

// ========== WORK REQUEST / RESULT CYCLE ==========

func TestHandleRequestWork_ReturnsFragmentWithCondition(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	condition := "branch == 'main'"
	store.fragments["frag-1"] = &models.Fragment{
		ID: "frag-1", ChainID: "chain-1", Sequence: 0,
		Type: models.FragmentInline, Status: models.FragmentPending,
		RunScript: strPtr("npm build"), Condition: &condition,
	}
	worker := &models.Worker{ID: "worker-1", Status: models.WorkerActive}
	store.workers[worker.ID] = worker

	router := newOrchestratorTestRouter(store)
	rec := doJSON(t, router, http.MethodPost, "/work/request", map[string]any{"worker_id": "worker-1"})
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "frag-1", body["fragment_id"])
	assert.Equal(t, condition, body["condition"], "condition must be returned to the worker verbatim")
}

func TestHandleRequestWork_NoEligibleFragmentIs204(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	worker := &models.Worker{ID: "worker-1", Status: models.WorkerActive}
	store.workers[worker.ID] = worker

	router := newOrchestratorTestRouter(store)
	rec := doJSON(t, router, http.MethodPost, "/work/request", map[string]any{"worker_id": "worker-1"})
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestHandleReportResult_SuccessMarksCompleted(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	store.workers["worker-1"] = &models.Worker{ID: "worker-1", Status: models.WorkerActive}
	store.fragments["frag-1"] = &models.Fragment{ID: "frag-1", Status: models.FragmentRunning}

	router := newOrchestratorTestRouter(store)
	rec := doJSON(t, router, http.MethodPost, "/work/result", map[string]any{
		"worker_id": "worker-1", "fragment_id": "frag-1", "success": true,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "completed", body["fragment_status"])
}

func TestHandleReportResult_MissingFieldsIsBadRequest(t *testing.T) {
	t.Parallel()
	router := newOrchestratorTestRouter(newFakeStore())

	rec := doJSON(t, router, http.MethodPost, "/work/result", map[string]any{"success": true})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// ========== QUEUE METRICS / WORKER BUSY ==========

func TestHandleQueueMetrics_CountsPendingAndRunning(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	store.fragments["a"] = &models.Fragment{ID: "a", Status: models.FragmentPending}
	store.fragments["b"] = &models.Fragment{ID: "b", Status: models.FragmentRunning}
	store.workers["w"] = &models.Worker{ID: "w", Status: models.WorkerActive}

	router := newOrchestratorTestRouter(store)
	rec := doJSON(t, router, http.MethodGet, "/queue/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, float64(1), body["pending_fragments"])
	assert.Equal(t, float64(1), body["running_fragments"])
	assert.Equal(t, float64(1), body["active_workers"])
}

func TestHandleWorkerBusy_ReportsAssignedFragment(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	fragID := "frag-1"
	store.workers["worker-1"] = &models.Worker{ID: "worker-1", Status: models.WorkerActive, CurrentFragment: &fragID}

	router := newOrchestratorTestRouter(store)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/workers/worker-1/busy", nil)
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["busy"])
	assert.Equal(t, fragID, body["fragment_id"])
}

// ========== PARSE ENDPOINT ==========

func newParseTestRouter(store *fakeStore, fetcher compiler.Fetcher) http.Handler {
	ops := &parseapi.Operations{Chains: store.chainRepo(), Fetcher: fetcher, Logger: testLogger()}
	return NewParseRouter(ops, testLogger())
}

func TestHandleParse_CompilesAndPersists(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	router := newParseTestRouter(store, compiler.MapFetcher{})

	doc := `
version "0.1"
triggers "push"
chain machine="default-worker" {
	fragment run="npm build"
}
`
	rec := doJSON(t, router, http.MethodPost, "/parse", map[string]any{
		"content": doc, "tenant_id": "acme",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body["chain_id"])
	assert.Equal(t, float64(1), body["fragment_count"])
}

func TestHandleParse_CompileErrorIsBadRequestWithParseErrorCode(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	router := newParseTestRouter(store, compiler.MapFetcher{})

	doc := `
version "0.1"
triggers "push"
chain {
	fragment run="npm build"
}
`
	rec := doJSON(t, router, http.MethodPost, "/parse", map[string]any{
		"content": doc, "tenant_id": "acme",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "PARSE_ERROR", body["code"])
}

func TestHandleParse_MissingTenantIsBadRequest(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	router := newParseTestRouter(store, compiler.MapFetcher{})

	rec := doJSON(t, router, http.MethodPost, "/parse", map[string]any{"content": "fragment run=\"x\""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func strPtr(s string) *string { return &s }
