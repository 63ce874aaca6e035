package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/chainforge/fleetci/internal/logger"
	"github.com/chainforge/fleetci/internal/orchestrator"
)

// OrchestratorHandlers implements the orchestrator HTTP API: worker
// registration and heartbeat, the work request/result cycle, and the
// queue-metrics and worker-busy read endpoints.
type OrchestratorHandlers struct {
	ops    *orchestrator.Operations
	logger *logger.Logger
}

// NewOrchestratorHandlers builds an OrchestratorHandlers.
func NewOrchestratorHandlers(ops *orchestrator.Operations, log *logger.Logger) *OrchestratorHandlers {
	return &OrchestratorHandlers{ops: ops, logger: log}
}

// HandleHealth reports the service identity and liveness.
func (h *OrchestratorHandlers) HandleHealth(c *gin.Context) {
	respondJSON(c, http.StatusOK, gin.H{"status": "ok", "service": "fleetci-orchestrator"})
}

// HandleRegisterWorker handles POST /workers/register.
func (h *OrchestratorHandlers) HandleRegisterWorker(c *gin.Context) {
	var req struct {
		TenantID     string  `json:"tenant_id"`
		MachineGroup *string `json:"machine_group"`
	}
	if err := bindJSON(c, &req); err != nil {
		return
	}

	worker, err := h.ops.RegisterWorker(c.Request.Context(), orchestrator.RegisterWorkerParams{
		TenantID:     req.TenantID,
		MachineGroup: req.MachineGroup,
	})
	if err != nil {
		respondAPIError(c, TranslateError(err))
		return
	}

	respondJSON(c, http.StatusOK, gin.H{"worker_id": worker.ID, "status": string(worker.Status)})
}

// HandleHeartbeat handles POST /workers/heartbeat.
func (h *OrchestratorHandlers) HandleHeartbeat(c *gin.Context) {
	var req struct {
		WorkerID string `json:"worker_id"`
	}
	if err := bindJSON(c, &req); err != nil {
		return
	}
	if req.WorkerID == "" {
		respondAPIError(c, ErrMissingParameter)
		return
	}

	worker, err := h.ops.Heartbeat(c.Request.Context(), req.WorkerID)
	if err != nil {
		respondAPIError(c, TranslateError(err))
		return
	}

	respondJSON(c, http.StatusOK, gin.H{"status": string(worker.Status), "timestamp": worker.LastHeartbeat})
}

// HandleRequestWork handles POST /work/request.
func (h *OrchestratorHandlers) HandleRequestWork(c *gin.Context) {
	var req struct {
		WorkerID string `json:"worker_id"`
	}
	if err := bindJSON(c, &req); err != nil {
		return
	}
	if req.WorkerID == "" {
		respondAPIError(c, ErrMissingParameter)
		return
	}

	fragment, err := h.ops.RequestWork(c.Request.Context(), req.WorkerID)
	if err != nil {
		respondAPIError(c, TranslateError(err))
		return
	}
	if fragment == nil {
		c.Status(http.StatusNoContent)
		return
	}

	respondJSON(c, http.StatusOK, gin.H{
		"fragment_id": fragment.ID,
		"chain_id":    fragment.ChainID,
		"run_script":  fragment.RunScript,
		"condition":   fragment.Condition,
		"attempt":     fragment.Attempt,
	})
}

// HandleReportResult handles POST /work/result.
func (h *OrchestratorHandlers) HandleReportResult(c *gin.Context) {
	var req struct {
		WorkerID     string  `json:"worker_id"`
		FragmentID   string  `json:"fragment_id"`
		Success      bool    `json:"success"`
		ExitCode     *int    `json:"exit_code"`
		ErrorMessage *string `json:"error_message"`
	}
	if err := bindJSON(c, &req); err != nil {
		return
	}
	if req.WorkerID == "" || req.FragmentID == "" {
		respondAPIError(c, ErrMissingParameter)
		return
	}

	fragment, err := h.ops.ReportResult(c.Request.Context(), orchestrator.ReportResultParams{
		WorkerID:     req.WorkerID,
		FragmentID:   req.FragmentID,
		Success:      req.Success,
		ExitCode:     req.ExitCode,
		ErrorMessage: req.ErrorMessage,
	})
	if err != nil {
		respondAPIError(c, TranslateError(err))
		return
	}

	respondJSON(c, http.StatusOK, gin.H{"status": "recorded", "fragment_status": string(fragment.Status)})
}

// HandleQueueMetrics handles GET /queue/metrics.
func (h *OrchestratorHandlers) HandleQueueMetrics(c *gin.Context) {
	var group *string
	if g := c.Query("machine_group"); g != "" {
		group = &g
	}

	metrics, err := h.ops.QueueMetrics(c.Request.Context(), group)
	if err != nil {
		respondAPIError(c, TranslateError(err))
		return
	}

	respondJSON(c, http.StatusOK, gin.H{
		"pending_fragments": metrics.PendingFragments,
		"running_fragments": metrics.RunningFragments,
		"active_workers":    metrics.ActiveWorkers,
	})
}

// HandleWorkerBusy handles GET /workers/:id/busy.
func (h *OrchestratorHandlers) HandleWorkerBusy(c *gin.Context) {
	workerID := c.Param("id")
	if workerID == "" {
		respondAPIError(c, ErrMissingParameter)
		return
	}

	busy, fragmentID, err := h.ops.WorkerBusy(c.Request.Context(), workerID)
	if err != nil {
		respondAPIError(c, TranslateError(err))
		return
	}

	respondJSON(c, http.StatusOK, gin.H{"busy": busy, "fragment_id": fragmentID})
}
