package rest

import (
	"github.com/gin-gonic/gin"

	"github.com/chainforge/fleetci/internal/logger"
	"github.com/chainforge/fleetci/internal/orchestrator"
	"github.com/chainforge/fleetci/internal/parseapi"
)

// NewOrchestratorRouter builds the gin.Engine serving the orchestrator
// HTTP API described in the external interfaces table: health, worker
// registration/heartbeat, the work request/result cycle, and the
// queue-metrics and worker-busy read endpoints.
func NewOrchestratorRouter(ops *orchestrator.Operations, log *logger.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(RequestID(), Recovery(log), AccessLog(log))

	h := NewOrchestratorHandlers(ops, log)

	r.GET("/health", h.HandleHealth)
	r.POST("/workers/register", h.HandleRegisterWorker)
	r.POST("/workers/heartbeat", h.HandleHeartbeat)
	r.GET("/workers/:id/busy", h.HandleWorkerBusy)
	r.POST("/work/request", h.HandleRequestWork)
	r.POST("/work/result", h.HandleReportResult)
	r.GET("/queue/metrics", h.HandleQueueMetrics)

	return r
}

// NewParseRouter builds the gin.Engine serving the parse service's single
// endpoint. It is a separate service from the orchestrator per the
// external interfaces table.
func NewParseRouter(ops *parseapi.Operations, log *logger.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(RequestID(), Recovery(log), AccessLog(log))

	h := NewParseHandlers(ops, log)
	r.POST("/parse", h.HandleParse)

	return r
}
