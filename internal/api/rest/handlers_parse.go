package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/chainforge/fleetci/internal/logger"
	"github.com/chainforge/fleetci/internal/parseapi"
)

// ParseHandlers implements the parse service's single endpoint.
type ParseHandlers struct {
	ops    *parseapi.Operations
	logger *logger.Logger
}

// NewParseHandlers builds a ParseHandlers.
func NewParseHandlers(ops *parseapi.Operations, log *logger.Logger) *ParseHandlers {
	return &ParseHandlers{ops: ops, logger: log}
}

// HandleParse handles POST /parse.
func (h *ParseHandlers) HandleParse(c *gin.Context) {
	var req struct {
		Content        string  `json:"content"`
		TenantID       string  `json:"tenant_id"`
		SourceFilePath string  `json:"source_file_path"`
		RepositoryURL  string  `json:"repository_url"`
		CommitSHA      string  `json:"commit_sha"`
		Branch         string  `json:"branch"`
		Trigger        *string `json:"trigger"`
		TriggerRef     string  `json:"trigger_ref"`
	}
	if err := bindJSON(c, &req); err != nil {
		return
	}

	result, err := h.ops.Parse(c.Request.Context(), parseapi.ParseRequest{
		Content:        req.Content,
		TenantID:       req.TenantID,
		SourceFilePath: req.SourceFilePath,
		RepositoryURL:  req.RepositoryURL,
		CommitSHA:      req.CommitSHA,
		Branch:         req.Branch,
		Trigger:        req.Trigger,
		TriggerRef:     req.TriggerRef,
	})
	if err != nil {
		h.logger.Error("parse request failed", "error", err, "tenant", req.TenantID, "request_id", GetRequestID(c))
		respondAPIError(c, TranslateError(err))
		return
	}

	respondJSON(c, http.StatusOK, gin.H{
		"chain_id":       result.ChainID,
		"fragment_count": result.FragmentCount,
		"message":        result.Message,
	})
}
