package rest

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/chainforge/fleetci/internal/compiler"
	"github.com/chainforge/fleetci/internal/orchestrator"
	storagemodels "github.com/chainforge/fleetci/internal/storage/models"
)

// APIError is the stable JSON error shape every endpoint returns: a
// machine-readable code plus a human-readable message. No stack traces
// cross the HTTP boundary.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"error"`
}

func (e *APIError) Error() string {
	return e.Message
}

// NewAPIError builds an APIError.
func NewAPIError(code, message string, status int) *APIError {
	return &APIError{Status: status, Code: code, Message: message}
}

var (
	ErrInvalidRequestBody = NewAPIError("INVALID_REQUEST", "request body is invalid", http.StatusBadRequest)
	ErrMissingParameter   = NewAPIError("INVALID_REQUEST", "a required parameter is missing", http.StatusBadRequest)
	ErrInternal           = NewAPIError("INTERNAL_ERROR", "an internal error occurred", http.StatusInternalServerError)
)

// TranslateError maps a domain/service error to the stable APIError the
// HTTP boundary returns. Compiler errors become 400/PARSE_ERROR; not-found
// sentinels become 404 with their component-specific code; invalid
// requests become 400/INVALID_REQUEST; a lost conditional update becomes
// 409/CONFLICT; everything else becomes 500/DATABASE_ERROR.
func TranslateError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	var compileErr *compiler.CompileError
	if errors.As(err, &compileErr) {
		return NewAPIError("PARSE_ERROR", compileErr.Error(), http.StatusBadRequest)
	}

	switch {
	case errors.Is(err, orchestrator.ErrWorkerNotFound):
		return NewAPIError("WORKER_NOT_FOUND", "worker not found", http.StatusNotFound)
	case errors.Is(err, orchestrator.ErrFragmentNotFound):
		return NewAPIError("FRAGMENT_NOT_FOUND", "fragment not found", http.StatusNotFound)
	case errors.Is(err, orchestrator.ErrChainNotFound):
		return NewAPIError("CHAIN_NOT_FOUND", "chain not found", http.StatusNotFound)
	case errors.Is(err, orchestrator.ErrInvalidRequest):
		return NewAPIError("INVALID_REQUEST", err.Error(), http.StatusBadRequest)
	case errors.Is(err, storagemodels.ErrNotFound):
		return NewAPIError("NOT_FOUND", "resource not found", http.StatusNotFound)
	case errors.Is(err, storagemodels.ErrConflict):
		return NewAPIError("CONFLICT", "resource state conflict", http.StatusConflict)
	default:
		return NewAPIError("DATABASE_ERROR", "a storage error occurred", http.StatusInternalServerError)
	}
}

func respondJSON(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}

func respondAPIError(c *gin.Context, err *APIError) {
	c.JSON(err.Status, err)
}

func bindJSON(c *gin.Context, dst any) error {
	if err := c.ShouldBindJSON(dst); err != nil {
		respondAPIError(c, NewAPIError("INVALID_REQUEST", "malformed request body: "+err.Error(), http.StatusBadRequest))
		return err
	}
	return nil
}
