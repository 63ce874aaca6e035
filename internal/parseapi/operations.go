// Package parseapi provides transport-agnostic business logic for the
// parse service's single endpoint: compile a workflow document and
// persist the resulting chain and fragments.
package parseapi

import (
	"context"
	"fmt"

	"github.com/chainforge/fleetci/internal/compiler"
	"github.com/chainforge/fleetci/internal/domain/repository"
	"github.com/chainforge/fleetci/internal/logger"
	"github.com/chainforge/fleetci/pkg/models"
)

// Operations is the service layer behind the parse API.
type Operations struct {
	Chains  repository.ChainRepository
	Fetcher compiler.Fetcher
	Logger  *logger.Logger
}

// ParseRequest carries the fields of POST /parse.
type ParseRequest struct {
	Content         string
	TenantID        string
	SourceFilePath  string
	RepositoryURL   string
	CommitSHA       string
	Branch          string
	Trigger         *string
	TriggerRef      string
}

// ParseResult carries the fields of the 2xx /parse response.
type ParseResult struct {
	ChainID       string
	FragmentCount int
	Message       string
}

// Parse compiles req.Content and persists the resulting chain.
func (o *Operations) Parse(ctx context.Context, req ParseRequest) (*ParseResult, error) {
	if req.TenantID == "" {
		return nil, &compiler.CompileError{Code: compiler.CodeMissingRequired, Field: "tenant_id", Message: "tenant_id is required"}
	}

	opts := compiler.CompileOptions{
		Tenant: req.TenantID,
		Provenance: models.Provenance{
			SourcePath:    req.SourceFilePath,
			RepositoryURL: req.RepositoryURL,
			CommitSHA:     req.CommitSHA,
			Branch:        req.Branch,
		},
		DocumentURL: req.SourceFilePath,
		Fetcher:     o.Fetcher,
	}
	if req.Trigger != nil {
		opts.Trigger = &compiler.Trigger{Tag: *req.Trigger, Ref: req.TriggerRef}
	}

	chain, fragments, err := compiler.Compile(req.Content, opts)
	if err != nil {
		o.Logger.Error("workflow compile failed", "error", err, "tenant", req.TenantID)
		return nil, err
	}

	if err := o.Chains.Create(ctx, chain, fragments); err != nil {
		o.Logger.Error("failed to persist compiled chain", "error", err, "chain_id", chain.ID)
		return nil, fmt.Errorf("failed to persist chain: %w", err)
	}

	return &ParseResult{
		ChainID:       chain.ID,
		FragmentCount: len(fragments),
		Message:       "chain compiled and persisted",
	}, nil
}
