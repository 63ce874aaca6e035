package workerclient

import (
	"context"
	"fmt"
	"net/http"
)

// WorkItem is the payload returned by a successful work request.
type WorkItem struct {
	FragmentID string  `json:"fragment_id"`
	ChainID    string  `json:"chain_id"`
	RunScript  *string `json:"run_script"`
	Condition  *string `json:"condition"`
	Attempt    int     `json:"attempt"`
}

// ReportResultParams is the body of a result report.
type ReportResultParams struct {
	WorkerID     string
	FragmentID   string
	Success      bool
	ExitCode     *int
	ErrorMessage *string
}

// Client is the worker's handle on the orchestrator HTTP API.
type Client struct {
	t *transport
}

// New builds a Client against baseURL.
func New(baseURL string, cfg Config) *Client {
	return &Client{t: newTransport(baseURL, cfg)}
}

// Register registers this process as a worker, returning its assigned ID.
func (c *Client) Register(ctx context.Context, tenantID string, machineGroup *string) (string, error) {
	var resp struct {
		WorkerID string `json:"worker_id"`
		Status   string `json:"status"`
	}
	_, err := c.t.do(ctx, http.MethodPost, "/workers/register", map[string]any{
		"tenant_id":     tenantID,
		"machine_group": machineGroup,
	}, &resp)
	if err != nil {
		return "", fmt.Errorf("register worker: %w", err)
	}
	return resp.WorkerID, nil
}

// Heartbeat reports liveness for workerID.
func (c *Client) Heartbeat(ctx context.Context, workerID string) error {
	_, err := c.t.do(ctx, http.MethodPost, "/workers/heartbeat", map[string]any{
		"worker_id": workerID,
	}, nil)
	if err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	return nil
}

// RequestWork asks for the next fragment. It returns (nil, nil) on 204.
func (c *Client) RequestWork(ctx context.Context, workerID string) (*WorkItem, error) {
	var item WorkItem
	status, err := c.t.do(ctx, http.MethodPost, "/work/request", map[string]any{
		"worker_id": workerID,
	}, &item)
	if err != nil {
		return nil, fmt.Errorf("request work: %w", err)
	}
	if status == http.StatusNoContent {
		return nil, nil
	}
	return &item, nil
}

// ReportResult reports the outcome of executing a fragment.
func (c *Client) ReportResult(ctx context.Context, params ReportResultParams) error {
	_, err := c.t.do(ctx, http.MethodPost, "/work/result", map[string]any{
		"worker_id":     params.WorkerID,
		"fragment_id":   params.FragmentID,
		"success":       params.Success,
		"exit_code":     params.ExitCode,
		"error_message": params.ErrorMessage,
	}, nil)
	if err != nil {
		return fmt.Errorf("report result: %w", err)
	}
	return nil
}
