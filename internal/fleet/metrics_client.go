package fleet

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// QueueMetrics mirrors the /queue/metrics response body.
type QueueMetrics struct {
	PendingFragments int `json:"pending_fragments"`
	RunningFragments int `json:"running_fragments"`
	ActiveWorkers    int `json:"active_workers"`
}

// MetricsClient fetches queue depth from the orchestrator's HTTP API.
type MetricsClient struct {
	baseURL string
	machine string
	client  *http.Client
}

// NewMetricsClient builds a MetricsClient bounded by requestTimeout.
func NewMetricsClient(baseURL, machineGroup string, requestTimeout time.Duration) *MetricsClient {
	if requestTimeout <= 0 {
		requestTimeout = 10 * time.Second
	}
	return &MetricsClient{
		baseURL: baseURL,
		machine: machineGroup,
		client:  &http.Client{Timeout: requestTimeout},
	}
}

// GetQueueMetrics calls GET /queue/metrics?machine_group=....
func (c *MetricsClient) GetQueueMetrics(ctx context.Context) (*QueueMetrics, error) {
	u, err := url.Parse(c.baseURL + "/queue/metrics")
	if err != nil {
		return nil, fmt.Errorf("invalid orchestrator url: %w", err)
	}
	if c.machine != "" {
		q := u.Query()
		q.Set("machine_group", c.machine)
		u.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build metrics request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch queue metrics: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("queue metrics request returned status %d", resp.StatusCode)
	}

	var metrics QueueMetrics
	if err := json.NewDecoder(resp.Body).Decode(&metrics); err != nil {
		return nil, fmt.Errorf("failed to decode queue metrics: %w", err)
	}
	return &metrics, nil
}
