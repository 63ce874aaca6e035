package workerclient

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// RuntimeConfig holds the worker process's environment-sourced
// configuration, using the same bare env-var naming style as the fleet
// controller.
type RuntimeConfig struct {
	OrchestratorURL string
	TenantID        string
	MachineGroup    *string

	HeartbeatInterval time.Duration
	PollInterval      time.Duration
	ScriptTimeout     time.Duration
	RequestTimeout    time.Duration
}

// LoadRuntimeConfig reads the worker's configuration from the environment.
// ORCHESTRATOR_URL and TENANT_ID are required; MACHINE_GROUP is optional
// and, when unset, the worker is offered pending fragments of every
// machine group.
func LoadRuntimeConfig() (*RuntimeConfig, error) {
	cfg := &RuntimeConfig{
		OrchestratorURL:   os.Getenv("ORCHESTRATOR_URL"),
		TenantID:          os.Getenv("TENANT_ID"),
		HeartbeatInterval: 15 * time.Second,
		PollInterval:      5 * time.Second,
		ScriptTimeout:     10 * time.Minute,
		RequestTimeout:    30 * time.Second,
	}

	if cfg.OrchestratorURL == "" {
		return nil, fmt.Errorf("ORCHESTRATOR_URL is required")
	}
	if cfg.TenantID == "" {
		return nil, fmt.Errorf("TENANT_ID is required")
	}

	if mg := os.Getenv("MACHINE_GROUP"); mg != "" {
		cfg.MachineGroup = &mg
	}

	if v := os.Getenv("HEARTBEAT_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.HeartbeatInterval = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("POLL_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PollInterval = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("SCRIPT_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ScriptTimeout = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("REQUEST_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RequestTimeout = time.Duration(n) * time.Second
		}
	}

	return cfg, nil
}
