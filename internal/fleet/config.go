package fleet

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the fleet controller's environment-sourced configuration.
// Unlike the orchestrator's FLEETCI_-prefixed variables, these names match
// the bare form the controller's external interface specifies.
type Config struct {
	OrchestratorURL string
	TenantID        string
	MachineGroup    string
	DeploymentName  string
	Namespace       string

	MinReplicas            int32
	MaxReplicas            int32
	TargetPendingPerWorker float64
	ScaleDownDelay         time.Duration
	PollInterval           time.Duration
}

// LoadConfig reads the controller's configuration from the environment.
// The five identity variables (ORCHESTRATOR_URL, TENANT_ID, MACHINE_GROUP,
// DEPLOYMENT_NAME, DEPLOYMENT_NAMESPACE) are required; the rest fall back
// to the documented defaults.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		OrchestratorURL: os.Getenv("ORCHESTRATOR_URL"),
		TenantID:        os.Getenv("TENANT_ID"),
		MachineGroup:    os.Getenv("MACHINE_GROUP"),
		DeploymentName:  os.Getenv("DEPLOYMENT_NAME"),
		Namespace:       os.Getenv("DEPLOYMENT_NAMESPACE"),

		MinReplicas:            0,
		MaxReplicas:            10,
		TargetPendingPerWorker: 1.0,
		ScaleDownDelay:         300 * time.Second,
		PollInterval:           30 * time.Second,
	}

	for name, val := range map[string]string{
		"ORCHESTRATOR_URL":     cfg.OrchestratorURL,
		"TENANT_ID":            cfg.TenantID,
		"MACHINE_GROUP":        cfg.MachineGroup,
		"DEPLOYMENT_NAME":      cfg.DeploymentName,
		"DEPLOYMENT_NAMESPACE": cfg.Namespace,
	} {
		if val == "" {
			return nil, fmt.Errorf("%s is required", name)
		}
	}

	if v := os.Getenv("MIN_REPLICAS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MinReplicas = int32(n)
		}
	}
	if v := os.Getenv("MAX_REPLICAS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxReplicas = int32(n)
		}
	}
	if v := os.Getenv("TARGET_PENDING_PER_WORKER"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.TargetPendingPerWorker = f
		}
	}
	if v := os.Getenv("SCALE_DOWN_DELAY_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ScaleDownDelay = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("POLL_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PollInterval = time.Duration(n) * time.Second
		}
	}

	return cfg, nil
}
