// Command controller runs the fleet controller: it polls the orchestrator's
// queue-metrics endpoint and scales a Kubernetes Deployment of workers to
// match observed demand.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/chainforge/fleetci/internal/fleet"
	"github.com/chainforge/fleetci/internal/logger"
)

// dryRunScaler wraps a DeploymentScaler and logs scale decisions instead of
// applying them, for operators validating TARGET_PENDING_PER_WORKER and
// replica bounds against real traffic before trusting the controller to act.
type dryRunScaler struct {
	inner fleet.DeploymentScaler
	log   *logger.Logger
}

func (d *dryRunScaler) CurrentReplicas(ctx context.Context) (int32, error) {
	return d.inner.CurrentReplicas(ctx)
}

func (d *dryRunScaler) Scale(ctx context.Context, replicas int32) error {
	d.log.Info("dry-run: would scale deployment", "replicas", replicas)
	return nil
}

func main() {
	dryRun := flag.Bool("dry-run", false, "log scaling decisions without applying them")
	flag.Parse()

	cfg, err := fleet.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{Level: "info", Format: "json"})
	logger.SetDefault(log)

	scaler, err := fleet.NewK8sScaler(cfg.Namespace, cfg.DeploymentName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build kubernetes client: %v\n", err)
		os.Exit(1)
	}

	var deploymentScaler fleet.DeploymentScaler = scaler
	if *dryRun {
		deploymentScaler = &dryRunScaler{inner: scaler, log: log}
		log.Info("dry-run mode enabled: scaling decisions will be logged, not applied")
	}

	metricsClient := fleet.NewMetricsClient(cfg.OrchestratorURL, cfg.MachineGroup, 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	controller, err := fleet.NewController(ctx, cfg, metricsClient, deploymentScaler)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start fleet controller: %v\n", err)
		os.Exit(1)
	}

	log.Info("fleet controller starting",
		"deployment", cfg.DeploymentName,
		"namespace", cfg.Namespace,
		"min_replicas", cfg.MinReplicas,
		"max_replicas", cfg.MaxReplicas,
		"poll_interval", cfg.PollInterval.String(),
	)

	go controller.Run()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	sig := <-shutdown

	log.Info("shutdown initiated", "signal", sig.String())
	controller.Stop()
	log.Info("fleet controller stopped")
}
