// Command worker runs a single execution agent: it registers with the
// orchestrator, heartbeats, and polls for fragments to run.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/chainforge/fleetci/internal/logger"
	"github.com/chainforge/fleetci/internal/workerclient"
)

func main() {
	cfg, err := workerclient.LoadRuntimeConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{Level: "info", Format: "json"})
	logger.SetDefault(log)

	client := workerclient.New(cfg.OrchestratorURL, workerclient.Config{Timeout: cfg.RequestTimeout})
	runtime := workerclient.NewRuntime(client, cfg, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-shutdown
		log.Info("shutdown initiated", "signal", sig.String())
		runtime.Stop()
	}()

	log.Info("worker starting", "orchestrator_url", cfg.OrchestratorURL, "machine_group", cfg.MachineGroup)

	if err := runtime.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "worker exited with error: %v\n", err)
		os.Exit(1)
	}

	log.Info("worker stopped")
}
