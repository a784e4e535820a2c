package run

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	cmdflags "modelswitchd/internal/command/flags"
	"modelswitchd/internal/config"
	"modelswitchd/pkg/api"
	"modelswitchd/pkg/audit"
	"modelswitchd/pkg/catalog"
	"modelswitchd/pkg/driver"
	"modelswitchd/pkg/flags"
	"modelswitchd/pkg/log"
	"modelswitchd/pkg/ports"
	"modelswitchd/pkg/routing"
	"modelswitchd/pkg/state"
	"modelswitchd/pkg/switcher"
)

func NewCommand(cfg *config.Config) (*cobra.Command, error) {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the model-switch controller daemon",
		PreRunE: func(c *cobra.Command, _ []string) error {
			flags.BindCommandToViper(c)

			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), cfg)
		},
	}

	cmdflags.AddCatalogFlagsToCommand(cmd, cfg)
	cmdflags.AddHTTPServerFlagsToCommand(cmd, cfg)
	cmdflags.AddEngineFlagsToCommand(cmd, cfg)

	if err := cmdflags.AddHiddenFlagsToCommand(cmd, cfg); err != nil {
		return nil, fmt.Errorf("adding hidden flags: %w", err)
	}

	return cmd, nil
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := log.GetLogger(ctx)
	logger.Info("starting modelswitchd")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(log.WithLogger(ctx, logger))
	defer cancel()

	cat, err := catalog.Load(cfg.CatalogFile)
	if err != nil {
		return fmt.Errorf("loading catalog: %w", err)
	}

	auditLog, err := audit.NewFileLog(cfg.AuditFile)
	if err != nil {
		return fmt.Errorf("opening audit log: %w", err)
	}
	defer auditLog.Close()

	dockerDriver, err := driver.NewDockerDriver()
	if err != nil {
		return fmt.Errorf("connecting to container runtime: %w", err)
	}

	collection := &ports.Collection{
		Driver:  dockerDriver,
		Store:   state.NewFileStore(cfg.StateFile),
		Audit:   auditLog,
		Routing: routing.NewLinkSwapper(cat.RoutingDir(), filepath.Base(cat.ActiveLinkPath())),
		Clock:   time.Now,
	}

	registry := prometheus.NewRegistry()

	controller := switcher.New(switcher.Config{
		HealthTimeout:   cfg.HealthTimeout,
		PollInterval:    cfg.PollInterval,
		ExpiryInterval:  cfg.ExpiryInterval,
		HeavyTTLMinutes: cfg.HeavyTTLMinutes,
	}, cat, collection, registry)

	if !cfg.DisableReconcile {
		if err := controller.Reconcile(ctx); err != nil {
			// A degraded node still serves its API so the operator can see
			// what is wrong and repair it.
			logger.WithError(err).Error("startup reconciliation failed")
		}
	}

	wg := &sync.WaitGroup{}

	wg.Add(1)

	go func() {
		defer wg.Done()
		controller.RunExpiryLoop(ctx)
	}()

	if !cfg.DisableAPI {
		server := api.NewServer(api.Config{
			BindAddr:            cfg.HTTPBindAddr,
			AuthToken:           cfg.AuthToken,
			SwitchRatePerMinute: cfg.SwitchRatePerMinute,
		}, controller, cat, registry)

		wg.Add(1)

		go func() {
			defer wg.Done()

			if err := server.Run(ctx); err != nil {
				logger.Errorf("admin API failed: %v", err)
				cancel()
			}
		}()
	}

	select {
	case <-sigChan:
		logger.Debug("shutdown signal received, waiting for work to finish")
	case <-ctx.Done():
	}

	cancel()
	wg.Wait()

	logger.Info("finished all tasks, exiting")

	return nil
}
