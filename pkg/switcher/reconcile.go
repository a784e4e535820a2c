package switcher

import (
	"context"
	"fmt"

	"modelswitchd/pkg/errors"
	"modelswitchd/pkg/log"
	"modelswitchd/pkg/models"
)

// Reconcile aligns the running containers with the persisted state, once,
// at startup. It is a single repair pass: anything it cannot fix in one
// step is surfaced through readiness rather than retried in a loop.
func (c *Controller) Reconcile(ctx context.Context) error {
	if !c.serializer.TryAcquire() {
		return fmt.Errorf("reconciliation could not run: %w", errors.ErrBusy)
	}
	defer c.serializer.Release()

	logger := log.GetLogger(ctx)
	logger.Info("reconciling persisted state against running containers")

	persisted, err := c.ports.Store.Load(ctx)
	if err != nil {
		logger.WithError(err).Warn("persisted state unreadable, treating as fresh install")
		c.audit(ctx, "reconcile", ActorReconciler, "degraded", fmt.Sprintf("state unreadable: %v", err))

		persisted = nil
	}

	if persisted == nil {
		persisted = &models.ActiveState{
			ActiveProfile: c.catalog.DefaultProfile().ID,
			ActiveMode:    models.ModeServing,
		}
	}

	c.setActive(*persisted)

	var repairErr error
	if persisted.ActiveMode == models.ModeHeavy {
		repairErr = c.reconcileHeavy(ctx, persisted)
	} else {
		repairErr = c.reconcileServing(ctx, persisted)
	}

	c.mu.Lock()
	c.active.UpdatedAt = c.now()
	c.mu.Unlock()

	if err := c.persist(ctx); err != nil {
		logger.WithError(err).Error("failed to persist reconciled state")

		if repairErr == nil {
			repairErr = fmt.Errorf("persisting reconciled state: %w", err)
		}
	}

	if repairErr != nil {
		c.setReadiness(false, repairErr.Error())
		c.audit(ctx, "reconcile", ActorReconciler, "failed", repairErr.Error())
		logger.WithError(repairErr).Error("reconciliation left the node degraded")

		return repairErr
	}

	c.setReadiness(true, "")
	c.audit(ctx, "reconcile", ActorReconciler, "success", fmt.Sprintf("mode %s, profile %s", persisted.ActiveMode, persisted.ActiveProfile))

	return nil
}

// reconcileServing ensures exactly the expected backend runs and the
// routing pointer matches it. Strays, including the heavy workload, are
// stopped.
func (c *Controller) reconcileServing(ctx context.Context, persisted *models.ActiveState) error {
	logger := log.GetLogger(ctx)

	profile, err := c.catalog.Profile(persisted.ActiveProfile)
	if err != nil {
		return fmt.Errorf("persisted profile %q no longer in catalog: %w", persisted.ActiveProfile, err)
	}

	if err := c.stopStrays(ctx, profile.BackendService); err != nil {
		return err
	}

	status, err := c.ports.Driver.Status(ctx, profile.BackendService)
	if err != nil {
		return fmt.Errorf("probing %s: %w", profile.BackendService, err)
	}

	switch status {
	case models.StatusAbsent:
		// Containers are provisioned out of band, a missing one cannot be
		// repaired here.
		return fmt.Errorf("backend %s for active profile %s does not exist", profile.BackendService, profile.ID)
	case models.StatusStopped:
		logger.Infof("restarting stopped backend %s", profile.BackendService)

		if err := c.ports.Driver.Start(ctx, profile.BackendService); err != nil {
			return fmt.Errorf("restarting %s: %w", profile.BackendService, err)
		}
	case models.StatusUnhealthy:
		logger.Infof("restarting unhealthy backend %s", profile.BackendService)

		if err := c.ports.Driver.Restart(ctx, profile.BackendService); err != nil {
			return fmt.Errorf("restarting %s: %w", profile.BackendService, err)
		}
	}

	current, err := c.ports.Routing.Current(ctx)
	if err != nil {
		logger.WithError(err).Warn("could not read current routing pointer")
	}

	if current != profile.RoutingConfig {
		logger.Infof("repointing routing config %s -> %s", current, profile.RoutingConfig)

		if err := c.ports.Routing.Repoint(ctx, profile); err != nil {
			return fmt.Errorf("repairing routing pointer: %w", err)
		}

		if err := c.ports.Driver.Restart(ctx, c.catalog.GatewayService()); err != nil {
			logger.WithError(err).Warn("gateway reload after routing repair failed")
		}
	}

	return nil
}

// reconcileHeavy restores heavy mode when its lease is still live, or
// reverts to the default profile when the lease expired while the daemon
// was down.
func (c *Controller) reconcileHeavy(ctx context.Context, persisted *models.ActiveState) error {
	logger := log.GetLogger(ctx)

	lease := persisted.Lease()
	if lease == nil || lease.Expired(c.now()) {
		logger.Info("heavy lease expired while down, reverting to default profile")

		target := c.catalog.DefaultProfile()
		rec := c.newRecord(heavyName, target.ID)
		c.executeRelease(ctx, rec, target, ActorReconciler)

		rec, err := c.Record(rec.ID)
		if err != nil {
			return err
		}

		if rec.State != models.SwitchSucceeded {
			return fmt.Errorf("reverting expired heavy mode: %s", rec.Error)
		}

		return nil
	}

	heavyService := c.catalog.HeavyService()

	if err := c.stopStrays(ctx, heavyService); err != nil {
		return err
	}

	status, err := c.ports.Driver.Status(ctx, heavyService)
	if err != nil {
		return fmt.Errorf("probing %s: %w", heavyService, err)
	}

	switch status {
	case models.StatusAbsent:
		return fmt.Errorf("heavy workload %s does not exist", heavyService)
	case models.StatusStopped:
		logger.Infof("restarting heavy workload %s, lease still live", heavyService)

		if err := c.ports.Driver.Start(ctx, heavyService); err != nil {
			return fmt.Errorf("restarting %s: %w", heavyService, err)
		}
	case models.StatusUnhealthy:
		if err := c.ports.Driver.Restart(ctx, heavyService); err != nil {
			return fmt.Errorf("restarting %s: %w", heavyService, err)
		}
	}

	return nil
}

// stopStrays stops every managed backend except keep. The gateway is left
// alone; it runs in both modes.
func (c *Controller) stopStrays(ctx context.Context, keep string) error {
	logger := log.GetLogger(ctx)

	for _, service := range c.catalog.BackendServices() {
		if service == keep {
			continue
		}

		status, err := c.ports.Driver.Status(ctx, service)
		if err != nil {
			return fmt.Errorf("probing %s: %w", service, err)
		}

		if status == models.StatusAbsent || status == models.StatusStopped {
			continue
		}

		logger.Infof("stopping stray backend %s", service)

		if err := c.ports.Driver.Stop(ctx, service); err != nil {
			return fmt.Errorf("stopping stray %s: %w", service, err)
		}
	}

	heavyService := c.catalog.HeavyService()
	if keep == heavyService {
		return nil
	}

	status, err := c.ports.Driver.Status(ctx, heavyService)
	if err != nil {
		return fmt.Errorf("probing %s: %w", heavyService, err)
	}

	if status != models.StatusAbsent && status != models.StatusStopped {
		logger.Infof("stopping stray heavy workload %s", heavyService)

		if err := c.ports.Driver.Stop(ctx, heavyService); err != nil {
			return fmt.Errorf("stopping stray %s: %w", heavyService, err)
		}
	}

	return nil
}
