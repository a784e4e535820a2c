package switcher

import (
	"context"
	"fmt"
	"strings"
	"time"

	"modelswitchd/pkg/errors"
	"modelswitchd/pkg/log"
	"modelswitchd/pkg/models"
)

const (
	stepStopBackends  = "stop_backends"
	stepSwapRouting   = "swap_routing"
	stepStartBackend  = "start_backend"
	stepWaitHealthy   = "wait_healthy"
	stepReloadGateway = "reload_gateway"
	stepStopHeavy     = "stop_heavy"
	stepStartHeavy    = "start_heavy"
	stepRollback      = "rollback"
	stepRearmLease    = "rearm_lease"
)

// Switch performs (or starts) a transactional handoff to the target
// profile. With waitForReady the caller blocks until the record is
// terminal; otherwise the returned record is a queued acknowledgment and
// progress is observable through Record.
func (c *Controller) Switch(ctx context.Context, targetID string, waitForReady bool) (*models.SwitchRecord, error) {
	if targetID == "" {
		return nil, errors.ErrTargetProfileMissing
	}

	target, err := c.catalog.Profile(targetID)
	if err != nil {
		return nil, err
	}

	if !c.serializer.TryAcquire() {
		c.metrics.busyTotal.Inc()

		return nil, errors.ErrBusy
	}

	// The active state is only read once the serializer is held; a snapshot
	// taken earlier could race a finishing operation.
	snapshot := c.State()

	// Idempotence: switching to the already-active, already-healthy
	// profile is a no-op with zero steps.
	if snapshot.ActiveMode == models.ModeServing && snapshot.ActiveProfile == targetID {
		status, statusErr := c.ports.Driver.Status(ctx, target.BackendService)
		if statusErr == nil && status == models.StatusHealthy {
			rec := c.newRecord(snapshot.ActiveProfile, targetID)
			c.finishRecord(rec, models.SwitchSucceeded, "", false)
			c.audit(ctx, "switch", ActorOperator, "noop", fmt.Sprintf("%s already active and healthy", targetID))
			c.serializer.Release()

			return rec.Clone(), nil
		}
	}

	rec := c.newRecord(snapshot.ActiveProfile, targetID)

	if waitForReady {
		c.runLocked(ctx, func(runCtx context.Context) {
			c.executeSwitch(runCtx, rec, target, ActorOperator)
		})

		return c.Record(rec.ID)
	}

	go c.runLocked(c.detach(ctx), func(runCtx context.Context) {
		c.executeSwitch(runCtx, rec, target, ActorOperator)
	})

	return rec.Clone(), nil
}

// runLocked runs fn and releases the serializer on every exit path. The
// serializer must already be held by the caller.
func (c *Controller) runLocked(ctx context.Context, fn func(context.Context)) {
	defer c.serializer.Release()
	fn(ctx)
}

// detach returns a context that carries the request's logger but not its
// cancellation: once a transition is running it must reach a terminal
// state, a disconnecting client cannot abort it.
func (c *Controller) detach(ctx context.Context) context.Context {
	return log.WithLogger(context.Background(), log.GetLogger(ctx))
}

// executeSwitch drives one handoff to its terminal state. The serializer
// must be held.
func (c *Controller) executeSwitch(ctx context.Context, rec *models.SwitchRecord, target models.WorkloadProfile, actor string) {
	logger := log.GetLogger(ctx).WithField("switch", rec.ID)
	logger.Infof("switching %s -> %s", rec.FromProfile, target.ID)

	c.markRunning(rec)

	swapped, err := c.handoff(ctx, rec, target)
	if err == nil {
		c.commitServing(ctx, rec, target, actor, "switch")
		c.metrics.switchDuration.Observe(c.now().Sub(rec.StartedAt).Seconds())

		return
	}

	if !swapped {
		// Nothing durable changed yet, abort without rollback.
		c.finishRecord(rec, models.SwitchFailed, err.Error(), false)
		c.audit(ctx, "switch", actor, "failed", err.Error())
		logger.WithError(err).Error("switch aborted before routing swap")

		return
	}

	c.rollback(ctx, rec, target, actor, err)
}

// handoff runs the forward path of the protocol: stop the other backends,
// swap the routing pointer, start the target, wait for health, reload the
// gateway. It reports whether the routing swap happened, which decides
// between abort and rollback on failure.
func (c *Controller) handoff(ctx context.Context, rec *models.SwitchRecord, target models.WorkloadProfile) (bool, error) {
	stopped := []string{}
	others := append(c.catalog.BackendServices(), c.catalog.HeavyService())

	for _, service := range others {
		if service == target.BackendService {
			continue
		}

		if err := c.ports.Driver.Stop(ctx, service); err != nil {
			return false, fmt.Errorf("stopping %s: %w", service, err)
		}

		stopped = append(stopped, service)
	}

	c.recordStep(rec, stepStopBackends, strings.Join(stopped, ", "))

	if err := c.ports.Routing.Repoint(ctx, target); err != nil {
		return false, fmt.Errorf("repointing routing config: %w", err)
	}

	c.recordStep(rec, stepSwapRouting, target.RoutingConfig)

	if err := c.ports.Driver.Start(ctx, target.BackendService); err != nil {
		return true, fmt.Errorf("starting %s: %w", target.BackendService, err)
	}

	c.recordStep(rec, stepStartBackend, target.BackendService)

	if err := c.waitHealthy(ctx, rec, target.BackendService); err != nil {
		return true, err
	}

	if err := c.ports.Driver.Restart(ctx, c.catalog.GatewayService()); err != nil {
		return true, fmt.Errorf("reloading gateway: %w", err)
	}

	c.recordStep(rec, stepReloadGateway, c.catalog.GatewayService())

	return true, nil
}

// commitServing persists the new serving state and closes the record.
func (c *Controller) commitServing(ctx context.Context, rec *models.SwitchRecord, target models.WorkloadProfile, actor, operation string) {
	c.finishRecord(rec, models.SwitchSucceeded, "", false)

	c.setActive(models.ActiveState{
		ActiveProfile: target.ID,
		ActiveMode:    models.ModeServing,
		LastSwitch:    c.lastSwitchOf(rec),
		UpdatedAt:     c.now(),
	})

	if err := c.persist(ctx); err != nil {
		log.GetLogger(ctx).WithError(err).Error("failed to persist active state after successful handoff")
		c.setReadiness(false, fmt.Sprintf("state not persisted: %v", err))
	} else {
		c.setReadiness(true, "")
	}

	c.audit(ctx, operation, actor, "success", fmt.Sprintf("%s -> %s", rec.FromProfile, target.ID))
}

// rollback repoints the routing reference back at the previous profile and
// restarts its backend. A rollback whose own restart fails is the one case
// the engine cannot self-heal; it is flagged for manual intervention.
func (c *Controller) rollback(ctx context.Context, rec *models.SwitchRecord, target models.WorkloadProfile, actor string, cause error) {
	logger := log.GetLogger(ctx).WithField("switch", rec.ID)
	logger.WithError(cause).Warn("handoff failed after routing swap, rolling back")

	previous, err := c.catalog.Profile(rec.FromProfile)
	if err != nil {
		// No previous profile to return to (first switch ever).
		c.finishRecord(rec, models.SwitchFailed, cause.Error(), true)
		c.audit(ctx, "switch", actor, "failed", fmt.Sprintf("no rollback target: %v", cause))

		return
	}

	c.recordStep(rec, stepRollback, fmt.Sprintf("reverting to %s: %v", previous.ID, cause))

	if err := c.ports.Driver.Stop(ctx, target.BackendService); err != nil {
		logger.WithError(err).Warnf("failed to stop %s during rollback", target.BackendService)
	}

	if err := c.ports.Routing.Repoint(ctx, previous); err != nil {
		manual := errors.ManualInterventionError{Service: previous.BackendService, Cause: err}
		c.finishRecord(rec, models.SwitchFailed, fmt.Sprintf("%v; %v", cause, manual), true)
		c.audit(ctx, "switch", actor, "failed", manual.Error())

		return
	}

	if err := c.ports.Driver.Start(ctx, previous.BackendService); err != nil {
		manual := errors.ManualInterventionError{Service: previous.BackendService, Cause: err}
		c.finishRecord(rec, models.SwitchFailed, fmt.Sprintf("%v; %v", cause, manual), true)
		c.audit(ctx, "switch", actor, "failed", manual.Error())
		logger.WithError(err).Error("rollback restart failed, manual intervention required")

		return
	}

	c.finishRecord(rec, models.SwitchRolledBack, cause.Error(), false)

	// The node now serves the previous profile again, whatever mode it was
	// in before: a rollback out of heavy mode must not leave a heavy lease
	// behind with no heavy workload running.
	c.setActive(models.ActiveState{
		ActiveProfile: previous.ID,
		ActiveMode:    models.ModeServing,
		LastSwitch:    c.lastSwitchOf(rec),
		UpdatedAt:     c.now(),
	})

	if err := c.persist(ctx); err != nil {
		logger.WithError(err).Warn("failed to persist state after rollback")
	}

	c.audit(ctx, "switch", actor, "rolled_back", cause.Error())
}

// waitHealthy polls the backend at a fixed interval until it reports
// healthy, fails fast when it exits or turns unhealthy, and gives up after
// the bounded timeout.
func (c *Controller) waitHealthy(ctx context.Context, rec *models.SwitchRecord, service string) error {
	started := c.now()
	deadline := started.Add(c.cfg.HealthTimeout)
	last := models.StatusAbsent

	for {
		status, err := c.ports.Driver.Status(ctx, service)
		if err != nil {
			log.GetLogger(ctx).WithError(err).Warnf("health probe of %s failed", service)
		} else {
			last = status
		}

		switch status {
		case models.StatusHealthy:
			c.recordStep(rec, stepWaitHealthy, fmt.Sprintf("%s healthy after %s", service, c.now().Sub(started).Round(time.Second)))

			return nil
		case models.StatusUnhealthy, models.StatusStopped:
			return fmt.Errorf("backend %s is %s", service, status)
		}

		if !c.now().Before(deadline) {
			return errors.HealthTimeoutError{
				Service:    service,
				Elapsed:    c.now().Sub(started),
				LastStatus: string(last),
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.cfg.PollInterval):
		}
	}
}
