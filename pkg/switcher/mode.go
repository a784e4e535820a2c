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
	// heavyName is the pseudo-profile name used in switch records for the
	// heavy workload, which lives outside the catalog.
	heavyName = "heavy"

	minTTLMinutes = 1
	maxTTLMinutes = 90
)

func (c *Controller) clampTTL(ttlMinutes int) time.Duration {
	if ttlMinutes <= 0 {
		ttlMinutes = c.cfg.HeavyTTLMinutes
	}

	if ttlMinutes < minTTLMinutes {
		ttlMinutes = minTTLMinutes
	}

	if ttlMinutes > maxTTLMinutes {
		ttlMinutes = maxTTLMinutes
	}

	return time.Duration(ttlMinutes) * time.Minute
}

// EnterHeavy hands the accelerator to the heavy workload under a lease of
// ttlMinutes (clamped to [1,90]). Re-entering from heavy mode re-arms the
// lease timer without touching any backend.
func (c *Controller) EnterHeavy(ctx context.Context, ttlMinutes int, waitForReady bool) (*models.SwitchRecord, error) {
	ttl := c.clampTTL(ttlMinutes)

	if !c.serializer.TryAcquire() {
		c.metrics.busyTotal.Inc()

		return nil, errors.ErrBusy
	}

	// Mode is decided on state read under the serializer, never on an
	// earlier snapshot.
	snapshot := c.State()

	if snapshot.ActiveMode == models.ModeHeavy {
		defer c.serializer.Release()

		return c.rearmLease(ctx, ttl)
	}

	rec := c.newRecord(snapshot.ActiveProfile, heavyName)

	if waitForReady {
		c.runLocked(ctx, func(runCtx context.Context) {
			c.executeEnterHeavy(runCtx, rec, ttl)
		})

		return c.Record(rec.ID)
	}

	go c.runLocked(c.detach(ctx), func(runCtx context.Context) {
		c.executeEnterHeavy(runCtx, rec, ttl)
	})

	return rec.Clone(), nil
}

// rearmLease resets the lease timer in place. The serializer must be held.
func (c *Controller) rearmLease(ctx context.Context, ttl time.Duration) (*models.SwitchRecord, error) {
	expires := c.now().Add(ttl)

	c.mu.Lock()
	c.active.LeaseExpiresAt = &expires
	c.active.UpdatedAt = c.now()
	c.mu.Unlock()

	rec := c.newRecord(heavyName, heavyName)
	c.recordStep(rec, stepRearmLease, expires.Format(time.RFC3339))

	if err := c.persist(ctx); err != nil {
		c.finishRecord(rec, models.SwitchFailed, err.Error(), false)
		c.audit(ctx, "mode.enter_heavy", ActorOperator, "failed", err.Error())

		return nil, fmt.Errorf("persisting re-armed lease: %w", err)
	}

	c.finishRecord(rec, models.SwitchSucceeded, "", false)
	c.audit(ctx, "mode.enter_heavy", ActorOperator, "rearmed", fmt.Sprintf("lease now expires %s", expires.Format(time.RFC3339)))

	return rec.Clone(), nil
}

// executeEnterHeavy drives the serving -> heavy transition. The serializer
// must be held. A health timeout leaves no partial heavy state behind: the
// heavy backend is stopped and the previous profile restarted.
func (c *Controller) executeEnterHeavy(ctx context.Context, rec *models.SwitchRecord, ttl time.Duration) {
	logger := log.GetLogger(ctx).WithField("switch", rec.ID)
	heavyService := c.catalog.HeavyService()

	logger.Infof("entering heavy mode on %s, lease %s", heavyService, ttl)

	c.markRunning(rec)

	stopped := []string{}

	for _, service := range c.catalog.BackendServices() {
		if err := c.ports.Driver.Stop(ctx, service); err != nil {
			c.finishRecord(rec, models.SwitchFailed, err.Error(), false)
			c.audit(ctx, "mode.enter_heavy", ActorOperator, "failed", err.Error())

			return
		}

		stopped = append(stopped, service)
	}

	c.recordStep(rec, stepStopBackends, strings.Join(stopped, ", "))

	if err := c.ports.Driver.Start(ctx, heavyService); err != nil {
		c.abortEnterHeavy(ctx, rec, err)

		return
	}

	c.recordStep(rec, stepStartHeavy, heavyService)

	if err := c.waitHealthy(ctx, rec, heavyService); err != nil {
		if stopErr := c.ports.Driver.Stop(ctx, heavyService); stopErr != nil {
			logger.WithError(stopErr).Warnf("failed to stop %s while aborting", heavyService)
		}

		c.abortEnterHeavy(ctx, rec, err)

		return
	}

	expires := c.now().Add(ttl)

	c.finishRecord(rec, models.SwitchSucceeded, "", false)

	c.setActive(models.ActiveState{
		ActiveProfile:  rec.FromProfile,
		ActiveMode:     models.ModeHeavy,
		LeaseExpiresAt: &expires,
		LastSwitch:     c.lastSwitchOf(rec),
		UpdatedAt:      c.now(),
	})

	if err := c.persist(ctx); err != nil {
		logger.WithError(err).Error("failed to persist heavy state")
	}

	c.audit(ctx, "mode.enter_heavy", ActorOperator, "success", fmt.Sprintf("lease expires %s", expires.Format(time.RFC3339)))
}

// abortEnterHeavy restores the previous serving backend after a failed
// heavy start, mirroring a failed switch.
func (c *Controller) abortEnterHeavy(ctx context.Context, rec *models.SwitchRecord, cause error) {
	logger := log.GetLogger(ctx).WithField("switch", rec.ID)
	logger.WithError(cause).Warn("heavy mode entry failed, restoring previous backend")

	previous, err := c.catalog.Profile(rec.FromProfile)
	if err != nil {
		c.finishRecord(rec, models.SwitchFailed, cause.Error(), true)
		c.audit(ctx, "mode.enter_heavy", ActorOperator, "failed", fmt.Sprintf("no profile to restore: %v", cause))

		return
	}

	c.recordStep(rec, stepRollback, fmt.Sprintf("restoring %s: %v", previous.ID, cause))

	if err := c.ports.Driver.Start(ctx, previous.BackendService); err != nil {
		manual := errors.ManualInterventionError{Service: previous.BackendService, Cause: err}
		c.finishRecord(rec, models.SwitchFailed, fmt.Sprintf("%v; %v", cause, manual), true)
		c.audit(ctx, "mode.enter_heavy", ActorOperator, "failed", manual.Error())

		return
	}

	c.finishRecord(rec, models.SwitchRolledBack, cause.Error(), false)
	c.audit(ctx, "mode.enter_heavy", ActorOperator, "rolled_back", cause.Error())
}

// Release leaves heavy mode and hands the accelerator back to a serving
// profile. A manual release always preempts the lease, however much time
// remains.
func (c *Controller) Release(ctx context.Context, targetID string, waitForReady bool) (*models.SwitchRecord, error) {
	return c.release(ctx, targetID, waitForReady, ActorOperator)
}

func (c *Controller) release(ctx context.Context, targetID string, waitForReady bool, actor string) (*models.SwitchRecord, error) {
	if targetID == "" {
		targetID = c.catalog.DefaultProfile().ID
	}

	target, err := c.catalog.Profile(targetID)
	if err != nil {
		return nil, err
	}

	if !c.serializer.TryAcquire() {
		c.metrics.busyTotal.Inc()

		return nil, errors.ErrBusy
	}

	// The heavy-mode guard runs under the serializer: a release racing a
	// finishing transition must see its final state.
	if snapshot := c.State(); snapshot.ActiveMode != models.ModeHeavy {
		c.serializer.Release()

		return nil, errors.ErrNotInHeavyMode
	}

	rec := c.newRecord(heavyName, target.ID)

	if waitForReady {
		c.runLocked(ctx, func(runCtx context.Context) {
			c.executeRelease(runCtx, rec, target, actor)
		})

		return c.Record(rec.ID)
	}

	go c.runLocked(c.detach(ctx), func(runCtx context.Context) {
		c.executeRelease(runCtx, rec, target, actor)
	})

	return rec.Clone(), nil
}

// executeRelease drives the heavy -> serving transition. The serializer
// must be held. On failure the persisted mode stays heavy so the expiry
// check keeps retrying the reversion.
func (c *Controller) executeRelease(ctx context.Context, rec *models.SwitchRecord, target models.WorkloadProfile, actor string) {
	logger := log.GetLogger(ctx).WithField("switch", rec.ID)
	logger.Infof("releasing heavy mode, returning to %s", target.ID)

	c.markRunning(rec)

	if err := c.ports.Driver.Stop(ctx, c.catalog.HeavyService()); err != nil {
		c.finishRecord(rec, models.SwitchFailed, err.Error(), false)
		c.audit(ctx, "mode.release", actor, "failed", err.Error())

		return
	}

	c.recordStep(rec, stepStopHeavy, c.catalog.HeavyService())

	if _, err := c.handoff(ctx, rec, target); err != nil {
		c.finishRecord(rec, models.SwitchFailed, err.Error(), false)
		c.audit(ctx, "mode.release", actor, "failed", err.Error())
		logger.WithError(err).Error("reversion to serving failed, heavy mode bookkeeping retained for retry")

		return
	}

	c.commitServing(ctx, rec, target, actor, "mode.release")
}

// RunExpiryLoop periodically checks the lease and reverts to the default
// profile once it has expired. The check competes for the serializer like
// any other operation; contention just defers it to the next tick.
func (c *Controller) RunExpiryLoop(ctx context.Context) {
	logger := log.GetLogger(ctx)
	ticker := time.NewTicker(c.cfg.ExpiryInterval)

	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Debug("lease-expiry loop stopping")

			return
		case <-ticker.C:
			c.checkLeaseExpiry(ctx)
		}
	}
}

func (c *Controller) checkLeaseExpiry(ctx context.Context) {
	if !c.serializer.TryAcquire() {
		log.GetLogger(ctx).Debug("expiry check skipped, an operation is in flight")

		return
	}

	// The lease is inspected only while the serializer is held. A tick that
	// raced a manual release would otherwise revert the node to the default
	// profile right after the operator picked a different one.
	snapshot := c.State()

	lease := snapshot.Lease()
	if snapshot.ActiveMode != models.ModeHeavy || lease == nil || !lease.Expired(c.now()) {
		c.serializer.Release()

		return
	}

	logger := log.GetLogger(ctx)
	logger.Infof("heavy lease expired at %s, reverting to default profile", lease.ExpiresAt.Format(time.RFC3339))

	target := c.catalog.DefaultProfile()

	rec := c.newRecord(heavyName, target.ID)
	c.runLocked(ctx, func(runCtx context.Context) {
		c.executeRelease(runCtx, rec, target, ActorLeaseExpiry)
	})
}
