package switcher

import (
	"context"
	"strings"
	"time"

	"modelswitchd/pkg/errors"
	"modelswitchd/pkg/log"
	"modelswitchd/pkg/models"
)

// LeaseView is the wire shape of the heavy-mode lease.
type LeaseView struct {
	ExpiresAt        string `json:"expires_at"`
	RemainingSeconds int64  `json:"remaining_seconds"`
	Expired          bool   `json:"expired"`
}

// BackendHealth is one managed container's live view.
type BackendHealth struct {
	Service string `json:"service"`
	Exists  bool   `json:"exists"`
	Health  string `json:"health"`
}

// StatusDocument is the full point-in-time view served to operators.
type StatusDocument struct {
	ActiveProfile    string                   `json:"active_profile"`
	ActiveMode       models.Mode              `json:"active_mode"`
	RunningServices  []string                 `json:"running_services"`
	Lease            *LeaseView               `json:"lease,omitempty"`
	Switch           *models.SwitchRecord     `json:"switch,omitempty"`
	SwitchInProgress bool                     `json:"switch_in_progress"`
	Backends         map[string]BackendHealth `json:"backends"`
	Ready            bool                     `json:"ready"`
	LastError        string                   `json:"last_error,omitempty"`
}

// Status inspects every managed container and combines the result with the
// controller's bookkeeping.
func (c *Controller) Status(ctx context.Context) (*StatusDocument, error) {
	snapshot := c.State()

	c.mu.RLock()
	ready := c.ready
	lastError := c.lastError
	c.mu.RUnlock()

	doc := &StatusDocument{
		ActiveProfile:    snapshot.ActiveProfile,
		ActiveMode:       snapshot.ActiveMode,
		RunningServices:  []string{},
		Switch:           c.CurrentOrLastRecord(),
		SwitchInProgress: c.Busy(),
		Backends:         map[string]BackendHealth{},
		Ready:            ready,
		LastError:        lastError,
	}

	if lease := snapshot.Lease(); lease != nil {
		now := c.now()
		doc.Lease = &LeaseView{
			ExpiresAt:        lease.ExpiresAt.UTC().Format(time.RFC3339),
			RemainingSeconds: int64(lease.Remaining(now).Seconds()),
			Expired:          lease.Expired(now),
		}
	}

	for _, service := range c.catalog.ManagedServices() {
		status, err := c.ports.Driver.Status(ctx, service)
		if err != nil {
			log.GetLogger(ctx).WithError(err).Warnf("status probe of %s failed", service)
			status = models.StatusAbsent
		}

		doc.Backends[service] = BackendHealth{
			Service: service,
			Exists:  status != models.StatusAbsent,
			Health:  string(status),
		}

		switch status {
		case models.StatusHealthy, models.StatusStarting, models.StatusUnhealthy:
			doc.RunningServices = append(doc.RunningServices, service)
		}
	}

	return doc, nil
}

// Ready reports whether the node should receive traffic: reconciliation
// succeeded, the node is serving, and the active backend answers healthy
// right now. Heavy mode is deliberately not ready.
func (c *Controller) Ready(ctx context.Context) (bool, string) {
	c.mu.RLock()
	ready := c.ready
	lastError := c.lastError
	c.mu.RUnlock()

	if !ready {
		return false, lastError
	}

	snapshot := c.State()
	if snapshot.ActiveMode != models.ModeServing {
		return false, "heavy mode active"
	}

	profile, err := c.catalog.Profile(snapshot.ActiveProfile)
	if err != nil {
		return false, err.Error()
	}

	status, err := c.ports.Driver.Status(ctx, profile.BackendService)
	if err != nil {
		return false, err.Error()
	}

	if status != models.StatusHealthy {
		return false, "backend " + profile.BackendService + " is " + string(status)
	}

	return true, ""
}

// StopAll stops every managed workload without touching the persisted
// bookkeeping, for maintenance windows. The next switch or reconcile brings
// the node back.
func (c *Controller) StopAll(ctx context.Context, actor string) error {
	if !c.serializer.TryAcquire() {
		c.metrics.busyTotal.Inc()

		return errors.ErrBusy
	}
	defer c.serializer.Release()

	logger := log.GetLogger(ctx)
	stopped := []string{}

	services := append(c.catalog.BackendServices(), c.catalog.HeavyService())
	for _, service := range services {
		if err := c.ports.Driver.Stop(ctx, service); err != nil {
			c.audit(ctx, "stop_all", actor, "failed", err.Error())

			return err
		}

		stopped = append(stopped, service)
	}

	logger.Infof("stopped all managed workloads: %s", strings.Join(stopped, ", "))
	c.audit(ctx, "stop_all", actor, "success", strings.Join(stopped, ", "))

	return nil
}

// Logs returns the recent log tail of a managed service. Only services the
// catalog manages can be read.
func (c *Controller) Logs(ctx context.Context, service string, tail int) (string, error) {
	if !c.catalog.Managed(service) {
		return "", errors.ErrServiceNotAllowed
	}

	return c.ports.Driver.Logs(ctx, service, tail)
}
