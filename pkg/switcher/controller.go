package switcher

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"modelswitchd/pkg/catalog"
	"modelswitchd/pkg/defaults"
	"modelswitchd/pkg/errors"
	"modelswitchd/pkg/log"
	"modelswitchd/pkg/models"
	"modelswitchd/pkg/ports"
)

// Actor names recorded in the audit trail for self-initiated operations.
const (
	ActorOperator    = "operator"
	ActorLeaseExpiry = "lease-expiry"
	ActorReconciler  = "reconciler"
)

type Config struct {
	// HealthTimeout bounds every wait for a backend to become healthy.
	HealthTimeout time.Duration
	// PollInterval is the pause between health probes.
	PollInterval time.Duration
	// ExpiryInterval is how often the lease-expiry check runs.
	ExpiryInterval time.Duration
	// HeavyTTLMinutes is used when an enter-heavy request carries no TTL.
	HeavyTTLMinutes int
}

func (c *Config) withDefaults() Config {
	cfg := *c
	if cfg.HealthTimeout == 0 {
		cfg.HealthTimeout = defaults.HealthTimeout
	}

	if cfg.PollInterval == 0 {
		cfg.PollInterval = defaults.PollInterval
	}

	if cfg.ExpiryInterval == 0 {
		cfg.ExpiryInterval = defaults.ExpiryInterval
	}

	if cfg.HeavyTTLMinutes == 0 {
		cfg.HeavyTTLMinutes = defaults.HeavyTTLMinutes
	}

	return cfg
}

// Controller owns the ActiveState and performs every control operation.
// All mutations happen while the Serializer is held; the small mutex only
// protects snapshot reads against in-flight writers.
type Controller struct {
	cfg        Config
	catalog    *catalog.Catalog
	ports      *ports.Collection
	serializer *Serializer
	metrics    *metrics

	mu        sync.RWMutex
	active    models.ActiveState
	records   map[string]*models.SwitchRecord
	currentID string
	lastID    string
	ready     bool
	lastError string
}

func New(cfg Config, cat *catalog.Catalog, collection *ports.Collection, reg prometheus.Registerer) *Controller {
	if collection.Clock == nil {
		collection.Clock = time.Now
	}

	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	return &Controller{
		cfg:        cfg.withDefaults(),
		catalog:    cat,
		ports:      collection,
		serializer: NewSerializer(),
		metrics:    newMetrics(reg),
		records:    map[string]*models.SwitchRecord{},
	}
}

func (c *Controller) now() time.Time {
	return c.ports.Clock()
}

// State returns a copy of the current active state.
func (c *Controller) State() models.ActiveState {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.active
}

// Busy reports whether a control operation is in flight.
func (c *Controller) Busy() bool {
	return c.serializer.Held()
}

// Record returns a copy of the switch record with the given id.
func (c *Controller) Record(id string) (*models.SwitchRecord, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	rec, ok := c.records[id]
	if !ok {
		return nil, errors.ErrRecordNotFound
	}

	return rec.Clone(), nil
}

// CurrentOrLastRecord returns the in-flight record if one exists, else the
// most recently finished one.
func (c *Controller) CurrentOrLastRecord() *models.SwitchRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.currentID != "" {
		return c.records[c.currentID].Clone()
	}

	if c.lastID != "" {
		return c.records[c.lastID].Clone()
	}

	return nil
}

func (c *Controller) newRecord(from, to string) *models.SwitchRecord {
	now := c.now()
	rec := &models.SwitchRecord{
		ID:          uuid.NewString(),
		State:       models.SwitchQueued,
		FromProfile: from,
		ToProfile:   to,
		Steps:       []models.SwitchStep{},
		StartedAt:   now,
		UpdatedAt:   now,
	}

	c.mu.Lock()
	c.records[rec.ID] = rec
	c.currentID = rec.ID
	c.mu.Unlock()

	return rec
}

func (c *Controller) markRunning(rec *models.SwitchRecord) {
	c.mu.Lock()
	rec.State = models.SwitchRunning
	rec.UpdatedAt = c.now()
	c.mu.Unlock()
}

func (c *Controller) recordStep(rec *models.SwitchRecord, name, detail string) {
	c.mu.Lock()
	rec.Steps = append(rec.Steps, models.SwitchStep{At: c.now(), Name: name, Detail: detail})
	rec.UpdatedAt = c.now()
	c.mu.Unlock()
}

func (c *Controller) finishRecord(rec *models.SwitchRecord, state models.SwitchState, errMsg string, needsIntervention bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	rec.State = state
	rec.Error = errMsg
	rec.NeedsIntervention = needsIntervention
	rec.UpdatedAt = now
	rec.FinishedAt = &now
	rec.DurationMs = now.Sub(rec.StartedAt).Milliseconds()

	if c.currentID == rec.ID {
		c.currentID = ""
	}

	c.lastID = rec.ID
}

func (c *Controller) lastSwitchOf(rec *models.SwitchRecord) *models.LastSwitch {
	c.mu.RLock()
	defer c.mu.RUnlock()

	finished := rec.UpdatedAt
	if rec.FinishedAt != nil {
		finished = *rec.FinishedAt
	}

	return &models.LastSwitch{
		ID:          rec.ID,
		State:       rec.State,
		FromProfile: rec.FromProfile,
		ToProfile:   rec.ToProfile,
		FinishedAt:  finished,
	}
}

func (c *Controller) setActive(state models.ActiveState) {
	c.mu.Lock()
	c.active = state
	c.mu.Unlock()

	if state.ActiveMode == models.ModeHeavy {
		c.metrics.heavyMode.Set(1)
	} else {
		c.metrics.heavyMode.Set(0)
	}
}

func (c *Controller) setReadiness(ready bool, lastError string) {
	c.mu.Lock()
	c.ready = ready
	c.lastError = lastError
	c.mu.Unlock()
}

func (c *Controller) audit(ctx context.Context, operation, actor, outcome, detail string) {
	entry := models.AuditEntry{
		Timestamp: c.now(),
		Operation: operation,
		Actor:     actor,
		Outcome:   outcome,
		Detail:    detail,
	}

	if err := c.ports.Audit.Append(ctx, entry); err != nil {
		log.GetLogger(ctx).WithError(err).Warnf("failed to append audit entry for %s", operation)
	}

	c.metrics.operationsTotal.WithLabelValues(operation, outcome).Inc()
}

// persist writes the in-memory active state through the store. Persistence
// failures are reported but never crash an otherwise finished transition.
func (c *Controller) persist(ctx context.Context) error {
	snapshot := c.State()

	return c.ports.Store.Save(ctx, &snapshot)
}
