package switcher_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"modelswitchd/pkg/catalog"
	"modelswitchd/pkg/errors"
	"modelswitchd/pkg/models"
	"modelswitchd/pkg/ports"
	"modelswitchd/pkg/switcher"
)

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()

	cfg := catalog.Config{
		DefaultProfile: "fast",
		Profiles: []models.WorkloadProfile{
			{ID: "fast", BackendService: "vllm-fast", RoutingConfig: "routing.fast.yml"},
			{ID: "quality", BackendService: "vllm-quality", RoutingConfig: "routing.quality.yml"},
		},
	}
	cfg.Gateway.Service = "litellm"
	cfg.Gateway.RoutingDir = t.TempDir()
	cfg.Gateway.ActiveLink = "routing-active.yml"
	cfg.Heavy.Service = "comfyui"

	cat, err := catalog.New(cfg)
	if err != nil {
		t.Fatal(err)
	}

	return cat
}

type fakeDriver struct {
	mu sync.Mutex

	states map[string]models.ServiceStatus
	// pending makes the next N Status probes of a service report starting.
	pending map[string]int
	// stuck pins the post-Start state of a service instead of healthy.
	stuck      map[string]models.ServiceStatus
	startErr   map[string]error
	stopErr    map[string]error
	restartErr map[string]error
	logs       map[string]string
	// blockStop, when set, makes Stop wait until the channel closes.
	blockStop chan struct{}

	started   []string
	stopped   []string
	restarted []string
}

func newFakeDriver(initial map[string]models.ServiceStatus) *fakeDriver {
	states := map[string]models.ServiceStatus{}
	for service, status := range initial {
		states[service] = status
	}

	return &fakeDriver{
		states:     states,
		pending:    map[string]int{},
		stuck:      map[string]models.ServiceStatus{},
		startErr:   map[string]error{},
		stopErr:    map[string]error{},
		restartErr: map[string]error{},
		logs:       map[string]string{},
	}
}

func (d *fakeDriver) Start(_ context.Context, service string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.startErr[service]; err != nil {
		return err
	}

	status, ok := d.states[service]
	if !ok || status == models.StatusAbsent {
		return errors.NewBackendAbsent(service)
	}

	d.started = append(d.started, service)

	if stuck, ok := d.stuck[service]; ok {
		d.states[service] = stuck
	} else {
		d.states[service] = models.StatusHealthy
	}

	return nil
}

func (d *fakeDriver) Stop(_ context.Context, service string) error {
	d.mu.Lock()
	block := d.blockStop
	d.mu.Unlock()

	if block != nil {
		<-block
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.stopErr[service]; err != nil {
		return err
	}

	status, ok := d.states[service]
	if !ok || status == models.StatusAbsent || status == models.StatusStopped {
		return nil
	}

	d.stopped = append(d.stopped, service)
	d.states[service] = models.StatusStopped

	return nil
}

func (d *fakeDriver) Restart(_ context.Context, service string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.restartErr[service]; err != nil {
		return err
	}

	status, ok := d.states[service]
	if !ok || status == models.StatusAbsent {
		return errors.NewBackendAbsent(service)
	}

	d.restarted = append(d.restarted, service)

	if stuck, ok := d.stuck[service]; ok {
		d.states[service] = stuck
	} else {
		d.states[service] = models.StatusHealthy
	}

	return nil
}

func (d *fakeDriver) Status(_ context.Context, service string) (models.ServiceStatus, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.pending[service] > 0 {
		d.pending[service]--

		return models.StatusStarting, nil
	}

	status, ok := d.states[service]
	if !ok {
		return models.StatusAbsent, nil
	}

	return status, nil
}

func (d *fakeDriver) Logs(_ context.Context, service string, _ int) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.logs[service], nil
}

func (d *fakeDriver) statusOf(service string) models.ServiceStatus {
	d.mu.Lock()
	defer d.mu.Unlock()

	status, ok := d.states[service]
	if !ok {
		return models.StatusAbsent
	}

	return status
}

func (d *fakeDriver) reset() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.started = nil
	d.stopped = nil
	d.restarted = nil
}

func (d *fakeDriver) startedServices() []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	return append([]string(nil), d.started...)
}

func (d *fakeDriver) stoppedServices() []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	return append([]string(nil), d.stopped...)
}

type fakeStore struct {
	mu      sync.Mutex
	state   *models.ActiveState
	loadErr error
	saveErr error
	saves   int
}

func (s *fakeStore) Load(context.Context) (*models.ActiveState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.loadErr != nil {
		return nil, s.loadErr
	}

	if s.state == nil {
		return nil, nil
	}

	state := *s.state

	return &state, nil
}

func (s *fakeStore) Save(_ context.Context, state *models.ActiveState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.saveErr != nil {
		return s.saveErr
	}

	saved := *state
	s.state = &saved
	s.saves++

	return nil
}

func (s *fakeStore) saved() *models.ActiveState {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == nil {
		return nil
	}

	state := *s.state

	return &state
}

type fakeAudit struct {
	mu      sync.Mutex
	entries []models.AuditEntry
}

func (a *fakeAudit) Append(_ context.Context, entry models.AuditEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.entries = append(a.entries, entry)

	return nil
}

func (a *fakeAudit) last() models.AuditEntry {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.entries) == 0 {
		return models.AuditEntry{}
	}

	return a.entries[len(a.entries)-1]
}

type fakeRouting struct {
	mu         sync.Mutex
	current    string
	repointErr error
	repoints   []string
}

func (r *fakeRouting) Repoint(_ context.Context, profile models.WorkloadProfile) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.repointErr != nil {
		return r.repointErr
	}

	r.current = profile.RoutingConfig
	r.repoints = append(r.repoints, profile.RoutingConfig)

	return nil
}

func (r *fakeRouting) Current(context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.current, nil
}

type fakeClock struct {
	mu sync.Mutex
	// step moves the clock forward on every read, driving loops whose
	// deadlines come off the injected clock.
	step time.Duration
	now  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(c.step)

	return c.now
}

func (c *fakeClock) tick(step time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.step = step
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

type harness struct {
	controller *switcher.Controller
	driver     *fakeDriver
	store      *fakeStore
	audit      *fakeAudit
	routing    *fakeRouting
	clock      *fakeClock
}

func newHarness(t *testing.T, cfg switcher.Config, initial map[string]models.ServiceStatus) *harness {
	t.Helper()

	if cfg.HealthTimeout == 0 {
		cfg.HealthTimeout = 250 * time.Millisecond
	}

	if cfg.PollInterval == 0 {
		cfg.PollInterval = time.Millisecond
	}

	driver := newFakeDriver(initial)
	store := &fakeStore{}
	audit := &fakeAudit{}
	routing := &fakeRouting{}
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}

	collection := &ports.Collection{
		Driver:  driver,
		Store:   store,
		Audit:   audit,
		Routing: routing,
		Clock:   clock.Now,
	}

	controller := switcher.New(cfg, testCatalog(t), collection, prometheus.NewRegistry())

	return &harness{
		controller: controller,
		driver:     driver,
		store:      store,
		audit:      audit,
		routing:    routing,
		clock:      clock,
	}
}

// seedServing reconciles the harness into a known serving state and clears
// the driver's call recorders.
func seedServing(t *testing.T, h *harness, profileID string) {
	t.Helper()

	routingConfig := map[string]string{
		"fast":    "routing.fast.yml",
		"quality": "routing.quality.yml",
	}[profileID]

	h.store.state = &models.ActiveState{
		ActiveProfile: profileID,
		ActiveMode:    models.ModeServing,
	}
	h.routing.current = routingConfig

	if err := h.controller.Reconcile(context.Background()); err != nil {
		t.Fatalf("seeding reconcile failed: %v", err)
	}

	h.driver.reset()
}
